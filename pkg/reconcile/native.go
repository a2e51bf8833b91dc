package reconcile

import (
	"context"
	"fmt"

	"envrec/pkg/channel"
	"envrec/pkg/diff"
	"envrec/pkg/display"
	"envrec/pkg/linker"
	"envrec/pkg/spec"
)

// resolve looks up s in the channel index, refetching once on a miss before
// giving up with NotFoundError.
func (r *Reconciler) resolve(ctx context.Context, s spec.Spec, channels []string) (channel.Package, error) {
	pkg, ok := r.Index.Get(s.Name, s.Version, s.Build, channels)
	if ok {
		return pkg, nil
	}
	if err := r.Index.UpdateIndexes(ctx, channels, r.Display); err != nil {
		return channel.Package{}, fmt.Errorf("refreshing channel indices: %w", err)
	}
	pkg, ok = r.Index.Get(s.Name, s.Version, s.Build, channels)
	if !ok {
		return channel.Package{}, &NotFoundError{Spec: s}
	}
	return pkg, nil
}

func displayTask(disp display.Display, name string) display.Task {
	if disp == nil {
		return display.Noop()
	}
	return disp.StartTask(name)
}

// installNative resolves, fetches, and links a native add.
func (r *Reconciler) installNative(ctx context.Context, s spec.Spec, envDir, pythonVersion string, channels []string) error {
	pkg, err := r.resolve(ctx, s, channels)
	if err != nil {
		return err
	}

	task := displayTask(r.Display, s.Name)
	defer task.Done()

	if err := r.Index.Download(ctx, pkg, task); err != nil {
		return fmt.Errorf("downloading %s: %w", pkg.Tarball, err)
	}
	if err := r.Cache.EnsureExtracted(pkg); err != nil {
		return fmt.Errorf("extracting %s: %w", pkg.Tarball, err)
	}
	rec, err := r.Cache.PrefixRecord(pkg.Tarball)
	if err != nil {
		return err
	}

	return linker.Install(rec, r.Cache, linker.Target{EnvDir: envDir, PythonVersion: pythonVersion})
}

// updateNative uninstalls the old build and installs the new one.
func (r *Reconciler) updateNative(ctx context.Context, u diff.Update, envDir, pythonVersion string, channels []string) error {
	if err := r.deleteNative(envDir, u.From); err != nil {
		return err
	}
	return r.installNative(ctx, u.To, envDir, pythonVersion, channels)
}

// deleteNative uninstalls a native package via the linker.
func (r *Reconciler) deleteNative(envDir string, s spec.Spec) error {
	rec, err := linker.LoadRecord(envDir, s.Name, s.Version, s.Build)
	if err != nil {
		return err
	}
	return linker.Uninstall(envDir, rec)
}
