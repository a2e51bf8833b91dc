package reconcile

import (
	"context"
	"fmt"
	"path/filepath"

	"envrec/pkg/diff"
	"envrec/pkg/spec"
)

// runLanguageLayerAdds installs adds in order, using a pending queue so a
// transient failure re-enqueues the package at the back instead of aborting,
// up to maxLanguageLayerRetries total re-enqueues for the run.
func (r *Reconciler) runLanguageLayerAdds(ctx context.Context, envName, envDir string, adds []spec.Spec) error {
	if len(adds) == 0 {
		return nil
	}

	pending := append([]spec.Spec{}, adds...)
	retries := 0

	for len(pending) > 0 {
		s := pending[0]
		pending = pending[1:]

		err := r.installLanguage(ctx, envName, envDir, s)
		if err == nil {
			continue
		}
		if !isTransient(err) {
			return fmt.Errorf("installing %s: %w", s.Name, err)
		}

		retries++
		if retries > maxLanguageLayerRetries {
			return fmt.Errorf("installing %s: retry budget of %d exceeded: %w", s.Name, maxLanguageLayerRetries, err)
		}
		pending = append(pending, s)
	}
	return nil
}

// installLanguage installs one language-layer spec. If it is pip itself, the
// native package manager bootstraps it first so the environment-local pip
// used for everything else exists, then that same pip installs the
// recipe-requested pip version like any other language-layer add.
func (r *Reconciler) installLanguage(ctx context.Context, envName, envDir string, s spec.Spec) error {
	if s.Name == "pip" {
		if err := r.NativePM.InstallPip(ctx, envName); err != nil {
			return err
		}
	}
	return pipInstall(ctx, filepath.Join(envDir, "bin", "pip"), s.Name, s.Version)
}

// updateLanguage applies a language-layer update: pip uninstalls the old
// spec, then installLanguage installs the new one. A new spec named "pip"
// goes through installLanguage's bootstrap path, so the native package
// manager installs pip before that pip installs the requested version.
func (r *Reconciler) updateLanguage(ctx context.Context, envName, envDir string, u diff.Update) error {
	pipPath := filepath.Join(envDir, "bin", "pip")
	if err := pipUninstall(ctx, pipPath, u.From.Name); err != nil {
		return err
	}
	return r.installLanguage(ctx, envName, envDir, u.To)
}
