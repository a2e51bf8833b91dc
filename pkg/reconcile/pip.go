package reconcile

import (
	"context"
	"fmt"
	"strings"

	"envrec/pkg/procrun"
)

// notFoundMarker is the substring that distinguishes a genuinely missing
// package from a transient pip failure worth retrying: anything other than
// this marker is treated as transient (§4.7 retry policy).
const notFoundMarker = "not find a version"

// pipInstall runs "{pipPath} install --no-deps {name}=={version}".
func pipInstall(ctx context.Context, pipPath, name, version string) error {
	spec := fmt.Sprintf("%s==%s", name, version)
	_, err := procrun.Run(ctx, pipPath, []string{"install", "--no-deps", spec}, procrun.Options{})
	return err
}

// pipUninstall runs "{pipPath} uninstall -y {name}".
func pipUninstall(ctx context.Context, pipPath, name string) error {
	_, err := procrun.Run(ctx, pipPath, []string{"uninstall", "-y", name}, procrun.Options{})
	return err
}

// isTransient reports whether a failed pip invocation looks like a
// transient error worth retrying, rather than the package genuinely not
// existing under that name/version.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	return !strings.Contains(err.Error(), notFoundMarker)
}
