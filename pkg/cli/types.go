// Package cli drives envrec from the command line: parsing the recipe
// files and flags a subcommand needs, then calling into the reconcile,
// diff, and channel packages to do the actual work.
package cli

import (
	"os"

	"envrec/pkg/channel"
	"envrec/pkg/config"
	"envrec/pkg/display"
	"envrec/pkg/pkgcache"
	"envrec/pkg/policy"
	"envrec/pkg/reconcile"
)

// GlobalFlags holds the flags accepted before the subcommand name.
type GlobalFlags struct {
	Verbose bool
}

// Managers bundles the long-lived collaborators a subcommand needs.
// Immutable once built by main.
type Managers struct {
	Config   config.Config
	Index    *channel.Index
	Cache    *pkgcache.Cache
	NativePM reconcile.NativePM
	Disp     display.Display
	Theme    *Theme
}

// ExecutionResult is returned by a subcommand to tell main what exit code
// to use; it carries no process-replacement payload, unlike the sandbox
// launches this pattern originally supported.
type ExecutionResult struct {
	ExitCode int
}

// loadPolicy reads and compiles a policy script from path, or returns nil
// if path is empty.
func loadPolicy(path string, disp display.Display) (*policy.Script, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return policy.Load(path, string(raw), disp.Log)
}
