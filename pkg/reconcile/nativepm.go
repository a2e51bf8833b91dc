package reconcile

import (
	"context"
	"fmt"
	"strings"

	"envrec/pkg/procrun"
	"envrec/pkg/spec"
)

// environmentLocationNotFound is the native package manager's marker
// substring for "environment does not exist", which is not a fatal error —
// it simply means the environment's current recipe is empty.
const environmentLocationNotFound = "EnvironmentLocationNotFound"

// NativePM is the subset of the native package manager's CLI the reconciler
// drives as a subprocess: querying, creating, and removing environments, and
// bootstrapping pip into one.
type NativePM interface {
	// ListRecipe returns the environment's currently installed packages in
	// recipe format, or an empty recipe if the environment doesn't exist yet.
	ListRecipe(ctx context.Context, envName string) (*spec.Recipe, error)
	// EnsureEnv creates the environment if forceReinstall is set or it
	// doesn't already exist, removing any prior contents first.
	EnsureEnv(ctx context.Context, envName string, forceReinstall bool) error
	// InstallPip installs the pip package into envName via the native
	// package manager, so the environment-local bin/pip exists.
	InstallPip(ctx context.Context, envName string) error
}

// commandNativePM drives a native package manager binary (e.g. conda, mamba)
// as a subprocess.
type commandNativePM struct {
	bin string
}

// NewNativePM returns a NativePM that shells out to bin.
func NewNativePM(bin string) NativePM {
	return &commandNativePM{bin: bin}
}

func (p *commandNativePM) ListRecipe(ctx context.Context, envName string) (*spec.Recipe, error) {
	var stdout strings.Builder
	result, err := procrun.Run(ctx, p.bin, []string{"list", "-n", envName}, procrun.Options{
		OnStdout: func(line string) { stdout.WriteString(line); stdout.WriteByte('\n') },
	})
	if err != nil {
		if strings.Contains(result.StderrTail, environmentLocationNotFound) {
			return spec.New(), nil
		}
		return nil, fmt.Errorf("listing environment %s: %w", envName, err)
	}

	recipe, err := spec.Parse(stdout.String())
	if err != nil {
		return nil, fmt.Errorf("parsing %s list output: %w", p.bin, err)
	}
	return recipe, nil
}

func (p *commandNativePM) EnsureEnv(ctx context.Context, envName string, forceReinstall bool) error {
	exists, err := p.envExists(ctx, envName)
	if err != nil {
		return err
	}
	if exists && !forceReinstall {
		return nil
	}
	if exists {
		if _, err := procrun.Run(ctx, p.bin, []string{"env", "remove", "-n", envName}, procrun.Options{}); err != nil {
			return fmt.Errorf("removing environment %s: %w", envName, err)
		}
	}
	if _, err := procrun.Run(ctx, p.bin, []string{"create", "-n", envName, "--no-default-packages"}, procrun.Options{}); err != nil {
		return fmt.Errorf("creating environment %s: %w", envName, err)
	}
	return nil
}

func (p *commandNativePM) envExists(ctx context.Context, envName string) (bool, error) {
	result, err := procrun.Run(ctx, p.bin, []string{"list", "-n", envName}, procrun.Options{})
	if err == nil {
		return true, nil
	}
	if strings.Contains(result.StderrTail, environmentLocationNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("checking environment %s: %w", envName, err)
}

func (p *commandNativePM) InstallPip(ctx context.Context, envName string) error {
	if _, err := procrun.Run(ctx, p.bin, []string{"install", "--no-deps", "-y", "-n", envName, "pip"}, procrun.Options{}); err != nil {
		return fmt.Errorf("installing pip into %s: %w", envName, err)
	}
	return nil
}
