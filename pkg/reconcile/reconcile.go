// Package reconcile sequences a diff plan's adds, updates, and deletes over
// an environment: native packages through the channel index, cache, and
// linker; language-layer packages through the environment-local pip.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"envrec/pkg/channel"
	"envrec/pkg/config"
	"envrec/pkg/diff"
	"envrec/pkg/display"
	"envrec/pkg/pkgcache"
	"envrec/pkg/policy"
	"envrec/pkg/spec"
)

// maxLanguageLayerRetries bounds the total number of re-enqueues across a
// run's language-layer installs, so a persistently failing package can't
// loop forever.
const maxLanguageLayerRetries = 50

// NotFoundError reports that a spec could not be resolved in any configured
// channel, even after a forced index refresh.
type NotFoundError struct {
	Spec spec.Spec
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("package not found in any channel: %s %s %s", e.Spec.Name, e.Spec.Version, e.Spec.Build)
}

// Reconciler applies a diff.Plan to a named environment.
type Reconciler struct {
	Config   config.Config
	Index    *channel.Index
	Cache    *pkgcache.Cache
	NativePM NativePM
	Display  display.Display
	// Policy optionally overrides pkg/diff's bootstrap ordering of native
	// and language-layer adds through its bootstrap_order hook. Its classify
	// hook is not consulted: provenance always follows the recipe's pypi
	// sentinel.
	Policy *policy.Script
}

// Run brings envName into conformance with plan: ensures the environment
// exists, ensures channel indices are loaded, then applies native adds,
// language-layer adds, updates, and deletes in the order §4.7 specifies.
func (r *Reconciler) Run(ctx context.Context, envName string, plan diff.Plan, channels []string, forceReinstall bool) error {
	if err := r.NativePM.EnsureEnv(ctx, envName, forceReinstall); err != nil {
		return fmt.Errorf("ensuring environment: %w", err)
	}

	allChannels := append([]string{}, channels...)
	allChannels = append(allChannels, r.Config.GetDefaultChannels()...)
	if err := r.Index.EnsureChannels(ctx, dedupe(allChannels), r.Display); err != nil {
		return fmt.Errorf("ensuring channel indices: %w", err)
	}

	if r.Policy != nil && r.Policy.HasBootstrapOrder() {
		if order, err := r.Policy.BootstrapOrder("native"); err == nil {
			plan.Native.Adds = reorder(plan.Native.Adds, order)
		}
		if order, err := r.Policy.BootstrapOrder("language"); err == nil {
			plan.Language.Adds = reorder(plan.Language.Adds, order)
		}
	}

	envDir := r.Config.GetEnvDir(envName)
	pythonVersion := installedPythonVersion(plan, envDir)

	for _, s := range plan.Native.Adds {
		if err := r.installNative(ctx, s, envDir, pythonVersion, allChannels); err != nil {
			return fmt.Errorf("installing %s: %w", s.Name, err)
		}
	}

	if err := r.runLanguageLayerAdds(ctx, envName, envDir, plan.Language.Adds); err != nil {
		return err
	}

	for _, u := range plan.Native.Updates {
		if err := r.updateNative(ctx, u, envDir, pythonVersion, allChannels); err != nil {
			return fmt.Errorf("updating %s: %w", u.To.Name, err)
		}
	}
	for _, u := range plan.Language.Updates {
		if err := r.updateLanguage(ctx, envName, envDir, u); err != nil {
			return fmt.Errorf("updating %s: %w", u.To.Name, err)
		}
	}

	for _, s := range plan.Native.Deletes {
		if err := r.deleteNative(envDir, s); err != nil {
			return fmt.Errorf("deleting %s: %w", s.Name, err)
		}
	}
	for _, s := range plan.Language.Deletes {
		if err := pipUninstall(ctx, filepath.Join(envDir, "bin", "pip"), s.Name); err != nil {
			return fmt.Errorf("deleting %s: %w", s.Name, err)
		}
	}

	return nil
}

// installedPythonVersion inspects the pending native adds/updates for a
// python spec and derives its "{major}.{minor}" form, needed to relocate
// noarch: python packages. Most runs don't touch python at all — per §3's
// Lifecycle, package cache and environment state persist across runs — so
// this falls back to the python already recorded in envDir's conda-meta
// from a prior reconciliation. Empty only if python is neither in the plan
// nor already installed.
func installedPythonVersion(plan diff.Plan, envDir string) string {
	for _, s := range plan.Native.Adds {
		if s.Name == "python" {
			return majorMinor(s.Version)
		}
	}
	for _, u := range plan.Native.Updates {
		if u.To.Name == "python" {
			return majorMinor(u.To.Version)
		}
	}
	if version, ok := installedPythonFromCondaMeta(envDir); ok {
		return majorMinor(version)
	}
	return ""
}

// installedPythonFromCondaMeta scans envDir's conda-meta directory for an
// already-installed python record, left behind by a prior run.
func installedPythonFromCondaMeta(envDir string) (string, bool) {
	entries, err := os.ReadDir(filepath.Join(envDir, "conda-meta"))
	if err != nil {
		return "", false
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "python-") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(envDir, "conda-meta", entry.Name()))
		if err != nil {
			continue
		}
		var rec pkgcache.PrefixRecord
		if err := json.Unmarshal(data, &rec); err != nil || rec.Name != "python" {
			continue
		}
		return rec.Version, true
	}
	return "", false
}

func majorMinor(version string) string {
	parts := strings.SplitN(version, ".", 3)
	if len(parts) < 2 || parts[0] == "" {
		return ""
	}
	return parts[0] + "." + parts[1]
}

// reorder places the names listed in order first (in that relative order),
// then every other spec in its original relative order.
func reorder(specs []spec.Spec, order []string) []spec.Spec {
	if len(order) == 0 {
		return specs
	}
	rank := make(map[string]int, len(order))
	for i, name := range order {
		rank[name] = i
	}
	rankOf := func(name string) int {
		if r, ok := rank[name]; ok {
			return r
		}
		return len(rank)
	}

	out := append([]spec.Spec{}, specs...)
	sort.SliceStable(out, func(i, j int) bool {
		return rankOf(out[i].Name) < rankOf(out[j].Name)
	})
	return out
}

func dedupe(ss []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range ss {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
