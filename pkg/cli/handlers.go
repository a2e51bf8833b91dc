package cli

import (
	"context"
	"flag"
	"fmt"
	"os"

	"envrec/pkg/diff"
	"envrec/pkg/disk"
	"envrec/pkg/reconcile"
	"envrec/pkg/spec"
)

func (m *Managers) runReconcile(ctx context.Context, args []string) (*ExecutionResult, error) {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	force := fs.Bool("force", false, "remove and recreate the environment even if it already exists")
	policyPath := fs.String("policy", "", "starlark script overriding bootstrap ordering")
	channels := parseChannelFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 2 {
		return nil, fmt.Errorf("usage: envrec reconcile <env> <recipe-file>")
	}
	envName, recipePath := fs.Arg(0), fs.Arg(1)

	raw, err := os.ReadFile(recipePath)
	if err != nil {
		return nil, fmt.Errorf("reading recipe: %w", err)
	}
	newRecipe, err := spec.Parse(string(raw))
	if err != nil {
		return nil, err
	}

	oldRecipe, err := m.NativePM.ListRecipe(ctx, envName)
	if err != nil {
		return nil, fmt.Errorf("listing current environment: %w", err)
	}

	pol, err := loadPolicy(*policyPath, m.Disp)
	if err != nil {
		return nil, fmt.Errorf("loading policy: %w", err)
	}

	plan := diff.Compute(oldRecipe, newRecipe)
	m.printPlan(plan)

	allChannels := append(append([]string{}, newRecipe.Channels...), *channels...)

	r := &reconcile.Reconciler{
		Config:   m.Config,
		Index:    m.Index,
		Cache:    m.Cache,
		NativePM: m.NativePM,
		Display:  m.Disp,
		Policy:   pol,
	}
	if err := r.Run(ctx, envName, plan, allChannels, *force); err != nil {
		return nil, err
	}
	return &ExecutionResult{ExitCode: 0}, nil
}

func (m *Managers) runDiff(_ context.Context, args []string) (*ExecutionResult, error) {
	fs := flag.NewFlagSet("diff", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 2 {
		return nil, fmt.Errorf("usage: envrec diff <old-recipe-file> <new-recipe-file>")
	}

	oldRecipe, err := parseRecipeFile(fs.Arg(0))
	if err != nil {
		return nil, err
	}
	newRecipe, err := parseRecipeFile(fs.Arg(1))
	if err != nil {
		return nil, err
	}

	m.printPlan(diff.Compute(oldRecipe, newRecipe))
	return &ExecutionResult{ExitCode: 0}, nil
}

func (m *Managers) runList(ctx context.Context, args []string) (*ExecutionResult, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("usage: envrec list <env>")
	}
	recipe, err := m.NativePM.ListRecipe(ctx, args[0])
	if err != nil {
		return nil, err
	}
	fmt.Print(recipe.Render())
	return &ExecutionResult{ExitCode: 0}, nil
}

func (m *Managers) runQuery(ctx context.Context, args []string) (*ExecutionResult, error) {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	channels := parseChannelFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 3 {
		return nil, fmt.Errorf("usage: envrec query <name> <version> <build> [--channel <name>]...")
	}
	name, version, build := fs.Arg(0), fs.Arg(1), fs.Arg(2)

	search := *channels
	if len(search) == 0 {
		search = m.Config.GetDefaultChannels()
	}
	if err := m.Index.EnsureChannels(ctx, search, m.Disp); err != nil {
		return nil, err
	}
	pkg, ok := m.Index.Get(name, version, build, search)
	if !ok {
		return nil, fmt.Errorf("package not found in any of %v: %s %s %s", search, name, version, build)
	}
	fmt.Printf("%s %s %s %s %s\n", pkg.Name, pkg.Version, pkg.Build, pkg.Channel, pkg.ChannelURL+"/"+pkg.Tarball)
	return &ExecutionResult{ExitCode: 0}, nil
}

// runInfo reports disk usage across the package cache, download staging
// area, repodata cache, and materialized environments.
func (m *Managers) runInfo(args []string) (*ExecutionResult, error) {
	if len(args) != 0 {
		return nil, fmt.Errorf("usage: envrec info")
	}
	mgr := disk.NewManager(m.Config, m.Disp)
	if err := mgr.Info(); err != nil {
		return nil, err
	}
	return &ExecutionResult{ExitCode: 0}, nil
}

// runClean removes the download staging area and repodata cache. The
// package cache and materialized environments are left untouched, since
// reconciliation depends on them.
func (m *Managers) runClean(args []string) (*ExecutionResult, error) {
	if len(args) != 0 {
		return nil, fmt.Errorf("usage: envrec clean")
	}
	mgr := disk.NewManager(m.Config, m.Disp)
	for _, dir := range mgr.Clean() {
		m.Disp.Print(fmt.Sprintf("removed %s\n", dir))
	}
	return &ExecutionResult{ExitCode: 0}, nil
}

// runUninstall removes the entire root prefix and config directory,
// deleting every environment and cached package envrec knows about.
func (m *Managers) runUninstall(args []string) (*ExecutionResult, error) {
	fs := flag.NewFlagSet("uninstall", flag.ContinueOnError)
	force := fs.Bool("force", false, "skip the confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 0 {
		return nil, fmt.Errorf("usage: envrec uninstall [--force]")
	}

	mgr := disk.NewManager(m.Config, m.Disp)
	removed, err := mgr.Uninstall(*force)
	if err != nil {
		return nil, err
	}
	for _, dir := range removed {
		m.Disp.Print(fmt.Sprintf("removed %s\n", dir))
	}
	return &ExecutionResult{ExitCode: 0}, nil
}

func parseRecipeFile(path string) (*spec.Recipe, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading recipe: %w", err)
	}
	return spec.Parse(string(raw))
}

func (m *Managers) printPlan(plan diff.Plan) {
	printSubDiff := func(label string, sd diff.SubDiff) {
		for _, s := range sd.Adds {
			fmt.Println(m.Theme.Add.Render("+ " + label + " " + s.String()))
		}
		for _, u := range sd.Updates {
			fmt.Println(m.Theme.Update.Render(fmt.Sprintf("~ %s %s %s %s %s", label, u.From.Name, u.From.Version, m.Theme.Arrow, u.To.Version)))
		}
		for _, s := range sd.Deletes {
			fmt.Println(m.Theme.Del.Render("- " + label + " " + s.String()))
		}
	}
	printSubDiff("native", plan.Native)
	printSubDiff("language", plan.Language)
}
