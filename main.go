// envrec reconciles a local conda-style environment directory against a
// declarative recipe: it computes the add/update/delete plan between the
// environment's current contents and the recipe, then applies it via the
// channel index, package cache, and linker.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"envrec/pkg/channel"
	"envrec/pkg/cli"
	"envrec/pkg/config"
	"envrec/pkg/display"
	"envrec/pkg/downloader"
	"envrec/pkg/pkgcache"
	"envrec/pkg/reconcile"
)

func main() {
	args := os.Args[1:]
	verbose := false
	for len(args) > 0 && (args[0] == "--verbose" || args[0] == "-v") {
		verbose = true
		args = args[1:]
	}
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	res, err := run(context.Background(), args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(res.ExitCode)
}

func run(ctx context.Context, args []string) (*cli.ExecutionResult, error) {
	cfg, err := config.Init()
	if err != nil {
		return nil, fmt.Errorf("initializing config: %w", err)
	}

	disp := display.NewConsole()
	defer disp.Close()

	dl := downloader.NewDefaultDownloader()
	cache := pkgcache.New(cfg.GetPkgsDir())

	m := &cli.Managers{
		Config:   cfg,
		Cache:    cache,
		Index:    channel.New(cfg, dl, cache),
		NativePM: reconcile.NewNativePM(cfg.GetNativePMBin()),
		Disp:     disp,
		Theme:    cli.DefaultTheme(),
	}

	return m.Run(ctx, args)
}
