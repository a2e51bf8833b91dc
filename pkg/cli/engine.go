package cli

import (
	"context"
	"flag"
	"fmt"
)

// Run parses args (everything after the binary name) and executes the
// matching subcommand.
func (m *Managers) Run(ctx context.Context, args []string) (*ExecutionResult, error) {
	if len(args) == 0 {
		printUsage()
		return &ExecutionResult{ExitCode: 1}, nil
	}

	switch args[0] {
	case "reconcile":
		return m.runReconcile(ctx, args[1:])
	case "diff":
		return m.runDiff(ctx, args[1:])
	case "list":
		return m.runList(ctx, args[1:])
	case "query":
		return m.runQuery(ctx, args[1:])
	case "info":
		return m.runInfo(args[1:])
	case "clean":
		return m.runClean(args[1:])
	case "uninstall":
		return m.runUninstall(args[1:])
	case "help", "-h", "--help":
		printUsage()
		return &ExecutionResult{ExitCode: 0}, nil
	default:
		return nil, fmt.Errorf("unknown command %q; try \"envrec help\"", args[0])
	}
}

func printUsage() {
	fmt.Println(`envrec reconciles a local environment directory against a recipe file.

Usage:
  envrec reconcile <env> <recipe-file> [--force] [--policy <script>] [--channel <name>]...
  envrec diff <old-recipe-file> <new-recipe-file>
  envrec list <env>
  envrec query <name> <version> <build> [--channel <name>]...
  envrec info
  envrec clean
  envrec uninstall [--force]`)
}

// parseChannelFlags registers a repeatable --channel flag on fs and returns
// the accumulated values once fs.Parse has run.
func parseChannelFlags(fs *flag.FlagSet) *[]string {
	var channels []string
	fs.Func("channel", "additional channel to search, may be repeated", func(v string) error {
		channels = append(channels, v)
		return nil
	})
	return &channels
}
