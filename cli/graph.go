package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/petal-labs/arbor/daemon"
	"github.com/petal-labs/arbor/graph"
	"github.com/petal-labs/arbor/hydrate"
	"github.com/petal-labs/arbor/nodes"
	"github.com/petal-labs/arbor/runtime"
)

// NewGraphCmd creates the "graph" subcommand.
func NewGraphCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph <file>",
		Short: "Print the structure of a tree file",
		Long: "Build a tree file on an idle engine and print its nodes as an outline, " +
			"a Mermaid flowchart, a JSON snapshot or the flat directed definition.",
		Args: cobra.ExactArgs(1),
		RunE: runGraph,
	}

	cmd.Flags().String("format", "text", "Output format: text | mermaid | json | directed")

	return cmd
}

func runGraph(cmd *cobra.Command, args []string) error {
	path := args[0]
	format, _ := cmd.Flags().GetString("format")
	switch format {
	case "text", "mermaid", "json", "directed":
	default:
		return exitError(exitValidation, "unknown format %q (use text, mermaid, json or directed)", format)
	}

	logger := commandLogger(cmd, slog.LevelWarn)
	factory := hydrate.NewFactory()
	runner := daemon.NewRunner(daemon.RunnerConfig{Factory: factory, Logger: logger})
	def, err := runner.LoadFile(path)
	if err != nil {
		return loadError(cmd, path, err)
	}

	out := cmd.OutOrStdout()
	if format == "directed" {
		return writeJSON(out, def.Directed())
	}

	e := runtime.New(runtime.Options{Logger: logger})
	defer e.Close()
	nodes.Register(e)
	root, err := hydrate.HydrateTree(e, def, factory)
	if err != nil {
		return exitError(exitRuntime, "building tree: %v", err)
	}
	tree, err := graph.Describe(e, root)
	if err != nil {
		return exitError(exitRuntime, "describing tree: %v", err)
	}

	switch format {
	case "mermaid":
		fmt.Fprint(out, graph.Mermaid(tree))
	case "json":
		return writeJSON(out, tree)
	default:
		fmt.Fprint(out, graph.Text(tree))
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return exitError(exitRuntime, "encoding output: %v", err)
	}
	return nil
}
