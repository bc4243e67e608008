package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/arbor/bus"
	"github.com/petal-labs/arbor/core"
	"github.com/petal-labs/arbor/daemon"
	"github.com/petal-labs/arbor/runtime"
)

// NewEventsCmd creates the "events" subcommand.
func NewEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events [run-id]",
		Short: "List stored runs, or the events of one run",
		Long: "Without arguments, list the run ids held by the configured event store. " +
			"With a run id, print that run's events in sequence order, or with --nodes " +
			"the run of every node indented under its parent.",
		Args: cobra.MaximumNArgs(1),
		RunE: runEvents,
	}

	addConfigFlag(cmd)
	addStoreFlags(cmd)
	cmd.Flags().String("format", "text", "Output format: text | json")
	cmd.Flags().Uint64("after", 0, "Only show events after this sequence number")
	cmd.Flags().Int("limit", 0, "Maximum number of events to show (0 for all)")
	cmd.Flags().Bool("nodes", false, "Show node runs with their outcome instead of raw events")

	return cmd
}

func runEvents(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	if format != "text" && format != "json" {
		return exitError(exitValidation, "unknown format %q (use text or json)", format)
	}
	after, _ := cmd.Flags().GetUint64("after")
	limit, _ := cmd.Flags().GetInt("limit")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyStoreFlags(cmd, &cfg); err != nil {
		return err
	}
	store, err := daemon.OpenEventStore(cfg.Store)
	if err != nil {
		return exitError(exitRuntime, "opening event store: %v", err)
	}
	defer func() { _ = daemon.CloseEventStore(store) }()

	out := cmd.OutOrStdout()
	if len(args) == 0 {
		ids, err := store.RunIDs(cmd.Context())
		if err != nil {
			return exitError(exitRuntime, "listing runs: %v", err)
		}
		if format == "json" {
			if ids == nil {
				ids = []string{}
			}
			return writeJSON(out, ids)
		}
		if len(ids) == 0 {
			newPrinter(cmd, out).faint("no runs stored in %s event store", cfg.Store.Driver)
			return nil
		}
		for _, id := range ids {
			fmt.Fprintln(out, id)
		}
		return nil
	}

	if nodes, _ := cmd.Flags().GetBool("nodes"); nodes {
		return printNodeRuns(cmd, out, store, args[0], format)
	}

	events, err := store.List(cmd.Context(), args[0], after, limit)
	if err != nil {
		return exitError(exitRuntime, "listing events: %v", err)
	}
	if format == "json" {
		if events == nil {
			events = []runtime.Event{}
		}
		return writeJSON(out, events)
	}
	if len(events) == 0 {
		return exitError(exitRuntime, "no events for run %s", args[0])
	}
	p := newPrinter(cmd, out)
	for _, e := range events {
		writeEventLine(out, p, e)
	}
	return nil
}

// writeEventLine prints one event as
// "seq time kind node key=value...".
func writeEventLine(w io.Writer, p printer, e runtime.Event) {
	node := "-"
	if e.NodeID.Valid() {
		node = e.NodeID.String()
		if e.NodeName != "" {
			node += "/" + e.NodeName
		}
	}
	var b strings.Builder
	for _, k := range slices.Sorted(maps.Keys(e.Payload)) {
		fmt.Fprintf(&b, " %s=%v", k, e.Payload[k])
	}
	if e.Elapsed > 0 {
		fmt.Fprintf(&b, " elapsed=%s", e.Elapsed.Round(time.Microsecond))
	}
	fmt.Fprintf(w, "%4d %s %-16s %s%s\n",
		e.Seq, e.Time.UTC().Format(time.RFC3339Nano), p.kind(string(e.Kind)), node, b.String())
}

func printNodeRuns(cmd *cobra.Command, out io.Writer, store bus.EventStore, runID, format string) error {
	runs, err := bus.NodeRuns(cmd.Context(), store, runID)
	if err != nil {
		return exitError(exitRuntime, "listing node runs: %v", err)
	}
	if format == "json" {
		if runs == nil {
			runs = []bus.NodeRun{}
		}
		return writeJSON(out, runs)
	}
	if len(runs) == 0 {
		return exitError(exitRuntime, "no node runs for run %s", runID)
	}

	p := newPrinter(cmd, out)
	depth := make(map[core.NodeID]int, len(runs))
	for _, r := range runs {
		d := 0
		if r.Parent.Valid() {
			d = depth[r.Parent] + 1
		}
		depth[r.NodeID] = d

		line := fmt.Sprintf("%s%s/%s %s #%d", strings.Repeat("  ", d), r.NodeID, r.Name, r.Kind, r.Attempt)
		if r.Elapsed > 0 {
			line += " " + r.Elapsed.Round(time.Microsecond).String()
		}
		if r.Error != "" {
			line += " error=" + r.Error
		}
		fmt.Fprintf(out, "%-12s %s\n", p.outcome(r.Outcome), line)
	}
	return nil
}
