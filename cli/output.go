package cli

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/petal-labs/arbor/core"
)

// printer writes human-readable results, colored when the output supports
// it and --no-color is not set.
type printer struct {
	out *termenv.Output
}

func newPrinter(cmd *cobra.Command, w io.Writer) printer {
	noColor, _ := cmd.Flags().GetBool("no-color")
	var opts []termenv.OutputOption
	if noColor {
		opts = append(opts, termenv.WithProfile(termenv.Ascii))
	}
	return printer{out: termenv.NewOutput(w, opts...)}
}

func (p printer) styled(s, color string) termenv.Style {
	return p.out.String(s).Foreground(p.out.Color(color))
}

// result prints the outcome badge followed by details.
func (p printer) result(outcome string, format string, args ...any) {
	var badge termenv.Style
	switch outcome {
	case core.Success.String():
		badge = p.styled("SUCCESS", "2").Bold()
	case core.Failure.String():
		badge = p.styled("FAILURE", "1").Bold()
	default:
		badge = p.styled("INTERRUPTED", "3").Bold()
	}
	fmt.Fprintf(p.out, "%s %s\n", badge, fmt.Sprintf(format, args...))
}

// faint prints a dimmed line.
func (p printer) faint(format string, args ...any) {
	fmt.Fprintln(p.out, p.out.String(fmt.Sprintf(format, args...)).Faint())
}

// kind colors an event kind by what it reports.
func (p printer) kind(k string) string {
	switch k {
	case "node.failed", "run.finished":
		return p.styled(k, "5").String()
	case "node.finished", "run.started":
		return p.styled(k, "4").String()
	case "node.interrupted", "task.discarded":
		return p.styled(k, "3").String()
	default:
		return k
	}
}

// outcome colors a node run outcome.
func (p printer) outcome(o string) string {
	switch o {
	case "success":
		return p.styled(o, "2").String()
	case "failure":
		return p.styled(o, "1").String()
	case "interrupted":
		return p.styled(o, "3").String()
	default:
		return o
	}
}
