package cli

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"
)

// NewLogger returns a text logger on w. verbose lowers the level to Debug
// and quiet raises it to Error; otherwise base applies.
func NewLogger(w io.Writer, base slog.Level, verbose, quiet bool) *slog.Logger {
	level := base
	switch {
	case quiet:
		level = slog.LevelError
	case verbose:
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == "error" {
				a.Key = "err"
			}
			return a
		},
	}))
}

// commandLogger builds the logger for a command from the persistent
// --verbose and --quiet flags, writing to the command's stderr.
func commandLogger(cmd *cobra.Command, base slog.Level) *slog.Logger {
	verbose, _ := cmd.Flags().GetBool("verbose")
	quiet, _ := cmd.Flags().GetBool("quiet")
	return NewLogger(cmd.ErrOrStderr(), base, verbose, quiet)
}
