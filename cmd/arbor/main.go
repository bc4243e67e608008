package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/petal-labs/arbor/cli"
)

// Set via ldflags at build time.
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "arbor",
	Short: "Arbor behavior tree engine CLI",
	Long:  "Arbor: validate, inspect and run behavior trees, or serve them on a schedule.",
	// SilenceUsage prevents printing usage on every error
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "", false, "Enable verbose/debug logging")
	rootCmd.PersistentFlags().BoolP("quiet", "", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().Bool("no-color", false, "Disable colored output")

	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("arbor version %s\n", version))

	rootCmd.AddCommand(cli.NewRunCmd())
	rootCmd.AddCommand(cli.NewValidateCmd())
	rootCmd.AddCommand(cli.NewGraphCmd())
	rootCmd.AddCommand(cli.NewTypesCmd())
	rootCmd.AddCommand(cli.NewEventsCmd())
	rootCmd.AddCommand(cli.NewDaemonCmd())
}
