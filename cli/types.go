package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/petal-labs/arbor/registry"
)

// NewTypesCmd creates the "types" subcommand.
func NewTypesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "types",
		Short: "List the node types a tree file may use",
		Args:  cobra.NoArgs,
		RunE:  runTypes,
	}

	cmd.Flags().String("category", "", "Only list one category: composite | decorator | leaf")
	cmd.Flags().Bool("json", false, "Output JSON")

	return cmd
}

func runTypes(cmd *cobra.Command, _ []string) error {
	category, _ := cmd.Flags().GetString("category")
	asJSON, _ := cmd.Flags().GetBool("json")

	reg := registry.Global()
	defs := reg.All()
	switch category {
	case "":
	case registry.CategoryComposite, registry.CategoryDecorator, registry.CategoryLeaf:
		defs = reg.ByCategory(category)
	default:
		return exitError(exitValidation, "unknown category %q", category)
	}

	if asJSON {
		return writeJSON(cmd.OutOrStdout(), defs)
	}

	writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(writer, "TYPE\tCATEGORY\tCHILDREN\tREQUIRED CONFIG\tDESCRIPTION")
	for _, def := range defs {
		required := strings.Join(def.RequiredConfig(), ",")
		if required == "" {
			required = "-"
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
			def.Type, def.Category, def.ChildBounds(), required, def.Description)
	}
	return writer.Flush()
}
