package commands

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/actiongate/internal/runtime"
	"github.com/tjfontaine/actiongate/internal/storage/memory"
)

// TypesCmd lists the bean types that configuration can reference.
var TypesCmd = &cobra.Command{
	Use:   "types",
	Short: "List the registered bean types",
	Long:  `List every action, interceptor, result and settings type that can be referenced from the configuration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")

		store := memory.New()
		defer store.Close()
		registry := runtime.NewRegistry(runtime.RegistryDeps{Store: store, Logger: slog.Default()})

		type entry struct {
			Type        string `json:"type"`
			Description string `json:"description"`
		}
		var entries []entry
		for _, f := range registry.ListFactories() {
			entries = append(entries, entry{Type: f.Type, Description: f.Description})
		}

		if jsonOutput {
			out, err := json.MarshalIndent(entries, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TYPE\tDESCRIPTION")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\n", e.Type, e.Description)
		}
		return tw.Flush()
	},
}

func init() {
	TypesCmd.Flags().BoolP("json", "j", false, "Output as JSON")
}
