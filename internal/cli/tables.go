package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/k0kubun/pp"
	"github.com/spf13/cobra"

	"legalguardian/internal/heuristics"
)

var okLabel = color.New(color.FgGreen).SprintFunc()

func newTablesCmd(e *env) *cobra.Command {
	tables := &cobra.Command{
		Use:   "tables",
		Short: "Inspect and validate the heuristic keyword tables",
	}

	tables.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the tables in effect (heuristics_path or the built-in set)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := heuristics.NewStore(e.cfg.HeuristicsPath, e.logger)
			if err != nil {
				return err
			}
			pp.Fprintln(cmd.OutOrStdout(), store.Current())
			return nil
		},
	})

	tables.AddCommand(&cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a tables file against the schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			t, err := heuristics.Parse(raw)
			if err != nil {
				fmt.Fprintln(out, failedLabel("invalid:"), err)
				return err
			}
			fmt.Fprintf(out, "%s %s (version %s, %d keywords, %d patterns)\n",
				okLabel("valid:"), args[0], t.Version, len(t.LegalKeywords), len(t.LegalPatterns))
			return nil
		},
	})
	return tables
}
