package cli

import (
	"fmt"

	"github.com/k0kubun/pp"
	"github.com/spf13/cobra"
)

func newShowCmd(e *env) *cobra.Command {
	show := &cobra.Command{
		Use:   "show",
		Short: "Group commands for displaying resources",
	}
	show.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Show the merged configuration",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			if file := e.v.ConfigFileUsed(); file == "" {
				fmt.Fprintln(out, "No config file loaded (using defaults and environment).")
			} else {
				fmt.Fprintf(out, "Config file: %s\n\n", file)
			}
			cfg := e.cfg
			if cfg.LLMAPIKey != "" {
				cfg.LLMAPIKey = "<redacted>"
			}
			if cfg.TelegramToken != "" {
				cfg.TelegramToken = "<redacted>"
			}
			pp.Fprintln(out, cfg)
		},
	})
	return show
}
