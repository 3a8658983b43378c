package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newTranscriptCmd(e *env) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "transcript <user>",
		Short: "Print archived turns for a user, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reader, err := e.transcripts(cmd.Context(), e.cfg)
			if err != nil {
				return err
			}
			userID := args[0]
			total, err := reader.GetTurnCount(cmd.Context(), userID)
			if err != nil {
				return err
			}
			turns, err := reader.GetHistory(cmd.Context(), userID, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d archived turns, showing %d\n\n", userID, total, len(turns))
			for _, t := range turns {
				fmt.Fprintln(out, faint(fmt.Sprintf("%s [%s] %s", t.CreatedAt.Format(time.RFC3339), t.Outcome, t.RequestID)))
				fmt.Fprintln(out, answerLabel("Q:"), t.Question)
				fmt.Fprintln(out, answerLabel("A:"), t.Answer)
				fmt.Fprintln(out)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of most recent turns to print (0 for all)")
	return cmd
}
