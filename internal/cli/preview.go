package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"legalguardian/internal/usecase"
)

// newPreviewCmd shows classification, expansion, retrieval and the rendered
// context for a query without calling the generation service.
func newPreviewCmd(e *env) *cobra.Command {
	var (
		topK   int
		expand bool
	)
	cmd := &cobra.Command{
		Use:   "preview <query>",
		Short: "Preview retrieval and context assembly for a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.TrimSpace(strings.Join(args, " "))
			if query == "" {
				return fmt.Errorf("query is required")
			}
			a, err := e.app(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			status := func(format string, args ...any) {
				fmt.Fprintf(out, "[RAG] "+format+"\n", args...)
			}

			status("query: %s", query)
			status("legal: %v", a.Heuristics.IsLegal(query))
			searchQuery := query
			if expand {
				searchQuery = a.Heuristics.Expand(query)
				status("expanded: %s", searchQuery)
			}
			if topK <= 0 {
				topK = e.cfg.TopK
			}

			results, stats := a.Retriever.Search(cmd.Context(), searchQuery, topK)
			status("requested=%d candidates=%d dropped=%d returned=%d elapsed=%s",
				stats.Requested, stats.Candidates, stats.Dropped, stats.Returned, stats.Elapsed)
			if stats.Err != nil {
				status("error: %v", stats.Err)
			}
			for i, r := range results {
				status("chunk %d score=%.6f position=%d ref=%s", i+1, r.Score, r.Position, r.Reference)
				status("chunk %d text: %s", i+1, r.ChunkText)
			}
			if len(results) > 0 {
				status("context:\n%s", usecase.RenderContext(results, e.cfg.MaxChunks))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of chunks to retrieve (default top_k)")
	cmd.Flags().BoolVar(&expand, "expand", true, "apply query expansion before retrieval")
	return cmd
}
