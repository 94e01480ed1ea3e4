package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/docrag-go/internal/logging"
)

// NewStatsCmd constructs the `docrag stats` command, which reports the
// current state of the vector index.
func NewStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show index state, chunk count, and document count",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			session, err := buildSession(ctx, activeConfig(), log)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			defer session.Close()

			stats, err := session.Stats(ctx)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}

			fmt.Printf("State:      %s\n", stats.State)
			fmt.Printf("Collection: %s\n", stats.Collection)
			fmt.Printf("Metric:     %s\n", stats.Metric)
			fmt.Printf("Documents:  %d\n", stats.Documents)
			fmt.Printf("Chunks:     %d\n", stats.Chunks)
			return nil
		},
	}
}
