package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/docrag-go/internal/logging"
)

// NewAskCmd constructs the `docrag ask` command, which answers a single
// question against the indexed documents and prints the result.
func NewAskCmd() *cobra.Command {
	var showSources bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about your indexed documents",
		Long: `Ask a natural language question. The most relevant document chunks are
retrieved from the index and handed to the LLM, which answers using only
that context.

Documents must be ingested first (see 'docrag ingest').

Examples:
  docrag ask "how many vacation days do employees get?"
  docrag ask --sources "what is the termination notice period?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			session, err := buildSession(ctx, activeConfig(), log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer session.Close()

			answer, err := session.AnswerQuestion(ctx, strings.Join(args, " "))
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			fmt.Println(answer.Text)
			if showSources && len(answer.Sources) > 0 {
				fmt.Printf("\nSources: %s\n", strings.Join(answer.Sources, ", "))
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&showSources, "sources", "s", false, "Print the source documents that contributed context")

	return cmd
}
