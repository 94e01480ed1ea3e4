package commands

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/rag"
)

// NewChatCmd constructs the `docrag chat` command, an interactive REPL over
// the indexed documents.
func NewChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive question-answering session",
		Long: `Start an interactive session. Each line is answered against the indexed
documents; type 'exit', 'quit', or press Ctrl-D to leave.

Examples:
  docrag chat
  DOCRAG_HISTORY_DB=disabled docrag chat`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			session, err := buildSession(ctx, activeConfig(), log)
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			defer session.Close()

			stats, err := session.Stats(ctx)
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			fmt.Printf("docrag chat — %d chunks from %d documents indexed. Type 'exit' to leave.\n",
				stats.Chunks, stats.Documents)

			scanner := bufio.NewScanner(os.Stdin)
			for {
				fmt.Print("> ")
				if !scanner.Scan() {
					fmt.Println()
					break
				}
				question := strings.TrimSpace(scanner.Text())
				if question == "" {
					continue
				}
				if question == "exit" || question == "quit" {
					break
				}

				answer, err := session.AnswerQuestion(ctx, question)
				if err != nil {
					if errors.Is(err, rag.ErrNotReady) {
						fmt.Println("No documents indexed yet — run 'docrag ingest' first.")
						continue
					}
					fmt.Fprintf(os.Stderr, "error: %v\n", err)
					continue
				}

				fmt.Println(answer.Text)
				if len(answer.Sources) > 0 {
					fmt.Printf("  (sources: %s)\n", strings.Join(answer.Sources, ", "))
				}
			}

			if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("chat: reading input: %w", err)
			}
			return nil
		},
	}
}
