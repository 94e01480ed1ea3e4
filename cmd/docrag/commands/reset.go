package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/docrag-go/internal/logging"
)

// NewResetCmd constructs the `docrag reset` command, which discards the
// entire vector index.
func NewResetCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Discard all indexed documents",
		Long: `Remove every chunk from the vector index, delete the on-disk snapshot,
and clear the collection's question/answer history.

Examples:
  docrag reset
  docrag reset --yes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				fmt.Print("This discards the whole index. Continue? [y/N] ")
				scanner := bufio.NewScanner(os.Stdin)
				if !scanner.Scan() {
					return nil
				}
				answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
				if answer != "y" && answer != "yes" {
					fmt.Println("Aborted.")
					return nil
				}
			}

			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			session, err := buildSession(ctx, activeConfig(), log)
			if err != nil {
				return fmt.Errorf("reset: %w", err)
			}
			defer session.Close()

			if err := session.ResetIndex(ctx); err != nil {
				return fmt.Errorf("reset: %w", err)
			}
			fmt.Println("Index reset.")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}
