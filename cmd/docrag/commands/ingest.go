package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/docrag-go/internal/logging"
)

// NewIngestCmd constructs the `docrag ingest` command, which loads PDF
// documents into the vector index.
func NewIngestCmd() *cobra.Command {
	var file string
	var dir string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load PDF documents into the vector index",
		Long: `Extract text from PDF documents, chunk it, embed the chunks, and add
them to the vector index. The index persists between runs, so documents
only need to be ingested once.

The index lives in a local snapshot file by default; set QDRANT_HOST to
store vectors in a Qdrant instance instead.

Examples:
  docrag ingest --file handbook.pdf
  docrag ingest --dir ./contracts
  QDRANT_HOST=localhost docrag ingest --file handbook.pdf`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (file == "") == (dir == "") {
				return fmt.Errorf("ingest: exactly one of --file or --dir is required")
			}

			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			session, err := buildSession(ctx, activeConfig(), log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer session.Close()

			if file != "" {
				chunks, err := session.LoadFile(ctx, file)
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				fmt.Printf("Indexed %s (%d chunks)\n", file, chunks)
				return nil
			}

			result, err := session.LoadDirectory(ctx, dir)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			fmt.Printf("Indexed %d documents (%d chunks) from %s\n", result.Loaded, result.Chunks, dir)
			for _, name := range result.Failed {
				log.Warn("ingest: document skipped", slog.String("file", name))
				fmt.Printf("Skipped %s (see log for details)\n", name)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to a single PDF to ingest")
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Directory whose PDFs are ingested")

	return cmd
}
