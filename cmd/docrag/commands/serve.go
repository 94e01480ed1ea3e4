package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/server"
	"github.com/54b3r/docrag-go/internal/tracing"
)

// NewServeCmd constructs the `docrag serve` command, which starts the HTTP
// server exposing the QA pipeline as a REST API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the docrag HTTP server",
		Long: `Start the docrag HTTP server on localhost.

The server exposes a REST API: upload PDFs (POST /api/upload), ask
questions (POST /api/ask), inspect index state (GET /api/stats) and
history (GET /api/history), and reset the index (POST /api/reset).
Readiness probes and Prometheus metrics are served on /api/ready and
/metrics.

Set DOCRAG_API_KEY to require Bearer authentication on the API routes.

Examples:
  docrag serve
  docrag serve --port 9090
  MODEL_PROVIDER=openai docrag serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Setup Langfuse tracing — opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			cfg := activeConfig()
			session, err := buildSession(ctx, cfg, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer session.Close()

			srv, err := server.New(session, &server.Config{
				Host:    host,
				Port:    port,
				Logger:  log,
				Pingers: buildPingers(session.Store()),
				APIKey:  os.Getenv("DOCRAG_API_KEY"),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
