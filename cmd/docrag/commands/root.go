// Package commands defines all Cobra CLI commands for the docrag binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/docrag-go/internal/audit"
	"github.com/54b3r/docrag-go/internal/config"
	"github.com/54b3r/docrag-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfig is the resolved configuration shared by all subcommands.
var loadedConfig *config.Config

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "docrag",
		Short: "docrag — question answering over your PDF documents",
		Long: `docrag is a local-first question-answering tool for PDF documents.

It chunks and embeds your documents into a vector index, retrieves the
passages most relevant to each question, and has an LLM answer grounded
in that retrieved context.

Model provider is selected via the MODEL_PROVIDER environment variable;
chunking and retrieval settings come from a YAML config file
(~/.docrag/config.yaml). See 'docrag --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			cfg, path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfig = cfg
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.docrag/config.yaml)")

	root.AddCommand(
		NewIngestCmd(),
		NewAskCmd(),
		NewChatCmd(),
		NewStatsCmd(),
		NewResetCmd(),
		NewServeCmd(),
		NewVersionCmd(),
	)

	return root
}
