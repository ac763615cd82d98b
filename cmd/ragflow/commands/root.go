// Package commands defines all Cobra CLI commands for the ragflow binary.
package commands

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/54b3r/ragflow-go/internal/audit"
	"github.com/54b3r/ragflow-go/internal/config"
	"github.com/54b3r/ragflow-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ragflow",
		Short: "ragflow — retrieval-augmented question answering over your knowledge base",
		Long: `ragflow answers questions by retrieving from a Qdrant-backed knowledge base,
grading the retrieved context for relevance, falling back to web search when
the knowledge base cannot help, and checking every generated answer for
grounding before returning it.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.ragflow/config.yaml).
See 'ragflow --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Load .env if present. Real env vars still win: godotenv never
			// overwrites variables that are already set.
			_ = godotenv.Load()

			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.ragflow/config.yaml)")

	root.AddCommand(
		NewQueryCmd(),
		NewServeCmd(),
		NewIngestCmd(),
		NewHistoryCmd(),
		NewVersionCmd(),
	)

	return root
}
