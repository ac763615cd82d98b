package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/54b3r/ragflow-go/internal/logging"
	"github.com/54b3r/ragflow-go/internal/provider"
	"github.com/54b3r/ragflow-go/internal/server"
	"github.com/54b3r/ragflow-go/internal/tracing"
)

// NewServeCmd constructs the `ragflow serve` command, which starts the HTTP
// server exposing the query and document management API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ragflow HTTP server",
		Long: `Start the ragflow HTTP server on localhost.

The server exposes POST /api/query for question answering, CRUD endpoints
under /api/documents for knowledge-base management, and /metrics for
Prometheus scraping.

Examples:
  ragflow serve
  ragflow serve --port 9090
  MODEL_PROVIDER=azure ragflow serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// Explicit flags win; otherwise SERVER_HOST/SERVER_PORT (possibly
			// applied from the YAML config) take effect.
			if !cmd.Flags().Changed("host") {
				host = getEnvOrDefault("SERVER_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				port = getEnvInt("SERVER_PORT", port)
			}

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

			providerCfg := provider.ConfigFromEnv()
			chatModel, err := provider.New(ctx, providerCfg)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise model provider: %w", err)
			}
			log.Info("provider initialised", slog.String("provider", string(providerCfg.Backend)))

			docs, emb, err := buildDocStore(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer docs.Close()

			engine, err := buildEngine(docs, chatModel, 0)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			queryLog, closeLog := openQueryLog(log)
			defer closeLog()

			pingers := buildPingers(docs, emb, chatModel, providerCfg)

			srv, err := server.New(engine, docs, queryLog, &server.Config{
				Host:      host,
				Port:      port,
				Logger:    log,
				Pingers:   pingers,
				RateLimit: getEnvFloat("SERVER_RATE_LIMIT", 0),
				RateBurst: getEnvInt("SERVER_RATE_BURST", 0),
				APIKey:    os.Getenv("RAGFLOW_API_KEY"),
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
