package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/ragflow-go/internal/ingestion"
	"github.com/54b3r/ragflow-go/internal/logging"
)

// NewIngestCmd constructs the `ragflow ingest` command, which runs the
// ingestion pipeline to populate the knowledge base.
func NewIngestCmd() *cobra.Command {
	var topic string
	var cleanup string
	var urls []string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest documents into the knowledge base",
		Long: `Fetch, chunk, and index source pages into the Qdrant vector store.

Each chunk is stamped with a content digest so re-running ingestion is
idempotent: unchanged chunks are skipped, changed chunks are replaced, and
(in full cleanup mode) records absent from the batch are removed.

Cleanup modes:
  none         always insert — duplicates accumulate
  incremental  skip unchanged chunks, replace changed ones (default)
  full         resynchronise the store to exactly this batch

Required environment variables:
  QDRANT_HOST          Qdrant server hostname (default: localhost)
  QDRANT_PORT          Qdrant gRPC port (default: 6334)
  QDRANT_COLLECTION    Collection name (default: ragflow-docs)
  QDRANT_API_KEY       Optional API key for authenticated clusters
  MODEL_PROVIDER       Embedding backend: ollama, openai, azure (default: ollama)
  EMBEDDING_*          Provider-specific overrides

The --topic flag is optional. When omitted, the topic is auto-inferred from
the URL slug. An explicit flag overrides inference for all URLs in the batch.

Examples:
  ragflow ingest --url https://lilianweng.github.io/posts/2023-06-23-agent/
  ragflow ingest --cleanup full --url https://example.com/doc-1 --url https://example.com/doc-2
  ragflow ingest --topic prompt-engineering --url https://example.com/prompting-guide`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if len(urls) == 0 {
				return fmt.Errorf("ingest: at least one --url is required")
			}

			if cleanup == "" {
				cleanup = getEnvOrDefault("INGEST_CLEANUP", "")
			}
			mode, err := ingestion.ParseCleanupMode(cleanup)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			docs, _, err := buildDocStore(ctx, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer docs.Close()

			pipeline, err := ingestion.NewPipeline(docs, &ingestion.Config{
				ChunkSize:    getEnvInt("INGEST_CHUNK_SIZE", 0),
				ChunkOverlap: getEnvInt("INGEST_CHUNK_OVERLAP", 0),
				Cleanup:      mode,
			})
			if err != nil {
				return fmt.Errorf("ingest: failed to create pipeline: %w", err)
			}

			topicSet := cmd.Flags().Changed("topic")

			sources := make([]ingestion.Source, 0, len(urls))
			for _, u := range urls {
				src := ingestion.Source{URL: u}
				if topicSet {
					src.Topic = topic
				} else {
					src.Topic = ingestion.InferMetadata(u).Topic
				}

				log.Info("source metadata",
					slog.String("url", u),
					slog.String("topic", src.Topic),
				)
				sources = append(sources, src)
			}

			log.Info("starting ingestion",
				slog.Int("sources", len(sources)),
				slog.String("cleanup", string(mode)),
			)

			stats, err := pipeline.Ingest(ctx, sources, func(msg string) {
				log.Info(msg)
			})
			if err != nil {
				return fmt.Errorf("ingest: pipeline failed: %w", err)
			}

			log.Info("ingestion complete",
				slog.Int("added", stats.Added),
				slog.Int("skipped", stats.Skipped),
				slog.Int("deleted", stats.Deleted),
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&topic, "topic", "t", "", "Topic label for all URLs (default: inferred from URL)")
	cmd.Flags().StringVarP(&cleanup, "cleanup", "c", "", "Cleanup mode: none, incremental, full (default: incremental)")
	cmd.Flags().StringArrayVarP(&urls, "url", "u", nil, "Source URL to ingest (repeatable)")

	return cmd
}
