package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/54b3r/ragflow-go/internal/logging"
	"github.com/54b3r/ragflow-go/internal/provider"
	"github.com/54b3r/ragflow-go/internal/store"
)

// NewQueryCmd constructs the `ragflow query` command, which answers a single
// question through the retrieval graph and prints the answer to stdout.
func NewQueryCmd() *cobra.Command {
	var topics []string
	var topK int

	cmd := &cobra.Command{
		Use:   "query [question]",
		Short: "Answer a question from the knowledge base",
		Long: `Answer a natural language question through the retrieval graph.

The question is routed to the vector store or directly to web search, the
retrieved context is graded for relevance, and the generated answer is checked
for grounding before being returned.

Examples:
  ragflow query "what are the components of an LLM-powered agent?"
  ragflow query --topic agents --topic prompt-engineering "how does ReAct work?"
  ragflow query --top-k 8 "what is chain of thought prompting?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			docs, _, err := buildDocStore(ctx, log)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			defer docs.Close()

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("query: failed to initialise model provider: %w", err)
			}

			engine, err := buildEngine(docs, chatModel, topK)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}

			queryLog, closeLog := openQueryLog(log)
			defer closeLog()

			state, err := engine.Run(ctx, args[0], topics)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}

			log.Info("query answered",
				slog.String("route", state.Route),
				slog.Int("hops", state.Hops()),
				slog.Bool("web_search", state.WebSearch),
			)

			if queryLog != nil {
				if err := queryLog.Append(ctx, store.Record{
					Question:   state.Question,
					Route:      state.Route,
					Hops:       state.Hops(),
					WebSearch:  state.WebSearch,
					Generation: state.Generation,
				}); err != nil {
					log.Warn("history: failed to record query", slog.Any("error", err))
				}
			}

			fmt.Fprintln(os.Stdout, state.Generation)
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&topics, "topic", "t", nil, "Knowledge-base topic hint for routing (repeatable)")
	cmd.Flags().IntVar(&topK, "top-k", 0, "Number of documents to retrieve (default 5)")

	return cmd
}
