// Package graph implements the self-correcting retrieval state machine: a
// router picks vectorstore retrieval or web search, retrieved documents are
// relevance-graded, and every generation is checked for groundedness and
// usefulness before it is allowed to terminate the query. Ungrounded
// generations are retried; unhelpful ones trigger a web search fallback.
//
// Each query runs strictly sequentially through the nodes; concurrency
// happens across queries (each Run call owns its State), never within one.
package graph

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/54b3r/ragflow-go/internal/docstore"
	"github.com/54b3r/ragflow-go/internal/logging"
	"github.com/54b3r/ragflow-go/internal/oracle"
)

const (
	// defaultTopK is how many documents retrieval asks the store for.
	defaultTopK = 5

	// defaultMaxGenerateRetries bounds consecutive not-grounded retries of
	// the generate node before the query fails. Without a bound a
	// persistently hallucinating model would cycle forever.
	defaultMaxGenerateRetries = 3

	// defaultMaxHops bounds total node executions per query. This is the
	// backstop for the generate→websearch→generate cycle, which the retry
	// bound alone does not cover.
	defaultMaxHops = 25
)

// ErrHopLimit is wrapped into the error returned when a query exceeds the
// hop ceiling without terminating.
var ErrHopLimit = fmt.Errorf("graph: hop limit exceeded")

// Retriever is the slice of the document store the graph needs.
type Retriever interface {
	Search(ctx context.Context, query string, k int) ([]docstore.Document, error)
}

// Oracles bundles the scoring and generation functions the graph consults.
type Oracles struct {
	Router              oracle.Router
	RetrievalGrader     oracle.RetrievalGrader
	HallucinationGrader oracle.HallucinationGrader
	AnswerGrader        oracle.AnswerGrader
	Generator           oracle.Generator
	WebSearcher         oracle.WebSearcher
}

// validate returns an error naming the first missing oracle.
func (o *Oracles) validate() error {
	switch {
	case o.Router == nil:
		return fmt.Errorf("graph: router oracle is required")
	case o.RetrievalGrader == nil:
		return fmt.Errorf("graph: retrieval grader oracle is required")
	case o.HallucinationGrader == nil:
		return fmt.Errorf("graph: hallucination grader oracle is required")
	case o.AnswerGrader == nil:
		return fmt.Errorf("graph: answer grader oracle is required")
	case o.Generator == nil:
		return fmt.Errorf("graph: generator oracle is required")
	case o.WebSearcher == nil:
		return fmt.Errorf("graph: web searcher oracle is required")
	}
	return nil
}

// Config tunes the engine's bounds. Zero values select the defaults.
type Config struct {
	// TopK is the retrieval depth (default 5).
	TopK int
	// MaxGenerateRetries bounds consecutive not-grounded regenerations
	// (default 3).
	MaxGenerateRetries int
	// MaxHops bounds total node executions per query (default 25).
	MaxHops int
}

// Engine executes the retrieval graph. It is safe for concurrent use: all
// per-query state lives in the State created by Run.
type Engine struct {
	store   Retriever
	oracles Oracles

	topK               int
	maxGenerateRetries int
	maxHops            int
}

// New constructs an Engine over the given store and oracles.
func New(store Retriever, oracles Oracles, cfg Config) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("graph: retriever is required")
	}
	if err := oracles.validate(); err != nil {
		return nil, err
	}
	if cfg.TopK <= 0 {
		cfg.TopK = defaultTopK
	}
	if cfg.MaxGenerateRetries <= 0 {
		cfg.MaxGenerateRetries = defaultMaxGenerateRetries
	}
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = defaultMaxHops
	}
	return &Engine{
		store:              store,
		oracles:            oracles,
		topK:               cfg.TopK,
		maxGenerateRetries: cfg.MaxGenerateRetries,
		maxHops:            cfg.MaxHops,
	}, nil
}

// Run executes the graph for one question and returns the terminal state.
// Any node failure aborts the query; partial progress is discarded with it.
func (e *Engine) Run(ctx context.Context, question string, clientTopics []string) (*State, error) {
	log := logging.FromContext(ctx)
	state := &State{
		Question:     question,
		ClientTopics: clientTopics,
	}

	// Virtual entry: the router picks the first real node.
	datasource, err := e.oracles.Router.Route(ctx, clientTopics, question)
	if err != nil {
		return nil, err
	}
	state.Route = string(datasource)
	log.Debug("graph: routed question",
		slog.String("datasource", string(datasource)),
	)

	var next Node
	switch datasource {
	case oracle.DatasourceWebsearch:
		next = NodeWebSearch
	default:
		next = NodeRetrieve
	}

	generateRetries := 0
	for next != NodeEnd {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if state.Hops() >= e.maxHops {
			return nil, fmt.Errorf("%w after %d hops (question %q)", ErrHopLimit, state.Hops(), question)
		}
		state.visit(next)

		switch next {
		case NodeRetrieve:
			if err := e.retrieve(ctx, state); err != nil {
				return nil, err
			}
			next = NodeGradeDocuments

		case NodeGradeDocuments:
			if err := e.gradeDocuments(ctx, state); err != nil {
				return nil, err
			}
			if state.WebSearch {
				next = NodeWebSearch
			} else {
				next = NodeGenerate
			}

		case NodeWebSearch:
			if err := e.webSearch(ctx, state); err != nil {
				return nil, err
			}
			next = NodeGenerate

		case NodeGenerate:
			verdictNext, err := e.generate(ctx, state)
			if err != nil {
				return nil, err
			}
			if verdictNext == NodeGenerate {
				generateRetries++
				if generateRetries >= e.maxGenerateRetries {
					return nil, &oracle.OracleError{
						Oracle: "hallucination_grader",
						Err:    fmt.Errorf("generation not grounded after %d attempts", generateRetries),
					}
				}
			} else {
				generateRetries = 0
			}
			next = verdictNext
		}
	}

	state.visit(NodeEnd)
	log.Info("graph: query completed",
		slog.String("route", state.Route),
		slog.Int("hops", state.Hops()),
		slog.Bool("web_search", state.WebSearch),
	)
	return state, nil
}

// retrieve replaces the working context with a fresh top-k similarity search.
func (e *Engine) retrieve(ctx context.Context, state *State) error {
	docs, err := e.store.Search(ctx, state.Question, e.topK)
	if err != nil {
		return err
	}
	state.Documents = docs
	logging.FromContext(ctx).Debug("graph: retrieved documents",
		slog.Int("count", len(docs)),
	)
	return nil
}

// gradeDocuments keeps only documents the relevance grader accepts. If any
// document was dropped, or nothing relevant remains, the web search fallback
// flag flips on.
func (e *Engine) gradeDocuments(ctx context.Context, state *State) error {
	log := logging.FromContext(ctx)
	kept := make([]docstore.Document, 0, len(state.Documents))
	for _, doc := range state.Documents {
		verdict, err := e.oracles.RetrievalGrader.GradeDocument(ctx, state.Question, doc)
		if err != nil {
			return err
		}
		if verdict.BinaryScore {
			kept = append(kept, doc)
			continue
		}
		log.Debug("graph: document graded irrelevant",
			slog.String("id", doc.ID),
			slog.String("rationale", verdict.Rationale),
		)
	}

	if len(kept) < len(state.Documents) || len(kept) == 0 {
		state.WebSearch = true
	}
	state.Documents = kept
	return nil
}

// webSearch pulls external results into the working context. A direct-routed
// query (empty context) gets the results as its whole context; the fallback
// path appends them to the relevant documents grading kept.
func (e *Engine) webSearch(ctx context.Context, state *State) error {
	results, err := e.oracles.WebSearcher.Search(ctx, state.Question)
	if err != nil {
		return err
	}
	if len(state.Documents) == 0 {
		state.Documents = results
	} else {
		state.Documents = append(state.Documents, results...)
	}
	logging.FromContext(ctx).Debug("graph: web search results merged",
		slog.Int("results", len(results)),
		slog.Int("context_size", len(state.Documents)),
	)
	return nil
}

// generate produces an answer and self-grades it, returning the next node:
// NodeGenerate to retry an ungrounded draft, NodeWebSearch when the grounded
// draft fails to address the question, NodeEnd on success.
func (e *Engine) generate(ctx context.Context, state *State) (Node, error) {
	log := logging.FromContext(ctx)

	generation, err := e.oracles.Generator.Generate(ctx, state.Question, state.Documents)
	if err != nil {
		return "", err
	}
	state.Generation = generation

	grounded, err := e.oracles.HallucinationGrader.GradeGeneration(ctx, state.Documents, generation)
	if err != nil {
		return "", err
	}
	if !grounded.BinaryScore {
		log.Warn("graph: generation not grounded, retrying",
			slog.String("rationale", grounded.Rationale),
		)
		return NodeGenerate, nil
	}

	useful, err := e.oracles.AnswerGrader.GradeAnswer(ctx, state.Question, generation)
	if err != nil {
		return "", err
	}
	if !useful.BinaryScore {
		log.Warn("graph: generation does not address the question, falling back to web search",
			slog.String("rationale", useful.Rationale),
		)
		return NodeWebSearch, nil
	}

	return NodeEnd, nil
}
