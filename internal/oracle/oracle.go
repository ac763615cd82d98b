// Package oracle defines the black-box scoring and generation functions the
// orchestration graph depends on: question routing, per-document relevance
// grading, hallucination grading, answer grading, answer generation, and web
// search. Concrete implementations call an LLM (via Eino) or an external
// search API; the graph only sees these interfaces.
package oracle

import (
	"context"
	"fmt"

	"github.com/54b3r/ragflow-go/internal/docstore"
)

// Datasource is the router's verdict on where a question should be answered from.
type Datasource string

const (
	// DatasourceVectorstore routes the question to the local knowledge base.
	DatasourceVectorstore Datasource = "vectorstore"
	// DatasourceWebsearch routes the question to external web search.
	DatasourceWebsearch Datasource = "websearch"
)

// Verdict is a binary grading result with an optional free-form rationale.
// Verdicts are ephemeral: consumed by the graph step that requested them and
// then discarded, never persisted.
type Verdict struct {
	// BinaryScore is the yes/no grade.
	BinaryScore bool
	// Rationale is the grader's optional explanation, for logs only.
	Rationale string
}

// Router decides which datasource should serve a question, given the
// caller-supplied topic labels the knowledge base covers.
type Router interface {
	Route(ctx context.Context, clientTopics []string, question string) (Datasource, error)
}

// RetrievalGrader judges whether a single retrieved document is topically
// responsive to the question.
type RetrievalGrader interface {
	GradeDocument(ctx context.Context, question string, doc docstore.Document) (Verdict, error)
}

// HallucinationGrader judges whether a generation's claims are all supported
// by the supplied document context.
type HallucinationGrader interface {
	GradeGeneration(ctx context.Context, docs []docstore.Document, generation string) (Verdict, error)
}

// AnswerGrader judges whether a generation actually addresses the question.
type AnswerGrader interface {
	GradeAnswer(ctx context.Context, question, generation string) (Verdict, error)
}

// Generator produces an answer string from a question and document context.
type Generator interface {
	Generate(ctx context.Context, question string, docs []docstore.Document) (string, error)
}

// WebSearcher performs an external search and returns results shaped as
// documents so the graph can treat them like retrieved context.
type WebSearcher interface {
	Search(ctx context.Context, question string) ([]docstore.Document, error)
}

// OracleError wraps a failed or malformed oracle call so callers can
// distinguish model/search faults from storage faults with errors.As.
type OracleError struct {
	// Oracle names the failed oracle ("router", "hallucination_grader", ...).
	Oracle string
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *OracleError) Error() string {
	return fmt.Sprintf("oracle: %s: %v", e.Oracle, e.Err)
}

// Unwrap returns the underlying cause for errors.Is / errors.As chains.
func (e *OracleError) Unwrap() error { return e.Err }

// oracleErr wraps err as an *OracleError for the named oracle.
func oracleErr(name string, err error) error {
	return &OracleError{Oracle: name, Err: err}
}
