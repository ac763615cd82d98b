package graph

import (
	"github.com/54b3r/ragflow-go/internal/docstore"
)

// Node names the graph's states. The entry router is virtual — it never
// appears in the recorded path; END marks successful termination.
type Node string

const (
	// NodeRetrieve pulls top-k documents from the vector store.
	NodeRetrieve Node = "retrieve"
	// NodeGradeDocuments filters retrieved documents by relevance.
	NodeGradeDocuments Node = "grade_documents"
	// NodeWebSearch augments or replaces context from web search.
	NodeWebSearch Node = "websearch"
	// NodeGenerate produces and self-grades an answer.
	NodeGenerate Node = "generate"
	// NodeEnd is the terminal state.
	NodeEnd Node = "end"
)

// State is the per-query mutable state flowing through the graph. One
// instance exists per Run call and is never shared across queries, so no
// locking is needed.
type State struct {
	// Question is the user's question, immutable after entry.
	Question string
	// ClientTopics are the caller-supplied topic labels the vectorstore
	// covers; the router scopes its decision to them.
	ClientTopics []string
	// Documents is the current working context. Retrieval replaces it,
	// grading filters it, web search replaces or appends to it.
	Documents []docstore.Document
	// Generation is the latest answer draft; final once the graph ends.
	Generation string
	// WebSearch records that grading found the retrieval insufficient and
	// forced a web search fallback.
	WebSearch bool
	// Route is the entry router's datasource decision.
	Route string
	// Path records the executed nodes in order, for logs and the query log.
	Path []Node
}

// Hops returns how many nodes the query has executed so far.
func (s *State) Hops() int { return len(s.Path) }

// visit appends node to the executed path.
func (s *State) visit(node Node) { s.Path = append(s.Path, node) }
