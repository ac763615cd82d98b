package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/ragflow-go/internal/budget"
	"github.com/54b3r/ragflow-go/internal/docstore"
)

// routerSystemPrompt instructs the model to pick a datasource and reply with
// a bare JSON object. The vectorstore only covers the caller's topics; every
// other question goes to web search.
const routerSystemPrompt = `You are an expert at routing a user question to a vectorstore or web search.
The vectorstore contains documents on the following topics: %s.
Use the vectorstore for questions on those topics. For all other topics, use web search.

Respond with ONLY a JSON object in this exact shape — no markdown fencing,
no explanation outside the JSON:

{"datasource": "vectorstore"}  or  {"datasource": "websearch"}`

// retrievalGraderSystemPrompt asks for a binary relevance grade on one document.
const retrievalGraderSystemPrompt = `You are a grader assessing the relevance of a retrieved document to a user question.
If the document contains keywords or semantic meaning related to the question, grade it as relevant.
This is not a stringent test — the goal is only to filter out erroneous retrievals.

Respond with ONLY a JSON object in this exact shape — no markdown fencing:

{"binary_score": true, "rationale": "one short sentence"}`

// hallucinationGraderSystemPrompt asks whether a generation is grounded in
// the supplied documents.
const hallucinationGraderSystemPrompt = `You are a grader assessing whether an LLM generation is grounded in a set of retrieved facts.
Grade true when every claim in the generation is supported by the facts, false otherwise.

Respond with ONLY a JSON object in this exact shape — no markdown fencing:

{"binary_score": true, "rationale": "one short sentence"}`

// answerGraderSystemPrompt asks whether a generation resolves the question.
const answerGraderSystemPrompt = `You are a grader assessing whether an answer addresses and resolves a question.
Grade true when the answer resolves the question, false otherwise.

Respond with ONLY a JSON object in this exact shape — no markdown fencing:

{"binary_score": true, "rationale": "one short sentence"}`

// generatorSystemPrompt is the RAG answer prompt.
const generatorSystemPrompt = `You are an assistant for question-answering tasks.
Use the retrieved context below to answer the question. If you don't know the
answer from the context, say that you don't know. Keep the answer concise —
three sentences maximum.`

// LLM implements the Router, RetrievalGrader, HallucinationGrader,
// AnswerGrader, and Generator oracles over a single Eino chat model.
// It is safe for concurrent use if the underlying model is.
type LLM struct {
	// chatModel is the LLM backend constructed by the provider factory.
	chatModel model.ToolCallingChatModel

	// maxContextTokens is the estimated token budget for the generator's
	// document context. Documents are trimmed lowest-score-first to fit.
	maxContextTokens int
}

// NewLLM constructs the LLM oracle set over the given chat model.
// maxContextTokens defaults to budget.DefaultMaxContextTokens if zero.
func NewLLM(chatModel model.ToolCallingChatModel, maxContextTokens int) (*LLM, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("oracle: chat model must not be nil")
	}
	if maxContextTokens <= 0 {
		maxContextTokens = budget.DefaultMaxContextTokens
	}
	return &LLM{chatModel: chatModel, maxContextTokens: maxContextTokens}, nil
}

// routeResponse is the JSON verdict returned by the router prompt.
type routeResponse struct {
	Datasource string `json:"datasource"`
}

// Route asks the model to pick a datasource for the question.
func (l *LLM) Route(ctx context.Context, clientTopics []string, question string) (Datasource, error) {
	system := fmt.Sprintf(routerSystemPrompt, strings.Join(clientTopics, ", "))
	human := fmt.Sprintf("Given the topics: %s, route this question: %s", strings.Join(clientTopics, ", "), question)

	content, err := l.generate(ctx, system, human)
	if err != nil {
		return "", oracleErr("router", err)
	}

	var resp routeResponse
	if err := json.Unmarshal([]byte(stripFencing(content)), &resp); err != nil {
		return "", oracleErr("router", fmt.Errorf("malformed verdict %q: %w", content, err))
	}

	switch Datasource(resp.Datasource) {
	case DatasourceVectorstore, DatasourceWebsearch:
		return Datasource(resp.Datasource), nil
	default:
		return "", oracleErr("router", fmt.Errorf("unknown datasource %q", resp.Datasource))
	}
}

// GradeDocument asks the model whether one retrieved document is relevant to
// the question.
func (l *LLM) GradeDocument(ctx context.Context, question string, doc docstore.Document) (Verdict, error) {
	human := fmt.Sprintf("Retrieved document:\n\n%s\n\nUser question: %s", doc.Content, question)

	content, err := l.generate(ctx, retrievalGraderSystemPrompt, human)
	if err != nil {
		return Verdict{}, oracleErr("retrieval_grader", err)
	}
	v, err := parseVerdict(content)
	if err != nil {
		return Verdict{}, oracleErr("retrieval_grader", err)
	}
	return v, nil
}

// GradeGeneration asks the model whether the generation is grounded in docs.
func (l *LLM) GradeGeneration(ctx context.Context, docs []docstore.Document, generation string) (Verdict, error) {
	human := fmt.Sprintf("Set of facts:\n\n%s\n\nLLM generation: %s", joinDocuments(docs), generation)

	content, err := l.generate(ctx, hallucinationGraderSystemPrompt, human)
	if err != nil {
		return Verdict{}, oracleErr("hallucination_grader", err)
	}
	v, err := parseVerdict(content)
	if err != nil {
		return Verdict{}, oracleErr("hallucination_grader", err)
	}
	return v, nil
}

// GradeAnswer asks the model whether the generation addresses the question.
func (l *LLM) GradeAnswer(ctx context.Context, question, generation string) (Verdict, error) {
	human := fmt.Sprintf("User question:\n\n%s\n\nLLM generation: %s", question, generation)

	content, err := l.generate(ctx, answerGraderSystemPrompt, human)
	if err != nil {
		return Verdict{}, oracleErr("answer_grader", err)
	}
	v, err := parseVerdict(content)
	if err != nil {
		return Verdict{}, oracleErr("answer_grader", err)
	}
	return v, nil
}

// Generate produces an answer from the question and document context.
// The document context is trimmed lowest-score-first to fit the token budget
// before it reaches the model.
func (l *LLM) Generate(ctx context.Context, question string, docs []docstore.Document) (string, error) {
	trimmed := budget.TrimDocuments(docs, generatorSystemPrompt+question, l.maxContextTokens)
	human := fmt.Sprintf("Context:\n\n%s\n\nQuestion: %s", joinDocuments(trimmed), question)

	content, err := l.generate(ctx, generatorSystemPrompt, human)
	if err != nil {
		return "", oracleErr("generator", err)
	}
	if strings.TrimSpace(content) == "" {
		return "", oracleErr("generator", fmt.Errorf("model returned empty generation"))
	}
	return content, nil
}

// generate sends a system+user message pair to the chat model and returns
// the response content.
func (l *LLM) generate(ctx context.Context, system, human string) (string, error) {
	messages := []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(human),
	}

	resp, err := l.chatModel.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("generate failed: %w", err)
	}
	if resp == nil {
		return "", fmt.Errorf("generate returned nil response")
	}
	return resp.Content, nil
}

// verdictResponse is the JSON verdict shape shared by all three graders.
type verdictResponse struct {
	BinaryScore bool   `json:"binary_score"`
	Rationale   string `json:"rationale"`
}

// parseVerdict unmarshals a grader reply, tolerating markdown fencing the
// model may add despite the prompt.
func parseVerdict(content string) (Verdict, error) {
	var resp verdictResponse
	if err := json.Unmarshal([]byte(stripFencing(content)), &resp); err != nil {
		return Verdict{}, fmt.Errorf("malformed verdict %q: %w", content, err)
	}
	return Verdict{BinaryScore: resp.BinaryScore, Rationale: resp.Rationale}, nil
}

// stripFencing removes a surrounding markdown code fence from s if present.
// Smaller models routinely wrap JSON output in ```json fences.
func stripFencing(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// joinDocuments formats document contents into a numbered context block.
func joinDocuments(docs []docstore.Document) string {
	var sb strings.Builder
	for i, doc := range docs {
		fmt.Fprintf(&sb, "### Document %d\n%s\n\n", i+1, doc.Content)
	}
	return sb.String()
}
