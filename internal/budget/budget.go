// Package budget provides token budget estimation and context trimming for
// the retrieval pipeline. Because the service supports multiple LLM backends
// with different tokenizers, this package uses a conservative character-based
// heuristic: 1 token ≈ 4 characters (English prose and code). This
// deliberately under-estimates token counts to leave headroom for
// model-specific overhead.
package budget

import (
	"sort"

	"github.com/54b3r/ragflow-go/internal/docstore"
)

const (
	// charsPerToken is the conservative character-to-token ratio used for
	// estimation. 4 chars/token is standard for English and code; using 3
	// would be more aggressive but risks overflowing context windows.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default input context budget in tokens.
	// Conservative enough to fit within 8k-context models (Llama 3 8B, GPT-3.5)
	// while leaving room for the output.
	DefaultMaxContextTokens = 6000

	// perDocOverheadTokens accounts for the formatting wrapped around each
	// document when it is rendered into the prompt (headers, separators).
	perDocOverheadTokens = 8
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateDocuments returns the estimated total token count for a slice of
// documents as they would appear in a generation prompt.
func EstimateDocuments(docs []docstore.Document) int {
	total := 0
	for _, d := range docs {
		total += perDocOverheadTokens
		total += Estimate(d.Content)
	}
	return total
}

// TrimDocuments drops documents until fixed + the remaining documents fit
// within maxTokens. fixed is the prompt text that must not be trimmed (system
// prompt and question). Documents are dropped lowest-score-first, so the most
// relevant context survives; the relative order of the survivors is preserved.
//
// If even a single document exceeds the budget, an empty slice is returned —
// callers should warn separately when fixed alone exceeds the budget.
func TrimDocuments(docs []docstore.Document, fixed string, maxTokens int) []docstore.Document {
	if len(docs) == 0 {
		return docs
	}

	fixedTokens := Estimate(fixed)
	if fixedTokens+EstimateDocuments(docs) <= maxTokens {
		return docs
	}

	// Rank original positions by score ascending, so we can drop the least
	// relevant documents first while keeping the survivors in retrieval order.
	byScore := make([]int, len(docs))
	for i := range byScore {
		byScore[i] = i
	}
	sort.SliceStable(byScore, func(a, b int) bool {
		return docs[byScore[a]].Score < docs[byScore[b]].Score
	})

	dropped := make(map[int]bool, len(docs))
	remaining := EstimateDocuments(docs)
	for _, idx := range byScore {
		if fixedTokens+remaining <= maxTokens {
			break
		}
		dropped[idx] = true
		remaining -= perDocOverheadTokens + Estimate(docs[idx].Content)
	}

	kept := make([]docstore.Document, 0, len(docs)-len(dropped))
	for i, d := range docs {
		if !dropped[i] {
			kept = append(kept, d)
		}
	}
	return kept
}
