package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/54b3r/ragflow-go/internal/docstore"
)

// defaultTavilyBaseURL is the production Tavily API endpoint.
const defaultTavilyBaseURL = "https://api.tavily.com"

// defaultTavilyMaxResults bounds how many search hits are turned into
// documents per question.
const defaultTavilyMaxResults = 3

// TavilySearcher implements WebSearcher over the Tavily search API.
// It is safe for concurrent use.
type TavilySearcher struct {
	// baseURL is the API base URL (overridable for tests).
	baseURL string
	// apiKey authenticates every request.
	apiKey string
	// maxResults caps the number of hits requested per search.
	maxResults int
	// client is the shared HTTP client with a sensible timeout.
	client *http.Client
}

// TavilyConfig holds the settings for constructing a TavilySearcher.
type TavilyConfig struct {
	// BaseURL is the API base URL. Empty means the production endpoint.
	BaseURL string
	// APIKey is the Tavily API key. Required.
	APIKey string
	// MaxResults caps search hits per question. Zero means the default (3).
	MaxResults int
}

// NewTavilySearcher constructs a TavilySearcher from the given config.
func NewTavilySearcher(cfg *TavilyConfig) (*TavilySearcher, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("oracle: tavily requires an API key — set TAVILY_API_KEY")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultTavilyBaseURL
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = defaultTavilyMaxResults
	}
	return &TavilySearcher{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		maxResults: maxResults,
		client:     &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// tavilySearchRequest is the JSON body sent to the Tavily /search endpoint.
type tavilySearchRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

// tavilySearchResult is one hit inside a Tavily search response.
type tavilySearchResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float32 `json:"score"`
}

// tavilySearchResponse is the JSON body returned from the Tavily /search endpoint.
type tavilySearchResponse struct {
	Results []tavilySearchResult `json:"results"`
	Error   string               `json:"error,omitempty"`
}

// Search runs a web search for the question and shapes the hits as documents.
// Each result carries its origin URL in metadata and is tagged with
// docstore.MetaSource = "websearch" so downstream consumers can tell web
// context apart from vectorstore context.
func (s *TavilySearcher) Search(ctx context.Context, question string) ([]docstore.Document, error) {
	body := tavilySearchRequest{
		Query:      question,
		MaxResults: s.maxResults,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, oracleErr("websearch", fmt.Errorf("marshal request: %w", err))
	}

	url := s.baseURL + "/search"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, oracleErr("websearch", fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, oracleErr("websearch", fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	var result tavilySearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, oracleErr("websearch", fmt.Errorf("decode response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if result.Error != "" {
			msg = result.Error
		}
		return nil, oracleErr("websearch", fmt.Errorf("%s", msg))
	}

	docs := make([]docstore.Document, 0, len(result.Results))
	for _, hit := range result.Results {
		if hit.Content == "" {
			continue
		}
		docs = append(docs, docstore.Document{
			Content: hit.Content,
			Score:   hit.Score,
			Metadata: map[string]string{
				docstore.MetaSource: "websearch",
				"title":             hit.Title,
				"url":               hit.URL,
			},
		})
	}
	return docs, nil
}
