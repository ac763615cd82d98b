package ingestion

import (
	"net/url"
	"strings"
)

// InferredMetadata holds the topic and doc type inferred from a source URL's
// structure. CLI flags take precedence over inferred values — this is the
// best-effort fallback when the user doesn't specify explicit metadata.
type InferredMetadata struct {
	// Topic is the knowledge-base topic label (e.g. "agents").
	Topic string
	// DocType classifies the page kind (post, paper, reference).
	DocType string
}

// slugTopicAliases maps URL slug fragments to canonical topic labels. The
// slugs cover the corpora this service is typically pointed at (LLM blog
// posts and papers); anything unmatched falls through to slug cleanup.
var slugTopicAliases = map[string]string{
	"agent":              "agents",
	"agents":             "agents",
	"autonomous-agents":  "agents",
	"prompt-engineering": "prompt engineering",
	"prompting":          "prompt engineering",
	"adv-attack":         "adversarial attacks",
	"adversarial":        "adversarial attacks",
	"jailbreak":          "adversarial attacks",
	"hallucination":      "hallucination",
	"rag":                "retrieval",
	"retrieval":          "retrieval",
}

// InferMetadata inspects a source URL and returns best-effort metadata. If
// the URL doesn't match any known pattern the topic is derived from the last
// path segment's slug ("2023-06-23-agent" → "agents", "some-long-title" →
// "some long title").
func InferMetadata(rawURL string) InferredMetadata {
	m := InferredMetadata{
		Topic:   "general",
		DocType: "reference",
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return m
	}

	host := strings.ToLower(parsed.Hostname())
	segments := trimSegments(strings.ToLower(parsed.Path))

	switch {
	case len(segments) > 0 && segments[0] == "posts":
		m.DocType = "post"
	case host == "arxiv.org":
		m.DocType = "paper"
	}

	slug := lastSlug(segments)
	if slug == "" {
		return m
	}

	// Exact alias on the whole slug or on any of its fragments wins.
	if topic, ok := slugTopicAliases[slug]; ok {
		m.Topic = topic
		return m
	}
	for _, frag := range splitSlug(slug) {
		if topic, ok := slugTopicAliases[frag]; ok {
			m.Topic = topic
			return m
		}
	}

	// Fall back to the cleaned slug itself as the topic label.
	if cleaned := cleanSlug(slug); cleaned != "" {
		m.Topic = cleaned
	}
	return m
}

// lastSlug returns the final path segment, or empty.
func lastSlug(segments []string) string {
	if len(segments) == 0 {
		return ""
	}
	return segments[len(segments)-1]
}

// splitSlug yields candidate alias keys from a slug: the slug with any date
// prefix stripped, plus progressively shorter hyphen-joined suffixes, so
// "2021-10-25-adv-attack-llm" matches the "adv-attack" alias.
func splitSlug(slug string) []string {
	parts := strings.Split(stripDatePrefix(slug), "-")
	var out []string
	for i := 0; i < len(parts); i++ {
		for j := len(parts); j > i; j-- {
			out = append(out, strings.Join(parts[i:j], "-"))
		}
	}
	return out
}

// stripDatePrefix removes a leading YYYY-MM-DD- from blog post slugs.
func stripDatePrefix(slug string) string {
	parts := strings.SplitN(slug, "-", 4)
	if len(parts) == 4 && len(parts[0]) == 4 && len(parts[1]) == 2 && len(parts[2]) == 2 &&
		isDigits(parts[0]) && isDigits(parts[1]) && isDigits(parts[2]) {
		return parts[3]
	}
	return slug
}

// cleanSlug turns a URL slug into a human topic label.
func cleanSlug(slug string) string {
	slug = stripDatePrefix(slug)
	slug = strings.TrimSuffix(slug, ".html")
	return strings.TrimSpace(strings.ReplaceAll(slug, "-", " "))
}

// isDigits reports whether s is non-empty and all ASCII digits.
func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// trimSegments splits a URL path into non-empty lowercase segments.
func trimSegments(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
