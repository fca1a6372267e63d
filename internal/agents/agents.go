// Package agents wraps the language and image models behind the narrow
// contracts the pipeline depends on: draft, revise, suggest topics and
// illustrate.
package agents

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/kalambet/blogpilot/internal/errs"
	"github.com/kalambet/blogpilot/internal/llm"
)

// Chatter sends a JSON-mode chat request and returns the raw reply.
type Chatter interface {
	ChatJSON(ctx context.Context, req llm.ChatRequest) (string, error)
}

// ImageAPI generates image bytes from a prompt.
type ImageAPI interface {
	GenerateImage(ctx context.Context, req llm.ImageRequest) ([]byte, error)
}

// Uploader stores image bytes and returns a public URL.
type Uploader interface {
	UploadImage(ctx context.Context, data []byte, mimeType string) (string, error)
}

// Draft is a first-pass post.
type Draft struct {
	Title          string   `json:"title"`
	Excerpt        string   `json:"excerpt"`
	Content        string   `json:"content"`
	Tags           []string `json:"tags"`
	FocusKeyphrase string   `json:"focus_keyphrase"`
}

// Revision is an edited post with the editor's self-assessment. Scores are
// rounded but not clamped; callers clamp to their own bounds.
type Revision struct {
	Title           string   `json:"title"`
	Excerpt         string   `json:"excerpt"`
	Content         string   `json:"content"`
	Tags            []string `json:"tags"`
	ConfidenceScore int      `json:"confidence_score"`
	SEOChecksPassed int      `json:"seo_checks_passed"`
	RevisionNotes   string   `json:"revision_notes"`
}

// TopicSuggestion is a candidate queue entry.
type TopicSuggestion struct {
	Topic          string   `json:"topic"`
	FocusKeyphrase string   `json:"focus_keyphrase"`
	Keywords       []string `json:"keywords"`
	ContentPillar  string   `json:"content_pillar"`
}

func ptr[T any](v T) *T { return &v }

// decodeObject parses a model reply that must be a JSON object.
func decodeObject(agent, raw string) (map[string]any, error) {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, errs.New(errs.KindMalformedResponse, "%s returned invalid JSON: %s", agent, truncate(raw, 200))
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, errs.New(errs.KindValidation, "%s: response is not an object", agent)
	}
	return m, nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// requiredString returns the trimmed string at key or a validation error.
func requiredString(agent string, m map[string]any, key string) (string, error) {
	s, ok := m[key].(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", errs.New(errs.KindValidation, "%s: missing or empty %s", agent, key)
	}
	return strings.TrimSpace(s), nil
}

// requiredNumber returns the rounded number at key or a validation error.
// Values outside the int32 range saturate so callers can still clamp them.
func requiredNumber(agent string, m map[string]any, key string) (int, error) {
	f, ok := m[key].(float64)
	if !ok || math.IsNaN(f) {
		return 0, errs.New(errs.KindValidation, "%s: missing %s", agent, key)
	}
	switch {
	case f >= math.MaxInt32:
		return math.MaxInt32, nil
	case f <= math.MinInt32:
		return math.MinInt32, nil
	}
	return int(math.Round(f)), nil
}

// stringList converts a JSON array to strings. ok is false when v is not an array.
func stringList(v any) ([]string, bool) {
	arr, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		switch x := item.(type) {
		case string:
			if s := strings.TrimSpace(x); s != "" {
				out = append(out, s)
			}
		case nil:
		default:
			b, _ := json.Marshal(x)
			out = append(out, string(b))
		}
	}
	return out, true
}

func bullets(items []string) string {
	var sb strings.Builder
	for _, it := range items {
		sb.WriteString("- ")
		sb.WriteString(it)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
