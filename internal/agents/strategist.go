package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/blogpilot/internal/brand"
	"github.com/kalambet/blogpilot/internal/errs"
	"github.com/kalambet/blogpilot/internal/llm"
)

const strategistTemperature = 0.85

// Strategist proposes new topics for the queue.
type Strategist struct {
	chat  Chatter
	model string
	brand *brand.Source
}

// NewStrategist creates a Strategist using model for completions.
func NewStrategist(chat Chatter, model string, b *brand.Source) *Strategist {
	return &Strategist{chat: chat, model: model, brand: b}
}

// Suggest asks for count topics that do not overlap existingTopics.
func (s *Strategist) Suggest(ctx context.Context, count int, existingTopics []string) ([]TopicSuggestion, error) {
	p := s.brand.Profile()
	raw, err := s.chat.ChatJSON(ctx, llm.ChatRequest{
		Model:       s.model,
		Temperature: ptr(strategistTemperature),
		Messages: []llm.Message{
			{Role: "system", Content: strategistSystemPrompt(p)},
			{Role: "user", Content: strategistUserPrompt(p, count, existingTopics)},
		},
	})
	if err != nil {
		return nil, err
	}
	return parseSuggestions(raw, p)
}

func parseSuggestions(raw string, p *brand.Profile) ([]TopicSuggestion, error) {
	const agent = "topic suggestion"
	m, err := decodeObject(agent, raw)
	if err != nil {
		return nil, err
	}
	items, ok := m["topics"].([]any)
	if !ok {
		return nil, errs.New(errs.KindValidation, "%s: response missing topics array", agent)
	}

	out := make([]TopicSuggestion, 0, len(items))
	for i, item := range items {
		t, ok := item.(map[string]any)
		if !ok {
			return nil, errs.New(errs.KindValidation, "%s: item %d is not an object", agent, i)
		}
		topic, err := requiredString(agent, t, "topic")
		if err != nil {
			return nil, errs.New(errs.KindValidation, "%s: item %d missing topic", agent, i)
		}
		kp, err := requiredString(agent, t, "focus_keyphrase")
		if err != nil {
			return nil, errs.New(errs.KindValidation, "%s: item %d missing focus_keyphrase", agent, i)
		}
		keywords, _ := stringList(t["keywords"])
		if keywords == nil {
			keywords = []string{}
		}
		pillar, _ := t["content_pillar"].(string)
		out = append(out, TopicSuggestion{
			Topic:          topic,
			FocusKeyphrase: kp,
			Keywords:       keywords,
			ContentPillar:  p.Pillar(pillar),
		})
	}
	return out, nil
}

func strategistSystemPrompt(p *brand.Profile) string {
	var pillars strings.Builder
	for i, pl := range p.Pillars {
		fmt.Fprintf(&pillars, "%d. %s: %s\n", i+1, pl.Key, pl.Description)
	}
	return fmt.Sprintf(`You are an SEO strategist for %s.

%s

CONTENT PILLARS (balance suggestions across all of them):
%s
HIGH-VALUE KEYWORD CLUSTERS TO TARGET:
%s

Generate SEO-optimised blog topic and focus keyphrase pairs. Each topic targets a real search query with clear intent, fits the brand's tone, offers genuine value, and does not overlap existing topics.

Return ONLY a JSON object:
{"topics": [{"topic": "...", "focus_keyphrase": "2-4 words", "keywords": ["..."], "content_pillar": "one of: %s"}]}`,
		p.Author, strings.TrimSpace(p.Context), pillars.String(), bullets(p.KeywordClusters),
		strings.Join(p.PillarKeys(), " | "))
}

func strategistUserPrompt(p *brand.Profile, count int, existing []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Generate %d unique, SEO-optimised blog topic ideas for %s.\n\n", count, p.Author)
	sb.WriteString("Spread topics across the content pillars and mix broad awareness topics with long-tail ones.")
	if len(existing) > 0 {
		fmt.Fprintf(&sb, "\n\nTopics already in use. Do not duplicate or closely overlap:\n%s", bullets(existing))
	}
	return sb.String()
}
