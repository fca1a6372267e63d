package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/blogpilot/internal/brand"
	"github.com/kalambet/blogpilot/internal/content"
	"github.com/kalambet/blogpilot/internal/errs"
	"github.com/kalambet/blogpilot/internal/llm"
)

const writerTemperature = 0.7

// Writer produces first drafts.
type Writer struct {
	chat  Chatter
	model string
	brand *brand.Source
}

// NewWriter creates a Writer using model for completions.
func NewWriter(chat Chatter, model string, b *brand.Source) *Writer {
	return &Writer{chat: chat, model: model, brand: b}
}

// Generate writes a draft for topic. existingTitles are passed to the model
// as titles to avoid repeating.
func (w *Writer) Generate(ctx context.Context, topic, focusKeyphrase string, existingTitles []string) (Draft, error) {
	p := w.brand.Profile()
	raw, err := w.chat.ChatJSON(ctx, llm.ChatRequest{
		Model:       w.model,
		Temperature: ptr(writerTemperature),
		Messages: []llm.Message{
			{Role: "system", Content: writerSystemPrompt(p)},
			{Role: "user", Content: writerUserPrompt(topic, focusKeyphrase, existingTitles)},
		},
	})
	if err != nil {
		return Draft{}, err
	}
	return parseDraft(raw)
}

func parseDraft(raw string) (Draft, error) {
	const agent = "draft"
	m, err := decodeObject(agent, raw)
	if err != nil {
		return Draft{}, err
	}

	var d Draft
	if d.Title, err = requiredString(agent, m, "title"); err != nil {
		return Draft{}, err
	}
	if d.Excerpt, err = requiredString(agent, m, "excerpt"); err != nil {
		return Draft{}, err
	}
	body, err := requiredString(agent, m, "content")
	if err != nil {
		return Draft{}, err
	}
	if d.Content, err = content.Normalize(body); err != nil {
		return Draft{}, errs.Wrap(errs.KindMalformedResponse, "draft content", err)
	}
	tags, ok := stringList(m["tags"])
	if !ok || len(tags) == 0 {
		return Draft{}, errs.New(errs.KindValidation, "%s: missing or empty tags", agent)
	}
	d.Tags = tags
	if d.FocusKeyphrase, err = requiredString(agent, m, "focus_keyphrase"); err != nil {
		return Draft{}, err
	}
	return d, nil
}

func writerSystemPrompt(p *brand.Profile) string {
	return fmt.Sprintf(`You are an expert SEO content writer for %s.

%s

CONTENT REQUIREMENTS:
- Title: 50-60 characters, contains the focus keyphrase
- Excerpt (meta description): 150-160 characters, contains the focus keyphrase
- Content: full HTML body, 900-1200 words
- Use <h2> for section headings and <h3> for subsections
- Put the focus keyphrase in the title, the first <p>, at least one <h2>, and 3-5 times overall
- Include at least one internal link to %s and one external link to a credible source
- Every <img> has a descriptive alt attribute
- End with a call to action linking to %s
- Tags: 2-4 relevant lowercase tags

Return ONLY a JSON object:
{"title": "...", "excerpt": "...", "content": "HTML", "tags": ["..."], "focus_keyphrase": "..."}`,
		p.Author, strings.TrimSpace(p.Context), p.SiteURL, p.SiteURL)
}

func writerUserPrompt(topic, focusKeyphrase string, existingTitles []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Topic: %s\nFocus keyphrase: %s\nTarget word count: 900-1200 words", topic, focusKeyphrase)
	if len(existingTitles) > 0 {
		fmt.Fprintf(&sb, "\n\nExisting post titles to avoid duplicating:\n%s", bullets(existingTitles))
	}
	sb.WriteString("\n\nWrite the full blog post now.")
	return sb.String()
}
