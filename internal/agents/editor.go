package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/blogpilot/internal/brand"
	"github.com/kalambet/blogpilot/internal/content"
	"github.com/kalambet/blogpilot/internal/errs"
	"github.com/kalambet/blogpilot/internal/llm"
)

const editorTemperature = 0.3

// Editor audits a draft, fixes what fails, and scores the result.
type Editor struct {
	chat   Chatter
	model  string
	brand  *brand.Source
	logger *slog.Logger
}

// NewEditor creates an Editor using model for completions.
func NewEditor(chat Chatter, model string, b *brand.Source) *Editor {
	return &Editor{chat: chat, model: model, brand: b, logger: slog.Default()}
}

// Revise returns the improved post with the model's confidence and checklist
// scores.
func (e *Editor) Revise(ctx context.Context, d Draft) (Revision, error) {
	p := e.brand.Profile()
	raw, err := e.chat.ChatJSON(ctx, llm.ChatRequest{
		Model:       e.model,
		Temperature: ptr(editorTemperature),
		Messages: []llm.Message{
			{Role: "system", Content: editorSystemPrompt(p)},
			{Role: "user", Content: editorUserPrompt(d)},
		},
	})
	if err != nil {
		return Revision{}, err
	}
	rev, err := parseRevision(raw)
	if err != nil {
		return Revision{}, err
	}

	audit, err := content.RunAudit(content.Post{
		Title: rev.Title, Excerpt: rev.Excerpt, Content: rev.Content, FocusKeyphrase: d.FocusKeyphrase,
	}, p.SiteURL)
	if err == nil && abs(audit.Passed()-rev.SEOChecksPassed) > 3 {
		e.logger.Warn("editor checklist score disagrees with local audit",
			"reported", rev.SEOChecksPassed, "local", audit.Passed(), "failing", audit.Failed())
	}
	return rev, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func parseRevision(raw string) (Revision, error) {
	const agent = "revision"
	m, err := decodeObject(agent, raw)
	if err != nil {
		return Revision{}, err
	}

	var r Revision
	if r.Title, err = requiredString(agent, m, "title"); err != nil {
		return Revision{}, err
	}
	if r.Excerpt, err = requiredString(agent, m, "excerpt"); err != nil {
		return Revision{}, err
	}
	body, err := requiredString(agent, m, "content")
	if err != nil {
		return Revision{}, err
	}
	if r.Content, err = content.Normalize(body); err != nil {
		return Revision{}, errs.Wrap(errs.KindMalformedResponse, "revision content", err)
	}
	tags, ok := stringList(m["tags"])
	if !ok {
		return Revision{}, errs.New(errs.KindValidation, "%s: missing tags", agent)
	}
	r.Tags = tags
	if r.ConfidenceScore, err = requiredNumber(agent, m, "confidence_score"); err != nil {
		return Revision{}, err
	}
	if r.SEOChecksPassed, err = requiredNumber(agent, m, "seo_checks_passed"); err != nil {
		return Revision{}, err
	}
	notes, ok := m["revision_notes"].(string)
	if !ok {
		return Revision{}, errs.New(errs.KindValidation, "%s: missing revision_notes", agent)
	}
	r.RevisionNotes = strings.TrimSpace(notes)
	return r, nil
}

var checklist = []string{
	"Focus keyphrase in title",
	"Focus keyphrase in URL slug (derived from the title, kebab-case)",
	"Focus keyphrase in excerpt",
	"Focus keyphrase in the first <p>",
	"Focus keyphrase in at least one <h2>",
	"Keyphrase density 0.5-3% of total words",
	"Word count at least 300 (target 900+)",
	"At least one <h2> subheading",
	"Title is 50-60 characters",
	"Excerpt is 150-160 characters",
	"At least one internal link to the brand site",
	"At least one external link to a credible source",
	"Every <img> has a non-empty descriptive alt attribute",
}

// ChecklistSize is the number of SEO checks the Editor audits against, the
// upper bound for Revision.SEOChecksPassed.
func ChecklistSize() int {
	return len(checklist)
}

func editorSystemPrompt(p *brand.Profile) string {
	var checks strings.Builder
	for i, c := range checklist {
		fmt.Fprintf(&checks, "%d. %s\n", i+1, c)
	}
	n := len(checklist)
	return fmt.Sprintf(`You are a senior SEO editor. You audit blog post drafts for %s, fix every failing check, and return an improved version.

%s

AUDIT CHECKLIST (%d checks, 1 point each):
%s
Fix every failing check directly in the returned content. Preserve the brand voice.
Internal links point to %s.

CONFIDENCE SCORING:
Base the score on checks passed out of %d:
- all %d: 95-100
- %d-%d: 82-94
- %d-%d: 70-81
- fewer: 40-69
Adjust by up to 3 points for depth, clarity and brand fit.

Return ONLY a JSON object:
{"title": "...", "excerpt": "...", "content": "HTML", "tags": ["..."], "confidence_score": 0, "seo_checks_passed": 0, "revision_notes": "..."}`,
		p.Author, strings.TrimSpace(p.Context), n, checks.String(), p.SiteURL,
		n, n, n-2, n-1, n-4, n-3)
}

func editorUserPrompt(d Draft) string {
	return fmt.Sprintf(`Focus keyphrase: %s

DRAFT:
Title: %s
Excerpt: %s
Tags: %s

Content:
%s

Audit against every check, apply the fixes, and return the improved post with your confidence score and revision notes.`,
		d.FocusKeyphrase, d.Title, d.Excerpt, strings.Join(d.Tags, ", "), d.Content)
}
