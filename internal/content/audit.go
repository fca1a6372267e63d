package content

import (
	"net/url"
	"strings"
)

// Check is one named pass/fail SEO test.
type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
}

// Audit is the result of running the local checklist over a post.
type Audit struct {
	Checks []Check `json:"checks"`
}

// Passed returns how many checks passed.
func (a Audit) Passed() int {
	n := 0
	for _, c := range a.Checks {
		if c.Passed {
			n++
		}
	}
	return n
}

// Failed lists the names of failing checks.
func (a Audit) Failed() []string {
	var out []string
	for _, c := range a.Checks {
		if !c.Passed {
			out = append(out, c.Name)
		}
	}
	return out
}

// Post is the subset of a post the audit looks at.
type Post struct {
	Title          string
	Excerpt        string
	Content        string
	FocusKeyphrase string
}

// RunAudit evaluates the thirteen structural checks the revision pass is
// asked to satisfy. siteURL identifies internal links.
func RunAudit(p Post, siteURL string) (Audit, error) {
	st, err := Inspect(p.Content)
	if err != nil {
		return Audit{}, err
	}
	kp := strings.ToLower(strings.TrimSpace(p.FocusKeyphrase))
	has := func(s string) bool { return kp != "" && strings.Contains(strings.ToLower(s), kp) }

	h2WithKP := false
	for _, h := range st.H2 {
		if has(h) {
			h2WithKP = true
			break
		}
	}

	density := 0.0
	if st.Words > 0 && kp != "" {
		density = float64(strings.Count(strings.ToLower(st.Text), kp)) * 100 / float64(st.Words)
	}

	internal, external := classifyLinks(st.Links, siteURL)
	titleLen, excerptLen := CharLen(p.Title), CharLen(p.Excerpt)

	return Audit{Checks: []Check{
		{"keyphrase_in_title", has(p.Title)},
		{"keyphrase_in_slug", kp != "" && strings.Contains(Slugify(p.Title), Slugify(kp))},
		{"keyphrase_in_excerpt", has(p.Excerpt)},
		{"keyphrase_in_first_paragraph", has(st.FirstParagraph)},
		{"keyphrase_in_h2", h2WithKP},
		{"keyphrase_density", density >= 0.5 && density <= 3},
		{"word_count", st.Words >= 300},
		{"has_subheading", len(st.H2) > 0},
		{"title_length", titleLen >= 50 && titleLen <= 60},
		{"excerpt_length", excerptLen >= 150 && excerptLen <= 160},
		{"internal_link", internal > 0},
		{"external_link", external > 0},
		{"image_alts", st.ImagesMissingAlt == 0},
	}}, nil
}

func classifyLinks(links []string, siteURL string) (internal, external int) {
	site := ""
	if u, err := url.Parse(siteURL); err == nil {
		site = strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	}
	for _, l := range links {
		u, err := url.Parse(l)
		if err != nil {
			continue
		}
		host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
		switch {
		case host == "" && !strings.HasPrefix(l, "#") && !strings.HasPrefix(strings.ToLower(l), "mailto:"):
			internal++
		case site != "" && host == site:
			internal++
		case host != "":
			external++
		}
	}
	return internal, external
}
