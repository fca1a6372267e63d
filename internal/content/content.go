// Package content normalizes post bodies and inspects their HTML.
package content

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/yuin/goldmark"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	htmlTagRe  = regexp.MustCompile(`<(p|h[1-6]|ul|ol|div|section|article|blockquote|img|a)\b[^>]*>`)
	spaceRe    = regexp.MustCompile(`\s+`)
	slugStripe = regexp.MustCompile(`[^a-z0-9]+`)
)

// Normalize returns body as HTML. Bodies that already carry block-level
// markup pass through trimmed; anything else is rendered as Markdown.
func Normalize(body string) (string, error) {
	body = strings.TrimSpace(body)
	if body == "" || htmlTagRe.MatchString(body) {
		return body, nil
	}
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(body), &buf); err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Stats describes the structure of an HTML body.
type Stats struct {
	Text             string
	Words            int
	FirstParagraph   string
	H2               []string
	H3Count          int
	Links            []string
	Images           int
	ImagesMissingAlt int
}

// Inspect parses an HTML fragment and collects the facts audits need.
func Inspect(body string) (Stats, error) {
	doc, err := parseFragment(body)
	if err != nil {
		return Stats{}, err
	}
	doc.Find("script, style, noscript").Remove()

	var st Stats
	st.Text = collapse(doc.Text())
	st.Words = len(strings.Fields(st.Text))
	st.FirstParagraph = collapse(doc.Find("p").First().Text())
	doc.Find("h2").Each(func(_ int, s *goquery.Selection) {
		st.H2 = append(st.H2, collapse(s.Text()))
	})
	st.H3Count = doc.Find("h3").Length()
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok && strings.TrimSpace(href) != "" {
			st.Links = append(st.Links, strings.TrimSpace(href))
		}
	})
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		st.Images++
		if alt, ok := s.Attr("alt"); !ok || strings.TrimSpace(alt) == "" {
			st.ImagesMissingAlt++
		}
	})
	return st, nil
}

// VisibleText returns the text a reader would see, whitespace collapsed.
func VisibleText(body string) (string, error) {
	st, err := Inspect(body)
	if err != nil {
		return "", err
	}
	return st.Text, nil
}

func parseFragment(body string) (*goquery.Document, error) {
	ctxNode := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(body), ctxNode)
	if err != nil {
		return nil, fmt.Errorf("parsing html: %w", err)
	}
	root := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	for _, n := range nodes {
		root.AppendChild(n)
	}
	return goquery.NewDocumentFromNode(root), nil
}

func collapse(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// Slugify derives a kebab-case URL slug from a title.
func Slugify(title string) string {
	s := slugStripe.ReplaceAllString(strings.ToLower(title), "-")
	return strings.Trim(s, "-")
}

// CharLen counts runes, which is what editors mean by characters.
func CharLen(s string) int {
	return utf8.RuneCountInString(strings.TrimSpace(s))
}
