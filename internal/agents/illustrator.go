package agents

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"regexp"
	"sort"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/kalambet/blogpilot/internal/brand"
	"github.com/kalambet/blogpilot/internal/errs"
	"github.com/kalambet/blogpilot/internal/llm"
)

const (
	imageSize    = "1792x1024"
	jpegQuality  = 85
	sceneProduct = "product_hero"
)

type mood string

const (
	moodMindfulness  mood = "mindfulness"
	moodProductivity mood = "productivity"
	moodPhilosophy   mood = "philosophy"
	moodNature       mood = "nature"
	moodSkincare     mood = "skincare"
	moodGeneral      mood = "general"
)

// Checked in order; the first match wins.
var moodPatterns = []struct {
	mood mood
	re   *regexp.Regexp
}{
	{moodMindfulness, regexp.MustCompile(`meditat|mindful|breath|pause|slow|present|ritual|calm|still|quiet`)},
	{moodProductivity, regexp.MustCompile(`productiv|focus|work|creat|routine|habit|morning|intention|discipline`)},
	{moodPhilosophy, regexp.MustCompile(`human|philosoph|\bai\b|technolog|meaning|purpose|exist|authentic|real`)},
	{moodNature, regexp.MustCompile(`nature|season|forest|beeswax|honey|botanical|ingredient|plant|organic`)},
	{moodSkincare, regexp.MustCompile(`lip|skin|balanc|moistur|dry|chap|care|balm|beauty|wellness|hydrat`)},
}

var moodScenes = map[mood][]string{
	moodMindfulness:  {"lifestyle_moment", "abstract_mood", "natural_texture"},
	moodProductivity: {"lifestyle_moment", "product_hero"},
	moodPhilosophy:   {"abstract_mood", "lifestyle_moment"},
	moodNature:       {"natural_texture", "product_hero"},
	moodSkincare:     {"product_hero", "natural_texture"},
	moodGeneral:      {"product_hero", "natural_texture", "lifestyle_moment", "abstract_mood"},
}

// Illustrator generates a cover image, fits it to the blog's cover size, and
// uploads it.
type Illustrator struct {
	images   ImageAPI
	uploader Uploader
	model    string
	brand    *brand.Source
	width    int
	height   int
	intn     func(n int) int
}

// NewIllustrator creates an Illustrator producing width x height JPEG covers.
func NewIllustrator(images ImageAPI, uploader Uploader, model string, b *brand.Source, width, height int) *Illustrator {
	return &Illustrator{
		images:   images,
		uploader: uploader,
		model:    model,
		brand:    b,
		width:    width,
		height:   height,
		intn:     rand.IntN,
	}
}

// Generate returns the public URL of a new cover image for the post.
func (il *Illustrator) Generate(ctx context.Context, title, excerpt string) (string, error) {
	prompt := il.prompt(title, excerpt)
	raw, err := il.images.GenerateImage(ctx, llm.ImageRequest{
		Model:   il.model,
		Prompt:  prompt,
		N:       1,
		Size:    imageSize,
		Quality: "standard",
	})
	if err != nil {
		return "", err
	}

	cover, err := il.fit(raw)
	if err != nil {
		return "", err
	}
	return il.uploader.UploadImage(ctx, cover, "image/jpeg")
}

// fit crops and scales the generated image to the cover size and re-encodes
// it as JPEG.
func (il *Illustrator) fit(raw []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, errs.Wrap(errs.KindMalformedResponse, "decoding generated image", err)
	}
	if il.width > 0 && il.height > 0 {
		img = imaging.Fill(img, il.width, il.height, imaging.Center, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("encoding cover: %w", err)
	}
	return buf.Bytes(), nil
}

func (il *Illustrator) prompt(title, excerpt string) string {
	style := il.brand.Profile().Image
	m := detectMood(title, excerpt)
	sceneKey := il.pickScene(m, style.Scenes)
	includeProduct := style.Product != "" && (sceneKey == sceneProduct || il.intn(2) == 0)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Cover image for a blog post: %q\n\n", title)
	if scene := il.pick(style.Scenes[sceneKey]); scene != "" {
		fmt.Fprintf(&sb, "SCENE: %s\n", scene)
	}
	if surface := il.pick(style.Surfaces); surface != "" {
		fmt.Fprintf(&sb, "SURFACE: %s\n", surface)
	}
	if lighting := il.pick(style.Lighting); lighting != "" {
		fmt.Fprintf(&sb, "LIGHTING: %s\n", lighting)
	}
	if includeProduct {
		fmt.Fprintf(&sb, "\nPRODUCT (must appear in frame):\n%s\n", strings.TrimSpace(style.Product))
	}
	if len(style.Style) > 0 {
		fmt.Fprintf(&sb, "\nVISUAL STYLE:\n%s", bullets(style.Style))
	}
	return strings.TrimSpace(sb.String())
}

func detectMood(title, excerpt string) mood {
	text := strings.ToLower(title + " " + excerpt)
	for _, mp := range moodPatterns {
		if mp.re.MatchString(text) {
			return mp.mood
		}
	}
	return moodGeneral
}

// pickScene chooses a scene family for the mood, limited to families the
// profile defines.
func (il *Illustrator) pickScene(m mood, scenes map[string][]string) string {
	var options []string
	for _, key := range moodScenes[m] {
		if len(scenes[key]) > 0 {
			options = append(options, key)
		}
	}
	if len(options) == 0 {
		for key, list := range scenes {
			if len(list) > 0 {
				options = append(options, key)
			}
		}
		sort.Strings(options)
	}
	if len(options) == 0 {
		return ""
	}
	return options[il.intn(len(options))]
}

func (il *Illustrator) pick(items []string) string {
	if len(items) == 0 {
		return ""
	}
	return items[il.intn(len(items))]
}
