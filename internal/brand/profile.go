// Package brand loads the brand profile that prompt builders draw on.
package brand

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultProfile []byte

// Pillar is a content theme topics are balanced across.
type Pillar struct {
	Key         string `yaml:"key" json:"key"`
	Description string `yaml:"description" json:"description"`
}

// ImageStyle drives cover image prompts.
type ImageStyle struct {
	Product  string              `yaml:"product" json:"product"`
	Style    []string            `yaml:"style" json:"style"`
	Lighting []string            `yaml:"lighting" json:"lighting"`
	Surfaces []string            `yaml:"surfaces" json:"surfaces"`
	Scenes   map[string][]string `yaml:"scenes" json:"scenes"`
}

// Profile describes the voice, audience and visual identity posts are written for.
type Profile struct {
	Author          string     `yaml:"author" json:"author"`
	SiteURL         string     `yaml:"site_url" json:"site_url"`
	Context         string     `yaml:"context" json:"context"`
	DefaultPillar   string     `yaml:"default_pillar" json:"default_pillar"`
	Pillars         []Pillar   `yaml:"pillars" json:"pillars"`
	KeywordClusters []string   `yaml:"keyword_clusters" json:"keyword_clusters"`
	Image           ImageStyle `yaml:"image" json:"image"`
}

// Default returns the built-in profile.
func Default() *Profile {
	p, err := Parse(defaultProfile)
	if err != nil {
		panic(fmt.Sprintf("brand: embedded default profile is invalid: %v", err))
	}
	return p
}

// Parse decodes a complete YAML profile.
func Parse(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing brand profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Load reads a profile from path. Keys absent from the file fall back to
// the built-in profile.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading brand profile: %w", err)
	}
	p := Default()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parsing brand profile %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("brand profile %s: %w", path, err)
	}
	return p, nil
}

// Validate checks the fields prompt builders cannot do without.
func (p *Profile) Validate() error {
	if strings.TrimSpace(p.Author) == "" {
		return fmt.Errorf("brand profile: author is required")
	}
	if strings.TrimSpace(p.Context) == "" {
		return fmt.Errorf("brand profile: context is required")
	}
	return nil
}

// PillarKeys lists pillar keys in declaration order.
func (p *Profile) PillarKeys() []string {
	keys := make([]string, 0, len(p.Pillars))
	for _, pl := range p.Pillars {
		keys = append(keys, pl.Key)
	}
	return keys
}

// Pillar returns key when it names a known pillar, otherwise the default pillar.
func (p *Profile) Pillar(key string) string {
	key = strings.TrimSpace(key)
	for _, pl := range p.Pillars {
		if pl.Key == key {
			return key
		}
	}
	if p.DefaultPillar != "" {
		return p.DefaultPillar
	}
	return "lifestyle_intentionality"
}
