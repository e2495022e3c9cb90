package catalog

import (
	"fmt"
	"strings"
)

// Latency tiers, roughly: fast < 2s typical first-token, standard < 10s.
const (
	TierFast     = "fast"
	TierStandard = "standard"
	TierSlow     = "slow"
)

// Descriptor holds the routing metadata for one model. Prices are USD
// per million tokens. Direct prices are the provider's list rates and
// serve as the reference when computing cost efficiency; the plain
// rates are what we actually pay through our channel.
type Descriptor struct {
	ID                string   `yaml:"id"`
	Provider          string   `yaml:"provider"`
	InputPer1M        float64  `yaml:"input_per_1m"`
	OutputPer1M       float64  `yaml:"output_per_1m"`
	DirectInputPer1M  float64  `yaml:"direct_input_per_1m,omitempty"`
	DirectOutputPer1M float64  `yaml:"direct_output_per_1m,omitempty"`
	ContextWindow     int      `yaml:"context_window"`
	Quality           float64  `yaml:"quality"`
	LatencyTier       string   `yaml:"latency_tier,omitempty"`
	Specialties       []string `yaml:"specialties,omitempty"`
	Languages         []string `yaml:"languages,omitempty"`
}

// CostFor prices a request at our channel rates.
func (d Descriptor) CostFor(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)*d.InputPer1M/1e6 + float64(completionTokens)*d.OutputPer1M/1e6
}

// DirectCostFor prices the same usage at the provider's list rates.
func (d Descriptor) DirectCostFor(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)*d.DirectInputPer1M/1e6 + float64(completionTokens)*d.DirectOutputPer1M/1e6
}

func (d Descriptor) HasSpecialty(tag string) bool {
	for _, s := range d.Specialties {
		if strings.EqualFold(s, tag) {
			return true
		}
	}
	return false
}

// SpeaksLanguage reports whether the model covers the given language
// code. Models with no language list are treated as English-only.
func (d Descriptor) SpeaksLanguage(lang string) bool {
	if lang == "" {
		return true
	}
	if len(d.Languages) == 0 {
		return strings.EqualFold(lang, "en")
	}
	for _, l := range d.Languages {
		if strings.EqualFold(l, lang) {
			return true
		}
	}
	return false
}

// Catalog is the immutable set of models known to the orchestrator.
type Catalog struct {
	models []Descriptor
	byID   map[string]Descriptor
}

func New(models []Descriptor) (*Catalog, error) {
	if len(models) == 0 {
		return nil, fmt.Errorf("catalog: at least one model is required")
	}
	c := &Catalog{byID: make(map[string]Descriptor, len(models))}
	for i, d := range models {
		if err := validate(d); err != nil {
			return nil, fmt.Errorf("catalog: model %d (%s): %w", i, d.ID, err)
		}
		if _, dup := c.byID[d.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate model id %q", d.ID)
		}
		c.models = append(c.models, d)
		c.byID[d.ID] = d
	}
	return c, nil
}

func validate(d Descriptor) error {
	switch {
	case d.ID == "":
		return fmt.Errorf("id is required")
	case d.Provider == "":
		return fmt.Errorf("provider is required")
	case d.InputPer1M < 0 || d.OutputPer1M < 0:
		return fmt.Errorf("prices must be non-negative")
	case d.DirectInputPer1M < 0 || d.DirectOutputPer1M < 0:
		return fmt.Errorf("direct prices must be non-negative")
	case d.ContextWindow <= 0:
		return fmt.Errorf("context_window must be positive")
	case d.Quality < 0 || d.Quality > 1:
		return fmt.Errorf("quality must be in [0,1]")
	}
	switch d.LatencyTier {
	case "", TierFast, TierStandard, TierSlow:
	default:
		return fmt.Errorf("unknown latency_tier %q", d.LatencyTier)
	}
	return nil
}

func (c *Catalog) Get(id string) (Descriptor, bool) {
	d, ok := c.byID[id]
	return d, ok
}

// All returns the models in declaration order. The slice is a copy.
func (c *Catalog) All() []Descriptor {
	out := make([]Descriptor, len(c.models))
	copy(out, c.models)
	return out
}

func (c *Catalog) ByProvider(name string) []Descriptor {
	var out []Descriptor
	for _, d := range c.models {
		if d.Provider == name {
			out = append(out, d)
		}
	}
	return out
}

func (c *Catalog) Len() int {
	return len(c.models)
}
