package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Models []Descriptor `yaml:"models"`
}

// Load reads a catalog from a YAML file. The file fully replaces the
// built-in catalog; there is no merging.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}

	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}

	return New(f.Models)
}

// Default returns the built-in catalog used when no catalog file is
// configured. Direct prices are the providers' published list rates.
func Default() *Catalog {
	c, err := New([]Descriptor{
		{
			ID:                "gpt-4o",
			Provider:          "openai",
			InputPer1M:        2.25,
			OutputPer1M:       9.00,
			DirectInputPer1M:  2.50,
			DirectOutputPer1M: 10.00,
			ContextWindow:     128000,
			Quality:           0.90,
			LatencyTier:       TierStandard,
			Specialties:       []string{"sales", "executive"},
			Languages:         []string{"en", "es", "fr", "de", "it", "pt", "ja", "ko", "zh"},
		},
		{
			ID:                "gpt-4o-mini",
			Provider:          "openai",
			InputPer1M:        0.12,
			OutputPer1M:       0.48,
			DirectInputPer1M:  0.15,
			DirectOutputPer1M: 0.60,
			ContextWindow:     128000,
			Quality:           0.72,
			LatencyTier:       TierFast,
			Specialties:       []string{"realtime", "monitoring"},
			Languages:         []string{"en", "es", "fr", "de", "ja", "zh"},
		},
		{
			ID:                "claude-sonnet-4",
			Provider:          "claude",
			InputPer1M:        2.70,
			OutputPer1M:       13.50,
			DirectInputPer1M:  3.00,
			DirectOutputPer1M: 15.00,
			ContextWindow:     200000,
			Quality:           0.93,
			LatencyTier:       TierStandard,
			Specialties:       []string{"executive", "interview"},
			Languages:         []string{"en", "es", "fr", "de", "ja"},
		},
		{
			ID:                "claude-3-5-haiku",
			Provider:          "claude",
			InputPer1M:        0.64,
			OutputPer1M:       3.20,
			DirectInputPer1M:  0.80,
			DirectOutputPer1M: 4.00,
			ContextWindow:     200000,
			Quality:           0.78,
			LatencyTier:       TierFast,
			Specialties:       []string{"realtime", "interview"},
			Languages:         []string{"en", "es", "fr", "de", "ja"},
		},
		{
			ID:                "gemini-2.5-pro",
			Provider:          "gemini",
			InputPer1M:        1.10,
			OutputPer1M:       8.80,
			DirectInputPer1M:  1.25,
			DirectOutputPer1M: 10.00,
			ContextWindow:     1048576,
			Quality:           0.88,
			LatencyTier:       TierStandard,
			Specialties:       []string{"sales", "executive"},
			Languages:         []string{"en", "es", "fr", "de", "it", "pt", "ja", "ko", "zh", "hi", "ar"},
		},
		{
			ID:                "gemini-2.0-flash",
			Provider:          "gemini",
			InputPer1M:        0.08,
			OutputPer1M:       0.32,
			DirectInputPer1M:  0.10,
			DirectOutputPer1M: 0.40,
			ContextWindow:     1048576,
			Quality:           0.70,
			LatencyTier:       TierFast,
			Specialties:       []string{"realtime", "monitoring"},
			Languages:         []string{"en", "es", "fr", "de", "it", "pt", "ja", "ko", "zh", "hi", "ar"},
		},
	})
	if err != nil {
		panic(fmt.Sprintf("catalog: built-in catalog invalid: %v", err))
	}
	return c
}
