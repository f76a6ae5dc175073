package detect

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LexiconConfig is the YAML-loaded label-mapping table, discovery stop-list
// and domain lexicon — loaded from a file rather than hardcoded Go maps, the
// way link270-shrinkray's preset tables and jordigilh-kubernaut's policy
// config load YAML, so operators can retune without a rebuild.
type LexiconConfig struct {
	LabelMap     map[string]string `yaml:"label_map"`
	StopPhrases  []string          `yaml:"stop_phrases"`
	DomainLexicon []string         `yaml:"domain_lexicon"`
}

// DefaultLexicon matches the examples given in the detector fusion spec
// (person -> military personnel, airplane -> aircraft, truck -> armored
// vehicle) plus a small generic stop-list, used when no config file is
// supplied.
func DefaultLexicon() LexiconConfig {
	return LexiconConfig{
		LabelMap: map[string]string{
			"person":   "military personnel",
			"airplane": "aircraft",
			"truck":    "armored vehicle",
		},
		StopPhrases: []string{"large", "many", "over", "some", "several", "various"},
		DomainLexicon: []string{
			"aircraft", "helicopter", "tank", "soldier", "military personnel",
			"armored vehicle", "weapon", "uniform", "artillery", "missile",
			"jet", "fighter jet", "drone", "convoy",
		},
	}
}

// LoadLexicon reads a LexiconConfig from a YAML file at path. A missing
// path is not an error: the caller falls back to DefaultLexicon.
func LoadLexicon(path string) (LexiconConfig, error) {
	if path == "" {
		return DefaultLexicon(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return LexiconConfig{}, fmt.Errorf("detect: read lexicon %s: %w", path, err)
	}
	var cfg LexiconConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return LexiconConfig{}, fmt.Errorf("detect: parse lexicon %s: %w", path, err)
	}
	return cfg, nil
}

// mapLabel applies the label-mapping table; labels not present pass through
// unchanged.
func (c LexiconConfig) mapLabel(label string) string {
	if mapped, ok := c.LabelMap[label]; ok {
		return mapped
	}
	return label
}

// isStopPhrase reports whether phrase is a generic phrase to discard.
func (c LexiconConfig) isStopPhrase(phrase string) bool {
	for _, stop := range c.StopPhrases {
		if phrase == stop {
			return true
		}
	}
	return false
}

// inLexicon reports whether phrase intersects the domain lexicon (token- or
// phrase-level containment, case-insensitive).
func (c LexiconConfig) inLexicon(phrase string) bool {
	for _, term := range c.DomainLexicon {
		if strings.Contains(phrase, term) || strings.Contains(term, phrase) {
			return true
		}
	}
	return false
}
