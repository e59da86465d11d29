package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// Heuristics holds the keyword sets and DOM selector lists used to
// recognize cascade surfaces and locate controls inside them. These are
// configuration data, not code: an operator can override any of them
// with a YAML file to track UI changes in the host application.
type Heuristics struct {
	TitleKeywords     []string `yaml:"title_keywords"`
	URLKeywords       []string `yaml:"url_keywords"`
	PreferredKeywords []string `yaml:"preferred_keywords"`
	FallbackKeyword   string   `yaml:"fallback_keyword"`

	ContainerSelectors []string `yaml:"container_selectors"`
	InputSelectors     []string `yaml:"input_selectors"`
	SendSelectors      []string `yaml:"send_selectors"`
	BackSelectors      []string `yaml:"back_selectors"`
	ModeSelectors      []string `yaml:"mode_selectors"`
}

// DefaultHeuristics returns the built-in heuristics tuned for the
// cascade chat surface.
func DefaultHeuristics() Heuristics {
	return Heuristics{
		TitleKeywords:     []string{"cascade", "agent", "chat"},
		URLKeywords:       []string{"cascade", "panel"},
		PreferredKeywords: []string{"cascade"},
		FallbackKeyword:   "chat",
		ContainerSelectors: []string{
			"[data-testid='conversation']",
			"[class*='conversation']",
			"[class*='chat-messages']",
			"main",
		},
		InputSelectors: []string{
			"textarea[placeholder]",
			"[contenteditable='true']",
			"textarea",
		},
		SendSelectors: []string{
			"button[type='submit']",
			"button[aria-label*='end']",
			"[class*='send']",
		},
		BackSelectors: []string{
			"button[aria-label*='ack']",
			"[class*='back-button']",
		},
		ModeSelectors: []string{
			"[class*='mode-toggle']",
			"button[aria-label*='ode']",
		},
	}
}

// LoadHeuristics reads heuristics from a YAML file, filling any section
// left empty with the built-in defaults. An empty path returns the
// defaults unchanged.
func LoadHeuristics(path string) (Heuristics, error) {
	h := DefaultHeuristics()
	if path == "" {
		return h, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return h, fmt.Errorf("failed to read heuristics file: %w", err)
	}

	var override Heuristics
	if err := yaml.Unmarshal(data, &override); err != nil {
		return h, fmt.Errorf("failed to parse heuristics file: %w", err)
	}

	merge(&h.TitleKeywords, override.TitleKeywords)
	merge(&h.URLKeywords, override.URLKeywords)
	merge(&h.PreferredKeywords, override.PreferredKeywords)
	if override.FallbackKeyword != "" {
		h.FallbackKeyword = override.FallbackKeyword
	}
	merge(&h.ContainerSelectors, override.ContainerSelectors)
	merge(&h.InputSelectors, override.InputSelectors)
	merge(&h.SendSelectors, override.SendSelectors)
	merge(&h.BackSelectors, override.BackSelectors)
	merge(&h.ModeSelectors, override.ModeSelectors)

	return h, nil
}

func merge(dst *[]string, src []string) {
	if len(src) > 0 {
		*dst = src
	}
}
