package discovery

import (
	"strings"

	"github.com/cascadeview/backend/internal/types"
)

// Score counts case-insensitive keyword hits against a descriptor's
// title and url. Zero means the descriptor is not a cascade surface.
func Score(d types.TargetDescriptor, titleKeywords, urlKeywords []string) int {
	title := strings.ToLower(d.Title)
	url := strings.ToLower(d.URL)

	score := 0
	for _, kw := range titleKeywords {
		if kw != "" && strings.Contains(title, strings.ToLower(kw)) {
			score++
		}
	}
	for _, kw := range urlKeywords {
		if kw != "" && strings.Contains(url, strings.ToLower(kw)) {
			score++
		}
	}
	return score
}

// Matches reports inclusion: any positive score admits the descriptor.
func Matches(d types.TargetDescriptor, titleKeywords, urlKeywords []string) bool {
	return Score(d, titleKeywords, urlKeywords) > 0
}

// PreferenceRank scores a descriptor against the preferred keyword set.
// It breaks ties in display order only; it never decides inclusion.
func PreferenceRank(d types.TargetDescriptor, preferred []string) int {
	return Score(d, preferred, preferred)
}
