package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cascadeview/backend/internal/types"
)

func TestScoreCountsKeywordHits(t *testing.T) {
	d := types.TargetDescriptor{
		Title: "Cascade — myproject",
		URL:   "vscode-webview://cascade-panel/index.html",
	}

	assert.Equal(t, 2, Score(d, []string{"cascade"}, []string{"cascade"}))
	assert.Equal(t, 0, Score(d, []string{"terminal"}, []string{"terminal"}))
	assert.Equal(t, 3, Score(d, []string{"cascade", "myproject"}, []string{"panel"}))
}

func TestScoreIsCaseInsensitive(t *testing.T) {
	d := types.TargetDescriptor{Title: "AGENT Chat"}
	assert.Equal(t, 2, Score(d, []string{"agent", "CHAT"}, nil))
}

func TestMatchesInclusionOnly(t *testing.T) {
	agent := types.TargetDescriptor{Title: "agent panel", URL: "app://agent"}
	other := types.TargetDescriptor{Title: "settings", URL: "app://settings"}

	kw := []string{"agent"}
	assert.Equal(t, 2, Score(agent, kw, kw))
	assert.Equal(t, 0, Score(other, kw, kw))
	assert.True(t, Matches(agent, kw, kw))
	assert.False(t, Matches(other, kw, kw))
}

func TestPreferenceRankBreaksTiesOnly(t *testing.T) {
	preferred := types.TargetDescriptor{Title: "cascade main"}
	plain := types.TargetDescriptor{Title: "agent chat"}

	assert.Greater(t, PreferenceRank(preferred, []string{"cascade"}), PreferenceRank(plain, []string{"cascade"}))
	// A zero preference rank never excludes a matching descriptor.
	assert.True(t, Matches(plain, []string{"agent"}, nil))
}

func TestProjectFromTitle(t *testing.T) {
	assert.Equal(t, "myproject", projectFromTitle("myproject — Windsurf"))
	assert.Equal(t, "api-server", projectFromTitle("api-server - Editor"))
	assert.Equal(t, "", projectFromTitle("untitled"))
}

func TestAttributeProjects(t *testing.T) {
	descs := []types.TargetDescriptor{
		{ID: "w1", Type: "page", Title: "alpha — Editor"},
		{ID: "f1", Type: "iframe", Title: "Cascade", ParentID: "w1"},
		{ID: "f2", Type: "iframe", Title: "Cascade", ParentID: "unknown"},
		{ID: "f3", Type: "iframe", Title: "Cascade"},
	}

	attributeProjects(descs)

	assert.Equal(t, "alpha", descs[0].Project)
	assert.Equal(t, "alpha", descs[1].Project) // inherited from parent
	assert.Equal(t, "alpha", descs[2].Project) // first label in batch
	assert.Equal(t, "alpha", descs[3].Project) // first label in batch
}
