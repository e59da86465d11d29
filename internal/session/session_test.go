package session

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadeview/backend/internal/cdp"
	"github.com/cascadeview/backend/internal/types"
)

// scriptConn is a scripted Conn fake. Evaluate serves the metadata
// probe; EvaluateAcrossContexts pops pre-loaded steps in order.
type scriptConn struct {
	mu      sync.Mutex
	healthy bool
	closes  int

	evalResult json.RawMessage
	evalErr    error

	acrossSteps []acrossStep
	acrossCalls int
	inserted    []string
	enters      int
	insertErr   error
}

type acrossStep struct {
	value json.RawMessage
	err   error
}

func newScriptConn() *scriptConn {
	return &scriptConn{
		healthy:    true,
		evalResult: json.RawMessage(`{"title":"Cascade","focus":true}`),
	}
}

func (c *scriptConn) EnableEvents(ctx context.Context) error { return nil }

func (c *scriptConn) Evaluate(ctx context.Context, expr string, opts cdp.EvalOptions) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.evalErr != nil {
		return nil, c.evalErr
	}
	return c.evalResult, nil
}

func (c *scriptConn) EvaluateAcrossContexts(ctx context.Context, expr string, accept func(json.RawMessage) bool) (json.RawMessage, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acrossCalls++
	if len(c.acrossSteps) == 0 {
		return nil, 0, cdp.ErrNoContext
	}
	step := c.acrossSteps[0]
	c.acrossSteps = c.acrossSteps[1:]
	return step.value, 1, step.err
}

func (c *scriptConn) InsertText(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.insertErr != nil {
		return c.insertErr
	}
	c.inserted = append(c.inserted, text)
	return nil
}

func (c *scriptConn) PressEnter(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enters++
	return nil
}

func (c *scriptConn) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthy
}

func (c *scriptConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	c.healthy = false
	return nil
}

func (c *scriptConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func newTestSession(t *testing.T, conn Conn) *Session {
	t.Helper()
	s, err := New(context.Background(), "s1", conn, types.TargetDescriptor{Title: "fallback", Project: "demo"}, nil)
	require.NoError(t, err)
	return s
}

func snap(htmlFragment string) *types.Snapshot {
	h := fnv.New64a()
	h.Write([]byte(htmlFragment))
	return &types.Snapshot{
		HTML:        htmlFragment,
		Fingerprint: h.Sum64(),
	}
}

func TestStableID(t *testing.T) {
	a := StableID("ws://127.0.0.1:9222/devtools/page/A")
	b := StableID("ws://127.0.0.1:9222/devtools/page/B")

	assert.Len(t, a, 16)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, StableID("ws://127.0.0.1:9222/devtools/page/A"))
}

func TestNewRefreshesMetadata(t *testing.T) {
	s := newTestSession(t, newScriptConn())

	info := s.Info()
	assert.Equal(t, "Cascade", info.Title)
	assert.Equal(t, "demo", info.Project)
	assert.True(t, info.Active)
}

func TestRefreshMetadataKeepsDescriptorTitleWhenProbeBlank(t *testing.T) {
	conn := newScriptConn()
	conn.evalResult = json.RawMessage(`{"title":"","focus":false}`)
	s := newTestSession(t, conn)

	assert.Equal(t, "fallback", s.Info().Title)
	assert.False(t, s.Info().Active)
}

func TestNewFailsWhenMetadataProbeFails(t *testing.T) {
	conn := newScriptConn()
	conn.evalErr = cdp.ErrClosed

	_, err := New(context.Background(), "s1", conn, types.TargetDescriptor{}, nil)
	assert.Error(t, err)
}

func TestApplySnapshotChangeDetection(t *testing.T) {
	s := newTestSession(t, newScriptConn())

	first := snap(`<div><p>hello</p></div>`)
	assert.True(t, s.ApplySnapshot(first))
	assert.Equal(t, 0, s.UnchangedPolls())

	// Same fingerprint: no change, idle counter advances.
	assert.False(t, s.ApplySnapshot(snap(`<div><p>hello</p></div>`)))
	assert.False(t, s.ApplySnapshot(snap(`<div><p>hello</p></div>`)))
	assert.Equal(t, 2, s.UnchangedPolls())

	// New content resets the counter.
	assert.True(t, s.ApplySnapshot(snap(`<div><p>hello there</p></div>`)))
	assert.Equal(t, 0, s.UnchangedPolls())
}

func TestMarkIdleOneShot(t *testing.T) {
	s := newTestSession(t, newScriptConn())
	s.ApplySnapshot(snap(`<div><p>quiet</p></div>`))

	assert.True(t, s.MarkIdle())
	assert.False(t, s.MarkIdle())

	// A change re-arms the alert.
	s.ApplySnapshot(snap(`<div><p>active again</p></div>`))
	assert.True(t, s.MarkIdle())
}

func TestCollapsedSurvivesSnapshotMerge(t *testing.T) {
	s := newTestSession(t, newScriptConn())

	require.True(t, s.ApplySnapshot(snap(`<div><section>turn one</section><section>turn two</section></div>`)))
	require.NoError(t, s.SetCollapsed([]int{1}, true))
	require.Contains(t, s.DisplayHTML(), `data-collapsed="true"`)

	// The next capture does not carry the attribute; the merge keeps it.
	require.True(t, s.ApplySnapshot(snap(`<div><section>turn one</section><section>turn two, updated</section></div>`)))

	out := s.DisplayHTML()
	assert.Contains(t, out, `data-collapsed="true"`)
	assert.Contains(t, out, "turn two, updated")
}

func TestTeardownClosesExactlyOnce(t *testing.T) {
	conn := newScriptConn()
	s := newTestSession(t, conn)
	s.ApplySnapshot(snap(`<div><p>x</p></div>`))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Teardown()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, conn.closeCount())
	assert.Nil(t, s.Snapshot())
	assert.Empty(t, s.DisplayHTML())
}

func TestRegistryReplaceReturnsEvicted(t *testing.T) {
	r := NewRegistry()
	a := newTestSession(t, newScriptConn())
	a.ID = "a"
	b := newTestSession(t, newScriptConn())
	b.ID = "b"

	require.Empty(t, r.Replace(map[string]*Session{"a": a, "b": b}))
	assert.Equal(t, 2, r.Len())

	evicted := r.Replace(map[string]*Session{"a": a})
	require.Len(t, evicted, 1)
	assert.Same(t, b, evicted[0])

	got, ok := r.Get("a")
	assert.True(t, ok)
	assert.Same(t, a, got)
}

func TestRegistryInfosOrderedByRank(t *testing.T) {
	r := NewRegistry()
	low := newTestSession(t, newScriptConn())
	low.ID = "zz"
	low.SetRank(0)
	high := newTestSession(t, newScriptConn())
	high.ID = "aa"
	high.SetRank(2)
	tied := newTestSession(t, newScriptConn())
	tied.ID = "mm"
	tied.SetRank(0)

	r.Replace(map[string]*Session{"zz": low, "aa": high, "mm": tied})

	infos := r.Infos()
	require.Len(t, infos, 3)
	assert.Equal(t, "aa", infos[0].ID)
	// Rank ties fall back to identifier order.
	assert.Equal(t, "mm", infos[1].ID)
	assert.Equal(t, "zz", infos[2].ID)
}
