package session

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"golang.org/x/net/html"

	"github.com/cascadeview/backend/internal/cdp"
	"github.com/cascadeview/backend/internal/logging"
	"github.com/cascadeview/backend/internal/patch"
	"github.com/cascadeview/backend/internal/types"
)

// Conn is the transport surface a session needs. Satisfied by
// *cdp.Client; tests substitute fakes.
type Conn interface {
	EnableEvents(ctx context.Context) error
	Evaluate(ctx context.Context, expr string, opts cdp.EvalOptions) (json.RawMessage, error)
	EvaluateAcrossContexts(ctx context.Context, expr string, accept func(json.RawMessage) bool) (json.RawMessage, int, error)
	InsertText(ctx context.Context, text string) error
	PressEnter(ctx context.Context) error
	Healthy() bool
	Close() error
}

// Session is one tracked cascade: a remote agent conversation surface
// with a stable identity across rediscovery. It owns exactly one live
// connection; rediscovering the same target reuses the session and only
// refreshes metadata.
type Session struct {
	ID   string
	conn Conn
	log  *logging.Logger

	mu           sync.Mutex
	title        string
	project      string
	active       bool
	rank         int
	snapshot     *types.Snapshot
	display      *html.Node
	unchanged    int
	idleNotified bool
	lastSendText string
	lastSendAt   time.Time

	teardownOnce sync.Once
}

// StableID derives the session identifier from the target's debug
// transport address, so rediscovering the same target yields the same
// identifier.
func StableID(wsURL string) string {
	h := fnv.New64a()
	h.Write([]byte(wsURL))
	return fmt.Sprintf("%016x", h.Sum64())
}

// New wires a session around a freshly opened connection, enabling
// runtime notifications and fetching initial metadata. On metadata
// failure the connection is left for the caller to discard.
func New(ctx context.Context, id string, conn Conn, desc types.TargetDescriptor, log *logging.Logger) (*Session, error) {
	if log == nil {
		log = logging.NewNop()
	}
	s := &Session{
		ID:      id,
		conn:    conn,
		log:     log,
		title:   desc.Title,
		project: desc.Project,
	}
	if err := conn.EnableEvents(ctx); err != nil {
		return nil, fmt.Errorf("failed to enable events: %w", err)
	}
	if err := s.RefreshMetadata(ctx, desc); err != nil {
		return nil, err
	}
	return s, nil
}

const metadataProbe = `(() => ({title: document.title, focus: document.hasFocus()}))()`

// RefreshMetadata performs one round trip over the existing connection
// and updates last-known display metadata. Doubles as the health probe
// during reconciliation: a failure means the connection is stale.
func (s *Session) RefreshMetadata(ctx context.Context, desc types.TargetDescriptor) error {
	value, err := s.conn.Evaluate(ctx, metadataProbe, cdp.EvalOptions{ReturnByValue: true})
	if err != nil {
		return fmt.Errorf("metadata refresh failed: %w", err)
	}

	var meta struct {
		Title string `json:"title"`
		Focus bool   `json:"focus"`
	}
	if err := sonic.Unmarshal(value, &meta); err != nil {
		return fmt.Errorf("metadata refresh failed: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if meta.Title != "" {
		s.title = meta.Title
	} else if desc.Title != "" {
		s.title = desc.Title
	}
	if desc.Project != "" {
		s.project = desc.Project
	}
	s.active = meta.Focus
	return nil
}

// Healthy reports whether the owned connection is usable.
func (s *Session) Healthy() bool {
	return s.conn.Healthy()
}

// Conn exposes the owned connection to the capture pipeline.
func (s *Session) Conn() Conn {
	return s.conn
}

// Info returns the outward-facing summary.
func (s *Session) Info() types.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.SessionInfo{
		ID:      s.ID,
		Title:   s.title,
		Project: s.project,
		Active:  s.active,
	}
}

// SetRank records the display-order preference computed at discovery
// time. Rank only breaks ties in listing order, never inclusion.
func (s *Session) SetRank(rank int) {
	s.mu.Lock()
	s.rank = rank
	s.mu.Unlock()
}

// Rank returns the display-order preference.
func (s *Session) Rank() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rank
}

// Snapshot returns the most recent capture, nil before the first one.
func (s *Session) Snapshot() *types.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// ApplySnapshot stores a capture if its fingerprint differs from the
// previous one and merges it into the display tree. Returns whether
// anything changed; an unchanged capture only advances idle bookkeeping.
func (s *Session) ApplySnapshot(snap *types.Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snapshot != nil && s.snapshot.Fingerprint == snap.Fingerprint {
		s.unchanged++
		return false
	}

	s.snapshot = snap
	s.unchanged = 0
	s.idleNotified = false

	tree, err := patch.Parse(snap.HTML)
	if err != nil {
		s.log.Debug("snapshot parse failed, keeping previous display tree")
		return true
	}
	if s.display == nil {
		s.display = tree
	} else {
		patch.Apply(s.display, tree)
	}
	return true
}

// UnchangedPolls returns how many consecutive polls saw no change.
func (s *Session) UnchangedPolls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unchanged
}

// MarkIdle flips the one-shot idle flag. Returns false when the alert
// has already fired since the last change.
func (s *Session) MarkIdle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idleNotified {
		return false
	}
	s.idleNotified = true
	return true
}

// ResetIdle re-arms the idle alert without a content change. Used when
// a marked alert could not actually be delivered.
func (s *Session) ResetIdle() {
	s.mu.Lock()
	s.idleNotified = false
	s.mu.Unlock()
}

// DisplayHTML renders the incrementally patched display tree. Empty
// before the first snapshot.
func (s *Session) DisplayHTML() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.display == nil {
		return ""
	}
	return patch.Render(s.display)
}

// SetCollapsed flips the locally-owned collapse attribute on the display
// node addressed by path. The attribute survives subsequent merges.
func (s *Session) SetCollapsed(path []int, collapsed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.display == nil {
		return fmt.Errorf("no display tree yet")
	}
	val := "false"
	if collapsed {
		val = "true"
	}
	return patch.SetAttrAt(s.display, path, "data-collapsed", val)
}

// dedupHit reports whether text repeats the previous send within the
// window. A hit is treated as already-delivered.
func (s *Session) dedupHit(text string, window time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return text == s.lastSendText && time.Since(s.lastSendAt) < window
}

func (s *Session) recordSend(text string) {
	s.mu.Lock()
	s.lastSendText = text
	s.lastSendAt = time.Now()
	s.mu.Unlock()
}

// Teardown closes the connection and purges transient per-session
// state. Safe to call more than once and from concurrent paths; the
// connection is closed exactly once.
func (s *Session) Teardown() {
	s.teardownOnce.Do(func() {
		s.conn.Close()
		s.mu.Lock()
		s.snapshot = nil
		s.display = nil
		s.lastSendText = ""
		s.lastSendAt = time.Time{}
		s.mu.Unlock()
	})
}
