package discovery

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cascadeview/backend/internal/cdp"
	"github.com/cascadeview/backend/internal/config"
	"github.com/cascadeview/backend/internal/events"
	"github.com/cascadeview/backend/internal/logging"
	"github.com/cascadeview/backend/internal/monitoring"
	"github.com/cascadeview/backend/internal/session"
	"github.com/cascadeview/backend/internal/types"
)

// Connector opens a transport connection to one target. Injectable so
// tests can hand out fakes.
type Connector func(ctx context.Context, desc types.TargetDescriptor) (session.Conn, error)

// Engine periodically enumerates candidate endpoints, matches them
// against the configured heuristics, and reconciles the result into the
// session registry: reuse-if-alive, replace-if-stale, evict-if-gone.
type Engine struct {
	enum     Enumerator
	heur     config.Heuristics
	registry *session.Registry
	hub      *events.Hub
	metrics  *monitoring.Metrics
	log      *logging.Logger
	connect  Connector

	// op serializes scan cycles against snapshot poll ticks: whichever
	// starts first completes before the other begins its body.
	op *sync.Mutex

	mu        sync.Mutex
	inflight  *scanHandle
	lastInfos []types.SessionInfo
}

// scanHandle is the single in-flight-operation handle: overlapping scan
// requests attach to it instead of starting a second cycle.
type scanHandle struct {
	done chan struct{}
	err  error
}

// Options wires an Engine.
type Options struct {
	Enumerator Enumerator
	Heuristics config.Heuristics
	Registry   *session.Registry
	Hub        *events.Hub
	Metrics    *monitoring.Metrics
	Logger     *logging.Logger
	OpLock     *sync.Mutex
	// Connector defaults to dialing the real debugging transport.
	Connector   Connector
	CallTimeout time.Duration
}

// NewEngine creates a discovery engine.
func NewEngine(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.OpLock == nil {
		opts.OpLock = &sync.Mutex{}
	}
	e := &Engine{
		enum:     opts.Enumerator,
		heur:     opts.Heuristics,
		registry: opts.Registry,
		hub:      opts.Hub,
		metrics:  opts.Metrics,
		log:      opts.Logger,
		connect:  opts.Connector,
		op:       opts.OpLock,
	}
	if e.connect == nil {
		timeout := opts.CallTimeout
		e.connect = func(ctx context.Context, desc types.TargetDescriptor) (session.Conn, error) {
			return cdp.Dial(ctx, desc.WebSocketDebuggerURL, cdp.Options{
				CallTimeout: timeout,
				Logger:      opts.Logger,
			})
		}
	}
	return e
}

// Run scans on the given interval until the context ends. One scan is
// performed immediately.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	e.Scan(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Scan(ctx)
		}
	}
}

// Scan runs one discovery cycle. A scan already in flight is the
// canonical result for any overlapping request: callers await it rather
// than starting a second one.
func (e *Engine) Scan(ctx context.Context) error {
	e.mu.Lock()
	if h := e.inflight; h != nil {
		e.mu.Unlock()
		select {
		case <-h.done:
			return h.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h := &scanHandle{done: make(chan struct{})}
	e.inflight = h
	e.mu.Unlock()

	e.op.Lock()
	h.err = e.runScan(ctx)
	e.op.Unlock()

	e.mu.Lock()
	e.inflight = nil
	e.mu.Unlock()
	close(h.done)
	return h.err
}

func (e *Engine) runScan(ctx context.Context) error {
	descs := e.enum.Enumerate(ctx)
	if err := ctx.Err(); err != nil {
		return err
	}
	attributeProjects(descs)

	matched := filter(descs, e.heur.TitleKeywords, e.heur.URLKeywords)
	if len(matched) == 0 && e.heur.FallbackKeyword != "" {
		relaxed := []string{e.heur.FallbackKeyword}
		matched = filter(descs, relaxed, relaxed)
	}

	cur := e.registry.All()
	next := make(map[string]*session.Session, len(matched))
	var nextMu sync.Mutex
	var wg sync.WaitGroup

	seen := make(map[string]bool, len(matched))
	for _, desc := range matched {
		if desc.WebSocketDebuggerURL == "" {
			continue
		}
		id := session.StableID(desc.WebSocketDebuggerURL)
		if seen[id] {
			continue
		}
		seen[id] = true

		wg.Add(1)
		go func(id string, desc types.TargetDescriptor) {
			defer wg.Done()
			s := e.resolve(ctx, id, cur[id], desc)
			if s == nil {
				return
			}
			s.SetRank(PreferenceRank(desc, e.heur.PreferredKeywords))
			nextMu.Lock()
			next[id] = s
			nextMu.Unlock()
		}(id, desc)
	}
	wg.Wait()

	// A canceled cycle proves nothing about the targets: enumeration and
	// probes fail under a dead context, not because sessions went away.
	// Keep the registry as-is instead of evicting everything.
	if err := ctx.Err(); err != nil {
		return err
	}

	evicted := e.registry.Replace(next)
	for _, s := range evicted {
		e.log.Info("session evicted", zap.String("session", s.ID))
		s.Teardown()
	}

	if e.metrics != nil {
		e.metrics.ScansTotal.Inc()
		e.metrics.SessionsActive.Set(float64(len(next)))
	}

	infos := e.registry.Infos()
	if e.publishIfChanged(infos) {
		e.log.Debug("session list changed", zap.Int("sessions", len(infos)))
	}
	return nil
}

// resolve reconciles one target against the previous registry. A live
// session whose connection still answers is reused with refreshed
// metadata; a stale one is torn down and replaced; everything else gets
// a fresh connection, discarded again if metadata extraction fails.
func (e *Engine) resolve(ctx context.Context, id string, existing *session.Session, desc types.TargetDescriptor) *session.Session {
	if existing != nil {
		if !existing.Healthy() {
			existing.Teardown()
		} else {
			if err := existing.RefreshMetadata(ctx, desc); err == nil {
				return existing
			}
			// A refresh that failed only because the context died says
			// nothing about the connection; the aborted cycle keeps the
			// session.
			if ctx.Err() != nil {
				return nil
			}
			e.log.Info("stale connection replaced", zap.String("session", id))
			existing.Teardown()
		}
	}

	conn, err := e.connect(ctx, desc)
	if err != nil {
		e.log.Debug("target connection failed", zap.String("session", id), zap.Error(err))
		return nil
	}

	s, err := session.New(ctx, id, conn, desc, e.log)
	if err != nil {
		e.log.Debug("target metadata failed", zap.String("session", id), zap.Error(err))
		conn.Close()
		return nil
	}
	return s
}

func (e *Engine) publishIfChanged(infos []types.SessionInfo) bool {
	e.mu.Lock()
	changed := !infosEqual(e.lastInfos, infos)
	if changed {
		e.lastInfos = infos
	}
	e.mu.Unlock()

	if changed && e.hub != nil {
		e.hub.Publish(events.Event{Type: events.TypeSessionList, Sessions: infos})
	}
	return changed
}

func infosEqual(a, b []types.SessionInfo) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func filter(descs []types.TargetDescriptor, titleKeywords, urlKeywords []string) []types.TargetDescriptor {
	var out []types.TargetDescriptor
	for _, d := range descs {
		if Matches(d, titleKeywords, urlKeywords) {
			out = append(out, d)
		}
	}
	return out
}

// attributeProjects assigns each sub-target a human-readable project
// label: inherited from its hosting window when resolvable, else the
// first label seen in the batch, else blank.
func attributeProjects(descs []types.TargetDescriptor) {
	labels := make(map[string]string)
	first := ""
	for i := range descs {
		if descs[i].Type != "page" {
			continue
		}
		if label := projectFromTitle(descs[i].Title); label != "" {
			labels[descs[i].ID] = label
			if first == "" {
				first = label
			}
			descs[i].Project = label
		}
	}
	for i := range descs {
		if descs[i].Project != "" {
			continue
		}
		if descs[i].ParentID != "" {
			if label, ok := labels[descs[i].ParentID]; ok {
				descs[i].Project = label
				continue
			}
		}
		descs[i].Project = first
	}
}

// projectFromTitle extracts the project segment of a window title that
// follows the "<project> — <application>" convention.
func projectFromTitle(title string) string {
	for _, sep := range []string{" — ", " - "} {
		if idx := strings.Index(title, sep); idx > 0 {
			return strings.TrimSpace(title[:idx])
		}
	}
	return ""
}
