package snapshot

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cascadeview/backend/internal/events"
	"github.com/cascadeview/backend/internal/logging"
	"github.com/cascadeview/backend/internal/monitoring"
	"github.com/cascadeview/backend/internal/session"
	"github.com/cascadeview/backend/internal/types"
)

// CaptureFunc produces one snapshot for a session. Injectable so tests
// can script captures.
type CaptureFunc func(ctx context.Context, s *session.Session) (*types.Snapshot, error)

// Pipeline polls every live session, fingerprints each capture, and
// emits a change notification only when content actually changed. A
// failing session is skipped, never fatal to the tick.
type Pipeline struct {
	registry *session.Registry
	capture  CaptureFunc
	hub      *events.Hub
	metrics  *monitoring.Metrics
	log      *logging.Logger

	// op is shared with the discovery engine: a poll tick defers to an
	// in-flight scan rather than racing its connection teardowns.
	op *sync.Mutex

	idleThreshold int
	// idleLimiter is the one global attention-alert cooldown shared by
	// all sessions.
	idleLimiter *rate.Limiter
}

// PipelineOptions wires a Pipeline.
type PipelineOptions struct {
	Registry      *session.Registry
	Capture       CaptureFunc
	Hub           *events.Hub
	Metrics       *monitoring.Metrics
	Logger        *logging.Logger
	OpLock        *sync.Mutex
	IdleThreshold int
	IdleCooldown  time.Duration
}

// NewPipeline creates a snapshot pipeline.
func NewPipeline(opts PipelineOptions) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.OpLock == nil {
		opts.OpLock = &sync.Mutex{}
	}
	if opts.IdleCooldown <= 0 {
		opts.IdleCooldown = 30 * time.Second
	}
	return &Pipeline{
		registry:      opts.Registry,
		capture:       opts.Capture,
		hub:           opts.Hub,
		metrics:       opts.Metrics,
		log:           opts.Logger,
		op:            opts.OpLock,
		idleThreshold: opts.IdleThreshold,
		idleLimiter:   rate.NewLimiter(rate.Every(opts.IdleCooldown), 1),
	}
}

// Run polls on the given interval until the context ends.
func (p *Pipeline) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick captures every live session once. Sessions with unhealthy
// connections are skipped.
func (p *Pipeline) Tick(ctx context.Context) {
	p.op.Lock()
	defer p.op.Unlock()

	for _, s := range p.registry.All() {
		if ctx.Err() != nil {
			return
		}
		p.poll(ctx, s)
	}
}

// Refresh captures one session immediately, bypassing the tick
// scheduler but honoring the same fingerprint/compare/notify contract.
func (p *Pipeline) Refresh(ctx context.Context, sessionID string) error {
	s, ok := p.registry.Get(sessionID)
	if !ok {
		return session.ErrNotFound
	}

	p.op.Lock()
	defer p.op.Unlock()
	p.poll(ctx, s)
	return nil
}

func (p *Pipeline) poll(ctx context.Context, s *session.Session) {
	if !s.Healthy() {
		return
	}

	if p.metrics != nil {
		p.metrics.CapturesTotal.Inc()
	}

	snap, err := p.capture(ctx, s)
	if err != nil {
		// Recovered locally: one unhealthy session never blocks the
		// polling of the others.
		if p.metrics != nil {
			p.metrics.CaptureFailures.Inc()
		}
		p.log.Debug("capture failed", zap.String("session", s.ID), zap.Error(err))
		return
	}

	if s.ApplySnapshot(snap) {
		if p.metrics != nil {
			p.metrics.SnapshotChanges.Inc()
		}
		if p.hub != nil {
			p.hub.Publish(events.Event{Type: events.TypeSnapshot, SessionID: s.ID})
		}
		return
	}

	p.maybeAlertIdle(s)
}

// maybeAlertIdle emits the one-shot idle notification for a session
// that has sat unchanged past the threshold, gated on at least one
// subscriber and the global cooldown.
func (p *Pipeline) maybeAlertIdle(s *session.Session) {
	if p.idleThreshold <= 0 || p.hub == nil || p.hub.Count() == 0 {
		return
	}
	if s.UnchangedPolls() < p.idleThreshold {
		return
	}
	if !s.MarkIdle() {
		return
	}
	if !p.idleLimiter.Allow() {
		// Suppressed by the cooldown, not delivered: re-arm so the alert
		// fires on a later tick instead of being lost until the next
		// content change.
		s.ResetIdle()
		return
	}
	if p.metrics != nil {
		p.metrics.IdleAlerts.Inc()
	}
	p.hub.Publish(events.Event{Type: events.TypeIdle, SessionID: s.ID})
}
