package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadeview/backend/internal/cdp"
	"github.com/cascadeview/backend/internal/config"
	"github.com/cascadeview/backend/internal/discovery"
	"github.com/cascadeview/backend/internal/events"
	"github.com/cascadeview/backend/internal/session"
	"github.com/cascadeview/backend/internal/snapshot"
	"github.com/cascadeview/backend/internal/types"
)

// routeConn fakes the transport for route-level tests.
type routeConn struct {
	mu          sync.Mutex
	healthy     bool
	acrossValue json.RawMessage
	acrossErr   error
}

func newRouteConn() *routeConn {
	return &routeConn{healthy: true}
}

func (c *routeConn) EnableEvents(ctx context.Context) error { return nil }

func (c *routeConn) Evaluate(ctx context.Context, expr string, opts cdp.EvalOptions) (json.RawMessage, error) {
	return json.RawMessage(`{"title":"Cascade","focus":true}`), nil
}

func (c *routeConn) EvaluateAcrossContexts(ctx context.Context, expr string, accept func(json.RawMessage) bool) (json.RawMessage, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.acrossErr != nil {
		return nil, 0, c.acrossErr
	}
	return c.acrossValue, 1, nil
}

func (c *routeConn) InsertText(ctx context.Context, text string) error { return nil }
func (c *routeConn) PressEnter(ctx context.Context) error              { return nil }
func (c *routeConn) Healthy() bool                                     { return c.healthy }
func (c *routeConn) Close() error                                      { c.healthy = false; return nil }

type fixture struct {
	server   *Server
	registry *session.Registry
	hub      *events.Hub
	conn     *routeConn
	captured string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		registry: session.NewRegistry(),
		hub:      events.NewHub(),
		conn:     newRouteConn(),
		captured: "<div><p>captured turn</p></div>",
	}

	s, err := session.New(context.Background(), "s1", f.conn, types.TargetDescriptor{Project: "demo"}, nil)
	require.NoError(t, err)
	f.registry.Replace(map[string]*session.Session{"s1": s})

	capture := func(ctx context.Context, sess *session.Session) (*types.Snapshot, error) {
		return &types.Snapshot{
			HTML:        f.captured,
			Styles:      map[string]string{"background": "rgb(30, 30, 30)"},
			Fingerprint: snapshot.Fingerprint(f.captured),
			CapturedAt:  time.Now(),
		}, nil
	}

	pipeline := snapshot.NewPipeline(snapshot.PipelineOptions{
		Registry: f.registry,
		Capture:  capture,
		Hub:      f.hub,
	})
	commander := session.NewCommander(f.registry, config.DefaultHeuristics(), 500*time.Millisecond, nil)
	engine := discovery.NewEngine(discovery.Options{
		Enumerator: staticEnum{},
		Heuristics: config.DefaultHeuristics(),
		Registry:   f.registry,
		Hub:        f.hub,
	})

	f.server = New(Options{
		Registry:  f.registry,
		Commander: commander,
		Pipeline:  pipeline,
		Engine:    engine,
		Hub:       f.hub,
	})
	return f
}

type staticEnum struct{}

func (staticEnum) Enumerate(ctx context.Context) []types.TargetDescriptor { return nil }

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"sessions":1`)
}

func TestListSessions(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/sessions", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"s1"`)
	assert.Contains(t, w.Body.String(), `"title":"Cascade"`)
	assert.Contains(t, w.Body.String(), `"project":"demo"`)
}

func TestSnapshotLifecycle(t *testing.T) {
	f := newFixture(t)

	// No capture yet.
	w := f.do(t, http.MethodGet, "/sessions/s1/snapshot", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	// On-demand refresh populates it.
	w = f.do(t, http.MethodPost, "/sessions/s1/refresh", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/sessions/s1/snapshot", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "captured turn")

	w = f.do(t, http.MethodGet, "/sessions/s1/styles", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "rgb(30, 30, 30)")
}

func TestSnapshotUnknownSession(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/sessions/nope/snapshot", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSendText(t *testing.T) {
	f := newFixture(t)
	f.conn.acrossValue = json.RawMessage(`{"ok":true,"method":"dom"}`)

	w := f.do(t, http.MethodPost, "/sessions/s1/send", `{"text":"hello"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"method":"dom"`)
}

func TestSendTextValidation(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/sessions/s1/send", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendTextNoEditorMapsTo422(t *testing.T) {
	f := newFixture(t)
	f.conn.acrossErr = cdp.ErrNoContext

	w := f.do(t, http.MethodPost, "/sessions/s1/send", `{"text":"hello"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestSendTextUnknownSessionMapsTo404(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/sessions/nope/send", `{"text":"hello"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSendTextTransportFailureMapsTo502(t *testing.T) {
	f := newFixture(t)
	f.conn.acrossErr = cdp.ErrTimeout

	w := f.do(t, http.MethodPost, "/sessions/s1/send", `{"text":"hello"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestSelectByLabel(t *testing.T) {
	f := newFixture(t)
	f.conn.acrossValue = json.RawMessage(`{"ok":true,"label":"Accept All"}`)

	w := f.do(t, http.MethodPost, "/sessions/s1/select", `{"label":"accept"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Accept All")
}

func TestCollapse(t *testing.T) {
	f := newFixture(t)
	f.captured = "<div><section>one</section><section>two</section></div>"

	// Before any snapshot there is no display tree to address.
	w := f.do(t, http.MethodPost, "/sessions/s1/collapse", `{"path":[0],"collapsed":true}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/sessions/s1/refresh", "").Code)

	w = f.do(t, http.MethodPost, "/sessions/s1/collapse", `{"path":[1],"collapsed":true}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/sessions/s1/snapshot", "")
	assert.Contains(t, w.Body.String(), "data-collapsed")
}

func TestScan(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/scan", "")
	require.Equal(t, http.StatusOK, w.Code)
	// The static enumerator found nothing, so the scan evicted s1.
	assert.Contains(t, w.Body.String(), `"sessions":[]`)
}

func TestStreamSendsInitialSessionList(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var ev events.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, events.TypeSessionList, ev.Type)
	require.Len(t, ev.Sessions, 1)
	assert.Equal(t, "s1", ev.Sessions[0].ID)

	// Hub events flow through the same socket.
	f.hub.Publish(events.Event{Type: events.TypeSnapshot, SessionID: "s1"})
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, events.TypeSnapshot, ev.Type)
	assert.Equal(t, "s1", ev.SessionID)
}
