package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cascadeview/backend/internal/logging"
)

const defaultCallTimeout = 10 * time.Second

// Options configures a Client.
type Options struct {
	// CallTimeout bounds each call when the caller's context carries
	// no deadline of its own.
	CallTimeout time.Duration
	Logger      *logging.Logger
}

// Client owns one persistent websocket connection to a remote debugging
// target. Outgoing calls are correlated with responses by a locally
// unique id; unsolicited notifications on the same stream feed the
// execution context registry.
type Client struct {
	conn    *websocket.Conn
	log     *logging.Logger
	timeout time.Duration

	nextID atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan *envelope

	writeMu sync.Mutex

	contexts *ContextRegistry

	closeOnce sync.Once
	done      chan struct{}
}

// envelope is the wire shape of every inbound and outbound frame.
// Responses carry an id, notifications carry a method.
type envelope struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RemoteErr      `json:"error,omitempty"`
}

// RemoteErr is the error object of a rejected call.
type RemoteErr struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Dial opens a connection to a remote debugging websocket URL. Hosts
// that do not resolve to loopback are refused outright.
func Dial(ctx context.Context, wsURL string, opts Options) (*Client, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionRefused, err)
	}
	if !isLoopbackHost(u.Hostname()) {
		return nil, fmt.Errorf("%w: %s", ErrNotLoopback, u.Hostname())
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: dial %s", ErrTimeout, wsURL)
		}
		return nil, fmt.Errorf("%w: %v", ErrConnectionRefused, err)
	}

	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}

	c := &Client{
		conn:     conn,
		log:      opts.Logger,
		timeout:  opts.CallTimeout,
		pending:  make(map[int64]chan *envelope),
		contexts: newContextRegistry(),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// isLoopbackHost accepts "localhost" and literal loopback IPs only.
// Hostnames are not resolved: an unrecognized name is refused.
func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Call issues one method call and waits for its correlated response.
// A call that outlives its window fails with ErrTimeout and is removed
// from the outstanding table so the late response resolves nothing.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	select {
	case <-c.done:
		return nil, ErrClosed
	default:
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	id := c.nextID.Add(1)
	frame := envelope{ID: id, Method: method}
	if params != nil {
		raw, err := sonic.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("%w: encode params: %v", ErrRemoteError, err)
		}
		frame.Params = raw
	}

	payload, err := sonic.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("%w: encode frame: %v", ErrRemoteError, err)
	}

	ch := make(chan *envelope, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err = c.conn.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("%w: write: %v", ErrClosed, err)
	}

	select {
	case resp := <-ch:
		if resp == nil {
			return nil, ErrClosed
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("%w: %s (%d)", ErrRemoteError, resp.Error.Message, resp.Error.Code)
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.forget(id)
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, method)
		}
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClosed
	}
}

// forget drops a pending call so a late response is ignored.
func (c *Client) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// readLoop is the single inbound dispatcher: responses resolve pending
// calls by id, notifications update the context registry by method.
func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.Close()
			return
		}

		var env envelope
		if err := sonic.Unmarshal(data, &env); err != nil {
			c.log.Debug("discarding malformed frame", zap.Error(err))
			continue
		}

		if env.ID != 0 {
			c.mu.Lock()
			ch, ok := c.pending[env.ID]
			if ok {
				delete(c.pending, env.ID)
			}
			c.mu.Unlock()
			if ok {
				ch <- &env
			}
			continue
		}

		if env.Method != "" {
			c.handleEvent(env.Method, env.Params)
		}
	}
}

func (c *Client) handleEvent(method string, params json.RawMessage) {
	switch method {
	case "Runtime.executionContextCreated":
		var ev struct {
			Context struct {
				ID int `json:"id"`
			} `json:"context"`
		}
		if sonic.Unmarshal(params, &ev) == nil && ev.Context.ID != 0 {
			c.contexts.add(ev.Context.ID)
		}
	case "Runtime.executionContextDestroyed":
		var ev struct {
			ExecutionContextID int `json:"executionContextId"`
		}
		if sonic.Unmarshal(params, &ev) == nil {
			c.contexts.remove(ev.ExecutionContextID)
		}
	case "Runtime.executionContextsCleared":
		c.contexts.clear()
	}
}

// Healthy reports whether the connection is still open.
func (c *Client) Healthy() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Contexts exposes the execution context registry for this connection.
func (c *Client) Contexts() *ContextRegistry {
	return c.contexts
}

// Close tears down the connection, failing every outstanding call with
// ErrClosed. Closing an already-closed client is a no-op.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()

		c.mu.Lock()
		for id, ch := range c.pending {
			delete(c.pending, id)
			ch <- nil
		}
		c.mu.Unlock()
	})
	return nil
}
