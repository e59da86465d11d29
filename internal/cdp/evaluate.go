package cdp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
)

// EvalOptions tunes one Runtime.evaluate call.
type EvalOptions struct {
	// ContextID scopes evaluation to one execution context. Zero means
	// the connection's default context.
	ContextID     int
	AwaitPromise  bool
	ReturnByValue bool
}

type evaluateParams struct {
	Expression    string `json:"expression"`
	ContextID     int    `json:"contextId,omitempty"`
	AwaitPromise  bool   `json:"awaitPromise,omitempty"`
	ReturnByValue bool   `json:"returnByValue,omitempty"`
}

type evaluateReply struct {
	Result struct {
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
	} `json:"result"`
	ExceptionDetails *struct {
		Text      string `json:"text"`
		Exception *struct {
			Description string `json:"description"`
		} `json:"exception"`
	} `json:"exceptionDetails"`
}

// EnableEvents turns on runtime notifications for this connection so
// context-created and context-destroyed events start flowing.
func (c *Client) EnableEvents(ctx context.Context) error {
	_, err := c.Call(ctx, "Runtime.enable", nil)
	return err
}

// Evaluate runs a script in the target and returns its by-value result.
// A thrown exception surfaces as ErrRemoteError.
func (c *Client) Evaluate(ctx context.Context, expr string, opts EvalOptions) (json.RawMessage, error) {
	raw, err := c.Call(ctx, "Runtime.evaluate", evaluateParams{
		Expression:    expr,
		ContextID:     opts.ContextID,
		AwaitPromise:  opts.AwaitPromise,
		ReturnByValue: opts.ReturnByValue,
	})
	if err != nil {
		return nil, err
	}

	var reply evaluateReply
	if err := sonic.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("%w: decode evaluate reply: %v", ErrRemoteError, err)
	}
	if reply.ExceptionDetails != nil {
		detail := reply.ExceptionDetails.Text
		if reply.ExceptionDetails.Exception != nil {
			detail = reply.ExceptionDetails.Exception.Description
		}
		return nil, fmt.Errorf("%w: %s", ErrRemoteError, detail)
	}
	return reply.Result.Value, nil
}

// EvaluateAcrossContexts tries the sticky context first, then each known
// context in discovery order, then an unscoped evaluation against the
// default context. The first value accepted by the predicate wins and
// its context becomes sticky. The warm path keeps latency low; the
// unscoped fallback works even before any context event has arrived.
func (c *Client) EvaluateAcrossContexts(ctx context.Context, expr string, accept func(json.RawMessage) bool) (json.RawMessage, int, error) {
	for _, id := range c.contexts.Candidates() {
		value, err := c.Evaluate(ctx, expr, EvalOptions{
			ContextID:     id,
			AwaitPromise:  true,
			ReturnByValue: true,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, 0, err
			}
			continue
		}
		if accept == nil || accept(value) {
			c.contexts.setSticky(id)
			return value, id, nil
		}
	}
	return nil, 0, ErrNoContext
}

// InsertText injects text through the synthetic input path, used when
// direct DOM manipulation is rejected by the target's CSP.
func (c *Client) InsertText(ctx context.Context, text string) error {
	_, err := c.Call(ctx, "Input.insertText", map[string]string{"text": text})
	return err
}

type keyEventParams struct {
	Type                  string `json:"type"`
	Key                   string `json:"key,omitempty"`
	Code                  string `json:"code,omitempty"`
	Text                  string `json:"text,omitempty"`
	WindowsVirtualKeyCode int    `json:"windowsVirtualKeyCode,omitempty"`
}

// PressEnter dispatches a full synthetic Enter key sequence.
func (c *Client) PressEnter(ctx context.Context) error {
	events := []keyEventParams{
		{Type: "rawKeyDown", Key: "Enter", Code: "Enter", WindowsVirtualKeyCode: 13},
		{Type: "char", Key: "Enter", Code: "Enter", Text: "\r", WindowsVirtualKeyCode: 13},
		{Type: "keyUp", Key: "Enter", Code: "Enter", WindowsVirtualKeyCode: 13},
	}
	for _, ev := range events {
		if _, err := c.Call(ctx, "Input.dispatchKeyEvent", ev); err != nil {
			return err
		}
	}
	return nil
}
