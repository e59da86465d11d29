package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/cascadeview/backend/internal/cdp"
	"github.com/cascadeview/backend/internal/config"
	"github.com/cascadeview/backend/internal/logging"
)

// Command failures surface to the caller rather than retrying silently:
// retried user-intent actions could duplicate side effects.
var (
	ErrNotFound          = errors.New("session: not found")
	ErrNoEditor          = errors.New("session: no message editor found")
	ErrInjectionRejected = errors.New("session: text injection rejected")
	ErrNoControl         = errors.New("session: control not found")
	ErrNoMatch           = errors.New("session: no element matched label")
)

// SendResult reports how a send was delivered.
type SendResult struct {
	OK     bool   `json:"ok"`
	Method string `json:"method"`
}

// SelectResult reports which label a selection matched.
type SelectResult struct {
	OK           bool   `json:"ok"`
	MatchedLabel string `json:"matched_label"`
}

// ModeResult reports the mode label after a switch.
type ModeResult struct {
	OK           bool   `json:"ok"`
	NewModeLabel string `json:"new_mode_label"`
}

// Commander drives cascade surfaces through registry lookups. Selector
// heuristics come from configuration, not code.
type Commander struct {
	registry *Registry
	heur     config.Heuristics
	window   time.Duration
	log      *logging.Logger
}

// NewCommander creates a commander with the given dedup-send window.
func NewCommander(registry *Registry, heur config.Heuristics, window time.Duration, log *logging.Logger) *Commander {
	if log == nil {
		log = logging.NewNop()
	}
	if window <= 0 {
		window = 500 * time.Millisecond
	}
	return &Commander{registry: registry, heur: heur, window: window, log: log}
}

// probeResult is the uniform shape every command probe returns.
type probeResult struct {
	OK     bool   `json:"ok"`
	Method string `json:"method"`
	Reason string `json:"reason"`
	Label  string `json:"label"`
}

func decodeProbe(value json.RawMessage) (probeResult, bool) {
	var res probeResult
	if err := sonic.Unmarshal(value, &res); err != nil {
		return res, false
	}
	return res, true
}

// acceptProbe accepts a context that either succeeded or definitively
// located the control and was rejected; contexts that simply lack the
// UI keep the search going.
func acceptProbe(value json.RawMessage) bool {
	res, ok := decodeProbe(value)
	if !ok {
		return false
	}
	return res.OK || res.Reason == "rejected"
}

// SendText delivers text into the session's message editor. Direct DOM
// manipulation is tried first; when the target's content-security
// policy rejects it, delivery falls back to synthetic input events. An
// identical text sent again within the dedup window is treated as
// already-delivered and short-circuited without a remote call.
func (c *Commander) SendText(ctx context.Context, sessionID, text string) (SendResult, error) {
	s, ok := c.registry.Get(sessionID)
	if !ok {
		return SendResult{}, ErrNotFound
	}

	if s.dedupHit(text, c.window) {
		c.log.Debug("duplicate send suppressed", zap.String("session", sessionID))
		return SendResult{OK: true, Method: "duplicate"}, nil
	}

	script := buildSendScript(c.heur.InputSelectors, c.heur.SendSelectors, text)
	value, _, err := s.conn.EvaluateAcrossContexts(ctx, script, acceptProbe)
	if err != nil {
		if errors.Is(err, cdp.ErrNoContext) {
			return SendResult{}, ErrNoEditor
		}
		return SendResult{}, err
	}

	res, _ := decodeProbe(value)
	if res.OK {
		s.recordSend(text)
		return SendResult{OK: true, Method: "dom"}, nil
	}

	// CSP rejected the direct path: focus the editor, then deliver via
	// the synthetic input surface.
	focusScript := buildFocusScript(c.heur.InputSelectors)
	if _, _, err := s.conn.EvaluateAcrossContexts(ctx, focusScript, acceptOK); err != nil {
		return SendResult{}, ErrInjectionRejected
	}
	if err := s.conn.InsertText(ctx, text); err != nil {
		return SendResult{}, fmt.Errorf("%w: %v", ErrInjectionRejected, err)
	}
	if err := s.conn.PressEnter(ctx); err != nil {
		return SendResult{}, fmt.Errorf("%w: %v", ErrInjectionRejected, err)
	}
	s.recordSend(text)
	return SendResult{OK: true, Method: "input"}, nil
}

// NavigateBack clicks the surface's back affordance.
func (c *Commander) NavigateBack(ctx context.Context, sessionID string) error {
	s, ok := c.registry.Get(sessionID)
	if !ok {
		return ErrNotFound
	}

	script := buildClickScript(c.heur.BackSelectors)
	_, _, err := s.conn.EvaluateAcrossContexts(ctx, script, acceptOK)
	if err != nil {
		if errors.Is(err, cdp.ErrNoContext) {
			return ErrNoControl
		}
		return err
	}
	return nil
}

// SelectByLabel clicks the clickable element whose visible label best
// matches text: exact beats prefix beats substring, case-insensitive.
func (c *Commander) SelectByLabel(ctx context.Context, sessionID, label string) (SelectResult, error) {
	s, ok := c.registry.Get(sessionID)
	if !ok {
		return SelectResult{}, ErrNotFound
	}

	script := buildSelectScript(label)
	value, _, err := s.conn.EvaluateAcrossContexts(ctx, script, acceptOK)
	if err != nil {
		if errors.Is(err, cdp.ErrNoContext) {
			return SelectResult{}, ErrNoMatch
		}
		return SelectResult{}, err
	}

	res, _ := decodeProbe(value)
	return SelectResult{OK: true, MatchedLabel: res.Label}, nil
}

// SwitchMode clicks the mode toggle and reports the new mode label.
func (c *Commander) SwitchMode(ctx context.Context, sessionID string) (ModeResult, error) {
	s, ok := c.registry.Get(sessionID)
	if !ok {
		return ModeResult{}, ErrNotFound
	}

	script := buildModeScript(c.heur.ModeSelectors)
	value, _, err := s.conn.EvaluateAcrossContexts(ctx, script, acceptOK)
	if err != nil {
		if errors.Is(err, cdp.ErrNoContext) {
			return ModeResult{}, ErrNoControl
		}
		return ModeResult{}, err
	}

	res, _ := decodeProbe(value)
	return ModeResult{OK: true, NewModeLabel: res.Label}, nil
}

func acceptOK(value json.RawMessage) bool {
	res, ok := decodeProbe(value)
	return ok && res.OK
}

func jsArray(items []string) string {
	raw, err := sonic.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(raw)
}

func jsString(s string) string {
	raw, err := sonic.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(raw)
}

func buildSendScript(inputSelectors, sendSelectors []string, text string) string {
	return fmt.Sprintf(`(() => {
  const inputSels = %s;
  const sendSels = %s;
  const text = %s;
  let input = null;
  for (const sel of inputSels) {
    const el = document.querySelector(sel);
    if (el) { input = el; break; }
  }
  if (!input) return {ok: false, reason: 'no-editor'};
  try {
    if (input.tagName === 'TEXTAREA' || input.tagName === 'INPUT') {
      const proto = input.tagName === 'TEXTAREA' ? window.HTMLTextAreaElement.prototype : window.HTMLInputElement.prototype;
      Object.getOwnPropertyDescriptor(proto, 'value').set.call(input, text);
      input.dispatchEvent(new Event('input', {bubbles: true}));
    } else {
      input.focus();
      if (!document.execCommand('insertText', false, text)) throw new Error('rejected');
    }
  } catch (err) {
    return {ok: false, reason: 'rejected'};
  }
  for (const sel of sendSels) {
    const btn = document.querySelector(sel);
    if (btn) { btn.click(); return {ok: true, method: 'dom'}; }
  }
  input.dispatchEvent(new KeyboardEvent('keydown', {key: 'Enter', bubbles: true}));
  return {ok: true, method: 'dom'};
})()`, jsArray(inputSelectors), jsArray(sendSelectors), jsString(text))
}

func buildFocusScript(inputSelectors []string) string {
	return fmt.Sprintf(`(() => {
  const sels = %s;
  for (const sel of sels) {
    const el = document.querySelector(sel);
    if (el) { el.focus(); return {ok: true}; }
  }
  return {ok: false, reason: 'no-editor'};
})()`, jsArray(inputSelectors))
}

func buildClickScript(selectors []string) string {
	return fmt.Sprintf(`(() => {
  const sels = %s;
  for (const sel of sels) {
    const el = document.querySelector(sel);
    if (el) { el.click(); return {ok: true}; }
  }
  return {ok: false, reason: 'no-control'};
})()`, jsArray(selectors))
}

func buildSelectScript(label string) string {
	return fmt.Sprintf(`(() => {
  const wanted = %s.toLowerCase();
  const candidates = document.querySelectorAll("button, a, li, [role='option'], [role='menuitem']");
  let best = null;
  let bestScore = 0;
  for (const el of candidates) {
    const text = (el.textContent || '').trim();
    const lower = text.toLowerCase();
    let score = 0;
    if (lower === wanted) score = 3;
    else if (lower.startsWith(wanted)) score = 2;
    else if (lower.includes(wanted)) score = 1;
    if (score > bestScore) { best = el; bestScore = score; }
  }
  if (!best) return {ok: false, reason: 'no-match'};
  const matched = (best.textContent || '').trim();
  best.click();
  return {ok: true, label: matched};
})()`, jsString(label))
}

func buildModeScript(modeSelectors []string) string {
	return fmt.Sprintf(`(() => {
  const sels = %s;
  for (const sel of sels) {
    const el = document.querySelector(sel);
    if (el) {
      el.click();
      return {ok: true, label: (el.textContent || '').trim()};
    }
  }
  return {ok: false, reason: 'no-control'};
})()`, jsArray(modeSelectors))
}
