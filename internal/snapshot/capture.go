package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/bytedance/sonic"
	"github.com/microcosm-cc/bluemonday"

	"github.com/cascadeview/backend/internal/config"
	"github.com/cascadeview/backend/internal/session"
	"github.com/cascadeview/backend/internal/types"
)

// Capturer extracts one normalized snapshot of a session's rendered
// conversation over its existing connection.
type Capturer struct {
	heur      config.Heuristics
	sanitizer *bluemonday.Policy
}

// NewCapturer builds a capturer around the configured container
// selectors.
func NewCapturer(heur config.Heuristics) *Capturer {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class").Globally()
	p.AllowDataAttributes()

	return &Capturer{heur: heur, sanitizer: p}
}

type captureReply struct {
	HTML   string            `json:"html"`
	Styles map[string]string `json:"styles"`
}

// Capture evaluates the capture expression across the session's
// contexts, then normalizes, sanitizes, and fingerprints the result.
func (c *Capturer) Capture(ctx context.Context, s *session.Session) (*types.Snapshot, error) {
	script := buildCaptureScript(c.heur.ContainerSelectors)

	value, _, err := s.Conn().EvaluateAcrossContexts(ctx, script, acceptCapture)
	if err != nil {
		return nil, fmt.Errorf("capture failed: %w", err)
	}

	var reply captureReply
	if err := sonic.Unmarshal(value, &reply); err != nil {
		return nil, fmt.Errorf("capture failed: malformed reply: %w", err)
	}

	normalized, err := c.normalize(reply.HTML)
	if err != nil {
		return nil, fmt.Errorf("capture failed: %w", err)
	}

	return &types.Snapshot{
		HTML:        normalized,
		Styles:      reply.Styles,
		Fingerprint: Fingerprint(normalized),
		CapturedAt:  time.Now(),
	}, nil
}

func acceptCapture(value json.RawMessage) bool {
	var reply captureReply
	if err := sonic.Unmarshal(value, &reply); err != nil {
		return false
	}
	return reply.HTML != ""
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// normalize strips non-content elements and volatile attributes, then
// sanitizes and collapses whitespace so equivalent renders fingerprint
// identically.
func (c *Capturer) normalize(rawHTML string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return "", fmt.Errorf("parse failed: %w", err)
	}

	doc.Find("script, style, noscript, iframe, svg").Remove()
	doc.Find("[aria-live]").RemoveAttr("aria-live")

	body := doc.Find("body")
	inner, err := body.Html()
	if err != nil {
		return "", fmt.Errorf("serialize failed: %w", err)
	}

	cleaned := c.sanitizer.Sanitize(inner)
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(cleaned, " ")), nil
}

// buildCaptureScript ranks the configured container candidates: a
// candidate earns its position bonus plus its rendered child count, so
// the fullest matching container wins.
func buildCaptureScript(containerSelectors []string) string {
	raw, err := sonic.Marshal(containerSelectors)
	if err != nil {
		raw = []byte("[]")
	}
	return fmt.Sprintf(`(() => {
  const sels = %s;
  let best = null;
  let bestScore = -1;
  for (let i = 0; i < sels.length; i++) {
    let el = null;
    try { el = document.querySelector(sels[i]); } catch (err) { continue; }
    if (!el) continue;
    const score = el.children.length * 10 + (sels.length - i);
    if (score > bestScore) { best = el; bestScore = score; }
  }
  if (!best) return {html: '', styles: {}};
  const cs = getComputedStyle(document.body);
  return {
    html: best.outerHTML,
    styles: {
      background: cs.backgroundColor,
      foreground: cs.color,
      font: cs.fontFamily,
      fontSize: cs.fontSize
    }
  };
})()`, string(raw))
}
