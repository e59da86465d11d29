package types

import "time"

// TargetDescriptor mirrors one entry of a DevTools /json/list response.
// Descriptors are ephemeral: a fresh set is fetched on every discovery scan.
type TargetDescriptor struct {
	ID                   string `json:"id"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	Type                 string `json:"type"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	ParentID             string `json:"parentId,omitempty"`

	// Filled in during discovery, not part of the wire format.
	Port    int    `json:"-"`
	Project string `json:"-"`
}

// SessionInfo is the outward-facing summary of one tracked cascade.
type SessionInfo struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Project string `json:"project"`
	Active  bool   `json:"active"`
}

// Snapshot is one normalized capture of a session's rendered conversation.
// Snapshots are immutable: a new capture supersedes the previous one.
type Snapshot struct {
	HTML        string            `json:"html"`
	Styles      map[string]string `json:"styles,omitempty"`
	Fingerprint uint64            `json:"fingerprint"`
	CapturedAt  time.Time         `json:"captured_at"`
}
