// Package patch merges freshly captured content trees into the
// displayed tree node-by-node instead of replacing it wholesale, so
// locally-owned state (collapse toggles, classification tags, scroll
// anchoring) survives every upstream update.
package patch

import (
	"fmt"

	"golang.org/x/net/html"
)

// LocalMarker flags children injected locally (expand/collapse
// affordances). They never appear in captured trees and are skipped
// when aligning children positionally.
const LocalMarker = "data-cv-local"

// preservedAttrs are locally-owned attributes retained on a display
// node even when the freshly captured node does not carry them.
var preservedAttrs = map[string]bool{
	"data-collapsed": true,
	"data-turn":      true,
}

// Preserved reports whether an attribute key is locally owned.
func Preserved(key string) bool {
	return preservedAttrs[key]
}

// Apply merges the new tree into the old tree in place. Old and new are
// paired positionally; mismatched kinds fall back to wholesale subtree
// replacement, which is acceptable degraded behavior, never an error.
func Apply(old, new *html.Node) {
	if !sameKind(old, new) {
		// Root kind changed: adopt the new node's identity and children
		// wholesale. Local state cannot survive a root swap.
		old.Type = new.Type
		old.DataAtom = new.DataAtom
		old.Data = new.Data
		old.Attr = append(old.Attr[:0], new.Attr...)
		removeChildren(old)
		for child := new.FirstChild; child != nil; child = child.NextSibling {
			old.AppendChild(Clone(child))
		}
		return
	}
	patchNode(old, new)
}

func sameKind(a, b *html.Node) bool {
	if a.Type != b.Type {
		return false
	}
	if a.Type == html.ElementNode && a.Data != b.Data {
		return false
	}
	return true
}

func patchNode(old, new *html.Node) {
	switch old.Type {
	case html.TextNode:
		// Only touch text that actually changed; rewriting identical
		// text restarts animations and forces reflow.
		if old.Data != new.Data {
			old.Data = new.Data
		}
	case html.ElementNode:
		reconcileAttrs(old, new)
		patchChildren(old, new)
	default:
		if old.Data != new.Data {
			old.Data = new.Data
		}
	}
}

// reconcileAttrs removes attributes absent from the new node except the
// preserved set, then adds or updates everything the new node carries.
// A preserved attribute the new node doesn't mention stays untouched.
func reconcileAttrs(old, new *html.Node) {
	incoming := make(map[string]string, len(new.Attr))
	for _, a := range new.Attr {
		incoming[a.Key] = a.Val
	}

	var stale []string
	for _, a := range old.Attr {
		if _, ok := incoming[a.Key]; !ok && !Preserved(a.Key) {
			stale = append(stale, a.Key)
		}
	}
	for _, key := range stale {
		removeAttr(old, key)
	}

	for _, a := range new.Attr {
		if cur, ok := getAttr(old, a.Key); !ok || cur != a.Val {
			setAttr(old, a.Key, a.Val)
		}
	}
}

// patchChildren aligns children positionally, skipping locally-injected
// children on the old side so captured content is merged around them
// rather than over them.
func patchChildren(old, new *html.Node) {
	oldKids := capturedChildren(old)
	newKids := children(new)

	n := len(oldKids)
	if len(newKids) < n {
		n = len(newKids)
	}

	var lastPaired *html.Node
	for i := 0; i < n; i++ {
		if sameKind(oldKids[i], newKids[i]) {
			patchNode(oldKids[i], newKids[i])
			lastPaired = oldKids[i]
			continue
		}
		replacement := Clone(newKids[i])
		old.InsertBefore(replacement, oldKids[i])
		old.RemoveChild(oldKids[i])
		lastPaired = replacement
	}

	// Old children beyond the new tree's length are gone upstream.
	for _, extra := range oldKids[n:] {
		old.RemoveChild(extra)
	}

	// New children are appended after the last paired captured child,
	// which keeps trailing local affordances in place.
	var anchor *html.Node
	if lastPaired != nil {
		anchor = lastPaired.NextSibling
	}
	for _, added := range newKids[n:] {
		c := Clone(added)
		if anchor != nil {
			old.InsertBefore(c, anchor)
		} else {
			old.AppendChild(c)
		}
	}
}

// capturedChildren returns the children that mirror captured content,
// excluding local-only nodes.
func capturedChildren(n *html.Node) []*html.Node {
	var out []*html.Node
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if isLocal(child) {
			continue
		}
		out = append(out, child)
	}
	return out
}

func children(n *html.Node) []*html.Node {
	var out []*html.Node
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		out = append(out, child)
	}
	return out
}

func isLocal(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	_, ok := getAttr(n, LocalMarker)
	return ok
}

func removeChildren(n *html.Node) {
	for n.FirstChild != nil {
		n.RemoveChild(n.FirstChild)
	}
}

// SetAttrAt sets an attribute on the node reached by walking captured
// (non-local) child indexes from the root. Used to flip locally-owned
// attributes like collapse state.
func SetAttrAt(root *html.Node, path []int, key, val string) error {
	node := root
	for depth, idx := range path {
		kids := capturedChildren(node)
		if idx < 0 || idx >= len(kids) {
			return fmt.Errorf("path index %d out of range at depth %d", idx, depth)
		}
		node = kids[idx]
	}
	if node.Type != html.ElementNode {
		return fmt.Errorf("path does not address an element")
	}
	setAttr(node, key, val)
	return nil
}
