package cdp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextRegistryOrder(t *testing.T) {
	r := newContextRegistry()
	r.add(3)
	r.add(1)
	r.add(3) // duplicate ignored
	r.add(7)

	assert.Equal(t, []int{3, 1, 7}, r.List())
	// No sticky yet: discovery order, then the unscoped fallback.
	assert.Equal(t, []int{3, 1, 7, 0}, r.Candidates())
}

func TestContextRegistrySticky(t *testing.T) {
	r := newContextRegistry()
	r.add(1)
	r.add(2)
	r.add(3)

	r.setSticky(2)
	assert.Equal(t, 2, r.Sticky())
	assert.Equal(t, []int{2, 1, 3, 0}, r.Candidates())

	// Destroying the sticky context clears it.
	r.remove(2)
	assert.Equal(t, 0, r.Sticky())
	assert.Equal(t, []int{1, 3, 0}, r.Candidates())
}

func TestContextRegistryStickyUnknownIgnored(t *testing.T) {
	r := newContextRegistry()
	r.add(1)
	r.setSticky(99)
	assert.Equal(t, 0, r.Sticky())
}

func TestContextRegistryClear(t *testing.T) {
	r := newContextRegistry()
	r.add(1)
	r.add(2)
	r.setSticky(1)
	r.clear()

	assert.Empty(t, r.List())
	assert.Equal(t, 0, r.Sticky())
	assert.Equal(t, []int{0}, r.Candidates())
}
