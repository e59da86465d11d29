package cdp

import "sync"

// ContextRegistry tracks the live script-execution contexts of one
// connection in discovery order, with one sticky context: the last one
// that satisfied a caller.
type ContextRegistry struct {
	mu     sync.Mutex
	order  []int
	known  map[int]bool
	sticky int
}

func newContextRegistry() *ContextRegistry {
	return &ContextRegistry{known: make(map[int]bool)}
}

func (r *ContextRegistry) add(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.known[id] {
		return
	}
	r.known[id] = true
	r.order = append(r.order, id)
}

func (r *ContextRegistry) remove(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.known[id] {
		return
	}
	delete(r.known, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if r.sticky == id {
		r.sticky = 0
	}
}

func (r *ContextRegistry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = nil
	r.known = make(map[int]bool)
	r.sticky = 0
}

func (r *ContextRegistry) setSticky(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == 0 || r.known[id] {
		r.sticky = id
	}
}

// Sticky returns the current sticky context id, zero if none.
func (r *ContextRegistry) Sticky() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sticky
}

// List returns the known context ids in discovery order.
func (r *ContextRegistry) List() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.order))
	copy(out, r.order)
	return out
}

// Candidates returns the evaluation order: sticky context first, then
// every known context in discovery order, then zero for an unscoped
// attempt against the default context.
func (r *ContextRegistry) Candidates() []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]int, 0, len(r.order)+2)
	if r.sticky != 0 {
		out = append(out, r.sticky)
	}
	for _, id := range r.order {
		if id != r.sticky {
			out = append(out, id)
		}
	}
	return append(out, 0)
}
