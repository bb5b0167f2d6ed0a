package pathrules

import "sync/atomic"

// Whitelist holds the currently effective visibility whitelist behind an
// atomic pointer, so concurrent query reads never observe a partially
// replaced list while SET_WHITELIST swaps it in (spec.md §5: "Whitelist:
// mutated only via SET_WHITELIST; atomic replacement of the list
// reference").
type Whitelist struct {
	v atomic.Pointer[[]string]
}

// NewWhitelist creates a Whitelist initialized to initial.
func NewWhitelist(initial []string) *Whitelist {
	w := &Whitelist{}
	w.Set(initial)
	return w
}

// Get returns the currently effective whitelist.
func (w *Whitelist) Get() []string {
	p := w.v.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Set atomically replaces the whitelist.
func (w *Whitelist) Set(list []string) {
	cp := make([]string, len(list))
	copy(cp, list)
	w.v.Store(&cp)
}
