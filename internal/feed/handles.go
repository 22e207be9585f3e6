package feed

import "sync"

// handles collects release functions for resources acquired during
// activation and runs them in reverse order, once.
type handles struct {
	mu       sync.Mutex
	releases []func()
	once     sync.Once
	released bool
}

// add registers release. If the set was already released, release runs
// immediately and add returns false.
func (h *handles) add(release func()) bool {
	if release == nil {
		return true
	}

	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		release()
		return false
	}
	h.releases = append(h.releases, release)
	h.mu.Unlock()
	return true
}

// releaseAll runs every registered release function, last acquired first.
func (h *handles) releaseAll() {
	h.once.Do(func() {
		h.mu.Lock()
		h.released = true
		releases := h.releases
		h.releases = nil
		h.mu.Unlock()

		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	})
}

func (h *handles) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.releases)
}
