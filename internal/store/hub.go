package store

import "sync"

// hub fans change signals out to in-process subscribers of a path.
type hub struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[chan struct{}]struct{})}
}

func (h *hub) subscribe(path string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	h.mu.Lock()
	if h.subs[path] == nil {
		h.subs[path] = make(map[chan struct{}]struct{})
	}
	h.subs[path][ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs[path], ch)
		if len(h.subs[path]) == 0 {
			delete(h.subs, path)
		}
	}
}

func (h *hub) publish(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[path] {
		notify(ch)
	}
}

func (h *hub) count(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[path])
}
