package crawler

import "sync"

// Frontier is the FIFO of targets waiting to be fetched plus the set of every
// target ever admitted. Admission and enqueue happen under one lock so a
// target can be claimed at most once per crawl.
type Frontier struct {
	mu     sync.Mutex
	queue  []Target
	head   int
	seen   map[string]struct{}
	popped int
}

// FrontierStats is a point-in-time view of the frontier.
type FrontierStats struct {
	Queued int
	Seen   int
	Popped int
}

// NewFrontier builds an empty frontier.
func NewFrontier() *Frontier {
	return &Frontier{seen: make(map[string]struct{})}
}

// Push claims t and enqueues it. It returns false when t was already claimed.
func (f *Frontier) Push(t Target) bool {
	if t.IsZero() {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.seen[t.key]; ok {
		return false
	}
	f.seen[t.key] = struct{}{}
	f.queue = append(f.queue, t)
	return true
}

// Pop removes the oldest queued target.
func (f *Frontier) Pop() (Target, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.head >= len(f.queue) {
		return Target{}, false
	}
	t := f.queue[f.head]
	f.queue[f.head] = Target{}
	f.head++
	f.popped++
	// compact once the consumed prefix dominates the backing array
	if f.head > 1024 && f.head*2 > len(f.queue) {
		f.queue = append([]Target(nil), f.queue[f.head:]...)
		f.head = 0
	}
	return t, true
}

// Seen reports whether t was ever claimed.
func (f *Frontier) Seen(t Target) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.seen[t.key]
	return ok
}

// Len returns the number of queued targets.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue) - f.head
}

// Stats returns queue and seen-set sizes.
func (f *Frontier) Stats() FrontierStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return FrontierStats{
		Queued: len(f.queue) - f.head,
		Seen:   len(f.seen),
		Popped: f.popped,
	}
}
