package crawler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

const defaultPerOriginConcurrency = 2

// Throttle bounds in-flight requests per origin and spaces dispatches to the
// same origin by at least the configured minimum delay. Origins never contend
// with each other.
type Throttle struct {
	capacity int64
	minDelay time.Duration
	clock    Clock
	origins  sync.Map // origin string -> *originSlot
}

type originSlot struct {
	sem      *semaphore.Weighted
	inFlight atomic.Int64

	mu       sync.Mutex
	delay    time.Duration
	next     time.Time
	lastSent time.Time
}

// Ticket represents one granted request slot. Release must be called exactly
// once; extra calls are ignored.
type Ticket struct {
	Origin       Origin
	DispatchedAt time.Time
	slot         *originSlot
	once         sync.Once
}

// Release frees the slot for the next waiter.
func (t *Ticket) Release() {
	if t == nil || t.slot == nil {
		return
	}
	t.once.Do(func() {
		t.slot.inFlight.Add(-1)
		t.slot.sem.Release(1)
	})
}

// NewThrottle builds a throttle allowing perOrigin concurrent requests per
// origin, dispatched no closer than minDelay apart.
func NewThrottle(perOrigin int, minDelay time.Duration, clock Clock) *Throttle {
	if perOrigin <= 0 {
		perOrigin = defaultPerOriginConcurrency
	}
	if minDelay < 0 {
		minDelay = 0
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &Throttle{capacity: int64(perOrigin), minDelay: minDelay, clock: clock}
}

func (t *Throttle) slot(o Origin) *originSlot {
	key := o.String()
	if s, ok := t.origins.Load(key); ok {
		return s.(*originSlot)
	}
	s, _ := t.origins.LoadOrStore(key, &originSlot{
		sem:   semaphore.NewWeighted(t.capacity),
		delay: t.minDelay,
	})
	return s.(*originSlot)
}

// Acquire blocks until a slot for o is free and the spacing delay since the
// previous dispatch has elapsed. It fails only when ctx is done.
func (t *Throttle) Acquire(ctx context.Context, o Origin) (*Ticket, error) {
	s := t.slot(o)
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	s.mu.Lock()
	now := t.clock.Now()
	prevNext, prevSent := s.next, s.lastSent
	at := now
	if s.next.After(at) {
		at = s.next
	}
	s.next = at.Add(s.delay)
	s.lastSent = at
	reserved := s.next
	s.mu.Unlock()

	if err := sleepContext(ctx, at.Sub(now)); err != nil {
		s.mu.Lock()
		// give the reservation back unless a later caller has built on it
		if s.next.Equal(reserved) {
			s.next, s.lastSent = prevNext, prevSent
		}
		s.mu.Unlock()
		s.sem.Release(1)
		return nil, err
	}
	s.inFlight.Add(1)
	return &Ticket{Origin: o, DispatchedAt: at, slot: s}, nil
}

// SetMinDelay raises the spacing for o to d when d exceeds the global minimum.
// It is used to apply a robots.txt crawl-delay.
func (t *Throttle) SetMinDelay(o Origin, d time.Duration) {
	if d <= t.minDelay {
		return
	}
	s := t.slot(o)
	s.mu.Lock()
	defer s.mu.Unlock()
	if d > s.delay {
		if !s.lastSent.IsZero() {
			s.next = s.lastSent.Add(d)
		}
		s.delay = d
	}
}

// MinDelay returns the spacing currently applied to o.
func (t *Throttle) MinDelay(o Origin) time.Duration {
	s := t.slot(o)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delay
}

// InFlight returns the number of outstanding tickets for o.
func (t *Throttle) InFlight(o Origin) int {
	return int(t.slot(o).inFlight.Load())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
