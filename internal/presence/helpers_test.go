package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-presence/internal/expiry"
)

// fakeClock is a controllable clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.t) {
		c.t = t
	}
}

// manualTimers fires posted callbacks only when Advance moves the clock past
// their due time.
type manualTimers struct {
	clock *fakeClock

	mu      sync.Mutex
	next    expiry.Handle
	pending map[expiry.Handle]manualTimer
}

type manualTimer struct {
	due time.Time
	fn  func()
}

func newManualTimers(clock *fakeClock) *manualTimers {
	return &manualTimers{clock: clock, pending: make(map[expiry.Handle]manualTimer)}
}

func (m *manualTimers) Post(delay time.Duration, fn func()) expiry.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	m.pending[m.next] = manualTimer{due: m.clock.Now().Add(delay), fn: fn}
	return m.next
}

func (m *manualTimers) Cancel(h expiry.Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[h]
	delete(m.pending, h)
	return ok
}

func (m *manualTimers) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Advance moves the clock forward by d, firing due timers in order.
func (m *manualTimers) Advance(d time.Duration) {
	target := m.clock.Now().Add(d)
	for {
		m.mu.Lock()
		var (
			found bool
			h     expiry.Handle
			t     manualTimer
		)
		for handle, timer := range m.pending {
			if timer.due.After(target) {
				continue
			}
			if !found || timer.due.Before(t.due) || (timer.due.Equal(t.due) && handle < h) {
				found, h, t = true, handle, timer
			}
		}
		if !found {
			m.mu.Unlock()
			break
		}
		delete(m.pending, h)
		m.mu.Unlock()

		m.clock.set(t.due)
		t.fn()
	}
	m.clock.set(target)
}

// fakeResource queues GET callbacks until the test answers them.
type fakeResource struct {
	host string
	uri  string

	mu       sync.Mutex
	requests int
	pending  []func(ResultCode)
}

func newFakeResource(host, uri string) *fakeResource {
	return &fakeResource{host: host, uri: uri}
}

func (r *fakeResource) RequestGet(cb func(ResultCode)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests++
	r.pending = append(r.pending, cb)
}

func (r *fakeResource) HostAddress() string { return r.host }
func (r *fakeResource) URI() string         { return r.uri }

func (r *fakeResource) Requests() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests
}

func (r *fakeResource) Outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Respond answers the oldest outstanding GET.
func (r *fakeResource) Respond(t *testing.T, code ResultCode) {
	t.Helper()
	r.mu.Lock()
	if len(r.pending) == 0 {
		r.mu.Unlock()
		t.Fatalf("Respond(%v): no outstanding request", code)
	}
	cb := r.pending[0]
	r.pending = r.pending[1:]
	r.mu.Unlock()
	cb(code)
}

// stateLog records notifications for one requester.
type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) record(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *stateLog) get() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]State, len(l.states))
	copy(out, l.states)
	return out
}

func assertStates(t *testing.T, got []State, want ...State) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("states = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("states = %v, want %v", got, want)
		}
	}
}

// harness wires a broker to manual timers, a fake clock and a registry.
type harness struct {
	clock    *fakeClock
	timers   *manualTimers
	table    *Table
	registry *Registry
	cfg      Config
}

func newHarness() *harness {
	clock := newFakeClock()
	timers := newManualTimers(clock)
	table := NewTable()
	cfg := Config{
		SafeInterval:  5 * time.Second,
		SafeTimeout:   5 * time.Second,
		DeviceTimeout: 30 * time.Second,
	}
	registry := NewRegistry(table, timers, cfg)
	registry.SetClock(clock.Now)
	return &harness{
		clock:    clock,
		timers:   timers,
		table:    table,
		registry: registry,
		cfg:      cfg,
	}
}

func (h *harness) newBroker(res Resource) *Broker {
	return NewBroker(res, Options{
		Config:   h.cfg,
		Timers:   h.timers,
		Table:    h.table,
		Registry: h.registry,
		Now:      h.clock.Now,
	})
}
