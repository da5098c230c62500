package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-presence/internal/expiry"
	"github.com/nerrad567/gray-logic-presence/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-presence/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-presence/internal/presence"

	_ "github.com/nerrad567/gray-logic-presence/migrations"
)

// setupTestDB opens a migrated in-memory database.
func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Path: database.MemoryPath, BusyTimeout: 1})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		t.Fatalf("failed to migrate test database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})
	return db
}

// fakeClock is a controllable clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// manualTimers fires posted callbacks only when Advance is called.
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

// Advance moves the clock forward by d and fires every timer due by then,
// earliest first.
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

		if delta := t.due.Sub(m.clock.Now()); delta > 0 {
			m.clock.add(delta)
		}
		t.fn()
	}
	if delta := target.Sub(m.clock.Now()); delta > 0 {
		m.clock.add(delta)
	}
}

// fakeResource queues GET callbacks until the test answers them.
type fakeResource struct {
	host string
	uri  string

	// answer, when set, completes every GET before RequestGet returns.
	answer *presence.ResultCode

	mu       sync.Mutex
	requests int
	pending  []func(presence.ResultCode)
}

func (r *fakeResource) RequestGet(cb func(presence.ResultCode)) {
	r.mu.Lock()
	r.requests++
	if r.answer != nil {
		r.mu.Unlock()
		cb(*r.answer)
		return
	}
	r.pending = append(r.pending, cb)
	r.mu.Unlock()
}

func (r *fakeResource) HostAddress() string { return r.host }
func (r *fakeResource) URI() string         { return r.uri }

func (r *fakeResource) Requests() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests
}

// Respond answers the oldest outstanding GET.
func (r *fakeResource) Respond(t *testing.T, code presence.ResultCode) {
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

// fakeResources is a ResourceFactory that remembers what it built.
type fakeResources struct {
	mu    sync.Mutex
	built  map[string]*fakeResource
	fail   error
	answer *presence.ResultCode
}

func newFakeResources() *fakeResources {
	return &fakeResources{built: make(map[string]*fakeResource)}
}

func (f *fakeResources) factory(t Target) (presence.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	res := &fakeResource{host: t.Host, uri: t.URI, answer: f.answer}
	f.built[resourceKey(t.Host, t.URI)] = res
	return res, nil
}

func (f *fakeResources) get(t *testing.T, host, uri string) *fakeResource {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	res, ok := f.built[resourceKey(host, uri)]
	if !ok {
		t.Fatalf("no resource built for %s on %s", uri, host)
	}
	return res
}

// published is one PublishJSON call.
type published struct {
	topic    string
	payload  []byte
	retained bool
}

// fakeBus records publications and lets tests inject messages.
type fakeBus struct {
	mu           sync.Mutex
	handlers     map[string]mqtt.MessageHandler
	published    []published
	unsubscribed []string
	publishErr   error
	subscribeErr error
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[string]mqtt.MessageHandler)}
}

func (b *fakeBus) PublishJSON(topic string, v any, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published = append(b.published, published{topic: topic, payload: payload, retained: retained})
	return nil
}

func (b *fakeBus) Publish(topic string, payload []byte, _ byte, retained bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published = append(b.published, published{topic: topic, payload: payload, retained: retained})
	return nil
}

func (b *fakeBus) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribeErr != nil {
		return b.subscribeErr
	}
	b.handlers[topic] = handler
	return nil
}

func (b *fakeBus) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, topic)
	b.unsubscribed = append(b.unsubscribed, topic)
	return nil
}

// deliver hands a message to the handler subscribed with pattern.
func (b *fakeBus) deliver(pattern, topic string, payload []byte) error {
	b.mu.Lock()
	h, ok := b.handlers[pattern]
	b.mu.Unlock()
	if !ok {
		return errors.New("no subscription for " + pattern)
	}
	return h(topic, payload)
}

func (b *fakeBus) on(topic string) []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []published
	for _, p := range b.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// fakeMetrics counts observations.
type fakeMetrics struct {
	mu          sync.Mutex
	transitions map[string]int
	probes      map[string]int
	brokers     int
	devices     int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{transitions: map[string]int{}, probes: map[string]int{}}
}

func (m *fakeMetrics) ObserveTransition(state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions[state]++
}

func (m *fakeMetrics) ObserveProbe(transport, result string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes[transport+"/"+result]++
}

func (m *fakeMetrics) SetBrokers(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.brokers = n
}

func (m *fakeMetrics) SetDevices(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices = n
}

func (m *fakeMetrics) snapshot() (transitions, probes map[string]int, brokers, devices int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	transitions = make(map[string]int, len(m.transitions))
	for k, v := range m.transitions {
		transitions[k] = v
	}
	probes = make(map[string]int, len(m.probes))
	for k, v := range m.probes {
		probes[k] = v
	}
	return transitions, probes, m.brokers, m.devices
}

// harness wires a Service to fakes and an in-memory database.
type harness struct {
	clock     *fakeClock
	timers    *manualTimers
	resources *fakeResources
	bus       *fakeBus
	metrics   *fakeMetrics
	targets   *SQLiteTargetRepository
	history   *SQLiteHistoryRepository
	svc       *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db := setupTestDB(t)
	clock := newFakeClock()
	h := &harness{
		clock:     clock,
		timers:    newManualTimers(clock),
		resources: newFakeResources(),
		bus:       newFakeBus(),
		metrics:   newFakeMetrics(),
		targets:   NewSQLiteTargetRepository(db.DB),
		history:   NewSQLiteHistoryRepository(db.DB),
	}

	svc, err := New(Options{
		Config: presence.Config{
			SafeInterval:  5 * time.Second,
			SafeTimeout:   5 * time.Second,
			DeviceTimeout: 30 * time.Second,
		},
		Timers:    h.timers,
		Targets:   h.targets,
		Resources: h.resources.factory,
		Sinks: Sinks{
			History:   h.history,
			Publisher: h.bus,
			Metrics:   h.metrics,
		},
		Bus: h.bus,
		Now: clock.Now,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.svc = svc
	t.Cleanup(func() {
		svc.Close()
	})
	return h
}

// stateLog records notifications for one watcher.
type stateLog struct {
	mu     sync.Mutex
	states []presence.State
}

func (l *stateLog) record(s presence.State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *stateLog) get() []presence.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]presence.State, len(l.states))
	copy(out, l.states)
	return out
}
