package presence

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-presence/internal/expiry"
)

// Options configures a new Broker.
type Options struct {
	// Config holds the protocol timings. Zero durations take defaults.
	Config Config

	// Timers arms timeouts and schedules probes. Required.
	Timers Timers

	// Table holds the broker while it is live. A private table is created
	// when nil.
	Table *Table

	// Registry groups brokers by host. Optional.
	Registry DeviceRegistry

	// Logger receives debug output. Optional.
	Logger Logger

	// Requesters are registered before the first probe is issued, so they
	// see the very first transition however fast the resource answers.
	Requesters []Registration

	// Now returns the current time. Defaults to time.Now, whose monotonic
	// reading is used for the grace window comparison.
	Now func() time.Time
}

// Info is a consistent snapshot of a broker.
type Info struct {
	ID           BrokerID  `json:"id"`
	URI          string    `json:"uri"`
	Host         string    `json:"host"`
	State        State     `json:"state"`
	Mode         Mode      `json:"mode"`
	Requesters   int       `json:"requesters"`
	LastResponse time.Time `json:"last_response,omitempty"`
}

// Registration pairs a requester with its callback.
type Registration struct {
	ID       RequesterID
	Callback Callback
}

type requester struct {
	id RequesterID
	cb Callback
}

type notification struct {
	state      State
	requesters []requester
}

// Broker maintains the reachability state of one resource and fans every
// change out to its requesters.
//
// Thread Safety: All methods are safe for concurrent use. Requester callbacks
// are invoked without the broker lock held and may call back into the broker.
type Broker struct {
	id       BrokerID
	resource Resource
	table    *Table
	timers   Timers
	registry DeviceRegistry
	cfg      Config
	now      func() time.Time
	logger   Logger

	destroyed atomic.Bool

	mu            sync.Mutex
	state         State
	mode          Mode
	requesters    []requester
	responded     bool
	lastResponse  time.Time
	waiting       bool
	graced        bool
	timeoutHandle expiry.Handle
	pollHandle    expiry.Handle

	// queued notifications, drained by one goroutine at a time so that
	// requesters see transitions in the order they happened.
	pending     []notification
	dispatching bool
}

// NewBroker starts monitoring a resource.
//
// The broker installs opts.Requesters, is inserted into the table, arms its
// first timeout, issues the first probe and registers with the device
// registry under the resource's host. It starts in StateRequested and ModeNonPresence.
//
// Parameters:
//   - resource: The resource to monitor
//   - opts: Collaborators and timings
//
// Returns:
//   - *Broker: The live broker; release it with Destroy
func NewBroker(resource Resource, opts Options) *Broker {
	b := &Broker{
		resource: resource,
		table:    opts.Table,
		timers:   opts.Timers,
		registry: opts.Registry,
		cfg:      opts.Config.withDefaults(),
		now:      opts.Now,
		logger:   opts.Logger,
		state:    StateRequested,
		mode:     ModeNonPresence,
	}
	if b.table == nil {
		b.table = NewTable()
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.logger == nil {
		b.logger = noopLogger{}
	}

	for _, r := range opts.Requesters {
		b.AddRequester(r.ID, r.Callback)
	}

	b.table.insert(b)

	b.mu.Lock()
	b.armTimeoutLocked()
	b.mu.Unlock()
	b.requestGet()

	if b.registry != nil {
		b.registry.Register(resource.HostAddress(), b.id)
	}

	b.logger.Debug("presence broker created",
		"broker_id", b.id,
		"uri", resource.URI(),
		"host", resource.HostAddress(),
	)
	return b
}

// ID returns the broker's table ID.
func (b *Broker) ID() BrokerID {
	return b.id
}

// Resource returns the monitored resource.
func (b *Broker) Resource() Resource {
	return b.resource
}

// State returns the current state.
func (b *Broker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Mode returns the current mode.
func (b *Broker) Mode() Mode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mode
}

// Snapshot returns a consistent view of the broker.
func (b *Broker) Snapshot() Info {
	b.mu.Lock()
	defer b.mu.Unlock()
	info := Info{
		ID:         b.id,
		URI:        b.resource.URI(),
		Host:       b.resource.HostAddress(),
		State:      b.state,
		Mode:       b.mode,
		Requesters: len(b.requesters),
	}
	if b.responded {
		info.LastResponse = b.lastResponse
	}
	return info
}

// AddRequester registers cb under id. Registering an existing id replaces
// its callback in place. Calls on a destroyed broker are ignored.
func (b *Broker) AddRequester(id RequesterID, cb Callback) {
	if cb == nil || b.destroyed.Load() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.requesters {
		if b.requesters[i].id == id {
			b.requesters[i].cb = cb
			return
		}
	}
	b.requesters = append(b.requesters, requester{id: id, cb: cb})
}

// RemoveRequester unregisters id. Unknown ids are ignored.
func (b *Broker) RemoveRequester(id RequesterID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.requesters {
		if b.requesters[i].id == id {
			b.requesters = append(b.requesters[:i], b.requesters[i+1:]...)
			return
		}
	}
}

// RemoveAllRequesters unregisters every requester.
func (b *Broker) RemoveAllRequesters() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requesters = nil
}

// RequesterCount returns the number of registered requesters.
func (b *Broker) RequesterCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.requesters)
}

// HasRequesters reports whether any requester is registered.
func (b *Broker) HasRequesters() bool {
	return b.RequesterCount() > 0
}

// ChangeMode switches between active polling and passive delivery.
//
// Switching cancels any armed timers. Switching to ModeNonPresence re-arms
// the timeout and probes immediately. Setting the current mode is a no-op.
func (b *Broker) ChangeMode(mode Mode) {
	if b.destroyed.Load() {
		return
	}

	b.mu.Lock()
	if mode == b.mode {
		b.mu.Unlock()
		return
	}
	b.cancelTimersLocked()
	b.waiting = false
	probe := false
	if mode == ModeNonPresence && b.state != StateDestroyed {
		b.armTimeoutLocked()
		probe = true
	}
	b.mode = mode
	b.mu.Unlock()

	b.logger.Debug("presence broker mode changed", "broker_id", b.id, "mode", mode)
	if probe {
		b.requestGet()
	}
}

// Deliver applies a passively delivered result, such as a device-wide
// presence event. It records the response time and applies the transition
// but schedules nothing.
func (b *Broker) Deliver(code ResultCode) {
	if b.destroyed.Load() {
		return
	}

	b.mu.Lock()
	if b.state == StateDestroyed {
		b.mu.Unlock()
		return
	}
	b.recordResponseLocked()
	target := StateForResult(code)
	b.transitionLocked(target)
	if b.waiting {
		b.timers.Cancel(b.timeoutHandle)
		b.waiting = false
	}
	if target == StateDestroyed {
		b.cancelTimersLocked()
	}
	b.mu.Unlock()

	b.dispatch()
}

// Destroy stops monitoring. It unregisters from the device registry, drops
// every requester, moves to StateDestroyed and removes the broker from the
// table. Destroy is idempotent.
//
// Once Destroy returns no transition is queued and no queued notification is
// delivered. Destroy does not wait for a dispatch running on another
// goroutine: the callback that dispatch is invoking, or has just decided to
// invoke, may still run once, and the callbacks after it in that snapshot
// are skipped.
func (b *Broker) Destroy() {
	if !b.destroyed.CompareAndSwap(false, true) {
		return
	}

	if b.registry != nil {
		b.registry.Unregister(b.resource.HostAddress(), b.id)
	}

	b.mu.Lock()
	b.requesters = nil
	b.pending = nil
	b.state = StateDestroyed
	b.cancelTimersLocked()
	b.waiting = false
	b.mu.Unlock()

	b.table.remove(b.id)

	b.logger.Debug("presence broker destroyed", "broker_id", b.id, "uri", b.resource.URI())
}

// onResponse handles the result of a probe.
func (b *Broker) onResponse(code ResultCode) {
	b.mu.Lock()
	if b.state == StateDestroyed {
		b.mu.Unlock()
		return
	}
	b.recordResponseLocked()
	target := StateForResult(code)
	b.transitionLocked(target)

	if b.waiting {
		b.timers.Cancel(b.timeoutHandle)
		b.waiting = false
	}
	switch {
	case target == StateDestroyed:
		b.cancelTimersLocked()
	case b.mode == ModeNonPresence:
		b.schedulePollLocked()
	}
	b.mu.Unlock()

	b.dispatch()
}

// onTimeout handles the expiry of the armed probe timeout.
func (b *Broker) onTimeout() {
	b.mu.Lock()
	if b.state == StateDestroyed {
		b.mu.Unlock()
		return
	}

	now := b.now()
	var benign bool
	if b.responded {
		benign = b.lastResponse.Add(b.cfg.SafeTimeout).After(now)
	} else {
		// A resource that has never answered gets one grace period.
		benign = !b.graced
		b.graced = true
	}

	if benign {
		b.waiting = true
		b.armTimeoutLocked()
		b.mu.Unlock()
		return
	}

	b.waiting = false
	b.transitionLocked(StateLostSignal)
	b.logger.Debug("presence probe timed out", "broker_id", b.id, "uri", b.resource.URI())

	// Keep probing after a loss so recovery is detected.
	probe := b.mode == ModeNonPresence
	if probe {
		b.armTimeoutLocked()
	}
	b.mu.Unlock()

	if probe {
		b.requestGet()
	}
	b.dispatch()
}

// onPoll issues the next scheduled probe.
func (b *Broker) onPoll() {
	b.mu.Lock()
	b.pollHandle = 0
	if b.mode != ModeNonPresence || b.state == StateDestroyed {
		b.mu.Unlock()
		return
	}
	b.armTimeoutLocked()
	b.mu.Unlock()

	b.requestGet()
}

// requestGet issues a probe. The response callback carries only the broker
// ID. Must be called without b.mu held.
func (b *Broker) requestGet() {
	table, id := b.table, b.id
	b.resource.RequestGet(func(code ResultCode) {
		if live, ok := table.Lookup(id); ok {
			live.onResponse(code)
		}
	})
}

// armTimeoutLocked arms the probe timeout, replacing any armed one.
func (b *Broker) armTimeoutLocked() {
	if b.timeoutHandle != 0 {
		b.timers.Cancel(b.timeoutHandle)
	}
	table, id := b.table, b.id
	b.timeoutHandle = b.timers.Post(b.cfg.SafeInterval, func() {
		if live, ok := table.Lookup(id); ok {
			live.onTimeout()
		}
	})
}

// schedulePollLocked schedules the next probe after SafeInterval.
func (b *Broker) schedulePollLocked() {
	if b.pollHandle != 0 {
		b.timers.Cancel(b.pollHandle)
	}
	table, id := b.table, b.id
	b.pollHandle = b.timers.Post(b.cfg.SafeInterval, func() {
		if live, ok := table.Lookup(id); ok {
			live.onPoll()
		}
	})
}

func (b *Broker) cancelTimersLocked() {
	if b.timeoutHandle != 0 {
		b.timers.Cancel(b.timeoutHandle)
		b.timeoutHandle = 0
	}
	if b.pollHandle != 0 {
		b.timers.Cancel(b.pollHandle)
		b.pollHandle = 0
	}
}

func (b *Broker) recordResponseLocked() {
	b.responded = true
	b.lastResponse = b.now()
}

// transitionLocked moves to s and queues a notification for the current
// requesters. Repeating the current state is silent, and StateDestroyed is
// never left.
func (b *Broker) transitionLocked(s State) {
	if s == b.state || b.state == StateDestroyed {
		return
	}
	prev := b.state
	b.state = s
	snapshot := make([]requester, len(b.requesters))
	copy(snapshot, b.requesters)
	b.pending = append(b.pending, notification{state: s, requesters: snapshot})

	b.logger.Debug("presence state changed",
		"broker_id", b.id,
		"uri", b.resource.URI(),
		"from", prev,
		"to", s,
	)
}

// dispatch delivers queued notifications. If another goroutine (or an outer
// frame of this one) is already dispatching, the queue is left to it.
func (b *Broker) dispatch() {
	b.mu.Lock()
	if b.dispatching {
		b.mu.Unlock()
		return
	}
	b.dispatching = true
	for len(b.pending) > 0 {
		n := b.pending[0]
		b.pending = b.pending[1:]
		b.mu.Unlock()

		for _, r := range n.requesters {
			if b.destroyed.Load() {
				break
			}
			r.cb(n.state)
		}

		b.mu.Lock()
	}
	b.dispatching = false
	b.mu.Unlock()
}
