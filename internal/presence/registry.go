package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-presence/internal/expiry"
)

// Device tracks the brokers whose resources live on one host, plus the
// device-wide presence state of that host.
//
// Thread Safety: All methods are safe for concurrent use.
type Device struct {
	host string

	mu        sync.Mutex
	state     State
	resources []BrokerID
	lastEvent time.Time

	// gen invalidates presence timeouts armed before the latest event.
	gen           uint64
	timeoutHandle expiry.Handle
}

// DeviceInfo is a snapshot of a device.
type DeviceInfo struct {
	Host      string     `json:"host"`
	State     State      `json:"state"`
	Resources []BrokerID `json:"resources"`
	LastEvent time.Time  `json:"last_event,omitempty"`
}

func newDevice(host string) *Device {
	return &Device{host: host, state: StateRequested}
}

// Host returns the device's host address.
func (d *Device) Host() string {
	return d.host
}

// State returns the device-wide presence state.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// AddResource adds a broker to the device. Adding a tracked broker is a no-op.
func (d *Device) AddResource(id BrokerID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, existing := range d.resources {
		if existing == id {
			return
		}
	}
	d.resources = append(d.resources, id)
}

// RemoveResource removes a broker from the device.
func (d *Device) RemoveResource(id BrokerID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, existing := range d.resources {
		if existing == id {
			d.resources = append(d.resources[:i], d.resources[i+1:]...)
			return
		}
	}
}

// IsEmpty reports whether the device tracks no brokers.
func (d *Device) IsEmpty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.resources) == 0
}

// Resources returns the tracked broker IDs in registration order.
func (d *Device) Resources() []BrokerID {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]BrokerID, len(d.resources))
	copy(out, d.resources)
	return out
}

// Snapshot returns a consistent view of the device.
func (d *Device) Snapshot() DeviceInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := DeviceInfo{
		Host:      d.host,
		State:     d.state,
		Resources: make([]BrokerID, len(d.resources)),
		LastEvent: d.lastEvent,
	}
	copy(out.Resources, d.resources)
	return out
}

// DeviceListener is told about every device-wide state change.
type DeviceListener func(host string, state State)

// Registry is the process-wide set of devices, keyed by host address.
//
// Brokers register and unregister themselves; device-wide presence events are
// fed in with DeliverPresence and drive the mode of every broker on the host.
//
// Thread Safety: All methods are safe for concurrent use. Broker methods are
// never called with the registry lock held.
type Registry struct {
	table  *Table
	timers Timers
	cfg    Config
	logger Logger
	now    func() time.Time

	mu       sync.Mutex
	devices  map[string]*Device
	listener DeviceListener
}

// NewRegistry creates a registry that resolves broker IDs through table.
// timers may be nil when no device timeout is wanted.
func NewRegistry(table *Table, timers Timers, cfg Config) *Registry {
	return &Registry{
		table:   table,
		timers:  timers,
		cfg:     cfg,
		logger:  noopLogger{},
		now:     time.Now,
		devices: make(map[string]*Device),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if logger == nil {
		logger = noopLogger{}
	}
	r.logger = logger
}

// SetClock sets the clock stamping device presence events. nil restores
// time.Now.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if now == nil {
		now = time.Now
	}
	r.now = now
}

// SetListener sets the callback for device-wide state changes.
func (r *Registry) SetListener(fn DeviceListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listener = fn
}

// FindOrCreate returns the device for host, creating it on first use.
func (r *Registry) FindOrCreate(host string) *Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findOrCreateLocked(host)
}

// Lookup returns the device for host.
func (r *Registry) Lookup(host string) (*Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[host]
	return d, ok
}

// Remove drops the device for host and cancels its presence timeout.
func (r *Registry) Remove(host string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(host)
}

// List returns a snapshot of every device, ordered by host.
func (r *Registry) List() []DeviceInfo {
	r.mu.Lock()
	devices := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		devices = append(devices, d)
	}
	r.mu.Unlock()

	out := make([]DeviceInfo, 0, len(devices))
	for _, d := range devices {
		out = append(out, d.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Host < out[j].Host })
	return out
}

// Register adds a broker to the device for host, creating the device if needed.
func (r *Registry) Register(host string, id BrokerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.findOrCreateLocked(host).AddResource(id)
}

// Unregister removes a broker from the device for host and drops the device
// once it tracks nothing.
func (r *Registry) Unregister(host string, id BrokerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[host]
	if !ok {
		return
	}
	d.RemoveResource(id)
	if d.IsEmpty() {
		r.removeLocked(host)
	}
}

// DeliverPresence applies a device-wide presence event.
//
// A success code marks the device alive, switches every broker on it to
// ModePresence and hands each the event as a passive delivery. Any other
// code marks the device lost and switches its brokers back to
// ModeNonPresence so they resume polling. An alive device that hears
// nothing for DeviceTimeout falls back as if a presence timeout arrived.
//
// Returns:
//   - error: ErrDeviceNotFound if no broker is registered for host
func (r *Registry) DeliverPresence(host string, code ResultCode) error {
	alive := StateForResult(code) == StateAlive
	next := StateLostSignal
	if alive {
		next = StateAlive
	}

	r.mu.Lock()
	d, ok := r.devices[host]
	if !ok {
		r.mu.Unlock()
		return ErrDeviceNotFound
	}
	listener, logger := r.listener, r.logger

	d.mu.Lock()
	changed := d.state != next
	d.state = next
	d.lastEvent = r.now()
	d.gen++
	if d.timeoutHandle != 0 && r.timers != nil {
		r.timers.Cancel(d.timeoutHandle)
		d.timeoutHandle = 0
	}
	if alive && r.timers != nil && r.cfg.DeviceTimeout > 0 {
		gen := d.gen
		d.timeoutHandle = r.timers.Post(r.cfg.DeviceTimeout, func() {
			r.onDeviceTimeout(host, gen)
		})
	}
	ids := make([]BrokerID, len(d.resources))
	copy(ids, d.resources)
	d.mu.Unlock()
	r.mu.Unlock()

	if changed {
		logger.Info("device presence changed", "host", host, "state", next, "code", code)
	}

	for _, id := range ids {
		b, ok := r.table.Lookup(id)
		if !ok {
			continue
		}
		if alive {
			b.ChangeMode(ModePresence)
			b.Deliver(code)
		} else {
			b.ChangeMode(ModeNonPresence)
		}
	}

	if changed && listener != nil {
		listener(host, next)
	}
	return nil
}

func (r *Registry) onDeviceTimeout(host string, gen uint64) {
	r.mu.Lock()
	d, ok := r.devices[host]
	if !ok {
		r.mu.Unlock()
		return
	}
	d.mu.Lock()
	stale := d.gen != gen
	if !stale {
		d.timeoutHandle = 0
	}
	d.mu.Unlock()
	r.mu.Unlock()

	if stale {
		return
	}
	_ = r.DeliverPresence(host, ResultPresenceTimeout) //nolint:errcheck // device may have been removed
}

func (r *Registry) findOrCreateLocked(host string) *Device {
	d, ok := r.devices[host]
	if !ok {
		d = newDevice(host)
		r.devices[host] = d
		r.logger.Debug("device tracker created", "host", host)
	}
	return d
}

func (r *Registry) removeLocked(host string) {
	d, ok := r.devices[host]
	if !ok {
		return
	}
	d.mu.Lock()
	d.gen++
	if d.timeoutHandle != 0 && r.timers != nil {
		r.timers.Cancel(d.timeoutHandle)
		d.timeoutHandle = 0
	}
	d.mu.Unlock()
	delete(r.devices, host)
	r.logger.Debug("device tracker removed", "host", host)
}
