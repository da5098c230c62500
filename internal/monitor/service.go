package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-presence/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-presence/internal/presence"
)

// recorderRequester is the requester ID under which every broker reports to
// the Recorder. Watchers may not use it.
const recorderRequester presence.RequesterID = "monitor.recorder"

const pruneInterval = time.Hour

// Logger defines the logging interface used by this package.
// *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Bus is the MQTT surface the service needs for device presence.
// *mqtt.Client satisfies it.
type Bus interface {
	StatePublisher
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Options configures a Service.
type Options struct {
	// Config holds the presence protocol timings.
	Config presence.Config

	// Timers drives every broker and device timeout. Required.
	Timers presence.Timers

	// Targets persists monitor definitions. Required.
	Targets TargetRepository

	// Resources builds the probe handle for each target. Required.
	Resources ResourceFactory

	// Sinks receive transitions and probe observations. All optional.
	Sinks Sinks

	// Bus carries device presence events in and device state out. Optional.
	Bus Bus
	QoS byte

	// HistoryRetention enables hourly pruning of older transitions.
	HistoryRetention time.Duration

	Logger Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

type entry struct {
	target Target
	broker *presence.Broker
}

// Service owns the live brokers and everything that observes them.
//
// Thread Safety: All methods are safe for concurrent use.
type Service struct {
	cfg       presence.Config
	timers    presence.Timers
	table     *presence.Table
	registry  *presence.Registry
	targets   TargetRepository
	resources ResourceFactory
	sinks     Sinks
	bus       Bus
	qos       byte
	retention time.Duration
	recorder  *Recorder
	logger    Logger
	now       func() time.Time

	mu         sync.RWMutex
	entries    map[string]*entry
	byResource map[string]string
	started    bool
	closed     bool
	stop       context.CancelFunc
	wg         sync.WaitGroup
}

// New creates a Service. Call Start to restore persisted targets.
//
// Returns:
//   - *Service: The service, not yet started
//   - error: If a required option is missing
func New(opts Options) (*Service, error) {
	if opts.Timers == nil {
		return nil, errors.New("monitor: timers are required")
	}
	if opts.Targets == nil {
		return nil, errors.New("monitor: target repository is required")
	}
	if opts.Resources == nil {
		return nil, errors.New("monitor: resource factory is required")
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	table := presence.NewTable()
	registry := presence.NewRegistry(table, opts.Timers, opts.Config)
	registry.SetLogger(opts.Logger)
	registry.SetClock(opts.Now)

	s := &Service{
		cfg:        opts.Config,
		timers:     opts.Timers,
		table:      table,
		registry:   registry,
		targets:    opts.Targets,
		resources:  opts.Resources,
		sinks:      opts.Sinks,
		bus:        opts.Bus,
		qos:        opts.QoS,
		retention:  opts.HistoryRetention,
		recorder:   NewRecorder(opts.Sinks, 0, opts.Logger),
		logger:     opts.Logger,
		now:        opts.Now,
		entries:    make(map[string]*entry),
		byResource: make(map[string]string),
	}
	registry.SetListener(s.onDeviceState)

	return s, nil
}

// Start restores persisted targets, subscribes to device presence and starts
// the recorder. Calling Start twice is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.started {
		return nil
	}

	s.recorder.Start()

	targets, err := s.targets.List(ctx)
	if err != nil {
		return fmt.Errorf("loading targets: %w", err)
	}
	for _, t := range targets {
		if err := s.startLocked(t); err != nil {
			s.logger.Error("restoring monitor", "monitor_id", t.ID, "uri", t.URI, "host", t.Host, "error", err)
		}
	}

	if s.bus != nil {
		if err := s.bus.Subscribe(mqtt.Topics{}.AllDevicePresence(), s.qos, s.handleDevicePresence); err != nil {
			return fmt.Errorf("subscribing to device presence: %w", err)
		}
	}

	if s.retention > 0 {
		pruneCtx, cancel := context.WithCancel(context.Background())
		s.stop = cancel
		s.wg.Add(1)
		go s.pruneLoop(pruneCtx)
	}

	s.started = true
	s.updateGaugesLocked()
	s.logger.Info("monitor service started", "monitors", len(s.entries))
	return nil
}

// Monitor starts monitoring a target and persists it.
//
// An empty ID is assigned a new uuid. If the same resource (host and uri) is
// already monitored, the existing target is returned with ErrTargetExists.
//
// Parameters:
//   - ctx: Bounds the persistence call
//   - t: The target to monitor
//
// Returns:
//   - Target: The stored target with ID and CreatedAt filled in
//   - error: ErrInvalidTarget, ErrTargetExists, ErrClosed or a storage error
func (s *Service) Monitor(ctx context.Context, t Target) (Target, error) {
	t.Normalise()
	if err := t.Validate(); err != nil {
		return Target{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Target{}, ErrClosed
	}

	if id, ok := s.byResource[resourceKey(t.Host, t.URI)]; ok {
		return s.entries[id].target, ErrTargetExists
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	} else if _, ok := s.entries[t.ID]; ok {
		return s.entries[t.ID].target, ErrTargetExists
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now().UTC().Truncate(time.Millisecond)
	}

	if err := s.targets.Save(ctx, t); err != nil {
		return Target{}, err
	}
	if err := s.startLocked(t); err != nil {
		if delErr := s.targets.Delete(ctx, t.ID); delErr != nil {
			s.logger.Warn("rolling back target", "monitor_id", t.ID, "error", delErr)
		}
		return Target{}, err
	}

	s.updateGaugesLocked()
	s.logger.Info("monitoring resource", "monitor_id", t.ID, "uri", t.URI, "host", t.Host, "transport", t.Transport)
	return t, nil
}

// Release stops monitoring a target and forgets it.
//
// The broker is destroyed, a final destroyed transition is recorded unless
// the resource already reported its deletion, and the target is removed from
// storage.
func (s *Service) Release(ctx context.Context, id string) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return ErrTargetNotFound
	}
	delete(s.entries, id)
	delete(s.byResource, resourceKey(e.target.Host, e.target.URI))
	s.updateGaugesLocked()
	s.mu.Unlock()

	mode := e.broker.Mode()
	// A resource-deleted answer has already recorded the destroyed state.
	alreadyDestroyed := e.broker.State() == presence.StateDestroyed
	e.broker.Destroy()
	if !alreadyDestroyed {
		s.recorder.Enqueue(Transition{
			MonitorID: e.target.ID,
			URI:       e.target.URI,
			Host:      e.target.Host,
			State:     presence.StateDestroyed,
			Mode:      mode,
			Timestamp: s.now().UTC(),
		})
	}

	if err := s.targets.Delete(ctx, id); err != nil && !errors.Is(err, ErrTargetNotFound) {
		return fmt.Errorf("deleting target: %w", err)
	}

	s.logger.Info("released resource", "monitor_id", id, "uri", e.target.URI, "host", e.target.Host)
	return nil
}

// Get returns the target and live broker snapshot for id.
func (s *Service) Get(id string) (Status, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return Status{}, ErrTargetNotFound
	}
	return Status{Target: e.target, Presence: e.broker.Snapshot()}, nil
}

// List returns every monitored target, oldest first.
func (s *Service) List() []Status {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]Status, 0, len(entries))
	for _, e := range entries {
		out = append(out, Status{Target: e.target, Presence: e.broker.Snapshot()})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SetMode switches how a target's broker learns about its resource.
func (s *Service) SetMode(id string, mode presence.Mode) error {
	b, err := s.broker(id)
	if err != nil {
		return err
	}
	b.ChangeMode(mode)
	return nil
}

// Watch adds cb as a requester on the target's broker. Watching again with
// the same requesterID replaces the callback.
func (s *Service) Watch(id string, requesterID presence.RequesterID, cb presence.Callback) error {
	if requesterID == "" || requesterID == recorderRequester {
		return fmt.Errorf("%w: %q", ErrInvalidRequester, requesterID)
	}
	if cb == nil {
		return fmt.Errorf("%w: nil callback", ErrInvalidRequester)
	}
	b, err := s.broker(id)
	if err != nil {
		return err
	}
	b.AddRequester(requesterID, cb)
	return nil
}

// Unwatch removes a requester from the target's broker.
func (s *Service) Unwatch(id string, requesterID presence.RequesterID) error {
	if requesterID == recorderRequester {
		return fmt.Errorf("%w: %q", ErrInvalidRequester, requesterID)
	}
	b, err := s.broker(id)
	if err != nil {
		return err
	}
	b.RemoveRequester(requesterID)
	return nil
}

// UnwatchAll removes a requester from every broker.
func (s *Service) UnwatchAll(requesterID presence.RequesterID) {
	if requesterID == recorderRequester {
		return
	}
	s.mu.RLock()
	brokers := make([]*presence.Broker, 0, len(s.entries))
	for _, e := range s.entries {
		brokers = append(brokers, e.broker)
	}
	s.mu.RUnlock()

	for _, b := range brokers {
		b.RemoveRequester(requesterID)
	}
}

// Devices returns every tracked device, ordered by host.
func (s *Service) Devices() []presence.DeviceInfo {
	return s.registry.List()
}

// DeliverDevicePresence applies a device-wide presence event for host.
//
// Returns:
//   - error: presence.ErrDeviceNotFound if nothing is monitored on host
func (s *Service) DeliverDevicePresence(host string, code presence.ResultCode) error {
	return s.registry.DeliverPresence(host, code)
}

// History returns recent transitions for a monitor, newest first. Released
// monitors keep their history until it is pruned.
func (s *Service) History(ctx context.Context, id string, limit int) ([]Transition, error) {
	if s.sinks.History == nil {
		return []Transition{}, nil
	}
	return s.sinks.History.GetHistory(ctx, id, limit)
}

// Prune deletes history older than the configured retention.
func (s *Service) Prune(ctx context.Context) (int64, error) {
	if s.sinks.History == nil || s.retention <= 0 {
		return 0, nil
	}
	return s.sinks.History.PruneHistory(ctx, s.retention)
}

// Close destroys every broker, stops the recorder after it drains and
// unsubscribes from device presence. Persisted targets are kept.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	if s.stop != nil {
		s.stop()
	}
	entries := s.entries
	s.entries = make(map[string]*entry)
	s.byResource = make(map[string]string)
	s.mu.Unlock()

	var errs []error
	if started && s.bus != nil {
		if err := s.bus.Unsubscribe(mqtt.Topics{}.AllDevicePresence()); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribing from device presence: %w", err))
		}
	}

	for _, e := range entries {
		e.broker.Destroy()
	}

	s.wg.Wait()
	s.recorder.Close()

	s.logger.Info("monitor service stopped", "monitors", len(entries))
	return errors.Join(errs...)
}

func (s *Service) broker(id string) (*presence.Broker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, ErrTargetNotFound
	}
	return e.broker, nil
}

// startLocked creates the broker for t and attaches the recorder.
func (s *Service) startLocked(t Target) error {
	res, err := s.resources(t)
	if err != nil {
		return err
	}

	// The recorder may fire before NewBroker returns. Brokers start polling,
	// so that is the mode until the broker is known.
	var owner atomic.Pointer[presence.Broker]
	record := func(state presence.State) {
		mode := presence.ModeNonPresence
		if b := owner.Load(); b != nil {
			mode = b.Mode()
		}
		s.recorder.Enqueue(Transition{
			MonitorID: t.ID,
			URI:       t.URI,
			Host:      t.Host,
			State:     state,
			Mode:      mode,
			Timestamp: s.now().UTC(),
		})
	}

	b := presence.NewBroker(observe(res, t.Transport, s.sinks, s.now), presence.Options{
		Config:     s.cfg,
		Timers:     s.timers,
		Table:      s.table,
		Registry:   s.registry,
		Logger:     s.logger,
		Now:        s.now,
		Requesters: []presence.Registration{{ID: recorderRequester, Callback: record}},
	})
	owner.Store(b)

	s.entries[t.ID] = &entry{target: t, broker: b}
	s.byResource[resourceKey(t.Host, t.URI)] = t.ID
	return nil
}

// handleDevicePresence is the MQTT handler for device presence events.
// The payload is {"result":"ok"} using the snake_case result code names.
func (s *Service) handleDevicePresence(topic string, payload []byte) error {
	host := mqtt.LastSegment(topic)

	var msg devicePresencePayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decoding device presence from %s: %w", host, err)
	}

	err := s.registry.DeliverPresence(host, presence.ParseResultCode(msg.Result))
	if errors.Is(err, presence.ErrDeviceNotFound) {
		s.logger.Debug("presence event for unmonitored device", "host", host)
		return nil
	}
	return err
}

// onDeviceState publishes device-wide state changes as retained messages.
func (s *Service) onDeviceState(host string, state presence.State) {
	if s.bus == nil {
		return
	}
	event := DeviceEvent{Host: host, State: state, Timestamp: s.now().UTC()}
	if err := s.bus.PublishJSON(mqtt.Topics{}.DeviceState(host), event, true); err != nil {
		s.logger.Warn("publishing device state", "host", host, "error", err)
	}
}

func (s *Service) pruneLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Prune(ctx)
			if err != nil {
				s.logger.Warn("pruning presence history", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Info("pruned presence history", "rows", n)
			}
		}
	}
}

func (s *Service) updateGaugesLocked() {
	if s.sinks.Metrics == nil {
		return
	}
	s.sinks.Metrics.SetBrokers(len(s.entries))
	s.sinks.Metrics.SetDevices(len(s.registry.List()))
}

func resourceKey(host, uri string) string {
	return host + "\x00" + uri
}
