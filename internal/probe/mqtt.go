package probe

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-presence/internal/expiry"
	"github.com/nerrad567/gray-logic-presence/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-presence/internal/presence"
)

// DefaultRequestTimeout bounds a probe when MQTTOptions leaves it unset.
const DefaultRequestTimeout = 4 * time.Second

// Bus is the MQTT surface the prober needs. *mqtt.Client satisfies it.
type Bus interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Request is the payload of a probe published to a host.
type Request struct {
	RequestID string    `json:"request_id"`
	URI       string    `json:"uri"`
	Method    string    `json:"method"`
	Timestamp time.Time `json:"timestamp"`
}

// Response is the payload a host publishes to answer a probe.
// Result uses the snake_case result code names, e.g. "ok" or "resource_deleted".
type Response struct {
	RequestID string `json:"request_id"`
	Result    string `json:"result"`
}

// MQTTOptions configures an MQTTProber.
type MQTTOptions struct {
	RequestTimeout time.Duration
	QoS            byte
	Logger         Logger
}

type pendingRequest struct {
	cb      func(presence.ResultCode)
	timeout expiry.Handle
}

// MQTTProber issues probes over MQTT and routes answers back to the caller.
//
// Thread Safety: All methods are safe for concurrent use.
type MQTTProber struct {
	bus     Bus
	timers  presence.Timers
	timeout time.Duration
	qos     byte
	logger  Logger

	mu      sync.Mutex
	started bool
	pending map[string]pendingRequest
}

// NewMQTTProber creates a prober. Call Start before issuing probes.
func NewMQTTProber(bus Bus, timers presence.Timers, opts MQTTOptions) *MQTTProber {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &MQTTProber{
		bus:     bus,
		timers:  timers,
		timeout: opts.RequestTimeout,
		qos:     opts.QoS,
		logger:  opts.Logger,
		pending: make(map[string]pendingRequest),
	}
}

// Start subscribes to probe responses from every host.
func (p *MQTTProber) Start() error {
	if err := p.bus.Subscribe(mqtt.Topics{}.AllProbeResponses(), p.qos, p.handleResponse); err != nil {
		return fmt.Errorf("subscribing to probe responses: %w", err)
	}
	p.mu.Lock()
	p.started = true
	p.mu.Unlock()
	return nil
}

// Stop unsubscribes and completes every outstanding probe with
// ResultCommError.
func (p *MQTTProber) Stop() error {
	p.mu.Lock()
	p.started = false
	outstanding := p.pending
	p.pending = make(map[string]pendingRequest)
	p.mu.Unlock()

	for _, req := range outstanding {
		p.timers.Cancel(req.timeout)
		go req.cb(presence.ResultCommError)
	}

	if err := p.bus.Unsubscribe(mqtt.Topics{}.AllProbeResponses()); err != nil {
		return fmt.Errorf("unsubscribing from probe responses: %w", err)
	}
	return nil
}

// Pending returns the number of probes awaiting an answer.
func (p *MQTTProber) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Resource returns a presence.Resource for uri on host.
func (p *MQTTProber) Resource(host, uri string) *MQTTResource {
	return &MQTTResource{prober: p, host: host, uri: uri}
}

// request registers a pending probe and publishes it in the background.
func (p *MQTTProber) request(host, uri string, cb func(presence.ResultCode)) {
	id := uuid.NewString()

	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		p.logger.Debug("probe issued before start", "host", host, "uri", uri)
		go cb(presence.ResultCommError)
		return
	}
	handle := p.timers.Post(p.timeout, func() {
		p.complete(id, presence.ResultTimeout)
	})
	p.pending[id] = pendingRequest{cb: cb, timeout: handle}
	p.mu.Unlock()

	go p.publish(id, host, uri)
}

func (p *MQTTProber) publish(id, host, uri string) {
	if !mqtt.ValidLevel(host) {
		p.logger.Warn("probe host is not a valid topic level", "host", host)
		p.complete(id, presence.ResultCommError)
		return
	}

	payload, err := json.Marshal(Request{
		RequestID: id,
		URI:       uri,
		Method:    "GET",
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		p.complete(id, presence.ResultCommError)
		return
	}

	if err := p.bus.Publish(mqtt.Topics{}.ProbeRequest(host), payload, p.qos, false); err != nil {
		p.logger.Debug("probe publish failed", "host", host, "uri", uri, "error", err)
		p.complete(id, presence.ResultCommError)
	}
}

// handleResponse is the MQTT handler for probe responses.
func (p *MQTTProber) handleResponse(topic string, payload []byte) error {
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	if resp.RequestID == "" {
		return fmt.Errorf("%w: missing request_id on %s", ErrInvalidResponse, topic)
	}

	if !p.complete(resp.RequestID, presence.ParseResultCode(resp.Result)) {
		p.logger.Debug("late or unknown probe response",
			"host", mqtt.LastSegment(topic),
			"request_id", resp.RequestID,
		)
	}
	return nil
}

// complete finishes a pending probe. Only the first caller for an id wins.
func (p *MQTTProber) complete(id string, code presence.ResultCode) bool {
	p.mu.Lock()
	req, ok := p.pending[id]
	if ok {
		delete(p.pending, id)
	}
	p.mu.Unlock()

	if !ok {
		return false
	}
	p.timers.Cancel(req.timeout)
	req.cb(code)
	return true
}

// MQTTResource is a presence.Resource probed over MQTT.
type MQTTResource struct {
	prober *MQTTProber
	host   string
	uri    string
}

// RequestGet implements presence.Resource.
func (r *MQTTResource) RequestGet(cb func(presence.ResultCode)) {
	r.prober.request(r.host, r.uri, cb)
}

// HostAddress implements presence.Resource.
func (r *MQTTResource) HostAddress() string { return r.host }

// URI implements presence.Resource.
func (r *MQTTResource) URI() string { return r.uri }
