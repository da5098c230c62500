package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-presence/internal/infrastructure/mqtt"
)

const (
	defaultQueueSize = 1024
	sinkTimeout      = 5 * time.Second
)

// StatePublisher publishes retained JSON state. *mqtt.Client satisfies it.
type StatePublisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// TimeSeriesWriter records points. *influxdb.Client satisfies it.
type TimeSeriesWriter interface {
	WriteTransition(monitorID, uri, host, state string, at time.Time)
	WriteProbeResult(host, uri, result string, latency time.Duration)
}

// EventPublisher routes events to a message broker. *amqp.Publisher satisfies it.
type EventPublisher interface {
	Publish(ctx context.Context, suffix string, v any) error
}

// MetricsObserver counts service activity. *metrics.Metrics satisfies it.
type MetricsObserver interface {
	ObserveTransition(state string)
	ObserveProbe(transport, result string, elapsed time.Duration)
	SetBrokers(n int)
	SetDevices(n int)
}

// Sinks are the optional outputs a Recorder fans transitions out to.
// Nil fields are skipped.
type Sinks struct {
	History   HistoryRepository
	Publisher StatePublisher
	Series    TimeSeriesWriter
	Events    EventPublisher
	Metrics   MetricsObserver
}

// Recorder persists and publishes transitions off the broker callback path.
//
// Enqueue never blocks: broker callbacks must return promptly, so a full
// queue drops the transition and logs a warning.
//
// Thread Safety: All methods are safe for concurrent use.
type Recorder struct {
	sinks  Sinks
	logger Logger

	queue chan Transition
	wg    sync.WaitGroup

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewRecorder creates a recorder. queueSize <= 0 uses a default.
func NewRecorder(sinks Sinks, queueSize int, logger Logger) *Recorder {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Recorder{
		sinks:  sinks,
		logger: logger,
		queue:  make(chan Transition, queueSize),
	}
}

// Start launches the worker. Calling Start twice is a no-op.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.closed {
		return
	}
	r.started = true

	r.wg.Add(1)
	go r.run()
}

// Enqueue queues a transition for recording.
//
// Returns:
//   - bool: false if the recorder is closed or the queue is full
func (r *Recorder) Enqueue(tr Transition) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}

	select {
	case r.queue <- tr:
		return true
	default:
		r.logger.Warn("transition dropped, recorder queue full",
			"monitor_id", tr.MonitorID,
			"state", tr.State.String(),
		)
		return false
	}
}

// Close stops accepting transitions and waits for queued ones to be written.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	started := r.started
	r.mu.Unlock()

	if !started {
		// Drain synchronously so nothing queued before Close is lost.
		for tr := range r.queue {
			r.record(tr)
		}
		return
	}
	r.wg.Wait()
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for tr := range r.queue {
		r.record(tr)
	}
}

// record writes one transition to every configured sink. Sink failures are
// logged and do not stop the others.
func (r *Recorder) record(tr Transition) {
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()

	state := tr.State.String()

	if r.sinks.History != nil {
		if err := r.sinks.History.RecordTransition(ctx, tr); err != nil {
			r.logger.Error("recording transition", "monitor_id", tr.MonitorID, "error", err)
		}
	}

	if r.sinks.Publisher != nil {
		if err := r.sinks.Publisher.PublishJSON(mqtt.Topics{}.ResourceState(tr.MonitorID), tr, true); err != nil {
			r.logger.Warn("publishing resource state", "monitor_id", tr.MonitorID, "error", err)
		}
	}

	if r.sinks.Series != nil {
		r.sinks.Series.WriteTransition(tr.MonitorID, tr.URI, tr.Host, state, tr.Timestamp)
	}

	if r.sinks.Events != nil {
		if err := r.sinks.Events.Publish(ctx, state, tr); err != nil {
			r.logger.Warn("publishing transition event", "monitor_id", tr.MonitorID, "error", err)
		}
	}

	if r.sinks.Metrics != nil {
		r.sinks.Metrics.ObserveTransition(state)
	}

	r.logger.Debug("transition recorded",
		"monitor_id", tr.MonitorID,
		"host", tr.Host,
		"state", state,
	)
}
