package monitor

import (
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-presence/internal/presence"
	"github.com/nerrad567/gray-logic-presence/internal/probe"
)

// ResourceFactory builds the probe handle for a target.
type ResourceFactory func(t Target) (presence.Resource, error)

// NewResourceFactory returns a factory that probes mqtt targets through
// prober and http targets with plain GET requests.
//
// Parameters:
//   - prober: Shared MQTT prober; mqtt targets are rejected when nil
//   - httpOpts: Options for every HTTP probe
func NewResourceFactory(prober *probe.MQTTProber, httpOpts probe.HTTPOptions) ResourceFactory {
	return func(t Target) (presence.Resource, error) {
		switch t.Transport {
		case TransportHTTP:
			return probe.NewHTTPResource(t.Host, t.URI, t.URL, httpOpts), nil
		case TransportMQTT, "":
			if prober == nil {
				return nil, fmt.Errorf("%w: mqtt transport is not available", ErrInvalidTarget)
			}
			return prober.Resource(t.Host, t.URI), nil
		default:
			return nil, fmt.Errorf("%w: unknown transport %q", ErrInvalidTarget, t.Transport)
		}
	}
}

// observedResource reports the latency and outcome of every probe.
type observedResource struct {
	presence.Resource
	transport Transport
	series    TimeSeriesWriter
	metrics   MetricsObserver
	now       func() time.Time
}

// RequestGet implements presence.Resource.
func (r *observedResource) RequestGet(cb func(presence.ResultCode)) {
	start := r.now()
	r.Resource.RequestGet(func(code presence.ResultCode) {
		elapsed := r.now().Sub(start)
		result := code.String()
		if r.metrics != nil {
			r.metrics.ObserveProbe(string(r.transport), result, elapsed)
		}
		if r.series != nil {
			r.series.WriteProbeResult(r.Resource.HostAddress(), r.Resource.URI(), result, elapsed)
		}
		cb(code)
	})
}

// observe wraps res when any probe observer is configured.
func observe(res presence.Resource, transport Transport, sinks Sinks, now func() time.Time) presence.Resource {
	if sinks.Series == nil && sinks.Metrics == nil {
		return res
	}
	if transport == "" {
		transport = TransportMQTT
	}
	return &observedResource{
		Resource:  res,
		transport: transport,
		series:    sinks.Series,
		metrics:   sinks.Metrics,
		now:       now,
	}
}
