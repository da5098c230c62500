// Package probe implements presence.Resource over the transports a building
// installation actually exposes.
//
// MQTTProber publishes GET probes on graylogic/presence/request/{host} and
// matches answers from graylogic/presence/response/{host} by request ID.
// Every probe completes exactly once: with the answered result, with
// ResultTimeout when no answer arrives within the request timeout, or with
// ResultCommError when the request could not be published.
//
// HTTPResource probes a status URL and maps the HTTP outcome to a result code.
//
// Usage:
//
//	prober := probe.NewMQTTProber(mqttClient, timers, probe.MQTTOptions{
//	    RequestTimeout: 4 * time.Second,
//	})
//	if err := prober.Start(); err != nil {
//	    return err
//	}
//	defer prober.Stop()
//
//	res := prober.Resource("10.0.0.5", "/light/kitchen")
//	broker := presence.NewBroker(res, opts)
package probe
