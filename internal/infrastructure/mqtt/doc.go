// Package mqtt provides MQTT client connectivity for the presence service.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// MQTT is the bus between the presence service and the devices it watches.
// Probes go out on per-host request topics, answers come back on per-host
// response topics, and devices announce themselves on device topics:
//
//	presence service ──request/{host}──▶ broker ──▶ device or bridge
//	presence service ◀─response/{host}── broker ◀── device or bridge
//	presence service ◀─device/{host}──── broker ◀── device or bridge
//
// Every state transition is republished, retained, on state/{id}.
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllDevicePresence(), 1,
//	    func(topic string, payload []byte) error {
//	        host := mqtt.LastSegment(topic)
//	        log.Printf("presence from %s: %s", host, payload)
//	        return nil
//	    })
package mqtt
