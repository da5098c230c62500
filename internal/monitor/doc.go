// Package monitor is the application service of the presence broker.
//
// It owns one presence.Broker per monitored resource, persists the set of
// monitored targets, feeds device-wide presence events from MQTT into the
// device registry, and fans every state transition out to storage and the
// rest of the installation.
//
// # Data Flow
//
//	probe (MQTT/HTTP) ──► Broker ──► recorder requester ──► Recorder
//	                         │                                 ├─► SQLite history
//	                         └─► watchers (API, WebSocket)     ├─► MQTT retained state
//	                                                           ├─► InfluxDB point
//	                                                           ├─► AMQP event
//	                                                           └─► Prometheus counters
//
// Transitions reach the Recorder through a bounded queue so broker callbacks
// never wait on I/O.
//
// # Usage
//
//	svc, err := monitor.New(monitor.Options{
//	    Config:    presenceCfg,
//	    Timers:    timers,
//	    Targets:   monitor.NewSQLiteTargetRepository(db.DB),
//	    Resources: monitor.NewResourceFactory(prober, probe.HTTPOptions{}),
//	    Sinks:     monitor.Sinks{History: monitor.NewSQLiteHistoryRepository(db.DB)},
//	    Bus:       mqttClient,
//	})
//	if err := svc.Start(ctx); err != nil {
//	    return err
//	}
//	defer svc.Close()
//
//	target, err := svc.Monitor(ctx, monitor.Target{URI: "/sensors/temp", Host: "bridge-01"})
package monitor
