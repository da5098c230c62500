// Package presence tracks the reachability of remote resources.
//
// A Broker is created per monitored resource. It probes the resource with
// GET requests, arms an expiry timer for every probe, and turns responses and
// timeouts into a small state machine:
//
//	requested ──▶ alive ◀──▶ lost_signal
//	     │          │             │
//	     └──────────┴─────────────┴──▶ destroyed
//
// Every state change is fanned out to the broker's requesters. Identical
// consecutive states are collapsed, so a requester never sees the same state
// twice in a row.
//
// # Race handling
//
// A response and the timeout for the same probe can arrive at almost the same
// instant. Both handlers run under the broker's lock, and the timeout handler
// treats an expiry that lands inside the grace window after a response as a
// benign race instead of a loss. This is what keeps the broker from emitting
// a spurious lost_signal when a response crosses the timer deadline.
//
// # Lifetime
//
// Brokers live in a Table. Timer and response callbacks capture only the
// broker's ID and resolve it at fire time; once Destroy removes the broker
// from the table, any callback still in flight is a no-op. A destroyed broker
// never invokes its requesters again.
//
// # Devices
//
// Resources hosted on the same network endpoint are grouped into a Device by
// the Registry. A Device also receives device-wide presence events and moves
// its resources between passive delivery (ModePresence) and active polling
// (ModeNonPresence).
//
// # Usage
//
//	table := presence.NewTable()
//	registry := presence.NewRegistry(table, timers, presence.DefaultConfig())
//
//	b := presence.NewBroker(resource, presence.Options{
//	    Table:    table,
//	    Timers:   timers,
//	    Registry: registry,
//	})
//	defer b.Destroy()
//
//	b.AddRequester("ui-panel-1", func(s presence.State) {
//	    log.Info("resource state changed", "state", s)
//	})
package presence
