// Package expiry provides the single-shot timer service used by the
// presence brokers to arm probe timeouts and schedule the next poll.
//
// A callback posted with Post fires at most once. Cancel prevents a callback
// that has not started yet from firing. Handles are never reused, so
// cancelling a stale handle is always harmless.
//
// # Usage
//
//	timers := expiry.New()
//	defer timers.Close()
//
//	h := timers.Post(5*time.Second, func() { log.Info("expired") })
//	timers.Cancel(h)
package expiry
