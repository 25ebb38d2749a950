// Package cloudapi is the transport layer for the provider's REST control
// plane. It contains the resilient call client (bounded retries, linear
// backoff, escalating per-attempt deadlines, typed status classification) and
// the readiness poller for long-running operations and state-transitioning
// resources.
//
// The control plane is slow, eventually consistent, and rate limited; all
// numeric policy here is tunable configuration matched to observed provider
// latency.
package cloudapi
