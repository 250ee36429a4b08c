// Package alert forwards high-signal engine events to an operator chat.
//
// The service subscribes to the event bus and turns a few event types
// (exhausted retries, tick panics, rejected config reloads) into short
// messages. Delivery is asynchronous: a bounded queue feeds a small worker
// pool that rate limits, retries with backoff and drops repeats of the same
// alert inside the dedup window.
//
// # History
//
// The service keeps a short in-memory history of sent alerts for the admin
// health endpoint.
package alert
