// Package notifier delivers worker messages to chats.
//
// Send only enqueues. A small worker pool drains the queue through a shared
// rate limiter and retries failed deliveries with jittered exponential
// backoff. A message that still fails is logged and published as
// eventbus.NotifyFailed; it never reaches the worker that produced it.
package notifier
