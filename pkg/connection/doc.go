// Package connection provides the retry and state primitives shared by
// device sessions and the infrastructure control channel.
//
// This package handles:
//   - Exponential backoff with jitter for connection attempts
//   - Bounded retry policies passed explicitly to callers
//   - The session state enumeration
//
// # Retry Strategy
//
// Connection attempts use exponential backoff bounded by a RetryPolicy:
//
//  1. Initial delay: 1 second
//  2. Exponential increase: 2s, 4s, 8s
//  3. Maximum delay: 10 seconds
//  4. Give up after MaxAttempts attempts
//
// # Jitter
//
// To avoid a whole fleet reconnecting in lock step after a channel switch:
//
//	actual_delay = base_delay + random(0, base_delay * 0.25)
//
// Authentication failures are never retried; see RetryPolicy.Do.
package connection
