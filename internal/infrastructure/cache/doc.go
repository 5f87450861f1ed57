// Package cache provides the idempotency stores used to drop redelivered
// events: a Redis store for multi-instance deployments and an in-process
// store for single-node runs and tests.
package cache
