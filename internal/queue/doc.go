// Package queue persists pipeline state in SQLite: items and their
// append-only stage results, per-platform upload targets, templates,
// tenants, and the per-tenant quota counters.
//
// The store is the single writer surface for durable state. The orchestrator
// mutates item status and stage results; tenant actions mutate overrides and
// template assignments; the quota gate mutates counters through conditional
// atomic updates. Access is safe across a worker pool: claims are
// conditional status transitions and busy SQLite errors are retried with
// capped backoff.
package queue
