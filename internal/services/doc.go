// Package services defines shared utilities consumed by the workflow stage
// handlers and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp tenant, item, stage, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that let the orchestrator
//     decide retry-vs-terminal without stage handlers raising raw faults.
//
// Use these helpers when wiring new stage logic so operational behaviour
// (error handling, observability, retries) stays uniform across the pipeline.
package services
