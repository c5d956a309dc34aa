package stage

import (
	"context"
	"log/slog"

	"lectern/internal/queue"
)

// Handler describes the contract the workflow manager needs from each stage.
type Handler interface {
	Prepare(context.Context, *queue.Item) error
	Execute(context.Context, *queue.Item) error
	HealthCheck(context.Context) Health
}

// LoggerAware lets the manager hand a stage a logger already enriched
// with item and stage fields before execution.
type LoggerAware interface {
	SetLogger(*slog.Logger)
}
