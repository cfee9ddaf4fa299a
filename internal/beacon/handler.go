// Package beacon implements the check-in protocol: validate a beacon,
// upsert the implant, and hand back its next batch of tasks.
package beacon

import (
	"context"
	"errors"
	"fmt"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fleetwatch/beacond/internal/models"
	"github.com/fleetwatch/beacond/internal/validation"
)

// DefaultBatchLimit is the number of tasks returned per beacon when unset
const DefaultBatchLimit = 10

// ValidationError names the first beacon field that failed validation
type ValidationError = validation.Error

// ErrRegistryUnavailable is returned when storage could not complete the beacon
var ErrRegistryUnavailable = errors.New("registry unavailable")

// Upserter records accepted beacons
type Upserter interface {
	Upsert(ctx context.Context, ev models.BeaconEvent) (*models.Implant, error)
	MinIntervalSeconds() int64
}

// Drainer hands out pending tasks
type Drainer interface {
	DrainDue(ctx context.Context, implantID string, maxBatch int) ([]*models.Task, error)
}

// Handler runs one beacon through validate, upsert and dispatch. It never
// retries: each failure is reported once to the caller.
type Handler struct {
	registry   Upserter
	queue      Drainer
	batchLimit int
	tracer     trace.Tracer
}

// NewHandler creates a beacon handler
func NewHandler(registry Upserter, queue Drainer, batchLimit int) *Handler {
	if batchLimit <= 0 {
		batchLimit = DefaultBatchLimit
	}
	return &Handler{
		registry:   registry,
		queue:      queue,
		batchLimit: batchLimit,
		tracer:     otel.Tracer("github.com/fleetwatch/beacond/internal/beacon"),
	}
}

// BatchLimit returns the maximum number of tasks per response
func (h *Handler) BatchLimit() int {
	return h.batchLimit
}

// HandleBeacon processes ev. It returns a *ValidationError for a malformed
// beacon (nothing is stored) and an error wrapping ErrRegistryUnavailable
// when storage fails. The returned batch may hold zero tasks.
func (h *Handler) HandleBeacon(ctx context.Context, ev models.BeaconEvent) (*models.TaskBatch, error) {
	ctx, span := h.tracer.Start(ctx, "beacon.Handle",
		trace.WithAttributes(attribute.String("implant.id", ev.ImplantID)))
	defer span.End()

	// Received
	if err := validation.Beacon(ev, h.registry.MinIntervalSeconds()); err != nil {
		log.Printf("Beacon: rejected %s: %v", ev, err)
		span.SetStatus(codes.Error, "rejected")
		span.RecordError(err)
		return nil, err
	}

	// Upserted
	implant, err := h.registry.Upsert(ctx, ev)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			span.SetStatus(codes.Error, "rejected")
			return nil, err
		}
		log.Printf("Beacon: upsert failed for %s: %v", ev.ImplantID, err)
		span.SetStatus(codes.Error, "upsert failed")
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %w", ErrRegistryUnavailable, err)
	}
	span.AddEvent("upserted")

	// Dispatching
	tasks, err := h.queue.DrainDue(ctx, ev.ImplantID, h.batchLimit)
	if err != nil {
		log.Printf("Beacon: drain failed for %s: %v", ev.ImplantID, err)
		span.SetStatus(codes.Error, "drain failed")
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %w", ErrRegistryUnavailable, err)
	}
	span.SetAttributes(attribute.Int("tasks.dispatched", len(tasks)))

	// Completed
	if len(tasks) > 0 {
		log.Printf("Beacon: dispatched %d task(s) to %s", len(tasks), ev.ImplantID)
	}
	return &models.TaskBatch{
		ImplantID: ev.ImplantID,
		Implant:   implant.Snapshot(),
		Tasks:     tasks,
	}, nil
}
