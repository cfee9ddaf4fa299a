// Package liveness runs the periodic sweep that marks silent implants inactive.
package liveness

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fleetwatch/beacond/internal/clock"
	"github.com/fleetwatch/beacond/internal/models"
	"github.com/fleetwatch/beacond/internal/registry"
)

// DefaultSweepInterval is used when no interval is configured
const DefaultSweepInterval = 15 * time.Second

// Registry is the subset of the implant registry the sweep needs
type Registry interface {
	ListAll(ctx context.Context) ([]*models.Implant, error)
	Stale(rec *models.Implant, now time.Time) bool
	MarkInactiveIfStale(ctx context.Context, implantID string, now time.Time) (bool, error)
}

// Evaluator reclassifies active implants whose last beacon is older than
// their interval times the missed-beacon threshold
type Evaluator struct {
	registry Registry
	clock    clock.Clock
	interval time.Duration
	tracer   trace.Tracer

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	mu          sync.Mutex
	sweeps      uint64
	transitions uint64
	sweepErrors uint64
	lastSweep   time.Time
}

// NewEvaluator creates a liveness evaluator with the given sweep interval
func NewEvaluator(reg Registry, clk clock.Clock, interval time.Duration) *Evaluator {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Evaluator{
		registry: reg,
		clock:    clk,
		interval: interval,
		tracer:   otel.Tracer("github.com/fleetwatch/beacond/internal/liveness"),
		done:     make(chan struct{}),
	}
}

// Sweep runs one evaluation pass at the clock's current time and returns the
// number of implants that transitioned to inactive. A failure on one implant
// does not stop the pass; the first such error is returned after it finishes.
func (e *Evaluator) Sweep(ctx context.Context) (int, error) {
	now := e.clock.Now()
	ctx, span := e.tracer.Start(ctx, "liveness.Sweep")
	defer span.End()

	implants, err := e.registry.ListAll(ctx)
	if err != nil {
		e.record(0, now, true)
		span.SetStatus(codes.Error, "list failed")
		span.RecordError(err)
		return 0, err
	}

	var (
		transitioned int
		firstErr     error
	)
	for _, rec := range implants {
		if !rec.Active() || !e.registry.Stale(rec, now) {
			continue
		}
		ok, err := e.registry.MarkInactiveIfStale(ctx, rec.ImplantID, now)
		if errors.Is(err, registry.ErrNotFound) {
			// Deleted since the scan
			continue
		}
		if err != nil {
			log.Printf("Liveness: failed to evaluate %s: %v", rec.ImplantID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			transitioned++
			log.Printf("Liveness: implant %s marked inactive (last seen %s)",
				rec.ImplantID, rec.LastSeenAt.Format(time.RFC3339))
		}
	}

	span.SetAttributes(
		attribute.Int("implants.scanned", len(implants)),
		attribute.Int("implants.transitioned", transitioned),
	)
	if firstErr != nil {
		span.SetStatus(codes.Error, "partial sweep")
	}
	e.record(transitioned, now, firstErr != nil)
	return transitioned, firstErr
}

func (e *Evaluator) record(transitioned int, at time.Time, failed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sweeps++
	e.transitions += uint64(transitioned)
	if failed {
		e.sweepErrors++
	}
	e.lastSweep = at
}

// Start begins the background sweep loop
func (e *Evaluator) Start() {
	e.wg.Add(1)
	go e.sweepLoop()
	log.Printf("Liveness: evaluator started (sweep interval: %v)", e.interval)
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish
func (e *Evaluator) Stop() {
	e.stopOnce.Do(func() {
		close(e.done)
		e.wg.Wait()
		m := e.Metrics()
		log.Printf("Liveness: evaluator stopped (sweeps: %d, transitions: %d, errors: %d)",
			m.Sweeps, m.Transitions, m.SweepErrors)
	})
}

func (e *Evaluator) sweepLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), e.interval)
			if _, err := e.Sweep(ctx); err != nil {
				log.Printf("Liveness: sweep error: %v", err)
			}
			cancel()
		}
	}
}

// Metrics is a point-in-time view of the evaluator's counters
type Metrics struct {
	Sweeps      uint64    `json:"sweeps"`
	Transitions uint64    `json:"transitions"`
	SweepErrors uint64    `json:"sweep_errors"`
	LastSweep   time.Time `json:"last_sweep"`
}

// Metrics returns current evaluator counters
func (e *Evaluator) Metrics() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Metrics{
		Sweeps:      e.sweeps,
		Transitions: e.transitions,
		SweepErrors: e.sweepErrors,
		LastSweep:   e.lastSweep,
	}
}
