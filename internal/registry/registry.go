// Package registry owns implant records: upsert on beacon, lookups, and the
// liveness transition used by the sweep.
//
// Every write for an implant id runs under that id's lock from a keylock.Map
// and inside a single backend update, so concurrent beacons and sweeps for
// the same implant serialize while different implants proceed in parallel.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/fleetwatch/beacond/internal/clock"
	"github.com/fleetwatch/beacond/internal/events"
	"github.com/fleetwatch/beacond/internal/keylock"
	"github.com/fleetwatch/beacond/internal/models"
	"github.com/fleetwatch/beacond/internal/store"
	"github.com/fleetwatch/beacond/internal/validation"
)

var (
	// ErrNotFound is returned for an implant id the registry has never seen
	ErrNotFound = errors.New("implant not found")
	// ErrUnavailable is returned when the backing store could not complete an operation
	ErrUnavailable = errors.New("implant registry unavailable")
)

// Config tunes registry policy
type Config struct {
	// MinIntervalSeconds is the floor a declared beacon interval must exceed
	MinIntervalSeconds int64
	// MissedBeaconThreshold is the number of whole intervals an implant may
	// miss before it is classified inactive
	MissedBeaconThreshold int
	// StorageTimeout bounds every backend call; zero means no extra bound
	StorageTimeout time.Duration
	Merge          MergePolicy
	Events         events.Publisher
}

// DefaultConfig returns the base policy
func DefaultConfig() Config {
	return Config{
		MinIntervalSeconds:    validation.DefaultMinIntervalSeconds,
		MissedBeaconThreshold: 1,
		StorageTimeout:        5 * time.Second,
		Merge:                 FullOverwrite,
		Events:                events.Discard,
	}
}

// Registry is the keyed store of implant state
type Registry struct {
	backend store.ImplantBackend
	clock   clock.Clock
	locks   *keylock.Map
	cfg     Config
}

// New creates a registry over backend. A non-positive threshold and nil
// Merge or Events fall back to DefaultConfig; MinIntervalSeconds is used as
// given, so zero admits any positive interval.
func New(backend store.ImplantBackend, clk clock.Clock, cfg Config) *Registry {
	def := DefaultConfig()
	if cfg.MissedBeaconThreshold <= 0 {
		cfg.MissedBeaconThreshold = def.MissedBeaconThreshold
	}
	if cfg.Merge == nil {
		cfg.Merge = def.Merge
	}
	if cfg.Events == nil {
		cfg.Events = def.Events
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Registry{
		backend: backend,
		clock:   clk,
		locks:   keylock.New(),
		cfg:     cfg,
	}
}

// MinIntervalSeconds returns the configured interval floor
func (r *Registry) MinIntervalSeconds() int64 {
	return r.cfg.MinIntervalSeconds
}

// MissedBeaconThreshold returns the configured staleness multiplier
func (r *Registry) MissedBeaconThreshold() int {
	return r.cfg.MissedBeaconThreshold
}

// Clock returns the registry's time source
func (r *Registry) Clock() clock.Clock {
	return r.clock
}

func (r *Registry) scoped(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.StorageTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.cfg.StorageTimeout)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// Upsert records an accepted beacon. A new implant id creates an active
// record; a known one has its descriptive fields merged and its liveness
// reset to active with zero missed beacons. lastSeenAt never moves
// backwards. An invalid event returns a *validation.Error and touches nothing.
func (r *Registry) Upsert(ctx context.Context, ev models.BeaconEvent) (*models.Implant, error) {
	if err := validation.Beacon(ev, r.cfg.MinIntervalSeconds); err != nil {
		return nil, err
	}

	unlock := r.locks.Lock(ev.ImplantID)
	defer unlock()

	ctx, cancel := r.scoped(ctx)
	defer cancel()

	now := r.clock.Now()
	created := false
	rec, err := r.backend.UpdateImplant(ctx, ev.ImplantID, func(cur *models.Implant) (*models.Implant, error) {
		// fn may run again when an optimistic backend retries
		created = cur == nil
		if created {
			return models.NewImplant(ev, now), nil
		}
		r.cfg.Merge.Merge(cur, ev)
		if now.After(cur.LastSeenAt) {
			cur.LastSeenAt = now
		}
		cur.MissedBeacons = 0
		cur.State = models.LivenessActive
		cur.TotalBeacons++
		return cur, nil
	})
	if err != nil {
		return nil, unavailable("upsert "+ev.ImplantID, err)
	}

	kind := events.EventEdit
	if created {
		kind = events.EventCreate
		log.Printf("Registry: new implant %s (%s, %s, every %ds)", rec.ImplantID, rec.Address, rec.OperatingSystem, rec.BeaconIntervalSeconds)
	}
	r.publish(kind, rec)
	return rec, nil
}

// Get returns the implant record for implantID
func (r *Registry) Get(ctx context.Context, implantID string) (*models.Implant, error) {
	ctx, cancel := r.scoped(ctx)
	defer cancel()

	rec, err := r.backend.GetImplant(ctx, implantID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, implantID)
	}
	if err != nil {
		return nil, unavailable("get "+implantID, err)
	}
	return rec, nil
}

// ListAll returns every implant record. Order is by implant id.
func (r *Registry) ListAll(ctx context.Context) ([]*models.Implant, error) {
	ctx, cancel := r.scoped(ctx)
	defer cancel()

	recs, err := r.backend.ListImplants(ctx)
	if err != nil {
		return nil, unavailable("list", err)
	}
	return recs, nil
}

// Stale reports whether rec has been silent for longer than its interval
// times the missed-beacon threshold at now.
func (r *Registry) Stale(rec *models.Implant, now time.Time) bool {
	return now.Sub(rec.LastSeenAt) > staleAfter(rec.BeaconIntervalSeconds, r.cfg.MissedBeaconThreshold)
}

// staleAfter returns intervalSeconds*threshold as a duration, saturating at
// the largest representable duration instead of wrapping
func staleAfter(intervalSeconds int64, threshold int) time.Duration {
	const maxSeconds = int64(math.MaxInt64 / int64(time.Second))
	if intervalSeconds <= 0 || threshold <= 0 {
		return 0
	}
	if intervalSeconds > maxSeconds/int64(threshold) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(intervalSeconds*int64(threshold)) * time.Second
}

// missedIntervals counts the whole intervals between lastSeen and now
func missedIntervals(lastSeen, now time.Time, intervalSeconds int64) int {
	if intervalSeconds <= 0 {
		return 0
	}
	elapsed := int64(now.Sub(lastSeen) / time.Second)
	whole := elapsed / intervalSeconds
	if whole > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(whole)
}

// MarkInactiveIfStale re-checks staleness under the implant's lock and, if
// the implant is still active and stale, raises its missed-beacon count and
// marks it inactive. It reports whether a transition happened. An already
// inactive implant, or one that beaconed since the caller looked, is left
// untouched.
func (r *Registry) MarkInactiveIfStale(ctx context.Context, implantID string, now time.Time) (bool, error) {
	unlock := r.locks.Lock(implantID)
	defer unlock()

	ctx, cancel := r.scoped(ctx)
	defer cancel()

	transitioned := false
	rec, err := r.backend.UpdateImplant(ctx, implantID, func(cur *models.Implant) (*models.Implant, error) {
		transitioned = false
		if cur == nil {
			return nil, store.ErrNotFound
		}
		if !cur.Active() || !r.Stale(cur, now) {
			return nil, nil
		}

		missed := cur.MissedBeacons + 1
		if whole := missedIntervals(cur.LastSeenAt, now, cur.BeaconIntervalSeconds); whole > missed {
			missed = whole
		}
		cur.MissedBeacons = missed
		cur.State = models.LivenessInactive
		transitioned = true
		return cur, nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("%w: %s", ErrNotFound, implantID)
	}
	if err != nil {
		return false, unavailable("mark inactive "+implantID, err)
	}

	if transitioned {
		r.publish(events.EventInactive, rec)
	}
	return transitioned, nil
}

// Delete removes an implant record. Tasks queued for it are not touched.
func (r *Registry) Delete(ctx context.Context, implantID string) error {
	unlock := r.locks.Lock(implantID)
	defer unlock()

	ctx, cancel := r.scoped(ctx)
	defer cancel()

	err := r.backend.DeleteImplant(ctx, implantID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, implantID)
	}
	if err != nil {
		return unavailable("delete "+implantID, err)
	}

	log.Printf("Registry: deleted implant %s", implantID)
	r.cfg.Events.Publish(events.Event{
		EntityType: events.EntityImplant,
		EventType:  events.EventDelete,
		EntityID:   implantID,
		At:         r.clock.Now(),
	})
	return nil
}

// Ping checks that the backing store is reachable
func (r *Registry) Ping(ctx context.Context) error {
	ctx, cancel := r.scoped(ctx)
	defer cancel()
	if err := r.backend.Ping(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (r *Registry) publish(kind events.EventType, rec *models.Implant) {
	r.cfg.Events.Publish(events.Event{
		EntityType: events.EntityImplant,
		EventType:  kind,
		EntityID:   rec.ImplantID,
		Entity:     rec.Snapshot(),
		At:         r.clock.Now(),
	})
}
