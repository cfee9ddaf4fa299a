// Package validation checks beacon events before they reach the registry.
package validation

import (
	"fmt"
	"math"
	"time"

	"github.com/fleetwatch/beacond/internal/models"
)

// DefaultMinIntervalSeconds is the interval floor; declared intervals must be strictly above it
const DefaultMinIntervalSeconds = 30

// MaxIntervalSeconds is the largest interval representable as a time.Duration
const MaxIntervalSeconds = int64(math.MaxInt64 / int64(time.Second))

// Field names reported by Error, in the order they are checked
const (
	FieldImplantID             = "implant_id"
	FieldAddress               = "address"
	FieldOperatingSystem       = "operating_system"
	FieldBeaconIntervalSeconds = "beacon_interval_seconds"
)

// Error reports the first beacon field that failed validation
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid beacon: %s %s", e.Field, e.Reason)
}

// Beacon validates ev against the interval floor. Fields are checked in a
// fixed order so the reported field is deterministic. A floor below zero is
// treated as zero: intervals are always positive.
func Beacon(ev models.BeaconEvent, minIntervalSeconds int64) error {
	if minIntervalSeconds < 0 {
		minIntervalSeconds = 0
	}
	if ev.ImplantID == "" {
		return &Error{Field: FieldImplantID, Reason: "is required"}
	}
	if ev.Address == nil {
		return &Error{Field: FieldAddress, Reason: "is required"}
	}
	if ev.OperatingSystem == nil {
		return &Error{Field: FieldOperatingSystem, Reason: "is required"}
	}
	if ev.BeaconIntervalSeconds == nil {
		return &Error{Field: FieldBeaconIntervalSeconds, Reason: "is required"}
	}
	if *ev.BeaconIntervalSeconds <= minIntervalSeconds {
		return &Error{
			Field:  FieldBeaconIntervalSeconds,
			Reason: fmt.Sprintf("must be greater than %d, got %d", minIntervalSeconds, *ev.BeaconIntervalSeconds),
		}
	}
	if *ev.BeaconIntervalSeconds > MaxIntervalSeconds {
		return &Error{
			Field:  FieldBeaconIntervalSeconds,
			Reason: fmt.Sprintf("must be at most %d, got %d", MaxIntervalSeconds, *ev.BeaconIntervalSeconds),
		}
	}
	return nil
}
