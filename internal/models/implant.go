package models

import (
	"time"
)

// LivenessState classifies an implant by the recency of its last beacon
type LivenessState string

const (
	LivenessActive   LivenessState = "active"
	LivenessInactive LivenessState = "inactive"
)

// Implant represents a remote agent known to the registry
type Implant struct {
	ImplantID             string        `json:"implant_id"`
	Address               string        `json:"address"`
	OperatingSystem       string        `json:"operating_system"`
	BeaconIntervalSeconds int64         `json:"beacon_interval_seconds"`
	FirstSeenAt           time.Time     `json:"first_seen_at"`
	LastSeenAt            time.Time     `json:"last_seen_at"`
	MissedBeacons         int           `json:"missed_beacons"`
	State                 LivenessState `json:"state"`
	TotalBeacons          int64         `json:"total_beacons"`
}

// NewImplant creates an active implant from its first accepted beacon
func NewImplant(ev BeaconEvent, seenAt time.Time) *Implant {
	return &Implant{
		ImplantID:             ev.ImplantID,
		Address:               ev.AddressValue(),
		OperatingSystem:       ev.OperatingSystemValue(),
		BeaconIntervalSeconds: ev.IntervalValue(),
		FirstSeenAt:           seenAt,
		LastSeenAt:            seenAt,
		MissedBeacons:         0,
		State:                 LivenessActive,
		TotalBeacons:          1,
	}
}

// Active reports whether the implant is currently classified as reachable
func (i *Implant) Active() bool {
	return i.State == LivenessActive
}

// Clone returns a copy that shares no state with the receiver
func (i *Implant) Clone() *Implant {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}

// Snapshot returns the read-only projection handed to external callers
func (i *Implant) Snapshot() ImplantSnapshot {
	return ImplantSnapshot{
		ImplantID:             i.ImplantID,
		Address:               i.Address,
		OperatingSystem:       i.OperatingSystem,
		BeaconIntervalSeconds: i.BeaconIntervalSeconds,
		FirstSeenAt:           i.FirstSeenAt,
		LastSeenAt:            i.LastSeenAt,
		MissedBeacons:         i.MissedBeacons,
		Active:                i.Active(),
	}
}

// ImplantSnapshot is a point-in-time copy of an implant record. It reflects
// the last completed liveness sweep, not a recomputation at read time.
type ImplantSnapshot struct {
	ImplantID             string    `json:"implant_id"`
	Address               string    `json:"address"`
	OperatingSystem       string    `json:"operating_system"`
	BeaconIntervalSeconds int64     `json:"beacon_interval_seconds"`
	FirstSeenAt           time.Time `json:"first_seen_at"`
	LastSeenAt            time.Time `json:"last_seen_at"`
	MissedBeacons         int       `json:"missed_beacons"`
	Active                bool      `json:"active"`
}
