package models

import "fmt"

// BeaconEvent is one already-parsed check-in from an implant. Nil pointer
// fields mean the value was absent from the check-in.
type BeaconEvent struct {
	ImplantID             string  `json:"implant_id"`
	Address               *string `json:"address"`
	OperatingSystem       *string `json:"operating_system"`
	BeaconIntervalSeconds *int64  `json:"beacon_interval_seconds"`
}

// NewBeaconEvent creates a beacon event with every field present
func NewBeaconEvent(implantID, address, os string, intervalSeconds int64) BeaconEvent {
	return BeaconEvent{
		ImplantID:             implantID,
		Address:               &address,
		OperatingSystem:       &os,
		BeaconIntervalSeconds: &intervalSeconds,
	}
}

// AddressValue returns the reported address or "" when absent
func (b BeaconEvent) AddressValue() string {
	if b.Address == nil {
		return ""
	}
	return *b.Address
}

// OperatingSystemValue returns the reported OS or "" when absent
func (b BeaconEvent) OperatingSystemValue() string {
	if b.OperatingSystem == nil {
		return ""
	}
	return *b.OperatingSystem
}

// IntervalValue returns the declared interval or 0 when absent
func (b BeaconEvent) IntervalValue() int64 {
	if b.BeaconIntervalSeconds == nil {
		return 0
	}
	return *b.BeaconIntervalSeconds
}

func (b BeaconEvent) String() string {
	interval := "<nil>"
	if b.BeaconIntervalSeconds != nil {
		interval = fmt.Sprintf("%d", *b.BeaconIntervalSeconds)
	}
	return fmt.Sprintf("{implant_id: %q, address: %q, os: %q, interval: %s}",
		b.ImplantID, b.AddressValue(), b.OperatingSystemValue(), interval)
}
