package registry

import (
	"github.com/fleetwatch/beacond/internal/models"
)

// MergePolicy copies the descriptive fields of an accepted beacon onto an
// existing implant record. Liveness fields are owned by the registry and
// are reset after the policy runs, whatever the policy does.
type MergePolicy interface {
	Merge(dst *models.Implant, ev models.BeaconEvent)
}

// MergeFunc adapts a function to MergePolicy
type MergeFunc func(dst *models.Implant, ev models.BeaconEvent)

// Merge calls f(dst, ev)
func (f MergeFunc) Merge(dst *models.Implant, ev models.BeaconEvent) {
	f(dst, ev)
}

// FullOverwrite replaces every descriptive field with the beacon's value,
// including blank ones. This is the default policy.
var FullOverwrite MergePolicy = MergeFunc(func(dst *models.Implant, ev models.BeaconEvent) {
	dst.Address = ev.AddressValue()
	dst.OperatingSystem = ev.OperatingSystemValue()
	dst.BeaconIntervalSeconds = ev.IntervalValue()
})

// PreserveBlank keeps the stored address and OS when the beacon reports
// them as empty strings.
var PreserveBlank MergePolicy = MergeFunc(func(dst *models.Implant, ev models.BeaconEvent) {
	if addr := ev.AddressValue(); addr != "" {
		dst.Address = addr
	}
	if os := ev.OperatingSystemValue(); os != "" {
		dst.OperatingSystem = os
	}
	dst.BeaconIntervalSeconds = ev.IntervalValue()
})
