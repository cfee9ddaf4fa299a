// Package fleet serves read-only views of the implant registry.
//
// Reads never recompute liveness. A snapshot reports the state written by
// the last completed liveness sweep, so an implant that has gone silent
// still reads as active until the next sweep observes it.
package fleet

import (
	"context"

	"github.com/fleetwatch/beacond/internal/models"
)

// Reader is the read side of the implant registry
type Reader interface {
	Get(ctx context.Context, implantID string) (*models.Implant, error)
	ListAll(ctx context.Context) ([]*models.Implant, error)
}

// Service answers fleet listing queries
type Service struct {
	reader Reader
}

// NewService creates a new fleet query service
func NewService(reader Reader) *Service {
	return &Service{reader: reader}
}

// AllImplants returns every known implant
func (s *Service) AllImplants(ctx context.Context) ([]models.ImplantSnapshot, error) {
	return s.ListImplants(ctx, true)
}

// ActiveImplants returns implants whose last sweep left them active
func (s *Service) ActiveImplants(ctx context.Context) ([]models.ImplantSnapshot, error) {
	return s.ListImplants(ctx, false)
}

// ListImplants returns snapshots ordered by implant id, omitting inactive
// implants unless includeInactive is set
func (s *Service) ListImplants(ctx context.Context, includeInactive bool) ([]models.ImplantSnapshot, error) {
	recs, err := s.reader.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]models.ImplantSnapshot, 0, len(recs))
	for _, rec := range recs {
		if !includeInactive && !rec.Active() {
			continue
		}
		out = append(out, rec.Snapshot())
	}
	return out, nil
}

// Get returns one implant's snapshot
func (s *Service) Get(ctx context.Context, implantID string) (models.ImplantSnapshot, error) {
	rec, err := s.reader.Get(ctx, implantID)
	if err != nil {
		return models.ImplantSnapshot{}, err
	}
	return rec.Snapshot(), nil
}
