package beacon

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/fleetwatch/beacond/internal/clock"
	"github.com/fleetwatch/beacond/internal/models"
	"github.com/fleetwatch/beacond/internal/registry"
	"github.com/fleetwatch/beacond/internal/store"
	"github.com/fleetwatch/beacond/internal/taskqueue"
	"github.com/fleetwatch/beacond/internal/validation"
)

var epoch = time.Unix(1700000000, 0).UTC()

type fixture struct {
	reg     *registry.Registry
	queue   *taskqueue.Queue
	handler *Handler
}

func newFixture(t *testing.T, batchLimit int) *fixture {
	t.Helper()
	clk := clock.NewManual(epoch)
	reg := registry.New(store.NewMemoryImplants(), clk, registry.DefaultConfig())
	q := taskqueue.New(store.NewMemoryTasks(), clk)
	return &fixture{reg: reg, queue: q, handler: NewHandler(reg, q, batchLimit)}
}

func ptr[T any](v T) *T { return &v }

func TestHandleBeaconRegistersImplant(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	batch, err := f.handler.HandleBeacon(ctx, models.NewBeaconEvent("A1", "10.0.0.5", "Linux", 300))
	if err != nil {
		t.Fatalf("HandleBeacon: %v", err)
	}
	if batch.ImplantID != "A1" || len(batch.Tasks) != 0 || !batch.Implant.Active {
		t.Fatalf("unexpected batch: %+v", batch)
	}

	all, err := f.reg.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != 1 || all[0].ImplantID != "A1" || !all[0].Active() {
		t.Fatalf("registry = %+v, want one active A1", all)
	}
}

func TestHandleBeaconDispatchesQueuedTasks(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	for _, p := range []string{"T1", "T2", "T3"} {
		if _, err := f.queue.Enqueue(ctx, "A1", p); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	batch, err := f.handler.HandleBeacon(ctx, models.NewBeaconEvent("A1", "10.0.0.5", "Linux", 300))
	if err != nil {
		t.Fatalf("HandleBeacon: %v", err)
	}
	if got := fmt.Sprint(batch.Payloads()); got != "[T1 T2]" {
		t.Fatalf("batch = %s, want [T1 T2]", got)
	}

	rest, err := f.queue.DrainDue(ctx, "A1", 2)
	if err != nil {
		t.Fatalf("DrainDue: %v", err)
	}
	if len(rest) != 1 || rest[0].Payload != "T3" {
		t.Fatalf("remaining = %+v, want [T3]", rest)
	}
}

func TestHandleBeaconValidation(t *testing.T) {
	tests := []struct {
		name  string
		ev    models.BeaconEvent
		field string
	}{
		{"empty id", models.NewBeaconEvent("", "10.0.0.5", "Linux", 300), validation.FieldImplantID},
		{"nil address", models.BeaconEvent{ImplantID: "A1", OperatingSystem: ptr("Linux"), BeaconIntervalSeconds: ptr(int64(300))}, validation.FieldAddress},
		{"nil os", models.BeaconEvent{ImplantID: "A1", Address: ptr("10.0.0.5"), BeaconIntervalSeconds: ptr(int64(300))}, validation.FieldOperatingSystem},
		{"interval at floor", models.NewBeaconEvent("A1", "10.0.0.5", "Linux", 30), validation.FieldBeaconIntervalSeconds},
		{"interval below floor", models.NewBeaconEvent("A1", "10.0.0.5", "Linux", 10), validation.FieldBeaconIntervalSeconds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 10)
			ctx := context.Background()
			if _, err := f.queue.Enqueue(ctx, "A1", "keep-me"); err != nil {
				t.Fatalf("Enqueue: %v", err)
			}

			_, err := f.handler.HandleBeacon(ctx, tt.ev)
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Field != tt.field {
				t.Fatalf("HandleBeacon err = %v, want ValidationError(%s)", err, tt.field)
			}
			if errors.Is(err, ErrRegistryUnavailable) {
				t.Fatal("validation failure reported as unavailable")
			}

			if all, _ := f.reg.ListAll(ctx); len(all) != 0 {
				t.Fatalf("rejected beacon created records: %+v", all)
			}
			if pending, _ := f.queue.List(ctx, "A1", false); len(pending) != 1 {
				t.Fatalf("rejected beacon drained tasks: %+v", pending)
			}
		})
	}
}

func TestHandleBeaconRejectionLeavesExistingRecord(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	if _, err := f.handler.HandleBeacon(ctx, models.NewBeaconEvent("A1", "10.0.0.5", "Linux", 300)); err != nil {
		t.Fatalf("HandleBeacon: %v", err)
	}
	if _, err := f.handler.HandleBeacon(ctx, models.NewBeaconEvent("A1", "1.2.3.4", "BSD", 5)); err == nil {
		t.Fatal("expected validation error")
	}
	got, _ := f.reg.Get(ctx, "A1")
	if got.Address != "10.0.0.5" || got.BeaconIntervalSeconds != 300 {
		t.Fatalf("rejected beacon mutated record: %+v", got)
	}
}

type brokenRegistry struct{}

func (brokenRegistry) Upsert(context.Context, models.BeaconEvent) (*models.Implant, error) {
	return nil, fmt.Errorf("upsert: %w", registry.ErrUnavailable)
}

func (brokenRegistry) MinIntervalSeconds() int64 { return 30 }

type countingDrainer struct{ calls int }

func (d *countingDrainer) DrainDue(context.Context, string, int) ([]*models.Task, error) {
	d.calls++
	return nil, nil
}

func TestHandleBeaconRegistryUnavailable(t *testing.T) {
	drainer := &countingDrainer{}
	h := NewHandler(brokenRegistry{}, drainer, 10)

	_, err := h.HandleBeacon(context.Background(), models.NewBeaconEvent("A1", "", "", 60))
	if !errors.Is(err, ErrRegistryUnavailable) {
		t.Fatalf("err = %v, want ErrRegistryUnavailable", err)
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		t.Fatal("unavailable reported as validation error")
	}
	if drainer.calls != 0 {
		t.Fatalf("drain called %d times after failed upsert", drainer.calls)
	}
}

type brokenDrainer struct{}

func (brokenDrainer) DrainDue(context.Context, string, int) ([]*models.Task, error) {
	return nil, taskqueue.ErrUnavailable
}

func TestHandleBeaconQueueUnavailable(t *testing.T) {
	reg := registry.New(store.NewMemoryImplants(), clock.NewManual(epoch), registry.DefaultConfig())
	h := NewHandler(reg, brokenDrainer{}, 10)

	_, err := h.HandleBeacon(context.Background(), models.NewBeaconEvent("A1", "", "", 60))
	if !errors.Is(err, ErrRegistryUnavailable) {
		t.Fatalf("err = %v, want ErrRegistryUnavailable", err)
	}
	// The upsert itself committed
	if _, err := reg.Get(context.Background(), "A1"); err != nil {
		t.Fatalf("Get: %v", err)
	}
}

func TestDefaultBatchLimit(t *testing.T) {
	f := newFixture(t, 0)
	if f.handler.BatchLimit() != DefaultBatchLimit {
		t.Fatalf("BatchLimit = %d, want %d", f.handler.BatchLimit(), DefaultBatchLimit)
	}
}
