package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fleetwatch/beacond/internal/clock"
	"github.com/fleetwatch/beacond/internal/events"
	"github.com/fleetwatch/beacond/internal/models"
	"github.com/fleetwatch/beacond/internal/store"
)

var epoch = time.Unix(1700000000, 0).UTC()

func newTestQueue(t *testing.T) (*Queue, *events.Recorder) {
	t.Helper()
	rec := events.NewRecorder(256)
	n := 0
	var mu sync.Mutex
	q := New(store.NewMemoryTasks(), clock.NewManual(epoch),
		WithEvents(rec),
		WithIDGenerator(func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("task-%d", n)
		}))
	return q, rec
}

func payloads(tasks []*models.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.Payload
	}
	return out
}

func TestEnqueueForUnknownImplant(t *testing.T) {
	q, _ := newTestQueue(t)
	task, err := q.Enqueue(context.Background(), "never-seen", "whoami")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if task.ID != "task-1" || task.Status != models.TaskStatusPending || !task.EnqueuedAt.Equal(epoch) {
		t.Fatalf("unexpected task: %+v", task)
	}
}

func TestEnqueueRequiresImplantID(t *testing.T) {
	q, _ := newTestQueue(t)
	if _, err := q.Enqueue(context.Background(), "", "x"); !errors.Is(err, ErrInvalidTask) {
		t.Fatalf("Enqueue err = %v, want ErrInvalidTask", err)
	}
}

func TestDrainDueFIFOAcrossCalls(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	for _, p := range []string{"T1", "T2", "T3"} {
		if _, err := q.Enqueue(ctx, "A1", p); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	first, err := q.DrainDue(ctx, "A1", 2)
	if err != nil {
		t.Fatalf("DrainDue: %v", err)
	}
	if got := fmt.Sprint(payloads(first)); got != "[T1 T2]" {
		t.Fatalf("first drain = %s, want [T1 T2]", got)
	}
	second, err := q.DrainDue(ctx, "A1", 2)
	if err != nil {
		t.Fatalf("DrainDue: %v", err)
	}
	if got := fmt.Sprint(payloads(second)); got != "[T3]" {
		t.Fatalf("second drain = %s, want [T3]", got)
	}
	third, err := q.DrainDue(ctx, "A1", 2)
	if err != nil || third == nil || len(third) != 0 {
		t.Fatalf("empty drain = %v, %v; want empty non-nil slice", third, err)
	}
}

func TestDrainDueEachTaskExactlyOnce(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	const n = 7
	for i := 0; i < n; i++ {
		if _, err := q.Enqueue(ctx, "A1", fmt.Sprintf("p%d", i)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	a, _ := q.DrainDue(ctx, "A1", n)
	b, _ := q.DrainDue(ctx, "A1", n)
	all := append(a, b...)
	if len(all) != n {
		t.Fatalf("drained %d tasks, want %d", len(all), n)
	}
	for i, task := range all {
		if task.Payload != fmt.Sprintf("p%d", i) {
			t.Fatalf("order broken at %d: %v", i, payloads(all))
		}
	}
}

func TestDrainDueConcurrentNoOverlap(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		if _, err := q.Enqueue(ctx, "A1", fmt.Sprintf("p%d", i)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	var (
		mu   sync.Mutex
		seen = map[string]bool{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				batch, err := q.DrainDue(ctx, "A1", 4)
				if err != nil {
					t.Errorf("DrainDue: %v", err)
					return
				}
				if len(batch) == 0 {
					return
				}
				mu.Lock()
				for _, task := range batch {
					if seen[task.ID] {
						t.Errorf("task %s dispatched twice", task.ID)
					}
					seen[task.ID] = true
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(seen) != 100 {
		t.Fatalf("dispatched %d tasks, want 100", len(seen))
	}
}

func TestDrainDueNonPositiveBatch(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	if _, err := q.Enqueue(ctx, "A1", "x"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	got, err := q.DrainDue(ctx, "A1", 0)
	if err != nil || len(got) != 0 {
		t.Fatalf("DrainDue(0) = %v, %v", got, err)
	}
}

func TestCancel(t *testing.T) {
	q, rec := newTestQueue(t)
	ctx := context.Background()

	t1, _ := q.Enqueue(ctx, "A1", "T1")
	t2, _ := q.Enqueue(ctx, "A1", "T2")
	if _, err := q.DrainDue(ctx, "A1", 1); err != nil {
		t.Fatalf("DrainDue: %v", err)
	}

	if err := q.Cancel(ctx, t1.ID); !errors.Is(err, ErrAlreadyDispatched) {
		t.Fatalf("Cancel(dispatched) err = %v, want ErrAlreadyDispatched", err)
	}
	if err := q.Cancel(ctx, t2.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := q.Cancel(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Cancel(missing) err = %v, want ErrNotFound", err)
	}
	if left, _ := q.DrainDue(ctx, "A1", 10); len(left) != 0 {
		t.Fatalf("cancelled task still dispatched: %v", payloads(left))
	}

	var kinds []events.EventType
	for _, ev := range rec.Drain() {
		kinds = append(kinds, ev.EventType)
	}
	want := []events.EventType{events.EventCreate, events.EventCreate, events.EventDispatched, events.EventDelete}
	if fmt.Sprint(kinds) != fmt.Sprint(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
}

func TestListAndGet(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	for _, p := range []string{"T1", "T2", "T3"} {
		if _, err := q.Enqueue(ctx, "A1", p); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if _, err := q.DrainDue(ctx, "A1", 1); err != nil {
		t.Fatalf("DrainDue: %v", err)
	}

	pending, err := q.List(ctx, "A1", false)
	if err != nil || fmt.Sprint(payloads(pending)) != "[T2 T3]" {
		t.Fatalf("List(pending) = %v, %v", payloads(pending), err)
	}
	all, err := q.List(ctx, "A1", true)
	if err != nil || fmt.Sprint(payloads(all)) != "[T1 T2 T3]" {
		t.Fatalf("List(all) = %v, %v", payloads(all), err)
	}

	got, err := q.Get(ctx, "task-1")
	if err != nil || got.Status != models.TaskStatusDispatched || !got.DispatchedAt.Equal(epoch) {
		t.Fatalf("Get = %+v, %v", got, err)
	}
	if _, err := q.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) err = %v", err)
	}
}

type downTasks struct {
	store.TaskBackend
}

func (downTasks) PopPending(context.Context, string, int, time.Time) ([]*models.Task, error) {
	return nil, errors.New("dial tcp: connection refused")
}

func TestDrainDueBackendFailure(t *testing.T) {
	q := New(downTasks{}, clock.NewManual(epoch))
	if _, err := q.DrainDue(context.Background(), "A1", 3); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("DrainDue err = %v, want ErrUnavailable", err)
	}
}
