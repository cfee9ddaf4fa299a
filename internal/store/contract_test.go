package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fleetwatch/beacond/internal/models"
)

var epoch = time.Unix(1700000000, 0).UTC()

func putImplant(t *testing.T, b ImplantBackend, rec *models.Implant) {
	t.Helper()
	_, err := b.UpdateImplant(context.Background(), rec.ImplantID, func(*models.Implant) (*models.Implant, error) {
		return rec, nil
	})
	if err != nil {
		t.Fatalf("UpdateImplant(%s): %v", rec.ImplantID, err)
	}
}

func runImplantContract(t *testing.T, b ImplantBackend) {
	ctx := context.Background()
	id := fmt.Sprintf("contract-%d", time.Now().UnixNano())

	if _, err := b.GetImplant(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetImplant(unknown) err = %v, want ErrNotFound", err)
	}

	rec := models.NewImplant(models.NewBeaconEvent(id, "10.0.0.5", "Linux", 300), epoch)
	putImplant(t, b, rec)

	got, err := b.GetImplant(ctx, id)
	if err != nil {
		t.Fatalf("GetImplant: %v", err)
	}
	if got.Address != "10.0.0.5" || got.OperatingSystem != "Linux" || got.BeaconIntervalSeconds != 300 || !got.Active() {
		t.Fatalf("unexpected implant: %+v", got)
	}
	if !got.LastSeenAt.Equal(epoch) {
		t.Fatalf("LastSeenAt = %v, want %v", got.LastSeenAt, epoch)
	}

	// Aborted update leaves the record untouched
	boom := errors.New("boom")
	if _, err := b.UpdateImplant(ctx, id, func(cur *models.Implant) (*models.Implant, error) {
		cur.Address = "mutated"
		return nil, boom
	}); !errors.Is(err, boom) {
		t.Fatalf("UpdateImplant err = %v, want boom", err)
	}
	if got, _ := b.GetImplant(ctx, id); got.Address != "10.0.0.5" {
		t.Fatalf("aborted update leaked: %+v", got)
	}

	// Aborted create leaves nothing behind
	ghost := id + "-ghost"
	if _, err := b.UpdateImplant(ctx, ghost, func(cur *models.Implant) (*models.Implant, error) {
		if cur != nil {
			t.Fatalf("expected nil current for unknown id, got %+v", cur)
		}
		return nil, ErrNotFound
	}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateImplant(ghost) err = %v", err)
	}
	if _, err := b.GetImplant(ctx, ghost); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ghost implant visible: %v", err)
	}

	all, err := b.ListImplants(ctx)
	if err != nil {
		t.Fatalf("ListImplants: %v", err)
	}
	found := false
	for _, i := range all {
		if i.ImplantID == id {
			found = true
		}
		if i.ImplantID == ghost {
			t.Fatalf("ghost implant listed")
		}
	}
	if !found {
		t.Fatalf("ListImplants missing %s", id)
	}

	// Concurrent read-modify-write on the same id loses nothing. Optimistic
	// backends may give up with ErrConflict, which is not a lost update.
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int64
	)
	for n := 0; n < 20; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.UpdateImplant(ctx, id, func(cur *models.Implant) (*models.Implant, error) {
				cur.TotalBeacons++
				return cur, nil
			})
			if errors.Is(err, ErrConflict) {
				return
			}
			if err != nil {
				t.Errorf("concurrent UpdateImplant: %v", err)
				return
			}
			mu.Lock()
			succeeded++
			mu.Unlock()
		}()
	}
	wg.Wait()
	if got, _ := b.GetImplant(ctx, id); got.TotalBeacons != 1+succeeded {
		t.Fatalf("TotalBeacons = %d, want %d", got.TotalBeacons, 1+succeeded)
	}

	if err := b.DeleteImplant(ctx, id); err != nil {
		t.Fatalf("DeleteImplant: %v", err)
	}
	if err := b.DeleteImplant(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second DeleteImplant err = %v, want ErrNotFound", err)
	}
	if _, err := b.GetImplant(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetImplant after delete err = %v", err)
	}
}

func runTaskContract(t *testing.T, b TaskBackend) {
	ctx := context.Background()
	implant := fmt.Sprintf("contract-%d", time.Now().UnixNano())

	empty, err := b.PopPending(ctx, implant, 5, epoch)
	if err != nil || len(empty) != 0 {
		t.Fatalf("PopPending(empty) = %v, %v", empty, err)
	}

	var ids []string
	for i := 1; i <= 3; i++ {
		task := models.NewTask(fmt.Sprintf("%s-T%d", implant, i), implant, fmt.Sprintf("T%d", i), epoch)
		stored, err := b.AppendTask(ctx, task)
		if err != nil {
			t.Fatalf("AppendTask: %v", err)
		}
		if stored.Sequence == 0 || stored.Status != models.TaskStatusPending {
			t.Fatalf("unexpected stored task: %+v", stored)
		}
		ids = append(ids, stored.ID)
	}

	first, err := b.PopPending(ctx, implant, 2, epoch.Add(time.Minute))
	if err != nil {
		t.Fatalf("PopPending: %v", err)
	}
	if len(first) != 2 || first[0].Payload != "T1" || first[1].Payload != "T2" {
		t.Fatalf("first batch = %+v, want [T1 T2]", first)
	}
	for _, task := range first {
		if task.Status != models.TaskStatusDispatched || !task.DispatchedAt.Equal(epoch.Add(time.Minute)) {
			t.Fatalf("task not marked dispatched: %+v", task)
		}
	}

	if err := b.CancelTask(ctx, ids[0]); !errors.Is(err, ErrTaskDispatched) {
		t.Fatalf("CancelTask(dispatched) err = %v, want ErrTaskDispatched", err)
	}
	if err := b.CancelTask(ctx, "no-such-task"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("CancelTask(unknown) err = %v, want ErrNotFound", err)
	}

	pending, err := b.ListTasks(ctx, implant, false)
	if err != nil || len(pending) != 1 || pending[0].Payload != "T3" {
		t.Fatalf("ListTasks(pending) = %+v, %v", pending, err)
	}
	everything, err := b.ListTasks(ctx, implant, true)
	if err != nil || len(everything) != 3 {
		t.Fatalf("ListTasks(all) = %+v, %v", everything, err)
	}
	for i, task := range everything {
		if task.Payload != fmt.Sprintf("T%d", i+1) {
			t.Fatalf("ListTasks order broken at %d: %+v", i, everything)
		}
	}

	second, err := b.PopPending(ctx, implant, 2, epoch.Add(2*time.Minute))
	if err != nil || len(second) != 1 || second[0].Payload != "T3" {
		t.Fatalf("second batch = %+v, %v", second, err)
	}

	got, err := b.GetTask(ctx, ids[2])
	if err != nil || got.Status != models.TaskStatusDispatched {
		t.Fatalf("GetTask = %+v, %v", got, err)
	}
}

func runConcurrentDrainContract(t *testing.T, b TaskBackend) {
	ctx := context.Background()
	implant := fmt.Sprintf("drain-%d", time.Now().UnixNano())
	const total = 40
	for i := 0; i < total; i++ {
		if _, err := b.AppendTask(ctx, models.NewTask(fmt.Sprintf("%s-%d", implant, i), implant, "p", epoch)); err != nil {
			t.Fatalf("AppendTask: %v", err)
		}
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				batch, err := b.PopPending(ctx, implant, 3, epoch)
				if err != nil {
					t.Errorf("PopPending: %v", err)
					return
				}
				if len(batch) == 0 {
					return
				}
				mu.Lock()
				for _, task := range batch {
					seen[task.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("dispatched %d distinct tasks, want %d", len(seen), total)
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("task %s dispatched %d times", id, n)
		}
	}
}

func runTaskTypeContract(t *testing.T, b TaskTypeBackend) {
	ctx := context.Background()
	name := fmt.Sprintf("contract-type-%d", time.Now().UnixNano())
	bare := name + "-bare"
	t.Cleanup(func() {
		_ = b.DeleteTaskType(context.Background(), name)
		_ = b.DeleteTaskType(context.Background(), bare)
	})

	if _, err := b.GetTaskType(ctx, name); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetTaskType(missing) err = %v, want ErrNotFound", err)
	}
	if err := b.CreateTaskType(ctx, &models.TaskType{Name: name, Params: []string{"target", "port"}}); err != nil {
		t.Fatalf("CreateTaskType: %v", err)
	}
	if err := b.CreateTaskType(ctx, &models.TaskType{Name: bare}); err != nil {
		t.Fatalf("CreateTaskType(no params): %v", err)
	}
	if err := b.CreateTaskType(ctx, &models.TaskType{Name: name, Params: []string{"other"}}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("CreateTaskType(duplicate) err = %v, want ErrDuplicate", err)
	}

	got, err := b.GetTaskType(ctx, name)
	if err != nil {
		t.Fatalf("GetTaskType: %v", err)
	}
	if len(got.Params) != 2 || got.Params[0] != "target" || got.Params[1] != "port" {
		t.Fatalf("duplicate create changed the stored type: %+v", got)
	}

	all, err := b.ListTaskTypes(ctx)
	if err != nil {
		t.Fatalf("ListTaskTypes: %v", err)
	}
	seen := 0
	for i, tt := range all {
		if i > 0 && all[i-1].Name >= tt.Name {
			t.Fatalf("ListTaskTypes not ordered by name: %+v", all)
		}
		if tt.Name == name || tt.Name == bare {
			seen++
		}
	}
	if seen != 2 {
		t.Fatalf("ListTaskTypes missing created types: %+v", all)
	}

	if err := b.DeleteTaskType(ctx, name); err != nil {
		t.Fatalf("DeleteTaskType: %v", err)
	}
	if err := b.DeleteTaskType(ctx, name); !errors.Is(err, ErrNotFound) {
		t.Fatalf("DeleteTaskType(twice) err = %v, want ErrNotFound", err)
	}
	if _, err := b.GetTaskType(ctx, name); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetTaskType(deleted) err = %v, want ErrNotFound", err)
	}
}
