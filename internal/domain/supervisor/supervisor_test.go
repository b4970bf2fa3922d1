package supervisor_test

import (
	"context"
	"os"
	"testing"
	"time"

	"pvz-monitor/internal/domain/supervisor"
	"pvz-monitor/internal/infra/config"
	"pvz-monitor/internal/store"
)

func TestMain(m *testing.M) {
	config.AppLocation = time.UTC
	os.Exit(m.Run())
}

func TestCreateAndStop(t *testing.T) {
	t.Parallel()
	sup := supervisor.New(context.Background())

	ctx, err := sup.Create("t1", store.ModeWorker)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := sup.Create("t1", store.ModeWorker); err == nil {
		t.Fatal("duplicate Create must fail")
	}

	info, ok := sup.Get("t1")
	if !ok || info.Status != store.StatusPending || info.Mode != store.ModeWorker {
		t.Fatalf("Get = (%+v, %v), want pending worker", info, ok)
	}

	if !sup.Stop("t1") {
		t.Fatal("Stop must report true for known task")
	}
	select {
	case <-ctx.Done():
	default:
		t.Fatal("task context must be cancelled after Stop")
	}
	info, _ = sup.Get("t1")
	if info.Status != store.StatusStopped {
		t.Fatalf("status after Stop = %s, want stopped", info.Status)
	}

	if sup.Stop("unknown") {
		t.Fatal("Stop(unknown) must report false")
	}
}

func TestStatsAccumulate(t *testing.T) {
	t.Parallel()
	sup := supervisor.New(context.Background())
	if _, err := sup.Create("t1", store.ModeEmployer); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	sup.AddStats("t1", 10, 1, 0)
	sup.AddStats("t1", 5, 2, 2)

	stats, ok := sup.Stats("t1")
	if !ok {
		t.Fatal("Stats must find task")
	}
	if stats.MessagesScanned != 15 || stats.ItemsFound != 3 || stats.NotificationsSent != 2 {
		t.Fatalf("stats = %+v, want 15/3/2", stats)
	}
	if stats.LastUpdate == "" {
		t.Fatal("LastUpdate must be set")
	}
}

func TestCleanupOldTasks(t *testing.T) {
	t.Parallel()
	sup := supervisor.New(context.Background())

	for _, id := range []string{"done", "live", "fresh"} {
		if _, err := sup.Create(id, store.ModeWorker); err != nil {
			t.Fatalf("Create(%s) error: %v", id, err)
		}
	}
	sup.UpdateStatus("done", store.StatusFailed)
	sup.UpdateStatus("live", store.StatusRunning)
	sup.UpdateStatus("fresh", store.StatusStopped)

	// Нулевой возраст выметает все завершённые записи независимо от давности.
	if n := sup.CleanupOldTasks(0); n != 2 {
		t.Fatalf("CleanupOldTasks(0) = %d, want 2", n)
	}
	if _, ok := sup.Get("live"); !ok {
		t.Fatal("running task must survive cleanup")
	}
	if _, ok := sup.Get("done"); ok {
		t.Fatal("terminal task must be removed")
	}
	if sup.Count() != 1 {
		t.Fatalf("Count = %d, want 1", sup.Count())
	}

	// Свежие завершённые записи при большом max_age остаются.
	if _, err := sup.Create("stopped-now", store.ModeWorker); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	sup.UpdateStatus("stopped-now", store.StatusStopped)
	if n := sup.CleanupOldTasks(24 * time.Hour); n != 0 {
		t.Fatalf("CleanupOldTasks(24h) = %d, want 0", n)
	}
}

func TestStopAll(t *testing.T) {
	t.Parallel()
	sup := supervisor.New(context.Background())
	ctx1, _ := sup.Create("a", store.ModeWorker)
	ctx2, _ := sup.Create("b", store.ModeEmployer)
	sup.UpdateStatus("a", store.StatusRunning)

	sup.StopAll()
	for _, ctx := range []context.Context{ctx1, ctx2} {
		select {
		case <-ctx.Done():
		default:
			t.Fatal("all task contexts must be cancelled")
		}
	}
	info, _ := sup.Get("a")
	if info.Status != store.StatusStopped {
		t.Fatalf("status = %s, want stopped", info.Status)
	}
}
