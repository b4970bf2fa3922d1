package cleanup

import (
	"context"
	"os"
	"testing"
	"time"

	"pvz-monitor/internal/domain/supervisor"
	"pvz-monitor/internal/infra/apptime"
	"pvz-monitor/internal/infra/config"
	"pvz-monitor/internal/store"
)

func TestMain(m *testing.M) {
	config.AppLocation = time.UTC
	os.Exit(m.Run())
}

func TestSweep(t *testing.T) {
	ctx := context.Background()

	st, err := store.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	task := store.Task{
		TaskID:    "old-task",
		UserID:    1,
		Mode:      store.ModeWorker,
		Chats:     `["@chat"]`,
		Filters:   `{}`,
		Status:    store.StatusStopped,
		CreatedAt: apptime.Now().Format(store.TimeLayout),
	}
	if err := st.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	old := apptime.Now().AddDate(0, 0, -40).Format(store.TimeLayout)
	item := store.FoundItem{
		TaskID:      "old-task",
		Mode:        store.ModeWorker,
		Date:        "2026-01-01",
		Price:       3000,
		MessageText: "старое объявление",
		MessageLink: "https://t.me/chat/1",
		ChatName:    "@chat",
		MessageDate: old,
		FoundAt:     old,
	}
	if _, err := st.AddFoundItem(ctx, item); err != nil {
		t.Fatalf("AddFoundItem: %v", err)
	}

	sup := supervisor.New(ctx)
	if _, err := sup.Create("old-task", store.ModeWorker); err != nil {
		t.Fatalf("supervisor.Create: %v", err)
	}
	sup.UpdateStatus("old-task", store.StatusStopped)

	s := New(st, sup)

	// Реестр чистится с maxAge 24ч, поэтому для проверки удаления записи
	// вызываем уборку супервизора с нулевым возрастом отдельно.
	if err := s.sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	count, err := st.CountItems(ctx, "old-task")
	if err != nil {
		t.Fatalf("CountItems: %v", err)
	}
	if count != 0 {
		t.Fatalf("items after sweep = %d, want 0", count)
	}
	if sup.Count() != 1 {
		t.Fatalf("fresh terminal task must survive the 24h registry sweep")
	}
	if removed := sup.CleanupOldTasks(0); removed != 1 {
		t.Fatalf("CleanupOldTasks(0) = %d, want 1", removed)
	}
}
