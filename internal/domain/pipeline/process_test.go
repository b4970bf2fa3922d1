package pipeline

import (
	"context"
	"os"
	"testing"
	"time"

	"pvz-monitor/internal/domain/geo"
	"pvz-monitor/internal/domain/supervisor"
	"pvz-monitor/internal/infra/apptime"
	"pvz-monitor/internal/infra/config"
	tgclient "pvz-monitor/internal/infra/telegram/client"
	"pvz-monitor/internal/store"
)

func TestMain(m *testing.M) {
	config.AppLocation = time.UTC
	os.Exit(m.Run())
}

type fakeNotifier struct {
	sent  []int64
	texts []string
}

func (f *fakeNotifier) Send(_ context.Context, _ store.FoundItem, itemID int64, _ string) bool {
	f.sent = append(f.sent, itemID)
	return true
}

func (f *fakeNotifier) SendText(_ context.Context, text string) bool {
	f.texts = append(f.texts, text)
	return true
}

const testFilters = `{"date_from":"2026-02-01","date_to":"2026-02-28","min_price":1000,"max_price":5000,"shk_filter":"любое","city_filter":"ALL"}`

func newTestPipeline(t *testing.T, mode, chats, filters string) (*Pipeline, *store.Store, *supervisor.Supervisor, *fakeNotifier, context.Context) {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	g, err := geo.New()
	if err != nil {
		t.Fatalf("geo.New: %v", err)
	}

	task := store.Task{
		TaskID:    "task-1",
		UserID:    1,
		Mode:      mode,
		Chats:     chats,
		Filters:   filters,
		Status:    store.StatusPending,
		CreatedAt: apptime.Now().Format(store.TimeLayout),
	}
	if err := st.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	sup := supervisor.New(ctx)
	taskCtx, err := sup.Create(task.TaskID, mode)
	if err != nil {
		t.Fatalf("supervisor.Create: %v", err)
	}

	fn := &fakeNotifier{}
	p, err := New(Config{
		Task:        task,
		Store:       st,
		Supervisor:  sup,
		Notifier:    fn,
		Geo:         g,
		HistoryDays: 3,
	})
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	return p, st, sup, fn, taskCtx
}

func testMessage(id int, text string) tgclient.Message {
	return tgclient.Message{
		ID:             id,
		Unix:           time.Date(2026, 2, 4, 12, 0, 0, 0, time.UTC).Unix(),
		Text:           text,
		AuthorID:       500,
		AuthorUsername: "ivan",
		AuthorFullName: "Иван Петров",
	}
}

func testChat() *tgclient.Chat {
	return &tgclient.Chat{Username: "pvzchat", ID: 100}
}

func TestProcessStoresAndNotifies(t *testing.T) {
	p, st, sup, fn, _ := newTestPipeline(t, store.ModeWorker, `["@pvzchat"]`, testFilters)
	ctx := context.Background()

	p.process(ctx, "@pvzchat", testChat(), testMessage(10, "Выйду завтра, 3000, шк 100-150"))

	items, err := st.ListFoundItems(ctx, "task-1", 10)
	if err != nil {
		t.Fatalf("ListFoundItems: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	item := items[0]
	if item.Date != "2026-02-05" || item.Price != 3000 {
		t.Fatalf("item = %+v", item)
	}
	if item.MessageLink != "https://t.me/pvzchat/10" {
		t.Fatalf("link = %q", item.MessageLink)
	}
	if item.AuthorUsername == nil || *item.AuthorUsername != "@ivan" {
		t.Fatalf("author = %v", item.AuthorUsername)
	}
	if !item.Notified {
		t.Fatal("item must be marked notified after successful send")
	}
	if len(fn.sent) != 1 {
		t.Fatalf("notifier sends = %d, want 1", len(fn.sent))
	}

	stats, ok := sup.Stats("task-1")
	if !ok {
		t.Fatal("stats missing")
	}
	if stats.MessagesScanned != 1 || stats.ItemsFound != 1 || stats.NotificationsSent != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestProcessSkipsRepeatedMessage(t *testing.T) {
	p, st, sup, _, _ := newTestPipeline(t, store.ModeWorker, `["@pvzchat"]`, testFilters)
	ctx := context.Background()

	msg := testMessage(10, "Выйду завтра, 3000")
	p.process(ctx, "@pvzchat", testChat(), msg)
	p.process(ctx, "@pvzchat", testChat(), msg)

	count, err := st.CountItems(ctx, "task-1")
	if err != nil {
		t.Fatalf("CountItems: %v", err)
	}
	if count != 1 {
		t.Fatalf("items = %d, want 1", count)
	}
	stats, _ := sup.Stats("task-1")
	if stats.MessagesScanned != 1 {
		t.Fatalf("scanned = %d, want 1 (repeat drops before counting)", stats.MessagesScanned)
	}
}

func TestProcessTopicFilter(t *testing.T) {
	p, st, sup, _, _ := newTestPipeline(t, store.ModeWorker, `["@pvzchat/55"]`, testFilters)
	ctx := context.Background()

	outside := testMessage(10, "Выйду завтра, 3000")
	p.process(ctx, "@pvzchat", testChat(), outside)

	inside := testMessage(11, "Выйду завтра, 3000")
	inside.TopicID = 55
	p.process(ctx, "@pvzchat", testChat(), inside)

	count, _ := st.CountItems(ctx, "task-1")
	if count != 1 {
		t.Fatalf("items = %d, want 1", count)
	}
	items, _ := st.ListFoundItems(ctx, "task-1", 10)
	if items[0].MessageLink != "https://t.me/pvzchat/55/11" {
		t.Fatalf("link = %q, want topic-aware permalink", items[0].MessageLink)
	}
	stats, _ := sup.Stats("task-1")
	if stats.MessagesScanned != 1 {
		t.Fatalf("scanned = %d, want 1 (topic filter drops before counting)", stats.MessagesScanned)
	}
}

func TestProcessModeMismatch(t *testing.T) {
	p, st, sup, _, _ := newTestPipeline(t, store.ModeEmployer, `["@pvzchat"]`, testFilters)
	ctx := context.Background()

	p.process(ctx, "@pvzchat", testChat(), testMessage(10, "Выйду завтра, 3000"))

	count, _ := st.CountItems(ctx, "task-1")
	if count != 0 {
		t.Fatalf("items = %d, want 0", count)
	}
	stats, _ := sup.Stats("task-1")
	if stats.MessagesScanned != 1 {
		t.Fatalf("scanned = %d, want 1", stats.MessagesScanned)
	}
}

func TestProcessCityGateByText(t *testing.T) {
	mskFilters := `{"date_from":"2026-02-01","date_to":"2026-02-28","min_price":1000,"max_price":5000,"shk_filter":"любое","city_filter":"МСК"}`
	p, st, _, _, _ := newTestPipeline(t, store.ModeWorker, `["@pvzchat"]`, mskFilters)
	ctx := context.Background()

	// Однозначный питерский сигнал в режиме МСК отбрасывается.
	p.process(ctx, "@pvzchat", testChat(), testMessage(10, "Мурино, выйду завтра, 3000"))
	// Сообщение без гео-сигнала в режиме МСК проходит.
	p.process(ctx, "@pvzchat", testChat(), testMessage(11, "Выйду завтра, 2800"))

	items, _ := st.ListFoundItems(ctx, "task-1", 10)
	if len(items) != 1 || items[0].Price != 2800 {
		t.Fatalf("items = %+v, want only the neutral message", items)
	}
}

func TestProcessCityGateByChatTag(t *testing.T) {
	mskFilters := `{"date_from":"2026-02-01","date_to":"2026-02-28","min_price":1000,"max_price":5000,"shk_filter":"любое","city_filter":"МСК"}`
	p, st, _, _, _ := newTestPipeline(t, store.ModeWorker, `["@pvzchat#СПБ"]`, mskFilters)
	ctx := context.Background()

	// Метка чата СПБ противоречит фильтру МСК: текстовая гео-эвристика не
	// вызывается, сообщение отбрасывается по метке.
	p.process(ctx, "@pvzchat", testChat(), testMessage(10, "Выйду завтра, 3000"))

	count, _ := st.CountItems(ctx, "task-1")
	if count != 0 {
		t.Fatalf("items = %d, want 0", count)
	}
}

func TestProcessAfterStopAddsNothing(t *testing.T) {
	p, st, sup, fn, taskCtx := newTestPipeline(t, store.ModeWorker, `["@pvzchat"]`, testFilters)

	// До остановки конвейер работает штатно.
	p.process(taskCtx, "@pvzchat", testChat(), testMessage(10, "Выйду завтра, 3000"))
	count, err := st.CountItems(taskCtx, "task-1")
	if err != nil {
		t.Fatalf("CountItems: %v", err)
	}
	if count != 1 {
		t.Fatalf("items = %d, want 1", count)
	}

	if !sup.Stop("task-1") {
		t.Fatal("Stop must cancel a registered task")
	}

	// Сообщение, пришедшее после остановки, не попадает ни в базу, ни в
	// статистику, ни в уведомления.
	p.process(taskCtx, "@pvzchat", testChat(), testMessage(11, "Выйду послезавтра, 4000"))

	count, err = st.CountItems(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("CountItems: %v", err)
	}
	if count != 1 {
		t.Fatalf("items = %d, want 1 (после Stop новых строк быть не должно)", count)
	}
	stats, _ := sup.Stats("task-1")
	if stats.MessagesScanned != 1 || stats.ItemsFound != 1 {
		t.Fatalf("stats = %+v, want unchanged after stop", stats)
	}
	if len(fn.sent) != 1 {
		t.Fatalf("notifier sends = %d, want 1", len(fn.sent))
	}
}

func TestTopicNameFromText(t *testing.T) {
	t.Parallel()
	tests := []struct {
		text string
		want string
	}{
		{"Смена на завтра. МСК - Озон, пишите в лс", "МСК - Озон"},
		{"СПБ -> WB, выйду в пятницу", "СПБ -> WB"},
		{"Выйду #мск_вб завтра", "#мск_вб"},
		{"Выйду завтра, 3000", ""},
	}
	for _, tt := range tests {
		if got := topicNameFromText(tt.text); got != tt.want {
			t.Fatalf("topicNameFromText(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}
