package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"pvz-monitor/internal/domain/geo"
	"pvz-monitor/internal/domain/supervisor"
	"pvz-monitor/internal/infra/apptime"
	"pvz-monitor/internal/infra/config"
	"pvz-monitor/internal/store"
)

func TestMain(m *testing.M) {
	os.Setenv("API_ID", "12345")
	os.Setenv("API_HASH", "0123456789abcdef")
	if err := config.Load(".env.test-absent"); err != nil {
		panic(err)
	}
	config.AppLocation = time.UTC
	os.Exit(m.Run())
}

func newTestServer(t *testing.T) (*Server, *store.Store, *supervisor.Supervisor) {
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

	sup := supervisor.New(ctx)
	return New(st, sup, nil, g), st, sup
}

func doRequest(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("ответ не JSON: %v: %s", err, rec.Body.String())
	}
	return m
}

func TestBannerAndHealth(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET / = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["service"] != "Workers Service" || body["version"] != "1.0.0" || body["status"] != "running" {
		t.Fatalf("banner = %v", body)
	}

	rec = doRequest(t, s, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || decodeBody(t, rec)["status"] != "healthy" {
		t.Fatalf("GET /health = %d %s", rec.Code, rec.Body.String())
	}
}

func TestStartRejectsBadRequest(t *testing.T) {
	s, _, sup := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"не JSON", "{"},
		{"неизвестный режим", `{"user_id":1,"mode":"boss","chats":["@a"],"notification_chat_id":1,"filters":{"date_from":"2026-02-01","date_to":"2026-02-28"}}`},
		{"пустые чаты", `{"user_id":1,"mode":"worker","chats":[],"notification_chat_id":1,"filters":{"date_from":"2026-02-01","date_to":"2026-02-28"}}`},
		{"кривая дата", `{"user_id":1,"mode":"worker","chats":["@a"],"notification_chat_id":1,"filters":{"date_from":"01.02.2026","date_to":"2026-02-28"}}`},
		{"неизвестный город", `{"user_id":1,"mode":"worker","chats":["@a"],"notification_chat_id":1,"filters":{"date_from":"2026-02-01","date_to":"2026-02-28","city_filter":"ЕКБ"}}`},
	}
	for _, tt := range tests {
		rec := doRequest(t, s, http.MethodPost, "/workers/start", tt.body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: код = %d, хотим 400; тело: %s", tt.name, rec.Code, rec.Body.String())
		}
		if _, ok := decodeBody(t, rec)["detail"]; !ok {
			t.Fatalf("%s: в ответе нет detail", tt.name)
		}
	}
	if sup.Count() != 0 {
		t.Fatalf("отклонённые запросы не должны регистрировать задачи, в реестре %d", sup.Count())
	}
}

func TestStatusAndStop(t *testing.T) {
	s, st, sup := newTestServer(t)
	ctx := context.Background()

	rec := doRequest(t, s, http.MethodGet, "/workers/status/nope", "")
	if rec.Code != http.StatusNotFound || decodeBody(t, rec)["detail"] != "Задача не найдена" {
		t.Fatalf("status 404 = %d %s", rec.Code, rec.Body.String())
	}
	rec = doRequest(t, s, http.MethodPost, "/workers/stop/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("stop 404 = %d", rec.Code)
	}

	task := store.Task{
		TaskID:    "t1",
		UserID:    1,
		Mode:      store.ModeWorker,
		Chats:     `["@chat"]`,
		Filters:   `{}`,
		Status:    store.StatusPending,
		CreatedAt: apptime.Now().Format(store.TimeLayout),
	}
	if err := st.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := sup.Create("t1", store.ModeWorker); err != nil {
		t.Fatalf("supervisor.Create: %v", err)
	}
	sup.UpdateStatus("t1", store.StatusRunning)
	sup.AddStats("t1", 10, 2, 1)

	rec = doRequest(t, s, http.MethodGet, "/workers/status/t1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["task_id"] != "t1" || body["status"] != store.StatusRunning || body["mode"] != store.ModeWorker {
		t.Fatalf("status body = %v", body)
	}
	stats, ok := body["stats"].(map[string]any)
	if !ok || stats["messages_scanned"] != float64(10) || stats["items_found"] != float64(2) {
		t.Fatalf("stats = %v", body["stats"])
	}

	rec = doRequest(t, s, http.MethodPost, "/workers/stop/t1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stop = %d", rec.Code)
	}
	body = decodeBody(t, rec)
	if body["status"] != store.StatusStopped || body["message"] != "Мониторинг остановлен" {
		t.Fatalf("stop body = %v", body)
	}

	stored, err := st.GetTask(ctx, "t1")
	if err != nil || stored == nil {
		t.Fatalf("GetTask: %v, %v", stored, err)
	}
	if stored.Status != store.StatusStopped || stored.StoppedAt == nil {
		t.Fatalf("задача в базе = %+v, хотим stopped со stopped_at", stored)
	}
}

func TestListItems(t *testing.T) {
	s, st, _ := newTestServer(t)
	ctx := context.Background()

	rec := doRequest(t, s, http.MethodGet, "/workers/list/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("list 404 = %d", rec.Code)
	}

	task := store.Task{
		TaskID:    "t1",
		UserID:    1,
		Mode:      store.ModeWorker,
		Chats:     `["@chat"]`,
		Filters:   `{}`,
		Status:    store.StatusRunning,
		CreatedAt: apptime.Now().Format(store.TimeLayout),
	}
	if err := st.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	now := apptime.Now().Format(store.TimeLayout)
	for i, price := range []int{2000, 3000, 4000} {
		item := store.FoundItem{
			TaskID:      "t1",
			Mode:        store.ModeWorker,
			Date:        "2026-02-05",
			Price:       price,
			MessageText: "Выйду завтра",
			MessageLink: fmt.Sprintf("https://t.me/chat/%d", i+1),
			ChatName:    "@chat",
			MessageDate: now,
			FoundAt:     now,
		}
		if _, err := st.AddFoundItem(ctx, item); err != nil {
			t.Fatalf("AddFoundItem: %v", err)
		}
	}

	rec = doRequest(t, s, http.MethodGet, "/workers/list/t1?limit=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list = %d %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["mode"] != store.ModeWorker || body["total"] != float64(2) {
		t.Fatalf("list body = %v", body)
	}
	items, ok := body["items"].([]any)
	if !ok || len(items) != 2 {
		t.Fatalf("items = %v", body["items"])
	}
}

func TestCheckItemNotFound(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/workers/999/check-blacklist", "")
	if rec.Code != http.StatusNotFound || decodeBody(t, rec)["detail"] != "Объявление не найдено" {
		t.Fatalf("check-blacklist = %d %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, s, http.MethodPost, "/workers/abc/check-blacklist", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("нечисловой item_id = %d", rec.Code)
	}
}

func TestBlacklistCheckUnavailable(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/blacklist/check?username=ivan", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("blacklist check без сервиса = %d", rec.Code)
	}
}

func TestBlacklistChatsRegistry(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/blacklist/chats/add?chat_username=%40Blacklist_pvz&chat_title=%D0%A7%D0%A1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("add = %d %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, s, http.MethodPost, "/blacklist/chats/add?chat_username=@other&topic_id=7&topic_name=scam", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("add с топиком = %d %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, s, http.MethodGet, "/blacklist/chats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("chats = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["total"] != float64(2) || body["active"] != float64(2) {
		t.Fatalf("chats body = %v", body)
	}

	rec = doRequest(t, s, http.MethodPost, "/blacklist/chats/remove?chat_username=@other&topic_id=7", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("remove = %d %s", rec.Code, rec.Body.String())
	}
	rec = doRequest(t, s, http.MethodPost, "/blacklist/chats/remove?chat_username=@ghost", "")
	if rec.Code != http.StatusNotFound || decodeBody(t, rec)["detail"] != "Чат не найден" {
		t.Fatalf("remove несуществующего = %d %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, s, http.MethodGet, "/blacklist/chats", "")
	body = decodeBody(t, rec)
	if body["active"] != float64(1) {
		t.Fatalf("после remove active = %v", body["active"])
	}
}

func TestBlacklistSync(t *testing.T) {
	s, st, _ := newTestServer(t)
	ctx := context.Background()

	if err := st.AddBlacklistChat(ctx, "@stale", "", nil, ""); err != nil {
		t.Fatalf("AddBlacklistChat: %v", err)
	}

	rec := doRequest(t, s, http.MethodPost, "/blacklist/chats/sync",
		`[{"chat_username":"@fresh","chat_title":"ЧС","active":true}]`)
	if rec.Code != http.StatusOK {
		t.Fatalf("sync = %d %s", rec.Code, rec.Body.String())
	}
	if decodeBody(t, rec)["synced"] != float64(1) {
		t.Fatalf("synced = %s", rec.Body.String())
	}

	chats, err := st.ListBlacklistChats(ctx, true)
	if err != nil {
		t.Fatalf("ListBlacklistChats: %v", err)
	}
	if len(chats) != 1 || chats[0].ChatUsername != "@fresh" {
		t.Fatalf("после sync активны = %+v", chats)
	}
}

func TestAdminStats(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/admin/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats = %d %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["status"] != "ok" {
		t.Fatalf("stats body = %v", body)
	}
	if _, ok := body["stats"].(map[string]any); !ok {
		t.Fatalf("stats отсутствуют: %v", body)
	}
}

func TestAdminCleanup(t *testing.T) {
	s, st, _ := newTestServer(t)
	ctx := context.Background()

	for _, days := range []string{"0", "366", "abc"} {
		rec := doRequest(t, s, http.MethodPost, "/admin/cleanup?days="+days, "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("cleanup days=%s: код = %d, хотим 400", days, rec.Code)
		}
	}

	task := store.Task{
		TaskID:    "t1",
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
		TaskID:      "t1",
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

	rec := doRequest(t, s, http.MethodPost, "/admin/cleanup?days=30", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("cleanup = %d %s", rec.Code, rec.Body.String())
	}
	if decodeBody(t, rec)["deleted_count"] != float64(1) {
		t.Fatalf("deleted_count = %s", rec.Body.String())
	}
	count, err := st.CountItems(ctx, "t1")
	if err != nil || count != 0 {
		t.Fatalf("после cleanup осталось %d (err=%v)", count, err)
	}
}
