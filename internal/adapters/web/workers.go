package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	botapionotifier "pvz-monitor/internal/adapters/botapi/notifier"
	"pvz-monitor/internal/domain/pipeline"
	"pvz-monitor/internal/infra/apptime"
	"pvz-monitor/internal/infra/config"
	"pvz-monitor/internal/infra/logger"
	"pvz-monitor/internal/store"
)

const defaultListLimit = 50

func (s *Server) handleBanner(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "Workers Service",
		"version": "1.0.0",
		"status":  "running",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// startFilters — фильтры задачи в том виде, в каком их присылает клиент.
// Сохраняются в tasks.filters как JSON; пайплайн разбирает их заново.
type startFilters struct {
	DateFrom   string `json:"date_from" validate:"required,datetime=2006-01-02"`
	DateTo     string `json:"date_to" validate:"required,datetime=2006-01-02"`
	MinPrice   int    `json:"min_price" validate:"min=0"`
	MaxPrice   int    `json:"max_price" validate:"min=0"`
	SHKFilter  string `json:"shk_filter"`
	CityFilter string `json:"city_filter" validate:"omitempty,oneof=МСК СПБ ALL"`
}

type startRequest struct {
	UserID               int64        `json:"user_id" validate:"required"`
	Mode                 string       `json:"mode" validate:"required,oneof=worker employer"`
	Chats                []string     `json:"chats" validate:"required,min=1,dive,required"`
	Filters              startFilters `json:"filters"`
	APIID                int          `json:"api_id"`
	APIHash              string       `json:"api_hash"`
	NotificationBotToken string       `json:"notification_bot_token"`
	NotificationChatID   int64        `json:"notification_chat_id" validate:"required"`
	ParseHistoryDays     int          `json:"parse_history_days" validate:"omitempty,min=1,max=365"`
	SessionPath          *string      `json:"session_path"`
	BlacklistSessionPath *string      `json:"blacklist_session_path"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "некорректное тело запроса: "+err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	env := config.Env()
	chatsJSON, _ := json.Marshal(req.Chats)
	filtersJSON, _ := json.Marshal(req.Filters)

	token := req.NotificationBotToken
	if token == "" {
		token = env.BotToken
	}

	taskID := uuid.NewString()
	now := apptime.Now().Format(store.TimeLayout)
	task := store.Task{
		TaskID:               taskID,
		UserID:               req.UserID,
		Mode:                 req.Mode,
		Chats:                string(chatsJSON),
		Filters:              string(filtersJSON),
		NotificationBotToken: token,
		NotificationChatID:   req.NotificationChatID,
		Status:               store.StatusPending,
		CreatedAt:            now,
		SessionPath:          req.SessionPath,
		BlacklistSessionPath: req.BlacklistSessionPath,
	}
	if err := s.st.CreateTask(r.Context(), task); err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}

	days := req.ParseHistoryDays
	if days <= 0 {
		days = env.ParseHistoryDays
	}

	taskCtx, err := s.sup.Create(taskID, req.Mode)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}

	cfg := pipeline.Config{
		Task:        task,
		Store:       s.st,
		Supervisor:  s.sup,
		Geo:         s.geo,
		HistoryDays: days,
		APIID:       req.APIID,
		APIHash:     req.APIHash,
	}
	// Пустой токен оставляет интерфейс нотификатора nil: пайплайн сохраняет
	// находки, но не шлёт уведомления.
	if token != "" {
		cfg.Notifier = botapionotifier.New(token, req.NotificationChatID, notifierRPS)
	}

	p, err := pipeline.New(cfg)
	if err != nil {
		s.sup.Remove(taskID)
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}

	done := make(chan struct{})
	s.sup.AttachRuntime(taskID, done)
	go func() {
		defer close(done)
		p.Run(taskCtx)
	}()

	logger.Infof("api: задача %s запущена (mode=%s, chats=%d)", taskID, req.Mode, len(req.Chats))
	writeJSON(w, http.StatusOK, map[string]any{
		"task_id":    taskID,
		"status":     store.StatusPending,
		"message":    "Мониторинг запущен",
		"started_at": now,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	info, ok := s.sup.Get(chi.URLParam(r, "task_id"))
	if !ok {
		writeDetail(w, http.StatusNotFound, "Задача не найдена")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	if !s.sup.Stop(taskID) {
		writeDetail(w, http.StatusNotFound, "Задача не найдена")
		return
	}

	stoppedAt := apptime.Now().Format(store.TimeLayout)
	if err := s.st.UpdateTaskStatus(r.Context(), taskID, store.StatusStopped, &stoppedAt); err != nil {
		logger.Errorf("api: задача %s: запись статуса stopped: %v", taskID, err)
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"task_id": taskID,
		"status":  store.StatusStopped,
		"message": "Мониторинг остановлен",
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")

	task, err := s.st.GetTask(r.Context(), taskID)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	if task == nil {
		writeDetail(w, http.StatusNotFound, "Задача не найдена")
		return
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}

	items, err := s.st.ListFoundItems(r.Context(), taskID, limit)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"task_id": taskID,
		"mode":    task.Mode,
		"total":   len(items),
		"items":   items,
	})
}

// handleCheckItem запускает поиск автора ранее найденного объявления по чатам
// чёрного списка.
func (s *Server) handleCheckItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseInt(chi.URLParam(r, "item_id"), 10, 64)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "item_id должен быть числом")
		return
	}

	item, err := s.st.GetFoundItem(r.Context(), itemID)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	if item == nil {
		writeDetail(w, http.StatusNotFound, "Объявление не найдено")
		return
	}
	if s.bl == nil {
		writeDetail(w, http.StatusServiceUnavailable, "Сервис черного списка недоступен")
		return
	}

	var username, fio string
	if item.AuthorUsername != nil {
		username = *item.AuthorUsername
	}
	if item.AuthorFullName != nil {
		fio = *item.AuthorFullName
	}

	// Сессия ЧС берётся из задачи, породившей объявление, если она её задавала.
	var session string
	if task, err := s.st.GetTask(r.Context(), item.TaskID); err == nil && task != nil && task.BlacklistSessionPath != nil {
		session = *task.BlacklistSessionPath
	}

	result := s.bl.Search(r.Context(), username, fio, 0, session)
	writeJSON(w, http.StatusOK, map[string]any{
		"item_id":      itemID,
		"check_status": "completed",
		"result":       result,
	})
}
