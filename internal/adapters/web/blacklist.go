package web

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"

	"pvz-monitor/internal/infra/config"
	tgclient "pvz-monitor/internal/infra/telegram/client"
	"pvz-monitor/internal/store"
)

func (s *Server) handleBlacklistCheck(w http.ResponseWriter, r *http.Request) {
	if s.bl == nil {
		writeDetail(w, http.StatusServiceUnavailable, "Сервис черного списка недоступен")
		return
	}

	q := r.URL.Query()
	days := 0
	if raw := q.Get("days"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			days = v
		}
	}

	result := s.bl.Search(r.Context(), q.Get("username"), q.Get("fio"), days, q.Get("blacklist_session_path"))
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleBlacklistChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.st.ListBlacklistChats(r.Context(), false)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	active := 0
	for _, c := range chats {
		if c.Active {
			active++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chats":  chats,
		"total":  len(chats),
		"active": active,
	})
}

func (s *Server) handleBlacklistSync(w http.ResponseWriter, r *http.Request) {
	var entries []store.BlacklistChat
	if err := json.NewDecoder(r.Body).Decode(&entries); err != nil {
		writeDetail(w, http.StatusBadRequest, "некорректное тело запроса: "+err.Error())
		return
	}
	if err := s.st.SyncBlacklistChats(r.Context(), entries); err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"synced": len(entries),
	})
}

func (s *Server) handleBlacklistAdd(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	chatUsername := q.Get("chat_username")
	if chatUsername == "" {
		writeDetail(w, http.StatusBadRequest, "Необходимо указать chat_username")
		return
	}

	topicID, err := optionalTopicID(q.Get("topic_id"))
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "topic_id должен быть числом")
		return
	}

	if err := s.st.AddBlacklistChat(r.Context(), chatUsername, q.Get("chat_title"), topicID, q.Get("topic_name")); err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "Чат добавлен в черный список",
	})
}

func (s *Server) handleBlacklistRemove(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	chatUsername := q.Get("chat_username")
	if chatUsername == "" {
		writeDetail(w, http.StatusBadRequest, "Необходимо указать chat_username")
		return
	}

	topicID, err := optionalTopicID(q.Get("topic_id"))
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "topic_id должен быть числом")
		return
	}

	found, err := s.st.RemoveBlacklistChat(r.Context(), chatUsername, topicID)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeDetail(w, http.StatusNotFound, "Чат не найден")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "Чат удален из черного списка",
	})
}

// handleBlacklistTopics открывает временный клиент без подписки на апдейты и
// возвращает список топиков форумной супергруппы.
func (s *Server) handleBlacklistTopics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	chatUsername := q.Get("chat_username")
	if chatUsername == "" {
		writeDetail(w, http.StatusBadRequest, "Необходимо указать chat_username")
		return
	}

	session := q.Get("blacklist_session_path")
	if session == "" {
		session = config.Env().BlacklistSessionPath
	}

	cl, err := tgclient.New(tgclient.Options{
		SessionPath: session,
		Label:       "topics",
		NoUpdates:   true,
	})
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	cl.Start(r.Context())
	defer cl.Stop()

	if err := cl.WaitReady(r.Context()); err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}

	ch, err := cl.ResolveChat(r.Context(), chatUsername)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	topics, err := cl.ForumTopics(r.Context(), ch)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}

	type topicEntry struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}
	list := make([]topicEntry, 0, len(topics))
	for id, name := range topics {
		list = append(list, topicEntry{ID: id, Name: name})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	writeJSON(w, http.StatusOK, map[string]any{
		"is_forum":   ch.Forum,
		"chat_title": ch.Title,
		"topics":     list,
	})
}

func optionalTopicID(raw string) (*int64, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
