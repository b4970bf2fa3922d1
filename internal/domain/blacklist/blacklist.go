// Package blacklist — поиск работников и работодателей в чатах чёрного списка.
//
// Поиск выполняется в реальном времени по запросу, без кеширования: на время
// запроса открывается отдельная MTProto-сессия (файл сессии ЧС никогда не
// делится с парсером), после ответа клиент закрывается. Три последовательные
// ступени — по нику, по резолвнутому User ID, по токенам ФИО — каждая полным
// проходом по активным чатам реестра, с остановкой на первом совпадении.
package blacklist

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gotd/td/telegram/peers"

	"pvz-monitor/internal/infra/apptime"
	"pvz-monitor/internal/infra/logger"
	tgclient "pvz-monitor/internal/infra/telegram/client"
	"pvz-monitor/internal/store"
)

// DefaultSearchDays — глубина поиска по умолчанию, дней.
const DefaultSearchDays = 365

// Result — итог поиска в ЧС; сериализуется в ответ API как есть.
type Result struct {
	Found bool   `json:"found"`
	Error string `json:"error,omitempty"`

	MatchType     string         `json:"match_type,omitempty"`
	MatchValue    string         `json:"match_value,omitempty"`
	Chat          string         `json:"chat,omitempty"`
	MessageLink   string         `json:"message_link,omitempty"`
	MessageID     int            `json:"message_id,omitempty"`
	MessageDate   string         `json:"message_date,omitempty"`
	ExtractedInfo map[string]any `json:"extracted_info,omitempty"`
	MessageText   string         `json:"message_text,omitempty"`

	Username        string   `json:"username,omitempty"`
	MessagesChecked int      `json:"messages_checked,omitempty"`
	ChatsChecked    []string `json:"chats_checked,omitempty"`
	StepsDone       []string `json:"steps_done,omitempty"`
	Message         string   `json:"message,omitempty"`
}

// Service — движок поиска по чёрному списку.
type Service struct {
	st          *store.Store
	sessionPath string
}

// New создаёт сервис; sessionPath — файл сессии ЧС по умолчанию.
func New(st *store.Store, sessionPath string) *Service {
	return &Service{st: st, sessionPath: sessionPath}
}

// searchState — накопители одного запроса.
type searchState struct {
	checked      int
	chatsChecked []string
}

// Search выполняет трёхступенчатый поиск. sessionPath переопределяет сессию
// по умолчанию (задачи могут держать собственные файлы сессий ЧС).
// Ошибки возвращаются в поле Error, как их ожидает API-слой.
func (s *Service) Search(ctx context.Context, username, fio string, days int, sessionPath string) Result {
	if username == "" && fio == "" {
		return Result{Error: "Необходимо указать username или ФИО для поиска"}
	}
	if username != "" && !strings.HasPrefix(username, "@") {
		username = "@" + username
	}
	if days <= 0 {
		days = DefaultSearchDays
	}

	entries, err := s.st.ListBlacklistChats(ctx, true)
	if err != nil {
		return Result{Error: err.Error()}
	}
	if len(entries) == 0 {
		return Result{Error: "Нет активных чатов черного списка."}
	}

	session := sessionPath
	if session == "" {
		session = s.sessionPath
	}
	logger.Infof("поиск в ЧС: username=%s, fio=%s, чатов: %d", username, fio, len(entries))

	cl, err := tgclient.New(tgclient.Options{
		SessionPath: session,
		Label:       "blacklist",
		NoUpdates:   true,
	})
	if err != nil {
		return Result{Error: err.Error()}
	}
	cl.Start(ctx)
	defer cl.Stop()
	if err := cl.WaitReady(ctx); err != nil {
		return Result{Error: err.Error()}
	}

	timeLimit := apptime.Now().AddDate(0, 0, -days)
	state := &searchState{}
	var steps []string

	if username != "" {
		steps = append(steps, "по никнейму")
		logger.Infof("ЧС шаг 1: поиск по username=%s", username)
		if res, found := s.scan(ctx, cl, entries, timeLimit, matchUsername(username), "username", username, state); found {
			return res
		}

		if userID := resolveUserID(ctx, cl, username); userID != 0 {
			steps = append(steps, "по User ID")
			logger.Infof("ЧС шаг 2: %s → user_id=%d", username, userID)
			if res, found := s.scan(ctx, cl, entries, timeLimit, matchUserID(userID), "user_id", strconv.FormatInt(userID, 10), state); found {
				return res
			}
		}
	}

	if fio != "" {
		if words := fioWords(fio); len(words) > 0 {
			steps = append(steps, "по ФИО")
			logger.Infof("ЧС шаг 3: поиск по ФИО=%v", words)
			if res, found := s.scan(ctx, cl, entries, timeLimit, matchFIO(words), "fio", fio, state); found {
				return res
			}
		}
	}

	logger.Infof("в ЧС не найден (проверено %d сообщений, шаги: %v)", state.checked, steps)
	return Result{
		Found:           false,
		Username:        username,
		MessagesChecked: state.checked,
		ChatsChecked:    state.chatsChecked,
		StepsDone:       steps,
		Message:         "В черном списке не найден",
	}
}

// scan — один проход по всем чатам реестра с одним критерием.
// Недоступные чаты пропускаются, поиск продолжается.
func (s *Service) scan(ctx context.Context, cl *tgclient.Client, entries []store.BlacklistChat,
	timeLimit time.Time, match matcher, matchType, matchValue string, state *searchState) (Result, bool) {

	firstPass := state.chatsChecked == nil

	for _, entry := range entries {
		if ctx.Err() != nil {
			return Result{}, false
		}
		chatUser, topicID := normalizeEntry(entry)

		ch, err := cl.ResolveChat(ctx, chatUser)
		if err != nil {
			logger.Errorf("ЧС: чат %s недоступен: %v", chatUser, err)
			continue
		}
		if firstPass {
			state.chatsChecked = append(state.chatsChecked, chatUser)
		}

		var hit *tgclient.Message
		fn := func(m tgclient.Message) error {
			state.checked++
			if state.checked%500 == 0 {
				logger.Debugf("ЧС [%s]: проверено %d сообщений", matchType, state.checked)
			}
			if m.Text == "" {
				return nil
			}
			if match(m.Text) {
				hit = &m
				return tgclient.ErrStopIteration
			}
			return nil
		}

		for {
			if topicID != nil {
				err = cl.TopicHistory(ctx, ch, *topicID, timeLimit, fn)
			} else {
				err = cl.History(ctx, ch, timeLimit, fn)
			}
			if err == nil {
				break
			}
			if tgclient.SleepOnFloodWait(ctx, err) {
				continue
			}
			logger.Errorf("ЧС: обход %s: %v", chatUser, err)
			break
		}

		if hit != nil {
			logger.Infof("найден в ЧС (%s) в чате %s", matchType, chatUser)
			return buildFound(*hit, matchType, matchValue, chatUser, topicID), true
		}
	}
	return Result{}, false
}

// normalizeEntry разбирает устаревший формат "@chat/topic_id" реестра.
func normalizeEntry(entry store.BlacklistChat) (string, *int64) {
	chatUser, topicID := entry.ChatUsername, entry.TopicID
	if idx := strings.LastIndex(chatUser, "/"); idx >= 0 {
		if id, err := strconv.ParseInt(chatUser[idx+1:], 10, 64); err == nil {
			if topicID == nil {
				topicID = &id
			}
			chatUser = chatUser[:idx]
		}
	}
	return chatUser, topicID
}

// resolveUserID резолвит @username в числовой ID через кэш пиров клиента.
// Неудача не фатальна: ступень поиска по ID просто пропускается.
func resolveUserID(ctx context.Context, cl *tgclient.Client, username string) int64 {
	peer, err := cl.Peers().Mgr.ResolveDomain(ctx, strings.TrimPrefix(username, "@"))
	if err != nil {
		logger.Warnf("ЧС: %s не резолвится в user_id: %v", username, err)
		return 0
	}
	if user, ok := peer.(peers.User); ok {
		return user.Raw().ID
	}
	return 0
}

// buildFound собирает результат совпадения: постоянная ссылка (topic-aware),
// дата сообщения в таймзоне приложения, извлечённые поля карточки.
func buildFound(m tgclient.Message, matchType, matchValue, chatUser string, topicID *int64) Result {
	chatName := strings.TrimPrefix(chatUser, "@")
	link := fmt.Sprintf("https://t.me/%s/%d", chatName, m.ID)
	if topicID != nil {
		link = fmt.Sprintf("https://t.me/%s/%d/%d", chatName, *topicID, m.ID)
	}

	return Result{
		Found:         true,
		MatchType:     matchType,
		MatchValue:    matchValue,
		Chat:          chatUser,
		MessageLink:   link,
		MessageID:     m.ID,
		MessageDate:   apptime.FromUnix(m.Unix).Format(store.TimeLayout),
		ExtractedInfo: extractInfo(m.Text),
		MessageText:   m.Text,
	}
}
