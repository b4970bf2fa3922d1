package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/go-faster/errors"

	"pvz-monitor/internal/infra/apptime"
	"pvz-monitor/internal/infra/logger"
)

// NormalizeChatUsername приводит имя чата к каноническому виду реестра:
// нижний регистр, обязательный префикс @.
func NormalizeChatUsername(username string) string {
	u := strings.ToLower(strings.TrimSpace(username))
	if u == "" {
		return u
	}
	if !strings.HasPrefix(u, "@") {
		u = "@" + u
	}
	return u
}

// ListBlacklistChats возвращает записи реестра; activeOnly отсекает мягко
// удалённые.
func (s *Store) ListBlacklistChats(ctx context.Context, activeOnly bool) ([]BlacklistChat, error) {
	query := "SELECT * FROM blacklist_chats ORDER BY chat_username, COALESCE(topic_id, -1)"
	if activeOnly {
		query = "SELECT * FROM blacklist_chats WHERE active = 1 ORDER BY chat_username, COALESCE(topic_id, -1)"
	}
	var chats []BlacklistChat
	if err := s.db.SelectContext(ctx, &chats, query); err != nil {
		return nil, errors.Wrap(err, "list blacklist chats")
	}
	return chats, nil
}

// SyncBlacklistChats полностью заменяет реестр переданным набором.
func (s *Store) SyncBlacklistChats(ctx context.Context, entries []BlacklistChat) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin sync tx")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM blacklist_chats"); err != nil {
		return errors.Wrap(err, "clear blacklist chats")
	}

	now := apptime.Now().Format(TimeLayout)
	for _, e := range entries {
		e.ChatUsername = NormalizeChatUsername(e.ChatUsername)
		if e.ChatUsername == "" {
			continue
		}
		if e.AddedAt == "" {
			e.AddedAt = now
		}
		e.Active = true
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO blacklist_chats
			    (chat_username, chat_title, topic_id, topic_name, active, added_at)
			VALUES (:chat_username, :chat_title, :topic_id, :topic_name, :active, :added_at)`, e)
		if err != nil {
			return errors.Wrap(err, "insert blacklist chat")
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit sync")
	}
	logger.Infof("реестр чатов ЧС синхронизирован: %d записей", len(entries))
	return nil
}

// AddBlacklistChat добавляет запись реестра либо реактивирует существующую
// (уникальность по паре чат+топик).
func (s *Store) AddBlacklistChat(ctx context.Context, chatUsername, chatTitle string, topicID *int64, topicName string) error {
	chatUsername = NormalizeChatUsername(chatUsername)
	if chatUsername == "" {
		return errors.New("empty chat username")
	}

	var title, topic *string
	if chatTitle != "" {
		title = &chatTitle
	}
	if topicName != "" {
		topic = &topicName
	}

	var existingID int64
	err := s.db.GetContext(ctx, &existingID, `
		SELECT id FROM blacklist_chats
		WHERE chat_username = ? AND COALESCE(topic_id, -1) = COALESCE(?, -1)`,
		chatUsername, topicID)
	switch {
	case err == nil:
		_, err = s.db.ExecContext(ctx, `
			UPDATE blacklist_chats
			SET active = 1, chat_title = COALESCE(?, chat_title), topic_name = COALESCE(?, topic_name)
			WHERE id = ?`, title, topic, existingID)
		if err != nil {
			return errors.Wrap(err, "reactivate blacklist chat")
		}
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO blacklist_chats
			    (chat_username, chat_title, topic_id, topic_name, active, added_at)
			VALUES (?, ?, ?, ?, 1, ?)`,
			chatUsername, title, topicID, topic, apptime.Now().Format(TimeLayout))
		if err != nil {
			return errors.Wrap(err, "insert blacklist chat")
		}
	default:
		return errors.Wrap(err, "lookup blacklist chat")
	}

	logger.Infof("чат ЧС добавлен/активирован: %s (topic=%v)", chatUsername, topicID)
	return nil
}

// RemoveBlacklistChat мягко удаляет запись (active=0). Возвращает false,
// если подходящей активной записи не было.
func (s *Store) RemoveBlacklistChat(ctx context.Context, chatUsername string, topicID *int64) (bool, error) {
	chatUsername = NormalizeChatUsername(chatUsername)
	res, err := s.db.ExecContext(ctx, `
		UPDATE blacklist_chats SET active = 0
		WHERE chat_username = ? AND COALESCE(topic_id, -1) = COALESCE(?, -1) AND active = 1`,
		chatUsername, topicID)
	if err != nil {
		return false, errors.Wrap(err, "remove blacklist chat")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "rows affected")
	}
	return n > 0, nil
}

// DBStats собирает сводные метрики базы для административного эндпоинта.
func (s *Store) DBStats(ctx context.Context) (map[string]any, error) {
	stats := map[string]any{}

	queries := map[string]string{
		"total_tasks":           "SELECT COUNT(*) FROM tasks",
		"running_tasks":         "SELECT COUNT(*) FROM tasks WHERE status = 'running'",
		"total_items":           "SELECT COUNT(*) FROM found_items",
		"notified_items":        "SELECT COUNT(*) FROM found_items WHERE notified = 1",
		"blacklist_chats_total": "SELECT COUNT(*) FROM blacklist_chats",
		"blacklist_chats_active": "SELECT COUNT(*) FROM blacklist_chats WHERE active = 1",
	}
	for key, q := range queries {
		var n int
		if err := s.db.GetContext(ctx, &n, q); err != nil {
			return nil, errors.Wrap(err, "stats: "+key)
		}
		stats[key] = n
	}

	var oldest, newest sql.NullString
	if err := s.db.GetContext(ctx, &oldest, "SELECT MIN(found_at) FROM found_items"); err != nil {
		return nil, errors.Wrap(err, "stats: oldest item")
	}
	if err := s.db.GetContext(ctx, &newest, "SELECT MAX(found_at) FROM found_items"); err != nil {
		return nil, errors.Wrap(err, "stats: newest item")
	}
	stats["oldest_item"] = nullableString(oldest)
	stats["newest_item"] = nullableString(newest)
	return stats, nil
}

func nullableString(v sql.NullString) any {
	if v.Valid {
		return v.String
	}
	return nil
}
