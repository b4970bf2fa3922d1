package store

import (
	"context"
	"database/sql"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/mattn/go-sqlite3"

	"pvz-monitor/internal/infra/apptime"
	"pvz-monitor/internal/infra/logger"
)

// dedupWindow — временное окно двухуровневой дедупликации.
const dedupWindow = 24 * time.Hour

// threshold возвращает ISO-метку «window назад» для сравнения с found_at.
func threshold(window time.Duration) string {
	return apptime.Now().Add(-window).Format(TimeLayout)
}

// CheckContentDuplicate — уровень 1 дедупликации (по содержимому).
//
// Ищутся записи этой задачи с тем же content_hash за последние window.
// Совпадение рабочей даты — дубликат; тот же хэш с другой датой — новое
// объявление (автор перенёс смену).
func (s *Store) CheckContentDuplicate(ctx context.Context, taskID, contentHash, workDate string, window time.Duration) (bool, error) {
	var dates []string
	err := s.db.SelectContext(ctx, &dates, `
		SELECT date FROM found_items
		WHERE task_id = ? AND content_hash = ? AND found_at > ?`,
		taskID, contentHash, threshold(window))
	if err != nil {
		return false, errors.Wrap(err, "check content duplicate")
	}
	if len(dates) == 0 {
		return false, nil
	}
	if slices.Contains(dates, workDate) {
		logger.Debugf("дубликат по содержимому: hash=%.8s, дата работы=%s", contentHash, workDate)
		return true, nil
	}
	logger.Debugf("обновление объявления: hash=%.8s, новая дата=%s, старые=%v", contentHash, workDate, dates)
	return false, nil
}

// CheckAuthorDuplicate — уровень 2 дедупликации (по автору).
//
// Автор + дата работы + цена = уникальная комбинация в пределах окна:
// смена цены или дня — новое объявление, перепост в другой чат — дубликат.
// Анонимные сообщения (без username) не проверяются.
func (s *Store) CheckAuthorDuplicate(ctx context.Context, taskID, authorUsername, workDate string, price int, window time.Duration) (bool, error) {
	if authorUsername == "" {
		return false, nil
	}
	var id int64
	err := s.db.GetContext(ctx, &id, `
		SELECT id FROM found_items
		WHERE task_id = ? AND author_username = ? AND date = ? AND price = ? AND found_at > ?
		LIMIT 1`,
		taskID, authorUsername, workDate, price, threshold(window))
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "check author duplicate")
	}
	logger.Debugf("дубликат по автору: %s, дата=%s, цена=%d", authorUsername, workDate, price)
	return true, nil
}

// AddFoundItem добавляет объявление, выполняя обе проверки дедупликации и
// полагаясь на уникальность (task_id, message_link) как последний рубеж.
// Возвращает nil без ошибки, если объявление отклонено как дубликат.
func (s *Store) AddFoundItem(ctx context.Context, item FoundItem) (*int64, error) {
	if item.ContentHash != nil && *item.ContentHash != "" {
		dup, err := s.CheckContentDuplicate(ctx, item.TaskID, *item.ContentHash, item.Date, dedupWindow)
		if err != nil {
			return nil, err
		}
		if dup {
			return nil, nil
		}
	}

	author := ""
	if item.AuthorUsername != nil {
		author = *item.AuthorUsername
	}
	dup, err := s.CheckAuthorDuplicate(ctx, item.TaskID, author, item.Date, item.Price, dedupWindow)
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, nil
	}

	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO found_items
		    (task_id, mode, author_username, author_full_name, author_id, date, price,
		     shk, location, city, metro_station, district,
		     message_text, message_link, chat_name, topic_id, topic_name,
		     message_date, found_at, notified, content_hash)
		VALUES
		    (:task_id, :mode, :author_username, :author_full_name, :author_id, :date, :price,
		     :shk, :location, :city, :metro_station, :district,
		     :message_text, :message_link, :chat_name, :topic_id, :topic_name,
		     :message_date, :found_at, :notified, :content_hash)`, item)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			logger.Debugf("дубликат по message_link пропущен: %s", item.MessageLink)
			return nil, nil
		}
		return nil, errors.Wrap(err, "insert found item")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "last insert id")
	}
	logger.Infof("добавлено объявление: %s", item.MessageLink)
	return &id, nil
}

// ListFoundItems возвращает объявления задачи, новые первыми.
func (s *Store) ListFoundItems(ctx context.Context, taskID string, limit int) ([]FoundItem, error) {
	var items []FoundItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM found_items WHERE task_id = ? ORDER BY found_at DESC LIMIT ?",
		taskID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list found items")
	}
	return items, nil
}

// GetFoundItem возвращает объявление по id, nil — если не найдено.
func (s *Store) GetFoundItem(ctx context.Context, itemID int64) (*FoundItem, error) {
	var item FoundItem
	err := s.db.GetContext(ctx, &item, "SELECT * FROM found_items WHERE id = ?", itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get found item")
	}
	return &item, nil
}

// MarkNotified помечает объявление отправленным.
func (s *Store) MarkNotified(ctx context.Context, itemID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE found_items SET notified = 1 WHERE id = ?", itemID)
	return errors.Wrap(err, "mark notified")
}

// CountItems — всего объявлений по задаче.
func (s *Store) CountItems(ctx context.Context, taskID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM found_items WHERE task_id = ?", taskID)
	return n, errors.Wrap(err, "count items")
}

// CountNotified — отправленных объявлений по задаче.
func (s *Store) CountNotified(ctx context.Context, taskID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM found_items WHERE task_id = ? AND notified = 1", taskID)
	return n, errors.Wrap(err, "count notified")
}

// CleanupOldItems удаляет объявления старше days дней, возвращает число удалённых.
func (s *Store) CleanupOldItems(ctx context.Context, days int) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM found_items WHERE found_at < ?",
		threshold(time.Duration(days)*24*time.Hour))
	if err != nil {
		return 0, errors.Wrap(err, "cleanup old items")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "rows affected")
	}
	if n > 0 {
		logger.Infof("очистка: удалено объявлений старше %d дней: %d", days, n)
	}
	return n, nil
}
