package store

import (
	"context"
	"database/sql"

	"github.com/go-faster/errors"

	"pvz-monitor/internal/infra/logger"
)

// CreateTask вставляет новую задачу. Повторный task_id — ошибка.
func (s *Store) CreateTask(ctx context.Context, task Task) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO tasks
		    (task_id, user_id, mode, chats, filters, notification_bot_token,
		     notification_chat_id, status, created_at, stopped_at,
		     session_path, blacklist_session_path)
		VALUES
		    (:task_id, :user_id, :mode, :chats, :filters, :notification_bot_token,
		     :notification_chat_id, :status, :created_at, :stopped_at,
		     :session_path, :blacklist_session_path)`, task)
	if err != nil {
		return errors.Wrap(err, "create task")
	}
	logger.Infof("задача %s создана", task.TaskID)
	return nil
}

// GetTask возвращает задачу по id, nil — если не найдена.
func (s *Store) GetTask(ctx context.Context, taskID string) (*Task, error) {
	var t Task
	err := s.db.GetContext(ctx, &t, "SELECT * FROM tasks WHERE task_id = ?", taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get task")
	}
	return &t, nil
}

// TasksByStatus возвращает все задачи в указанном статусе.
func (s *Store) TasksByStatus(ctx context.Context, status string) ([]Task, error) {
	var tasks []Task
	err := s.db.SelectContext(ctx, &tasks,
		"SELECT * FROM tasks WHERE status = ? ORDER BY created_at", status)
	if err != nil {
		return nil, errors.Wrap(err, "tasks by status")
	}
	return tasks, nil
}

// UpdateTaskStatus обновляет статус задачи; stoppedAt пишется, только если задан.
// Идемпотентна: последняя запись выигрывает.
func (s *Store) UpdateTaskStatus(ctx context.Context, taskID, status string, stoppedAt *string) error {
	var err error
	if stoppedAt != nil {
		_, err = s.db.ExecContext(ctx,
			"UPDATE tasks SET status = ?, stopped_at = ? WHERE task_id = ?",
			status, *stoppedAt, taskID)
	} else {
		_, err = s.db.ExecContext(ctx,
			"UPDATE tasks SET status = ? WHERE task_id = ?", status, taskID)
	}
	if err != nil {
		return errors.Wrap(err, "update task status")
	}
	logger.Infof("статус задачи %s обновлён на %s", taskID, status)
	return nil
}

// ResetActiveTasks переводит running/pending задачи в stopped. Вызывается на
// старте процесса: после падения реальные пайплайны этих задач уже не живут.
func (s *Store) ResetActiveTasks(ctx context.Context, stoppedAt string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET status = ?, stopped_at = ? WHERE status IN (?, ?)",
		StatusStopped, stoppedAt, StatusRunning, StatusPending)
	if err != nil {
		return 0, errors.Wrap(err, "reset active tasks")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "rows affected")
	}
	if n > 0 {
		logger.Warnf("незавершённых задач переведено в stopped: %d", n)
	}
	return n, nil
}
