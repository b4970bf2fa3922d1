// Package cleanup — фоновая уборка: старые объявления в базе и отработавшие
// задачи в реестре супервизора.
package cleanup

import (
	"context"
	"time"

	"pvz-monitor/internal/domain/supervisor"
	"pvz-monitor/internal/infra/logger"
	"pvz-monitor/internal/store"
)

const (
	// defaultInterval — период уборки.
	defaultInterval = 24 * time.Hour
	// defaultRetryPause — пауза после неудачной уборки.
	defaultRetryPause = time.Hour
	// itemsMaxAgeDays — возраст объявлений, после которого они удаляются.
	itemsMaxAgeDays = 30
	// tasksMaxAge — возраст терминальных записей реестра.
	tasksMaxAge = 24 * time.Hour
)

// Scheduler — цикл фоновой уборки.
type Scheduler struct {
	st  *store.Store
	sup *supervisor.Supervisor

	interval   time.Duration
	retryPause time.Duration
}

// New создаёт планировщик с суточным периодом.
func New(st *store.Store, sup *supervisor.Supervisor) *Scheduler {
	return &Scheduler{
		st:         st,
		sup:        sup,
		interval:   defaultInterval,
		retryPause: defaultRetryPause,
	}
}

// Run крутит цикл уборки до отмены контекста.
func (s *Scheduler) Run(ctx context.Context) {
	logger.Infof("уборка: цикл запущен, период %v", s.interval)
	for {
		pause := s.interval
		if err := s.sweep(ctx); err != nil {
			logger.Errorf("уборка: %v, повтор через %v", err, s.retryPause)
			pause = s.retryPause
		}
		select {
		case <-ctx.Done():
			logger.Infof("уборка: цикл остановлен")
			return
		case <-time.After(pause):
		}
	}
}

// sweep — одна итерация: старые объявления из базы, затем терминальные
// задачи из реестра.
func (s *Scheduler) sweep(ctx context.Context) error {
	deleted, err := s.st.CleanupOldItems(ctx, itemsMaxAgeDays)
	if err != nil {
		return err
	}
	removed := s.sup.CleanupOldTasks(tasksMaxAge)
	if deleted > 0 || removed > 0 {
		logger.Infof("уборка: удалено объявлений %d, задач из реестра %d", deleted, removed)
	}
	return nil
}
