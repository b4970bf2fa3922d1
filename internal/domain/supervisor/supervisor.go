// Package supervisor ведёт реестр запущенных задач мониторинга.
//
// Каждая запись хранит статус, сигнал отмены и счётчики пайплайна. Реестр
// только в памяти: персистентный статус задачи лежит в store, здесь живёт
// исполнение.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"pvz-monitor/internal/infra/apptime"
	"pvz-monitor/internal/infra/logger"
	"pvz-monitor/internal/store"
)

// Stats — счётчики работающего пайплайна задачи.
type Stats struct {
	MessagesScanned   int64  `json:"messages_scanned"`
	ItemsFound        int64  `json:"items_found"`
	NotificationsSent int64  `json:"notifications_sent"`
	LastUpdate        string `json:"last_update"`
}

// Info — снимок состояния задачи для API.
type Info struct {
	TaskID string `json:"task_id"`
	Mode   string `json:"mode"`
	Status string `json:"status"`
	Stats  Stats  `json:"stats"`
}

type entry struct {
	mode       string
	status     string
	cancel     context.CancelFunc
	done       <-chan struct{} // закрывается, когда пайплайн завершился
	scanned    int64
	found      int64
	notified   int64
	lastUpdate time.Time
}

// Supervisor — потокобезопасный реестр задач.
type Supervisor struct {
	mu   sync.Mutex
	base context.Context
	reg  map[string]*entry
}

// New создаёт супервизор; base — корневой контекст процесса, от которого
// наследуются контексты задач.
func New(base context.Context) *Supervisor {
	return &Supervisor{
		base: base,
		reg:  map[string]*entry{},
	}
}

// Create регистрирует задачу в статусе pending и возвращает её контекст.
// Повторный id — ошибка.
func (s *Supervisor) Create(taskID, mode string) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reg[taskID]; ok {
		return nil, errors.Errorf("задача %s уже зарегистрирована", taskID)
	}
	ctx, cancel := context.WithCancel(s.base)
	s.reg[taskID] = &entry{
		mode:       mode,
		status:     store.StatusPending,
		cancel:     cancel,
		lastUpdate: apptime.Now(),
	}
	logger.Infof("супервизор: задача %s (%s) зарегистрирована", taskID, mode)
	return ctx, nil
}

// AttachRuntime привязывает к задаче канал завершения её пайплайна.
func (s *Supervisor) AttachRuntime(taskID string, done <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.reg[taskID]; ok {
		e.done = done
		e.lastUpdate = apptime.Now()
	}
}

// Get возвращает снимок задачи.
func (s *Supervisor) Get(taskID string) (Info, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.reg[taskID]
	if !ok {
		return Info{}, false
	}
	return snapshot(taskID, e), true
}

// Stats возвращает счётчики задачи.
func (s *Supervisor) Stats(taskID string) (Stats, bool) {
	info, ok := s.Get(taskID)
	return info.Stats, ok
}

// UpdateStatus выставляет статус записи реестра.
func (s *Supervisor) UpdateStatus(taskID, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.reg[taskID]; ok {
		e.status = status
		e.lastUpdate = apptime.Now()
	}
}

// AddStats атомарно добавляет счётчики пайплайна.
func (s *Supervisor) AddStats(taskID string, scanned, found, notified int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.reg[taskID]; ok {
		e.scanned += scanned
		e.found += found
		e.notified += notified
		e.lastUpdate = apptime.Now()
	}
}

// Stop отменяет контекст задачи и переводит её в stopped. Возвращает false,
// если задачи нет в реестре.
func (s *Supervisor) Stop(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.reg[taskID]
	if !ok {
		return false
	}
	e.cancel()
	e.status = store.StatusStopped
	e.lastUpdate = apptime.Now()
	logger.Infof("супервизор: задача %s остановлена", taskID)
	return true
}

// Remove снимает задачу с учёта, предварительно отменив её контекст.
func (s *Supervisor) Remove(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.reg[taskID]; ok {
		e.cancel()
		delete(s.reg, taskID)
	}
}

// StopAll отменяет все задачи реестра. Используется при останове процесса.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.reg {
		e.cancel()
		e.status = store.StatusStopped
		e.lastUpdate = apptime.Now()
		logger.Infof("супервизор: задача %s остановлена (shutdown)", id)
	}
}

// WaitAll блокирует, пока пайплайны всех задач не завершатся, но не дольше
// timeout. Вызывается после StopAll при останове процесса.
func (s *Supervisor) WaitAll(timeout time.Duration) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	s.mu.Lock()
	chans := make([]<-chan struct{}, 0, len(s.reg))
	for _, e := range s.reg {
		if e.done != nil {
			chans = append(chans, e.done)
		}
	}
	s.mu.Unlock()

	for _, done := range chans {
		select {
		case <-done:
		case <-deadline.C:
			logger.Warnf("супервизор: не все задачи завершились за %v", timeout)
			return
		}
	}
}

// Count — число записей в реестре.
func (s *Supervisor) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reg)
}

// CleanupOldTasks удаляет из реестра завершённые задачи, не обновлявшиеся
// дольше maxAge. Возвращает число удалённых.
func (s *Supervisor) CleanupOldTasks(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := apptime.Now().Add(-maxAge)
	removed := 0
	for id, e := range s.reg {
		if !isTerminal(e.status) {
			continue
		}
		if e.lastUpdate.After(cutoff) {
			continue
		}
		e.cancel()
		delete(s.reg, id)
		removed++
	}
	if removed > 0 {
		logger.Infof("супервизор: вычищено завершённых задач: %d", removed)
	}
	return removed
}

func isTerminal(status string) bool {
	switch status {
	case store.StatusStopped, store.StatusFailed, store.StatusAuthError:
		return true
	}
	return false
}

func snapshot(taskID string, e *entry) Info {
	return Info{
		TaskID: taskID,
		Mode:   e.mode,
		Status: e.status,
		Stats: Stats{
			MessagesScanned:   e.scanned,
			ItemsFound:        e.found,
			NotificationsSent: e.notified,
			LastUpdate:        e.lastUpdate.Format(store.TimeLayout),
		},
	}
}
