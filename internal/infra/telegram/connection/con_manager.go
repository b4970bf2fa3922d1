// Package connection — менеджер состояния MTProto-соединения.
// Сервис держит по клиенту на задачу мониторинга плюс клиент чёрного списка,
// поэтому менеджер не глобальный: каждый клиент несёт собственный экземпляр.
// Возможности:
//   - WaitOnline(ctx) — блокирует до восстановления связи, если клиент офлайн;
//   - MarkConnected/MarkDisconnected — явные переходы между состояниями;
//   - мониторинг с периодическими RPC-вызовами и детекцией сетевых сбоев;
//   - безопасная остановка и «генерационный» канал ожидания для снятия гонок.
//
// Менеджер потокобезопасен: взаимодействие с ожидателями ведётся через снимки
// wait-канала, а сетевые ошибки нормализуются через HandleError.
package connection

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gotd/td/pool"
	"github.com/gotd/td/rpc"
	"github.com/gotd/td/telegram"

	"pvz-monitor/internal/infra/logger"
)

const (
	// reconnectPingInterval — период легковесных RPC-вызовов при ожидании
	// восстановления соединения.
	reconnectPingInterval = 10 * time.Second
	// reconnectPingTimeout — максимальное время ожидания ответа на RPC-вызов.
	reconnectPingTimeout = 5 * time.Second
)

// Manager хранит ссылку на клиент, текущее состояние online/offline и
// «поколенческий» канал ожидания восстановления (waitCh). Когда связь теряется,
// создаётся новый открытый канал и стартует monitorLoop; при восстановлении
// канал закрывается, что неблокирующим образом снимает все ожидатели.
type Manager struct {
	client *telegram.Client
	ctx    context.Context
	label  string

	connected atomic.Bool

	mu            sync.RWMutex
	waitCh        chan struct{}
	monitorCancel context.CancelFunc
}

// New создаёт менеджер поверх заданного клиента и контекста жизненного цикла.
// По умолчанию состояние — online: создаётся закрытый waitCh, чтобы текущие
// вызовы WaitOnline не блокировались. label попадает в логи (обычно task_id).
func New(ctx context.Context, client *telegram.Client, label string) *Manager {
	m := &Manager{
		client: client,
		ctx:    ctx,
		label:  label,
	}
	m.connected.Store(true)
	ready := make(chan struct{})
	close(ready)
	m.waitCh = ready
	return m
}

// Online сообщает текущее состояние.
func (m *Manager) Online() bool {
	return m != nil && m.connected.Load()
}

// WaitOnline блокирует вызывающую горутину до восстановления соединения или
// отмены контекста. Если уже online, возвращает сразу. Логика использует
// «снимки» канала ожидания: проснувшись по старому закрытому каналу, цикл
// продолжится до закрытия канала текущего поколения.
func (m *Manager) WaitOnline(ctx context.Context) {
	if m == nil || ctx == nil || ctx.Err() != nil {
		return
	}
	if m.connected.Load() {
		return
	}

	logger.Debugf("WaitOnline[%s]: соединение потеряно, ждём восстановления", m.label)

	for {
		ch := m.currentWaitCh()
		select {
		case <-ctx.Done():
			logger.Debugf("WaitOnline[%s]: контекст отменён до восстановления: %v", m.label, ctx.Err())
			return
		case <-ch:
			if ch == m.currentWaitCh() {
				logger.Debugf("WaitOnline[%s]: соединение восстановлено", m.label)
				return
			}
			// попали на старый закрытый канал — ждём дальше
		}
	}
}

// HandleError анализирует ошибку err из RPC-слоя. Если она свидетельствует о
// разрыве соединения, менеджер переводится в offline и возвращается true.
func (m *Manager) HandleError(err error) bool {
	if !IsNetworkError(err) {
		return false
	}
	m.MarkDisconnected()
	return true
}

// MarkConnected переводит менеджер в online, останавливает мониторинг и
// закрывает текущий wait-канал, разблокируя всех ожидателей. Идемпотентен.
func (m *Manager) MarkConnected() {
	if m == nil {
		return
	}
	if m.connected.Swap(true) {
		return
	}

	m.mu.Lock()
	if m.monitorCancel != nil {
		m.monitorCancel()
		m.monitorCancel = nil
	}
	ch := m.waitCh
	if ch == nil {
		ch = make(chan struct{})
		m.waitCh = ch
	}
	select {
	case <-ch:
	default:
		close(ch)
	}
	m.mu.Unlock()

	logger.Infof("ConnectionMonitor[%s]: соединение восстановлено", m.label)
}

// MarkDisconnected переводит менеджер в offline. Идемпотентен: если уже офлайн —
// ничего не делает. Создаёт новое «поколение» wait-канала и запускает monitorLoop.
func (m *Manager) MarkDisconnected() {
	if m == nil {
		return
	}
	if !m.connected.CompareAndSwap(true, false) {
		return
	}

	m.mu.Lock()
	if m.monitorCancel != nil {
		m.monitorCancel()
	}
	m.waitCh = make(chan struct{})
	monitorCtx, cancel := context.WithCancel(m.ctx)
	m.monitorCancel = cancel
	m.mu.Unlock()

	logger.Debugf("ConnectionMonitor[%s]: соединение потеряно, ждём восстановления", m.label)
	go m.monitorLoop(monitorCtx)
}

// Shutdown мягко останавливает мониторинг и закрывает канал ожидания,
// гарантируя, что все заблокированные ожидатели проснутся.
func (m *Manager) Shutdown() {
	if m == nil {
		return
	}

	m.mu.Lock()
	if m.monitorCancel != nil {
		m.monitorCancel()
		m.monitorCancel = nil
	}
	wait := m.waitCh
	m.waitCh = nil
	m.mu.Unlock()

	if wait != nil {
		select {
		case <-wait:
		default:
			close(wait)
		}
	}
}

// currentWaitCh возвращает снимок актуального канала ожидания. Если канал ещё
// не инициализирован (nil), возвращается закрытый, чтобы не блокироваться зря.
func (m *Manager) currentWaitCh() <-chan struct{} {
	m.mu.RLock()
	ch := m.waitCh
	m.mu.RUnlock()
	if ch == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return ch
}

// monitorLoop с периодом reconnectPingInterval выполняет лёгкий RPC-вызов.
// При успехе менеджер переводится в online и цикл завершается. Контекстная
// отмена завершает цикл без шума.
func (m *Manager) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(reconnectPingInterval)
	defer ticker.Stop()

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		attempt++
		start := time.Now()

		pingCtx, cancel := context.WithTimeout(ctx, reconnectPingTimeout)
		err := m.safeSelf(pingCtx)
		cancel()

		if err == nil {
			logger.Debugf("ConnectionMonitor[%s]: RPC ok (attempt=%d, duration=%v)", m.label, attempt, time.Since(start))
			m.MarkConnected()
			return
		}

		switch {
		case errors.Is(err, net.ErrClosed), errors.Is(err, pool.ErrConnDead), errors.Is(err, rpc.ErrEngineClosed):
			logger.Debugf("ConnectionMonitor[%s]: соединение закрыто (attempt=%d): %v", m.label, attempt, err)
		case !IsNetworkError(err):
			logger.Errorf("ConnectionMonitor[%s]: RPC failed (attempt=%d, duration=%v): %v", m.label, attempt, time.Since(start), err)
		default:
			logger.Debugf("ConnectionMonitor[%s]: RPC failed (attempt=%d, duration=%v): %v", m.label, attempt, time.Since(start), err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// safeSelf оборачивает Self() защитой от паник и переводит их в сетевую ошибку.
// Self требует полноценного MTProto-соединения, поэтому успех гарантирует
// готовность API к остальным запросам, в отличие от транспортного пинга.
func (m *Manager) safeSelf(ctx context.Context) (err error) {
	if m.client == nil {
		return net.ErrClosed
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Debugf("ConnectionMonitor[%s]: RPC panic recovered: %v", m.label, r)
			err = net.ErrClosed
		}
	}()

	_, err = m.client.Self(ctx)
	return err
}

// IsNetworkError определяет, сигнализирует ли ошибка о сетевой проблеме/разрыве.
// Сетевыми считаются закрытия соединения/движка (pool.ErrConnDead,
// rpc.ErrEngineClosed), исчерпание ретраев rpc.RetryLimitReachedErr,
// таймауты/дедлайны, EOF и net.Error. Контекстные отмены сетевыми не считаются.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, pool.ErrConnDead) {
		return true
	}
	if errors.Is(err, rpc.ErrEngineClosed) {
		return true
	}
	var retryErr *rpc.RetryLimitReachedErr
	if errors.As(err, &retryErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.EOF) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
