// Package client — обёртка над gotd для одной пользовательской MTProto-сессии.
//
// Каждая задача мониторинга (и каждый поиск по чёрному списку) получает свой
// экземпляр Client: собственный файл сессии, собственный кэш пиров, собственный
// менеджер соединения. Обёртка скрывает запуск gotd-клиента (floodwait.Waiter
// поверх telegram.Client.Run), готовность API и типовые операции: резолв чата,
// топики форума, история, realtime-подписка.
package client

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/contrib/middleware/ratelimit"
	contribstorage "github.com/gotd/contrib/storage"
	"github.com/gotd/td/telegram"
	tgupdates "github.com/gotd/td/telegram/updates"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"golang.org/x/time/rate"

	"pvz-monitor/internal/infra/config"
	"pvz-monitor/internal/infra/logger"
	"pvz-monitor/internal/infra/telegram/connection"
	"pvz-monitor/internal/infra/telegram/peersmgr"
	"pvz-monitor/internal/infra/telegram/session"
)

// ErrAuthExpired — сессия отсутствует либо отозвана. Терминальная ошибка для
// задачи: без внешней реавторизации клиент работать не будет.
var ErrAuthExpired = errors.New("telegram: сессия авторизации недействительна")

// authErrorCodes — RPC-коды Telegram, означающие мёртвую сессию.
var authErrorCodes = []string{
	"AUTH_KEY_UNREGISTERED",
	"AUTH_KEY_INVALID",
	"SESSION_REVOKED",
	"SESSION_EXPIRED",
	"USER_DEACTIVATED",
}

// IsAuthError распознаёт ошибки авторизации, после которых переподключение
// бессмысленно.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuthExpired) {
		return true
	}
	return tgerr.Is(err, authErrorCodes...)
}

// SleepOnFloodWait проверяет err на FLOOD_WAIT и, если это он, спит указанные
// сервером секунды (плюс секунда запаса), уважая отмену контекста. Возвращает
// true, если ожидание состоялось и вызов стоит повторить.
func SleepOnFloodWait(ctx context.Context, err error) bool {
	d, ok := tgerr.AsFloodWait(err)
	if !ok {
		return false
	}
	wait := d + time.Second
	logger.Warnf("flood wait: пауза %v", wait)
	select {
	case <-ctx.Done():
		return false
	case <-time.After(wait):
		return true
	}
}

// Options — параметры клиента одной сессии.
type Options struct {
	// SessionPath — путь к файлу сессии без расширения (как у исходных скриптов
	// авторизации); клиент добавляет ".session".
	SessionPath string
	// Label помечает логи клиента, обычно task_id.
	Label string
	// NoUpdates отключает realtime-подписку (клиент чёрного списка).
	NoUpdates bool
	// APIID и APIHash переопределяют учётные данные приложения Telegram;
	// нулевые значения берутся из конфигурации.
	APIID   int
	APIHash string
}

// lazyUpdateHandler разрывает цикл инициализации: цепочка обработчиков апдейтов
// заканчивается персистентным хранилищем пиров, а оно создаётся уже после
// telegram.NewClient, которому обработчик нужен в опциях.
type lazyUpdateHandler struct {
	mu      sync.RWMutex
	handler telegram.UpdateHandler
}

func (h *lazyUpdateHandler) Handle(ctx context.Context, u tg.UpdatesClass) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.handler != nil {
		return h.handler.Handle(ctx, u)
	}
	return nil
}

func (h *lazyUpdateHandler) set(real telegram.UpdateHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = real
}

// Client — один живой MTProto-клиент с готовым к работе API.
type Client struct {
	opts       Options
	tg         *telegram.Client
	api        *tg.Client
	waiter     *floodwait.Waiter
	conn       *connection.Manager
	peers      *peersmgr.Service
	dispatcher tg.UpdateDispatcher
	gaps       *tgupdates.Manager

	mu     sync.Mutex
	selfID int64

	ready   chan struct{}
	runDone chan struct{}
	runErr  error
	cancel  context.CancelFunc
}

// New собирает клиент: файловая сессия, floodwait-мидлварь, ratelimit по
// THROTTLE_RPS. Сетевых запросов не делает; подключение происходит в Start.
func New(opts Options) (*Client, error) {
	if opts.SessionPath == "" {
		return nil, errors.New("client: session path is empty")
	}

	c := &Client{
		opts:    opts,
		ready:   make(chan struct{}),
		runDone: make(chan struct{}),
	}

	c.waiter = floodwait.NewWaiter()

	store := &session.FileStorage{
		Path: opts.SessionPath + ".session",
		OnStore: func() {
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			conn.MarkConnected()
		},
	}

	var handler telegram.UpdateHandler
	var lazy *lazyUpdateHandler
	if !opts.NoUpdates {
		c.dispatcher = tg.NewUpdateDispatcher()
		c.gaps = tgupdates.New(tgupdates.Config{Handler: c.dispatcher})
		lazy = &lazyUpdateHandler{}
		handler = lazy
	}

	env := config.Env()
	apiID, apiHash := opts.APIID, opts.APIHash
	if apiID == 0 {
		apiID = env.APIID
	}
	if apiHash == "" {
		apiHash = env.APIHash
	}
	c.tg = telegram.NewClient(apiID, apiHash, telegram.Options{
		SessionStorage: store,
		UpdateHandler:  handler,
		Middlewares: []telegram.Middleware{
			c.waiter,
			ratelimit.New(
				rate.Limit(env.ThrottleRPS),
				env.ThrottleRPS*2, // burst = 2*rate
			),
		},
	})
	c.api = c.tg.API()

	peersvc, err := peersmgr.New(c.api, opts.SessionPath+".peers.db")
	if err != nil {
		return nil, errors.Wrap(err, "peers storage")
	}
	c.peers = peersvc

	if lazy != nil {
		// Каждый апдейт сначала пополняет bbolt-кэш пиров и память менеджера,
		// потом уходит в gaps. После рестарта LoadFromStorage поднимает пиров
		// из кэша, и повторная выгрузка диалогов не нужна.
		lazy.set(contribstorage.UpdateHook(c.peers.Mgr.UpdateHook(c.gaps), c.peers.Store()))
	}

	return c, nil
}

// API возвращает RPC-клиент. Валиден только после WaitReady.
func (c *Client) API() *tg.Client { return c.api }

// Peers возвращает менеджер пиров клиента.
func (c *Client) Peers() *peersmgr.Service { return c.peers }

// SelfID — идентификатор владельца сессии; 0 до готовности.
func (c *Client) SelfID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfID
}

// WaitOnline блокирует до восстановления соединения (если оно потеряно).
func (c *Client) WaitOnline(ctx context.Context) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	conn.WaitOnline(ctx)
}

// HandleError передаёт ошибку менеджеру соединения; true — ошибка сетевая и
// клиент ушёл в offline до восстановления.
func (c *Client) HandleError(err error) bool {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	return conn.HandleError(err)
}

// Start запускает клиент в фоне: waiter.Run оборачивает telegram.Client.Run,
// внутри проверяется авторизация и прогревается кэш пиров. Результат запуска
// доступен через WaitReady/Err.
func (c *Client) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go func() {
		defer close(c.runDone)
		err := c.waiter.Run(runCtx, func(ctx context.Context) error {
			return c.tg.Run(ctx, func(ctx context.Context) error {
				return c.online(ctx)
			})
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("клиент[%s]: завершился с ошибкой: %v", c.opts.Label, err)
		}
		c.mu.Lock()
		c.runErr = err
		c.mu.Unlock()
	}()
}

// online выполняется внутри living-соединения gotd: авторизация, self,
// менеджер соединения, пиры, realtime. Блокируется до отмены контекста.
func (c *Client) online(ctx context.Context) error {
	status, err := c.tg.Auth().Status(ctx)
	if err != nil {
		if IsAuthError(err) {
			return ErrAuthExpired
		}
		return errors.Wrap(err, "auth status")
	}
	if !status.Authorized {
		return ErrAuthExpired
	}

	self, err := c.tg.Self(ctx)
	if err != nil {
		if IsAuthError(err) {
			return ErrAuthExpired
		}
		return errors.Wrap(err, "self")
	}
	logger.Infof("клиент[%s]: авторизован как @%s (id=%d)", c.opts.Label, self.Username, self.ID)

	conn := connection.New(ctx, c.tg, c.opts.Label)
	c.mu.Lock()
	c.selfID = self.ID
	c.conn = conn
	c.mu.Unlock()
	defer conn.Shutdown()

	if err := c.initPeers(ctx); err != nil {
		logger.Errorf("клиент[%s]: прогрев пиров: %v", c.opts.Label, err)
	}

	if c.gaps != nil {
		go func() {
			gapsErr := c.gaps.Run(ctx, c.api, self.ID, tgupdates.AuthOptions{})
			if gapsErr != nil && !errors.Is(gapsErr, context.Canceled) {
				logger.Errorf("клиент[%s]: updates manager: %v", c.opts.Label, gapsErr)
			}
		}()
	}

	close(c.ready)
	<-ctx.Done()
	return ctx.Err()
}

func (c *Client) initPeers(ctx context.Context) error {
	if err := c.peers.Mgr.Init(ctx); err != nil {
		return errors.Wrap(err, "init peers manager")
	}
	if err := c.peers.LoadFromStorage(ctx); err != nil {
		logger.Errorf("клиент[%s]: загрузка пиров из кэша: %v", c.opts.Label, err)
	}
	if err := c.peers.WarmupIfEmpty(ctx, c.api); err != nil {
		return errors.Wrap(err, "warmup peers")
	}
	return nil
}

// WaitReady блокирует до готовности API либо завершения запуска с ошибкой.
func (c *Client) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-c.runDone:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.runErr != nil {
			return c.runErr
		}
		return errors.New("client: остановлен до готовности")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done закрывается после завершения Run: отмена, сетевой крах или ошибка
// авторизации. Причина доступна через Err.
func (c *Client) Done() <-chan struct{} { return c.runDone }

// Err возвращает ошибку, с которой завершился Run (после остановки).
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runErr
}

// Stop гасит клиент и дожидается завершения Run. Идемпотентен.
func (c *Client) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	<-c.runDone
	if err := c.peers.Close(); err != nil {
		logger.Errorf("клиент[%s]: закрытие кэша пиров: %v", c.opts.Label, err)
	}
}
