// Package app — верхний уровень сборки сервиса мониторинга. Здесь связываются
// хранилище, супервизор задач, сервис чёрного списка, планировщик уборки и
// HTTP-фасад; жизненным циклом подсистем управляет lifecycle.Manager, который
// гарантирует порядок запуска и обратный порядок остановки.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"

	"pvz-monitor/internal/adapters/web"
	"pvz-monitor/internal/domain/blacklist"
	"pvz-monitor/internal/domain/cleanup"
	"pvz-monitor/internal/domain/geo"
	"pvz-monitor/internal/domain/supervisor"
	"pvz-monitor/internal/infra/apptime"
	"pvz-monitor/internal/infra/config"
	"pvz-monitor/internal/infra/lifecycle"
	"pvz-monitor/internal/infra/logger"
	"pvz-monitor/internal/store"
)

const (
	// shutdownTimeout ограничивает ожидание активных HTTP-запросов при останове.
	shutdownTimeout = 10 * time.Second
	// pipelineDrainTimeout — сколько ждём завершения пайплайнов после StopAll.
	pipelineDrainTimeout = 15 * time.Second
)

// App агрегирует подсистемы сервиса. Создаётся пустым, собирается в Run.
type App struct {
	lc  *lifecycle.Manager
	st  *store.Store
	sup *supervisor.Supervisor
	bl  *blacklist.Service
	geo *geo.Filter
	srv *web.Server

	cleanupDone chan struct{}
	serverErr   chan error
}

// New создаёт каркас приложения.
func New() *App {
	return &App{
		cleanupDone: make(chan struct{}),
		serverErr:   make(chan error, 1),
	}
}

// Run собирает дерево подсистем, запускает их и блокируется до отмены ctx
// либо падения HTTP-сервера. Возвращает ошибку запуска или остановки.
func (a *App) Run(ctx context.Context) error {
	a.lc = lifecycle.New(ctx)

	if err := a.register(); err != nil {
		return errors.Wrap(err, "register subsystems")
	}

	if err := a.lc.StartAll(); err != nil {
		shutdownErr := a.lc.Shutdown()
		if shutdownErr != nil {
			logger.Errorf("остановка после неудачного старта: %v", shutdownErr)
		}
		return errors.Wrap(err, "start subsystems")
	}

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки")
	case err := <-a.serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("HTTP-сервер упал: %v", err)
		}
	}

	return a.lc.Shutdown()
}

// register описывает дерево подсистем: store → supervisor → (cleanup, http).
// Обратный порядок остановки гасит HTTP и уборку раньше, чем супервизор
// остановит пайплайны, и закрывает базу последней.
func (a *App) register() error {
	if err := a.lc.Register("store", "", nil, a.startStore, a.stopStore); err != nil {
		return err
	}
	if err := a.lc.Register("supervisor", "store", nil, a.startSupervisor, a.stopSupervisor); err != nil {
		return err
	}
	if err := a.lc.Register("cleanup", "store", []string{"supervisor"}, a.startCleanup, a.stopCleanup); err != nil {
		return err
	}
	return a.lc.Register("http", "store", []string{"supervisor"}, a.startHTTP, a.stopHTTP)
}

// startStore открывает базу, выполняет восстановление после аварийного
// завершения и первичное наполнение реестра чатов чёрного списка.
func (a *App) startStore(ctx context.Context) (context.Context, error) {
	env := config.Env()

	st, err := store.Open(ctx, env.DBPath)
	if err != nil {
		return nil, errors.Wrap(err, "open store")
	}
	a.st = st

	// Задачи, оставшиеся running/pending с прошлого запуска, осиротели:
	// их пайплайны умерли вместе с процессом.
	stoppedAt := apptime.Now().Format(store.TimeLayout)
	reset, err := st.ResetActiveTasks(ctx, stoppedAt)
	if err != nil {
		return nil, errors.Wrap(err, "reset active tasks")
	}
	if reset > 0 {
		logger.Infof("восстановление: остановлено осиротевших задач: %d", reset)
	}

	if err := a.seedBlacklist(ctx, env.BlacklistChat); err != nil {
		return nil, err
	}

	g, err := geo.New()
	if err != nil {
		return nil, errors.Wrap(err, "load geo dictionaries")
	}
	a.geo = g
	a.bl = blacklist.New(st, env.BlacklistSessionPath)

	return nil, nil
}

// seedBlacklist наполняет пустой реестр чатов ЧС значением из окружения.
func (a *App) seedBlacklist(ctx context.Context, defaultChat string) error {
	if defaultChat == "" {
		return nil
	}
	chats, err := a.st.ListBlacklistChats(ctx, false)
	if err != nil {
		return errors.Wrap(err, "list blacklist chats")
	}
	if len(chats) > 0 {
		return nil
	}
	if err := a.st.AddBlacklistChat(ctx, defaultChat, "", nil, ""); err != nil {
		return errors.Wrap(err, "seed blacklist chat")
	}
	logger.Infof("реестр ЧС пуст, добавлен чат по умолчанию: %s", defaultChat)
	return nil
}

func (a *App) stopStore(context.Context) error {
	return a.st.Close()
}

func (a *App) startSupervisor(ctx context.Context) (context.Context, error) {
	a.sup = supervisor.New(ctx)
	return nil, nil
}

func (a *App) stopSupervisor(context.Context) error {
	a.sup.StopAll()
	a.sup.WaitAll(pipelineDrainTimeout)
	return nil
}

func (a *App) startCleanup(ctx context.Context) (context.Context, error) {
	sched := cleanup.New(a.st, a.sup)
	go func() {
		defer close(a.cleanupDone)
		sched.Run(ctx)
	}()
	return nil, nil
}

func (a *App) stopCleanup(context.Context) error {
	<-a.cleanupDone
	return nil
}

func (a *App) startHTTP(context.Context) (context.Context, error) {
	a.srv = web.New(a.st, a.sup, a.bl, a.geo)
	go func() {
		a.serverErr <- a.srv.ListenAndServe()
	}()
	return nil, nil
}

func (a *App) stopHTTP(context.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return a.srv.Shutdown(ctx)
}
