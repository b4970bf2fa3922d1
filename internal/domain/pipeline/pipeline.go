// Package pipeline — конвейер мониторинга одной задачи.
//
// Пайплайн владеет жизненным циклом задачи: поднимает MTProto-клиент на её
// файле сессии, резолвит чаты и кэширует топики, прогоняет историю за
// parse_history_days, затем слушает realtime с периодическим polling-фолбэком.
// Завершение — всегда через терминальный статус задачи: stopped по отмене,
// auth_error при отозванной сессии, failed при прочих фатальных ошибках.
package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"pvz-monitor/internal/domain/geo"
	"pvz-monitor/internal/domain/supervisor"
	"pvz-monitor/internal/infra/apptime"
	"pvz-monitor/internal/infra/config"
	"pvz-monitor/internal/infra/logger"
	tgclient "pvz-monitor/internal/infra/telegram/client"
	"pvz-monitor/internal/store"
)

const (
	// waitLoopInterval — период проверки соединения и polling-фолбэка.
	waitLoopInterval = 30 * time.Second
	// reconnectPause — пауза перед переподключением после обрыва.
	reconnectPause = 2 * time.Second
	// reconnectRetryPause — пауза после неудачного переподключения.
	reconnectRetryPause = 10 * time.Second
	// finalStatusTimeout — бюджет на запись терминального статуса в базу.
	finalStatusTimeout = 5 * time.Second
)

// authLostNotice отправляется пользователю, когда Telegram отозвал сессию.
const authLostNotice = "⚠️ <b>Сессия авторизации не найдена</b>\n\n" +
	"Telegram аннулировал сессию мониторинга.\n" +
	"Пожалуйста, авторизуйтесь заново через меню \"👤 Мой аккаунт\"."

// Notifier — контракт доставки уведомлений пайплайна.
type Notifier interface {
	Send(ctx context.Context, item store.FoundItem, itemID int64, mode string) bool
	SendText(ctx context.Context, text string) bool
}

// Config — зависимости и параметры конвейера одной задачи.
type Config struct {
	Task        store.Task
	Store       *store.Store
	Supervisor  *supervisor.Supervisor
	Notifier    Notifier // nil — находки только сохраняются
	Geo         *geo.Filter
	HistoryDays int
	// APIID и APIHash — переопределения учётных данных Telegram на время
	// жизни задачи; в базу не пишутся, нулевые значения — из конфигурации.
	APIID   int
	APIHash string
}

// Pipeline — конвейер одной задачи мониторинга.
type Pipeline struct {
	task        store.Task
	spec        ChatSpec
	filters     Filters
	st          *store.Store
	sup         *supervisor.Supervisor
	notifier    Notifier
	geo         *geo.Filter
	historyDays int
	apiID       int
	apiHash     string

	mu        sync.Mutex
	client    *tgclient.Client
	processed map[string]struct{}
	lastSeen  map[int64]int
	chats     map[string]*tgclient.Chat
	chatByID  map[int64]string
	topics    map[string]map[int64]string
}

// New разбирает чаты и фильтры задачи и собирает пайплайн.
func New(cfg Config) (*Pipeline, error) {
	var rawChats []string
	if err := json.Unmarshal([]byte(cfg.Task.Chats), &rawChats); err != nil {
		return nil, errors.Wrap(err, "chats json")
	}
	spec := ParseChats(rawChats)
	if len(spec.Chats) == 0 {
		return nil, errors.New("pipeline: список чатов пуст")
	}

	filters, err := ParseFilters(cfg.Task.Filters)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		task:        cfg.Task,
		spec:        spec,
		filters:     filters,
		st:          cfg.Store,
		sup:         cfg.Supervisor,
		notifier:    cfg.Notifier,
		geo:         cfg.Geo,
		historyDays: cfg.HistoryDays,
		apiID:       cfg.APIID,
		apiHash:     cfg.APIHash,
		processed:   map[string]struct{}{},
		lastSeen:    map[int64]int{},
		chats:       map[string]*tgclient.Chat{},
		chatByID:    map[int64]string{},
		topics:      map[string]map[int64]string{},
	}, nil
}

// Run ведёт задачу до терминального статуса. Блокируется до отмены ctx либо
// фатальной ошибки; статус и stopped_at записываются в finally-ветке даже
// при уже отменённом контексте.
func (p *Pipeline) Run(ctx context.Context) {
	final := store.StatusStopped
	defer func() {
		p.shutdownClient()
		fctx, cancel := context.WithTimeout(context.Background(), finalStatusTimeout)
		defer cancel()
		p.setStatus(fctx, final)
		logger.Infof("задача %s: завершена со статусом %s", p.task.TaskID, final)
	}()

	if err := p.connect(ctx); err != nil {
		final = p.classify(ctx, err)
		return
	}
	p.setStatus(ctx, store.StatusRunning)
	logger.Infof("задача %s: мониторинг запущен, чатов: %d", p.task.TaskID, len(p.spec.Chats))

	if err := p.backfill(ctx); err != nil {
		final = p.classify(ctx, err)
		return
	}

	final = p.waitLoop(ctx)
}

// sessionPath — файл сессии задачи; при отсутствии своего используется общий.
func (p *Pipeline) sessionPath() string {
	if p.task.SessionPath != nil && *p.task.SessionPath != "" {
		return *p.task.SessionPath
	}
	return config.Env().SessionPath
}

// connect поднимает клиент, дожидается готовности и прогревает чаты с топиками.
func (p *Pipeline) connect(ctx context.Context) error {
	cl, err := tgclient.New(tgclient.Options{
		SessionPath: p.sessionPath(),
		Label:       p.task.TaskID,
		APIID:       p.apiID,
		APIHash:     p.apiHash,
	})
	if err != nil {
		return err
	}
	cl.OnNewMessage(p.handleRealtime)
	cl.Start(ctx)
	if err := cl.WaitReady(ctx); err != nil {
		cl.Stop()
		return err
	}

	p.mu.Lock()
	p.client = cl
	p.mu.Unlock()

	return p.preload(ctx)
}

// preload резолвит чаты задачи и кэширует их форумные топики. Мёртвые чаты
// пропускаются; ошибка возвращается, только если не резолвится ни один.
func (p *Pipeline) preload(ctx context.Context) error {
	cl := p.currentClient()
	resolved := 0
	for _, key := range p.spec.Chats {
		ch, err := cl.ResolveChat(ctx, key)
		if err != nil {
			if tgclient.IsAuthError(err) || ctx.Err() != nil {
				return err
			}
			logger.Errorf("задача %s: чат %s не резолвится: %v", p.task.TaskID, key, err)
			continue
		}

		topics, err := cl.ForumTopics(ctx, ch)
		if err != nil {
			logger.Warnf("задача %s: топики %s: %v", p.task.TaskID, key, err)
			topics = map[int64]string{}
		}
		if len(topics) == 0 && len(p.spec.AllowedTopics[key]) > 0 {
			logger.Warnf("задача %s: для %s заданы топики, но чат их не отдал", p.task.TaskID, key)
		}

		p.mu.Lock()
		p.chats[key] = ch
		p.chatByID[ch.ID] = key
		p.topics[key] = topics
		p.mu.Unlock()
		resolved++
	}
	if resolved == 0 {
		return errors.New("pipeline: ни один чат задачи не резолвится")
	}
	return nil
}

// backfill прогоняет историю всех чатов за historyDays через процессор.
func (p *Pipeline) backfill(ctx context.Context) error {
	cl := p.currentClient()
	since := apptime.Now().AddDate(0, 0, -p.historyDays)

	for _, key := range p.spec.Chats {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.mu.Lock()
		ch := p.chats[key]
		p.mu.Unlock()
		if ch == nil {
			continue
		}

		logger.Infof("задача %s: разбор истории @%s с %s", p.task.TaskID, ch.Username, since.Format(store.TimeLayout))
		err := cl.History(ctx, ch, since, func(m tgclient.Message) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.process(ctx, key, ch, m)
			return nil
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || tgclient.IsAuthError(err) {
				return err
			}
			logger.Errorf("задача %s: история @%s: %v", p.task.TaskID, ch.Username, err)
		}
	}
	return nil
}

// waitLoop держит задачу после разбора истории: следит за живостью клиента,
// раз в waitLoopInterval опрашивает свежий хвост чатов (страховка от молча
// умершей realtime-подписки). Возвращает терминальный статус.
func (p *Pipeline) waitLoop(ctx context.Context) string {
	ticker := time.NewTicker(waitLoopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return store.StatusStopped
		case <-p.currentClient().Done():
			if ctx.Err() != nil {
				return store.StatusStopped
			}
			err := p.currentClient().Err()
			if tgclient.IsAuthError(err) {
				p.notifyAuthLost()
				return store.StatusAuthError
			}
			logger.Warnf("задача %s: соединение потеряно (%v), переподключение", p.task.TaskID, err)
			if status, ok := p.reconnect(ctx); !ok {
				return status
			}
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// reconnect пересоздаёт клиент после обрыва: пауза 2 с, попытка, при неудаче
// пауза 10 с и новая попытка. Возвращает (терминальный статус, false) либо
// ("", true) при восстановлении.
func (p *Pipeline) reconnect(ctx context.Context) (string, bool) {
	for {
		p.shutdownClient()
		if !sleepCtx(ctx, reconnectPause) {
			return store.StatusStopped, false
		}

		err := p.connect(ctx)
		if err == nil {
			logger.Infof("задача %s: соединение восстановлено", p.task.TaskID)
			return "", true
		}
		if ctx.Err() != nil {
			return store.StatusStopped, false
		}
		if tgclient.IsAuthError(err) {
			p.notifyAuthLost()
			return store.StatusAuthError, false
		}

		logger.Errorf("задача %s: переподключение не удалось: %v", p.task.TaskID, err)
		if !sleepCtx(ctx, reconnectRetryPause) {
			return store.StatusStopped, false
		}
	}
}

// poll — polling-фолбэк: свежий хвост каждого чата с id больше последнего
// виденного. Уже обработанные realtime-подпиской сообщения отсеет дедуп
// по (chat_id, message_id).
func (p *Pipeline) poll(ctx context.Context) {
	cl := p.currentClient()
	if cl == nil {
		return
	}
	for _, key := range p.spec.Chats {
		if ctx.Err() != nil {
			return
		}
		p.mu.Lock()
		ch := p.chats[key]
		minID := 0
		if ch != nil {
			minID = p.lastSeen[ch.ID]
		}
		p.mu.Unlock()
		if ch == nil {
			continue
		}

		msgs, err := cl.RecentMessages(ctx, ch, minID)
		if err != nil {
			cl.HandleError(err)
			logger.Debugf("задача %s: polling @%s: %v", p.task.TaskID, ch.Username, err)
			continue
		}
		for _, m := range msgs {
			p.process(ctx, key, ch, m)
		}
	}
}

// handleRealtime — обработчик realtime-подписки; чаты вне задачи игнорируются.
func (p *Pipeline) handleRealtime(ctx context.Context, chatID int64, m tgclient.Message) {
	p.mu.Lock()
	key, ok := p.chatByID[chatID]
	var ch *tgclient.Chat
	if ok {
		ch = p.chats[key]
	}
	p.mu.Unlock()
	if ch == nil {
		return
	}
	p.process(ctx, key, ch, m)
}

// classify переводит ошибку запуска/работы в терминальный статус задачи.
func (p *Pipeline) classify(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return store.StatusStopped
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		return store.StatusStopped
	case tgclient.IsAuthError(err):
		logger.Errorf("задача %s: сессия недействительна: %v", p.task.TaskID, err)
		p.notifyAuthLost()
		return store.StatusAuthError
	default:
		logger.Errorf("задача %s: фатальная ошибка: %v", p.task.TaskID, err)
		return store.StatusFailed
	}
}

// setStatus синхронно обновляет статус в реестре и в базе. Терминальные
// статусы дополнительно фиксируют stopped_at.
func (p *Pipeline) setStatus(ctx context.Context, status string) {
	p.sup.UpdateStatus(p.task.TaskID, status)

	var stoppedAt *string
	switch status {
	case store.StatusStopped, store.StatusFailed, store.StatusAuthError:
		ts := apptime.Now().Format(store.TimeLayout)
		stoppedAt = &ts
	}
	if err := p.st.UpdateTaskStatus(ctx, p.task.TaskID, status, stoppedAt); err != nil {
		logger.Errorf("задача %s: статус %s не записан: %v", p.task.TaskID, status, err)
	}
}

// notifyAuthLost сообщает пользователю об отзыве сессии. Best-effort.
func (p *Pipeline) notifyAuthLost() {
	if p.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), finalStatusTimeout)
	defer cancel()
	p.notifier.SendText(ctx, authLostNotice)
}

func (p *Pipeline) currentClient() *tgclient.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client
}

func (p *Pipeline) shutdownClient() {
	p.mu.Lock()
	cl := p.client
	p.client = nil
	p.mu.Unlock()
	if cl != nil {
		cl.Stop()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
