// Package web — HTTP-фасад сервиса мониторинга.
//
// Обработчики тонкие: проверка формы запроса, делегирование в хранилище,
// супервизор или поиск по ЧС, перевод исхода в HTTP-ответ. Бизнес-логики
// здесь нет. Ошибки отдаются JSON-объектом {"detail": "..."}.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"pvz-monitor/internal/domain/blacklist"
	"pvz-monitor/internal/domain/geo"
	"pvz-monitor/internal/domain/supervisor"
	"pvz-monitor/internal/infra/config"
	"pvz-monitor/internal/infra/logger"
	"pvz-monitor/internal/store"
)

const (
	readTimeout = 15 * time.Second
	idleTimeout = 60 * time.Second
	// Поиск по чёрному списку идёт по живой истории чатов и может занимать
	// минуты, поэтому write timeout заметно больше остальных.
	writeTimeout = 10 * time.Minute

	// notifierRPS — частота отправки уведомлений Bot API на одну задачу.
	notifierRPS = 1
)

// Server — HTTP-сервер фасада.
type Server struct {
	srv      *http.Server
	router   chi.Router
	st       *store.Store
	sup      *supervisor.Supervisor
	bl       *blacklist.Service
	geo      *geo.Filter
	validate *validator.Validate
}

// New собирает сервер. bl может быть nil, пока сервис ЧС не инициализирован:
// соответствующие эндпоинты будут отвечать 503.
func New(st *store.Store, sup *supervisor.Supervisor, bl *blacklist.Service, geoFilter *geo.Filter) *Server {
	s := &Server{
		st:       st,
		sup:      sup,
		bl:       bl,
		geo:      geoFilter,
		validate: validator.New(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/", s.handleBanner)
	r.Get("/health", s.handleHealth)

	r.Route("/workers", func(r chi.Router) {
		r.Post("/start", s.handleStart)
		r.Get("/status/{task_id}", s.handleStatus)
		r.Post("/stop/{task_id}", s.handleStop)
		r.Get("/list/{task_id}", s.handleList)
		r.Post("/{item_id}/check-blacklist", s.handleCheckItem)
	})

	r.Route("/blacklist", func(r chi.Router) {
		r.Post("/check", s.handleBlacklistCheck)
		r.Get("/chats", s.handleBlacklistChats)
		r.Post("/chats/sync", s.handleBlacklistSync)
		r.Post("/chats/add", s.handleBlacklistAdd)
		r.Post("/chats/remove", s.handleBlacklistRemove)
		r.Get("/chats/topics", s.handleBlacklistTopics)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Get("/stats", s.handleAdminStats)
		r.Post("/cleanup", s.handleAdminCleanup)
	})

	s.router = r
	s.srv = &http.Server{
		Addr:         config.Env().Addr(),
		Handler:      r,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	return s
}

// Router отдаёт собранный роутер (используется тестами).
func (s *Server) Router() http.Handler { return s.router }

// ListenAndServe блокирует до остановки сервера.
func (s *Server) ListenAndServe() error {
	logger.Infof("HTTP-сервер слушает %s", s.srv.Addr)
	return s.srv.ListenAndServe()
}

// Shutdown гасит сервер, дожидаясь активных запросов в пределах ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// requestLogger пишет строку доступа на debug-уровне.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Debugf("%s %s → %d за %v", r.Method, r.URL.Path, ww.Status(), time.Since(start))
	})
}
