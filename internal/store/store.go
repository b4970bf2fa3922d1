// Package store — персистентное состояние сервиса поверх SQLite.
//
// Здесь живут задачи мониторинга, найденные объявления и реестр чатов чёрного
// списка, а также индексированные запросы двухуровневой дедупликации и TTL-очистка.
// Писатели сериализуются блокировкой самой базы (busy_timeout + WAL); пул
// ограничен одним соединением, поэтому транзакционная дисциплина тривиальна.
//
// Миграции только вперёд и идемпотентны: на старте добавляются недостающие
// столбцы (ошибка «duplicate column» игнорируется), а устаревшая уникальность
// found_items по одному message_link пересобирается в (task_id, message_link)
// через rebuild таблицы.
package store

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver

	"pvz-monitor/internal/infra/logger"
)

// Store — обёртка над соединением SQLite со всеми операциями сервиса.
type Store struct {
	db *sqlx.DB
}

const schemaTasks = `
CREATE TABLE IF NOT EXISTS tasks (
    task_id TEXT PRIMARY KEY,
    user_id INTEGER NOT NULL,
    mode TEXT NOT NULL,
    chats TEXT NOT NULL,
    filters TEXT NOT NULL,
    notification_bot_token TEXT NOT NULL,
    notification_chat_id INTEGER NOT NULL,
    status TEXT NOT NULL,
    created_at TEXT NOT NULL,
    stopped_at TEXT
)`

const schemaFoundItems = `
CREATE TABLE IF NOT EXISTS found_items (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id TEXT NOT NULL,
    mode TEXT NOT NULL,
    author_username TEXT,
    author_full_name TEXT,
    date TEXT NOT NULL,
    price INTEGER NOT NULL,
    shk TEXT,
    location TEXT,
    message_text TEXT NOT NULL,
    message_link TEXT NOT NULL,
    chat_name TEXT NOT NULL,
    message_date TEXT NOT NULL,
    found_at TEXT NOT NULL,
    notified BOOLEAN DEFAULT 0,
    content_hash TEXT,
    UNIQUE(task_id, message_link)
)`

// blacklist_cache — историческая таблица: текущая реализация ищет вживую и
// таблицу не пишет, но схема сохраняется для совместимости со старыми базами.
const schemaBlacklistCache = `
CREATE TABLE IF NOT EXISTS blacklist_cache (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    username TEXT,
    result TEXT,
    checked_at TEXT
)`

const schemaBlacklistChats = `
CREATE TABLE IF NOT EXISTS blacklist_chats (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    chat_username TEXT NOT NULL,
    chat_title TEXT,
    topic_id INTEGER,
    topic_name TEXT,
    active BOOLEAN NOT NULL DEFAULT 1,
    added_at TEXT NOT NULL
)`

// addColumns — аддитивные миграции found_items и tasks. Ошибка «duplicate
// column name» означает, что столбец уже есть, и молча пропускается.
var addColumns = []string{
	"ALTER TABLE found_items ADD COLUMN topic_id INTEGER",
	"ALTER TABLE found_items ADD COLUMN topic_name TEXT",
	"ALTER TABLE found_items ADD COLUMN city TEXT",
	"ALTER TABLE found_items ADD COLUMN metro_station TEXT",
	"ALTER TABLE found_items ADD COLUMN district TEXT",
	"ALTER TABLE found_items ADD COLUMN author_id INTEGER",
	"ALTER TABLE tasks ADD COLUMN session_path TEXT",
	"ALTER TABLE tasks ADD COLUMN blacklist_session_path TEXT",
}

// Open открывает (и при необходимости создаёт) базу по пути path и прогоняет
// миграции. Путь ":memory:" используется тестами.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_busy_timeout=5000&_journal_mode=WAL"
	}

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// Один писатель: снимает вопросы конкуренции на файле и делает :memory:
	// базу единой для всех запросов пула.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping sqlite")
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Infof("база данных инициализирована: %s", path)
	return s, nil
}

// Close закрывает соединение с базой.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate создаёт схему и применяет недостающие аддитивные миграции.
func (s *Store) migrate(ctx context.Context) error {
	for _, ddl := range []string{schemaTasks, schemaFoundItems, schemaBlacklistCache, schemaBlacklistChats} {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return errors.Wrap(err, "create schema")
		}
	}

	for _, stmt := range addColumns {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			if isDuplicateColumn(err) {
				continue
			}
			return errors.Wrap(err, "add column")
		}
		logger.Infof("миграция применена: %s", stmt)
	}

	if err := s.rebuildLegacyUnique(ctx); err != nil {
		return err
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_content_hash ON found_items(content_hash, found_at)",
		"CREATE INDEX IF NOT EXISTS idx_items_task ON found_items(task_id, found_at)",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_blacklist_chat_topic ON blacklist_chats(chat_username, COALESCE(topic_id, -1))",
	}
	for _, ddl := range indexes {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return errors.Wrap(err, "create index")
		}
	}
	return nil
}

// rebuildLegacyUnique пересобирает found_items, если таблица создана старой
// версией сервиса с UNIQUE(message_link): уникальность должна быть в разрезе
// задачи. Конфликтующие строки схлопываются через INSERT OR IGNORE.
func (s *Store) rebuildLegacyUnique(ctx context.Context) error {
	var ddl string
	err := s.db.GetContext(ctx, &ddl,
		"SELECT sql FROM sqlite_master WHERE type = 'table' AND name = 'found_items'")
	if err != nil {
		return errors.Wrap(err, "inspect found_items schema")
	}
	normalized := strings.ToUpper(strings.Join(strings.Fields(ddl), " "))
	if !strings.Contains(normalized, "UNIQUE(MESSAGE_LINK)") &&
		!strings.Contains(normalized, "UNIQUE (MESSAGE_LINK)") {
		return nil
	}

	logger.Warn("обнаружена устаревшая уникальность found_items(message_link); пересборка таблицы")

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin rebuild tx")
	}
	defer func() { _ = tx.Rollback() }()

	steps := []string{
		"ALTER TABLE found_items RENAME TO found_items_legacy",
		schemaFoundItems,
		"ALTER TABLE found_items ADD COLUMN topic_id INTEGER",
		"ALTER TABLE found_items ADD COLUMN topic_name TEXT",
		"ALTER TABLE found_items ADD COLUMN city TEXT",
		"ALTER TABLE found_items ADD COLUMN metro_station TEXT",
		"ALTER TABLE found_items ADD COLUMN district TEXT",
		"ALTER TABLE found_items ADD COLUMN author_id INTEGER",
		`INSERT OR IGNORE INTO found_items
		    (id, task_id, mode, author_username, author_full_name, author_id, date, price,
		     shk, location, city, metro_station, district, message_text, message_link,
		     chat_name, topic_id, topic_name, message_date, found_at, notified, content_hash)
		 SELECT id, task_id, mode, author_username, author_full_name, author_id, date, price,
		        shk, location, city, metro_station, district, message_text, message_link,
		        chat_name, topic_id, topic_name, message_date, found_at, notified, content_hash
		 FROM found_items_legacy`,
		"DROP TABLE found_items_legacy",
	}
	for _, stmt := range steps {
		if _, err := tx.ExecContext(ctx, stmt); err != nil && !isDuplicateColumn(err) {
			return errors.Wrap(err, "rebuild found_items")
		}
	}
	return errors.Wrap(tx.Commit(), "commit rebuild")
}

// isDuplicateColumn распознаёт ошибку повторного ALTER ADD COLUMN.
func isDuplicateColumn(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate column name")
}
