// Пакет config отвечает за сбор и предоставление конфигурации сервиса мониторинга.
// Он:
//  1. читает переменные окружения из .env (через godotenv), сам процесс env имеет приоритет,
//  2. нормализует и валидирует входные значения, подставляя дефолты с предупреждениями,
//  3. фиксирует результат в потокобезопасном singleton.
//
// Бизнес-контекст: сервис мониторит Telegram-чаты в поисках объявлений о сменах на ПВЗ.
// Конфиг среды задаёт учетные данные MTProto, пути к файлам сессий (парсер и чёрный список),
// путь к базе SQLite, HTTP-адрес API и дефолтную глубину разбора истории.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"pvz-monitor/internal/infra/timeutil"

	"github.com/joho/godotenv"
)

// EnvConfig описывает параметры, приходящие из окружения (.env). Это «операционные»
// настройки запуска: учетные данные MTProto, токен бота уведомлений, HTTP-адрес,
// пути к файлам и дефолты задач.
//
// NB: значения уже проходят минимальную валидацию и нормализацию в loadConfig.
// В рантайме по месту использования предполагается, что EnvConfig последователен.
type EnvConfig struct {
	APIID   int
	APIHash string

	// BotToken — токен Bot API для отправки уведомлений. Пустое значение
	// отключает транспорт уведомлений (пайплайн продолжает сохранять находки).
	BotToken string

	// HTTP-поверхность сервиса.
	Host string
	Port int

	// DBPath — файл SQLite с задачами и находками.
	DBPath string

	// LogLevel и LogPath управляют консольным уровнем и файловым стоком с ротацией.
	LogLevel string
	LogPath  string

	// SessionPath и BlacklistSessionPath — дефолтные файлы сессий (без расширения),
	// задача может переопределить их в запросе на запуск.
	SessionPath          string
	BlacklistSessionPath string

	// ParseHistoryDays — дефолтная глубина разбора истории чатов при старте задачи.
	ParseHistoryDays int

	// BlacklistChat — начальное наполнение реестра чатов ЧС при пустой таблице.
	BlacklistChat string

	// ThrottleRPS — лимит скорости MTProto-запросов (middleware ratelimit).
	ThrottleRPS int

	AppTimezone string
}

// Config хранит конфигурацию среды.
//
// Потокобезопасность: публичные геттеры берут RLock; после Load конфиг неизменен.
type Config struct {
	Env      EnvConfig
	warnings []string     // предупреждения, накопленные при чтении окружения
	mu       sync.RWMutex // защита конкурентного доступа к конфигурации
}

// Значения по умолчанию для параметров окружения (повторяют исходный сервис).
const (
	defaultHost                 = "0.0.0.0"
	defaultPort                 = 8002
	defaultDBPath               = "workers.db"
	defaultLogLevel             = "info"
	defaultLogPath              = "workers_service.log"
	defaultSessionPath          = "workers_session"
	defaultBlacklistSessionPath = "blacklist_session"
	defaultParseHistoryDays     = 3
	defaultBlacklistChat        = "@Blacklist_pvz"
	defaultThrottleRPS          = 1
	defaultAppTimezone          = "Europe/Moscow"
)

var (
	cfgInstance *Config
	cfgDone     bool
)

// AppLocation — глобальная таймзона приложения. Все бизнес-даты (рабочие даты,
// "сегодня/завтра", окна дедупликации) считаются в ней.
var AppLocation *time.Location

// Load — точка входа для инициализации глобальной конфигурации всего сервиса.
// При первом вызове читает .env (отсутствие файла не ошибка — остаёмся на чистом
// окружении процесса), формирует EnvConfig и фиксирует singleton. Повторный вызов
// запрещен, чтобы избежать гонок конфигурации на старте.
func Load(envPath string) error {
	if cfgDone {
		return errors.New("config already loaded")
	}
	if cfgInstance == nil {
		cfgInstance = &Config{}
	}
	cfgInstance.mu.Lock()
	defer cfgInstance.mu.Unlock()
	newCfg, err := loadConfig(envPath)
	if err != nil {
		return err
	}
	cfgInstance = newCfg
	cfgDone = true
	return nil
}

// loadConfig выполняет фактическую загрузку/валидацию без установки глобального
// состояния. Удобно для тестов: можно собрать временный Config и проверить его.
func loadConfig(envPath string) (*Config, error) {
	var warnings []string

	if err := godotenv.Load(envPath); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
		}
		appendWarningf(&warnings, "env file %s not found; using process environment only", envPath)
	}

	apiID, err := parseRequiredInt("API_ID")
	if err != nil {
		return nil, err
	}

	apiHash := strings.TrimSpace(os.Getenv("API_HASH"))
	if apiHash == "" {
		return nil, errors.New("env API_HASH must be set")
	}

	botToken := strings.TrimSpace(os.Getenv("BOT_TOKEN"))
	if botToken == "" {
		appendWarningf(&warnings, "env BOT_TOKEN is empty; notifications are disabled")
	}

	host := sanitizeValue(os.Getenv("HOST"), defaultHost)
	port := parseIntDefault("PORT", defaultPort, greaterThanZero, &warnings)
	dbPath := sanitizeValue(os.Getenv("DB_PATH"), defaultDBPath)
	logLevel := sanitizeLogLevel(os.Getenv("LOG_LEVEL"), defaultLogLevel, &warnings)
	logPath := sanitizeValue(os.Getenv("LOG_PATH"), defaultLogPath)
	sessionPath := sanitizeValue(os.Getenv("SESSION_PATH"), defaultSessionPath)
	blSessionPath := sanitizeValue(os.Getenv("BLACKLIST_SESSION_PATH"), defaultBlacklistSessionPath)
	historyDays := parseIntDefault("PARSE_HISTORY_DAYS", defaultParseHistoryDays, greaterThanZero, &warnings)
	blacklistChat := sanitizeValue(os.Getenv("BLACKLIST_CHAT"), defaultBlacklistChat)
	throttleRPS := parseIntDefault("THROTTLE_RPS", defaultThrottleRPS, greaterThanZero, &warnings)
	appTimezone := sanitizeTimezone(os.Getenv("APP_TIMEZONE"), defaultAppTimezone, &warnings)

	AppLocation, err = timeutil.ParseLocation(appTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid APP_TIMEZONE %q: %w", appTimezone, err)
	}

	env := EnvConfig{
		APIID:                apiID,
		APIHash:              apiHash,
		BotToken:             botToken,
		Host:                 host,
		Port:                 port,
		DBPath:               dbPath,
		LogLevel:             logLevel,
		LogPath:              logPath,
		SessionPath:          sessionPath,
		BlacklistSessionPath: blSessionPath,
		ParseHistoryDays:     historyDays,
		BlacklistChat:        blacklistChat,
		ThrottleRPS:          throttleRPS,
		AppTimezone:          appTimezone,
	}

	return &Config{Env: env, warnings: warnings}, nil
}

// Warnings возвращает накопленные предупреждения, возникшие при загрузке .env
// (например, когда подставлено значение по умолчанию). Возвращается копия.
func Warnings() []string {
	cfgInstance.mu.RLock()
	defer cfgInstance.mu.RUnlock()
	result := make([]string, len(cfgInstance.warnings))
	copy(result, cfgInstance.warnings)
	return result
}

// Env возвращает EnvConfig из глобального singleton. Это неизменяемый снимок
// на момент загрузки; для обновления надо перечитать конфиг целиком.
func Env() EnvConfig {
	return cfgInstance.Env
}

// Addr собирает HTTP-адрес вида host:port для http.Server.
func (e EnvConfig) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// parseRequiredInt читает обязательную целочисленную переменную окружения name.
// Если переменная не задана или не является корректным числом — возвращает ошибку.
// Используется для критичных параметров, без которых сервис не стартует.
func parseRequiredInt(name string) (int, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return 0, fmt.Errorf("env %s must be set", name)
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("env %s must be a valid integer: %w", name, err)
	}
	return v, nil
}

// parseIntDefault читает name как int. Если пусто/некорректно/не проходит
// дополнительную проверку validator — возвращает defaultVal и пишет предупреждение.
// Это позволяет не падать на несущественных настройках и иметь дефолты.
func parseIntDefault(name string, defaultVal int, validator func(int) bool, warnings *[]string) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid integer; using default %d", name, value, defaultVal)
		return defaultVal
	}
	if validator != nil && !validator(v) {
		appendWarningf(warnings, "env %s value %d does not satisfy constraints; using default %d", name, v, defaultVal)
		return defaultVal
	}
	return v
}

// appendWarningf — служебная функция для накопления предупреждений о некорректных
// переменных окружения. Список затем доступен через Warnings().
func appendWarningf(warnings *[]string, format string, args ...any) {
	if warnings == nil {
		return
	}
	*warnings = append(*warnings, fmt.Sprintf(format, args...))
}

// greaterThanZero — простой валидатор чисел для parseIntDefault.
func greaterThanZero(v int) bool { return v > 0 }

// sanitizeLogLevel нормализует LOG_LEVEL и ограничивает значения набором
// {debug, info, warn, error}. Всё остальное превращается в defaultVal.
func sanitizeLogLevel(level string, defaultVal string, warnings *[]string) string {
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		return defaultVal
	}
	switch lvl {
	case "debug", "info", "warn", "error":
		return lvl
	default:
		appendWarningf(warnings, "env LOG_LEVEL value %q is invalid; using default %q", level, defaultVal)
		return defaultVal
	}
}

// sanitizeValue возвращает значение переменной либо fallback, если она пуста.
func sanitizeValue(value, fallback string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return fallback
	}
	return v
}

// sanitizeTimezone проверяет, что значение — корректная IANA-зона или UTC-смещение.
// При неудаче возвращает значение по умолчанию и добавляет предупреждение.
func sanitizeTimezone(value string, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return fallback
	}
	if _, err := timeutil.ParseLocation(v); err != nil {
		appendWarningf(warnings, "env APP_TIMEZONE %q is invalid; using default %q", v, fallback)
		return fallback
	}
	return v
}
