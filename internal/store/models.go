package store

// Статусы задач мониторинга. Переходы: pending → running → (stopped | auth_error | failed).
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusStopped   = "stopped"
	StatusAuthError = "auth_error"
	StatusFailed    = "failed"
)

// Режимы задач: чью сторону рынка отслеживаем.
const (
	ModeWorker   = "worker"
	ModeEmployer = "employer"
)

// TimeLayout — формат временных меток в базе (ISO без таймзоны, лексикографически
// сортируемый). Все метки пишутся в таймзоне приложения.
const TimeLayout = "2006-01-02T15:04:05"

// Task — задача мониторинга. chats и filters хранятся JSON-строками: их формы
// принадлежат API-слою, базе важна только сохранность.
type Task struct {
	TaskID               string  `db:"task_id" json:"task_id"`
	UserID               int64   `db:"user_id" json:"user_id"`
	Mode                 string  `db:"mode" json:"mode"`
	Chats                string  `db:"chats" json:"chats"`
	Filters              string  `db:"filters" json:"filters"`
	NotificationBotToken string  `db:"notification_bot_token" json:"-"`
	NotificationChatID   int64   `db:"notification_chat_id" json:"notification_chat_id"`
	Status               string  `db:"status" json:"status"`
	CreatedAt            string  `db:"created_at" json:"created_at"`
	StoppedAt            *string `db:"stopped_at" json:"stopped_at,omitempty"`

	// Пути файлов сессий MTProto: парсер и чёрный список разведены по разным
	// файлам, одновременное открытие одного файла ломает авторизацию.
	SessionPath          *string `db:"session_path" json:"session_path,omitempty"`
	BlacklistSessionPath *string `db:"blacklist_session_path" json:"blacklist_session_path,omitempty"`
}

// FoundItem — найденное объявление. Строка неизменяема после вставки,
// кроме флага notified.
type FoundItem struct {
	ID             int64   `db:"id" json:"id"`
	TaskID         string  `db:"task_id" json:"task_id"`
	Mode           string  `db:"mode" json:"mode"`
	AuthorUsername *string `db:"author_username" json:"author_username"`
	AuthorFullName *string `db:"author_full_name" json:"author_full_name"`
	AuthorID       *int64  `db:"author_id" json:"author_id,omitempty"`
	Date           string  `db:"date" json:"date"`
	Price          int     `db:"price" json:"price"`
	SHK            *string `db:"shk" json:"shk"`
	Location       *string `db:"location" json:"location"`
	City           *string `db:"city" json:"city,omitempty"`
	MetroStation   *string `db:"metro_station" json:"metro_station,omitempty"`
	District       *string `db:"district" json:"district,omitempty"`
	MessageText    string  `db:"message_text" json:"message_text"`
	MessageLink    string  `db:"message_link" json:"message_link"`
	ChatName       string  `db:"chat_name" json:"chat_name"`
	TopicID        *int64  `db:"topic_id" json:"topic_id,omitempty"`
	TopicName      *string `db:"topic_name" json:"topic_name,omitempty"`
	MessageDate    string  `db:"message_date" json:"message_date"`
	FoundAt        string  `db:"found_at" json:"found_at"`
	Notified       bool    `db:"notified" json:"notified"`
	ContentHash    *string `db:"content_hash" json:"-"`
}

// BlacklistChat — запись реестра чатов чёрного списка. topic_id == nil означает
// «весь чат»; удаление мягкое, через active=false.
type BlacklistChat struct {
	ID           int64   `db:"id" json:"id"`
	ChatUsername string  `db:"chat_username" json:"chat_username"`
	ChatTitle    *string `db:"chat_title" json:"chat_title"`
	TopicID      *int64  `db:"topic_id" json:"topic_id"`
	TopicName    *string `db:"topic_name" json:"topic_name"`
	Active       bool    `db:"active" json:"active"`
	AddedAt      string  `db:"added_at" json:"added_at"`
}
