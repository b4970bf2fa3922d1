package pipeline

import (
	"strconv"
	"strings"

	"pvz-monitor/internal/store"
)

// Городские метки в спецификации чатов и в фильтре задачи.
const (
	CityMoscow = "МСК"
	CitySpb    = "СПБ"
	CityAll    = "ALL"
)

// ChatSpec — разобранный список чатов задачи.
//
// Синтаксис одной записи: @chat, @chat/<topic_id>, @chat#МСК,
// @chat/<topic_id>#СПБ. Ключ всех карт — каноническое имя чата (@, нижний
// регистр). Пустое множество AllowedTopics означает «все топики».
type ChatSpec struct {
	// Chats — базовые чаты в порядке первого упоминания, без дублей.
	Chats []string
	// AllowedTopics — явно перечисленные топики чата.
	AllowedTopics map[string]map[int64]struct{}
	// TopicCity — городская метка конкретного топика.
	TopicCity map[string]map[int64]string
	// ChatCity — городская метка всего чата.
	ChatCity map[string]string
}

// ParseChats разбирает записи списка чатов. Неизвестная городская метка
// молча отбрасывается, чат при этом остаётся. Мусор после «/» (не число)
// также отбрасывается, запись трактуется как весь чат.
func ParseChats(raw []string) ChatSpec {
	spec := ChatSpec{
		AllowedTopics: map[string]map[int64]struct{}{},
		TopicCity:     map[string]map[int64]string{},
		ChatCity:      map[string]string{},
	}
	seen := map[string]struct{}{}

	for _, entry := range raw {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		city := ""
		if idx := strings.LastIndex(entry, "#"); idx > 0 {
			tag := strings.ToUpper(strings.TrimSpace(entry[idx+1:]))
			if tag == CityMoscow || tag == CitySpb {
				city = tag
			}
			entry = strings.TrimSpace(entry[:idx])
		}

		chat := entry
		var topicID int64
		hasTopic := false
		if idx := strings.LastIndex(entry, "/"); idx >= 0 {
			chat = strings.TrimSpace(entry[:idx])
			if id, err := strconv.ParseInt(strings.TrimSpace(entry[idx+1:]), 10, 64); err == nil && id > 0 {
				topicID, hasTopic = id, true
			}
		}

		key := store.NormalizeChatUsername(chat)
		if key == "" || key == "@" {
			continue
		}
		if _, dup := seen[key]; !dup {
			seen[key] = struct{}{}
			spec.Chats = append(spec.Chats, key)
		}

		if hasTopic {
			if spec.AllowedTopics[key] == nil {
				spec.AllowedTopics[key] = map[int64]struct{}{}
			}
			spec.AllowedTopics[key][topicID] = struct{}{}
			if city != "" {
				if spec.TopicCity[key] == nil {
					spec.TopicCity[key] = map[int64]string{}
				}
				spec.TopicCity[key][topicID] = city
			}
		} else if city != "" {
			spec.ChatCity[key] = city
		}
	}
	return spec
}

// TopicAllowed — пропускает ли фильтр топиков сообщение из topicID.
// Чат без явных топиков принимает всё.
func (s ChatSpec) TopicAllowed(chat string, topicID int64) bool {
	allowed := s.AllowedTopics[chat]
	if len(allowed) == 0 {
		return true
	}
	_, ok := allowed[topicID]
	return ok
}

// CityTag возвращает городскую метку сообщения: метка топика приоритетнее
// метки всего чата. Пустая строка — метки нет.
func (s ChatSpec) CityTag(chat string, topicID int64) string {
	if m := s.TopicCity[chat]; m != nil {
		if city, ok := m[topicID]; ok {
			return city
		}
	}
	return s.ChatCity[chat]
}
