package blacklist

import (
	"regexp"
	"strconv"
	"strings"
)

// Паттерны полей карточки чёрного списка.
var (
	reUserID   = regexp.MustCompile(`(?i)ID[:\s]*(\d+)`)
	reNickname = regexp.MustCompile(`(?i)Ник[:\s]*(@\w+)`)
	reFullName = regexp.MustCompile(`(?i)ФИО[:\s]*([А-ЯЁа-яё\s]+?)(\n|$)`)
	rePhone    = regexp.MustCompile(`(?i)Тел[:\s]*([+\d\s*\-]+)`)
)

// matcher — один критерий поиска по тексту сообщения ЧС.
type matcher func(text string) bool

// matchUsername — подстрочное совпадение @username без учёта регистра.
func matchUsername(username string) matcher {
	needle := strings.ToLower(username)
	return func(text string) bool {
		return strings.Contains(strings.ToLower(text), needle)
	}
}

// matchUserID — числовой ID из шаблона «ID: 123456» равен искомому.
func matchUserID(userID int64) matcher {
	return func(text string) bool {
		for _, m := range reUserID.FindAllStringSubmatch(text, -1) {
			if id, err := strconv.ParseInt(m[1], 10, 64); err == nil && id == userID {
				return true
			}
		}
		return false
	}
}

// matchFIO — все токены ФИО присутствуют в тексте без учёта регистра.
func matchFIO(words []string) matcher {
	lowered := make([]string, len(words))
	for i, w := range words {
		lowered[i] = strings.ToLower(w)
	}
	return func(text string) bool {
		lower := strings.ToLower(text)
		for _, w := range lowered {
			if !strings.Contains(lower, w) {
				return false
			}
		}
		return true
	}
}

// fioWords разбивает ФИО на поисковые токены; односимвольные инициалы
// отбрасываются, они совпадают со всем подряд.
func fioWords(fio string) []string {
	var words []string
	for _, w := range strings.Fields(fio) {
		if len([]rune(w)) >= 2 {
			words = append(words, w)
		}
	}
	return words
}

// extractInfo вытаскивает структурированные поля из карточки ЧС:
// ID, ник, ФИО, телефон и роль по ключевым словам.
func extractInfo(text string) map[string]any {
	info := map[string]any{}

	if m := reUserID.FindStringSubmatch(text); m != nil {
		if id, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			info["user_id"] = id
		}
	}
	if m := reNickname.FindStringSubmatch(text); m != nil {
		info["username"] = m[1]
	}
	if m := reFullName.FindStringSubmatch(text); m != nil {
		info["full_name"] = strings.TrimSpace(m[1])
	}
	if m := rePhone.FindStringSubmatch(text); m != nil {
		info["phone"] = strings.TrimSpace(m[1])
	}

	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "работодатель"):
		info["role"] = "employer"
	case strings.Contains(lower, "сотрудник"), strings.Contains(lower, "работник"):
		info["role"] = "worker"
	}
	return info
}
