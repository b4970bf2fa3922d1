// Package dedup — контентная дедупликация найденных объявлений.
//
// Хэш содержимого строится из цены, локации и нормализованного текста сообщения.
// Автор в хэш сознательно не входит: одно и то же объявление, пересланное в
// несколько чатов разными аккаунтами, должно схлопываться в один ключ.
// Сравнение по хэшу дополняется проверкой рабочей даты на стороне хранилища:
// совпадение хэша при другой дате — это новое объявление, а не дубликат.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// ContentHash возвращает sha256-хэш (hex) содержимого объявления.
// Ключ: цена, локация (пустая заменяется на "unknown") и текст,
// приведённые к нижнему регистру. Текст дополнительно очищается от
// краевых пробелов, чтобы перепосты с лишними переводами строк совпадали.
func ContentHash(price int, location, text string) string {
	loc := strings.ToLower(location)
	if loc == "" {
		loc = "unknown"
	}
	payload := fmt.Sprintf("%d|%s|%s", price, loc, strings.ToLower(strings.TrimSpace(text)))
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
