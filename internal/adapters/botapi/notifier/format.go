package botapionotifier

import (
	"fmt"
	"strings"

	"pvz-monitor/internal/store"
)

// FormatItem собирает текст карточки объявления.
// Порядок блоков фиксирован: заголовок, дата, цена, ШК, топик, локация
// (город/метро/район, либо устаревшее поле location), автор, полный текст.
func FormatItem(item store.FoundItem, mode string) string {
	header := "🏢 Новая вакансия!"
	if mode == store.ModeWorker {
		header = "👷 Новый работник!"
	}

	parts := []string{header, ""}

	date := item.Date
	if date == "" {
		date = "не указана"
	}
	parts = append(parts, "📅 Дата: "+date)

	priceLabel := "💰 Оплата:"
	if mode == store.ModeWorker {
		priceLabel = "💰 Цена:"
	}
	parts = append(parts, fmt.Sprintf("%s %d руб/смену", priceLabel, item.Price))

	if item.SHK != nil && *item.SHK != "" {
		parts = append(parts, "📦 ШК: "+*item.SHK)
	}

	// Топик — сразу после цены.
	if item.TopicName != nil && *item.TopicName != "" {
		parts = append(parts, "🏷️ Топик: "+*item.TopicName)
	}

	location := make([]string, 0, 3)
	if item.City != nil && *item.City != "" {
		location = append(location, "🏙️ Город: "+*item.City)
	}
	if item.MetroStation != nil && *item.MetroStation != "" {
		location = append(location, "🚇 Метро: "+*item.MetroStation)
	}
	if item.District != nil && *item.District != "" {
		location = append(location, "📍 Район: "+*item.District)
	}
	if len(location) == 0 && item.Location != nil && *item.Location != "" {
		location = append(location, "📍 Локация: "+*item.Location)
	}
	parts = append(parts, location...)

	author := make([]string, 0, 2)
	if item.AuthorUsername != nil && *item.AuthorUsername != "" {
		author = append(author, "@"+strings.TrimLeft(*item.AuthorUsername, "@"))
	}
	if item.AuthorFullName != nil && *item.AuthorFullName != "" {
		author = append(author, "("+*item.AuthorFullName+")")
	}
	if len(author) > 0 {
		parts = append(parts, "👤 "+strings.Join(author, " "))
	}

	parts = append(parts, "", "📝 Полный текст:", `"`+item.MessageText+`"`)

	return strings.Join(parts, "\n")
}
