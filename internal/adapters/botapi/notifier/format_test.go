package botapionotifier

import (
	"strings"
	"testing"

	"pvz-monitor/internal/store"
)

func strp(v string) *string { return &v }

func TestFormatItemWorker(t *testing.T) {
	t.Parallel()
	item := store.FoundItem{
		Date:           "2026-02-05",
		Price:          3000,
		SHK:            strp("100-150"),
		TopicName:      strp("МСК-ВБ"),
		City:           strp("Москва"),
		MetroStation:   strp("Пролетарская"),
		AuthorUsername: strp("@ivan"),
		AuthorFullName: strp("Иван Петров"),
		MessageText:    "Выйду завтра, 3000, шк 100-150",
	}

	text := FormatItem(item, store.ModeWorker)

	wantLines := []string{
		"👷 Новый работник!",
		"📅 Дата: 2026-02-05",
		"💰 Цена: 3000 руб/смену",
		"📦 ШК: 100-150",
		"🏷️ Топик: МСК-ВБ",
		"🏙️ Город: Москва",
		"🚇 Метро: Пролетарская",
		"👤 @ivan (Иван Петров)",
		"📝 Полный текст:",
		`"Выйду завтра, 3000, шк 100-150"`,
	}
	for _, line := range wantLines {
		if !strings.Contains(text, line) {
			t.Fatalf("FormatItem missing line %q in:\n%s", line, text)
		}
	}
	if strings.Contains(text, "📍") {
		t.Fatalf("legacy location line must be absent when city/metro set:\n%s", text)
	}
}

func TestFormatItemEmployerFallbackLocation(t *testing.T) {
	t.Parallel()
	item := store.FoundItem{
		Date:        "2026-02-05",
		Price:       2800,
		Location:    strp("Бутово"),
		MessageText: "Требуется сотрудник, оплата 2800",
	}

	text := FormatItem(item, store.ModeEmployer)

	if !strings.Contains(text, "🏢 Новая вакансия!") {
		t.Fatalf("employer header missing:\n%s", text)
	}
	if !strings.Contains(text, "💰 Оплата: 2800 руб/смену") {
		t.Fatalf("employer price label missing:\n%s", text)
	}
	if !strings.Contains(text, "📍 Локация: Бутово") {
		t.Fatalf("legacy location fallback missing:\n%s", text)
	}
	if strings.Contains(text, "👤") {
		t.Fatalf("anonymous item must not render author line:\n%s", text)
	}
}

func TestBuildKeyboard(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		item     store.FoundItem
		wantRows int
		wantURL  string
	}{
		{
			name:     "username contact",
			item:     store.FoundItem{AuthorUsername: strp("ivan")},
			wantRows: 3,
			wantURL:  "https://t.me/ivan",
		},
		{
			name:     "id contact",
			item:     store.FoundItem{AuthorID: func() *int64 { v := int64(42); return &v }()},
			wantRows: 3,
			wantURL:  "tg://user?id=42",
		},
		{
			name:     "anonymous",
			item:     store.FoundItem{},
			wantRows: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			kb := buildKeyboard(tt.item, 7)
			if len(kb.InlineKeyboard) != tt.wantRows {
				t.Fatalf("rows = %d, want %d", len(kb.InlineKeyboard), tt.wantRows)
			}
			first := kb.InlineKeyboard[0][0]
			if first.CallbackData != "check_blacklist:7" {
				t.Fatalf("first button = %+v", first)
			}
			last := kb.InlineKeyboard[len(kb.InlineKeyboard)-1][0]
			if last.CallbackData != "ignore:7" {
				t.Fatalf("last button = %+v", last)
			}
			if tt.wantURL != "" && kb.InlineKeyboard[1][0].URL != tt.wantURL {
				t.Fatalf("contact url = %q, want %q", kb.InlineKeyboard[1][0].URL, tt.wantURL)
			}
		})
	}
}
