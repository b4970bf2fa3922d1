package blacklist

import (
	"reflect"
	"testing"

	"pvz-monitor/internal/store"
)

const card = `ЧС работников
ID: 123456
Ник: @scam_ivan
ФИО: Иванов Иван Иванович
Тел: +7 900 ***-**-01
Причина: не вышел на смену`

func TestMatchers(t *testing.T) {
	t.Parallel()

	if !matchUsername("@SCAM_ivan")(card) {
		t.Fatal("username match must be case-insensitive")
	}
	if matchUsername("@other")(card) {
		t.Fatal("unexpected username match")
	}

	if !matchUserID(123456)(card) {
		t.Fatal("user id must match")
	}
	if matchUserID(999)(card) {
		t.Fatal("unexpected user id match")
	}
	if matchUserID(123456)("заказ ID товара отсутствует") {
		t.Fatal("no digits — no match")
	}

	if !matchFIO([]string{"Иванов", "Иван"})(card) {
		t.Fatal("fio tokens must match")
	}
	if matchFIO([]string{"Иванов", "Пётр"})(card) {
		t.Fatal("all fio tokens are required")
	}
}

func TestFioWords(t *testing.T) {
	t.Parallel()
	got := fioWords("  Иванов И Иван  ")
	want := []string{"Иванов", "Иван"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("fioWords = %v, want %v (single-letter initials dropped)", got, want)
	}
	if fioWords(" А Б ") != nil {
		t.Fatal("initials only must yield no tokens")
	}
}

func TestExtractInfo(t *testing.T) {
	t.Parallel()
	info := extractInfo(card + "\nстатус: работник")

	if info["user_id"] != int64(123456) {
		t.Fatalf("user_id = %v", info["user_id"])
	}
	if info["username"] != "@scam_ivan" {
		t.Fatalf("username = %v", info["username"])
	}
	if info["full_name"] != "Иванов Иван Иванович" {
		t.Fatalf("full_name = %v", info["full_name"])
	}
	if info["phone"] != "+7 900 ***-**-01" {
		t.Fatalf("phone = %v", info["phone"])
	}
	if info["role"] != "worker" {
		t.Fatalf("role = %v", info["role"])
	}

	employer := extractInfo("работодатель кинул на оплату")
	if employer["role"] != "employer" {
		t.Fatalf("role = %v", employer["role"])
	}
	if _, ok := extractInfo("пустая карточка")["user_id"]; ok {
		t.Fatal("no fields expected")
	}
}

func TestNormalizeEntry(t *testing.T) {
	t.Parallel()
	tid := int64(7)
	tests := []struct {
		name      string
		entry     store.BlacklistChat
		wantChat  string
		wantTopic *int64
	}{
		{"plain", store.BlacklistChat{ChatUsername: "@bl_chat"}, "@bl_chat", nil},
		{"explicit topic", store.BlacklistChat{ChatUsername: "@bl_chat", TopicID: &tid}, "@bl_chat", &tid},
		{"legacy inline topic", store.BlacklistChat{ChatUsername: "@bl_chat/42"}, "@bl_chat", func() *int64 { v := int64(42); return &v }()},
		{"legacy junk suffix kept", store.BlacklistChat{ChatUsername: "@bl_chat/old"}, "@bl_chat/old", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat, topic := normalizeEntry(tt.entry)
			if chat != tt.wantChat {
				t.Fatalf("chat = %q, want %q", chat, tt.wantChat)
			}
			switch {
			case tt.wantTopic == nil && topic != nil:
				t.Fatalf("topic = %d, want nil", *topic)
			case tt.wantTopic != nil && (topic == nil || *topic != *tt.wantTopic):
				t.Fatalf("topic = %v, want %d", topic, *tt.wantTopic)
			}
		})
	}
}
