package pipeline

import (
	"testing"
)

func TestParseChats(t *testing.T) {
	t.Parallel()
	spec := ParseChats([]string{
		"@pvz_msk",
		"@forum/12",
		"@forum/15#СПБ",
		"@tagged#МСК",
		" pvz_msk ", // дубль без @ и с пробелами
		"@forum/junk",
		"@weird#ЕКБ", // неизвестная метка отбрасывается, чат остаётся
		"",
	})

	wantChats := []string{"@pvz_msk", "@forum", "@tagged", "@weird"}
	if len(spec.Chats) != len(wantChats) {
		t.Fatalf("chats = %v, want %v", spec.Chats, wantChats)
	}
	for i, want := range wantChats {
		if spec.Chats[i] != want {
			t.Fatalf("chats[%d] = %q, want %q", i, spec.Chats[i], want)
		}
	}

	if len(spec.AllowedTopics["@forum"]) != 2 {
		t.Fatalf("forum topics = %v", spec.AllowedTopics["@forum"])
	}
	if !spec.TopicAllowed("@forum", 12) || !spec.TopicAllowed("@forum", 15) {
		t.Fatal("explicit topics must be allowed")
	}
	if spec.TopicAllowed("@forum", 99) {
		t.Fatal("unlisted topic must be rejected for a filtered chat")
	}
	if !spec.TopicAllowed("@pvz_msk", 99) {
		t.Fatal("chat without topic list accepts everything")
	}

	if got := spec.CityTag("@forum", 15); got != CitySpb {
		t.Fatalf("CityTag(@forum, 15) = %q, want СПБ", got)
	}
	if got := spec.CityTag("@forum", 12); got != "" {
		t.Fatalf("CityTag(@forum, 12) = %q, want empty", got)
	}
	if got := spec.CityTag("@tagged", 0); got != CityMoscow {
		t.Fatalf("CityTag(@tagged, 0) = %q, want МСК", got)
	}
	if got := spec.CityTag("@weird", 0); got != "" {
		t.Fatalf("unknown city tag must be dropped, got %q", got)
	}
}

func TestParseChatsJunkTopicFallsBackToChat(t *testing.T) {
	t.Parallel()
	spec := ParseChats([]string{"@forum/abc"})

	if len(spec.Chats) != 1 || spec.Chats[0] != "@forum" {
		t.Fatalf("chats = %v, want [@forum]", spec.Chats)
	}
	if len(spec.AllowedTopics["@forum"]) != 0 {
		t.Fatalf("junk topic must not restrict the chat: %v", spec.AllowedTopics["@forum"])
	}
}
