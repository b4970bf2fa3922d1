package extract_test

import (
	"testing"
	"time"

	"pvz-monitor/internal/domain/extract"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func TestDetectType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want string
	}{
		{"employer keyword", "Требуется сотрудник на ПВЗ", extract.TypeEmployer},
		{"worker keyword", "Выйду завтра на смену", extract.TypeWorker},
		{"employer wins over worker", "Ищем продавца, выйду на связь", extract.TypeEmployer},
		{"case insensitive", "ВАКАНСИЯ: оператор", extract.TypeEmployer},
		{"no keywords", "привет, как дела?", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := extract.DetectType(tt.text); got != tt.want {
				t.Fatalf("DetectType(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestExtractDate(t *testing.T) {
	t.Parallel()

	// 2026-08-26 — среда.
	base := date(2026, time.August, 26)

	tests := []struct {
		name string
		text string
		msg  time.Time
		want string
	}{
		{"tomorrow", "выйду завтра", base, "2026-08-27"},
		{"after tomorrow wins over tomorrow substring", "могу послезавтра", base, "2026-08-28"},
		{"today", "свободен сегодня", base, "2026-08-26"},
		{"now equals today", "могу сейчас", base, "2026-08-26"},
		{"weekday accusative", "выйду в субботу", base, "2026-08-29"},
		{"weekday today counts", "выйду в среду", base, "2026-08-26"},
		{"weekday abbr", "возьму смену в сб", base, "2026-08-29"},
		{"abbr needs word boundary", "запись в сборнике", base, ""},
		{"ordinal day this month", "выйду 28го", base, "2026-08-28"},
		{"ordinal day rolls to next month", "выйду 5 числа", base, "2026-09-05"},
		{"numeric date", "выйду 30.08", base, "2026-08-30"},
		{"numeric date rolls to next year", "выйду 28.02", date(2026, time.March, 1), "2027-02-28"},
		{"month word", "смена 30 августа", base, "2026-08-30"},
		{"month word rolls to next year", "смена 1 марта", base, "2027-03-01"},
		{"no date", "выйду на смену", base, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := extract.ExtractDate(tt.text, tt.msg); got != tt.want {
				t.Fatalf("ExtractDate(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestExtractPrice(t *testing.T) {
	t.Parallel()

	intp := func(v int) *int { return &v }

	tests := []struct {
		name    string
		text    string
		msgType string
		want    *int
	}{
		{"thousand suffix k", "смена за 2к", extract.TypeEmployer, intp(2000)},
		{"fractional k", "оплата 2,5к", extract.TypeEmployer, intp(2500)},
		{"building number is not a price", "ул. Ленина 67 к 3", extract.TypeEmployer, nil},
		{"tys suffix", "зп 15 тыс", extract.TypeEmployer, intp(15000)},
		{"ruble sign", "3000₽ за смену", extract.TypeEmployer, intp(3000)},
		{"rub word", "оплата 3500 руб", extract.TypeEmployer, intp(3500)},
		{"rate context", "ставка - 2800 в день", extract.TypeEmployer, intp(2800)},
		{"bare number", "выйду завтра 3000", extract.TypeWorker, intp(3000)},
		{"worker takes min", "выйду, 3000 или 3500", extract.TypeWorker, intp(3000)},
		{"employer takes max", "от 3000 до 3500", extract.TypeEmployer, intp(3500)},
		{"digits glued to word ignored", "артикул 12345678", extract.TypeEmployer, nil},
		{"no price", "выйду завтра", extract.TypeWorker, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := extract.ExtractPrice(tt.text, tt.msgType)
			switch {
			case got == nil && tt.want == nil:
			case got == nil || tt.want == nil:
				t.Fatalf("ExtractPrice(%q) = %v, want %v", tt.text, got, tt.want)
			case *got != *tt.want:
				t.Fatalf("ExtractPrice(%q) = %d, want %d", tt.text, *got, *tt.want)
			}
		})
	}
}

func TestExtractSHK(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want string
	}{
		{"range before shk", "150-200 шк", "150-200"},
		{"range after shk", "шк: 150-200", "150-200"},
		{"number before shk", "сегодня 150 шк", "150"},
		{"shk do", "шк до 500", "500"},
		{"shk colon number", "шк: 150", "150"},
		{"qualitative", "шк мало", "мало"},
		{"absent", "выйду завтра 3000", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := extract.ExtractSHK(tt.text); got != tt.want {
				t.Fatalf("ExtractSHK(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestExtractDayRollover(t *testing.T) {
	t.Parallel()

	// Сообщение от 28 февраля с датой "1.03" — рабочая дата уже в марте.
	res := extract.Extract("Выйду 1.03, 3000, шк 100", date(2026, time.February, 28))
	if res == nil {
		t.Fatal("Extract returned nil for a valid worker ad")
	}
	if res.Type != extract.TypeWorker {
		t.Fatalf("Type = %q, want %q", res.Type, extract.TypeWorker)
	}
	if res.Date != "2026-03-01" {
		t.Fatalf("Date = %q, want %q", res.Date, "2026-03-01")
	}
	if res.Price == nil || *res.Price != 3000 {
		t.Fatalf("Price = %v, want 3000", res.Price)
	}
	if res.SHK != "100" {
		t.Fatalf("SHK = %q, want %q", res.SHK, "100")
	}
}

func TestExtract(t *testing.T) {
	t.Parallel()

	base := date(2026, time.August, 26)
	intp := func(v int) *int { return &v }

	tests := []struct {
		name string
		text string
		want *extract.Result
	}{
		{
			name: "worker with everything",
			text: "Выйду завтра, 2800, шк мало",
			want: &extract.Result{Type: extract.TypeWorker, Price: intp(2800), Date: "2026-08-27", SHK: "мало"},
		},
		{
			name: "employer vacancy",
			text: "Требуется сотрудник, оплата 3000 руб",
			want: &extract.Result{Type: extract.TypeEmployer, Price: intp(3000), Date: "2026-08-26"},
		},
		{
			name: "intent without keyword becomes worker",
			text: "готов с 28го, 2500",
			want: &extract.Result{Type: extract.TypeWorker, Price: intp(2500), Date: "2026-08-28"},
		},
		{
			name: "price without type defaults to employer",
			text: "смена 3200, метро Митино",
			want: &extract.Result{Type: extract.TypeEmployer, Price: intp(3200), Date: "2026-08-26"},
		},
		{
			name: "no signal rejected",
			text: "привет, как дела?",
			want: nil,
		},
		{
			name: "worker without price kept",
			text: "выйду в субботу",
			want: &extract.Result{Type: extract.TypeWorker, Date: "2026-08-29"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := extract.Extract(tt.text, base)
			if tt.want == nil {
				if got != nil {
					t.Fatalf("Extract(%q) = %+v, want nil", tt.text, got)
				}
				return
			}
			if got == nil {
				t.Fatalf("Extract(%q) = nil, want %+v", tt.text, tt.want)
			}
			if got.Type != tt.want.Type || got.Date != tt.want.Date || got.SHK != tt.want.SHK {
				t.Fatalf("Extract(%q) = %+v, want %+v", tt.text, got, tt.want)
			}
			switch {
			case got.Price == nil && tt.want.Price == nil:
			case got.Price == nil || tt.want.Price == nil || *got.Price != *tt.want.Price:
				t.Fatalf("Extract(%q).Price = %v, want %v", tt.text, got.Price, tt.want.Price)
			}
		})
	}
}
