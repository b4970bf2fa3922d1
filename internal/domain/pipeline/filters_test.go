package pipeline

import (
	"testing"
)

func intp(v int) *int { return &v }

func TestParseFiltersDefaults(t *testing.T) {
	t.Parallel()
	f, err := ParseFilters(`{"date_from":"2026-02-01","date_to":"2026-02-28","min_price":1000,"max_price":5000}`)
	if err != nil {
		t.Fatalf("ParseFilters error: %v", err)
	}
	if f.SHKFilter != SHKAny {
		t.Fatalf("SHKFilter = %q, want %q", f.SHKFilter, SHKAny)
	}
	if f.CityFilter != CityAll {
		t.Fatalf("CityFilter = %q, want %q", f.CityFilter, CityAll)
	}

	if _, err := ParseFilters("не json"); err == nil {
		t.Fatal("expected error for malformed json")
	}
}

func TestFiltersMatches(t *testing.T) {
	t.Parallel()
	base := Filters{
		DateFrom:   "2026-02-01",
		DateTo:     "2026-02-28",
		MinPrice:   1000,
		MaxPrice:   5000,
		SHKFilter:  SHKAny,
		CityFilter: CityAll,
	}

	tests := []struct {
		name   string
		mutate func(*Filters)
		date   string
		price  *int
		shk    string
		want   bool
	}{
		{name: "passes", date: "2026-02-05", price: intp(3000), want: true},
		{name: "date below range", date: "2026-01-31", price: intp(3000), want: false},
		{name: "date above range", date: "2026-03-01", price: intp(3000), want: false},
		{name: "date boundaries inclusive", date: "2026-02-01", price: intp(3000), want: true},
		{name: "malformed date", date: "завтра", price: intp(3000), want: false},
		{name: "price missing", date: "2026-02-05", want: false},
		{name: "price below", date: "2026-02-05", price: intp(500), want: false},
		{name: "price above", date: "2026-02-05", price: intp(9000), want: false},
		{
			name:   "shk required and matches case-insensitive",
			mutate: func(f *Filters) { f.SHKFilter = "100-150" },
			date:   "2026-02-05", price: intp(3000), shk: "100-150",
			want: true,
		},
		{
			name:   "shk required but absent",
			mutate: func(f *Filters) { f.SHKFilter = "100-150" },
			date:   "2026-02-05", price: intp(3000),
			want: false,
		},
		{
			name:   "shk mismatch",
			mutate: func(f *Filters) { f.SHKFilter = "100-150" },
			date:   "2026-02-05", price: intp(3000), shk: "50-100",
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := base
			if tt.mutate != nil {
				tt.mutate(&f)
			}
			if got := f.Matches(tt.date, tt.price, tt.shk); got != tt.want {
				t.Fatalf("Matches(%q, %v, %q) = %v, want %v", tt.date, tt.price, tt.shk, got, tt.want)
			}
		})
	}
}
