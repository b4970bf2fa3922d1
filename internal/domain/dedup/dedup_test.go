package dedup_test

import (
	"testing"

	"pvz-monitor/internal/domain/dedup"
)

func TestContentHashStable(t *testing.T) {
	t.Parallel()

	h1 := dedup.ContentHash(3000, "Москва", "Выйду завтра, 3000")
	h2 := dedup.ContentHash(3000, "Москва", "Выйду завтра, 3000")
	if h1 != h2 {
		t.Fatalf("ContentHash not deterministic: %q != %q", h1, h2)
	}
	if len(h1) != 64 {
		t.Fatalf("ContentHash length = %d, want 64 hex chars", len(h1))
	}
}

func TestContentHashNormalization(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		a, b  [3]string
		equal bool
	}{
		{
			name:  "case and surrounding whitespace ignored",
			a:     [3]string{"Митино", "Выйду завтра", ""},
			b:     [3]string{"митино", "  выйду завтра \n", ""},
			equal: true,
		},
		{
			name:  "different location differs",
			a:     [3]string{"Митино", "Выйду завтра", ""},
			b:     [3]string{"Бутово", "Выйду завтра", ""},
			equal: false,
		},
		{
			name:  "inner text change differs",
			a:     [3]string{"Митино", "Выйду завтра, 3000", ""},
			b:     [3]string{"Митино", "Выйду завтра, 3500", ""},
			equal: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h1 := dedup.ContentHash(3000, tt.a[0], tt.a[1])
			h2 := dedup.ContentHash(3000, tt.b[0], tt.b[1])
			if (h1 == h2) != tt.equal {
				t.Fatalf("hash equality = %v, want %v", h1 == h2, tt.equal)
			}
		})
	}
}

func TestContentHashEmptyLocation(t *testing.T) {
	t.Parallel()

	// Пустая локация нормализуется в "unknown" и совпадает с явным "unknown".
	h1 := dedup.ContentHash(2500, "", "возьму смену")
	h2 := dedup.ContentHash(2500, "unknown", "возьму смену")
	if h1 != h2 {
		t.Fatalf("empty location hash %q != explicit unknown hash %q", h1, h2)
	}
}

func TestContentHashPriceMatters(t *testing.T) {
	t.Parallel()

	h1 := dedup.ContentHash(3000, "Митино", "выйду")
	h2 := dedup.ContentHash(3500, "Митино", "выйду")
	if h1 == h2 {
		t.Fatal("different prices must not collide")
	}
}
