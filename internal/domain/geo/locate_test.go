package geo_test

import (
	"testing"

	"pvz-monitor/internal/domain/geo"
)

func TestLocate(t *testing.T) {
	t.Parallel()
	f := newFilter(t)

	tests := []struct {
		name  string
		text  string
		topic string
		want  geo.Location
	}{
		{
			name:  "city from topic",
			text:  "Выйду завтра, 3000",
			topic: "МСК - ВБ",
			want:  geo.Location{City: "Москва"},
		},
		{
			name:  "spb topic with metro",
			text:  "м. Озерки, выйду на смену",
			topic: "СПБ -> Озон",
			want:  geo.Location{City: "СПБ", Metro: "Озерки"},
		},
		{
			name: "metro implies city",
			text: "ПВЗ у метро Жулебино, 2800",
			want: geo.Location{City: "Москва", Metro: "Жулебино"},
		},
		{
			name: "district detected",
			text: "ПВЗ ЮВАО, Жулебино, выйду",
			want: geo.Location{City: "Москва", Metro: "Жулебино", District: "ЮВАО"},
		},
		{
			name:  "shared station resolved by topic",
			text:  "м. Пролетарская, возьму смену",
			topic: "Питер - ВБ",
			want:  geo.Location{City: "СПБ", Metro: "Пролетарская"},
		},
		{
			name: "city from text alias",
			text: "г. Мытищи, нужен сотрудник",
			want: geo.Location{City: "Москва"},
		},
		{
			name: "no signal",
			text: "выйду завтра, 3000, шк 150",
			want: geo.Location{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := f.Locate(tt.text, tt.topic)
			if got != tt.want {
				t.Fatalf("Locate(%q, %q) = %+v, want %+v", tt.text, tt.topic, got, tt.want)
			}
		})
	}
}
