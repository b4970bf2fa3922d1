package geo

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Location — структурированная локация объявления для карточки уведомления.
// Пустое поле означает «не определено».
type Location struct {
	City     string // «Москва» / «СПБ»
	Metro    string // название станции метро
	District string // административный округ Москвы (ЦАО, ЮВАО, ...)
}

// districts — округа Москвы, упоминаемые в объявлениях как есть.
var districts = map[string]string{
	"цао": "ЦАО", "сао": "САО", "свао": "СВАО", "вао": "ВАО",
	"ювао": "ЮВАО", "юао": "ЮАО", "юзао": "ЮЗАО", "зао": "ЗАО",
	"сзао": "СЗАО", "зелао": "ЗелАО", "тинао": "ТиНАО",
}

// cityFromTopic — маркеры города в названии топика; проверяются раньше текста,
// название топика для ПВЗ-чатов надёжнее текста объявления.
func cityFromTopic(topicName string) string {
	upper := strings.ToUpper(topicName)
	switch {
	case strings.Contains(upper, "МСК") || strings.Contains(upper, "МОСКВА"):
		return "Москва"
	case strings.Contains(upper, "СПБ") || strings.Contains(upper, "СБП") || strings.Contains(upper, "ПИТЕР"):
		return "СПБ"
	}
	return ""
}

// Locate извлекает структурированную локацию из текста объявления.
// Город берётся из названия топика, при его молчании — из однозначного
// гео-сигнала текста. Метро и округ ищутся по словарям; при известном городе
// станции другого города игнорируются.
func (f *Filter) Locate(text, topicName string) Location {
	loc := Location{City: cityFromTopic(topicName)}

	tokens := strings.Fields(normalize(text))
	if len(tokens) == 0 {
		return loc
	}

	wantMask := Mask(0)
	switch loc.City {
	case "Москва":
		wantMask = Moscow
	case "СПБ":
		wantMask = Spb
	}

	if metro, mask := f.findMetro(tokens, wantMask); metro != "" {
		loc.Metro = titleFirst(metro)
		if loc.City == "" && (mask == Moscow || mask == Spb) {
			if mask == Moscow {
				loc.City = "Москва"
			} else {
				loc.City = "СПБ"
			}
		}
	}

	if loc.City == "" {
		if mask, _ := f.Detect(text); mask == Moscow {
			loc.City = "Москва"
		} else if mask == Spb {
			loc.City = "СПБ"
		}
	}

	// Округа употребляются только в московских объявлениях; при однозначном
	// питерском городе упоминание вроде «зао» считаем ложным срабатыванием.
	if loc.City != "СПБ" {
		for _, tok := range tokens {
			if d, ok := districts[tok]; ok {
				loc.District = d
				break
			}
		}
	}
	return loc
}

// findMetro возвращает первую станцию метро из текста. wantMask != 0 сужает
// поиск до станций нужного города; станции-тёзки обоих городов подходят всегда.
func (f *Filter) findMetro(tokens []string, wantMask Mask) (string, Mask) {
	n := len(tokens)
	maxN := f.maxMetroN
	if maxN > n {
		maxN = n
	}
	// Сначала длинные n-граммы: «бульвар дмитрия донского» важнее «донского».
	for size := maxN; size >= 1; size-- {
		for i := 0; i+size <= n; i++ {
			key := strings.Join(tokens[i:i+size], " ")
			mask, ok := f.metro[key]
			if !ok {
				continue
			}
			if wantMask != 0 && mask&wantMask == 0 {
				continue
			}
			return key, mask
		}
	}
	return "", 0
}

func titleFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
