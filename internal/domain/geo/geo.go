// Package geo — гео-фильтр сообщений по тексту: Москва / Санкт-Петербург.
//
// Бизнес-логика (режим исключения):
//
//	Режим Москва: сообщение берётся; исключается ТОЛЬКО при однозначном сигнале СПб.
//	Режим СПб:   сообщение берётся; исключается ТОЛЬКО при однозначном сигнале Москвы.
//
// Уровни детекции (ранний выход по приоритету):
//  1. Явный город — алиасы и населённые пункты области (ранний выход).
//  2. Станции метро — одного города → определён; двух → коллизия → улицы.
//  3. Названия улиц — одного города → определён; двух → коллизия → нет сигнала.
//
// Поиск ведётся по n-граммам токенов нормализованного текста, не по подстроке.
// Результат кешируется в LRU на 15 000 записей, ключ — нормализованный текст.
package geo

import (
	"bufio"
	"bytes"
	"embed"
	"fmt"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru"

	"pvz-monitor/internal/infra/logger"
)

// Mask — битовая маска городов. Коллизия (оба сигнала) = Moscow|Spb.
type Mask int

const (
	Moscow Mask = 1
	Spb    Mask = 2
)

// Уровни, на которых найден сигнал.
const (
	LevelExplicit = "explicit"
	LevelMetro    = "metro"
	LevelStreet   = "street"
	LevelNone     = "none"
)

const cacheSize = 15000

//go:embed data/geo/*.txt
var geoData embed.FS

var (
	// «г.» / «г » перед населённым пунктом. RE2 не понимает юникодный \b,
	// поэтому граница слова слева моделируется группой.
	reCityPrefix = regexp.MustCompile(`(^|[^\p{L}\p{N}_])г\.?\s+`)
	// Дефис между буквенно-цифровыми символами: санкт-петербург → санкт петербург.
	reHyphen = regexp.MustCompile(`([\p{L}\p{N}_])-([\p{L}\p{N}_])`)
	// Спецсимволы (не буква/цифра/подчёркивание/пробел).
	reSpecial = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
)

// abbrExpand раскрывает сокращения типов улиц до полных слов.
// Полные слова затем попадают в abbrDrop, так что итог — удаление типа улицы
// при сохранённой читаемости таблицы.
var abbrExpand = map[string]string{
	"просп": "проспект",
	"бул":   "бульвар",
	"наб":   "набережная",
	"ш":     "шоссе",
	"пр":    "проспект",
}

// abbrDrop — типы улиц, не несущие гео-информации; выбрасываются из ключей.
var abbrDrop = map[string]struct{}{
	"ул": {}, "улица": {}, "проспект": {}, "бульвар": {}, "набережная": {},
	"шоссе": {}, "переулок": {}, "тупик": {}, "площадь": {}, "аллея": {},
	"проезд": {}, "просека": {},
}

// normalize приводит текст к единому виду для словарного поиска.
func normalize(text string) string {
	text = strings.ToLower(text)
	text = strings.ReplaceAll(text, "ё", "е")
	text = reCityPrefix.ReplaceAllString(text, "$1") // г. Красногорск → красногорск
	text = strings.ReplaceAll(text, ".", " ")        // м. → м, пр. → пр
	text = reHyphen.ReplaceAllString(text, "$1 $2")
	text = reSpecial.ReplaceAllString(text, " ")

	fields := strings.Fields(text)
	out := fields[:0]
	for _, tok := range fields {
		if expanded, ok := abbrExpand[tok]; ok {
			tok = expanded
		}
		if _, drop := abbrDrop[tok]; drop {
			continue
		}
		out = append(out, tok)
	}
	return strings.Join(out, " ")
}

// maskLevel — закешированный результат детекции.
type maskLevel struct {
	mask  Mask
	level string
}

// Filter — гео-фильтр с LRU-кешем. Потокобезопасен: словари после загрузки
// только читаются, кеш сам по себе безопасен для конкурентного доступа.
type Filter struct {
	aliases map[string]Mask
	metro   map[string]Mask
	streets map[string]Mask

	maxAliasN  int
	maxMetroN  int
	maxStreetN int

	cache *lru.Cache
}

// New загружает встроенные словари и возвращает готовый фильтр.
func New() (*Filter, error) {
	f := &Filter{
		aliases: map[string]Mask{},
		metro:   map[string]Mask{},
		streets: map[string]Mask{},
	}

	type src struct {
		file   string
		mask   Mask
		target map[string]Mask
	}
	for _, s := range []src{
		{"moscow_aliases.txt", Moscow, f.aliases},
		{"spb_aliases.txt", Spb, f.aliases},
		{"metro_moscow.txt", Moscow, f.metro},
		{"metro_spb.txt", Spb, f.metro},
		{"streets_moscow.txt", Moscow, f.streets},
		{"streets_spb.txt", Spb, f.streets},
	} {
		if err := loadDict("data/geo/"+s.file, s.mask, s.target); err != nil {
			return nil, err
		}
	}

	f.maxAliasN = maxNgram(f.aliases)
	f.maxMetroN = maxNgram(f.metro)
	f.maxStreetN = maxNgram(f.streets)

	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("geo: create cache: %w", err)
	}
	f.cache = cache

	logger.Infof("geo: словари загружены — алиасов=%d, метро=%d, улиц=%d",
		len(f.aliases), len(f.metro), len(f.streets))
	return f, nil
}

// loadDict читает словарь, пропуская пустые строки и комментарии (#),
// и добавляет записи в target с OR-маскированием: одно имя может
// принадлежать обоим городам.
func loadDict(path string, cityMask Mask, target map[string]Mask) error {
	raw, err := geoData.ReadFile(path)
	if err != nil {
		return fmt.Errorf("geo: словарь не найден: %s: %w", path, err)
	}
	loaded := 0
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		entry := strings.TrimSpace(sc.Text())
		if entry == "" || strings.HasPrefix(entry, "#") {
			continue
		}
		key := normalize(entry)
		if key == "" {
			continue
		}
		target[key] |= cityMask
		loaded++
	}
	logger.Debugf("geo: %s: загружено %d записей", path, loaded)
	return sc.Err()
}

// maxNgram — максимальная длина ключа словаря в токенах.
func maxNgram(dict map[string]Mask) int {
	maxN := 1
	for k := range dict {
		if n := len(strings.Split(k, " ")); n > maxN {
			maxN = n
		}
	}
	return maxN
}

// scan проходит по токенам, генерируя n-граммы длиной 1..maxN, и накапливает
// битовую маску. Останавливается досрочно, когда найдены оба города.
func scan(tokens []string, lookup map[string]Mask, maxN int) Mask {
	n := len(tokens)
	if maxN > n {
		maxN = n
	}
	var mask Mask
	for size := 1; size <= maxN; size++ {
		for i := 0; i+size <= n; i++ {
			if hit := lookup[strings.Join(tokens[i:i+size], " ")]; hit != 0 {
				mask |= hit
				if mask == Moscow|Spb {
					return mask
				}
			}
		}
	}
	return mask
}

// detect определяет гео-маску нормализованного текста.
// Возвращает маску (0 — нет сигнала, 3 — коллизия) и уровень детекции.
func (f *Filter) detect(normalized string) maskLevel {
	tokens := strings.Fields(normalized)
	if len(tokens) == 0 {
		return maskLevel{0, LevelNone}
	}

	// Уровень 1: явный город. Ранний выход — метро и улицы не проверяются.
	if aliasMask := scan(tokens, f.aliases, f.maxAliasN); aliasMask != 0 {
		return maskLevel{aliasMask, LevelExplicit}
	}

	// Уровень 2: метро.
	metroMask := scan(tokens, f.metro, f.maxMetroN)
	if metroMask == Moscow || metroMask == Spb {
		return maskLevel{metroMask, LevelMetro}
	}
	if metroMask == Moscow|Spb {
		logger.Debugf("geo: conflict_metro")
	}

	// Уровень 3: улицы. Проверяются при отсутствии сигнала метро или коллизии.
	streetMask := scan(tokens, f.streets, f.maxStreetN)
	if streetMask == Moscow || streetMask == Spb {
		return maskLevel{streetMask, LevelStreet}
	}
	if streetMask == Moscow|Spb {
		logger.Debugf("geo: conflict_street")
	}

	return maskLevel{0, LevelNone}
}

// Detect возвращает маску и уровень детекции для произвольного текста,
// с LRU-кешированием по нормализованному ключу.
func (f *Filter) Detect(text string) (Mask, string) {
	norm := normalize(text)
	if v, ok := f.cache.Get(norm); ok {
		ml := v.(maskLevel)
		return ml.mask, ml.level
	}
	ml := f.detect(norm)
	f.cache.Add(norm, ml)
	return ml.mask, ml.level
}

// ShouldTakeForMoscow — брать ли сообщение в режиме Москва.
// Исключаются только сообщения с однозначным сигналом СПб.
func (f *Filter) ShouldTakeForMoscow(text string) bool {
	mask, level := f.Detect(text)
	if mask == Spb {
		logger.Infof("geo: excluded %s_spb", level)
		return false
	}
	return true
}

// ShouldTakeForSpb — брать ли сообщение в режиме СПб.
// Исключаются только сообщения с однозначным сигналом Москвы.
func (f *Filter) ShouldTakeForSpb(text string) bool {
	mask, level := f.Detect(text)
	if mask == Moscow {
		logger.Infof("geo: excluded %s_moscow", level)
		return false
	}
	return true
}
