// Package extract — разбор русскоязычных объявлений о сменах на ПВЗ.
//
// Из свободного текста извлекаются: тип объявления (работник/работодатель),
// рабочая дата, цена за смену и метка количества ШК (штрихкодов). Локацию
// пакет не определяет: её источник — название топика и гео-фильтр, это зона
// ответственности пайплайна.
//
// Все проверки ведутся по тексту в нижнем регистре. Регулярные выражения RE2
// не умеют ретроспективные проверки и юникодные \b, поэтому границы слов для
// кириллицы и исключение адресного контекста ("67 к 3") проверяются вручную.
package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"pvz-monitor/internal/infra/logger"
)

// Типы объявлений.
const (
	TypeWorker   = "worker"
	TypeEmployer = "employer"
)

const dateLayout = "2006-01-02"

// Result — структурированное представление объявления.
// Price == nil означает, что цена в тексте не найдена.
// SHK == "" — метка ШК отсутствует. Location здесь всегда пуст.
type Result struct {
	Type     string
	Price    *int
	Date     string // ISO yyyy-mm-dd
	SHK      string
	Location string
}

// employerKeywords — маркеры вакансий от работодателей. Порядок важен только
// для предсказуемости; достаточно первого вхождения любой подстроки.
var employerKeywords = []string{
	"требуется", "требуются", "вакансия", "ищем", "набираем",
	"приглашаем", "нужен сотрудник", "нужен работник",
	"нужен человек", "ищем продавца", "оператора",
	"на постоянную работу", "график работы", "оформление",
	"выплаты", "зп 2 раза", "условия", "требования",
}

// workerKeywords — маркеры объявлений от работников, ищущих смену.
var workerKeywords = []string{
	"выйду", "могу выйти", "ищу работу", "ищу смену",
	"ищу подработку", "возьму смену", "рассмотрю смены",
	"устроюсь", "устроимся", "свободен", "готов работать",
	"ищу пункт", "могу",
}

// weekdayEntry связывает словоформу дня недели с номером (понедельник = 0).
// В списке есть винительные формы ("в среду", "в пятницу", "в субботу").
type weekdayEntry struct {
	word string
	num  int
}

var weekdays = []weekdayEntry{
	{"понедельник", 0}, {"вторник", 1}, {"среда", 2}, {"среду", 2},
	{"четверг", 3}, {"пятница", 4}, {"пятницу", 4},
	{"суббота", 5}, {"субботу", 5},
	{"воскресенье", 6},
}

var weekdayAbbr = []weekdayEntry{
	{"пн", 0}, {"вт", 1}, {"ср", 2}, {"чт", 3}, {"пт", 4}, {"сб", 5}, {"вс", 6},
}

// months — родительный падеж названий месяцев ("1 марта").
var months = map[string]time.Month{
	"января": time.January, "февраля": time.February, "марта": time.March,
	"апреля": time.April, "мая": time.May, "июня": time.June,
	"июля": time.July, "августа": time.August, "сентября": time.September,
	"октября": time.October, "ноября": time.November, "декабря": time.December,
}

var (
	// Цена: "2к", "3 к", "2,5к". Граница слова после "к" и исключение
	// адресов вида "67 к 3" проверяются вручную (RE2 не умеет lookahead).
	priceKRe = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*к`)
	// Остаток строки после "к", означающий номер корпуса, а не тысячи.
	addrAfterKRe = regexp.MustCompile(`^\s*\d`)
	priceTysRe   = regexp.MustCompile(`(\d+)\s*тыс`)
	priceRubRe   = regexp.MustCompile(`(\d{3,5})\s*(?:₽|руб|р\.?)`)
	priceCtxRe   = regexp.MustCompile(`(?:ставка|зп|оплата)[^\d]{0,10}(\d{3,5})`)
	// Голое 4-5-значное число. Максимальные цепочки цифр ищутся регуляркой,
	// юникодные границы слова проверяются отдельно.
	digitRunRe = regexp.MustCompile(`[0-9]+`)

	// Дни "5го", "5-го", "5 числа".
	dayOrdinalRe = regexp.MustCompile(`(\d{1,2})[-\s]?(?:го|числа)`)
	// Даты "28.02", "1/3".
	dayMonthNumRe = regexp.MustCompile(`(\d{1,2})[./](\d{1,2})`)
	// Даты "1 марта".
	dayMonthWordRe = regexp.MustCompile(`(\d{1,2})\s+(января|февраля|марта|апреля|мая|июня|июля|августа|сентября|октября|ноября|декабря)`)

	workerIntentRe = regexp.MustCompile(`выйду|ищу|устроюсь|свободен|готов`)
)

// shkPattern описывает один шаблон поиска метки ШК. Диапазонные шаблоны
// захватывают две группы и склеиваются в строку "A-B".
type shkPattern struct {
	re      *regexp.Regexp
	isRange bool
}

// Порядок важен: диапазоны раньше одиночных чисел, числа раньше качественных
// меток. [^\S\n] — пробельный символ в пределах одной строки.
var shkPatterns = []shkPattern{
	{regexp.MustCompile(`(\d{2,4})[^\S\n]*[-–][^\S\n]*(\d{2,4})[^\S\n]*шк`), true},
	{regexp.MustCompile(`шк[^\S\n]*[-:—]?[^\S\n]*(\d{2,4})[^\S\n]*[-–][^\S\n]*(\d{2,4})`), true},
	{regexp.MustCompile(`(\d{2,4})\s*шк`), false},
	{regexp.MustCompile(`шк\s+до\s+(\d{2,4})`), false},
	{regexp.MustCompile(`шк\s*[-:—]?\s*(\d{2,4})`), false},
	{regexp.MustCompile(`шк\s*[-:—]?\s*(мало|много|средне)`), false},
}

// isWordRune повторяет семантику юникодного \w: буква, цифра или подчёркивание.
func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// wordBoundaryAt сообщает, являются ли байтовые позиции start/end границами
// слова в юникодном смысле (соседние руны не буквенно-цифровые).
func wordBoundaryAt(text string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

// indexWholeWord возвращает байтовый индекс первого вхождения word как
// отдельного слова, либо -1.
func indexWholeWord(text, word string) int {
	for start := 0; start <= len(text); {
		i := strings.Index(text[start:], word)
		if i < 0 {
			return -1
		}
		i += start
		if wordBoundaryAt(text, i, i+len(word)) {
			return i
		}
		_, sz := utf8.DecodeRuneInString(text[i:])
		start = i + sz
	}
	return -1
}

// DetectType классифицирует текст по ключевым словам. Маркеры работодателя
// имеют приоритет: вакансии часто содержат и "ищем", и формы работника.
// Пустая строка — тип не распознан.
func DetectType(text string) string {
	text = strings.ToLower(text)

	for _, k := range employerKeywords {
		if strings.Contains(text, k) {
			return TypeEmployer
		}
	}
	for _, k := range workerKeywords {
		if strings.Contains(text, k) {
			return TypeWorker
		}
	}
	return ""
}

// HasWorkerIntent ловит глаголы намерения работника даже без полного
// ключевого слова ("выйду 1.03").
func HasWorkerIntent(text string) bool {
	return workerIntentRe.MatchString(strings.ToLower(text))
}

// pyWeekday переводит time.Weekday (воскресенье = 0) в нумерацию
// понедельник = 0, в которой заданы словари дней недели.
func pyWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// nearestWeekday возвращает ближайшую дату с нужным днём недели,
// сегодняшний день считается подходящим.
func nearestWeekday(target int, base time.Time) time.Time {
	daysAhead := target - pyWeekday(base)
	if daysAhead < 0 {
		daysAhead += 7
	}
	return base.AddDate(0, 0, daysAhead)
}

// makeDate строит дату и проверяет её корректность: time.Date нормализует
// 30 февраля в 2 марта, что здесь означало бы ложную дату.
func makeDate(year int, month time.Month, day int, loc *time.Location) (time.Time, bool) {
	t := time.Date(year, month, day, 0, 0, 0, 0, loc)
	if t.Year() != year || t.Month() != month || t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

// dateBefore сравнивает только календарные даты, время суток игнорируется.
func dateBefore(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	if ay != by {
		return ay < by
	}
	if am != bm {
		return am < bm
	}
	return ad < bd
}

// ExtractDate находит рабочую дату в тексте. Лестница приоритетов:
// относительные слова (сейчас приравнивается к сегодня) → день недели словом →
// аббревиатура дня → "5го/5 числа"
// с переносом на следующий месяц → "28.02" с переносом на следующий год →
// "1 марта" с тем же переносом. Пустая строка — дата не найдена.
func ExtractDate(text string, messageDate time.Time) string {
	text = strings.ToLower(text)
	loc := messageDate.Location()

	// "послезавтра" содержит "завтра", поэтому проверяется первым.
	if strings.Contains(text, "послезавтра") {
		return messageDate.AddDate(0, 0, 2).Format(dateLayout)
	}
	if strings.Contains(text, "завтра") {
		return messageDate.AddDate(0, 0, 1).Format(dateLayout)
	}
	if strings.Contains(text, "сегодня") || strings.Contains(text, "сейчас") {
		return messageDate.Format(dateLayout)
	}

	for _, w := range weekdays {
		if indexWholeWord(text, w.word) >= 0 {
			return nearestWeekday(w.num, messageDate).Format(dateLayout)
		}
	}

	// Аббревиатуры: берём самое левое вхождение любой из них как слово.
	abbrPos, abbrNum := -1, 0
	for _, w := range weekdayAbbr {
		if i := indexWholeWord(text, w.word); i >= 0 && (abbrPos < 0 || i < abbrPos) {
			abbrPos, abbrNum = i, w.num
		}
	}
	if abbrPos >= 0 {
		return nearestWeekday(abbrNum, messageDate).Format(dateLayout)
	}

	if m := dayOrdinalRe.FindStringSubmatch(text); m != nil {
		day, _ := strconv.Atoi(m[1])
		if dt, ok := makeDate(messageDate.Year(), messageDate.Month(), day, loc); ok {
			if dateBefore(dt, messageDate) {
				year, month := messageDate.Year(), messageDate.Month()+1
				if month > time.December {
					month = time.January
					year++
				}
				if next, ok2 := makeDate(year, month, day, loc); ok2 {
					return next.Format(dateLayout)
				}
			} else {
				return dt.Format(dateLayout)
			}
		}
	}

	if m := dayMonthNumRe.FindStringSubmatch(text); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		if month >= 1 && month <= 12 {
			if dt, ok := makeDate(messageDate.Year(), time.Month(month), day, loc); ok {
				if dateBefore(dt, messageDate) {
					if next, ok2 := makeDate(messageDate.Year()+1, time.Month(month), day, loc); ok2 {
						return next.Format(dateLayout)
					}
				} else {
					return dt.Format(dateLayout)
				}
			}
		}
	}

	if m := dayMonthWordRe.FindStringSubmatch(text); m != nil {
		day, _ := strconv.Atoi(m[1])
		month := months[m[2]]
		if dt, ok := makeDate(messageDate.Year(), month, day, loc); ok {
			if dateBefore(dt, messageDate) {
				if next, ok2 := makeDate(messageDate.Year()+1, month, day, loc); ok2 {
					return next.Format(dateLayout)
				}
			} else {
				return dt.Format(dateLayout)
			}
		}
	}

	return ""
}

// priceFromK разбирает кандидатов "2к"/"2,5 к": после "к" не должно идти ни
// буквенно-цифрового символа (граница слова), ни числа через пробел —
// иначе это адрес ("ул. Ленина 67 к 3").
func priceFromK(text string, prices []int) []int {
	for _, idx := range priceKRe.FindAllStringSubmatchIndex(text, -1) {
		end := idx[1]
		if end < len(text) {
			r, _ := utf8.DecodeRuneInString(text[end:])
			if isWordRune(r) {
				continue
			}
			if addrAfterKRe.MatchString(text[end:]) {
				continue
			}
		}
		val := strings.ReplaceAll(text[idx[2]:idx[3]], ",", ".")
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			continue
		}
		prices = append(prices, int(f*1000))
	}
	return prices
}

// ExtractPrice собирает всех кандидатов цены и выбирает итог: минимум для
// работника (его минимальная ставка) и максимум для вакансии (верх вилки).
// nil — цена не найдена.
func ExtractPrice(text string, msgType string) *int {
	text = strings.ToLower(text)
	var prices []int

	prices = priceFromK(text, prices)

	for _, m := range priceTysRe.FindAllStringSubmatch(text, -1) {
		if v, err := strconv.Atoi(m[1]); err == nil {
			prices = append(prices, v*1000)
		}
	}
	for _, m := range priceRubRe.FindAllStringSubmatch(text, -1) {
		if v, err := strconv.Atoi(m[1]); err == nil {
			prices = append(prices, v)
		}
	}
	for _, m := range priceCtxRe.FindAllStringSubmatch(text, -1) {
		if v, err := strconv.Atoi(m[1]); err == nil {
			prices = append(prices, v)
		}
	}
	// Голые 4-5-значные числа: только целые цепочки цифр со словесными границами.
	for _, idx := range digitRunRe.FindAllStringIndex(text, -1) {
		runLen := idx[1] - idx[0]
		if runLen < 4 || runLen > 5 {
			continue
		}
		if !wordBoundaryAt(text, idx[0], idx[1]) {
			continue
		}
		if v, err := strconv.Atoi(text[idx[0]:idx[1]]); err == nil {
			prices = append(prices, v)
		}
	}

	if len(prices) == 0 {
		return nil
	}

	best := prices[0]
	for _, p := range prices[1:] {
		if msgType == TypeWorker {
			if p < best {
				best = p
			}
		} else if p > best {
			best = p
		}
	}
	return &best
}

// ExtractSHK находит метку количества ШК: диапазон "150-200", одиночное число
// или качественную оценку (мало/много/средне). Пустая строка — не найдено.
func ExtractSHK(text string) string {
	text = strings.ToLower(text)

	for _, p := range shkPatterns {
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if p.isRange {
			return m[1] + "-" + m[2]
		}
		return m[1]
	}
	return ""
}

// Extract — основная точка входа: классифицирует текст и собирает Result.
// Возвращает nil, если текст не похож на объявление (нет ни типа, ни
// намерения работника, ни цены). Дата при отсутствии явной подсказки
// берётся из даты сообщения.
func Extract(text string, messageDate time.Time) *Result {
	msgType := DetectType(text)

	date := ExtractDate(text, messageDate)
	shk := ExtractSHK(text)

	if date == "" {
		date = messageDate.Format(dateLayout)
	}

	// Тип нормализуется до извлечения цены: от него зависит выбор min/max.
	effective := msgType
	if effective == "" && HasWorkerIntent(text) {
		effective = TypeWorker
	}

	price := ExtractPrice(text, effective)

	if msgType == "" {
		switch {
		case effective == TypeWorker:
			// Намерение без явного ключевого слова — работник.
			msgType = TypeWorker
		case price != nil:
			// Чаты специализированные: текст с ценой без маркеров — вакансия.
			msgType = TypeEmployer
		default:
			logger.Debugf("объявление не распознано, цена и тип не найдены: %.50s", text)
			return nil
		}
	}

	return &Result{
		Type:  msgType,
		Price: price,
		Date:  date,
		SHK:   shk,
	}
}
