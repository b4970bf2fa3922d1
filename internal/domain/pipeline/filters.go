package pipeline

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"pvz-monitor/internal/infra/logger"
)

const filterDateLayout = "2006-01-02"

// SHKAny — значение фильтра ШК «любое», отключает проверку метки.
const SHKAny = "любое"

// Filters — бизнес-фильтры задачи. В базе хранятся JSON-строкой в
// tasks.filters, форму задаёт API-слой.
type Filters struct {
	DateFrom   string `json:"date_from"`
	DateTo     string `json:"date_to"`
	MinPrice   int    `json:"min_price"`
	MaxPrice   int    `json:"max_price"`
	SHKFilter  string `json:"shk_filter"`
	CityFilter string `json:"city_filter"`
}

// ParseFilters разбирает JSON фильтров задачи. Пустые ШК и город приводятся
// к «любое» и ALL.
func ParseFilters(raw string) (Filters, error) {
	var f Filters
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return Filters{}, errors.Wrap(err, "filters json")
	}
	if f.SHKFilter == "" {
		f.SHKFilter = SHKAny
	}
	if f.CityFilter == "" {
		f.CityFilter = CityAll
	}
	return f, nil
}

// Matches — проходит ли извлечённое объявление бизнес-фильтры.
// Некорректная дата объявления или отсутствие цены отклоняют объявление.
func (f Filters) Matches(workDate string, price *int, shk string) bool {
	itemDate, err := time.Parse(filterDateLayout, workDate)
	if err != nil {
		logger.Debugf("фильтр: некорректная дата %q", workDate)
		return false
	}
	from, errFrom := time.Parse(filterDateLayout, f.DateFrom)
	to, errTo := time.Parse(filterDateLayout, f.DateTo)
	if errFrom != nil || errTo != nil {
		logger.Debugf("фильтр: некорректный диапазон дат %q - %q", f.DateFrom, f.DateTo)
		return false
	}
	if itemDate.Before(from) || itemDate.After(to) {
		logger.Debugf("фильтр: дата %s вне диапазона %s - %s", workDate, f.DateFrom, f.DateTo)
		return false
	}

	if price == nil {
		logger.Debugf("фильтр: цена отсутствует")
		return false
	}
	if *price < f.MinPrice || *price > f.MaxPrice {
		logger.Debugf("фильтр: цена %d вне диапазона %d - %d", *price, f.MinPrice, f.MaxPrice)
		return false
	}

	if f.SHKFilter != SHKAny {
		if shk == "" {
			logger.Debugf("фильтр: ШК не найден, а фильтр требует %q", f.SHKFilter)
			return false
		}
		if !strings.EqualFold(shk, f.SHKFilter) {
			logger.Debugf("фильтр: ШК %q не совпадает с %q", shk, f.SHKFilter)
			return false
		}
	}
	return true
}
