package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"pvz-monitor/internal/domain/dedup"
	"pvz-monitor/internal/domain/extract"
	"pvz-monitor/internal/infra/apptime"
	"pvz-monitor/internal/infra/logger"
	tgclient "pvz-monitor/internal/infra/telegram/client"
	"pvz-monitor/internal/store"
)

// processedCap — предел множества обработанных сообщений. При переполнении
// множество очищается целиком: polling смотрит только свежий хвост, так что
// повторная обработка старых сообщений ему не грозит, а дубликаты добьёт
// уникальность (task_id, message_link) в базе.
const processedCap = 10000

// topicNamePatterns восстанавливают название топика из текста объявления,
// когда кэш топиков молчит: авторы часто дублируют шапку вида «МСК - ВБ».
var topicNamePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(МСК|СПБ|СБП|Москва|Питер|Мск|Спб)\s*[-–—]\s*(ВБ|Озон|Ozon|WB|Wildberries|Яндекс\.?Маркет|ЯМ|Я\.Маркет)`),
	regexp.MustCompile(`(?i)(МСК|СПБ|СБП|Москва|Питер|Мск|Спб)\s*->\s*(ВБ|Озон|Ozon|WB|Wildberries|Яндекс\.?Маркет|ЯМ|Я\.Маркет)`),
	regexp.MustCompile(`(?i)#(мск|спб|москва|питер)[\s_]*(вб|озон|ozon|wb|wildberries|ям)`),
}

// process пропускает одно сообщение через весь конвейер фильтров и, если оно
// выжило, сохраняет объявление и отправляет уведомление. Любая ошибка одного
// сообщения логируется и не валит пайплайн.
func (p *Pipeline) process(ctx context.Context, chatKey string, ch *tgclient.Chat, m tgclient.Message) {
	// Stop задачи отменяет её контекст; сообщение, догнавшее отмену,
	// не обрабатывается и в базу не попадает.
	if ctx.Err() != nil {
		return
	}

	msgKey := fmt.Sprintf("%d:%d", ch.ID, m.ID)

	p.mu.Lock()
	if _, seen := p.processed[msgKey]; seen {
		p.mu.Unlock()
		return
	}
	if len(p.processed) >= processedCap {
		p.processed = make(map[string]struct{}, processedCap)
	}
	p.processed[msgKey] = struct{}{}
	if m.ID > p.lastSeen[ch.ID] {
		p.lastSeen[ch.ID] = m.ID
	}
	topics := p.topics[chatKey]
	p.mu.Unlock()

	actualTopic := m.TopicID
	if !p.spec.TopicAllowed(chatKey, actualTopic) {
		logger.Debugf("задача %s: сообщение %s вне разрешённых топиков (topic=%d)", p.task.TaskID, msgKey, actualTopic)
		return
	}

	p.sup.AddStats(p.task.TaskID, 1, 0, 0)

	text := strings.ReplaceAll(m.Text, "\x00", "")
	if strings.TrimSpace(text) == "" {
		return
	}

	msgTime := apptime.FromUnix(m.Unix)
	res := extract.Extract(text, msgTime)
	if res == nil {
		return
	}
	if res.Type != p.task.Mode {
		return
	}

	cityTag := p.spec.CityTag(chatKey, actualTopic)
	if !p.cityAllowed(cityTag, text) {
		return
	}

	if !p.filters.Matches(res.Date, res.Price, res.SHK) {
		return
	}

	topicName := ""
	if actualTopic != 0 {
		topicName = topics[actualTopic]
	}
	if topicName == "" {
		topicName = topicNameFromText(text)
	}

	item := p.buildItem(ch, m, res, text, msgTime.Format(store.TimeLayout), actualTopic, topicName)

	id, err := p.st.AddFoundItem(ctx, item)
	if err != nil {
		logger.Errorf("задача %s: сохранение объявления: %v", p.task.TaskID, err)
		return
	}
	if id == nil {
		logger.Debugf("задача %s: дубликат объявления %s", p.task.TaskID, item.MessageLink)
		return
	}
	p.sup.AddStats(p.task.TaskID, 0, 1, 0)
	logger.Infof("задача %s: найдено новое объявление: %s", p.task.TaskID, item.MessageLink)

	if p.notifier == nil {
		return
	}
	if p.notifier.Send(ctx, item, *id, p.task.Mode) {
		if err := p.st.MarkNotified(ctx, *id); err != nil {
			logger.Errorf("задача %s: пометка notified: %v", p.task.TaskID, err)
		}
		p.sup.AddStats(p.task.TaskID, 0, 0, 1)
	}
}

// cityAllowed — городской фильтр задачи. Явная метка чата или топика
// отменяет текстовую гео-эвристику; ALL отключает фильтр целиком.
func (p *Pipeline) cityAllowed(cityTag, text string) bool {
	want := p.filters.CityFilter
	if want == CityAll {
		return true
	}
	if cityTag != "" {
		return cityTag == want
	}
	switch want {
	case CityMoscow:
		return p.geo.ShouldTakeForMoscow(text)
	case CitySpb:
		return p.geo.ShouldTakeForSpb(text)
	}
	return true
}

// buildItem собирает строку found_items из выжившего сообщения.
func (p *Pipeline) buildItem(ch *tgclient.Chat, m tgclient.Message, res *extract.Result,
	text, messageDate string, topicID int64, topicName string) store.FoundItem {

	price := 0
	if res.Price != nil {
		price = *res.Price
	}
	hash := dedup.ContentHash(price, res.Location, text)

	link := fmt.Sprintf("https://t.me/%s/%d", ch.Username, m.ID)
	if topicID > 0 {
		link = fmt.Sprintf("https://t.me/%s/%d/%d", ch.Username, topicID, m.ID)
	}

	item := store.FoundItem{
		TaskID:      p.task.TaskID,
		Mode:        p.task.Mode,
		Date:        res.Date,
		Price:       price,
		MessageText: text,
		MessageLink: link,
		ChatName:    "@" + ch.Username,
		MessageDate: messageDate,
		FoundAt:     apptime.Now().Format(store.TimeLayout),
		ContentHash: &hash,
	}

	if res.SHK != "" {
		item.SHK = &res.SHK
	}
	if m.AuthorUsername != "" {
		u := "@" + m.AuthorUsername
		item.AuthorUsername = &u
	}
	if m.AuthorFullName != "" {
		name := m.AuthorFullName
		item.AuthorFullName = &name
	}
	if m.AuthorID != 0 {
		id := m.AuthorID
		item.AuthorID = &id
	}
	if topicID != 0 {
		tid := topicID
		item.TopicID = &tid
	}
	if topicName != "" {
		tn := topicName
		item.TopicName = &tn
	}

	loc := p.geo.Locate(text, topicName)
	if loc.City != "" {
		item.City = &loc.City
	}
	if loc.Metro != "" {
		item.MetroStation = &loc.Metro
	}
	if loc.District != "" {
		item.District = &loc.District
	}
	return item
}

func topicNameFromText(text string) string {
	for _, re := range topicNamePatterns {
		if match := re.FindString(text); match != "" {
			return strings.TrimSpace(match)
		}
	}
	return ""
}
