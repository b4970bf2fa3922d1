// Package botapionotifier отправляет уведомления о находках через Telegram Bot API.
//
// В этом файле (notifier.go):
//   - настраивается HTTP-клиент и общий троттлер запросов;
//   - реализуется доставка карточки объявления с инлайн-кнопками и произвольного
//     HTML-текста (сервисные сообщения задачи);
//   - классифицируются ошибки Bot API на временные (retry_after, 5xx) и
//     постоянные (большинство 4xx);
//   - retry_after соблюдается ровно, без джиттера, чтобы не сдвигать серверное
//     окно повторных попыток.
//
// Доставка best-effort: неудача логируется и возвращается false, объявление
// остаётся непомеченным (notified=0) и попадёт в следующую попытку выше по стеку.
package botapionotifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"golang.org/x/time/rate"

	"pvz-monitor/internal/infra/logger"
	"pvz-monitor/internal/store"
)

const (
	// httpClientTimeout — таймаут HTTP-клиента, секунды.
	httpClientTimeout = 30
	// sendAttempts — попытки доставки одного сообщения с учётом retry_after.
	sendAttempts = 3
)

// Notifier доставляет уведомления одной задачи в её notification_chat_id.
type Notifier struct {
	baseURL string
	chatID  int64
	client  *http.Client
	limiter *rate.Limiter
}

// New создаёт нотификатор для бота. rps задаёт целевую среднюю частоту запросов.
func New(token string, chatID int64, rps int) *Notifier {
	return &Notifier{
		baseURL: fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", token),
		chatID:  chatID,
		client: &http.Client{
			Timeout: httpClientTimeout * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
}

// inlineButton и inlineKeyboard — минимальная разметка Bot API.
type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
	URL          string `json:"url,omitempty"`
}

type inlineKeyboard struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

// sendPayload — тело POST /sendMessage.
type sendPayload struct {
	ChatID                int64           `json:"chat_id"`
	Text                  string          `json:"text"`
	ParseMode             string          `json:"parse_mode,omitempty"`
	ReplyMarkup           *inlineKeyboard `json:"reply_markup,omitempty"`
	DisableWebPagePreview bool            `json:"disable_web_page_preview,omitempty"`
}

// Send отправляет карточку найденного объявления с кнопками действий.
// Возвращает true при успешной доставке.
func (n *Notifier) Send(ctx context.Context, item store.FoundItem, itemID int64, mode string) bool {
	payload := sendPayload{
		ChatID:                n.chatID,
		Text:                  FormatItem(item, mode),
		ReplyMarkup:           buildKeyboard(item, itemID),
		DisableWebPagePreview: true,
	}
	if err := n.deliver(ctx, payload); err != nil {
		logger.Errorf("уведомление для объявления %d не доставлено: %v", itemID, err)
		return false
	}
	logger.Infof("уведомление отправлено для объявления ID %d", itemID)
	return true
}

// SendText отправляет произвольное сервисное сообщение (HTML).
func (n *Notifier) SendText(ctx context.Context, text string) bool {
	payload := sendPayload{
		ChatID:    n.chatID,
		Text:      text,
		ParseMode: "HTML",
	}
	if err := n.deliver(ctx, payload); err != nil {
		logger.Errorf("сервисное сообщение не доставлено: %v", err)
		return false
	}
	return true
}

// buildKeyboard собирает кнопки карточки. Кнопка «Связаться» появляется, если
// известен username (личка) или хотя бы author_id (профиль по tg://); ссылку на
// мониторируемый чат намеренно не используем.
func buildKeyboard(item store.FoundItem, itemID int64) *inlineKeyboard {
	rows := [][]inlineButton{
		{{Text: "Проверить в ЧС", CallbackData: fmt.Sprintf("check_blacklist:%d", itemID)}},
	}

	switch {
	case item.AuthorUsername != nil && *item.AuthorUsername != "":
		clean := strings.TrimLeft(*item.AuthorUsername, "@")
		rows = append(rows, []inlineButton{{Text: "💬 Связаться", URL: "https://t.me/" + clean}})
	case item.AuthorID != nil:
		rows = append(rows, []inlineButton{{Text: "💬 Связаться", URL: fmt.Sprintf("tg://user?id=%d", *item.AuthorID)}})
	}

	rows = append(rows, []inlineButton{
		{Text: "Игнорировать", CallbackData: fmt.Sprintf("ignore:%d", itemID)},
	})
	return &inlineKeyboard{InlineKeyboard: rows}
}

// deliver выполняет доставку с троттлингом и уважением retry_after.
func (n *Notifier) deliver(ctx context.Context, payload sendPayload) error {
	var lastErr error
	for attempt := 1; attempt <= sendAttempts; attempt++ {
		if err := n.limiter.Wait(ctx); err != nil {
			return err
		}

		retryAfter, err := n.performSend(ctx, payload)
		if err == nil {
			return nil
		}
		lastErr = err

		if retryAfter <= 0 {
			return err
		}
		logger.Warnf("bot api: retry_after=%v (attempt=%d)", retryAfter, attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryAfter):
		}
	}
	return lastErr
}

// performSend делает POST JSON и приводит ответ к (retryAfter, error).
// retryAfter > 0 означает временную ошибку с серверной рекомендацией паузы.
func (n *Notifier) performSend(ctx context.Context, payload sendPayload) (time.Duration, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	return handleResponse(resp.StatusCode, respBody)
}

// handleResponse разбирает JSON Bot API: ok, описание ошибки и
// parameters.retry_after для временных сбоев.
func handleResponse(status int, body []byte) (time.Duration, error) {
	var apiResp struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
		ErrorCode   int    `json:"error_code"`
		Parameters  struct {
			RetryAfter int `json:"retry_after"`
		} `json:"parameters"`
	}
	if err := json.Unmarshal(body, &apiResp); err != nil {
		if status != http.StatusOK {
			return 0, errors.Errorf("bot api http %d: %s", status, strings.TrimSpace(string(body)))
		}
		return 0, errors.Wrap(err, "bot api decode response")
	}

	if apiResp.OK {
		return 0, nil
	}

	msg := strings.TrimSpace(apiResp.Description)
	if msg == "" {
		msg = http.StatusText(status)
	}
	err := errors.Errorf("bot api error %d: %s", apiResp.ErrorCode, msg)

	if apiResp.Parameters.RetryAfter > 0 {
		return time.Duration(apiResp.Parameters.RetryAfter) * time.Second, err
	}
	// 5xx — временная ошибка без рекомендации, короткая пауза перед повтором.
	if apiResp.ErrorCode >= 500 || status >= 500 {
		return time.Second, err
	}
	return 0, err
}
