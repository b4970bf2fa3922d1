package client

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"

	tgruntime "pvz-monitor/internal/infra/telegram/runtime"
)

const (
	historyPageLimit     = 100
	historyPageWaitMinMs = 300
	historyPageWaitMaxMs = 700
)

// ErrStopIteration прерывает обход истории без ошибки.
var ErrStopIteration = errors.New("stop iteration")

// Message — нормализованное сообщение чата для пайплайна.
type Message struct {
	ID             int
	Unix           int64 // дата сообщения по часам источника
	Text           string
	AuthorID       int64 // 0 — аноним или пост от имени чата
	AuthorUsername string
	AuthorFullName string
	TopicID        int64 // 0 — не форум или General
}

// History обходит историю чата от новых к старым, вызывая fn для каждого
// текстового сообщения не старше since. Возврат ErrStopIteration из fn
// завершает обход без ошибки.
func (c *Client) History(ctx context.Context, ch *Chat, since time.Time, fn func(Message) error) error {
	offsetID := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.WaitOnline(ctx)

		resp, err := c.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:     ch.input,
			OffsetID: offsetID,
			Limit:    historyPageLimit,
		})
		if err != nil {
			if c.HandleError(err) {
				c.WaitOnline(ctx)
				continue
			}
			return errors.Wrapf(err, "history @%s", ch.Username)
		}

		batch, users, err := normalizeMessages(resp)
		if err != nil {
			return errors.Wrapf(err, "history @%s", ch.Username)
		}
		if len(batch) == 0 {
			return nil
		}

		done, lastID := false, offsetID
		for _, raw := range batch {
			msg, ok := raw.(*tg.Message)
			if !ok {
				if svc, okSvc := raw.(*tg.MessageService); okSvc {
					lastID = svc.ID
				}
				continue
			}
			lastID = msg.ID
			if int64(msg.Date) < since.Unix() {
				done = true
				break
			}
			if err := fn(buildMessage(msg, users)); err != nil {
				if errors.Is(err, ErrStopIteration) {
					return nil
				}
				return err
			}
		}
		if done || len(batch) < historyPageLimit {
			return nil
		}
		offsetID = lastID

		tgruntime.WaitRandomTimeMs(ctx, historyPageWaitMinMs, historyPageWaitMaxMs)
	}
}

// TopicHistory обходит историю одного форумного топика (поток ответов на
// закрепляющее сообщение топика) от новых к старым, с той же семантикой fn.
func (c *Client) TopicHistory(ctx context.Context, ch *Chat, topicID int64, since time.Time, fn func(Message) error) error {
	offsetID := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.WaitOnline(ctx)

		resp, err := c.api.MessagesGetReplies(ctx, &tg.MessagesGetRepliesRequest{
			Peer:     ch.input,
			MsgID:    int(topicID),
			OffsetID: offsetID,
			Limit:    historyPageLimit,
		})
		if err != nil {
			if c.HandleError(err) {
				c.WaitOnline(ctx)
				continue
			}
			return errors.Wrapf(err, "topic history @%s/%d", ch.Username, topicID)
		}

		batch, users, err := normalizeMessages(resp)
		if err != nil {
			return errors.Wrapf(err, "topic history @%s/%d", ch.Username, topicID)
		}
		if len(batch) == 0 {
			return nil
		}

		done, lastID := false, offsetID
		for _, raw := range batch {
			msg, ok := raw.(*tg.Message)
			if !ok {
				if svc, okSvc := raw.(*tg.MessageService); okSvc {
					lastID = svc.ID
				}
				continue
			}
			lastID = msg.ID
			if int64(msg.Date) < since.Unix() {
				done = true
				break
			}
			m := buildMessage(msg, users)
			m.TopicID = topicID
			if err := fn(m); err != nil {
				if errors.Is(err, ErrStopIteration) {
					return nil
				}
				return err
			}
		}
		if done || len(batch) < historyPageLimit {
			return nil
		}
		offsetID = lastID

		tgruntime.WaitRandomTimeMs(ctx, historyPageWaitMinMs, historyPageWaitMaxMs)
	}
}

// RecentMessages возвращает сообщения с id больше minID, от старых к новым.
// Используется polling-фолбэком, когда realtime-подписка молчит.
func (c *Client) RecentMessages(ctx context.Context, ch *Chat, minID int) ([]Message, error) {
	c.WaitOnline(ctx)

	resp, err := c.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:  ch.input,
		MinID: minID,
		Limit: historyPageLimit,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "recent @%s", ch.Username)
	}

	batch, users, err := normalizeMessages(resp)
	if err != nil {
		return nil, errors.Wrapf(err, "recent @%s", ch.Username)
	}

	result := make([]Message, 0, len(batch))
	// История приходит от новых к старым; разворачиваем.
	for i := len(batch) - 1; i >= 0; i-- {
		msg, ok := batch[i].(*tg.Message)
		if !ok || msg.ID <= minID {
			continue
		}
		result = append(result, buildMessage(msg, users))
	}
	return result, nil
}

// normalizeMessages приводит варианты ответа истории к общему виду.
func normalizeMessages(resp tg.MessagesMessagesClass) ([]tg.MessageClass, map[int64]*tg.User, error) {
	switch data := resp.(type) {
	case *tg.MessagesMessages:
		return data.Messages, usersByID(data.Users), nil
	case *tg.MessagesMessagesSlice:
		return data.Messages, usersByID(data.Users), nil
	case *tg.MessagesChannelMessages:
		return data.Messages, usersByID(data.Users), nil
	case *tg.MessagesMessagesNotModified:
		return nil, nil, nil
	default:
		return nil, nil, errors.Errorf("unexpected messages response: %T", resp)
	}
}

func usersByID(users []tg.UserClass) map[int64]*tg.User {
	result := make(map[int64]*tg.User, len(users))
	for _, u := range users {
		if user, ok := u.(*tg.User); ok {
			result[user.ID] = user
		}
	}
	return result
}

// buildMessage собирает Message из сырого tg.Message и карты пользователей батча.
func buildMessage(msg *tg.Message, users map[int64]*tg.User) Message {
	m := Message{
		ID:   msg.ID,
		Unix: int64(msg.Date),
		Text: msg.Message,
	}

	if peer, ok := msg.FromID.(*tg.PeerUser); ok {
		m.AuthorID = peer.UserID
		if user, found := users[peer.UserID]; found {
			m.AuthorUsername = user.Username
			m.AuthorFullName = strings.TrimSpace(strings.TrimSpace(user.FirstName) + " " + strings.TrimSpace(user.LastName))
		}
	}

	// Топик форума: reply_to_top_message_id, иначе reply_to_message_id.
	if header, ok := msg.ReplyTo.(*tg.MessageReplyHeader); ok && header.ForumTopic {
		if top, has := header.GetReplyToTopID(); has {
			m.TopicID = int64(top)
		} else {
			m.TopicID = int64(header.ReplyToMsgID)
		}
	}
	return m
}
