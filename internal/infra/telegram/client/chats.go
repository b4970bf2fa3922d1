package client

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/peers"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"pvz-monitor/internal/infra/logger"
)

const forumTopicsPageLimit = 100

// Chat — разрешённый чат мониторинга.
type Chat struct {
	Username string // канонично, без @
	Title    string
	ID       int64
	Forum    bool

	input   tg.InputPeerClass
	channel *tg.InputChannel // nil для обычных групп
}

// InputPeer возвращает peer для запросов истории.
func (ch *Chat) InputPeer() tg.InputPeerClass { return ch.input }

// ResolveChat резолвит @username в супергруппу или обычную группу.
func (c *Client) ResolveChat(ctx context.Context, username string) (*Chat, error) {
	domain := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(username)), "@")
	if domain == "" {
		return nil, errors.New("resolve chat: пустое имя чата")
	}

	peer, err := c.peers.Mgr.ResolveDomain(ctx, domain)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve chat @%s", domain)
	}

	switch p := peer.(type) {
	case peers.Channel:
		raw := p.Raw()
		return &Chat{
			Username: domain,
			Title:    raw.Title,
			ID:       raw.ID,
			Forum:    raw.Forum,
			input:    p.InputPeer(),
			channel:  &tg.InputChannel{ChannelID: raw.ID, AccessHash: raw.AccessHash},
		}, nil
	case peers.Chat:
		raw := p.Raw()
		return &Chat{
			Username: domain,
			Title:    raw.Title,
			ID:       raw.ID,
			input:    p.InputPeer(),
		}, nil
	default:
		return nil, errors.Errorf("resolve chat @%s: не группа и не канал (%T)", domain, peer)
	}
}

// ForumTopics возвращает карту topic_id → название для форумной супергруппы.
// Для чатов без топиков возвращает пустую карту без ошибки, включая ответ
// CHANNEL_FORUM_MISSING на гонке «чат перестал быть форумом».
func (c *Client) ForumTopics(ctx context.Context, ch *Chat) (map[int64]string, error) {
	topics := map[int64]string{}
	if ch.channel == nil || !ch.Forum {
		return topics, nil
	}

	resp, err := c.api.MessagesGetForumTopics(ctx, &tg.MessagesGetForumTopicsRequest{
		Peer:  ch.input,
		Limit: forumTopicsPageLimit,
	})
	if err != nil {
		if tgerr.Is(err, "CHANNEL_FORUM_MISSING") {
			logger.Debugf("чат @%s: топики запрошены, но это не форум", ch.Username)
			return topics, nil
		}
		return nil, errors.Wrapf(err, "forum topics @%s", ch.Username)
	}

	for _, t := range resp.Topics {
		if topic, ok := t.(*tg.ForumTopic); ok {
			topics[int64(topic.ID)] = topic.Title
		}
	}
	logger.Debugf("чат @%s: найдено топиков: %d", ch.Username, len(topics))
	return topics, nil
}
