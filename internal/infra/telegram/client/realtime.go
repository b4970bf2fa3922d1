package client

import (
	"context"

	"github.com/gotd/td/tg"

	"pvz-monitor/internal/infra/logger"
)

// Handler получает нормализованное сообщение realtime-подписки.
// chatID — внутренний идентификатор чата/канала, откуда пришло сообщение.
type Handler func(ctx context.Context, chatID int64, msg Message)

// OnNewMessage подписывает обработчик на новые сообщения супергрупп и обычных
// групп. Вызывать до Start: диспетчер читается менеджером апдейтов при запуске.
func (c *Client) OnNewMessage(h Handler) {
	if c.gaps == nil {
		logger.Errorf("клиент[%s]: OnNewMessage при NoUpdates", c.opts.Label)
		return
	}

	c.dispatcher.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
		msg, ok := u.Message.(*tg.Message)
		if !ok {
			return nil
		}
		peer, ok := msg.PeerID.(*tg.PeerChannel)
		if !ok {
			return nil
		}
		// Сущности апдейта — единственный шанс узнать автора без RPC.
		if err := c.peers.ApplyEntities(ctx, e); err != nil {
			logger.Debugf("клиент[%s]: apply entities: %v", c.opts.Label, err)
		}
		h(ctx, peer.ChannelID, buildMessage(msg, e.Users))
		return nil
	})

	c.dispatcher.OnNewMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
		msg, ok := u.Message.(*tg.Message)
		if !ok {
			return nil
		}
		peer, ok := msg.PeerID.(*tg.PeerChat)
		if !ok {
			return nil
		}
		if err := c.peers.ApplyEntities(ctx, e); err != nil {
			logger.Debugf("клиент[%s]: apply entities: %v", c.opts.Label, err)
		}
		h(ctx, peer.ChatID, buildMessage(msg, e.Users))
		return nil
	})
}
