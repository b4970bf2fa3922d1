package peersmgr

import (
	"context"
	"errors"
	"fmt"

	"github.com/gotd/td/tg"

	tgruntime "pvz-monitor/internal/infra/telegram/runtime"
)

// Пагинация MessagesGetDialogs идёт по тройке (offset_date, offset_id,
// offset_peer); access_hash для offset_peer собираются по ходу выгрузки.
const (
	dialogsPageLimit  = 100
	dialogsPauseMinMs = 500
	dialogsPauseMaxMs = 1500
)

var errDialogsNotModified = errors.New("dialogs not modified")

// dialogsCursor — позиция пагинации и накопленные access_hash сущностей.
type dialogsCursor struct {
	date int
	id   int
	peer tg.InputPeerClass

	userHashes    map[int64]int64
	channelHashes map[int64]int64
}

func newDialogsCursor() *dialogsCursor {
	return &dialogsCursor{
		peer:          &tg.InputPeerEmpty{},
		userHashes:    make(map[int64]int64),
		channelHashes: make(map[int64]int64),
	}
}

// advance сдвигает курсор на последний диалог страницы. Нулевые значения
// top_message/даты не затирают прежний offset.
func (c *dialogsCursor) advance(batch *tg.MessagesDialogs) {
	c.collectHashes(batch)

	var top int
	var peer tg.PeerClass
	switch dlg := batch.Dialogs[len(batch.Dialogs)-1].(type) {
	case *tg.Dialog:
		top, peer = dlg.TopMessage, dlg.Peer
	case *tg.DialogFolder:
		top, peer = dlg.TopMessage, dlg.Peer
	default:
		c.peer = &tg.InputPeerEmpty{}
		return
	}

	if top != 0 {
		c.id = top
	}
	if date := topMessageDate(batch.Messages, top); date != 0 {
		c.date = date
	}
	c.peer = c.inputPeer(peer)
}

func (c *dialogsCursor) collectHashes(batch *tg.MessagesDialogs) {
	for _, entity := range batch.Users {
		if user, ok := entity.(*tg.User); ok {
			c.userHashes[user.ID] = user.AccessHash
		}
	}
	for _, entity := range batch.Chats {
		if channel, ok := entity.(*tg.Channel); ok {
			c.channelHashes[channel.ID] = channel.AccessHash
		}
	}
}

func (c *dialogsCursor) inputPeer(peer tg.PeerClass) tg.InputPeerClass {
	switch p := peer.(type) {
	case *tg.PeerUser:
		return &tg.InputPeerUser{UserID: p.UserID, AccessHash: c.userHashes[p.UserID]}
	case *tg.PeerChat:
		return &tg.InputPeerChat{ChatID: p.ChatID}
	case *tg.PeerChannel:
		return &tg.InputPeerChannel{ChannelID: p.ChannelID, AccessHash: c.channelHashes[p.ChannelID]}
	default:
		return &tg.InputPeerEmpty{}
	}
}

// fetchDialogs выгружает весь список диалогов сессии. Между страницами
// случайная пауза, чтобы не дёргать MTProto очередями запросов.
func fetchDialogs(ctx context.Context, api *tg.Client) (*tg.MessagesDialogs, error) {
	result := &tg.MessagesDialogs{}
	cursor := newDialogsCursor()

	for {
		tgruntime.WaitRandomTimeMs(ctx, dialogsPauseMinMs, dialogsPauseMaxMs)

		resp, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
			OffsetDate: cursor.date,
			OffsetID:   cursor.id,
			OffsetPeer: cursor.peer,
			Limit:      dialogsPageLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("MessagesGetDialogs: %w", err)
		}

		batch, err := normalizeDialogs(resp)
		if errors.Is(err, errDialogsNotModified) {
			return result, nil
		}
		if err != nil {
			return nil, err
		}
		if len(batch.Dialogs) == 0 {
			return result, nil
		}

		result.Dialogs = append(result.Dialogs, batch.Dialogs...)
		result.Messages = append(result.Messages, batch.Messages...)
		result.Chats = append(result.Chats, batch.Chats...)
		result.Users = append(result.Users, batch.Users...)

		if len(batch.Dialogs) < dialogsPageLimit {
			return result, nil
		}
		cursor.advance(batch)
	}
}

// normalizeDialogs приводит три варианта ответа MessagesGetDialogs к одному виду.
func normalizeDialogs(resp tg.MessagesDialogsClass) (*tg.MessagesDialogs, error) {
	switch data := resp.(type) {
	case *tg.MessagesDialogs:
		return data, nil
	case *tg.MessagesDialogsSlice:
		return &tg.MessagesDialogs{
			Dialogs:  data.Dialogs,
			Messages: data.Messages,
			Chats:    data.Chats,
			Users:    data.Users,
		}, nil
	case *tg.MessagesDialogsNotModified:
		return nil, errDialogsNotModified
	default:
		return nil, fmt.Errorf("unexpected dialogs response: %T", resp)
	}
}

func topMessageDate(messages []tg.MessageClass, id int) int {
	for _, msg := range messages {
		switch item := msg.(type) {
		case *tg.Message:
			if item.ID == id {
				return item.Date
			}
		case *tg.MessageService:
			if item.ID == id {
				return item.Date
			}
		}
	}
	return 0
}
