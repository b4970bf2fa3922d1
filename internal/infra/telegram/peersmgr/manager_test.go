package peersmgr

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	contribstorage "github.com/gotd/contrib/storage"
	"github.com/gotd/td/bin"
	"github.com/gotd/td/telegram/query/dialogs"
	"github.com/gotd/td/tg"
)

// offlineInvoker роняет любой RPC: тесты кэша пиров обязаны обходиться без сети.
type offlineInvoker struct{}

func (offlineInvoker) Invoke(context.Context, bin.Encoder, bin.Decoder) error {
	return errors.New("offline")
}

func newTestService(t *testing.T, path string) *Service {
	t.Helper()
	svc, err := New(tg.NewClient(offlineInvoker{}), path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestPersistSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "peers.db")

	svc := newTestService(t, path)
	if empty, err := svc.storeEmpty(); err != nil || !empty {
		t.Fatalf("storeEmpty = (%v, %v), want (true, nil)", empty, err)
	}

	users := []tg.UserClass{&tg.User{ID: 101, AccessHash: 7001, Username: "ivan"}}
	chats := []tg.ChatClass{&tg.Channel{ID: 202, AccessHash: 7002, Username: "pvzchat", Megagroup: true, Photo: &tg.ChatPhotoEmpty{}}}
	if err := svc.Persist(ctx, users, chats); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if empty, err := svc.storeEmpty(); err != nil || empty {
		t.Fatalf("storeEmpty после Persist = (%v, %v), want (false, nil)", empty, err)
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// После «рестарта» пиры читаются из файла, канал находится по ключу.
	reopened := newTestService(t, path)
	if err := reopened.LoadFromStorage(ctx); err != nil {
		t.Fatalf("LoadFromStorage: %v", err)
	}
	found, err := reopened.store.Find(ctx, contribstorage.PeerKey{Kind: dialogs.Channel, ID: 202})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if found.Key.ID != 202 || found.Key.AccessHash != 7002 {
		t.Fatalf("peer key = %+v", found.Key)
	}

	// Хранилище непустое: прогрев не идёт в сеть (offline-инвокер уронил бы его).
	if err := reopened.WarmupIfEmpty(ctx, nil); err != nil {
		t.Fatalf("WarmupIfEmpty: %v", err)
	}
}

func TestWarmupOnEmptyStoreFetchesDialogs(t *testing.T) {
	svc := newTestService(t, filepath.Join(t.TempDir(), "peers.db"))

	// Пустое хранилище означает выгрузку диалогов; offline-инвокер отвечает ошибкой.
	if err := svc.WarmupIfEmpty(context.Background(), nil); err == nil {
		t.Fatal("WarmupIfEmpty на пустом кэше обязан дойти до MessagesGetDialogs")
	}
}

func TestPersistEmptyBatchIsNoop(t *testing.T) {
	svc := newTestService(t, filepath.Join(t.TempDir(), "peers.db"))

	if err := svc.Persist(context.Background(), nil, nil); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if empty, err := svc.storeEmpty(); err != nil || !empty {
		t.Fatalf("storeEmpty = (%v, %v), want (true, nil)", empty, err)
	}
}
