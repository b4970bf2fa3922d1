package session

// Пакет session содержит обёртку поверх tdsession.Storage для MTProto-сессий.
// Цели:
//   - атомарная запись файла сессии на диск (без частичных состояний);
//   - сигнализация менеджеру соединения о готовности/восстановлении сессии;
//   - потокобезопасный доступ к файловой системе при конкурирующих вызовах.
// Сервис держит несколько независимых клиентов (по одному на задачу плюс сессия
// чёрного списка), поэтому вместо глобального менеджера каждый FileStorage несёт
// собственный хук OnStore.

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/go-faster/errors"

	tdsession "github.com/gotd/td/session"

	"pvz-monitor/internal/infra/logger"
	"pvz-monitor/internal/infra/storage"
)

// FileStorage реализует tdsession.Storage поверх обычного файла. Успешная запись
// сессии обычно означает удачный логин/реавторизацию, поэтому после неё вызывается
// OnStore (если задан) — менеджер соединения задачи снимает ожидателей.
// Потокобезопасен: операции Load/Store защищены мьютексом.
type FileStorage struct {
	Path    string
	OnStore func()
	mux     sync.Mutex
}

// Компиляторная проверка соответствия интерфейсу tdsession.Storage.
var _ tdsession.Storage = (*FileStorage)(nil)

// LoadSession читает файл сессии с диска.
func (f *FileStorage) LoadSession(_ context.Context) ([]byte, error) {
	if f == nil {
		return nil, errors.New("nil session storage is invalid")
	}
	f.mux.Lock()
	defer f.mux.Unlock()

	data, err := os.ReadFile(f.Path)
	if os.IsNotExist(err) {
		return nil, tdsession.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "read session")
	}
	return data, nil
}

// StoreSession атомарно сохраняет данные сессии на диск и дёргает OnStore.
func (f *FileStorage) StoreSession(_ context.Context, data []byte) error {
	if f == nil {
		return errors.New("nil session storage is invalid")
	}

	f.mux.Lock()
	defer f.mux.Unlock()

	if err := storage.AtomicWriteFile(f.Path, data); err != nil {
		return fmt.Errorf("atomic write session: %w", err)
	}

	if f.OnStore != nil {
		logger.Debugf("StoreSession: сессия %s обновлена", f.Path)
		f.OnStore()
	}
	return nil
}

// Exists сообщает, лежит ли файл сессии на диске. Используется до подключения,
// чтобы отличить «сессии нет» от «сессия есть, но протухла».
func (f *FileStorage) Exists() bool {
	f.mux.Lock()
	defer f.mux.Unlock()
	_, err := os.Stat(f.Path)
	return err == nil
}
