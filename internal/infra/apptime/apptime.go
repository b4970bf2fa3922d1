// Package apptime предоставляет централизованные функции для работы со временем в сервисе.
// Все бизнес-даты (рабочие даты из объявлений, "сегодня/завтра", окна дедупликации,
// метки found_at в базе) считаются в глобальной таймзоне приложения config.AppLocation.
// Этот пакет является единственной точкой входа для получения текущего времени.
package apptime

import (
	"time"

	"pvz-monitor/internal/infra/config"
)

// Now возвращает текущее время, сконвертированное в глобальную таймзону приложения.
// Используется для всех внутренних операций со временем: временных меток в базе,
// границ разбора истории и окон дедупликации.
func Now() time.Time {
	return time.Now().In(config.AppLocation)
}

// ToAppTime конвертирует любое время в глобальную таймзону приложения.
// Используется для нормализации входящих временных данных.
func ToAppTime(t time.Time) time.Time {
	return t.In(config.AppLocation)
}

// FromUnix переводит Unix-метку (так приходят даты сообщений Telegram)
// в таймзону приложения.
func FromUnix(sec int64) time.Time {
	return time.Unix(sec, 0).In(config.AppLocation)
}
