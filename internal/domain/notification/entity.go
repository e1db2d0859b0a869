// Package notification содержит доменную модель уведомлений движка прогрессии.
// Движок только формирует уведомления и передаёт их в Sink; доставка
// (socket, push) выполняется внешним транспортом.
package notification

import (
	"context"
	"errors"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATION TYPE
// ══════════════════════════════════════════════════════════════════════════════

// Type определяет тип уведомления.
type Type string

const (
	// TypeWalletTransaction - начисление или списание битов.
	TypeWalletTransaction Type = "wallet_transaction"

	// TypeStatsAdjusted - изменились пассивные атрибуты, щиты, групповой множитель или XP.
	TypeStatsAdjusted Type = "stats_adjusted"

	// TypeBadgeEarned - получен бейдж.
	TypeBadgeEarned Type = "badge_earned"

	// TypeLevelUp - повышение уровня.
	TypeLevelUp Type = "level_up"
)

// IsValid проверяет, что тип уведомления корректен.
func (t Type) IsValid() bool {
	switch t {
	case TypeWalletTransaction, TypeStatsAdjusted, TypeBadgeEarned, TypeLevelUp:
		return true
	default:
		return false
	}
}

// Rank задаёт порядок доставки уведомлений одного события:
// начисление битов всегда раньше производных уведомлений.
func (t Type) Rank() int {
	switch t {
	case TypeWalletTransaction:
		return 0
	case TypeStatsAdjusted:
		return 1
	case TypeBadgeEarned:
		return 2
	case TypeLevelUp:
		return 3
	default:
		return 4
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTITY
// ══════════════════════════════════════════════════════════════════════════════

// Notification - запись уведомления для одного студента.
type Notification struct {
	ID          string         `json:"id"`
	Type        Type           `json:"type"`
	UserID      string         `json:"user_id"` // получатель, всегда студент
	ClassroomID string         `json:"classroom_id,omitempty"`
	ActorID     string         `json:"actor_id,omitempty"` // кто инициировал событие
	BadgeID     string         `json:"badge_id,omitempty"`
	Message     string         `json:"message"`
	Data        map[string]any `json:"data,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ErrInvalidNotification - уведомление без получателя или с неизвестным типом.
var ErrInvalidNotification = errors.New("invalid notification: recipient and known type are required")

// Validate проверяет обязательные поля.
func (n Notification) Validate() error {
	if n.UserID == "" || !n.Type.IsValid() {
		return ErrInvalidNotification
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PORTS
// ══════════════════════════════════════════════════════════════════════════════

// Sink принимает готовые уведомления для доставки.
type Sink interface {
	Publish(ctx context.Context, n Notification) error
}

// SinkFunc адаптирует функцию к Sink.
type SinkFunc func(ctx context.Context, n Notification) error

// Publish реализует Sink.
func (f SinkFunc) Publish(ctx context.Context, n Notification) error { return f(ctx, n) }

// Repository хранит уведомления.
type Repository interface {
	Save(ctx context.Context, n Notification) error

	// ExistsBadgeEarned проверяет, создавалось ли уже уведомление о бейдже
	// для пары (user, badge). Это оптимистичная дедупликация, а не блокировка.
	ExistsBadgeEarned(ctx context.Context, userID, badgeID string) (bool, error)

	ListByUser(ctx context.Context, userID string, limit int) ([]Notification, error)
}
