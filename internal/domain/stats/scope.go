// Package stats содержит доменную модель статистики студента: баланс битов,
// пассивные атрибуты, щиты и прогресс XP. Одна запись существует на пару
// (студент, область), где область - конкретный класс или устаревшая
// глобальная запись для студентов без контекста класса.
package stats

import (
	"fmt"
	"strings"

	"github.com/classhub/progression-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SCOPE
// ══════════════════════════════════════════════════════════════════════════════

// ScopeKind различает классную и глобальную области.
type ScopeKind uint8

const (
	// ScopeLegacyGlobal - глобальная запись без класса (обратная совместимость).
	ScopeLegacyGlobal ScopeKind = iota
	// ScopeClassroom - запись конкретного класса.
	ScopeClassroom
)

// Scope - область записи статистики. Определяется один раз на входе
// (ResolveScope) и дальше не перепроверяется.
type Scope struct {
	kind        ScopeKind
	classroomID string
}

// ClassroomScoped возвращает область класса.
func ClassroomScoped(classroomID string) Scope {
	return Scope{kind: ScopeClassroom, classroomID: classroomID}
}

// LegacyGlobal возвращает глобальную область.
func LegacyGlobal() Scope {
	return Scope{kind: ScopeLegacyGlobal}
}

// ResolveScope выбирает область по идентификатору класса.
// Пустой идентификатор означает глобальную область, это не ошибка.
func ResolveScope(classroomID string) Scope {
	id := strings.TrimSpace(classroomID)
	if id == "" {
		return LegacyGlobal()
	}
	return ClassroomScoped(id)
}

// Kind возвращает вид области.
func (s Scope) Kind() ScopeKind { return s.kind }

// IsLegacy возвращает true для глобальной области.
func (s Scope) IsLegacy() bool { return s.kind == ScopeLegacyGlobal }

// ClassroomID возвращает идентификатор класса или пустую строку.
func (s Scope) ClassroomID() string { return s.classroomID }

// String возвращает строковое представление области.
func (s Scope) String() string {
	if s.IsLegacy() {
		return "global"
	}
	return "classroom:" + s.classroomID
}

// ══════════════════════════════════════════════════════════════════════════════
// KEY
// ══════════════════════════════════════════════════════════════════════════════

// Key идентифицирует запись статистики.
type Key struct {
	UserID string
	Scope  Scope
}

// NewKey создаёт ключ и определяет область.
func NewKey(userID, classroomID string) (Key, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Key{}, shared.ErrEmptyUserID
	}
	return Key{UserID: userID, Scope: ResolveScope(classroomID)}, nil
}

// String возвращает строковое представление ключа.
func (k Key) String() string {
	return fmt.Sprintf("%s@%s", k.UserID, k.Scope)
}
