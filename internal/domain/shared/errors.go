// Package shared содержит общие доменные типы и ошибки. Пакет не зависит
// от других пакетов модуля.
package shared

import (
	"errors"
	"fmt"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERROR KINDS
// Категории для errors.Is. Конкретные ошибки ниже оборачивают одну из них.
// ══════════════════════════════════════════════════════════════════════════════

var (
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrValueOutOfRange = errors.New("value out of range")

	ErrInvalidState     = errors.New("invalid state")
	ErrAlreadyProcessed = errors.New("already processed")

	// Внешние зависимости: хранилище, кэш, транспорт уведомлений.
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
)

// DomainError - ошибка с контекстом: где (Domain.Op), какая категория
// (Kind) и, если есть, исходная причина (Err).
type DomainError struct {
	Domain  string
	Op      string
	Kind    error
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	msg := e.Domain + "." + e.Op + ": " + e.Message
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap отдаёт и категорию, и причину, поэтому errors.Is и errors.As
// видят обе цепочки.
func (e *DomainError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// NewDomainError создаёт ошибку без причины.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

// WrapError создаёт ошибку с причиной err.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message, Err: err}
}

// ─────────────────────────────────────────────────────────────────────────────
// Конкретные ошибки
// ─────────────────────────────────────────────────────────────────────────────

var (
	ErrRecordNotFound  = NewDomainError("stats", "Get", ErrNotFound, "stats record not found")
	ErrEmptyUserID     = NewDomainError("stats", "Validate", ErrInvalidID, "user id is required")
	ErrNoShieldToSpend = NewDomainError("stats", "ConsumeShield", ErrInvalidState, "no active shield")

	ErrTriggerReplayed = NewDomainError("engine", "Claim", ErrAlreadyProcessed, "trigger already processed")
	ErrGroupNotFound   = NewDomainError("group", "Find", ErrNotFound, "group not found")
)

// IsNotFound сообщает, относится ли err к категории ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation сообщает, вызвана ли err некорректным вводом.
func IsValidation(err error) bool {
	for _, kind := range []error{ErrValidation, ErrInvalidID, ErrInvalidInput, ErrValueOutOfRange} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
