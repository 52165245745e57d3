package domain

import (
	"errors"
	"fmt"
)

// Application errors
var (
	// ErrNotFound запись не найдена
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate дубликат записи
	ErrDuplicate = errors.New("duplicate record")

	// ErrInvalidInput неверные входные данные
	ErrInvalidInput = errors.New("invalid input data")

	// ErrUnauthenticated пользователь не аутентифицирован
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrUnauthorized пользователь не авторизован
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInternal внутренняя ошибка
	ErrInternal = errors.New("internal error")

	// ErrExternalServiceUnavailable внешний сервис недоступен
	ErrExternalServiceUnavailable = errors.New("external service unavailable")

	// ErrWebhookValidationFailed не удалось проверить подпись вебхука
	ErrWebhookValidationFailed = errors.New("webhook validation failed")

	// ErrMissingCorrelation в событии нет ни одного ключа для привязки к подписке
	ErrMissingCorrelation = errors.New("event has no correlation keys")

	// ErrInvalidTransition недопустимый переход статуса подписки
	ErrInvalidTransition = errors.New("invalid subscription status transition")

	// ErrStaleTransition подписку успел перевести другой обработчик
	ErrStaleTransition = errors.New("subscription was transitioned concurrently")

	// ErrEventAlreadyProcessed событие провайдера уже было обработано
	ErrEventAlreadyProcessed = errors.New("provider event already processed")

	// ErrUnsupportedProvider неподдерживаемый платежный провайдер
	ErrUnsupportedProvider = errors.New("unsupported payment provider")
)

// SubscriptionError представляет ошибку подписки
type SubscriptionError struct {
	Code           string
	Message        string
	SubscriptionID string
	OriginalErr    error
}

// Error реализует интерфейс error
func (e *SubscriptionError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("subscription error [%s]: %s: %v (subscription_id: %s)", e.Code, e.Message, e.OriginalErr, e.SubscriptionID)
	}
	return fmt.Sprintf("subscription error [%s]: %s (subscription_id: %s)", e.Code, e.Message, e.SubscriptionID)
}

// Unwrap возвращает оригинальную ошибку
func (e *SubscriptionError) Unwrap() error {
	return e.OriginalErr
}

// NewSubscriptionError создает новую ошибку подписки
func NewSubscriptionError(code, message, subscriptionID string, err error) *SubscriptionError {
	return &SubscriptionError{
		Code:           code,
		Message:        message,
		SubscriptionID: subscriptionID,
		OriginalErr:    err,
	}
}

// TransitionError представляет отклоненный переход статуса
type TransitionError struct {
	SubscriptionID string
	From           SubscriptionStatus
	To             SubscriptionStatus
}

// Error реализует интерфейс error
func (e *TransitionError) Error() string {
	return fmt.Sprintf("transition %s -> %s is not allowed (subscription_id: %s)", e.From, e.To, e.SubscriptionID)
}

// Is проверяет, является ли ошибка ошибкой недопустимого перехода
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// NewTransitionError создает новую ошибку перехода
func NewTransitionError(subscriptionID string, from, to SubscriptionStatus) *TransitionError {
	return &TransitionError{
		SubscriptionID: subscriptionID,
		From:           from,
		To:             to,
	}
}

// ExternalServiceError представляет ошибку внешнего сервиса
type ExternalServiceError struct {
	Service     string
	Code        string
	Message     string
	StatusCode  int
	OriginalErr error
}

// Error реализует интерфейс error
func (e *ExternalServiceError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("%s service error [%s]: %s: %v", e.Service, e.Code, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("%s service error [%s]: %s", e.Service, e.Code, e.Message)
}

// Unwrap возвращает оригинальную ошибку
func (e *ExternalServiceError) Unwrap() error {
	return e.OriginalErr
}

// NewExternalServiceError создает новую ошибку внешнего сервиса
func NewExternalServiceError(service, code, message string, statusCode int, err error) *ExternalServiceError {
	return &ExternalServiceError{
		Service:     service,
		Code:        code,
		Message:     message,
		StatusCode:  statusCode,
		OriginalErr: err,
	}
}

// NotFoundError представляет ошибку "не найдено"
type NotFoundError struct {
	Entity string
	ID     string
}

// Error реализует интерфейс error
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Entity, e.ID)
}

// Is проверяет, является ли ошибка ошибкой типа "не найдено"
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError создает новую ошибку "не найдено"
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{
		Entity: entity,
		ID:     id,
	}
}

// DuplicateError представляет ошибку дубликата
type DuplicateError struct {
	Entity string
	Field  string
	Value  string
}

// Error реализует интерфейс error
func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s with %s '%s' already exists", e.Entity, e.Field, e.Value)
}

// Is проверяет, является ли ошибка ошибкой дубликата
func (e *DuplicateError) Is(target error) bool {
	return target == ErrDuplicate
}

// NewDuplicateError создает новую ошибку дубликата
func NewDuplicateError(entity, field, value string) *DuplicateError {
	return &DuplicateError{
		Entity: entity,
		Field:  field,
		Value:  value,
	}
}
