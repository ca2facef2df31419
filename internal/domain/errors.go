package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSubmissionNotFound возвращается, когда заявка не найдена.
	ErrSubmissionNotFound = errors.New("submission not found")

	// ErrInvalidTransition возвращается при попытке модерировать уже обработанную заявку.
	ErrInvalidTransition = errors.New("invalid moderation transition")

	// ErrNotModerator возвращается, если действие пришло не от модератора.
	ErrNotModerator = errors.New("not a moderator")

	// ErrQueueFull возвращается, когда очередь уведомлений переполнена.
	ErrQueueFull = errors.New("notification queue is full")

	// ErrQueueClosed возвращается после закрытия очереди.
	ErrQueueClosed = errors.New("notification queue is closed")
)

// FetchError описывает неудачную загрузку страницы площадки.
type FetchError struct {
	City       City
	StatusCode int
	Reason     string
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %s", e.City, e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("fetch %s: %s", e.City, e.Reason)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ExtractionError: поле одного кандидата не удалось разобрать.
type ExtractionError struct {
	Field  string
	Reason string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %s", e.Field, e.Reason)
}

// ValidationError: в заявке нет обязательного поля или оно некорректно.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// NotificationError: не удалось доставить сообщение.
type NotificationError struct {
	ChatID int64
	Err    error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notify chat %d: %v", e.ChatID, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

// StorageError оборачивает ошибку хранилища.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsValidation сообщает, является ли ошибка ошибкой валидации.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
