package cms

import (
	"errors"
	"fmt"
	"net/http"

	"signdesk/internal/breaker"
)

// ErrNotConfigured: в settings нет адреса или учётных данных CMS.
var ErrNotConfigured = errors.New("cms: credentials are not configured")

// ErrInvalidRequest: запрос к CMS не собрать (кривой адрес в settings, метод).
// Не повторяется и не считается отказом CMS.
var ErrInvalidRequest = errors.New("cms: request cannot be built")

// APIError: неуспешный обмен с CMS. Status 0 - ответа не было (сеть, DNS, таймаут).
type APIError struct {
	Status int
	Method string
	Path   string
	Body   string // начало тела ответа
	Err    error
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("cms %s %s: %v", e.Method, e.Path, e.Err)
	}
	if e.Body != "" {
		return fmt.Sprintf("cms %s %s: %d %s: %s", e.Method, e.Path, e.Status, http.StatusText(e.Status), e.Body)
	}
	return fmt.Sprintf("cms %s %s: %d %s", e.Method, e.Path, e.Status, http.StatusText(e.Status))
}

func (e *APIError) Unwrap() error   { return e.Err }
func (e *APIError) StatusCode() int { return e.Status }

// IsStatus: err является APIError с этим статусом.
func IsStatus(err error, status int) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == status
}

// Message: короткий текст для flash-сообщения пользователю.
func Message(err error) string {
	var ae *APIError
	switch {
	case errors.As(err, &ae) && ae.Status == 0:
		return "The signage CMS is unreachable. Try again shortly."
	case errors.As(err, &ae) && ae.Status == http.StatusNotFound:
		return "The item no longer exists in the signage CMS."
	case errors.As(err, &ae) && ae.Status == http.StatusUnauthorized:
		return "The signage CMS rejected the configured credentials."
	case errors.As(err, &ae) && ae.Status < 500:
		return "The signage CMS rejected the request."
	case errors.As(err, &ae):
		return "The signage CMS returned an error."
	case errors.Is(err, ErrNotConfigured):
		return "The signage CMS is not configured yet."
	case errors.Is(err, ErrInvalidRequest):
		return "The signage CMS address in settings is invalid."
	default:
		return "The signage CMS is temporarily unavailable."
	}
}

// IsRemote: ошибка относится к CMS (ответ, сеть, предохранитель, нет настроек),
// а не к локальному хранилищу.
func IsRemote(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) || errors.Is(err, ErrNotConfigured) ||
		errors.Is(err, ErrInvalidRequest) || errors.Is(err, breaker.ErrOpen)
}
