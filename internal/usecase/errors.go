package usecase

import (
	"errors"
	"fmt"
	"net/http"
)

type HTTPError struct {
	Status  int
	Message string
	cause   error
}

func (e *HTTPError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%d: %s: %v", e.Status, e.Message, e.cause)
	}
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

func (e *HTTPError) Unwrap() error { return e.cause }

func NewHTTPError(status int, message string) error {
	return &HTTPError{
		Status:  status,
		Message: message,
	}
}

func AsHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	ok := errors.As(err, &he)
	return he, ok
}

// カートのエラー一覧（errors.Isで比較）
var (
	ErrUnauthenticated       = NewHTTPError(http.StatusUnauthorized, "unauthenticated")
	ErrUnauthorized          = NewHTTPError(http.StatusForbidden, "unauthorized")
	ErrNotFound              = NewHTTPError(http.StatusNotFound, "not found")
	ErrNotAvailable          = NewHTTPError(http.StatusUnprocessableEntity, "product not available")
	ErrInsufficientInventory = NewHTTPError(http.StatusConflict, "insufficient inventory")
	ErrInvalidQuantity       = NewHTTPError(http.StatusBadRequest, "invalid quantity")
	ErrInvalidID             = NewHTTPError(http.StatusBadRequest, "invalid id")
	ErrConcurrentUpdate      = NewHTTPError(http.StatusConflict, "cart was modified concurrently, retry")
)

// dbErrorはDBのエラーをクライアントには隠し、ログ用に保持する
func dbError(err error) error {
	return &HTTPError{Status: http.StatusInternalServerError, Message: "db error", cause: err}
}
