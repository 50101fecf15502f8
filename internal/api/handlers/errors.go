package handlers

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/acme/voice-load-test/internal/repository"
	apperrors "github.com/acme/voice-load-test/pkg/errors"
)

// hintError keeps the operator hint of a translated error.
type hintError struct {
	cause *fiber.Error
	hint  string
}

func (e *hintError) Error() string { return e.cause.Message }

func (e *hintError) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	var status int
	switch {
	case apperrors.Is(err, apperrors.ErrValidation):
		status = http.StatusBadRequest
	case apperrors.Is(err, apperrors.ErrConflict) || apperrors.Is(err, repository.ErrConflict):
		status = http.StatusConflict
	case apperrors.Is(err, apperrors.ErrConfiguration):
		status = http.StatusUnprocessableEntity
	case apperrors.Is(err, apperrors.ErrNotFound) || apperrors.Is(err, repository.ErrNotFound):
		return fiber.NewError(http.StatusNotFound, "resource not found")
	case apperrors.Is(err, apperrors.ErrUnavailable):
		status = http.StatusServiceUnavailable
	default:
		return err
	}

	translated := fiber.NewError(status, err.Error())
	if hints := apperrors.FlattenHints(err); hints != "" {
		return &hintError{cause: translated, hint: strings.TrimSpace(hints)}
	}
	return translated
}

func hintOf(err error) string {
	var h *hintError
	if apperrors.As(err, &h) {
		return h.hint
	}
	return ""
}
