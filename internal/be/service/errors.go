package service

import (
	"errors"
	"fmt"

	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/be/repository"
	"github.com/DBS-Comviver/API-BeneficiamentoExterno/internal/shared/datasul"
)

// Kind classifies service failures; handlers map it to a response code.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindExternalAPI
	KindExternalUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindExternalAPI:
		return "external_api"
	case KindExternalUnavailable:
		return "external_unavailable"
	}
	return "internal"
}

// Sentinels for errors.Is. An *AppError matches the sentinel of its kind.
var (
	ErrValidation          = &AppError{Kind: KindValidation, Message: "validation error"}
	ErrNotFound            = &AppError{Kind: KindNotFound, Message: "not found"}
	ErrConflict            = &AppError{Kind: KindConflict, Message: "conflict"}
	ErrExternalAPI         = &AppError{Kind: KindExternalAPI, Message: "external API error"}
	ErrExternalUnavailable = &AppError{Kind: KindExternalUnavailable, Message: "external API unavailable"}
	ErrInternal            = &AppError{Kind: KindInternal, Message: "internal error"}
)

// AppError error with a kind and a message safe to show to the user.
type AppError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any *AppError of the same kind.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Kind == e.Kind
}

func validationError(format string, args ...interface{}) error {
	return &AppError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func notFoundError(format string, args ...interface{}) error {
	return &AppError{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func conflictError(format string, args ...interface{}) error {
	return &AppError{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func internalError(message string, err error) error {
	return &AppError{Kind: KindInternal, Message: message, Err: err}
}

// externalError translates datasul client failures.
func externalError(message string, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, datasul.ErrUnavailable) {
		return &AppError{Kind: KindExternalUnavailable, Message: message + ": Datasul indisponível", Err: err}
	}
	if errors.Is(err, datasul.ErrExternalAPI) {
		return &AppError{Kind: KindExternalAPI, Message: message, Err: err}
	}
	return internalError(message, err)
}

// storageError wraps repository failures, keeping not found distinguishable.
func storageError(message string, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, repository.ErrNotFound) {
		return &AppError{Kind: KindNotFound, Message: message, Err: err}
	}
	return internalError(message, err)
}

// KindOf returns the kind of err, KindInternal for foreign errors.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}
