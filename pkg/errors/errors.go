package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Sentinels for domain errors.
var (
	ErrNotFound      = crdb.New("not found")
	ErrConflict      = crdb.New("conflict")
	ErrValidation    = crdb.New("validation error")
	ErrUnavailable   = crdb.New("service unavailable")
	ErrConfiguration = crdb.New("configuration error")
)

// Re-exported helpers from cockroachdb/errors.
var (
	New          = crdb.New
	Newf         = crdb.Newf
	WithHint     = crdb.WithHint
	WithHintf    = crdb.WithHintf
	FlattenHints = crdb.FlattenHints
	As           = crdb.As
	Mark         = crdb.Mark
)

// Is reports whether err is one of the sentinels.
func Is(err, target error) bool {
	return crdb.Is(err, target)
}

// Wrap adds context to an error. A nil err stays nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return crdb.Wrap(err, message)
}

// Configuration marks err as a configuration error so callers can abort a batch
// before any dispatch is issued.
func Configuration(err error, hint string) error {
	if err == nil {
		return nil
	}
	marked := crdb.Mark(err, ErrConfiguration)
	if hint == "" {
		return marked
	}
	return crdb.WithHint(marked, hint)
}
