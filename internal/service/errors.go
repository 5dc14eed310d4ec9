package service

import (
	"errors"
	"sort"
	"strings"
)

// Attempt lifecycle errors. Handlers map these to response codes with errors.Is.
var (
	ErrExamNotFound         = errors.New("exam not found or not available")
	ErrAttemptNotFound      = errors.New("attempt not found")
	ErrOutOfWindow          = errors.New("exam is not open at this time")
	ErrAttemptLimitExceeded = errors.New("maximum number of attempts reached")
	ErrInvalidSession       = errors.New("invalid exam session")
	ErrAlreadyFinalized     = errors.New("attempt already submitted")
	ErrAttemptInProgress    = errors.New("attempt is still in progress")
	ErrValidation           = errors.New("validation failed")
)

// ValidationError describes a malformed answer payload, keyed by field path.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Unwrap lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Unwrap() error { return ErrValidation }
