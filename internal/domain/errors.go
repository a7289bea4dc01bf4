package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNotFound is matched by every *NotFoundError through errors.Is.
var ErrNotFound = errors.New("not found")

// ValidationError reports malformed input field by field.
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError() *ValidationError {
	return &ValidationError{Fields: map[string]string{}}
}

func (e *ValidationError) Add(field, msg string) {
	if _, ok := e.Fields[field]; !ok {
		e.Fields[field] = msg
	}
}

func (e *ValidationError) Empty() bool { return len(e.Fields) == 0 }

// OrNil returns e as an error only when at least one field failed.
func (e *ValidationError) OrNil() error {
	if e.Empty() {
		return nil
	}
	return e
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

func Invalid(field, msg string) *ValidationError {
	v := NewValidationError()
	v.Add(field, msg)
	return v
}

type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %d not found", e.Entity, e.ID) }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConflictError blocks a write that would break live associations.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return e.Msg }

func Conflict(format string, args ...any) *ConflictError {
	return &ConflictError{Msg: fmt.Sprintf(format, args...)}
}
