package rounding

import (
	"errors"
	"fmt"
)

var (
	ErrTemplateNotFound  = errors.New("template not found")
	ErrSheetNotFound     = errors.New("sheet not found")
	ErrVersionConflict   = errors.New("sheet was modified by another writer")
	ErrSheetCompleted    = errors.New("sheet is completed and read-only")
	ErrProtectedTemplate = errors.New("default templates cannot be deleted")
	ErrIndexOutOfRange   = errors.New("index out of range")
	ErrNoDataProvider    = errors.New("no clinical data provider configured")
	ErrExportUnavailable = errors.New("export service not configured")
)

// ValidationError reports a precondition failure on caller input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func indexError(what string, i, n int) error {
	return fmt.Errorf("%s %d (have %d): %w", what, i, n, ErrIndexOutOfRange)
}
