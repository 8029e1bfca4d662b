package query

import (
	"errors"
	"fmt"

	"github.com/payvex/payvex/internal/backend"
	"github.com/payvex/payvex/internal/collection"
)

var (
	ErrHandleFinalized     = errors.New("query handle already executed")
	ErrSortRequiresIndex   = errors.New("paginated sort requires an index on the sort field")
	ErrInvalidLimit        = errors.New("limit must not be negative")
	ErrInvalidPageSize     = errors.New("page size must be positive")
	ErrInvalidDirection    = errors.New("sort direction must be 'asc' or 'desc'")
	ErrUnknownTransaction  = errors.New("unknown transaction")
	ErrMissingCollaborator = errors.New("execution mode is missing its collaborator")
	ErrNotNumeric          = errors.New("field value is not numeric")
)

// ValidationError reports a malformed request. It is raised before any
// backend call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsValidation reports whether err is a validation failure: a malformed
// collection name, filter, cursor, sort or write of a system field.
func IsValidation(err error) bool {
	if err == nil {
		return false
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return true
	}
	for _, target := range []error{
		collection.ErrInvalidName,
		ErrSortRequiresIndex,
		ErrInvalidLimit,
		ErrInvalidPageSize,
		ErrInvalidDirection,
		ErrUnknownTransaction,
		ErrNotNumeric,
		backend.ErrInvalidCursor,
		backend.ErrUnknownIndex,
		backend.ErrSystemField,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
