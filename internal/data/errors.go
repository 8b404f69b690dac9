package data

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoRows is returned by single-row selects that matched nothing.
	ErrNoRows = errors.New("no rows returned")

	// ErrMultipleRows is returned by single-row selects that matched more than one row.
	ErrMultipleRows = errors.New("multiple rows returned")
)

// Undefined column, as reported by Postgres.
const CodeUndefinedColumn = "42703"

// Error is an error reported by the data service.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Hint    string `json:"hint,omitempty"`
	Status  int    `json:"-"`
}

func (e *Error) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// UserMessage is the message shown to users.
func (e *Error) UserMessage() string {
	return e.Message
}

// MissingColumn builds the error Postgres raises for an unknown column.
func MissingColumn(table, column string) *Error {
	return &Error{
		Code:    CodeUndefinedColumn,
		Message: fmt.Sprintf("column %s.%s does not exist", table, column),
	}
}

// IsMissingColumn reports whether err's message mentions column, case-insensitively.
// This is the only recoverable data error: callers retry once without the column.
func IsMissingColumn(err error, column string) bool {
	if err == nil || column == "" {
		return false
	}
	msg := err.Error()
	var derr *Error
	if errors.As(err, &derr) {
		msg = derr.Message + " " + derr.Details + " " + derr.Hint
	}
	return strings.Contains(strings.ToLower(msg), strings.ToLower(column))
}
