package errs

import (
	"fmt"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

// New builds a plain error with optional key/value context.
func New(msg string, kv ...any) error {
	return pkgerrors.New(toString(msg, kv))
}

type errorWrapper struct {
	error
	msg string
}

func (e *errorWrapper) Unwrap() error { return e.error }

func (e *errorWrapper) Error() string {
	if e.msg == "" {
		return e.error.Error()
	}
	return e.msg + ": " + e.error.Error()
}

func toString(msg string, kv []any) string {
	if len(kv) == 0 {
		return msg
	}
	var sb strings.Builder
	sb.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		if sb.Len() > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprint(kv[i]))
		sb.WriteString("=")
		if i+1 < len(kv) {
			sb.WriteString(fmt.Sprint(kv[i+1]))
		} else {
			sb.WriteString("MISSING")
		}
	}
	return sb.String()
}
