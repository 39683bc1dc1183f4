package errors

import (
	"fmt"
	"runtime"
	"strings"
)

// Error codes for the alert subsystem. Handlers map these to HTTP
// statuses; everything else compares codes, not messages.
const (
	CodeBadRequest        = 40000
	CodeUnauthorized      = 40100
	CodeNotFound          = 40400
	CodeInvalidTransition = 40900
	CodeProviderFailure   = 50210
	CodeInternal          = 50000
)

// Error carries a code, a message, an optional wrapped cause and the
// stack captured at construction time.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
	Stack   string `json:"stack,omitempty"`
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "unknown error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(message string) *Error {
	return &Error{Code: CodeInternal, Message: message, Stack: captureStack()}
}

func WithCode(code int, message string) *Error {
	return &Error{Code: code, Message: message, Stack: captureStack()}
}

func WithCodef(code int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Stack: captureStack()}
}

func Wrap(err error, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: CodeInternal, Message: message, Err: err, Stack: captureStack()}
}

func Wrapf(err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: CodeInternal, Message: fmt.Sprintf(format, args...), Err: err, Stack: captureStack()}
}

func NotFound(what string) *Error {
	return WithCodef(CodeNotFound, "%s not found", what)
}

func InvalidTransition(from, to string) *Error {
	return WithCodef(CodeInvalidTransition, "illegal status transition %s -> %s", from, to)
}

// GetCode returns the embedded code, or CodeInternal for foreign errors.
func GetCode(err error) int {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code int) bool {
	e, ok := err.(*Error)
	return ok && e.Code == code
}

func captureStack() string {
	buf := make([]byte, 1024)
	n := runtime.Stack(buf, false)
	lines := strings.Split(string(buf[:n]), "\n")
	if len(lines) > 6 {
		lines = lines[6:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "%s", e.Error())
			if e.Stack != "" {
				fmt.Fprintf(s, "\n%s", e.Stack)
			}
			return
		}
		fallthrough
	case 's':
		fmt.Fprintf(s, "%s", e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}
