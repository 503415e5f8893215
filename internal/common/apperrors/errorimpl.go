package apperrors

import (
	"errors"
	"strings"
)

type appError struct {
	msg         string
	parent      error
	causes      []error
	status      int
	expandError bool
}

func (e *appError) Error() string {
	return e.msg
}

// ErrorAll joins the message with every cause when expansion is on.
func (e *appError) ErrorAll() string {
	if !e.expandError || len(e.causes) == 0 {
		return e.msg
	}
	var b strings.Builder
	b.WriteString(e.msg)
	for _, c := range e.causes {
		if c == nil {
			continue
		}
		b.WriteString("; ")
		b.WriteString(c.Error())
	}
	return b.String()
}

func (e *appError) Unwrap() error {
	return e.parent
}

func (e *appError) UnwrapAll() []error {
	return e.causes
}

func (e *appError) derive(msg string, causes []error) *appError {
	return &appError{
		msg:         msg,
		parent:      e,
		causes:      causes,
		status:      e.status,
		expandError: e.expandError,
	}
}

func (e *appError) New(msg string) Error {
	return e.derive(msg, nil)
}

func (e *appError) Msg(msg string) Error {
	return e.derive(msg, append([]error{e}, e.causes...))
}

func (e *appError) MsgErr(msg string, errs ...error) Error {
	return e.derive(msg, append([]error{e}, errs...))
}

func (e *appError) Err(errs ...error) Error {
	return e.derive(e.msg, append([]error{e}, errs...))
}

func (e *appError) SetExpandError(flag bool) Error {
	cp := *e
	cp.expandError = flag
	return &cp
}

func (e *appError) SetStatusCode(code int) Error {
	cp := *e
	cp.status = code
	return &cp
}

func (e *appError) StatusCode() int {
	return e.status
}

// Is reports a match against the parent chain or any attached cause.
func (e *appError) Is(target error) bool {
	if target == nil {
		return false
	}
	if errors.Is(e.parent, target) {
		return true
	}
	for _, c := range e.causes {
		if errors.Is(c, target) {
			return true
		}
	}
	return false
}

// As lets errors.As reach attached causes, which Unwrap does not expose.
func (e *appError) As(target any) bool {
	for _, c := range e.causes {
		if c == nil || c == error(e) {
			continue
		}
		if errors.As(c, target) {
			return true
		}
	}
	return false
}

// New creates a root error.
func New(msg string) Error {
	return &appError{msg: msg}
}

// StatusOf returns the status code carried by err, or fallback when err is not
// an Error or has no status set.
func StatusOf(err error, fallback int) int {
	var ae Error
	if errors.As(err, &ae) && ae.StatusCode() != 0 {
		return ae.StatusCode()
	}
	return fallback
}
