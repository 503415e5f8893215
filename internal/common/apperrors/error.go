// Package apperrors is the error chain used across the provisioner. An Error
// carries an HTTP status code and any number of wrapped causes, and works with
// errors.Is / errors.As through every layer that wraps it.
package apperrors

// Error is an error that can be derived, wrapped and tagged with a status code.
// Every method returns a new value; package-level sentinels are never mutated.
type Error interface {
	error
	Unwrap() error

	New(msg string) Error                  // derive a sibling error with a new message
	Msg(msg string) Error                  // new message, original kept as cause
	MsgErr(msg string, err ...error) Error // new message plus extra causes
	Err(err ...error) Error                // same message, extra causes
	SetExpandError(bool) Error             // include causes in ErrorAll
	SetStatusCode(int) Error
	StatusCode() int
	ErrorAll() string
	UnwrapAll() []error
}
