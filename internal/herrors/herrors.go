// Package herrors defines the sandbox's typed error kinds.
//
// Every failure the core can report to a caller is one of these kinds;
// Coordinator uses errors.As to translate a *Error into a tool result
// instead of matching on message strings.
package herrors

import "fmt"

// Kind identifies the class of failure a sandbox operation hit.
type Kind string

const (
	KindPathEscape       Kind = "path_escape"
	KindSymlinkEscape    Kind = "symlink_escape"
	KindFileTooLarge     Kind = "file_too_large"
	KindWorkspaceFull    Kind = "workspace_full"
	KindTimeout          Kind = "timeout"
	KindWorkerUnavailable Kind = "worker_unavailable"
	KindExecutionError   Kind = "execution_error"
	KindBashNonZero      Kind = "bash_non_zero"
	KindInvalidPath      Kind = "invalid_path"
)

// Error is the sandbox's sentinel-kind error type.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error with no wrapped cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an *Error that wraps an underlying cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}
