package cli

import (
	"encoding/json"
	"fmt"
	"io"
)

// Exit codes returned by opsctl.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // a check found problems
	ExitCommandError = 2 // the command itself could not run
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// commandError wraps err as an ExitCommandError.
func commandError(err error, message string) error {
	return &ExitError{Code: ExitCommandError, Message: message, Err: err}
}

// output writes v as indented JSON, or calls text for the text format.
func output(opts *RootOptions, w io.Writer, v any, text func(w io.Writer)) error {
	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
