package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/sourceops/cloud-custodian/internal/fixture"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Verification failure (schema violations, index gaps)
	ExitCommandError = 2 // Command error (missing cassette, unreadable database, etc.)
)

// Error codes reported in CLI responses. Fixture errors report their own
// code (INVALID_FIXTURE_DIRECTORY, FIXTURE_NOT_FOUND, ...).
const (
	ErrCodeGeneric   = "GENERIC_ERROR"
	ErrCodeFlightLog = "FLIGHT_LOG_ERROR"
)

// ExitError is a command failure that knows which exit code the process
// should end with. Message is the command-level summary; Err, when set, is
// the fixture, config or flight log error behind it.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError reports a failure with no underlying cause, such as a
// cassette that failed verification.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError attaches an exit code and summary to err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps err to a process exit code. A fixture error that never
// passed through an ExitError still means the command could not run, so
// it maps to ExitCommandError; anything else unclassified is ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	var fe *fixture.Error
	if errors.As(err, &fe) {
		return ExitCommandError
	}
	return ExitFailure
}

// errorCode picks the response code for err.
func errorCode(err error) string {
	var fe *fixture.Error
	if errors.As(err, &fe) {
		return string(fe.Code)
	}
	return ErrCodeGeneric
}

// textRenderer is implemented by results with a human-readable layout.
type textRenderer interface {
	WriteText(w io.Writer, verbose bool)
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // verbose/diagnostic output; defaults to Writer
	Verbose   bool
}

// CLIResponse is the JSON envelope for every command.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return f.encode(CLIResponse{Status: "ok", Data: data})
	}
	if r, ok := data.(textRenderer); ok {
		r.WriteText(f.Writer, f.Verbose)
		return nil
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return f.encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

func (f *OutputFormatter) encode(resp CLIResponse) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Verbose logs go to ErrWriter so they never corrupt JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

// fail reports err and returns it wrapped with exitCode.
func (f *OutputFormatter) fail(exitCode int, message string, err error) error {
	if outErr := f.Error(errorCode(err), fmt.Sprintf("%s: %v", message, err), nil); outErr != nil {
		return outErr
	}
	return WrapExitError(exitCode, message, err)
}
