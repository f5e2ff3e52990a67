package fixture

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode categorizes fixture errors.
type ErrorCode string

const (
	// ErrCodeInvalidFixtureDirectory indicates replay was requested against a
	// missing or unreadable cassette directory.
	ErrCodeInvalidFixtureDirectory ErrorCode = "INVALID_FIXTURE_DIRECTORY"

	// ErrCodeFixtureNotFound indicates no entry exists at the requested index.
	// During replay this means the code under test made more calls than were recorded.
	ErrCodeFixtureNotFound ErrorCode = "FIXTURE_NOT_FOUND"

	// ErrCodeWriteError indicates a filesystem failure while recording.
	ErrCodeWriteError ErrorCode = "WRITE_ERROR"

	// ErrCodeDecodeError indicates an entry file exists but cannot be read or decoded.
	ErrCodeDecodeError ErrorCode = "DECODE_ERROR"
)

// Error is a fixture store or playback failure.
//
// None of these are recovered internally. A broken cassette is never
// patched; the only fix is to re-record the test case.
type Error struct {
	Code ErrorCode

	// TestCase is the cassette name, as given by the test.
	TestCase string

	// Dir is the cassette directory on disk.
	Dir string

	// Index is the entry sequence index, or -1 when not applicable.
	Index int

	// Operation is the "service.Method" of the call involved, if known.
	Operation string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	fmt.Fprintf(&b, ": test case %q", e.TestCase)
	if e.Index >= 0 {
		fmt.Fprintf(&b, " index %d", e.Index)
	}
	if e.Operation != "" {
		fmt.Fprintf(&b, " operation %s", e.Operation)
	}
	if e.Dir != "" {
		fmt.Fprintf(&b, " (dir=%s)", e.Dir)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ErrorCode) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code == code
	}
	return false
}

// IsInvalidFixtureDirectory reports whether err is an invalid cassette directory error.
// Uses errors.As to handle wrapped errors.
func IsInvalidFixtureDirectory(err error) bool {
	return hasCode(err, ErrCodeInvalidFixtureDirectory)
}

// IsFixtureNotFound reports whether err is a missing entry error.
func IsFixtureNotFound(err error) bool {
	return hasCode(err, ErrCodeFixtureNotFound)
}

// IsWriteError reports whether err is a recording write failure.
func IsWriteError(err error) bool {
	return hasCode(err, ErrCodeWriteError)
}

// IsDecodeError reports whether err is a corrupt entry error.
func IsDecodeError(err error) bool {
	return hasCode(err, ErrCodeDecodeError)
}

func newInvalidDirError(testCase, dir string, cause error) *Error {
	return &Error{Code: ErrCodeInvalidFixtureDirectory, TestCase: testCase, Dir: dir, Index: -1, Err: cause}
}

func newNotFoundError(testCase, dir string, index int) *Error {
	return &Error{Code: ErrCodeFixtureNotFound, TestCase: testCase, Dir: dir, Index: index}
}

func newWriteError(testCase, dir string, index int, op string, cause error) *Error {
	return &Error{Code: ErrCodeWriteError, TestCase: testCase, Dir: dir, Index: index, Operation: op, Err: cause}
}

func newDecodeError(testCase, dir string, index int, cause error) *Error {
	return &Error{Code: ErrCodeDecodeError, TestCase: testCase, Dir: dir, Index: index, Err: cause}
}
