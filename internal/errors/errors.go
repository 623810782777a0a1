// Package errors provides the code-tagged error taxonomy shared by the capture,
// processing and delivery stages, plus the mapping to process exit codes.
package errors

import (
	"errors"
	"fmt"
)

// Code classifies an AppError.
type Code int

const (
	CodeUnknown Code = iota
	CodeInternal
	CodeConfig
	CodeUnsupportedFormat
	CodeDeviceLost
	CodeInputFailure
	CodeTimeout
	CodeCancelled
	CodeEndOfStream
)

var codeNames = map[Code]string{
	CodeUnknown:           "UNKNOWN",
	CodeInternal:          "INTERNAL",
	CodeConfig:            "CONFIG_ERROR",
	CodeUnsupportedFormat: "UNSUPPORTED_FORMAT",
	CodeDeviceLost:        "DEVICE_LOST",
	CodeInputFailure:      "INPUT_FAILURE",
	CodeTimeout:           "TIMEOUT",
	CodeCancelled:         "CANCELLED",
	CodeEndOfStream:       "END_OF_STREAM",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("CODE(%d)", int(c))
}

// Process exit codes.
const (
	ExitOK            = 0
	ExitConfig        = 1
	ExitCaptureFailed = 2
)

// exitCodeMap maps error codes to process exit codes. Codes absent from the
// map exit with ExitConfig since they can only surface during startup.
var exitCodeMap = map[Code]int{
	CodeConfig:      ExitConfig,
	CodeDeviceLost:  ExitCaptureFailed,
	CodeCancelled:   ExitOK,
	CodeEndOfStream: ExitOK,
}

// AppError is the base error type with structured error code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// Is matches another AppError by code, so sentinel values work with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code && t.Message == e.Message
}

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// CodeOf returns the code of the outermost AppError in err's chain.
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsRetryable returns true if the error is potentially retryable.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeDeviceLost, CodeTimeout:
		return true
	default:
		return false
	}
}

// ExitCode maps an error returned from the run loop to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if c, ok := exitCodeMap[CodeOf(err)]; ok {
		return c
	}
	return ExitConfig
}
