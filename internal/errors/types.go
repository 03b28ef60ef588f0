// Package errors provides typed errors and build diagnostics for sitewright.
//
// SiteError classifies failures (build, io, config, network) so the CLI can
// decide how to surface them. Diagnostic and BuildFailure describe the soft
// failures of producer tasks: located compiler messages that are logged,
// notified and pushed to the browser overlay without stopping sibling tasks.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeBuild      ErrorType = "build"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypePublish    ErrorType = "publish"
	ErrorTypeInternal   ErrorType = "internal"
)

// SiteError is a structured error type with context.
type SiteError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Task        string
	FilePath    string
	Line        int
	Column      int
	Recoverable bool
}

// Error implements the error interface.
func (e *SiteError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Task != "" {
		parts = append(parts, "task:"+e.Task)
	}

	if e.FilePath != "" {
		location := e.FilePath
		if e.Line > 0 {
			location += fmt.Sprintf(":%d", e.Line)
			if e.Column > 0 {
				location += fmt.Sprintf(":%d", e.Column)
			}
		}
		parts = append(parts, location)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *SiteError) Unwrap() error {
	return e.Cause
}

// Is matches another SiteError with the same type and code.
func (e *SiteError) Is(target error) bool {
	var t *SiteError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithLocation adds file location information.
func (e *SiteError) WithLocation(filePath string, line, column int) *SiteError {
	e.FilePath = filePath
	e.Line = line
	e.Column = column

	return e
}

// WithTask records which task produced the error.
func (e *SiteError) WithTask(task string) *SiteError {
	e.Task = task

	return e
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *SiteError {
	return &SiteError{
		Type:        ErrorTypeValidation,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewBuildError creates a build error. Build errors are recoverable: the
// failing task is skipped and the rest of the pipeline keeps running.
func NewBuildError(code, message string, cause error) *SiteError {
	return &SiteError{
		Type:        ErrorTypeBuild,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *SiteError {
	return &SiteError{
		Type:        ErrorTypeIO,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewNetworkError creates a network error.
func NewNetworkError(code, message string, cause error) *SiteError {
	return &SiteError{
		Type:        ErrorTypeNetwork,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string, cause error) *SiteError {
	return &SiteError{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewPublishError creates a publish error.
func NewPublishError(code, message string, cause error) *SiteError {
	return &SiteError{
		Type:        ErrorTypePublish,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// IsRecoverable reports whether err can be fixed by editing sources and
// running the task again. Compiler failures always can.
func IsRecoverable(err error) bool {
	var se *SiteError
	if errors.As(err, &se) {
		return se.Recoverable
	}
	if _, ok := AsBuildFailure(err); ok {
		return true
	}

	return false
}

// IsBuildError checks if an error is build-related.
func IsBuildError(err error) bool {
	var se *SiteError
	if errors.As(err, &se) {
		return se.Type == ErrorTypeBuild
	}

	return false
}

// Error codes shared across packages.
const (
	CodeBundleFailed   = "BUNDLE_FAILED"
	CodeRenderFailed   = "RENDER_FAILED"
	CodeCompileFailed  = "COMPILE_FAILED"
	CodeCopyFailed     = "COPY_FAILED"
	CodeCleanFailed    = "CLEAN_FAILED"
	CodeWriteFailed    = "WRITE_FAILED"
	CodeListenFailed   = "LISTEN_FAILED"
	CodeProducerFailed = "PRODUCER_FAILED"
	CodePushFailed     = "PUSH_FAILED"
	CodeInvalidURL     = "INVALID_URL"
)
