// Package errors provides a lightweight structured error type (BuildError)
// for category-based classification of module synthesis failures in the CLI.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory represents the category of a modbuild error for classification
type ErrorCategory string

const (
	// User-facing configuration and input errors: empty export/open match,
	// conflicting attributes, unknown module names.
	CategoryConfig ErrorCategory = "config"

	// Consistency errors between artifacts: duplicate overlay claims,
	// version/compliance mismatches.
	CategoryConsistency ErrorCategory = "consistency"

	// External tool failures (javac, jmod, java --describe-module).
	CategoryTool ErrorCategory = "tool"

	// Missing dependency: an imported package resolves to no module on
	// the module path.
	CategoryDependency ErrorCategory = "dependency"

	// Runtime and infrastructure errors
	CategoryFileSystem ErrorCategory = "filesystem"
	CategoryInternal   ErrorCategory = "internal"
)

// ErrorSeverity indicates how critical an error is
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // Stops the current artifact's synthesis
	SeverityError   ErrorSeverity = "error"   // Error, but not fatal
	SeverityWarning ErrorSeverity = "warning" // Advisory, synthesis continues
)

// BuildError is a structured error with category, severity, and context
type BuildError struct {
	Category ErrorCategory `json:"category"`
	Severity ErrorSeverity `json:"severity"`
	Message  string        `json:"message"`
	Cause    error         `json:"cause,omitempty"`
	Context  ContextFields `json:"context,omitempty"`
}

// ContextFields carries structured context for BuildError
type ContextFields map[string]any

// Error implements the error interface
func (e *BuildError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Category, e.Severity, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Category, e.Severity, e.Message)
}

// Unwrap implements error unwrapping for Go 1.13+ error handling
func (e *BuildError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *BuildError) WithContext(key string, value any) *BuildError {
	if e.Context == nil {
		e.Context = make(ContextFields)
	}
	e.Context[key] = value
	return e
}

// New creates a new BuildError
func New(category ErrorCategory, severity ErrorSeverity, message string) *BuildError {
	return &BuildError{
		Category: category,
		Severity: severity,
		Message:  message,
	}
}

// Newf creates a new fatal BuildError with a formatted message.
func Newf(category ErrorCategory, format string, args ...any) *BuildError {
	return &BuildError{
		Category: category,
		Severity: SeverityFatal,
		Message:  fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new BuildError that wraps an existing error
func Wrap(err error, category ErrorCategory, severity ErrorSeverity, message string) *BuildError {
	return &BuildError{
		Category: category,
		Severity: severity,
		Message:  message,
		Cause:    err,
	}
}

// ConfigError creates a fatal configuration error.
func ConfigError(format string, args ...any) *BuildError {
	return Newf(CategoryConfig, format, args...)
}

// ConsistencyError creates a fatal consistency error.
func ConsistencyError(format string, args ...any) *BuildError {
	return Newf(CategoryConsistency, format, args...)
}

// ToolError creates a fatal external-tool error carrying the captured output.
func ToolError(cause error, tool, output string) *BuildError {
	e := Wrap(cause, CategoryTool, SeverityFatal, tool+" failed")
	return e.WithContext("output", output)
}

// DependencyError creates a fatal missing-dependency error.
func DependencyError(format string, args ...any) *BuildError {
	return Newf(CategoryDependency, format, args...)
}

// IsCategory checks if an error belongs to a specific category
func IsCategory(err error, category ErrorCategory) bool {
	var be *BuildError
	if errors.As(err, &be) {
		return be.Category == category
	}
	return false
}

// GetCategory extracts the category from an error, or returns CategoryInternal
// if it is not a BuildError
func GetCategory(err error) ErrorCategory {
	var be *BuildError
	if errors.As(err, &be) {
		return be.Category
	}
	return CategoryInternal
}
