package config

import (
	"errors"
	"fmt"
	"path/filepath"
)

// Error types of a ConfigurationError.
const (
	ErrorTypeIO         = "io"
	ErrorTypeParse      = "parse"
	ErrorTypeValidation = "validation"
)

// ConfigurationError is a failure to load or validate a configuration file.
type ConfigurationError struct {
	FilePath  string
	FileName  string
	ErrorType string
	Message   string
}

// Error implements the error interface
func (ce ConfigurationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", ce.ErrorType, ce.FileName, ce.Message)
}

// NewConfigurationError creates a configuration error for filePath.
func NewConfigurationError(filePath, errorType, message string) ConfigurationError {
	return ConfigurationError{
		FilePath:  filePath,
		FileName:  filepath.Base(filePath),
		ErrorType: errorType,
		Message:   message,
	}
}

// IsConfigurationError checks if an error is or wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var target ConfigurationError
	return errors.As(err, &target)
}

// IsValidationError checks if an error is or wraps ValidationErrors.
func IsValidationError(err error) bool {
	var target ValidationErrors
	return errors.As(err, &target)
}
