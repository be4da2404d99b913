package domain

import (
	"errors"
	"fmt"
)

// Data integrity violation codes. Any of these aborts a dictionary build.
const (
	ErrCodeMalformedRelationship = "MALFORMED_RELATIONSHIP"
	ErrCodeBroadWithoutSplits    = "BROAD_WITHOUT_SPLITS"
	ErrCodeGroupMultiplicity     = "GROUP_MULTIPLICITY"
	ErrCodeMissingIdenticalHla   = "MISSING_IDENTICAL_HLA"
	ErrCodeUnknownTyping         = "UNKNOWN_TYPING"
	ErrCodeDuplicateTyping       = "DUPLICATE_TYPING"
)

var (
	// ErrDataIntegrity matches every DataIntegrityError via errors.Is.
	ErrDataIntegrity = errors.New("data integrity violation")
	// ErrNotFound is returned when a typing name is absent from a dictionary.
	ErrNotFound = errors.New("not found")
	// ErrVersionNotFound is returned for an unknown nomenclature version.
	ErrVersionNotFound = errors.New("nomenclature version not found")
	// ErrMalformedDictionary is returned when stored dictionary data is inconsistent.
	ErrMalformedDictionary = errors.New("malformed dictionary")
	// ErrUnsupportedDecomposition is returned by scoring payloads that hold no
	// per-allele detail.
	ErrUnsupportedDecomposition = errors.New("decomposition to single alleles is not supported")
)

// DataIntegrityError identifies the typing whose relationships violate the
// nomenclature rules.
type DataIntegrityError struct {
	Code    string `json:"code"`
	Locus   Locus  `json:"locus"`
	Typing  string `json:"typing"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("%s: %s (locus %s, typing %s)", e.Code, e.Message, e.Locus, e.Typing)
}

// Is lets callers match any integrity violation with errors.Is(err, ErrDataIntegrity).
func (e *DataIntegrityError) Is(target error) bool {
	return target == ErrDataIntegrity
}

// NewDataIntegrityError creates a DataIntegrityError
func NewDataIntegrityError(code string, locus Locus, typing, format string, args ...any) *DataIntegrityError {
	return &DataIntegrityError{
		Code:    code,
		Locus:   locus,
		Typing:  typing,
		Message: fmt.Sprintf(format, args...),
	}
}

// IntegrityCode extracts the violation code from an error chain, or "".
func IntegrityCode(err error) string {
	var integrity *DataIntegrityError
	if errors.As(err, &integrity) {
		return integrity.Code
	}
	return ""
}

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value any) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}
