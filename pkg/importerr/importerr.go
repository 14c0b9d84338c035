// Package importerr defines the error taxonomy shared across the import
// pipeline. Errors are values carried on jobs, items, and API responses
// rather than Go errors that unwind the stack; every stage records them
// and decides locally whether to continue.
package importerr

import "fmt"

// Type categorizes an import error.
type Type string

const (
	TypeCardNotFound  Type = "card_not_found"
	TypeInvalidFormat Type = "invalid_format"
	TypeParsing       Type = "parsing_error"
	TypeValidation    Type = "validation_error"
	TypeConflict      Type = "conflict_error"
	TypeTimeout       Type = "timeout_error"
	TypeSystem        Type = "system_error"
)

// Severity distinguishes hard failures from advisory warnings.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// MaxSuggestions caps the number of near-match suggestions attached to a
// card_not_found error.
const MaxSuggestions = 5

// Error is a structured import error or warning. It is stored as JSON on
// jobs and items and returned verbatim by the status API.
type Error struct {
	Type        Type     `json:"type"`
	Severity    Severity `json:"severity"`
	Recoverable bool     `json:"recoverable"`
	Message     string   `json:"message"`
	CardName    string   `json:"cardName,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Error implements the error interface so an Error can cross ordinary
// error-returning boundaries when needed.
func (e Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// IsBlocking returns true if the error should halt a non-continueOnError job.
func (e Error) IsBlocking() bool {
	return e.Severity == SeverityError && !e.Recoverable
}

// Parsing builds a parsing_error. Parsing errors are unrecoverable: the
// input will not parse differently on retry.
func Parsing(format string, args ...any) Error {
	return Error{
		Type:        TypeParsing,
		Severity:    SeverityError,
		Recoverable: false,
		Message:     fmt.Sprintf(format, args...),
	}
}

// Validation builds a validation_error.
func Validation(format string, args ...any) Error {
	return Error{
		Type:        TypeValidation,
		Severity:    SeverityError,
		Recoverable: false,
		Message:     fmt.Sprintf(format, args...),
	}
}

// CardNotFound builds a recoverable card_not_found error with suggestions.
func CardNotFound(cardName string, suggestions []string) Error {
	if len(suggestions) > MaxSuggestions {
		suggestions = suggestions[:MaxSuggestions]
	}
	return Error{
		Type:        TypeCardNotFound,
		Severity:    SeverityError,
		Recoverable: true,
		Message:     fmt.Sprintf("card %q not found", cardName),
		CardName:    cardName,
		Suggestions: suggestions,
	}
}

// CardVariant builds a card_variant substitution warning.
func CardVariant(cardName, message string) Error {
	return Error{
		Type:        TypeValidation,
		Severity:    SeverityWarning,
		Recoverable: true,
		Message:     message,
		CardName:    cardName,
	}
}

// Timeout builds a timeout_error. Timeouts are recoverable and count
// toward the retry policy.
func Timeout(step string) Error {
	return Error{
		Type:        TypeTimeout,
		Severity:    SeverityError,
		Recoverable: true,
		Message:     fmt.Sprintf("step %s exceeded its timeout", step),
	}
}

// System builds a recoverable system_error.
func System(format string, args ...any) Error {
	return Error{
		Type:        TypeSystem,
		Severity:    SeverityError,
		Recoverable: true,
		Message:     fmt.Sprintf(format, args...),
	}
}

// Conflict builds a conflict_error.
func Conflict(format string, args ...any) Error {
	return Error{
		Type:        TypeConflict,
		Severity:    SeverityError,
		Recoverable: false,
		Message:     fmt.Sprintf(format, args...),
	}
}
