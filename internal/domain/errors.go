package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer. Validation sentinels are raised
// synchronously from the mutating call with nothing persisted; conflict
// sentinels leave store state unchanged.
var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrAlreadyExists = fmt.Errorf("already exists")
	ErrInvalidInput  = fmt.Errorf("invalid input")

	// Engine registry conflicts.
	ErrDuplicateEngine = fmt.Errorf("engine with same name or url exists")
	ErrLastEngine      = fmt.Errorf("cannot delete the last enabled engine")
	ErrLastEnabled     = fmt.Errorf("cannot disable the last enabled engine")
	ErrNoDefaultEngine = fmt.Errorf("no default engine")

	// Dispatcher.
	ErrNoEnginesSelected = fmt.Errorf("no engines selected")
	ErrQueryTooLong      = fmt.Errorf("query exceeds maximum length")

	// Storage layer. Open/init failures are fatal at startup; read-path
	// degradation is handled inside the store and never surfaces here.
	ErrStoreUnavailable = fmt.Errorf("store unavailable")
)

// DomainError wraps a sentinel error with operation context.
type DomainError struct {
	Op     string // operation name (e.g., "Registry.AddEngine")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category for monitoring.
type ErrorCode string

const (
	CodeUnknown           ErrorCode = "UNKNOWN"
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeAlreadyExists     ErrorCode = "ALREADY_EXISTS"
	CodeInvalidInput      ErrorCode = "INVALID_INPUT"
	CodeDuplicateEngine   ErrorCode = "DUPLICATE_ENGINE"
	CodeLastEngine        ErrorCode = "LAST_ENGINE"
	CodeLastEnabled       ErrorCode = "LAST_ENABLED"
	CodeNoDefaultEngine   ErrorCode = "NO_DEFAULT_ENGINE"
	CodeNoEnginesSelected ErrorCode = "NO_ENGINES_SELECTED"
	CodeQueryTooLong      ErrorCode = "QUERY_TOO_LONG"
	CodeStoreUnavailable  ErrorCode = "STORE_UNAVAILABLE"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:          CodeNotFound,
	ErrAlreadyExists:     CodeAlreadyExists,
	ErrInvalidInput:      CodeInvalidInput,
	ErrDuplicateEngine:   CodeDuplicateEngine,
	ErrLastEngine:        CodeLastEngine,
	ErrLastEnabled:       CodeLastEnabled,
	ErrNoDefaultEngine:   CodeNoDefaultEngine,
	ErrNoEnginesSelected: CodeNoEnginesSelected,
	ErrQueryTooLong:      CodeQueryTooLong,
	ErrStoreUnavailable:  CodeStoreUnavailable,
}

// ErrorCodeOf returns the machine-parseable error code for the given
// error. It unwraps DomainError and walks the chain with errors.Is.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	if code, ok := errorCodeMap[err]; ok {
		return code
	}
	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeUnknown
}
