// Package errors provides centralized error definitions and error handling utilities
// for Arbiter. It defines the deliberation error taxonomy, semantic error types,
// error constructors with context wrapping, and error classification helpers.
//
// # Error Types
//
// Domain-specific errors represent failures inside a deliberation:
//   - DeliberationError: a phase of the decision pipeline failed for a contract
//   - ParticipantError: a single proposer or juror call failed or timed out
//   - SettlementError: the external settlement boundary rejected a winner
//
// Semantic errors represent common error conditions:
//   - NotFoundError: resource not found
//   - ValidationError: invalid input or state
//   - TimeoutError: operation timed out
//
// # Usage
//
//	err := errors.NewDeliberationError("only 1 proposal collected", errors.ErrInsufficientProposals).
//	    WithContractID("c-1").
//	    WithPhase("proposing")
//
//	if errors.Is(err, errors.ErrInsufficientProposals) { ... }
//	if errors.IsRetryable(err) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Deliberation sentinel errors. These are the kinds of the failure taxonomy;
// every DeliberationError carries one of them as its cause.
var (
	// ErrNotReady indicates the contract is not eligible for a decision.
	ErrNotReady = New("contract not ready for decision")
	// ErrAlreadyDecided indicates a decision already exists for the contract.
	ErrAlreadyDecided = New("contract already decided")
	// ErrInsufficientProposals indicates fewer proposals than the configured minimum.
	ErrInsufficientProposals = New("insufficient proposals")
	// ErrParticipantFailure indicates a single proposer or juror call failed.
	ErrParticipantFailure = New("participant failure")
	// ErrSettlementFailure indicates the settlement boundary rejected or errored.
	ErrSettlementFailure = New("settlement failure")
	// ErrConcurrencyConflict indicates the per-contract guard is already held.
	ErrConcurrencyConflict = New("deliberation already in progress")
	// ErrPersistenceFailure indicates the decision could not be stored.
	ErrPersistenceFailure = New("persistence failure")
)

// Store sentinel errors
var (
	// ErrContractNotFound indicates that a contract could not be found.
	ErrContractNotFound = New("contract not found")
	// ErrDecisionNotFound indicates that no decision exists for a contract.
	ErrDecisionNotFound = New("decision not found")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// ArbiterError is the base interface for all Arbiter errors.
// It extends the standard error interface with additional methods for
// error handling and classification.
type ArbiterError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// Message returns the message without the cause chain.
func (e *baseError) Message() string {
	return e.message
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// retryableKinds lists the deliberation kinds a caller may retry later,
// e.g. on the next monitor tick.
var retryableKinds = []error{
	ErrInsufficientProposals,
	ErrSettlementFailure,
	ErrConcurrencyConflict,
	ErrTimeout,
}

// DeliberationError represents a failure of one phase of the decision
// pipeline for a single contract.
//
// Example:
//
//	err := errors.NewDeliberationError("betting window still open", errors.ErrNotReady)
//	err = err.WithContractID("c-1").WithPhase("idle")
//	fmt.Println(err) // "deliberation error [contract=c-1, phase=idle]: betting window still open: contract not ready for decision"
type DeliberationError struct {
	baseError
	ContractID string
	Phase      string
}

// NewDeliberationError creates a new DeliberationError. The retryable flag
// is derived from the cause.
func NewDeliberationError(message string, cause error) *DeliberationError {
	retryable := false
	for _, kind := range retryableKinds {
		if cause != nil && errors.Is(cause, kind) {
			retryable = true
			break
		}
	}
	return &DeliberationError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  retryable,
			userFacing: true,
		},
	}
}

// WithContractID adds a contract ID to the error context.
func (e *DeliberationError) WithContractID(id string) *DeliberationError {
	e.ContractID = id
	return e
}

// WithPhase adds the pipeline phase to the error context.
func (e *DeliberationError) WithPhase(phase string) *DeliberationError {
	e.Phase = phase
	return e
}

// WithSeverity sets the error severity.
func (e *DeliberationError) WithSeverity(s Severity) *DeliberationError {
	e.severity = s
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *DeliberationError) WithRetryable(r bool) *DeliberationError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *DeliberationError) Error() string {
	var parts []string
	if e.ContractID != "" {
		parts = append(parts, fmt.Sprintf("contract=%s", e.ContractID))
	}
	if e.Phase != "" {
		parts = append(parts, fmt.Sprintf("phase=%s", e.Phase))
	}

	prefix := "deliberation error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("deliberation error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *DeliberationError) Is(target error) bool {
	if _, ok := target.(*DeliberationError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ParticipantError represents a failed call to one external reasoning
// participant. It is recovered locally and never fails a phase on its own.
//
// Example:
//
//	err := errors.NewParticipantError("generate proposals", ctx.Err()).WithAgentID("gpt")
type ParticipantError struct {
	baseError
	AgentID   string
	Operation string
}

// NewParticipantError creates a new ParticipantError for the given operation.
func NewParticipantError(operation string, cause error) *ParticipantError {
	return &ParticipantError{
		baseError: baseError{
			message:    operation,
			cause:      cause,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: false,
		},
		Operation: operation,
	}
}

// WithAgentID adds the agent ID to the error context.
func (e *ParticipantError) WithAgentID(id string) *ParticipantError {
	e.AgentID = id
	return e
}

// Error returns the formatted error message.
func (e *ParticipantError) Error() string {
	prefix := "participant error"
	if e.AgentID != "" {
		prefix = fmt.Sprintf("participant error [agent=%s]", e.AgentID)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Operation, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Operation)
}

// Is checks if this error matches the target.
func (e *ParticipantError) Is(target error) bool {
	if _, ok := target.(*ParticipantError); ok {
		return true
	}
	if errors.Is(target, ErrParticipantFailure) {
		return true
	}
	return e.baseError.Is(target)
}

// SettlementReason classifies why the settlement boundary refused a winner.
type SettlementReason string

const (
	// SettlementInsufficientFunds means the ledger account cannot pay out.
	SettlementInsufficientFunds SettlementReason = "insufficient_funds"
	// SettlementStaleState means the ledger already holds a conflicting state.
	SettlementStaleState SettlementReason = "stale_state"
	// SettlementNetwork means the ledger could not be reached.
	SettlementNetwork SettlementReason = "network"
	// SettlementRejected is any other rejection.
	SettlementRejected SettlementReason = "rejected"
)

// SettlementError represents a rejected or failed winner submission.
//
// Example:
//
//	err := errors.NewSettlementError(errors.SettlementNetwork, dialErr).WithContractID("c-1")
type SettlementError struct {
	baseError
	ContractID string
	Reason     SettlementReason
}

// NewSettlementError creates a new SettlementError.
func NewSettlementError(reason SettlementReason, cause error) *SettlementError {
	return &SettlementError{
		baseError: baseError{
			message:    fmt.Sprintf("ledger rejected submission (%s)", reason),
			cause:      cause,
			severity:   SeverityError,
			retryable:  reason == SettlementNetwork || reason == SettlementStaleState,
			userFacing: true,
		},
		Reason: reason,
	}
}

// WithContractID adds a contract ID to the error context.
func (e *SettlementError) WithContractID(id string) *SettlementError {
	e.ContractID = id
	return e
}

// Error returns the formatted error message.
func (e *SettlementError) Error() string {
	prefix := "settlement error"
	if e.ContractID != "" {
		prefix = fmt.Sprintf("settlement error [contract=%s]", e.ContractID)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *SettlementError) Is(target error) bool {
	if _, ok := target.(*SettlementError); ok {
		return true
	}
	if errors.Is(target, ErrSettlementFailure) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("contract", "c-1").WithCause(errors.ErrContractNotFound)
//	fmt.Println(err) // "contract 'c-1' not found: contract not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("confidence out of range").WithField("confidence").WithValue(1.4)
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}

	prefix := "validation error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("validation error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if errors.Is(target, ErrInvalidInput) {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that timed out.
//
// Example:
//
//	err := errors.NewTimeoutError("generate proposals", 60*time.Second)
//	fmt.Println(err) // "timeout error: generate proposals (timeout: 1m0s)"
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    operation,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if errors.Is(target, ErrTimeout) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry. This checks for:
//   - Errors implementing ArbiterError with IsRetryable() returning true
//   - Errors wrapping ErrTimeout
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var arbiterErr ArbiterError
	if As(err, &arbiterErr) {
		return arbiterErr.IsRetryable()
	}

	return Is(err, ErrTimeout)
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement ArbiterError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var arbiterErr ArbiterError
	if As(err, &arbiterErr) {
		return arbiterErr.Severity()
	}
	return SeverityError
}

// Kind returns the taxonomy sentinel an error belongs to, or nil when the
// error is outside the deliberation taxonomy.
func Kind(err error) error {
	for _, kind := range []error{
		ErrNotReady,
		ErrAlreadyDecided,
		ErrInsufficientProposals,
		ErrSettlementFailure,
		ErrConcurrencyConflict,
		ErrPersistenceFailure,
		ErrParticipantFailure,
		ErrContractNotFound,
		ErrTimeout,
		ErrCanceled,
		ErrInvalidInput,
	} {
		if Is(err, kind) {
			return kind
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
// Unlike fmt.Errorf with %w, this returns nil for a nil error.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
