package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents internal error codes for ledger and orchestration operations
type ErrorCode int

const (
	ErrCodeOK ErrorCode = 0

	// Caller errors
	ErrCodeValidation          ErrorCode = 1000
	ErrCodeInvalidAmount       ErrorCode = 1001
	ErrCodeInsufficientFunds   ErrorCode = 1002
	ErrCodeClaimNotFound       ErrorCode = 1003
	ErrCodeClaimAlreadySettled ErrorCode = 1004
	ErrCodeTaskNotFound        ErrorCode = 1005
	ErrCodeTenantNotFound      ErrorCode = 1006
	ErrCodeWithdrawNotFound    ErrorCode = 1007
	ErrCodePermissionDenied    ErrorCode = 1008
	ErrCodeCredentialInvalid   ErrorCode = 1009
	ErrCodeAlreadyRunning      ErrorCode = 1010
	ErrCodeNotRunning          ErrorCode = 1011

	// Server errors
	ErrCodeInternal        ErrorCode = 2000
	ErrCodeUnavailable     ErrorCode = 2001
	ErrCodeDeliveryFailure ErrorCode = 2002
)

var codeNames = map[ErrorCode]string{
	ErrCodeOK:                  "OK",
	ErrCodeValidation:          "VALIDATION_ERROR",
	ErrCodeInvalidAmount:       "INVALID_AMOUNT",
	ErrCodeInsufficientFunds:   "INSUFFICIENT_FUNDS",
	ErrCodeClaimNotFound:       "CLAIM_NOT_FOUND",
	ErrCodeClaimAlreadySettled: "CLAIM_ALREADY_SETTLED",
	ErrCodeTaskNotFound:        "TASK_NOT_FOUND",
	ErrCodeTenantNotFound:      "TENANT_NOT_FOUND",
	ErrCodeWithdrawNotFound:    "WITHDRAW_NOT_FOUND",
	ErrCodePermissionDenied:    "PERMISSION_DENIED",
	ErrCodeCredentialInvalid:   "CREDENTIAL_INVALID",
	ErrCodeAlreadyRunning:      "ALREADY_RUNNING",
	ErrCodeNotRunning:          "NOT_RUNNING",
	ErrCodeInternal:            "INTERNAL_ERROR",
	ErrCodeUnavailable:         "SERVICE_UNAVAILABLE",
	ErrCodeDeliveryFailure:     "DELIVERY_FAILURE",
}

// String returns the wire name of the code
func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CODE_%d", int(c))
}

// CodedError represents a structured error with code and context
type CodedError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the error code to an HTTP status for the admin API
func (e *CodedError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeOK:
		return http.StatusOK
	case ErrCodeValidation, ErrCodeInvalidAmount:
		return http.StatusBadRequest
	case ErrCodeClaimNotFound, ErrCodeTaskNotFound, ErrCodeTenantNotFound, ErrCodeWithdrawNotFound:
		return http.StatusNotFound
	case ErrCodeInsufficientFunds, ErrCodeClaimAlreadySettled, ErrCodeAlreadyRunning, ErrCodeNotRunning:
		return http.StatusConflict
	case ErrCodePermissionDenied:
		return http.StatusForbidden
	case ErrCodeCredentialInvalid:
		return http.StatusUnprocessableEntity
	case ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeDeliveryFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// New creates a new CodedError
func New(code ErrorCode, message string, cause error) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *CodedError) WithDetail(key string, value interface{}) *CodedError {
	e.Details[key] = value
	return e
}

func Validation(message string) *CodedError {
	return New(ErrCodeValidation, message, nil)
}

func InvalidAmount(raw string) *CodedError {
	return New(ErrCodeInvalidAmount, fmt.Sprintf("invalid amount %q: must be a positive number", raw), nil).
		WithDetail("amount", raw)
}

func InsufficientFunds(scope, ownerKey, available, requested string) *CodedError {
	return New(ErrCodeInsufficientFunds, fmt.Sprintf("insufficient funds: available %s, requested %s", available, requested), nil).
		WithDetail("scope", scope).
		WithDetail("owner_key", ownerKey).
		WithDetail("available", available).
		WithDetail("requested", requested)
}

func ClaimNotFound(claimID int64) *CodedError {
	return New(ErrCodeClaimNotFound, fmt.Sprintf("claim %d not found", claimID), nil).
		WithDetail("claim_id", claimID)
}

func ClaimAlreadySettled(claimID int64, status string) *CodedError {
	return New(ErrCodeClaimAlreadySettled, fmt.Sprintf("claim %d already %s", claimID, status), nil).
		WithDetail("claim_id", claimID).
		WithDetail("status", status)
}

func TaskNotFound(taskID int64) *CodedError {
	return New(ErrCodeTaskNotFound, fmt.Sprintf("task %d not found", taskID), nil).
		WithDetail("task_id", taskID)
}

func TenantNotFound(tenantID int64) *CodedError {
	return New(ErrCodeTenantNotFound, fmt.Sprintf("tenant %d not found", tenantID), nil).
		WithDetail("tenant_id", tenantID)
}

func WithdrawNotFound(requestID int64) *CodedError {
	return New(ErrCodeWithdrawNotFound, fmt.Sprintf("withdraw request %d not found", requestID), nil).
		WithDetail("request_id", requestID)
}

func PermissionDenied(message string) *CodedError {
	return New(ErrCodePermissionDenied, message, nil)
}

func CredentialInvalid(cause error) *CodedError {
	return New(ErrCodeCredentialInvalid, "credential rejected by transport", cause)
}

func AlreadyRunning(tenantID int64) *CodedError {
	return New(ErrCodeAlreadyRunning, fmt.Sprintf("tenant %d already running", tenantID), nil).
		WithDetail("tenant_id", tenantID)
}

func NotRunning(tenantID int64) *CodedError {
	return New(ErrCodeNotRunning, fmt.Sprintf("tenant %d not running", tenantID), nil).
		WithDetail("tenant_id", tenantID)
}

func DeliveryFailure(recipient int64, cause error) *CodedError {
	return New(ErrCodeDeliveryFailure, fmt.Sprintf("delivery to %d failed", recipient), cause).
		WithDetail("recipient", recipient)
}

func Internal(message string, cause error) *CodedError {
	return New(ErrCodeInternal, message, cause)
}

func Unavailable(message string, cause error) *CodedError {
	return New(ErrCodeUnavailable, message, cause)
}

// IsCoded checks if an error chain carries a CodedError
func IsCoded(err error) bool {
	var ce *CodedError
	return stderrors.As(err, &ce)
}

// GetCode extracts the error code from an error chain
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var ce *CodedError
	if stderrors.As(err, &ce) {
		return ce.Code
	}
	return ErrCodeInternal
}

// Is reports whether err carries the given code
func Is(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}
