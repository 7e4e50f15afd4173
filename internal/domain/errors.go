package domain

import (
	"errors"
	"fmt"
)

// ErrorCode represents a machine-readable error code
type ErrorCode string

const (
	// Payment state machine errors (PAYMENT_*)
	ErrorCodePaymentNotFound          ErrorCode = "PAYMENT_NOT_FOUND"
	ErrorCodePaymentInvalidTransition ErrorCode = "PAYMENT_INVALID_TRANSITION"

	// Transaction errors (TXN_*)
	ErrorCodeTxnNotFound     ErrorCode = "TXN_NOT_FOUND"
	ErrorCodeTxnInvalidState ErrorCode = "TXN_INVALID_STATE"

	// Refund errors (REFUND_*)
	ErrorCodeRefundInsufficient ErrorCode = "REFUND_INSUFFICIENT"

	// Gift card errors (GIFTCARD_*)
	ErrorCodeGiftCardNotFound ErrorCode = "GIFTCARD_NOT_FOUND"
	ErrorCodeGiftCardExpired  ErrorCode = "GIFTCARD_EXPIRED"
	ErrorCodeGiftCardRedeemed ErrorCode = "GIFTCARD_REDEEMED"

	// Provider errors (PROVIDER_*)
	ErrorCodeProviderError    ErrorCode = "PROVIDER_ERROR"
	ErrorCodeProviderTimeout  ErrorCode = "PROVIDER_TIMEOUT"
	ErrorCodeProviderDeclined ErrorCode = "PROVIDER_DECLINED"

	// Webhook errors (WEBHOOK_*)
	ErrorCodeWebhookUnverified ErrorCode = "WEBHOOK_UNVERIFIED"

	// Validation errors (VALIDATION_*)
	ErrorCodeValidationFailed        ErrorCode = "VALIDATION_FAILED"
	ErrorCodeValidationAmountInvalid ErrorCode = "VALIDATION_AMOUNT_INVALID"
	ErrorCodeValidationMissingField  ErrorCode = "VALIDATION_MISSING_FIELD"

	// Internal errors (INTERNAL_*)
	ErrorCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrorCodeDatabaseError ErrorCode = "INTERNAL_DATABASE_ERROR"
)

// DomainError represents a structured domain error with error code and context
type DomainError struct {
	Err     error
	Details map[string]interface{}
	Code    ErrorCode
	Message string
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches any DomainError carrying the same code, so sentinel instances
// below work with errors.Is even after wrapping with extra detail
func (e *DomainError) Is(target error) bool {
	var other *DomainError
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// WithDetail adds a detail field to a copy of the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	clone := &DomainError{Code: e.Code, Message: e.Message, Err: e.Err, Details: map[string]interface{}{}}
	for k, v := range e.Details {
		clone.Details[k] = v
	}
	clone.Details[key] = value
	return clone
}

// NewDomainError creates a new domain error
func NewDomainError(code ErrorCode, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with a domain error code
func WrapError(code ErrorCode, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Err:     err,
	}
}

// GetErrorCode extracts the error code from an error, returns empty string
// if not a DomainError
func GetErrorCode(err error) ErrorCode {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// IsNotFoundError checks if an error represents a "not found" condition
func IsNotFoundError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodePaymentNotFound ||
		code == ErrorCodeTxnNotFound ||
		code == ErrorCodeGiftCardNotFound
}

// IsValidationError checks if an error should surface to the caller as a
// client fault rather than a server fault
func IsValidationError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodePaymentInvalidTransition ||
		code == ErrorCodeRefundInsufficient ||
		code == ErrorCodeTxnInvalidState ||
		code == ErrorCodeValidationFailed ||
		code == ErrorCodeValidationAmountInvalid ||
		code == ErrorCodeValidationMissingField
}

// IsProviderError checks if an error originated at the payment provider
func IsProviderError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeProviderError ||
		code == ErrorCodeProviderTimeout ||
		code == ErrorCodeProviderDeclined
}

// Structured error instances
var (
	ErrPaymentNotFound   = NewDomainError(ErrorCodePaymentNotFound, "payment not found")
	ErrInvalidTransition = NewDomainError(ErrorCodePaymentInvalidTransition, "payment state transition not allowed")

	ErrTxnNotFound     = NewDomainError(ErrorCodeTxnNotFound, "payment transaction not found")
	ErrTxnInvalidState = NewDomainError(ErrorCodeTxnInvalidState, "transaction is in invalid state for this operation")

	ErrInsufficientRefundable = NewDomainError(ErrorCodeRefundInsufficient, "refund exceeds refundable amount")

	ErrGiftCardNotFound   = NewDomainError(ErrorCodeGiftCardNotFound, "gift card not found")
	ErrGiftCardExpired    = NewDomainError(ErrorCodeGiftCardExpired, "gift card has expired")
	ErrGiftCardRedeemed   = NewDomainError(ErrorCodeGiftCardRedeemed, "gift card balance is exhausted")
	ErrGiftCardOverCredit = NewDomainError(ErrorCodeValidationAmountInvalid, "credit exceeds original gift card balance")

	ErrProviderError    = NewDomainError(ErrorCodeProviderError, "payment provider error")
	ErrProviderTimeout  = NewDomainError(ErrorCodeProviderTimeout, "payment provider timeout")
	ErrProviderDeclined = NewDomainError(ErrorCodeProviderDeclined, "payment declined by provider")

	ErrUnverifiedWebhook = NewDomainError(ErrorCodeWebhookUnverified, "webhook signature verification failed")

	ErrValidationFailed        = NewDomainError(ErrorCodeValidationFailed, "validation failed")
	ErrValidationAmountInvalid = NewDomainError(ErrorCodeValidationAmountInvalid, "invalid amount")
	ErrValidationMissingField  = NewDomainError(ErrorCodeValidationMissingField, "required field missing")

	ErrInternalError = NewDomainError(ErrorCodeInternalError, "internal server error")
	ErrDatabaseError = NewDomainError(ErrorCodeDatabaseError, "database error")
)
