package types

import (
	"errors"
	"fmt"
)

// ChainPayError is a structured error carrying a stable code.
type ChainPayError struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Retryable bool        `json:"retryable,omitempty"`
	cause     error
}

func (e *ChainPayError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *ChainPayError) Unwrap() error {
	return e.cause
}

// Is matches another *ChainPayError by code, so sentinel-style comparisons
// work with errors.Is.
func (e *ChainPayError) Is(target error) bool {
	t, ok := target.(*ChainPayError)
	return ok && t.Code == e.Code
}

// Error codes
const (
	ErrUnknownNetwork          = "UNKNOWN_NETWORK"
	ErrUnsupportedAsset        = "UNSUPPORTED_ASSET"
	ErrChainUnavailable        = "CHAIN_UNAVAILABLE"
	ErrInvoiceNotFound         = "INVOICE_NOT_FOUND"
	ErrInvoiceExpired          = "INVOICE_EXPIRED"
	ErrInvoiceWalletMismatch   = "INVOICE_WALLET_MISMATCH"
	ErrTransactionNotFound     = "TRANSACTION_NOT_FOUND"
	ErrTransactionFailed       = "TRANSACTION_FAILED"
	ErrTransactionHashMismatch = "TRANSACTION_HASH_MISMATCH"
	ErrWrongRecipient          = "WRONG_RECIPIENT"
	ErrInsufficientAmount      = "INSUFFICIENT_AMOUNT"
	ErrPriceFeedUnavailable    = "PRICE_FEED_UNAVAILABLE"
	ErrPriceUnavailable        = "PRICE_UNAVAILABLE"
	ErrInvalidRequest          = "INVALID_REQUEST"
	ErrServiceUnavailable      = "SERVICE_UNAVAILABLE"
	ErrConfigError             = "CONFIG_ERROR"
)

// NewError builds a ChainPayError.
func NewError(code, message string) *ChainPayError {
	return &ChainPayError{Code: code, Message: message}
}

// Errorf builds a ChainPayError with a formatted message.
func Errorf(code, format string, args ...interface{}) *ChainPayError {
	return &ChainPayError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds a ChainPayError around a lower-level cause.
func WrapError(code, message string, cause error) *ChainPayError {
	return &ChainPayError{Code: code, Message: message, cause: cause}
}

// WithData attaches structured details to the error.
func (e *ChainPayError) WithData(data interface{}) *ChainPayError {
	e.Data = data
	return e
}

// UnknownNetwork is returned for unregistered network ids.
func UnknownNetwork(id NetworkID) *ChainPayError {
	return Errorf(ErrUnknownNetwork, "unknown network: %s", id)
}

// ChainUnavailable is returned when every RPC endpoint of a network failed.
func ChainUnavailable(id NetworkID, cause error) *ChainPayError {
	e := WrapError(ErrChainUnavailable, fmt.Sprintf("all RPC endpoints failed for network %s", id), cause)
	e.Retryable = true
	return e
}

// ServiceUnavailable is returned for persistence faults that survived a retry.
func ServiceUnavailable(cause error) *ChainPayError {
	e := WrapError(ErrServiceUnavailable, "service temporarily unavailable", cause)
	e.Retryable = true
	return e
}

// CodeOf extracts the error code from err, or "" when err is not a ChainPayError.
func CodeOf(err error) string {
	var cpErr *ChainPayError
	if errors.As(err, &cpErr) {
		return cpErr.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}
