package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error for propagation policy decisions. Kinds are
// behavioral categories, not transport details: the composite provider retries
// KindProviderTransport, degrades on KindProviderRateLimit, and never retries
// KindValidation.
type Kind string

// Error kinds.
const (
	KindValidation        Kind = "validation"
	KindSymbolResolution  Kind = "symbol_resolution"
	KindProviderRateLimit Kind = "provider_rate_limit"
	KindInsufficientBars  Kind = "insufficient_bars"
	KindProviderTransport Kind = "provider_transport"
	KindAnalysis          Kind = "analysis"
	KindConfiguration     Kind = "configuration"
	KindCache             Kind = "cache"
	KindCancelled         Kind = "cancelled"
)

// Machine-readable error codes surfaced to callers.
const (
	CodeInvalidArgs        = "INVALID_ARGS"
	CodeInvalidContentType = "INVALID_CONTENT_TYPE"
	CodeInvalidSignature   = "INVALID_SIGNATURE"
	CodeRequestTooLarge    = "REQUEST_TOO_LARGE"
	CodeInvalidJSON        = "INVALID_JSON"
	CodeInvalidFormat      = "INVALID_FORMAT"
	CodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	CodeProviderRateLimit  = "PROVIDER_RATE_LIMIT"
	CodeProviderError      = "PROVIDER_ERROR"
	CodeMissingData        = "MISSING_DATA"
	CodeInsufficientBars   = "INSUFFICIENT_BARS"
	CodeSymbolResolution   = "SYMBOL_RESOLUTION"
	CodeAnalysisError      = "ANALYSIS_ERROR"
	CodeInternalError      = "INTERNAL_ERROR"
)

// Error is the serializable error carried on every public contract. It wraps
// an optional cause so errors.Is/As keep working through it.
type Error struct {
	Kind      Kind           `json:"kind"`
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	cause     error
}

// NewError builds an Error stamped with the current UTC time.
func NewError(kind Kind, code, message string, data map[string]any) *Error {
	return &Error{
		Kind:      kind,
		Code:      code,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// WrapError builds an Error around a cause.
func WrapError(kind Kind, code, message string, cause error) *Error {
	e := NewError(kind, code, message, nil)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.cause }

// MarshalJSON flattens the cause into the message so the wire form is
// self-contained.
func (e *Error) MarshalJSON() ([]byte, error) {
	type wire struct {
		Kind      Kind           `json:"kind"`
		Code      string         `json:"code"`
		Message   string         `json:"message"`
		Data      map[string]any `json:"data,omitempty"`
		Timestamp time.Time      `json:"timestamp"`
	}
	msg := e.Message
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return json.Marshal(wire{Kind: e.Kind, Code: e.Code, Message: msg, Data: e.Data, Timestamp: e.Timestamp})
}

// KindOf extracts the Kind from any error in the chain, or "" when the error
// carries no taxonomy.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf extracts the machine-readable code, defaulting to INTERNAL_ERROR.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternalError
}

// RateLimitError signals an upstream 429 with an optional retry hint.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("provider %s rate limited, retry after %s", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("provider %s rate limited", e.Provider)
}

// InsufficientBarsError signals a response shorter than the analysis needs.
type InsufficientBarsError struct {
	Required int
	Received int
}

func (e *InsufficientBarsError) Error() string {
	return fmt.Sprintf("insufficient bars: required %d, received %d", e.Required, e.Received)
}

// SymbolResolutionError signals an unresolvable symbol, optionally with a
// suggested correction.
type SymbolResolutionError struct {
	Symbol     string
	Suggestion string
}

func (e *SymbolResolutionError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("cannot resolve symbol %q (did you mean %q?)", e.Symbol, e.Suggestion)
	}
	return fmt.Sprintf("cannot resolve symbol %q", e.Symbol)
}
