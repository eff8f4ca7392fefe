package provider

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind classifies provider and admission failures.
type Kind string

const (
	KindQuotaExceeded         Kind = "quota_exceeded"
	KindProviderUnavailable   Kind = "provider_unavailable"
	KindAllProvidersExhausted Kind = "all_providers_exhausted"
	KindNetworkTransient      Kind = "network_transient"
	KindMalformedResponse     Kind = "malformed_response"
	KindBadSymbol             Kind = "bad_symbol"
)

// Sentinels for errors.Is; every *Error matches the sentinel of its Kind.
var (
	ErrQuotaExceeded         = errors.New("quota exceeded")
	ErrProviderUnavailable   = errors.New("provider unavailable")
	ErrAllProvidersExhausted = errors.New("all providers exhausted")
	ErrNetworkTransient      = errors.New("transient network error")
	ErrMalformedResponse     = errors.New("malformed response")
	ErrBadSymbol             = errors.New("bad symbol")
)

var sentinels = map[Kind]error{
	KindQuotaExceeded:         ErrQuotaExceeded,
	KindProviderUnavailable:   ErrProviderUnavailable,
	KindAllProvidersExhausted: ErrAllProvidersExhausted,
	KindNetworkTransient:      ErrNetworkTransient,
	KindMalformedResponse:     ErrMalformedResponse,
	KindBadSymbol:             ErrBadSymbol,
}

// Error is the typed failure surfaced by adapters, admission and rotation.
type Error struct {
	Kind       Kind
	Provider   string
	Symbol     string
	StatusCode int
	// Wait is the earliest time the caller may usefully retry.
	Wait    time.Duration
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s", e.Kind)
	if e.Provider != "" {
		msg += " provider=" + e.Provider
	}
	if e.Symbol != "" {
		msg += " symbol=" + e.Symbol
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" status=%d", e.StatusCode)
	}
	if e.Wait > 0 {
		msg += fmt.Sprintf(" wait=%s", e.Wait)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(" (%v)", e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// NewQuotaExceeded reports a full window or a provider 429.
func NewQuotaExceeded(providerID, symbol, message string, status int) *Error {
	return &Error{Kind: KindQuotaExceeded, Provider: providerID, Symbol: symbol, Message: message, StatusCode: status}
}

// NewProviderUnavailable tells the caller to wait or fall back to cache.
func NewProviderUnavailable(providerID string, wait time.Duration) *Error {
	return &Error{Kind: KindProviderUnavailable, Provider: providerID, Wait: wait, Message: "admission denied"}
}

// NewAllProvidersExhausted reports that no provider of a capability is ready.
func NewAllProvidersExhausted(capability string, wait time.Duration) *Error {
	return &Error{Kind: KindAllProvidersExhausted, Wait: wait, Message: "no ready provider for " + capability}
}

func NewNetworkTransient(providerID, symbol, message string, status int, cause error) *Error {
	return &Error{Kind: KindNetworkTransient, Provider: providerID, Symbol: symbol, Message: message, StatusCode: status, Cause: cause}
}

func NewMalformedResponse(providerID, symbol, message string, cause error) *Error {
	return &Error{Kind: KindMalformedResponse, Provider: providerID, Symbol: symbol, Message: message, Cause: cause}
}

func NewBadSymbol(providerID, symbol, message string, status int) *Error {
	return &Error{Kind: KindBadSymbol, Provider: providerID, Symbol: symbol, Message: message, StatusCode: status}
}

// KindOf classifies err. A cancelled context has no kind. Any other untyped
// error (timeouts, net.Error, unknown) is treated as transient so the
// provider's retry policy decides.
func KindOf(err error) Kind {
	if err == nil || errors.Is(err, context.Canceled) {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindNetworkTransient
}

// Retryable reports whether the queue should re-attempt after err.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindNetworkTransient, KindQuotaExceeded:
		return true
	default:
		return false
	}
}

// IsRateLimited reports whether err is a quota violation from the provider.
func IsRateLimited(err error) bool {
	return KindOf(err) == KindQuotaExceeded
}

// StatusCode extracts the HTTP status carried by err, if any.
func StatusCode(err error) int {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.StatusCode
	}
	return 0
}

// WaitOf extracts the retry hint carried by err, if any.
func WaitOf(err error) time.Duration {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Wait
	}
	return 0
}
