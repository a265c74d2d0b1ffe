// Package bnc holds the shared Binance error taxonomy. Adapter-level errors
// bubble unmodified to the evaluator and planner; callers branch with
// errors.Is.
package bnc

import (
	"errors"
	"fmt"
)

var (
	// ErrAuth covers bad key, secret or signature. Fatal, never retried.
	ErrAuth = errors.New("authentication rejected")
	// ErrClockSkew means the exchange rejected our timestamp. The client
	// resyncs its clock offset and retries once.
	ErrClockSkew = errors.New("timestamp outside recv window")
	// ErrNetwork covers transport failures; retried with bounded backoff.
	ErrNetwork = errors.New("network failure")
	// ErrUnknownSymbol means the exchange does not list the symbol.
	ErrUnknownSymbol = errors.New("symbol not listed on exchange")
	// ErrRuleViolation means an order would break lot size or min notional.
	// Fatal for that order; reported, never retried.
	ErrRuleViolation = errors.New("exchange rule violation")
	// ErrImbalanceTimeout means the validation loop exhausted its retry
	// budget with the position still imbalanced.
	ErrImbalanceTimeout = errors.New("position still imbalanced")
)

// APIError is a structured Binance error payload ({"code":-1021,"msg":...}).
type APIError struct {
	Code       int
	Msg        string
	HTTPStatus int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance api error %d (http %d): %s", e.Code, e.HTTPStatus, e.Msg)
}

// Unwrap maps exchange error codes onto the taxonomy sentinels.
func (e *APIError) Unwrap() error {
	switch e.Code {
	case -1021:
		return ErrClockSkew
	case -1022, -2014, -2015:
		return ErrAuth
	case -1121:
		return ErrUnknownSymbol
	case -1013, -4164:
		return ErrRuleViolation
	}
	return nil
}
