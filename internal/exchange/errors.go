package exchange

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by ingestion, execution and the stake controller.
var (
	ErrConnection = errors.New("connection error")
	ErrAuth       = errors.New("auth error")
	ErrRateLimit  = errors.New("rate limit error")
	ErrData       = errors.New("data error")
	ErrTrade      = errors.New("trade error")
)

// APIError is an error object returned by the broker inside a response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	kind    error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the taxonomy sentinel so errors.Is works on broker errors.
func (e *APIError) Unwrap() error { return e.kind }

// classify attaches a sentinel to a broker error; fallback applies to codes with no fixed class.
func classify(apiErr *APIError, fallback error) *APIError {
	switch apiErr.Code {
	case "InvalidToken", "AuthorizationRequired", "InvalidAppID", "PermissionDenied":
		apiErr.kind = ErrAuth
	case "RateLimit", "TooManyRequests":
		apiErr.kind = ErrRateLimit
	case "InvalidSymbol", "MarketIsClosed", "InputValidationFailed", "UnrecognisedRequest":
		if fallback == ErrTrade {
			apiErr.kind = ErrTrade
		} else {
			apiErr.kind = ErrData
		}
	default:
		apiErr.kind = fallback
	}
	return apiErr
}
