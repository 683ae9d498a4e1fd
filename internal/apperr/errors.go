// Package apperr defines the error taxonomy shared by the router, the prompt
// builder and the provider adapters, and how each kind maps onto HTTP.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for status mapping.
type Kind string

const (
	KindInvalidConversation Kind = "invalid_conversation"
	KindCredential          Kind = "credential"
	KindNoProvider          Kind = "no_provider"
	KindProvider            Kind = "provider"
	KindTimeout             Kind = "timeout"
)

// StatusClientClosedRequest is reported when the caller went away mid-request.
const StatusClientClosedRequest = 499

// Error is the only error shape that crosses the adapter boundary.
type Error struct {
	Kind     Kind
	Code     int
	Provider string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	prefix := "llm"
	if e.Provider != "" {
		prefix = "llm " + e.Provider
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// InvalidConversation reports an empty or malformed conversation.
func InvalidConversation(msg string) *Error {
	return &Error{Kind: KindInvalidConversation, Code: http.StatusBadRequest, Message: msg}
}

// Credential reports a missing, malformed or undecryptable credential.
func Credential(msg string, err error) *Error {
	return &Error{Kind: KindCredential, Code: http.StatusUnauthorized, Message: msg, Err: err}
}

// NoProviderConfigured reports that no backend could be selected.
func NoProviderConfigured() *Error {
	return &Error{
		Kind:    KindNoProvider,
		Code:    http.StatusBadRequest,
		Message: "No LLM provider selected. Choose a provider or set a default on the LLM page",
	}
}

// Provider reports a backend rejection or unusable payload. A zero code maps to 500.
func Provider(provider string, code int, msg string, err error) *Error {
	if code < 400 {
		code = http.StatusInternalServerError
	}
	return &Error{Kind: KindProvider, Code: code, Provider: provider, Message: msg, Err: err}
}

// NoContent reports a backend that answered without any text.
func NoContent(provider string) *Error {
	return Provider(provider, http.StatusInternalServerError, "no content returned", nil)
}

// Timeout reports an adapter that exceeded its deadline.
func Timeout(provider string, err error) *Error {
	return &Error{Kind: KindTimeout, Code: http.StatusGatewayTimeout, Provider: provider, Message: "request to the model timed out", Err: err}
}

// FromContext translates a context error into the taxonomy. It returns nil
// when err is not a context error.
func FromContext(provider string, err error) *Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout(provider, err)
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindProvider, Code: StatusClientClosedRequest, Provider: provider, Message: "request canceled", Err: err}
	default:
		return nil
	}
}

// As extracts an *Error from err.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HTTPStatus maps any error onto the status returned to callers.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if e, ok := As(err); ok && e.Code > 0 {
		return e.Code
	}
	if ctxErr := FromContext("", err); ctxErr != nil {
		return ctxErr.Code
	}
	return http.StatusInternalServerError
}

// PublicMessage returns the short message safe to place in a response body.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return Sanitize(e.Message)
	}
	if ctxErr := FromContext("", err); ctxErr != nil {
		return ctxErr.Message
	}
	return "internal server error"
}
