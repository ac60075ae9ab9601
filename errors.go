package gapi

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Code classifies a job error.
type Code string

const (
	CodeUnknown         Code = "unknown"
	CodeNetwork         Code = "network"
	CodeInvalidAccount  Code = "invalid_account"
	CodeInvalidResponse Code = "invalid_response"
	CodeAuthCancelled   Code = "auth_cancelled"
	CodeCancelled       Code = "cancelled"
	CodeBackendNotReady Code = "backend_not_ready"

	CodeBadRequest    Code = "bad_request"
	CodeUnauthorized  Code = "unauthorized"
	CodeForbidden     Code = "forbidden"
	CodeNotFound      Code = "not_found"
	CodeConflict      Code = "conflict"
	CodeGone          Code = "gone"
	CodeInternalError Code = "internal_error"
	CodeQuotaExceeded Code = "quota_exceeded"
)

// Error is a structured error with code, message, and optional hint.
// Jobs never panic; every failure surfaces as an *Error on the job result.
type Error struct {
	Code       Code
	Message    string
	Hint       string
	HTTPStatus int
	Retryable  bool
	Cause      error
}

func (e *Error) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Hint)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Error constructors for common cases.

func ErrNetwork(cause error) *Error {
	return &Error{
		Code:      CodeNetwork,
		Message:   "Network error",
		Hint:      cause.Error(),
		Retryable: true,
		Cause:     cause,
	}
}

func ErrInvalidAccount(msg string) *Error {
	return &Error{Code: CodeInvalidAccount, Message: msg}
}

func ErrInvalidResponse(msg string) *Error {
	return &Error{Code: CodeInvalidResponse, Message: msg}
}

func ErrQuotaExceeded(serverMsg string) *Error {
	return &Error{
		Code:       CodeQuotaExceeded,
		Message:    "Maximum quota exceeded. Try again later.",
		Hint:       serverMsg,
		HTTPStatus: http.StatusTooManyRequests,
	}
}

// errFromStatus builds the job error for a classified HTTP status.
// The server message, when parseable, lands in the hint.
func errFromStatus(status int, body []byte) *Error {
	msg := parseErrorMessage(body)
	switch status {
	case http.StatusBadRequest:
		return &Error{Code: CodeBadRequest, Message: "Bad request.", Hint: msg, HTTPStatus: status}
	case http.StatusUnauthorized:
		return &Error{Code: CodeUnauthorized, Message: "Invalid authentication.", Hint: msg, HTTPStatus: status}
	case http.StatusForbidden:
		return &Error{Code: CodeForbidden, Message: "Requested resource is forbidden.", Hint: msg, HTTPStatus: status}
	case http.StatusNotFound:
		return &Error{Code: CodeNotFound, Message: "Requested resource does not exist.", Hint: msg, HTTPStatus: status}
	case http.StatusConflict:
		return &Error{Code: CodeConflict, Message: "Conflict. Remote resource is newer than local.", Hint: msg, HTTPStatus: status}
	case http.StatusGone:
		return &Error{Code: CodeGone, Message: "Requested resource does not exist anymore.", Hint: msg, HTTPStatus: status}
	case http.StatusInternalServerError:
		return &Error{Code: CodeInternalError, Message: "Internal server error. Try again later.", Hint: msg, HTTPStatus: status, Retryable: true}
	default:
		return &Error{Code: CodeUnknown, Message: fmt.Sprintf("Unknown error (HTTP %d).", status), Hint: msg, HTTPStatus: status}
	}
}

// parseErrorMessage extracts a human-readable message from an API error body.
// Google wraps errors as {"error": {"message": "..."}}; fall back to the raw
// body when the structure doesn't match.
func parseErrorMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(body, &outer); err != nil {
		return string(body)
	}
	if inner, ok := outer["error"]; ok {
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(inner, &nested); err == nil {
			outer = nested
		}
	}
	if raw, ok := outer["message"]; ok {
		var msg string
		if err := json.Unmarshal(raw, &msg); err == nil {
			return msg
		}
	}
	return string(body)
}
