// Package errors provides error kinds, sentinels and retry helpers for the
// audit engine.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// Sentinel errors shared across the engine, the worker and the stores.
var (
	// ErrJobDeleted signals the crawl record disappeared while the job ran.
	// Callers treat it as a clean stop, never as a failure.
	ErrJobDeleted = errors.New("crawl job was deleted")
	// ErrJobNotFound is a fatal setup error: the crawl could not be loaded.
	ErrJobNotFound = errors.New("crawl job not found")
	// ErrNoPagesCrawled marks a crawl that stopped without a single page.
	ErrNoPagesCrawled = errors.New("No pages could be crawled")
	// ErrRuntimeExceeded is the cancel cause when max_runtime_seconds elapses.
	ErrRuntimeExceeded = errors.New("maximum crawl runtime exceeded")
	// ErrBudgetExhausted is returned once max_pages have been crawled.
	ErrBudgetExhausted = errors.New("page budget exhausted")
	// ErrStopped is the cancel cause for an explicit stop request.
	ErrStopped = errors.New("crawl stopped")
)

// Re-exported so callers can import a single errors package.
var (
	Is     = errors.Is
	As     = errors.As
	New    = errors.New
	Join   = errors.Join
	Unwrap = errors.Unwrap
)

// Kind categorizes errors for handling decisions.
type Kind int

const (
	// Unknown is an uncategorized error.
	Unknown Kind = iota
	// Network covers DNS and connection failures.
	Network
	// Timeout represents timeouts.
	Timeout
	// RateLimit represents 429 responses.
	RateLimit
	// NotFound represents 404 responses.
	NotFound
	// ServerError represents 5xx responses.
	ServerError
	// ClientError represents 4xx responses other than 404 and 429.
	ClientError
	// Parse represents extraction failures.
	Parse
	// Render represents headless browser failures.
	Render
	// Storage represents persistence failures.
	Storage
	// Policy represents a policy boundary (blacklist, budget, depth).
	Policy
	// Cancelled represents context cancellation.
	Cancelled
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case Network:
		return "network"
	case Timeout:
		return "timeout"
	case RateLimit:
		return "rate_limit"
	case NotFound:
		return "not_found"
	case ServerError:
		return "server_error"
	case ClientError:
		return "client_error"
	case Parse:
		return "parse"
	case Render:
		return "render"
	case Storage:
		return "storage"
	case Policy:
		return "policy"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsRetryable returns whether errors of this kind are worth another attempt.
func (k Kind) IsRetryable() bool {
	switch k {
	case Network, Timeout, RateLimit, ServerError:
		return true
	default:
		return false
	}
}

// AuditError is a categorized error raised while auditing a URL.
type AuditError struct {
	Kind       Kind
	URL        string
	Operation  string
	Message    string
	Cause      error
	StatusCode int
}

// Error implements the error interface.
func (e *AuditError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error during %s on %s: %s: %v",
			e.Kind, e.Operation, e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error during %s on %s: %s",
		e.Kind, e.Operation, e.URL, e.Message)
}

// Unwrap returns the underlying error.
func (e *AuditError) Unwrap() error {
	return e.Cause
}

// Is matches another *AuditError of the same kind.
func (e *AuditError) Is(target error) bool {
	t, ok := target.(*AuditError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewAuditError creates a new AuditError.
func NewAuditError(kind Kind, url, operation, message string, cause error) *AuditError {
	return &AuditError{
		Kind:      kind,
		URL:       url,
		Operation: operation,
		Message:   message,
		Cause:     cause,
	}
}

// NewNetworkError creates a network error.
func NewNetworkError(url, operation string, cause error) *AuditError {
	return NewAuditError(Network, url, operation, "network failure", cause)
}

// NewTimeoutError creates a timeout error.
func NewTimeoutError(url, operation string, cause error) *AuditError {
	return NewAuditError(Timeout, url, operation, "request timed out", cause)
}

// NewHTTPStatusError creates an error for a non-success HTTP status.
func NewHTTPStatusError(kind Kind, url string, statusCode int) *AuditError {
	err := NewAuditError(kind, url, "request", fmt.Sprintf("server returned %d", statusCode), nil)
	err.StatusCode = statusCode
	return err
}

// NewParseError creates a parse error.
func NewParseError(url, operation string, cause error) *AuditError {
	return NewAuditError(Parse, url, operation, "parsing failed", cause)
}

// NewRenderError creates a headless render error.
func NewRenderError(url string, cause error) *AuditError {
	return NewAuditError(Render, url, "render", "render failed", cause)
}

// NewStorageError wraps a persistence failure.
func NewStorageError(operation string, cause error) *AuditError {
	return NewAuditError(Storage, "", operation, "store write failed", cause)
}

// NewPolicyError describes a URL refused by a crawl policy.
func NewPolicyError(url, reason string) *AuditError {
	return NewAuditError(Policy, url, "policy", reason, nil)
}

// NewCancelledError creates a cancelled error.
func NewCancelledError(url, operation string) *AuditError {
	return NewAuditError(Cancelled, url, operation, "operation cancelled", nil)
}

// Categorize determines the error kind from a generic error.
func Categorize(err error, url string) *AuditError {
	if err == nil {
		return nil
	}

	var auditErr *AuditError
	if errors.As(err, &auditErr) {
		return auditErr
	}

	if errors.Is(err, context.Canceled) {
		return NewCancelledError(url, "request")
	}

	if isTimeout(err) {
		return NewTimeoutError(url, "request", err)
	}

	if isNetworkError(err) {
		return NewNetworkError(url, "request", err)
	}

	return NewAuditError(Unknown, url, "request", err.Error(), err)
}

// CategorizeHTTPStatus maps a status code to an error, or nil below 400.
func CategorizeHTTPStatus(statusCode int, url string) *AuditError {
	switch {
	case statusCode == 404:
		return NewHTTPStatusError(NotFound, url, statusCode)
	case statusCode == 429:
		return NewHTTPStatusError(RateLimit, url, statusCode)
	case statusCode >= 500:
		return NewHTTPStatusError(ServerError, url, statusCode)
	case statusCode >= 400:
		return NewHTTPStatusError(ClientError, url, statusCode)
	default:
		return nil
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded")
}

func isNetworkError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "dial tcp")
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var auditErr *AuditError
	if errors.As(err, &auditErr) {
		return auditErr.Kind.IsRetryable()
	}

	return isTimeout(err) || isNetworkError(err)
}

// IsDeleted reports whether err means the crawl record is gone.
func IsDeleted(err error) bool {
	return errors.Is(err, ErrJobDeleted)
}

// KindOf extracts the kind from an error.
func KindOf(err error) Kind {
	var auditErr *AuditError
	if errors.As(err, &auditErr) {
		return auditErr.Kind
	}
	return Unknown
}

// StatusCode extracts the HTTP status code from an error.
func StatusCode(err error) int {
	var auditErr *AuditError
	if errors.As(err, &auditErr) {
		return auditErr.StatusCode
	}
	return 0
}

// Truncate shortens an error message to at most n bytes for storage.
func Truncate(msg string, n int) string {
	if len(msg) <= n {
		return msg
	}
	return msg[:n]
}
