// Package errors provides the operation-error wrapper used across the
// core's components to attach component/resource context to a cause, plus
// a retry-classification taxonomy (§7 of the spec: transient, permanent,
// business, integrity).
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Kind classifies an error for the dispatcher and agents so they can branch
// on behavior without string matching.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransient
	KindPermanent
	KindBusiness
	KindIntegrity
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindBusiness:
		return "business"
	case KindIntegrity:
		return "integrity"
	default:
		return "unknown"
	}
}

// OperationError carries the operation being attempted, the component and
// resource it touched, and the underlying cause.
type OperationError struct {
	Operation string
	Component string
	Resource  string
	Cause     error
	Kind      Kind
}

func (e *OperationError) Error() string {
	var b strings.Builder
	b.WriteString("failed to ")
	b.WriteString(e.Operation)
	if e.Component != "" {
		b.WriteString(", component: ")
		b.WriteString(e.Component)
	}
	if e.Resource != "" {
		b.WriteString(", resource: ")
		b.WriteString(e.Resource)
	}
	if e.Cause != nil {
		b.WriteString(", cause: ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *OperationError) Unwrap() error {
	return e.Cause
}

// FailedTo builds the simplest OperationError: an action and its cause.
func FailedTo(action string, cause error) error {
	if cause == nil {
		return &OperationError{Operation: action}
	}
	return &OperationError{Operation: action, Cause: cause}
}

// FailedToWithDetails builds an OperationError with component/resource
// context. Its Kind is left as KindUnknown.
func FailedToWithDetails(action, component, resource string, cause error) error {
	return &OperationError{Operation: action, Component: component, Resource: resource, Cause: cause}
}

// Wrapf wraps err with a formatted message prefix, using ": " as the Go
// convention joiner. Returns nil if err is nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", msg, err)
}

func DatabaseError(operation string, cause error) error {
	return &OperationError{Operation: operation, Component: "database", Cause: cause, Kind: KindTransient}
}

// pqCode extracts a Postgres SQLSTATE from cause, supporting both lib/pq
// (*pq.Error, used by goose's driver registration) and pgx/v5
// (*pgconn.PgError, used for application queries) without importing either
// package directly, since both expose a Code/SQLState-shaped method via the
// same informal interface.
func pqCode(cause error) (string, bool) {
	var withCode interface{ SQLState() string }
	if stderrors.As(cause, &withCode) {
		return withCode.SQLState(), true
	}
	var withStringCode interface{ Code() string }
	if stderrors.As(cause, &withStringCode) {
		return withStringCode.Code(), true
	}
	return "", false
}

// IsUniqueViolation reports whether cause is a Postgres unique_violation
// (SQLSTATE 23505) — the generic-DB-error-vs-duplicate-delivery distinction
// §7 requires callers to make before treating a write failure as retryable.
func IsUniqueViolation(cause error) bool {
	code, ok := pqCode(cause)
	return ok && code == "23505"
}

// ConstraintViolationError classifies a unique/foreign-key constraint
// failure as KindIntegrity rather than the generic KindTransient DatabaseError
// gets, so callers can branch on "this write collided with existing state"
// instead of retrying it like a dropped connection.
func ConstraintViolationError(operation, constraint string, cause error) error {
	return &OperationError{Operation: operation, Component: "database", Resource: constraint, Cause: cause, Kind: KindIntegrity}
}

func NetworkError(operation, endpoint string, cause error) error {
	return &OperationError{Operation: operation, Component: "network", Resource: endpoint, Cause: cause, Kind: KindTransient}
}

func ValidationError(field, reason string) error {
	return fmt.Errorf("validation failed for field %s: %s", field, reason)
}

func ConfigurationError(setting, reason string) error {
	return fmt.Errorf("configuration error for setting %s: %s", setting, reason)
}

func TimeoutError(operation, after string) error {
	return &OperationError{Operation: fmt.Sprintf("timeout while %s after %s", operation, after), Kind: KindTransient}
}

func AuthenticationError(reason string) error {
	return fmt.Errorf("authentication failed: %s", reason)
}

func AuthorizationError(action, resource string) error {
	return fmt.Errorf("authorization failed: insufficient permissions to %s %s", action, resource)
}

func ParseError(what, format string, cause error) error {
	return &OperationError{Operation: fmt.Sprintf("parse %s as %s", what, format), Kind: KindPermanent, Cause: cause}
}

// IsRetryable is a last-resort heuristic for errors that didn't come through
// an OperationError with an explicit Kind (e.g. from a vendored driver).
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var opErr *OperationError
	if stderrors.As(err, &opErr) {
		return opErr.Kind == KindTransient
	}
	msg := strings.ToLower(err.Error())
	for _, sub := range []string{"timeout", "connection refused", "connection reset", "unavailable", "too many requests"} {
		if strings.Contains(msg, sub) {
			return true
		}
	}
	return false
}

// Chain joins non-nil errors into one, or returns nil if none are set.
func Chain(errs ...error) error {
	var msgs []string
	for _, e := range errs {
		if e != nil {
			msgs = append(msgs, e.Error())
		}
	}
	switch len(msgs) {
	case 0:
		return nil
	case 1:
		return fmt.Errorf("%s", msgs[0])
	default:
		return fmt.Errorf("multiple errors: %s", strings.Join(msgs, "; "))
	}
}

// ClassOf extracts the Kind of an error, defaulting to KindUnknown.
func ClassOf(err error) Kind {
	var opErr *OperationError
	if stderrors.As(err, &opErr) {
		return opErr.Kind
	}
	return KindUnknown
}
