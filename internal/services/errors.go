package services

import (
	"errors"
	"fmt"
)

// ErrorKind classifies dispatch failures by who is at fault and how far they
// propagate.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindCredential ErrorKind = "credential"
	KindRegistry   ErrorKind = "registry"
	KindDelivery   ErrorKind = "delivery"
	KindUnknown    ErrorKind = "unknown"
)

// ErrAllDeliveriesFailed is returned alongside the aggregate result when no
// recipient could be reached.
var ErrAllDeliveriesFailed = errors.New("every delivery failed")

// Error is a classified dispatch failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func validationError(err error) error {
	return &Error{Kind: KindValidation, Op: "validate", Err: err}
}

func credentialError(err error) error {
	return &Error{Kind: KindCredential, Op: "authorize", Err: err}
}

func registryError(err error) error {
	return &Error{Kind: KindRegistry, Op: "resolve recipients", Err: err}
}

func deliveryError(err error) error {
	return &Error{Kind: KindDelivery, Op: "send", Err: err}
}
