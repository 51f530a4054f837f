package domain

import (
	"errors"
	"fmt"
)

// Kind enumerates business-rule failures. Infrastructure failures carry no kind.
type Kind string

const (
	KindNotFound              Kind = "not_found"
	KindInsufficientStock     Kind = "insufficient_stock"
	KindInvalidTransition     Kind = "invalid_transition"
	KindDeliveryNotBooked     Kind = "delivery_not_booked"
	KindNoBranchAssigned      Kind = "no_branch_assigned"
	KindNoBranchAvailable     Kind = "no_branch_available"
	KindOrderNotEditable      Kind = "order_not_editable"
	KindDeliveryAlreadyBooked Kind = "delivery_already_booked"
	KindForbidden             Kind = "forbidden"
	KindRetryLimitExceeded    Kind = "retry_limit_exceeded"
	KindInvalidInput          Kind = "invalid_input"
)

// Error wraps a business-rule failure with the context needed to explain it.
type Error struct {
	Op      string
	Kind    Kind
	Message string
	Err     error

	// InsufficientStock
	VariantID string
	BranchID  string
	Requested int
	Available int

	// InvalidTransition
	From Status
	To   Status
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

// Unwrap exposes the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error of the same kind, so the package sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrInsufficientStock     = &Error{Kind: KindInsufficientStock}
	ErrInvalidTransition     = &Error{Kind: KindInvalidTransition}
	ErrDeliveryNotBooked     = &Error{Kind: KindDeliveryNotBooked}
	ErrNoBranchAssigned      = &Error{Kind: KindNoBranchAssigned}
	ErrNoBranchAvailable     = &Error{Kind: KindNoBranchAvailable}
	ErrOrderNotEditable      = &Error{Kind: KindOrderNotEditable}
	ErrDeliveryAlreadyBooked = &Error{Kind: KindDeliveryAlreadyBooked}
	ErrForbidden             = &Error{Kind: KindForbidden}
	ErrRetryLimitExceeded    = &Error{Kind: KindRetryLimitExceeded}
	ErrInvalidInput          = &Error{Kind: KindInvalidInput}
)

// KindOf returns the business kind of err, or "" for infrastructure failures.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

func NotFound(op, entity, id string) *Error {
	return &Error{Op: op, Kind: KindNotFound, Message: fmt.Sprintf("%s %s not found", entity, id)}
}

func InsufficientStock(op, variantID, branchID string, requested, available int) *Error {
	return &Error{
		Op:        op,
		Kind:      KindInsufficientStock,
		Message:   fmt.Sprintf("variant %s at branch %s: requested %d, available %d", variantID, branchID, requested, available),
		VariantID: variantID,
		BranchID:  branchID,
		Requested: requested,
		Available: available,
	}
}

func InvalidTransition(op string, from, to Status) *Error {
	return &Error{
		Op:      op,
		Kind:    KindInvalidTransition,
		Message: fmt.Sprintf("cannot move order from %s to %s", from, to),
		From:    from,
		To:      to,
	}
}

func NoBranchAvailable(op, variantID string, requested int) *Error {
	return &Error{
		Op:        op,
		Kind:      KindNoBranchAvailable,
		Message:   fmt.Sprintf("no branch can fulfil %d of variant %s", requested, variantID),
		VariantID: variantID,
		Requested: requested,
	}
}

func Forbidden(op, message string) *Error {
	return &Error{Op: op, Kind: KindForbidden, Message: message}
}

func InvalidInput(op, message string) *Error {
	return &Error{Op: op, Kind: KindInvalidInput, Message: message}
}

// New builds an error of the given kind with a free-form message.
func New(op string, kind Kind, message string) *Error {
	return &Error{Op: op, Kind: kind, Message: message}
}
