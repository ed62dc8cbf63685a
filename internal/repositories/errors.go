package repositories

import "fmt"

// Constraint names a uniqueness rule enforced by the order store.
type Constraint string

const (
	// ConstraintAuthorization guards one order per payment authorization.
	ConstraintAuthorization Constraint = "payment_authorization_id"
	// ConstraintOrderNumber guards globally unique order numbers.
	ConstraintOrderNumber Constraint = "order_number"
)

// ConstraintError reports an insert rejected by a uniqueness rule. It satisfies RepositoryError as a conflict.
type ConstraintError struct {
	Op         string
	Constraint Constraint
	Key        string
	Err        error
}

// Error implements the error interface.
func (e *ConstraintError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("duplicate %s %q", e.Constraint, e.Key)
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

// Unwrap exposes the underlying error, if any.
func (e *ConstraintError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *ConstraintError) IsNotFound() bool    { return false }
func (e *ConstraintError) IsConflict() bool    { return e != nil }
func (e *ConstraintError) IsUnavailable() bool { return false }

// NewConstraintError constructs a typed uniqueness violation.
func NewConstraintError(op string, constraint Constraint, key string, err error) *ConstraintError {
	return &ConstraintError{Op: op, Constraint: constraint, Key: key, Err: err}
}
