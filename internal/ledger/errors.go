package ledger

import "fmt"

// ValidationError rejects a mutation before anything reaches storage.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// OverAllocationError is a policy warning, not a hard failure: the caller
// may retry the same operation with Confirm set and the ledger will then
// accept a negative available balance as a visible warning state.
type OverAllocationError struct {
	Available float64
	Requested float64
}

func (e *OverAllocationError) Error() string {
	return fmt.Sprintf("requested %.2f exceeds available balance %.2f", e.Requested, e.Available)
}
