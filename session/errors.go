package session

import "fmt"

// ConfigurationError marks an operator mistake: a missing organization role
// or no usable root identity. It is the only error that aborts a whole run.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// RoleAssumptionError is returned when one account's role cannot be assumed.
// It is fatal to that account only; the batch carries on without it.
type RoleAssumptionError struct {
	RoleName  string
	AccountID string
	Err       error
}

func (e *RoleAssumptionError) Error() string {
	return fmt.Sprintf("assume role %s in account %s: %v", e.RoleName, e.AccountID, e.Err)
}

func (e *RoleAssumptionError) Unwrap() error {
	return e.Err
}
