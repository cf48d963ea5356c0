/*
errors.go - Error taxonomy of the bar ledger

PURPOSE:
  Every failure a ledger operation can report, in one place. Callers match
  on the five category sentinels with errors.Is; the specific errors below
  unwrap to exactly one category.

ERROR CATEGORIES:
  1. ErrValidation       - bad input (negative price, non-positive amount, duplicate name)
  2. ErrNotFound         - missing user, item, transaction or setting
  3. ErrDenied           - a purchase refused by the eligibility rules (*DenialError)
  4. ErrConflict         - the current state forbids the change (already reverted, ...)
  5. ErrPermissionDenied - the operator's role lacks the capability

  A denial is a policy decision, not a fault. It is returned as a value
  (*DenialError) so the caller can show the reason to the bartender.

USAGE:
  if _, err := svc.Charge(ctx, uid, iid, "bob"); err != nil {
      var denial *ledger.DenialError
      if errors.As(err, &denial) {
          // show denial.Reason.Message()
      }
  }

SEE ALSO:
  - eligibility.go: DenialReason values
  - api/errors.go: HTTP status mapping
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// CATEGORY SENTINELS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation       = errors.New("validation error")
	ErrNotFound         = errors.New("not found")
	ErrDenied           = errors.New("purchase denied")
	ErrConflict         = errors.New("conflict")
	ErrPermissionDenied = errors.New("permission denied")
)

// =============================================================================
// SPECIFIC ERRORS
// =============================================================================

// ledgerError is a named failure belonging to one category.
type ledgerError struct {
	msg      string
	category error
}

func (e *ledgerError) Error() string { return e.msg }
func (e *ledgerError) Unwrap() error { return e.category }

var (
	ErrInvalidPrice   error = &ledgerError{"price must not be negative", ErrValidation}
	ErrInvalidAmount  error = &ledgerError{"amount must be positive", ErrValidation}
	ErrDuplicateName  error = &ledgerError{"name already taken", ErrValidation}
	ErrInvalidSetting error = &ledgerError{"setting value must not be negative", ErrValidation}

	ErrUserNotFound        error = &ledgerError{"user not found", ErrNotFound}
	ErrItemNotFound        error = &ledgerError{"item not found", ErrNotFound}
	ErrTransactionNotFound error = &ledgerError{"transaction not found", ErrNotFound}
	ErrSettingNotFound     error = &ledgerError{"setting not found", ErrNotFound}

	ErrAlreadyReverted error = &ledgerError{"transaction already reverted", ErrConflict}
	ErrWouldGoNegative error = &ledgerError{"revert would make the balance negative", ErrConflict}
	ErrOutOfStock      error = &ledgerError{"item out of stock", ErrConflict}
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// DenialError is a purchase refused by the eligibility rules.
type DenialError struct {
	Reason DenialReason
	UserID UserID
	ItemID ItemID
}

func (e *DenialError) Error() string {
	return fmt.Sprintf("purchase denied: %s", e.Reason)
}

func (e *DenialError) Unwrap() error { return ErrDenied }

// Is lets an out-of-stock denial match ErrOutOfStock as well.
func (e *DenialError) Is(target error) bool {
	return target == ErrOutOfStock && e.Reason == DenialOutOfStock
}

// NegativeBalanceError details a refused revert.
type NegativeBalanceError struct {
	TransactionID TransactionID
	Balance       string
	Change        string
}

func (e *NegativeBalanceError) Error() string {
	return fmt.Sprintf("reverting transaction %d would make balance %s go negative (change %s)",
		e.TransactionID, e.Balance, e.Change)
}

func (e *NegativeBalanceError) Unwrap() error { return ErrWouldGoNegative }

// PermissionError names the capability a role lacked.
type PermissionError struct {
	Role       Role
	Capability Capability
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: %s cannot %s", e.Role, e.Capability)
}

func (e *PermissionError) Unwrap() error { return ErrPermissionDenied }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDenied returns true if the eligibility rules refused a purchase.
func IsDenied(err error) bool {
	return errors.Is(err, ErrDenied)
}

// IsClientError returns true if the error is due to the request rather than the system.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrDenied) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrPermissionDenied)
}
