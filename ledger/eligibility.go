/*
eligibility.go - May this user buy this item right now?

PURPOSE:
  Evaluate is the single decision point for purchases. It is a pure
  function of its input: the user, the item, the two eligibility settings,
  the current time and the number of alcoholic drinks the user already had
  this service day. Nothing is cached; every purchase attempt evaluates
  afresh against rows read in the same database transaction.

EVALUATION ORDER (first failing check wins):
  1. no item                                     -> NoItemSelected
  2. deposit not given                           -> DepositRequired
  3. quantifiable item with quantity <= 0        -> OutOfStock
  4. alcohol and age < MINIMUM_LEGAL_AGE         -> Underage
  5. alcohol and drinks today >= daily maximum   -> DailyLimitReached
     (a maximum of 0 means unlimited)
  6. balance < price                             -> InsufficientFunds
  7. otherwise                                   -> approved

  The order decides which message the bartender sees, so it is part of the
  contract. An item that is both out of stock and too expensive is reported
  as OutOfStock.

SEE ALSO:
  - time.go: ServiceDayStart, AgeOn
  - ledger.go: Charge evaluates inside its transaction
*/
package ledger

import (
	"time"
)

// =============================================================================
// DENIAL REASONS
// =============================================================================

type DenialReason string

const (
	DenialNoItemSelected    DenialReason = "no_item_selected"
	DenialDepositRequired   DenialReason = "deposit_required"
	DenialOutOfStock        DenialReason = "out_of_stock"
	DenialUnderage          DenialReason = "underage"
	DenialDailyLimitReached DenialReason = "daily_limit_reached"
	DenialInsufficientFunds DenialReason = "insufficient_funds"
)

// AllDenialReasons lists the reasons in evaluation order.
var AllDenialReasons = []DenialReason{
	DenialNoItemSelected,
	DenialDepositRequired,
	DenialOutOfStock,
	DenialUnderage,
	DenialDailyLimitReached,
	DenialInsufficientFunds,
}

// Message is the text shown to the operator.
func (r DenialReason) Message() string {
	switch r {
	case DenialNoItemSelected:
		return "No item selected."
	case DenialDepositRequired:
		return "Deposit not yet given."
	case DenialOutOfStock:
		return "Item out of stock."
	case DenialUnderage:
		return "User is too young to buy alcohol."
	case DenialDailyLimitReached:
		return "Daily alcoholic drink limit reached."
	case DenialInsufficientFunds:
		return "Insufficient funds."
	default:
		return string(r)
	}
}

// =============================================================================
// EVALUATION
// =============================================================================

// EligibilityPolicy holds the settings the rules read.
type EligibilityPolicy struct {
	MinimumLegalAge   int
	MaxDailyAlcoholic int // 0 = unlimited
}

// EligibilityInput is everything Evaluate looks at.
type EligibilityInput struct {
	User        *User
	Item        *Item // nil = nothing selected
	Policy      EligibilityPolicy
	Now         time.Time
	Location    *time.Location // the bar's local zone, for age and service day
	DrinksToday int            // non-reverted alcohol purchases since ServiceDayStart
}

// Verdict is the outcome of Evaluate. Reason is empty when Approved.
type Verdict struct {
	Approved bool
	Reason   DenialReason
}

func approve() Verdict                 { return Verdict{Approved: true} }
func deny(reason DenialReason) Verdict { return Verdict{Reason: reason} }

// Evaluate applies the purchase rules in order.
func Evaluate(in EligibilityInput) Verdict {
	user, item := in.User, in.Item

	if item == nil {
		return deny(DenialNoItemSelected)
	}
	if !user.Deposit {
		return deny(DenialDepositRequired)
	}
	if !item.InStock() {
		return deny(DenialOutOfStock)
	}
	if item.IsAlcohol {
		loc := in.Location
		if loc == nil {
			loc = time.Local
		}
		if AgeOn(user.Birthdate, in.Now.In(loc)) < in.Policy.MinimumLegalAge {
			return deny(DenialUnderage)
		}
		if limit := in.Policy.MaxDailyAlcoholic; limit > 0 && in.DrinksToday >= limit {
			return deny(DenialDailyLimitReached)
		}
	}
	if user.Balance.LessThan(item.Price) {
		return deny(DenialInsufficientFunds)
	}
	return approve()
}

// Err converts a denial into a *DenialError, or nil when approved.
func (v Verdict) Err(userID UserID, itemID ItemID) error {
	if v.Approved {
		return nil
	}
	return &DenialError{Reason: v.Reason, UserID: userID, ItemID: itemID}
}
