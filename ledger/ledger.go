/*
ledger.go - Account ledger and transaction log

PURPOSE:
  The Ledger service owns every change to a user's balance, deposit flag
  and last drink time, and the matching records in the transaction log.
  Each operation runs its reads, checks, writes and log append inside one
  Store.WithTx call, on rows locked for update, so two bartenders serving
  the same user or the same last bottle cannot both pass a check against a
  stale read.

OPERATIONS:
  TopUp      +amount to the balance, appends "TopUp"
  Charge     canBuy, then -price, stock -1, last drink, appends "Pay:<item>"
  Revert     undoes a TopUp or Pay exactly once, appends "Revert:<id>"
  SetDeposit one-way false -> true, no log record

REVERT:
  Reverting applies -balance_change to the original client. The result
  must not be negative, for top-ups as well as purchases: a top-up whose
  money was already spent cannot be reverted (WouldGoNegative). Reverting
  a purchase only ever credits, so in practice the check guards top-ups.
  Reverting an alcohol purchase clears LastDrink, since the previous drink
  time is not kept. A purchase whose item was deleted still restores the
  balance; one whose client was deleted still restores the stock.

  Original:  #7 Pay:Beer  -5   is_reverted=false
  After:     #7 Pay:Beer  -5   is_reverted=true
             #9 Revert:7  nil  (no client)

SEE ALSO:
  - eligibility.go: the rules Charge applies
  - inventory.go: DecrementOnPurchase, IncrementOnRevert
  - store.go: WithTx and the ForUpdate getters
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER SERVICE
// =============================================================================

// Ledger mutates balances and appends to the transaction log.
type Ledger struct {
	store Store
	opts  Options
	log   zerolog.Logger
}

// NewLedger creates the account ledger over store.
func NewLedger(store Store, opts Options) *Ledger {
	opts = opts.withDefaults()
	return &Ledger{
		store: store,
		opts:  opts,
		log:   opts.Logger.With().Str("component", "ledger").Logger(),
	}
}

// TopUp credits amount to the user's balance.
func (l *Ledger) TopUp(ctx context.Context, userID UserID, amount decimal.Decimal, operator string) (tx *Transaction, err error) {
	defer l.observe("top_up", time.Now(), &err)

	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	now := l.opts.Now().UTC()
	err = l.store.WithTx(ctx, func(repos Repositories) error {
		user, err := repos.GetUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		user.Balance = user.Balance.Add(amount)
		if err := repos.UpdateUser(ctx, user); err != nil {
			return err
		}

		change := amount
		tx = &Transaction{
			Date:          now,
			Operator:      operator,
			Kind:          KindTopUp,
			Type:          TopUpType(),
			ClientID:      &user.ID,
			BalanceChange: &change,
		}
		return repos.AppendTransaction(ctx, tx)
	})
	if err != nil {
		return nil, err
	}

	l.opts.Recorder.TransactionCommitted(KindTopUp)
	l.log.Info().
		Int64("tx_id", int64(tx.ID)).
		Int64("user_id", int64(userID)).
		Str("amount", amount.String()).
		Str("operator", operator).
		Msg("top-up committed")
	return tx, nil
}

// Charge sells one unit of the item to the user. The eligibility rules are
// evaluated on the locked rows; a refusal is returned as *DenialError and
// leaves every row untouched.
func (l *Ledger) Charge(ctx context.Context, userID UserID, itemID ItemID, operator string) (tx *Transaction, err error) {
	defer l.observe("charge", time.Now(), &err)

	now := l.opts.Now()
	err = l.store.WithTx(ctx, func(repos Repositories) error {
		user, err := repos.GetUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		var item *Item
		if itemID != 0 {
			if item, err = repos.GetItemForUpdate(ctx, itemID); err != nil {
				return err
			}
		}

		verdict, err := l.evaluate(ctx, repos, user, item, now)
		if err != nil {
			return err
		}
		if err := verdict.Err(userID, itemID); err != nil {
			return err
		}

		if err := DecrementOnPurchase(item); err != nil {
			return err
		}
		if err := repos.UpdateItem(ctx, item); err != nil {
			return err
		}

		user.Balance = user.Balance.Sub(item.Price)
		if item.IsAlcohol {
			drankAt := now.UTC()
			user.LastDrink = &drankAt
		}
		if err := repos.UpdateUser(ctx, user); err != nil {
			return err
		}

		change := item.Price.Neg()
		tx = &Transaction{
			Date:          now.UTC(),
			Operator:      operator,
			Kind:          KindPay,
			Type:          PayType(item.Name),
			ClientID:      &user.ID,
			ItemID:        &item.ID,
			BalanceChange: &change,
		}
		return repos.AppendTransaction(ctx, tx)
	})
	if err != nil {
		var denial *DenialError
		if errors.As(err, &denial) {
			l.opts.Recorder.PurchaseDenied(denial.Reason)
			l.log.Info().
				Int64("user_id", int64(userID)).
				Int64("item_id", int64(itemID)).
				Str("reason", string(denial.Reason)).
				Str("operator", operator).
				Msg("purchase denied")
		}
		return nil, err
	}

	l.opts.Recorder.TransactionCommitted(KindPay)
	l.log.Info().
		Int64("tx_id", int64(tx.ID)).
		Int64("user_id", int64(userID)).
		Int64("item_id", int64(itemID)).
		Str("change", tx.BalanceChange.String()).
		Str("operator", operator).
		Msg("purchase committed")
	return tx, nil
}

// Revert undoes a TopUp or Pay transaction and returns the Revert record.
func (l *Ledger) Revert(ctx context.Context, id TransactionID, operator string) (marker *Transaction, err error) {
	defer l.observe("revert", time.Now(), &err)

	now := l.opts.Now().UTC()
	err = l.store.WithTx(ctx, func(repos Repositories) error {
		orig, err := repos.GetTransactionForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !orig.Revertible() {
			return fmt.Errorf("transaction %d: %w", id, ErrAlreadyReverted)
		}

		// A deleted item leaves a dangling id; the balance is still restored.
		var item *Item
		if orig.ItemID != nil {
			item, err = repos.GetItemForUpdate(ctx, *orig.ItemID)
			if err != nil && !errors.Is(err, ErrItemNotFound) {
				return err
			}
		}

		// A deleted client has no balance left to restore; stock and the
		// log are still reverted.
		var user *User
		if orig.ClientID != nil && orig.BalanceChange != nil {
			user, err = repos.GetUserForUpdate(ctx, *orig.ClientID)
			if errors.Is(err, ErrUserNotFound) {
				user = nil
			} else if err != nil {
				return err
			}
		}

		if user != nil {
			restored := user.Balance.Sub(*orig.BalanceChange)
			if restored.IsNegative() {
				return &NegativeBalanceError{
					TransactionID: id,
					Balance:       user.Balance.String(),
					Change:        orig.BalanceChange.String(),
				}
			}
			user.Balance = restored
			if orig.Kind == KindPay && item != nil && item.IsAlcohol {
				user.LastDrink = nil
			}
			if err := repos.UpdateUser(ctx, user); err != nil {
				return err
			}
		}

		if item != nil && orig.Kind == KindPay {
			IncrementOnRevert(item)
			if err := repos.UpdateItem(ctx, item); err != nil {
				return err
			}
		}

		if err := repos.MarkReverted(ctx, id); err != nil {
			return err
		}

		revertedID := id
		marker = &Transaction{
			Date:       now,
			Operator:   operator,
			Kind:       KindRevert,
			Type:       RevertType(id),
			RevertedID: &revertedID,
		}
		return repos.AppendTransaction(ctx, marker)
	})
	if err != nil {
		return nil, err
	}

	l.opts.Recorder.TransactionCommitted(KindRevert)
	l.log.Info().
		Int64("tx_id", int64(marker.ID)).
		Int64("reverted_id", int64(id)).
		Str("operator", operator).
		Msg("revert committed")
	return marker, nil
}

// SetDeposit records that the user has given the deposit. It reports false,
// with a warning in the log, when the deposit was already given.
func (l *Ledger) SetDeposit(ctx context.Context, userID UserID, operator string) (changed bool, err error) {
	defer l.observe("set_deposit", time.Now(), &err)

	err = l.store.WithTx(ctx, func(repos Repositories) error {
		user, err := repos.GetUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if user.Deposit {
			return nil
		}
		user.Deposit = true
		changed = true
		return repos.UpdateUser(ctx, user)
	})
	if err != nil {
		return false, err
	}

	event := l.log.Info()
	msg := "deposit recorded"
	if !changed {
		event = l.log.Warn()
		msg = "deposit already given"
	}
	event.Int64("user_id", int64(userID)).Str("operator", operator).Msg(msg)
	return changed, nil
}

// CanBuy evaluates the purchase rules without changing anything.
// An itemID of 0 means no item was selected.
func (l *Ledger) CanBuy(ctx context.Context, userID UserID, itemID ItemID) (Verdict, error) {
	user, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return Verdict{}, err
	}
	var item *Item
	if itemID != 0 {
		if item, err = l.store.GetItem(ctx, itemID); err != nil {
			return Verdict{}, err
		}
	}
	return l.evaluate(ctx, l.store, user, item, l.opts.Now())
}

func (l *Ledger) evaluate(ctx context.Context, repos Repositories, user *User, item *Item, now time.Time) (Verdict, error) {
	in := EligibilityInput{
		User:     user,
		Item:     item,
		Now:      now,
		Location: l.opts.Location,
	}
	// Settings and history only matter for alcohol.
	if item != nil && item.IsAlcohol {
		policy, err := loadPolicy(ctx, repos)
		if err != nil {
			return Verdict{}, err
		}
		in.Policy = policy
		since := ServiceDayStart(now, l.opts.Location)
		if in.DrinksToday, err = repos.CountAlcoholPurchases(ctx, user.ID, since); err != nil {
			return Verdict{}, err
		}
	}
	return Evaluate(in), nil
}

// =============================================================================
// TRANSACTION LOG QUERIES
// =============================================================================

// GetTransaction returns one log record.
func (l *Ledger) GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error) {
	return l.store.GetTransaction(ctx, id)
}

// ListTransactions returns log records matching filter.
func (l *Ledger) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	return l.store.ListTransactions(ctx, filter)
}

// ListTransactionsForUser returns the user's records matching filter. The
// result is a finite slice; calling again restarts from the store.
func (l *Ledger) ListTransactionsForUser(ctx context.Context, userID UserID, filter TransactionFilter) ([]Transaction, error) {
	if _, err := l.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	filter.ClientID = &userID
	return l.store.ListTransactions(ctx, filter)
}

// DrinksToday counts the user's non-reverted alcoholic purchases in the
// current service day.
func (l *Ledger) DrinksToday(ctx context.Context, userID UserID) (int, error) {
	since := ServiceDayStart(l.opts.Now(), l.opts.Location)
	return l.store.CountAlcoholPurchases(ctx, userID, since)
}

func (l *Ledger) observe(op string, start time.Time, err *error) {
	l.opts.Recorder.ObserveOperation(op, *err, time.Since(start))
}
