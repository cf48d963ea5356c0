package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/foyer/barledger/ledger"
	"github.com/foyer/barledger/ledger/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// Saturday evening, well inside a service day.
var evening = time.Date(2026, time.March, 14, 20, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fixture struct {
	store     *store.Memory
	clock     *clock
	ledger    *ledger.Ledger
	inventory *ledger.Inventory
	settings  *ledger.Settings
	accounts  *ledger.Accounts
	reports   *ledger.Reports
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, store.NewMemory())
}

func newFixtureWithStore(t *testing.T, s *store.Memory) *fixture {
	t.Helper()
	c := &clock{now: evening}
	opts := ledger.Options{Now: c.Now, Location: time.UTC, PasswordCost: bcrypt.MinCost}
	f := &fixture{
		store:     s,
		clock:     c,
		ledger:    ledger.NewLedger(s, opts),
		inventory: ledger.NewInventory(s, opts),
		settings:  ledger.NewSettings(s, opts),
		accounts:  ledger.NewAccounts(s, opts),
		reports:   ledger.NewReports(s, opts),
	}
	require.NoError(t, f.settings.Seed(context.Background(), map[string]int{
		ledger.SettingMinimumLegalAge:   18,
		ledger.SettingMaxDailyAlcoholic: 0,
		ledger.SettingQuickAccessItemID: 0,
	}))
	return f
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// customer creates an adult user with the deposit given and the given balance.
func (f *fixture) customer(t *testing.T, username string, balance string) *ledger.User {
	t.Helper()
	u := &ledger.User{
		Username:  username,
		Email:     username + "@bar.test",
		Birthdate: ledger.Date(2000, time.January, 1),
		Balance:   dec(balance),
		Deposit:   true,
	}
	require.NoError(t, f.store.CreateUser(context.Background(), u))
	return u
}

func (f *fixture) item(t *testing.T, name, price string, alcohol bool, quantity *int) *ledger.Item {
	t.Helper()
	in := ledger.NewItem{Name: name, Price: dec(price), IsAlcohol: alcohol}
	if quantity != nil {
		in.IsQuantifiable = true
		in.Quantity = *quantity
	}
	item, err := f.inventory.AddItem(context.Background(), in)
	require.NoError(t, err)
	return item
}

func (f *fixture) balance(t *testing.T, id ledger.UserID) decimal.Decimal {
	t.Helper()
	u, err := f.store.GetUser(context.Background(), id)
	require.NoError(t, err)
	return u.Balance
}

func (f *fixture) quantity(t *testing.T, id ledger.ItemID) int {
	t.Helper()
	item, err := f.store.GetItem(context.Background(), id)
	require.NoError(t, err)
	return item.Quantity
}

func (f *fixture) allTransactions(t *testing.T) []ledger.Transaction {
	t.Helper()
	txs, err := f.store.ListTransactions(context.Background(), ledger.TransactionFilter{})
	require.NoError(t, err)
	return txs
}

func qty(n int) *int { return &n }

// =============================================================================
// TOP-UP AND PURCHASE
// =============================================================================

func TestLedger_TopUpThenPurchaseThenRevert(t *testing.T) {
	// GIVEN: A customer with an empty balance and a 5.00 soft drink
	// WHEN: Topping up 20, buying the drink, then reverting the purchase
	// THEN: Balance goes 20 -> 15 -> 20, with TopUp(+20), Pay(-5) and Revert records

	f := newFixture(t)
	ctx := context.Background()
	u := f.customer(t, "alice", "0")
	cola := f.item(t, "Cola", "5", false, nil)

	topUp, err := f.ledger.TopUp(ctx, u.ID, dec("20"), "bob")
	require.NoError(t, err)
	assert.Equal(t, ledger.KindTopUp, topUp.Kind)
	assert.Equal(t, "TopUp", topUp.Type)
	assert.True(t, topUp.BalanceChange.Equal(dec("20")))
	assert.Nil(t, topUp.ItemID)

	pay, err := f.ledger.Charge(ctx, u.ID, cola.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, "Pay:Cola", pay.Type)
	assert.True(t, pay.BalanceChange.Equal(dec("-5")))
	require.NotNil(t, pay.ItemID)
	assert.Equal(t, cola.ID, *pay.ItemID)
	assert.True(t, f.balance(t, u.ID).Equal(dec("15")), "balance after purchase")

	txs := f.allTransactions(t)
	require.Len(t, txs, 2)
	assert.Equal(t, ledger.KindTopUp, txs[0].Kind)
	assert.Equal(t, ledger.KindPay, txs[1].Kind)

	marker, err := f.ledger.Revert(ctx, pay.ID, "bob")
	require.NoError(t, err)
	assert.True(t, f.balance(t, u.ID).Equal(dec("20")), "revert restores the balance")
	assert.Equal(t, "Revert:"+pay.ID.String(), marker.Type)
	assert.Nil(t, marker.ClientID, "revert markers carry no client")
	assert.Nil(t, marker.BalanceChange)
	require.NotNil(t, marker.RevertedID)
	assert.Equal(t, pay.ID, *marker.RevertedID)

	orig, err := f.ledger.GetTransaction(ctx, pay.ID)
	require.NoError(t, err)
	assert.True(t, orig.IsReverted)
}

func TestLedger_TopUp_RejectsNonPositiveAmount(t *testing.T) {
	f := newFixture(t)
	u := f.customer(t, "alice", "0")

	for _, amount := range []string{"0", "-5"} {
		_, err := f.ledger.TopUp(context.Background(), u.ID, dec(amount), "bob")
		assert.ErrorIs(t, err, ledger.ErrInvalidAmount, amount)
		assert.ErrorIs(t, err, ledger.ErrValidation, amount)
	}
	assert.Empty(t, f.allTransactions(t))
	assert.True(t, f.balance(t, u.ID).IsZero())
}

func TestLedger_TopUp_UnknownUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.TopUp(context.Background(), 42, dec("10"), "bob")
	assert.ErrorIs(t, err, ledger.ErrUserNotFound)
	assert.True(t, ledger.IsNotFound(err))
}

func TestLedger_Charge_RoundTripRestoresBalanceAndStock(t *testing.T) {
	// GIVEN: A stocked alcoholic item
	// WHEN: Charging then reverting
	// THEN: Balance and quantity are back to their pre-charge values

	f := newFixture(t)
	ctx := context.Background()
	u := f.customer(t, "alice", "12.40")
	beer := f.item(t, "Beer", "2.30", true, qty(3))

	pay, err := f.ledger.Charge(ctx, u.ID, beer.ID, "bob")
	require.NoError(t, err)
	assert.True(t, f.balance(t, u.ID).Equal(dec("10.10")))
	assert.Equal(t, 2, f.quantity(t, beer.ID))

	_, err = f.ledger.Revert(ctx, pay.ID, "bob")
	require.NoError(t, err)
	assert.True(t, f.balance(t, u.ID).Equal(dec("12.40")))
	assert.Equal(t, 3, f.quantity(t, beer.ID))
}

func TestLedger_Charge_AlcoholSetsLastDrink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.customer(t, "alice", "10")
	beer := f.item(t, "Beer", "2", true, nil)
	cola := f.item(t, "Cola", "1", false, nil)

	_, err := f.ledger.Charge(ctx, u.ID, cola.ID, "bob")
	require.NoError(t, err)
	got, _ := f.store.GetUser(ctx, u.ID)
	assert.Nil(t, got.LastDrink, "soft drinks do not touch last drink")

	_, err = f.ledger.Charge(ctx, u.ID, beer.ID, "bob")
	require.NoError(t, err)
	got, _ = f.store.GetUser(ctx, u.ID)
	require.NotNil(t, got.LastDrink)
	assert.True(t, got.LastDrink.Equal(evening))
}

func TestLedger_Charge_OutOfStockWinsOverEverythingElse(t *testing.T) {
	// GIVEN: A quantifiable item with quantity 0 and a broke, underage customer
	// WHEN: Charging
	// THEN: The refusal is OutOfStock, and nothing changes

	f := newFixture(t)
	ctx := context.Background()
	u := &ledger.User{
		Username:  "kid",
		Email:     "kid@bar.test",
		Birthdate: ledger.Date(2015, time.June, 1),
		Balance:   dec("0"),
		Deposit:   true,
	}
	require.NoError(t, f.store.CreateUser(ctx, u))
	beer := f.item(t, "Beer", "2", true, qty(0))

	_, err := f.ledger.Charge(ctx, u.ID, beer.ID, "bob")
	assert.ErrorIs(t, err, ledger.ErrOutOfStock)
	assert.ErrorIs(t, err, ledger.ErrDenied)

	var denial *ledger.DenialError
	require.ErrorAs(t, err, &denial)
	assert.Equal(t, ledger.DenialOutOfStock, denial.Reason)
	assert.Equal(t, 0, f.quantity(t, beer.ID))
	assert.Empty(t, f.allTransactions(t))
}

func TestLedger_Charge_DenialLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.customer(t, "alice", "1")
	beer := f.item(t, "Beer", "2", true, qty(5))

	_, err := f.ledger.Charge(ctx, u.ID, beer.ID, "bob")
	var denial *ledger.DenialError
	require.ErrorAs(t, err, &denial)
	assert.Equal(t, ledger.DenialInsufficientFunds, denial.Reason)

	assert.True(t, f.balance(t, u.ID).Equal(dec("1")))
	assert.Equal(t, 5, f.quantity(t, beer.ID))
	assert.Empty(t, f.allTransactions(t))
}

func TestLedger_Charge_NoItemSelected(t *testing.T) {
	f := newFixture(t)
	u := f.customer(t, "alice", "10")

	_, err := f.ledger.Charge(context.Background(), u.ID, 0, "bob")
	var denial *ledger.DenialError
	require.ErrorAs(t, err, &denial)
	assert.Equal(t, ledger.DenialNoItemSelected, denial.Reason)
}

func TestLedger_Charge_ConcurrentBuyersNeverOversell(t *testing.T) {
	// GIVEN: 3 bottles left and 10 customers buying at once
	// WHEN: All charges run concurrently
	// THEN: Exactly 3 succeed and the quantity ends at 0, never below

	f := newFixture(t)
	ctx := context.Background()
	wine := f.item(t, "Wine", "4", false, qty(3))

	const buyers = 10
	users := make([]*ledger.User, buyers)
	for i := range users {
		users[i] = f.customer(t, "user"+string(rune('a'+i)), "10")
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, outOfStock := 0, 0
	for _, u := range users {
		wg.Add(1)
		go func(id ledger.UserID) {
			defer wg.Done()
			_, err := f.ledger.Charge(ctx, id, wine.ID, "bob")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ledger.ErrOutOfStock):
				outOfStock++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(u.ID)
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	assert.Equal(t, buyers-3, outOfStock)
	assert.Equal(t, 0, f.quantity(t, wine.ID))
	assert.Len(t, f.allTransactions(t), 3)
}

// =============================================================================
// REVERT
// =============================================================================

func TestLedger_Revert_SecondRevertFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.customer(t, "alice", "0")

	topUp, err := f.ledger.TopUp(ctx, u.ID, dec("10"), "bob")
	require.NoError(t, err)
	_, err = f.ledger.Revert(ctx, topUp.ID, "bob")
	require.NoError(t, err)

	_, err = f.ledger.Revert(ctx, topUp.ID, "bob")
	assert.ErrorIs(t, err, ledger.ErrAlreadyReverted)
	assert.ErrorIs(t, err, ledger.ErrConflict)

	orig, err := f.ledger.GetTransaction(ctx, topUp.ID)
	require.NoError(t, err)
	assert.True(t, orig.IsReverted, "is_reverted never goes back to false")
	assert.Len(t, f.allTransactions(t), 2, "no second revert marker")
}

func TestLedger_Revert_RevertMarkerCannotBeReverted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.customer(t, "alice", "0")

	topUp, err := f.ledger.TopUp(ctx, u.ID, dec("10"), "bob")
	require.NoError(t, err)
	marker, err := f.ledger.Revert(ctx, topUp.ID, "bob")
	require.NoError(t, err)

	_, err = f.ledger.Revert(ctx, marker.ID, "bob")
	assert.ErrorIs(t, err, ledger.ErrAlreadyReverted)
}

func TestLedger_Revert_SpentTopUpWouldGoNegative(t *testing.T) {
	// GIVEN: A top-up of 10 of which 8 was already spent
	// WHEN: Reverting the top-up
	// THEN: WouldGoNegative, and balance, flags and log are unchanged

	f := newFixture(t)
	ctx := context.Background()
	u := f.customer(t, "alice", "0")
	food := f.item(t, "Croque", "8", false, nil)

	topUp, err := f.ledger.TopUp(ctx, u.ID, dec("10"), "bob")
	require.NoError(t, err)
	_, err = f.ledger.Charge(ctx, u.ID, food.ID, "bob")
	require.NoError(t, err)

	_, err = f.ledger.Revert(ctx, topUp.ID, "bob")
	assert.ErrorIs(t, err, ledger.ErrWouldGoNegative)
	var negErr *ledger.NegativeBalanceError
	require.ErrorAs(t, err, &negErr)
	assert.Equal(t, topUp.ID, negErr.TransactionID)

	assert.True(t, f.balance(t, u.ID).Equal(dec("2")))
	orig, _ := f.ledger.GetTransaction(ctx, topUp.ID)
	assert.False(t, orig.IsReverted)
	assert.Len(t, f.allTransactions(t), 2)
}

func TestLedger_Revert_AlcoholPurchaseClearsLastDrink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.customer(t, "alice", "10")
	beer := f.item(t, "Beer", "2", true, nil)

	pay, err := f.ledger.Charge(ctx, u.ID, beer.ID, "bob")
	require.NoError(t, err)
	_, err = f.ledger.Revert(ctx, pay.ID, "bob")
	require.NoError(t, err)

	got, err := f.store.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastDrink)
}

func TestLedger_Revert_DeletedItemStillRestoresBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.customer(t, "alice", "10")
	seasonal := f.item(t, "Seasonal", "3", false, qty(1))

	pay, err := f.ledger.Charge(ctx, u.ID, seasonal.ID, "bob")
	require.NoError(t, err)
	require.NoError(t, f.inventory.DeleteItem(ctx, "Seasonal"))

	_, err = f.ledger.Revert(ctx, pay.ID, "bob")
	require.NoError(t, err)
	assert.True(t, f.balance(t, u.ID).Equal(dec("10")))
}

func TestLedger_Revert_DeletedClientStillRestoresStock(t *testing.T) {
	// GIVEN: alice bought the last bottle, then her account was deleted
	f := newFixture(t)
	ctx := context.Background()
	u := f.customer(t, "alice", "10")
	wine := f.item(t, "Wine", "4", true, qty(1))
	pay, err := f.ledger.Charge(ctx, u.ID, wine.ID, "bob")
	require.NoError(t, err)
	require.Equal(t, 0, f.quantity(t, wine.ID))
	require.NoError(t, f.accounts.DeleteUser(ctx, ledger.RoleAdmin, "alice"))

	// WHEN: the purchase is reverted
	marker, err := f.ledger.Revert(ctx, pay.ID, "bob")

	// THEN: stock, flag and marker follow; the balance step is skipped
	require.NoError(t, err)
	assert.Equal(t, 1, f.quantity(t, wine.ID))
	orig, err := f.ledger.GetTransaction(ctx, pay.ID)
	require.NoError(t, err)
	assert.True(t, orig.IsReverted)
	require.NotNil(t, marker.RevertedID)
	assert.Equal(t, pay.ID, *marker.RevertedID)
	assert.Equal(t, "Revert:"+pay.ID.String(), marker.Type)
}

func TestLedger_Revert_UnknownTransaction(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.Revert(context.Background(), 99, "bob")
	assert.ErrorIs(t, err, ledger.ErrTransactionNotFound)
}

// =============================================================================
// DAILY LIMIT
// =============================================================================

func TestLedger_DailyLimit_RevertFreesASlot(t *testing.T) {
	// GIVEN: A limit of 2 drinks per day and 2 beers already bought
	// WHEN: Buying a third, then reverting one and trying again
	// THEN: DailyLimitReached first, approved after the revert

	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.settings.Set(ctx, ledger.RoleAdmin, ledger.SettingMaxDailyAlcoholic, 2))
	u := f.customer(t, "alice", "20")
	beer := f.item(t, "Beer", "2", true, nil)

	first, err := f.ledger.Charge(ctx, u.ID, beer.ID, "bob")
	require.NoError(t, err)
	_, err = f.ledger.Charge(ctx, u.ID, beer.ID, "bob")
	require.NoError(t, err)

	_, err = f.ledger.Charge(ctx, u.ID, beer.ID, "bob")
	var denial *ledger.DenialError
	require.ErrorAs(t, err, &denial)
	assert.Equal(t, ledger.DenialDailyLimitReached, denial.Reason)

	_, err = f.ledger.Revert(ctx, first.ID, "bob")
	require.NoError(t, err)

	verdict, err := f.ledger.CanBuy(ctx, u.ID, beer.ID)
	require.NoError(t, err)
	assert.True(t, verdict.Approved)
	_, err = f.ledger.Charge(ctx, u.ID, beer.ID, "bob")
	assert.NoError(t, err)
}

func TestLedger_DailyLimit_ResetsAtSixInTheMorning(t *testing.T) {
	// GIVEN: A limit of 1 and a beer bought at 02:00 (still the previous service day)
	// WHEN: Trying again at 05:59, then at 06:00
	// THEN: Denied at 05:59, approved from 06:00

	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.settings.Set(ctx, ledger.RoleAdmin, ledger.SettingMaxDailyAlcoholic, 1))
	u := f.customer(t, "alice", "20")
	beer := f.item(t, "Beer", "2", true, nil)

	f.clock.Set(time.Date(2026, time.March, 15, 2, 0, 0, 0, time.UTC))
	_, err := f.ledger.Charge(ctx, u.ID, beer.ID, "bob")
	require.NoError(t, err)

	f.clock.Set(time.Date(2026, time.March, 15, 5, 59, 0, 0, time.UTC))
	verdict, err := f.ledger.CanBuy(ctx, u.ID, beer.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.DenialDailyLimitReached, verdict.Reason)

	f.clock.Set(time.Date(2026, time.March, 15, 6, 0, 0, 0, time.UTC))
	verdict, err = f.ledger.CanBuy(ctx, u.ID, beer.ID)
	require.NoError(t, err)
	assert.True(t, verdict.Approved)

	n, err := f.ledger.DrinksToday(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestLedger_CanBuy_RepeatsWithoutMutation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.customer(t, "alice", "1")
	beer := f.item(t, "Beer", "2", true, nil)

	first, err := f.ledger.CanBuy(ctx, u.ID, beer.ID)
	require.NoError(t, err)
	second, err := f.ledger.CanBuy(ctx, u.ID, beer.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Empty(t, f.allTransactions(t))
}

// =============================================================================
// DEPOSIT
// =============================================================================

func TestLedger_SetDeposit_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := &ledger.User{Username: "newbie", Email: "newbie@bar.test", Birthdate: ledger.Date(2000, 1, 1)}
	require.NoError(t, f.store.CreateUser(ctx, u))

	changed, err := f.ledger.SetDeposit(ctx, u.ID, "bob")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = f.ledger.SetDeposit(ctx, u.ID, "bob")
	require.NoError(t, err, "a second call is a warning, not an error")
	assert.False(t, changed)

	got, err := f.store.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.Deposit)
	assert.Empty(t, f.allTransactions(t), "deposits are not logged as transactions")
}

func TestLedger_Charge_RequiresDeposit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := &ledger.User{Username: "newbie", Email: "newbie@bar.test", Birthdate: ledger.Date(2000, 1, 1), Balance: dec("50")}
	require.NoError(t, f.store.CreateUser(ctx, u))
	cola := f.item(t, "Cola", "1", false, nil)

	_, err := f.ledger.Charge(ctx, u.ID, cola.ID, "bob")
	var denial *ledger.DenialError
	require.ErrorAs(t, err, &denial)
	assert.Equal(t, ledger.DenialDepositRequired, denial.Reason)
}

// =============================================================================
// LISTING
// =============================================================================

func TestLedger_ListTransactionsForUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.customer(t, "alice", "0")
	carol := f.customer(t, "carol", "0")
	cola := f.item(t, "Cola", "1", false, nil)

	_, err := f.ledger.TopUp(ctx, alice.ID, dec("10"), "bob")
	require.NoError(t, err)
	_, err = f.ledger.TopUp(ctx, carol.ID, dec("5"), "bob")
	require.NoError(t, err)
	f.clock.Set(evening.Add(time.Minute))
	pay, err := f.ledger.Charge(ctx, alice.ID, cola.ID, "bob")
	require.NoError(t, err)

	txs, err := f.ledger.ListTransactionsForUser(ctx, alice.ID, ledger.TransactionFilter{Descending: true})
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, pay.ID, txs[0].ID, "newest first")

	pays, err := f.ledger.ListTransactionsForUser(ctx, alice.ID, ledger.TransactionFilter{Kind: ledger.KindPay})
	require.NoError(t, err)
	assert.Len(t, pays, 1)

	again, err := f.ledger.ListTransactionsForUser(ctx, alice.ID, ledger.TransactionFilter{Descending: true})
	require.NoError(t, err)
	assert.Equal(t, txs, again, "listing is restartable")

	_, err = f.ledger.ListTransactionsForUser(ctx, 999, ledger.TransactionFilter{})
	assert.ErrorIs(t, err, ledger.ErrUserNotFound)
}
