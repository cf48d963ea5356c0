package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/foyer/barledger/ledger"
	"github.com/foyer/barledger/store/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seed(t *testing.T, store ledger.Store) {
	t.Helper()
	settings := ledger.NewSettings(store, ledger.Options{})
	require.NoError(t, settings.Seed(context.Background(), map[string]int{
		ledger.SettingMinimumLegalAge:   18,
		ledger.SettingMaxDailyAlcoholic: 2,
		ledger.SettingQuickAccessItemID: 0,
	}))
}

func adult(username, balance string) *ledger.User {
	return &ledger.User{
		Username:  username,
		Email:     username + "@bar.test",
		Birthdate: ledger.Date(1999, time.December, 31),
		Balance:   dec(balance),
		Deposit:   true,
		CreatedAt: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

// =============================================================================
// ROW ROUND TRIPS
// =============================================================================

func TestSQLite_UserRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	drink := time.Date(2026, 3, 14, 21, 15, 30, 123456789, time.UTC)
	u := adult("alice", "12.345")
	u.Role = ledger.RoleBartender
	u.GradClass = 2023
	u.LastDrink = &drink
	require.NoError(t, store.CreateUser(ctx, u))
	require.NotZero(t, u.ID)

	got, err := store.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.True(t, got.Balance.Equal(dec("12.345")), "decimal survives as text: %s", got.Balance)
	assert.Equal(t, ledger.RoleBartender, got.Role)
	assert.Equal(t, 2023, got.GradClass)
	assert.True(t, got.Deposit)
	require.NotNil(t, got.LastDrink)
	assert.True(t, drink.Equal(*got.LastDrink))
	assert.Equal(t, ledger.Date(1999, time.December, 31), got.Birthdate)

	got.LastDrink = nil
	got.Balance = dec("0")
	require.NoError(t, store.UpdateUser(ctx, got))
	again, err := store.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Nil(t, again.LastDrink)
	assert.True(t, again.Balance.IsZero())

	require.NoError(t, store.DeleteUser(ctx, u.ID))
	_, err = store.GetUser(ctx, u.ID)
	assert.ErrorIs(t, err, ledger.ErrUserNotFound)
	assert.ErrorIs(t, store.DeleteUser(ctx, u.ID), ledger.ErrUserNotFound)
	assert.ErrorIs(t, store.UpdateUser(ctx, got), ledger.ErrUserNotFound)
}

func TestSQLite_UniqueNames(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateUser(ctx, adult("alice", "0")))
	assert.ErrorIs(t, store.CreateUser(ctx, adult("alice", "0")), ledger.ErrDuplicateName)

	shout := adult("bob", "0")
	shout.Email = "ALICE@bar.test"
	assert.ErrorIs(t, store.CreateUser(ctx, shout), ledger.ErrDuplicateName, "emails compare case-insensitively")

	noMail1 := adult("carol", "0")
	noMail1.Email = ""
	noMail2 := adult("dave", "0")
	noMail2.Email = ""
	require.NoError(t, store.CreateUser(ctx, noMail1))
	require.NoError(t, store.CreateUser(ctx, noMail2), "empty emails do not collide")

	require.NoError(t, store.CreateItem(ctx, &ledger.Item{Name: "Beer", Price: dec("2")}))
	err := store.CreateItem(ctx, &ledger.Item{Name: "Beer", Price: dec("3")})
	assert.ErrorIs(t, err, ledger.ErrDuplicateName)
	assert.True(t, errors.Is(err, ledger.ErrValidation))
}

func TestSQLite_ItemsAndSettings(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for _, it := range []ledger.Item{
		{Name: "Wine", Price: dec("3.5"), IsAlcohol: true},
		{Name: "Beer", Price: dec("2"), IsAlcohol: true, IsQuantifiable: true, Quantity: 12, IsFavorite: true},
	} {
		item := it
		require.NoError(t, store.CreateItem(ctx, &item))
	}

	items, err := store.ListItems(ctx, ledger.ItemFilter{})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Beer", items[0].Name)
	assert.Equal(t, 12, items[0].Quantity)
	assert.True(t, items[0].IsQuantifiable)

	favs, err := store.ListItems(ctx, ledger.ItemFilter{FavoritesOnly: true})
	require.NoError(t, err)
	assert.Len(t, favs, 1)

	_, err = store.GetItemByName(ctx, "Cider")
	assert.ErrorIs(t, err, ledger.ErrItemNotFound)

	inserted, err := store.InsertSettingIfAbsent(ctx, ledger.Setting{Key: "K", Value: 1, Name: "k"})
	require.NoError(t, err)
	assert.True(t, inserted)
	inserted, err = store.InsertSettingIfAbsent(ctx, ledger.Setting{Key: "K", Value: 9, Name: "k"})
	require.NoError(t, err)
	assert.False(t, inserted)

	require.NoError(t, store.UpdateSetting(ctx, "K", 5))
	got, err := store.GetSetting(ctx, "K")
	require.NoError(t, err)
	assert.Equal(t, 5, got.Value)
	assert.ErrorIs(t, store.UpdateSetting(ctx, "MISSING", 1), ledger.ErrSettingNotFound)
}

// =============================================================================
// TRANSACTION LOG
// =============================================================================

func TestSQLite_TransactionLogFilters(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	u := adult("alice", "0")
	require.NoError(t, store.CreateUser(ctx, u))
	beer := &ledger.Item{Name: "Beer", Price: dec("2"), IsAlcohol: true}
	soda := &ledger.Item{Name: "Soda", Price: dec("1"), IsAlcohol: false}
	require.NoError(t, store.CreateItem(ctx, beer))
	require.NoError(t, store.CreateItem(ctx, soda))

	base := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)
	pay := func(item *ledger.Item, at time.Time) *ledger.Transaction {
		change := item.Price.Neg()
		tx := &ledger.Transaction{
			Date: at, Operator: "bob", Kind: ledger.KindPay, Type: ledger.PayType(item.Name),
			ClientID: &u.ID, ItemID: &item.ID, BalanceChange: &change,
		}
		require.NoError(t, store.AppendTransaction(ctx, tx))
		return tx
	}
	first := pay(beer, base)
	pay(soda, base.Add(time.Minute))
	third := pay(beer, base.Add(2*time.Minute))
	require.NoError(t, store.MarkReverted(ctx, third.ID))

	revertedID := third.ID
	marker := &ledger.Transaction{
		Date: base.Add(3 * time.Minute), Operator: "bob", Kind: ledger.KindRevert,
		Type: ledger.RevertType(third.ID), RevertedID: &revertedID,
	}
	require.NoError(t, store.AppendTransaction(ctx, marker))

	all, err := store.ListTransactions(ctx, ledger.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, first.ID, all[0].ID)
	assert.Nil(t, all[3].ClientID)
	assert.Nil(t, all[3].BalanceChange)
	require.NotNil(t, all[3].RevertedID)
	assert.Equal(t, third.ID, *all[3].RevertedID)
	assert.True(t, all[2].IsReverted)
	assert.True(t, all[0].BalanceChange.Equal(dec("-2")))

	since := base.Add(time.Minute)
	recent, err := store.ListTransactions(ctx, ledger.TransactionFilter{Since: &since, ClientID: &u.ID})
	require.NoError(t, err)
	assert.Len(t, recent, 2, "since is inclusive and the marker has no client")

	alcohol, err := store.ListTransactions(ctx, ledger.TransactionFilter{AlcoholOnly: true, ExcludeReverted: true})
	require.NoError(t, err)
	require.Len(t, alcohol, 1)
	assert.Equal(t, first.ID, alcohol[0].ID)

	page, err := store.ListTransactions(ctx, ledger.TransactionFilter{Descending: true, Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, third.ID, page[0].ID)

	tail, err := store.ListTransactions(ctx, ledger.TransactionFilter{Offset: 3})
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, marker.ID, tail[0].ID)

	n, err := store.CountAlcoholPurchases(ctx, u.ID, base)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, store.DeleteItem(ctx, beer.ID))
	n, err = store.CountAlcoholPurchases(ctx, u.ID, base)
	require.NoError(t, err)
	assert.Zero(t, n, "purchases of deleted items no longer count")

	_, err = store.GetTransaction(ctx, 999)
	assert.ErrorIs(t, err, ledger.ErrTransactionNotFound)
}

func TestSQLite_WithTxRollsBack(t *testing.T) {
	// GIVEN: A transaction that writes a user and then fails
	// THEN: Nothing is visible afterwards

	store := newStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(repos ledger.Repositories) error {
		if err := repos.CreateUser(ctx, adult("ghost", "5")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = store.GetUserByUsername(ctx, "ghost")
	assert.ErrorIs(t, err, ledger.ErrUserNotFound)
}

// =============================================================================
// LEDGER ON SQLITE
// =============================================================================

func TestSQLite_LedgerFlow(t *testing.T) {
	// GIVEN: A sqlite-backed ledger with a limit of two drinks a day
	// WHEN: A customer tops up, buys three beers, and one is reverted
	// THEN: The third beer is refused until the revert frees a slot

	store := newStore(t)
	seed(t, store)
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 22, 0, 0, 0, time.UTC)
	opts := ledger.Options{Now: func() time.Time { return now }, Location: time.UTC}
	l := ledger.NewLedger(store, opts)
	inv := ledger.NewInventory(store, opts)

	u := adult("alice", "0")
	require.NoError(t, store.CreateUser(ctx, u))
	beer, err := inv.AddItem(ctx, ledger.NewItem{Name: "Beer", Price: dec("2.50"), IsAlcohol: true, IsQuantifiable: true, Quantity: 10})
	require.NoError(t, err)

	_, err = l.TopUp(ctx, u.ID, dec("20"), "bob")
	require.NoError(t, err)
	first, err := l.Charge(ctx, u.ID, beer.ID, "bob")
	require.NoError(t, err)
	_, err = l.Charge(ctx, u.ID, beer.ID, "bob")
	require.NoError(t, err)

	_, err = l.Charge(ctx, u.ID, beer.ID, "bob")
	var denial *ledger.DenialError
	require.ErrorAs(t, err, &denial)
	assert.Equal(t, ledger.DenialDailyLimitReached, denial.Reason)

	_, err = l.Revert(ctx, first.ID, "bob")
	require.NoError(t, err)
	_, err = l.Charge(ctx, u.ID, beer.ID, "bob")
	require.NoError(t, err)

	got, err := store.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(dec("15")), "got %s", got.Balance)
	require.NotNil(t, got.LastDrink)

	item, err := store.GetItem(ctx, beer.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, item.Quantity)

	_, err = l.Revert(ctx, first.ID, "bob")
	assert.ErrorIs(t, err, ledger.ErrAlreadyReverted)
}

func TestSQLite_ConcurrentChargesNeverOversell(t *testing.T) {
	// GIVEN: A file database, one bottle left and five customers
	// WHEN: All five are charged at once
	// THEN: Exactly one purchase commits and stock ends at zero

	store, err := sqlite.New(filepath.Join(t.TempDir(), "bar.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	seed(t, store)
	ctx := context.Background()

	l := ledger.NewLedger(store, ledger.Options{Location: time.UTC})
	inv := ledger.NewInventory(store, ledger.Options{})
	bottle, err := inv.AddItem(ctx, ledger.NewItem{Name: "Last bottle", Price: dec("4"), IsQuantifiable: true, Quantity: 1})
	require.NoError(t, err)

	var users []*ledger.User
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		u := adult(name, "10")
		require.NoError(t, store.CreateUser(ctx, u))
		users = append(users, u)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for _, u := range users {
		wg.Add(1)
		go func(id ledger.UserID) {
			defer wg.Done()
			if _, err := l.Charge(ctx, id, bottle.ID, "bob"); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ledger.ErrOutOfStock)
			}
		}(u.ID)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	item, err := store.GetItem(ctx, bottle.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, item.Quantity)
}
