package ledger_test

import (
	"context"
	"testing"

	"github.com/foyer/barledger/ledger"
	"github.com/foyer/barledger/ledger/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettings_SeedIsIdempotent(t *testing.T) {
	// GIVEN: Settings seeded once, then changed by an admin
	// WHEN: Seeding again with different defaults
	// THEN: No row is duplicated and the admin's value survives

	s := store.NewMemory()
	settings := ledger.NewSettings(s, ledger.Options{})
	ctx := context.Background()
	defaults := map[string]int{
		ledger.SettingMinimumLegalAge:   18,
		ledger.SettingMaxDailyAlcoholic: 0,
		ledger.SettingQuickAccessItemID: 0,
	}

	require.NoError(t, settings.Seed(ctx, defaults))
	require.NoError(t, settings.Set(ctx, ledger.RoleAdmin, ledger.SettingMinimumLegalAge, 21))

	defaults[ledger.SettingMinimumLegalAge] = 16
	require.NoError(t, settings.Seed(ctx, defaults))

	all, err := settings.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	age, err := settings.Get(ctx, ledger.SettingMinimumLegalAge)
	require.NoError(t, err)
	assert.Equal(t, 21, age)

	for _, st := range all {
		assert.Equal(t, ledger.DefaultSettingNames[st.Key], st.Name)
	}
}

func TestSettings_SetRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, role := range []ledger.Role{ledger.RoleCustomer, ledger.RoleObserver, ledger.RoleBartender} {
		err := f.settings.Set(ctx, role, ledger.SettingMaxDailyAlcoholic, 5)
		assert.ErrorIs(t, err, ledger.ErrPermissionDenied, role.String())
	}

	value, err := f.settings.Get(ctx, ledger.SettingMaxDailyAlcoholic)
	require.NoError(t, err)
	assert.Equal(t, 0, value)
}

func TestSettings_UnknownKeyAndInvalidValue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.settings.Get(ctx, "HAPPY_HOUR")
	assert.ErrorIs(t, err, ledger.ErrSettingNotFound)
	assert.ErrorIs(t, f.settings.Set(ctx, ledger.RoleAdmin, "HAPPY_HOUR", 1), ledger.ErrSettingNotFound)
	assert.ErrorIs(t, f.settings.Set(ctx, ledger.RoleAdmin, ledger.SettingMinimumLegalAge, -1), ledger.ErrInvalidSetting)
}

func TestSettings_Policy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.settings.Set(ctx, ledger.RoleAdmin, ledger.SettingMaxDailyAlcoholic, 4))

	policy, err := f.settings.Policy(ctx)
	require.NoError(t, err)
	assert.Equal(t, ledger.EligibilityPolicy{MinimumLegalAge: 18, MaxDailyAlcoholic: 4}, policy)
}

func TestSettings_UnseededStoreFailsAlcoholPurchases(t *testing.T) {
	s := store.NewMemory()
	l := ledger.NewLedger(s, ledger.Options{})
	inv := ledger.NewInventory(s, ledger.Options{})
	ctx := context.Background()

	u := &ledger.User{Username: "alice", Email: "alice@bar.test", Birthdate: ledger.Date(2000, 1, 1), Balance: dec("10"), Deposit: true}
	require.NoError(t, s.CreateUser(ctx, u))
	beer, err := inv.AddItem(ctx, ledger.NewItem{Name: "Beer", Price: dec("2"), IsAlcohol: true})
	require.NoError(t, err)

	_, err = l.Charge(ctx, u.ID, beer.ID, "bob")
	assert.ErrorIs(t, err, ledger.ErrSettingNotFound)
}
