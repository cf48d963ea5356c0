/*
Package ledger is the bar's account and inventory ledger.

PURPOSE:
  Holds the domain types and services of the student bar: user balances,
  the item inventory, the transaction log of top-ups, purchases and
  reverts, the global settings, and the eligibility rules that gate every
  purchase. Persistence is reached only through the repository interfaces
  in store.go; there is no ambient database session.

KEY CONCEPTS IN THIS FILE (types.go):
  - User: an account with a balance, a deposit flag and a last drink time
  - Item: something the bar sells, optionally stock-tracked
  - Transaction: an immutable log record (TopUp, Pay or Revert)
  - Setting: an integer-valued global setting with a display name

DESIGN PRINCIPLES:
  1. Money is decimal.Decimal end to end, never float64
  2. Transactions are immutable except for the one-way IsReverted flag
  3. Corrections are new Revert records, history is never deleted
  4. Every balance or stock mutation commits together with its log record

USAGE:
  svc := ledger.NewLedger(store, ledger.Options{})
  tx, err := svc.TopUp(ctx, user.ID, decimal.NewFromInt(20), "alice")

SEE ALSO:
  - ledger.go: TopUp, Charge, Revert, SetDeposit
  - eligibility.go: the canBuy decision
  - store.go: repository interfaces
*/
package ledger

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID int64
type ItemID int64
type TransactionID int64

func (id TransactionID) String() string { return strconv.FormatInt(int64(id), 10) }

// =============================================================================
// USER
// =============================================================================

// User is a bar account. Balance, LastDrink and Deposit are owned by the
// Ledger service and change only through TopUp, Charge, Revert and SetDeposit.
type User struct {
	ID           UserID
	Username     string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Nickname     string
	Birthdate    time.Time // date only, stored at UTC midnight
	Role         Role
	GradClass    int // 0 = external
	Balance      decimal.Decimal
	LastDrink    *time.Time
	Deposit      bool
	CreatedAt    time.Time
}

// FullName returns "First Last", or the username when both are empty.
func (u User) FullName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Username
	}
	return name
}

// =============================================================================
// ITEM
// =============================================================================

// Item is a product on the bar's menu. Quantity only means something while
// IsQuantifiable is true; otherwise stock is treated as infinite.
type Item struct {
	ID             ItemID
	Name           string
	Price          decimal.Decimal
	IsAlcohol      bool
	IsQuantifiable bool
	Quantity       int
	IsFavorite     bool
}

// InStock reports whether one more unit can be sold.
func (i Item) InStock() bool {
	return !i.IsQuantifiable || i.Quantity > 0
}

// =============================================================================
// TRANSACTION
// =============================================================================

type TransactionKind string

const (
	KindTopUp  TransactionKind = "TopUp"
	KindPay    TransactionKind = "Pay"
	KindRevert TransactionKind = "Revert"
)

// Valid reports whether k is one of the three transaction kinds.
func (k TransactionKind) Valid() bool {
	return k == KindTopUp || k == KindPay || k == KindRevert
}

// Transaction is one record of the append-only log.
//
// Shape by kind:
//
//	TopUp:  ClientID set, ItemID nil, BalanceChange = +amount
//	Pay:    ClientID set, ItemID set, BalanceChange = -price
//	Revert: ClientID nil, ItemID nil, BalanceChange nil, RevertedID set
//
// Only IsReverted ever changes after insertion, and only from false to true.
type Transaction struct {
	ID            TransactionID
	Date          time.Time
	Operator      string
	Kind          TransactionKind
	Type          string // "TopUp", "Pay:<item>", "Revert:<id>"
	ClientID      *UserID
	ItemID        *ItemID
	BalanceChange *decimal.Decimal
	RevertedID    *TransactionID
	IsReverted    bool
}

// Revertible reports whether the transaction may still be reverted.
func (t Transaction) Revertible() bool {
	return !t.IsReverted && t.Kind != KindRevert
}

// TopUpType, PayType and RevertType build the log labels.
func TopUpType() string                  { return string(KindTopUp) }
func PayType(itemName string) string     { return fmt.Sprintf("%s:%s", KindPay, itemName) }
func RevertType(id TransactionID) string { return fmt.Sprintf("%s:%d", KindRevert, id) }

// =============================================================================
// SETTINGS
// =============================================================================

const (
	SettingMinimumLegalAge   = "MINIMUM_LEGAL_AGE"
	SettingMaxDailyAlcoholic = "MAX_DAILY_ALCOHOLIC_DRINKS_PER_USER"
	SettingQuickAccessItemID = "QUICK_ACCESS_ITEM_ID"
)

// Setting is a global integer setting.
type Setting struct {
	Key   string
	Value int
	Name  string
}

// DefaultSettingNames maps each known key to its display name.
var DefaultSettingNames = map[string]string{
	SettingMaxDailyAlcoholic: "Maximum daily number of alcoholic drinks per user (0 for infinite)",
	SettingMinimumLegalAge:   "Minimum legal age",
	SettingQuickAccessItemID: "Quick access item",
}
