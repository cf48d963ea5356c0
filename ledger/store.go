/*
store.go - Repository interfaces between the ledger services and the database

PURPOSE:
  Services receive a Store and never touch a database session directly.
  Every balance or stock mutation runs inside WithTx, which hands the
  callback a Repositories view bound to one database transaction.

KEY INTERFACES:
  UserRepository:        accounts
  ItemRepository:        inventory
  TransactionRepository: the transaction log (append + one-way revert flag)
  SettingRepository:     global settings
  Store:                 all of the above plus WithTx

ROW LOCKING:
  The Get*ForUpdate methods read a row and hold it until the surrounding
  transaction ends (SELECT ... FOR UPDATE on PostgreSQL, the database write
  lock on SQLite, the store mutex in memory). Outside WithTx they behave
  like the plain getters.

TRANSACTION LOG CONTRACT:
  - AppendTransaction is the only way to add a record
  - MarkReverted is the only change ever made to an existing record
  - there is no delete

IMPLEMENTATIONS:
  - ledger/store/memory.go: in-memory, for tests and development
  - store/sqlite/sqlite.go: SQLite (default)
  - store/postgres/postgres.go: PostgreSQL

SEE ALSO:
  - ledger.go: the service that drives WithTx
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// REPOSITORIES
// =============================================================================

type UserRepository interface {
	GetUser(ctx context.Context, id UserID) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserForUpdate(ctx context.Context, id UserID) (*User, error)
	// CreateUser assigns u.ID. Duplicate username or email returns ErrDuplicateName.
	CreateUser(ctx context.Context, u *User) error
	UpdateUser(ctx context.Context, u *User) error
	DeleteUser(ctx context.Context, id UserID) error
	ListUsers(ctx context.Context) ([]User, error)
}

type ItemRepository interface {
	GetItem(ctx context.Context, id ItemID) (*Item, error)
	GetItemByName(ctx context.Context, name string) (*Item, error)
	GetItemForUpdate(ctx context.Context, id ItemID) (*Item, error)
	// CreateItem assigns item.ID. A duplicate name returns ErrDuplicateName.
	CreateItem(ctx context.Context, item *Item) error
	UpdateItem(ctx context.Context, item *Item) error
	DeleteItem(ctx context.Context, id ItemID) error
	ListItems(ctx context.Context, filter ItemFilter) ([]Item, error)
}

type TransactionRepository interface {
	// AppendTransaction assigns tx.ID.
	AppendTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)
	GetTransactionForUpdate(ctx context.Context, id TransactionID) (*Transaction, error)
	// MarkReverted sets IsReverted. It never clears it.
	MarkReverted(ctx context.Context, id TransactionID) error
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)
	// CountAlcoholPurchases counts the user's non-reverted Pay records on
	// alcoholic items dated at or after since.
	CountAlcoholPurchases(ctx context.Context, userID UserID, since time.Time) (int, error)
}

type SettingRepository interface {
	GetSetting(ctx context.Context, key string) (*Setting, error)
	// UpdateSetting changes the value of an existing key.
	UpdateSetting(ctx context.Context, key string, value int) error
	// InsertSettingIfAbsent reports whether the row was inserted.
	InsertSettingIfAbsent(ctx context.Context, s Setting) (bool, error)
	ListSettings(ctx context.Context) ([]Setting, error)
}

// Repositories groups every repository. Inside WithTx all of them share
// one database transaction.
type Repositories interface {
	UserRepository
	ItemRepository
	TransactionRepository
	SettingRepository
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// Store is the persistence boundary of the ledger.
type Store interface {
	Repositories

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through repos is rolled back.
	WithTx(ctx context.Context, fn func(repos Repositories) error) error
}

// =============================================================================
// FILTERS
// =============================================================================

// ItemFilter narrows ListItems. Items are ordered by name.
type ItemFilter struct {
	FavoritesOnly bool
}

// TransactionFilter narrows ListTransactions. The zero value lists every
// record oldest first.
type TransactionFilter struct {
	ClientID        *UserID
	Kind            TransactionKind // empty = any
	Since           *time.Time      // inclusive
	Until           *time.Time      // exclusive
	ExcludeReverted bool
	AlcoholOnly     bool // Pay records whose item is currently alcoholic
	Descending      bool // newest first
	Limit           int  // 0 = no limit
	Offset          int
}

// Matches applies the scalar parts of the filter. AlcoholOnly needs the
// item and is left to the caller.
func (f TransactionFilter) Matches(tx Transaction) bool {
	if f.ClientID != nil && (tx.ClientID == nil || *tx.ClientID != *f.ClientID) {
		return false
	}
	if f.Kind != "" && tx.Kind != f.Kind {
		return false
	}
	if f.Since != nil && tx.Date.Before(*f.Since) {
		return false
	}
	if f.Until != nil && !tx.Date.Before(*f.Until) {
		return false
	}
	if f.ExcludeReverted && tx.IsReverted {
		return false
	}
	return true
}
