/*
Package sqlite provides a SQLite-backed implementation of ledger.Store.

PURPOSE:
  The default database of the bar. One file holds users, items, the
  transaction log and the global settings.

INTERFACES IMPLEMENTED:
  ledger.Store:        every repository plus WithTx
  ledger.Repositories: also implemented by the view handed to WithTx

TRANSACTION LOG ENFORCEMENT:
  - INSERT only, through AppendTransaction
  - the single UPDATE sets is_reverted = 1, never back to 0
  - no DELETE statements on the transactions table

KEY TABLES:
  users:           accounts, balance as TEXT decimal
  items:           the menu, quantity CHECK >= 0
  transactions:    the log; client_id and item_id carry no foreign key so
                   records outlive deleted users and items
  global_settings: integer settings keyed by name

ENCODING:
  Money is stored as decimal TEXT and scanned back through
  decimal.Decimal's sql.Scanner. Instants are fixed-width UTC text so
  that string comparison in SQL matches time order. Birthdates are
  plain YYYY-MM-DD.

CONCURRENCY:
  WithTx holds a process mutex and opens the transaction with
  BEGIN IMMEDIATE (_txlock=immediate), so the database write lock is
  taken before the first read. The ForUpdate getters are therefore plain
  SELECTs. busy_timeout covers a second process on the same file.

USAGE:
  store, err := sqlite.New("./data/bar.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := ledger.NewLedger(store, ledger.Options{})

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
  - store/postgres: the PostgreSQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/foyer/barledger/ledger"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// Store implements ledger.Store using SQLite.
type Store struct {
	queries
	db *sql.DB
	mu sync.Mutex
}

var (
	_ ledger.Store        = (*Store)(nil)
	_ ledger.Repositories = (*queries)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &Store{queries: queries{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL DEFAULT '' COLLATE NOCASE,
		password_hash TEXT NOT NULL DEFAULT '',
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		nickname TEXT NOT NULL DEFAULT '',
		birthdate TEXT NOT NULL,
		role INTEGER NOT NULL DEFAULT 0,
		grad_class INTEGER NOT NULL DEFAULT 0,
		balance TEXT NOT NULL DEFAULT '0',
		last_drink TEXT,
		deposit BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email
		ON users(email) WHERE email <> '';

	CREATE TABLE IF NOT EXISTS items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		price TEXT NOT NULL,
		is_alcohol BOOLEAN NOT NULL DEFAULT FALSE,
		is_quantifiable BOOLEAN NOT NULL DEFAULT FALSE,
		quantity INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0),
		is_favorite BOOLEAN NOT NULL DEFAULT FALSE
	);

	-- Transaction log (append-only except is_reverted)
	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		date TEXT NOT NULL,
		operator TEXT NOT NULL,
		kind TEXT NOT NULL,
		type TEXT NOT NULL,
		client_id INTEGER,
		item_id INTEGER,
		balance_change TEXT,
		reverted_id INTEGER,
		is_reverted BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_date
		ON transactions(date);

	-- Daily drink count (hot path of every alcoholic purchase)
	CREATE INDEX IF NOT EXISTS idx_transactions_client_date
		ON transactions(client_id, date);

	CREATE TABLE IF NOT EXISTS global_settings (
		key TEXT PRIMARY KEY,
		value INTEGER NOT NULL,
		name TEXT NOT NULL DEFAULT ''
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(repos ledger.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries runs every repository statement against q, which is the pool
// outside WithTx and the open transaction inside it.
type queries struct {
	q querier
}

// =============================================================================
// USERS
// =============================================================================

const userColumns = `id, username, email, password_hash, first_name, last_name, nickname,
	birthdate, role, grad_class, balance, last_drink, deposit, created_at`

func (r *queries) GetUser(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	return r.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
}

func (r *queries) GetUserByUsername(ctx context.Context, username string) (*ledger.User, error) {
	return r.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE username = ?", username)
}

// GetUserForUpdate is a plain read: BEGIN IMMEDIATE already holds the
// write lock for the whole transaction.
func (r *queries) GetUserForUpdate(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	return r.GetUser(ctx, id)
}

func (r *queries) getUser(ctx context.Context, query string, arg any) (*ledger.User, error) {
	u, err := scanUser(r.q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (r *queries) CreateUser(ctx context.Context, u *ledger.User) error {
	query := `
		INSERT INTO users
		(username, email, password_hash, first_name, last_name, nickname,
		 birthdate, role, grad_class, balance, last_drink, deposit, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := r.q.ExecContext(ctx, query,
		u.Username, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.Nickname,
		formatDate(u.Birthdate), int(u.Role), u.GradClass, u.Balance,
		nullTime(u.LastDrink), u.Deposit, formatTime(u.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("user %q: %w", u.Username, ledger.ErrDuplicateName)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = ledger.UserID(id)
	return nil
}

func (r *queries) UpdateUser(ctx context.Context, u *ledger.User) error {
	query := `
		UPDATE users SET
			username = ?, email = ?, password_hash = ?, first_name = ?, last_name = ?,
			nickname = ?, birthdate = ?, role = ?, grad_class = ?, balance = ?,
			last_drink = ?, deposit = ?
		WHERE id = ?
	`
	res, err := r.q.ExecContext(ctx, query,
		u.Username, u.Email, u.PasswordHash, u.FirstName, u.LastName,
		u.Nickname, formatDate(u.Birthdate), int(u.Role), u.GradClass, u.Balance,
		nullTime(u.LastDrink), u.Deposit, u.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("user %q: %w", u.Username, ledger.ErrDuplicateName)
		}
		return fmt.Errorf("failed to update user: %w", err)
	}
	return expectOneRow(res, ledger.ErrUserNotFound)
}

func (r *queries) DeleteUser(ctx context.Context, id ledger.UserID) error {
	res, err := r.q.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return expectOneRow(res, ledger.ErrUserNotFound)
}

func (r *queries) ListUsers(ctx context.Context) ([]ledger.User, error) {
	rows, err := r.q.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY username")
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	users := []ledger.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// row is satisfied by *sql.Row and *sql.Rows.
type row interface {
	Scan(dest ...any) error
}

func scanUser(sc row) (*ledger.User, error) {
	var (
		u         ledger.User
		role      int
		birthdate string
		lastDrink sql.NullString
		createdAt string
	)
	err := sc.Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Nickname,
		&birthdate, &role, &u.GradClass, &u.Balance, &lastDrink, &u.Deposit, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	u.Role = ledger.Role(role)
	if u.Birthdate, err = time.Parse(dateLayout, birthdate); err != nil {
		return nil, fmt.Errorf("user %d birthdate: %w", u.ID, err)
	}
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("user %d created_at: %w", u.ID, err)
	}
	if lastDrink.Valid {
		t, err := parseTime(lastDrink.String)
		if err != nil {
			return nil, fmt.Errorf("user %d last_drink: %w", u.ID, err)
		}
		u.LastDrink = &t
	}
	return &u, nil
}

// =============================================================================
// ITEMS
// =============================================================================

const itemColumns = `id, name, price, is_alcohol, is_quantifiable, quantity, is_favorite`

func (r *queries) GetItem(ctx context.Context, id ledger.ItemID) (*ledger.Item, error) {
	return r.getItem(ctx, "SELECT "+itemColumns+" FROM items WHERE id = ?", id)
}

func (r *queries) GetItemByName(ctx context.Context, name string) (*ledger.Item, error) {
	return r.getItem(ctx, "SELECT "+itemColumns+" FROM items WHERE name = ?", name)
}

func (r *queries) GetItemForUpdate(ctx context.Context, id ledger.ItemID) (*ledger.Item, error) {
	return r.GetItem(ctx, id)
}

func (r *queries) getItem(ctx context.Context, query string, arg any) (*ledger.Item, error) {
	item, err := scanItem(r.q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (r *queries) CreateItem(ctx context.Context, item *ledger.Item) error {
	query := `
		INSERT INTO items (name, price, is_alcohol, is_quantifiable, quantity, is_favorite)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	res, err := r.q.ExecContext(ctx, query,
		item.Name, item.Price, item.IsAlcohol, item.IsQuantifiable, item.Quantity, item.IsFavorite)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("item %q: %w", item.Name, ledger.ErrDuplicateName)
		}
		return fmt.Errorf("failed to create item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	item.ID = ledger.ItemID(id)
	return nil
}

func (r *queries) UpdateItem(ctx context.Context, item *ledger.Item) error {
	query := `
		UPDATE items SET
			name = ?, price = ?, is_alcohol = ?, is_quantifiable = ?, quantity = ?, is_favorite = ?
		WHERE id = ?
	`
	res, err := r.q.ExecContext(ctx, query,
		item.Name, item.Price, item.IsAlcohol, item.IsQuantifiable, item.Quantity, item.IsFavorite, item.ID)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("item %q: %w", item.Name, ledger.ErrDuplicateName)
		}
		return fmt.Errorf("failed to update item: %w", err)
	}
	return expectOneRow(res, ledger.ErrItemNotFound)
}

func (r *queries) DeleteItem(ctx context.Context, id ledger.ItemID) error {
	res, err := r.q.ExecContext(ctx, "DELETE FROM items WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return expectOneRow(res, ledger.ErrItemNotFound)
}

func (r *queries) ListItems(ctx context.Context, filter ledger.ItemFilter) ([]ledger.Item, error) {
	query := "SELECT " + itemColumns + " FROM items"
	if filter.FavoritesOnly {
		query += " WHERE is_favorite = 1"
	}
	query += " ORDER BY name"

	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	items := []ledger.Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func scanItem(sc row) (*ledger.Item, error) {
	var item ledger.Item
	err := sc.Scan(&item.ID, &item.Name, &item.Price, &item.IsAlcohol,
		&item.IsQuantifiable, &item.Quantity, &item.IsFavorite)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// =============================================================================
// TRANSACTION LOG
// =============================================================================

const txColumns = `t.id, t.date, t.operator, t.kind, t.type, t.client_id, t.item_id,
	t.balance_change, t.reverted_id, t.is_reverted`

// AppendTransaction adds a record to the log.
func (r *queries) AppendTransaction(ctx context.Context, tx *ledger.Transaction) error {
	query := `
		INSERT INTO transactions
		(date, operator, kind, type, client_id, item_id, balance_change, reverted_id, is_reverted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	var change decimal.NullDecimal
	if tx.BalanceChange != nil {
		change = decimal.NewNullDecimal(*tx.BalanceChange)
	}
	res, err := r.q.ExecContext(ctx, query,
		formatTime(tx.Date), tx.Operator, string(tx.Kind), tx.Type,
		nullInt64(tx.ClientID), nullInt64(tx.ItemID), change, nullInt64(tx.RevertedID),
		tx.IsReverted,
	)
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	tx.ID = ledger.TransactionID(id)
	return nil
}

func (r *queries) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	tx, err := scanTransaction(r.q.QueryRowContext(ctx,
		"SELECT "+txColumns+" FROM transactions t WHERE t.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (r *queries) GetTransactionForUpdate(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	return r.GetTransaction(ctx, id)
}

// MarkReverted is the only UPDATE ever run on the log.
func (r *queries) MarkReverted(ctx context.Context, id ledger.TransactionID) error {
	res, err := r.q.ExecContext(ctx, "UPDATE transactions SET is_reverted = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to mark transaction reverted: %w", err)
	}
	return expectOneRow(res, ledger.ErrTransactionNotFound)
}

func (r *queries) ListTransactions(ctx context.Context, filter ledger.TransactionFilter) ([]ledger.Transaction, error) {
	var (
		where []string
		args  []any
	)
	if filter.ClientID != nil {
		where = append(where, "t.client_id = ?")
		args = append(args, *filter.ClientID)
	}
	if filter.Kind != "" {
		where = append(where, "t.kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.Since != nil {
		where = append(where, "t.date >= ?")
		args = append(args, formatTime(*filter.Since))
	}
	if filter.Until != nil {
		where = append(where, "t.date < ?")
		args = append(args, formatTime(*filter.Until))
	}
	if filter.ExcludeReverted {
		where = append(where, "t.is_reverted = 0")
	}

	query := "SELECT " + txColumns + " FROM transactions t"
	if filter.AlcoholOnly {
		query += " JOIN items i ON i.id = t.item_id"
		where = append(where, "t.kind = ?", "i.is_alcohol = 1")
		args = append(args, string(ledger.KindPay))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if filter.Descending {
		query += " ORDER BY t.date DESC, t.id DESC"
	} else {
		query += " ORDER BY t.date ASC, t.id ASC"
	}
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, filter.Offset)
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	txs := []ledger.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *tx)
	}
	return txs, rows.Err()
}

// CountAlcoholPurchases counts non-reverted purchases of items that are
// alcoholic now. Purchases of deleted items drop out of the count.
func (r *queries) CountAlcoholPurchases(ctx context.Context, userID ledger.UserID, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM transactions t
		JOIN items i ON i.id = t.item_id
		WHERE t.client_id = ? AND t.kind = ? AND t.is_reverted = 0
		  AND i.is_alcohol = 1 AND t.date >= ?
	`
	var n int
	err := r.q.QueryRowContext(ctx, query, userID, string(ledger.KindPay), formatTime(since)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count alcohol purchases: %w", err)
	}
	return n, nil
}

func scanTransaction(sc row) (*ledger.Transaction, error) {
	var (
		tx         ledger.Transaction
		date       string
		kind       string
		clientID   sql.NullInt64
		itemID     sql.NullInt64
		change     decimal.NullDecimal
		revertedID sql.NullInt64
	)
	err := sc.Scan(&tx.ID, &date, &tx.Operator, &kind, &tx.Type,
		&clientID, &itemID, &change, &revertedID, &tx.IsReverted)
	if err != nil {
		return nil, err
	}

	if tx.Date, err = parseTime(date); err != nil {
		return nil, fmt.Errorf("transaction %d date: %w", tx.ID, err)
	}
	tx.Kind = ledger.TransactionKind(kind)
	if clientID.Valid {
		id := ledger.UserID(clientID.Int64)
		tx.ClientID = &id
	}
	if itemID.Valid {
		id := ledger.ItemID(itemID.Int64)
		tx.ItemID = &id
	}
	if change.Valid {
		d := change.Decimal
		tx.BalanceChange = &d
	}
	if revertedID.Valid {
		id := ledger.TransactionID(revertedID.Int64)
		tx.RevertedID = &id
	}
	return &tx, nil
}

// =============================================================================
// SETTINGS
// =============================================================================

func (r *queries) GetSetting(ctx context.Context, key string) (*ledger.Setting, error) {
	var s ledger.Setting
	err := r.q.QueryRowContext(ctx,
		"SELECT key, value, name FROM global_settings WHERE key = ?", key,
	).Scan(&s.Key, &s.Value, &s.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrSettingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *queries) UpdateSetting(ctx context.Context, key string, value int) error {
	res, err := r.q.ExecContext(ctx, "UPDATE global_settings SET value = ? WHERE key = ?", value, key)
	if err != nil {
		return fmt.Errorf("failed to update setting: %w", err)
	}
	return expectOneRow(res, ledger.ErrSettingNotFound)
}

func (r *queries) InsertSettingIfAbsent(ctx context.Context, s ledger.Setting) (bool, error) {
	res, err := r.q.ExecContext(ctx,
		"INSERT INTO global_settings (key, value, name) VALUES (?, ?, ?) ON CONFLICT(key) DO NOTHING",
		s.Key, s.Value, s.Name)
	if err != nil {
		return false, fmt.Errorf("failed to insert setting: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *queries) ListSettings(ctx context.Context) ([]ledger.Setting, error) {
	rows, err := r.q.QueryContext(ctx, "SELECT key, value, name FROM global_settings ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()

	settings := []ledger.Setting{}
	for rows.Next() {
		var s ledger.Setting
		if err := rows.Scan(&s.Key, &s.Value, &s.Name); err != nil {
			return nil, err
		}
		settings = append(settings, s)
	}
	return settings, rows.Err()
}

// Helper functions

const (
	// fixed width, so lexical order is time order
	timeLayout = "2006-01-02T15:04:05.000000000Z"
	dateLayout = "2006-01-02"
)

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func formatDate(t time.Time) string {
	return t.Format(dateLayout)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullInt64[T ~int64](id *T) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*id), Valid: true}
}

func expectOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
