/*
Package postgres provides a PostgreSQL-backed implementation of ledger.Store.

PURPOSE:
  The store for deployments where several API instances share one
  database. Serialization comes from row locks instead of a process mutex.

ROW LOCKING:
  GetUserForUpdate, GetItemForUpdate and GetTransactionForUpdate issue
  SELECT ... FOR UPDATE. Inside WithTx the lock is held until commit or
  rollback, so two bartenders charging the same user, or selling the same
  last bottle, are applied one after the other against fresh rows.

TRANSACTION LOG ENFORCEMENT:
  Same contract as the SQLite store: INSERT, one UPDATE of is_reverted to
  TRUE, never DELETE.

TYPES:
  balance, price, balance_change: NUMERIC, decoded by pgx-shopspring-decimal
  date, last_drink, created_at:   TIMESTAMPTZ
  birthdate:                      DATE

SEE ALSO:
  - pool.go: NewPool and the Querier interface
  - store/sqlite: the embedded default
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/foyer/barledger/ledger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Store implements ledger.Store on a pgx pool.
type Store struct {
	queries
	pool *pgxpool.Pool
}

var (
	_ ledger.Store        = (*Store)(nil)
	_ ledger.Repositories = (*queries)(nil)
)

// New wraps an open pool and creates the schema if needed.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{queries: queries{q: pool}, pool: pool}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Reset empties every table. Used by tests.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx,
		"TRUNCATE users, items, transactions, global_settings RESTART IDENTITY")
	return err
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL DEFAULT '',
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		nickname TEXT NOT NULL DEFAULT '',
		birthdate DATE NOT NULL,
		role SMALLINT NOT NULL DEFAULT 0,
		grad_class INTEGER NOT NULL DEFAULT 0,
		balance NUMERIC NOT NULL DEFAULT 0,
		last_drink TIMESTAMPTZ,
		deposit BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email
		ON users (lower(email)) WHERE email <> '';

	CREATE TABLE IF NOT EXISTS items (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		price NUMERIC NOT NULL CHECK (price >= 0),
		is_alcohol BOOLEAN NOT NULL DEFAULT FALSE,
		is_quantifiable BOOLEAN NOT NULL DEFAULT FALSE,
		quantity INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0),
		is_favorite BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id BIGSERIAL PRIMARY KEY,
		date TIMESTAMPTZ NOT NULL,
		operator TEXT NOT NULL,
		kind TEXT NOT NULL,
		type TEXT NOT NULL,
		client_id BIGINT,
		item_id BIGINT,
		balance_change NUMERIC,
		reverted_id BIGINT,
		is_reverted BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_date
		ON transactions (date);
	CREATE INDEX IF NOT EXISTS idx_transactions_client_date
		ON transactions (client_id, date);

	CREATE TABLE IF NOT EXISTS global_settings (
		key TEXT PRIMARY KEY,
		value INTEGER NOT NULL,
		name TEXT NOT NULL DEFAULT ''
	);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx begins a transaction, runs fn with repositories bound to it, and
// commits. Any error rolls everything back.
func (s *Store) WithTx(ctx context.Context, fn func(repos ledger.Repositories) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&queries{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type queries struct {
	q Querier
}

// =============================================================================
// USERS
// =============================================================================

const userColumns = `id, username, email, password_hash, first_name, last_name, nickname,
	birthdate, role, grad_class, balance, last_drink, deposit, created_at`

func (r *queries) GetUser(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	return r.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", int64(id))
}

func (r *queries) GetUserByUsername(ctx context.Context, username string) (*ledger.User, error) {
	return r.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE username = $1", username)
}

func (r *queries) GetUserForUpdate(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	return r.getUser(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1 FOR UPDATE", int64(id))
}

func (r *queries) getUser(ctx context.Context, query string, arg any) (*ledger.User, error) {
	u, err := scanUser(r.q.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (r *queries) CreateUser(ctx context.Context, u *ledger.User) error {
	query := `
		INSERT INTO users
		(username, email, password_hash, first_name, last_name, nickname,
		 birthdate, role, grad_class, balance, last_drink, deposit, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`
	var id int64
	err := r.q.QueryRow(ctx, query,
		u.Username, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.Nickname,
		u.Birthdate, int(u.Role), u.GradClass, u.Balance, u.LastDrink, u.Deposit, u.CreatedAt,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user %q: %w", u.Username, ledger.ErrDuplicateName)
		}
		return fmt.Errorf("create user: %w", err)
	}
	u.ID = ledger.UserID(id)
	return nil
}

func (r *queries) UpdateUser(ctx context.Context, u *ledger.User) error {
	query := `
		UPDATE users SET
			username = $1, email = $2, password_hash = $3, first_name = $4, last_name = $5,
			nickname = $6, birthdate = $7, role = $8, grad_class = $9, balance = $10,
			last_drink = $11, deposit = $12
		WHERE id = $13`
	tag, err := r.q.Exec(ctx, query,
		u.Username, u.Email, u.PasswordHash, u.FirstName, u.LastName,
		u.Nickname, u.Birthdate, int(u.Role), u.GradClass, u.Balance,
		u.LastDrink, u.Deposit, int64(u.ID),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user %q: %w", u.Username, ledger.ErrDuplicateName)
		}
		return fmt.Errorf("update user: %w", err)
	}
	return expectOneRow(tag, ledger.ErrUserNotFound)
}

func (r *queries) DeleteUser(ctx context.Context, id ledger.UserID) error {
	tag, err := r.q.Exec(ctx, "DELETE FROM users WHERE id = $1", int64(id))
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return expectOneRow(tag, ledger.ErrUserNotFound)
}

func (r *queries) ListUsers(ctx context.Context) ([]ledger.User, error) {
	rows, err := r.q.Query(ctx, "SELECT "+userColumns+" FROM users ORDER BY username")
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
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

func scanUser(row pgx.Row) (*ledger.User, error) {
	var (
		u    ledger.User
		id   int64
		role int
	)
	err := row.Scan(&id, &u.Username, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName,
		&u.Nickname, &u.Birthdate, &role, &u.GradClass, &u.Balance, &u.LastDrink, &u.Deposit,
		&u.CreatedAt)
	if err != nil {
		return nil, err
	}
	u.ID = ledger.UserID(id)
	u.Role = ledger.Role(role)
	u.Birthdate = ledger.Date(u.Birthdate.Date())
	u.CreatedAt = u.CreatedAt.UTC()
	if u.LastDrink != nil {
		t := u.LastDrink.UTC()
		u.LastDrink = &t
	}
	return &u, nil
}

// =============================================================================
// ITEMS
// =============================================================================

const itemColumns = `id, name, price, is_alcohol, is_quantifiable, quantity, is_favorite`

func (r *queries) GetItem(ctx context.Context, id ledger.ItemID) (*ledger.Item, error) {
	return r.getItem(ctx, "SELECT "+itemColumns+" FROM items WHERE id = $1", int64(id))
}

func (r *queries) GetItemByName(ctx context.Context, name string) (*ledger.Item, error) {
	return r.getItem(ctx, "SELECT "+itemColumns+" FROM items WHERE name = $1", name)
}

func (r *queries) GetItemForUpdate(ctx context.Context, id ledger.ItemID) (*ledger.Item, error) {
	return r.getItem(ctx, "SELECT "+itemColumns+" FROM items WHERE id = $1 FOR UPDATE", int64(id))
}

func (r *queries) getItem(ctx context.Context, query string, arg any) (*ledger.Item, error) {
	item, err := scanItem(r.q.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

func (r *queries) CreateItem(ctx context.Context, item *ledger.Item) error {
	query := `
		INSERT INTO items (name, price, is_alcohol, is_quantifiable, quantity, is_favorite)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	var id int64
	err := r.q.QueryRow(ctx, query,
		item.Name, item.Price, item.IsAlcohol, item.IsQuantifiable, item.Quantity, item.IsFavorite,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("item %q: %w", item.Name, ledger.ErrDuplicateName)
		}
		return fmt.Errorf("create item: %w", err)
	}
	item.ID = ledger.ItemID(id)
	return nil
}

func (r *queries) UpdateItem(ctx context.Context, item *ledger.Item) error {
	query := `
		UPDATE items SET
			name = $1, price = $2, is_alcohol = $3, is_quantifiable = $4, quantity = $5, is_favorite = $6
		WHERE id = $7`
	tag, err := r.q.Exec(ctx, query,
		item.Name, item.Price, item.IsAlcohol, item.IsQuantifiable, item.Quantity, item.IsFavorite,
		int64(item.ID))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("item %q: %w", item.Name, ledger.ErrDuplicateName)
		}
		return fmt.Errorf("update item: %w", err)
	}
	return expectOneRow(tag, ledger.ErrItemNotFound)
}

func (r *queries) DeleteItem(ctx context.Context, id ledger.ItemID) error {
	tag, err := r.q.Exec(ctx, "DELETE FROM items WHERE id = $1", int64(id))
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return expectOneRow(tag, ledger.ErrItemNotFound)
}

func (r *queries) ListItems(ctx context.Context, filter ledger.ItemFilter) ([]ledger.Item, error) {
	query := "SELECT " + itemColumns + " FROM items"
	if filter.FavoritesOnly {
		query += " WHERE is_favorite"
	}
	query += " ORDER BY name"

	rows, err := r.q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
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

func scanItem(row pgx.Row) (*ledger.Item, error) {
	var (
		item ledger.Item
		id   int64
	)
	err := row.Scan(&id, &item.Name, &item.Price, &item.IsAlcohol,
		&item.IsQuantifiable, &item.Quantity, &item.IsFavorite)
	if err != nil {
		return nil, err
	}
	item.ID = ledger.ItemID(id)
	return &item, nil
}

// =============================================================================
// TRANSACTION LOG
// =============================================================================

const txColumns = `t.id, t.date, t.operator, t.kind, t.type, t.client_id, t.item_id,
	t.balance_change, t.reverted_id, t.is_reverted`

func (r *queries) AppendTransaction(ctx context.Context, tx *ledger.Transaction) error {
	query := `
		INSERT INTO transactions
		(date, operator, kind, type, client_id, item_id, balance_change, reverted_id, is_reverted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`
	var change decimal.NullDecimal
	if tx.BalanceChange != nil {
		change = decimal.NewNullDecimal(*tx.BalanceChange)
	}
	var id int64
	err := r.q.QueryRow(ctx, query,
		tx.Date, tx.Operator, string(tx.Kind), tx.Type,
		optionalID(tx.ClientID), optionalID(tx.ItemID), change, optionalID(tx.RevertedID),
		tx.IsReverted,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	tx.ID = ledger.TransactionID(id)
	return nil
}

func (r *queries) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	return r.getTransaction(ctx, "SELECT "+txColumns+" FROM transactions t WHERE t.id = $1", id)
}

func (r *queries) GetTransactionForUpdate(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	return r.getTransaction(ctx, "SELECT "+txColumns+" FROM transactions t WHERE t.id = $1 FOR UPDATE", id)
}

func (r *queries) getTransaction(ctx context.Context, query string, id ledger.TransactionID) (*ledger.Transaction, error) {
	tx, err := scanTransaction(r.q.QueryRow(ctx, query, int64(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return tx, nil
}

// MarkReverted is the only UPDATE ever run on the log.
func (r *queries) MarkReverted(ctx context.Context, id ledger.TransactionID) error {
	tag, err := r.q.Exec(ctx, "UPDATE transactions SET is_reverted = TRUE WHERE id = $1", int64(id))
	if err != nil {
		return fmt.Errorf("mark reverted: %w", err)
	}
	return expectOneRow(tag, ledger.ErrTransactionNotFound)
}

func (r *queries) ListTransactions(ctx context.Context, filter ledger.TransactionFilter) ([]ledger.Transaction, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.ClientID != nil {
		where = append(where, "t.client_id = "+arg(int64(*filter.ClientID)))
	}
	if filter.Kind != "" {
		where = append(where, "t.kind = "+arg(string(filter.Kind)))
	}
	if filter.Since != nil {
		where = append(where, "t.date >= "+arg(*filter.Since))
	}
	if filter.Until != nil {
		where = append(where, "t.date < "+arg(*filter.Until))
	}
	if filter.ExcludeReverted {
		where = append(where, "NOT t.is_reverted")
	}

	query := "SELECT " + txColumns + " FROM transactions t"
	if filter.AlcoholOnly {
		query += " JOIN items i ON i.id = t.item_id"
		where = append(where, "t.kind = "+arg(string(ledger.KindPay)), "i.is_alcohol")
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if filter.Descending {
		query += " ORDER BY t.date DESC, t.id DESC"
	} else {
		query += " ORDER BY t.date ASC, t.id ASC"
	}
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
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

func (r *queries) CountAlcoholPurchases(ctx context.Context, userID ledger.UserID, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM transactions t
		JOIN items i ON i.id = t.item_id
		WHERE t.client_id = $1 AND t.kind = $2 AND NOT t.is_reverted
		  AND i.is_alcohol AND t.date >= $3`
	var n int
	if err := r.q.QueryRow(ctx, query, int64(userID), string(ledger.KindPay), since).Scan(&n); err != nil {
		return 0, fmt.Errorf("count alcohol purchases: %w", err)
	}
	return n, nil
}

func scanTransaction(row pgx.Row) (*ledger.Transaction, error) {
	var (
		tx         ledger.Transaction
		id         int64
		kind       string
		clientID   *int64
		itemID     *int64
		change     decimal.NullDecimal
		revertedID *int64
	)
	err := row.Scan(&id, &tx.Date, &tx.Operator, &kind, &tx.Type,
		&clientID, &itemID, &change, &revertedID, &tx.IsReverted)
	if err != nil {
		return nil, err
	}

	tx.ID = ledger.TransactionID(id)
	tx.Date = tx.Date.UTC()
	tx.Kind = ledger.TransactionKind(kind)
	if clientID != nil {
		v := ledger.UserID(*clientID)
		tx.ClientID = &v
	}
	if itemID != nil {
		v := ledger.ItemID(*itemID)
		tx.ItemID = &v
	}
	if change.Valid {
		d := change.Decimal
		tx.BalanceChange = &d
	}
	if revertedID != nil {
		v := ledger.TransactionID(*revertedID)
		tx.RevertedID = &v
	}
	return &tx, nil
}

// =============================================================================
// SETTINGS
// =============================================================================

func (r *queries) GetSetting(ctx context.Context, key string) (*ledger.Setting, error) {
	var s ledger.Setting
	err := r.q.QueryRow(ctx,
		"SELECT key, value, name FROM global_settings WHERE key = $1", key,
	).Scan(&s.Key, &s.Value, &s.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrSettingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get setting: %w", err)
	}
	return &s, nil
}

func (r *queries) UpdateSetting(ctx context.Context, key string, value int) error {
	tag, err := r.q.Exec(ctx, "UPDATE global_settings SET value = $1 WHERE key = $2", value, key)
	if err != nil {
		return fmt.Errorf("update setting: %w", err)
	}
	return expectOneRow(tag, ledger.ErrSettingNotFound)
}

func (r *queries) InsertSettingIfAbsent(ctx context.Context, s ledger.Setting) (bool, error) {
	tag, err := r.q.Exec(ctx,
		"INSERT INTO global_settings (key, value, name) VALUES ($1, $2, $3) ON CONFLICT (key) DO NOTHING",
		s.Key, s.Value, s.Name)
	if err != nil {
		return false, fmt.Errorf("insert setting: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *queries) ListSettings(ctx context.Context) ([]ledger.Setting, error) {
	rows, err := r.q.Query(ctx, "SELECT key, value, name FROM global_settings ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
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

// =============================================================================
// HELPERS
// =============================================================================

func optionalID[T ~int64](id *T) *int64 {
	if id == nil {
		return nil
	}
	v := int64(*id)
	return &v
}

func expectOneRow(tag pgconn.CommandTag, notFound error) error {
	if tag.RowsAffected() == 0 {
		return notFound
	}
	return nil
}

// isUniqueViolation reports a unique constraint failure (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
