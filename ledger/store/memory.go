// Package store provides an in-memory ledger.Store.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/foyer/barledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps every table in maps behind one mutex. Values are copied on
// the way in and out so callers never share rows with the store.
type Memory struct {
	mu sync.Mutex
	st *state
}

type state struct {
	users        map[ledger.UserID]ledger.User
	items        map[ledger.ItemID]ledger.Item
	transactions []ledger.Transaction // ordered by ID, which follows insertion
	settings     map[string]ledger.Setting

	nextUserID ledger.UserID
	nextItemID ledger.ItemID
	nextTxID   ledger.TransactionID
}

var (
	_ ledger.Store        = (*Memory)(nil)
	_ ledger.Repositories = (*state)(nil)
)

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

func newState() *state {
	return &state{
		users:    make(map[ledger.UserID]ledger.User),
		items:    make(map[ledger.ItemID]ledger.Item),
		settings: make(map[string]ledger.Setting),
	}
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error
// or panic. A panic is re-raised once the snapshot is back in place.
// The mutex is held for the whole call, so transactions are serialized.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Repositories) error) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	defer func() {
		if p := recover(); p != nil {
			m.st = snapshot
			panic(p)
		}
	}()
	if err = fn(m.st); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

func (s *state) clone() *state {
	c := &state{
		users:        make(map[ledger.UserID]ledger.User, len(s.users)),
		items:        make(map[ledger.ItemID]ledger.Item, len(s.items)),
		transactions: make([]ledger.Transaction, len(s.transactions)),
		settings:     make(map[string]ledger.Setting, len(s.settings)),
		nextUserID:   s.nextUserID,
		nextItemID:   s.nextItemID,
		nextTxID:     s.nextTxID,
	}
	for k, v := range s.users {
		c.users[k] = copyUser(v)
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	for i, tx := range s.transactions {
		c.transactions[i] = copyTransaction(tx)
	}
	for k, v := range s.settings {
		c.settings[k] = v
	}
	return c
}

// =============================================================================
// LOCKED ENTRY POINTS - every method outside WithTx
// =============================================================================

func (m *Memory) GetUser(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.GetUser(ctx, id)
}

func (m *Memory) GetUserByUsername(ctx context.Context, username string) (*ledger.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.GetUserByUsername(ctx, username)
}

func (m *Memory) GetUserForUpdate(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	return m.GetUser(ctx, id)
}

func (m *Memory) CreateUser(ctx context.Context, u *ledger.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.CreateUser(ctx, u)
}

func (m *Memory) UpdateUser(ctx context.Context, u *ledger.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.UpdateUser(ctx, u)
}

func (m *Memory) DeleteUser(ctx context.Context, id ledger.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.DeleteUser(ctx, id)
}

func (m *Memory) ListUsers(ctx context.Context) ([]ledger.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ListUsers(ctx)
}

func (m *Memory) GetItem(ctx context.Context, id ledger.ItemID) (*ledger.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.GetItem(ctx, id)
}

func (m *Memory) GetItemByName(ctx context.Context, name string) (*ledger.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.GetItemByName(ctx, name)
}

func (m *Memory) GetItemForUpdate(ctx context.Context, id ledger.ItemID) (*ledger.Item, error) {
	return m.GetItem(ctx, id)
}

func (m *Memory) CreateItem(ctx context.Context, item *ledger.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.CreateItem(ctx, item)
}

func (m *Memory) UpdateItem(ctx context.Context, item *ledger.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.UpdateItem(ctx, item)
}

func (m *Memory) DeleteItem(ctx context.Context, id ledger.ItemID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.DeleteItem(ctx, id)
}

func (m *Memory) ListItems(ctx context.Context, filter ledger.ItemFilter) ([]ledger.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ListItems(ctx, filter)
}

func (m *Memory) AppendTransaction(ctx context.Context, tx *ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.AppendTransaction(ctx, tx)
}

func (m *Memory) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.GetTransaction(ctx, id)
}

func (m *Memory) GetTransactionForUpdate(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	return m.GetTransaction(ctx, id)
}

func (m *Memory) MarkReverted(ctx context.Context, id ledger.TransactionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.MarkReverted(ctx, id)
}

func (m *Memory) ListTransactions(ctx context.Context, filter ledger.TransactionFilter) ([]ledger.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ListTransactions(ctx, filter)
}

func (m *Memory) CountAlcoholPurchases(ctx context.Context, userID ledger.UserID, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.CountAlcoholPurchases(ctx, userID, since)
}

func (m *Memory) GetSetting(ctx context.Context, key string) (*ledger.Setting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.GetSetting(ctx, key)
}

func (m *Memory) UpdateSetting(ctx context.Context, key string, value int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.UpdateSetting(ctx, key, value)
}

func (m *Memory) InsertSettingIfAbsent(ctx context.Context, s ledger.Setting) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.InsertSettingIfAbsent(ctx, s)
}

func (m *Memory) ListSettings(ctx context.Context) ([]ledger.Setting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ListSettings(ctx)
}

// =============================================================================
// UNLOCKED STATE - the caller holds m.mu
// =============================================================================

// Row locks are implied by the store mutex.
func (s *state) GetUserForUpdate(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	return s.GetUser(ctx, id)
}

func (s *state) GetItemForUpdate(ctx context.Context, id ledger.ItemID) (*ledger.Item, error) {
	return s.GetItem(ctx, id)
}

func (s *state) GetTransactionForUpdate(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	return s.GetTransaction(ctx, id)
}

// Users

func (s *state) GetUser(_ context.Context, id ledger.UserID) (*ledger.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, ledger.ErrUserNotFound
	}
	u = copyUser(u)
	return &u, nil
}

func (s *state) GetUserByUsername(_ context.Context, username string) (*ledger.User, error) {
	for _, u := range s.users {
		if u.Username == username {
			u = copyUser(u)
			return &u, nil
		}
	}
	return nil, ledger.ErrUserNotFound
}

func (s *state) CreateUser(_ context.Context, u *ledger.User) error {
	if s.userConflict(u) {
		return ledger.ErrDuplicateName
	}
	s.nextUserID++
	u.ID = s.nextUserID
	s.users[u.ID] = copyUser(*u)
	return nil
}

func (s *state) UpdateUser(_ context.Context, u *ledger.User) error {
	if _, ok := s.users[u.ID]; !ok {
		return ledger.ErrUserNotFound
	}
	if s.userConflict(u) {
		return ledger.ErrDuplicateName
	}
	s.users[u.ID] = copyUser(*u)
	return nil
}

func (s *state) userConflict(u *ledger.User) bool {
	for id, other := range s.users {
		if id == u.ID {
			continue
		}
		if other.Username == u.Username || (u.Email != "" && strings.EqualFold(other.Email, u.Email)) {
			return true
		}
	}
	return false
}

func (s *state) DeleteUser(_ context.Context, id ledger.UserID) error {
	if _, ok := s.users[id]; !ok {
		return ledger.ErrUserNotFound
	}
	delete(s.users, id)
	return nil
}

func (s *state) ListUsers(_ context.Context) ([]ledger.User, error) {
	users := make([]ledger.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, copyUser(u))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

// Items

func (s *state) GetItem(_ context.Context, id ledger.ItemID) (*ledger.Item, error) {
	item, ok := s.items[id]
	if !ok {
		return nil, ledger.ErrItemNotFound
	}
	return &item, nil
}

func (s *state) GetItemByName(_ context.Context, name string) (*ledger.Item, error) {
	for _, item := range s.items {
		if item.Name == name {
			return &item, nil
		}
	}
	return nil, ledger.ErrItemNotFound
}

func (s *state) CreateItem(_ context.Context, item *ledger.Item) error {
	if s.itemNameTaken(item.Name, 0) {
		return ledger.ErrDuplicateName
	}
	s.nextItemID++
	item.ID = s.nextItemID
	s.items[item.ID] = *item
	return nil
}

func (s *state) UpdateItem(_ context.Context, item *ledger.Item) error {
	if _, ok := s.items[item.ID]; !ok {
		return ledger.ErrItemNotFound
	}
	if s.itemNameTaken(item.Name, item.ID) {
		return ledger.ErrDuplicateName
	}
	s.items[item.ID] = *item
	return nil
}

func (s *state) itemNameTaken(name string, except ledger.ItemID) bool {
	for id, other := range s.items {
		if id != except && other.Name == name {
			return true
		}
	}
	return false
}

func (s *state) DeleteItem(_ context.Context, id ledger.ItemID) error {
	if _, ok := s.items[id]; !ok {
		return ledger.ErrItemNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *state) ListItems(_ context.Context, filter ledger.ItemFilter) ([]ledger.Item, error) {
	items := make([]ledger.Item, 0, len(s.items))
	for _, item := range s.items {
		if filter.FavoritesOnly && !item.IsFavorite {
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

// Transactions

func (s *state) AppendTransaction(_ context.Context, tx *ledger.Transaction) error {
	s.nextTxID++
	tx.ID = s.nextTxID
	s.transactions = append(s.transactions, copyTransaction(*tx))
	return nil
}

func (s *state) find(id ledger.TransactionID) int {
	i := sort.Search(len(s.transactions), func(i int) bool { return s.transactions[i].ID >= id })
	if i < len(s.transactions) && s.transactions[i].ID == id {
		return i
	}
	return -1
}

func (s *state) GetTransaction(_ context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	i := s.find(id)
	if i < 0 {
		return nil, ledger.ErrTransactionNotFound
	}
	tx := copyTransaction(s.transactions[i])
	return &tx, nil
}

func (s *state) MarkReverted(_ context.Context, id ledger.TransactionID) error {
	i := s.find(id)
	if i < 0 {
		return ledger.ErrTransactionNotFound
	}
	s.transactions[i].IsReverted = true
	return nil
}

func (s *state) ListTransactions(_ context.Context, filter ledger.TransactionFilter) ([]ledger.Transaction, error) {
	var result []ledger.Transaction
	for _, tx := range s.transactions {
		if !filter.Matches(tx) {
			continue
		}
		if filter.AlcoholOnly && !s.isAlcoholPurchase(tx) {
			continue
		}
		result = append(result, copyTransaction(tx))
	}

	sort.SliceStable(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.Date.Equal(b.Date) {
			if filter.Descending {
				return a.Date.After(b.Date)
			}
			return a.Date.Before(b.Date)
		}
		if filter.Descending {
			return a.ID > b.ID
		}
		return a.ID < b.ID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []ledger.Transaction{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	if result == nil {
		result = []ledger.Transaction{}
	}
	return result, nil
}

func (s *state) isAlcoholPurchase(tx ledger.Transaction) bool {
	if tx.Kind != ledger.KindPay || tx.ItemID == nil {
		return false
	}
	item, ok := s.items[*tx.ItemID]
	return ok && item.IsAlcohol
}

func (s *state) CountAlcoholPurchases(_ context.Context, userID ledger.UserID, since time.Time) (int, error) {
	n := 0
	for _, tx := range s.transactions {
		if tx.IsReverted || tx.ClientID == nil || *tx.ClientID != userID {
			continue
		}
		if tx.Date.Before(since) || !s.isAlcoholPurchase(tx) {
			continue
		}
		n++
	}
	return n, nil
}

// Settings

func (s *state) GetSetting(_ context.Context, key string) (*ledger.Setting, error) {
	setting, ok := s.settings[key]
	if !ok {
		return nil, ledger.ErrSettingNotFound
	}
	return &setting, nil
}

func (s *state) UpdateSetting(_ context.Context, key string, value int) error {
	setting, ok := s.settings[key]
	if !ok {
		return ledger.ErrSettingNotFound
	}
	setting.Value = value
	s.settings[key] = setting
	return nil
}

func (s *state) InsertSettingIfAbsent(_ context.Context, setting ledger.Setting) (bool, error) {
	if _, ok := s.settings[setting.Key]; ok {
		return false, nil
	}
	s.settings[setting.Key] = setting
	return true, nil
}

func (s *state) ListSettings(_ context.Context) ([]ledger.Setting, error) {
	settings := make([]ledger.Setting, 0, len(s.settings))
	for _, setting := range s.settings {
		settings = append(settings, setting)
	}
	sort.Slice(settings, func(i, j int) bool { return settings[i].Key < settings[j].Key })
	return settings, nil
}

// =============================================================================
// COPY HELPERS
// =============================================================================

func copyUser(u ledger.User) ledger.User {
	if u.LastDrink != nil {
		t := *u.LastDrink
		u.LastDrink = &t
	}
	return u
}

func copyTransaction(tx ledger.Transaction) ledger.Transaction {
	if tx.ClientID != nil {
		v := *tx.ClientID
		tx.ClientID = &v
	}
	if tx.ItemID != nil {
		v := *tx.ItemID
		tx.ItemID = &v
	}
	if tx.BalanceChange != nil {
		v := *tx.BalanceChange
		tx.BalanceChange = &v
	}
	if tx.RevertedID != nil {
		v := *tx.RevertedID
		tx.RevertedID = &v
	}
	return tx
}
