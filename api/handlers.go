/*
handlers.go - HTTP API handlers for the bar ledger

PURPOSE:
  Exposes the ledger services as a REST API for the till and the
  dashboard. Handlers parse the request, check the operator where the
  rule depends on the target account, delegate to a ledger service and
  serialize the result.

ENDPOINTS:
  Users:
    GET    /api/users                              List accounts
    POST   /api/users                              Create account
    GET    /api/users/{username}                   Account details (self or bartender)
    PUT    /api/users/{username}                   Edit profile
    DELETE /api/users/{username}                   Delete account
    POST   /api/users/{username}/deposit           Record the deposit
    POST   /api/users/{username}/top-up            Credit the balance
    POST   /api/users/{username}/pay               Sell one item
    GET    /api/users/{username}/can-buy?item=     Dry-run the purchase rules
    GET    /api/users/{username}/transactions      Account history (self or bartender)

  Transactions:
    GET    /api/transactions                       Whole log, paged
    GET    /api/transactions/{id}                  One record
    POST   /api/transactions/{id}/revert           Undo a top-up or purchase

  Items:
    GET    /api/items[?favorites=true]             Menu
    POST   /api/items                              Add item
    GET    /api/items/quick-access                 Fast-checkout item
    GET    /api/items/{name}                       One item
    PUT    /api/items/{name}                       Edit item
    DELETE /api/items/{name}                       Remove item
    POST   /api/items/{name}/quick-access          Make it the fast-checkout item

  Settings and stats:
    GET    /api/settings, PUT /api/settings/{key}
    GET    /api/stats/daily, /monthly?year=&month=, /yearly

PAGING:
  Log listings return newest first, PageSize records per page, selected
  with ?page=N (1-based). Optional filters: kind, exclude_reverted.

ERROR HANDLING:
  Ledger errors go through writeLedgerError (errors.go). Malformed
  bodies and query parameters are 400 before any service is called.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/foyer/barledger/ledger"
	"github.com/rs/zerolog"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger    *ledger.Ledger
	Inventory *ledger.Inventory
	Accounts  *ledger.Accounts
	Settings  *ledger.Settings
	Reports   *ledger.Reports

	Logger         zerolog.Logger
	Metrics        http.Handler // served on /metrics when set
	AllowedOrigins []string     // CORS, empty = any
	PageSize       int

	store    ledger.Store
	now      func() time.Time
	location *time.Location
}

// DefaultPageSize is used when NewHandler is given a non-positive page size.
const DefaultPageSize = 50

// NewHandler builds every ledger service on top of store.
func NewHandler(store ledger.Store, opts ledger.Options, pageSize int) *Handler {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	h := &Handler{
		Ledger:    ledger.NewLedger(store, opts),
		Inventory: ledger.NewInventory(store, opts),
		Accounts:  ledger.NewAccounts(store, opts),
		Settings:  ledger.NewSettings(store, opts),
		Reports:   ledger.NewReports(store, opts),
		Logger:    opts.Logger,
		PageSize:  pageSize,
		store:     store,
		now:       opts.Now,
		location:  opts.Location,
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.location == nil {
		h.location = time.Local
	}
	return h
}

// Health reports whether the store answers. Stores without a Ping method
// are always healthy.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.store.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(r.Context()); err != nil {
			h.Logger.Error().Err(err).Msg("health check failed")
			writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// USER HANDLERS
// =============================================================================

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Accounts.ListUsers(r.Context())
	if err != nil {
		writeLedgerError(w, h.Logger, err)
		return
	}
	dtos := make([]UserDTO, len(users))
	for i := range users {
		dtos[i] = toUserDTO(&users[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	birthdate, err := parseDate(req.Birthdate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid birthdate, expected YYYY-MM-DD", err)
		return
	}
	role := ledger.RoleCustomer
	if req.Role != "" {
		if role, err = ledger.ParseRole(req.Role); err != nil {
			writeLedgerError(w, h.Logger, err)
			return
		}
	}

	user, err := h.Accounts.CreateUser(r.Context(), ledger.NewUser{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Nickname:  req.Nickname,
		Birthdate: birthdate,
		GradClass: req.GradClass,
		Role:      role,
	})
	if err != nil {
		writeLedgerError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(user))
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	username := pathParam(r, "username")
	if err := selfOrServe(operator(r), username); err != nil {
		writeLedgerError(w, h.Logger, err)
		return
	}
	user, err := h.Accounts.GetUser(r.Context(), username)
	if err != nil {
		writeLedgerError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(user))
}

func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req UpdateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	upd := ledger.ProfileUpdate{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Nickname:  req.Nickname,
		GradClass: req.GradClass,
		Password:  req.Password,
	}
	if req.Birthdate != nil {
		birthdate, err := parseDate(*req.Birthdate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid birthdate, expected YYYY-MM-DD", err)
			return
		}
		upd.Birthdate = &birthdate
	}
	if req.Role != nil {
		role, err := ledger.ParseRole(*req.Role)
		if err != nil {
			writeLedgerError(w, h.Logger, err)
			return
		}
		upd.Role = &role
	}

	user, err := h.Accounts.EditProfile(r.Context(), operator(r).Role, pathParam(r, "username"), upd)
	if err != nil {
		writeLedgerError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(user))
}

func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.Accounts.DeleteUser(r.Context(), operator(r).Role, pathParam(r, "username")); err != nil {
		writeLedgerError(w, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// MONEY HANDLERS
// =============================================================================

func (h *Handler) SetDeposit(w http.ResponseWriter, r *http.Request) {
	user, ok := h.targetUser(w, r)
	if !ok {
		return
	}
	changed, err := h.Ledger.SetDeposit(r.Context(), user.ID, operator(r).Username)
	if err != nil {
		writeLedgerError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, DepositResponse{Changed: changed, Deposit: true})
}

func (h *Handler) TopUp(w http.ResponseWriter, r *http.Request) {
	var req TopUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	user, ok := h.targetUser(w, r)
	if !ok {
		return
	}
	tx, err := h.Ledger.TopUp(r.Context(), user.ID, req.Amount, operator(r).Username)
	if err != nil {
		writeLedgerError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	var req PayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	user, ok := h.targetUser(w, r)
	if !ok {
		return
	}
	itemID, err := h.itemID(r.Context(), req.Item)
	if err != nil {
		writeLedgerError(w, h.Logger, err)
		return
	}
	tx, err := h.Ledger.Charge(r.Context(), user.ID, itemID, operator(r).Username)
	if err != nil {
		writeLedgerError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

func (h *Handler) CanBuy(w http.ResponseWriter, r *http.Request) {
	user, ok := h.targetUser(w, r)
	if !ok {
		return
	}
	itemID, err := h.itemID(r.Context(), r.URL.Query().Get("item"))
	if err != nil {
		writeLedgerError(w, h.Logger, err)
		return
	}
	verdict, err := h.Ledger.CanBuy(r.Context(), user.ID, itemID)
	if err != nil {
		writeLedgerError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toVerdictDTO(verdict))
}

// targetUser loads the account named in the path, writing the error
// response itself when it cannot.
func (h *Handler) targetUser(w http.ResponseWriter, r *http.Request) (*ledger.User, bool) {
	user, err := h.Accounts.GetUser(r.Context(), pathParam(r, "username"))
	if err != nil {
		writeLedgerError(w, h.Logger, err)
		return nil, false
	}
	return user, true
}

// itemID resolves an item name. An empty name is item 0, "nothing selected".
func (h *Handler) itemID(ctx context.Context, name string) (ledger.ItemID, error) {
	if name == "" {
		return 0, nil
	}
	item, err := h.Inventory.GetItem(ctx, name)
	if err != nil {
		return 0, err
	}
	return item.ID, nil
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	filter, page, err := h.transactionFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid query", err)
		return
	}
	txs, err := h.Ledger.ListTransactions(r.Context(), filter)
	if err != nil {
		writeLedgerError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, TransactionPage{Transactions: toTransactionDTOs(txs), Page: page, PageSize: h.PageSize})
}

func (h *Handler) ListUserTransactions(w http.ResponseWriter, r *http.Request) {
	username := pathParam(r, "username")
	if err := selfOrServe(operator(r), username); err != nil {
		writeLedgerError(w, h.Logger, err)
		return
	}
	filter, page, err := h.transactionFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid query", err)
		return
	}
	user, ok := h.targetUser(w, r)
	if !ok {
		return
	}
	txs, err := h.Ledger.ListTransactionsForUser(r.Context(), user.ID, filter)
	if err != nil {
		writeLedgerError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, TransactionPage{Transactions: toTransactionDTOs(txs), Page: page, PageSize: h.PageSize})
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := transactionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid transaction id", err)
		return
	}
	tx, err := h.Ledger.GetTransaction(r.Context(), id)
	if err != nil {
		writeLedgerError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

func (h *Handler) RevertTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := transactionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid transaction id", err)
		return
	}
	marker, err := h.Ledger.Revert(r.Context(), id, operator(r).Username)
	if err != nil {
		writeLedgerError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(marker))
}

func transactionID(r *http.Request) (ledger.TransactionID, error) {
	id, err := strconv.ParseInt(pathParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("expected a positive integer, got %q", pathParam(r, "id"))
	}
	return ledger.TransactionID(id), nil
}

// transactionFilter reads page, kind and exclude_reverted.
func (h *Handler) transactionFilter(r *http.Request) (ledger.TransactionFilter, int, error) {
	q := r.URL.Query()
	page := 1
	if s := q.Get("page"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return ledger.TransactionFilter{}, 0, fmt.Errorf("page must be a positive integer, got %q", s)
		}
		page = n
	}
	filter := ledger.TransactionFilter{
		Descending: true,
		Limit:      h.PageSize,
		Offset:     (page - 1) * h.PageSize,
	}
	if s := q.Get("kind"); s != "" {
		filter.Kind = ledger.TransactionKind(s)
		if !filter.Kind.Valid() {
			return ledger.TransactionFilter{}, 0, fmt.Errorf("unknown kind %q", s)
		}
	}
	if s := q.Get("exclude_reverted"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			return ledger.TransactionFilter{}, 0, fmt.Errorf("exclude_reverted: %w", err)
		}
		filter.ExcludeReverted = v
	}
	return filter, page, nil
}

// =============================================================================
// ITEM HANDLERS
// =============================================================================

func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	var filter ledger.ItemFilter
	if s := r.URL.Query().Get("favorites"); s != "" {
		v, err := strconv.ParseBool(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid query", err)
			return
		}
		filter.FavoritesOnly = v
	}
	items, err := h.Inventory.ListItems(r.Context(), filter)
	if err != nil {
		writeLedgerError(w, h.Logger, err)
		return
	}
	dtos := make([]ItemDTO, len(items))
	for i := range items {
		dtos[i] = toItemDTO(&items[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req CreateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	item, err := h.Inventory.AddItem(r.Context(), ledger.NewItem{
		Name:           req.Name,
		Price:          req.Price,
		IsAlcohol:      req.IsAlcohol,
		IsQuantifiable: req.IsQuantifiable,
		Quantity:       req.Quantity,
		IsFavorite:     req.IsFavorite,
	})
	if err != nil {
		writeLedgerError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemDTO(item))
}

func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.Inventory.GetItem(r.Context(), pathParam(r, "name"))
	if err != nil {
		writeLedgerError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(item))
}

func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var req UpdateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	item, err := h.Inventory.EditItem(r.Context(), pathParam(r, "name"), ledger.ItemUpdate{
		Name:           req.Name,
		Price:          req.Price,
		IsAlcohol:      req.IsAlcohol,
		IsQuantifiable: req.IsQuantifiable,
		Quantity:       req.Quantity,
		IsFavorite:     req.IsFavorite,
	})
	if err != nil {
		writeLedgerError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(item))
}

func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := h.Inventory.DeleteItem(r.Context(), pathParam(r, "name")); err != nil {
		writeLedgerError(w, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetQuickAccessItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.Inventory.QuickAccessItem(r.Context())
	if err != nil {
		writeLedgerError(w, h.Logger, err)
		return
	}
	var resp QuickAccessResponse
	if item != nil {
		dto := toItemDTO(item)
		resp.Item = &dto
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) SetQuickAccessItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.Inventory.SetQuickAccessItem(r.Context(), operator(r).Role, pathParam(r, "name"))
	if err != nil {
		writeLedgerError(w, h.Logger, err)
		return
	}
	dto := toItemDTO(item)
	writeJSON(w, http.StatusOK, QuickAccessResponse{Item: &dto})
}

// =============================================================================
// SETTINGS HANDLERS
// =============================================================================

func (h *Handler) ListSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.Settings.List(r.Context())
	if err != nil {
		writeLedgerError(w, h.Logger, err)
		return
	}
	dtos := make([]SettingDTO, len(settings))
	for i, s := range settings {
		dtos[i] = SettingDTO{Key: s.Key, Value: s.Value, Name: s.Name}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) UpdateSetting(w http.ResponseWriter, r *http.Request) {
	var req UpdateSettingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	key := pathParam(r, "key")
	if err := h.Settings.Set(r.Context(), operator(r).Role, key, req.Value); err != nil {
		writeLedgerError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, SettingDTO{Key: key, Value: req.Value, Name: ledger.DefaultSettingNames[key]})
}

// =============================================================================
// STATS HANDLERS
// =============================================================================

func (h *Handler) DailyStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Reports.DailyStatistics(r.Context())
	if err != nil {
		writeLedgerError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, DailyStatsDTO{
		Since:         *timestamp(stats.Since),
		Clients:       stats.Clients,
		Purchases:     stats.Purchases,
		AlcoholLitres: stats.AlcoholLitres,
		Revenue:       stats.Revenue,
	})
}

// MonthlyStats defaults to the current month in the bar's timezone.
func (h *Handler) MonthlyStats(w http.ResponseWriter, r *http.Request) {
	now := h.now().In(h.location)
	year, month := now.Year(), int(now.Month())
	q := r.URL.Query()
	if s := q.Get("year"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid year", err)
			return
		}
		year = n
	}
	if s := q.Get("month"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 12 {
			writeError(w, http.StatusBadRequest, "Invalid month", err)
			return
		}
		month = n
	}

	totals, err := h.Reports.MonthlyTotals(r.Context(), year, time.Month(month))
	if err != nil {
		writeLedgerError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodDTOs(totals))
}

func (h *Handler) YearlyStats(w http.ResponseWriter, r *http.Request) {
	totals, err := h.Reports.YearlyTotals(r.Context())
	if err != nil {
		writeLedgerError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toPeriodDTOs(totals))
}
