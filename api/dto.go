/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON shapes of the HTTP API. Domain types never go on the wire directly,
  so the ledger can evolve without breaking the bar's front end.

NAMING CONVENTION:
  - *DTO:      Response types returned to clients
  - *Request:  Request body types from clients
  - *Response: Small response wrappers

MONEY:
  Every amount is a decimal.Decimal, which encodes as a JSON string ("2.5")
  and decodes from either a string or a number.

DATES:
  Birthdates travel as "2006-01-02". Timestamps are RFC 3339 in UTC.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/foyer/barledger/ledger"
	"github.com/shopspring/decimal"
)

const dateFormat = "2006-01-02"

// =============================================================================
// USERS
// =============================================================================

// UserDTO represents an account in API responses.
type UserDTO struct {
	ID        int64           `json:"id"`
	Username  string          `json:"username"`
	Email     string          `json:"email"`
	FirstName string          `json:"first_name"`
	LastName  string          `json:"last_name"`
	Nickname  string          `json:"nickname,omitempty"`
	FullName  string          `json:"full_name"`
	Birthdate string          `json:"birthdate"`
	Role      string          `json:"role"`
	GradClass int             `json:"grad_class,omitempty"`
	Balance   decimal.Decimal `json:"balance"`
	LastDrink *string         `json:"last_drink,omitempty"`
	Deposit   bool            `json:"deposit"`
	CreatedAt string          `json:"created_at,omitempty"`
}

// CreateUserRequest is the request to register an account.
type CreateUserRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Nickname  string `json:"nickname"`
	Birthdate string `json:"birthdate"`
	GradClass int    `json:"grad_class"`
	Role      string `json:"role"` // empty = customer
}

// UpdateUserRequest edits a profile. Absent fields are left unchanged.
type UpdateUserRequest struct {
	Email     *string `json:"email"`
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Nickname  *string `json:"nickname"`
	Birthdate *string `json:"birthdate"`
	GradClass *int    `json:"grad_class"`
	Role      *string `json:"role"`
	Password  *string `json:"password"`
}

// TopUpRequest credits an account.
type TopUpRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// PayRequest sells one unit of an item. An empty item means nothing was
// selected and is refused with reason no_item_selected.
type PayRequest struct {
	Item string `json:"item"`
}

// DepositResponse reports whether the deposit flag changed.
type DepositResponse struct {
	Changed bool `json:"changed"`
	Deposit bool `json:"deposit"`
}

// VerdictDTO is the outcome of a purchase check.
type VerdictDTO struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
	Message  string `json:"message,omitempty"`
}

// =============================================================================
// ITEMS
// =============================================================================

// ItemDTO represents a menu item in API responses.
type ItemDTO struct {
	ID             int64           `json:"id"`
	Name           string          `json:"name"`
	Price          decimal.Decimal `json:"price"`
	IsAlcohol      bool            `json:"is_alcohol"`
	IsQuantifiable bool            `json:"is_quantifiable"`
	Quantity       int             `json:"quantity"`
	IsFavorite     bool            `json:"is_favorite"`
	InStock        bool            `json:"in_stock"`
}

// CreateItemRequest is the request to add an item.
type CreateItemRequest struct {
	Name           string          `json:"name"`
	Price          decimal.Decimal `json:"price"`
	IsAlcohol      bool            `json:"is_alcohol"`
	IsQuantifiable bool            `json:"is_quantifiable"`
	Quantity       int             `json:"quantity"`
	IsFavorite     bool            `json:"is_favorite"`
}

// UpdateItemRequest edits an item. Absent fields are left unchanged.
type UpdateItemRequest struct {
	Name           *string          `json:"name"`
	Price          *decimal.Decimal `json:"price"`
	IsAlcohol      *bool            `json:"is_alcohol"`
	IsQuantifiable *bool            `json:"is_quantifiable"`
	Quantity       *int             `json:"quantity"`
	IsFavorite     *bool            `json:"is_favorite"`
}

// QuickAccessResponse wraps the fast-checkout item, null when none is set.
type QuickAccessResponse struct {
	Item *ItemDTO `json:"item"`
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// TransactionDTO represents one transaction log record.
type TransactionDTO struct {
	ID            int64            `json:"id"`
	Date          string           `json:"date"`
	Operator      string           `json:"operator"`
	Kind          string           `json:"kind"`
	Type          string           `json:"type"`
	ClientID      *int64           `json:"client_id,omitempty"`
	ItemID        *int64           `json:"item_id,omitempty"`
	BalanceChange *decimal.Decimal `json:"balance_change,omitempty"`
	RevertedID    *int64           `json:"reverted_id,omitempty"`
	IsReverted    bool             `json:"is_reverted"`
}

// TransactionPage is one page of the log, newest first.
type TransactionPage struct {
	Transactions []TransactionDTO `json:"transactions"`
	Page         int              `json:"page"`
	PageSize     int              `json:"page_size"`
}

// =============================================================================
// SETTINGS & STATS
// =============================================================================

// SettingDTO represents a global setting.
type SettingDTO struct {
	Key   string `json:"key"`
	Value int    `json:"value"`
	Name  string `json:"name"`
}

// UpdateSettingRequest sets a setting's value.
type UpdateSettingRequest struct {
	Value int `json:"value"`
}

// DailyStatsDTO summarises the current service day.
type DailyStatsDTO struct {
	Since         string          `json:"since"`
	Clients       int             `json:"clients"`
	Purchases     int             `json:"purchases"`
	AlcoholLitres decimal.Decimal `json:"alcohol_litres"`
	Revenue       decimal.Decimal `json:"revenue"`
}

// PeriodTotalsDTO is one bar of the monthly or yearly chart.
type PeriodTotalsDTO struct {
	Label    string          `json:"label"`
	Start    string          `json:"start"`
	Paid     decimal.Decimal `json:"paid"`
	ToppedUp decimal.Decimal `json:"topped_up"`
}

// ErrorResponse is returned for every failed request. Reason is set only
// for refused purchases.
type ErrorResponse struct {
	Error   string `json:"error"`
	Reason  string `json:"reason,omitempty"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toUserDTO(u *ledger.User) UserDTO {
	dto := UserDTO{
		ID:        int64(u.ID),
		Username:  u.Username,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Nickname:  u.Nickname,
		FullName:  u.FullName(),
		Birthdate: u.Birthdate.Format(dateFormat),
		Role:      u.Role.String(),
		GradClass: u.GradClass,
		Balance:   u.Balance,
		Deposit:   u.Deposit,
	}
	if u.LastDrink != nil {
		dto.LastDrink = timestamp(*u.LastDrink)
	}
	if !u.CreatedAt.IsZero() {
		dto.CreatedAt = *timestamp(u.CreatedAt)
	}
	return dto
}

func toItemDTO(item *ledger.Item) ItemDTO {
	return ItemDTO{
		ID:             int64(item.ID),
		Name:           item.Name,
		Price:          item.Price,
		IsAlcohol:      item.IsAlcohol,
		IsQuantifiable: item.IsQuantifiable,
		Quantity:       item.Quantity,
		IsFavorite:     item.IsFavorite,
		InStock:        item.InStock(),
	}
}

func toTransactionDTO(tx *ledger.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:            int64(tx.ID),
		Date:          *timestamp(tx.Date),
		Operator:      tx.Operator,
		Kind:          string(tx.Kind),
		Type:          tx.Type,
		BalanceChange: tx.BalanceChange,
		IsReverted:    tx.IsReverted,
	}
	if tx.ClientID != nil {
		id := int64(*tx.ClientID)
		dto.ClientID = &id
	}
	if tx.ItemID != nil {
		id := int64(*tx.ItemID)
		dto.ItemID = &id
	}
	if tx.RevertedID != nil {
		id := int64(*tx.RevertedID)
		dto.RevertedID = &id
	}
	return dto
}

func toTransactionDTOs(txs []ledger.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i := range txs {
		dtos[i] = toTransactionDTO(&txs[i])
	}
	return dtos
}

func toVerdictDTO(v ledger.Verdict) VerdictDTO {
	if v.Approved {
		return VerdictDTO{Approved: true}
	}
	return VerdictDTO{Reason: string(v.Reason), Message: v.Reason.Message()}
}

func toPeriodDTOs(totals []ledger.PeriodTotals) []PeriodTotalsDTO {
	dtos := make([]PeriodTotalsDTO, len(totals))
	for i, p := range totals {
		dtos[i] = PeriodTotalsDTO{
			Label:    p.Label,
			Start:    p.Start.Format(dateFormat),
			Paid:     p.Paid,
			ToppedUp: p.ToppedUp,
		}
	}
	return dtos
}

func timestamp(t time.Time) *string {
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func parseDate(s string) (time.Time, error) {
	return time.Parse(dateFormat, s)
}
