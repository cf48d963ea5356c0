/*
demo.go - Demo bar loaders for development and demonstrations

PURPOSE:
  Fills an empty store with a realistic bar so the till and dashboard have
  something to show. Every record goes through the ledger services, so the
  demo data obeys the same rules as real traffic.

AVAILABLE SCENARIOS:
  menu:          The standard menu, no accounts
  friday-night:  Menu, one account per role, funded customers and a few
                 purchases (one of them reverted)

USAGE:
  ./server -scenario=friday-night

  Loading is refused when the store already has items, so a real bar
  database is never mixed with demo data.

SEE ALSO:
  - cmd/server/main.go: -scenario flag
*/
package demo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/foyer/barledger/ledger"
	"github.com/shopspring/decimal"
)

// Password shared by every demo account.
const Password = "demo"

// ErrNotEmpty is returned when the store already holds items.
var ErrNotEmpty = errors.New("demo data can only be loaded into an empty store")

// Services are the ledger services a scenario writes through.
type Services struct {
	Ledger    *ledger.Ledger
	Inventory *ledger.Inventory
	Accounts  *ledger.Accounts
}

// Scenario is a named demo data set.
type Scenario struct {
	ID          string
	Name        string
	Description string
	load        func(ctx context.Context, svc Services) error
}

var scenarios = []Scenario{
	{
		ID:          "menu",
		Name:        "Menu",
		Description: "Standard menu with tracked and untracked stock",
		load:        loadMenu,
	},
	{
		ID:          "friday-night",
		Name:        "Friday Night",
		Description: "Menu, staff, funded customers and an evening of purchases",
		load:        loadFridayNight,
	},
}

// Scenarios lists the available scenarios.
func Scenarios() []Scenario {
	out := make([]Scenario, len(scenarios))
	copy(out, scenarios)
	return out
}

// Load runs the scenario with the given id.
func Load(ctx context.Context, svc Services, id string) error {
	for _, s := range scenarios {
		if s.ID != id {
			continue
		}
		items, err := svc.Inventory.ListItems(ctx, ledger.ItemFilter{})
		if err != nil {
			return err
		}
		if len(items) > 0 {
			return ErrNotEmpty
		}
		return s.load(ctx, svc)
	}
	return fmt.Errorf("unknown scenario %q", id)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func stock(n int) *int { return &n }

var menu = []struct {
	name     string
	price    string
	alcohol  bool
	quantity *int // nil = untracked
	favorite bool
}{
	{"Beer", "2.50", true, stock(48), true},
	{"Cider", "2.50", true, stock(24), false},
	{"Red Wine", "3.00", true, nil, false},
	{"Soda", "1.20", false, stock(36), true},
	{"Coffee", "0.80", false, nil, true},
	{"Chips", "1.00", false, stock(20), false},
	{"Tap Water", "0", false, nil, false},
}

func loadMenu(ctx context.Context, svc Services) error {
	for _, m := range menu {
		in := ledger.NewItem{
			Name:       m.name,
			Price:      decimal.RequireFromString(m.price),
			IsAlcohol:  m.alcohol,
			IsFavorite: m.favorite,
		}
		if m.quantity != nil {
			in.IsQuantifiable = true
			in.Quantity = *m.quantity
		}
		if _, err := svc.Inventory.AddItem(ctx, in); err != nil {
			return fmt.Errorf("add %s: %w", m.name, err)
		}
	}
	return nil
}

func loadFridayNight(ctx context.Context, svc Services) error {
	if err := loadMenu(ctx, svc); err != nil {
		return err
	}

	people := []struct {
		username, first, last string
		born                  time.Time
		role                  ledger.Role
		topUp                 string // "" = no deposit, no money
	}{
		{"admin", "Ada", "Admin", ledger.Date(1985, time.April, 2), ledger.RoleAdmin, ""},
		{"barman", "Bart", "Ender", ledger.Date(1995, time.June, 9), ledger.RoleBartender, ""},
		{"treasurer", "Otto", "Server", ledger.Date(1992, time.November, 23), ledger.RoleObserver, ""},
		{"alice", "Alice", "Martin", ledger.Date(2001, time.February, 14), ledger.RoleCustomer, "20"},
		{"bob", "Bob", "Durand", ledger.Date(2000, time.August, 30), ledger.RoleCustomer, "5"},
		{"chloe", "Chloé", "Petit", time.Now().AddDate(-17, 0, 0), ledger.RoleCustomer, "10"},
		{"dan", "Dan", "Leroy", ledger.Date(1999, time.January, 7), ledger.RoleCustomer, ""},
	}
	users := make(map[string]*ledger.User, len(people))
	for _, p := range people {
		u, err := svc.Accounts.CreateUser(ctx, ledger.NewUser{
			Username:  p.username,
			Email:     p.username + "@bar.example",
			Password:  Password,
			FirstName: p.first,
			LastName:  p.last,
			Birthdate: p.born,
			Role:      p.role,
		})
		if err != nil {
			return fmt.Errorf("create %s: %w", p.username, err)
		}
		users[p.username] = u
		if p.topUp == "" {
			continue
		}
		if _, err := svc.Ledger.SetDeposit(ctx, u.ID, "barman"); err != nil {
			return err
		}
		if _, err := svc.Ledger.TopUp(ctx, u.ID, decimal.RequireFromString(p.topUp), "barman"); err != nil {
			return err
		}
	}

	orders := []struct{ user, item string }{
		{"alice", "Beer"},
		{"alice", "Chips"},
		{"bob", "Cider"},
		{"chloe", "Soda"},
		{"alice", "Beer"},
	}
	var last *ledger.Transaction
	for _, o := range orders {
		item, err := svc.Inventory.GetItem(ctx, o.item)
		if err != nil {
			return err
		}
		if last, err = svc.Ledger.Charge(ctx, users[o.user].ID, item.ID, "barman"); err != nil {
			return fmt.Errorf("charge %s to %s: %w", o.item, o.user, err)
		}
	}
	// The last beer was rung up by mistake.
	_, err := svc.Ledger.Revert(ctx, last.ID, "barman")
	return err
}
