package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// =============================================================================
// STOCK MOVEMENTS - used by Charge and Revert inside their transactions
// =============================================================================

// DecrementOnPurchase takes one unit out of stock. Items that are not
// quantifiable are never out of stock.
func DecrementOnPurchase(item *Item) error {
	if !item.IsQuantifiable {
		return nil
	}
	if item.Quantity <= 0 {
		return fmt.Errorf("%s: %w", item.Name, ErrOutOfStock)
	}
	item.Quantity--
	return nil
}

// IncrementOnRevert puts one unit back. There is no upper bound.
func IncrementOnRevert(item *Item) {
	if item.IsQuantifiable {
		item.Quantity++
	}
}

// =============================================================================
// INVENTORY SERVICE
// =============================================================================

// NewItem describes an item to add.
type NewItem struct {
	Name           string
	Price          decimal.Decimal
	IsAlcohol      bool
	IsQuantifiable bool
	Quantity       int // ignored unless IsQuantifiable
	IsFavorite     bool
}

// ItemUpdate is a partial edit; nil fields are left unchanged.
//
// Quantity is applied only when the edited item is quantifiable. Turning
// IsQuantifiable off keeps the stored quantity, so turning it back on later
// resumes from the same count.
type ItemUpdate struct {
	Name           *string
	Price          *decimal.Decimal
	IsAlcohol      *bool
	IsQuantifiable *bool
	Quantity       *int
	IsFavorite     *bool
}

// Inventory manages the bar's items.
type Inventory struct {
	store Store
	opts  Options
	log   zerolog.Logger
}

func NewInventory(store Store, opts Options) *Inventory {
	opts = opts.withDefaults()
	return &Inventory{
		store: store,
		opts:  opts,
		log:   opts.Logger.With().Str("component", "inventory").Logger(),
	}
}

// AddItem creates an item. Quantity starts at 0 for untracked items.
func (inv *Inventory) AddItem(ctx context.Context, in NewItem) (*Item, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: item name is required", ErrValidation)
	}
	if in.Price.IsNegative() {
		return nil, ErrInvalidPrice
	}
	if in.IsQuantifiable && in.Quantity < 0 {
		return nil, fmt.Errorf("%w: quantity must not be negative", ErrValidation)
	}

	item := &Item{
		Name:           name,
		Price:          in.Price,
		IsAlcohol:      in.IsAlcohol,
		IsQuantifiable: in.IsQuantifiable,
		IsFavorite:     in.IsFavorite,
	}
	if in.IsQuantifiable {
		item.Quantity = in.Quantity
	}

	err := inv.store.WithTx(ctx, func(repos Repositories) error {
		if _, err := repos.GetItemByName(ctx, name); err == nil {
			return fmt.Errorf("item %q: %w", name, ErrDuplicateName)
		} else if !errors.Is(err, ErrItemNotFound) {
			return err
		}
		return repos.CreateItem(ctx, item)
	})
	if err != nil {
		return nil, err
	}

	inv.log.Info().Int64("item_id", int64(item.ID)).Str("name", item.Name).Msg("item added")
	return item, nil
}

// EditItem applies a partial update to the item called name.
func (inv *Inventory) EditItem(ctx context.Context, name string, upd ItemUpdate) (*Item, error) {
	if upd.Price != nil && upd.Price.IsNegative() {
		return nil, ErrInvalidPrice
	}
	if upd.Quantity != nil && *upd.Quantity < 0 {
		return nil, fmt.Errorf("%w: quantity must not be negative", ErrValidation)
	}

	var item *Item
	err := inv.store.WithTx(ctx, func(repos Repositories) error {
		current, err := repos.GetItemByName(ctx, name)
		if err != nil {
			return err
		}
		item, err = repos.GetItemForUpdate(ctx, current.ID)
		if err != nil {
			return err
		}

		if upd.Name != nil {
			newName := strings.TrimSpace(*upd.Name)
			if newName == "" {
				return fmt.Errorf("%w: item name is required", ErrValidation)
			}
			if newName != item.Name {
				other, err := repos.GetItemByName(ctx, newName)
				if err == nil && other.ID != item.ID {
					return fmt.Errorf("item %q: %w", newName, ErrDuplicateName)
				}
				if err != nil && !errors.Is(err, ErrItemNotFound) {
					return err
				}
				item.Name = newName
			}
		}
		if upd.Price != nil {
			item.Price = *upd.Price
		}
		if upd.IsAlcohol != nil {
			item.IsAlcohol = *upd.IsAlcohol
		}
		if upd.IsQuantifiable != nil {
			item.IsQuantifiable = *upd.IsQuantifiable
		}
		if upd.Quantity != nil && item.IsQuantifiable {
			item.Quantity = *upd.Quantity
		}
		if upd.IsFavorite != nil {
			item.IsFavorite = *upd.IsFavorite
		}
		return repos.UpdateItem(ctx, item)
	})
	if err != nil {
		return nil, err
	}

	inv.log.Info().Int64("item_id", int64(item.ID)).Str("name", item.Name).Msg("item edited")
	return item, nil
}

// DeleteItem removes the item. Transactions that reference it keep the id.
func (inv *Inventory) DeleteItem(ctx context.Context, name string) error {
	err := inv.store.WithTx(ctx, func(repos Repositories) error {
		item, err := repos.GetItemByName(ctx, name)
		if err != nil {
			return err
		}
		return repos.DeleteItem(ctx, item.ID)
	})
	if err != nil {
		return err
	}
	inv.log.Info().Str("name", name).Msg("item deleted")
	return nil
}

func (inv *Inventory) GetItem(ctx context.Context, name string) (*Item, error) {
	return inv.store.GetItemByName(ctx, name)
}

func (inv *Inventory) GetItemByID(ctx context.Context, id ItemID) (*Item, error) {
	return inv.store.GetItem(ctx, id)
}

func (inv *Inventory) ListItems(ctx context.Context, filter ItemFilter) ([]Item, error) {
	return inv.store.ListItems(ctx, filter)
}

// =============================================================================
// QUICK ACCESS
// =============================================================================

// SetQuickAccessItem makes the named item the one offered for fast checkout.
func (inv *Inventory) SetQuickAccessItem(ctx context.Context, actor Role, name string) (*Item, error) {
	if err := actor.Require(CapServe); err != nil {
		return nil, err
	}
	var item *Item
	err := inv.store.WithTx(ctx, func(repos Repositories) error {
		var err error
		if item, err = repos.GetItemByName(ctx, name); err != nil {
			return err
		}
		return repos.UpdateSetting(ctx, SettingQuickAccessItemID, int(item.ID))
	})
	if err != nil {
		return nil, err
	}
	inv.log.Info().Int64("item_id", int64(item.ID)).Msg("quick access item set")
	return item, nil
}

// QuickAccessItem returns the configured fast-checkout item, or nil when
// none is set or the item has since been deleted.
func (inv *Inventory) QuickAccessItem(ctx context.Context) (*Item, error) {
	setting, err := inv.store.GetSetting(ctx, SettingQuickAccessItemID)
	if err != nil {
		return nil, err
	}
	if setting.Value == 0 {
		return nil, nil
	}
	item, err := inv.store.GetItem(ctx, ItemID(setting.Value))
	if errors.Is(err, ErrItemNotFound) {
		return nil, nil
	}
	return item, err
}
