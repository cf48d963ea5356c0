package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
)

// Settings is the global settings store.
type Settings struct {
	store Store
	log   zerolog.Logger
}

func NewSettings(store Store, opts Options) *Settings {
	opts = opts.withDefaults()
	return &Settings{
		store: store,
		log:   opts.Logger.With().Str("component", "settings").Logger(),
	}
}

// Get returns the value of key.
func (s *Settings) Get(ctx context.Context, key string) (int, error) {
	setting, err := s.store.GetSetting(ctx, key)
	if err != nil {
		return 0, err
	}
	return setting.Value, nil
}

// Set changes an existing setting. Only admins may do so.
func (s *Settings) Set(ctx context.Context, actor Role, key string, value int) error {
	if err := actor.Require(CapAdminister); err != nil {
		return err
	}
	if value < 0 {
		return ErrInvalidSetting
	}
	if err := s.store.UpdateSetting(ctx, key, value); err != nil {
		return err
	}
	s.log.Info().Str("key", key).Int("value", value).Msg("setting changed")
	return nil
}

func (s *Settings) List(ctx context.Context) ([]Setting, error) {
	return s.store.ListSettings(ctx)
}

// Seed inserts each default whose key is missing. Existing rows are never
// overwritten, so running it on every start is safe.
func (s *Settings) Seed(ctx context.Context, defaults map[string]int) error {
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return s.store.WithTx(ctx, func(repos Repositories) error {
		for _, key := range keys {
			name, ok := DefaultSettingNames[key]
			if !ok {
				name = key
			}
			inserted, err := repos.InsertSettingIfAbsent(ctx, Setting{Key: key, Value: defaults[key], Name: name})
			if err != nil {
				return fmt.Errorf("seed %s: %w", key, err)
			}
			if inserted {
				s.log.Info().Str("key", key).Int("value", defaults[key]).Msg("setting seeded")
			}
		}
		return nil
	})
}

// Policy reads the eligibility settings.
func (s *Settings) Policy(ctx context.Context) (EligibilityPolicy, error) {
	return loadPolicy(ctx, s.store)
}

func loadPolicy(ctx context.Context, repo SettingRepository) (EligibilityPolicy, error) {
	minAge, err := repo.GetSetting(ctx, SettingMinimumLegalAge)
	if err != nil {
		return EligibilityPolicy{}, fmt.Errorf("%s: %w", SettingMinimumLegalAge, err)
	}
	maxDaily, err := repo.GetSetting(ctx, SettingMaxDailyAlcoholic)
	if err != nil {
		return EligibilityPolicy{}, fmt.Errorf("%s: %w", SettingMaxDailyAlcoholic, err)
	}
	return EligibilityPolicy{
		MinimumLegalAge:   minAge.Value,
		MaxDailyAlcoholic: maxDaily.Value,
	}, nil
}
