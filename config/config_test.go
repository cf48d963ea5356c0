package config

import (
	"testing"
	"time"

	"github.com/foyer/barledger/ledger"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := fromViper(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.App.Env)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Addr())
	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.Equal(t, 18, cfg.Bar.MinimumLegalAge)
	assert.Equal(t, 50, cfg.Bar.PageSize)
	assert.Equal(t, map[string]int{
		ledger.SettingMinimumLegalAge:   18,
		ledger.SettingMaxDailyAlcoholic: 0,
		ledger.SettingQuickAccessItemID: 0,
	}, cfg.Bar.SettingDefaults())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("DB_DRIVER", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://bar@localhost/bar")
	t.Setenv("BAR_MAX_DAILY_ALCOHOLIC_DRINKS", "4")
	t.Setenv("BAR_TIMEZONE", "Europe/Paris")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "postgres", cfg.DB.Driver)
	assert.Equal(t, 4, cfg.Bar.MaxDailyAlcoholicDrinks)

	loc, err := cfg.Bar.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Paris", loc.String())
}

func TestLoad_Validation(t *testing.T) {
	cases := map[string]map[string]any{
		"unknown driver":       {"DB_DRIVER": "mysql"},
		"postgres without url": {"DB_DRIVER": "postgres"},
		"negative age":         {"BAR_MINIMUM_LEGAL_AGE": -1},
		"bad timezone":         {"BAR_TIMEZONE": "Mars/Olympus"},
		"zero page size":       {"PAGE_SIZE": "0"},
	}
	for name, values := range cases {
		t.Run(name, func(t *testing.T) {
			v := viper.New()
			for k, val := range values {
				v.Set(k, val)
			}
			_, err := fromViper(v)
			assert.Error(t, err)
		})
	}
}

func TestBarConfig_EmptyTimezoneIsLocal(t *testing.T) {
	loc, err := BarConfig{}.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)
}
