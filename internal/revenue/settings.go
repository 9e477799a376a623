package revenue

import (
	"github.com/radiusdt/revshare/internal/config"
	"github.com/radiusdt/revshare/internal/models"
	"github.com/shopspring/decimal"
)

// Settings are the allocation constants and platform classification the
// engine runs with. They are never read from globals.
type Settings struct {
	EcosystemFactor     decimal.Decimal
	DefaultExchangeRate decimal.Decimal
	PartnerUnitValue    decimal.Decimal
	DefaultPolicy       models.RatePolicy

	USDPlatforms     []string
	PoolPlatform     string
	PoolAdUnitID     string
	PartnerPlatforms []string
	PoolOnlyAccounts []string
}

// DefaultSettings mirrors the configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		EcosystemFactor:     decimal.RequireFromString("0.595"),
		DefaultExchangeRate: decimal.NewFromInt(1370),
		PartnerUnitValue:    decimal.NewFromInt(5),
		DefaultPolicy: models.RatePolicy{
			UnitPrice: decimal.NewFromInt(50),
			UnitType:  models.UnitTypePercent,
		},
		USDPlatforms:     []string{"adsense"},
		PoolPlatform:     "adpost",
		PoolAdUnitID:     "mobile_content",
		PartnerPlatforms: []string{"cozymamang", "mediamixer", "aceplanet", "teads", "taboola"},
	}
}

// SettingsFromConfig builds engine settings from the revenue configuration.
func SettingsFromConfig(cfg config.RevenueConfig) Settings {
	return Settings{
		EcosystemFactor:     cfg.EcosystemFactor,
		DefaultExchangeRate: cfg.DefaultExchangeRate,
		PartnerUnitValue:    cfg.PartnerUnitValue,
		DefaultPolicy: models.RatePolicy{
			UnitPrice: cfg.DefaultUnitPrice,
			UnitType:  models.UnitType(cfg.DefaultUnitType),
		},
		USDPlatforms:     cfg.USDPlatforms,
		PoolPlatform:     cfg.PoolPlatform,
		PoolAdUnitID:     cfg.PoolAdUnitID,
		PartnerPlatforms: cfg.PartnerPlatforms,
		PoolOnlyAccounts: cfg.PoolOnlyAccounts,
	}
}
