package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// VenueStatus is the health state a venue is routed (or not routed) on.
type VenueStatus string

const (
	VenueHealthy  VenueStatus = "healthy"
	VenueDegraded VenueStatus = "degraded"
	VenueDown     VenueStatus = "down"
)

// VenueCredentials is the opaque credential triple handed to an adapter.
// The passphrase is empty for venues that do not use one.
type VenueCredentials struct {
	APIKey     string `mapstructure:"api_key" json:"-"`
	APISecret  string `mapstructure:"api_secret" json:"-"`
	Passphrase string `mapstructure:"passphrase" json:"-"`
}

// VenueConfig is the immutable per-venue definition loaded at startup.
// Only the derived health state mutates at runtime, and that lives in the
// registry, not here.
type VenueConfig struct {
	ID            string           `mapstructure:"id" json:"id"`
	Name          string           `mapstructure:"name" json:"name"`
	BaseURL       string           `mapstructure:"base_url" json:"base_url"`
	WSURL         string           `mapstructure:"ws_url" json:"ws_url,omitempty"`
	Credentials   VenueCredentials `mapstructure:"credentials" json:"-"`
	RatePerMinute int              `mapstructure:"rate_per_minute" json:"rate_per_minute"`
	Priority      int              `mapstructure:"priority" json:"priority"`
	Enabled       bool             `mapstructure:"enabled" json:"enabled"`
	Capabilities  []string         `mapstructure:"capabilities" json:"capabilities,omitempty"`
}

// VenueHealth is owned by the adapter registry. The health monitor and
// adapter call outcomes write it; routing reads it.
type VenueHealth struct {
	Status              VenueStatus   `json:"status"`
	LastChecked         time.Time     `json:"last_checked"`
	Latency             time.Duration `json:"latency_ms"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
}

// Balance is a venue-reported balance observation. It is consumed
// immediately by the ledger and reconciler and never persisted verbatim.
type Balance struct {
	Venue      string          `json:"venue"`
	Asset      string          `json:"asset"`
	Available  decimal.Decimal `json:"available"`
	Locked     decimal.Decimal `json:"locked"`
	Total      decimal.Decimal `json:"total"`
	ObservedAt time.Time       `json:"observed_at"`
}
