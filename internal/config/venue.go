package config

import (
	"errors"

	"PowerPerp/internal/venue"
)

// VenueConfig describes the in-process swap pools. When Pools is empty one
// pool is created for every price pair the protocol reads.
type VenueConfig struct {
	FeeBps uint32       `mapstructure:"fee-bps"`
	Pools  []venue.Pool `mapstructure:"pools"`
}

func (cfg *VenueConfig) Validate() error {
	if cfg.FeeBps >= 10_000 {
		return errors.New("fee-bps must be below 10000")
	}
	_, err := venue.New(cfg.Pools...)
	return err
}

// VenuePools returns the pools to register with the venue
func (cfg *Config) VenuePools() []venue.Pool {
	if len(cfg.Venue.Pools) > 0 {
		return cfg.Venue.Pools
	}
	p := &cfg.Protocol
	pools := []venue.Pool{
		{ID: p.BasePool, DenomA: p.BaseAsset, DenomB: p.QuoteAsset, FeeBps: cfg.Venue.FeeBps},
		{ID: p.PowerPool, DenomA: p.PowerAsset, DenomB: p.BaseAsset, FeeBps: cfg.Venue.FeeBps},
	}
	for _, sa := range p.StakedAssets {
		pools = append(pools, venue.Pool{ID: sa.Pool, DenomA: sa.Denom, DenomB: p.BaseAsset, FeeBps: cfg.Venue.FeeBps})
	}
	return pools
}
