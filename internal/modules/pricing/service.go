// README: Pricing service resolves fee configuration and computes settlements.
package pricing

import (
	"context"
	"fmt"
)

// FeeSource loads operator-managed fee configuration.
type FeeSource interface {
	ActiveTaxes(ctx context.Context) ([]Tax, error)
	PlatformFeePct(ctx context.Context) (float64, bool, error)
}

type Config struct {
	PlatformFeePct float64
	FreeDistance   float64
	ExcessRate     float64
}

func (c Config) withDefaults() Config {
	if c.PlatformFeePct < 0 {
		c.PlatformFeePct = DefaultPlatformFeePct
	}
	if c.FreeDistance <= 0 {
		c.FreeDistance = DefaultFreeDistance
	}
	if c.ExcessRate <= 0 {
		c.ExcessRate = DefaultExcessRate
	}
	return c
}

type Service struct {
	fees     FeeSource
	defaults Config
}

// NewService accepts a nil FeeSource, in which case only cfg applies and no taxes are charged.
func NewService(fees FeeSource, cfg Config) *Service {
	return &Service{fees: fees, defaults: cfg.withDefaults()}
}

func (s *Service) Fees(ctx context.Context) (Fees, error) {
	f := Fees{
		PlatformFeePct: s.defaults.PlatformFeePct,
		FreeDistance:   s.defaults.FreeDistance,
		ExcessRate:     s.defaults.ExcessRate,
	}
	if s.fees == nil {
		return f, nil
	}
	taxes, err := s.fees.ActiveTaxes(ctx)
	if err != nil {
		return Fees{}, fmt.Errorf("load taxes: %w", err)
	}
	f.Taxes = taxes
	pct, ok, err := s.fees.PlatformFeePct(ctx)
	if err != nil {
		return Fees{}, fmt.Errorf("load platform fee: %w", err)
	}
	if ok {
		f.PlatformFeePct = pct
	}
	return f, nil
}

func (s *Service) Settle(ctx context.Context, req Request) (Settlement, error) {
	fees, err := s.Fees(ctx)
	if err != nil {
		return Settlement{}, err
	}
	return Compute(req, fees)
}
