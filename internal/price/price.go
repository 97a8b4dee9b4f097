// Package price is the boundary to the USD price oracle used for TVL and balance valuation.
package price

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/TadashiJei/OrbitYield/internal/model"
)

// ErrPriceUnavailable is returned when no price is known for an asset
var ErrPriceUnavailable = errors.New("price unavailable")

// Oracle returns the USD price of one whole unit of an asset.
// The zero address denotes the chain's native currency.
type Oracle interface {
	PriceUSD(ctx context.Context, chainID, asset string) (decimal.Decimal, error)
}

// Static is a fixed price table keyed by chain id and lower-case asset address
type Static map[string]map[string]decimal.Decimal

// PriceUSD looks the asset up in the table
func (s Static) PriceUSD(_ context.Context, chainID, asset string) (decimal.Decimal, error) {
	if p, ok := s[chainID][normalize(asset)]; ok {
		return p, nil
	}
	return decimal.Zero, fmt.Errorf("%s on chain %s: %w", asset, chainID, ErrPriceUnavailable)
}

// Set adds a price to the table
func (s Static) Set(chainID, asset string, usd decimal.Decimal) Static {
	if s[chainID] == nil {
		s[chainID] = map[string]decimal.Decimal{}
	}
	s[chainID][normalize(asset)] = usd
	return s
}

func normalize(asset string) string {
	if model.IsNativeAsset(asset) {
		return "native"
	}
	return strings.ToLower(asset)
}
