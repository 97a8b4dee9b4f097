package fetch

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// valueField is the {"value": "..."} wrapper the Compound API uses for numbers
type valueField struct {
	Value decimal.Decimal `json:"value"`
}

// CompoundMarket is one cToken entry of the Compound v2 API
type CompoundMarket struct {
	TokenAddress       string          `json:"token_address"`
	Symbol             string          `json:"symbol"`
	UnderlyingAddress  string          `json:"underlying_address"`
	UnderlyingSymbol   string          `json:"underlying_symbol"`
	UnderlyingName     string          `json:"underlying_name"`
	UnderlyingDecimals decimal.Decimal `json:"underlying_decimals"`
	SupplyRate         valueField      `json:"supply_rate"`
	TotalSupply        valueField      `json:"total_supply"`
	UnderlyingPrice    valueField      `json:"underlying_price"`
	ExchangeRate       valueField      `json:"exchange_rate"`
}

// CompoundClient reads the Compound v2 ctoken API
type CompoundClient struct {
	feed
}

// NewCompoundClient creates a new Compound API client
func NewCompoundClient(opts Options) *CompoundClient {
	return &CompoundClient{feed: newFeed("compound", opts)}
}

// Markets returns every cToken market the API lists
func (c *CompoundClient) Markets(ctx context.Context) ([]CompoundMarket, error) {
	var response struct {
		CToken []CompoundMarket `json:"cToken"`
	}

	if err := c.getJSON(ctx, c.baseURL, &response, func() int { return len(response.CToken) }); err != nil {
		return nil, err
	}

	logrus.Debugf("Received %d markets from Compound", len(response.CToken))
	return response.CToken, nil
}

// TVLUSD is total supply in cTokens × exchange rate × underlying price.
// Without an exchange rate it falls back to total_supply × price.
func (m CompoundMarket) TVLUSD() decimal.Decimal {
	supply := m.TotalSupply.Value
	if m.ExchangeRate.Value.IsPositive() {
		supply = supply.Mul(m.ExchangeRate.Value)
	}
	return supply.Mul(m.UnderlyingPrice.Value)
}

func (m CompoundMarket) String() string {
	return fmt.Sprintf("%s(%s)", m.Symbol, m.TokenAddress)
}
