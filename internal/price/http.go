package price

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/TadashiJei/OrbitYield/internal/types"
)

// nativeCoins maps chain ids to the coingecko id of the native currency
var nativeCoins = map[types.ChainID]string{
	types.ChainEthereum: "coingecko:ethereum",
	types.ChainPolygon:  "coingecko:matic-network",
	types.ChainArbitrum: "coingecko:ethereum",
}

// HTTPOracle reads prices from a DefiLlama-style coins endpoint:
// GET {baseURL}/{chain}:{address} → {"coins": {"chain:address": {"price": 1.0}}}
type HTTPOracle struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// NewHTTPOracle creates an oracle backed by a retrying HTTP client
func NewHTTPOracle(baseURL string, timeout time.Duration) *HTTPOracle {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 3 * time.Second
	c.Logger = nil

	return &HTTPOracle{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: c.StandardClient(),
		timeout:    timeout,
	}
}

// PriceUSD fetches the current price of an asset
func (o *HTTPOracle) PriceUSD(ctx context.Context, chainID, asset string) (decimal.Decimal, error) {
	coin, err := coinKey(chainID, asset)
	if err != nil {
		return decimal.Zero, err
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/"+coin, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("error creating request: %w", err)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("error fetching price: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return decimal.Zero, fmt.Errorf("price API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Coins map[string]struct {
			Price decimal.Decimal `json:"price"`
		} `json:"coins"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return decimal.Zero, fmt.Errorf("error decoding response: %w", err)
	}

	for key, c := range response.Coins {
		if strings.EqualFold(key, coin) {
			logrus.Debugf("Price for %s: %s", coin, c.Price)
			return c.Price, nil
		}
	}
	return decimal.Zero, fmt.Errorf("%s: %w", coin, ErrPriceUnavailable)
}

func coinKey(chainID, asset string) (string, error) {
	if normalize(asset) == "native" {
		if coin, ok := nativeCoins[chainID]; ok {
			return coin, nil
		}
		return "", fmt.Errorf("no native coin for chain %s: %w", chainID, ErrPriceUnavailable)
	}
	name, ok := types.ChainNames[chainID]
	if !ok {
		return "", fmt.Errorf("unknown chain %s: %w", chainID, ErrPriceUnavailable)
	}
	return name + ":" + strings.ToLower(asset), nil
}
