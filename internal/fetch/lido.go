package fetch

import (
	"context"
	"fmt"
)

// APRSample is one daily stETH APR observation in percent
type APRSample struct {
	TimeUnix int64   `json:"timeUnix"`
	APR      float64 `json:"apr"`
}

// LidoAPR is the moving-average stETH staking APR in percent
type LidoAPR struct {
	SMA     float64     `json:"smaApr"`
	Samples []APRSample `json:"aprs"`
}

// LidoClient reads the Lido protocol API
type LidoClient struct {
	feed
}

// NewLidoClient creates a new Lido API client
func NewLidoClient(opts Options) *LidoClient {
	return &LidoClient{feed: newFeed("lido", opts)}
}

// APR returns the current stETH APR
func (c *LidoClient) APR(ctx context.Context) (LidoAPR, error) {
	var response struct {
		Data LidoAPR `json:"data"`
	}

	err := c.getJSON(ctx, c.baseURL, &response, func() int {
		if response.Data.SMA > 0 || len(response.Data.Samples) > 0 {
			return 1
		}
		return 0
	})
	if err != nil {
		return LidoAPR{}, err
	}
	if response.Data.SMA < 0 {
		return LidoAPR{}, fmt.Errorf("lido reported negative apr %f", response.Data.SMA)
	}
	return response.Data, nil
}
