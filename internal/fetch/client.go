// Package fetch provides retryable HTTP clients for the external market-data feeds the adapters discover markets from.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/TadashiJei/OrbitYield/internal/circuitbreaker"
	"github.com/TadashiJei/OrbitYield/internal/config"
	"github.com/TadashiJei/OrbitYield/internal/metrics"
	"github.com/TadashiJei/OrbitYield/internal/model"
)

// Options configures a feed client
type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Breaker    *circuitbreaker.CircuitBreaker
}

// OptionsFromConfig builds feed options from process configuration
func OptionsFromConfig(cfg config.Config, feed, baseURL string) Options {
	return Options{
		BaseURL: baseURL,
		APIKey:  cfg.APIKey(feed),
		Timeout: cfg.RequestTimeout,
		Breaker: circuitbreaker.New(feed, circuitbreaker.Thresholds{
			FailureThreshold: cfg.BreakerFailureThreshold,
			MinMarkets:       1,
		}).WithResetDelay(cfg.CircuitResetDelay),
	}
}

// newRetryClient creates a new HTTP client with retry capabilities
func newRetryClient() *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 3 * time.Second
	c.Logger = nil
	return c
}

// StandardClient converts a retryablehttp.Client to a standard http.Client
func StandardClient(retryClient *retryablehttp.Client) *http.Client {
	return retryClient.StandardClient()
}

// feed holds what every feed client shares
type feed struct {
	name       string
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
}

func newFeed(name string, opts Options) feed {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = StandardClient(newRetryClient())
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	breaker := opts.Breaker
	if breaker == nil {
		breaker = circuitbreaker.New(name, circuitbreaker.Thresholds{FailureThreshold: 3, MinMarkets: 1})
	}
	breaker.WithStateObserver(func(name string, state circuitbreaker.State) {
		metrics.BreakerState.WithLabelValues(name).Set(float64(state))
	})

	return feed{
		name:       name,
		baseURL:    opts.BaseURL,
		apiKey:     opts.APIKey,
		timeout:    timeout,
		httpClient: httpClient,
		breaker:    breaker,
	}
}

// Breaker exposes the feed's circuit breaker
func (f *feed) Breaker() *circuitbreaker.CircuitBreaker {
	return f.breaker
}

// getJSON performs a GET through the breaker and decodes the body into out.
// count reports how many markets the decoded response holds. Every failure
// is wrapped in model.ErrFeedUnavailable.
func (f *feed) getJSON(ctx context.Context, url string, out interface{}, count func() int) error {
	err := f.breaker.Execute(func() (int, error) {
		ctx, cancel := context.WithTimeout(ctx, f.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return 0, fmt.Errorf("error creating request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if f.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+f.apiKey)
		}

		logrus.Debugf("Fetching %s feed: %s", f.name, url)
		resp, err := f.httpClient.Do(req)
		if err != nil {
			return 0, fmt.Errorf("error fetching data: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return 0, fmt.Errorf("status %d, body: %s", resp.StatusCode, string(body))
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return 0, fmt.Errorf("error decoding response: %w", err)
		}
		return count(), nil
	})

	if err != nil {
		metrics.FeedRequests.WithLabelValues(f.name, "error").Inc()
		return fmt.Errorf("%s: %w: %w", f.name, model.ErrFeedUnavailable, err)
	}
	metrics.FeedRequests.WithLabelValues(f.name, "ok").Inc()
	return nil
}
