// Package export pushes discovery results to an external dashboard webhook
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/TadashiJei/OrbitYield/internal/aggregate"
	"github.com/TadashiJei/OrbitYield/internal/metrics"
	"github.com/TadashiJei/OrbitYield/internal/model"
)

// Config holds webhook export settings. An empty URL disables export.
type Config struct {
	URL       string
	APIKey    string
	BatchSize int
	Interval  time.Duration
}

// Snapshot is one chain's discovery result as delivered to the webhook
type Snapshot struct {
	ChainID       string                   `json:"chainId"`
	Summary       aggregate.Summary        `json:"summary"`
	Opportunities []model.YieldOpportunity `json:"opportunities"`
	DiscoveredAt  time.Time                `json:"discoveredAt"`
}

type payload struct {
	Snapshots  []Snapshot `json:"snapshots"`
	ExportTime string     `json:"export_time"`
	Count      int        `json:"count"`
}

// Publisher batches snapshots and posts them to the webhook
type Publisher struct {
	config     Config
	httpClient *retryablehttp.Client

	mu         sync.Mutex
	batch      []Snapshot
	lastExport time.Time
	failures   int
}

// NewPublisher creates a publisher; BatchSize and Interval fall back to 1 and one minute
func NewPublisher(cfg Config) *Publisher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}

	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 3 * time.Second
	c.HTTPClient.Timeout = 10 * time.Second
	c.Logger = nil

	return &Publisher{
		config:     cfg,
		httpClient: c,
		batch:      make([]Snapshot, 0, cfg.BatchSize),
	}
}

// Enabled reports whether a webhook URL is configured
func (p *Publisher) Enabled() bool {
	return p.config.URL != ""
}

// Publish queues a snapshot and flushes once the batch is full
func (p *Publisher) Publish(ctx context.Context, snapshot Snapshot) error {
	if !p.Enabled() {
		return nil
	}

	p.mu.Lock()
	p.batch = append(p.batch, snapshot)
	full := len(p.batch) >= p.config.BatchSize
	p.mu.Unlock()

	if full {
		return p.Flush(ctx)
	}
	return nil
}

// Run flushes on every interval until the context is cancelled, then flushes once more
func (p *Publisher) Run(ctx context.Context) {
	if !p.Enabled() {
		return
	}

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := p.Flush(ctx); err != nil {
				logrus.Errorf("Failed to export to webhook: %v", err)
			}
		case <-ctx.Done():
			// the parent context is gone; give the final flush its own deadline
			final, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := p.Flush(final); err != nil {
				logrus.Errorf("Final webhook export failed: %v", err)
			}
			cancel()
			return
		}
	}
}

// Flush posts every queued snapshot. A failed post puts the batch back in front.
func (p *Publisher) Flush(ctx context.Context) error {
	p.mu.Lock()
	if len(p.batch) == 0 {
		p.mu.Unlock()
		return nil
	}
	snapshots := p.batch
	p.batch = make([]Snapshot, 0, p.config.BatchSize)
	p.mu.Unlock()

	if err := p.post(ctx, snapshots); err != nil {
		metrics.ExportBatches.WithLabelValues("error").Inc()
		p.mu.Lock()
		p.batch = append(snapshots, p.batch...)
		p.failures++
		p.mu.Unlock()
		return err
	}

	metrics.ExportBatches.WithLabelValues("success").Inc()
	p.mu.Lock()
	p.lastExport = time.Now().UTC()
	p.failures = 0
	p.mu.Unlock()

	logrus.Infof("Exported %d snapshots to webhook", len(snapshots))
	return nil
}

func (p *Publisher) post(ctx context.Context, snapshots []Snapshot) error {
	data, err := json.Marshal(payload{
		Snapshots:  snapshots,
		ExportTime: time.Now().UTC().Format(time.RFC3339),
		Count:      len(snapshots),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal snapshots: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, p.config.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned error status: %d", resp.StatusCode)
	}
	return nil
}

// Status returns the current state of the publisher
func (p *Publisher) Status() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	status := map[string]interface{}{
		"enabled":          p.Enabled(),
		"batch_size":       p.config.BatchSize,
		"export_interval":  p.config.Interval.String(),
		"pending":          len(p.batch),
		"consecutive_fail": p.failures,
	}
	if !p.lastExport.IsZero() {
		status["last_export"] = p.lastExport.Format(time.RFC3339)
	}
	return status
}
