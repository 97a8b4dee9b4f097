package adapter

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/TadashiJei/OrbitYield/internal/metrics"
	"github.com/TadashiJei/OrbitYield/internal/model"
)

// Discovery describes one adapter's scan of one chain
type Discovery[M any] struct {
	Protocol string
	ChainID  string

	// Parallelism bounds concurrent market builds; values below 1 mean sequential
	Parallelism int

	// Load fetches the market list, typically from a feed. It runs on first iteration.
	Load func(ctx context.Context) ([]M, error)

	// Build turns one market into an opportunity
	Build func(ctx context.Context, market M) (model.YieldOpportunity, error)

	// Key names a market in logs
	Key func(market M) string
}

// Seq returns the lazy single-use opportunity sequence. Markets are built in
// batches of Parallelism and yielded in Load order. A second range yields nothing.
func (d Discovery[M]) Seq(ctx context.Context) iter.Seq[model.YieldOpportunity] {
	var used atomic.Bool

	return func(yield func(model.YieldOpportunity) bool) {
		if used.Swap(true) {
			return
		}

		log := logrus.WithFields(logrus.Fields{"protocol": d.Protocol, "chain": d.ChainID})

		markets, err := d.Load(ctx)
		if err != nil {
			log.WithError(err).Warn("Market list unavailable, skipping discovery")
			metrics.MarketsSkipped.WithLabelValues(d.Protocol, d.ChainID, "feed").Inc()
			return
		}

		batch := d.Parallelism
		if batch < 1 {
			batch = 1
		}

		for start := 0; start < len(markets); start += batch {
			if ctx.Err() != nil {
				return
			}

			end := min(start+batch, len(markets))
			results := make([]model.YieldOpportunity, end-start)
			errs := make([]error, end-start)

			var g errgroup.Group
			for i := start; i < end; i++ {
				g.Go(func() error {
					results[i-start], errs[i-start] = d.build(ctx, markets[i])
					return nil
				})
			}
			_ = g.Wait()

			for i := range results {
				if errs[i] != nil {
					d.skip(log, markets[start+i], errs[i])
					continue
				}
				if !yield(results[i]) {
					return
				}
			}
		}
	}
}

// build runs Build with the market's panic turned into an error
func (d Discovery[M]) build(ctx context.Context, market M) (opp model.YieldOpportunity, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("market build panicked: %v", rec)
		}
	}()
	return d.Build(ctx, market)
}

func (d Discovery[M]) skip(log *logrus.Entry, market M, err error) {
	reason := "error"
	if errors.Is(err, model.ErrMarketUnlisted) {
		reason = "unlisted"
	}
	metrics.MarketsSkipped.WithLabelValues(d.Protocol, d.ChainID, reason).Inc()

	key := ""
	if d.Key != nil {
		key = d.Key(market)
	}
	log.WithError(err).WithField("market", key).Warn("Skipping market")
}

// Empty is the sequence returned for unsupported chains
func Empty() iter.Seq[model.YieldOpportunity] {
	return func(func(model.YieldOpportunity) bool) {}
}

// Collect drains a sequence into a slice
func Collect(seq iter.Seq[model.YieldOpportunity]) []model.YieldOpportunity {
	var out []model.YieldOpportunity
	for opp := range seq {
		out = append(out, opp)
	}
	return out
}

// Stamp sets DiscoveredAt to now in UTC
func Stamp(opp model.YieldOpportunity) model.YieldOpportunity {
	opp.DiscoveredAt = time.Now().UTC()
	return opp
}
