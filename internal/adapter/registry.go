package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/TadashiJei/OrbitYield/internal/metrics"
	"github.com/TadashiJei/OrbitYield/internal/model"
	"github.com/TadashiJei/OrbitYield/internal/otel"
	"github.com/TadashiJei/OrbitYield/internal/validation"
)

// Registry routes requests to adapters by protocol name and fans discovery out
// across them
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	order    []string
	opts     validation.ValidationOptions
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithValidation sets the options applied to discovered opportunities
func WithValidation(opts validation.ValidationOptions) RegistryOption {
	return func(r *Registry) {
		r.opts = opts
	}
}

// NewRegistry creates an empty registry
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		adapters: make(map[string]Adapter),
		opts:     validation.DefaultValidationOptions(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds an adapter. Names must be unique.
func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := a.Name()
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("adapter %s already registered", name)
	}
	r.adapters[name] = a
	r.order = append(r.order, name)
	logrus.WithField("protocol", name).Info("Registered protocol adapter")
	return nil
}

// Get returns the adapter for a protocol
func (r *Registry) Get(protocol string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[protocol]
	if !ok {
		return nil, fmt.Errorf("%s: %w", protocol, model.ErrUnknownProtocol)
	}
	return a, nil
}

// Route returns the adapter for a protocol if it supports the chain
func (r *Registry) Route(chainID, protocol string) (Adapter, error) {
	a, err := r.Get(protocol)
	if err != nil {
		return nil, err
	}
	if !a.SupportsChain(chainID) {
		return nil, model.UnsupportedChainError(protocol, chainID)
	}
	return a, nil
}

// Adapters returns every adapter in registration order
func (r *Registry) Adapters() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Adapter, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.adapters[name])
	}
	return out
}

// DiscoverAll runs discovery on every adapter supporting the chain concurrently.
// A failing or panicking adapter contributes nothing; the others are unaffected.
// Results are validated and concatenated in registration order.
func (r *Registry) DiscoverAll(ctx context.Context, chainID string) []model.YieldOpportunity {
	adapters := r.Adapters()
	results := make([][]model.YieldOpportunity, len(adapters))

	var g errgroup.Group
	for i, a := range adapters {
		if !a.SupportsChain(chainID) {
			continue
		}
		g.Go(func() error {
			results[i] = r.discover(ctx, a, chainID)
			return nil
		})
	}
	_ = g.Wait()

	var merged []model.YieldOpportunity
	for i, opps := range results {
		valid := validation.FilterInvalidWithOptions(opps, r.opts)
		if adapters[i].SupportsChain(chainID) {
			metrics.OpportunitiesDiscovered.WithLabelValues(adapters[i].Name(), chainID).Set(float64(len(valid)))
		}
		merged = append(merged, valid...)
	}
	return merged
}

func (r *Registry) discover(ctx context.Context, a Adapter, chainID string) (opps []model.YieldOpportunity) {
	name := a.Name()
	start := time.Now()

	ctx, span := otel.StartSpan(ctx, "registry.discover", chainID, name)
	defer span.End()

	defer func() {
		metrics.DiscoveryDuration.WithLabelValues(name, chainID).Observe(time.Since(start).Seconds())
		if rec := recover(); rec != nil {
			err := fmt.Errorf("adapter %s panicked: %v", name, rec)
			otel.RecordError(ctx, err)
			logrus.WithFields(logrus.Fields{
				"protocol": name,
				"chain":    chainID,
			}).Errorf("Discovery aborted: %v", err)
			metrics.DiscoveryTotal.WithLabelValues(name, chainID, "panic").Inc()
			opps = nil
			return
		}
		metrics.DiscoveryTotal.WithLabelValues(name, chainID, "ok").Inc()
	}()

	for opp := range a.GetYieldOpportunities(ctx, chainID) {
		opps = append(opps, opp)
	}

	logrus.WithFields(logrus.Fields{
		"protocol":      name,
		"chain":         chainID,
		"opportunities": len(opps),
		"duration":      time.Since(start).String(),
	}).Info("Discovery completed")
	return opps
}
