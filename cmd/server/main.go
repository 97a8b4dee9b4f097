// Package main is the entry point of the OrbitYield adapter service. It wires the
// protocol adapters, runs periodic discovery on every enabled chain and exposes
// health, status and Prometheus endpoints for operators.
package main

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/TadashiJei/OrbitYield/internal/adapter"
	"github.com/TadashiJei/OrbitYield/internal/adapter/aave"
	"github.com/TadashiJei/OrbitYield/internal/adapter/compound"
	"github.com/TadashiJei/OrbitYield/internal/adapter/lido"
	"github.com/TadashiJei/OrbitYield/internal/chain"
	"github.com/TadashiJei/OrbitYield/internal/circuitbreaker"
	"github.com/TadashiJei/OrbitYield/internal/config"
	"github.com/TadashiJei/OrbitYield/internal/executor"
	"github.com/TadashiJei/OrbitYield/internal/export"
	"github.com/TadashiJei/OrbitYield/internal/fetch"
	"github.com/TadashiJei/OrbitYield/internal/otel"
	"github.com/TadashiJei/OrbitYield/internal/price"
	"github.com/TadashiJei/OrbitYield/internal/validation"
)

// main is the entry point for the application
func main() {
	setupLogging()

	cfg := config.Load()
	appCfg, err := config.LoadAppConfig(cfg.ConfigFile)
	if err != nil {
		logrus.Fatalf("Failed to load deployment configuration: %v", err)
	}

	shutdownTracer := otel.InitTracer(cfg)
	defer shutdownTracer()

	deps, err := wire(cfg, appCfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize adapters: %v", err)
	}
	defer deps.close()

	server := NewServer(cfg, deps)
	server.Start()
}

// setupLogging configures the logging for the application
func setupLogging() {
	logFormat := strings.ToLower(os.Getenv("LOG_FORMAT"))
	logLevel := strings.ToLower(os.Getenv("LOG_LEVEL"))

	switch logFormat {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	switch logLevel {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}

	logrus.Info("Logging configured")
}

// dependencies are the long-lived collaborators the server drives
type dependencies struct {
	provider *chain.Provider
	registry *adapter.Registry
	breakers []*circuitbreaker.CircuitBreaker
	prices   *price.Cached
	exporter *export.Publisher
}

func (d *dependencies) close() {
	d.prices.Close()
	d.provider.Close()
}

// wire builds the feeds, executor and one adapter per enabled protocol
func wire(cfg config.Config, appCfg *config.AppConfig) (*dependencies, error) {
	provider := chain.NewProvider(appCfg.EnabledChains())

	prices, err := price.NewCached(price.NewHTTPOracle(cfg.PriceURL, cfg.RequestTimeout), cfg.PriceTTL)
	if err != nil {
		return nil, err
	}

	exec := executor.New(executor.Config{
		ConfirmTimeout: cfg.ConfirmTimeout,
		PollInterval:   cfg.ConfirmPollInterval,
	})

	validationOpts := validation.DefaultValidationOptions()
	validationOpts.MaxAPY = cfg.MaxAPY
	registry := adapter.NewRegistry(adapter.WithValidation(validationOpts))

	exporter := export.NewPublisher(export.Config{
		URL:       cfg.ExportURL,
		APIKey:    cfg.ExportAPIKey,
		BatchSize: cfg.ExportBatchSize,
		Interval:  cfg.ExportInterval,
	})

	deps := &dependencies{provider: provider, registry: registry, prices: prices, exporter: exporter}
	onTrip := func(name, reason string) {
		logrus.Warnf("Feed %s circuit opened: %s", name, reason)
	}

	if p := appCfg.Protocols[config.ProtocolCompound]; p.Enabled {
		feed := fetch.NewCompoundClient(fetch.OptionsFromConfig(cfg, "compound", cfg.CompoundURL))
		deps.breakers = append(deps.breakers, feed.Breaker().WithTripCallback(onTrip))
		if err := registry.Register(compound.New(compound.Options{
			Provider:    provider,
			Executor:    exec,
			Feed:        feed,
			Prices:      prices,
			Protocol:    p,
			Parallelism: cfg.DiscoveryParallelism,
		})); err != nil {
			return nil, err
		}
	}

	if p := appCfg.Protocols[config.ProtocolAave]; p.Enabled {
		feed := fetch.NewDefiLlamaClient(fetch.OptionsFromConfig(cfg, "defillama", cfg.DefiLlamaURL), cfg.DiscoveryInterval/2)
		deps.breakers = append(deps.breakers, feed.Breaker().WithTripCallback(onTrip))
		if err := registry.Register(aave.New(aave.Options{
			Provider:    provider,
			Executor:    exec,
			Feed:        feed,
			Prices:      prices,
			Protocol:    p,
			Parallelism: cfg.DiscoveryParallelism,
		})); err != nil {
			return nil, err
		}
	}

	if p := appCfg.Protocols[config.ProtocolLido]; p.Enabled {
		feed := fetch.NewLidoClient(fetch.OptionsFromConfig(cfg, "lido", cfg.LidoURL))
		deps.breakers = append(deps.breakers, feed.Breaker().WithTripCallback(onTrip))
		if err := registry.Register(lido.New(lido.Options{
			Provider: provider,
			Executor: exec,
			Feed:     feed,
			Prices:   prices,
			Protocol: p,
		})); err != nil {
			return nil, err
		}
	}

	logrus.WithFields(logrus.Fields{
		"chains":   provider.Chains(),
		"adapters": len(registry.Adapters()),
	}).Info("Adapters initialized")
	return deps, nil
}
