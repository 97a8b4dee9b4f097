// Package validation filters opportunities that violate publishing invariants before they leave the registry.
package validation

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/TadashiJei/OrbitYield/internal/model"
)

// ValidationOptions holds configuration for the validation process
type ValidationOptions struct {
	// MaxAge defines how recent a discovery snapshot must be to be published
	MaxAge time.Duration

	// MinTVL defines the minimum USD TVL required for an opportunity to be published
	MinTVL decimal.Decimal

	// MaxAPY defines the maximum plausible APY in percent
	MaxAPY float64

	// MaxDecimals bounds the asset precision; anything above is a broken feed
	MaxDecimals int32

	// EnableOutlierDetection enables statistical outlier detection per chain
	EnableOutlierDetection bool

	// OutlierIQRMultiplier defines sensitivity for outlier detection (1.5 is standard)
	OutlierIQRMultiplier float64
}

// DefaultValidationOptions returns sensible defaults for validation
func DefaultValidationOptions() ValidationOptions {
	return ValidationOptions{
		MaxAge:                 24 * time.Hour,
		MinTVL:                 decimal.Zero,
		MaxAPY:                 1000.0,
		MaxDecimals:            36,
		EnableOutlierDetection: false,
		OutlierIQRMultiplier:   1.5,
	}
}

// FilterInvalid removes opportunities that fail basic validation criteria.
func FilterInvalid(opps []model.YieldOpportunity) []model.YieldOpportunity {
	return FilterInvalidWithOptions(opps, DefaultValidationOptions())
}

// FilterInvalidWithOptions removes opportunities with custom validation options.
// The relative order of the remaining opportunities is preserved.
func FilterInvalidWithOptions(opps []model.YieldOpportunity, opts ValidationOptions) []model.YieldOpportunity {
	valid := filterBasicCriteria(opps, opts)

	if opts.EnableOutlierDetection && len(valid) > 3 {
		return filterOutliers(valid, opts.OutlierIQRMultiplier)
	}

	return valid
}

// filterBasicCriteria applies fundamental validation rules to each opportunity
func filterBasicCriteria(opps []model.YieldOpportunity, opts ValidationOptions) []model.YieldOpportunity {
	valid := make([]model.YieldOpportunity, 0, len(opps))
	for _, o := range opps {
		if reason := Check(o, opts); reason != "" {
			logrus.WithFields(logrus.Fields{
				"id":     o.ID,
				"apy":    o.APY.Current,
				"tvl":    o.TVLUSD.String(),
				"reason": reason,
			}).Debug("Filtered invalid opportunity")
			continue
		}
		valid = append(valid, o)
	}
	return valid
}

// Check returns the reason an opportunity is invalid, or an empty string
func Check(o model.YieldOpportunity, opts ValidationOptions) string {
	switch {
	case o.ID == "" || o.Protocol == "":
		return "missing identity"
	case !strings.HasPrefix(o.ID, strings.ToLower(o.Protocol)+":"+o.ChainID+":"):
		return "identity does not match protocol and chain"
	case math.IsNaN(o.APY.Current) || math.IsInf(o.APY.Current, 0):
		return "apy not finite"
	case o.APY.Current < 0:
		return "negative apy"
	case opts.MaxAPY > 0 && o.APY.Current > opts.MaxAPY:
		return "apy above plausible maximum"
	case o.TVLUSD.IsNegative():
		return "negative tvl"
	case o.TVLUSD.LessThan(opts.MinTVL):
		return "tvl below minimum"
	case o.Asset.Decimals < 0 || (opts.MaxDecimals > 0 && o.Asset.Decimals > opts.MaxDecimals):
		return "invalid asset decimals"
	case o.Implementation.ContractAddress == "":
		return "missing contract address"
	case o.Status == model.StatusDeprecated:
		return "deprecated market"
	case opts.MaxAge > 0 && !o.DiscoveredAt.IsZero() && time.Since(o.DiscoveredAt) > opts.MaxAge:
		return "stale snapshot"
	}
	return ""
}

// filterOutliers removes APY outliers using the IQR method
func filterOutliers(opps []model.YieldOpportunity, iqrMultiplier float64) []model.YieldOpportunity {
	if len(opps) <= 3 {
		return opps
	}

	apys := make([]float64, len(opps))
	for i, o := range opps {
		apys[i] = o.APY.Current
	}

	sort.Float64s(apys)
	q1 := apys[len(apys)/4]
	q3 := apys[len(apys)*3/4]
	iqr := q3 - q1

	lowerBound := q1 - iqrMultiplier*iqr
	upperBound := q3 + iqrMultiplier*iqr

	// A near-constant distribution would reject everything but the mode
	if upperBound-lowerBound < 0.5 {
		mean := calculateMean(apys)
		lowerBound = mean * 0.5
		upperBound = mean * 2.0
	}

	valid := make([]model.YieldOpportunity, 0, len(opps))
	for _, o := range opps {
		if o.APY.Current >= lowerBound && o.APY.Current <= upperBound {
			valid = append(valid, o)
		} else {
			logrus.WithFields(logrus.Fields{
				"id":     o.ID,
				"apy":    o.APY.Current,
				"bounds": []float64{lowerBound, upperBound},
			}).Info("Filtered outlier opportunity")
		}
	}

	logrus.WithFields(logrus.Fields{
		"total":    len(opps),
		"filtered": len(opps) - len(valid),
	}).Debug("Outlier filtering complete")

	return valid
}

// calculateMean computes the arithmetic mean of a slice of float64
func calculateMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
