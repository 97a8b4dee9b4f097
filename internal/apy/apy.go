// Package apy converts protocol-native per-period rates into annualized percentage yields.
package apy

import (
	"fmt"
	"math"
	"math/big"

	"github.com/TadashiJei/OrbitYield/internal/model"
)

// precision is the mantissa size used for compounding; float64 loses the small
// per-block rates after a few million squarings
const precision = 256

// Period helpers
const (
	DaysPerYear     = 365
	SecondsPerYear  = 365 * 24 * 60 * 60
	EpochsPerDay    = 225
	EpochsPerYear   = EpochsPerDay * DaysPerYear
	DefaultDecimals = 18
	RayDecimals     = 27
)

// Band spreads applied by EstimateBands
const (
	Spread7d  = 0.10
	Spread30d = 0.15
)

// BlocksPerYear returns the compounding periods for a per-block rate
func BlocksPerYear(blocksPerDay uint64) uint64 {
	return blocksPerDay * DaysPerYear
}

// FromRate compounds a per-period rate r over n periods and returns the yield in
// percent, ((1+r)^n - 1) * 100.
func FromRate(r *big.Float, n uint64) (float64, error) {
	if r == nil || r.IsInf() {
		return 0, fmt.Errorf("rate is not finite: %w", model.ErrInvalidRate)
	}
	if r.Sign() < 0 {
		return 0, fmt.Errorf("negative rate %s: %w", r.Text('g', 10), model.ErrInvalidRate)
	}
	if n == 0 {
		return 0, fmt.Errorf("zero compounding periods: %w", model.ErrInvalidRate)
	}
	if r.Sign() == 0 {
		return 0, nil
	}

	one := new(big.Float).SetPrec(precision).SetInt64(1)
	base := new(big.Float).SetPrec(precision).Add(one, r)
	growth := pow(base, n)

	growth.Sub(growth, one)
	growth.Mul(growth, new(big.Float).SetPrec(precision).SetInt64(100))

	result, _ := growth.Float64()
	if math.IsInf(result, 0) {
		return 0, fmt.Errorf("yield overflows: %w", model.ErrInvalidRate)
	}
	return result, nil
}

// FromFloat is FromRate for rates already held as float64
func FromFloat(r float64, n uint64) (float64, error) {
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0, fmt.Errorf("rate is not finite: %w", model.ErrInvalidRate)
	}
	return FromRate(new(big.Float).SetPrec(precision).SetFloat64(r), n)
}

// FromFixedPoint compounds a fixed-point mantissa such as Compound's 1e18 per-block
// rate or Aave's RAY without passing through float64.
func FromFixedPoint(raw *big.Int, decimals uint, n uint64) (float64, error) {
	if raw == nil {
		return 0, fmt.Errorf("missing rate: %w", model.ErrInvalidRate)
	}
	r := new(big.Float).SetPrec(precision).SetInt(raw)
	r.Quo(r, scale(decimals))
	return FromRate(r, n)
}

// FromAnnualFixedPoint splits an annual fixed-point rate (Aave's currentLiquidityRate)
// evenly across n periods and compounds it.
func FromAnnualFixedPoint(raw *big.Int, decimals uint, n uint64) (float64, error) {
	if raw == nil {
		return 0, fmt.Errorf("missing rate: %w", model.ErrInvalidRate)
	}
	if n == 0 {
		return 0, fmt.Errorf("zero compounding periods: %w", model.ErrInvalidRate)
	}
	r := new(big.Float).SetPrec(precision).SetInt(raw)
	r.Quo(r, scale(decimals))
	r.Quo(r, new(big.Float).SetPrec(precision).SetUint64(n))
	return FromRate(r, n)
}

// FromAPRPercent compounds a simple annual rate given in percent over n periods
func FromAPRPercent(aprPercent float64, n uint64) (float64, error) {
	if n == 0 {
		return 0, fmt.Errorf("zero compounding periods: %w", model.ErrInvalidRate)
	}
	return FromFloat(aprPercent/100/float64(n), n)
}

// EstimateBands fills the 7d/30d bands from the current value using the fixed
// spread policy. The result is flagged as estimated.
func EstimateBands(current float64) model.APY {
	return model.APY{
		Current:   current,
		Min7d:     current * (1 - Spread7d),
		Mean7d:    current,
		Max7d:     current * (1 + Spread7d),
		Min30d:    current * (1 - Spread30d),
		Mean30d:   current,
		Max30d:    current * (1 + Spread30d),
		Estimated: true,
	}
}

// Normalize is FromFixedPoint followed by EstimateBands
func Normalize(raw *big.Int, decimals uint, n uint64) (model.APY, error) {
	current, err := FromFixedPoint(raw, decimals, n)
	if err != nil {
		return model.APY{}, err
	}
	return EstimateBands(current), nil
}

func pow(base *big.Float, n uint64) *big.Float {
	result := new(big.Float).SetPrec(precision).SetInt64(1)
	b := new(big.Float).SetPrec(precision).Set(base)
	for n > 0 {
		if n&1 == 1 {
			result.Mul(result, b)
		}
		n >>= 1
		if n > 0 {
			b.Mul(b, b)
		}
	}
	return result
}

func scale(decimals uint) *big.Float {
	ten := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return new(big.Float).SetPrec(precision).SetInt(ten)
}
