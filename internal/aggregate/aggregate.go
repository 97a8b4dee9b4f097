package aggregate

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/TadashiJei/OrbitYield/internal/model"
)

// Summary fasst die veröffentlichten Opportunities einer Chain zusammen
type Summary struct {
	ChainID     string          `json:"chainId"`
	Count       int             `json:"count"`
	TVLUSD      decimal.Decimal `json:"tvlUsd"`
	WeightedAPY float64         `json:"weightedApy"`
	MedianAPY   float64         `json:"medianApy"`
	MaxAPY      float64         `json:"maxApy"`
}

// Weighted berechnet den TVL-gewichteten APY-Durchschnitt
// Opportunities ohne TVL oder mit negativem APY werden ignoriert
func Weighted(opps []model.YieldOpportunity) (float64, decimal.Decimal) {
	totalTVL := decimal.Zero
	weighted := decimal.Zero

	for _, o := range opps {
		if !o.TVLUSD.IsPositive() || o.APY.Current < 0 || math.IsNaN(o.APY.Current) {
			continue
		}
		totalTVL = totalTVL.Add(o.TVLUSD)
		weighted = weighted.Add(o.TVLUSD.Mul(decimal.NewFromFloat(o.APY.Current)))
	}

	if !totalTVL.IsPositive() {
		return 0, decimal.Zero
	}

	apy, _ := weighted.Div(totalTVL).Float64()
	return apy, totalTVL
}

// Median berechnet den Medianwert für eine bestimmte Eigenschaft
// Robust gegen Ausreißer einzelner Märkte
func Median(opps []model.YieldOpportunity, selector func(model.YieldOpportunity) float64) float64 {
	if len(opps) == 0 {
		return 0
	}

	values := make([]float64, 0, len(opps))
	for _, o := range opps {
		v := selector(o)
		if !math.IsNaN(v) {
			values = append(values, v)
		}
	}

	if len(values) == 0 {
		return 0
	}

	sort.Float64s(values)
	n := len(values)

	if n%2 == 0 {
		return (values[n/2-1] + values[n/2]) / 2
	}
	return values[n/2]
}

// CurrentAPY ist der Standard-Selektor für Median
func CurrentAPY(o model.YieldOpportunity) float64 {
	return o.APY.Current
}

// Summarize erstellt die Zusammenfassung für eine Chain
func Summarize(chainID string, opps []model.YieldOpportunity) Summary {
	weighted, tvl := Weighted(opps)

	maxAPY := 0.0
	for _, o := range opps {
		if o.APY.Current > maxAPY {
			maxAPY = o.APY.Current
		}
	}

	return Summary{
		ChainID:     chainID,
		Count:       len(opps),
		TVLUSD:      tvl,
		WeightedAPY: weighted,
		MedianAPY:   Median(opps, CurrentAPY),
		MaxAPY:      maxAPY,
	}
}

// ByProtocol gruppiert Opportunities nach Protokoll, Reihenfolge bleibt erhalten
func ByProtocol(opps []model.YieldOpportunity) map[string][]model.YieldOpportunity {
	grouped := make(map[string][]model.YieldOpportunity)
	for _, o := range opps {
		grouped[o.Protocol] = append(grouped[o.Protocol], o)
	}
	return grouped
}

// TopByAPY liefert die n Opportunities mit dem höchsten aktuellen APY
func TopByAPY(opps []model.YieldOpportunity, n int) []model.YieldOpportunity {
	sorted := make([]model.YieldOpportunity, len(opps))
	copy(sorted, opps)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].APY.Current > sorted[j].APY.Current
	})
	if n >= 0 && n < len(sorted) {
		sorted = sorted[:n]
	}
	return sorted
}
