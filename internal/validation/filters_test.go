package validation

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TadashiJei/OrbitYield/internal/model"
)

func opp(id string, apy float64, tvl int64) model.YieldOpportunity {
	return model.YieldOpportunity{
		ID:             model.OpportunityID("compound", "1", id),
		Protocol:       "compound",
		ChainID:        "1",
		Asset:          model.Asset{Symbol: "DAI", Decimals: 18},
		APY:            model.APY{Current: apy},
		TVLUSD:         decimal.NewFromInt(tvl),
		Implementation: model.Implementation{ContractAddress: id},
		Status:         model.StatusActive,
		DiscoveredAt:   time.Now(),
	}
}

func TestFilterInvalid_BasicCriteria(t *testing.T) {
	stale := opp("0x05", 3, 1000)
	stale.DiscoveredAt = time.Now().Add(-48 * time.Hour)

	deprecated := opp("0x06", 3, 1000)
	deprecated.Status = model.StatusDeprecated

	mismatched := opp("0x07", 3, 1000)
	mismatched.ChainID = "137"

	noContract := opp("0x08", 3, 1000)
	noContract.Implementation.ContractAddress = ""

	tests := []struct {
		name string
		opps []model.YieldOpportunity
		want int
	}{
		{
			name: "all valid",
			opps: []model.YieldOpportunity{opp("0x01", 5, 1000), opp("0x02", 0, 0), opp("0x03", 999, 1)},
			want: 3,
		},
		{
			name: "some invalid",
			opps: []model.YieldOpportunity{
				opp("0x01", 5, 1000),
				opp("0x02", -0.1, 1000),      // negative APY
				opp("0x03", 5, -1),           // negative TVL
				opp("0x04", math.NaN(), 100), // NaN APY
				stale,
				deprecated,
				mismatched,
				noContract,
				opp("0x09", 5000, 100), // implausible APY
			},
			want: 1,
		},
		{
			name: "empty input",
			opps: []model.YieldOpportunity{},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filtered := FilterInvalid(tt.opps)
			assert.Len(t, filtered, tt.want)
		})
	}
}

func TestFilterInvalidPreservesOrder(t *testing.T) {
	in := []model.YieldOpportunity{opp("0x03", 1, 10), opp("0x01", -1, 10), opp("0x02", 2, 10)}

	out := FilterInvalid(in)
	require.Len(t, out, 2)
	assert.Equal(t, in[0].ID, out[0].ID)
	assert.Equal(t, in[2].ID, out[1].ID)
}

func TestFilterInvalidWithOptions_MinTVL(t *testing.T) {
	opts := DefaultValidationOptions()
	opts.MinTVL = decimal.NewFromInt(500)

	out := FilterInvalidWithOptions([]model.YieldOpportunity{opp("0x01", 1, 499), opp("0x02", 1, 500)}, opts)
	require.Len(t, out, 1)
	assert.Equal(t, model.OpportunityID("compound", "1", "0x02"), out[0].ID)
}

func TestFilterInvalidWithOptions_Outliers(t *testing.T) {
	opts := DefaultValidationOptions()
	opts.EnableOutlierDetection = true

	in := []model.YieldOpportunity{
		opp("0x01", 3.0, 100),
		opp("0x02", 3.5, 100),
		opp("0x03", 4.0, 100),
		opp("0x04", 4.5, 100),
		opp("0x05", 250, 100),
	}

	out := FilterInvalidWithOptions(in, opts)
	assert.Len(t, out, 4)
	for _, o := range out {
		assert.Less(t, o.APY.Current, 10.0)
	}
}

func TestCheckReasons(t *testing.T) {
	assert.Empty(t, Check(opp("0x01", 1, 1), DefaultValidationOptions()))
	assert.Equal(t, "negative apy", Check(opp("0x01", -1, 1), DefaultValidationOptions()))

	o := opp("0x01", 1, 1)
	o.Asset.Decimals = 77
	assert.Equal(t, "invalid asset decimals", Check(o, DefaultValidationOptions()))
}
