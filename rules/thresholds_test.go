package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/coinwhistle/sentinel/common"
)

func TestPriceChangeLevel(t *testing.T) {
	cases := []struct {
		change float64
		want   common.AlertLevel
	}{
		{4.9, common.LevelInfo},
		{5, common.LevelWarning},
		{-7, common.LevelWarning},
		{10, common.LevelCritical},
		{19.999, common.LevelCritical},
		{20, common.LevelExtreme},
		{-25, common.LevelExtreme},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, PriceChangeLevel(c.change), "change=%v", c.change)
	}
}

func TestSpreadAndFundingAndVolumeLevels(t *testing.T) {
	assert.Equal(t, common.LevelWarning, SpreadLevel(1.5))
	assert.Equal(t, common.LevelCritical, SpreadLevel(-3.2))
	assert.Equal(t, common.LevelExtreme, SpreadLevel(5))

	assert.Equal(t, common.LevelWarning, FundingLevel(0.1))
	assert.Equal(t, common.LevelCritical, FundingLevel(-0.31))
	assert.Equal(t, common.LevelExtreme, FundingLevel(0.5))

	assert.Equal(t, common.LevelInfo, VolumeRatioLevel(9.99))
	assert.Equal(t, common.LevelWarning, VolumeRatioLevel(10))
	assert.Equal(t, common.LevelCritical, VolumeRatioLevel(20))
	assert.Equal(t, common.LevelExtreme, VolumeRatioLevel(50))
}

func TestBigOrderThreshold_Tiers(t *testing.T) {
	// small tier: V=5M -> max(500k, 5M*20%=1M) = 1M
	assert.InDelta(t, 1_000_000, BigOrderThreshold(5_000_000), 1)

	// mid tier: V=50M -> max(2M, 50M*10%=5M) = 5M
	assert.InDelta(t, 5_000_000, BigOrderThreshold(50_000_000), 1)

	// large tier: V=500M -> max(5M, 500M*5%=25M) = 25M
	assert.InDelta(t, 25_000_000, BigOrderThreshold(500_000_000), 1)

	// mega tier: V=2B -> max(10M, 2B*2%=40M) = 40M
	assert.InDelta(t, 40_000_000, BigOrderThreshold(2_000_000_000), 1)

	// V<=0: only the small-cap absolute floor applies
	assert.InDelta(t, 500_000, BigOrderThreshold(0), 1)
	assert.InDelta(t, 500_000, BigOrderThreshold(-10), 1)
}

func TestIsBigOrder_MidTier(t *testing.T) {
	// ZUSDT 24h turnover $50M (mid tier), threshold is max(2M,5M)=5M.
	assert.False(t, IsBigOrder(3_000_000, 50_000_000))
	assert.True(t, IsBigOrder(6_000_000, 50_000_000))
}

func TestBigOrderLevel(t *testing.T) {
	assert.Equal(t, common.LevelWarning, BigOrderLevel(6_000_000, 50_000_000)) // ratio 12%
	assert.Equal(t, common.LevelCritical, BigOrderLevel(6_000_000, 25_000_000)) // ratio 24%
	assert.Equal(t, common.LevelExtreme, BigOrderLevel(60_000_000, 1_000_000))  // notional floor
	assert.Equal(t, common.LevelInfo, BigOrderLevel(100, 1_000_000))
}
