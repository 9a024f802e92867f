package detect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-bohan/ArbitrageBot/internal/config"
	"github.com/jason-bohan/ArbitrageBot/internal/domain"
)

func testDetectConfig() config.DetectConfig {
	return config.DetectConfig{
		Arbitrage: config.ArbitrageConfig{Enabled: true, MinMarginCents: 2, MinNetCents: 1},
		Imbalance: config.ImbalanceConfig{Enabled: true, Threshold: 0.15, DepthCents: 5, MaxEntryPriceCents: 85},
		Mispricing: config.MispricingConfig{
			Enabled: true, MinSecsLeft: 60, MaxSecsLeft: 600, MinVolume: 1000,
			LowCents: 25, HighCents: 75, MinGapCents: 8, MinConfidence: 0.6,
		},
	}
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func snapWith(yesBid, yesAsk, noBid, noAsk int64) domain.MarketSnapshot {
	return domain.MarketSnapshot{
		Ticker:    "KXTEST-26MAR01-T50",
		YesBid:    yesBid,
		YesAsk:    yesAsk,
		NoBid:     noBid,
		NoAsk:     noAsk,
		CloseTime: testNow.Add(10 * time.Minute),
		Volume:    5000,
		FetchedAt: testNow,
	}
}

func TestArbitrageEmitsBelowBound(t *testing.T) {
	p := ArbitrageParams{MinMarginCents: 2, MinNetCents: 1, FeePct: 0.012}

	opp, ok := Arbitrage(snapWith(46, 47, 46, 47), p, testNow)
	require.True(t, ok)

	assert.Equal(t, domain.KindArbitrage, opp.Kind)
	assert.Equal(t, int64(47), opp.YesAsk)
	assert.Equal(t, int64(47), opp.NoAsk)
	// gross = 100 - 94 = 6c; net = 6 - 6*0.012 = 5.928c.
	assert.InDelta(t, 5.928, opp.NetEdgeCents, 1e-9)
	assert.Equal(t, 1.0, opp.Confidence)
}

func TestArbitrageNoEmitAtOrAboveBound(t *testing.T) {
	p := ArbitrageParams{MinMarginCents: 2, MinNetCents: 0, FeePct: 0.012}

	// total = 98 = 100 - min_margin exactly: no opportunity.
	_, ok := Arbitrage(snapWith(48, 49, 48, 49), p, testNow)
	assert.False(t, ok)

	// total = 99: no opportunity.
	_, ok = Arbitrage(snapWith(48, 50, 48, 49), p, testNow)
	assert.False(t, ok)
}

func TestArbitrageRejectsMissingAskAndDecided(t *testing.T) {
	p := ArbitrageParams{MinMarginCents: 2, MinNetCents: 0, FeePct: 0.012}

	_, ok := Arbitrage(snapWith(40, 0, 40, 45), p, testNow)
	assert.False(t, ok, "missing yes ask")

	_, ok = Arbitrage(snapWith(94, 96, 2, 3), p, testNow)
	assert.False(t, ok, "decided market (yes_ask >= 95)")
}

func TestArbitrageRejectsBelowMinNet(t *testing.T) {
	p := ArbitrageParams{MinMarginCents: 2, MinNetCents: 6.0, FeePct: 0.012}

	// gross = 6c but net = 5.928c < 6c minimum.
	_, ok := Arbitrage(snapWith(46, 47, 46, 47), p, testNow)
	assert.False(t, ok)
}

func bookWith(yesLevels, noLevels []domain.PriceLevel) domain.OrderBook {
	return domain.OrderBook{
		Ticker:    "KXTEST-26MAR01-T50",
		YesBids:   yesLevels,
		NoBids:    noLevels,
		FetchedAt: testNow,
	}
}

func TestImbalancePicksHeavySide(t *testing.T) {
	p := ImbalanceParams{Threshold: 0.15, DepthCents: 5, MaxEntryPriceCents: 85, FeePct: 0.012}
	snap := snapWith(40, 42, 56, 58)

	// Yes-heavy book: Vyes=800, Vno=200 within depth, OBI=+0.6.
	book := bookWith(
		[]domain.PriceLevel{{PriceCents: 38, Count: 300}, {PriceCents: 40, Count: 500}},
		[]domain.PriceLevel{{PriceCents: 56, Count: 200}},
	)

	opp, ok := Imbalance(snap, book, p, testNow)
	require.True(t, ok)
	assert.Equal(t, domain.SideYes, opp.Side)
	assert.Equal(t, int64(42), opp.EntryPriceCents)
	assert.InDelta(t, 0.6, opp.Confidence, 1e-9)
}

func TestImbalanceNegativeOBIBuysNo(t *testing.T) {
	p := ImbalanceParams{Threshold: 0.15, DepthCents: 5, MaxEntryPriceCents: 85, FeePct: 0.012}
	snap := snapWith(40, 42, 56, 58)

	book := bookWith(
		[]domain.PriceLevel{{PriceCents: 40, Count: 100}},
		[]domain.PriceLevel{{PriceCents: 54, Count: 400}, {PriceCents: 56, Count: 500}},
	)

	opp, ok := Imbalance(snap, book, p, testNow)
	require.True(t, ok)
	assert.Equal(t, domain.SideNo, opp.Side)
	assert.Equal(t, int64(58), opp.EntryPriceCents)
}

func TestImbalanceBelowThresholdOrPriceyEntry(t *testing.T) {
	p := ImbalanceParams{Threshold: 0.15, DepthCents: 5, MaxEntryPriceCents: 50, FeePct: 0.012}

	// Balanced book: OBI = 0.
	balanced := bookWith(
		[]domain.PriceLevel{{PriceCents: 40, Count: 500}},
		[]domain.PriceLevel{{PriceCents: 56, Count: 500}},
	)
	_, ok := Imbalance(snapWith(40, 42, 56, 58), balanced, p, testNow)
	assert.False(t, ok)

	// Strong OBI but entry above the cap.
	heavy := bookWith(
		[]domain.PriceLevel{{PriceCents: 60, Count: 900}},
		[]domain.PriceLevel{{PriceCents: 36, Count: 100}},
	)
	_, ok = Imbalance(snapWith(60, 62, 36, 38), heavy, p, testNow)
	assert.False(t, ok)
}

func TestImbalanceEmptyBook(t *testing.T) {
	p := ImbalanceParams{Threshold: 0.15, DepthCents: 5, FeePct: 0.012}
	_, ok := Imbalance(snapWith(40, 42, 56, 58), domain.OrderBook{}, p, testNow)
	assert.False(t, ok)
}

func misParams() MispricingParams {
	return MispricingParams{
		MinSecsLeft:   60,
		MaxSecsLeft:   600,
		MinVolume:     1000,
		LowCents:      25,
		HighCents:     75,
		MinGapCents:   8,
		MinConfidence: 0.6,
		FeePct:        0.012,
	}
}

func TestMispricingBuysCheapSide(t *testing.T) {
	snap := snapWith(10, 14, 84, 88)
	snap.CloseTime = testNow.Add(5 * time.Minute)

	opp, ok := Mispricing(snap, misParams(), testNow)
	require.True(t, ok)
	assert.Equal(t, domain.KindMispricing, opp.Kind)
	assert.Equal(t, domain.SideYes, opp.Side)
	assert.Equal(t, int64(14), opp.EntryPriceCents)
	// gap = 86 - 12 = 74; confidence = clamp(0.6, 0.74-0.012+0.3, 0.85) = 0.85.
	assert.InDelta(t, 0.85, opp.Confidence, 1e-9)
}

func TestMispricingOutsideWindow(t *testing.T) {
	p := misParams()

	early := snapWith(10, 14, 84, 88)
	early.CloseTime = testNow.Add(2 * time.Hour)
	_, ok := Mispricing(early, p, testNow)
	assert.False(t, ok, "too far from close")

	late := snapWith(10, 14, 84, 88)
	late.CloseTime = testNow.Add(30 * time.Second)
	_, ok = Mispricing(late, p, testNow)
	assert.False(t, ok, "inside MinSecsLeft")
}

func TestMispricingThinVolumeOrNarrowGap(t *testing.T) {
	p := misParams()

	thin := snapWith(10, 14, 84, 88)
	thin.CloseTime = testNow.Add(5 * time.Minute)
	thin.Volume = 10
	_, ok := Mispricing(thin, p, testNow)
	assert.False(t, ok)

	// Mids 40 vs 60: neither side clears the low/high thresholds.
	narrow := snapWith(38, 42, 58, 62)
	narrow.CloseTime = testNow.Add(5 * time.Minute)
	_, ok = Mispricing(narrow, p, testNow)
	assert.False(t, ok)
}

func TestEvaluateArbitrageWinsOverDirectional(t *testing.T) {
	cfg := testDetectConfig()
	d := NewDetector(cfg, 0.012)

	snap := snapWith(44, 46, 44, 46)
	snap.CloseTime = testNow.Add(5 * time.Minute)
	book := bookWith(
		[]domain.PriceLevel{{PriceCents: 44, Count: 900}},
		[]domain.PriceLevel{{PriceCents: 44, Count: 100}},
	)

	opps := d.Evaluate(snap, book, testNow)
	require.Len(t, opps, 1)
	assert.Equal(t, domain.KindArbitrage, opps[0].Kind)
}

func TestRankSortsByNetEdgeDescending(t *testing.T) {
	opps := []domain.Opportunity{
		{Ticker: "A", NetEdgeCents: 1.5},
		{Ticker: "B", NetEdgeCents: 5.9},
		{Ticker: "C", NetEdgeCents: 3.0},
	}
	Rank(opps)
	assert.Equal(t, []string{"B", "C", "A"}, []string{opps[0].Ticker, opps[1].Ticker, opps[2].Ticker})
}
