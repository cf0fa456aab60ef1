package execution_test

import (
	"testing"

	"github.com/atlas-desktop/sol-autotrader/internal/execution"
	"github.com/stretchr/testify/assert"
)

func baseQuality() execution.QualityInput {
	return execution.QualityInput{
		PriceImpactBps:       20,
		MaxPriceImpactBps:    220,
		LatencyMs:            300,
		MaxLatencyMs:         2_000,
		RouteHops:            2,
		LiquidityUSD:         30_000,
		MinRouteLiquidityUSD: 12_000,
		SpreadBps:            100,
		MaxSpreadBps:         450,
	}
}

func TestScoreExecutionQualityIsMonotonic(t *testing.T) {
	low := baseQuality()
	high := baseQuality()
	high.PriceImpactBps = 200
	assert.Greater(t, execution.ScoreExecutionQuality(low), execution.ScoreExecutionQuality(high))

	slow := baseQuality()
	slow.LatencyMs = 1_500
	assert.Greater(t, execution.ScoreExecutionQuality(low), execution.ScoreExecutionQuality(slow))

	wide := baseQuality()
	wide.SpreadBps = 400
	assert.Greater(t, execution.ScoreExecutionQuality(low), execution.ScoreExecutionQuality(wide))

	for impact := 0.0; impact < 400; impact += 10 {
		a := baseQuality()
		a.PriceImpactBps = impact
		b := baseQuality()
		b.PriceImpactBps = impact + 10
		assert.GreaterOrEqual(t, execution.ScoreExecutionQuality(a), execution.ScoreExecutionQuality(b))
	}
}

func TestScoreExecutionQualityBounds(t *testing.T) {
	perfect := execution.QualityInput{
		RouteHops:            1,
		LiquidityUSD:         1_000_000,
		MinRouteLiquidityUSD: 12_000,
		MaxPriceImpactBps:    220,
		MaxLatencyMs:         2_000,
		MaxSpreadBps:         450,
	}
	assert.Equal(t, 100.0, execution.ScoreExecutionQuality(perfect))

	worst := execution.QualityInput{
		PriceImpactBps:       10_000,
		MaxPriceImpactBps:    220,
		LatencyMs:            60_000,
		MaxLatencyMs:         2_000,
		RouteHops:            9,
		MinRouteLiquidityUSD: 12_000,
		SpreadBps:            9_999,
		MaxSpreadBps:         450,
	}
	assert.Equal(t, 0.0, execution.ScoreExecutionQuality(worst))
}

func TestEscalatedValue(t *testing.T) {
	assert.Equal(t, 50.0, execution.EscalatedValue(50, 50, 300, 0))
	assert.Equal(t, 150.0, execution.EscalatedValue(50, 50, 300, 2))
	assert.Equal(t, 300.0, execution.EscalatedValue(50, 50, 300, 20))
	assert.Equal(t, 0.0, execution.EscalatedValue(-100, 10, 300, 1))

	prev := 0.0
	for attempt := 0; attempt < 30; attempt++ {
		v := execution.EscalatedValue(50, 50, 300, attempt)
		assert.GreaterOrEqual(t, v, prev)
		prev = v
	}
}

func TestParsePriceImpactBps(t *testing.T) {
	assert.Equal(t, 123.0, execution.ParsePriceImpactBps("0.0123"))
	assert.Equal(t, 0.0, execution.ParsePriceImpactBps(""))
	assert.Equal(t, 0.0, execution.ParsePriceImpactBps("abc"))
	assert.Equal(t, 0.0, execution.ParsePriceImpactBps("-0.01"))
}

func TestInstantLossAndPnl(t *testing.T) {
	assert.Equal(t, 200.0, execution.InstantLossBps(1, 0.98))
	assert.Equal(t, 0.0, execution.InstantLossBps(1, 1.05))
	assert.Equal(t, 0.0, execution.InstantLossBps(0, 1))

	assert.InDelta(t, 0.1, execution.PnlPct(1.1, 1), 1e-12)
	assert.Equal(t, 0.0, execution.PnlPct(1, 0))
	assert.InDelta(t, -0.2, execution.PnlSol(0.8, 1), 1e-12)
}
