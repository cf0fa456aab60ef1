package utils_test

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/atlas-desktop/sol-autotrader/pkg/utils"
	"github.com/stretchr/testify/assert"
)

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, utils.Clamp(-1, 0, 1))
	assert.Equal(t, 1.0, utils.Clamp(3, 0, 1))
	assert.Equal(t, 0.4, utils.Clamp(0.4, 0, 1))
	assert.Equal(t, 0.0, utils.Clamp(math.NaN(), 0, 1))
	assert.Equal(t, 0.0, utils.Clamp(math.Inf(1), 0, 1))
}

func TestMedianAndStdDev(t *testing.T) {
	assert.Equal(t, 0.0, utils.Median(nil))
	assert.Equal(t, 2.0, utils.Median([]float64{3, 1, 2}))
	assert.Equal(t, 2.5, utils.Median([]float64{4, 1, 2, 3}))

	assert.Equal(t, 0.0, utils.StdDev([]float64{5}))
	assert.InDelta(t, 2.0, utils.StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9}), 1e-9)
}

func TestPercentChange(t *testing.T) {
	assert.Equal(t, 0.0, utils.PercentChange(10, 0))
	assert.InDelta(t, 0.1, utils.PercentChange(11, 10), 1e-12)
	assert.InDelta(t, -0.5, utils.PercentChange(5, 10), 1e-12)
}

func TestLamportConversions(t *testing.T) {
	assert.Equal(t, uint64(250_000_000), utils.SolToLamports(0.25))
	assert.Equal(t, uint64(0), utils.SolToLamports(-1))
	assert.Equal(t, 1.5, utils.LamportsToSol(1_500_000_000))
	assert.Equal(t, 0.2, utils.RawLamportsToSol("200000000"))
	assert.Equal(t, 0.0, utils.RawLamportsToSol("garbage"))

	v, ok := utils.ParseRawAmount("12345")
	assert.True(t, ok)
	assert.Equal(t, uint64(12345), v)

	_, ok = utils.ParseRawAmount("")
	assert.False(t, ok)
	_, ok = utils.ParseRawAmount("1.5")
	assert.False(t, ok)
}

func TestStartOfUTCDay(t *testing.T) {
	ts := time.Date(2024, 3, 9, 17, 45, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), utils.StartOfUTCDay(ts))
}

func TestGenerateID(t *testing.T) {
	id := utils.GenerateTradeID()
	assert.True(t, strings.HasPrefix(id, "trd_"))
	assert.NotEqual(t, id, utils.GenerateTradeID())
}
