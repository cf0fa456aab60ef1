package metrics_test

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/atlas-desktop/sol-autotrader/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	m := metrics.New("")

	m.RecordCycle("ok", 200*time.Millisecond)
	m.RecordCycle("ok", 100*time.Millisecond)
	m.RecordCycle("error", time.Second)
	m.RecordIntent("rejected_verifier")
	m.RecordEntry("shadow_filled")
	m.RecordExit("take_profit_hit")
	m.RecordEQS(82)
	m.ObserveQuoteLatency(150 * time.Millisecond)
	m.UpdateState(10.5, 0.02, true, 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CyclesTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CyclesTotal.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IntentsTotal.WithLabelValues("rejected_verifier")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExitsTotal.WithLabelValues("take_profit_hit")))
	assert.Equal(t, 10.5, testutil.ToFloat64(m.EquitySol))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GuardPaused))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.OpenPositions))

	m.UpdateState(10.5, 0, false, 0)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.GuardPaused))
}

func TestHandlerExposesNamespace(t *testing.T) {
	m := metrics.New("")
	m.RecordCycle("ok", time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "sol_autotrader_loop_cycles_total")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestInstancesDoNotCollide(t *testing.T) {
	assert.NotPanics(t, func() {
		metrics.New("a")
		metrics.New("a")
	})
}
