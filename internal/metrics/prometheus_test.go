package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counts(t *testing.T) {
	r := New()
	r.RecordSourceRun("aave_v3", "FAILED")
	r.RecordSourceRun("aave_v3", "FAILED")
	r.RecordSnapshot("PARTIAL", 3*time.Second, 50)
	r.RecordPricesResolved("coingecko", 3)
	r.RecordPricesResolved("cache", 0)

	assert.Equal(t, float64(2), testutil.ToFloat64(r.sourceRuns.WithLabelValues("aave_v3", "FAILED")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.snapshots.WithLabelValues("PARTIAL")))
	assert.Equal(t, float64(50), testutil.ToFloat64(r.coverage))
	assert.Equal(t, float64(3), testutil.ToFloat64(r.pricesResolved.WithLabelValues("coingecko")))
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	r.RecordSourceRun("prices", "SUCCESS")
	r.RecordSnapshot("SUCCESS", time.Second, 100)
	r.RecordPriceRequest("simple_price", "ok")
	r.RecordPricesResolved("mock", 1)
}

func TestRecorder_Handler(t *testing.T) {
	r := New()
	r.RecordPriceRequest("simple_price", "rate_limited")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `refresher_price_requests_total{endpoint="simple_price",outcome="rate_limited"} 1`))
}
