package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New(nil)

	m.Redemption("redeemed")
	m.Redemption("redeemed")
	m.Redemption("invalid")
	m.LicenseGenerated("purchase")
	m.TrialReported()
	m.PaymentRequest("capture", "success")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.redemptions.WithLabelValues("redeemed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.redemptions.WithLabelValues("invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.licensesGenerated.WithLabelValues("purchase")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.trialReports))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.paymentRequests.WithLabelValues("capture", "success")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Redemption("redeemed")
		m.LicenseGenerated("generate")
		m.TrialReported()
		m.PaymentRequest("create", "error")
	})
}

func TestHandler(t *testing.T) {
	m := New(nil)
	m.TrialReported()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "licensor_trial_reports_total 1")
}
