package utils

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCollectorCounters(t *testing.T) {
	m := NewMetricsCollector(false)

	m.ObserveVerification("comply")
	m.ObserveVerification("comply")
	m.ObserveVerification("not_enough_scts")
	m.ObserveSCT("valid", "embedded")
	m.ObserveSCT("unknown_log", "tls_extension")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.verifications.WithLabelValues("comply")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.verifications.WithLabelValues("not_enough_scts")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.scts.WithLabelValues("valid", "embedded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.scts.WithLabelValues("unknown_log", "tls_extension")))
}

func TestSetStoreStateIsExclusive(t *testing.T) {
	m := NewMetricsCollector(false)

	m.SetStoreState("compliant")
	m.SetStoreState("not_compliant")

	assert.Equal(t, 0.0, testutil.ToFloat64(m.storeState.WithLabelValues("compliant")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeState.WithLabelValues("not_compliant")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.storeState.WithLabelValues("unknown")))
}

func TestMetricsHandlerServesRegistry(t *testing.T) {
	m := NewMetricsCollector(false)
	m.ObserveVerification("comply")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "ctlynx_verifications_total")
}

func TestGetRegistryExposesMetricFamilies(t *testing.T) {
	m := NewMetricsCollector(false)
	m.ObserveSCT("valid", "ocsp_response")

	families, err := m.GetRegistry().Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, strings.Join(names, " "), "ctlynx_scts_total")
}
