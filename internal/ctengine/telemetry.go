package ctengine

import (
	"github.com/bl4ck0w1/ctlynx/pkg/models"
	"github.com/bl4ck0w1/ctlynx/pkg/utils"
)

// Reporter receives the outcome of each CT evaluation. Implementations are
// fire-and-forget: the engine tolerates panics and never waits.
type Reporter interface {
	ReportComplianceOutcome(compliance models.PolicyCompliance, result *models.VerificationResult, storeState models.StoreState)
}

// MetricsReporter feeds evaluation outcomes into the prometheus collector.
type MetricsReporter struct {
	metrics *utils.MetricsCollector
}

func NewMetricsReporter(metrics *utils.MetricsCollector) *MetricsReporter {
	return &MetricsReporter{metrics: metrics}
}

func (m *MetricsReporter) ReportComplianceOutcome(compliance models.PolicyCompliance, result *models.VerificationResult, storeState models.StoreState) {
	if m.metrics == nil {
		return
	}
	m.metrics.ObserveVerification(string(compliance))
	for _, v := range result.Valid() {
		m.metrics.ObserveSCT(string(v.Status), string(v.SCT.Origin))
	}
	for _, v := range result.Invalid() {
		m.metrics.ObserveSCT(string(v.Status), string(v.SCT.Origin))
	}
	m.metrics.SetStoreState(string(storeState))
}
