package arbitrage

import (
	"testing"
)

// TestMetrics_Registration tests all metrics are initialized
func TestMetrics_Registration(t *testing.T) {
	if OpportunitiesDetectedTotal == nil {
		t.Error("OpportunitiesDetectedTotal not registered")
	}

	if OpportunityMarginBPS == nil {
		t.Error("OpportunityMarginBPS not registered")
	}

	if OpportunitiesRejectedTotal == nil {
		t.Error("OpportunitiesRejectedTotal not registered")
	}

	if OpportunitiesRemovedTotal == nil {
		t.Error("OpportunitiesRemovedTotal not registered")
	}

	if DecayWindowSeconds == nil {
		t.Error("DecayWindowSeconds not registered")
	}
}

// TestMetrics_Observe tests histograms and counters accept values
func TestMetrics_Observe(t *testing.T) {
	OpportunitiesDetectedTotal.WithLabelValues("T1").Inc()
	OpportunitiesRejectedTotal.WithLabelValues("below_required_margin").Inc()
	OpportunityMarginBPS.Observe(100)
	OpportunityQuantity.Observe(50)
	DetectionDurationSeconds.Observe(0.0001)
}
