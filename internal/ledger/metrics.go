package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FillsRecordedTotal tracks fills appended to the ledger.
	FillsRecordedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hedge_ledger_fills_recorded_total",
		Help: "Total number of fills recorded",
	})

	// SettlementsTotal tracks market settlements.
	SettlementsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hedge_ledger_settlements_total",
		Help: "Total number of market settlements",
	})

	// SettlementPnL tracks cumulative PnL realized by settlements.
	SettlementPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hedge_ledger_settlement_pnl",
		Help: "Cumulative PnL realized by settlements",
	})

	// UnhedgedPositionsTotal tracks positions flagged as unhedged.
	UnhedgedPositionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hedge_ledger_unhedged_positions_total",
		Help: "Total number of positions flagged as unhedged",
	})

	// OpenPositions tracks positions holding units.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hedge_ledger_open_positions",
		Help: "Number of open positions",
	})

	// OpenExposure tracks cost basis of open positions.
	OpenExposure = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hedge_ledger_open_exposure",
		Help: "Cost basis of open positions",
	})
)
