package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Solvency engine metrics collector.

var (
	// Singleton collector
	collector     *Collector
	collectorOnce sync.Once
)

// Collector holds all solvency engine metrics.
type Collector struct {
	// Pool health
	TotalCapital     prometheus.Gauge
	EffectiveCapital prometheus.Gauge
	CoverageSold     prometheus.Gauge
	VaultUtilization prometheus.Gauge
	Insolvent        prometheus.Gauge

	// Per-tranche views
	TrancheCapital     *prometheus.GaugeVec
	TrancheUtilization *prometheus.GaugeVec
	TrancheAPY         *prometheus.GaugeVec

	// Cascade outcomes
	PremiumsDistributed prometheus.Counter
	PremiumSurplus      prometheus.Counter
	LossesAbsorbed      prometheus.Counter
	LossesUnabsorbed    prometheus.Counter
	TranchesWiped       *prometheus.CounterVec

	// Underwriting decisions
	UnderwriteChecks *prometheus.CounterVec
}

// GetCollector returns the singleton metrics collector, registering it with
// the default registry on first use.
func GetCollector() *Collector {
	collectorOnce.Do(func() {
		collector = newCollector()
		collector.register()
	})
	return collector
}

func newCollector() *Collector {
	c := &Collector{}

	c.TotalCapital = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "solvency",
		Subsystem: "pool",
		Name:      "total_capital",
		Help:      "Total tranche capital in the smallest currency unit",
	})
	c.EffectiveCapital = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "solvency",
		Subsystem: "pool",
		Name:      "effective_capital",
		Help:      "Risk-weighted underwriting capacity in the smallest currency unit",
	})
	c.CoverageSold = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "solvency",
		Subsystem: "pool",
		Name:      "coverage_sold",
		Help:      "Total outstanding coverage in the smallest currency unit",
	})
	c.VaultUtilization = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "solvency",
		Subsystem: "pool",
		Name:      "utilization",
		Help:      "Coverage sold over total capital",
	})
	c.Insolvent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "solvency",
		Subsystem: "pool",
		Name:      "insolvent",
		Help:      "1 when the pool is in the insolvent terminal state",
	})

	c.TrancheCapital = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "solvency",
		Subsystem: "tranche",
		Name:      "capital",
		Help:      "Tranche capital in the smallest currency unit",
	}, []string{"tranche"})
	c.TrancheUtilization = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "solvency",
		Subsystem: "tranche",
		Name:      "utilization",
		Help:      "Allocated coverage over risk-weighted tranche capacity",
	}, []string{"tranche"})
	c.TrancheAPY = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "solvency",
		Subsystem: "tranche",
		Name:      "apy_percent",
		Help:      "Current annualized yield rate in percent",
	}, []string{"tranche"})

	c.PremiumsDistributed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "solvency",
		Subsystem: "waterfall",
		Name:      "premiums_distributed_total",
		Help:      "Premium amount paid into tranche yield",
	})
	c.PremiumSurplus = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "solvency",
		Subsystem: "waterfall",
		Name:      "premium_surplus_total",
		Help:      "Premium amount left over after all tranches hit target yield",
	})
	c.LossesAbsorbed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "solvency",
		Subsystem: "waterfall",
		Name:      "losses_absorbed_total",
		Help:      "Loss amount absorbed by tranche capital",
	})
	c.LossesUnabsorbed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "solvency",
		Subsystem: "waterfall",
		Name:      "losses_unabsorbed_total",
		Help:      "Loss amount surviving all tranches (insolvency)",
	})
	c.TranchesWiped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "solvency",
		Subsystem: "waterfall",
		Name:      "tranches_wiped_total",
		Help:      "Times a tranche was reduced to exactly zero by a loss cascade",
	}, []string{"tranche"})

	c.UnderwriteChecks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "solvency",
		Subsystem: "underwriting",
		Name:      "checks_total",
		Help:      "Underwriting checks by outcome and rejection reason",
	}, []string{"result", "reason"})

	return c
}

func (c *Collector) register() {
	prometheus.MustRegister(
		c.TotalCapital,
		c.EffectiveCapital,
		c.CoverageSold,
		c.VaultUtilization,
		c.Insolvent,
		c.TrancheCapital,
		c.TrancheUtilization,
		c.TrancheAPY,
		c.PremiumsDistributed,
		c.PremiumSurplus,
		c.LossesAbsorbed,
		c.LossesUnabsorbed,
		c.TranchesWiped,
		c.UnderwriteChecks,
	)
}
