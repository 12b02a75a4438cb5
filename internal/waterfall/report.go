package waterfall

import (
	"fmt"
	"strings"
	"time"

	"cosmossdk.io/math"

	"github.com/tonsurance/solvency-engine/internal/types"
)

// GenerateReport renders a plain-text solvency summary for operational
// monitoring.
func (s *Simulator) GenerateReport(vault types.Vault) string {
	totalCapital := vault.TotalCapital()
	effective := math.ZeroInt()
	for id, cfg := range s.configs {
		effective = effective.Add(types.RiskWeightedCapacity(vault.Tranche(id).Capital, cfg.RiskWeight))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SOLVENCY REPORT  %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "total capital:      %s\n", totalCapital.String())
	fmt.Fprintf(&b, "effective capital:  %s\n", effective.String())
	fmt.Fprintf(&b, "coverage sold:      %s\n", vault.TotalCoverageSold.String())
	fmt.Fprintf(&b, "accumulated losses: %s\n", vault.AccumulatedLosses.String())
	fmt.Fprintf(&b, "vault utilization:  %.4f\n", s.VaultUtilization(vault))
	fmt.Fprintf(&b, "active policies:    %d\n", len(vault.ActivePolicies))

	status := "SOLVENT"
	if !s.IsSolvent(vault) {
		status = "UNDERCOLLATERALIZED"
	}
	if vault.Insolvent() {
		status = "INSOLVENT"
	}
	fmt.Fprintf(&b, "status:             %s\n", status)

	b.WriteString("tranches (senior to junior):\n")
	for _, id := range types.SeniorFirst() {
		cfg := s.configs[id]
		state := vault.Tranche(id)
		fmt.Fprintf(&b, "  %-5s capital=%s yield=%s allocated=%s utilization=%.4f apy=%.2f%%\n",
			id.String(),
			state.Capital.String(),
			state.AccumulatedYield.String(),
			state.AllocatedCoverage.String(),
			state.Utilization(cfg),
			s.curve.APY(id, state.Utilization(cfg)),
		)
	}
	return b.String()
}
