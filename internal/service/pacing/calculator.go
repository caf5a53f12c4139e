// Package pacing decides how many attempts a campaign launches per cycle.
package pacing

import (
	"math"

	"github.com/acme/campaign-dialer/internal/domain"
)

// FallbackRatio is used when neither the campaign nor configuration supplies a usable ratio.
const FallbackRatio = 1.0

const wholeTolerance = 1e-9

// CallsNeeded returns the number of attempts to launch this cycle.
// Preview and manual campaigns get one per available agent; predictive campaigns
// overdial by ratio, falling back to defaultRatio when the campaign ratio is unusable.
func CallsNeeded(strategy domain.DialingStrategy, availableAgents int, ratio, defaultRatio float64) int {
	if availableAgents <= 0 {
		return 0
	}
	if strategy != domain.StrategyPredictive {
		return availableAgents
	}
	if ratio <= 0 || math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		ratio = defaultRatio
	}
	if ratio <= 0 || math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		ratio = FallbackRatio
	}
	calls := float64(availableAgents) * ratio
	// 100 * 1.1 is 110.00000000000001; snap float noise before rounding up
	if whole := math.Round(calls); math.Abs(calls-whole) < wholeTolerance {
		return int(whole)
	}
	return int(math.Ceil(calls))
}
