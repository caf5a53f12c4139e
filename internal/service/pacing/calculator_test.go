package pacing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/acme/campaign-dialer/internal/domain"
)

func TestCallsNeeded(t *testing.T) {
	cases := []struct {
		name     string
		strategy domain.DialingStrategy
		agents   int
		ratio    float64
		def      float64
		want     int
	}{
		{"preview one per agent", domain.StrategyPreview, 3, 2.0, 1.5, 3},
		{"manual one per agent", domain.StrategyManual, 4, 0, 1.5, 4},
		{"predictive rounds up", domain.StrategyPredictive, 4, 2.5, 1.5, 10},
		{"predictive fractional", domain.StrategyPredictive, 3, 1.2, 1.5, 4},
		{"predictive exact product", domain.StrategyPredictive, 100, 1.1, 1.5, 110},
		{"predictive exact product small", domain.StrategyPredictive, 10, 2.3, 1.5, 23},
		{"predictive just above whole", domain.StrategyPredictive, 3, 1.1, 1.5, 4},
		{"predictive zero ratio uses default", domain.StrategyPredictive, 4, 0, 1.5, 6},
		{"predictive bad default uses fallback", domain.StrategyPredictive, 4, -1, 0, 4},
		{"no agents", domain.StrategyPredictive, 0, 2.5, 1.5, 0},
		{"negative agents", domain.StrategyPreview, -2, 0, 0, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CallsNeeded(tc.strategy, tc.agents, tc.ratio, tc.def))
		})
	}
}

func TestCallsNeededPredictiveAtLeastAgents(t *testing.T) {
	for agents := 1; agents <= 20; agents++ {
		for _, ratio := range []float64{1.0, 1.1, 1.75, 3.0} {
			got := CallsNeeded(domain.StrategyPredictive, agents, ratio, 1.0)
			assert.GreaterOrEqual(t, got, agents)
		}
	}
}
