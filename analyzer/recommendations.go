package analyzer

import (
	"fmt"

	"github.com/youssefsiam38/ctxbudget/types"
)

// MaxPatternRecommendations caps how many detected patterns become
// recommendations.
const MaxPatternRecommendations = 3

// Recommendation is one ranked suggestion. Exactly one of Strategy and
// Algorithm is set.
type Recommendation struct {
	Priority         int             `json:"priority"`
	Title            string          `json:"title"`
	Description      string          `json:"description"`
	Strategy         types.Strategy  `json:"strategy,omitempty"`
	Algorithm        types.Algorithm `json:"algorithm,omitempty"`
	EstimatedSavings int             `json:"estimated_savings"`
	Risk             types.Risk      `json:"risk"`
	Pattern          PatternType     `json:"pattern,omitempty"`
}

// GenerateRecommendations ranks a budget-pressure recommendation, present
// once usage reaches the warning threshold, above the top detected patterns.
// Patterns are expected in DetectPatterns order.
func (a *Analyzer) GenerateRecommendations(usage *UsageReport, patterns []Pattern) []Recommendation {
	var recs []Recommendation

	if usage != nil && usage.WarningLevel.AtLeast(types.WarningWarning) {
		strategy := StrategyFor(usage.WarningLevel)
		target := int(float64(usage.BudgetLimit) * a.config.WarningThreshold / 100)
		needed := usage.TotalTokens - target
		if needed < 0 {
			needed = 0
		}
		description := fmt.Sprintf("%.1f%% of the %d token budget is used; apply the %s strategy",
			usage.BudgetUsedPercent, usage.BudgetLimit, strategy)
		recs = append(recs, Recommendation{
			Title:            fmt.Sprintf("Reduce context usage (%s)", usage.WarningLevel),
			Description:      description,
			Strategy:         strategy,
			EstimatedSavings: needed,
			Risk:             types.RiskOfStrategy(strategy),
		})
	}

	for i, p := range patterns {
		if i == MaxPatternRecommendations {
			break
		}
		recs = append(recs, Recommendation{
			Title:            fmt.Sprintf("Apply %s to %s", p.Algorithm, p.Type),
			Description:      p.Description,
			Algorithm:        p.Algorithm,
			EstimatedSavings: p.PotentialSavings,
			Risk:             types.RiskOf(p.Algorithm),
			Pattern:          p.Type,
		})
	}

	for i := range recs {
		recs[i].Priority = i + 1
	}
	return recs
}

// StrategyFor picks the strategy matching a warning level. Safe maps to
// conservative.
func StrategyFor(level types.WarningLevel) types.Strategy {
	switch level {
	case types.WarningWarning, types.WarningCritical:
		return types.StrategyBalanced
	case types.WarningExceeded:
		return types.StrategyAggressive
	default:
		return types.StrategyConservative
	}
}
