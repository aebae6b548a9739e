package types

// Algorithm names a single compression algorithm.
type Algorithm string

const (
	AlgorithmMinify      Algorithm = "minify"
	AlgorithmDeduplicate Algorithm = "deduplicate"
	AlgorithmReference   Algorithm = "reference"
	AlgorithmTruncate    Algorithm = "truncate"
	AlgorithmSummarize   Algorithm = "summarize"
)

// Strategy names a bundled sequence of algorithms.
type Strategy string

const (
	StrategyConservative Strategy = "conservative"
	StrategyBalanced     Strategy = "balanced"
	StrategyAggressive   Strategy = "aggressive"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyConservative, StrategyBalanced, StrategyAggressive:
		return true
	}
	return false
}

// Risk is a qualitative tier for how much information an action may lose.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// RiskOf maps an algorithm to its risk tier.
func RiskOf(algorithm Algorithm) Risk {
	switch algorithm {
	case AlgorithmReference, AlgorithmMinify, AlgorithmDeduplicate:
		return RiskLow
	case AlgorithmSummarize:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// RiskOfStrategy maps a strategy to its risk tier.
func RiskOfStrategy(strategy Strategy) Risk {
	switch strategy {
	case StrategyConservative:
		return RiskLow
	case StrategyBalanced:
		return RiskMedium
	default:
		return RiskHigh
	}
}
