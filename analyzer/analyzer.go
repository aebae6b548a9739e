// Package analyzer inspects a context snapshot: how its tokens are spread
// across sections, which content patterns are expensive, how dense the text
// is and what to do about it.
//
// The analyzer is read-only. It never mutates the snapshot it is given and
// holds no state besides its counter and thresholds.
package analyzer

import (
	"fmt"
	"strings"

	"github.com/youssefsiam38/ctxbudget/tokens"
	"github.com/youssefsiam38/ctxbudget/types"
)

// Config holds analyzer configuration.
type Config struct {
	// WarningThreshold is the usage percent at which the level becomes warning.
	// Default: 75
	WarningThreshold float64 `yaml:"warning_threshold" toml:"warning_threshold"`

	// CriticalThreshold is the usage percent at which the level becomes critical.
	// Default: 90
	CriticalThreshold float64 `yaml:"critical_threshold" toml:"critical_threshold"`
}

// DefaultConfig returns the 75/90 thresholds.
func DefaultConfig() *Config {
	return &Config{
		WarningThreshold:  types.DefaultWarningThreshold,
		CriticalThreshold: types.DefaultCriticalThreshold,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.WarningThreshold == 0 {
		c.WarningThreshold = types.DefaultWarningThreshold
	}
	if c.CriticalThreshold == 0 {
		c.CriticalThreshold = types.DefaultCriticalThreshold
	}
}

// Validate checks threshold ordering.
func (c *Config) Validate() error {
	if c.WarningThreshold <= 0 || c.CriticalThreshold >= 100 || c.WarningThreshold >= c.CriticalThreshold {
		return fmt.Errorf("analyzer: thresholds must satisfy 0 < warning (%.1f) < critical (%.1f) < 100",
			c.WarningThreshold, c.CriticalThreshold)
	}
	return nil
}

// SectionUsage is one row of a usage breakdown.
type SectionUsage struct {
	Tokens     int     `json:"tokens"`
	Percentage float64 `json:"percentage"`
}

// UsageReport summarizes a snapshot's token consumption against a limit.
type UsageReport struct {
	TotalTokens       int                                `json:"total_tokens"`
	BudgetLimit       int                                `json:"budget_limit"`
	BudgetUsedPercent float64                            `json:"budget_used_percent"`
	Remaining         int                                `json:"remaining"`
	WarningLevel      types.WarningLevel                 `json:"warning_level"`
	Breakdown         map[types.SectionKind]SectionUsage `json:"breakdown"`
	Sections          []types.ContextSection             `json:"-"`
}

// Analysis bundles everything Analyze computes.
type Analysis struct {
	Usage           *UsageReport     `json:"usage"`
	Patterns        []Pattern        `json:"patterns"`
	Density         Density          `json:"density"`
	Recommendations []Recommendation `json:"recommendations"`
}

// Analyzer computes usage reports, patterns and recommendations.
type Analyzer struct {
	counter *tokens.Counter
	config  *Config
}

// New creates an Analyzer. A nil counter gets a default one; a nil config
// uses DefaultConfig.
func New(counter *tokens.Counter, config *Config) *Analyzer {
	if counter == nil {
		counter = tokens.New(nil)
	}
	if config == nil {
		config = DefaultConfig()
	} else {
		config.ApplyDefaults()
	}
	return &Analyzer{counter: counter, config: config}
}

// Level classifies a usage percent with the analyzer's thresholds.
func (a *Analyzer) Level(usedPercent float64) types.WarningLevel {
	return types.LevelFor(usedPercent, a.config.WarningThreshold, a.config.CriticalThreshold)
}

// AnalyzeUsage measures the snapshot and reports its usage against
// budgetLimit. A non-positive limit reports 0% used.
func (a *Analyzer) AnalyzeUsage(snapshot *types.ContextSnapshot, budgetLimit int) *UsageReport {
	measured := a.counter.Measure(snapshot)
	total := measured.TotalTokens

	report := &UsageReport{
		TotalTokens:       total,
		BudgetLimit:       budgetLimit,
		BudgetUsedPercent: types.Percent(total, budgetLimit),
		Breakdown:         make(map[types.SectionKind]SectionUsage, len(types.AllSectionKinds)),
		Sections:          measured.Sections,
	}
	report.WarningLevel = a.Level(report.BudgetUsedPercent)
	if budgetLimit > total {
		report.Remaining = budgetLimit - total
	}

	byKind := measured.TokensByKind()
	for _, kind := range types.AllSectionKinds {
		n := byKind[kind]
		report.Breakdown[kind] = SectionUsage{Tokens: n, Percentage: types.Percent(n, total)}
	}
	return report
}

// Analyze runs every analysis over the snapshot.
func (a *Analyzer) Analyze(snapshot *types.ContextSnapshot, budgetLimit int) *Analysis {
	usage := a.AnalyzeUsage(snapshot, budgetLimit)
	patterns := a.DetectPatterns(snapshot)
	return &Analysis{
		Usage:           usage,
		Patterns:        patterns,
		Density:         CalculateDensity(joinSections(snapshot)),
		Recommendations: a.GenerateRecommendations(usage, patterns),
	}
}

func joinSections(snapshot *types.ContextSnapshot) string {
	if snapshot == nil {
		return ""
	}
	parts := make([]string, 0, len(snapshot.Sections))
	for _, section := range snapshot.Sections {
		parts = append(parts, section.Content)
	}
	return strings.Join(parts, "\n")
}
