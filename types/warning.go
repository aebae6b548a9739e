package types

// WarningLevel classifies how much of a budget has been consumed.
type WarningLevel string

const (
	WarningSafe     WarningLevel = "safe"
	WarningWarning  WarningLevel = "warning"
	WarningCritical WarningLevel = "critical"
	WarningExceeded WarningLevel = "exceeded"
)

// Default thresholds, in percent of budget.
const (
	DefaultWarningThreshold  = 75.0
	DefaultCriticalThreshold = 90.0
)

// Valid reports whether l is one of the four levels.
func (l WarningLevel) Valid() bool {
	switch l {
	case WarningSafe, WarningWarning, WarningCritical, WarningExceeded:
		return true
	}
	return false
}

// Severity orders the levels: safe < warning < critical < exceeded.
func (l WarningLevel) Severity() int {
	switch l {
	case WarningWarning:
		return 1
	case WarningCritical:
		return 2
	case WarningExceeded:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether l is as severe as other or more.
func (l WarningLevel) AtLeast(other WarningLevel) bool {
	return l.Severity() >= other.Severity()
}

// LevelFor maps a usage percentage onto the four tiers:
// below warning is safe, [warning, critical) is warning,
// [critical, 100) is critical and 100 or more is exceeded.
func LevelFor(usedPercent, warningThreshold, criticalThreshold float64) WarningLevel {
	switch {
	case usedPercent >= 100:
		return WarningExceeded
	case usedPercent >= criticalThreshold:
		return WarningCritical
	case usedPercent >= warningThreshold:
		return WarningWarning
	default:
		return WarningSafe
	}
}

// DefaultLevelFor applies LevelFor with the 75/90 defaults.
func DefaultLevelFor(usedPercent float64) WarningLevel {
	return LevelFor(usedPercent, DefaultWarningThreshold, DefaultCriticalThreshold)
}

// Percent returns used/limit*100, or 0 when limit is not positive.
func Percent(used, limit int) float64 {
	if limit <= 0 {
		return 0
	}
	return float64(used) / float64(limit) * 100
}
