// Package budget tracks token usage per section against a global ceiling.
//
// Four sections (system, conversation, toolResults, reserve) each have a cap.
// A section that runs out may borrow from the reserve's remaining capacity;
// an allocation that cannot be covered fails without changing any state.
//
//	alloc, err := budget.New(&budget.Config{
//	    Total:        100000,
//	    Conversation: 80000,
//	    ToolResults:  5000,
//	    Reserve:      15000,
//	}, nil)
//	if err != nil {
//	    return err // cap sum or threshold violation
//	}
//	ok := alloc.Allocate(budget.SectionToolResults, 10000) // borrows 5000 from reserve
package budget

import (
	"fmt"
	"sync"

	"github.com/youssefsiam38/ctxbudget/types"
)

// Logger interface for budget logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// SectionState is the usage of one section.
type SectionState struct {
	Section   Section `json:"section"`
	Allocated int     `json:"allocated"`
	Used      int     `json:"used"`
	Remaining int     `json:"remaining"`

	// Percent is Used as a share of the total budget.
	Percent float64 `json:"percent"`
}

// State is a point-in-time copy of the allocator.
type State struct {
	Total        int                `json:"total"`
	Used         int                `json:"used"`
	UsedPercent  float64            `json:"used_percent"`
	WarningLevel types.WarningLevel `json:"warning_level"`
	Sections     []SectionState     `json:"sections"`
}

// Section returns the state of one section.
func (s State) Section(section Section) SectionState {
	for _, st := range s.Sections {
		if st.Section == section {
			return st
		}
	}
	return SectionState{Section: section}
}

// Allocator keeps running totals per section. It is safe for concurrent use.
type Allocator struct {
	mu     sync.Mutex
	config Config
	used   map[Section]int
	logger Logger
}

// New creates an Allocator. The configuration is validated eagerly; a nil
// config uses DefaultConfig.
func New(config *Config, logger Logger) (*Allocator, error) {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Allocator{
		config: cfg,
		used:   make(map[Section]int, len(Sections)),
		logger: logger,
	}, nil
}

// allocation is the outcome of planning an Allocate call.
type allocation struct {
	ok          bool
	sectionUsed int
	reserveUsed int
	borrowed    int
}

// plan computes what Allocate would do without touching state. Callers hold mu.
func (a *Allocator) plan(section Section, n int) allocation {
	if !section.Valid() || n < 0 {
		return allocation{}
	}
	used := a.used[section]
	reserveUsed := a.used[SectionReserve]

	if n <= a.remaining(section) {
		return allocation{ok: true, sectionUsed: used + n, reserveUsed: reserveUsed}
	}
	if section == SectionReserve {
		return allocation{}
	}

	shortfall := n - a.remaining(section)
	if shortfall > a.remaining(SectionReserve) {
		return allocation{}
	}
	return allocation{
		ok:          true,
		sectionUsed: used + n - shortfall,
		reserveUsed: reserveUsed + shortfall,
		borrowed:    shortfall,
	}
}

func (a *Allocator) remaining(section Section) int {
	r := a.config.Cap(section) - a.used[section]
	if r < 0 {
		return 0
	}
	return r
}

// Allocate commits n tokens to section, borrowing any shortfall from the
// reserve. It reports false and changes nothing when the section and the
// reserve together cannot cover n.
func (a *Allocator) Allocate(section Section, n int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	p := a.plan(section, n)
	if !p.ok {
		a.logger.Debug("allocation refused", "section", section, "tokens", n)
		return false
	}
	a.used[section] = p.sectionUsed
	if section != SectionReserve {
		a.used[SectionReserve] = p.reserveUsed
	}
	if p.borrowed > 0 {
		a.logger.Info("borrowed from reserve", "section", section, "tokens", p.borrowed)
	}
	return true
}

// CanAllocate reports whether Allocate(section, n) would succeed. It never
// mutates state.
func (a *Allocator) CanAllocate(section Section, n int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.plan(section, n).ok
}

// Free releases n tokens from section. Usage never drops below zero.
func (a *Allocator) Free(section Section, n int) {
	if !section.Valid() || n <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	used := a.used[section] - n
	if used < 0 {
		used = 0
	}
	a.used[section] = used
}

// Usage returns the state of one section.
func (a *Allocator) Usage(section Section) SectionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sectionState(section)
}

func (a *Allocator) sectionState(section Section) SectionState {
	used := a.used[section]
	return SectionState{
		Section:   section,
		Allocated: a.config.Cap(section),
		Used:      used,
		Remaining: a.remaining(section),
		Percent:   types.Percent(used, a.config.Total),
	}
}

func (a *Allocator) totalUsed() int {
	total := 0
	for _, s := range Sections {
		total += a.used[s]
	}
	return total
}

// State returns a copy of every section's usage and the overall level.
func (a *Allocator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()

	used := a.totalUsed()
	st := State{
		Total:       a.config.Total,
		Used:        used,
		UsedPercent: types.Percent(used, a.config.Total),
		Sections:    make([]SectionState, 0, len(Sections)),
	}
	st.WarningLevel = types.LevelFor(st.UsedPercent, a.config.WarningThreshold, a.config.CriticalThreshold)
	for _, s := range Sections {
		st.Sections = append(st.Sections, a.sectionState(s))
	}
	return st
}

// WarningLevel classifies total usage with the configured thresholds.
func (a *Allocator) WarningLevel() types.WarningLevel {
	a.mu.Lock()
	defer a.mu.Unlock()
	pct := types.Percent(a.totalUsed(), a.config.Total)
	return types.LevelFor(pct, a.config.WarningThreshold, a.config.CriticalThreshold)
}

// Config returns a copy of the active configuration.
func (a *Allocator) Config() Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.config
}

// UpdateConfig validates and installs a new configuration. Usage is kept.
func (a *Allocator) UpdateConfig(config Config) error {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.config = config
	a.logger.Info("budget configuration updated",
		"total", config.Total,
		"system", config.System,
		"conversation", config.Conversation,
		"tool_results", config.ToolResults,
		"reserve", config.Reserve,
	)
	return nil
}

// Reset zeroes every section's usage.
func (a *Allocator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.used = make(map[Section]int, len(Sections))
}

// String renders a one-line summary.
func (a *Allocator) String() string {
	st := a.State()
	return fmt.Sprintf("%d/%d tokens (%.1f%%, %s)", st.Used, st.Total, st.UsedPercent, st.WarningLevel)
}
