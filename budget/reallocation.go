package budget

import (
	"fmt"
	"math"

	"github.com/youssefsiam38/ctxbudget/types"
)

// Reallocation is an advisory set of new caps. It changes nothing until
// passed to ApplyReallocation.
type Reallocation struct {
	// Caps holds the suggested cap for each non-reserve section.
	Caps map[Section]int `json:"caps"`

	// Reserve is kept at its configured cap.
	Reserve int `json:"reserve"`

	// Allocable is Total - Reserve, the pool being redistributed.
	Allocable int `json:"allocable"`

	// Buffer is the headroom share withheld from the suggestion.
	Buffer float64 `json:"buffer"`

	Level  types.WarningLevel `json:"level"`
	Reason string             `json:"reason"`
}

// SuggestReallocation proposes caps proportional to each non-reserve
// section's share of current usage, keeping Buffer of the allocable budget
// unassigned. It only suggests once the level is critical or exceeded, and
// never when no non-reserve section has usage.
func (a *Allocator) SuggestReallocation() (*Reallocation, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	pct := types.Percent(a.totalUsed(), a.config.Total)
	level := types.LevelFor(pct, a.config.WarningThreshold, a.config.CriticalThreshold)
	if !level.AtLeast(types.WarningCritical) {
		return nil, false
	}

	used := 0
	for _, s := range Sections {
		if s != SectionReserve {
			used += a.used[s]
		}
	}
	if used == 0 {
		return nil, false
	}

	allocable := a.config.Total - a.config.Reserve
	r := &Reallocation{
		Caps:      make(map[Section]int, len(Sections)-1),
		Reserve:   a.config.Reserve,
		Allocable: allocable,
		Buffer:    a.config.ReallocationBuffer,
		Level:     level,
	}
	r.Reason = fmt.Sprintf("usage at %.1f%% (%s); caps follow each section's share of usage with %.0f%% headroom",
		pct, level, a.config.ReallocationBuffer*100)
	for _, s := range Sections {
		if s == SectionReserve {
			continue
		}
		share := float64(a.used[s]) / float64(used)
		r.Caps[s] = int(math.Floor(float64(allocable) * share * (1 - a.config.ReallocationBuffer)))
	}
	return r, true
}

// ApplyReallocation installs the suggested caps after validating them.
func (a *Allocator) ApplyReallocation(r *Reallocation) error {
	if r == nil {
		return fmt.Errorf("%w: nil reallocation", ErrInvalidConfig)
	}
	config := a.Config()
	for s, n := range r.Caps {
		if !s.Valid() {
			return fmt.Errorf("%w: unknown section %q", ErrInvalidConfig, s)
		}
		config.SetCap(s, n)
	}
	config.Reserve = r.Reserve
	return a.UpdateConfig(config)
}
