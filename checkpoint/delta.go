package checkpoint

import (
	"slices"

	"github.com/youssefsiam38/ctxbudget/types"
)

// SectionPatch replaces the section at Index, or appends it when Index is
// the parent's section count.
type SectionPatch struct {
	Index   int                  `json:"index" cbor:"index"`
	Section types.ContextSection `json:"section" cbor:"section"`
}

// Delta is the additive difference between a checkpoint and its parent.
type Delta struct {
	Turns       []types.Turn          `json:"turns,omitempty" cbor:"turns,omitempty"`
	Files       []types.FileReference `json:"files,omitempty" cbor:"files,omitempty"`
	ToolResults []types.ToolResult    `json:"tool_results,omitempty" cbor:"tool_results,omitempty"`
	Sections    []SectionPatch        `json:"sections,omitempty" cbor:"sections,omitempty"`
	TokenDelta  int                   `json:"token_delta" cbor:"token_delta"`
}

// Diff computes the delta that turns parent into child. It reports false
// when child is not an append-only extension of parent: a different session,
// fewer sections, or turn, file or tool lists that do not start with the
// parent's.
func Diff(parent, child *types.ContextSnapshot) (*Delta, bool) {
	if parent == nil || child == nil || parent.SessionID != child.SessionID {
		return nil, false
	}
	if len(child.Sections) < len(parent.Sections) {
		return nil, false
	}

	turns, ok := appended(parent.Turns, child.Turns)
	if !ok {
		return nil, false
	}
	files, ok := appended(parent.Files, child.Files)
	if !ok {
		return nil, false
	}
	tools, ok := appended(parent.ToolResults, child.ToolResults)
	if !ok {
		return nil, false
	}

	d := &Delta{
		Turns:       turns,
		Files:       files,
		ToolResults: tools,
		TokenDelta:  child.TotalTokens - parent.TotalTokens,
	}
	for i, section := range child.Sections {
		if i < len(parent.Sections) && parent.Sections[i] == section {
			continue
		}
		d.Sections = append(d.Sections, SectionPatch{Index: i, Section: section})
	}
	return d, true
}

// appended returns the tail of child beyond parent, if parent is a prefix.
func appended[T comparable](parent, child []T) ([]T, bool) {
	if len(child) < len(parent) || !slices.Equal(parent, child[:len(parent)]) {
		return nil, false
	}
	if len(child) == len(parent) {
		return nil, true
	}
	return slices.Clone(child[len(parent):]), true
}

// Apply returns a new snapshot: parent with the delta's lists appended, its
// section patches applied and its token delta added. Parent is not modified.
func (d *Delta) Apply(parent *types.ContextSnapshot) *types.ContextSnapshot {
	out := parent.Clone()
	if len(d.Turns) > 0 {
		out.Turns = append(out.Turns, d.Turns...)
	}
	if len(d.Files) > 0 {
		out.Files = append(out.Files, d.Files...)
	}
	if len(d.ToolResults) > 0 {
		out.ToolResults = append(out.ToolResults, d.ToolResults...)
	}
	for _, patch := range d.Sections {
		switch {
		case patch.Index < len(out.Sections):
			out.Sections[patch.Index] = patch.Section
		case patch.Index == len(out.Sections):
			out.Sections = append(out.Sections, patch.Section)
		}
	}
	out.TotalTokens += d.TokenDelta
	return out
}

// Empty reports whether applying the delta changes nothing.
func (d *Delta) Empty() bool {
	return len(d.Turns) == 0 && len(d.Files) == 0 && len(d.ToolResults) == 0 &&
		len(d.Sections) == 0 && d.TokenDelta == 0
}
