package types

// SectionKind tags a ContextSection.
type SectionKind string

const (
	// SectionSystem holds system prompts and standing instructions
	SectionSystem SectionKind = "system"

	// SectionConversation holds the user/assistant exchange
	SectionConversation SectionKind = "conversation"

	// SectionTools holds tool-call results
	SectionTools SectionKind = "tools"

	// SectionFiles holds file contents pulled into context
	SectionFiles SectionKind = "files"

	// SectionOther holds anything else
	SectionOther SectionKind = "other"
)

// AllSectionKinds lists every section kind in display order.
var AllSectionKinds = []SectionKind{
	SectionSystem,
	SectionConversation,
	SectionTools,
	SectionFiles,
	SectionOther,
}

// Valid reports whether k is one of the known section kinds.
func (k SectionKind) Valid() bool {
	switch k {
	case SectionSystem, SectionConversation, SectionTools, SectionFiles, SectionOther:
		return true
	}
	return false
}

// ContextSection is one tagged segment of a session's context.
type ContextSection struct {
	Kind       SectionKind `json:"kind" cbor:"kind"`
	Name       string      `json:"name,omitempty" cbor:"name,omitempty"`
	Content    string      `json:"content" cbor:"content"`
	Tokens     int         `json:"tokens" cbor:"tokens"`
	Percentage float64     `json:"percentage" cbor:"percentage"`
}

// Turn is one conversational turn.
type Turn struct {
	Role    string `json:"role" cbor:"role"`
	Content string `json:"content" cbor:"content"`
	Tokens  int    `json:"tokens" cbor:"tokens"`
}

// FileReference is a file pulled into context.
type FileReference struct {
	Path    string `json:"path" cbor:"path"`
	Content string `json:"content,omitempty" cbor:"content,omitempty"`
	// Hash is the content digest; empty means "not yet computed".
	Hash   string `json:"hash,omitempty" cbor:"hash,omitempty"`
	Tokens int    `json:"tokens" cbor:"tokens"`
}

// ToolResult is the recorded output of one tool call.
type ToolResult struct {
	CallID   string `json:"call_id,omitempty" cbor:"call_id,omitempty"`
	ToolName string `json:"tool_name" cbor:"tool_name"`
	Output   string `json:"output" cbor:"output"`
	IsError  bool   `json:"is_error,omitempty" cbor:"is_error,omitempty"`
	Tokens   int    `json:"tokens" cbor:"tokens"`
}

// ContextSnapshot is the unit of analysis and checkpointing.
//
// TotalTokens always equals the sum of the section token counts. Snapshots are
// treated as values: transformations build a new snapshot (see Clone) and the
// totals are recomputed by the token counter rather than edited in place.
type ContextSnapshot struct {
	SessionID   string           `json:"session_id,omitempty" cbor:"session_id,omitempty"`
	Sections    []ContextSection `json:"sections" cbor:"sections"`
	Turns       []Turn           `json:"turns,omitempty" cbor:"turns,omitempty"`
	Files       []FileReference  `json:"files,omitempty" cbor:"files,omitempty"`
	ToolResults []ToolResult     `json:"tool_results,omitempty" cbor:"tool_results,omitempty"`
	TotalTokens int              `json:"total_tokens" cbor:"total_tokens"`
}

// Clone returns a deep copy. Restored and transformed snapshots never alias
// the slices of the snapshot they were derived from.
func (s *ContextSnapshot) Clone() *ContextSnapshot {
	if s == nil {
		return nil
	}
	out := &ContextSnapshot{
		SessionID:   s.SessionID,
		TotalTokens: s.TotalTokens,
	}
	if s.Sections != nil {
		out.Sections = append([]ContextSection(nil), s.Sections...)
	}
	if s.Turns != nil {
		out.Turns = append([]Turn(nil), s.Turns...)
	}
	if s.Files != nil {
		out.Files = append([]FileReference(nil), s.Files...)
	}
	if s.ToolResults != nil {
		out.ToolResults = append([]ToolResult(nil), s.ToolResults...)
	}
	return out
}

// SectionTokens sums the token counts of all sections.
func (s *ContextSnapshot) SectionTokens() int {
	total := 0
	for _, section := range s.Sections {
		total += section.Tokens
	}
	return total
}

// TokensByKind sums section tokens per kind.
func (s *ContextSnapshot) TokensByKind() map[SectionKind]int {
	out := make(map[SectionKind]int, len(AllSectionKinds))
	for _, section := range s.Sections {
		out[section.Kind] += section.Tokens
	}
	return out
}

// Section returns the first section of the given kind, if any.
func (s *ContextSnapshot) Section(kind SectionKind) (ContextSection, bool) {
	for _, section := range s.Sections {
		if section.Kind == kind {
			return section, true
		}
	}
	return ContextSection{}, false
}

// ActiveFiles returns the paths of all files in the snapshot.
func (s *ContextSnapshot) ActiveFiles() []string {
	paths := make([]string, 0, len(s.Files))
	for _, f := range s.Files {
		paths = append(paths, f.Path)
	}
	return paths
}
