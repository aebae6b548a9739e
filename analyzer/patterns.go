package analyzer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/youssefsiam38/ctxbudget/tokens"
	"github.com/youssefsiam38/ctxbudget/types"
)

// PatternType identifies a detector.
type PatternType string

const (
	PatternRepetitiveContent   PatternType = "repetitive_content"
	PatternOversizedStructured PatternType = "oversized_structured"
	PatternDuplicateFiles      PatternType = "duplicate_files"
	PatternVerboseToolOutput   PatternType = "verbose_tool_output"
	PatternStaleTurns          PatternType = "stale_turns"
)

// Detector thresholds.
const (
	// MinRepeatedLineLength is the shortest line considered for repetition.
	MinRepeatedLineLength = 20

	OversizedStructuredTokens = 500
	VerboseToolOutputTokens   = 1000

	StaleTurnsMinTurns  = 10
	StaleTurnsKeep      = 5
	StaleTurnsMinTokens = 1000
)

// Savings shares per pattern.
const (
	repetitiveSavings = 0.80
	oversizedSavings  = 0.50
	duplicateSavings  = 0.95
	verboseSavings    = 0.40
	staleSavings      = 0.60
)

// Pattern is one expensive content pattern found in a snapshot.
type Pattern struct {
	Type        PatternType `json:"type"`
	Description string      `json:"description"`

	// Occurrences counts the offending instances. For repetition patterns it
	// counts duplicates beyond the first copy.
	Occurrences int `json:"occurrences"`

	// Tokens is the number of tokens the pattern accounts for.
	Tokens int `json:"tokens"`

	PotentialSavings int     `json:"potential_savings"`
	Confidence       float64 `json:"confidence"`

	// Algorithm is the compression algorithm that addresses the pattern.
	Algorithm types.Algorithm `json:"algorithm"`

	// Locations names where the pattern was found (call ids, paths, turn indexes).
	Locations []string `json:"locations,omitempty"`
}

// DetectPatterns runs every detector and returns the findings sorted by
// descending potential savings.
func (a *Analyzer) DetectPatterns(snapshot *types.ContextSnapshot) []Pattern {
	if snapshot == nil {
		return nil
	}

	detectors := []func(*types.ContextSnapshot) (Pattern, bool){
		a.detectRepetitiveContent,
		a.detectOversizedStructured,
		a.detectDuplicateFiles,
		a.detectVerboseToolOutput,
		a.detectStaleTurns,
	}

	var patterns []Pattern
	for _, detect := range detectors {
		if p, ok := detect(snapshot); ok {
			patterns = append(patterns, p)
		}
	}
	sort.SliceStable(patterns, func(i, j int) bool {
		return patterns[i].PotentialSavings > patterns[j].PotentialSavings
	})
	return patterns
}

// detectRepetitiveContent looks for fenced code blocks and long lines that
// appear more than once across the snapshot's sections.
func (a *Analyzer) detectRepetitiveContent(snapshot *types.ContextSnapshot) (Pattern, bool) {
	seen := make(map[string]int)
	var order []string

	add := func(unit string) {
		if seen[unit] == 0 {
			order = append(order, unit)
		}
		seen[unit]++
	}

	for _, section := range snapshot.Sections {
		spans := tokens.CodeSpans(section.Content)
		for _, span := range spans {
			if strings.TrimSpace(span.Content) != "" {
				add(span.Content)
			}
		}
		for _, line := range strings.Split(tokens.StripCodeSpans(section.Content, spans), "\n") {
			line = strings.TrimSpace(line)
			if len(line) >= MinRepeatedLineLength {
				add(line)
			}
		}
	}

	duplicates, duplicatedTokens := 0, 0
	for _, unit := range order {
		extra := seen[unit] - 1
		if extra <= 0 {
			continue
		}
		duplicates += extra
		duplicatedTokens += extra * a.counter.Tokens(unit, tokens.ContentMixed)
	}
	if duplicates == 0 {
		return Pattern{}, false
	}

	return Pattern{
		Type:             PatternRepetitiveContent,
		Description:      fmt.Sprintf("%d repeated block(s) or line(s) could be replaced by references", duplicates),
		Occurrences:      duplicates,
		Tokens:           duplicatedTokens,
		PotentialSavings: savings(duplicatedTokens, repetitiveSavings),
		Confidence:       1.0,
		Algorithm:        types.AlgorithmReference,
	}, true
}

func (a *Analyzer) detectOversizedStructured(snapshot *types.ContextSnapshot) (Pattern, bool) {
	p := Pattern{
		Type:       PatternOversizedStructured,
		Confidence: 0.9,
		Algorithm:  types.AlgorithmMinify,
	}
	for _, result := range snapshot.ToolResults {
		output := strings.TrimSpace(result.Output)
		if output == "" || (output[0] != '{' && output[0] != '[') || !gjson.Valid(output) {
			continue
		}
		n := a.counter.Tokens(output, tokens.ContentStructured)
		if n <= OversizedStructuredTokens {
			continue
		}
		p.Occurrences++
		p.Tokens += n
		p.Locations = append(p.Locations, toolLocation(result))
	}
	if p.Occurrences == 0 {
		return Pattern{}, false
	}
	p.PotentialSavings = savings(p.Tokens, oversizedSavings)
	p.Description = fmt.Sprintf("%d structured tool result(s) over %d tokens could be minified",
		p.Occurrences, OversizedStructuredTokens)
	return p, true
}

func (a *Analyzer) detectDuplicateFiles(snapshot *types.ContextSnapshot) (Pattern, bool) {
	groups := make(map[string][]types.FileReference)
	var hashes []string
	for _, file := range snapshot.Files {
		hash := file.Hash
		if hash == "" {
			if file.Content == "" {
				continue
			}
			hash = tokens.Digest(file.Content)
		}
		if _, ok := groups[hash]; !ok {
			hashes = append(hashes, hash)
		}
		groups[hash] = append(groups[hash], file)
	}

	p := Pattern{
		Type:       PatternDuplicateFiles,
		Confidence: 1.0,
		Algorithm:  types.AlgorithmReference,
	}
	for _, hash := range hashes {
		group := groups[hash]
		if len(group) < 2 {
			continue
		}
		n := a.counter.Tokens(group[0].Content, tokens.ContentAuto)
		p.Occurrences += len(group) - 1
		p.Tokens += n * (len(group) - 1)
		for _, file := range group {
			p.Locations = append(p.Locations, file.Path)
		}
	}
	if p.Occurrences == 0 {
		return Pattern{}, false
	}
	p.PotentialSavings = savings(p.Tokens, duplicateSavings)
	p.Description = fmt.Sprintf("%d file(s) duplicate content already in context", p.Occurrences)
	return p, true
}

func (a *Analyzer) detectVerboseToolOutput(snapshot *types.ContextSnapshot) (Pattern, bool) {
	p := Pattern{
		Type:       PatternVerboseToolOutput,
		Confidence: 0.7,
		Algorithm:  types.AlgorithmSummarize,
	}
	for _, result := range snapshot.ToolResults {
		n := a.counter.Tokens(result.Output, tokens.ContentAuto)
		if n <= VerboseToolOutputTokens {
			continue
		}
		p.Occurrences++
		p.Tokens += n
		p.Locations = append(p.Locations, toolLocation(result))
	}
	if p.Occurrences == 0 {
		return Pattern{}, false
	}
	p.PotentialSavings = savings(p.Tokens, verboseSavings)
	p.Description = fmt.Sprintf("%d tool result(s) over %d tokens could be summarized",
		p.Occurrences, VerboseToolOutputTokens)
	return p, true
}

func (a *Analyzer) detectStaleTurns(snapshot *types.ContextSnapshot) (Pattern, bool) {
	if len(snapshot.Turns) <= StaleTurnsMinTurns {
		return Pattern{}, false
	}
	stale := snapshot.Turns[:len(snapshot.Turns)-StaleTurnsKeep]

	p := Pattern{
		Type:        PatternStaleTurns,
		Confidence:  0.8,
		Algorithm:   types.AlgorithmSummarize,
		Occurrences: len(stale),
	}
	for i, turn := range stale {
		p.Tokens += a.counter.Tokens(turn.Content, tokens.ContentMixed)
		p.Locations = append(p.Locations, fmt.Sprintf("turn:%d", i))
	}
	if p.Tokens <= StaleTurnsMinTokens {
		return Pattern{}, false
	}
	p.PotentialSavings = savings(p.Tokens, staleSavings)
	p.Description = fmt.Sprintf("%d older turn(s) could be summarized, keeping the last %d",
		len(stale), StaleTurnsKeep)
	return p, true
}

func toolLocation(result types.ToolResult) string {
	if result.CallID != "" {
		return result.CallID
	}
	return result.ToolName
}

func savings(n int, share float64) int {
	return int(float64(n) * share)
}
