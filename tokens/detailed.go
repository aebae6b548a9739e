package tokens

import (
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Detailed partitions a text's count into code, structured data and prose.
// Each character belongs to exactly one part and Total = Code + Structured + Prose.
type Detailed struct {
	Total            int
	Code             int
	Structured       int
	Prose            int
	Characters       int
	CodeBlocks       int
	StructuredBlocks int
}

// CodeSpan locates the content of one fenced code block in its source.
type CodeSpan struct {
	Start    int
	Stop     int
	Language string
	Content  string
}

var markdown = goldmark.New()

// CountDetailed splits text into fenced code, structured-data spans that
// parse as valid JSON, and the remaining prose, counting each part at its own
// ratio.
func (c *Counter) CountDetailed(input string) Detailed {
	result := Detailed{
		Characters: utf8.RuneCountInString(input),
	}
	if input == "" {
		return result
	}

	spans := CodeSpans(input)
	for _, span := range spans {
		result.Code += c.Tokens(span.Content, ContentCode)
	}
	result.CodeBlocks = len(spans)

	remainder := StripCodeSpans(input, spans)
	ranges := structuredRanges(remainder)
	for _, r := range ranges {
		result.Structured += c.Tokens(remainder[r[0]:r[1]], ContentStructured)
	}
	result.StructuredBlocks = len(ranges)

	result.Prose = c.Tokens(cutRanges(remainder, ranges), ContentProse)
	result.Total = result.Code + result.Structured + result.Prose
	return result
}

// CodeSpans returns every fenced code block in a markdown-ish text.
func CodeSpans(input string) []CodeSpan {
	if !strings.Contains(input, "```") && !strings.Contains(input, "~~~") {
		return nil
	}

	source := []byte(input)
	doc := markdown.Parser().Parse(text.NewReader(source))

	var spans []CodeSpan
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		block, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}

		lines := block.Lines()
		if lines.Len() == 0 {
			return ast.WalkSkipChildren, nil
		}

		var content strings.Builder
		for i := 0; i < lines.Len(); i++ {
			segment := lines.At(i)
			content.Write(segment.Value(source))
		}
		first, last := lines.At(0), lines.At(lines.Len()-1)
		spans = append(spans, CodeSpan{
			Start:    first.Start,
			Stop:     last.Stop,
			Language: string(block.Language(source)),
			Content:  content.String(),
		})
		return ast.WalkSkipChildren, nil
	})
	return spans
}

// StructuredSpans scans text for balanced {...} or [...] runs that are valid
// JSON. Non-trivial spans only: a bare "[]" or "{}" does not count.
func StructuredSpans(input string) []string {
	var spans []string
	for _, r := range structuredRanges(input) {
		spans = append(spans, input[r[0]:r[1]])
	}
	return spans
}

// structuredRanges returns the [start, stop) byte ranges of StructuredSpans.
func structuredRanges(input string) [][2]int {
	var ranges [][2]int
	for i := 0; i < len(input); i++ {
		if input[i] != '{' && input[i] != '[' {
			continue
		}
		end := matchingClose(input, i)
		if end < 0 {
			continue
		}
		candidate := input[i : end+1]
		if len(candidate) > 2 && gjson.Valid(candidate) {
			ranges = append(ranges, [2]int{i, end + 1})
			i = end
		}
	}
	return ranges
}

// cutRanges returns input without the given ordered, disjoint ranges.
func cutRanges(input string, ranges [][2]int) string {
	if len(ranges) == 0 {
		return input
	}
	var b strings.Builder
	prev := 0
	for _, r := range ranges {
		b.WriteString(input[prev:r[0]])
		prev = r[1]
	}
	b.WriteString(input[prev:])
	return b.String()
}

// matchingClose returns the index of the bracket closing input[open], or -1.
func matchingClose(input string, open int) int {
	depth := 0
	inString := false
	escaped := false
	for i := open; i < len(input); i++ {
		ch := input[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// StripCodeSpans returns input with the given code span contents removed.
func StripCodeSpans(input string, spans []CodeSpan) string {
	if len(spans) == 0 {
		return input
	}
	var b strings.Builder
	prev := 0
	for _, span := range spans {
		if span.Start < prev {
			continue
		}
		b.WriteString(input[prev:span.Start])
		prev = span.Stop
	}
	b.WriteString(input[prev:])
	return b.String()
}
