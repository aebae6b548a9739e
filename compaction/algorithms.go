package compaction

import (
	"fmt"
	"html"
	"math"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/tidwall/gjson"
	"github.com/tidwall/jsonc"
	"github.com/tidwall/pretty"

	"github.com/youssefsiam38/ctxbudget/tokens"
)

var (
	markupPolicy = bluemonday.StrictPolicy()

	blankRunPattern   = regexp.MustCompile(`\n[ \t]*(\n[ \t]*)+\n`)
	spaceRunPattern   = regexp.MustCompile(`[ \t]{2,}`)
	anySpacePattern   = regexp.MustCompile(`\s+`)
	referencePattern  = regexp.MustCompile(`^\[REF:([0-9a-f]+)\]$`)
	duplicatePrefix   = "[DUP:L"
	referencePrefix   = "[REF:"
	elisionMarkerForm = "... [%d lines truncated] ..."
)

// Minify shrinks text without dropping meaning. Structured text that fails
// to parse falls back to whitespace collapse and reports a warning.
func Minify(text string, contentType tokens.ContentType) (string, []string) {
	if text == "" {
		return "", nil
	}
	switch resolveContentType(text, contentType) {
	case tokens.ContentCode:
		return collapseCode(stripComments(text)), nil
	case tokens.ContentStructured:
		return minifyStructured(text)
	case tokens.ContentMarkup:
		return collapseProse(html.UnescapeString(markupPolicy.Sanitize(text))), nil
	default:
		return collapseProse(text), nil
	}
}

func minifyStructured(text string) (string, []string) {
	data := jsonc.ToJSON([]byte(text))
	if !gjson.ValidBytes(data) {
		return CollapseWhitespace(text), []string{"minify: structured data did not parse, collapsed whitespace instead"}
	}
	return string(pretty.Ugly(data)), nil
}

// CollapseWhitespace replaces every whitespace run with one space.
func CollapseWhitespace(text string) string {
	return strings.TrimSpace(anySpacePattern.ReplaceAllString(text, " "))
}

// collapseProse trims trailing spaces, squeezes space runs and collapses runs
// of blank lines into one.
func collapseProse(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = spaceRunPattern.ReplaceAllString(strings.TrimRight(line, " \t\r"), " ")
	}
	out := strings.Join(lines, "\n")
	out = blankRunPattern.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

// collapseCode drops blank lines, trailing whitespace and full-line "# "
// comments. Indentation is kept so whitespace-sensitive languages survive.
func collapseCode(text string) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimRight(line, " \t\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || isHashComment(trimmed) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// isHashComment matches shell, Python and YAML comment lines. Directives such
// as "#include" or "#!/bin/sh" have no space after the hash and are kept.
func isHashComment(trimmed string) bool {
	return trimmed == "#" || strings.HasPrefix(trimmed, "# ")
}

// stripComments removes // line comments and /* */ block comments outside
// of string and rune literals.
func stripComments(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	const (
		code = iota
		lineComment
		blockComment
		quoted
	)
	state := code
	var quote byte

	for i := 0; i < len(text); i++ {
		ch := text[i]
		switch state {
		case code:
			switch {
			case ch == '/' && i+1 < len(text) && text[i+1] == '/':
				state = lineComment
				i++
			case ch == '/' && i+1 < len(text) && text[i+1] == '*':
				state = blockComment
				i++
			case ch == '"' || ch == '\'' || ch == '`':
				state = quoted
				quote = ch
				b.WriteByte(ch)
			default:
				b.WriteByte(ch)
			}
		case lineComment:
			if ch == '\n' {
				state = code
				b.WriteByte(ch)
			}
		case blockComment:
			if ch == '*' && i+1 < len(text) && text[i+1] == '/' {
				state = code
				i++
			}
		case quoted:
			b.WriteByte(ch)
			switch {
			case ch == '\\' && quote != '`' && i+1 < len(text):
				i++
				b.WriteByte(text[i])
			case ch == quote:
				state = code
			case ch == '\n' && quote != '`':
				state = code
			}
		}
	}
	return b.String()
}

// Deduplicate replaces every line whose trimmed form has at least minLength
// characters and appeared on an earlier line with "[DUP:L<n>]", where n is
// the 1-based number of the first occurrence.
func Deduplicate(text string, minLength int) string {
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	first := make(map[string]int, len(lines))

	for i, line := range lines {
		key := strings.TrimSpace(line)
		if len(key) < minLength || strings.HasPrefix(key, duplicatePrefix) {
			continue
		}
		if n, ok := first[key]; ok {
			lines[i] = DuplicateMarker(n)
			continue
		}
		first[key] = i + 1
	}
	return strings.Join(lines, "\n")
}

// DuplicateMarker formats the marker pointing at line n.
func DuplicateMarker(n int) string {
	return fmt.Sprintf("%s%d]", duplicatePrefix, n)
}

// ReferenceMarker formats the marker for a stored reference.
func ReferenceMarker(hash string) string {
	return referencePrefix + hash + "]"
}

// ParseReference extracts the hash from a marker. Anything that is not a
// marker is returned trimmed and treated as a bare hash.
func ParseReference(marker string) string {
	marker = strings.TrimSpace(marker)
	if m := referencePattern.FindStringSubmatch(marker); m != nil {
		return m[1]
	}
	return marker
}

// Truncate keeps the first and last ceil(n*keepRatio) lines and replaces the
// rest with one elision marker. It returns the number of lines dropped; zero
// means the text was returned unchanged.
func Truncate(text string, keepRatio float64) (string, int) {
	lines := strings.Split(text, "\n")
	keep := int(math.Ceil(float64(len(lines)) * keepRatio))
	dropped := len(lines) - 2*keep
	if dropped <= 0 {
		return text, 0
	}

	out := make([]string, 0, 2*keep+1)
	out = append(out, lines[:keep]...)
	out = append(out, fmt.Sprintf(elisionMarkerForm, dropped))
	out = append(out, lines[len(lines)-keep:]...)
	return strings.Join(out, "\n"), dropped
}
