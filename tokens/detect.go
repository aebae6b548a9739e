package tokens

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	markupTagPattern = regexp.MustCompile(`</?[a-zA-Z][a-zA-Z0-9-]*(\s[^<>]*)?/?>`)

	codeLinePrefixes = []string{
		"func ", "def ", "class ", "import ", "package ", "const ", "var ", "let ",
		"return ", "if (", "for (", "while (", "#include", "public ", "private ",
		"fn ", "type ", "export ", "from ", "}", "@",
	}
)

// DetectContentType guesses a content type for text. It is deliberately
// cheap: exact structured-data validity, then tag density, then the share of
// lines that look like source code.
func DetectContentType(text string) ContentType {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ContentProse
	}

	if (trimmed[0] == '{' || trimmed[0] == '[') && gjson.Valid(trimmed) {
		return ContentStructured
	}

	if trimmed[0] == '<' && len(markupTagPattern.FindAllStringIndex(trimmed, 4)) >= 3 {
		return ContentMarkup
	}

	if strings.Contains(text, "```") {
		return ContentMixed
	}

	if looksLikeCode(trimmed) {
		return ContentCode
	}
	return ContentProse
}

func looksLikeCode(text string) bool {
	lines := strings.Split(text, "\n")
	nonEmpty, codeLike := 0, 0
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		nonEmpty++
		if isCodeLine(line) {
			codeLike++
		}
	}
	if nonEmpty == 0 {
		return false
	}
	return float64(codeLike)/float64(nonEmpty) >= 0.3
}

func isCodeLine(line string) bool {
	if strings.HasSuffix(line, ";") || strings.HasSuffix(line, "{") || strings.HasSuffix(line, "}") {
		return true
	}
	if strings.HasPrefix(line, "//") || strings.HasPrefix(line, "/*") {
		return true
	}
	for _, prefix := range codeLinePrefixes {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return strings.Contains(line, ":=") || strings.Contains(line, "=>")
}
