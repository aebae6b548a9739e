package budget

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/youssefsiam38/ctxbudget/types"
)

var (
	safeColor     = color.New(color.FgGreen).SprintFunc()
	warningColor  = color.New(color.FgYellow).SprintFunc()
	criticalColor = color.New(color.FgRed).SprintFunc()
	exceededColor = color.New(color.FgRed, color.Bold).SprintFunc()
	labelColor    = color.New(color.Bold).SprintFunc()
)

// Visualize writes a tree summary of the allocator state:
//
//	Budget: 85,000 / 100,000 tokens (85.0%) [WARNING]
//	├── system           0 / 0       (0.0%)
//	├── conversation     80,000 / 80,000 (80.0%)
//	├── toolResults      5,000 / 5,000   (5.0%)
//	└── reserve          0 / 15,000  (0.0%)
//
// Colors follow github.com/fatih/color and are disabled when the output is
// not a terminal.
func (a *Allocator) Visualize(w io.Writer) error {
	st := a.State()

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s / %s tokens (%.1f%%) %s\n",
		labelColor("Budget:"),
		humanize.Comma(int64(st.Used)),
		humanize.Comma(int64(st.Total)),
		st.UsedPercent,
		StatusLabel(st.WarningLevel),
	)
	for i, s := range st.Sections {
		branch := "├──"
		if i == len(st.Sections)-1 {
			branch = "└──"
		}
		usage := fmt.Sprintf("%s / %s", humanize.Comma(int64(s.Used)), humanize.Comma(int64(s.Allocated)))
		fmt.Fprintf(&b, "%s %-14s %-20s (%.1f%%)\n", branch, s.Section, usage, s.Percent)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// StatusLabel renders a warning level as a colored bracketed tag.
func StatusLabel(level types.WarningLevel) string {
	tag := "[" + strings.ToUpper(string(level)) + "]"
	switch level {
	case types.WarningWarning:
		return warningColor(tag)
	case types.WarningCritical:
		return criticalColor(tag)
	case types.WarningExceeded:
		return exceededColor(tag)
	default:
		return safeColor(tag)
	}
}
