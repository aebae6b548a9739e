package cli

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/tidwall/gjson"

	"github.com/youssefsiam38/ctxbudget/internal/testutil"
)

const snapshotDoc = `{
  // exported from a session
  "session_id": "session-1",
  "sections": [
    {"kind": "system", "content": "You are a careful assistant."},
    {"kind": "conversation", "content": "user: hi\nassistant: hello",},
  ],
}`

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv(ConfigEnv, "")

	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.Execute()
	return out.String(), err
}

func sqliteConfig(t *testing.T) string {
	t.Helper()
	content := "storage:\n  driver: sqlite\n  path: " + testutil.TempPath(t, "checkpoints.db") + "\n"
	return testutil.WriteFile(t, "ctxbudget.yaml", content)
}

func TestVersion(t *testing.T) {
	out, err := run(t, "", "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if out != "ctxbudget dev\n" {
		t.Errorf("version = %q", out)
	}
}

func TestCount(t *testing.T) {
	out, err := run(t, "hello world!", "count", "--type", "prose")
	if err != nil {
		t.Fatalf("count error = %v", err)
	}
	if !strings.HasPrefix(out, "3 tokens") {
		t.Errorf("count = %q, want prefix %q", out, "3 tokens")
	}

	out, err = run(t, "hello world!", "count", "--type", "prose", "--json")
	if err != nil {
		t.Fatalf("count --json error = %v", err)
	}
	if got := gjson.Get(out, "Total").Int(); got != 3 {
		t.Errorf("Total = %d, want 3 in %s", got, out)
	}

	if _, err := run(t, "x", "count", "--type", "binary"); err == nil {
		t.Error("count --type binary should fail")
	}
}

func TestCountDetailed(t *testing.T) {
	input := "Intro text.\n\n```go\nfunc main() {}\n```\n"
	out, err := run(t, input, "count", "--detailed", "--json")
	if err != nil {
		t.Fatalf("count --detailed error = %v", err)
	}
	if got := gjson.Get(out, "CodeBlocks").Int(); got != 1 {
		t.Errorf("CodeBlocks = %d, want 1 in %s", got, out)
	}
}

func TestAnalyze(t *testing.T) {
	out, err := run(t, snapshotDoc, "analyze")
	if err != nil {
		t.Fatalf("analyze error = %v", err)
	}
	for _, want := range []string{"Usage:", "[SAFE]", "system", "Density:"} {
		if !strings.Contains(out, want) {
			t.Errorf("analyze output missing %q:\n%s", want, out)
		}
	}

	out, err = run(t, snapshotDoc, "analyze", "--json")
	if err != nil {
		t.Fatalf("analyze --json error = %v", err)
	}
	if got := gjson.Get(out, "usage.warning_level").String(); got != "safe" {
		t.Errorf("usage.warning_level = %q, want safe", got)
	}
}

func TestReadSnapshotErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"not json", "sections: []", "not valid JSON"},
		{"no sections", `{"session_id": "s"}`, "missing sections array"},
		{"unknown kind", `{"sections": [{"kind": "memo", "content": "x"}]}`, "unknown kind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.input, "analyze")
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("analyze error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestCompress(t *testing.T) {
	input := strings.Repeat("this line repeats over and over again\n", 4)

	out, err := run(t, input, "compress", "--algorithm", "deduplicate", "--type", "prose")
	if err != nil {
		t.Fatalf("compress error = %v", err)
	}
	if !strings.Contains(out, "[DUP:") {
		t.Errorf("compress output has no duplicate marker:\n%s", out)
	}

	out, err = run(t, input, "compress", "--strategy", "conservative", "--json")
	if err != nil {
		t.Fatalf("compress --strategy error = %v", err)
	}
	if got := gjson.Get(out, "Strategy").String(); got != "conservative" {
		t.Errorf("Strategy = %q, want conservative", got)
	}

	if _, err := run(t, input, "compress", "--algorithm", "minify", "--strategy", "balanced"); err == nil {
		t.Error("compress with both --algorithm and --strategy should fail")
	}
	if _, err := run(t, input, "compress", "--algorithm", "zip"); err == nil {
		t.Error("compress --algorithm zip should fail")
	}
}

func TestOptimizeBelowTrigger(t *testing.T) {
	out, err := run(t, snapshotDoc, "optimize")
	if err != nil {
		t.Fatalf("optimize error = %v", err)
	}
	if !strings.Contains(out, "nothing to optimize") {
		t.Errorf("optimize output = %q", out)
	}

	out, err = run(t, snapshotDoc, "optimize", "-o", "-")
	if err != nil {
		t.Fatalf("optimize -o - error = %v", err)
	}
	if got := gjson.Get(out, "session_id").String(); got != "session-1" {
		t.Errorf("optimized snapshot session_id = %q, want session-1", got)
	}
}

func TestBudget(t *testing.T) {
	out, err := run(t, snapshotDoc, "budget")
	if err != nil {
		t.Fatalf("budget error = %v", err)
	}
	if !strings.Contains(out, "Budget:") || !strings.Contains(out, "conversation") {
		t.Errorf("budget output = %q", out)
	}

	out, err = run(t, snapshotDoc, "budget", "--json")
	if err != nil {
		t.Fatalf("budget --json error = %v", err)
	}
	if gjson.Get(out, "exceeded").Bool() {
		t.Error("exceeded = true for a tiny snapshot")
	}
	if gjson.Get(out, "state.used").Int() == 0 {
		t.Errorf("state.used = 0 in %s", out)
	}
}

func TestCheckpointLifecycle(t *testing.T) {
	config := sqliteConfig(t)

	out, err := run(t, snapshotDoc, "--config", config, "--json", "checkpoint", "create", "--name", "start")
	if err != nil {
		t.Fatalf("checkpoint create error = %v", err)
	}
	id := gjson.Get(out, "id").String()
	if id == "" {
		t.Fatalf("checkpoint create printed no id: %s", out)
	}
	if kind := gjson.Get(out, "kind").String(); kind != "full" {
		t.Errorf("kind = %q, want full", kind)
	}

	grown := strings.Replace(snapshotDoc, `"sections"`, `"turns": [{"role": "user", "content": "next"}], "sections"`, 1)
	out, err = run(t, grown, "--config", config, "--json", "checkpoint", "create", "--name", "next", "--parent", id)
	if err != nil {
		t.Fatalf("checkpoint create --parent error = %v", err)
	}
	if kind := gjson.Get(out, "kind").String(); kind != "delta" {
		t.Errorf("kind = %q, want delta", kind)
	}
	childID := gjson.Get(out, "id").String()

	out, err = run(t, "", "--config", config, "checkpoint", "restore", childID)
	if err != nil {
		t.Fatalf("checkpoint restore error = %v", err)
	}
	if got := gjson.Get(out, "turns.0.content").String(); got != "next" {
		t.Errorf("restored turns.0.content = %q, want next", got)
	}

	out, err = run(t, "", "--config", config, "checkpoint", "list", "--session", "session-1")
	if err != nil {
		t.Fatalf("checkpoint list error = %v", err)
	}
	if !strings.Contains(out, id) || !strings.Contains(out, childID) {
		t.Errorf("checkpoint list missing ids:\n%s", out)
	}

	out, err = run(t, "", "--config", config, "--json", "checkpoint", "timeline", "session-1")
	if err != nil {
		t.Fatalf("checkpoint timeline error = %v", err)
	}
	if got := gjson.Get(out, "#.name").String(); got != `["start","next"]` {
		t.Errorf("timeline names = %s, want [\"start\",\"next\"]", got)
	}

	out, err = run(t, "", "--config", config, "checkpoint", "prune")
	if err != nil {
		t.Fatalf("checkpoint prune error = %v", err)
	}
	if !strings.Contains(out, "deleted 0") {
		t.Errorf("prune with default retention = %q, want nothing deleted", out)
	}
}

func TestCheckpointListRejectsUnknownType(t *testing.T) {
	if _, err := run(t, "", "checkpoint", "list", "--type", "weekly"); err == nil {
		t.Error("checkpoint list --type weekly should fail")
	}
}
