package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"github.com/tidwall/jsonc"
	"github.com/tidwall/pretty"

	"github.com/youssefsiam38/ctxbudget/types"
)

// readInput reads path, or stdin when path is "" or "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

// readSnapshot decodes a snapshot document. Comments and trailing commas
// are stripped first.
func readSnapshot(cmd *cobra.Command, path string) (*types.ContextSnapshot, error) {
	data, err := readInput(cmd, path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	data = jsonc.ToJSON(data)
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("read snapshot %s: not valid JSON", displayName(path))
	}
	if !gjson.GetBytes(data, "sections").IsArray() {
		return nil, fmt.Errorf("read snapshot %s: missing sections array", displayName(path))
	}

	var snapshot types.ContextSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", displayName(path), err)
	}
	for i, section := range snapshot.Sections {
		if !section.Kind.Valid() {
			return nil, fmt.Errorf("read snapshot %s: section %d has unknown kind %q", displayName(path), i, section.Kind)
		}
	}
	return &snapshot, nil
}

// writeSnapshot writes snapshot as indented JSON to path, or to w when path
// is "" or "-".
func writeSnapshot(w io.Writer, path string, snapshot *types.ContextSnapshot) error {
	if path == "" || path == "-" {
		return writeJSON(w, snapshot)
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return os.WriteFile(path, pretty.Pretty(data), 0o644)
}

// writeJSON writes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(pretty.Pretty(data))
	return err
}

func displayName(path string) string {
	if path == "" || path == "-" {
		return "<stdin>"
	}
	return path
}

func argOrStdin(args []string) string {
	if len(args) == 0 {
		return "-"
	}
	return args[0]
}
