package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
)

// printResult renders v as indented JSON. castellan's commands return
// structured data (snapshots, validations, reports); JSON is the one
// format that represents all of them without a bespoke renderer per type.
// When stdout is a terminal and --json was not passed, the id/gate/status
// keys most commands care about are echoed as a one-line colored banner
// above the JSON body, mirroring orc's isatty-gated color output.
func printResult(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if !jsonOut && isatty.IsTerminal(os.Stdout.Fd()) {
		fmt.Println(bannerFor(v))
	}
	fmt.Println(string(b))
	return nil
}

// bannerFor extracts a short human-readable summary line from a result
// map, falling back to a generic marker when the shape is unrecognized.
func bannerFor(v any) string {
	const (
		colorGreen = "\033[32m"
		colorReset = "\033[0m"
	)
	if m, ok := v.(map[string]string); ok {
		for _, key := range []string{"project_id", "spawn_id", "artifact_id"} {
			if val, ok := m[key]; ok {
				return colorGreen + key + "=" + val + colorReset
			}
		}
	}
	return colorGreen + "ok" + colorReset
}
