package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/duskrow/perpbacktest/internal/experiment"
)

// readResults decodes a JSONLStore's on-disk results file back into
// TaskResults, for the experiment list/analyze subcommands — the CLI
// layer's counterpart to JSONLStore.Write, not a second writer.
func readResults(path string) ([]experiment.TaskResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cli: open results file: %w", err)
	}
	defer f.Close()

	var out []experiment.TaskResult
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r experiment.TaskResult
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, fmt.Errorf("cli: parse result line: %w", err)
		}
		out = append(out, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("cli: read results file: %w", err)
	}
	return out, nil
}
