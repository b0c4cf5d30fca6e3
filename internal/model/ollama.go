package model

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

var percentPattern = regexp.MustCompile(`(\d{1,3})%`)

// OllamaPuller downloads a model by shelling out to `ollama pull`, parsing
// percent markers from the command output for progress reporting.
type OllamaPuller struct {
	Binary string
	Model  string
}

// Pull runs the download to completion, reporting progress as it goes.
func (p *OllamaPuller) Pull(ctx context.Context, report func(percent int, message string)) error {
	cmd := exec.CommandContext(ctx, p.Binary, "pull", p.Model)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("attach stdout: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	report(0, "Downloading "+p.Model+"...")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", p.Binary, err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if m := percentPattern.FindStringSubmatch(line); m != nil {
			if pct, convErr := strconv.Atoi(m[1]); convErr == nil {
				// Hold 100% back until the exit status confirms success.
				if pct > 95 {
					pct = 95
				}
				report(pct, line)
				continue
			}
		}
		report(0, line)
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("Failed to read pull output", "error", err)
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("%s pull %s: %w", p.Binary, p.Model, err)
	}
	return nil
}
