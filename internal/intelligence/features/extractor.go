// Package features turns work items into numeric feature rows.  It runs the
// external feature extractor over a bounded worker pool, optionally through a
// content-addressed cache, and assembles the tagged records into one
// row-major table.
package features

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/turtacn/KeyIP-Scoring/pkg/errors"
)

// Vector is one extractor result: ordered column names and their raw text
// values, aligned index by index.
type Vector struct {
	Columns []string `json:"columns"`
	Raw     []string `json:"raw"`
}

// Extractor computes the descriptor vector of one pose against a receptor.
// Implementations must be safe for concurrent use and free of shared mutable
// state.
type Extractor interface {
	Extract(ctx context.Context, poseBlock, receptorPath string) (*Vector, error)
	Name() string
}

// ReceptorPlaceholder in an argument template is replaced by the receptor path.
const ReceptorPlaceholder = "{receptor}"

// CommandExtractor runs an external program per pose.  The pose block is
// written to the program's stdin; the receptor path is passed as an argument.
// The program must print a CSV header line followed by one value line.
type CommandExtractor struct {
	command string
	args    []string
	timeout time.Duration
}

// NewCommandExtractor builds a CommandExtractor.  When args contains no
// ReceptorPlaceholder the receptor path is appended as the last argument.
// A zero timeout leaves calls unbounded.
func NewCommandExtractor(command string, args []string, timeout time.Duration) *CommandExtractor {
	return &CommandExtractor{command: command, args: append([]string(nil), args...), timeout: timeout}
}

// Name implements Extractor.
func (e *CommandExtractor) Name() string { return "command" }

// Extract implements Extractor.
func (e *CommandExtractor) Extract(ctx context.Context, poseBlock, receptorPath string) (*Vector, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, e.command, e.argv(receptorPath)...)
	cmd.Stdin = strings.NewReader(poseBlock)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if len(detail) > 512 {
			detail = detail[:512]
		}
		return nil, errors.Wrap(err, errors.ErrCodeExtractionFailed, "feature extractor failed").
			WithDetail(fmt.Sprintf("receptor=%s stderr=%q", receptorPath, detail))
	}
	return ParseVector(stdout.Bytes())
}

func (e *CommandExtractor) argv(receptorPath string) []string {
	out := make([]string, 0, len(e.args)+1)
	substituted := false
	for _, a := range e.args {
		if strings.Contains(a, ReceptorPlaceholder) {
			a = strings.ReplaceAll(a, ReceptorPlaceholder, receptorPath)
			substituted = true
		}
		out = append(out, a)
	}
	if !substituted {
		out = append(out, receptorPath)
	}
	return out
}

// ParseVector decodes extractor output: a CSV header record followed by
// exactly one value record of the same width.
func ParseVector(out []byte) (*Vector, error) {
	r := csv.NewReader(bytes.NewReader(out))
	records, err := r.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeExtractionFailed, "malformed extractor output")
	}
	if len(records) != 2 {
		return nil, errors.Newf(errors.ErrCodeExtractionFailed,
			"extractor output must hold a header and one value line, got %d lines", len(records))
	}
	return &Vector{Columns: records[0], Raw: records[1]}, nil
}
