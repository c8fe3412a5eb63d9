// Package pose splits a multi-model PDBQT ligand record into discrete pose
// blocks.  A record holds one or more poses separated by MODEL marker lines;
// ENDMDL markers and bare model-number lines are stripped.
package pose

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/turtacn/KeyIP-Scoring/pkg/errors"
)

const (
	// modelMarker delimits poses inside a ligand record.
	modelMarker = "MODEL"

	// endMarker lines are removed from every segment.
	endMarker = "ENDMDL"

	// minPoseLines is the shortest segment still treated as a structure.
	minPoseLines = 3
)

// Pose is one retained conformation of a ligand record.
type Pose struct {
	// Suffix is "_pose_N", N being the 1-based index among retained poses.
	Suffix string

	// Block is the cleaned PDBQT text of the pose.
	Block string
}

// ErrNoPoses is returned by ExtractFile when a record yields no retained pose.
var ErrNoPoses = errors.New(errors.ErrCodeNoPoses, "ligand record contains no usable pose")

// Suffix formats the pose suffix for the 1-based index n.
func Suffix(n int) string {
	return fmt.Sprintf("_pose_%d", n)
}

// Extract splits text into its retained poses, in record order.  Segments with
// fewer than three lines after cleaning are discarded and do not consume an
// index.  A nil result means the record contained no usable pose.
func Extract(text string) []Pose {
	var poses []Pose
	for _, segment := range strings.Split(text, modelMarker) {
		lines := strings.Split(segment, "\n")
		kept := lines[:0]
		for _, line := range lines {
			if isNumericLine(line) || strings.Contains(line, endMarker) {
				continue
			}
			kept = append(kept, line)
		}
		if len(kept) < minPoseLines {
			continue
		}
		poses = append(poses, Pose{
			Suffix: Suffix(len(poses) + 1),
			Block:  strings.Join(kept, "\n"),
		})
	}
	return poses
}

// ExtractFile reads the ligand record at path and extracts its poses.  An
// empty extraction is reported as an input error.
func ExtractFile(path string) ([]Pose, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInputNotFound, "cannot read ligand record").
			WithDetail(path)
	}
	poses := Extract(string(raw))
	if len(poses) == 0 {
		return nil, ErrNoPoses.WithDetail(path)
	}
	return poses, nil
}

// isNumericLine reports whether line, trimmed, is a non-empty run of digits.
// MODEL lines leave their serial number behind after the split.
func isNumericLine(line string) bool {
	s := strings.TrimSpace(line)
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
