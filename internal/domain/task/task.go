// Package task turns resolved receptor/ligand inputs into the flat list of
// (receptor, ligand, pose) work items consumed by the feature pipeline.
package task

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/turtacn/KeyIP-Scoring/internal/domain/pose"
	"github.com/turtacn/KeyIP-Scoring/pkg/errors"
)

// Mode is the closed set of input topologies.
type Mode int

const (
	// ModeSingle scores one receptor against one ligand record.
	ModeSingle Mode = iota
	// ModeDirPaired scores one receptor/ligand pair per subfolder.
	ModeDirPaired
	// ModeScreen scores one receptor against every ligand record in a folder.
	ModeScreen
	// ModeDock docks a SMILES list first, then behaves like ModeScreen.
	ModeDock
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case ModeSingle:
		return "single"
	case ModeDirPaired:
		return "dir"
	case ModeScreen:
		return "screen"
	case ModeDock:
		return "dock"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Inputs holds the resolved input paths.  Receptors and Ligands are aligned
// index by index; screen and dock modes repeat the single receptor.
//
// In ModeDock, Ligands holds the SMILES list until the docking stage replaces
// it with the docked ligand records (see Screen).
type Inputs struct {
	Mode      Mode
	Receptors []string
	Ligands   []string
}

// Screen returns inputs pairing receptor with every ligand record.
func Screen(receptor string, ligands []string) Inputs {
	receptors := make([]string, len(ligands))
	for i := range receptors {
		receptors[i] = receptor
	}
	return Inputs{Mode: ModeScreen, Receptors: receptors, Ligands: ligands}
}

// Validate checks that receptors and ligands are aligned and non-empty.
func (in Inputs) Validate() error {
	if len(in.Ligands) == 0 {
		return errors.New(errors.ErrCodeEmptyRun, "no ligand records to score")
	}
	if len(in.Receptors) != len(in.Ligands) {
		return errors.Newf(errors.ErrCodeLayoutInvalid,
			"%d receptors do not align with %d ligands", len(in.Receptors), len(in.Ligands))
	}
	return nil
}

// WorkItem is one (receptor, ligand, pose) unit of feature extraction.
type WorkItem struct {
	ReceptorPath string
	LigandPath   string
	PoseID       string
	PoseBlock    string
}

// ReceptorName is the receptor file's base name.
func (w WorkItem) ReceptorName() string {
	return filepath.Base(w.ReceptorPath)
}

// LigandName is the ligand file's base name with ".pdbqt" replaced by the
// pose suffix, e.g. "lig.pdbqt" + "_pose_2" → "lig_pose_2".
func (w WorkItem) LigandName() string {
	return strings.Replace(filepath.Base(w.LigandPath), ".pdbqt", w.PoseID, 1)
}

// PoseReader extracts the retained poses from one ligand record.
type PoseReader func(path string) ([]pose.Pose, error)

// Enumerate expands inputs into work items: every retained pose of every
// ligand record, or only the first when firstPoseOnly is set.  A ligand record
// with no retained pose aborts enumeration.
func Enumerate(inputs Inputs, firstPoseOnly bool, read PoseReader) ([]WorkItem, error) {
	if err := inputs.Validate(); err != nil {
		return nil, err
	}
	if read == nil {
		read = pose.ExtractFile
	}

	items := make([]WorkItem, 0, len(inputs.Ligands))
	for i, ligand := range inputs.Ligands {
		poses, err := read(ligand)
		if err != nil {
			return nil, err
		}
		if len(poses) == 0 {
			return nil, pose.ErrNoPoses.WithDetail(ligand)
		}
		if firstPoseOnly {
			poses = poses[:1]
		}
		for _, p := range poses {
			items = append(items, WorkItem{
				ReceptorPath: inputs.Receptors[i],
				LigandPath:   ligand,
				PoseID:       p.Suffix,
				PoseBlock:    p.Block,
			})
		}
	}
	return items, nil
}
