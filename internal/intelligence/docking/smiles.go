package docking

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/turtacn/KeyIP-Scoring/pkg/errors"
)

// Molecule is one library entry.
type Molecule struct {
	ID     string
	SMILES string
}

// ReadSMILES parses a SMILES library: one "SMILES [name]" per line, blank
// lines and '#' comments skipped.  Unnamed entries become ligand_<n>, n being
// the 1-based entry number.  Names must be unique.
func ReadSMILES(path string) ([]Molecule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInputNotFound, "cannot open SMILES library").WithDetail(path)
	}
	defer f.Close()

	var mols []Molecule
	seen := make(map[string]int)
	sc := bufio.NewScanner(f)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		m := Molecule{SMILES: fields[0]}
		if len(fields) > 1 {
			m.ID = fields[1]
		} else {
			m.ID = fmt.Sprintf("ligand_%d", len(mols)+1)
		}
		if strings.ContainsAny(m.ID, `/\`) {
			return nil, errors.Newf(errors.ErrCodeSMILESInvalid, "molecule name %q on line %d is not a file name", m.ID, line)
		}
		if prev, dup := seen[m.ID]; dup {
			return nil, errors.Newf(errors.ErrCodeSMILESInvalid, "molecule %q on line %d repeats line %d", m.ID, line, prev)
		}
		seen[m.ID] = line
		mols = append(mols, m)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSMILESInvalid, "cannot read SMILES library").WithDetail(path)
	}
	if len(mols) == 0 {
		return nil, errors.New(errors.ErrCodeEmptyRun, "SMILES library is empty").WithDetail(path)
	}
	return mols, nil
}
