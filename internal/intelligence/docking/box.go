// Package docking turns a SMILES library into docked ligand pose files that
// the scoring pipeline can enumerate like a screen directory.
package docking

import (
	"bufio"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/turtacn/KeyIP-Scoring/pkg/errors"
)

// Box is an axis-aligned search region in Angstroms.
type Box struct {
	CenterX, CenterY, CenterZ float64
	SizeX, SizeY, SizeZ       float64
}

// BoundingBox reads the ATOM/HETATM coordinates of a reference ligand and
// returns the box centred on them, extended by padding on every side.
func BoundingBox(refLigand string, padding float64) (Box, error) {
	f, err := os.Open(refLigand)
	if err != nil {
		return Box{}, errors.Wrap(err, errors.ErrCodeReferenceLigand, "cannot open reference ligand").WithDetail(refLigand)
	}
	defer f.Close()

	lo := [3]float64{math.Inf(1), math.Inf(1), math.Inf(1)}
	hi := [3]float64{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	atoms := 0
	sc := bufio.NewScanner(f)
	for line := 1; sc.Scan(); line++ {
		text := sc.Text()
		if !strings.HasPrefix(text, "ATOM") && !strings.HasPrefix(text, "HETATM") {
			continue
		}
		xyz, ok := coordinates(text)
		if !ok {
			return Box{}, errors.Newf(errors.ErrCodeReferenceLigand, "malformed atom record on line %d", line).WithDetail(refLigand)
		}
		for i, v := range xyz {
			lo[i] = math.Min(lo[i], v)
			hi[i] = math.Max(hi[i], v)
		}
		atoms++
	}
	if err := sc.Err(); err != nil {
		return Box{}, errors.Wrap(err, errors.ErrCodeReferenceLigand, "cannot read reference ligand").WithDetail(refLigand)
	}
	if atoms == 0 {
		return Box{}, errors.New(errors.ErrCodeReferenceLigand, "reference ligand has no atoms").WithDetail(refLigand)
	}

	return Box{
		CenterX: (lo[0] + hi[0]) / 2,
		CenterY: (lo[1] + hi[1]) / 2,
		CenterZ: (lo[2] + hi[2]) / 2,
		SizeX:   hi[0] - lo[0] + 2*padding,
		SizeY:   hi[1] - lo[1] + 2*padding,
		SizeZ:   hi[2] - lo[2] + 2*padding,
	}, nil
}

// coordinates reads the fixed x, y, z columns (31-54) of a PDB/PDBQT atom record.
func coordinates(line string) ([3]float64, bool) {
	var xyz [3]float64
	if len(line) < 54 {
		return xyz, false
	}
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(line[30+8*i:38+8*i]), 64)
		if err != nil {
			return xyz, false
		}
		xyz[i] = v
	}
	return xyz, true
}
