package features

import (
	"strconv"
	"strings"

	"github.com/turtacn/KeyIP-Scoring/pkg/errors"
)

// RotatableBondsColumn is the one column whose extractor output may be
// integer text padded with whitespace.
const RotatableBondsColumn = "nRot"

// Assembler concatenates records into one table without per-row
// reallocation.  The arena is sized from the expected row count up front; the
// schema is fixed by the first record added.
type Assembler struct {
	columns   []string
	nRotIdx   int
	arena     []float64
	receptors []string
	ligands   []string
	rows      int
	released  bool
}

// NewAssembler reserves room for expectedRows rows.
func NewAssembler(expectedRows int) *Assembler {
	if expectedRows < 0 {
		expectedRows = 0
	}
	return &Assembler{
		nRotIdx:   -1,
		receptors: make([]string, 0, expectedRows),
		ligands:   make([]string, 0, expectedRows),
	}
}

// Add appends one record.  A record whose column count or names differ from
// the first record's, or whose values do not parse as floats, is rejected.
func (a *Assembler) Add(rec Record) error {
	if a.released {
		return errors.Internal("assembler already released")
	}
	if len(rec.Columns) != len(rec.Raw) {
		return errors.Newf(errors.ErrCodeSchemaMismatch,
			"record has %d columns but %d values", len(rec.Columns), len(rec.Raw)).
			WithDetail(identity(rec))
	}

	if a.columns == nil {
		if len(rec.Columns) == 0 {
			return errors.New(errors.ErrCodeSchemaMismatch, "first record has no columns").
				WithDetail(identity(rec))
		}
		a.columns = append([]string(nil), rec.Columns...)
		for i, c := range a.columns {
			if c == RotatableBondsColumn {
				a.nRotIdx = i
			}
		}
		a.arena = make([]float64, 0, cap(a.ligands)*len(a.columns))
	} else if err := a.checkSchema(rec); err != nil {
		return err
	}

	start := len(a.arena)
	for i, raw := range rec.Raw {
		v, err := a.parse(i, raw)
		if err != nil {
			a.arena = a.arena[:start]
			return errors.Wrap(err, errors.ErrCodeSchemaMismatch, "non-numeric feature value").
				WithDetail(identity(rec) + " column=" + a.columns[i])
		}
		a.arena = append(a.arena, v)
	}
	a.receptors = append(a.receptors, rec.ReceptorName)
	a.ligands = append(a.ligands, rec.LigandName)
	a.rows++
	return nil
}

func (a *Assembler) checkSchema(rec Record) error {
	if len(rec.Columns) != len(a.columns) {
		return errors.Newf(errors.ErrCodeSchemaMismatch,
			"record has %d columns, schema has %d", len(rec.Columns), len(a.columns)).
			WithDetail(identity(rec))
	}
	for i, c := range rec.Columns {
		if c != a.columns[i] {
			return errors.Newf(errors.ErrCodeSchemaMismatch,
				"column %d is %q, schema has %q", i, c, a.columns[i]).
				WithDetail(identity(rec))
		}
	}
	return nil
}

func (a *Assembler) parse(i int, raw string) (float64, error) {
	if i == a.nRotIdx {
		raw = strings.TrimSpace(raw)
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return float64(n), nil
		}
	}
	return strconv.ParseFloat(raw, 64)
}

// AddAll appends records in order, stopping at the first error.
func (a *Assembler) AddAll(recs []Record) error {
	for _, r := range recs {
		if err := a.Add(r); err != nil {
			return err
		}
	}
	return nil
}

// Rows returns the number of rows added so far.
func (a *Assembler) Rows() int { return a.rows }

// Table returns the assembled table.  Its Data shares the arena; the
// assembler must not be reused afterwards except for Release.
func (a *Assembler) Table() (*Table, error) {
	if a.released {
		return nil, errors.Internal("assembler already released")
	}
	if a.rows == 0 {
		return nil, errors.New(errors.ErrCodeEmptyRun, "no feature records assembled")
	}
	return &Table{
		Columns:   append([]string(nil), a.columns...),
		Data:      a.arena[: a.rows*len(a.columns) : a.rows*len(a.columns)],
		Rows:      a.rows,
		Receptors: a.receptors,
		Ligands:   a.ligands,
	}, nil
}

// Release drops the assembler's references to the arena.  Tables already
// returned by Table stay valid.  Release is idempotent.
func (a *Assembler) Release() {
	a.arena = nil
	a.receptors = nil
	a.ligands = nil
	a.released = true
}

func identity(rec Record) string {
	return "receptor=" + rec.ReceptorName + " ligand=" + rec.LigandName
}
