// Package consensus joins per-family predictions and derives the consensus
// statistics written as the run's result table.
package consensus

import (
	"math"

	"github.com/turtacn/KeyIP-Scoring/internal/intelligence/ensemble"
	"github.com/turtacn/KeyIP-Scoring/internal/intelligence/features"
	"github.com/turtacn/KeyIP-Scoring/pkg/errors"
)

// Consensus column names.
const (
	ColMean  = "consensus_mean"
	ColStdev = "consensus_stdev"
	ColRange = "consensus_range"
)

// Table is the joined result.  Identity columns are held out-of-band and are
// always written first.
type Table struct {
	Columns         []string
	Data            []float64
	Rows            int
	Receptors       []string
	Ligands         []string
	Representatives []string
}

// Header returns the full CSV header.
func (t *Table) Header() []string {
	return append([]string{features.ColReceptor, features.ColLigand}, t.Columns...)
}

// Row returns a view of row i.
func (t *Table) Row(i int) []float64 {
	w := len(t.Columns)
	return t.Data[i*w : (i+1)*w : (i+1)*w]
}

// ColumnIndex returns the position of name among the numeric columns, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Options controls the projection.
type Options struct {
	// Detailed keeps every per-submodel column.
	Detailed bool
}

type identity struct{ receptor, ligand string }

// Aggregate inner-joins tables on (Receptor, Ligand) in the row order of the
// first table.  Every table must carry exactly the same identity set, each
// pair once.
func Aggregate(tables []*ensemble.PredictionTable, opts Options) (*Table, error) {
	if len(tables) == 0 {
		return nil, errors.New(errors.ErrCodeEmptyRun, "no prediction tables to aggregate")
	}
	base := tables[0]

	lookups := make([]map[identity]int, len(tables))
	for i, pt := range tables {
		idx, err := indexRows(pt)
		if err != nil {
			return nil, err
		}
		if len(idx) != base.Rows {
			return nil, errors.Newf(errors.ErrCodeJoinMismatch,
				"family %s has %d rows, %s has %d", pt.Family.Name, len(idx), base.Family.Name, base.Rows)
		}
		lookups[i] = idx
	}

	var cols []string
	type source struct{ table, col int }
	var sources []source
	reps := make([]int, len(tables))
	repNames := make([]string, len(tables))
	for i, pt := range tables {
		rep := pt.Representative()
		repNames[i] = rep
		for j, c := range pt.Columns {
			if !opts.Detailed && c != rep {
				continue
			}
			if c == rep {
				reps[i] = len(sources)
			}
			cols = append(cols, c)
			sources = append(sources, source{i, j})
		}
		if indexOf(pt.Columns, rep) < 0 {
			return nil, errors.Newf(errors.ErrCodeJoinMismatch,
				"family %s lacks representative column %s", pt.Family.Name, rep)
		}
	}
	nPred := len(cols)
	cols = append(cols, ColMean, ColStdev, ColRange)

	w := len(cols)
	out := &Table{
		Columns:         cols,
		Data:            make([]float64, base.Rows*w),
		Rows:            base.Rows,
		Receptors:       make([]string, base.Rows),
		Ligands:         make([]string, base.Rows),
		Representatives: repNames,
	}
	rowIdx := make([]int, len(tables))
	repVals := make([]float64, len(tables))
	for r := 0; r < base.Rows; r++ {
		key := identity{base.Receptors[r], base.Ligands[r]}
		for i := range tables {
			src, ok := lookups[i][key]
			if !ok {
				return nil, errors.Newf(errors.ErrCodeJoinMismatch,
					"family %s has no prediction for %s/%s", tables[i].Family.Name, key.receptor, key.ligand)
			}
			rowIdx[i] = src
		}
		out.Receptors[r] = key.receptor
		out.Ligands[r] = key.ligand

		row := out.Data[r*w : (r+1)*w]
		for k, s := range sources {
			pt := tables[s.table]
			row[k] = pt.Data[rowIdx[s.table]*len(pt.Columns)+s.col]
		}
		for i := range tables {
			repVals[i] = row[reps[i]]
		}
		row[nPred], row[nPred+1], row[nPred+2] = Stats(repVals)
	}
	return out, nil
}

// Stats returns the mean, population standard deviation and range of vals.
func Stats(vals []float64) (mean, stdev, spread float64) {
	if len(vals) == 0 {
		return math.NaN(), math.NaN(), math.NaN()
	}
	lo, hi := vals[0], vals[0]
	var sum float64
	for _, v := range vals {
		sum += v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	mean = sum / float64(len(vals))
	var sq float64
	for _, v := range vals {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(vals))), hi - lo
}

func indexRows(pt *ensemble.PredictionTable) (map[identity]int, error) {
	if len(pt.Receptors) != pt.Rows || len(pt.Ligands) != pt.Rows {
		return nil, errors.Newf(errors.ErrCodeJoinMismatch, "family %s identity columns are misaligned", pt.Family.Name)
	}
	idx := make(map[identity]int, pt.Rows)
	for r := 0; r < pt.Rows; r++ {
		key := identity{pt.Receptors[r], pt.Ligands[r]}
		if _, dup := idx[key]; dup {
			return nil, errors.Newf(errors.ErrCodeJoinMismatch,
				"family %s has duplicate rows for %s/%s", pt.Family.Name, key.receptor, key.ligand)
		}
		idx[key] = r
	}
	return idx, nil
}

func indexOf(xs []string, s string) int {
	for i, x := range xs {
		if x == s {
			return i
		}
	}
	return -1
}
