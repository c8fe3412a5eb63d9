package consensus

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"

	"github.com/turtacn/KeyIP-Scoring/pkg/errors"
)

// FormatValue renders a prediction the way it appears in the CSV output.
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// WriteCSV writes t with a header row and no index column.
func WriteCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header()); err != nil {
		return errors.Wrap(err, errors.ErrCodeSinkWriteFailed, "cannot write result header")
	}
	rec := make([]string, 2+len(t.Columns))
	for r := 0; r < t.Rows; r++ {
		rec[0] = t.Receptors[r]
		rec[1] = t.Ligands[r]
		for j, v := range t.Row(r) {
			rec[2+j] = FormatValue(v)
		}
		if err := cw.Write(rec); err != nil {
			return errors.Wrap(err, errors.ErrCodeSinkWriteFailed, "cannot write result row")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.Wrap(err, errors.ErrCodeSinkWriteFailed, "cannot flush result table")
	}
	return nil
}

// WriteCSVFile writes t to path, replacing any existing file.
func WriteCSVFile(path string, t *Table) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSinkWriteFailed, "cannot create result file").WithDetail(path)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, errors.ErrCodeSinkWriteFailed, "cannot close result file").WithDetail(path)
		}
	}()
	return WriteCSV(f, t)
}

// Records returns t as a slice of column-name maps, identity included.
func Records(t *Table) []map[string]interface{} {
	out := make([]map[string]interface{}, t.Rows)
	for r := range out {
		out[r] = rowInput(t, r)
	}
	return out
}
