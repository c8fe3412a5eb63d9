package features

// Identity column names.  They travel beside the numeric matrix and are never
// fed to a model.
const (
	ColReceptor = "Receptor"
	ColLigand   = "Ligand"
)

// Table is a row-major numeric matrix with named columns and out-of-band
// identity.  Data has Rows*len(Columns) elements.
type Table struct {
	Columns   []string
	Data      []float64
	Rows      int
	Receptors []string
	Ligands   []string
}

// Width returns the column count.
func (t *Table) Width() int { return len(t.Columns) }

// Row returns a view of row i.  The slice aliases Data.
func (t *Table) Row(i int) []float64 {
	w := len(t.Columns)
	return t.Data[i*w : (i+1)*w : (i+1)*w]
}

// At returns the value at row i, column j.
func (t *Table) At(i, j int) float64 {
	return t.Data[i*len(t.Columns)+j]
}

// ColumnIndex returns the position of name, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}
