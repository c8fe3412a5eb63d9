package consensus

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/turtacn/KeyIP-Scoring/internal/intelligence/features"
	"github.com/turtacn/KeyIP-Scoring/pkg/errors"
)

// Filter is a compiled CEL predicate over result rows.  Each row is bound as
// the map variable "row", keyed by column name, e.g.
//
//	row.consensus_mean > 6.0 && row.consensus_stdev < 0.5
//	row.Ligand.startsWith("CHEMBL")
type Filter struct {
	expr string
	prg  cel.Program
}

// NewFilter compiles expr.  An empty expression yields a nil Filter, which
// keeps every row.
func NewFilter(expr string) (*Filter, error) {
	if expr == "" {
		return nil, nil
	}
	env, err := cel.NewEnv(cel.Variable("row", cel.MapType(cel.StringType, cel.DynType)))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "cannot build filter environment")
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, errors.Wrap(issues.Err(), errors.ErrCodeFilterInvalid, "filter does not compile").WithDetail(expr)
	}
	if ot := ast.OutputType().String(); ot != "bool" && ot != "dyn" {
		return nil, errors.Newf(errors.ErrCodeFilterInvalid, "filter must be boolean, got %s", ot).WithDetail(expr)
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeFilterInvalid, "filter program error").WithDetail(expr)
	}
	return &Filter{expr: expr, prg: prg}, nil
}

// String returns the source expression.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.expr
}

// Match evaluates the filter on row r of t.
func (f *Filter) Match(t *Table, r int) (bool, error) {
	if f == nil {
		return true, nil
	}
	out, _, err := f.prg.Eval(map[string]interface{}{"row": rowInput(t, r)})
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeFilterInvalid, "filter evaluation failed").
			WithDetail(fmt.Sprintf("%s/%s", t.Receptors[r], t.Ligands[r]))
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, errors.Newf(errors.ErrCodeFilterInvalid, "filter must return boolean, got %T", out.Value())
	}
	return ok, nil
}

// Apply returns a new table holding the rows f keeps.  A nil filter returns t.
func (f *Filter) Apply(t *Table) (*Table, error) {
	if f == nil {
		return t, nil
	}
	out := &Table{
		Columns:         t.Columns,
		Representatives: t.Representatives,
	}
	for r := 0; r < t.Rows; r++ {
		keep, err := f.Match(t, r)
		if err != nil {
			return nil, err
		}
		if !keep {
			continue
		}
		out.Data = append(out.Data, t.Row(r)...)
		out.Receptors = append(out.Receptors, t.Receptors[r])
		out.Ligands = append(out.Ligands, t.Ligands[r])
		out.Rows++
	}
	return out, nil
}

func rowInput(t *Table, r int) map[string]interface{} {
	row := make(map[string]interface{}, len(t.Columns)+2)
	row[features.ColReceptor] = t.Receptors[r]
	row[features.ColLigand] = t.Ligands[r]
	for j, v := range t.Row(r) {
		row[t.Columns[j]] = v
	}
	return row
}
