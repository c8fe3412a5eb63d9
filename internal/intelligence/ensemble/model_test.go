package ensemble

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/KeyIP-Scoring/internal/intelligence/features"
	"github.com/turtacn/KeyIP-Scoring/pkg/errors"
)

func TestProfile_Apply(t *testing.T) {
	p := &Profile{Name: "multi", Features: []string{"b", "a"}, Scale: []float64{2, 0}, Order: []string{"a", "b"}}
	require.NoError(t, p.Validate())

	in := featureTable()
	out, err := p.Apply(in)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, out.Columns)
	assert.Equal(t, []float64{0.5, 2, 3, -1}, out.Data)
	assert.Equal(t, in.Ligands, out.Ligands)
	assert.Equal(t, []float64{4, 0.5, 4, 2, 3, -2}, in.Data, "input must not be modified")
}

func TestProfile_Validate(t *testing.T) {
	tests := []struct {
		name string
		p    Profile
	}{
		{"empty", Profile{}},
		{"scale length", Profile{Features: []string{"a"}, Scale: []float64{1, 2}, Order: []string{"a"}}},
		{"order length", Profile{Features: []string{"a", "b"}, Scale: []float64{1, 2}, Order: []string{"a"}}},
		{"duplicate", Profile{Features: []string{"a", "a"}, Scale: []float64{1, 2}, Order: []string{"a", "a"}}},
		{"unselected", Profile{Features: []string{"a"}, Scale: []float64{1}, Order: []string{"z"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			assert.True(t, errors.IsCode(err, errors.ErrCodeProfileInvalid))
		})
	}
}

func TestLoadProfiles_Malformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profiles.yaml")
	writeFile(t, path, "profiles: [oops")
	_, err := LoadProfiles(path)
	assert.True(t, errors.IsCode(err, errors.ErrCodeProfileInvalid))

	_, err = LoadProfiles(filepath.Join(dir, "absent.yaml"))
	assert.True(t, errors.IsCode(err, errors.ErrCodeModelNotAvailable))
}

func TestBooster_MissingValueAndPositionalSplit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "booster.json")
	writeFile(t, path, `{"base_score": 0, "trees": [
	  {"nodeid": 0, "split": "f1", "split_condition": 0, "yes": 1, "no": 2, "missing": 2,
	   "children": [{"nodeid": 1, "leaf": -1}, {"nodeid": 2, "leaf": 1}]}]}`)
	b, err := LoadBooster(path)
	require.NoError(t, err)

	tbl := &features.Table{Columns: []string{"x", "y"}, Data: []float64{0, -5, 0, 5, 0, math.NaN()}, Rows: 3}
	pred, err := b.Predict(tbl)
	require.NoError(t, err)
	assert.Equal(t, []float64{-1, 1, 1}, pred)
}

func TestBooster_UnknownSplitFeature(t *testing.T) {
	path := filepath.Join(t.TempDir(), "booster.json")
	writeFile(t, path, `{"trees": [{"nodeid": 0, "split": "zz", "split_condition": 0, "yes": 1, "no": 2, "missing": 1,
	  "children": [{"nodeid": 1, "leaf": 0}, {"nodeid": 2, "leaf": 0}]}]}`)
	b, err := LoadBooster(path)
	require.NoError(t, err)
	_, err = b.Predict(&features.Table{Columns: []string{"x"}, Data: []float64{1}, Rows: 1})
	assert.True(t, errors.IsCode(err, errors.ErrCodeSchemaMismatch))
}

func TestBooster_RejectsBadBranches(t *testing.T) {
	cases := map[string]string{
		"negative": `{"nodeid": 0, "split": "x", "split_condition": 0, "yes": -1, "no": 2, "missing": 2,
		  "children": [{"nodeid": 1, "leaf": 0}, {"nodeid": 2, "leaf": 0}]}`,
		"self": `{"nodeid": 0, "split": "x", "split_condition": 0, "yes": 1, "no": 0, "missing": 1,
		  "children": [{"nodeid": 1, "leaf": 0}, {"nodeid": 2, "leaf": 0}]}`,
		"no missing key": `{"nodeid": 0, "split": "x", "split_condition": 0, "yes": 1, "no": 2,
		  "children": [{"nodeid": 1, "leaf": 0}, {"nodeid": 2, "leaf": 0}]}`,
		"back edge": `{"nodeid": 0, "split": "x", "split_condition": 0, "yes": 1, "no": 2, "missing": 1,
		  "children": [
		    {"nodeid": 1, "split": "x", "split_condition": 5, "yes": 0, "no": 3, "missing": 3,
		     "children": [{"nodeid": 3, "leaf": 0}, {"nodeid": 4, "leaf": 0}]},
		    {"nodeid": 2, "leaf": 0}]}`,
		"out of range": `{"nodeid": 0, "split": "x", "split_condition": 0, "yes": 1, "no": 7, "missing": 1,
		  "children": [{"nodeid": 1, "leaf": 0}, {"nodeid": 2, "leaf": 0}]}`,
	}
	tbl := &features.Table{Columns: []string{"x"}, Data: []float64{math.NaN()}, Rows: 1}
	for name, tree := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "booster.json")
			writeFile(t, path, `{"trees": [`+tree+`]}`)
			b, err := LoadBooster(path)
			require.NoError(t, err)
			_, err = b.Predict(tbl)
			assert.True(t, errors.IsCode(err, errors.ErrCodeModelLoadFailed))
		})
	}
}

func TestLoadNetwork_ShapeChecks(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"ragged.json":     `{"layers": [{"weights": [[1, 1], [1]], "bias": [0, 0], "activation": "relu"}]}`,
		"chain.json":      `{"layers": [{"weights": [[1, 1]], "bias": [0]}, {"weights": [[1, 1]], "bias": [0]}]}`,
		"wide.json":       `{"layers": [{"weights": [[1], [1]], "bias": [0, 0]}]}`,
		"activation.json": `{"layers": [{"weights": [[1]], "bias": [0], "activation": "swish"}]}`,
		"empty.json":      `{"layers": []}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			writeFile(t, path, body)
			_, err := LoadNetwork(path)
			assert.True(t, errors.IsCode(err, errors.ErrCodeModelLoadFailed))
		})
	}
}

func TestNetwork_InputWidthMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "n.json")
	writeFile(t, path, sumNetJSON)
	n, err := LoadNetwork(path)
	require.NoError(t, err)
	assert.Equal(t, 2, n.InputWidth())

	_, err = n.Predict(&features.Table{Columns: []string{"x"}, Data: []float64{1}, Rows: 1})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInferenceFailed))
}

func TestTop(t *testing.T) {
	r := []Ranking{{Name: "a"}, {Name: "b"}}
	assert.Len(t, Top(r, 1), 1)
	assert.Len(t, Top(r, 5), 2)
}
