package docking

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/KeyIP-Scoring/internal/intelligence/common"
	"github.com/turtacn/KeyIP-Scoring/pkg/errors"
)

func atom(kind string, x, y, z float64) string {
	return fmt.Sprintf("%-6s%5d  C   LIG A   1    %8.3f%8.3f%8.3f  1.00  0.00     0.000 C", kind, 1, x, y, z)
}

func writeRef(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "ref.pdbqt")
	body := strings.Join([]string{
		"REMARK reference",
		atom("ATOM", 0, 0, 0),
		atom("HETATM", 2, -4, 10),
		"TER",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestBoundingBox(t *testing.T) {
	ref := writeRef(t, t.TempDir())
	box, err := BoundingBox(ref, 8)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, box.CenterX, 1e-9)
	assert.InDelta(t, -2.0, box.CenterY, 1e-9)
	assert.InDelta(t, 5.0, box.CenterZ, 1e-9)
	assert.InDelta(t, 18.0, box.SizeX, 1e-9)
	assert.InDelta(t, 20.0, box.SizeY, 1e-9)
	assert.InDelta(t, 26.0, box.SizeZ, 1e-9)
	assert.Contains(t, box.String(), "center=(1.000, -2.000, 5.000)")
}

func TestBoundingBox_Errors(t *testing.T) {
	dir := t.TempDir()
	_, err := BoundingBox(filepath.Join(dir, "absent.pdbqt"), 8)
	assert.True(t, errors.IsCode(err, errors.ErrCodeReferenceLigand))

	empty := filepath.Join(dir, "empty.pdbqt")
	require.NoError(t, os.WriteFile(empty, []byte("REMARK nothing\n"), 0o644))
	_, err = BoundingBox(empty, 8)
	assert.True(t, errors.IsCode(err, errors.ErrCodeReferenceLigand))

	short := filepath.Join(dir, "short.pdbqt")
	require.NoError(t, os.WriteFile(short, []byte("ATOM      1  C\n"), 0o644))
	_, err = BoundingBox(short, 8)
	assert.True(t, errors.IsCode(err, errors.ErrCodeReferenceLigand))
}

func TestReadSMILES(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lib.smi")
	require.NoError(t, os.WriteFile(path, []byte("# library\nCCO ethanol\n\nc1ccccc1\nCC(=O)O acetic\n"), 0o644))

	mols, err := ReadSMILES(path)
	require.NoError(t, err)
	assert.Equal(t, []Molecule{
		{ID: "ethanol", SMILES: "CCO"},
		{ID: "ligand_2", SMILES: "c1ccccc1"},
		{ID: "acetic", SMILES: "CC(=O)O"},
	}, mols)
}

func TestReadSMILES_Errors(t *testing.T) {
	dir := t.TempDir()
	dup := filepath.Join(dir, "dup.smi")
	require.NoError(t, os.WriteFile(dup, []byte("CCO a\nCCC a\n"), 0o644))
	_, err := ReadSMILES(dup)
	assert.True(t, errors.IsCode(err, errors.ErrCodeSMILESInvalid))

	slash := filepath.Join(dir, "slash.smi")
	require.NoError(t, os.WriteFile(slash, []byte("CCO ../evil\n"), 0o644))
	_, err = ReadSMILES(slash)
	assert.True(t, errors.IsCode(err, errors.ErrCodeSMILESInvalid))

	empty := filepath.Join(dir, "empty.smi")
	require.NoError(t, os.WriteFile(empty, []byte("# only comments\n"), 0o644))
	_, err = ReadSMILES(empty)
	assert.True(t, errors.IsCode(err, errors.ErrCodeEmptyRun))

	_, err = ReadSMILES(filepath.Join(dir, "absent.smi"))
	assert.True(t, errors.IsCode(err, errors.ErrCodeInputNotFound))
}

func newRunner(t *testing.T, root string) *Runner {
	t.Helper()
	return &Runner{
		Preparer: Command{Name: "/bin/sh", Args: []string{"-c", `echo "{smiles} {name}" > {out}`}},
		Docker: Command{Name: "/bin/sh", Args: []string{"-c",
			`{ echo "MODEL 1"; cat {ligand}; echo "box {center_x} {size_x} {exhaustiveness} {num_modes}"; } > {out}`}},
		Settings:   Settings{Padding: 8, Exhaustiveness: 32, NumWolves: 40, NumModes: 9, EnergyRange: 3},
		ScratchDir: filepath.Join(root, "TEMP_"),
		OutputDir:  filepath.Join(root, "docked_ligands"),
		Threads:    2,
		Metrics:    common.NewInMemoryScoringMetrics(),
	}
}

func TestRunner_Run(t *testing.T) {
	root := t.TempDir()
	ref := writeRef(t, root)
	smi := filepath.Join(root, "actives.smi")
	require.NoError(t, os.WriteFile(smi, []byte("CCO ethanol\nCCN ethylamine\n"), 0o644))

	r := newRunner(t, root)
	paths, err := r.Run(context.Background(), "run-1", "rec.pdbqt", smi, ref)
	require.NoError(t, err)
	require.Equal(t, []string{
		filepath.Join(root, "docked_ligands", "actives", "run-1", "ethanol.pdbqt"),
		filepath.Join(root, "docked_ligands", "actives", "run-1", "ethylamine.pdbqt"),
	}, paths)

	raw, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.Equal(t, "MODEL 1\nCCO ethanol\nbox 1.000 18.000 32 9\n", string(raw))

	entries, err := os.ReadDir(r.ScratchDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch is removed after the run")
}

func TestRunner_ConcurrentRunsKeepSeparateScratch(t *testing.T) {
	root := t.TempDir()
	ref := writeRef(t, root)
	smi := filepath.Join(root, "lib.smi")
	require.NoError(t, os.WriteFile(smi, []byte("CCO ethanol\n"), 0o644))

	r := newRunner(t, root)
	r.Preparer = Command{Name: "/bin/sh", Args: []string{"-c", `sleep 0.4; echo "{smiles} {name}" > {out}`}}

	var wg sync.WaitGroup
	paths := make([][]string, 2)
	errs := make([]error, 2)
	for i, id := range []string{"run-a", "run-b"} {
		i, id := i, id
		wg.Add(1)
		go func() {
			defer wg.Done()
			paths[i], errs[i] = r.Run(context.Background(), id, "rec.pdbqt", smi, ref)
		}()
		time.Sleep(150 * time.Millisecond)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, []string{filepath.Join(root, "docked_ligands", "lib", "run-a", "ethanol.pdbqt")}, paths[0])
	assert.Equal(t, []string{filepath.Join(root, "docked_ligands", "lib", "run-b", "ethanol.pdbqt")}, paths[1])
	assert.FileExists(t, paths[0][0])
	assert.FileExists(t, paths[1][0])
}

func TestRunner_Failures(t *testing.T) {
	root := t.TempDir()
	ref := writeRef(t, root)
	smi := filepath.Join(root, "lib.smi")
	require.NoError(t, os.WriteFile(smi, []byte("CCO a\n"), 0o644))

	r := newRunner(t, root)
	_, err := r.Run(context.Background(), "run-1", "rec.pdbqt", smi, "")
	assert.True(t, errors.IsCode(err, errors.ErrCodeReferenceLigand))

	r.Preparer = Command{Name: "/bin/sh", Args: []string{"-c", "echo broken >&2; exit 3"}}
	_, err = r.Run(context.Background(), "run-1", "rec.pdbqt", smi, ref)
	assert.True(t, errors.IsCode(err, errors.ErrCodePreparationFailed))

	r = newRunner(t, root)
	r.Docker = Command{Name: "/bin/sh", Args: []string{"-c", "true"}}
	_, err = r.Run(context.Background(), "run-1", "rec.pdbqt", smi, ref)
	assert.True(t, errors.IsCode(err, errors.ErrCodeDockingFailed))
}

func TestStem(t *testing.T) {
	assert.Equal(t, "actives", stem("/data/actives.smi"))
	assert.Equal(t, "lib", stem("lib.v2.txt"))
	assert.Equal(t, "plain", stem("plain"))
}
