package docking

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/turtacn/KeyIP-Scoring/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-Scoring/internal/intelligence/common"
	"github.com/turtacn/KeyIP-Scoring/pkg/errors"
)

// Default argument templates.  Placeholders are written {name}.
var (
	DefaultPrepareArgs = []string{"{smiles}", "-o", "{out}"}
	DefaultDockArgs    = []string{
		"--receptor", "{receptor}", "--ligand", "{ligand}",
		"--center_x", "{center_x}", "--center_y", "{center_y}", "--center_z", "{center_z}",
		"--size_x", "{size_x}", "--size_y", "{size_y}", "--size_z", "{size_z}",
		"--exhaustiveness", "{exhaustiveness}", "--num_wolves", "{num_wolves}",
		"--num_modes", "{num_modes}", "--energy_range", "{energy_range}",
		"--out", "{out}",
	}
)

// Settings are the search parameters handed to the docking program.
type Settings struct {
	Padding        float64
	Exhaustiveness int
	NumWolves      int
	NumModes       int
	EnergyRange    float64
}

// Command is a program plus an argument template.
type Command struct {
	Name string
	Args []string
}

func (c Command) run(ctx context.Context, vars map[string]string) error {
	pairs := make([]string, 0, 2*len(vars))
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	r := strings.NewReplacer(pairs...)
	argv := make([]string, len(c.Args))
	for i, a := range c.Args {
		argv[i] = r.Replace(a)
	}

	cmd := exec.CommandContext(ctx, c.Name, argv...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if len(detail) > 512 {
			detail = detail[:512]
		}
		return errors.Wrap(err, errors.ErrCodeExternalService, c.Name).WithDetail(detail)
	}
	return nil
}

// Runner prepares and docks a SMILES library against one receptor.
type Runner struct {
	Preparer   Command
	Docker     Command
	Settings   Settings
	ScratchDir string
	OutputDir  string
	Threads    int

	Metrics common.ScoringMetrics
	Logger  logging.Logger
}

func (r *Runner) logger() logging.Logger {
	if r.Logger == nil {
		return logging.NewNopLogger()
	}
	return r.Logger
}

// workspace is the scratch area of one Run.  Concurrent runs never share one.
type workspace struct {
	root string
}

func (w workspace) preparedDir() string { return filepath.Join(w.root, "pdbqt_files") }
func (w workspace) dockedDir() string   { return filepath.Join(w.root, "docked_pdbqt_files") }

// Run docks every molecule of smiFile into receptor within the box around
// refLigand and returns the docked pose files, sorted, under
// OutputDir/<smiFile stem>/<runID>/.
func (r *Runner) Run(ctx context.Context, runID, receptor, smiFile, refLigand string) ([]string, error) {
	if refLigand == "" {
		return nil, errors.New(errors.ErrCodeReferenceLigand, "no reference ligand supplied")
	}
	log := r.logger().Named("docking")
	if runID != "" {
		log = log.With(logging.RunID(runID))
	}

	box, err := BoundingBox(refLigand, r.Settings.Padding)
	if err != nil {
		return nil, err
	}
	mols, err := ReadSMILES(smiFile)
	if err != nil {
		return nil, err
	}
	ws, err := r.newWorkspace()
	if err != nil {
		return nil, err
	}
	defer r.removeWorkspace(ws, log)
	log.Debug("search box", logging.String("box", box.String()), logging.String("scratch", ws.root))

	log.Info("preparing ligands", logging.Int("molecules", len(mols)))
	opts := []common.BatchOption{
		common.WithMaxConcurrency(r.Threads),
		common.WithBatchName("dock_prepare"),
		common.WithBatchLogger(log),
	}
	if r.Metrics != nil {
		opts = append(opts, common.WithBatchMetrics(r.Metrics))
	}
	bp := common.NewBatchProcessor[Molecule, string](opts...)
	res, err := bp.Process(ctx, mols, func(ctx context.Context, m Molecule) (string, error) {
		return r.prepare(ctx, ws, m)
	})
	if err != nil {
		return nil, err
	}

	log.Info("docking ligands", logging.Int("ligands", len(res.Results)))
	docked := make([]string, 0, len(res.Results))
	for _, item := range res.Results {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := r.dock(ctx, ws, receptor, item.Result, box)
		if err != nil {
			return nil, err
		}
		docked = append(docked, out)
	}

	dest := filepath.Join(r.OutputDir, stem(smiFile), runID)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDockingFailed, "cannot create docked ligand directory").WithDetail(dest)
	}
	paths := make([]string, 0, len(docked))
	for _, src := range docked {
		dst := filepath.Join(dest, filepath.Base(src))
		if err := copyFile(src, dst); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDockingFailed, "cannot copy docked ligand").WithDetail(dst)
		}
		paths = append(paths, dst)
	}
	sort.Strings(paths)
	log.Info("docking complete", logging.String("output_dir", dest), logging.Int("ligands", len(paths)))
	return paths, nil
}

func (r *Runner) prepare(ctx context.Context, ws workspace, m Molecule) (string, error) {
	out := filepath.Join(ws.preparedDir(), m.ID+".pdbqt")
	err := r.Preparer.run(ctx, map[string]string{"smiles": m.SMILES, "name": m.ID, "out": out})
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodePreparationFailed, "ligand preparation failed").WithDetail(m.ID)
	}
	if _, err := os.Stat(out); err != nil {
		return "", errors.Wrap(err, errors.ErrCodePreparationFailed, "preparer produced no output").WithDetail(m.ID)
	}
	return out, nil
}

func (r *Runner) dock(ctx context.Context, ws workspace, receptor, ligand string, box Box) (string, error) {
	out := filepath.Join(ws.dockedDir(), filepath.Base(ligand))
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 3, 64) }
	vars := map[string]string{
		"receptor":       receptor,
		"ligand":         ligand,
		"out":            out,
		"center_x":       f(box.CenterX),
		"center_y":       f(box.CenterY),
		"center_z":       f(box.CenterZ),
		"size_x":         f(box.SizeX),
		"size_y":         f(box.SizeY),
		"size_z":         f(box.SizeZ),
		"exhaustiveness": strconv.Itoa(r.Settings.Exhaustiveness),
		"num_wolves":     strconv.Itoa(r.Settings.NumWolves),
		"num_modes":      strconv.Itoa(r.Settings.NumModes),
		"energy_range":   strconv.FormatFloat(r.Settings.EnergyRange, 'g', -1, 64),
	}
	if err := r.Docker.run(ctx, vars); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeDockingFailed, "docking failed").WithDetail(filepath.Base(ligand))
	}
	if _, err := os.Stat(out); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeDockingFailed, "docking produced no poses").WithDetail(filepath.Base(ligand))
	}
	return out, nil
}

// newWorkspace creates a private scratch directory under ScratchDir.
func (r *Runner) newWorkspace() (workspace, error) {
	if err := os.MkdirAll(r.ScratchDir, 0o755); err != nil {
		return workspace{}, errors.Wrap(err, errors.ErrCodeScratchCleanup, "cannot create scratch directory").WithDetail(r.ScratchDir)
	}
	root, err := os.MkdirTemp(r.ScratchDir, "run-*")
	if err != nil {
		return workspace{}, errors.Wrap(err, errors.ErrCodeScratchCleanup, "cannot create scratch directory").WithDetail(r.ScratchDir)
	}
	ws := workspace{root: root}
	for _, dir := range []string{ws.preparedDir(), ws.dockedDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			_ = os.RemoveAll(root)
			return workspace{}, errors.Wrap(err, errors.ErrCodeScratchCleanup, "cannot create scratch directory").WithDetail(dir)
		}
	}
	return ws, nil
}

// removeWorkspace deletes the run's scratch files.  Failures are logged and
// the files left behind.
func (r *Runner) removeWorkspace(ws workspace, log logging.Logger) {
	if err := os.RemoveAll(ws.root); err != nil {
		log.Warn("cannot remove scratch directory", logging.String("dir", ws.root), logging.Err(err))
	}
}

// stem is the base name of path up to its first dot.
func stem(path string) string {
	base := filepath.Base(path)
	if i := strings.IndexByte(base, '.'); i > 0 {
		return base[:i]
	}
	return base
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	_, err = io.Copy(out, in)
	return err
}

// String renders the box for logs.
func (b Box) String() string {
	return fmt.Sprintf("center=(%.3f, %.3f, %.3f) size=(%.3f, %.3f, %.3f)",
		b.CenterX, b.CenterY, b.CenterZ, b.SizeX, b.SizeY, b.SizeZ)
}
