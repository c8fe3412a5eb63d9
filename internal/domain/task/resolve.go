package task

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/turtacn/KeyIP-Scoring/pkg/errors"
)

// Resolve classifies the receptor and ligand arguments into Inputs.
//
//   - ligand == receptor: a directory of subfolders, each holding one file
//     whose name contains "receptor" and one containing "ligand".
//   - ligand is a directory: screen every entry against the receptor.
//   - ligand names a .smi or .txt list: dock mode.
//   - otherwise: a single pair.
func Resolve(receptor, ligand string) (Inputs, error) {
	if receptor == "" {
		return Inputs{}, errors.MissingArgument("--receptor")
	}
	if ligand == "" {
		return Inputs{}, errors.MissingArgument("--ligand")
	}

	if ligand == receptor {
		return resolvePaired(ligand)
	}

	info, err := os.Stat(ligand)
	if err != nil {
		return Inputs{}, errors.Wrap(err, errors.ErrCodeInputNotFound, "ligand input not found").
			WithDetail(ligand)
	}
	if _, err := os.Stat(receptor); err != nil {
		return Inputs{}, errors.Wrap(err, errors.ErrCodeInputNotFound, "receptor input not found").
			WithDetail(receptor)
	}

	switch {
	case info.IsDir():
		ligands, err := listEntries(ligand)
		if err != nil {
			return Inputs{}, err
		}
		return Screen(receptor, ligands), nil
	case isSMILESList(ligand):
		return Inputs{Mode: ModeDock, Receptors: []string{receptor}, Ligands: []string{ligand}}, nil
	default:
		return Inputs{Mode: ModeSingle, Receptors: []string{receptor}, Ligands: []string{ligand}}, nil
	}
}

func isSMILESList(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".smi" || ext == ".txt"
}

func listEntries(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInputNotFound, "cannot list ligand folder").
			WithDetail(dir)
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

func resolvePaired(root string) (Inputs, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return Inputs{}, errors.Wrap(err, errors.ErrCodeInputNotFound, "cannot list complex folder").
			WithDetail(root)
	}

	in := Inputs{Mode: ModeDirPaired}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		folder := filepath.Join(root, e.Name())
		files, err := listEntries(folder)
		if err != nil {
			return Inputs{}, err
		}
		receptor := firstContaining(files, "receptor")
		ligand := firstContaining(files, "ligand")
		if receptor == "" || ligand == "" {
			return Inputs{}, errors.New(errors.ErrCodeLayoutInvalid,
				"complex folder must contain a receptor and a ligand file").WithDetail(folder)
		}
		in.Receptors = append(in.Receptors, receptor)
		in.Ligands = append(in.Ligands, ligand)
	}
	if len(in.Ligands) == 0 {
		return Inputs{}, errors.New(errors.ErrCodeLayoutInvalid, "complex folder has no subfolders").
			WithDetail(root)
	}
	return in, nil
}

func firstContaining(paths []string, token string) string {
	for _, p := range paths {
		if strings.Contains(filepath.Base(p), token) {
			return p
		}
	}
	return ""
}
