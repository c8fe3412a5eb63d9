package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/turtacn/KeyIP-Scoring/internal/application/scoring"
	"github.com/turtacn/KeyIP-Scoring/internal/bootstrap"
	"github.com/turtacn/KeyIP-Scoring/internal/config"
	"github.com/turtacn/KeyIP-Scoring/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-Scoring/internal/intelligence/ensemble"
)

// familyFlags selects scoring families.  None set means all of them.
type familyFlags struct {
	xgb, mlp, wd bool
}

func (f *familyFlags) register(fs *pflag.FlagSet) {
	fs.BoolVar(&f.xgb, "xgbscore-multi", false, "use the XGBoost multi-pose family")
	fs.BoolVar(&f.mlp, "mlpscore-multi", false, "use the ANN multi-pose family")
	fs.BoolVar(&f.wd, "wdscore-multi", false, "use the wide-and-deep multi-pose family")
}

func (f *familyFlags) selected() []string {
	var out []string
	if f.xgb {
		out = append(out, ensemble.FamilyXGBoost)
	}
	if f.mlp {
		out = append(out, ensemble.FamilyMLP)
	}
	if f.wd {
		out = append(out, ensemble.FamilyWD)
	}
	return out
}

// modelFlags are shared by score and models.
type modelFlags struct {
	families    familyFlags
	numNetworks int
	profile     string
	pose1       bool
}

func (m *modelFlags) register(fs *pflag.FlagSet) {
	m.families.register(fs)
	fs.IntVar(&m.numNetworks, "num-networks", ensemble.DefaultNumNetworks, "number of best-ranked networks used per network family")
	fs.StringVar(&m.profile, "profile", ensemble.ProfileMulti, "feature scaling profile (multi, single)")
	fs.BoolVar(&m.pose1, "pose-1", false, "score only the first pose of each ligand file")
}

// apply overlays flags the user actually set onto rc.
func (m *modelFlags) apply(fs *pflag.FlagSet, rc *scoring.RunConfig) {
	if fams := m.families.selected(); len(fams) > 0 {
		rc.Families = fams
	}
	if fs.Changed("num-networks") {
		rc.NumNetworks = m.numNetworks
	}
	if fs.Changed("profile") {
		rc.Profile = m.profile
	}
	if fs.Changed("pose-1") {
		rc.FirstPoseOnly = m.pose1
	}
}

// baseRunConfig carries the config file's scoring section into a run.
func baseRunConfig(cfg *config.Config) scoring.RunConfig {
	s := cfg.Scoring
	return scoring.RunConfig{
		Threads:       s.Threads,
		NumNetworks:   s.NumNetworks,
		Families:      append([]string(nil), s.Families...),
		Profile:       s.Profile,
		FirstPoseOnly: s.FirstPoseOnly,
		Detailed:      s.Detailed,
	}
}

type scoreOptions struct {
	model     modelFlags
	receptor  string
	ligand    string
	refLigand string
	out       string
	filter    string
	threads   int
	detailed  bool
}

func NewScoreCmd() *cobra.Command {
	o := &scoreOptions{}
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score ligand poses against a receptor",
		Long: "Score every pose in the ligand input against the receptor and write the\n" +
			"consensus table as CSV.\n\n" +
			"The ligand argument selects the mode:\n" +
			"  a PDBQT file          score its poses\n" +
			"  a folder              score every PDBQT file in it\n" +
			"  a .smi or .txt file   dock each SMILES first (needs --ref-lig), then score\n" +
			"  the receptor folder   score one receptor/ligand pair per subfolder",
		Example: "  keyscore score -r protein.pdbqt -l docked.pdbqt --detailed\n" +
			"  keyscore score -r protein.pdbqt -l ligands.smi --ref-lig crystal.pdbqt -t 8 -o scores.csv\n" +
			"  keyscore score -r protein.pdbqt -l poses/ --filter 'row.consensus_mean > 6.0'",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScore(cmd, o)
		},
	}

	o.register(cmd.Flags())
	return cmd
}

func (o *scoreOptions) register(fs *pflag.FlagSet) {
	fs.StringVarP(&o.receptor, "receptor", "r", "", "receptor PDBQT file, or a folder of paired subfolders")
	fs.StringVarP(&o.ligand, "ligand", "l", "", "ligand PDBQT file, folder of PDBQT files, or SMILES file")
	fs.StringVar(&o.refLigand, "ref-lig", "", "reference ligand PDBQT defining the docking box")
	fs.StringVarP(&o.out, "out", "o", "", "write the CSV to this file instead of stdout")
	fs.StringVar(&o.filter, "filter", "", "CEL expression over row.<column> selecting rows to keep")
	fs.IntVarP(&o.threads, "threads", "t", 1, "worker threads for extraction and docking")
	fs.BoolVar(&o.detailed, "detailed", false, "also write every model's prediction")
	o.model.register(fs)
}

func (o *scoreOptions) runConfig(fs *pflag.FlagSet, cfg *config.Config) scoring.RunConfig {
	rc := baseRunConfig(cfg)
	rc.Receptor = o.receptor
	rc.Ligand = o.ligand
	rc.RefLigand = o.refLigand
	rc.Out = o.out
	rc.Filter = o.filter
	if fs.Changed("threads") {
		rc.Threads = o.threads
	}
	if fs.Changed("detailed") {
		rc.Detailed = o.detailed
	}
	o.model.apply(fs, &rc)
	return rc
}

func runScore(cmd *cobra.Command, o *scoreOptions) error {
	cc, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := cc.commandContext(cmd.Context())
	defer cancel()

	rt, err := bootstrap.Build(ctx, cc.Config, cc.Logger, bootstrap.WithStdout(cmd.OutOrStdout()))
	if err != nil {
		return err
	}
	defer rt.Close()

	res, runErr := rt.Service.Run(ctx, o.runConfig(cmd.Flags(), cc.Config))
	if res != nil {
		cc.Logger.Info("scoring finished",
			logging.RunID(res.RunID),
			logging.String("mode", res.Mode.String()),
			logging.Int("rows", res.Table.Rows),
			logging.Duration("elapsed", res.Duration()))
	}
	if err := rt.PushMetrics(ctx); err != nil {
		cc.Logger.Warn("metrics push failed", logging.Err(err))
	}
	return runErr
}
