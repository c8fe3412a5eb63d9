package ensemble

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/turtacn/KeyIP-Scoring/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-Scoring/internal/intelligence/common"
	"github.com/turtacn/KeyIP-Scoring/pkg/errors"
)

// Kind distinguishes single-artifact tree families from ranked network families.
type Kind int

const (
	KindTree Kind = iota
	KindNetwork
)

func (k Kind) String() string {
	if k == KindTree {
		return "tree_ensemble"
	}
	return "network_ensemble"
}

// Family names.
const (
	FamilyXGBoost = "xgbscore_multi"
	FamilyMLP     = "mlpscore_multi"
	FamilyWD      = "wdscore_multi"
)

// DefaultNumNetworks is the number of ranked submodels used per network family.
const DefaultNumNetworks = 15

// Family describes one scoring family and where its artifacts live.
type Family struct {
	Name   string
	Kind   Kind
	Label  string
	Subdir string
}

// Families lists the known families in output order.
var Families = []Family{
	{Name: FamilyXGBoost, Kind: KindTree, Label: "XGBoost Multi-pose Model", Subdir: "xgbscore"},
	{Name: FamilyMLP, Kind: KindNetwork, Label: "ANN Multi-pose Model", Subdir: "mlpscore_multi"},
	{Name: FamilyWD, Kind: KindNetwork, Label: "WD Multi-pose Model", Subdir: "wdscore_multi"},
}

// LookupFamily finds a family by name.
func LookupFamily(name string) (Family, bool) {
	for _, f := range Families {
		if f.Name == name {
			return f, true
		}
	}
	return Family{}, false
}

// Requested normalizes a family selection: empty means all, order follows
// Families, duplicates collapse.
func Requested(names []string) ([]Family, error) {
	if len(names) == 0 {
		return append([]Family(nil), Families...), nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := LookupFamily(n); !ok {
			return nil, errors.Newf(errors.ErrCodeFamilyUnsupported, "unknown scoring family %q", n)
		}
		want[n] = true
	}
	var out []Family
	for _, f := range Families {
		if want[f.Name] {
			out = append(out, f)
		}
	}
	return out, nil
}

// Model is one loaded family.
type Model struct {
	Family   Family
	Booster  *Booster
	Networks []*Network
}

// Catalog holds the profile and every requested model, loaded once per run.
type Catalog struct {
	Profile     *Profile
	Models      []*Model
	NumNetworks int

	metrics common.ScoringMetrics
	logger  logging.Logger
}

// CatalogOption configures LoadCatalog.
type CatalogOption func(*catalogOptions)

type catalogOptions struct {
	profile string
	metrics common.ScoringMetrics
	logger  logging.Logger
}

// WithProfile selects the scaling profile by name (default "multi").
func WithProfile(name string) CatalogOption {
	return func(o *catalogOptions) {
		if name != "" {
			o.profile = name
		}
	}
}

// WithCatalogMetrics sets the metrics sink for model loads and inference.
func WithCatalogMetrics(m common.ScoringMetrics) CatalogOption {
	return func(o *catalogOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithCatalogLogger sets the logger.
func WithCatalogLogger(l logging.Logger) CatalogOption {
	return func(o *catalogOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// LoadCatalog reads profiles.yaml and the artifacts of each requested family
// from dir.  Any missing or malformed artifact is fatal.
func LoadCatalog(ctx context.Context, dir string, families []string, numNetworks int, opts ...CatalogOption) (*Catalog, error) {
	o := catalogOptions{
		profile: ProfileMulti,
		metrics: common.NewNoopScoringMetrics(),
		logger:  logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if numNetworks < 1 {
		return nil, errors.Newf(errors.ErrCodeValidation, "num_networks must be positive, got %d", numNetworks)
	}
	fams, err := Requested(families)
	if err != nil {
		return nil, err
	}

	profiles, err := LoadProfiles(filepath.Join(dir, "profiles.yaml"))
	if err != nil {
		return nil, err
	}
	profile, ok := profiles[o.profile]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeProfileInvalid, "scaling profile %q not defined", o.profile)
	}

	c := &Catalog{
		Profile:     profile,
		NumNetworks: numNetworks,
		metrics:     o.metrics,
		logger:      o.logger.Named("ensemble"),
	}
	for _, f := range fams {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, err := c.load(ctx, dir, f)
		if err != nil {
			return nil, err
		}
		c.Models = append(c.Models, m)
	}
	return c, nil
}

func (c *Catalog) load(ctx context.Context, dir string, f Family) (*Model, error) {
	base := filepath.Join(dir, f.Subdir)
	m := &Model{Family: f}

	if f.Kind == KindTree {
		start := time.Now()
		b, err := LoadBooster(filepath.Join(base, "booster.json"))
		c.metrics.RecordModelLoad(ctx, f.Name, "booster", msSince(start), err == nil)
		if err != nil {
			return nil, err
		}
		m.Booster = b
		c.logger.Debug("booster loaded", logging.String("family", f.Name), logging.Int("trees", b.NumTrees()))
		return m, nil
	}

	rankings, err := LoadRankings(filepath.Join(base, "rankings.yaml"))
	if err != nil {
		return nil, err
	}
	top := Top(rankings, c.NumNetworks)
	if len(top) < c.NumNetworks {
		c.logger.Warn("fewer ranked networks than requested",
			logging.String("family", f.Name),
			logging.Int("requested", c.NumNetworks),
			logging.Int("available", len(top)))
	}
	for _, r := range top {
		start := time.Now()
		n, err := LoadNetwork(filepath.Join(base, "models", r.Name+".json"))
		c.metrics.RecordModelLoad(ctx, f.Name, r.Name, msSince(start), err == nil)
		if err != nil {
			return nil, err
		}
		if n.Name == "" {
			n.Name = r.Name
		}
		m.Networks = append(m.Networks, n)
	}
	c.logger.Debug("networks loaded", logging.String("family", f.Name), logging.Int("networks", len(m.Networks)))
	return m, nil
}

// FamilyNames returns the loaded family names in output order.
func (c *Catalog) FamilyNames() []string {
	out := make([]string, len(c.Models))
	for i, m := range c.Models {
		out[i] = m.Family.Name
	}
	return out
}

// Summary renders the model request summary for this catalog.
func (c *Catalog) Summary(firstPoseOnly bool) string {
	return Summary(c.FamilyNames(), c.NumNetworks, firstPoseOnly)
}

// Summary renders the model request summary without loading any artifact.
func Summary(families []string, numNetworks int, firstPoseOnly bool) string {
	fams, err := Requested(families)
	if err != nil {
		fams = nil
	}
	on := make(map[string]bool, len(fams))
	for _, f := range fams {
		on[f.Name] = true
	}

	var b strings.Builder
	b.WriteString("Model Request Summary:\n\n")
	for _, f := range Families {
		answer := "No"
		if on[f.Name] {
			answer = "Yes"
		}
		fmt.Fprintf(&b, "%s: %s\n", f.Label, answer)
		if f.Kind == KindNetwork && on[f.Name] {
			fmt.Fprintf(&b, "- Using Best %d Networks\n", numNetworks)
		}
	}
	if firstPoseOnly {
		b.WriteString("\nCalculating scores for first model only in pdbqt file(s)\n")
	}
	return b.String()
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000.0
}
