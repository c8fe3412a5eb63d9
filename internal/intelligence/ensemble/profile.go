package ensemble

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/turtacn/KeyIP-Scoring/internal/intelligence/features"
	"github.com/turtacn/KeyIP-Scoring/pkg/errors"
)

// Profile names.
const (
	ProfileSingle = "single"
	ProfileMulti  = "multi"
)

// Profile is a pre-fit input contract: the feature subset a family consumes,
// the max-abs scale of each selected feature, and the final column order.
type Profile struct {
	Name     string    `yaml:"-"`
	Features []string  `yaml:"features"`
	Scale    []float64 `yaml:"scale"`
	Order    []string  `yaml:"order"`
}

type profileFile struct {
	Profiles map[string]*Profile `yaml:"profiles"`
}

// LoadProfiles reads a profiles.yaml document of the form
//
//	profiles:
//	  multi:
//	    features: [...]
//	    scale: [...]
//	    order: [...]
func LoadProfiles(path string) (map[string]*Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeModelNotAvailable, "cannot read scaling profiles").WithDetail(path)
	}
	var doc profileFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeProfileInvalid, "malformed scaling profiles").WithDetail(path)
	}
	if len(doc.Profiles) == 0 {
		return nil, errors.New(errors.ErrCodeProfileInvalid, "no scaling profiles defined").WithDetail(path)
	}
	for name, p := range doc.Profiles {
		p.Name = name
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	return doc.Profiles, nil
}

// Validate checks the profile's internal consistency.
func (p *Profile) Validate() error {
	if len(p.Features) == 0 {
		return errors.Newf(errors.ErrCodeProfileInvalid, "profile %s selects no features", p.Name)
	}
	if len(p.Scale) != len(p.Features) {
		return errors.Newf(errors.ErrCodeProfileInvalid,
			"profile %s has %d features but %d scale factors", p.Name, len(p.Features), len(p.Scale))
	}
	if len(p.Order) != len(p.Features) {
		return errors.Newf(errors.ErrCodeProfileInvalid,
			"profile %s orders %d columns but selects %d", p.Name, len(p.Order), len(p.Features))
	}
	selected := make(map[string]bool, len(p.Features))
	for _, f := range p.Features {
		if selected[f] {
			return errors.Newf(errors.ErrCodeProfileInvalid, "profile %s selects %q twice", p.Name, f)
		}
		selected[f] = true
	}
	for _, o := range p.Order {
		if !selected[o] {
			return errors.Newf(errors.ErrCodeProfileInvalid, "profile %s orders unselected column %q", p.Name, o)
		}
	}
	return nil
}

// Apply selects the profile's features from t, divides each by its scale
// factor (a zero factor leaves the value unchanged) and lays the columns out
// in Order.  Identity columns are carried over; t is not modified.
func (p *Profile) Apply(t *features.Table) (*features.Table, error) {
	scale := make(map[string]float64, len(p.Features))
	for i, f := range p.Features {
		s := p.Scale[i]
		if s == 0 {
			s = 1
		}
		scale[f] = s
	}

	src := make([]int, len(p.Order))
	div := make([]float64, len(p.Order))
	for j, name := range p.Order {
		idx := t.ColumnIndex(name)
		if idx < 0 {
			return nil, errors.New(errors.ErrCodeSchemaMismatch,
				fmt.Sprintf("feature %q required by profile %s is missing", name, p.Name))
		}
		src[j] = idx
		div[j] = scale[name]
	}

	w := len(p.Order)
	out := &features.Table{
		Columns:   append([]string(nil), p.Order...),
		Data:      make([]float64, t.Rows*w),
		Rows:      t.Rows,
		Receptors: t.Receptors,
		Ligands:   t.Ligands,
	}
	for r := 0; r < t.Rows; r++ {
		row := t.Row(r)
		dst := out.Data[r*w : (r+1)*w]
		for j := range dst {
			dst[j] = row[src[j]] / div[j]
		}
	}
	return out, nil
}
