package ensemble

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/turtacn/KeyIP-Scoring/pkg/errors"
)

// Ranking is one entry of a network family's rankings.yaml, best first.
type Ranking struct {
	Score float64 `yaml:"score"`
	Name  string  `yaml:"name"`
}

type rankingsFile struct {
	Networks []Ranking `yaml:"networks"`
}

// LoadRankings reads the ordered submodel list of a network family.
func LoadRankings(path string) ([]Ranking, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeModelNotAvailable, "cannot read network rankings").WithDetail(path)
	}
	var doc rankingsFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeModelLoadFailed, "malformed network rankings").WithDetail(path)
	}
	for i, r := range doc.Networks {
		if r.Name == "" {
			return nil, errors.Newf(errors.ErrCodeModelLoadFailed, "ranking %d has no network name", i+1).WithDetail(path)
		}
	}
	if len(doc.Networks) == 0 {
		return nil, errors.New(errors.ErrCodeModelNotAvailable, "no ranked networks").WithDetail(path)
	}
	return doc.Networks, nil
}

// Top returns the first n rankings, or all of them when fewer exist.
func Top(rankings []Ranking, n int) []Ranking {
	if n > len(rankings) {
		n = len(rankings)
	}
	return rankings[:n]
}
