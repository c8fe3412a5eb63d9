package ensemble

import (
	"context"
	"fmt"
	"time"

	"github.com/turtacn/KeyIP-Scoring/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-Scoring/internal/intelligence/common"
	"github.com/turtacn/KeyIP-Scoring/internal/intelligence/features"
	"github.com/turtacn/KeyIP-Scoring/pkg/errors"
)

// BestAverageSuffix names the per-row mean of a network family's submodels.
const BestAverageSuffix = "_best_average"

// PredictionTable holds one family's scores.  Data is row-major with
// len(Columns) values per row; identity slices are shared with the feature table.
type PredictionTable struct {
	Family    Family
	Columns   []string
	Data      []float64
	Rows      int
	Receptors []string
	Ligands   []string
}

// Representative is the column that enters the consensus.
func (p *PredictionTable) Representative() string {
	if p.Family.Kind == KindTree {
		return p.Family.Name
	}
	return p.Family.Name + BestAverageSuffix
}

// Column copies out the named column, or returns nil if absent.
func (p *PredictionTable) Column(name string) []float64 {
	w := len(p.Columns)
	for j, c := range p.Columns {
		if c != name {
			continue
		}
		out := make([]float64, p.Rows)
		for r := range out {
			out[r] = p.Data[r*w+j]
		}
		return out
	}
	return nil
}

// Score transforms t with the catalog's profile and runs every loaded family
// over the result.  Tables are returned in family order.
func (c *Catalog) Score(ctx context.Context, t *features.Table) ([]*PredictionTable, error) {
	scaled, err := c.Profile.Apply(t)
	if err != nil {
		return nil, err
	}
	out := make([]*PredictionTable, 0, len(c.Models))
	for _, m := range c.Models {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var pt *PredictionTable
		if m.Family.Kind == KindTree {
			pt, err = c.scoreTree(ctx, m, scaled)
		} else {
			pt, err = c.scoreNetworks(ctx, m, scaled)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, pt)
	}
	return out, nil
}

func (c *Catalog) scoreTree(ctx context.Context, m *Model, t *features.Table) (*PredictionTable, error) {
	start := time.Now()
	pred, err := m.Booster.Predict(t)
	c.recordInference(ctx, m.Family.Name, "booster", t.Rows, start, err)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInferenceFailed, "tree ensemble prediction failed").WithDetail(m.Family.Name)
	}
	return &PredictionTable{
		Family:    m.Family,
		Columns:   []string{m.Family.Name},
		Data:      pred,
		Rows:      t.Rows,
		Receptors: t.Receptors,
		Ligands:   t.Ligands,
	}, nil
}

// scoreNetworks runs each ranked network in turn and appends the best-average column.
func (c *Catalog) scoreNetworks(ctx context.Context, m *Model, t *features.Table) (*PredictionTable, error) {
	n := len(m.Networks)
	w := n + 1
	pt := &PredictionTable{
		Family:    m.Family,
		Columns:   make([]string, 0, w),
		Data:      make([]float64, t.Rows*w),
		Rows:      t.Rows,
		Receptors: t.Receptors,
		Ligands:   t.Ligands,
	}
	for i, net := range m.Networks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		pred, err := net.Predict(t)
		c.recordInference(ctx, m.Family.Name, net.Name, t.Rows, start, err)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInferenceFailed, "network prediction failed").
				WithDetail(fmt.Sprintf("%s/%s", m.Family.Name, net.Name))
		}
		pt.Columns = append(pt.Columns, fmt.Sprintf("%s_%d", m.Family.Name, i+1))
		for r, v := range pred {
			pt.Data[r*w+i] = v
		}
		c.logger.Debug("network scored",
			logging.String("family", m.Family.Name),
			logging.Int("rank", i+1),
			logging.String("network", net.Name))
	}
	pt.Columns = append(pt.Columns, m.Family.Name+BestAverageSuffix)
	for r := 0; r < t.Rows; r++ {
		row := pt.Data[r*w : (r+1)*w]
		var sum float64
		for _, v := range row[:n] {
			sum += v
		}
		row[n] = sum / float64(n)
	}
	return pt, nil
}

func (c *Catalog) recordInference(ctx context.Context, family, submodel string, rows int, start time.Time, err error) {
	c.metrics.RecordInference(ctx, &common.InferenceMetricParams{
		ModelName:  family,
		Submodel:   submodel,
		Rows:       rows,
		DurationMs: msSince(start),
		Success:    err == nil,
	})
}
