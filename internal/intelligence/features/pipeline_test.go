package features

import (
	"context"
	stderrors "errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turtacn/KeyIP-Scoring/internal/domain/task"
	"github.com/turtacn/KeyIP-Scoring/internal/intelligence/common"
)

type blockLenExtractor struct{ failOn string }

func (blockLenExtractor) Name() string { return "blocklen" }

func (e blockLenExtractor) Extract(_ context.Context, block, _ string) (*Vector, error) {
	if e.failOn != "" && strings.Contains(block, e.failOn) {
		return nil, stderrors.New("extractor raised")
	}
	return &Vector{
		Columns: []string{"block_len", "nRot"},
		Raw:     []string{"10", "2"},
	}, nil
}

func workItems(n int) []task.WorkItem {
	items := make([]task.WorkItem, n)
	for i := range items {
		items[i] = task.WorkItem{
			ReceptorPath: "/data/rec.pdbqt",
			LigandPath:   "/data/lig.pdbqt",
			PoseID:       "_pose_" + string(rune('1'+i)),
			PoseBlock:    "POSE" + string(rune('A'+i)),
		}
	}
	return items
}

func TestPipeline_RecordsCarryIdentity(t *testing.T) {
	metrics := common.NewInMemoryScoringMetrics()
	var last atomic.Int32
	p := NewPipeline(blockLenExtractor{}, WithThreads(4), WithMetrics(metrics),
		WithProgress(func(done, total int) { last.Store(int32(total)) }))

	items := workItems(5)
	recs, err := p.Run(context.Background(), items)
	require.NoError(t, err)
	require.Len(t, recs, 5)

	names := map[string]bool{}
	for _, r := range recs {
		assert.Equal(t, "rec.pdbqt", r.ReceptorName)
		names[r.LigandName] = true
	}
	for _, it := range items {
		assert.True(t, names[it.LigandName()], it.LigandName())
	}
	assert.Equal(t, int32(5), last.Load())
	assert.Equal(t, int64(5), metrics.GetCurrentStats().TotalExtractions)
}

func TestPipeline_AnyFailureIsFatal(t *testing.T) {
	p := NewPipeline(blockLenExtractor{failOn: "POSEC"}, WithThreads(2))
	recs, err := p.Run(context.Background(), workItems(5))
	require.Error(t, err)
	assert.Nil(t, recs)
}

func TestPipeline_FeedsAssembler(t *testing.T) {
	p := NewPipeline(blockLenExtractor{}, WithThreads(2))
	items := workItems(3)
	recs, err := p.Run(context.Background(), items)
	require.NoError(t, err)

	a := NewAssembler(len(items))
	defer a.Release()
	require.NoError(t, a.AddAll(recs))
	tbl, err := a.Table()
	require.NoError(t, err)
	assert.Equal(t, 3, tbl.Rows)
	assert.Equal(t, []float64{10, 2}, tbl.Row(0))
}
