package scoring

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/KeyIP-Scoring/internal/domain/task"
	"github.com/turtacn/KeyIP-Scoring/internal/infrastructure/database/postgres"
	"github.com/turtacn/KeyIP-Scoring/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/KeyIP-Scoring/internal/infrastructure/storage/minio"
	"github.com/turtacn/KeyIP-Scoring/internal/intelligence/common"
	"github.com/turtacn/KeyIP-Scoring/internal/intelligence/consensus"
	"github.com/turtacn/KeyIP-Scoring/internal/intelligence/features"
	"github.com/turtacn/KeyIP-Scoring/internal/testutil"
	"github.com/turtacn/KeyIP-Scoring/pkg/errors"
)

// ─── fixtures ───

const ligandRecord = `MODEL 1
REMARK POSE1
ATOM      1  C   LIG     1
ATOM      2  O   LIG     1
ENDMDL
MODEL 2
REMARK POSE2
ATOM      1  C   LIG     1
ATOM      2  O   LIG     1
ENDMDL
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func writeModels(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "profiles.yaml"), `
profiles:
  multi:
    features: [b, a]
    scale: [2, 0]
    order: [a, b]
  single:
    features: [a]
    scale: [1]
    order: [a]
`)
	writeFile(t, filepath.Join(dir, "xgbscore", "booster.json"), `{
  "base_score": 0.5,
  "trees": [
    {"nodeid": 0, "split": "a", "split_condition": 1.0, "yes": 1, "no": 2, "missing": 1,
     "children": [{"nodeid": 1, "leaf": 1.0}, {"nodeid": 2, "leaf": 2.0}]},
    {"nodeid": 0, "leaf": 0.25}
  ]
}`)
	for _, fam := range []string{"mlpscore_multi", "wdscore_multi"} {
		writeFile(t, filepath.Join(dir, fam, "rankings.yaml"), "networks:\n  - {score: 0.9, name: sum}\n  - {score: 0.8, name: deep}\n")
		writeFile(t, filepath.Join(dir, fam, "models", "sum.json"),
			`{"layers": [{"weights": [[1, 1]], "bias": [0], "activation": "relu"}]}`)
		writeFile(t, filepath.Join(dir, fam, "models", "deep.json"), `{"layers": [
  {"weights": [[1, 0], [0, 1]], "bias": [0, 0], "activation": "relu"},
  {"weights": [[2, -1]], "bias": [1], "activation": "linear"}
]}`)
	}
	return dir
}

// fakeExtractor maps the pose marker in the block to a fixed descriptor row.
type fakeExtractor struct {
	calls atomic.Int32
	fail  bool
}

func (*fakeExtractor) Name() string { return "fake" }

func (e *fakeExtractor) Extract(_ context.Context, block, _ string) (*features.Vector, error) {
	e.calls.Add(1)
	if e.fail {
		return nil, errors.New(errors.ErrCodeExtractionFailed, "extractor crashed")
	}
	raw := []string{" 2 ", "3", "-2"}
	if strings.Contains(block, "POSE1") {
		raw = []string{"4", "0.5", "4"}
	}
	return &features.Vector{Columns: []string{"nRot", "a", "b"}, Raw: raw}, nil
}

type fixture struct {
	receptor string
	ligand   string
	models   string
	dir      string
}

func newFixture(t *testing.T) fixture {
	dir := t.TempDir()
	f := fixture{
		receptor: filepath.Join(dir, "rec.pdbqt"),
		ligand:   filepath.Join(dir, "lig.pdbqt"),
		models:   writeModels(t),
		dir:      dir,
	}
	writeFile(t, f.receptor, "ATOM      1  N   ALA A   1\n")
	writeFile(t, f.ligand, ligandRecord)
	return f
}

func newTestService(f fixture, ext features.Extractor, opts ...Option) *Service {
	s := NewService(ext, f.models, opts...)
	s.newID = func() string { return "run-1" }
	return s
}

// ─── mocks ───

type mockUploader struct{ mock.Mock }

func (m *mockUploader) Upload(ctx context.Context, runID string, data []byte, md map[string]string) (*minio.UploadResult, error) {
	args := m.Called(ctx, runID, data, md)
	if r := args.Get(0); r != nil {
		return r.(*minio.UploadResult), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) Publish(ctx context.Context, msg *kafka.Message) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *mockPublisher) PublishBatch(ctx context.Context, msgs []*kafka.Message) (*kafka.BatchPublishResult, error) {
	args := m.Called(ctx, msgs)
	if r := args.Get(0); r != nil {
		return r.(*kafka.BatchPublishResult), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockRunStore struct{ mock.Mock }

func (m *mockRunStore) SaveRun(ctx context.Context, run postgres.RunRecord, rows []postgres.ResultRow) error {
	return m.Called(ctx, run, rows).Error(0)
}

type fakeDocker struct {
	out   []string
	runID string
}

func (d *fakeDocker) Run(_ context.Context, runID, _, _, refLigand string) ([]string, error) {
	d.runID = runID
	if refLigand == "" {
		return nil, errors.New(errors.ErrCodeReferenceLigand, "no reference ligand")
	}
	return d.out, nil
}

type fakeSyncer struct{ prefix, dir string }

func (s *fakeSyncer) Sync(_ context.Context, prefix, dir string) (*minio.SyncResult, error) {
	s.prefix, s.dir = prefix, dir
	return &minio.SyncResult{Skipped: 4}, nil
}

// ─── tests ───

func TestRun_SingleLigandToStdout(t *testing.T) {
	f := newFixture(t)
	var out bytes.Buffer
	m := common.NewInMemoryScoringMetrics()
	s := newTestService(f, &fakeExtractor{}, WithStdout(&out), WithMetrics(m))

	res, err := s.Run(context.Background(), RunConfig{Receptor: f.receptor, Ligand: f.ligand, Threads: 2, NumNetworks: 2})
	require.NoError(t, err)
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, task.ModeSingle, res.Mode)
	assert.Equal(t, 2, res.WorkItems)
	assert.Equal(t, []string{"xgbscore_multi", "mlpscore_multi", "wdscore_multi"}, res.Families)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Receptor,Ligand,xgbscore_multi,mlpscore_multi_best_average,wdscore_multi_best_average,"+
		"consensus_mean,consensus_stdev,consensus_range", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "rec.pdbqt,lig_pose_1,1.75,1.25,1.25,"), lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "rec.pdbqt,lig_pose_2,2.75,4.5,4.5,"), lines[2])

	row := res.Table.Row(1)
	assert.InDelta(t, 11.75/3, row[res.Table.ColumnIndex(consensus.ColMean)], 1e-9)
	assert.InDelta(t, 1.75, row[res.Table.ColumnIndex(consensus.ColRange)], 1e-9)

	runs := m.Runs()
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Success)
	assert.Equal(t, "single", runs[0].Mode)
	assert.Equal(t, 2, runs[0].Rows)
}

func TestRun_FirstPoseDetailedToFile(t *testing.T) {
	f := newFixture(t)
	var stdout bytes.Buffer
	s := newTestService(f, &fakeExtractor{}, WithStdout(&stdout))
	outPath := filepath.Join(f.dir, "out.csv")

	res, err := s.Run(context.Background(), RunConfig{
		Receptor: f.receptor, Ligand: f.ligand, NumNetworks: 2,
		FirstPoseOnly: true, Detailed: true, Out: outPath,
		Families: []string{"mlpscore_multi"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Table.Rows)
	assert.Empty(t, stdout.String())

	raw, err := os.ReadFile(outPath)
	require.NoError(t, err)
	header := strings.SplitN(string(raw), "\n", 2)[0]
	assert.Equal(t, "Receptor,Ligand,mlpscore_multi_1,mlpscore_multi_2,mlpscore_multi_best_average,"+
		"consensus_mean,consensus_stdev,consensus_range", header)
}

func TestRun_Filter(t *testing.T) {
	f := newFixture(t)
	s := newTestService(f, &fakeExtractor{})

	res, err := s.Run(context.Background(), RunConfig{
		Receptor: f.receptor, Ligand: f.ligand, NumNetworks: 2,
		Filter: "row.consensus_mean > 2.0",
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Table.Rows)
	assert.Equal(t, "lig_pose_2", res.Table.Ligands[0])

	_, err = s.Run(context.Background(), RunConfig{Receptor: f.receptor, Ligand: f.ligand, Filter: "row.("})
	assert.True(t, errors.IsCode(err, errors.ErrCodeFilterInvalid))
}

func TestRun_ValidationHappensBeforeExtraction(t *testing.T) {
	f := newFixture(t)
	ext := &fakeExtractor{}
	s := newTestService(f, ext)

	_, err := s.Run(context.Background(), RunConfig{Ligand: f.ligand})
	assert.True(t, errors.IsCode(err, errors.ErrCodeMissingArgument))

	_, err = s.Run(context.Background(), RunConfig{Receptor: f.receptor, Ligand: f.ligand, Families: []string{"rfscore"}})
	assert.True(t, errors.IsCode(err, errors.ErrCodeFamilyUnsupported))

	_, err = s.Run(context.Background(), RunConfig{Receptor: f.receptor, Ligand: f.ligand, NumNetworks: -1})
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))

	_, err = s.Run(context.Background(), RunConfig{Receptor: f.receptor, Ligand: f.ligand, Profile: "triple"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeProfileInvalid))

	assert.Zero(t, ext.calls.Load())
}

func TestRun_ExtractionFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	var out bytes.Buffer
	m := common.NewInMemoryScoringMetrics()
	s := newTestService(f, &fakeExtractor{fail: true}, WithStdout(&out), WithMetrics(m))

	res, err := s.Run(context.Background(), RunConfig{Receptor: f.receptor, Ligand: f.ligand})
	assert.Nil(t, res)
	assert.True(t, errors.IsCode(err, errors.ErrCodeExtractionFailed))
	assert.Empty(t, out.String())
	require.Len(t, m.Runs(), 1)
	assert.False(t, m.Runs()[0].Success)
}

func TestRun_DockMode(t *testing.T) {
	f := newFixture(t)
	smi := filepath.Join(f.dir, "lib.smi")
	writeFile(t, smi, "CCO ethanol\n")
	docked := filepath.Join(f.dir, "docked", "ethanol.pdbqt")
	writeFile(t, docked, ligandRecord)

	s := newTestService(f, &fakeExtractor{})
	_, err := s.Run(context.Background(), RunConfig{Receptor: f.receptor, Ligand: smi, RefLigand: f.ligand})
	assert.True(t, errors.IsCode(err, errors.ErrCodeServiceUnavailable))

	dk := &fakeDocker{out: []string{docked}}
	s = newTestService(f, &fakeExtractor{}, WithDocker(dk))
	_, err = s.Run(context.Background(), RunConfig{Receptor: f.receptor, Ligand: smi})
	assert.True(t, errors.IsCode(err, errors.ErrCodeReferenceLigand))

	res, err := s.Run(context.Background(), RunConfig{Receptor: f.receptor, Ligand: smi, RefLigand: f.ligand, NumNetworks: 2})
	require.NoError(t, err)
	assert.Equal(t, task.ModeDock, res.Mode)
	assert.Equal(t, res.RunID, dk.runID)
	assert.Equal(t, []string{"ethanol_pose_1", "ethanol_pose_2"}, res.Table.Ligands)
}

func TestRun_SinksReceiveResult(t *testing.T) {
	f := newFixture(t)
	up := &mockUploader{}
	pub := &mockPublisher{}
	store := &mockRunStore{}

	up.On("Upload", mock.Anything, "run-1", mock.MatchedBy(func(b []byte) bool {
		return strings.HasPrefix(string(b), "Receptor,Ligand,")
	}), mock.Anything).Return(&minio.UploadResult{ObjectKey: "results/run-1.csv"}, nil)
	pub.On("PublishBatch", mock.Anything, mock.MatchedBy(func(msgs []*kafka.Message) bool {
		return len(msgs) == 2 && string(msgs[0].Key) == "run-1" && msgs[0].Headers["event_type"] == kafka.EventRowScored
	})).Return(&kafka.BatchPublishResult{Succeeded: 2}, nil)
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(msg *kafka.Message) bool {
		return msg.Headers["event_type"] == kafka.EventRunCompleted &&
			strings.Contains(string(msg.Value), `"result_key":"results/run-1.csv"`)
	})).Return(nil)
	store.On("SaveRun", mock.Anything, mock.MatchedBy(func(r postgres.RunRecord) bool {
		return r.RunID == "run-1" && r.Mode == "single" && r.WorkItems == 2
	}), mock.MatchedBy(func(rows []postgres.ResultRow) bool {
		return len(rows) == 2 && rows[1].Scores["xgbscore_multi"] == 2.75 &&
			len(rows[1].Scores) == 3 && rows[1].ConsensusRange == 1.75
	})).Return(nil)

	s := newTestService(f, &fakeExtractor{}, WithSinks(NewObjectSink(up), NewEventSink(pub, "scores"), NewDatabaseSink(store)))
	res, err := s.Run(context.Background(), RunConfig{Receptor: f.receptor, Ligand: f.ligand, NumNetworks: 2})
	require.NoError(t, err)
	assert.Equal(t, "results/run-1.csv", res.ResultKey)
	up.AssertExpectations(t)
	pub.AssertExpectations(t)
	store.AssertExpectations(t)
}

func TestRun_SinkFailureReturnsResult(t *testing.T) {
	f := newFixture(t)
	var out bytes.Buffer
	store := &mockRunStore{}
	store.On("SaveRun", mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New(errors.ErrCodeDatabaseError, "connection refused"))
	pub := &mockPublisher{}
	pub.On("PublishBatch", mock.Anything, mock.Anything).Return(&kafka.BatchPublishResult{Succeeded: 1, Failed: 1}, nil)

	s := newTestService(f, &fakeExtractor{}, WithStdout(&out), WithSinks(NewDatabaseSink(store), NewEventSink(pub, "")))
	res, err := s.Run(context.Background(), RunConfig{Receptor: f.receptor, Ligand: f.ligand, NumNetworks: 2})
	require.NotNil(t, res)
	assert.True(t, errors.IsCode(err, errors.ErrCodeSinkWriteFailed))
	assert.NotEmpty(t, out.String())
	pub.AssertCalled(t, "PublishBatch", mock.Anything, mock.Anything)
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestModels_SyncsArtifacts(t *testing.T) {
	f := newFixture(t)
	sync := &fakeSyncer{}
	s := newTestService(f, &fakeExtractor{}, WithArtifacts(sync, "models/v3"))

	c, err := s.Models(context.Background(), RunConfig{NumNetworks: 1, Families: []string{"wdscore_multi"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"wdscore_multi"}, c.FamilyNames())
	assert.Equal(t, "models/v3", sync.prefix)
	assert.Equal(t, f.models, sync.dir)
}

func TestRunContext_Elapsed(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := now
	rc := &RunContext{Started: now, Clock: func() time.Time { return tick }}
	tick = now.Add(3 * time.Second)
	assert.Equal(t, 3*time.Second, rc.Elapsed())
}

func TestRun_LogsSummaryAndProgress(t *testing.T) {
	f := newFixture(t)
	log := testutil.NewMockLogger()
	m := common.NewInMemoryScoringMetrics()
	s := newTestService(f, &fakeExtractor{}, WithLogger(log), WithMetrics(m))

	_, err := s.Run(context.Background(), RunConfig{Receptor: f.receptor, Ligand: f.ligand, NumNetworks: 2})
	require.NoError(t, err)

	done := log.Find("info", "Scoring run completed")
	require.Len(t, done, 1)
	assert.Equal(t, "run-1", done[0].Field("run_id"))
	assert.Equal(t, 2, done[0].Field("rows"))
	assert.Equal(t, int64(2), done[0].Field("total_extractions"))
	assert.Equal(t, int64(1), done[0].Field("completed_runs"))

	progress := log.Find("info", "Feature extraction progress")
	require.NotEmpty(t, progress)
	last := progress[len(progress)-1]
	assert.Equal(t, last.Field("total"), last.Field("done"))
}
