package scoring

import (
	"bytes"
	"context"
	"strconv"

	"github.com/turtacn/KeyIP-Scoring/internal/infrastructure/database/postgres"
	"github.com/turtacn/KeyIP-Scoring/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/KeyIP-Scoring/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-Scoring/internal/infrastructure/storage/minio"
	"github.com/turtacn/KeyIP-Scoring/internal/intelligence/consensus"
	"github.com/turtacn/KeyIP-Scoring/pkg/errors"
)

// Sink receives every successful run after the CSV has been written.
type Sink interface {
	Name() string
	Write(ctx context.Context, rc *RunContext, res *Result) error
}

// ─── object store ───

// ResultUploader is satisfied by *minio.ResultStore.
type ResultUploader interface {
	Upload(ctx context.Context, runID string, data []byte, metadata map[string]string) (*minio.UploadResult, error)
}

// ObjectSink uploads the CSV and records its key on the Result.
type ObjectSink struct{ store ResultUploader }

func NewObjectSink(store ResultUploader) *ObjectSink { return &ObjectSink{store: store} }

func (*ObjectSink) Name() string { return "object_store" }

func (s *ObjectSink) Write(ctx context.Context, rc *RunContext, res *Result) error {
	var buf bytes.Buffer
	if err := consensus.WriteCSV(&buf, res.Table); err != nil {
		return err
	}
	up, err := s.store.Upload(ctx, res.RunID, buf.Bytes(), map[string]string{
		"mode":     res.Mode.String(),
		"rows":     strconv.Itoa(res.Table.Rows),
		"detailed": strconv.FormatBool(rc.Config.Detailed),
	})
	if err != nil {
		return err
	}
	res.ResultKey = up.ObjectKey
	return nil
}

// ─── events ───

// EventPublisher is satisfied by *kafka.Producer.
type EventPublisher interface {
	Publish(ctx context.Context, msg *kafka.Message) error
	PublishBatch(ctx context.Context, msgs []*kafka.Message) (*kafka.BatchPublishResult, error)
}

// EventSink publishes one message per consensus row followed by the run summary.
type EventSink struct {
	publisher EventPublisher
	topic     string
}

func NewEventSink(p EventPublisher, topic string) *EventSink {
	if topic == "" {
		topic = kafka.DefaultTopic
	}
	return &EventSink{publisher: p, topic: topic}
}

func (*EventSink) Name() string { return "events" }

func (s *EventSink) Write(ctx context.Context, rc *RunContext, res *Result) error {
	t := res.Table
	msgs := make([]*kafka.Message, 0, t.Rows)
	for r := 0; r < t.Rows; r++ {
		msg, err := kafka.NewEventMessage(s.topic, kafka.EventRowScored, res.RunID, kafka.RowScoredPayload{
			Receptor: t.Receptors[r],
			Ligand:   t.Ligands[r],
			Scores:   rowScores(t, r),
		})
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) > 0 {
		out, err := s.publisher.PublishBatch(ctx, msgs)
		if err != nil {
			return err
		}
		if out != nil && out.Failed > 0 {
			return errors.Newf(errors.ErrCodeMessageQueueError, "%d of %d row events failed", out.Failed, len(msgs))
		}
	}

	summary, err := kafka.NewEventMessage(s.topic, kafka.EventRunCompleted, res.RunID, kafka.RunCompletedPayload{
		Mode:       res.Mode.String(),
		Families:   res.Families,
		WorkItems:  res.WorkItems,
		Rows:       t.Rows,
		DurationMs: float64(res.Duration().Milliseconds()),
		ResultKey:  res.ResultKey,
	})
	if err != nil {
		return err
	}
	if err := s.publisher.Publish(ctx, summary); err != nil {
		return err
	}
	rc.Logger.Debug("Run events published", logging.Int("rows", t.Rows), logging.String("topic", s.topic))
	return nil
}

// ─── database ───

// RunStore is satisfied by *postgres.ResultRepository.
type RunStore interface {
	SaveRun(ctx context.Context, run postgres.RunRecord, rows []postgres.ResultRow) error
}

// DatabaseSink stores the run and its rows.
type DatabaseSink struct{ store RunStore }

func NewDatabaseSink(store RunStore) *DatabaseSink { return &DatabaseSink{store: store} }

func (*DatabaseSink) Name() string { return "database" }

func (s *DatabaseSink) Write(ctx context.Context, rc *RunContext, res *Result) error {
	t := res.Table
	iMean, iStdev, iRange := t.ColumnIndex(consensus.ColMean), t.ColumnIndex(consensus.ColStdev), t.ColumnIndex(consensus.ColRange)
	rows := make([]postgres.ResultRow, t.Rows)
	for r := range rows {
		vals := t.Row(r)
		rows[r] = postgres.ResultRow{
			Receptor:       t.Receptors[r],
			Ligand:         t.Ligands[r],
			Scores:         rowScores(t, r),
			ConsensusMean:  vals[iMean],
			ConsensusStdev: vals[iStdev],
			ConsensusRange: vals[iRange],
		}
	}
	return s.store.SaveRun(ctx, postgres.RunRecord{
		RunID:      res.RunID,
		Mode:       res.Mode.String(),
		Families:   res.Families,
		WorkItems:  res.WorkItems,
		Detailed:   rc.Config.Detailed,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}, rows)
}

// rowScores returns the model columns of row r, consensus statistics excluded.
func rowScores(t *consensus.Table, r int) map[string]float64 {
	vals := t.Row(r)
	out := make(map[string]float64, len(t.Columns))
	for j, c := range t.Columns {
		switch c {
		case consensus.ColMean, consensus.ColStdev, consensus.ColRange:
			continue
		}
		out[c] = vals[j]
	}
	return out
}
