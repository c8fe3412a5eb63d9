package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/turtacn/KeyIP-Scoring/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-Scoring/pkg/errors"
)

// TxBeginner is satisfied by *pgxpool.Pool and pgx.Conn.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// RunRecord is one scoring run.
type RunRecord struct {
	RunID      string
	Mode       string
	Families   []string
	WorkItems  int
	Detailed   bool
	StartedAt  time.Time
	FinishedAt time.Time
}

// ResultRow is one consensus row.  Scores holds every per-family column.
type ResultRow struct {
	Receptor       string
	Ligand         string
	Scores         map[string]float64
	ConsensusMean  float64
	ConsensusStdev float64
	ConsensusRange float64
}

var resultColumns = []string{
	"run_id", "receptor", "ligand", "scores",
	"consensus_mean", "consensus_stdev", "consensus_range",
}

const insertRun = `
INSERT INTO scoring_runs (run_id, mode, families, work_items, row_count, detailed, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// ResultRepository writes runs and their rows in one transaction.
type ResultRepository struct {
	db     TxBeginner
	logger logging.Logger
}

func NewResultRepository(db TxBeginner, log logging.Logger) *ResultRepository {
	return &ResultRepository{db: db, logger: log}
}

// SaveRun inserts run and bulk-copies rows.  Nothing is stored on error.
func (r *ResultRepository) SaveRun(ctx context.Context, run RunRecord, rows []ResultRow) error {
	var copied int64
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertRun,
			run.RunID, run.Mode, run.Families, run.WorkItems, len(rows),
			run.Detailed, run.StartedAt, run.FinishedAt); err != nil {
			return err
		}
		n, err := tx.CopyFrom(ctx, pgx.Identifier{"scoring_results"}, resultColumns, resultSource(run.RunID, rows))
		copied = n
		return err
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to store scoring results").WithDetail(run.RunID)
	}
	if copied != int64(len(rows)) {
		return errors.Newf(errors.ErrCodeDatabaseError, "stored %d of %d result rows", copied, len(rows)).WithDetail(run.RunID)
	}
	r.logger.Info("Scoring results stored", logging.RunID(run.RunID), logging.Int64("rows", copied))
	return nil
}

func resultSource(runID string, rows []ResultRow) pgx.CopyFromSource {
	return pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
		row := rows[i]
		return []any{
			runID, row.Receptor, row.Ligand, row.Scores,
			row.ConsensusMean, row.ConsensusStdev, row.ConsensusRange,
		}, nil
	})
}
