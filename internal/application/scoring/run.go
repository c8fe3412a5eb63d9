// Package scoring is the application service behind the keyscore CLI and the
// scoring HTTP front end.  It drives one run end to end: input resolution,
// optional docking, parallel feature extraction, model scoring, consensus
// and the configured result sinks.
package scoring

import (
	"time"

	"github.com/turtacn/KeyIP-Scoring/internal/domain/task"
	"github.com/turtacn/KeyIP-Scoring/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-Scoring/internal/intelligence/common"
	"github.com/turtacn/KeyIP-Scoring/internal/intelligence/consensus"
	"github.com/turtacn/KeyIP-Scoring/internal/intelligence/ensemble"
	"github.com/turtacn/KeyIP-Scoring/pkg/errors"
)

// RunConfig is the typed request for one run.
type RunConfig struct {
	Receptor  string
	Ligand    string
	RefLigand string

	Threads       int
	NumNetworks   int
	Families      []string
	Profile       string
	FirstPoseOnly bool
	Detailed      bool
	Filter        string

	// Out names the CSV file.  Empty writes to the service's stdout, if any.
	Out string
}

func (c *RunConfig) applyDefaults() {
	if c.Threads < 1 {
		c.Threads = 1
	}
	if c.NumNetworks == 0 {
		c.NumNetworks = ensemble.DefaultNumNetworks
	}
	if c.Profile == "" {
		c.Profile = ensemble.ProfileMulti
	}
}

// Validate rejects configurations that would fail only after the expensive
// stages.
func (c *RunConfig) Validate() error {
	if c.Receptor == "" {
		return errors.MissingArgument("--receptor")
	}
	if c.Ligand == "" {
		return errors.MissingArgument("--ligand")
	}
	if c.NumNetworks < 1 {
		return errors.Newf(errors.ErrCodeValidation, "num-networks must be at least 1, got %d", c.NumNetworks)
	}
	if c.Profile != ensemble.ProfileMulti && c.Profile != ensemble.ProfileSingle {
		return errors.Newf(errors.ErrCodeProfileInvalid, "unknown feature profile %q", c.Profile)
	}
	if _, err := ensemble.Requested(c.Families); err != nil {
		return err
	}
	return nil
}

// RunContext is handed to every stage of a run.
type RunContext struct {
	ID      string
	Config  RunConfig
	Logger  logging.Logger
	Metrics common.ScoringMetrics
	Clock   func() time.Time
	Started time.Time
}

// Elapsed is the time since the run started.
func (rc *RunContext) Elapsed() time.Duration { return rc.Clock().Sub(rc.Started) }

// Result is a finished run.
type Result struct {
	RunID      string
	Mode       task.Mode
	Families   []string
	WorkItems  int
	Table      *consensus.Table
	StartedAt  time.Time
	FinishedAt time.Time

	// ResultKey is the object key of the uploaded CSV, set by the object sink.
	ResultKey string
}

// Duration of the run.
func (r *Result) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }
