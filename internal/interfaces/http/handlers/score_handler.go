package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/turtacn/KeyIP-Scoring/internal/application/scoring"
	"github.com/turtacn/KeyIP-Scoring/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyIP-Scoring/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/KeyIP-Scoring/internal/intelligence/consensus"
	"github.com/turtacn/KeyIP-Scoring/pkg/errors"
)

// Scorer runs one scoring request.  *scoring.Service satisfies it.
type Scorer interface {
	Run(ctx context.Context, cfg scoring.RunConfig) (*scoring.Result, error)
}

// ScoreRequest is the body of POST /api/v1/score.  Paths are resolved on
// the server's filesystem.  Omitted fields take the server defaults.
type ScoreRequest struct {
	Receptor    string   `json:"receptor"`
	Ligand      string   `json:"ligand"`
	RefLigand   string   `json:"ref_ligand,omitempty"`
	FirstPose   *bool    `json:"pose_1,omitempty"`
	Detailed    *bool    `json:"detailed,omitempty"`
	Families    []string `json:"families,omitempty"`
	Profile     string   `json:"profile,omitempty"`
	NumNetworks int      `json:"num_networks,omitempty"`
	Threads     int      `json:"threads,omitempty"`
	Filter      string   `json:"filter,omitempty"`
}

// ScoreResponse is returned when the client accepts JSON.
type ScoreResponse struct {
	RunID      string                   `json:"run_id"`
	Mode       string                   `json:"mode"`
	Families   []string                 `json:"families"`
	WorkItems  int                      `json:"work_items"`
	Columns    []string                 `json:"columns"`
	Rows       []map[string]interface{} `json:"rows"`
	ResultKey  string                   `json:"result_key,omitempty"`
	DurationMS int64                    `json:"duration_ms"`
	SinkError  *ErrorResponse           `json:"sink_error,omitempty"`
}

// Response headers.
const (
	HeaderRunID     = "X-Run-ID"
	HeaderSinkError = "X-Sink-Error"
)

type ScoreHandler struct {
	scorer      Scorer
	defaults    scoring.RunConfig
	maxBodySize int64
	metrics     *prometheus.ServerMetrics
	logger      logging.Logger
}

// ScoreOption customises a ScoreHandler.
type ScoreOption func(*ScoreHandler)

// WithDefaults sets the values used for fields the request leaves empty.
func WithDefaults(cfg scoring.RunConfig) ScoreOption {
	return func(h *ScoreHandler) { h.defaults = cfg }
}

func WithMaxBodySize(n int64) ScoreOption {
	return func(h *ScoreHandler) { h.maxBodySize = n }
}

func WithServerMetrics(m *prometheus.ServerMetrics) ScoreOption {
	return func(h *ScoreHandler) { h.metrics = m }
}

func NewScoreHandler(scorer Scorer, logger logging.Logger, opts ...ScoreOption) *ScoreHandler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	h := &ScoreHandler{scorer: scorer, maxBodySize: 1 << 20, logger: logger}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Score runs a scoring request synchronously and answers with the
// consensus table, as CSV unless the client asks for JSON.
func (h *ScoreHandler) Score(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	var req ScoreRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.recordError(errors.ErrCodeBadRequest)
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{
				Code:    errors.ErrCodeBadRequest.String(),
				Message: "request body too large",
			})
			return
		}
		h.fail(w, errors.Wrap(err, errors.ErrCodeBadRequest, "invalid request body"))
		return
	}

	log := h.logger.With(logging.String("request_id", middleware.GetReqID(r.Context())))
	res, err := h.scorer.Run(r.Context(), h.runConfig(req))
	if err != nil && res == nil {
		h.fail(w, err)
		return
	}

	var sinkErr *ErrorResponse
	if err != nil {
		// The table is complete; only delivery to a sink failed.
		code := errors.GetCode(err)
		log.Warn("result sink failed", logging.RunID(res.RunID), logging.Err(err))
		h.recordError(code)
		sinkErr = &ErrorResponse{Code: code.String(), Message: err.Error()}
		w.Header().Set(HeaderSinkError, code.String())
	}
	w.Header().Set(HeaderRunID, res.RunID)

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, ScoreResponse{
			RunID:      res.RunID,
			Mode:       res.Mode.String(),
			Families:   res.Families,
			WorkItems:  res.WorkItems,
			Columns:    res.Table.Header(),
			Rows:       consensus.Records(res.Table),
			ResultKey:  res.ResultKey,
			DurationMS: res.Duration().Milliseconds(),
			SinkError:  sinkErr,
		})
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.WriteHeader(http.StatusOK)
	if err := consensus.WriteCSV(w, res.Table); err != nil {
		log.Error("write csv response", logging.RunID(res.RunID), logging.Err(err))
	}
}

func (h *ScoreHandler) runConfig(req ScoreRequest) scoring.RunConfig {
	cfg := h.defaults
	cfg.Receptor = req.Receptor
	cfg.Ligand = req.Ligand
	cfg.RefLigand = req.RefLigand
	cfg.Filter = req.Filter
	cfg.Out = ""
	if req.FirstPose != nil {
		cfg.FirstPoseOnly = *req.FirstPose
	}
	if req.Detailed != nil {
		cfg.Detailed = *req.Detailed
	}
	if len(req.Families) > 0 {
		cfg.Families = req.Families
	}
	if req.Profile != "" {
		cfg.Profile = req.Profile
	}
	if req.NumNetworks > 0 {
		cfg.NumNetworks = req.NumNetworks
	}
	if req.Threads > 0 {
		cfg.Threads = req.Threads
	}
	return cfg
}

func (h *ScoreHandler) fail(w http.ResponseWriter, err error) {
	h.recordError(errors.GetCode(err))
	writeAppError(w, err)
}

func (h *ScoreHandler) recordError(code errors.ErrorCode) {
	if h.metrics != nil {
		prometheus.RecordError(h.metrics, "score", code.String())
	}
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
