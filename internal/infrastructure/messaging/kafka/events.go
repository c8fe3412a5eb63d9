package kafka

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/KeyIP-Scoring/pkg/errors"
)

// Event types.
const (
	EventRunCompleted = "scoring.run.completed"
	EventRowScored    = "scoring.row.scored"
)

// DefaultTopic carries every scoring event unless configured otherwise.
const DefaultTopic = "scoring.results"

const schemaVersion = "1"

// EventEnvelope standardizes event messages.
type EventEnvelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	SchemaVersion string          `json:"schema_version"`
	RunID         string          `json:"run_id"`
	Payload       json.RawMessage `json:"payload"`
}

// RunCompletedPayload summarizes a finished run.
type RunCompletedPayload struct {
	Mode       string   `json:"mode"`
	Families   []string `json:"families"`
	WorkItems  int      `json:"work_items"`
	Rows       int      `json:"rows"`
	DurationMs float64  `json:"duration_ms"`
	ResultKey  string   `json:"result_key,omitempty"`
}

// RowScoredPayload is one consensus row.
type RowScoredPayload struct {
	Receptor string             `json:"receptor"`
	Ligand   string             `json:"ligand"`
	Scores   map[string]float64 `json:"scores"`
}

// NewEventMessage wraps payload in an envelope addressed to topic.  Messages
// of one run share the run id as key so they land on one partition in order.
func NewEventMessage(topic, eventType, runID string, payload interface{}) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "cannot encode event payload").WithDetail(eventType)
	}
	now := time.Now().UTC()
	env := EventEnvelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		Source:        "keyscore",
		Timestamp:     now,
		SchemaVersion: schemaVersion,
		RunID:         runID,
		Payload:       raw,
	}
	value, err := json.Marshal(env)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "cannot encode event envelope").WithDetail(eventType)
	}
	return &Message{
		Topic:     topic,
		Key:       []byte(runID),
		Value:     value,
		Headers:   map[string]string{"event_type": eventType},
		Timestamp: now,
	}, nil
}
