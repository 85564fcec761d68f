package model

type Result string

const (
	ResultSuccess  Result = "success"
	ResultFailure  Result = "failure"
	ResultPartial  Result = "partial"
	ResultRejected Result = "rejected"
)

// OutcomeRecord is one observation of a delegated sub-task's result.
type OutcomeRecord struct {
	ID          string  `json:"id"`
	CategoryKey string  `json:"category_key"`
	Confidence  float64 `json:"confidence"`
	Result      Result  `json:"result"`
	DurationMS  int64   `json:"duration_ms"`
	ObservedAt  string  `json:"observed_at"`
}

// OutcomeLog is a count-bounded ring of the most recent outcome records.
// Calibration statistics are always derived from Records, never persisted,
// so they cannot drift from the underlying observations.
type OutcomeLog struct {
	SchemaVersion int             `json:"schema_version"`
	FileType      string          `json:"file_type"`
	Records       []OutcomeRecord `json:"records"`
}

const FileTypeOutcomeLog = "outcome_log"

func NewOutcomeLog() OutcomeLog {
	return OutcomeLog{
		SchemaVersion: 1,
		FileType:      FileTypeOutcomeLog,
		Records:       []OutcomeRecord{},
	}
}

// CategoryStats is the rolling calibration estimate for one category key.
type CategoryStats struct {
	CategoryKey    string  `json:"category_key"`
	Samples        int     `json:"samples"`
	Successes      int     `json:"successes"`
	SuccessRate    float64 `json:"success_rate"`
	MeanDurationMS int64   `json:"mean_duration_ms"`
	MeanConfidence float64 `json:"mean_confidence"`
}
