package domain

import (
	"time"
)

// Core Enums and Types

// CaseStatus represents the lifecycle state of an adverse-event case
type CaseStatus string

const (
	StatusReady        CaseStatus = "ready"
	StatusExtracting   CaseStatus = "extracting"
	StatusAnalyzing    CaseStatus = "analyzing"
	StatusRecommending CaseStatus = "recommending"
	StatusComplete     CaseStatus = "complete"
	StatusFailed       CaseStatus = "failed"
)

// Stage identifies one of the three ordered assessment layers
type Stage string

const (
	StageFoundation Stage = "foundation"
	StageStrategic  Stage = "strategic"
	StageSynthesis  Stage = "synthesis"
)

// Stages lists the fixed stage order: foundation < strategic < synthesis.
var Stages = []Stage{StageFoundation, StageStrategic, StageSynthesis}

// RunningStatus returns the in-progress status the orchestrator holds while a
// stage executes.
func RunningStatus(stage Stage) CaseStatus {
	switch stage {
	case StageFoundation:
		return StatusExtracting
	case StageStrategic:
		return StatusAnalyzing
	case StageSynthesis:
		return StatusRecommending
	}
	return StatusFailed
}

// CommittedStatus returns the status a case advances to once a stage's layer
// is committed.
func CommittedStatus(stage Stage) CaseStatus {
	switch stage {
	case StageFoundation:
		return StatusAnalyzing
	case StageStrategic:
		return StatusRecommending
	case StageSynthesis:
		return StatusComplete
	}
	return StatusFailed
}

// StageForStatus maps an in-progress status back to the stage it runs.
func StageForStatus(status CaseStatus) (Stage, bool) {
	switch status {
	case StatusExtracting:
		return StageFoundation, true
	case StatusAnalyzing:
		return StageStrategic, true
	case StatusRecommending:
		return StageSynthesis, true
	}
	return "", false
}

// EarlierStages returns the stages strictly before the given stage in the
// fixed order.
func EarlierStages(stage Stage) []Stage {
	earlier := make([]Stage, 0, 2)
	for _, s := range Stages {
		if s == stage {
			break
		}
		earlier = append(earlier, s)
	}
	return earlier
}

// InProgress reports whether the status marks a stage currently executing.
func (s CaseStatus) InProgress() bool {
	_, ok := StageForStatus(s)
	return ok
}

// Core Data Models

// ReportSource holds the raw adverse-event report as uploaded. It survives
// resets; everything derived from it does not.
type ReportSource struct {
	Text       string `json:"text"`
	ReportDate string `json:"report_date,omitempty"`
	Reporter   string `json:"reporter,omitempty"`
	SourceFile string `json:"source_file,omitempty"`
}

// Case is one adverse-event report and its full processing record, persisted
// as a single document keyed by case ID.
type Case struct {
	ID                    string          `json:"case_id"`
	PatientID             string          `json:"patient_id,omitempty"`
	Report                ReportSource    `json:"report"`
	Status                CaseStatus      `json:"status"`
	StatusError           string          `json:"status_error,omitempty"`
	Foundation            Layer           `json:"foundation"`
	Strategic             Layer           `json:"strategic"`
	Synthesis             Layer           `json:"synthesis"`
	Handoffs              []HandoffRecord `json:"handoffs"`
	Actions               []ActionRecord  `json:"actions"`
	TotalProcessingTimeMS int64           `json:"total_processing_time_ms"`
	OverBudget            bool            `json:"over_budget"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// LayerFor returns a pointer to the named layer of the case.
func (c *Case) LayerFor(stage Stage) *Layer {
	switch stage {
	case StageFoundation:
		return &c.Foundation
	case StageStrategic:
		return &c.Strategic
	case StageSynthesis:
		return &c.Synthesis
	}
	return nil
}

// FindItem locates an item by ID across all layers, returning the item and
// the stage that owns it.
func (c *Case) FindItem(itemID string) (*LayerItem, Stage, bool) {
	for _, stage := range Stages {
		layer := c.LayerFor(stage)
		for i := range layer.Items {
			if layer.Items[i].ID == itemID {
				return &layer.Items[i], stage, true
			}
		}
	}
	return nil, "", false
}

// NextStage returns the first stage whose layer has not been committed yet.
// The second return is false when all layers are complete.
func (c *Case) NextStage() (Stage, bool) {
	for _, stage := range Stages {
		if !c.LayerFor(stage).Complete {
			return stage, true
		}
	}
	return "", false
}

// Layer is one append-once section of a case document. Once Complete is set
// the layer is immutable; only a reset clears it.
type Layer struct {
	Complete    bool        `json:"complete"`
	ProcessedAt *time.Time  `json:"processed_at,omitempty"`
	Items       []LayerItem `json:"items"`
}

// LayerItem is a single structured fact produced by one stage. Exactly one
// payload field is set, selected by the layer the item belongs to. Refs point
// backwards to items in earlier, already-completed layers.
type LayerItem struct {
	ID    string          `json:"item_id"`
	Refs  []string        `json:"refs,omitempty"`
	Event *ExtractedEvent `json:"event,omitempty"`
	Risk  *RiskAssessment `json:"risk,omitempty"`
	Alert *SafetyAlert    `json:"alert,omitempty"`
}

// PayloadStage returns the stage implied by the populated payload field.
func (it *LayerItem) PayloadStage() (Stage, bool) {
	switch {
	case it.Event != nil && it.Risk == nil && it.Alert == nil:
		return StageFoundation, true
	case it.Risk != nil && it.Event == nil && it.Alert == nil:
		return StageStrategic, true
	case it.Alert != nil && it.Event == nil && it.Risk == nil:
		return StageSynthesis, true
	}
	return "", false
}

// ExtractedEvent is a foundation-layer payload: one clinical event pulled
// from the raw report text.
type ExtractedEvent struct {
	Term       string  `json:"term"`
	Severity   string  `json:"severity,omitempty"`
	Onset      string  `json:"onset,omitempty"`
	SourceSpan string  `json:"source_span,omitempty"`
	Confidence float64 `json:"confidence"`
}

// RiskAssessment is a strategic-layer payload: a risk judgement over one or
// more extracted events.
type RiskAssessment struct {
	RiskLevel string  `json:"risk_level"`
	Score     float64 `json:"score"`
	Rationale string  `json:"rationale,omitempty"`
}

// SafetyAlert is a synthesis-layer payload: an actionable recommendation
// justified by earlier risk assessments.
type SafetyAlert struct {
	AlertType      string  `json:"alert_type"`
	Recommendation string  `json:"recommendation"`
	Urgency        string  `json:"urgency,omitempty"`
	Score          float64 `json:"score"`
}

// Audit Models

// HandoffSnapshot is the small counts/flags snapshot carried on a handoff.
type HandoffSnapshot struct {
	ItemsProduced int  `json:"items_produced"`
	RefsRecorded  int  `json:"refs_recorded"`
	OverBudget    bool `json:"over_budget"`
}

// HandoffRecord describes one stage-to-stage transition. Append-only,
// ordered by timestamp.
type HandoffRecord struct {
	FromStage Stage           `json:"from_stage"`
	ToStage   Stage           `json:"to_stage"`
	Summary   string          `json:"summary"`
	Snapshot  HandoffSnapshot `json:"snapshot"`
	Timestamp time.Time       `json:"timestamp"`
}

// Action types recorded per stage attempt.
const (
	ActionInferenceComplete = "inference_complete"
	ActionInferenceTimeout  = "inference_timeout"
	ActionInferenceRejected = "inference_rejected"
)

// ActionRecord is the audit entry for one stage execution attempt,
// independent of business content. Append-only, ordered by timestamp.
type ActionRecord struct {
	Stage           Stage     `json:"stage"`
	Action          string    `json:"action"`
	Detail          string    `json:"detail,omitempty"`
	InferenceTimeMS int64     `json:"inference_time_ms"`
	Timestamp       time.Time `json:"timestamp"`
}
