package events

import (
	"encoding/json"
	"time"
)

// EventData is the interface every event payload type implements, so an
// EventWithData envelope can carry any of them behind one field while still
// round-tripping through JSON without losing its concrete type.
type EventData interface {
	EventType() EventType
}

// UserOnboardedData contains data for UserOnboarded events.
type UserOnboardedData struct {
	UserID          int64  `json:"user_id"`
	OnboardingStage int    `json:"onboarding_stage"`
	Style           string `json:"style,omitempty"`
}

func (d *UserOnboardedData) EventType() EventType { return UserOnboarded }

// BaseStreamTemperatureChangedData contains data for
// BaseStreamTemperatureChanged events.
type BaseStreamTemperatureChangedData struct {
	UserID      int64  `json:"user_id"`
	StreamType  string `json:"stream_type"`
	Symbol      string `json:"symbol,omitempty"`
	OldTemp     string `json:"old_temperature"`
	NewTemp     string `json:"new_temperature"`
	MentionedAt string `json:"mentioned_at,omitempty"`
}

func (d *BaseStreamTemperatureChangedData) EventType() EventType {
	return BaseStreamTemperatureChanged
}

// TriggerCreatedData contains data for TriggerCreated events.
type TriggerCreatedData struct {
	TriggerID int64  `json:"trigger_id"`
	UserID    int64  `json:"user_id"`
	Kind      string `json:"kind"`
	Source    string `json:"source"`
	Condition string `json:"condition"`
}

func (d *TriggerCreatedData) EventType() EventType { return TriggerCreated }

// TriggerFiredData contains data for TriggerFired events.
type TriggerFiredData struct {
	TriggerID int64  `json:"trigger_id"`
	UserID    int64  `json:"user_id"`
	Kind      string `json:"kind"`
	Condition string `json:"condition"`
	Context   string `json:"context,omitempty"`
}

func (d *TriggerFiredData) EventType() EventType { return TriggerFired }

// TriggerRetiredData contains data for TriggerRetired events.
type TriggerRetiredData struct {
	TriggerID int64  `json:"trigger_id"`
	UserID    int64  `json:"user_id"`
	Reason    string `json:"reason"` // "user_request", "auto_retire"
}

func (d *TriggerRetiredData) EventType() EventType { return TriggerRetired }

// TradeDetectedData contains data for TradeDetected events.
type TradeDetectedData struct {
	TradeID  int64   `json:"trade_id"`
	UserID   int64   `json:"user_id"`
	Exchange string  `json:"exchange"`
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
}

func (d *TradeDetectedData) EventType() EventType { return TradeDetected }

// TradeClosedData contains data for TradeClosed events.
type TradeClosedData struct {
	TradeID       int64   `json:"trade_id"`
	UserID        int64   `json:"user_id"`
	Symbol        string  `json:"symbol"`
	PnLPercent    float64 `json:"pnl_percent"`
	ConsecutiveLosses int `json:"consecutive_losses,omitempty"`
}

func (d *TradeClosedData) EventType() EventType { return TradeClosed }

// SignalGeneratedData contains data for SignalGenerated events.
type SignalGeneratedData struct {
	SignalID   int64   `json:"signal_id"`
	UserID     int64   `json:"user_id"`
	Symbol     string  `json:"symbol"`
	Direction  string  `json:"direction"`
	Confidence float64 `json:"confidence"`
}

func (d *SignalGeneratedData) EventType() EventType { return SignalGenerated }

// SignalFeedbackRecordedData contains data for SignalFeedbackRecorded events.
type SignalFeedbackRecordedData struct {
	SignalID int64  `json:"signal_id"`
	UserID   int64  `json:"user_id"`
	Feedback string `json:"feedback"` // "accepted", "rejected", "ignored"
}

func (d *SignalFeedbackRecordedData) EventType() EventType { return SignalFeedbackRecorded }

// PatrolCompletedData contains data for PatrolCompleted events.
type PatrolCompletedData struct {
	UserID          int64 `json:"user_id"`
	AnomaliesFound  int   `json:"anomalies_found"`
	TriggersFired   int   `json:"triggers_fired"`
	DurationSeconds float64 `json:"duration_seconds"`
}

func (d *PatrolCompletedData) EventType() EventType { return PatrolCompleted }

// EpisodeCreatedData contains data for EpisodeCreated events.
type EpisodeCreatedData struct {
	EpisodeID    int64  `json:"episode_id"`
	UserID       int64  `json:"user_id"`
	Kind         string `json:"kind"`
	VectorStored bool   `json:"vector_stored"`
}

func (d *EpisodeCreatedData) EventType() EventType { return EpisodeCreated }

// ErrorEventData contains data for ErrorOccurred events.
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

func (d *ErrorEventData) EventType() EventType { return ErrorOccurred }

// JobProgressInfo carries progress information for a long-running job
// (patrol over many users, a backfill), reported in the job's structured
// log line rather than polled.
type JobProgressInfo struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Message string `json:"message,omitempty"`
}

// JobStatusData contains data for job lifecycle events.
type JobStatusData struct {
	JobID       string                 `json:"job_id"`
	JobName     string                 `json:"job_name"`
	Status      string                 `json:"status"` // "started", "progress", "completed", "failed"
	Progress    *JobProgressInfo       `json:"progress,omitempty"`
	Error       string                 `json:"error,omitempty"`
	DurationMS  int64                  `json:"duration_ms,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// EventType returns the event type for JobStatusData; the concrete type is
// determined by the Status field rather than a separate struct per status.
func (d *JobStatusData) EventType() EventType {
	switch d.Status {
	case "started":
		return JobStarted
	case "progress":
		return JobProgress
	case "completed":
		return JobCompleted
	case "failed":
		return JobFailed
	default:
		return JobStarted
	}
}

// EventWithData is an event envelope carrying its typed payload.
type EventWithData struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Data      EventData `json:"data"`
}

// MarshalJSON customizes JSON serialization for EventWithData so Data is
// emitted as its concrete payload rather than an interface wrapper.
func (e *EventWithData) MarshalJSON() ([]byte, error) {
	type Alias EventWithData
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	if e.Data != nil {
		dataBytes, err := json.Marshal(e.Data)
		if err != nil {
			return nil, err
		}
		aux.Data = dataBytes
	}

	return json.Marshal(aux)
}

// UnmarshalJSON customizes JSON deserialization for EventWithData, picking
// the concrete Data type from Type.
func (e *EventWithData) UnmarshalJSON(data []byte) error {
	type Alias EventWithData
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	if len(aux.Data) > 0 && string(aux.Data) != "null" {
		var eventData EventData
		switch aux.Type {
		case UserOnboarded:
			eventData = &UserOnboardedData{}
		case BaseStreamTemperatureChanged:
			eventData = &BaseStreamTemperatureChangedData{}
		case TriggerCreated:
			eventData = &TriggerCreatedData{}
		case TriggerFired:
			eventData = &TriggerFiredData{}
		case TriggerRetired:
			eventData = &TriggerRetiredData{}
		case TradeDetected:
			eventData = &TradeDetectedData{}
		case TradeClosed:
			eventData = &TradeClosedData{}
		case SignalGenerated:
			eventData = &SignalGeneratedData{}
		case SignalFeedbackRecorded:
			eventData = &SignalFeedbackRecordedData{}
		case PatrolCompleted:
			eventData = &PatrolCompletedData{}
		case EpisodeCreated:
			eventData = &EpisodeCreatedData{}
		case ErrorOccurred:
			eventData = &ErrorEventData{}
		case JobStarted, JobProgress, JobCompleted, JobFailed:
			eventData = &JobStatusData{}
		default:
			var rawData map[string]interface{}
			if err := json.Unmarshal(aux.Data, &rawData); err != nil {
				return err
			}
			eventData = &GenericEventData{Type: aux.Type, Data: rawData}
		}

		if eventData != nil {
			if err := json.Unmarshal(aux.Data, eventData); err != nil {
				return err
			}
			e.Data = eventData
		}
	}

	return nil
}

// GenericEventData is a fallback for event types with no registered struct.
type GenericEventData struct {
	Type EventType              `json:"-"`
	Data map[string]interface{} `json:"-"`
}

func (d *GenericEventData) EventType() EventType { return d.Type }

func (d *GenericEventData) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Data)
}

func (d *GenericEventData) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &d.Data)
}
