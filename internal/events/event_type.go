package events

// EventType identifies the kind of domain event carried by an EventWithData
// envelope.
type EventType string

const (
	// UserOnboarded fires once a user crosses the onboarding-stage threshold
	// that makes them eligible for monitoring (domain.User.Monitored).
	UserOnboarded EventType = "user_onboarded"

	// BaseStreamTemperatureChanged fires when a stream's temperature tier
	// changes (hot/warm/cold), driving poll-cadence changes downstream.
	BaseStreamTemperatureChanged EventType = "base_stream_temperature_changed"

	// TriggerCreated fires when a new user trigger (alert, signal, or
	// llm_evaluated) is registered.
	TriggerCreated EventType = "trigger_created"

	// TriggerFired fires when a trigger's condition evaluates true.
	TriggerFired EventType = "trigger_fired"

	// TriggerRetired fires when a trigger is retired, whether by explicit
	// user action or the auto-retire eligibility window.
	TriggerRetired EventType = "trigger_retired"

	// TradeDetected fires when the trade detector attributes a new exchange
	// fill to a user.
	TradeDetected EventType = "trade_detected"

	// TradeClosed fires when an open position's corresponding close fill is
	// detected and P&L is computed.
	TradeClosed EventType = "trade_closed"

	// SignalGenerated fires when the signal pipeline produces and persists a
	// new signal for a user.
	SignalGenerated EventType = "signal_generated"

	// SignalFeedbackRecorded fires when a user accepts, rejects, or ignores
	// a delivered signal.
	SignalFeedbackRecorded EventType = "signal_feedback_recorded"

	// PatrolCompleted fires at the end of one scheduled patrol pass.
	PatrolCompleted EventType = "patrol_completed"

	// EpisodeCreated fires when a new episode row is persisted, regardless
	// of whether its vector upsert succeeded.
	EpisodeCreated EventType = "episode_created"

	// ErrorOccurred carries an out-of-band error worth surfacing to
	// observability without aborting the job that raised it.
	ErrorOccurred EventType = "error_occurred"

	// JobStarted, JobProgress, JobCompleted, JobFailed track a scheduler
	// job's lifecycle for the health endpoint and logs.
	JobStarted   EventType = "job_started"
	JobProgress  EventType = "job_progress"
	JobCompleted EventType = "job_completed"
	JobFailed    EventType = "job_failed"
)
