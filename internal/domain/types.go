// Package domain holds the entity types persisted by the monitoring core.
// Every entity is owned by a User; deleting a User cascades to all of them.
package domain

import "time"

// User is the root of every per-user entity tree. OnboardingStage >= 4 gates
// all monitoring activity for the account.
type User struct {
	ID                 int64
	ExternalID         string
	DisplayName        *string
	Language           string
	Tier               string
	OnboardingStage    int
	LastActiveAt       *time.Time
	DailySignalCount   int
	DailySignalResetAt *time.Time
	BriefingHour       *int
	IsActive           bool
	StyleRaw           *string
	StyleParsed        *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Monitored reports whether the account has cleared onboarding far enough to
// be eligible for any stream polling, trigger evaluation, or patrol activity.
func (u *User) Monitored() bool {
	return u.IsActive && u.OnboardingStage >= 4
}

// Exchange names distinguish supported venues. The interface in
// internal/exchange is generic; this is only the default set SPEC_FULL names.
const (
	ExchangeBinance = "binance"
	ExchangeUpbit   = "upbit"
	ExchangeBithumb = "bithumb"
)

// ExchangeConnection holds opaque, cipher-sealed credentials for one venue.
// EncryptedKey/EncryptedSecret are never decrypted outside a single call
// scope and must never be logged.
type ExchangeConnection struct {
	ID              int64
	UserID          int64
	ExchangeName    string
	EncryptedKey    string
	EncryptedSecret string
	IsActive        bool
	LastPolledAt    *time.Time
	CreatedAt       time.Time
}

// Principle sources.
const (
	PrincipleSourceUserInput = "user_input"
	PrincipleSourceExtracted = "extracted"
)

// Principle is a standing trading rule the user (or inference over their
// chat history) has declared. Soft-deleted by IsActive, never hard-deleted.
type Principle struct {
	ID        int64
	UserID    int64
	Text      string
	Source    string
	IsActive  bool
	CreatedAt time.Time
}

// Stream temperatures, in increasing poll cost order.
const (
	TemperatureHot  = "hot"
	TemperatureWarm = "warm"
	TemperatureCold = "cold"
)

// BaseStream is one market data feed a user is subscribed to. Uniqueness is
// (UserID, StreamType, Symbol); streams are never hard-deleted, only cooled.
type BaseStream struct {
	ID              int64
	UserID          int64
	StreamType      string
	Symbol          *string
	Config          map[string]any
	Temperature     string
	LastMentionedAt *time.Time
	LastValue       map[string]any
	CreatedAt       time.Time
}

// Trigger kinds.
const (
	TriggerAlert        = "alert"
	TriggerSignal       = "signal"
	TriggerLLMEvaluated = "llm_evaluated"
)

// Trigger sources.
const (
	TriggerSourceUserRequest = "user_request"
	TriggerSourceLLMAuto     = "llm_auto"
	TriggerSourcePatrol      = "patrol"
)

// UserTrigger is a user (or system) defined condition. Exactly one of
// Condition or CompositeLogic is populated for signal triggers; alert
// triggers are always a bare leaf condition; llm_evaluated triggers carry an
// EvalPrompt instead of either.
type UserTrigger struct {
	ID                int64
	UserID            int64
	Kind              string
	Condition         *string
	CompositeLogic    *string
	BaseStreamsNeeded []string
	EvalPrompt        *string
	DataNeeded        []string
	Description       string
	Source            string
	IsActive          bool
	TriggeredAt       *time.Time
	CreatedAt         time.Time
}

// AutoRetireEligible reports whether a system-authored trigger that has
// never fired has outlived its 72h grace window.
func (t *UserTrigger) AutoRetireEligible(now time.Time) bool {
	if t.Source == TriggerSourceUserRequest {
		return false
	}
	if t.TriggeredAt != nil {
		return false
	}
	return now.Sub(t.CreatedAt) > 72*time.Hour
}

// Trade sides.
const (
	TradeSideLong  = "long"
	TradeSideShort = "short"
	TradeSideBuy   = "buy"
	TradeSideSell  = "sell"
)

// Trade statuses.
const (
	TradeStatusOpen   = "open"
	TradeStatusClosed = "closed"
)

// Values the confirm/deny control surface writes into
// Trade.UserConfirmedReasoning once the user responds to an inferred
// reasoning hypothesis.
const (
	ReasoningConfirmed = "confirmed"
	ReasoningDenied    = "denied"
)

// Trade is one detected position lifecycle on a connected exchange. It is
// "open" on first detection and transitions exactly once to "closed".
type Trade struct {
	ID                     int64
	UserID                 int64
	Exchange               string
	Symbol                 string
	Side                   string
	EntryPrice             float64
	ExitPrice              *float64
	Size                   float64
	Leverage               float64
	PnLPercent             *float64
	PnLAmount              *float64
	Status                 string
	InferredReasoning      *string
	UserConfirmedReasoning *string
	UserActualReasoning    *string
	EpisodeID              *int64
	OpenedAt               time.Time
	ClosedAt               *time.Time
}

// Signal kinds.
const (
	SignalKindTradeSignal = "trade_signal"
	SignalKindBriefing    = "briefing"
)

// Signal directions.
const (
	DirectionLong  = "long"
	DirectionShort = "short"
	DirectionExit  = "exit"
	DirectionWatch = "watch"
)

// Signal is a Judge-produced advisory emitted from the signal pipeline (C10)
// or a scheduled briefing.
type Signal struct {
	ID                int64
	UserID            int64
	Kind              string
	Content           string
	Reasoning         string
	CounterArgument   *string
	Confidence        float64
	ConfidenceStyle   *float64
	ConfidenceHistory *float64
	ConfidenceMarket  *float64
	Symbol            *string
	Direction         *string
	StopLoss          *float64
	UserFeedback      *string
	UserAgreed        *bool
	TradeFollowed     *bool
	TradeResultPnL    *float64
	EpisodeID         *int64
	CreatedAt         time.Time
}

// ComputeConfidence applies confidence = 0.3*style + 0.3*history + 0.4*market
// when all three axes are present, otherwise leaves Confidence untouched.
func (s *Signal) ComputeConfidence() {
	if s.ConfidenceStyle == nil || s.ConfidenceHistory == nil || s.ConfidenceMarket == nil {
		return
	}
	s.Confidence = 0.3*(*s.ConfidenceStyle) + 0.3*(*s.ConfidenceHistory) + 0.4*(*s.ConfidenceMarket)
}

// Episode kinds.
const (
	EpisodeKindTrade    = "trade"
	EpisodeKindChat     = "chat"
	EpisodeKindFeedback = "feedback"
	EpisodeKindSignal   = "signal"
	EpisodeKindPatrol   = "patrol"
	EpisodeKindBriefing = "briefing"
)

// Episode is a unit of learning fed to the vector store. EmbeddingText is the
// sole input to embedding; VectorID is populated only after a successful
// upsert, never before. Episode persistence must never fail on a vector
// store error: either the whole unit of work rolls back cleanly, or the row
// commits and the vector failure is recorded separately.
type Episode struct {
	ID                    int64
	UserID                int64
	Kind                  string
	MarketContext         map[string]any
	UserAction            string
	TradeData             map[string]any
	Reasoning             *string
	TradeResult           map[string]any
	Feedback              *string
	ExpressionCalibration map[string]float64
	StyleTags             []string
	EmbeddingText         string
	VectorID              *string
	CreatedAt             time.Time
}

// PatrolLog kinds.
const (
	PatrolKindScheduled       = "scheduled"
	PatrolKindDeferredRequest = "deferred_request"
)

// PatrolLog records one sweep's findings for audit.
type PatrolLog struct {
	ID                 int64
	UserID             int64
	Kind               string
	Findings           map[string]any
	ActionsTaken       []string
	TemperatureChanges map[string]string
	CreatedAt          time.Time
}

// ChatMessage roles.
const (
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
	ChatRoleSystem    = "system"
)

// ChatMessage is an append-only record of the conversational log, kept here
// only as an out-of-band record of what the core emitted.
type ChatMessage struct {
	ID                int64
	UserID            int64
	Role              string
	Content           string
	MessageType       string
	Intent            *string
	Metadata          map[string]any
	ExternalMessageID *string
	CreatedAt         time.Time
}
