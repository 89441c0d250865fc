// Package trigger implements the Trigger Engine (C9): evaluating a user's
// active alert and signal triggers against a hot snapshot, firing alerts
// directly through the Messenger and handing matched signal triggers off to
// the Signal Pipeline.
package trigger

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/marketpulse/monitor/internal/domain"
	"github.com/marketpulse/monitor/internal/events"
	"github.com/marketpulse/monitor/internal/messenger"
	"github.com/marketpulse/monitor/internal/store"
)

// SignalPipeline is the narrow capability the engine needs from the Signal
// Pipeline (C10) once a signal trigger matches. It is an interface here so
// this package never imports the pipeline package directly.
type SignalPipeline interface {
	Run(ctx context.Context, user *domain.User, trig *domain.UserTrigger) error
}

// Engine is the Trigger Engine (C9).
type Engine struct {
	triggers *store.UserTriggerRepository
	messages *store.ChatMessageRepository
	msgr     messenger.Messenger
	pipeline SignalPipeline
	events   *events.Manager
	log      zerolog.Logger
}

// New builds an Engine. events may be nil, in which case firing a trigger
// does not publish anything.
func New(triggers *store.UserTriggerRepository, messages *store.ChatMessageRepository, msgr messenger.Messenger, pipeline SignalPipeline, em *events.Manager, log zerolog.Logger) *Engine {
	return &Engine{
		triggers: triggers,
		messages: messages,
		msgr:     msgr,
		pipeline: pipeline,
		events:   em,
		log:      log.With().Str("component", "trigger").Logger(),
	}
}

// Result summarizes one Evaluate pass for observability and tests.
type Result struct {
	AlertsFired  int
	SignalsFired int
}

// Evaluate runs after every hot-stream update cycle for a user. It loads
// every active alert/signal trigger (llm_evaluated triggers are skipped —
// Patrol owns those) in stable id-ascending order and fires each whose
// condition matches the given hot snapshot.
func (e *Engine) Evaluate(ctx context.Context, user *domain.User, snapshot map[string]map[string]any) (Result, error) {
	var result Result

	all, err := e.triggers.ListActiveByUser(user.ID)
	if err != nil {
		return result, fmt.Errorf("trigger: list active triggers for user %d: %w", user.ID, err)
	}

	for _, t := range all {
		if t.Kind != domain.TriggerAlert && t.Kind != domain.TriggerSignal {
			continue
		}

		matched, label, err := e.evaluate(t, snapshot)
		if err != nil {
			e.log.Warn().Err(err).Int64("trigger_id", t.ID).Msg("condition evaluation failed")
			continue
		}
		if !matched {
			continue
		}

		switch t.Kind {
		case domain.TriggerAlert:
			if err := e.fireAlert(ctx, user, t, label); err != nil {
				e.log.Warn().Err(err).Int64("trigger_id", t.ID).Msg("fire alert failed")
				continue
			}
			result.AlertsFired++
		case domain.TriggerSignal:
			if err := e.fireSignal(ctx, user, t); err != nil {
				e.log.Warn().Err(err).Int64("trigger_id", t.ID).Msg("fire signal failed")
				continue
			}
			result.SignalsFired++
		}
	}

	return result, nil
}

// evaluate dispatches to leaf or composite evaluation depending on which
// field the trigger carries.
func (e *Engine) evaluate(t *domain.UserTrigger, snapshot map[string]map[string]any) (bool, string, error) {
	if t.CompositeLogic != nil {
		bindings := bindStreams(t.BaseStreamsNeeded, snapshot)
		matched, err := evalComposite(*t.CompositeLogic, bindings)
		return matched, "", err
	}
	if t.Condition != nil {
		return evalLeaf(*t.Condition, snapshot)
	}
	return false, "", nil
}

// fireAlert emits the alert text, logs it as an assistant chat message, and
// permanently retires the trigger — an alert fires at most once.
func (e *Engine) fireAlert(ctx context.Context, user *domain.User, t *domain.UserTrigger, label string) error {
	text := "Alert: " + t.Description
	if label != "" {
		text = fmt.Sprintf("Alert: %s (%s)", t.Description, label)
	}

	if _, err := e.messages.Append(&domain.ChatMessage{
		UserID:      user.ID,
		Role:        domain.ChatRoleAssistant,
		Content:     text,
		MessageType: "alert",
	}); err != nil {
		return fmt.Errorf("log alert message: %w", err)
	}

	if err := e.triggers.MarkTriggered(t.ID); err != nil {
		return fmt.Errorf("mark triggered: %w", err)
	}
	if err := e.triggers.Retire(t.ID); err != nil {
		return fmt.Errorf("retire: %w", err)
	}
	e.events.EmitTyped("trigger", &events.TriggerFiredData{
		TriggerID: t.ID, UserID: user.ID, Kind: t.Kind, Context: label,
	})

	if err := e.msgr.SendText(ctx, user.ExternalID, text, nil); err != nil {
		e.log.Warn().Err(err).Int64("trigger_id", t.ID).Msg("send alert failed")
	}
	return nil
}

// fireSignal stamps triggered_at, emits an interim message, and hands the
// trigger to the Signal Pipeline. The trigger stays active until the
// pipeline retires it on successful completion.
func (e *Engine) fireSignal(ctx context.Context, user *domain.User, t *domain.UserTrigger) error {
	if err := e.triggers.MarkTriggered(t.ID); err != nil {
		return fmt.Errorf("mark triggered: %w", err)
	}
	e.events.EmitTyped("trigger", &events.TriggerFiredData{TriggerID: t.ID, UserID: user.ID, Kind: t.Kind})

	if err := e.msgr.SendText(ctx, user.ExternalID, "analysing...", nil); err != nil {
		e.log.Warn().Err(err).Int64("trigger_id", t.ID).Msg("send interim message failed")
	}

	if err := e.pipeline.Run(ctx, user, t); err != nil {
		return fmt.Errorf("run signal pipeline: %w", err)
	}
	return nil
}
