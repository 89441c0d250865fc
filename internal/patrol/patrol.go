// Package patrol implements Patrol (C12): the hourly per-user sweep that
// runs temperature transitions, scans for market anomalies, synthesizes and
// re-evaluates llm_evaluated triggers, reconciles stale signals, and
// persists a PatrolLog of what it did.
package patrol

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketpulse/monitor/internal/domain"
	"github.com/marketpulse/monitor/internal/events"
	"github.com/marketpulse/monitor/internal/llm"
	"github.com/marketpulse/monitor/internal/messenger"
	"github.com/marketpulse/monitor/internal/search"
	"github.com/marketpulse/monitor/internal/store"
	"github.com/marketpulse/monitor/internal/streammanager"
	"github.com/marketpulse/monitor/internal/vectorstore"
)

// inactivityWindow is the "last_active_at more than 24h ago" skip-policy
// threshold from §4.12.
const inactivityWindow = 24 * time.Hour

// Patrol is the Patrol component (C12).
type Patrol struct {
	users      *store.UserRepository
	streams    *store.BaseStreamRepository
	triggers   *store.UserTriggerRepository
	signals    *store.SignalRepository
	episodes   *store.EpisodeRepository
	trades     *store.TradeRepository
	messages   *store.ChatMessageRepository
	patrolLogs *store.PatrolLogRepository

	manager  *streammanager.Manager
	searcher search.Provider
	llmSrc   llm.Source
	vectors  *vectorstore.Store
	msgr     messenger.Messenger
	events   *events.Manager

	log zerolog.Logger
}

// Repos bundles the store dependencies Patrol needs.
type Repos struct {
	Users      *store.UserRepository
	Streams    *store.BaseStreamRepository
	Triggers   *store.UserTriggerRepository
	Signals    *store.SignalRepository
	Episodes   *store.EpisodeRepository
	Trades     *store.TradeRepository
	Messages   *store.ChatMessageRepository
	PatrolLogs *store.PatrolLogRepository
}

// New builds a Patrol. em may be nil, in which case a pass completing does
// not publish anything.
func New(repos Repos, manager *streammanager.Manager, searcher search.Provider, llmSrc llm.Source, vectors *vectorstore.Store, msgr messenger.Messenger, em *events.Manager, log zerolog.Logger) *Patrol {
	return &Patrol{
		users: repos.Users, streams: repos.Streams, triggers: repos.Triggers, signals: repos.Signals,
		episodes: repos.Episodes, trades: repos.Trades, messages: repos.Messages, patrolLogs: repos.PatrolLogs,
		manager: manager, searcher: searcher, llmSrc: llmSrc, vectors: vectors, msgr: msgr, events: em,
		log: log.With().Str("component", "patrol").Logger(),
	}
}

// Sweep runs one hourly patrol pass: temperature transitions once globally,
// then every monitored user's per-user steps, skipping per the skip policy.
func (p *Patrol) Sweep(ctx context.Context, now time.Time) error {
	if _, err := p.manager.AutoTransition(now); err != nil {
		p.log.Warn().Err(err).Msg("auto transition failed")
	}

	users, err := p.users.ListMonitored()
	if err != nil {
		return fmt.Errorf("patrol: list monitored users: %w", err)
	}
	for _, u := range users {
		if skipThisHour(u, now) {
			continue
		}
		if err := p.runForUser(ctx, u, now); err != nil {
			p.log.Warn().Err(err).Int64("user_id", u.ID).Msg("patrol run for user failed")
		}
	}
	return nil
}

// skipThisHour implements the §4.12 skip policy: an account inactive for
// more than 24h is only patrolled on even hours, to cut needless work on
// dormant accounts without ever fully stopping.
func skipThisHour(u *domain.User, now time.Time) bool {
	if u.LastActiveAt == nil {
		return false
	}
	if now.Sub(*u.LastActiveAt) <= inactivityWindow {
		return false
	}
	return now.Hour()%2 != 0
}

func (p *Patrol) runForUser(ctx context.Context, u *domain.User, now time.Time) error {
	start := time.Now()
	findings := map[string]any{}
	var actions []string

	anomalies, err := p.scanAnomalies(u.ID)
	if err != nil {
		p.log.Warn().Err(err).Msg("anomaly scan failed")
	} else if len(anomalies) > 0 {
		findings["anomalies"] = anomalies
	}

	synthesized, err := p.synthesizeTriggers(ctx, u, anomalies)
	if err != nil {
		p.log.Warn().Err(err).Msg("auto-trigger synthesis failed")
	}
	actions = append(actions, synthesized...)

	fired, err := p.evaluateLLMTriggers(ctx, u)
	if err != nil {
		p.log.Warn().Err(err).Msg("llm-evaluated trigger evaluation failed")
	}
	actions = append(actions, fired...)

	deferred, err := p.evaluateDeferredRequests(ctx, u)
	if err != nil {
		p.log.Warn().Err(err).Msg("deferred request evaluation failed")
	}
	actions = append(actions, deferred...)

	reconciled, err := p.reconcileUnfollowedSignals(ctx, u)
	if err != nil {
		p.log.Warn().Err(err).Msg("unfollowed-signal reconciliation failed")
	}
	actions = append(actions, reconciled...)

	logRow := &domain.PatrolLog{
		UserID:       u.ID,
		Kind:         domain.PatrolKindScheduled,
		Findings:     findings,
		ActionsTaken: actions,
		CreatedAt:    now,
	}
	if _, err := p.patrolLogs.Create(logRow); err != nil {
		return fmt.Errorf("persist patrol log: %w", err)
	}
	p.events.EmitTyped("patrol", &events.PatrolCompletedData{
		UserID: u.ID, AnomaliesFound: len(anomalies), TriggersFired: len(actions),
		DurationSeconds: time.Since(start).Seconds(),
	})
	return nil
}
