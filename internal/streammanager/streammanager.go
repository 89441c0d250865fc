// Package streammanager implements the Stream Manager capability (C8):
// preset creation, the hot/warm/cold temperature lifecycle, value writes,
// and the hot snapshot the Trigger Engine evaluates against.
package streammanager

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketpulse/monitor/internal/cache"
	"github.com/marketpulse/monitor/internal/domain"
	"github.com/marketpulse/monitor/internal/market"
	"github.com/marketpulse/monitor/internal/store"
)

// Hot/warm thresholds from §4.8: hot if mentioned within 7 days, warm if
// within 30, cold otherwise. Streams are never deleted.
const (
	HotWindow  = 7 * 24 * time.Hour
	WarmWindow = 30 * 24 * time.Hour
)

// Poll intervals from §4.8. HotPollInterval also sets the hot cache TTL. No
// job reads WarmPollInterval, and no job polls cold streams.
const (
	HotPollInterval  = 10 * time.Second
	WarmPollInterval = 30 * time.Minute
)

func strPtr(s string) *string { return &s }

// presetStreams is the idempotent hot-stream set created once a user reaches
// onboarding_stage=4.
var presetStreams = []struct {
	streamType string
	symbol     *string
}{
	{"price", strPtr("BTC")},
	{"price", strPtr("ETH")},
	{"funding", strPtr("BTC")},
	{"funding", strPtr("ETH")},
	{"oi", strPtr("BTC")},
	{"oi", strPtr("ETH")},
	{"news", nil},
	{"indicator", strPtr("fear_greed")},
	{"spread", strPtr("kimchi")},
}

// Manager is the Stream Manager (C8).
type Manager struct {
	streams *store.BaseStreamRepository
	cache   *cache.Cache
	source  *market.Source
	log     zerolog.Logger
}

// New builds a Manager.
func New(streams *store.BaseStreamRepository, c *cache.Cache, source *market.Source, log zerolog.Logger) *Manager {
	return &Manager{streams: streams, cache: c, source: source, log: log.With().Str("component", "streammanager").Logger()}
}

// Preset idempotently creates the hot-stream set for a newly onboarded user.
// Upsert already restores to hot on every call, so re-running Preset for an
// existing user is harmless.
func (m *Manager) Preset(userID int64) error {
	for _, p := range presetStreams {
		if _, err := m.streams.Upsert(&domain.BaseStream{UserID: userID, StreamType: p.streamType, Symbol: p.symbol}); err != nil {
			return fmt.Errorf("streammanager: preset stream %s: %w", p.streamType, err)
		}
	}
	return nil
}

// Touch re-mentions symbol for a user's stream, restoring it to hot and
// updating last_mentioned_at atomically.
func (m *Manager) Touch(userID int64, streamType string, symbol *string) error {
	if _, err := m.streams.Upsert(&domain.BaseStream{UserID: userID, StreamType: streamType, Symbol: symbol}); err != nil {
		return fmt.Errorf("streammanager: touch: %w", err)
	}
	return nil
}

// TransitionCounts reports how many streams moved hot->warm and warm->cold
// during one AutoTransition pass.
type TransitionCounts struct {
	HotToWarm  int
	WarmToCold int
}

// AutoTransition cools every stream whose last_mentioned_at has crossed the
// hot or warm window. It operates globally, one pass per temperature tier,
// matching the poller's own global-not-per-user query shape.
func (m *Manager) AutoTransition(now time.Time) (TransitionCounts, error) {
	var counts TransitionCounts

	hot, err := m.streams.ListByTemperature(domain.TemperatureHot)
	if err != nil {
		return counts, fmt.Errorf("streammanager: list hot streams: %w", err)
	}
	for _, s := range hot {
		if s.LastMentionedAt == nil || now.Sub(*s.LastMentionedAt) <= HotWindow {
			continue
		}
		if err := m.streams.SetTemperature(s.ID, domain.TemperatureWarm); err != nil {
			return counts, err
		}
		counts.HotToWarm++
	}

	warm, err := m.streams.ListByTemperature(domain.TemperatureWarm)
	if err != nil {
		return counts, fmt.Errorf("streammanager: list warm streams: %w", err)
	}
	for _, s := range warm {
		if s.LastMentionedAt == nil || now.Sub(*s.LastMentionedAt) <= WarmWindow {
			continue
		}
		if err := m.streams.SetTemperature(s.ID, domain.TemperatureCold); err != nil {
			return counts, err
		}
		counts.WarmToCold++
	}

	return counts, nil
}

// PollTemperature fetches a fresh value for every stream at the given
// temperature, globally across all users, and writes it via SetValue. This
// is the single fetch that serves every subscriber to a given stream.
func (m *Manager) PollTemperature(ctx context.Context, temperature string) error {
	streams, err := m.streams.ListByTemperature(temperature)
	if err != nil {
		return fmt.Errorf("streammanager: list streams at %s: %w", temperature, err)
	}
	for _, s := range streams {
		symbol := ""
		if s.Symbol != nil {
			symbol = *s.Symbol
		}
		config := s.Config
		if prev, ok := s.LastValue["open_interest"].(float64); ok && s.StreamType == "oi" {
			config = make(map[string]any, len(s.Config)+1)
			for k, v := range s.Config {
				config[k] = v
			}
			config["previous"] = prev
		}
		value, ok, err := m.source.Fetch(ctx, s.StreamType, symbol, config)
		if err != nil {
			m.log.Warn().Err(err).Str("stream_type", s.StreamType).Str("symbol", symbol).Msg("poll fetch failed")
			continue
		}
		if !ok {
			continue
		}
		if err := m.SetValue(ctx, s, value); err != nil {
			m.log.Warn().Err(err).Int64("stream_id", s.ID).Msg("set value failed")
		}
	}
	return nil
}

// SetValue persists last_value and, if the stream is hot, writes the cache
// eagerly so a stream that just transitioned back to hot is immediately
// visible to the next hot_snapshot.
func (m *Manager) SetValue(ctx context.Context, s *domain.BaseStream, value map[string]any) error {
	if err := m.streams.SetLastValue(s.ID, value); err != nil {
		return fmt.Errorf("streammanager: persist value: %w", err)
	}
	if s.Temperature != domain.TemperatureHot {
		return nil
	}
	symbol := ""
	if s.Symbol != nil {
		symbol = *s.Symbol
	}
	ttl := HotPollInterval * 3
	if err := m.cache.Set(ctx, cache.StreamKey(s.UserID, s.StreamType, symbol), value, ttl); err != nil {
		return fmt.Errorf("streammanager: cache value: %w", err)
	}
	return nil
}

// HotSnapshot reads every hot stream the user is subscribed to from the
// cache, falling back to last_value on a cache miss, keyed
// "{stream_type}/{symbol|all}". This snapshot is the Trigger Engine's sole
// input for the user on a given tick.
func (m *Manager) HotSnapshot(ctx context.Context, userID int64) (map[string]map[string]any, error) {
	streams, err := m.streams.ListByUser(userID)
	if err != nil {
		return nil, fmt.Errorf("streammanager: list streams for user %d: %w", userID, err)
	}

	snapshot := make(map[string]map[string]any)
	for _, s := range streams {
		if s.Temperature != domain.TemperatureHot {
			continue
		}
		symbol := ""
		if s.Symbol != nil {
			symbol = *s.Symbol
		}
		key := s.StreamType + "/" + symbolOrAll(symbol)

		var value map[string]any
		if ok, err := m.cache.Get(ctx, cache.StreamKey(userID, s.StreamType, symbol), &value); err == nil && ok {
			snapshot[key] = value
			continue
		}
		if s.LastValue != nil {
			snapshot[key] = s.LastValue
		}
	}
	return snapshot, nil
}

func symbolOrAll(symbol string) string {
	if symbol == "" {
		return "all"
	}
	return symbol
}
