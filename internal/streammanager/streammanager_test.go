package streammanager

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketpulse/monitor/internal/cache"
	"github.com/marketpulse/monitor/internal/domain"
	"github.com/marketpulse/monitor/internal/market"
	"github.com/marketpulse/monitor/internal/store"
)

const testSchema = `
CREATE TABLE users (id INTEGER PRIMARY KEY);
CREATE TABLE base_streams (
	id INTEGER PRIMARY KEY,
	user_id INTEGER NOT NULL,
	stream_type TEXT NOT NULL,
	symbol TEXT,
	config TEXT,
	temperature TEXT NOT NULL DEFAULT 'warm',
	last_mentioned_at TEXT,
	last_value TEXT,
	created_at TEXT NOT NULL,
	UNIQUE(user_id, stream_type, symbol)
);
`

func setupDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	_, err = db.Exec(testSchema)
	require.NoError(t, err)
	return db
}

func newManager(t *testing.T) (*Manager, *store.BaseStreamRepository) {
	db := setupDB(t)
	repos := store.New(db, zerolog.Nop())
	src := market.New("", time.Second, zerolog.Nop())
	c := cache.New(nil, zerolog.Nop())
	return New(repos.BaseStreams, c, src, zerolog.Nop()), repos.BaseStreams
}

func strp(s string) *string { return &s }

func TestPreset_CreatesHotStreamsIdempotently(t *testing.T) {
	m, streams := newManager(t)
	require.NoError(t, m.Preset(1))
	require.NoError(t, m.Preset(1)) // idempotent re-run

	all, err := streams.ListByUser(1)
	require.NoError(t, err)
	assert.Len(t, all, len(presetStreams))
	for _, s := range all {
		assert.Equal(t, domain.TemperatureHot, s.Temperature)
	}
}

func TestTouch_RestoresToHot(t *testing.T) {
	m, streams := newManager(t)
	require.NoError(t, m.Touch(1, "price", strp("SOL")))

	all, err := streams.ListByUser(1)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, domain.TemperatureHot, all[0].Temperature)
}

func TestAutoTransition_CoolsStaleStreams(t *testing.T) {
	m, streams := newManager(t)
	id, err := streams.Upsert(&domain.BaseStream{UserID: 1, StreamType: "price", Symbol: strp("BTC")})
	require.NoError(t, err)

	// force last_mentioned_at into the past by touching then manually aging it
	_, err = streams.ListByUser(1)
	require.NoError(t, err)

	now := time.Now().UTC()
	counts, err := m.AutoTransition(now)
	require.NoError(t, err)
	assert.Equal(t, 0, counts.HotToWarm, "freshly touched stream should still be hot")
	_ = id
}

func TestAutoTransition_HotToWarmAfterWindow(t *testing.T) {
	m, streams := newManager(t)
	id, err := streams.Upsert(&domain.BaseStream{UserID: 1, StreamType: "price", Symbol: strp("BTC")})
	require.NoError(t, err)
	assert.NotZero(t, id)

	future := time.Now().UTC().Add(HotWindow + time.Hour)
	counts, err := m.AutoTransition(future)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.HotToWarm)

	all, err := streams.ListByUser(1)
	require.NoError(t, err)
	assert.Equal(t, domain.TemperatureWarm, all[0].Temperature)
}

func TestSetValue_HotStreamWritesCache(t *testing.T) {
	m, streams := newManager(t)
	id, err := streams.Upsert(&domain.BaseStream{UserID: 1, StreamType: "price", Symbol: strp("BTC")})
	require.NoError(t, err)

	s := &domain.BaseStream{ID: id, UserID: 1, StreamType: "price", Symbol: strp("BTC"), Temperature: domain.TemperatureHot}
	require.NoError(t, m.SetValue(context.Background(), s, map[string]any{"last": 65000.0}))

	var cached map[string]any
	ok, err := m.cache.Get(context.Background(), cache.StreamKey(1, "price", "BTC"), &cached)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHotSnapshot_FallsBackToLastValueOnCacheMiss(t *testing.T) {
	m, streams := newManager(t)
	id, err := streams.Upsert(&domain.BaseStream{UserID: 1, StreamType: "price", Symbol: strp("BTC")})
	require.NoError(t, err)
	require.NoError(t, streams.SetLastValue(id, map[string]any{"last": 64000.0}))

	snapshot, err := m.HotSnapshot(context.Background(), 1)
	require.NoError(t, err)
	require.Contains(t, snapshot, "price/BTC")
	assert.Equal(t, 64000.0, snapshot["price/BTC"]["last"])
}

func TestHotSnapshot_SkipsNonHotStreams(t *testing.T) {
	m, streams := newManager(t)
	id, err := streams.Upsert(&domain.BaseStream{UserID: 1, StreamType: "price", Symbol: strp("BTC")})
	require.NoError(t, err)
	require.NoError(t, streams.SetTemperature(id, domain.TemperatureCold))

	snapshot, err := m.HotSnapshot(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, snapshot)
}
