package trigger

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketpulse/monitor/internal/domain"
	"github.com/marketpulse/monitor/internal/messenger"
	"github.com/marketpulse/monitor/internal/store"
)

const testSchema = `
CREATE TABLE users (id INTEGER PRIMARY KEY);
CREATE TABLE user_triggers (
	id INTEGER PRIMARY KEY,
	user_id INTEGER NOT NULL,
	kind TEXT NOT NULL,
	condition TEXT,
	composite_logic TEXT,
	base_streams_needed TEXT,
	eval_prompt TEXT,
	data_needed TEXT,
	description TEXT NOT NULL,
	source TEXT NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 1,
	triggered_at TEXT,
	created_at TEXT NOT NULL
);
CREATE TABLE chat_messages (
	id INTEGER PRIMARY KEY,
	user_id INTEGER NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	message_type TEXT,
	intent TEXT,
	metadata TEXT,
	external_message_id TEXT,
	created_at TEXT NOT NULL
);
`

type fakeMessenger struct {
	sent []string
}

func (f *fakeMessenger) SendText(_ context.Context, _, text string, _ *messenger.Keyboard) error {
	f.sent = append(f.sent, text)
	return nil
}
func (f *fakeMessenger) SendPhoto(context.Context, string, []byte, string) error { return nil }
func (f *fakeMessenger) EditText(context.Context, string, string) error         { return nil }

type fakePipeline struct {
	ran []int64
}

func (f *fakePipeline) Run(_ context.Context, _ *domain.User, t *domain.UserTrigger) error {
	f.ran = append(f.ran, t.ID)
	return nil
}

func setup(t *testing.T) (*Engine, *store.Store, *fakeMessenger, *fakePipeline) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	_, err = db.Exec(testSchema)
	require.NoError(t, err)

	repos := store.New(db, zerolog.Nop())
	msgr := &fakeMessenger{}
	pipeline := &fakePipeline{}
	e := New(repos.UserTriggers, repos.ChatMessages, msgr, pipeline, nil, zerolog.Nop())
	return e, repos, msgr, pipeline
}

func user(id int64) *domain.User {
	return &domain.User{ID: id, ExternalID: "ext-1"}
}

func TestEvaluate_AlertFiresAndRetires(t *testing.T) {
	e, repos, msgr, _ := setup(t)
	cond := `{"type":"price_above","symbol":"BTC","value":60000}`
	id, err := repos.UserTriggers.Create(&domain.UserTrigger{
		UserID: 1, Kind: domain.TriggerAlert, Condition: &cond,
		Description: "BTC above 60k", Source: domain.TriggerSourceUserRequest, IsActive: true,
	})
	require.NoError(t, err)

	snapshot := map[string]map[string]any{"price/BTC": {"last": 61000.0}}
	result, err := e.Evaluate(context.Background(), user(1), snapshot)
	require.NoError(t, err)
	assert.Equal(t, 1, result.AlertsFired)
	require.Len(t, msgr.sent, 1)
	assert.Contains(t, msgr.sent[0], "BTC above 60k")

	active, err := repos.UserTriggers.ListActiveByUser(1)
	require.NoError(t, err)
	assert.Empty(t, active, "alert must retire after firing")
	_ = id
}

func TestEvaluate_AlertDoesNotFireTwice(t *testing.T) {
	e, repos, msgr, _ := setup(t)
	cond := `{"type":"price_above","symbol":"BTC","value":60000}`
	_, err := repos.UserTriggers.Create(&domain.UserTrigger{
		UserID: 1, Kind: domain.TriggerAlert, Condition: &cond,
		Description: "BTC above 60k", Source: domain.TriggerSourceUserRequest, IsActive: true,
	})
	require.NoError(t, err)

	snapshot := map[string]map[string]any{"price/BTC": {"last": 61000.0}}
	first, err := e.Evaluate(context.Background(), user(1), snapshot)
	require.NoError(t, err)
	assert.Equal(t, 1, first.AlertsFired)

	second, err := e.Evaluate(context.Background(), user(1), snapshot)
	require.NoError(t, err)
	assert.Equal(t, 0, second.AlertsFired, "retired trigger must not fire again")
	assert.Len(t, msgr.sent, 1)
}

func TestEvaluate_MissingValueDoesNotMatch(t *testing.T) {
	e, repos, _, _ := setup(t)
	cond := `{"type":"price_above","symbol":"ETH","value":1000}`
	_, err := repos.UserTriggers.Create(&domain.UserTrigger{
		UserID: 1, Kind: domain.TriggerAlert, Condition: &cond,
		Description: "ETH above 1000", Source: domain.TriggerSourceUserRequest, IsActive: true,
	})
	require.NoError(t, err)

	result, err := e.Evaluate(context.Background(), user(1), map[string]map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 0, result.AlertsFired)
}

func TestEvaluate_SignalFiresPipelineAndStaysActive(t *testing.T) {
	e, repos, msgr, pipeline := setup(t)
	cond := `{"type":"funding_above","symbol":"BTC","value":0.01}`
	id, err := repos.UserTriggers.Create(&domain.UserTrigger{
		UserID: 1, Kind: domain.TriggerSignal, Condition: &cond,
		Description: "funding spike", Source: domain.TriggerSourceUserRequest, IsActive: true,
	})
	require.NoError(t, err)

	snapshot := map[string]map[string]any{"funding/BTC": {"rate": 0.02}}
	result, err := e.Evaluate(context.Background(), user(1), snapshot)
	require.NoError(t, err)
	assert.Equal(t, 1, result.SignalsFired)
	assert.Contains(t, msgr.sent, "analysing...")
	assert.Equal(t, []int64{id}, pipeline.ran)

	active, err := repos.UserTriggers.ListActiveByUser(1)
	require.NoError(t, err)
	require.Len(t, active, 1, "signal trigger stays active until the pipeline retires it")
	assert.NotNil(t, active[0].TriggeredAt)
}

func TestEvaluate_CompositeBindsStreamsAndFires(t *testing.T) {
	e, repos, _, pipeline := setup(t)
	logic := "price_last > price_high_24h"
	_, err := repos.UserTriggers.Create(&domain.UserTrigger{
		UserID: 1, Kind: domain.TriggerSignal, CompositeLogic: &logic,
		BaseStreamsNeeded: []string{"price/BTC"},
		Description:       "new high", Source: domain.TriggerSourceUserRequest, IsActive: true,
	})
	require.NoError(t, err)

	snapshot := map[string]map[string]any{"price/BTC": {"last": 70000.0, "high_24h": 69000.0}}
	result, err := e.Evaluate(context.Background(), user(1), snapshot)
	require.NoError(t, err)
	assert.Equal(t, 1, result.SignalsFired)
	assert.Len(t, pipeline.ran, 1)
}

func TestEvaluate_LLMEvaluatedTriggersSkipped(t *testing.T) {
	e, repos, _, pipeline := setup(t)
	prompt := "is the market bullish?"
	_, err := repos.UserTriggers.Create(&domain.UserTrigger{
		UserID: 1, Kind: domain.TriggerLLMEvaluated, EvalPrompt: &prompt,
		Description: "deferred", Source: domain.TriggerSourceUserRequest, IsActive: true,
	})
	require.NoError(t, err)

	result, err := e.Evaluate(context.Background(), user(1), map[string]map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 0, result.AlertsFired)
	assert.Equal(t, 0, result.SignalsFired)
	assert.Empty(t, pipeline.ran)
}
