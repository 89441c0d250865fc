package patrol

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
	"github.com/marketpulse/monitor/internal/llm"
	"github.com/marketpulse/monitor/internal/market"
	"github.com/marketpulse/monitor/internal/messenger"
	"github.com/marketpulse/monitor/internal/search"
	"github.com/marketpulse/monitor/internal/store"
	"github.com/marketpulse/monitor/internal/streammanager"
	"github.com/marketpulse/monitor/internal/vectorstore"
)

const testSchema = `
CREATE TABLE users (
	id INTEGER PRIMARY KEY,
	external_id TEXT NOT NULL,
	display_name TEXT,
	language TEXT NOT NULL DEFAULT 'en',
	tier TEXT NOT NULL DEFAULT 'free',
	onboarding_stage INTEGER NOT NULL DEFAULT 0,
	last_active_at TEXT,
	daily_signal_count INTEGER NOT NULL DEFAULT 0,
	daily_signal_reset_at TEXT,
	briefing_hour INTEGER,
	is_active INTEGER NOT NULL DEFAULT 1,
	style_raw TEXT,
	style_parsed TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
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
CREATE TABLE trades (
	id INTEGER PRIMARY KEY,
	user_id INTEGER NOT NULL,
	exchange TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	entry_price REAL NOT NULL,
	exit_price REAL,
	size REAL NOT NULL,
	leverage REAL NOT NULL DEFAULT 1,
	pnl_percent REAL,
	pnl_amount REAL,
	status TEXT NOT NULL,
	inferred_reasoning TEXT,
	user_confirmed_reasoning TEXT,
	user_actual_reasoning TEXT,
	episode_id INTEGER,
	opened_at TEXT NOT NULL,
	closed_at TEXT
);
CREATE TABLE signals (
	id INTEGER PRIMARY KEY,
	user_id INTEGER NOT NULL,
	kind TEXT NOT NULL,
	content TEXT NOT NULL,
	reasoning TEXT,
	counter_argument TEXT,
	confidence REAL NOT NULL DEFAULT 0,
	confidence_style REAL,
	confidence_history REAL,
	confidence_market REAL,
	symbol TEXT,
	direction TEXT,
	stop_loss REAL,
	user_feedback TEXT,
	user_agreed INTEGER,
	trade_followed INTEGER,
	trade_result_pnl REAL,
	episode_id INTEGER,
	created_at TEXT NOT NULL
);
CREATE TABLE episodes (
	id INTEGER PRIMARY KEY,
	user_id INTEGER NOT NULL,
	kind TEXT NOT NULL,
	market_context TEXT,
	user_action TEXT NOT NULL,
	trade_data TEXT,
	reasoning TEXT,
	trade_result TEXT,
	feedback TEXT,
	expression_calibration TEXT,
	style_tags TEXT,
	embedding_text TEXT NOT NULL,
	vector_id TEXT,
	created_at TEXT NOT NULL
);
CREATE TABLE patrol_logs (
	id INTEGER PRIMARY KEY,
	user_id INTEGER NOT NULL,
	kind TEXT NOT NULL,
	findings TEXT,
	actions_taken TEXT,
	temperature_changes TEXT,
	created_at TEXT NOT NULL
);
`

type fakeMessenger struct{ sent []string }

func (f *fakeMessenger) SendText(_ context.Context, _, text string, _ *messenger.Keyboard) error {
	f.sent = append(f.sent, text)
	return nil
}
func (f *fakeMessenger) SendPhoto(context.Context, string, []byte, string) error { return nil }
func (f *fakeMessenger) EditText(context.Context, string, string) error         { return nil }

type fakeLLM struct{ text string }

func (f *fakeLLM) Fast(context.Context, string, []llm.Message) (llm.Response, error) {
	return llm.Response{Text: f.text}, nil
}
func (f *fakeLLM) Deep(context.Context, string, []llm.Message) (llm.Response, error) {
	return llm.Response{Text: f.text}, nil
}
func (f *fakeLLM) Extract(context.Context, string, []llm.Message, any) error { return nil }

type fakeVectorBackend struct{}

func (fakeVectorBackend) Upsert(context.Context, string, string, []float32, map[string]string) error {
	return nil
}
func (fakeVectorBackend) Query(context.Context, string, []float32, int) ([]vectorstore.Result, error) {
	return nil, nil
}
func (fakeVectorBackend) Delete(context.Context, string, string) error { return nil }

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(context.Context, string) ([]float32, error) { return []float32{1, 2, 3}, nil }

func setup(t *testing.T, judgeText string) (*Patrol, *store.Store, *fakeMessenger, *sql.DB) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	_, err = db.Exec(testSchema)
	require.NoError(t, err)

	repos := store.New(db, zerolog.Nop())
	msgr := &fakeMessenger{}
	vs := vectorstore.New(fakeVectorBackend{}, fakeEmbedder{}, zerolog.Nop())
	mkt := market.New("", time.Second, zerolog.Nop())
	c := cache.New(nil, zerolog.Nop())
	manager := streammanager.New(repos.BaseStreams, c, mkt, zerolog.Nop())

	p := New(Repos{
		Users: repos.Users, Streams: repos.BaseStreams, Triggers: repos.UserTriggers,
		Signals: repos.Signals, Episodes: repos.Episodes, Trades: repos.Trades,
		Messages: repos.ChatMessages, PatrolLogs: repos.PatrolLogs,
	}, manager, nil, &fakeLLM{text: judgeText}, vs, msgr, nil, zerolog.Nop())

	return p, repos, msgr, db
}

func makeUser(t *testing.T, repos *store.Store, lastActive *time.Time) *domain.User {
	id, err := repos.Users.Create(&domain.User{ExternalID: "ext-1", Language: "en", OnboardingStage: 4, IsActive: true})
	require.NoError(t, err)
	u, err := repos.Users.GetByID(id)
	require.NoError(t, err)
	u.LastActiveAt = lastActive
	return u
}

func TestSkipThisHour_ActiveUserNeverSkipped(t *testing.T) {
	recentlyActive := time.Now().Add(-time.Hour)
	u := &domain.User{LastActiveAt: &recentlyActive}
	assert.False(t, skipThisHour(u, time.Now()))
}

func TestSkipThisHour_DormantUserSkippedOnOddHours(t *testing.T) {
	staleActive := time.Now().Add(-48 * time.Hour)
	u := &domain.User{LastActiveAt: &staleActive}
	oddHour := time.Date(2026, 1, 1, 13, 0, 0, 0, time.UTC)
	evenHour := time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC)
	assert.True(t, skipThisHour(u, oddHour))
	assert.False(t, skipThisHour(u, evenHour))
}

func TestSweep_SynthesizesTriggerForAnomalyOnTopSymbol(t *testing.T) {
	p, repos, msgr, _ := setup(t, "YES, resolved")
	u := makeUser(t, repos, nil)

	for i := 0; i < 2; i++ {
		_, err := repos.Trades.Create(&domain.Trade{
			UserID: u.ID, Exchange: "binance", Symbol: "BTCUSDT", Side: domain.TradeSideLong,
			EntryPrice: 100, Size: 1, Leverage: 1, Status: domain.TradeStatusOpen, OpenedAt: time.Now(),
		})
		require.NoError(t, err)
	}

	symbol := "BTCUSDT"
	streamID, err := repos.BaseStreams.Upsert(&domain.BaseStream{
		UserID: u.ID, StreamType: "price", Symbol: &symbol, Temperature: domain.TemperatureHot,
	})
	require.NoError(t, err)
	require.NoError(t, repos.BaseStreams.SetLastValue(streamID, map[string]any{"change_24h_pct": 25.0}))

	require.NoError(t, p.Sweep(context.Background(), time.Now()))

	triggers, err := repos.UserTriggers.ListActiveByUser(u.ID)
	require.NoError(t, err)
	require.Len(t, triggers, 1)
	assert.Equal(t, domain.TriggerSourcePatrol, triggers[0].Source)
	assert.NotEmpty(t, msgr.sent)

	logs, err := repos.PatrolLogs.ListRecentByUser(u.ID, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, logs, 1)
}

func TestEvaluateLLMTriggers_YesRetires(t *testing.T) {
	p, repos, msgr, _ := setup(t, "YES, this has resolved.")
	u := makeUser(t, repos, nil)

	prompt := "has it resolved?"
	trigID, err := repos.UserTriggers.Create(&domain.UserTrigger{
		UserID: u.ID, Kind: domain.TriggerLLMEvaluated, EvalPrompt: &prompt,
		Description: "watch X", Source: domain.TriggerSourcePatrol, IsActive: true,
	})
	require.NoError(t, err)
	require.NoError(t, repos.UserTriggers.MarkTriggered(trigID))

	actions, err := p.evaluateLLMTriggers(context.Background(), u)
	require.NoError(t, err)
	assert.NotEmpty(t, actions)
	assert.NotEmpty(t, msgr.sent)

	active, err := repos.UserTriggers.ListActiveByUser(u.ID)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestEvaluateLLMTriggers_NoReStampsWithoutRetiring(t *testing.T) {
	p, repos, _, _ := setup(t, "NO, still unresolved.")
	u := makeUser(t, repos, nil)

	prompt := "has it resolved?"
	trigID, err := repos.UserTriggers.Create(&domain.UserTrigger{
		UserID: u.ID, Kind: domain.TriggerLLMEvaluated, EvalPrompt: &prompt,
		Description: "watch X", Source: domain.TriggerSourcePatrol, IsActive: true,
	})
	require.NoError(t, err)
	require.NoError(t, repos.UserTriggers.MarkTriggered(trigID))

	actions, err := p.evaluateLLMTriggers(context.Background(), u)
	require.NoError(t, err)
	assert.Empty(t, actions)

	active, err := repos.UserTriggers.ListActiveByUser(u.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.NotNil(t, active[0].TriggeredAt)
}

func TestReconcileUnfollowedSignals_MarksStaleSignal(t *testing.T) {
	p, repos, _, db := setup(t, "")
	u := makeUser(t, repos, nil)

	signalID, err := repos.Signals.Create(&domain.Signal{
		UserID: u.ID, Kind: domain.SignalKindTradeSignal, Content: "go long",
	})
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE signals SET created_at = ? WHERE id = ?`,
		time.Now().Add(-48*time.Hour).UTC().Format("2006-01-02 15:04:05"), signalID)
	require.NoError(t, err)

	actions, err := p.reconcileUnfollowedSignals(context.Background(), u)
	require.NoError(t, err)
	assert.NotEmpty(t, actions)

	sig, err := repos.Signals.GetByID(signalID)
	require.NoError(t, err)
	require.NotNil(t, sig.TradeFollowed)
	assert.False(t, *sig.TradeFollowed)
}

var _ search.Provider = (*fakeSearcher)(nil)

type fakeSearcher struct{}

func (fakeSearcher) Search(context.Context, string) ([]search.Result, error) { return nil, nil }
