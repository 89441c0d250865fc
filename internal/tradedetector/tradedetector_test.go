package tradedetector

import (
	"context"
	"database/sql"
	"encoding/base64"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketpulse/monitor/internal/cipher"
	"github.com/marketpulse/monitor/internal/domain"
	"github.com/marketpulse/monitor/internal/exchange"
	"github.com/marketpulse/monitor/internal/llm"
	"github.com/marketpulse/monitor/internal/messenger"
	"github.com/marketpulse/monitor/internal/store"
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
CREATE TABLE exchange_connections (
	id INTEGER PRIMARY KEY,
	user_id INTEGER NOT NULL,
	exchange_name TEXT NOT NULL,
	encrypted_key TEXT NOT NULL,
	encrypted_secret TEXT NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 1,
	last_polled_at TEXT,
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
CREATE TABLE principles (
	id INTEGER PRIMARY KEY,
	user_id INTEGER NOT NULL,
	text TEXT NOT NULL,
	source TEXT NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 1,
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

type fakeFeedback struct{ closed []int64 }

func (f *fakeFeedback) OnTradeClose(_ context.Context, t *domain.Trade) error {
	f.closed = append(f.closed, t.ID)
	return nil
}

// fakeExchange lets tests script orders, balances, and ticker prices without
// any network access.
type fakeExchange struct {
	orders    []exchange.Order
	balances  map[string]float64
	ticker    float64
	tickerErr error
}

func (f *fakeExchange) ListOrdersSince(context.Context, int64) ([]exchange.Order, error) {
	return f.orders, nil
}
func (f *fakeExchange) FetchBalances(context.Context) (map[string]float64, error) {
	return f.balances, nil
}
func (f *fakeExchange) FetchPositions(context.Context) ([]exchange.Position, error) { return nil, nil }
func (f *fakeExchange) FetchTicker(context.Context, string) (float64, error) {
	return f.ticker, f.tickerErr
}

func setup(t *testing.T, ex *fakeExchange) (*Detector, *store.Store, *fakeMessenger, *fakeFeedback, *cipher.Cipher) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	_, err = db.Exec(testSchema)
	require.NoError(t, err)

	repos := store.New(db, zerolog.Nop())
	msgr := &fakeMessenger{}
	fb := &fakeFeedback{}
	vs := vectorstore.New(fakeVectorBackend{}, fakeEmbedder{}, zerolog.Nop())

	key := make([]byte, cipher.KeySize)
	c, err := cipher.New(key)
	require.NoError(t, err)

	factory := func(string, string, string, time.Duration, zerolog.Logger) (exchange.Exchange, error) {
		return ex, nil
	}

	d := newWithFactory(Repos{
		Connections: repos.ExchangeConnections, Trades: repos.Trades, Principles: repos.Principles,
		Episodes: repos.Episodes, Users: repos.Users, Messages: repos.ChatMessages,
	}, c, factory, &fakeLLM{text: "long, confidence 70%"}, vs, msgr, fb, nil, 1.0, time.Second, zerolog.Nop())

	return d, repos, msgr, fb, c
}

func encryptedColumn(t *testing.T, c *cipher.Cipher, plaintext string) string {
	ct, err := c.Encrypt([]byte(plaintext))
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(ct)
}

func makeUser(t *testing.T, repos *store.Store) *domain.User {
	id, err := repos.Users.Create(&domain.User{ExternalID: "ext-1", Language: "en", OnboardingStage: 4, IsActive: true})
	require.NoError(t, err)
	u, err := repos.Users.GetByID(id)
	require.NoError(t, err)
	return u
}

func TestSweep_DetectsNewOpenAndInfersReasoning(t *testing.T) {
	ex := &fakeExchange{
		orders: []exchange.Order{
			{Symbol: "BTCUSDT", Side: "buy", Amount: 0.01, Cost: 500, TimestampMS: time.Now().UnixMilli(), Status: "closed"},
		},
		balances: map[string]float64{"BTC": 0.01},
	}
	d, repos, msgr, _, c := setup(t, ex)
	u := makeUser(t, repos)

	_, err := repos.ExchangeConnections.Create(&domain.ExchangeConnection{
		UserID: u.ID, ExchangeName: "binance",
		EncryptedKey:    encryptedColumn(t, c, "key"),
		EncryptedSecret: encryptedColumn(t, c, "secret"),
		IsActive:        true,
	})
	require.NoError(t, err)

	require.NoError(t, d.Sweep(context.Background()))

	open, err := repos.Trades.ListOpenByUser(u.ID)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, domain.TradeSideLong, open[0].Side)
	assert.InDelta(t, 50000, open[0].EntryPrice, 0.01)
	assert.NotEmpty(t, msgr.sent)
}

func TestSweep_SkipsDustOrders(t *testing.T) {
	ex := &fakeExchange{
		orders: []exchange.Order{
			{Symbol: "BTCUSDT", Side: "buy", Amount: 1, Cost: 10000, TimestampMS: time.Now().UnixMilli(), Status: "closed"},
			{Symbol: "ETHUSDT", Side: "buy", Amount: 0.001, Cost: 3, TimestampMS: time.Now().UnixMilli(), Status: "closed"},
		},
		balances: map[string]float64{"BTC": 1, "ETH": 0.001},
	}
	d, repos, _, _, c := setup(t, ex)
	u := makeUser(t, repos)
	_, err := repos.ExchangeConnections.Create(&domain.ExchangeConnection{
		UserID: u.ID, ExchangeName: "binance",
		EncryptedKey: encryptedColumn(t, c, "key"), EncryptedSecret: encryptedColumn(t, c, "secret"), IsActive: true,
	})
	require.NoError(t, err)

	require.NoError(t, d.Sweep(context.Background()))

	open, err := repos.Trades.ListOpenByUser(u.ID)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "BTCUSDT", open[0].Symbol)
}

func TestSweep_DetectsCloseAndRunsFeedback(t *testing.T) {
	ex := &fakeExchange{balances: map[string]float64{"BTC": 0}, ticker: 52000}
	d, repos, msgr, fb, c := setup(t, ex)
	u := makeUser(t, repos)
	connID, err := repos.ExchangeConnections.Create(&domain.ExchangeConnection{
		UserID: u.ID, ExchangeName: "binance",
		EncryptedKey: encryptedColumn(t, c, "key"), EncryptedSecret: encryptedColumn(t, c, "secret"), IsActive: true,
	})
	require.NoError(t, err)
	_ = connID

	tradeID, err := repos.Trades.Create(&domain.Trade{
		UserID: u.ID, Exchange: "binance", Symbol: "BTCUSDT", Side: domain.TradeSideLong,
		EntryPrice: 50000, Size: 0.01, Leverage: 1, Status: domain.TradeStatusOpen, OpenedAt: time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)

	require.NoError(t, d.Sweep(context.Background()))

	closedTrades, err := repos.Trades.ListRecentClosedByUser(u.ID, 5)
	require.NoError(t, err)
	require.Len(t, closedTrades, 1)
	assert.Equal(t, tradeID, closedTrades[0].ID)
	require.NotNil(t, closedTrades[0].PnLPercent)
	assert.Greater(t, *closedTrades[0].PnLPercent, 0.0)
	require.NotNil(t, closedTrades[0].PnLAmount)
	assert.InDelta(t, 20.0, *closedTrades[0].PnLAmount, 1e-9)
	assert.Contains(t, fb.closed, tradeID)
	assert.NotEmpty(t, msgr.sent)
}

func TestBaseAsset_ParsesEachVenue(t *testing.T) {
	assert.Equal(t, "BTC", baseAsset("binance", "BTCUSDT"))
	assert.Equal(t, "BTC", baseAsset("upbit", "KRW-BTC"))
	assert.Equal(t, "BTC", baseAsset("bithumb", "BTC_KRW"))
}

func TestClosePnL_LongTradeProfitIsPositive(t *testing.T) {
	trade := &domain.Trade{Side: domain.TradeSideLong, EntryPrice: 100, Size: 10}
	percent, amount := closePnL(trade, 110)
	assert.InDelta(t, 10.0, percent, 1e-9)
	assert.InDelta(t, 100.0, amount, 1e-9)
}

func TestClosePnL_ShortTradeAmountMatchesUnconditionalFormula(t *testing.T) {
	trade := &domain.Trade{Side: domain.TradeSideShort, EntryPrice: 100, Size: 10}
	percent, amount := closePnL(trade, 90)
	assert.InDelta(t, 10.0, percent, 1e-9, "price dropped 10%% below entry, a short profits")
	assert.InDelta(t, -100.0, amount, 1e-9, "pnl_amount is (exit-entry)*size regardless of side")
}

func TestLeadingLossStreak_StopsAtFirstWin(t *testing.T) {
	loss := -1.0
	win := 2.0
	recent := []*domain.Trade{
		{PnLPercent: &loss}, {PnLPercent: &loss}, {PnLPercent: &win}, {PnLPercent: &loss},
	}
	assert.Equal(t, 2, leadingLossStreak(recent))
}
