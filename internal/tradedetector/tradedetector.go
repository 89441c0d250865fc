// Package tradedetector implements the Trade Detector (C11): polling every
// active exchange connection for new fills and closed positions, inferring
// a reasoning hypothesis for each new open, and running the risk checks and
// position commentary that ride the same cadence.
package tradedetector

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/marketpulse/monitor/internal/cipher"
	"github.com/marketpulse/monitor/internal/domain"
	"github.com/marketpulse/monitor/internal/events"
	"github.com/marketpulse/monitor/internal/exchange"
	"github.com/marketpulse/monitor/internal/llm"
	"github.com/marketpulse/monitor/internal/messenger"
	"github.com/marketpulse/monitor/internal/store"
	"github.com/marketpulse/monitor/internal/vectorstore"
)

// PollWindow bounds how far back ListOrdersSince looks when a connection's
// last_polled_at is stale or unset, per §4.11 step 1.
const PollWindow = 5 * time.Minute

// DefaultDustThresholdPercent is used when configuration does not override it.
const DefaultDustThresholdPercent = 1.0

// FeedbackLearner is the narrow capability the detector needs from the
// Feedback Learner (C13) on every close. Declared here, not imported from
// there, so internal/feedback can depend on this package's types freely
// without creating an import cycle.
type FeedbackLearner interface {
	OnTradeClose(ctx context.Context, trade *domain.Trade) error
}

// exchangeFactory builds a credentialed Exchange client. Production wiring
// passes exchange.New; tests substitute a fake.
type exchangeFactory func(name, apiKey, apiSecret string, timeout time.Duration, log zerolog.Logger) (exchange.Exchange, error)

// Detector is the Trade Detector (C11).
type Detector struct {
	connections *store.ExchangeConnectionRepository
	trades      *store.TradeRepository
	principles  *store.PrincipleRepository
	episodes    *store.EpisodeRepository
	users       *store.UserRepository
	messages    *store.ChatMessageRepository

	cipher   *cipher.Cipher
	buildEx  exchangeFactory
	llmSrc   llm.Source
	vectors  *vectorstore.Store
	msgr     messenger.Messenger
	feedback FeedbackLearner
	events   *events.Manager
	dustPct  float64
	timeout  time.Duration
	log      zerolog.Logger
}

// Repos bundles the store dependencies Detector needs.
type Repos struct {
	Connections *store.ExchangeConnectionRepository
	Trades      *store.TradeRepository
	Principles  *store.PrincipleRepository
	Episodes    *store.EpisodeRepository
	Users       *store.UserRepository
	Messages    *store.ChatMessageRepository
}

// New builds a Detector using the real exchange.New factory. em may be nil,
// in which case detected opens and closes are not published.
func New(repos Repos, c *cipher.Cipher, llmSrc llm.Source, vectors *vectorstore.Store, msgr messenger.Messenger, feedback FeedbackLearner, em *events.Manager, dustThresholdPercent float64, timeout time.Duration, log zerolog.Logger) *Detector {
	if dustThresholdPercent <= 0 {
		dustThresholdPercent = DefaultDustThresholdPercent
	}
	return newWithFactory(repos, c, exchange.New, llmSrc, vectors, msgr, feedback, em, dustThresholdPercent, timeout, log)
}

func newWithFactory(repos Repos, c *cipher.Cipher, factory exchangeFactory, llmSrc llm.Source, vectors *vectorstore.Store, msgr messenger.Messenger, feedback FeedbackLearner, em *events.Manager, dustThresholdPercent float64, timeout time.Duration, log zerolog.Logger) *Detector {
	return &Detector{
		connections: repos.Connections, trades: repos.Trades, principles: repos.Principles,
		episodes: repos.Episodes, users: repos.Users, messages: repos.Messages,
		cipher: c, buildEx: factory, llmSrc: llmSrc, vectors: vectors, msgr: msgr, feedback: feedback, events: em,
		dustPct: dustThresholdPercent, timeout: timeout, log: log.With().Str("component", "tradedetector").Logger(),
	}
}

// Sweep polls every active exchange connection across every user in one
// pass, matching ExchangeConnectionRepository.ListAllActive's documented
// purpose. A failure on one connection is logged and does not stop the rest.
func (d *Detector) Sweep(ctx context.Context) error {
	conns, err := d.connections.ListAllActive()
	if err != nil {
		return fmt.Errorf("tradedetector: list active connections: %w", err)
	}
	for _, conn := range conns {
		if err := d.pollConnection(ctx, conn); err != nil {
			d.log.Warn().Err(err).Int64("connection_id", conn.ID).Msg("poll connection failed")
		}
	}
	return nil
}

func (d *Detector) pollConnection(ctx context.Context, conn *domain.ExchangeConnection) error {
	apiKey, err := d.decrypt(conn.EncryptedKey)
	if err != nil {
		return fmt.Errorf("decrypt api key: %w", err)
	}
	apiSecret, err := d.decrypt(conn.EncryptedSecret)
	if err != nil {
		return fmt.Errorf("decrypt api secret: %w", err)
	}

	ex, err := d.buildEx(conn.ExchangeName, apiKey, apiSecret, d.timeout, d.log)
	if err != nil {
		return fmt.Errorf("build exchange client: %w", err)
	}

	since := time.Now().Add(-PollWindow)
	if conn.LastPolledAt != nil && conn.LastPolledAt.After(since) {
		since = *conn.LastPolledAt
	}

	orders, err := ex.ListOrdersSince(ctx, since.UnixMilli())
	if err != nil {
		return fmt.Errorf("list orders: %w", err)
	}
	balances, err := ex.FetchBalances(ctx)
	if err != nil {
		return fmt.Errorf("fetch balances: %w", err)
	}

	if err := d.detectOpens(ctx, conn, orders, balances); err != nil {
		d.log.Warn().Err(err).Msg("detect opens failed")
	}
	if err := d.connections.TouchPolled(conn.ID); err != nil {
		d.log.Warn().Err(err).Msg("touch polled failed")
	}
	if err := d.detectCloses(ctx, conn, ex, balances); err != nil {
		d.log.Warn().Err(err).Msg("detect closes failed")
	}
	return nil
}

// decrypt reverses the base64-then-AES-GCM sealing ExchangeConnectionRepository
// rows carry: EncryptedKey/EncryptedSecret are base64 text so the ciphertext
// (which is arbitrary binary) fits the column's TEXT type.
func (d *Detector) decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	plaintext, err := d.cipher.Decrypt(raw)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// detectOpens filters dust and transfer-type orders, dedups against
// existing trades, and persists genuinely new opens.
func (d *Detector) detectOpens(ctx context.Context, conn *domain.ExchangeConnection, orders []exchange.Order, balances map[string]float64) error {
	var totalBatchValue float64
	for _, o := range orders {
		totalBatchValue += o.Cost
	}

	for _, o := range orders {
		if isTransferType(o.Status) {
			continue
		}
		if totalBatchValue > 0 && (o.Cost/totalBatchValue*100) < d.dustPct {
			continue
		}
		openedAt := time.UnixMilli(o.TimestampMS).UTC()

		existing, err := d.trades.FindDedupMatch(conn.UserID, conn.ExchangeName, o.Symbol, openedAt)
		if err != nil {
			d.log.Warn().Err(err).Msg("dedup lookup failed")
			continue
		}
		if existing != nil {
			continue
		}
		if o.Amount == 0 {
			continue
		}

		side := domain.TradeSideLong
		if o.Side == "sell" {
			side = domain.TradeSideShort
		}

		trade := &domain.Trade{
			UserID: conn.UserID, Exchange: conn.ExchangeName, Symbol: o.Symbol, Side: side,
			EntryPrice: o.Cost / o.Amount, Size: o.Amount, Leverage: 1, Status: domain.TradeStatusOpen,
			OpenedAt: openedAt,
		}

		tradeID, err := d.trades.Create(trade)
		if err != nil {
			d.log.Warn().Err(err).Msg("persist new trade failed")
			continue
		}
		trade.ID = tradeID
		d.events.EmitTyped("tradedetector", &events.TradeDetectedData{
			TradeID: tradeID, UserID: conn.UserID, Exchange: conn.ExchangeName, Symbol: trade.Symbol,
			Side: trade.Side, Quantity: trade.Size, Price: trade.EntryPrice,
		})

		reasoning, err := d.inferReasoning(ctx, conn.UserID, trade)
		if err != nil {
			d.log.Warn().Err(err).Msg("reasoning inference failed")
			reasoning = ""
		}
		if reasoning != "" {
			if err := d.trades.SetReasoning(tradeID, &reasoning, nil, nil); err != nil {
				d.log.Warn().Err(err).Msg("persist inferred reasoning failed")
			}
		}

		text := fmt.Sprintf("New %s position detected on %s %s at %.6g. %s", trade.Side, conn.ExchangeName, trade.Symbol, trade.EntryPrice, reasoning)
		if _, err := d.messages.Append(&domain.ChatMessage{
			UserID: conn.UserID, Role: domain.ChatRoleAssistant, Content: text, MessageType: "trade_open",
		}); err != nil {
			d.log.Warn().Err(err).Msg("log trade open message failed")
		}
		kb := &messenger.Keyboard{Buttons: []string{"Confirm", "That's not why"}}
		if err := d.msgr.SendText(ctx, "", text, kb); err != nil {
			d.log.Warn().Err(err).Msg("send trade open message failed")
		}
	}
	return nil
}

// closeThresholdRatio is how small a remaining balance has to be, relative
// to the trade's original size, before a position counts as closed.
const closeThresholdRatio = 0.10

// detectCloses checks every open trade on this connection's exchange against
// the freshly-fetched balances: a remaining balance under 10% of the trade's
// original size is treated as a close. On close it records the exit, runs
// the Feedback Learner hand-off, creates an Episode, runs risk checks, and
// emits commentary, in that order.
func (d *Detector) detectCloses(ctx context.Context, conn *domain.ExchangeConnection, ex exchange.Exchange, balances map[string]float64) error {
	open, err := d.trades.ListOpenByUser(conn.UserID)
	if err != nil {
		return fmt.Errorf("list open trades: %w", err)
	}

	for _, trade := range open {
		if trade.Exchange != conn.ExchangeName {
			continue
		}
		asset := baseAsset(conn.ExchangeName, trade.Symbol)
		remaining := balances[asset]
		if remaining >= trade.Size*closeThresholdRatio {
			continue
		}

		exitPrice, err := ex.FetchTicker(ctx, trade.Symbol)
		if err != nil {
			d.log.Warn().Err(err).Int64("trade_id", trade.ID).Msg("fetch ticker for close failed")
			continue
		}

		pnlPercent, pnlAmount := closePnL(trade, exitPrice)
		closedAt := time.Now().UTC()
		if err := d.trades.Close(trade.ID, exitPrice, pnlPercent, pnlAmount, closedAt); err != nil {
			d.log.Warn().Err(err).Int64("trade_id", trade.ID).Msg("persist close failed")
			continue
		}
		trade.ExitPrice = &exitPrice
		trade.PnLPercent = &pnlPercent
		trade.PnLAmount = &pnlAmount
		trade.Status = domain.TradeStatusClosed
		trade.ClosedAt = &closedAt

		if d.feedback != nil {
			if err := d.feedback.OnTradeClose(ctx, trade); err != nil {
				d.log.Warn().Err(err).Int64("trade_id", trade.ID).Msg("feedback learner close hook failed")
			}
		}

		episode := &domain.Episode{
			UserID:        conn.UserID,
			Kind:          domain.EpisodeKindTrade,
			UserAction:    "trade_closed",
			EmbeddingText: fmt.Sprintf("Closed %s %s at %.6g, pnl_percent=%.4g", trade.Side, trade.Symbol, exitPrice, pnlPercent),
		}
		ns := ""
		if user, err := d.users.GetByID(conn.UserID); err == nil && user != nil {
			ns = vectorstore.Namespace(user.ExternalID)
		}
		episodeID, err := d.episodes.CreateWithVectorUpsert(ctx, episode, ns, d.vectors)
		if err != nil {
			d.log.Warn().Err(err).Msg("create close episode failed")
		} else if err := d.trades.SetEpisode(trade.ID, episodeID); err != nil {
			d.log.Warn().Err(err).Msg("link trade to episode failed")
		}

		d.emitRiskAndCommentary(ctx, conn.UserID, trade)
	}
	return nil
}

// closePnL computes percent PnL with the side's sign (a short gains when the
// exit is below entry) and absolute PnL as (exit-entry)*size for every side.
func closePnL(trade *domain.Trade, exitPrice float64) (percent, amount float64) {
	switch trade.Side {
	case domain.TradeSideShort, domain.TradeSideSell:
		percent = (trade.EntryPrice - exitPrice) / trade.EntryPrice * 100
	default:
		percent = (exitPrice - trade.EntryPrice) / trade.EntryPrice * 100
	}
	amount = (exitPrice - trade.EntryPrice) * trade.Size
	return percent, amount
}

func isTransferType(status string) bool {
	switch strings.ToLower(status) {
	case "deposit", "withdrawal", "transfer":
		return true
	default:
		return false
	}
}

// baseAsset extracts the balance-sheet asset code from a venue-formatted
// symbol, one rule per adapter's own symbol convention.
func baseAsset(exchangeName, symbol string) string {
	switch exchangeName {
	case "binance":
		for _, quote := range []string{"USDT", "BUSD", "USDC"} {
			if strings.HasSuffix(symbol, quote) {
				return strings.TrimSuffix(symbol, quote)
			}
		}
		return symbol
	case "upbit":
		parts := strings.SplitN(symbol, "-", 2)
		if len(parts) == 2 {
			return parts[1]
		}
		return symbol
	case "bithumb":
		parts := strings.SplitN(symbol, "_", 2)
		return parts[0]
	default:
		return symbol
	}
}
