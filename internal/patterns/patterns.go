// Package patterns implements the derived-only trade-pattern and
// sync-rate projections: read models computed on demand from a user's
// Trade, Signal, Principle, ExchangeConnection, Episode, and ChatMessage
// history. Neither projection is itself persisted.
package patterns

import (
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/marketpulse/monitor/internal/domain"
	"github.com/marketpulse/monitor/internal/store"
)

// syncLookback bounds the "recent" window for the conversation-frequency
// sub-score of the sync rate.
const syncLookback = 7 * 24 * time.Hour

// Thresholds the reference report tunes its scoring against.
const (
	connectionTarget = 3.0
	principleTarget  = 5.0
	episodeTarget    = 50.0
	messageTarget    = 20.0
	minJudgedSignals = 5
)

// SymbolCount is one entry of the top-traded-symbols ranking.
type SymbolCount struct {
	Symbol string
	Count  int
}

// TimeBucket is one of the four 6-hour trading-hour buckets.
type TimeBucket struct {
	Label string
	Count int
}

// Report is the full derived trade-pattern projection for one user.
type Report struct {
	TopSymbols      []SymbolCount
	FuturesRatio    float64
	AvgHoldHours    float64
	WinRate         float64
	AvgWin          float64
	AvgLoss         float64
	MaxWin          float64
	MaxLoss         float64
	TotalTrades     int
	TimeDistribution []TimeBucket
	AvgStopLoss     float64
	AvgTakeProfit   float64
	LateStopRatio   float64
	EarlyTPRatio    float64
}

// SyncRate is the judgement-and-learning composite read model.
type SyncRate struct {
	Rate    float64
	Learning LearningScore
	Judge   *JudgeScore // nil when fewer than minJudgedSignals signals carry a verdict
}

// LearningScore is the 40%-weighted "how much has the system learned this
// user" half of the sync rate.
type LearningScore struct {
	Score           float64
	Connections     int
	Principles      int
	Episodes        int
	RecentMessages7d int
}

// JudgeScore is the 60%-weighted "how well did the system's judgement hold
// up" half of the sync rate. Present only once the user has given an
// explicit agree/disagree verdict on at least minJudgedSignals signals.
type JudgeScore struct {
	Score        float64
	JudgedTotal  int
	Agreed       int
	AgreePct     float64
	Followed     int
	FollowPct    float64
	ReasoningTotal int
	CorrectReasoning int
	ReasonPct    float64
}

// Repos bundles the store dependencies pattern analysis reads.
type Repos struct {
	Trades      *store.TradeRepository
	Signals     *store.SignalRepository
	Principles  *store.PrincipleRepository
	Connections *store.ExchangeConnectionRepository
	Episodes    *store.EpisodeRepository
	Messages    *store.ChatMessageRepository
}

// Analyzer computes the Patterns and Sync Rate read models.
type Analyzer struct {
	repos Repos
}

// New builds an Analyzer.
func New(repos Repos) *Analyzer {
	return &Analyzer{repos: repos}
}

// AnalyzePatterns computes the full trade-pattern Report for a user. An
// empty trade history returns a zero-valued Report with TotalTrades=0,
// matching the reference report's empty-state shape rather than an error.
func (a *Analyzer) AnalyzePatterns(userID int64) (*Report, error) {
	trades, err := a.repos.Trades.ListAllByUser(userID)
	if err != nil {
		return nil, fmt.Errorf("patterns: list trades for user %d: %w", userID, err)
	}
	if len(trades) == 0 {
		return &Report{TimeDistribution: emptyTimeBuckets()}, nil
	}

	report := &Report{
		TotalTrades:      len(trades),
		TopSymbols:       topSymbols(trades),
		FuturesRatio:     futuresRatio(trades),
		TimeDistribution: timeDistribution(trades),
	}

	closed := closedWithPnL(trades)
	wins, losses := splitWinsLosses(closed)

	if len(closed) > 0 {
		report.WinRate = float64(len(wins)) / float64(len(closed))
	}
	report.AvgWin = meanOf(pnlValues(wins))
	report.AvgLoss = meanOf(pnlValues(losses))
	report.MaxWin = maxOf(pnlValues(wins))
	report.MaxLoss = minOf(pnlValues(losses))
	report.AvgHoldHours = avgHoldHours(closed)

	lossValues := pnlValues(losses)
	winValues := pnlValues(wins)
	report.AvgStopLoss = meanOf(lossValues)
	report.AvgTakeProfit = meanOf(winValues)
	report.LateStopRatio = lateStopRatio(lossValues, report.AvgStopLoss, len(losses))
	report.EarlyTPRatio = earlyTPRatio(winValues, report.AvgTakeProfit, len(wins))

	return report, nil
}

func topSymbols(trades []*domain.Trade) []SymbolCount {
	counts := map[string]int{}
	for _, t := range trades {
		counts[t.Symbol]++
	}
	out := make([]SymbolCount, 0, len(counts))
	for sym, n := range counts {
		out = append(out, SymbolCount{Symbol: sym, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Symbol < out[j].Symbol
	})
	if len(out) > 5 {
		out = out[:5]
	}
	return out
}

func futuresRatio(trades []*domain.Trade) float64 {
	n := 0
	for _, t := range trades {
		if t.Side == domain.TradeSideLong || t.Side == domain.TradeSideShort || t.Leverage > 1 {
			n++
		}
	}
	return float64(n) / float64(len(trades))
}

func closedWithPnL(trades []*domain.Trade) []*domain.Trade {
	var out []*domain.Trade
	for _, t := range trades {
		if t.Status == domain.TradeStatusClosed && t.PnLPercent != nil {
			out = append(out, t)
		}
	}
	return out
}

func splitWinsLosses(closed []*domain.Trade) (wins, losses []*domain.Trade) {
	for _, t := range closed {
		switch {
		case *t.PnLPercent > 0:
			wins = append(wins, t)
		case *t.PnLPercent < 0:
			losses = append(losses, t)
		}
	}
	return wins, losses
}

func pnlValues(trades []*domain.Trade) []float64 {
	out := make([]float64, len(trades))
	for i, t := range trades {
		out[i] = *t.PnLPercent
	}
	return out
}

func avgHoldHours(closed []*domain.Trade) float64 {
	var hours []float64
	for _, t := range closed {
		if t.ClosedAt == nil {
			continue
		}
		hours = append(hours, t.ClosedAt.Sub(t.OpenedAt).Hours())
	}
	return meanOf(hours)
}

func emptyTimeBuckets() []TimeBucket {
	return []TimeBucket{
		{Label: "00-06"}, {Label: "06-12"}, {Label: "12-18"}, {Label: "18-24"},
	}
}

func timeDistribution(trades []*domain.Trade) []TimeBucket {
	buckets := emptyTimeBuckets()
	for _, t := range trades {
		hour := t.OpenedAt.Hour()
		switch {
		case hour < 6:
			buckets[0].Count++
		case hour < 12:
			buckets[1].Count++
		case hour < 18:
			buckets[2].Count++
		default:
			buckets[3].Count++
		}
	}
	return buckets
}

// lateStopRatio flags losses cut deeper than twice the average loss — a
// "held on too long" habit. Only meaningful once the average loss itself
// is negative; an all-zero or empty loss set reports 0.
func lateStopRatio(lossValues []float64, avgStopLoss float64, lossCount int) float64 {
	if lossCount == 0 || avgStopLoss >= 0 {
		return 0
	}
	n := 0
	for _, v := range lossValues {
		if v < avgStopLoss*2 {
			n++
		}
	}
	return float64(n) / float64(lossCount)
}

// earlyTPRatio flags wins taken below half the average win — a "sold too
// soon" habit. Only meaningful once the average win itself is positive.
func earlyTPRatio(winValues []float64, avgTakeProfit float64, winCount int) float64 {
	if winCount == 0 || avgTakeProfit <= 0 {
		return 0
	}
	n := 0
	for _, v := range winValues {
		if v < avgTakeProfit*0.5 {
			n++
		}
	}
	return float64(n) / float64(winCount)
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return stat.Mean(xs, nil)
}

func maxOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return floats.Max(xs)
}

func minOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return floats.Min(xs)
}

// SyncRate computes round(0.4*learning + 0.6*judgement, 1). The judgement
// half is nil, not zero, until the user has passed verdict on at least
// minJudgedSignals signals — the composite score still computes against
// a zero judge contribution in that case, matching the reference report's
// "insufficient data" state.
func (a *Analyzer) SyncRate(userID int64, now time.Time) (*SyncRate, error) {
	learning, err := a.learningScore(userID, now)
	if err != nil {
		return nil, err
	}
	judge, err := a.judgeScore(userID)
	if err != nil {
		return nil, err
	}

	judgeContribution := 0.0
	if judge != nil {
		judgeContribution = judge.Score
	}
	rate := round1(0.4*learning.Score + 0.6*judgeContribution)

	return &SyncRate{Rate: rate, Learning: *learning, Judge: judge}, nil
}

func (a *Analyzer) learningScore(userID int64, now time.Time) (*LearningScore, error) {
	connections, err := a.repos.Connections.ListActiveByUser(userID)
	if err != nil {
		return nil, fmt.Errorf("patterns: list connections for user %d: %w", userID, err)
	}
	principles, err := a.repos.Principles.ListActiveByUser(userID)
	if err != nil {
		return nil, fmt.Errorf("patterns: list principles for user %d: %w", userID, err)
	}
	episodeCount, err := a.repos.Episodes.CountByUser(userID)
	if err != nil {
		return nil, fmt.Errorf("patterns: count episodes for user %d: %w", userID, err)
	}
	msgCount, err := a.repos.Messages.CountUserMessagesSince(userID, now.Add(-syncLookback))
	if err != nil {
		return nil, fmt.Errorf("patterns: count recent messages for user %d: %w", userID, err)
	}

	score := 25*min1(float64(len(connections))/connectionTarget) +
		25*min1(float64(len(principles))/principleTarget) +
		30*min1(float64(episodeCount)/episodeTarget) +
		20*min1(float64(msgCount)/messageTarget)

	return &LearningScore{
		Score:            round1(score),
		Connections:      len(connections),
		Principles:       len(principles),
		Episodes:         episodeCount,
		RecentMessages7d: msgCount,
	}, nil
}

func (a *Analyzer) judgeScore(userID int64) (*JudgeScore, error) {
	judged, err := a.repos.Signals.ListJudgedByUser(userID)
	if err != nil {
		return nil, fmt.Errorf("patterns: list judged signals for user %d: %w", userID, err)
	}
	if len(judged) < minJudgedSignals {
		return nil, nil
	}

	agreed, followed := 0, 0
	for _, s := range judged {
		if s.UserAgreed != nil && *s.UserAgreed {
			agreed++
		}
		if s.TradeFollowed != nil && *s.TradeFollowed {
			followed++
		}
	}
	agreePct := pct(agreed, len(judged))
	followPct := pct(followed, len(judged))

	trades, err := a.repos.Trades.ListAllByUser(userID)
	if err != nil {
		return nil, fmt.Errorf("patterns: list trades for user %d: %w", userID, err)
	}
	reasoningTotal, correct := 0, 0
	for _, t := range trades {
		if t.UserConfirmedReasoning == nil {
			continue
		}
		reasoningTotal++
		if *t.UserConfirmedReasoning == domain.ReasoningConfirmed {
			correct++
		}
	}
	reasonPct := pct(correct, reasoningTotal)

	score := round1(0.4*agreePct + 0.3*followPct + 0.3*reasonPct)

	return &JudgeScore{
		Score:            score,
		JudgedTotal:      len(judged),
		Agreed:           agreed,
		AgreePct:         round1(agreePct),
		Followed:         followed,
		FollowPct:        round1(followPct),
		ReasoningTotal:   reasoningTotal,
		CorrectReasoning: correct,
		ReasonPct:        round1(reasonPct),
	}, nil
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

func min1(x float64) float64 {
	if x > 1 {
		return 1
	}
	return x
}

func round1(x float64) float64 {
	return float64(int(x*10+0.5)) / 10
}
