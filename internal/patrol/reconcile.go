package patrol

import (
	"context"
	"fmt"
	"time"

	"github.com/marketpulse/monitor/internal/domain"
	"github.com/marketpulse/monitor/internal/vectorstore"
)

// staleSignalWindow is the "older than 24h" threshold from §4.12 step 6.
const staleSignalWindow = 24 * time.Hour

// reconcileUnfollowedSignals implements §4.12 step 6: a signal old enough
// that the user never acted on it is marked trade_followed=false and gets a
// feedback episode so the learner sees the non-action as data too.
func (p *Patrol) reconcileUnfollowedSignals(ctx context.Context, u *domain.User) ([]string, error) {
	signals, err := p.signals.ListUnresolvedByUser(u.ID)
	if err != nil {
		return nil, fmt.Errorf("list unresolved signals: %w", err)
	}

	var actions []string
	now := time.Now()
	for _, s := range signals {
		if s.TradeFollowed != nil {
			continue
		}
		if now.Sub(s.CreatedAt) < staleSignalWindow {
			continue
		}

		if err := p.signals.RecordOutcome(s.ID, false, nil); err != nil {
			p.log.Warn().Err(err).Int64("signal_id", s.ID).Msg("record unfollowed outcome failed")
			continue
		}

		episode := &domain.Episode{
			UserID:        u.ID,
			Kind:          domain.EpisodeKindFeedback,
			UserAction:    "signal_unfollowed",
			TradeResult:   map[string]any{"result": "unfollowed"},
			EmbeddingText: fmt.Sprintf("Signal %d went unfollowed: %s", s.ID, s.Content),
		}
		if _, err := p.episodes.CreateWithVectorUpsert(ctx, episode, vectorstore.Namespace(u.ExternalID), p.vectors); err != nil {
			p.log.Warn().Err(err).Msg("create unfollowed-signal episode failed")
		}
		actions = append(actions, fmt.Sprintf("marked signal %d unfollowed", s.ID))
	}
	return actions, nil
}
