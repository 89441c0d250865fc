package store

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketpulse/monitor/internal/domain"
)

const storeTestSchema = `
PRAGMA foreign_keys = ON;
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
CREATE TABLE user_triggers (
	id INTEGER PRIMARY KEY,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
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
`

func newTestStore(t *testing.T) *Store {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(storeTestSchema)
	require.NoError(t, err)
	return New(db, zerolog.Nop())
}

func createTestUser(t *testing.T, s *Store, onboardingStage int, isActive bool) int64 {
	id, err := s.Users.Create(&domain.User{
		ExternalID: "ext-1", Language: "en", OnboardingStage: onboardingStage, IsActive: isActive,
	})
	require.NoError(t, err)
	return id
}

func TestUserRepository_CreateAndGetByID(t *testing.T) {
	s := newTestStore(t)
	id := createTestUser(t, s, 4, true)

	u, err := s.Users.GetByID(id)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "ext-1", u.ExternalID)
	assert.True(t, u.IsActive)
	assert.Equal(t, 4, u.OnboardingStage)
}

func TestUserRepository_GetByExternalID(t *testing.T) {
	s := newTestStore(t)
	createTestUser(t, s, 4, true)

	u, err := s.Users.GetByExternalID("ext-1")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "ext-1", u.ExternalID)
}

func TestUserRepository_GetByID_NoRowsReturnsNilNoError(t *testing.T) {
	s := newTestStore(t)
	u, err := s.Users.GetByID(999)
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestUserRepository_ListMonitored_FiltersByStageAndActive(t *testing.T) {
	s := newTestStore(t)
	monitoredID := createTestUser(t, s, 4, true)
	_, err := s.db.Exec(`UPDATE users SET external_id = 'monitored' WHERE id = ?`, monitoredID)
	require.NoError(t, err)

	_, err = s.Users.Create(&domain.User{ExternalID: "mid-onboarding", Language: "en", OnboardingStage: 2, IsActive: true})
	require.NoError(t, err)
	_, err = s.Users.Create(&domain.User{ExternalID: "inactive", Language: "en", OnboardingStage: 5, IsActive: false})
	require.NoError(t, err)

	users, err := s.Users.ListMonitored()
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "monitored", users[0].ExternalID)
}

func TestUserRepository_IncrementAndResetDailySignalCount(t *testing.T) {
	s := newTestStore(t)
	id := createTestUser(t, s, 4, true)

	require.NoError(t, s.Users.IncrementDailySignalCount(id))
	require.NoError(t, s.Users.IncrementDailySignalCount(id))
	u, err := s.Users.GetByID(id)
	require.NoError(t, err)
	assert.Equal(t, 2, u.DailySignalCount)

	affected, err := s.Users.ResetDailySignalCounts()
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	u, err = s.Users.GetByID(id)
	require.NoError(t, err)
	assert.Equal(t, 0, u.DailySignalCount)
}

func TestUserRepository_ResetQuotaIfStale(t *testing.T) {
	s := newTestStore(t)
	id := createTestUser(t, s, 4, true)
	today := time.Now().UTC()

	// daily_signal_reset_at starts NULL, which ResetQuotaIfStale always
	// treats as stale, so the first call establishes today's baseline.
	require.NoError(t, s.Users.IncrementDailySignalCount(id))
	require.NoError(t, s.Users.ResetQuotaIfStale(id, today))
	u, err := s.Users.GetByID(id)
	require.NoError(t, err)
	assert.Equal(t, 0, u.DailySignalCount)
	require.NotNil(t, u.DailySignalResetAt)

	require.NoError(t, s.Users.IncrementDailySignalCount(id))
	require.NoError(t, s.Users.ResetQuotaIfStale(id, today))
	u, err = s.Users.GetByID(id)
	require.NoError(t, err)
	assert.Equal(t, 1, u.DailySignalCount, "same calendar day must not reset again")

	tomorrow := today.AddDate(0, 0, 1)
	require.NoError(t, s.Users.ResetQuotaIfStale(id, tomorrow))
	u, err = s.Users.GetByID(id)
	require.NoError(t, err)
	assert.Equal(t, 0, u.DailySignalCount)
}

func TestUserRepository_UpdateStyle(t *testing.T) {
	s := newTestStore(t)
	id := createTestUser(t, s, 4, true)

	raw, parsed := "terse, data-driven", "style:terse"
	require.NoError(t, s.Users.UpdateStyle(id, &raw, &parsed))

	u, err := s.Users.GetByID(id)
	require.NoError(t, err)
	require.NotNil(t, u.StyleRaw)
	assert.Equal(t, raw, *u.StyleRaw)
}

func TestStore_DeleteUser_CascadesToTriggers(t *testing.T) {
	s := newTestStore(t)
	id := createTestUser(t, s, 4, true)

	_, err := s.UserTriggers.Create(&domain.UserTrigger{
		UserID: id, Kind: "signal", Description: "BTC above 100k", Source: domain.TriggerSourceUserRequest, IsActive: true,
	})
	require.NoError(t, err)

	require.NoError(t, s.DeleteUser(id))

	triggers, err := s.UserTriggers.ListActiveByUser(id)
	require.NoError(t, err)
	assert.Empty(t, triggers)
}

func TestUserTriggerRepository_CreateAndListActiveByUser(t *testing.T) {
	s := newTestStore(t)
	id := createTestUser(t, s, 4, true)

	_, err := s.UserTriggers.Create(&domain.UserTrigger{
		UserID: id, Kind: "signal", BaseStreamsNeeded: []string{"price/BTC", "price/ETH"},
		Description: "BTC above 100k", Source: domain.TriggerSourceLLMAuto, IsActive: true,
	})
	require.NoError(t, err)

	triggers, err := s.UserTriggers.ListActiveByUser(id)
	require.NoError(t, err)
	require.Len(t, triggers, 1)
	assert.Equal(t, []string{"price/BTC", "price/ETH"}, triggers[0].BaseStreamsNeeded)
}

func TestUserTriggerRepository_ListAutoRetireCandidates_ExcludesUserRequested(t *testing.T) {
	s := newTestStore(t)
	id := createTestUser(t, s, 4, true)

	_, err := s.UserTriggers.Create(&domain.UserTrigger{
		UserID: id, Kind: "alert", Description: "user-made", Source: domain.TriggerSourceUserRequest, IsActive: true,
	})
	require.NoError(t, err)
	_, err = s.UserTriggers.Create(&domain.UserTrigger{
		UserID: id, Kind: "alert", Description: "system-made", Source: domain.TriggerSourcePatrol, IsActive: true,
	})
	require.NoError(t, err)

	candidates, err := s.UserTriggers.ListAutoRetireCandidates()
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "system-made", candidates[0].Description)
}

func TestUserTriggerRepository_ListActiveByUser_StableIDAscendingOrder(t *testing.T) {
	s := newTestStore(t)
	id := createTestUser(t, s, 4, true)

	// Insert out of the order we expect back: a trigger engine evaluating
	// two triggers that collide on the same tick must see them in a fixed,
	// repeatable order, not whatever SQLite's scan happens to return.
	var ids []int64
	for _, desc := range []string{"third", "first", "second"} {
		trigID, err := s.UserTriggers.Create(&domain.UserTrigger{
			UserID: id, Kind: "alert", Description: desc, Source: domain.TriggerSourcePatrol, IsActive: true,
		})
		require.NoError(t, err)
		ids = append(ids, trigID)
	}

	triggers, err := s.UserTriggers.ListActiveByUser(id)
	require.NoError(t, err)
	require.Len(t, triggers, 3)
	for i, trig := range triggers {
		assert.Equal(t, ids[i], trig.ID, "triggers must come back in id-ascending insertion order")
	}
}

func TestUserTriggerRepository_MarkTriggeredAndRetire(t *testing.T) {
	s := newTestStore(t)
	id := createTestUser(t, s, 4, true)

	trigID, err := s.UserTriggers.Create(&domain.UserTrigger{
		UserID: id, Kind: "alert", Description: "BTC dip", Source: domain.TriggerSourcePatrol, IsActive: true,
	})
	require.NoError(t, err)

	require.NoError(t, s.UserTriggers.MarkTriggered(trigID))
	fired, err := s.UserTriggers.ListActiveByUser(id)
	require.NoError(t, err)
	require.Len(t, fired, 1)
	assert.NotNil(t, fired[0].TriggeredAt)

	require.NoError(t, s.UserTriggers.Retire(trigID))
	active, err := s.UserTriggers.ListActiveByUser(id)
	require.NoError(t, err)
	assert.Empty(t, active)
}
