package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUser_Monitored(t *testing.T) {
	tests := []struct {
		name            string
		isActive        bool
		onboardingStage int
		want            bool
	}{
		{"active and fully onboarded", true, 4, true},
		{"active and past onboarding", true, 7, true},
		{"active but mid-onboarding", true, 3, false},
		{"inactive but fully onboarded", false, 4, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &User{IsActive: tt.isActive, OnboardingStage: tt.onboardingStage}
			assert.Equal(t, tt.want, u.Monitored())
		})
	}
}

func TestUserTrigger_AutoRetireEligible(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("user-requested trigger never auto-retires", func(t *testing.T) {
		trig := &UserTrigger{Source: TriggerSourceUserRequest, CreatedAt: now.Add(-100 * time.Hour)}
		assert.False(t, trig.AutoRetireEligible(now))
	})

	t.Run("already-fired trigger never auto-retires", func(t *testing.T) {
		firedAt := now.Add(-1 * time.Hour)
		trig := &UserTrigger{Source: "system", CreatedAt: now.Add(-100 * time.Hour), TriggeredAt: &firedAt}
		assert.False(t, trig.AutoRetireEligible(now))
	})

	t.Run("system trigger within grace window stays active", func(t *testing.T) {
		trig := &UserTrigger{Source: "system", CreatedAt: now.Add(-71 * time.Hour)}
		assert.False(t, trig.AutoRetireEligible(now))
	})

	t.Run("system trigger past grace window retires", func(t *testing.T) {
		trig := &UserTrigger{Source: "system", CreatedAt: now.Add(-73 * time.Hour)}
		assert.True(t, trig.AutoRetireEligible(now))
	})
}

func TestSignal_ComputeConfidence(t *testing.T) {
	style, history, market := 0.5, 0.8, 0.6

	t.Run("computes weighted blend when all three axes present", func(t *testing.T) {
		s := &Signal{ConfidenceStyle: &style, ConfidenceHistory: &history, ConfidenceMarket: &market}
		s.ComputeConfidence()
		assert.InDelta(t, 0.3*style+0.3*history+0.4*market, s.Confidence, 1e-9)
	})

	t.Run("leaves confidence untouched when an axis is missing", func(t *testing.T) {
		s := &Signal{Confidence: 0.42, ConfidenceStyle: &style, ConfidenceHistory: &history}
		s.ComputeConfidence()
		assert.Equal(t, 0.42, s.Confidence)
	})
}
