package service

import (
	"testing"
	"time"

	"roadbook/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestRevealGate_IsRevealed(t *testing.T) {
	gate := NewRevealGate(0)
	start := time.Date(2025, 7, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		booking *models.Booking
		now     time.Time
		want    bool
	}{
		{"before reveal date", &models.Booking{StartDate: &start}, time.Date(2025, 7, 5, 0, 0, 0, 0, time.UTC), false},
		{"exactly on reveal date", &models.Booking{StartDate: &start}, time.Date(2025, 7, 6, 0, 0, 0, 0, time.UTC), true},
		{"one second before", &models.Booking{StartDate: &start}, time.Date(2025, 7, 5, 23, 59, 59, 0, time.UTC), false},
		{"after departure", &models.Booking{StartDate: &start}, time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC), true},
		{"no start date", &models.Booking{}, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), false},
		{"force reveal without date", &models.Booking{ForceReveal: true}, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{"force reveal overrides date", &models.Booking{StartDate: &start, ForceReveal: true}, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{"nil booking", nil, time.Now(), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, gate.IsRevealed(tt.booking, tt.now))
		})
	}
}

func TestRevealGate_TimezoneAware(t *testing.T) {
	gate := NewRevealGate(4)
	rome := time.FixedZone("CEST", 2*60*60)
	start := time.Date(2025, 7, 10, 0, 0, 0, 0, rome)
	b := &models.Booking{StartDate: &start}

	// 2025-07-05T23:00Z is already 2025-07-06 01:00 in the start date's offset
	assert.True(t, gate.IsRevealed(b, time.Date(2025, 7, 5, 23, 0, 0, 0, time.UTC)))
	assert.False(t, gate.IsRevealed(b, time.Date(2025, 7, 5, 21, 59, 0, 0, time.UTC)))

	rd := gate.RevealDate(b)
	if assert.NotNil(t, rd) {
		assert.Equal(t, time.Date(2025, 7, 6, 0, 0, 0, 0, rome), *rd)
	}
}

func TestRevealGate_Monotonic(t *testing.T) {
	gate := NewRevealGate(4)
	start := time.Date(2025, 7, 10, 8, 30, 0, 0, time.UTC)
	b := &models.Booking{StartDate: &start}

	revealed := false
	for now := start.AddDate(0, 0, -10); now.Before(start.AddDate(0, 0, 3)); now = now.Add(37 * time.Minute) {
		got := gate.IsRevealed(b, now)
		if revealed {
			assert.True(t, got, "flapped at %s", now)
		}
		revealed = revealed || got
	}
	assert.True(t, revealed)
}

func TestRevealGate_CustomDays(t *testing.T) {
	gate := NewRevealGate(7)
	start := time.Date(2025, 7, 10, 0, 0, 0, 0, time.UTC)
	b := &models.Booking{StartDate: &start}

	assert.False(t, gate.IsRevealed(b, time.Date(2025, 7, 2, 23, 0, 0, 0, time.UTC)))
	assert.True(t, gate.IsRevealed(b, time.Date(2025, 7, 3, 0, 0, 0, 0, time.UTC)))
	assert.Nil(t, gate.RevealDate(&models.Booking{}))
}
