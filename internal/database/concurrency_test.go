package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"roadbook/internal/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentAddParticipant(t *testing.T) {
	logger := zerolog.Nop()
	dbPath := filepath.Join(t.TempDir(), "concurrency.db")
	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	// organizer + 2 free seats
	b := newTestBooking(t, db, "tenant-a", 3)

	const numGoroutines = 10
	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	results := make(chan error, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			results <- db.AddParticipant(ctx, newTestMember(b, fmt.Sprintf("rider%d@example.com", id)), nil)
		}(i)
	}

	wg.Wait()
	close(results)

	successCount := 0
	fullCount := 0
	for err := range results {
		switch {
		case err == nil:
			successCount++
		case errors.Is(err, domain.ErrBookingFull):
			fullCount++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 2, successCount, "only the free seats can be taken")
	assert.Equal(t, numGoroutines-2, fullCount)

	got, err := db.GetBooking(ctx, b.TenantID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.CurrentParticipants)

	list, err := db.ListParticipants(ctx, b.TenantID, b.ID)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}
