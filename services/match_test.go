package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estate_notifier/config"
	"estate_notifier/models"
)

var testMatching = config.MatchingConfig{FirstRunCap: 30, Lookback: 24 * time.Hour, SteadyCap: 50}

func TestWindow(t *testing.T) {
	svc := NewMatchService(nil, testMatching)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	first := svc.Window(&models.Filter{}, now)
	assert.Nil(t, first.Since)
	assert.Equal(t, 30, first.Limit)

	sent := now.Add(-time.Hour)
	steady := svc.Window(&models.Filter{LastNotificationSentAt: &sent}, now)
	require.NotNil(t, steady.Since)
	assert.True(t, steady.Since.Equal(now.Add(-24*time.Hour)))
	assert.Equal(t, 50, steady.Limit)
}

func TestMatch_FirstRunCapsAtThirty(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Now().UTC()

	for i := 0; i < 40; i++ {
		seedListing(t, store, "s", fmt.Sprintf("roma-%02d", i), "Roma", 200000, now.Add(-time.Duration(i)*time.Hour))
	}
	for i := 0; i < 10; i++ {
		seedListing(t, store, "s", fmt.Sprintf("milano-%02d", i), "Milano", 200000, now)
	}

	svc := NewMatchService(store, testMatching)
	filter := &models.Filter{Criteria: models.Criteria{City: models.Ptr("Roma"), MaxPrice: models.Ptr(300000.0)}}

	got, err := svc.Match(ctx, filter, now)
	require.NoError(t, err)
	require.Len(t, got, 30)
	assert.Equal(t, "roma-00", got[0].ExternalID)
	for _, l := range got {
		assert.Equal(t, "Roma", l.City)
	}
}

func TestMatch_SteadyStateUsesLookback(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Now().UTC()

	seedListing(t, store, "s", "fresh", "Roma", 1, now.Add(-2*time.Hour))
	seedListing(t, store, "s", "old", "Roma", 1, now.Add(-48*time.Hour))

	svc := NewMatchService(store, testMatching)
	last := now.Add(-6 * time.Hour)
	filter := &models.Filter{LastNotificationSentAt: &last, Criteria: models.Criteria{City: models.Ptr("roma")}}

	got, err := svc.Match(ctx, filter, now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "fresh", got[0].ExternalID)
}

func TestMatch_EmptyCriteriaMatchesAllActive(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Now().UTC()

	seedListing(t, store, "s", "a", "Roma", 1, now)
	seedListing(t, store, "s", "b", "Torino", 1, now)

	got, err := NewMatchService(store, testMatching).Match(ctx, &models.Filter{}, now)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
