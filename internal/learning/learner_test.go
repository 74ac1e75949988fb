package learning

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapsmith/backend/internal/storage/models"
)

type fakeStore struct {
	corrections map[string]*models.MappingCorrection // keyed by normalized header
	failWrites  bool
	failReads   bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{corrections: make(map[string]*models.MappingCorrection)}
}

func (f *fakeStore) UpsertCorrection(_ context.Context, clientID, header, suggested, confirmed string, at time.Time) error {
	if f.failWrites {
		return errors.New("storage down")
	}
	if existing, ok := f.corrections[header]; ok {
		existing.CorrectionCount++
		existing.SuggestedField = suggested
		existing.ConfirmedField = confirmed
		existing.LastCorrectedAt = at
		return nil
	}
	f.corrections[header] = &models.MappingCorrection{
		ClientID:         clientID,
		NormalizedHeader: header,
		SuggestedField:   suggested,
		ConfirmedField:   confirmed,
		CorrectionCount:  1,
		LastCorrectedAt:  at,
	}
	return nil
}

func (f *fakeStore) CorrectionsByHeaders(_ context.Context, _ string, headers []string) ([]models.MappingCorrection, error) {
	if f.failReads {
		return nil, errors.New("storage down")
	}
	var out []models.MappingCorrection
	for _, h := range headers {
		if c, ok := f.corrections[h]; ok {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeStore) TopCorrections(_ context.Context, _ string, limit int) ([]models.MappingCorrection, error) {
	if f.failReads {
		return nil, errors.New("storage down")
	}
	var out []models.MappingCorrection
	for _, c := range f.corrections {
		out = append(out, *c)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) CorrectionSummary(_ context.Context, _ string) (int, int, error) {
	if f.failReads {
		return 0, 0, errors.New("storage down")
	}
	total := 0
	for _, c := range f.corrections {
		total += c.CorrectionCount
	}
	return total, len(f.corrections), nil
}

func (f *fakeStore) DeleteCorrectionsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	for h, c := range f.corrections {
		if c.LastCorrectedAt.Before(cutoff) {
			delete(f.corrections, h)
			deleted++
		}
	}
	return deleted, nil
}

func newTestLearner(store *fakeStore, now time.Time) *Learner {
	l := NewLearner(store)
	l.now = func() time.Time { return now }
	return l
}

func TestStoreCorrectionAgreementIsNoOp(t *testing.T) {
	store := newFakeStore()
	l := newTestLearner(store, time.Now())

	l.StoreCorrection(context.Background(), "client-1", Correction{
		Header:         "Qty Shipped",
		SuggestedField: "unitsShipped",
		ConfirmedField: "unitsShipped",
	})

	assert.Empty(t, store.corrections, "agreement must never be recorded")
}

func TestStoreCorrectionUpsert(t *testing.T) {
	store := newFakeStore()
	now := time.Now()
	l := newTestLearner(store, now)

	l.StoreCorrection(context.Background(), "client-1", Correction{
		Header:         "Qty Shipped",
		SuggestedField: "unitsOrdered",
		ConfirmedField: "unitsShipped",
	})

	require.Len(t, store.corrections, 1)
	corr := store.corrections["qty shipped"]
	require.NotNil(t, corr, "key must be the normalized header")
	assert.Equal(t, 1, corr.CorrectionCount)

	l.StoreCorrection(context.Background(), "client-1", Correction{
		Header:         "  QTY   SHIPPED ",
		SuggestedField: "packSize",
		ConfirmedField: "unitsShipped",
	})

	require.Len(t, store.corrections, 1, "spelling variants share one row")
	assert.Equal(t, 2, corr.CorrectionCount)
	assert.Equal(t, "unitsShipped", corr.ConfirmedField)
}

func TestStoreCorrectionSwallowsWriteFailure(t *testing.T) {
	store := newFakeStore()
	store.failWrites = true
	l := newTestLearner(store, time.Now())

	assert.NotPanics(t, func() {
		l.StoreCorrection(context.Background(), "client-1", Correction{
			Header:         "Qty",
			SuggestedField: "a",
			ConfirmedField: "b",
		})
	})
}

func TestStoreCorrectionsFiltersAgreements(t *testing.T) {
	store := newFakeStore()
	l := newTestLearner(store, time.Now())

	l.StoreCorrections(context.Background(), "client-1", []Correction{
		{Header: "A", SuggestedField: "x", ConfirmedField: "x"},
		{Header: "B", SuggestedField: "x", ConfirmedField: "y"},
	})

	assert.Len(t, store.corrections, 1)
}

func TestBoostDecay(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		correctedAt time.Time
		wantDecay   float64
	}{
		{name: "today", correctedAt: now, wantDecay: 1.0},
		{name: "ninety days", correctedAt: now.AddDate(0, 0, -90), wantDecay: 0.5},
		{name: "one eighty days", correctedAt: now.AddDate(0, 0, -180), wantDecay: 0.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			store.corrections["qty"] = &models.MappingCorrection{
				ClientID:         "client-1",
				NormalizedHeader: "qty",
				ConfirmedField:   "unitsShipped",
				CorrectionCount:  1,
				LastCorrectedAt:  tt.correctedAt,
			}
			l := newTestLearner(store, now)

			boosts := l.LearnedBoosts(context.Background(), "client-1", []string{"Qty"})
			require.Contains(t, boosts, "qty")

			base := 0.15 + 0.05 // log2(2) == 1
			assert.InDelta(t, base*tt.wantDecay, boosts["qty"].BoostAmount, 1e-9)
		})
	}
}

func TestBoostCeiling(t *testing.T) {
	now := time.Now()
	for _, count := range []int{1, 5, 50, 5000, 1 << 30} {
		store := newFakeStore()
		store.corrections["qty"] = &models.MappingCorrection{
			NormalizedHeader: "qty",
			ConfirmedField:   "unitsShipped",
			CorrectionCount:  count,
			LastCorrectedAt:  now,
		}
		l := newTestLearner(store, now)

		boosts := l.LearnedBoosts(context.Background(), "client-1", []string{"qty"})
		require.Contains(t, boosts, "qty")
		assert.LessOrEqual(t, boosts["qty"].BoostAmount, 0.4, "count %d", count)
	}
}

func TestLearnedBoostsKeepsOriginalHeader(t *testing.T) {
	now := time.Now()
	store := newFakeStore()
	store.corrections["location"] = &models.MappingCorrection{
		NormalizedHeader: "location",
		ConfirmedField:   "shipToLocation",
		CorrectionCount:  2,
		LastCorrectedAt:  now,
	}
	l := newTestLearner(store, now)

	boosts := l.LearnedBoosts(context.Background(), "client-1", []string{"Ship To Location"})
	require.Contains(t, boosts, "location")
	assert.Equal(t, "Ship To Location", boosts["location"].Header)
}

func TestLearnedBoostsReadFailureDegrades(t *testing.T) {
	store := newFakeStore()
	store.failReads = true
	l := newTestLearner(store, time.Now())

	boosts := l.LearnedBoosts(context.Background(), "client-1", []string{"Qty"})
	assert.Empty(t, boosts)
}

func TestApplyBoost(t *testing.T) {
	now := time.Now()
	store := newFakeStore()
	store.corrections["qty shipped"] = &models.MappingCorrection{
		NormalizedHeader: "qty shipped",
		ConfirmedField:   "unitsShipped",
		CorrectionCount:  3,
		LastCorrectedAt:  now,
	}
	l := newTestLearner(store, now)
	boosts := l.LearnedBoosts(context.Background(), "client-1", []string{"Qty Shipped"})

	t.Run("matching field is boosted", func(t *testing.T) {
		confidence, learned := l.ApplyBoost("Qty Shipped", "unitsShipped", 0.6, boosts)
		assert.True(t, learned)
		assert.Greater(t, confidence, 0.6)
	})

	t.Run("boost is capped at one", func(t *testing.T) {
		confidence, learned := l.ApplyBoost("Qty Shipped", "unitsShipped", 0.95, boosts)
		assert.True(t, learned)
		assert.Equal(t, 1.0, confidence)
	})

	t.Run("conflicting field is penalized", func(t *testing.T) {
		confidence, learned := l.ApplyBoost("Qty Shipped", "unitsOrdered", 0.9, boosts)
		assert.False(t, learned)
		assert.InDelta(t, 0.765, confidence, 1e-9)
	})

	t.Run("unknown header passes through", func(t *testing.T) {
		confidence, learned := l.ApplyBoost("Warehouse", "warehouse", 0.8, boosts)
		assert.False(t, learned)
		assert.Equal(t, 0.8, confidence)
	})
}

func TestCleanupOldCorrections(t *testing.T) {
	now := time.Now()
	store := newFakeStore()
	store.corrections["old"] = &models.MappingCorrection{
		NormalizedHeader: "old",
		LastCorrectedAt:  now.AddDate(0, 0, -400),
		CorrectionCount:  1,
	}
	store.corrections["fresh"] = &models.MappingCorrection{
		NormalizedHeader: "fresh",
		LastCorrectedAt:  now.AddDate(0, 0, -10),
		CorrectionCount:  1,
	}
	l := newTestLearner(store, now)

	deleted, err := l.CleanupOldCorrections(context.Background(), 365)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Contains(t, store.corrections, "fresh")
	assert.NotContains(t, store.corrections, "old")
}

func TestMappingStatsFor(t *testing.T) {
	now := time.Now()
	store := newFakeStore()
	store.corrections["a"] = &models.MappingCorrection{NormalizedHeader: "a", CorrectionCount: 3, LastCorrectedAt: now}
	store.corrections["b"] = &models.MappingCorrection{NormalizedHeader: "b", CorrectionCount: 1, LastCorrectedAt: now}
	l := newTestLearner(store, now)

	stats := l.MappingStatsFor(context.Background(), "client-1")
	assert.Equal(t, 4, stats.TotalCorrections)
	assert.Equal(t, 2, stats.UniqueHeaders)
	assert.Len(t, stats.TopCorrections, 2)

	t.Run("read failure degrades to defaults", func(t *testing.T) {
		store.failReads = true
		stats := l.MappingStatsFor(context.Background(), "client-1")
		assert.Zero(t, stats.TotalCorrections)
		assert.Empty(t, stats.TopCorrections)
	})
}
