package learning

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/mapsmith/backend/internal/metrics"
	"github.com/mapsmith/backend/internal/normalize"
	"github.com/mapsmith/backend/internal/storage/models"
	"github.com/mapsmith/backend/pkg/logger"
)

const (
	// halfLifeDays controls the exponential decay of old corrections.
	halfLifeDays = 90.0
	// maxBoost caps the confidence boost no matter how often a header has
	// been corrected.
	maxBoost = 0.4
	// minCorrections is the count required before a boost applies.
	minCorrections = 1
	// conflictPenalty is the multiplicative factor applied to a suggestion
	// that contradicts a learned correction.
	conflictPenalty = 0.85
	// defaultRetentionDays is how long corrections are kept by the sweep.
	defaultRetentionDays = 365
	// topCorrectionsLimit bounds the operational stats listing.
	topCorrectionsLimit = 10
)

// CorrectionStore is the persistence contract the learner needs. The upsert
// must increment the counter atomically in storage, never read-modify-write.
type CorrectionStore interface {
	UpsertCorrection(ctx context.Context, clientID, normalizedHeader, suggestedField, confirmedField string, correctedAt time.Time) error
	CorrectionsByHeaders(ctx context.Context, clientID string, normalizedHeaders []string) ([]models.MappingCorrection, error)
	TopCorrections(ctx context.Context, clientID string, limit int) ([]models.MappingCorrection, error)
	CorrectionSummary(ctx context.Context, clientID string) (total int, uniqueHeaders int, err error)
	DeleteCorrectionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Correction is one user override of a suggested mapping.
type Correction struct {
	Header         string `json:"header"`
	SuggestedField string `json:"suggestedField"`
	ConfirmedField string `json:"confirmedField"`
}

// Boost is a decayed confidence adjustment derived from stored corrections.
// It is recomputed from the stored row on every lookup, never cached.
type Boost struct {
	Header                  string  `json:"header"`
	BoostedField            string  `json:"boostedField"`
	BoostAmount             float64 `json:"boostAmount"`
	CorrectionCount         int     `json:"correctionCount"`
	DaysSinceLastCorrection int     `json:"daysSinceLastCorrection"`
}

// MappingStats summarizes a client's correction history for operational
// visibility.
type MappingStats struct {
	TotalCorrections int                        `json:"totalCorrections"`
	UniqueHeaders    int                        `json:"uniqueHeaders"`
	TopCorrections   []models.MappingCorrection `json:"topCorrections"`
}

// Learner records user overrides of suggested mappings and turns them into
// time-decayed confidence boosts for future imports.
type Learner struct {
	store CorrectionStore
	now   func() time.Time
}

func NewLearner(store CorrectionStore) *Learner {
	return &Learner{
		store: store,
		now:   time.Now,
	}
}

// StoreCorrection records a user override. Agreement between suggestion and
// confirmation is never stored. Persistence failures are logged and
// swallowed; learning is best-effort and must not block the import it
// observes.
func (l *Learner) StoreCorrection(ctx context.Context, clientID string, corr Correction) {
	if corr.SuggestedField == corr.ConfirmedField {
		return
	}

	header := normalize.Header(corr.Header)
	if header == "" {
		return
	}

	err := l.store.UpsertCorrection(ctx, clientID, header, corr.SuggestedField, corr.ConfirmedField, l.now())
	if err != nil {
		metrics.StorageFailures.WithLabelValues("store_correction").Inc()
		logger.Warn("Failed to store mapping correction",
			zap.String("client_id", clientID),
			zap.String("header", corr.Header),
			zap.Error(err),
		)
		return
	}

	metrics.CorrectionsStored.Inc()
}

// StoreCorrections is the batch form; pairs where the user agreed with the
// suggestion are filtered out before any storage call.
func (l *Learner) StoreCorrections(ctx context.Context, clientID string, corrections []Correction) {
	for _, corr := range corrections {
		if corr.SuggestedField == corr.ConfirmedField {
			continue
		}
		l.StoreCorrection(ctx, clientID, corr)
	}
}

// LearnedBoosts fetches the stored corrections matching the given headers
// and computes a decayed boost for each. Read failures degrade to an empty
// map. Keys are normalized headers; each boost carries the original header
// spelling for display.
func (l *Learner) LearnedBoosts(ctx context.Context, clientID string, headers []string) map[string]Boost {
	boosts := make(map[string]Boost)
	if len(headers) == 0 {
		return boosts
	}

	originals := make(map[string]string, len(headers))
	normalized := make([]string, 0, len(headers))
	for _, h := range headers {
		n := normalize.Header(h)
		if n == "" {
			continue
		}
		if _, seen := originals[n]; !seen {
			originals[n] = h
			normalized = append(normalized, n)
		}
	}

	corrections, err := l.store.CorrectionsByHeaders(ctx, clientID, normalized)
	if err != nil {
		metrics.StorageFailures.WithLabelValues("learned_boosts").Inc()
		logger.Warn("Failed to load mapping corrections",
			zap.String("client_id", clientID),
			zap.Error(err),
		)
		return boosts
	}

	now := l.now()
	for _, corr := range corrections {
		if corr.CorrectionCount < minCorrections {
			continue
		}

		daysSince := int(math.Floor(now.Sub(corr.LastCorrectedAt).Hours() / 24))
		if daysSince < 0 {
			daysSince = 0
		}

		boosts[corr.NormalizedHeader] = Boost{
			Header:                  originals[corr.NormalizedHeader],
			BoostedField:            corr.ConfirmedField,
			BoostAmount:             boostAmount(corr.CorrectionCount, daysSince),
			CorrectionCount:         corr.CorrectionCount,
			DaysSinceLastCorrection: daysSince,
		}
	}

	return boosts
}

// boostAmount combines a logarithmically growing base with exponential age
// decay. A single fresh correction grants ~0.2; repeated corrections
// asymptote toward the cap.
func boostAmount(correctionCount, daysSince int) float64 {
	decay := math.Pow(0.5, float64(daysSince)/halfLifeDays)
	base := math.Min(maxBoost, 0.15+0.05*math.Log2(float64(correctionCount)+1))
	return base * decay
}

// ApplyBoost adjusts a candidate suggestion's confidence using the boosts
// for its header. A boost for the same field raises confidence (capped at
// 1.0) and marks the suggestion as learned; a boost pointing at a different
// field penalizes the suggestion instead.
func (l *Learner) ApplyBoost(header, targetField string, currentConfidence float64, boosts map[string]Boost) (float64, bool) {
	boost, ok := boosts[normalize.Header(header)]
	if !ok {
		return currentConfidence, false
	}

	if boost.BoostedField == targetField {
		metrics.BoostsApplied.WithLabelValues("learned").Inc()
		return math.Min(1.0, currentConfidence+boost.BoostAmount), true
	}

	metrics.BoostsApplied.WithLabelValues("penalized").Inc()
	return currentConfidence * conflictPenalty, false
}

// CleanupOldCorrections deletes corrections whose last activity is older
// than the threshold and reports how many were removed. Intended as a
// periodic maintenance job, not a client-facing operation.
func (l *Learner) CleanupOldCorrections(ctx context.Context, daysThreshold int) (int64, error) {
	if daysThreshold <= 0 {
		daysThreshold = defaultRetentionDays
	}

	cutoff := l.now().AddDate(0, 0, -daysThreshold)
	deleted, err := l.store.DeleteCorrectionsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		logger.Info("Old mapping corrections removed",
			zap.Int64("deleted", deleted),
			zap.Int("days_threshold", daysThreshold),
		)
	}
	return deleted, nil
}

// MappingStatsFor reports correction totals and the most re-mapped headers
// for a client. Read failures degrade to empty stats.
func (l *Learner) MappingStatsFor(ctx context.Context, clientID string) MappingStats {
	total, unique, err := l.store.CorrectionSummary(ctx, clientID)
	if err != nil {
		metrics.StorageFailures.WithLabelValues("mapping_stats").Inc()
		logger.Warn("Failed to load correction summary", zap.String("client_id", clientID), zap.Error(err))
		return MappingStats{}
	}

	top, err := l.store.TopCorrections(ctx, clientID, topCorrectionsLimit)
	if err != nil {
		metrics.StorageFailures.WithLabelValues("mapping_stats").Inc()
		logger.Warn("Failed to load top corrections", zap.String("client_id", clientID), zap.Error(err))
		top = nil
	}

	return MappingStats{
		TotalCorrections: total,
		UniqueHeaders:    unique,
		TopCorrections:   top,
	}
}
