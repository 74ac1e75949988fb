package customfield

import (
	"context"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/mapsmith/backend/internal/metrics"
	"github.com/mapsmith/backend/pkg/logger"
)

const topValuesLimit = 10

// distinctCutoff is the point past which a field is treated as free-form
// rather than categorical and top values are no longer reported.
const distinctCutoff = 50

// FieldStats summarizes one custom field across a client's product records.
// The numeric aggregates are nil for non-numeric fields.
type FieldStats struct {
	TotalCount   int      `json:"totalCount"`
	NonNullCount int      `json:"nonNullCount"`
	UniqueCount  int      `json:"uniqueCount"`
	Min          *float64 `json:"min,omitempty"`
	Max          *float64 `json:"max,omitempty"`
	Sum          *float64 `json:"sum,omitempty"`
	Avg          *float64 `json:"avg,omitempty"`
}

// ValueCount is one distinct value and how many records carry it.
type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// ValueShare extends ValueCount with the value's share of non-null records,
// rounded to one decimal place.
type ValueShare struct {
	Value      string  `json:"value"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// FieldAggregate pairs a field's stats with its most frequent values.
// TopValues is populated only for fields with at most distinctCutoff
// distinct values.
type FieldAggregate struct {
	FieldStats
	TopValues []ValueCount `json:"topValues,omitempty"`
}

// fieldTally is the intermediate accumulation for one field across a
// metadata scan.
type fieldTally struct {
	total   int
	nonNull int
	counts  map[string]int
	numbers []float64
}

// Stats computes per-field summaries for every custom field present in the
// client's product metadata. Read failures degrade to an empty map.
func (r *Registry) Stats(ctx context.Context, clientID string) map[string]FieldStats {
	key := "stats:" + clientID
	var cached map[string]FieldStats
	if r.cacheGet(ctx, key, &cached) {
		return cached
	}

	out := make(map[string]FieldStats)
	for name, tally := range r.scanMetadata(ctx, clientID) {
		out[name] = tally.stats()
	}

	r.cacheSet(ctx, key, out)
	return out
}

// Aggregates is Stats plus top-value breakdowns for low-cardinality fields.
func (r *Registry) Aggregates(ctx context.Context, clientID string) map[string]FieldAggregate {
	key := "aggregates:" + clientID
	var cached map[string]FieldAggregate
	if r.cacheGet(ctx, key, &cached) {
		return cached
	}

	out := make(map[string]FieldAggregate)
	for name, tally := range r.scanMetadata(ctx, clientID) {
		agg := FieldAggregate{FieldStats: tally.stats()}
		if len(tally.counts) <= distinctCutoff {
			agg.TopValues = topValues(tally.counts, topValuesLimit)
		}
		out[name] = agg
	}

	r.cacheSet(ctx, key, out)
	return out
}

// Distribution returns every distinct value of one field with its count and
// share of non-null records, most frequent first.
func (r *Registry) Distribution(ctx context.Context, clientID, field string) []ValueShare {
	tally, ok := r.scanMetadata(ctx, clientID)[field]
	if !ok || tally.nonNull == 0 {
		return nil
	}

	ranked := topValues(tally.counts, len(tally.counts))
	out := make([]ValueShare, 0, len(ranked))
	for _, vc := range ranked {
		pct := float64(vc.Count) / float64(tally.nonNull) * 100
		out = append(out, ValueShare{
			Value:      vc.Value,
			Count:      vc.Count,
			Percentage: math.Round(pct*10) / 10,
		})
	}
	return out
}

func (r *Registry) scanMetadata(ctx context.Context, clientID string) map[string]*fieldTally {
	bags, err := r.store.ProductMetadata(ctx, clientID)
	if err != nil {
		metrics.StorageFailures.WithLabelValues("scan_metadata").Inc()
		logger.Warn("Failed to scan product metadata", zap.String("client_id", clientID), zap.Error(err))
		return nil
	}

	tallies := make(map[string]*fieldTally)
	total := len(bags)
	for _, bag := range bags {
		for name, raw := range bag {
			t := tallies[name]
			if t == nil {
				t = &fieldTally{counts: make(map[string]int)}
				tallies[name] = t
			}

			val := DecodeValue(raw)
			if val.Kind == KindEmpty {
				continue
			}
			t.nonNull++
			t.counts[val.DisplayString()]++
			if val.Kind == KindNumeric {
				t.numbers = append(t.numbers, val.Number)
			}
		}
	}

	// A field absent from a record still counts toward its total.
	for _, t := range tallies {
		t.total = total
	}
	return tallies
}

func (t *fieldTally) stats() FieldStats {
	s := FieldStats{
		TotalCount:   t.total,
		NonNullCount: t.nonNull,
		UniqueCount:  len(t.counts),
	}
	if len(t.numbers) == 0 {
		return s
	}

	min, max, sum := t.numbers[0], t.numbers[0], 0.0
	for _, n := range t.numbers {
		if n < min {
			min = n
		}
		if n > max {
			max = n
		}
		sum += n
	}
	avg := sum / float64(len(t.numbers))
	s.Min, s.Max, s.Sum, s.Avg = &min, &max, &sum, &avg
	return s
}

// topValues ranks counts descending, breaking ties by value for stable
// output.
func topValues(counts map[string]int, limit int) []ValueCount {
	ranked := make([]ValueCount, 0, len(counts))
	for v, c := range counts {
		ranked = append(ranked, ValueCount{Value: v, Count: c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Value < ranked[j].Value
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

func (r *Registry) cacheGet(ctx context.Context, key string, v any) bool {
	if r.cache == nil {
		return false
	}
	hit, err := r.cache.Get(ctx, key, v)
	if err != nil {
		logger.Warn("Stats cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if hit {
		metrics.CacheHits.WithLabelValues("field_stats").Inc()
		return true
	}
	metrics.CacheMisses.WithLabelValues("field_stats").Inc()
	return false
}

func (r *Registry) cacheSet(ctx context.Context, key string, v any) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Set(ctx, key, v); err != nil {
		logger.Warn("Stats cache write failed", zap.String("key", key), zap.Error(err))
	}
}
