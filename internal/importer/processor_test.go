package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapsmith/backend/internal/customfield"
	"github.com/mapsmith/backend/internal/learning"
	"github.com/mapsmith/backend/internal/storage/models"
	"github.com/mapsmith/backend/internal/storage/sqlite"
)

type fakeCorrStore struct {
	rows map[string]models.MappingCorrection
}

func newFakeCorrStore() *fakeCorrStore {
	return &fakeCorrStore{rows: make(map[string]models.MappingCorrection)}
}

func (s *fakeCorrStore) UpsertCorrection(_ context.Context, clientID, normalizedHeader, suggestedField, confirmedField string, correctedAt time.Time) error {
	row, ok := s.rows[normalizedHeader]
	if !ok {
		row = models.MappingCorrection{ClientID: clientID, NormalizedHeader: normalizedHeader}
	}
	row.SuggestedField = suggestedField
	row.ConfirmedField = confirmedField
	row.CorrectionCount++
	row.LastCorrectedAt = correctedAt
	s.rows[normalizedHeader] = row
	return nil
}

func (s *fakeCorrStore) CorrectionsByHeaders(_ context.Context, _ string, normalizedHeaders []string) ([]models.MappingCorrection, error) {
	var out []models.MappingCorrection
	for _, h := range normalizedHeaders {
		if row, ok := s.rows[h]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *fakeCorrStore) TopCorrections(_ context.Context, _ string, _ int) ([]models.MappingCorrection, error) {
	return nil, nil
}

func (s *fakeCorrStore) CorrectionSummary(_ context.Context, _ string) (int, int, error) {
	return len(s.rows), len(s.rows), nil
}

func (s *fakeCorrStore) DeleteCorrectionsBefore(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type fakeFieldStore struct {
	defs map[string]*models.CustomFieldDefinition
	seq  int
}

func newFakeFieldStore() *fakeFieldStore {
	return &fakeFieldStore{defs: make(map[string]*models.CustomFieldDefinition)}
}

func (s *fakeFieldStore) GetCustomFieldByName(_ context.Context, _, normalizedName string) (*models.CustomFieldDefinition, error) {
	def, ok := s.defs[normalizedName]
	if !ok {
		return nil, sqlite.ErrNotFound
	}
	return def, nil
}

func (s *fakeFieldStore) CreateCustomField(_ context.Context, def *models.CustomFieldDefinition) error {
	s.defs[def.NormalizedName] = def
	return nil
}

func (s *fakeFieldStore) UpdateCustomFieldAliases(_ context.Context, id string, aliases []string, updatedAt time.Time) error {
	for _, def := range s.defs {
		if def.ID == id {
			def.KnownAliases = aliases
			def.UpdatedAt = updatedAt
			return nil
		}
	}
	return sqlite.ErrNotFound
}

func (s *fakeFieldStore) ListCustomFields(_ context.Context, _ string) ([]models.CustomFieldDefinition, error) {
	out := make([]models.CustomFieldDefinition, 0, len(s.defs))
	for _, def := range s.defs {
		out = append(out, *def)
	}
	return out, nil
}

func (s *fakeFieldStore) DeleteCustomField(_ context.Context, id string) error {
	for name, def := range s.defs {
		if def.ID == id {
			delete(s.defs, name)
			return nil
		}
	}
	return sqlite.ErrNotFound
}

func (s *fakeFieldStore) NextDisplayOrder(_ context.Context, _ string) (int, error) {
	s.seq++
	return s.seq, nil
}

func (s *fakeFieldStore) ProductMetadata(_ context.Context, _ string) ([]map[string]json.RawMessage, error) {
	return nil, nil
}

type fakeBatchStore struct {
	batches  map[string]*models.ImportBatch
	products []*models.Product
	failRows bool
}

func newFakeBatchStore() *fakeBatchStore {
	return &fakeBatchStore{batches: make(map[string]*models.ImportBatch)}
}

func (s *fakeBatchStore) CreateImportBatch(_ context.Context, batch *models.ImportBatch) error {
	copied := *batch
	s.batches[batch.ID] = &copied
	return nil
}

func (s *fakeBatchStore) UpdateImportBatchStatus(_ context.Context, id, status string, processedCount, errorCount int) error {
	batch, ok := s.batches[id]
	if !ok {
		return sqlite.ErrNotFound
	}
	batch.Status = status
	batch.ProcessedCount = processedCount
	batch.ErrorCount = errorCount
	return nil
}

func (s *fakeBatchStore) InsertProduct(_ context.Context, p *models.Product) error {
	if s.failRows {
		return errors.New("disk full")
	}
	s.products = append(s.products, p)
	return nil
}

func newTestProcessor() (*Processor, *fakeBatchStore, *fakeCorrStore, *fakeFieldStore) {
	batches := newFakeBatchStore()
	corrs := newFakeCorrStore()
	fields := newFakeFieldStore()
	proc := NewProcessor(batches, learning.NewLearner(corrs), customfield.NewRegistry(fields, nil))
	return proc, batches, corrs, fields
}

func TestAnalyzeColumnsSuggestsSchemaFields(t *testing.T) {
	proc, _, _, _ := newTestProcessor()

	reports := proc.AnalyzeColumns(context.Background(), "client-1", []Column{
		{Header: "SKU#", Samples: []any{"ABC-123", "DEF-456", "GHI-789"}},
		{Header: "Qty Shipped", Samples: []any{"10", "25", "3"}},
		{Header: "Mystery Column", Samples: []any{"one", "two or three", "four five"}},
	})
	require.Len(t, reports, 3)

	require.NotNil(t, reports[0].Suggestion)
	assert.Equal(t, "product_id", reports[0].Suggestion.Field)
	assert.InDelta(t, 0.9, reports[0].Suggestion.Confidence, 1e-9)
	assert.False(t, reports[0].Suggestion.IsLearned)

	require.NotNil(t, reports[1].Suggestion)
	assert.Equal(t, "quantity", reports[1].Suggestion.Field)

	assert.Nil(t, reports[2].Suggestion)
}

func TestAnalyzeColumnsKeepsInputOrder(t *testing.T) {
	proc, _, _, _ := newTestProcessor()

	var columns []Column
	for i := 0; i < 20; i++ {
		columns = append(columns, Column{
			Header:  fmt.Sprintf("Column %d", i),
			Samples: []any{fmt.Sprintf("value %d", i)},
		})
	}

	reports := proc.AnalyzeColumns(context.Background(), "client-1", columns)
	require.Len(t, reports, 20)
	for i, r := range reports {
		assert.Equal(t, columns[i].Header, r.Header)
	}
}

func TestAnalyzeColumnsPenalizesOverriddenSuggestion(t *testing.T) {
	proc, _, corrs, _ := newTestProcessor()
	ctx := context.Background()

	require.NoError(t, corrs.UpsertCorrection(ctx, "client-1", "qty shipped", "quantity", "units_ordered", time.Now()))

	reports := proc.AnalyzeColumns(ctx, "client-1", []Column{
		{Header: "Qty Shipped", Samples: []any{"10", "25", "3"}},
	})
	require.Len(t, reports, 1)
	require.NotNil(t, reports[0].Suggestion)

	// The alias still wins the base suggestion, but the learner knocks it
	// down for having been overridden before.
	assert.Equal(t, "quantity", reports[0].Suggestion.Field)
	assert.InDelta(t, 0.9*0.85, reports[0].Suggestion.Confidence, 1e-9)
	assert.False(t, reports[0].Suggestion.IsLearned)
}

func TestAnalyzeColumnsPromotesLearnedField(t *testing.T) {
	proc, _, corrs, _ := newTestProcessor()
	ctx := context.Background()

	require.NoError(t, corrs.UpsertCorrection(ctx, "client-1", "route code", "product_id", "route_code", time.Now()))

	reports := proc.AnalyzeColumns(ctx, "client-1", []Column{
		{Header: "Route Code", Samples: []any{"R-100", "R-101", "R-102"}},
	})
	require.Len(t, reports, 1)
	require.NotNil(t, reports[0].Suggestion)
	assert.Equal(t, "route_code", reports[0].Suggestion.Field)
	assert.True(t, reports[0].Suggestion.IsLearned)
}

func TestAnalyzeColumnsRecognizesCustomFieldAliases(t *testing.T) {
	proc, _, _, _ := newTestProcessor()
	ctx := context.Background()

	proc.registry.DiscoverFields(ctx, "client-1", []customfield.DiscoveredHeader{
		{Source: "WH Location", MapsTo: "warehouse_location", DataType: "text"},
	})

	reports := proc.AnalyzeColumns(ctx, "client-1", []Column{
		{Header: "WH Location", Samples: []any{"East", "West", "North"}},
	})
	require.Len(t, reports, 1)
	require.NotNil(t, reports[0].Suggestion)
	assert.Equal(t, "warehouse_location", reports[0].Suggestion.Field)
	assert.True(t, reports[0].Suggestion.IsCustom)
}

func testImport() Import {
	return Import{
		ImportType: "product_catalog",
		Headers:    []string{"SKU#", "Description", "Pack Size", "Warehouse"},
		Mappings: map[string]string{
			"SKU#":        "product_id",
			"Description": "product_name",
			"Pack Size":   "pack_size",
		},
		CustomColumns: []customfield.DiscoveredHeader{
			{Source: "Warehouse", MapsTo: "warehouse_location", DataType: "text"},
		},
		Rows: [][]any{
			{"ABC-123", "Paper Towels", "12", "East"},
			{"DEF-456", "Trash Bags", "24", "West"},
		},
	}
}

func TestProcessImport(t *testing.T) {
	proc, batches, _, fields := newTestProcessor()

	batch, err := proc.ProcessImport(context.Background(), "client-1", testImport())
	require.NoError(t, err)

	assert.Equal(t, models.BatchStatusCompleted, batch.Status)
	assert.Equal(t, 2, batch.ProcessedCount)
	assert.Equal(t, 0, batch.ErrorCount)
	assert.Equal(t, batch.Status, batches.batches[batch.ID].Status)

	require.Len(t, batches.products, 2)
	first := batches.products[0]
	assert.Equal(t, "ABC-123", first.ProductID)
	assert.Equal(t, "Paper Towels", first.Name)
	assert.Equal(t, 12, first.PackSize)

	value := customfield.DecodeValue(first.Metadata["warehouse_location"])
	assert.Equal(t, customfield.KindText, value.Kind)
	assert.Equal(t, "East", value.Text)

	// The confirmed custom column landed in the catalog too.
	assert.Contains(t, fields.defs, "warehouse_location")
}

func TestProcessImportCountsRowFailures(t *testing.T) {
	proc, _, _, _ := newTestProcessor()

	imp := testImport()
	imp.Rows = append(imp.Rows, []any{nil, "No SKU", "6", "South"})

	batch, err := proc.ProcessImport(context.Background(), "client-1", imp)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusCompleted, batch.Status)
	assert.Equal(t, 2, batch.ProcessedCount)
	assert.Equal(t, 1, batch.ErrorCount)
}

func TestProcessImportAllRowsFailed(t *testing.T) {
	proc, batches, _, _ := newTestProcessor()
	batches.failRows = true

	batch, err := proc.ProcessImport(context.Background(), "client-1", testImport())
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusFailed, batch.Status)
	assert.Equal(t, 0, batch.ProcessedCount)
	assert.Equal(t, 2, batch.ErrorCount)
}

func TestProcessImportStoresCorrections(t *testing.T) {
	proc, _, corrs, _ := newTestProcessor()

	imp := testImport()
	imp.Corrections = []learning.Correction{
		{Header: "Qty Shipped", SuggestedField: "quantity", ConfirmedField: "units_ordered"},
		{Header: "SKU#", SuggestedField: "product_id", ConfirmedField: "product_id"},
	}

	_, err := proc.ProcessImport(context.Background(), "client-1", imp)
	require.NoError(t, err)

	// Only the disagreement is recorded.
	require.Len(t, corrs.rows, 1)
	assert.Equal(t, "units_ordered", corrs.rows["qty shipped"].ConfirmedField)
}
