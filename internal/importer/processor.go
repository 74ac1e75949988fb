package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mapsmith/backend/internal/customfield"
	"github.com/mapsmith/backend/internal/learning"
	"github.com/mapsmith/backend/internal/metrics"
	"github.com/mapsmith/backend/internal/normalize"
	"github.com/mapsmith/backend/internal/storage/models"
	"github.com/mapsmith/backend/internal/typedetect"
	"github.com/mapsmith/backend/pkg/logger"
)

// suggestThreshold is the minimum confidence before a schema suggestion is
// offered at all; below it the column is reported unmapped.
const suggestThreshold = 0.5

// aliasConfidence is the base confidence for a header that matches a known
// schema alias before boosts are applied.
const aliasConfidence = 0.9

// customAliasConfidence is the base confidence for a header matching an
// already-cataloged custom field.
const customAliasConfidence = 0.75

// schemaField is one target of the fixed internal schema.
type schemaField struct {
	Name    string
	Type    typedetect.FieldType
	aliases []string
}

// schemaFields is the fixed internal schema imports map onto. Aliases are
// stored normalized.
var schemaFields = []schemaField{
	{"product_id", typedetect.FieldAlphanumeric, []string{
		"product id", "product_id", "sku", "sku#", "item", "item#", "item number",
		"item code", "part number", "part#", "upc", "product code",
	}},
	{"product_name", typedetect.FieldText, []string{
		"product name", "name", "description", "item description", "product description",
	}},
	{"quantity", typedetect.FieldNumeric, []string{
		"quantity", "qty", "qty shipped", "units", "units shipped", "cases", "case count",
	}},
	{"transaction_date", typedetect.FieldDate, []string{
		"date", "ship date", "order date", "invoice date", "transaction date", "delivery date",
	}},
	{"pack_size", typedetect.FieldNumericInteger, []string{
		"pack size", "pack", "case pack", "units per case", "count per case",
	}},
}

var schemaByAlias = func() map[string]schemaField {
	m := make(map[string]schemaField)
	for _, f := range schemaFields {
		for _, a := range f.aliases {
			m[normalize.Header(a)] = f
		}
	}
	return m
}()

// Column is one source column with its sampled values.
type Column struct {
	Header  string `json:"header"`
	Samples []any  `json:"samples"`
}

// Suggestion is the candidate mapping offered for one column.
type Suggestion struct {
	Field      string  `json:"field"`
	Confidence float64 `json:"confidence"`
	IsLearned  bool    `json:"isLearned"`
	IsCustom   bool    `json:"isCustom"`
}

// ColumnReport is the per-column output of an analysis pass.
type ColumnReport struct {
	Header     string              `json:"header"`
	Analysis   typedetect.Analysis `json:"analysis"`
	Suggestion *Suggestion         `json:"suggestion,omitempty"`
	Issues     []string            `json:"issues,omitempty"`
}

// BatchStore is the persistence the processor needs for batch progress and
// product rows.
type BatchStore interface {
	CreateImportBatch(ctx context.Context, batch *models.ImportBatch) error
	UpdateImportBatchStatus(ctx context.Context, id, status string, processedCount, errorCount int) error
	InsertProduct(ctx context.Context, p *models.Product) error
}

// Processor runs the import pipeline: concurrent column analysis, learned
// boost application, custom field discovery, and batch bookkeeping.
type Processor struct {
	store    BatchStore
	learner  *learning.Learner
	registry *customfield.Registry
	now      func() time.Time
}

func NewProcessor(store BatchStore, learner *learning.Learner, registry *customfield.Registry) *Processor {
	return &Processor{
		store:    store,
		learner:  learner,
		registry: registry,
		now:      time.Now,
	}
}

// AnalyzeColumns classifies every column and attaches a boosted mapping
// suggestion. Columns are independent, so each analyzes on its own
// goroutine; results keep input order.
func (p *Processor) AnalyzeColumns(ctx context.Context, clientID string, columns []Column) []ColumnReport {
	headers := make([]string, len(columns))
	for i, col := range columns {
		headers[i] = col.Header
	}
	boosts := p.learner.LearnedBoosts(ctx, clientID, headers)
	customDefs := p.customFieldsByAlias(ctx, clientID)

	reports := make([]ColumnReport, len(columns))
	var wg sync.WaitGroup
	for i, col := range columns {
		wg.Add(1)
		go func(i int, col Column) {
			defer wg.Done()
			reports[i] = p.analyzeColumn(col, boosts, customDefs)
		}(i, col)
	}
	wg.Wait()

	return reports
}

func (p *Processor) analyzeColumn(col Column, boosts map[string]learning.Boost, customDefs map[string]string) ColumnReport {
	analysis := typedetect.AnalyzeColumn(col.Samples)
	metrics.ColumnsAnalyzed.WithLabelValues(string(analysis.DetectedType)).Inc()
	metrics.AnalysisConfidence.Observe(analysis.Confidence)

	report := ColumnReport{Header: col.Header, Analysis: analysis}
	normalized := normalize.Header(col.Header)

	field, confidence, isCustom := p.baseSuggestion(normalized, customDefs)
	var issues []string
	if field != "" && !isCustom {
		// Alias hits are still checked against the target's expectations;
		// a header that says quantity over a column of prose is worth
		// flagging before anyone confirms it.
		if sf, ok := schemaFieldByName(field); ok {
			result := typedetect.ValidateColumnForField(col.Samples, sf.Type, nil)
			issues = result.Issues
			if !result.IsValid {
				confidence *= 0.5
			}
		}
	}

	// A boost can promote a header no alias recognizes, so consult the
	// learner even for unmatched columns.
	if boost, ok := boosts[normalized]; ok {
		target := field
		if target == "" {
			target = boost.BoostedField
			confidence = fallbackSuggestionConfidence(analysis)
		}
		boosted, isLearned := p.learner.ApplyBoost(col.Header, target, confidence, boosts)
		confidence = boosted
		if isLearned {
			field = target
			isCustom = false
		}
		report.Suggestion = &Suggestion{Field: field, Confidence: confidence, IsLearned: isLearned, IsCustom: isCustom}
	} else if field != "" && confidence >= suggestThreshold {
		report.Suggestion = &Suggestion{Field: field, Confidence: confidence, IsCustom: isCustom}
	}

	report.Issues = issues
	return report
}

func (p *Processor) baseSuggestion(normalized string, customDefs map[string]string) (field string, confidence float64, isCustom bool) {
	if sf, ok := schemaByAlias[normalized]; ok {
		return sf.Name, aliasConfidence, false
	}
	if name, ok := customDefs[normalized]; ok {
		return name, customAliasConfidence, true
	}
	return "", 0, false
}

func schemaFieldByName(name string) (schemaField, bool) {
	for _, f := range schemaFields {
		if f.Name == name {
			return f, true
		}
	}
	return schemaField{}, false
}

// fallbackSuggestionConfidence seeds a boost-only suggestion from how
// decisively the column's type was detected.
func fallbackSuggestionConfidence(analysis typedetect.Analysis) float64 {
	return analysis.Confidence * 0.5
}

// customFieldsByAlias indexes a client's custom field catalog by every
// normalized spelling it has been seen under.
func (p *Processor) customFieldsByAlias(ctx context.Context, clientID string) map[string]string {
	defs := p.registry.Fields(ctx, clientID)
	out := make(map[string]string)
	for _, def := range defs {
		out[def.NormalizedName] = def.NormalizedName
		for _, alias := range def.KnownAliases {
			out[normalize.Header(alias)] = def.NormalizedName
		}
	}
	return out
}

// Import is one confirmed import ready for processing. Mappings assigns a
// schema field to each mapped header; CustomColumns lists the columns the
// user confirmed as non-schema fields.
type Import struct {
	ImportType    string                         `json:"importType"`
	Headers       []string                       `json:"headers"`
	Rows          [][]any                        `json:"rows"`
	Mappings      map[string]string              `json:"mappings"`
	CustomColumns []customfield.DiscoveredHeader `json:"customColumns"`
	Corrections   []learning.Correction          `json:"corrections,omitempty"`
}

// ProcessImport runs one confirmed import end to end: records the batch,
// stores any mapping corrections, registers confirmed custom fields, and
// writes product rows with their metadata bags. Row-level failures count
// against the batch but do not abort it.
func (p *Processor) ProcessImport(ctx context.Context, clientID string, imp Import) (*models.ImportBatch, error) {
	batch := &models.ImportBatch{
		ID:         uuid.NewString(),
		ClientID:   clientID,
		ImportType: imp.ImportType,
		Status:     models.BatchStatusPending,
		CreatedAt:  p.now(),
	}
	if err := p.store.CreateImportBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to create import batch: %w", err)
	}

	if err := p.store.UpdateImportBatchStatus(ctx, batch.ID, models.BatchStatusProcessing, 0, 0); err != nil {
		return nil, fmt.Errorf("failed to start import batch: %w", err)
	}
	batch.Status = models.BatchStatusProcessing

	p.learner.StoreCorrections(ctx, clientID, imp.Corrections)
	p.registry.DiscoverFields(ctx, clientID, imp.CustomColumns)

	customTypes := make(map[string]string, len(imp.CustomColumns))
	customNames := make(map[string]string, len(imp.CustomColumns))
	for _, c := range imp.CustomColumns {
		customTypes[c.Source] = c.DataType
		customNames[c.Source] = normalize.Header(c.MapsTo)
	}

	processed, failed := 0, 0
	for _, row := range imp.Rows {
		if err := p.insertRow(ctx, clientID, imp, row, customNames, customTypes); err != nil {
			failed++
			logger.Warn("Failed to import row",
				zap.String("client_id", clientID),
				zap.String("batch_id", batch.ID),
				zap.Error(err),
			)
			continue
		}
		processed++
	}

	status := models.BatchStatusCompleted
	if processed == 0 && failed > 0 {
		status = models.BatchStatusFailed
	}
	if err := p.store.UpdateImportBatchStatus(ctx, batch.ID, status, processed, failed); err != nil {
		return nil, fmt.Errorf("failed to finish import batch: %w", err)
	}
	metrics.ImportBatches.WithLabelValues(status).Inc()

	batch.Status = status
	batch.ProcessedCount = processed
	batch.ErrorCount = failed

	logger.Info("Import batch processed",
		zap.String("client_id", clientID),
		zap.String("batch_id", batch.ID),
		zap.Int("processed", processed),
		zap.Int("failed", failed),
	)
	return batch, nil
}

func (p *Processor) insertRow(ctx context.Context, clientID string, imp Import, row []any, customNames, customTypes map[string]string) error {
	if len(row) > len(imp.Headers) {
		return fmt.Errorf("row has %d cells but import has %d headers", len(row), len(imp.Headers))
	}

	now := p.now()
	product := &models.Product{
		ID:        uuid.NewString(),
		ClientID:  clientID,
		IsActive:  true,
		Metadata:  make(map[string]json.RawMessage),
		CreatedAt: now,
		UpdatedAt: now,
	}

	for i, cell := range row {
		header := imp.Headers[i]
		raw, ok := typedetect.CellString(cell)

		if field, mapped := imp.Mappings[header]; mapped {
			if !ok {
				continue
			}
			if err := assignSchemaField(product, field, raw); err != nil {
				return fmt.Errorf("column %q: %w", header, err)
			}
			continue
		}

		name, isCustom := customNames[header]
		if !isCustom {
			continue
		}
		value := customfield.FieldValue{Kind: customfield.KindEmpty}
		if ok {
			value = typedValueFor(raw, customTypes[header])
		}
		encoded, err := customfield.EncodeValue(value, header, now)
		if err != nil {
			return fmt.Errorf("column %q: %w", header, err)
		}
		product.Metadata[name] = encoded
	}

	if product.ProductID == "" {
		return fmt.Errorf("row has no product id")
	}
	return p.store.InsertProduct(ctx, product)
}

func assignSchemaField(product *models.Product, field, raw string) error {
	switch field {
	case "product_id":
		product.ProductID = raw
	case "product_name":
		product.Name = raw
	case "pack_size":
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("invalid pack size %q", raw)
		}
		product.PackSize = n
	case "quantity", "transaction_date":
		// Transaction-level fields ride along in the bag until order
		// ingestion grows its own table.
		encoded, err := customfield.EncodeValue(typedValueFor(raw, ""), field, product.UpdatedAt)
		if err != nil {
			return err
		}
		product.Metadata[field] = encoded
	default:
		return fmt.Errorf("unknown schema field %q", field)
	}
	return nil
}

// typedValueFor parses one raw cell into the typed form its declared (or
// detected) data type implies.
func typedValueFor(raw, dataType string) customfield.FieldValue {
	switch typedetect.DataType(dataType) {
	case typedetect.TypeDate:
		if d, ok := typedetect.ParseDate(raw); ok {
			return customfield.FieldValue{Kind: customfield.KindDate, Date: d}
		}
	case typedetect.TypeBoolean:
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "true", "yes", "y", "t", "1":
			return customfield.FieldValue{Kind: customfield.KindBoolean, Boolean: true}
		case "false", "no", "n", "f", "0":
			return customfield.FieldValue{Kind: customfield.KindBoolean, Boolean: false}
		}
	}
	if n, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(raw), ",", ""), 64); err == nil {
		return customfield.FieldValue{Kind: customfield.KindNumeric, Number: n}
	}
	return customfield.FieldValue{Kind: customfield.KindText, Text: raw}
}
