package customfield

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mapsmith/backend/internal/metrics"
	"github.com/mapsmith/backend/internal/normalize"
	"github.com/mapsmith/backend/internal/storage/models"
	"github.com/mapsmith/backend/internal/storage/sqlite"
	"github.com/mapsmith/backend/pkg/logger"
)

// Store is the persistence contract for custom field definitions and the
// product metadata the aggregate statistics scan.
type Store interface {
	GetCustomFieldByName(ctx context.Context, clientID, normalizedName string) (*models.CustomFieldDefinition, error)
	CreateCustomField(ctx context.Context, def *models.CustomFieldDefinition) error
	UpdateCustomFieldAliases(ctx context.Context, id string, aliases []string, updatedAt time.Time) error
	ListCustomFields(ctx context.Context, clientID string) ([]models.CustomFieldDefinition, error)
	DeleteCustomField(ctx context.Context, id string) error
	NextDisplayOrder(ctx context.Context, clientID string) (int, error)
	ProductMetadata(ctx context.Context, clientID string) ([]map[string]json.RawMessage, error)
}

// StatsCache is an optional cache in front of the aggregate statistics.
// Discovery and deletes invalidate it; definition and boost lookups never
// go through it.
type StatsCache interface {
	Get(ctx context.Context, key string, v any) (bool, error)
	Set(ctx context.Context, key string, v any) error
	InvalidateClient(ctx context.Context, clientID string) error
}

// DiscoveredHeader describes one confirmed non-schema column from an
// import: the source header spelling, the normalized field name it maps to,
// and the data type detected for its values.
type DiscoveredHeader struct {
	Source   string `json:"source"`
	MapsTo   string `json:"mapsTo"`
	DataType string `json:"dataType"`
}

// Registry discovers and catalogs client-specific fields that fall outside
// the fixed schema.
type Registry struct {
	store Store
	cache StatsCache
	now   func() time.Time
}

func NewRegistry(store Store, cache StatsCache) *Registry {
	return &Registry{
		store: store,
		cache: cache,
		now:   time.Now,
	}
}

// DiscoverFields registers new custom field definitions and accumulates
// header aliases on existing ones. Discovery is best-effort: persistence
// failures are logged per header and never abort the batch or the import
// that triggered it. Returns the definitions that were created or updated.
func (r *Registry) DiscoverFields(ctx context.Context, clientID string, headers []DiscoveredHeader) []models.CustomFieldDefinition {
	var touched []models.CustomFieldDefinition
	changed := false

	for _, h := range headers {
		name := normalize.Header(h.MapsTo)
		if name == "" {
			continue
		}

		existing, err := r.store.GetCustomFieldByName(ctx, clientID, name)
		switch {
		case err == nil:
			if r.recordAlias(ctx, existing, h.Source) {
				changed = true
			}
			touched = append(touched, *existing)

		case errors.Is(err, sqlite.ErrNotFound):
			def, err := r.createDefinition(ctx, clientID, name, h)
			if err != nil {
				metrics.StorageFailures.WithLabelValues("discover_field").Inc()
				logger.Warn("Failed to register custom field",
					zap.String("client_id", clientID),
					zap.String("header", h.Source),
					zap.Error(err),
				)
				continue
			}
			changed = true
			touched = append(touched, *def)

		default:
			metrics.StorageFailures.WithLabelValues("discover_field").Inc()
			logger.Warn("Failed to look up custom field",
				zap.String("client_id", clientID),
				zap.String("header", h.Source),
				zap.Error(err),
			)
		}
	}

	if changed {
		r.invalidateStats(ctx, clientID)
	}
	return touched
}

// recordAlias appends a newly seen spelling to the definition's alias list.
// The list is set-like and never reordered. The definition is only mutated
// once the write lands, so callers never report an alias that was not
// persisted. Reports whether anything changed.
func (r *Registry) recordAlias(ctx context.Context, def *models.CustomFieldDefinition, source string) bool {
	for _, alias := range def.KnownAliases {
		if alias == source {
			return false
		}
	}

	aliases := make([]string, 0, len(def.KnownAliases)+1)
	aliases = append(aliases, def.KnownAliases...)
	aliases = append(aliases, source)

	if err := r.store.UpdateCustomFieldAliases(ctx, def.ID, aliases, r.now()); err != nil {
		metrics.StorageFailures.WithLabelValues("record_alias").Inc()
		logger.Warn("Failed to record header alias",
			zap.String("client_id", def.ClientID),
			zap.String("field", def.NormalizedName),
			zap.String("alias", source),
			zap.Error(err),
		)
		return false
	}

	def.KnownAliases = aliases
	metrics.AliasesRecorded.Inc()
	return true
}

func (r *Registry) createDefinition(ctx context.Context, clientID, name string, h DiscoveredHeader) (*models.CustomFieldDefinition, error) {
	order, err := r.store.NextDisplayOrder(ctx, clientID)
	if err != nil {
		return nil, err
	}

	now := r.now()
	def := &models.CustomFieldDefinition{
		ID:              uuid.NewString(),
		ClientID:        clientID,
		NormalizedName:  name,
		DisplayName:     GenerateDisplayName(h.MapsTo),
		DataType:        h.DataType,
		Category:        DetectCategory(name),
		IsDisplayed:     true,
		IsPinned:        false,
		DisplayOrder:    order,
		AggregationType: DetectAggregationType(name, h.DataType),
		FormatPattern:   DetectFormatPattern(name, h.DataType),
		KnownAliases:    []string{h.Source},
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := r.store.CreateCustomField(ctx, def); err != nil {
		return nil, err
	}

	metrics.CustomFieldsDiscovered.Inc()
	logger.Info("Custom field discovered",
		zap.String("client_id", clientID),
		zap.String("field", name),
		zap.Int("display_order", order),
	)
	return def, nil
}

// Fields lists a client's custom field definitions in display order. Read
// failures degrade to an empty catalog.
func (r *Registry) Fields(ctx context.Context, clientID string) []models.CustomFieldDefinition {
	defs, err := r.store.ListCustomFields(ctx, clientID)
	if err != nil {
		metrics.StorageFailures.WithLabelValues("list_fields").Inc()
		logger.Warn("Failed to list custom fields", zap.String("client_id", clientID), zap.Error(err))
		return nil
	}
	return defs
}

// DeleteField removes a definition by id. Unlike the rest of the registry
// this propagates storage errors: the caller controls the id, and a silent
// no-op on a missing row would be misleading. Data already written to
// product records is unaffected.
func (r *Registry) DeleteField(ctx context.Context, clientID, id string) error {
	if err := r.store.DeleteCustomField(ctx, id); err != nil {
		return err
	}
	r.invalidateStats(ctx, clientID)
	return nil
}

func (r *Registry) invalidateStats(ctx context.Context, clientID string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.InvalidateClient(ctx, clientID); err != nil {
		logger.Warn("Failed to invalidate stats cache", zap.String("client_id", clientID), zap.Error(err))
	}
}
