package models

import (
	"encoding/json"
	"time"
)

type Client struct {
	ID        string
	Name      string
	IsActive  bool
	CreatedAt time.Time
}

// MappingCorrection records that a user overrode a suggested mapping for a
// header. One row per (client, normalized header); agreement is never
// stored, and the count only grows.
type MappingCorrection struct {
	ClientID         string
	NormalizedHeader string
	SuggestedField   string
	ConfirmedField   string
	CorrectionCount  int
	LastCorrectedAt  time.Time
}

// CustomFieldDefinition catalogs a client-specific field discovered outside
// the fixed schema. KnownAliases holds every distinct source header spelling
// ever observed for the normalized name, in first-seen order.
type CustomFieldDefinition struct {
	ID              string
	ClientID        string
	NormalizedName  string
	DisplayName     string
	DataType        string
	Category        *string
	IsDisplayed     bool
	IsPinned        bool
	DisplayOrder    int
	AggregationType *string
	FormatPattern   *string
	KnownAliases    []string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Product carries the per-product custom field bag scanned by the aggregate
// statistics. Metadata values stay raw here; the customfield package owns
// their typed decoding.
type Product struct {
	ID        string
	ClientID  string
	ProductID string
	Name      string
	IsActive  bool
	IsOrphan  bool
	PackSize  int
	Metadata  map[string]json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ImportBatch struct {
	ID             string
	ClientID       string
	ImportType     string
	Status         string
	ProcessedCount int
	ErrorCount     int
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

const (
	BatchStatusPending    = "pending"
	BatchStatusProcessing = "processing"
	BatchStatusCompleted  = "completed"
	BatchStatusFailed     = "failed"
)
