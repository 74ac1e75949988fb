package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/mapsmith/backend/internal/storage/models"
	"github.com/mapsmith/backend/pkg/logger"
)

// ErrNotFound is returned when a keyed lookup matches no row.
var ErrNotFound = errors.New("not found")

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		custom_field_seq INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS mapping_corrections (
		client_id TEXT NOT NULL,
		normalized_header TEXT NOT NULL,
		suggested_field TEXT NOT NULL,
		confirmed_field TEXT NOT NULL,
		correction_count INTEGER NOT NULL DEFAULT 1,
		last_corrected_at INTEGER NOT NULL,
		PRIMARY KEY (client_id, normalized_header),
		FOREIGN KEY (client_id) REFERENCES clients(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_corrections_client ON mapping_corrections(client_id);
	CREATE INDEX IF NOT EXISTS idx_corrections_corrected ON mapping_corrections(last_corrected_at);

	CREATE TABLE IF NOT EXISTS custom_field_definitions (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		normalized_name TEXT NOT NULL,
		display_name TEXT NOT NULL,
		data_type TEXT NOT NULL,
		category TEXT,
		is_displayed INTEGER NOT NULL DEFAULT 1,
		is_pinned INTEGER NOT NULL DEFAULT 0,
		display_order INTEGER NOT NULL,
		aggregation_type TEXT,
		format_pattern TEXT,
		known_aliases TEXT NOT NULL DEFAULT '[]',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE (client_id, normalized_name),
		FOREIGN KEY (client_id) REFERENCES clients(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_custom_fields_client ON custom_field_definitions(client_id);

	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		name TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		is_orphan INTEGER NOT NULL DEFAULT 0,
		pack_size INTEGER NOT NULL DEFAULT 1,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE (client_id, product_id),
		FOREIGN KEY (client_id) REFERENCES clients(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_products_client ON products(client_id);

	CREATE TABLE IF NOT EXISTS import_batches (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		import_type TEXT NOT NULL,
		status TEXT NOT NULL,
		processed_count INTEGER NOT NULL DEFAULT 0,
		error_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		started_at INTEGER,
		completed_at INTEGER,
		FOREIGN KEY (client_id) REFERENCES clients(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_batches_client ON import_batches(client_id);
	CREATE INDEX IF NOT EXISTS idx_batches_status ON import_batches(status);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) CreateClient(ctx context.Context, client *models.Client) error {
	query := `INSERT INTO clients (id, name, is_active, created_at) VALUES (?, ?, ?, ?)`

	isActive := 0
	if client.IsActive {
		isActive = 1
	}

	_, err := c.db.ExecContext(ctx, query, client.ID, client.Name, isActive, client.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	return nil
}

func (c *Client) GetClient(ctx context.Context, id string) (*models.Client, error) {
	query := `SELECT id, name, is_active, created_at FROM clients WHERE id = ?`

	var client models.Client
	var isActive int
	var createdAt int64

	err := c.db.QueryRowContext(ctx, query, id).Scan(&client.ID, &client.Name, &isActive, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	client.IsActive = isActive == 1
	client.CreatedAt = time.Unix(createdAt, 0)
	return &client, nil
}

// UpsertCorrection creates or bumps the correction row for a normalized
// header. The counter increment happens inside the statement, so concurrent
// imports for the same client never lose counts; confirmed field and
// timestamp are last-writer-wins.
func (c *Client) UpsertCorrection(ctx context.Context, clientID, normalizedHeader, suggestedField, confirmedField string, correctedAt time.Time) error {
	query := `
		INSERT INTO mapping_corrections (client_id, normalized_header, suggested_field, confirmed_field, correction_count, last_corrected_at)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT(client_id, normalized_header) DO UPDATE SET
			correction_count = correction_count + 1,
			suggested_field = excluded.suggested_field,
			confirmed_field = excluded.confirmed_field,
			last_corrected_at = excluded.last_corrected_at
	`

	_, err := c.db.ExecContext(ctx, query, clientID, normalizedHeader, suggestedField, confirmedField, correctedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert correction: %w", err)
	}

	logger.Debug("Correction stored",
		zap.String("client_id", clientID),
		zap.String("header", normalizedHeader),
		zap.String("confirmed_field", confirmedField),
	)
	return nil
}

func (c *Client) CorrectionsByHeaders(ctx context.Context, clientID string, normalizedHeaders []string) ([]models.MappingCorrection, error) {
	if len(normalizedHeaders) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(normalizedHeaders))
	placeholders = placeholders[:len(placeholders)-1]

	query := fmt.Sprintf(`
		SELECT client_id, normalized_header, suggested_field, confirmed_field, correction_count, last_corrected_at
		FROM mapping_corrections
		WHERE client_id = ? AND normalized_header IN (%s)
	`, placeholders)

	args := make([]any, 0, len(normalizedHeaders)+1)
	args = append(args, clientID)
	for _, h := range normalizedHeaders {
		args = append(args, h)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get corrections: %w", err)
	}
	defer rows.Close()

	return scanCorrections(rows)
}

func (c *Client) TopCorrections(ctx context.Context, clientID string, limit int) ([]models.MappingCorrection, error) {
	query := `
		SELECT client_id, normalized_header, suggested_field, confirmed_field, correction_count, last_corrected_at
		FROM mapping_corrections
		WHERE client_id = ?
		ORDER BY correction_count DESC
		LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, clientID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get top corrections: %w", err)
	}
	defer rows.Close()

	return scanCorrections(rows)
}

func (c *Client) CorrectionSummary(ctx context.Context, clientID string) (total int, uniqueHeaders int, err error) {
	query := `SELECT COALESCE(SUM(correction_count), 0), COUNT(*) FROM mapping_corrections WHERE client_id = ?`

	err = c.db.QueryRowContext(ctx, query, clientID).Scan(&total, &uniqueHeaders)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get correction summary: %w", err)
	}
	return total, uniqueHeaders, nil
}

func (c *Client) DeleteCorrectionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := c.db.ExecContext(ctx, `DELETE FROM mapping_corrections WHERE last_corrected_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old corrections: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted corrections: %w", err)
	}
	return deleted, nil
}

func scanCorrections(rows *sql.Rows) ([]models.MappingCorrection, error) {
	var corrections []models.MappingCorrection
	for rows.Next() {
		var mc models.MappingCorrection
		var correctedAt int64

		err := rows.Scan(&mc.ClientID, &mc.NormalizedHeader, &mc.SuggestedField, &mc.ConfirmedField, &mc.CorrectionCount, &correctedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		mc.LastCorrectedAt = time.Unix(correctedAt, 0)
		corrections = append(corrections, mc)
	}

	return corrections, rows.Err()
}

// NextDisplayOrder advances the client's display-order sequence. The
// sequence only moves forward, so orders are never reused even after a
// definition is deleted.
func (c *Client) NextDisplayOrder(ctx context.Context, clientID string) (int, error) {
	query := `UPDATE clients SET custom_field_seq = custom_field_seq + 1 WHERE id = ? RETURNING custom_field_seq`

	var next int
	err := c.db.QueryRowContext(ctx, query, clientID).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to advance display order: %w", err)
	}
	return next, nil
}

func (c *Client) CreateCustomField(ctx context.Context, def *models.CustomFieldDefinition) error {
	aliasesJSON, _ := json.Marshal(def.KnownAliases)

	query := `
		INSERT INTO custom_field_definitions
			(id, client_id, normalized_name, display_name, data_type, category, is_displayed, is_pinned,
			 display_order, aggregation_type, format_pattern, known_aliases, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.ExecContext(ctx, query,
		def.ID,
		def.ClientID,
		def.NormalizedName,
		def.DisplayName,
		def.DataType,
		def.Category,
		boolToInt(def.IsDisplayed),
		boolToInt(def.IsPinned),
		def.DisplayOrder,
		def.AggregationType,
		def.FormatPattern,
		string(aliasesJSON),
		def.CreatedAt.Unix(),
		def.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create custom field: %w", err)
	}

	logger.Debug("Custom field created",
		zap.String("client_id", def.ClientID),
		zap.String("name", def.NormalizedName),
		zap.Int("display_order", def.DisplayOrder),
	)
	return nil
}

func (c *Client) GetCustomFieldByName(ctx context.Context, clientID, normalizedName string) (*models.CustomFieldDefinition, error) {
	query := customFieldSelect + ` WHERE client_id = ? AND normalized_name = ?`

	row := c.db.QueryRowContext(ctx, query, clientID, normalizedName)
	def, err := scanCustomField(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get custom field: %w", err)
	}
	return def, nil
}

func (c *Client) ListCustomFields(ctx context.Context, clientID string) ([]models.CustomFieldDefinition, error) {
	query := customFieldSelect + ` WHERE client_id = ? ORDER BY display_order`

	rows, err := c.db.QueryContext(ctx, query, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list custom fields: %w", err)
	}
	defer rows.Close()

	var defs []models.CustomFieldDefinition
	for rows.Next() {
		def, err := scanCustomField(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		defs = append(defs, *def)
	}

	return defs, rows.Err()
}

func (c *Client) UpdateCustomFieldAliases(ctx context.Context, id string, aliases []string, updatedAt time.Time) error {
	aliasesJSON, _ := json.Marshal(aliases)

	result, err := c.db.ExecContext(ctx,
		`UPDATE custom_field_definitions SET known_aliases = ?, updated_at = ? WHERE id = ?`,
		string(aliasesJSON), updatedAt.Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update aliases: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count updated rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (c *Client) DeleteCustomField(ctx context.Context, id string) error {
	result, err := c.db.ExecContext(ctx, `DELETE FROM custom_field_definitions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete custom field: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count deleted rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	logger.Info("Custom field deleted", zap.String("id", id))
	return nil
}

const customFieldSelect = `
	SELECT id, client_id, normalized_name, display_name, data_type, category, is_displayed, is_pinned,
	       display_order, aggregation_type, format_pattern, known_aliases, created_at, updated_at
	FROM custom_field_definitions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCustomField(row rowScanner) (*models.CustomFieldDefinition, error) {
	var def models.CustomFieldDefinition
	var isDisplayed, isPinned int
	var aliasesJSON string
	var createdAt, updatedAt int64

	err := row.Scan(
		&def.ID,
		&def.ClientID,
		&def.NormalizedName,
		&def.DisplayName,
		&def.DataType,
		&def.Category,
		&isDisplayed,
		&isPinned,
		&def.DisplayOrder,
		&def.AggregationType,
		&def.FormatPattern,
		&aliasesJSON,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	def.IsDisplayed = isDisplayed == 1
	def.IsPinned = isPinned == 1
	def.CreatedAt = time.Unix(createdAt, 0)
	def.UpdatedAt = time.Unix(updatedAt, 0)
	json.Unmarshal([]byte(aliasesJSON), &def.KnownAliases)

	return &def, nil
}

func (c *Client) InsertProduct(ctx context.Context, p *models.Product) error {
	metadataJSON, _ := json.Marshal(p.Metadata)

	query := `
		INSERT INTO products (id, client_id, product_id, name, is_active, is_orphan, pack_size, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_id, product_id) DO UPDATE SET
			name = excluded.name,
			pack_size = excluded.pack_size,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`

	_, err := c.db.ExecContext(ctx, query,
		p.ID,
		p.ClientID,
		p.ProductID,
		p.Name,
		boolToInt(p.IsActive),
		boolToInt(p.IsOrphan),
		p.PackSize,
		string(metadataJSON),
		p.CreatedAt.Unix(),
		p.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert product: %w", err)
	}

	return nil
}

// ProductMetadata returns the custom field bag of every active product for a
// client. Values stay as raw JSON; callers own the typed decoding.
func (c *Client) ProductMetadata(ctx context.Context, clientID string) ([]map[string]json.RawMessage, error) {
	query := `SELECT metadata FROM products WHERE client_id = ? AND is_active = 1`

	rows, err := c.db.QueryContext(ctx, query, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to get product metadata: %w", err)
	}
	defer rows.Close()

	var bags []map[string]json.RawMessage
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		bag := map[string]json.RawMessage{}
		if err := json.Unmarshal([]byte(raw), &bag); err != nil {
			logger.Warn("Skipping malformed product metadata", zap.String("client_id", clientID), zap.Error(err))
			continue
		}
		bags = append(bags, bag)
	}

	return bags, rows.Err()
}

func (c *Client) CreateImportBatch(ctx context.Context, batch *models.ImportBatch) error {
	query := `
		INSERT INTO import_batches (id, client_id, import_type, status, processed_count, error_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.ExecContext(ctx, query,
		batch.ID,
		batch.ClientID,
		batch.ImportType,
		batch.Status,
		batch.ProcessedCount,
		batch.ErrorCount,
		batch.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create import batch: %w", err)
	}

	return nil
}

func (c *Client) GetImportBatch(ctx context.Context, id string) (*models.ImportBatch, error) {
	query := `
		SELECT id, client_id, import_type, status, processed_count, error_count, created_at, started_at, completed_at
		FROM import_batches WHERE id = ?
	`

	var batch models.ImportBatch
	var createdAt int64
	var startedAt, completedAt sql.NullInt64

	err := c.db.QueryRowContext(ctx, query, id).Scan(
		&batch.ID,
		&batch.ClientID,
		&batch.ImportType,
		&batch.Status,
		&batch.ProcessedCount,
		&batch.ErrorCount,
		&createdAt,
		&startedAt,
		&completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get import batch: %w", err)
	}

	batch.CreatedAt = time.Unix(createdAt, 0)
	if startedAt.Valid {
		t := time.Unix(startedAt.Int64, 0)
		batch.StartedAt = &t
	}
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0)
		batch.CompletedAt = &t
	}
	return &batch, nil
}

func (c *Client) UpdateImportBatchStatus(ctx context.Context, id, status string, processedCount, errorCount int) error {
	now := time.Now().Unix()

	query := `
		UPDATE import_batches SET
			status = ?,
			processed_count = ?,
			error_count = ?,
			started_at = CASE WHEN ? = 'processing' AND started_at IS NULL THEN ? ELSE started_at END,
			completed_at = CASE WHEN ? IN ('completed', 'failed') THEN ? ELSE completed_at END
		WHERE id = ?
	`

	result, err := c.db.ExecContext(ctx, query, status, processedCount, errorCount, status, now, status, now, id)
	if err != nil {
		return fmt.Errorf("failed to update import batch: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count updated rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
