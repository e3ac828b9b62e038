// Package sqlite persists memory records in an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/scrypster/recall/internal/storage"
	"github.com/scrypster/recall/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS user_memories (
	id                TEXT PRIMARY KEY,
	owner_id          TEXT NOT NULL,
	bot_id            TEXT NOT NULL DEFAULT '',
	summary           TEXT NOT NULL,
	user_message      TEXT NOT NULL,
	assistant_message TEXT NOT NULL,
	importance        TEXT NOT NULL,
	category          TEXT NOT NULL,
	keywords          TEXT,
	event_date        TEXT,
	embedding         BLOB,
	embedding_model   TEXT NOT NULL DEFAULT '',
	active            INTEGER NOT NULL DEFAULT 1,
	access_count      INTEGER NOT NULL DEFAULT 0,
	last_accessed_at  TEXT,
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_user_memories_owner
	ON user_memories(owner_id, bot_id, active);
CREATE INDEX IF NOT EXISTS idx_user_memories_rank
	ON user_memories(owner_id, importance, created_at);
`

// importanceRank orders the importance column in SQL, highest first.
const importanceRank = `CASE importance
	WHEN 'critical' THEN 3
	WHEN 'high' THEN 2
	WHEN 'medium' THEN 1
	ELSE 0
END`

// Store implements storage.MemoryStore using SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the database at dsn and prepares the schema.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single open connection
	// serialises writes and avoids SQLITE_BUSY under concurrent load; WAL
	// lets readers proceed without blocking the writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Store(ctx context.Context, rec *types.MemoryRecord) error {
	if err := validate(rec); err != nil {
		return err
	}

	keywordsJSON, err := marshalKeywords(rec.Keywords)
	if err != nil {
		return err
	}
	embeddingBlob := serializeEmbedding(rec.Embedding)

	query := `
		INSERT INTO user_memories (
			id, owner_id, bot_id, summary, user_message, assistant_message,
			importance, category, keywords, event_date, embedding,
			embedding_model, active, access_count, last_accessed_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			summary = excluded.summary,
			user_message = excluded.user_message,
			assistant_message = excluded.assistant_message,
			importance = excluded.importance,
			category = excluded.category,
			keywords = excluded.keywords,
			event_date = excluded.event_date,
			embedding = excluded.embedding,
			embedding_model = excluded.embedding_model,
			active = excluded.active,
			updated_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.OwnerID, rec.BotID, rec.Summary, rec.UserMessage,
		rec.AssistantMessage, string(rec.Importance), rec.Category,
		keywordsJSON, formatTimePtr(rec.EventDate), embeddingBlob,
		rec.EmbeddingModel, boolToInt(rec.Active), rec.AccessCount,
		formatTimePtr(rec.LastAccessedAt), formatTime(rec.CreatedAt),
		formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to store memory: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*types.MemoryRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}
	row := s.db.QueryRowContext(ctx, selectColumns+` FROM user_memories WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get memory: %w", err)
	}
	return rec, nil
}

func (s *Store) Update(ctx context.Context, rec *types.MemoryRecord) error {
	if err := validate(rec); err != nil {
		return err
	}
	keywordsJSON, err := marshalKeywords(rec.Keywords)
	if err != nil {
		return err
	}

	query := `
		UPDATE user_memories SET
			summary = ?, user_message = ?, assistant_message = ?,
			importance = ?, category = ?, keywords = ?, event_date = ?,
			embedding = ?, embedding_model = ?, active = ?,
			access_count = ?, last_accessed_at = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		rec.Summary, rec.UserMessage, rec.AssistantMessage,
		string(rec.Importance), rec.Category, keywordsJSON,
		formatTimePtr(rec.EventDate), serializeEmbedding(rec.Embedding),
		rec.EmbeddingModel, boolToInt(rec.Active), rec.AccessCount,
		formatTimePtr(rec.LastAccessedAt), formatTime(rec.UpdatedAt), rec.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update memory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) SoftDelete(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_memories SET active = 0, updated_at = ? WHERE id = ? AND active = 1`,
		formatTime(time.Now()), id)
	if err != nil {
		return false, fmt.Errorf("failed to soft delete memory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *Store) ListByOwner(ctx context.Context, q storage.ListQuery) ([]*types.MemoryRecord, error) {
	if q.OwnerID == "" {
		return nil, fmt.Errorf("%w: owner ID is required", storage.ErrInvalidInput)
	}

	var sb strings.Builder
	sb.WriteString(selectColumns)
	sb.WriteString(` FROM user_memories WHERE owner_id = ? AND active = 1`)
	args := []any{q.OwnerID}

	if q.BotID != "" {
		sb.WriteString(` AND bot_id = ?`)
		args = append(args, q.BotID)
	}
	if len(q.Categories) > 0 {
		sb.WriteString(` AND category IN (?` + strings.Repeat(",?", len(q.Categories)-1) + `)`)
		for _, c := range q.Categories {
			args = append(args, c)
		}
	}
	sb.WriteString(` ORDER BY ` + importanceRank + ` DESC,
		last_accessed_at IS NULL, last_accessed_at DESC, created_at DESC`)
	if q.Limit > 0 {
		sb.WriteString(` LIMIT ?`)
		args = append(args, q.Limit)
	}

	return s.queryRecords(ctx, sb.String(), args...)
}

func (s *Store) ListUnembedded(ctx context.Context, limit int) ([]*types.MemoryRecord, error) {
	query := selectColumns + ` FROM user_memories
		WHERE active = 1 AND embedding IS NULL
		ORDER BY created_at ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryRecords(ctx, query, args...)
}

func (s *Store) StoreEmbedding(ctx context.Context, id string, embedding []float64, model string) error {
	if id == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}
	if len(embedding) == 0 {
		return fmt.Errorf("%w: embedding vector cannot be empty", storage.ErrInvalidInput)
	}
	if model == "" {
		return fmt.Errorf("%w: model is required", storage.ErrInvalidInput)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE user_memories SET embedding = ?, embedding_model = ?, updated_at = ? WHERE id = ?`,
		serializeEmbedding(embedding), model, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) TouchAccess(ctx context.Context, ids []string, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`UPDATE user_memories SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare touch: %w", err)
	}
	defer stmt.Close()

	ts := formatTime(now)
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, ts, id); err != nil {
			return fmt.Errorf("failed to touch memory %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit touch: %w", err)
	}
	return nil
}

func (s *Store) CountByCategory(ctx context.Context, ownerID string) (map[string]int, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner ID is required", storage.ErrInvalidInput)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, COUNT(*) FROM user_memories
		 WHERE owner_id = ? AND active = 1 GROUP BY category`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to count memories: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var category string
		var n int
		if err := rows.Scan(&category, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[category] = n
	}
	return counts, rows.Err()
}

const selectColumns = `SELECT id, owner_id, bot_id, summary, user_message,
	assistant_message, importance, category, keywords, event_date, embedding,
	embedding_model, active, access_count, last_accessed_at, created_at,
	updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]*types.MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query memories: %w", err)
	}
	defer rows.Close()

	var records []*types.MemoryRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanRecord(row rowScanner) (*types.MemoryRecord, error) {
	var (
		rec           types.MemoryRecord
		importance    string
		keywordsJSON  sql.NullString
		eventDate     sql.NullString
		embeddingBlob []byte
		active        int
		lastAccessed  sql.NullString
		createdAt     string
		updatedAt     string
	)
	err := row.Scan(&rec.ID, &rec.OwnerID, &rec.BotID, &rec.Summary,
		&rec.UserMessage, &rec.AssistantMessage, &importance, &rec.Category,
		&keywordsJSON, &eventDate, &embeddingBlob, &rec.EmbeddingModel,
		&active, &rec.AccessCount, &lastAccessed, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	rec.Importance = types.Importance(importance)
	rec.Active = active != 0
	if keywordsJSON.Valid && keywordsJSON.String != "" {
		if err := json.Unmarshal([]byte(keywordsJSON.String), &rec.Keywords); err != nil {
			return nil, fmt.Errorf("failed to unmarshal keywords: %w", err)
		}
	}
	if rec.EventDate, err = parseTimePtr(eventDate); err != nil {
		return nil, err
	}
	if rec.LastAccessedAt, err = parseTimePtr(lastAccessed); err != nil {
		return nil, err
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	rec.Embedding = deserializeEmbedding(embeddingBlob)
	return &rec, nil
}

func validate(rec *types.MemoryRecord) error {
	if rec == nil {
		return storage.ErrInvalidInput
	}
	if rec.ID == "" {
		return fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}
	if rec.OwnerID == "" {
		return fmt.Errorf("%w: owner ID is required", storage.ErrInvalidInput)
	}
	if rec.Summary == "" {
		return fmt.Errorf("%w: summary is required", storage.ErrInvalidInput)
	}
	return nil
}

func marshalKeywords(keywords []string) (any, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(keywords)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal keywords: %w", err)
	}
	return string(b), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
