// Package postgres persists memory records in PostgreSQL. When the pgvector
// extension is available the embedding column is a native vector and the
// store also serves semantic similarity queries directly.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	pgvector "github.com/pgvector/pgvector-go"

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
	keywords          JSONB,
	event_date        TIMESTAMPTZ,
	embedding_model   TEXT NOT NULL DEFAULT '',
	active            BOOLEAN NOT NULL DEFAULT TRUE,
	access_count      INTEGER NOT NULL DEFAULT 0,
	last_accessed_at  TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_user_memories_owner
	ON user_memories(owner_id, bot_id, active);
CREATE INDEX IF NOT EXISTS idx_user_memories_rank
	ON user_memories(owner_id, importance, created_at);
`

const migrationPgvector = `
ALTER TABLE user_memories ADD COLUMN IF NOT EXISTS embedding vector;
`

const importanceRank = `CASE importance
	WHEN 'critical' THEN 3
	WHEN 'high' THEN 2
	WHEN 'medium' THEN 1
	ELSE 0
END`

// Store implements storage.MemoryStore using PostgreSQL.
type Store struct {
	db                *sql.DB
	pgvectorAvailable bool
}

// NewStore opens the database at dsn and applies the schema. pgvector is
// optional: without it the store works but VectorSearch returns no hits.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to ping database: %w", err)
	}

	s := &Store{db: db}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to apply schema: %w", err)
	}

	if _, err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		log.Printf("postgres: pgvector extension not available (vector search disabled): %v", err)
	} else if _, err := db.Exec(migrationPgvector); err != nil {
		log.Printf("postgres: failed to add embedding column (vector search disabled): %v", err)
	} else {
		s.pgvectorAvailable = true
	}

	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// VectorSearchAvailable reports whether pgvector queries can be served.
func (s *Store) VectorSearchAvailable() bool { return s.pgvectorAvailable }

func (s *Store) Store(ctx context.Context, rec *types.MemoryRecord) error {
	if err := validate(rec); err != nil {
		return err
	}
	keywordsJSON, err := marshalKeywords(rec.Keywords)
	if err != nil {
		return err
	}

	if s.pgvectorAvailable {
		query := `
			INSERT INTO user_memories (
				id, owner_id, bot_id, summary, user_message, assistant_message,
				importance, category, keywords, event_date, embedding,
				embedding_model, active, access_count, last_accessed_at,
				created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
			ON CONFLICT (id) DO UPDATE SET
				summary = EXCLUDED.summary,
				user_message = EXCLUDED.user_message,
				assistant_message = EXCLUDED.assistant_message,
				importance = EXCLUDED.importance,
				category = EXCLUDED.category,
				keywords = EXCLUDED.keywords,
				event_date = EXCLUDED.event_date,
				embedding = EXCLUDED.embedding,
				embedding_model = EXCLUDED.embedding_model,
				active = EXCLUDED.active,
				updated_at = EXCLUDED.updated_at
		`
		_, err = s.db.ExecContext(ctx, query,
			rec.ID, rec.OwnerID, rec.BotID, rec.Summary, rec.UserMessage,
			rec.AssistantMessage, string(rec.Importance), rec.Category,
			keywordsJSON, rec.EventDate, toVector(rec.Embedding),
			rec.EmbeddingModel, rec.Active, rec.AccessCount,
			rec.LastAccessedAt, rec.CreatedAt, rec.UpdatedAt)
	} else {
		query := `
			INSERT INTO user_memories (
				id, owner_id, bot_id, summary, user_message, assistant_message,
				importance, category, keywords, event_date,
				embedding_model, active, access_count, last_accessed_at,
				created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
			ON CONFLICT (id) DO UPDATE SET
				summary = EXCLUDED.summary,
				user_message = EXCLUDED.user_message,
				assistant_message = EXCLUDED.assistant_message,
				importance = EXCLUDED.importance,
				category = EXCLUDED.category,
				keywords = EXCLUDED.keywords,
				event_date = EXCLUDED.event_date,
				embedding_model = EXCLUDED.embedding_model,
				active = EXCLUDED.active,
				updated_at = EXCLUDED.updated_at
		`
		_, err = s.db.ExecContext(ctx, query,
			rec.ID, rec.OwnerID, rec.BotID, rec.Summary, rec.UserMessage,
			rec.AssistantMessage, string(rec.Importance), rec.Category,
			keywordsJSON, rec.EventDate,
			rec.EmbeddingModel, rec.Active, rec.AccessCount,
			rec.LastAccessedAt, rec.CreatedAt, rec.UpdatedAt)
	}
	if err != nil {
		return fmt.Errorf("postgres: failed to store memory: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*types.MemoryRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: memory ID is required", storage.ErrInvalidInput)
	}
	row := s.db.QueryRowContext(ctx,
		s.selectColumns()+` FROM user_memories WHERE id = $1`, id)
	rec, err := s.scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get memory: %w", err)
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

	var res sql.Result
	if s.pgvectorAvailable {
		res, err = s.db.ExecContext(ctx, `
			UPDATE user_memories SET
				summary = $1, user_message = $2, assistant_message = $3,
				importance = $4, category = $5, keywords = $6, event_date = $7,
				embedding = $8, embedding_model = $9, active = $10,
				access_count = $11, last_accessed_at = $12, updated_at = $13
			WHERE id = $14`,
			rec.Summary, rec.UserMessage, rec.AssistantMessage,
			string(rec.Importance), rec.Category, keywordsJSON, rec.EventDate,
			toVector(rec.Embedding), rec.EmbeddingModel, rec.Active,
			rec.AccessCount, rec.LastAccessedAt, rec.UpdatedAt, rec.ID)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE user_memories SET
				summary = $1, user_message = $2, assistant_message = $3,
				importance = $4, category = $5, keywords = $6, event_date = $7,
				embedding_model = $8, active = $9,
				access_count = $10, last_accessed_at = $11, updated_at = $12
			WHERE id = $13`,
			rec.Summary, rec.UserMessage, rec.AssistantMessage,
			string(rec.Importance), rec.Category, keywordsJSON, rec.EventDate,
			rec.EmbeddingModel, rec.Active,
			rec.AccessCount, rec.LastAccessedAt, rec.UpdatedAt, rec.ID)
	}
	if err != nil {
		return fmt.Errorf("postgres: failed to update memory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: failed to check rows affected: %w", err)
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
		`UPDATE user_memories SET active = FALSE, updated_at = NOW()
		 WHERE id = $1 AND active = TRUE`, id)
	if err != nil {
		return false, fmt.Errorf("postgres: failed to soft delete memory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("postgres: failed to check rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *Store) ListByOwner(ctx context.Context, q storage.ListQuery) ([]*types.MemoryRecord, error) {
	if q.OwnerID == "" {
		return nil, fmt.Errorf("%w: owner ID is required", storage.ErrInvalidInput)
	}

	var sb strings.Builder
	sb.WriteString(s.selectColumns())
	sb.WriteString(` FROM user_memories WHERE owner_id = $1 AND active = TRUE`)
	args := []any{q.OwnerID}

	if q.BotID != "" {
		args = append(args, q.BotID)
		fmt.Fprintf(&sb, ` AND bot_id = $%d`, len(args))
	}
	if len(q.Categories) > 0 {
		placeholders := make([]string, len(q.Categories))
		for i, c := range q.Categories {
			args = append(args, c)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		sb.WriteString(` AND category IN (` + strings.Join(placeholders, ",") + `)`)
	}
	sb.WriteString(` ORDER BY ` + importanceRank + ` DESC,
		last_accessed_at DESC NULLS LAST, created_at DESC`)
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&sb, ` LIMIT $%d`, len(args))
	}

	return s.queryRecords(ctx, sb.String(), args...)
}

func (s *Store) ListUnembedded(ctx context.Context, limit int) ([]*types.MemoryRecord, error) {
	if !s.pgvectorAvailable {
		// Without the vector column every record counts as unembedded, but
		// there is nowhere to write a backfilled vector either.
		return nil, nil
	}
	query := s.selectColumns() + ` FROM user_memories
		WHERE active = TRUE AND embedding IS NULL
		ORDER BY created_at ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
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
	if !s.pgvectorAvailable {
		return fmt.Errorf("postgres: pgvector extension not available")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE user_memories SET embedding = $1, embedding_model = $2, updated_at = NOW()
		 WHERE id = $3`,
		toVector(embedding), model, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to store embedding: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: failed to check rows affected: %w", err)
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
		return fmt.Errorf("postgres: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`UPDATE user_memories SET access_count = access_count + 1, last_accessed_at = $1
			 WHERE id = $2`, now, id); err != nil {
			return fmt.Errorf("postgres: failed to touch memory %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: failed to commit touch: %w", err)
	}
	return nil
}

func (s *Store) CountByCategory(ctx context.Context, ownerID string) (map[string]int, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner ID is required", storage.ErrInvalidInput)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, COUNT(*) FROM user_memories
		 WHERE owner_id = $1 AND active = TRUE GROUP BY category`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to count memories: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var category string
		var n int
		if err := rows.Scan(&category, &n); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan count: %w", err)
		}
		counts[category] = n
	}
	return counts, rows.Err()
}

// VectorSearch returns up to topK active records for an owner ordered by
// cosine similarity to query, dropping hits below minScore. Without pgvector
// it returns no hits so callers take their fallback path.
func (s *Store) VectorSearch(ctx context.Context, ownerID string, query []float64, topK int, minScore float64) ([]storage.VectorHit, error) {
	if !s.pgvectorAvailable || len(query) == 0 || topK <= 0 {
		return nil, nil
	}

	querySQL := s.selectColumns() + `, 1 - (embedding <=> $1::vector) AS score
		FROM user_memories
		WHERE owner_id = $2 AND active = TRUE AND embedding IS NOT NULL
		ORDER BY embedding <=> $1::vector
		LIMIT $3`

	rows, err := s.db.QueryContext(ctx, querySQL, toVector(query), ownerID, topK)
	if err != nil {
		return nil, fmt.Errorf("postgres: vector search: %w", err)
	}
	defer rows.Close()

	var hits []storage.VectorHit
	for rows.Next() {
		rec, score, err := s.scanRecordWithScore(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan hit: %w", err)
		}
		if score < minScore {
			continue
		}
		hits = append(hits, storage.VectorHit{Record: rec, Score: score})
	}
	return hits, rows.Err()
}

func (s *Store) selectColumns() string {
	cols := `SELECT id, owner_id, bot_id, summary, user_message,
		assistant_message, importance, category, keywords, event_date,
		embedding_model, active, access_count, last_accessed_at, created_at,
		updated_at`
	return cols
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]*types.MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query memories: %w", err)
	}
	defer rows.Close()

	var records []*types.MemoryRecord
	for rows.Next() {
		rec, err := s.scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan memory: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *Store) scanRecord(row rowScanner) (*types.MemoryRecord, error) {
	rec, _, err := scan(row, false)
	return rec, err
}

func (s *Store) scanRecordWithScore(row rowScanner) (*types.MemoryRecord, float64, error) {
	return scan(row, true)
}

func scan(row rowScanner, withScore bool) (*types.MemoryRecord, float64, error) {
	var (
		rec          types.MemoryRecord
		importance   string
		keywordsJSON []byte
		eventDate    sql.NullTime
		lastAccessed sql.NullTime
		score        float64
	)
	dest := []any{&rec.ID, &rec.OwnerID, &rec.BotID, &rec.Summary,
		&rec.UserMessage, &rec.AssistantMessage, &importance, &rec.Category,
		&keywordsJSON, &eventDate, &rec.EmbeddingModel, &rec.Active,
		&rec.AccessCount, &lastAccessed, &rec.CreatedAt, &rec.UpdatedAt}
	if withScore {
		dest = append(dest, &score)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, 0, err
	}

	rec.Importance = types.Importance(importance)
	if len(keywordsJSON) > 0 {
		if err := json.Unmarshal(keywordsJSON, &rec.Keywords); err != nil {
			return nil, 0, fmt.Errorf("failed to unmarshal keywords: %w", err)
		}
	}
	if eventDate.Valid {
		t := eventDate.Time
		rec.EventDate = &t
	}
	if lastAccessed.Valid {
		t := lastAccessed.Time
		rec.LastAccessedAt = &t
	}
	return &rec, score, nil
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
	return b, nil
}

// toVector converts an embedding to the pgvector wire type. nil maps to a
// NULL column value.
func toVector(embedding []float64) any {
	if len(embedding) == 0 {
		return nil
	}
	f32 := make([]float32, len(embedding))
	for i, v := range embedding {
		f32[i] = float32(v)
	}
	return pgvector.NewVector(f32)
}
