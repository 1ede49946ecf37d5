package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/browseragent/taskqueue/internal/apperrors"
)

// MemoryEntryType distinguishes in-conversation turns from the durable
// knowledge the optimizer promotes out of them, per spec.md §3's data model.
type MemoryEntryType string

const (
	MemoryEntryShortTerm    MemoryEntryType = "short_term"
	MemoryEntryLongTerm     MemoryEntryType = "long_term"
	MemoryEntryCrossSession MemoryEntryType = "cross_session"
)

// MemoryEntry is one unit the Adaptive Memory Optimizer scores, compresses,
// or drops, per spec.md §4.8.
type MemoryEntry struct {
	ID               string                 `json:"id"`
	Type             MemoryEntryType        `json:"type"`
	SessionID        string                 `json:"sessionId"`
	Content          string                 `json:"content"`
	Role             string                 `json:"role,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	RelevanceScore   float64                `json:"relevanceScore"`
	IsCompressed     bool                   `json:"isCompressed"`
	CompressedAt     *time.Time             `json:"compressedAt,omitempty"`
	CompressedTokens int                    `json:"compressedTokens,omitempty"`
	CreatedAt        time.Time              `json:"createdAt"`
}

// CreateMemoryEntry inserts a new entry, uncompressed, at relevance 1.0
// unless overridden.
func (s *Store) CreateMemoryEntry(ctx context.Context, e MemoryEntry) error {
	if e.RelevanceScore == 0 {
		e.RelevanceScore = 1.0
	}
	compressed := 0
	if e.IsCompressed {
		compressed = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_entries (id, type, session_id, content, role, metadata, relevance_score,
			is_compressed, compressed_at, compressed_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Type), e.SessionID, e.Content, e.Role, safeEncode(e.Metadata), e.RelevanceScore,
		compressed, nil, e.CompressedTokens, e.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return apperrors.Wrap("store.CreateMemoryEntry", "store", e.ID, err)
	}
	return nil
}

func scanMemoryEntry(row interface{ Scan(...interface{}) error }) (*MemoryEntry, error) {
	var (
		e                         MemoryEntry
		typ                       string
		role, metadata            sql.NullString
		compressed                int
		compressedAt              sql.NullString
		compressedTokens          sql.NullInt64
		createdAt                 string
	)
	if err := row.Scan(&e.ID, &typ, &e.SessionID, &e.Content, &role, &metadata, &e.RelevanceScore,
		&compressed, &compressedAt, &compressedTokens, &createdAt); err != nil {
		return nil, err
	}
	e.Type = MemoryEntryType(typ)
	e.Role = role.String
	e.Metadata = safeParse[map[string]interface{}](metadata.String)
	e.IsCompressed = compressed != 0
	if compressedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, compressedAt.String)
		e.CompressedAt = &t
	}
	e.CompressedTokens = int(compressedTokens.Int64)
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &e, nil
}

const memoryEntryColumns = `id, type, session_id, content, role, metadata, relevance_score,
	is_compressed, compressed_at, compressed_tokens, created_at`

// ListMemoryEntries returns a session's entries oldest-first, the order the
// optimizer's window logic expects.
func (s *Store) ListMemoryEntries(ctx context.Context, sessionID string) ([]*MemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+memoryEntryColumns+`
		FROM memory_entries WHERE session_id = ? ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, apperrors.Wrap("store.ListMemoryEntries", "store", sessionID, err)
	}
	defer rows.Close()

	var out []*MemoryEntry
	for rows.Next() {
		e, err := scanMemoryEntry(rows)
		if err != nil {
			return nil, apperrors.Wrap("store.ListMemoryEntries", "store", sessionID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListMemorySessions returns the distinct session ids with at least one
// memory entry, the sweep target for the optimizer's periodic pass.
func (s *Store) ListMemorySessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT session_id FROM memory_entries`)
	if err != nil {
		return nil, apperrors.Wrap("store.ListMemorySessions", "store", "", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.Wrap("store.ListMemorySessions", "store", "", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// UpdateMemoryRelevance rewrites the relevance score assigned by the
// analyzer's scoring pass.
func (s *Store) UpdateMemoryRelevance(ctx context.Context, id string, score float64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE memory_entries SET relevance_score = ? WHERE id = ?`, score, id)
	if err != nil {
		return apperrors.Wrap("store.UpdateMemoryRelevance", "store", id, err)
	}
	return nil
}

// CompressMemoryEntry replaces content with its compressed form and stamps
// compressedAt/compressedTokens; it never deletes the row, since the spec
// requires compressed entries to remain addressable.
func (s *Store) CompressMemoryEntry(ctx context.Context, id, compressedContent string, tokens int, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE memory_entries SET
		content = ?, is_compressed = 1, compressed_at = ?, compressed_tokens = ?
		WHERE id = ?`, compressedContent, at.Format(time.RFC3339Nano), tokens, id)
	if err != nil {
		return apperrors.Wrap("store.CompressMemoryEntry", "store", id, err)
	}
	return nil
}

// PromoteMemoryEntry sets an entry's relevance to 1.0 and reclassifies it
// as cross_session, per spec.md §4.8's promote action; the caller indexes
// it into memory_vectors separately so it can be found by category/key.
func (s *Store) PromoteMemoryEntry(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE memory_entries SET relevance_score = 1.0, type = ? WHERE id = ?`,
		string(MemoryEntryCrossSession), id)
	if err != nil {
		return apperrors.Wrap("store.PromoteMemoryEntry", "store", id, err)
	}
	return nil
}

// DropMemoryEntry removes a low-relevance entry permanently.
func (s *Store) DropMemoryEntry(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memory_entries WHERE id = ?`, id)
	if err != nil {
		return apperrors.Wrap("store.DropMemoryEntry", "store", id, err)
	}
	return nil
}

// MemoryVector indexes a memory entry by category/key for cross-session
// recall, standing in for the spec's persistent-knowledge lookup.
type MemoryVector struct {
	EntryID  string `json:"entryId"`
	Category string `json:"category"`
	Key      string `json:"key"`
	Vector   []float64
}

// UpsertMemoryVector indexes or re-indexes entryID under (category, key).
func (s *Store) UpsertMemoryVector(ctx context.Context, v MemoryVector) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_vectors (entry_id, category, key, vector) VALUES (?, ?, ?, ?)
		ON CONFLICT(entry_id) DO UPDATE SET category = excluded.category, key = excluded.key, vector = excluded.vector`,
		v.EntryID, v.Category, v.Key, safeEncode(v.Vector))
	if err != nil {
		return apperrors.Wrap("store.UpsertMemoryVector", "store", v.EntryID, err)
	}
	return nil
}

// FindMemoryByCategory returns entry ids indexed under category (optionally
// narrowed to key), promoted entries for cross-session recall.
func (s *Store) FindMemoryByCategory(ctx context.Context, category, key string) ([]string, error) {
	query := `SELECT entry_id FROM memory_vectors WHERE category = ?`
	args := []interface{}{category}
	if key != "" {
		query += ` AND key = ?`
		args = append(args, key)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap("store.FindMemoryByCategory", "store", category, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.Wrap("store.FindMemoryByCategory", "store", category, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// OptimizationSnapshot records one optimizer pass for observability and for
// the controller's own trend analysis.
type OptimizationSnapshot struct {
	TokensBefore int                `json:"tokensBefore"`
	TokensAfter  int                `json:"tokensAfter"`
	Compressed   int                `json:"compressed"`
	Dropped      int                `json:"dropped"`
	Promoted     int                `json:"promoted"`
	Parameters   map[string]float64 `json:"parameters"`
	CreatedAt    time.Time          `json:"createdAt"`
}

// RecordSnapshot appends one optimizer-pass summary.
func (s *Store) RecordSnapshot(ctx context.Context, snap OptimizationSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO optimization_snapshots (tokens_before, tokens_after, compressed, dropped, promoted, parameters, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		snap.TokensBefore, snap.TokensAfter, snap.Compressed, snap.Dropped, snap.Promoted,
		safeEncode(snap.Parameters), snap.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return apperrors.Wrap("store.RecordSnapshot", "store", "", err)
	}
	return nil
}

// ListSnapshots returns the most recent `limit` optimizer-pass summaries,
// newest first.
func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]OptimizationSnapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT tokens_before, tokens_after, compressed, dropped, promoted, parameters, created_at
		FROM optimization_snapshots ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, apperrors.Wrap("store.ListSnapshots", "store", "", err)
	}
	defer rows.Close()

	var out []OptimizationSnapshot
	for rows.Next() {
		var snap OptimizationSnapshot
		var params string
		var createdAt string
		if err := rows.Scan(&snap.TokensBefore, &snap.TokensAfter, &snap.Compressed, &snap.Dropped, &snap.Promoted, &params, &createdAt); err != nil {
			return nil, apperrors.Wrap("store.ListSnapshots", "store", "", err)
		}
		snap.Parameters = safeParse[map[string]float64](params)
		snap.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, snap)
	}
	return out, rows.Err()
}

// PruneSnapshots deletes all but the most recent keep rows, bounding
// optimization_snapshots growth the way spec.md's maxHistoryEntries caps
// in-memory history.
func (s *Store) PruneSnapshots(ctx context.Context, keep int) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM optimization_snapshots WHERE id NOT IN (
			SELECT id FROM optimization_snapshots ORDER BY id DESC LIMIT ?
		)`, keep)
	if err != nil {
		return apperrors.Wrap("store.PruneSnapshots", "store", "", err)
	}
	return nil
}

// GetAdaptiveParameter reads a single controller-tuned parameter
// (compressionTrigger, fullMessageWindow, minRelevance), returning ok=false
// if never set.
func (s *Store) GetAdaptiveParameter(ctx context.Context, key string) (float64, bool, error) {
	var value float64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM adaptive_parameters WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, apperrors.Wrap("store.GetAdaptiveParameter", "store", key, err)
	}
	return value, true, nil
}

// SetAdaptiveParameter persists a controller-tuned parameter.
func (s *Store) SetAdaptiveParameter(ctx context.Context, key string, value float64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO adaptive_parameters (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, at.Format(time.RFC3339Nano))
	if err != nil {
		return apperrors.Wrap("store.SetAdaptiveParameter", "store", key, err)
	}
	return nil
}

// AllAdaptiveParameters returns every tuned parameter as a map, the shape
// the optimizer loads at startup to resume from its last state.
func (s *Store) AllAdaptiveParameters(ctx context.Context) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM adaptive_parameters`)
	if err != nil {
		return nil, apperrors.Wrap("store.AllAdaptiveParameters", "store", "", err)
	}
	defer rows.Close()

	out := map[string]float64{}
	for rows.Next() {
		var key string
		var value float64
		if err := rows.Scan(&key, &value); err != nil {
			return nil, apperrors.Wrap("store.AllAdaptiveParameters", "store", "", err)
		}
		out[key] = value
	}
	return out, rows.Err()
}
