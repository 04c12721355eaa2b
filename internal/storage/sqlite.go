package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/vector"
)

// SQLiteStorage implements Storage using SQLite in WAL mode.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	// foreign_keys is per connection, so it goes in the DSN rather than a one-off PRAGMA.
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS files (
		path TEXT PRIMARY KEY,
		content_hash TEXT NOT NULL,
		mod_time TIMESTAMP,
		size INTEGER NOT NULL DEFAULT 0,
		indexed_at TIMESTAMP,
		indexed_with_embeddings INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		file_path TEXT NOT NULL,
		ordinal INTEGER NOT NULL,
		heading TEXT NOT NULL DEFAULT '',
		start_line INTEGER NOT NULL,
		end_line INTEGER NOT NULL,
		text TEXT NOT NULL,
		hash TEXT NOT NULL,
		vector BLOB,
		FOREIGN KEY (file_path) REFERENCES files(path) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_file_path ON chunks(file_path, ordinal);
	CREATE INDEX IF NOT EXISTS idx_chunks_hash ON chunks(hash);

	CREATE TABLE IF NOT EXISTS embedding_cache (
		plugin_id TEXT NOT NULL,
		hash TEXT NOT NULL,
		vector BLOB NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (plugin_id, hash)
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}

const chunkColumns = `id, file_path, ordinal, heading, start_line, end_line, text, hash, vector`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (*models.Chunk, error) {
	var c models.Chunk
	var blob []byte
	if err := row.Scan(&c.ID, &c.FilePath, &c.Ordinal, &c.Heading, &c.StartLine, &c.EndLine, &c.Text, &c.Hash, &blob); err != nil {
		return nil, err
	}
	vec, err := vector.Decode(blob)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", c.ID, err)
	}
	c.Vector = vec
	return &c, nil
}

// vectorArg binds an empty vector as NULL.
func vectorArg(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return vector.Encode(v)
}

// GetFile returns the record for path or models.ErrNotFound.
func (s *SQLiteStorage) GetFile(ctx context.Context, path string) (*models.FileRecord, error) {
	var rec models.FileRecord
	var modTime, indexedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT f.path, f.content_hash, f.mod_time, f.size, f.indexed_at, f.indexed_with_embeddings,
		        (SELECT COUNT(*) FROM chunks c WHERE c.file_path = f.path)
		 FROM files f WHERE f.path = ?`, path,
	).Scan(&rec.Path, &rec.ContentHash, &modTime, &rec.Size, &indexedAt, &rec.IndexedWithEmbeddings, &rec.ChunkCount)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("file %s: %w", path, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	rec.ModTime = modTime.Time
	rec.IndexedAt = indexedAt.Time
	return &rec, nil
}

// ListFiles returns every file record ordered by path, with chunk counts.
func (s *SQLiteStorage) ListFiles(ctx context.Context) ([]*models.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT f.path, f.content_hash, f.mod_time, f.size, f.indexed_at, f.indexed_with_embeddings,
		        COUNT(c.id)
		 FROM files f LEFT JOIN chunks c ON c.file_path = f.path
		 GROUP BY f.path ORDER BY f.path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []*models.FileRecord
	for rows.Next() {
		var rec models.FileRecord
		var modTime, indexedAt sql.NullTime
		if err := rows.Scan(&rec.Path, &rec.ContentHash, &modTime, &rec.Size, &indexedAt, &rec.IndexedWithEmbeddings, &rec.ChunkCount); err != nil {
			return nil, err
		}
		rec.ModTime = modTime.Time
		rec.IndexedAt = indexedAt.Time
		files = append(files, &rec)
	}
	return files, rows.Err()
}

// validPath rejects empty, absolute and parent-escaping relative paths.
func validPath(p string) bool {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return false
	}
	clean := path.Clean(p)
	return clean == p && clean != "." && clean != ".." && !strings.HasPrefix(clean, "../")
}

// ReplaceFileChunks upserts the file record and replaces its chunks in one transaction.
func (s *SQLiteStorage) ReplaceFileChunks(ctx context.Context, rec *models.FileRecord, chunks []*models.Chunk) ([]string, error) {
	if !validPath(rec.Path) {
		return nil, fmt.Errorf("%q: %w", rec.Path, models.ErrInvalidPath)
	}
	for _, c := range chunks {
		if c.FilePath != rec.Path {
			return nil, fmt.Errorf("chunk belongs to %q, not %q: %w", c.FilePath, rec.Path, models.ErrInvalidPath)
		}
		if c.StartLine < 1 || c.EndLine < c.StartLine {
			return nil, fmt.Errorf("chunk %d of %s has invalid line range %d-%d", c.Ordinal, rec.Path, c.StartLine, c.EndLine)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	oldIDs, err := chunkIDsTx(ctx, tx, rec.Path)
	if err != nil {
		return nil, err
	}

	if rec.IndexedAt.IsZero() {
		rec.IndexedAt = time.Now()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO files (path, content_hash, mod_time, size, indexed_at, indexed_with_embeddings)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
		   content_hash = excluded.content_hash,
		   mod_time = excluded.mod_time,
		   size = excluded.size,
		   indexed_at = excluded.indexed_at,
		   indexed_with_embeddings = excluded.indexed_with_embeddings`,
		rec.Path, rec.ContentHash, rec.ModTime, rec.Size, rec.IndexedAt, rec.IndexedWithEmbeddings,
	); err != nil {
		return nil, fmt.Errorf("upsert file: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE file_path = ?`, rec.Path); err != nil {
		return nil, fmt.Errorf("delete chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (`+chunkColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	for _, c := range chunks {
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.FilePath, c.Ordinal, c.Heading, c.StartLine, c.EndLine, c.Text, c.Hash, vectorArg(c.Vector)); err != nil {
			return nil, fmt.Errorf("insert chunk: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	rec.ChunkCount = len(chunks)
	return oldIDs, nil
}

func chunkIDsTx(ctx context.Context, tx *sql.Tx, path string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM chunks WHERE file_path = ?`, path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteFile removes a file record. Chunks go with it through the cascade.
func (s *SQLiteStorage) DeleteFile(ctx context.Context, path string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ids, err := chunkIDsTx(ctx, tx, path)
	if err != nil {
		return nil, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, path)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("file %s: %w", path, models.ErrNotFound)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

// InvalidateFile clears the stored content hash for path.
func (s *SQLiteStorage) InvalidateFile(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE files SET content_hash = '' WHERE path = ?`, path)
	return err
}

// ResetEmbeddings drops all chunk vectors and clears every indexed_with_embeddings flag.
func (s *SQLiteStorage) ResetEmbeddings(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `UPDATE chunks SET vector = NULL`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE files SET indexed_with_embeddings = 0`); err != nil {
		return err
	}
	return tx.Commit()
}

// GetChunks returns the chunks for ids keyed by ID. Unknown IDs are absent from the map.
func (s *SQLiteStorage) GetChunks(ctx context.Context, ids []string) (map[string]*models.Chunk, error) {
	out := make(map[string]*models.Chunk, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out[c.ID] = c
	}
	return out, rows.Err()
}

// GetChunksByFile returns a file's chunks in ordinal order.
func (s *SQLiteStorage) GetChunksByFile(ctx context.Context, path string) ([]*models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE file_path = ? ORDER BY ordinal`, path)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var chunks []*models.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// ForEachChunk streams every chunk to fn, stopping at the first error.
func (s *SQLiteStorage) ForEachChunk(ctx context.Context, fn func(*models.Chunk) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks ORDER BY file_path, ordinal`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
	}
	return rows.Err()
}

// GetCachedEmbeddings returns stored vectors for the given chunk hashes.
func (s *SQLiteStorage) GetCachedEmbeddings(ctx context.Context, pluginID string, hashes []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(hashes))
	if len(hashes) == 0 {
		return out, nil
	}
	args := make([]any, 0, len(hashes)+1)
	args = append(args, pluginID)
	for _, h := range hashes {
		args = append(args, h)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(hashes)), ",")
	rows, err := s.db.QueryContext(ctx,
		`SELECT hash, vector FROM embedding_cache WHERE plugin_id = ? AND hash IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var hash string
		var blob []byte
		if err := rows.Scan(&hash, &blob); err != nil {
			return nil, err
		}
		vec, err := vector.Decode(blob)
		if err != nil {
			return nil, err
		}
		out[hash] = vec
	}
	return out, rows.Err()
}

// PutCachedEmbeddings stores vectors by chunk hash for pluginID.
func (s *SQLiteStorage) PutCachedEmbeddings(ctx context.Context, pluginID string, vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO embedding_cache (plugin_id, hash, vector) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for hash, vec := range vectors {
		if len(vec) == 0 {
			continue
		}
		if _, err := stmt.ExecContext(ctx, pluginID, hash, vectorArg(vec)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// PruneEmbeddingCache deletes cache entries whose hash no chunk uses anymore.
func (s *SQLiteStorage) PruneEmbeddingCache(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM embedding_cache WHERE hash NOT IN (SELECT hash FROM chunks)`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetMeta returns the value for key, or "" if unset.
func (s *SQLiteStorage) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetMeta stores value under key.
func (s *SQLiteStorage) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// CountFiles returns the number of files and how many of them lack embeddings.
func (s *SQLiteStorage) CountFiles(ctx context.Context) (int64, int64, error) {
	var total, partial sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), SUM(CASE WHEN indexed_with_embeddings = 0 THEN 1 ELSE 0 END) FROM files`,
	).Scan(&total, &partial)
	return total.Int64, partial.Int64, err
}

// CountChunks returns the number of chunks and how many carry a vector.
func (s *SQLiteStorage) CountChunks(ctx context.Context) (int64, int64, error) {
	var total, embedded sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), SUM(CASE WHEN vector IS NOT NULL THEN 1 ELSE 0 END) FROM chunks`,
	).Scan(&total, &embedded)
	return total.Int64, embedded.Int64, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
