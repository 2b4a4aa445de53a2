// Package search maintains a searchable index of source code chunks:
// files are split into overlapping line windows, embedded, and stored
// in SQLite; queries combine cosine similarity over an in-memory
// vector index with keyword matching.
package search

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"conductor-ai/internal/domain"
)

// Config tunes the index.
type Config struct {
	SourceDir    string
	DBPath       string
	ChunkLines   int
	ChunkOverlap int
}

// Index is the SQLite-backed code chunk index. The in-memory vector
// cache is loaded lazily on the first query and refreshed by Reindex.
type Index struct {
	cfg      Config
	db       *sql.DB
	embedder domain.EmbeddingProvider // nil = keyword-only
	logger   *slog.Logger

	mu     sync.RWMutex
	vecs   map[int64][]float32 // chunk rowid -> embedding
	loaded bool
}

// New opens the index database and runs migrations. embedder may be
// nil, which disables semantic search.
func New(cfg Config, embedder domain.EmbeddingProvider, logger *slog.Logger) (*Index, error) {
	if cfg.ChunkLines <= 0 {
		cfg.ChunkLines = 40
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 0
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %v", domain.ErrIndexStore, err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: pragma: %v", domain.ErrIndexStore, err)
		}
	}

	const schema = `
	CREATE TABLE IF NOT EXISTS files (
		path       TEXT PRIMARY KEY,
		hash       TEXT NOT NULL,
		indexed_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS chunks (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		path       TEXT NOT NULL,
		start_line INTEGER NOT NULL,
		end_line   INTEGER NOT NULL,
		content    TEXT NOT NULL,
		embedding  BLOB
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_path ON chunks(path);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate: %v", domain.ErrIndexStore, err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &Index{
		cfg:      cfg,
		db:       db,
		embedder: embedder,
		logger:   logger,
		vecs:     make(map[int64][]float32),
	}, nil
}

// Reindex walks the source tree and refreshes the stored chunks.
// Files whose content hash is unchanged are skipped; deleted files
// are dropped. Safe to call concurrently with Search.
func (x *Index) Reindex(ctx context.Context) error {
	started := time.Now()
	seen := make(map[string]bool)
	var indexed, skipped int

	err := filepath.WalkDir(x.cfg.SourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !sourceExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, err := filepath.Rel(x.cfg.SourceDir, path)
		if err != nil {
			rel = path
		}
		seen[rel] = true

		changed, err := x.indexFile(ctx, rel, path)
		if err != nil {
			x.logger.Warn("file index failed", "path", rel, "error", err)
			return nil // one bad file must not abort the scan
		}
		if changed {
			indexed++
		} else {
			skipped++
		}
		return nil
	})
	if err != nil {
		return domain.WrapOp("search.Reindex", err)
	}

	if err := x.dropMissing(ctx, seen); err != nil {
		return err
	}

	x.mu.Lock()
	x.loaded = false // force reload on next search
	x.vecs = make(map[int64][]float32)
	x.mu.Unlock()

	x.logger.Info("code index rescan complete",
		"indexed", indexed, "unchanged", skipped, "duration", time.Since(started))
	return nil
}

// indexFile re-chunks one file when its content changed. Returns true
// when the file was (re)indexed.
func (x *Index) indexFile(ctx context.Context, rel, abs string) (bool, error) {
	data, err := os.ReadFile(abs)
	if err != nil {
		return false, err
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	var prev string
	err = x.db.QueryRowContext(ctx, `SELECT hash FROM files WHERE path = ?`, rel).Scan(&prev)
	if err == nil && prev == hash {
		return false, nil
	}
	if err != nil && err != sql.ErrNoRows {
		return false, err
	}

	chunks := chunkLines(rel, string(data), x.cfg.ChunkLines, x.cfg.ChunkOverlap)

	var embeddings [][]float32
	if x.embedder != nil && len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
		}
		embeddings, err = x.embedder.Embed(ctx, texts)
		if err != nil {
			// Keep the keyword index usable when the embedder is down.
			x.logger.Warn("embedding failed, indexing keywords only", "path", rel, "error", err)
			embeddings = nil
		}
	}

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE path = ?`, rel); err != nil {
		return false, err
	}
	for i, c := range chunks {
		var blob []byte
		if embeddings != nil && i < len(embeddings) {
			blob = encodeEmbedding(embeddings[i])
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chunks (path, start_line, end_line, content, embedding) VALUES (?, ?, ?, ?, ?)`,
			c.Path, c.StartLine, c.EndLine, c.Content, blob); err != nil {
			return false, err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO files (path, hash, indexed_at) VALUES (?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET hash = excluded.hash, indexed_at = excluded.indexed_at`,
		rel, hash, time.Now().UnixMilli()); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// dropMissing removes index entries for files gone from disk.
func (x *Index) dropMissing(ctx context.Context, seen map[string]bool) error {
	rows, err := x.db.QueryContext(ctx, `SELECT path FROM files`)
	if err != nil {
		return fmt.Errorf("%w: list files: %v", domain.ErrIndexStore, err)
	}
	var stale []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return fmt.Errorf("%w: scan: %v", domain.ErrIndexStore, err)
		}
		if !seen[p] {
			stale = append(stale, p)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: iterate: %v", domain.ErrIndexStore, err)
	}

	for _, p := range stale {
		if _, err := x.db.ExecContext(ctx, `DELETE FROM chunks WHERE path = ?`, p); err != nil {
			return fmt.Errorf("%w: drop chunks: %v", domain.ErrIndexStore, err)
		}
		if _, err := x.db.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, p); err != nil {
			return fmt.Errorf("%w: drop file: %v", domain.ErrIndexStore, err)
		}
	}
	return nil
}

// Search returns the top chunks for query, merging semantic and
// keyword matches by reciprocal rank.
func (x *Index) Search(ctx context.Context, query string, limit int) ([]Chunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.NewDomainError("search.Search", domain.ErrInvalidInput, "empty query")
	}
	if limit <= 0 {
		limit = 5
	}

	kw, kwErr := x.keywordSearch(ctx, query, limit*2)

	var sem []scoredChunk
	if x.embedder != nil {
		var semErr error
		sem, semErr = x.vectorSearch(ctx, query, limit*2)
		if semErr != nil {
			x.logger.Warn("vector search failed, keyword results only", "error", semErr)
		}
	}
	if kwErr != nil {
		if len(sem) == 0 {
			return nil, kwErr
		}
		kw = nil
	}

	merged := fuseByRank(sem, kw)
	if len(merged) > limit {
		merged = merged[:limit]
	}
	out := make([]Chunk, len(merged))
	for i, sc := range merged {
		sc.chunk.Score = sc.score
		out[i] = sc.chunk
	}
	return out, nil
}

type scoredChunk struct {
	id    int64
	chunk Chunk
	score float64
}

// keywordSearch does a case-insensitive substring match over chunk
// content, ranked by occurrence count.
func (x *Index) keywordSearch(ctx context.Context, query string, limit int) ([]scoredChunk, error) {
	pattern := "%" + strings.ToLower(query) + "%"
	rows, err := x.db.QueryContext(ctx,
		`SELECT id, path, start_line, end_line, content FROM chunks
		 WHERE lower(content) LIKE ? LIMIT ?`, pattern, limit*4)
	if err != nil {
		return nil, fmt.Errorf("%w: keyword query: %v", domain.ErrIndexStore, err)
	}
	defer rows.Close()

	var out []scoredChunk
	lower := strings.ToLower(query)
	for rows.Next() {
		var sc scoredChunk
		if err := rows.Scan(&sc.id, &sc.chunk.Path, &sc.chunk.StartLine, &sc.chunk.EndLine, &sc.chunk.Content); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", domain.ErrIndexStore, err)
		}
		sc.score = float64(strings.Count(strings.ToLower(sc.chunk.Content), lower))
		out = append(out, sc)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, rows.Err()
}

// vectorSearch embeds the query and ranks chunks by cosine
// similarity against the in-memory vector cache.
func (x *Index) vectorSearch(ctx context.Context, query string, limit int) ([]scoredChunk, error) {
	if err := x.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	qvecs, err := x.embedder.Embed(ctx, []string{query})
	if err != nil || len(qvecs) == 0 {
		return nil, domain.WrapOp("search.embed", err)
	}
	qvec := qvecs[0]

	x.mu.RLock()
	type hit struct {
		id    int64
		score float64
	}
	hits := make([]hit, 0, len(x.vecs))
	for id, vec := range x.vecs {
		if sim := cosineSimilarity(qvec, vec); sim > 0 {
			hits = append(hits, hit{id: id, score: sim})
		}
	}
	x.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > limit {
		hits = hits[:limit]
	}

	out := make([]scoredChunk, 0, len(hits))
	for _, h := range hits {
		var sc scoredChunk
		sc.id, sc.score = h.id, h.score
		err := x.db.QueryRowContext(ctx,
			`SELECT path, start_line, end_line, content FROM chunks WHERE id = ?`, h.id).
			Scan(&sc.chunk.Path, &sc.chunk.StartLine, &sc.chunk.EndLine, &sc.chunk.Content)
		if err == sql.ErrNoRows {
			continue // dropped since the cache was loaded
		}
		if err != nil {
			return nil, fmt.Errorf("%w: load chunk: %v", domain.ErrIndexStore, err)
		}
		out = append(out, sc)
	}
	return out, nil
}

// ensureLoaded fills the vector cache from SQLite once.
func (x *Index) ensureLoaded(ctx context.Context) error {
	x.mu.RLock()
	loaded := x.loaded
	x.mu.RUnlock()
	if loaded {
		return nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.loaded {
		return nil
	}

	rows, err := x.db.QueryContext(ctx, `SELECT id, embedding FROM chunks WHERE embedding IS NOT NULL`)
	if err != nil {
		return fmt.Errorf("%w: load vectors: %v", domain.ErrIndexStore, err)
	}
	defer rows.Close()

	vecs := make(map[int64][]float32)
	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return fmt.Errorf("%w: scan vector: %v", domain.ErrIndexStore, err)
		}
		if vec := decodeEmbedding(blob); vec != nil {
			vecs[id] = vec
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: iterate vectors: %v", domain.ErrIndexStore, err)
	}

	x.vecs = vecs
	x.loaded = true
	x.logger.Debug("vector cache loaded", "chunks", len(vecs))
	return nil
}

// Stats reports index size.
func (x *Index) Stats(ctx context.Context) (files, chunks int, err error) {
	if err = x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&files); err != nil {
		return 0, 0, fmt.Errorf("%w: count files: %v", domain.ErrIndexStore, err)
	}
	if err = x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&chunks); err != nil {
		return 0, 0, fmt.Errorf("%w: count chunks: %v", domain.ErrIndexStore, err)
	}
	return files, chunks, nil
}

// Close releases the database handle.
func (x *Index) Close() error { return x.db.Close() }

// fuseByRank merges two ranked lists with reciprocal rank fusion;
// semantic rank is weighted slightly higher.
func fuseByRank(sem, kw []scoredChunk) []scoredChunk {
	const k = 60.0
	type acc struct {
		sc    scoredChunk
		score float64
	}
	byID := make(map[int64]*acc)
	key := func(sc scoredChunk) int64 {
		if sc.id != 0 {
			return sc.id
		}
		return int64(sc.chunk.StartLine)<<32 ^ int64(len(sc.chunk.Path))
	}

	order := make([]int64, 0, len(sem)+len(kw))
	add := func(list []scoredChunk, weight float64) {
		for rank, sc := range list {
			id := key(sc)
			a, ok := byID[id]
			if !ok {
				a = &acc{sc: sc}
				byID[id] = a
				order = append(order, id)
			}
			a.score += weight / (k + float64(rank+1))
		}
	}
	add(sem, 1.2)
	add(kw, 1.0)

	out := make([]scoredChunk, 0, len(order))
	for _, id := range order {
		a := byID[id]
		a.sc.score = a.score
		out = append(out, a.sc)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	return out
}

// cosineSimilarity computes dot(a,b) / (||a|| * ||b||).
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// encodeEmbedding packs a vector as little-endian float32 bits.
func encodeEmbedding(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

// decodeEmbedding is the inverse of encodeEmbedding; malformed blobs
// decode to nil.
func decodeEmbedding(buf []byte) []float32 {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return vec
}
