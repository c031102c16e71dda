// Package memory indexes agent workspace notes for full-text search.
//
// Markdown files under a workspace are split into fixed-size line chunks and
// stored in SQLite, with an FTS5 shadow table providing bm25-ranked search.
package memory

import (
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// chunkLines is the number of lines per indexed chunk.
const chunkLines = 12

const schema = `
CREATE TABLE IF NOT EXISTS chunks (
	id INTEGER PRIMARY KEY,
	path TEXT NOT NULL,
	start_line INTEGER NOT NULL,
	end_line INTEGER NOT NULL,
	snippet TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_path ON chunks(path);
CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
	snippet,
	content='chunks',
	content_rowid='id'
);`

// SearchResult is one ranked match.
type SearchResult struct {
	Path      string  `json:"path"`
	StartLine int     `json:"startLine"`
	EndLine   int     `json:"endLine"`
	Snippet   string  `json:"snippet"`
	Score     float64 `json:"score"`
	Source    string  `json:"source"`
}

// Index is a workspace search index backed by one SQLite database.
type Index struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the index database at dbPath. Use ":memory:" for an
// ephemeral index.
func Open(dbPath string) (*Index, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create index directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create index schema: %w", err)
	}
	return &Index{
		db:     db,
		logger: slog.With("component", "memory_index"),
	}, nil
}

// Close releases the database.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// IndexFile replaces the indexed chunks of one file. Content is split into
// fixed-size line chunks; chunks that are entirely blank are skipped.
func (idx *Index) IndexFile(path, content string) error {
	tx, err := idx.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin index transaction: %w", err)
	}
	defer tx.Rollback()

	if err := deleteFileChunks(tx, path); err != nil {
		return err
	}

	lines := strings.Split(content, "\n")
	for start := 0; start < len(lines); start += chunkLines {
		end := start + chunkLines
		if end > len(lines) {
			end = len(lines)
		}
		snippet := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(snippet) == "" {
			continue
		}

		result, err := tx.Exec(
			`INSERT INTO chunks (path, start_line, end_line, snippet) VALUES (?, ?, ?, ?)`,
			path, start+1, end, snippet,
		)
		if err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}
		rowID, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read chunk id: %w", err)
		}
		if _, err := tx.Exec(
			`INSERT INTO chunks_fts (rowid, snippet) VALUES (?, ?)`,
			rowID, snippet,
		); err != nil {
			return fmt.Errorf("failed to index chunk: %w", err)
		}
	}

	return tx.Commit()
}

// ReindexWorkspace walks a workspace and indexes every markdown file,
// keyed by its path relative to the workspace root.
func (idx *Index) ReindexWorkspace(workspacePath string) error {
	return filepath.WalkDir(workspacePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		rel, err := filepath.Rel(workspacePath, path)
		if err != nil {
			return err
		}
		return idx.IndexFile(rel, string(content))
	})
}

// Search runs a full-text query and returns up to maxResults matches ranked
// by bm25. Query terms are quoted and AND-ed, so every term must appear in a
// matching chunk.
func (idx *Index) Search(query string, maxResults int) ([]SearchResult, error) {
	match := buildMatchQuery(query)
	if match == "" {
		return []SearchResult{}, nil
	}

	rows, err := idx.db.Query(`
		SELECT c.path, c.start_line, c.end_line, c.snippet, bm25(chunks_fts) AS rank
		FROM chunks_fts
		JOIN chunks c ON c.id = chunks_fts.rowid
		WHERE chunks_fts MATCH ?
		ORDER BY rank
		LIMIT ?`, match, maxResults)
	if err != nil {
		return nil, fmt.Errorf("search query failed: %w", err)
	}
	defer rows.Close()

	results := []SearchResult{}
	for rows.Next() {
		var result SearchResult
		var rank float64
		if err := rows.Scan(&result.Path, &result.StartLine, &result.EndLine, &result.Snippet, &rank); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		result.Score = 1 / (1 + math.Abs(rank))
		result.Source = "fts"
		results = append(results, result)
	}
	return results, rows.Err()
}

// buildMatchQuery quotes each whitespace-separated term so user input is
// never interpreted as FTS5 syntax.
func buildMatchQuery(query string) string {
	terms := strings.Fields(query)
	quoted := make([]string, 0, len(terms))
	for _, term := range terms {
		quoted = append(quoted, `"`+strings.ReplaceAll(term, `"`, "")+`"`)
	}
	return strings.Join(quoted, " AND ")
}

func deleteFileChunks(tx *sql.Tx, path string) error {
	rows, err := tx.Query(`SELECT id, snippet FROM chunks WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("failed to load existing chunks: %w", err)
	}
	type chunk struct {
		id      int64
		snippet string
	}
	stale := []chunk{}
	for rows.Next() {
		var c chunk
		if err := rows.Scan(&c.id, &c.snippet); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan existing chunk: %w", err)
		}
		stale = append(stale, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, c := range stale {
		// External-content FTS tables require an explicit delete command
		// carrying the original row values.
		if _, err := tx.Exec(
			`INSERT INTO chunks_fts (chunks_fts, rowid, snippet) VALUES ('delete', ?, ?)`,
			c.id, c.snippet,
		); err != nil {
			return fmt.Errorf("failed to remove chunk from index: %w", err)
		}
	}
	if _, err := tx.Exec(`DELETE FROM chunks WHERE path = ?`, path); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}
