// Package cacheindex maps metadata cache keys to the author folder chosen at
// save time. The mapping lives in sqlite; the documents themselves live on
// disk at <base>/<folder>/<key>.json.
package cacheindex

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kaloper/douyin-fetch/pkg/log"
	_ "modernc.org/sqlite"
)

// UnknownAuthorFolder is the sentinel bucket for documents without an
// author uid.
const UnknownAuthorFolder = "unknown_author"

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Index is the durable key→folder mapping backed by sqlite.
//
// The uid→name remap is applied exactly once, at Save time. Lookup always
// trusts the folder recorded in the row so remap changes never orphan
// previously saved documents.
type Index struct {
	db      *sql.DB
	baseDir string
	remap   map[string]string
}

// New opens (or creates) the index database. Store unavailability is fatal
// here; per-operation failures later degrade instead.
func New(dbPath, baseDir string, remap map[string]string) (*Index, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("base dir is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if remap == nil {
		remap = make(map[string]string)
	}
	ix := &Index{db: db, baseDir: baseDir, remap: remap}
	if err := ix.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return ix, nil
}

func (ix *Index) Close() error {
	if ix == nil || ix.db == nil {
		return nil
	}
	return ix.db.Close()
}

// BaseDir returns the document root the index resolves paths against.
func (ix *Index) BaseDir() string {
	return ix.baseDir
}

func (ix *Index) init(ctx context.Context) error {
	if _, err := ix.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := ix.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := ix.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := ix.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := ix.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := ix.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename
// (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

// Lookup resolves key to the cached document path. A row whose physical file
// is missing counts as a miss, as does any query error; the caller re-fetches
// and the next Save overwrites the stale row.
func (ix *Index) Lookup(ctx context.Context, key string) (string, bool) {
	var folder string
	err := ix.db.QueryRowContext(ctx, `SELECT folder FROM video_index WHERE key = ?`, key).Scan(&folder)
	if err != nil {
		if err != sql.ErrNoRows {
			log.Error("Index lookup failed for key %s, treating as miss: %v", key, err)
		}
		return "", false
	}

	path := filepath.Join(ix.baseDir, folder, key+".json")
	if _, err := os.Stat(path); err != nil {
		log.Warn("Index row exists for key %s but file is missing: %s", key, path)
		return "", false
	}
	return path, true
}

// authorUID digs data.aweme_detail.author.uid out of a raw document.
func authorUID(doc []byte) string {
	var probe struct {
		Data struct {
			AwemeDetail struct {
				Author struct {
					UID string `json:"uid"`
				} `json:"author"`
			} `json:"aweme_detail"`
		} `json:"data"`
	}
	if err := json.Unmarshal(doc, &probe); err != nil {
		return ""
	}
	return probe.Data.AwemeDetail.Author.UID
}

// Save writes the document under the author folder and upserts the index row.
// The file write and the row upsert are eventually consistent: an upsert
// failure leaves the file in place and is surfaced to the caller.
func (ix *Index) Save(ctx context.Context, key string, doc []byte) (string, error) {
	uid := authorUID(doc)
	if uid == "" {
		log.Warn("Document for key %s carries no author uid, filing under %s", key, UnknownAuthorFolder)
		uid = UnknownAuthorFolder
	}

	// Remap happens here and only here; Lookup must never re-apply it.
	folder := uid
	if mapped, ok := ix.remap[uid]; ok {
		folder = mapped
	}

	targetDir := filepath.Join(ix.baseDir, folder)
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return "", fmt.Errorf("create author directory: %w", err)
	}
	path := filepath.Join(targetDir, key+".json")
	if err := os.WriteFile(path, doc, 0o644); err != nil {
		return "", fmt.Errorf("write document: %w", err)
	}

	if err := ix.Upsert(ctx, key, folder); err != nil {
		return "", fmt.Errorf("update index: %w", err)
	}

	log.Info("Cached document for key %s at %s", key, path)
	return path, nil
}

// Upsert inserts or replaces a single index row.
func (ix *Index) Upsert(ctx context.Context, key, folder string) error {
	_, err := ix.db.ExecContext(
		ctx,
		`INSERT INTO video_index (key, folder, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			folder=excluded.folder,
			updated_at=excluded.updated_at`,
		key,
		folder,
		time.Now().UTC(),
	)
	return err
}

// Delete removes an index row. Missing rows are not an error.
func (ix *Index) Delete(ctx context.Context, key string) error {
	_, err := ix.db.ExecContext(ctx, `DELETE FROM video_index WHERE key = ?`, key)
	return err
}

// Entry is one index row.
type Entry struct {
	Key    string
	Folder string
}

// Entries lists every index row, ordered by key.
func (ix *Index) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := ix.db.QueryContext(ctx, `SELECT key, folder FROM video_index ORDER BY key ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]Entry, 0)
	for rows.Next() {
		var item Entry
		if err := rows.Scan(&item.Key, &item.Folder); err != nil {
			return nil, err
		}
		ret = append(ret, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}
