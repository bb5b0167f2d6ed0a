// Package catalog implements the persistent catalog: a single SQLite
// table of filesystem entries (spec.md §3's FSEntry), opened with
// database/sql and modernc.org/sqlite, with the CRUD and batch
// operations the indexer, query, and mutation packages build on.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Outernet-Project/fsal"
)

// Table is the name of the catalog's single table.
const Table = "fsentries"

// Store is a handle on the catalog's SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the catalog database at path and ensures its
// schema exists.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("catalog: db path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("catalog: create db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA foreign_keys = ON;`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			parent_id   INTEGER NOT NULL DEFAULT 0,
			type        INTEGER NOT NULL,
			name        TEXT NOT NULL,
			size        INTEGER NOT NULL DEFAULT 0,
			create_time INTEGER NOT NULL,
			modify_time INTEGER NOT NULL,
			path        TEXT NOT NULL UNIQUE,
			base_path   TEXT NOT NULL
		);`, Table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_parent_id ON %s(parent_id);`, Table, Table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_base_path ON %s(base_path);`, Table, Table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Clear deletes every row in the catalog.
func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, Table))
	return err
}

func scanEntry(scan func(dest ...any) error) (*fsal.Entry, error) {
	var e fsal.Entry
	var entryType int
	var createUnix, modifyUnix int64
	if err := scan(&e.ID, &e.ParentID, &entryType, &e.Name, &e.Size,
		&createUnix, &modifyUnix, &e.Path, &e.BasePath); err != nil {
		return nil, err
	}
	e.Type = fsal.EntryType(entryType)
	e.CreateTime = time.Unix(createUnix, 0).UTC()
	e.ModifyTime = time.Unix(modifyUnix, 0).UTC()
	return &e, nil
}

const selectColumns = "id, parent_id, type, name, size, create_time, modify_time, path, base_path"

// GetByPath returns the entry at rel, or nil if none is catalogued there.
func (s *Store) GetByPath(ctx context.Context, relPath string) (*fsal.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE path = ?`, selectColumns, Table), relPath)
	e, err := scanEntry(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// GetByID returns the entry with the given id, or nil if it doesn't exist.
func (s *Store) GetByID(ctx context.Context, id int64) (*fsal.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, selectColumns, Table), id)
	e, err := scanEntry(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Children returns the direct children of the entry with id parentID,
// ordered by name.
func (s *Store) Children(ctx context.Context, parentID int64) ([]*fsal.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE parent_id = ? ORDER BY name`, selectColumns, Table),
		parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

func collectEntries(rows *sql.Rows) ([]*fsal.Entry, error) {
	var out []*fsal.Entry
	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Upsert inserts a new entry or updates the existing row sharing its
// path, returning the row's id. Mirrors the original's
// _update_fso_entry: an explicit UPDATE when an old row is known,
// otherwise an INSERT.
func (s *Store) Upsert(ctx context.Context, e *fsal.Entry, hadOldEntry bool) (int64, error) {
	if hadOldEntry {
		_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s SET parent_id = ?, type = ?, name = ?, size = ?,
				create_time = ?, modify_time = ?, base_path = ?
			WHERE path = ?`, Table),
			e.ParentID, int(e.Type), e.Name, e.Size,
			e.CreateTime.Unix(), e.ModifyTime.Unix(), e.BasePath, e.Path)
		if err != nil {
			return 0, err
		}
		existing, err := s.GetByPath(ctx, e.Path)
		if err != nil {
			return 0, err
		}
		return existing.ID, nil
	}

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (parent_id, type, name, size, create_time, modify_time, path, base_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, Table),
		e.ParentID, int(e.Type), e.Name, e.Size,
		e.CreateTime.Unix(), e.ModifyTime.Unix(), e.Path, e.BasePath)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RemoveByPath deletes the row at rel and, if it is a directory, every
// row beneath it (path equal to rel, or prefixed with "rel/").
func (s *Store) RemoveByPath(ctx context.Context, relPath string) (int64, error) {
	pattern := sqlEscapePath(relPath) + `/%`
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE path = ? OR path LIKE ? ESCAPE '\'`, Table),
		relPath, pattern)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Descendants returns every row whose path is rel or lies beneath it,
// deepest paths first, so a directory's children always precede the
// directory itself.
func (s *Store) Descendants(ctx context.Context, relPath string) ([]*fsal.Entry, error) {
	pattern := sqlEscapePath(relPath) + `/%`
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM %s WHERE path = ? OR path LIKE ? ESCAPE '\' ORDER BY LENGTH(path) DESC, id DESC`, selectColumns, Table),
		relPath, pattern)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

// maxBatch is the SQLite default host parameter limit margin used for
// every IN-list query built from caller-supplied path slices.
const maxBatch = 999

// FilterByPaths returns the catalog rows whose path is one of paths,
// querying in batches no larger than maxBatch placeholders.
func (s *Store) FilterByPaths(ctx context.Context, paths []string) ([]*fsal.Entry, error) {
	var out []*fsal.Entry
	for _, batch := range chunkStrings(paths, maxBatch) {
		placeholders := strings.Repeat("?,", len(batch))
		placeholders = strings.TrimSuffix(placeholders, ",")
		args := make([]any, len(batch))
		for i, p := range batch {
			args[i] = p
		}
		rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
			`SELECT %s FROM %s WHERE path IN (%s)`, selectColumns, Table, placeholders), args...)
		if err != nil {
			return nil, err
		}
		batchEntries, err := collectEntries(rows)
		rows.Close()
		if err != nil {
			return nil, err
		}
		out = append(out, batchEntries...)
	}
	return out, nil
}

// SearchByName returns every row whose name matches one of query's
// space-separated words, case-insensitively, ORed together (a row needs
// only one matching word, not all of them). When wholeWords is set, a
// word must equal the name exactly rather than appear as a substring.
func (s *Store) SearchByName(ctx context.Context, query string, wholeWords bool) ([]*fsal.Entry, error) {
	words := strings.Fields(query)
	if len(words) == 0 {
		return nil, nil
	}
	clauses := make([]string, len(words))
	args := make([]any, len(words))
	for i, w := range words {
		clauses[i] = "name LIKE ? ESCAPE '\\'"
		pattern := sqlEscapePath(w)
		if !wholeWords {
			pattern = "%" + pattern + "%"
		}
		args[i] = pattern
	}
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE (%s) ORDER BY path`,
		selectColumns, Table, strings.Join(clauses, " OR "))
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

// UpdateBasePaths rewrites base_path to dest for every row whose
// base_path is one of srcs, used when consolidate folds several base
// paths into one. When forPaths is non-nil, only rows whose path is in
// forPaths are updated.
func (s *Store) UpdateBasePaths(ctx context.Context, srcs []string, dest string, forPaths []string) error {
	if len(srcs) == 0 {
		return nil
	}
	srcPlaceholders := strings.Repeat("?,", len(srcs))
	srcPlaceholders = strings.TrimSuffix(srcPlaceholders, ",")
	if len(forPaths) == 0 {
		args := make([]any, 0, len(srcs)+1)
		args = append(args, dest)
		for _, s2 := range srcs {
			args = append(args, s2)
		}
		_, err := s.db.ExecContext(ctx, fmt.Sprintf(
			`UPDATE %s SET base_path = ? WHERE base_path IN (%s)`, Table, srcPlaceholders), args...)
		return err
	}
	for _, batch := range chunkStrings(forPaths, maxBatch-len(srcs)) {
		pathPlaceholders := strings.Repeat("?,", len(batch))
		pathPlaceholders = strings.TrimSuffix(pathPlaceholders, ",")
		args := make([]any, 0, len(srcs)+len(batch)+1)
		args = append(args, dest)
		for _, s2 := range srcs {
			args = append(args, s2)
		}
		for _, p := range batch {
			args = append(args, p)
		}
		_, err := s.db.ExecContext(ctx, fmt.Sprintf(
			`UPDATE %s SET base_path = ? WHERE base_path IN (%s) AND path IN (%s)`,
			Table, srcPlaceholders, pathPlaceholders), args...)
		if err != nil {
			return err
		}
	}
	return nil
}

// AllInBase returns every row whose base_path is basePath.
func (s *Store) AllInBase(ctx context.Context, basePath string) ([]*fsal.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE base_path = ?`, selectColumns, Table), basePath)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

// DescendantsInBase returns every row whose base_path is basePath and
// whose path is relPath or lies beneath it.
func (s *Store) DescendantsInBase(ctx context.Context, basePath, relPath string) ([]*fsal.Entry, error) {
	pattern := sqlEscapePath(relPath) + `/%`
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM %s WHERE base_path = ? AND (path = ? OR path LIKE ? ESCAPE '\')`, selectColumns, Table),
		basePath, relPath, pattern)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

// RemoveBatch deletes every row whose path is in paths, in batches no
// larger than maxBatch, returning the total number of rows removed.
func (s *Store) RemoveBatch(ctx context.Context, paths []string) (int64, error) {
	var total int64
	for _, batch := range chunkStrings(paths, maxBatch) {
		placeholders := strings.Repeat("?,", len(batch))
		placeholders = strings.TrimSuffix(placeholders, ",")
		args := make([]any, len(batch))
		for i, p := range batch {
			args[i] = p
		}
		res, err := s.db.ExecContext(ctx, fmt.Sprintf(
			`DELETE FROM %s WHERE path IN (%s)`, Table, placeholders), args...)
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// BasePaths returns the distinct base_path values currently in the
// catalog, used by a full prune to reach rows under base paths that are
// no longer configured.
func (s *Store) BasePaths(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT DISTINCT base_path FROM %s ORDER BY base_path`, Table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back if fn returns an error.
func (s *Store) WithTx(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func chunkStrings(items []string, size int) [][]string {
	if size <= 0 {
		size = maxBatch
	}
	var out [][]string
	for len(items) > 0 {
		n := size
		if n > len(items) {
			n = len(items)
		}
		out = append(out, items[:n])
		items = items[n:]
	}
	return out
}

// sqlEscapePath escapes SQL LIKE wildcards in path so it can be used as
// a literal prefix in a LIKE pattern (spec.md §4.3's sql_escape_path).
func sqlEscapePath(path string) string {
	r := strings.NewReplacer(`\`, `\\`, `_`, `\_`, `%`, `\%`)
	return r.Replace(path)
}
