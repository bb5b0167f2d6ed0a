// Package query implements the catalog's read surface (spec.md §4.8):
// directory listings, descendant filtering, search, batch filtering,
// existence and type checks, and path-size computation. Listings,
// descendants, search, and filter apply the whitelist visibility rule
// on top of the catalog store; GetFSO, Exists, IsDir, IsFile, and
// GetPathSize do not consult the whitelist.
package query

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/Outernet-Project/fsal"
	"github.com/Outernet-Project/fsal/catalog"
	"github.com/Outernet-Project/fsal/pathrules"
	"github.com/Outernet-Project/fsal/walker"
)

// Engine answers read-only catalog queries.
type Engine struct {
	Store     *catalog.Store
	BasePaths []string
	Whitelist *pathrules.Whitelist
}

// ListDir returns ok=false if path doesn't name a known directory;
// otherwise it returns the directory's direct children.
func (q *Engine) ListDir(ctx context.Context, relPath string) (ok bool, entries []*fsal.Entry, err error) {
	dir, err := q.GetFSO(ctx, relPath)
	if err != nil {
		return false, nil, err
	}
	if dir == nil || !dir.IsDir() {
		return false, nil, nil
	}
	entries, err = q.Store.Children(ctx, dir.ID)
	if err != nil {
		return false, nil, err
	}
	return true, q.visible(entries), nil
}

// ListDescendants returns ok=false if path doesn't name a known
// directory. It always returns rows; use CountDescendants for a count.
func (q *Engine) ListDescendants(ctx context.Context, relPath string, filter catalog.DescendantsFilter) (ok bool, entries []*fsal.Entry, err error) {
	dir, err := q.GetFSO(ctx, relPath)
	if err != nil {
		return false, nil, err
	}
	if dir == nil || !dir.IsDir() {
		return false, nil, nil
	}
	filter.Whitelist = q.whitelist()
	entries, err = q.Store.ListDescendants(ctx, relPath, filter)
	return true, entries, err
}

// CountDescendants mirrors ListDescendants but returns a row count
// instead of the rows themselves.
func (q *Engine) CountDescendants(ctx context.Context, relPath string, filter catalog.DescendantsFilter) (ok bool, count int, err error) {
	dir, err := q.GetFSO(ctx, relPath)
	if err != nil {
		return false, 0, err
	}
	if dir == nil || !dir.IsDir() {
		return false, 0, nil
	}
	filter.Whitelist = q.whitelist()
	count, err = q.Store.CountDescendants(ctx, relPath, filter)
	return true, count, err
}

// ListBasePaths returns the base paths currently configured (spec.md's
// supplemented list_base_paths operation).
func (q *Engine) ListBasePaths() []string {
	out := make([]string, len(q.BasePaths))
	copy(out, q.BasePaths)
	return out
}

// Filter returns the catalog rows whose path is in paths, in
// caller-supplied order not guaranteed, batched against the store.
func (q *Engine) Filter(ctx context.Context, paths []string) ([]*fsal.Entry, error) {
	entries, err := q.Store.FilterByPaths(ctx, paths)
	if err != nil {
		return nil, err
	}
	return q.visible(entries), nil
}

// Search returns ok=true with the directory's children when query
// names a known directory (the list_dir-fallback-first rule); otherwise
// it performs a name search, excluding any row whose name equals one of
// exclude's literal basenames.
func (q *Engine) Search(ctx context.Context, query string, wholeWords bool, exclude []string) (isDirMatch bool, entries []*fsal.Entry, err error) {
	isDirMatch, dirEntries, err := q.ListDir(ctx, query)
	if err != nil {
		return false, nil, err
	}
	if isDirMatch {
		return true, dirEntries, nil
	}

	entries, err = q.Store.SearchByName(ctx, query, wholeWords)
	if err != nil {
		return false, nil, err
	}
	entries = q.visible(entries)
	if len(exclude) == 0 {
		return false, entries, nil
	}

	rx, err := excludeRegexp(exclude)
	if err != nil {
		return false, nil, err
	}
	filtered := entries[:0]
	for _, e := range entries {
		if !rx.MatchString(e.Name) {
			filtered = append(filtered, e)
		}
	}
	return false, filtered, nil
}

func excludeRegexp(exclude []string) (*regexp.Regexp, error) {
	parts := make([]string, len(exclude))
	for i, name := range exclude {
		parts[i] = "^" + regexp.QuoteMeta(name) + "$"
	}
	return regexp.Compile(strings.Join(parts, "|"))
}

// Exists reports whether path is known. When unindexed is set, it
// instead checks the underlying filesystem directly under every
// configured base path, ignoring the catalog entirely.
func (q *Engine) Exists(ctx context.Context, relPath string, unindexed bool) (bool, error) {
	if !unindexed {
		fso, err := q.GetFSO(ctx, relPath)
		if err != nil {
			return false, err
		}
		return fso != nil, nil
	}

	ok, normalized := pathrules.ValidateInternal(q.BasePaths, relPath)
	if !ok {
		return false, nil
	}
	for _, base := range q.BasePaths {
		full := filepath.Join(base, filepath.FromSlash(normalized))
		if _, err := os.Stat(full); err == nil {
			return true, nil
		}
	}
	return false, nil
}

// IsDir reports whether path names a known directory.
func (q *Engine) IsDir(ctx context.Context, relPath string) (bool, error) {
	fso, err := q.GetFSO(ctx, relPath)
	if err != nil {
		return false, err
	}
	return fso != nil && fso.IsDir(), nil
}

// IsFile reports whether path names a known file.
func (q *Engine) IsFile(ctx context.Context, relPath string) (bool, error) {
	fso, err := q.GetFSO(ctx, relPath)
	if err != nil {
		return false, err
	}
	return fso != nil && fso.IsFile(), nil
}

// GetFSO returns the single catalog row at path, or the synthetic root
// entry for ".". Returns nil, nil if path is invalid or not catalogued.
func (q *Engine) GetFSO(ctx context.Context, relPath string) (*fsal.Entry, error) {
	ok, normalized := pathrules.ValidateInternal(q.BasePaths, relPath)
	if !ok {
		return nil, nil
	}
	if normalized == fsal.RootDirPath {
		return q.rootEntry()
	}
	return q.Store.GetByPath(ctx, normalized)
}

func (q *Engine) rootEntry() (*fsal.Entry, error) {
	if len(q.BasePaths) == 0 {
		return nil, nil
	}
	info, err := os.Stat(q.BasePaths[0])
	if err != nil {
		return nil, nil
	}
	return &fsal.Entry{
		ID:         fsal.RootID,
		ParentID:   fsal.RootID,
		Type:       fsal.DirType,
		Name:       fsal.RootDirPath,
		ModifyTime: info.ModTime(),
		Path:       fsal.RootDirPath,
		BasePath:   q.BasePaths[0],
	}, nil
}

// GetPathSize walks the absolute directory abs with an accept-all
// predicate and sums the size of abs itself and of every entry under it
// directly from disk (not from the catalog), returning ok=false if abs
// is not a directory.
func (q *Engine) GetPathSize(abs string) (ok bool, size int64) {
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return false, 0
	}
	var total int64
	walkErr := walker.Walk(abs, func(string, os.FileInfo) bool { return true },
		func(_ string, info os.FileInfo) error {
			total += info.Size()
			return nil
		}, 10*time.Millisecond)
	if walkErr != nil {
		return false, 0
	}
	return true, total
}

func (q *Engine) whitelist() []string {
	if q.Whitelist == nil {
		return nil
	}
	return q.Whitelist.Get()
}

func (q *Engine) visible(entries []*fsal.Entry) []*fsal.Entry {
	list := q.whitelist()
	if len(list) == 0 {
		return entries
	}
	out := entries[:0]
	for _, e := range entries {
		if pathrules.IsWhitelisted(list, e.Path) {
			out = append(out, e)
		}
	}
	return out
}
