package catalog

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/Outernet-Project/fsal"
)

// Order is a column/direction pair applied to a descendants query.
type Order struct {
	Column string
	Desc   bool
}

// DescendantsFilter narrows a ListDescendants call (spec.md §4.8's
// list_descendants parameters).
type DescendantsFilter struct {
	// EntryType restricts results to files or directories when non-nil.
	EntryType *fsal.EntryType
	// SpanDays, when non-zero, restricts results to entries modified
	// within the last SpanDays days.
	SpanDays int
	// IgnoredPaths excludes rows whose path has any of these as a
	// prefix.
	IgnoredPaths []string
	// Whitelist, when non-empty, restricts results to rows under one of
	// these prefixes (mirrors the visibility rule enforced elsewhere by
	// pathrules.IsWhitelisted).
	Whitelist []string
	Order     *Order
	Offset    int
	Limit     int
}

func (f DescendantsFilter) build(dirPath string) (where string, args []any) {
	var clauses []string

	if dirPath != fsal.RootDirPath {
		clauses = append(clauses, "path LIKE ? ESCAPE '\\'")
		args = append(args, sqlEscapePath(dirPath)+"/%")
	}
	for _, ignored := range f.IgnoredPaths {
		clauses = append(clauses, "path NOT LIKE ? ESCAPE '\\'")
		args = append(args, sqlEscapePath(ignored)+"%")
	}
	if len(f.Whitelist) > 0 {
		sub := make([]string, len(f.Whitelist))
		for i, base := range f.Whitelist {
			sub[i] = "path = ? OR path LIKE ? ESCAPE '\\'"
			args = append(args, base, sqlEscapePath(base)+"/%")
		}
		clauses = append(clauses, "("+strings.Join(sub, " OR ")+")")
	}
	if f.SpanDays > 0 {
		clauses = append(clauses, "modify_time > ?")
		args = append(args, time.Now().Add(-time.Duration(f.SpanDays)*24*time.Hour).Unix())
	}
	if f.EntryType != nil {
		clauses = append(clauses, "type = ?")
		args = append(args, int(*f.EntryType))
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (f DescendantsFilter) suffix() string {
	var b strings.Builder
	if f.Order != nil {
		b.WriteString(" ORDER BY ")
		b.WriteString(f.Order.Column)
		if f.Order.Desc {
			b.WriteString(" DESC")
		}
	}
	if f.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", f.Limit)
		if f.Offset > 0 {
			fmt.Fprintf(&b, " OFFSET %d", f.Offset)
		}
	}
	return b.String()
}

// CountDescendants returns the number of rows under dirPath matching
// filter, without fetching them.
func (s *Store) CountDescendants(ctx context.Context, dirPath string, filter DescendantsFilter) (int, error) {
	where, args := filter.build(dirPath)
	q := fmt.Sprintf(`SELECT COUNT(*) FROM %s%s`, Table, where)
	var n int
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// ListDescendants returns every row under dirPath matching filter.
func (s *Store) ListDescendants(ctx context.Context, dirPath string, filter DescendantsFilter) ([]*fsal.Entry, error) {
	where, args := filter.build(dirPath)
	q := fmt.Sprintf(`SELECT %s FROM %s%s%s`, selectColumns, Table, where, filter.suffix())
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

// GetPathSize sums the size of dirPath's file descendants (spec.md
// §4.8's get_path_size); path itself is included when it is a file.
func (s *Store) GetPathSize(ctx context.Context, relPath string) (int64, error) {
	pattern := sqlEscapePath(relPath) + `/%`
	var total int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT COALESCE(SUM(size), 0) FROM %s WHERE type = 0 AND (path = ? OR path LIKE ? ESCAPE '\')`, Table),
		relPath, pattern).Scan(&total)
	return total, err
}

// ParentPath returns the catalog-relative parent directory of rel using
// "/" separators, matching the path package rather than the OS's.
func ParentPath(rel string) string {
	if rel == fsal.RootDirPath || rel == "" {
		return fsal.RootDirPath
	}
	parent := path.Dir(rel)
	if parent == "" {
		parent = fsal.RootDirPath
	}
	return parent
}
