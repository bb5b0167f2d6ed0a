package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Outernet-Project/fsal"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "catalog.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func insertEntry(t *testing.T, s *Store, path, name string, typ fsal.EntryType, parentID int64) int64 {
	t.Helper()
	id, err := s.Upsert(context.Background(), &fsal.Entry{
		ParentID:   parentID,
		Type:       typ,
		Name:       name,
		Size:       42,
		CreateTime: time.Unix(1000, 0),
		ModifyTime: time.Unix(2000, 0),
		Path:       path,
		BasePath:   "/base",
	}, false)
	if err != nil {
		t.Fatalf("Upsert(%s): %v", path, err)
	}
	return id
}

func TestUpsertAndGetByPath(t *testing.T) {
	s := openTestStore(t)
	insertEntry(t, s, "a", "a", fsal.DirType, fsal.RootID)

	got, err := s.GetByPath(context.Background(), "a")
	if err != nil {
		t.Fatalf("GetByPath: %v", err)
	}
	if got == nil {
		t.Fatal("expected entry, got nil")
	}
	if got.Name != "a" || !got.IsDir() {
		t.Errorf("got %+v", got)
	}

	missing, err := s.GetByPath(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetByPath(missing): %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil, got %+v", missing)
	}
}

func TestUpsertUpdatesExistingRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	insertEntry(t, s, "a/b.txt", "b.txt", fsal.FileType, fsal.RootID)

	id, err := s.Upsert(ctx, &fsal.Entry{
		ParentID:   fsal.RootID,
		Type:       fsal.FileType,
		Name:       "b.txt",
		Size:       99,
		CreateTime: time.Unix(1000, 0),
		ModifyTime: time.Unix(3000, 0),
		Path:       "a/b.txt",
		BasePath:   "/base",
	}, true)
	if err != nil {
		t.Fatalf("Upsert(update): %v", err)
	}

	got, err := s.GetByPath(ctx, "a/b.txt")
	if err != nil {
		t.Fatalf("GetByPath: %v", err)
	}
	if got.ID != id {
		t.Errorf("id mismatch: got %d want %d", got.ID, id)
	}
	if got.Size != 99 {
		t.Errorf("size not updated: got %d", got.Size)
	}
}

func TestChildrenAndDescendants(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	dirID := insertEntry(t, s, "d", "d", fsal.DirType, fsal.RootID)
	insertEntry(t, s, "d/a.txt", "a.txt", fsal.FileType, dirID)
	insertEntry(t, s, "d/b.txt", "b.txt", fsal.FileType, dirID)
	insertEntry(t, s, "other", "other", fsal.FileType, fsal.RootID)

	children, err := s.Children(ctx, dirID)
	if err != nil {
		t.Fatalf("Children: %v", err)
	}
	if len(children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(children))
	}

	descendants, err := s.Descendants(ctx, "d")
	if err != nil {
		t.Fatalf("Descendants: %v", err)
	}
	if len(descendants) != 3 {
		t.Fatalf("expected 3 (dir + 2 files), got %d", len(descendants))
	}
}

func TestRemoveByPathRemovesSubtree(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	dirID := insertEntry(t, s, "d", "d", fsal.DirType, fsal.RootID)
	insertEntry(t, s, "d/a.txt", "a.txt", fsal.FileType, dirID)
	insertEntry(t, s, "d_sibling", "d_sibling", fsal.FileType, fsal.RootID)

	n, err := s.RemoveByPath(ctx, "d")
	if err != nil {
		t.Fatalf("RemoveByPath: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 rows removed, got %d", n)
	}

	if got, err := s.GetByPath(ctx, "d_sibling"); err != nil || got == nil {
		t.Errorf("d_sibling should survive removal of d, got %+v err %v", got, err)
	}
}

func TestFilterByPathsBatches(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	var paths []string
	for i := 0; i < 5; i++ {
		p := filepath.ToSlash(filepath.Join("d", string(rune('a'+i))+".txt"))
		insertEntry(t, s, p, p, fsal.FileType, fsal.RootID)
		paths = append(paths, p)
	}
	paths = append(paths, "missing.txt")

	got, err := s.FilterByPaths(ctx, paths)
	if err != nil {
		t.Fatalf("FilterByPaths: %v", err)
	}
	if len(got) != 5 {
		t.Errorf("expected 5 matches, got %d", len(got))
	}
}

func TestSearchByNameIsOrOfWords(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	insertEntry(t, s, "report.pdf", "report.pdf", fsal.FileType, fsal.RootID)
	insertEntry(t, s, "notes.txt", "notes.txt", fsal.FileType, fsal.RootID)
	insertEntry(t, s, "unrelated.png", "unrelated.png", fsal.FileType, fsal.RootID)

	got, err := s.SearchByName(ctx, "report notes", false)
	if err != nil {
		t.Fatalf("SearchByName: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 matches, got %d", len(got))
	}
}

func TestListDescendantsFilterByType(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	dirID := insertEntry(t, s, "d", "d", fsal.DirType, fsal.RootID)
	insertEntry(t, s, "d/sub", "sub", fsal.DirType, dirID)
	insertEntry(t, s, "d/file.txt", "file.txt", fsal.FileType, dirID)

	fileType := fsal.FileType
	got, err := s.ListDescendants(ctx, "d", DescendantsFilter{EntryType: &fileType})
	if err != nil {
		t.Fatalf("ListDescendants: %v", err)
	}
	if len(got) != 1 || got[0].Name != "file.txt" {
		t.Errorf("expected only file.txt, got %+v", got)
	}
}

func TestGetPathSizeSumsFiles(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	dirID := insertEntry(t, s, "d", "d", fsal.DirType, fsal.RootID)
	insertEntry(t, s, "d/a.txt", "a.txt", fsal.FileType, dirID)
	insertEntry(t, s, "d/b.txt", "b.txt", fsal.FileType, dirID)

	size, err := s.GetPathSize(ctx, "d")
	if err != nil {
		t.Fatalf("GetPathSize: %v", err)
	}
	if size != 84 {
		t.Errorf("expected 84, got %d", size)
	}
}

func TestUpdateBasePaths(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, err := s.db.ExecContext(ctx, `INSERT INTO fsentries
		(parent_id, type, name, size, create_time, modify_time, path, base_path)
		VALUES (0, 1, 'a', 0, 0, 0, 'a', '/old')`)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := s.UpdateBasePaths(ctx, []string{"/old"}, "/new", nil); err != nil {
		t.Fatalf("UpdateBasePaths: %v", err)
	}

	bases, err := s.BasePaths(ctx)
	if err != nil {
		t.Fatalf("BasePaths: %v", err)
	}
	if len(bases) != 1 || bases[0] != "/new" {
		t.Errorf("expected [/new], got %v", bases)
	}
}
