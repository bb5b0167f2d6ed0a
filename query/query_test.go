package query

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Outernet-Project/fsal"
	"github.com/Outernet-Project/fsal/catalog"
)

func newTestEngine(t *testing.T) (*Engine, *catalog.Store) {
	t.Helper()
	base := t.TempDir()
	store, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return &Engine{Store: store, BasePaths: []string{base}}, store
}

func insert(t *testing.T, store *catalog.Store, path, name string, typ fsal.EntryType, parentID int64) int64 {
	t.Helper()
	id, err := store.Upsert(context.Background(), &fsal.Entry{
		ParentID:   parentID,
		Type:       typ,
		Name:       name,
		Size:       10,
		CreateTime: time.Unix(1, 0),
		ModifyTime: time.Unix(2, 0),
		Path:       path,
		BasePath:   "/base",
	}, false)
	if err != nil {
		t.Fatalf("insert %s: %v", path, err)
	}
	return id
}

func TestListDirReturnsChildren(t *testing.T) {
	q, store := newTestEngine(t)
	ctx := context.Background()
	dirID := insert(t, store, "d", "d", fsal.DirType, fsal.RootID)
	insert(t, store, "d/a.txt", "a.txt", fsal.FileType, dirID)

	ok, entries, err := q.ListDir(ctx, "d")
	if err != nil {
		t.Fatalf("ListDir: %v", err)
	}
	if !ok || len(entries) != 1 {
		t.Fatalf("ok=%v entries=%v", ok, entries)
	}
}

func TestListDirOnFileReturnsNotOK(t *testing.T) {
	q, store := newTestEngine(t)
	ctx := context.Background()
	insert(t, store, "f.txt", "f.txt", fsal.FileType, fsal.RootID)

	ok, _, err := q.ListDir(ctx, "f.txt")
	if err != nil {
		t.Fatalf("ListDir: %v", err)
	}
	if ok {
		t.Error("expected ok=false for a file path")
	}
}

func TestSearchFallsBackToListDirForDirectoryMatch(t *testing.T) {
	q, store := newTestEngine(t)
	ctx := context.Background()
	dirID := insert(t, store, "docs", "docs", fsal.DirType, fsal.RootID)
	insert(t, store, "docs/readme.txt", "readme.txt", fsal.FileType, dirID)
	insert(t, store, "other.txt", "other.txt", fsal.FileType, fsal.RootID)

	isDirMatch, entries, err := q.Search(ctx, "docs", false, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !isDirMatch || len(entries) != 1 {
		t.Fatalf("isDirMatch=%v entries=%v", isDirMatch, entries)
	}
}

func TestSearchExcludesLiteralNames(t *testing.T) {
	q, store := newTestEngine(t)
	ctx := context.Background()
	insert(t, store, "report.txt", "report.txt", fsal.FileType, fsal.RootID)
	insert(t, store, "report_final.txt", "report_final.txt", fsal.FileType, fsal.RootID)

	isDirMatch, entries, err := q.Search(ctx, "report", false, []string{"report.txt"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if isDirMatch {
		t.Fatal("expected no directory match")
	}
	for _, e := range entries {
		if e.Name == "report.txt" {
			t.Errorf("excluded name present in results: %v", entries)
		}
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 remaining match, got %d", len(entries))
	}
}

func TestExistsIndexedVsUnindexed(t *testing.T) {
	q, store := newTestEngine(t)
	ctx := context.Background()
	insert(t, store, "known.txt", "known.txt", fsal.FileType, fsal.RootID)

	ok, err := q.Exists(ctx, "known.txt", false)
	if err != nil || !ok {
		t.Fatalf("expected known.txt to exist in catalog: ok=%v err=%v", ok, err)
	}

	ok, err = q.Exists(ctx, "never-indexed.txt", false)
	if err != nil || ok {
		t.Fatalf("expected never-indexed.txt to be unknown to the catalog: ok=%v err=%v", ok, err)
	}

	ok, err = q.Exists(ctx, "known.txt", true)
	if err != nil || ok {
		t.Fatalf("expected known.txt to be absent on disk despite its catalog row: ok=%v err=%v", ok, err)
	}

	ok, err = q.Exists(ctx, ".", true)
	if err != nil || !ok {
		t.Fatalf("expected the base directory to exist on disk: ok=%v err=%v", ok, err)
	}
}

func TestGetFSOReturnsRootForDot(t *testing.T) {
	q, _ := newTestEngine(t)
	fso, err := q.GetFSO(context.Background(), ".")
	if err != nil {
		t.Fatalf("GetFSO: %v", err)
	}
	if fso == nil || fso.ID != fsal.RootID || !fso.IsDir() {
		t.Fatalf("unexpected root entry: %+v", fso)
	}
}

func TestFilterRestrictsToKnownPaths(t *testing.T) {
	q, store := newTestEngine(t)
	ctx := context.Background()
	insert(t, store, "a.txt", "a.txt", fsal.FileType, fsal.RootID)
	insert(t, store, "b.txt", "b.txt", fsal.FileType, fsal.RootID)

	got, err := q.Filter(ctx, []string{"a.txt", "missing.txt"})
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if len(got) != 1 || got[0].Path != "a.txt" {
		t.Errorf("unexpected filter result: %v", got)
	}
}
