package walker

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"
)

func mustMkdirAll(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("MkdirAll(%s): %v", path, err)
	}
}

func mustWriteFile(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile(%s): %v", path, err)
	}
}

func TestWalkVisitsAllEntries(t *testing.T) {
	root := t.TempDir()
	mustMkdirAll(t, filepath.Join(root, "a", "b"))
	mustWriteFile(t, filepath.Join(root, "a", "f1.txt"))
	mustWriteFile(t, filepath.Join(root, "a", "b", "f2.txt"))
	mustWriteFile(t, filepath.Join(root, "top.txt"))

	var visited []string
	err := Walk(root, func(string, os.FileInfo) bool { return true },
		func(path string, info os.FileInfo) error {
			rel, _ := filepath.Rel(root, path)
			visited = append(visited, filepath.ToSlash(rel))
			return nil
		}, time.Millisecond)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}

	sort.Strings(visited)
	want := []string{".", "a", "a/b", "a/b/f2.txt", "a/f1.txt", "top.txt"}
	if len(visited) != len(want) {
		t.Fatalf("got %v, want %v", visited, want)
	}
	for i := range want {
		if visited[i] != want[i] {
			t.Errorf("got %v, want %v", visited, want)
			break
		}
	}
}

func TestWalkSkipsSymlinks(t *testing.T) {
	root := t.TempDir()
	mustMkdirAll(t, filepath.Join(root, "real"))
	mustWriteFile(t, filepath.Join(root, "real", "f.txt"))
	if err := os.Symlink(filepath.Join(root, "real"), filepath.Join(root, "link")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	var visited []string
	err := Walk(root, func(string, os.FileInfo) bool { return true },
		func(path string, info os.FileInfo) error {
			rel, _ := filepath.Rel(root, path)
			visited = append(visited, filepath.ToSlash(rel))
			return nil
		}, time.Millisecond)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}

	for _, v := range visited {
		if v == "link" {
			t.Errorf("symlink should not be visited, got %v", visited)
		}
	}
}

func TestWalkCheckExcludesSubtree(t *testing.T) {
	root := t.TempDir()
	mustMkdirAll(t, filepath.Join(root, "skip", "nested"))
	mustWriteFile(t, filepath.Join(root, "skip", "nested", "f.txt"))
	mustWriteFile(t, filepath.Join(root, "keep.txt"))

	var visited []string
	err := Walk(root, func(path string, info os.FileInfo) bool {
		return filepath.Base(path) != "skip"
	}, func(path string, info os.FileInfo) error {
		rel, _ := filepath.Rel(root, path)
		visited = append(visited, filepath.ToSlash(rel))
		return nil
	}, time.Millisecond)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}

	for _, v := range visited {
		if v == "skip" || v == "skip/nested" || v == "skip/nested/f.txt" {
			t.Errorf("excluded subtree was visited: %v", visited)
		}
	}
}
