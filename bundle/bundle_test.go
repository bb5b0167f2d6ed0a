package bundle

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
)

func writeTestZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip Create(%s): %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("zip Write(%s): %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip Close: %v", err)
	}
}

func TestIsBundleRecognizesExtensionUnderBundlesDir(t *testing.T) {
	base := t.TempDir()
	if err := os.MkdirAll(filepath.Join(base, "bundles"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeTestZip(t, filepath.Join(base, "bundles", "a.zip"), map[string]string{"f.txt": "hi"})
	os.WriteFile(filepath.Join(base, "bundles", "a.txt"), []byte("not a zip"), 0o644)
	os.WriteFile(filepath.Join(base, "a.zip"), []byte("outside bundles dir"), 0o644)

	e := New("bundles", []string{"zip"})

	if !e.IsBundle(base, "bundles/a.zip") {
		t.Error("expected bundles/a.zip to be recognized")
	}
	if e.IsBundle(base, "bundles/a.txt") {
		t.Error("wrong extension should not be recognized")
	}
	if e.IsBundle(base, "a.zip") {
		t.Error("file outside bundles dir should not be recognized")
	}
}

func TestExtractWritesFilesUnderBase(t *testing.T) {
	base := t.TempDir()
	if err := os.MkdirAll(filepath.Join(base, "bundles"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeTestZip(t, filepath.Join(base, "bundles", "a.zip"), map[string]string{
		"dir/file.txt": "contents",
	})

	e := New("bundles", []string{"zip"})
	names, err := e.Extract(base, "bundles/a.zip")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(names) != 1 || names[0] != "dir/file.txt" {
		t.Errorf("unexpected names: %v", names)
	}

	got, err := os.ReadFile(filepath.Join(base, "dir", "file.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "contents" {
		t.Errorf("got %q", got)
	}
}

func TestExtractRejectsPathEscape(t *testing.T) {
	base := t.TempDir()
	if err := os.MkdirAll(filepath.Join(base, "bundles"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeTestZip(t, filepath.Join(base, "bundles", "evil.zip"), map[string]string{
		"../../escaped.txt": "pwned",
	})

	e := New("bundles", []string{"zip"})
	_, err := e.Extract(base, "bundles/evil.zip")
	if err == nil {
		t.Fatal("expected error for path-escaping archive member")
	}
}

func TestExtractRejectsNonBundle(t *testing.T) {
	base := t.TempDir()
	os.WriteFile(filepath.Join(base, "plain.zip"), []byte("not under bundles dir"), 0o644)

	e := New("bundles", []string{"zip"})
	_, err := e.Extract(base, "plain.zip")
	if err == nil {
		t.Fatal("expected error extracting a non-bundle path")
	}
}
