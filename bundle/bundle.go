// Package bundle implements archive auto-extraction (spec.md §4.9): a
// zip archive placed under a base path's configured bundles directory
// is detected and extracted in place, with every archive member's
// resolved path verified to stay under the destination before anything
// is written.
package bundle

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/Outernet-Project/fsal"
)

// Extracter auto-extracts archives found under a configured bundles
// subdirectory of each base path.
type Extracter struct {
	BundlesDir string
	Exts       map[string]bool
}

// New builds an Extracter recognizing the given (dot-less) extensions
// under dir.
func New(dir string, exts []string) *Extracter {
	e := &Extracter{BundlesDir: path.Clean(dir), Exts: make(map[string]bool, len(exts))}
	for _, ext := range exts {
		e.Exts[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}
	return e
}

// IsBundle reports whether rel (relative to basePath) names a regular
// file under the bundles directory with a recognized extension.
func (e *Extracter) IsBundle(basePath, rel string) bool {
	abspath := AbsBundlePath(basePath, rel)
	info, err := os.Stat(abspath)
	if err != nil || info.IsDir() {
		return false
	}
	if !underBundlesDir(rel, e.BundlesDir) {
		return false
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(rel), "."))
	return e.Exts[ext]
}

func underBundlesDir(rel, bundlesDir string) bool {
	if bundlesDir == "" || bundlesDir == "." {
		return true
	}
	rel = path.Clean(rel)
	return rel == bundlesDir || strings.HasPrefix(rel, bundlesDir+"/")
}

// AbsBundlePath resolves rel (relative to basePath) to an absolute
// filesystem path.
func AbsBundlePath(basePath, rel string) string {
	return filepath.Clean(filepath.Join(basePath, filepath.FromSlash(rel)))
}

// Extract extracts the archive at rel (relative to basePath) into
// basePath, returning the archive member paths (relative to basePath,
// slash-separated) that were written. It refuses to extract if rel
// isn't a recognized bundle, or if any member's resolved path would
// land outside basePath.
func (e *Extracter) Extract(basePath, rel string) ([]string, error) {
	if !e.IsBundle(basePath, rel) {
		return nil, fmt.Errorf("%w: %s is not a recognized bundle", fsal.ErrBundle, rel)
	}
	abspath := AbsBundlePath(basePath, rel)
	return extractZip(abspath, basePath)
}

func extractZip(archivePath, destPath string) ([]string, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", fsal.ErrBundle, archivePath, err)
	}
	defer zr.Close()

	destAbs, err := filepath.Abs(destPath)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(zr.File))
	targets := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		target := filepath.Join(destAbs, filepath.FromSlash(f.Name))
		if !pathUnder(destAbs, target) {
			return nil, fmt.Errorf("%w: invalid path in bundle: %s", fsal.ErrBundle, f.Name)
		}
		names = append(names, filepath.ToSlash(f.Name))
		targets = append(targets, target)
	}

	for i, f := range zr.File {
		target := targets[i]
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, err
		}
		if err := extractFile(f, target); err != nil {
			return nil, err
		}
	}
	return names, nil
}

func extractFile(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}

// pathUnder reports whether target is equal to or nested under base.
func pathUnder(base, target string) bool {
	base = filepath.Clean(base)
	target = filepath.Clean(target)
	if target == base {
		return true
	}
	return strings.HasPrefix(target, base+string(filepath.Separator))
}
