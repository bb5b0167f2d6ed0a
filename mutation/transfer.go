package mutation

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/Outernet-Project/fsal"
	"github.com/Outernet-Project/fsal/pathrules"
	"github.com/Outernet-Project/fsal/walker"
)

// validateTransfer mirrors the original implementation's
// _validate_transfer: src must exist on disk and not already be
// catalogued, dest must be a valid internal path, and no resulting
// destination path may exceed pathLenLimit.
func (m *Engine) validateTransfer(ctx context.Context, src, dest string) (absSrc, realDst string, ok bool, msg string) {
	srcOK, absSrc := pathrules.ValidateExternal(src)
	destOK, normalizedDest := pathrules.ValidateInternal(m.BasePaths, dest)

	existing, _ := m.resolve(ctx, src)
	if !srcOK {
		return "", "", false, fmt.Sprintf("Invalid transfer source directory %s", src)
	}
	if _, statErr := os.Stat(absSrc); statErr != nil {
		return "", "", false, fmt.Sprintf("Invalid transfer source directory %s", src)
	}
	if existing != nil {
		return "", "", false, fmt.Sprintf("Invalid transfer source directory %s", src)
	}
	if !destOK {
		return "", "", false, fmt.Sprintf("Invalid transfer destination directory %s", dest)
	}

	basePath := m.BasePaths[len(m.BasePaths)-1]
	absDest := filepath.Join(basePath, filepath.FromSlash(normalizedDest))
	realDst = absDest
	if info, err := os.Stat(absDest); err == nil && info.IsDir() {
		realDst = filepath.Join(absDest, filepath.Base(absSrc))
		if _, err := os.Stat(realDst); err == nil {
			return "", "", false, fmt.Sprintf("Destination path %q already exists", realDst)
		}
	}

	walkErr := walker.Walk(absSrc, func(string, os.FileInfo) bool { return true },
		func(p string, info os.FileInfo) error {
			rel, err := filepath.Rel(absSrc, p)
			if err != nil {
				return err
			}
			destPath := filepath.Join(realDst, rel)
			if len(destPath) > pathLenLimit {
				return fmt.Errorf("%s exceeds path length limit", destPath)
			}
			return nil
		}, 0)
	if walkErr != nil {
		return "", "", false, walkErr.Error()
	}

	return absSrc, realDst, true, ""
}

// Transfer moves absSrc (an external path) to dest (an internal path
// under the last configured base path), then schedules an indexer
// update starting at the deepest already-indexed ancestor of the
// destination so the catalog picks up the moved content.
func (m *Engine) Transfer(ctx context.Context, src, dest string) (bool, string) {
	absSrc, realDst, ok, msg := m.validateTransfer(ctx, src, dest)
	if !ok {
		return false, msg
	}

	basePath := m.BasePaths[len(m.BasePaths)-1]
	log.Printf("mutation: transferring %s to %s", absSrc, realDst)

	success := true
	if err := moveFile(absSrc, realDst); err != nil {
		log.Printf("mutation: error transferring content: %v", err)
		success = false
		msg = err.Error()
	}

	rel, relErr := filepath.Rel(basePath, realDst)
	if relErr == nil {
		relSlash := filepath.ToSlash(rel)
		start := pathrules.DeepestIndexedParent(relSlash, func(p string) bool {
			entry, err := m.Store.GetByPath(ctx, p)
			return p == fsal.RootDirPath || (err == nil && entry != nil)
		})
		m.Scheduler.Submit(func() {
			if err := m.Indexer.Update(context.Background(), start, []string{basePath}); err != nil {
				log.Printf("mutation: scheduled update after transfer failed: %v", err)
			}
		})
	}

	return success, msg
}

// moveFile renames absSrc to absDest, falling back to a copy-then-remove
// when rename fails across filesystem boundaries.
func moveFile(absSrc, absDest string) error {
	if err := os.Rename(absSrc, absDest); err == nil {
		return nil
	}
	info, err := os.Stat(absSrc)
	if err != nil {
		return err
	}
	if info.IsDir() {
		if err := copyDir(absSrc, absDest); err != nil {
			return err
		}
	} else {
		if err := copyFile(absSrc, absDest); err != nil {
			return err
		}
	}
	return os.RemoveAll(absSrc)
}

func copyDir(src, dest string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dest, srcInfo.Mode()); err != nil {
		return err
	}
	return walker.Walk(src, func(string, os.FileInfo) bool { return true },
		func(p string, info os.FileInfo) error {
			rel, err := filepath.Rel(src, p)
			if err != nil {
				return err
			}
			target := filepath.Join(dest, rel)
			if info.IsDir() {
				return os.MkdirAll(target, info.Mode())
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			return copyFile(p, target)
		}, 0)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
