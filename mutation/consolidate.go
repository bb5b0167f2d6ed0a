package mutation

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/time/rate"

	"github.com/Outernet-Project/fsal/pathrules"
	"github.com/Outernet-Project/fsal/walker"
)

// copyChunkSize bounds a single pass through the consolidate rate
// limiter, matching the chunking granularity the teacher uses for its
// own throttled copy loop.
const copyChunkSize = 32 * 1024

// Consolidate merge-copies every directory in sources into dest,
// removes each source's now-duplicated contents (but not the source
// directories themselves), and rewrites the catalog's base_path for
// the moved content so it is immediately queryable under dest. The
// copy loop is throttled by limiter; pass nil for no throttling.
func (m *Engine) Consolidate(ctx context.Context, sources []string, dest string, limiter *rate.Limiter) (success, partial bool, msg string) {
	var errs []string
	var copiedSrc []string   // absolute source-side paths copied
	var relToSrc []string    // copied paths, relative to their originating source
	var relToDest []string   // same copied paths, relative to destBase

	destBase := m.BasePaths[len(m.BasePaths)-1]

	for _, src := range sources {
		absSrc, realDst, ok, vmsg := m.validateTransfer(ctx, src, dest)
		if !ok {
			return false, false, vmsg
		}
		log.Printf("mutation: consolidation started from %s to %s", absSrc, realDst)
		srcPaths, err := copyTreeMerge(absSrc, realDst, limiter)
		if err != nil {
			errs = append(errs, fmt.Sprintf("Error while consolidating from %s to %s: %v", absSrc, realDst, err))
		}
		for _, p := range srcPaths {
			rel, relErr := filepath.Rel(absSrc, p)
			if relErr != nil || strings.Contains(rel, "..") {
				continue
			}
			copiedSrc = append(copiedSrc, p)
			relToSrc = append(relToSrc, filepath.ToSlash(rel))
			destPath := filepath.Join(realDst, rel)
			if destRel, relErr := filepath.Rel(destBase, destPath); relErr == nil && !strings.Contains(destRel, "..") {
				relToDest = append(relToDest, filepath.ToSlash(destRel))
			}
		}
	}

	// Remove each source's copied contents, but never a source
	// directory itself.
	for _, srcPath := range copiedSrc {
		if containsPath(sources, srcPath) {
			continue
		}
		if _, err := os.Stat(srcPath); err == nil {
			os.RemoveAll(srcPath)
		}
	}

	if err := m.Store.UpdateBasePaths(ctx, absPaths(sources), dest, relToSrc); err != nil {
		log.Printf("mutation: updating base paths after consolidate: %v", err)
	}

	if len(errs) == 0 {
		success = true
		msg = fmt.Sprintf("All files from (%s) copied to %s successfully", strings.Join(sources, ", "), dest)
	} else {
		msg = "Errors: " + strings.Join(errs, "\n")
	}
	partial = len(errs) > 0 && len(copiedSrc) > 0

	for _, rel := range relToSrc {
		rel := rel
		for _, src := range sources {
			src := src
			m.Scheduler.Submit(func() {
				if err := m.Indexer.Prune(context.Background(), rel, src); err != nil {
					log.Printf("mutation: scheduled prune after consolidate failed: %v", err)
				}
			})
		}
	}
	for _, rel := range relToDest {
		rel := rel
		m.Scheduler.Submit(func() {
			if err := m.Indexer.Update(context.Background(), rel, []string{destBase}); err != nil {
				log.Printf("mutation: scheduled update after consolidate failed: %v", err)
			}
		})
	}

	log.Print(msg)
	return success, partial, msg
}

func absPaths(sources []string) []string {
	out := make([]string, len(sources))
	for i, s := range sources {
		_, abs := pathrules.ValidateExternal(s)
		out[i] = abs
	}
	return out
}

func containsPath(paths []string, p string) bool {
	for _, candidate := range paths {
		_, abs := pathrules.ValidateExternal(candidate)
		if abs == p {
			return true
		}
	}
	return false
}

// copyTreeMerge copies src's contents into dest, creating dest if
// needed and merging into it if it already exists, and returns the
// absolute source-side paths that were successfully copied.
func copyTreeMerge(src, dest string, limiter *rate.Limiter) ([]string, error) {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dest, srcInfo.Mode()); err != nil {
		return nil, err
	}

	var copied []string
	walkErr := walker.Walk(src, func(string, os.FileInfo) bool { return true },
		func(p string, info os.FileInfo) error {
			rel, err := filepath.Rel(src, p)
			if err != nil {
				return err
			}
			target := filepath.Join(dest, rel)
			if info.IsDir() {
				if err := os.MkdirAll(target, info.Mode()); err != nil {
					return err
				}
				copied = append(copied, p)
				return nil
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := throttledCopyFile(p, target, limiter); err != nil {
				return err
			}
			copied = append(copied, p)
			return nil
		}, 0)
	return copied, walkErr
}

func throttledCopyFile(src, dest string, limiter *rate.Limiter) error {
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

	if limiter == nil {
		_, err = io.Copy(out, in)
		return err
	}

	buf := make([]byte, copyChunkSize)
	for {
		n, readErr := in.Read(buf)
		if n > 0 {
			if err := limiter.WaitN(context.Background(), n); err != nil {
				return err
			}
			if _, err := out.Write(buf[:n]); err != nil {
				return err
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			return readErr
		}
	}
}
