// Package walker implements the cooperative, LIFO depth-first directory
// walker the indexer uses to build and refresh the catalog (spec.md
// §4.6): symlinks are never followed, a caller-supplied predicate
// decides whether an entry is visited (and, for directories, whether it
// is descended into), and the walker yields to other work between
// directories so a large tree never starves concurrent request
// handling.
package walker

import (
	"log"
	"os"
	"path/filepath"
	"time"
)

// DefaultYieldInterval is used when Walk is called with a zero or
// negative interval.
const DefaultYieldInterval = 10 * time.Millisecond

// Check decides whether entry at path should be visited. Directories
// below the root that fail Check are neither visited nor descended
// into; the root itself is always descended into, even when Check
// rejects it.
type Check func(path string, info os.FileInfo) bool

// Visit is called for every entry Check accepts, in an unspecified but
// depth-first-ish order (root first, then a LIFO exploration of its
// subtree). A Visit error is logged and does not stop the walk.
type Visit func(path string, info os.FileInfo) error

// Walk walks the tree rooted at root, calling check on every entry and
// visit on every entry check accepts. It never follows symlinks.
// Between each directory's worth of entries it sleeps for yieldInterval
// (DefaultYieldInterval if non-positive), giving other goroutines a
// chance to run on a long walk.
func Walk(root string, check Check, visit Visit, yieldInterval time.Duration) error {
	if yieldInterval <= 0 {
		yieldInterval = DefaultYieldInterval
	}

	rootInfo, err := os.Lstat(root)
	if err != nil {
		return err
	}

	if isSymlink(rootInfo) {
		return nil
	}
	if check(root, rootInfo) {
		if err := visit(root, rootInfo); err != nil {
			log.Printf("walker: visiting %s: %v", root, err)
		}
	}

	var stack []string
	if rootInfo.IsDir() {
		stack = append(stack, root)
	}

	for len(stack) > 0 {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(dir)
		if err != nil {
			log.Printf("walker: skipping %s: %v", dir, err)
			continue
		}
		for _, de := range entries {
			path := filepath.Join(dir, de.Name())
			info, err := de.Info()
			if err != nil {
				log.Printf("walker: stat %s: %v", path, err)
				continue
			}
			if isSymlink(info) {
				continue
			}
			if !check(path, info) {
				continue
			}
			if err := visit(path, info); err != nil {
				log.Printf("walker: visiting %s: %v", path, err)
			}
			if info.IsDir() {
				stack = append(stack, path)
			}
		}
		if len(stack) > 0 {
			time.Sleep(yieldInterval)
		}
	}
	return nil
}

func isSymlink(info os.FileInfo) bool {
	return info.Mode()&os.ModeSymlink != 0
}
