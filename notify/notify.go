// Package notify implements the notification handler (spec.md §4.7's
// "Notification handling"): it takes a batch of externally observed
// paths, extracts any that are freshly-arrived bundles, and schedules
// an incremental re-index rooted at the deepest already-indexed
// ancestor of each.
package notify

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/Outernet-Project/fsal/bundle"
	"github.com/Outernet-Project/fsal/catalog"
	"github.com/Outernet-Project/fsal/indexer"
	"github.com/Outernet-Project/fsal/pathrules"
	"github.com/Outernet-Project/fsal/scheduler"
)

// Handler reacts to external filesystem change notifications.
type Handler struct {
	Store     *catalog.Store
	BasePaths []string
	Bundles   *bundle.Extracter
	Indexer   *indexer.Indexer
	Scheduler *scheduler.Scheduler
}

// Handle processes a batch of absolute paths reported by a notification
// source. Each entry is handled independently; a panic or error on one
// is logged and does not stop the rest of the batch.
func (h *Handler) Handle(ctx context.Context, paths []string) {
	for _, abs := range paths {
		h.handleOne(ctx, abs)
	}
}

func (h *Handler) handleOne(ctx context.Context, abs string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("notify: recovered panic handling %s: %v", abs, r)
		}
	}()

	basePath, rel, ok := h.resolveBase(abs)
	if !ok {
		log.Printf("notify: %s is not under any configured base path, ignoring", abs)
		return
	}

	if h.Bundles != nil && h.Bundles.IsBundle(basePath, rel) {
		extracted, err := h.Bundles.Extract(basePath, rel)
		if err != nil {
			log.Printf("notify: extracting bundle %s: %v", rel, err)
			return
		}
		if err := os.Remove(bundle.AbsBundlePath(basePath, rel)); err != nil {
			log.Printf("notify: removing extracted bundle archive %s: %v", rel, err)
		}
		rel = commonAncestor(extracted)
	}

	start := pathrules.DeepestIndexedParent(rel, func(p string) bool {
		entry, err := h.Store.GetByPath(ctx, p)
		return p == "." || (err == nil && entry != nil)
	})

	log.Printf("notify: scheduling update of %s under %s", start, basePath)
	h.Scheduler.Submit(func() {
		if err := h.Indexer.Update(context.Background(), start, []string{basePath}); err != nil {
			log.Printf("notify: scheduled update for %s failed: %v", start, err)
		}
	})
}

func (h *Handler) resolveBase(abs string) (basePath, rel string, ok bool) {
	for _, base := range h.BasePaths {
		r, err := filepath.Rel(base, abs)
		if err != nil || strings.HasPrefix(r, "..") {
			continue
		}
		return base, filepath.ToSlash(r), true
	}
	return "", "", false
}

// commonAncestor returns the deepest directory shared by every path in
// paths, or "." if paths is empty or its members share no parent.
func commonAncestor(paths []string) string {
	if len(paths) == 0 {
		return "."
	}
	dirParts := func(p string) []string {
		parts := strings.Split(p, "/")
		return parts[:len(parts)-1]
	}
	parts := dirParts(paths[0])
	for _, p := range paths[1:] {
		parts = commonPrefixParts(parts, dirParts(p))
	}
	if len(parts) == 0 {
		return "."
	}
	return strings.Join(parts, "/")
}

func commonPrefixParts(a, b []string) []string {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return a[:i]
}
