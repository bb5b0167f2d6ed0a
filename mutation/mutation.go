// Package mutation implements the catalog-affecting operations that
// must keep the catalog consistent with on-disk state (spec.md §4.9):
// remove, transfer (move), and consolidate (merge-copy).
package mutation

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/Outernet-Project/fsal"
	"github.com/Outernet-Project/fsal/catalog"
	"github.com/Outernet-Project/fsal/events"
	"github.com/Outernet-Project/fsal/indexer"
	"github.com/Outernet-Project/fsal/pathrules"
	"github.com/Outernet-Project/fsal/scheduler"
)

// pathLenLimit mirrors the original implementation's destination path
// length ceiling, used by transfer/consolidate validation.
const pathLenLimit = 32767

// Engine performs catalog mutations and schedules the indexer work
// needed to reconcile the catalog with their on-disk effects.
type Engine struct {
	Store     *catalog.Store
	BasePaths []string
	Events    *events.Queue
	Indexer   *indexer.Indexer
	Scheduler *scheduler.Scheduler
}

func (m *Engine) resolve(ctx context.Context, relPath string) (*fsal.Entry, error) {
	ok, normalized := pathrules.ValidateInternal(m.BasePaths, relPath)
	if !ok {
		return nil, nil
	}
	return m.Store.GetByPath(ctx, normalized)
}

// Remove deletes the file or directory at path from disk and from the
// catalog, emitting a deletion event for it and, when it is a
// directory, for every entry beneath it. A failure removing from disk
// or from the catalog schedules a full refresh so the catalog isn't
// left straddling a half-completed removal.
func (m *Engine) Remove(ctx context.Context, relPath string) (bool, string, error) {
	fso, err := m.resolve(ctx, relPath)
	if err != nil {
		return false, "", err
	}
	if fso == nil {
		return false, fmt.Sprintf("No such file or directory %q", relPath), nil
	}

	full := filepath.Join(fso.BasePath, filepath.FromSlash(fso.Path))

	var removed []*fsal.Entry
	if fso.IsDir() {
		descendants, err := m.Store.Descendants(ctx, fso.Path)
		if err != nil {
			return false, "", err
		}
		removed = descendants
		if err := os.RemoveAll(full); err != nil {
			m.scheduleRefresh(fmt.Sprintf("remove %q", relPath), err)
			return false, err.Error(), nil
		}
	} else {
		removed = []*fsal.Entry{fso}
		if err := os.Remove(full); err != nil {
			m.scheduleRefresh(fmt.Sprintf("remove %q", relPath), err)
			return false, err.Error(), nil
		}
	}

	if _, err := m.Store.RemoveByPath(ctx, fso.Path); err != nil {
		m.scheduleRefresh(fmt.Sprintf("remove %q", relPath), err)
		return false, err.Error(), nil
	}

	for _, e := range removed {
		if e.IsDir() {
			m.Events.Add(events.NewDirDeleted(e.Path))
		} else {
			m.Events.Add(events.NewFileDeleted(e.Path))
		}
	}
	return true, "", nil
}

// scheduleRefresh logs op and cause and submits a full catalog refresh, used
// whenever a mutation fails partway through and may have left the
// catalog out of sync with disk.
func (m *Engine) scheduleRefresh(op string, cause error) {
	log.Printf("mutation: %s failed, scheduling refresh: %v", op, cause)
	m.Scheduler.Submit(func() {
		if err := m.Indexer.Refresh(context.Background()); err != nil {
			log.Printf("mutation: scheduled refresh after %s failure: %v", op, err)
		}
	})
}
