package protocol

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Outernet-Project/fsal"
	"github.com/Outernet-Project/fsal/catalog"
	"github.com/Outernet-Project/fsal/events"
	"github.com/Outernet-Project/fsal/indexer"
	"github.com/Outernet-Project/fsal/mutation"
	"github.com/Outernet-Project/fsal/pathrules"
	"github.com/Outernet-Project/fsal/query"
	"github.com/Outernet-Project/fsal/scheduler"
)

// Dispatcher holds every collaborator a command handler needs and maps
// command names to their implementation (spec.md §4.10's command set).
type Dispatcher struct {
	Query     *query.Engine
	Mutation  *mutation.Engine
	Indexer   *indexer.Indexer
	Events    *events.Queue
	Scheduler *scheduler.Scheduler
	Whitelist *pathrules.Whitelist
}

type handlerFunc func(ctx context.Context, d *Dispatcher, params node) node

var handlers = map[string]handlerFunc{
	"LIST_DIR":         handleListDir,
	"LIST_DESCENDANTS": handleListDescendants,
	"LIST_BASE_PATHS":  handleListBasePaths,
	"EXISTS":           handleExists,
	"ISDIR":            handleIsDir,
	"ISFILE":           handleIsFile,
	"REMOVE":           handleRemove,
	"SEARCH":           handleSearch,
	"FILTER":           handleFilter,
	"GET_FSO":          handleGetFSO,
	"TRANSFER":         handleTransfer,
	"CONSOLIDATE":      handleConsolidate,
	"GET_CHANGES":      handleGetChanges,
	"CONFIRM_CHANGES":  handleConfirmChanges,
	"REFRESH":          handleRefresh,
	"REFRESH_PATH":     handleRefreshPath,
	"SET_WHITELIST":    handleSetWhitelist,
	"GET_PATH_SIZE":    handleGetPathSize,
}

// Dispatch looks up cmdType and runs its handler, returning a
// pre-built result node ready to embed in a response. An unknown
// command name is reported as a failure rather than dropping the
// connection.
func (d *Dispatcher) Dispatch(ctx context.Context, cmdType string, params node) node {
	h, ok := handlers[strings.ToUpper(cmdType)]
	if !ok {
		return failResult(fmt.Sprintf("unknown command %q", cmdType))
	}
	return h(ctx, d, params)
}

func handleListDir(ctx context.Context, d *Dispatcher, params node) node {
	path := params.strOr("path", fsal.RootDirPath)
	ok, entries, err := d.Query.ListDir(ctx, path)
	if err != nil {
		return failResult(err.Error())
	}
	if !ok {
		return failResult(fmt.Sprintf("%q is not a known directory", path))
	}
	return okResult(wrap("params", entriesNodes(entries)...))
}

func handleListDescendants(ctx context.Context, d *Dispatcher, params node) node {
	path := params.strOr("path", fsal.RootDirPath)
	filter := descendantsFilter(params)

	if params.boolOr("count", false) {
		ok, n, err := d.Query.CountDescendants(ctx, path, filter)
		if err != nil {
			return failResult(err.Error())
		}
		if !ok {
			return failResult(fmt.Sprintf("%q is not a known directory", path))
		}
		return okResult(intElem("count", n))
	}

	ok, entries, err := d.Query.ListDescendants(ctx, path, filter)
	if err != nil {
		return failResult(err.Error())
	}
	if !ok {
		return failResult(fmt.Sprintf("%q is not a known directory", path))
	}
	return okResult(wrap("params", entriesNodes(entries)...))
}

func descendantsFilter(params node) catalog.DescendantsFilter {
	var filter catalog.DescendantsFilter
	filter.Offset = params.intOr("offset", 0)
	filter.Limit = params.intOr("limit", 0)
	filter.SpanDays = params.intOr("span", 0)
	filter.IgnoredPaths = params.list("ignored_paths")
	if order, ok := params.str("order"); ok && order != "" {
		col, desc := order, false
		if strings.HasPrefix(col, "-") {
			desc, col = true, col[1:]
		}
		filter.Order = &catalog.Order{Column: col, Desc: desc}
	}
	if et, ok := params.str("entry_type"); ok {
		switch et {
		case "dir":
			t := fsal.DirType
			filter.EntryType = &t
		case "file":
			t := fsal.FileType
			filter.EntryType = &t
		}
	}
	return filter
}

func handleListBasePaths(ctx context.Context, d *Dispatcher, params node) node {
	return okResult(wrap("params", listElem("base_paths", "path", d.Query.ListBasePaths())))
}

func handleExists(ctx context.Context, d *Dispatcher, params node) node {
	path := params.strOr("path", fsal.RootDirPath)
	unindexed := params.boolOr("unindexed", false)
	ok, err := d.Query.Exists(ctx, path, unindexed)
	if err != nil {
		return failResult(err.Error())
	}
	return okResult(wrap("params", boolElem("exists", ok)))
}

func handleIsDir(ctx context.Context, d *Dispatcher, params node) node {
	path := params.strOr("path", fsal.RootDirPath)
	ok, err := d.Query.IsDir(ctx, path)
	if err != nil {
		return failResult(err.Error())
	}
	return okResult(wrap("params", boolElem("isdir", ok)))
}

func handleIsFile(ctx context.Context, d *Dispatcher, params node) node {
	path := params.strOr("path", fsal.RootDirPath)
	ok, err := d.Query.IsFile(ctx, path)
	if err != nil {
		return failResult(err.Error())
	}
	return okResult(wrap("params", boolElem("isfile", ok)))
}

func handleRemove(ctx context.Context, d *Dispatcher, params node) node {
	path, _ := params.str("path")
	ok, msg, err := d.Mutation.Remove(ctx, path)
	if err != nil {
		return failResult(err.Error())
	}
	if !ok {
		return failResult(msg)
	}
	return okResult()
}

func handleSearch(ctx context.Context, d *Dispatcher, params node) node {
	q, _ := params.str("query")
	wholeWords := params.boolOr("whole_words", false)
	exclude := params.list("excludes")
	isMatch, entries, err := d.Query.Search(ctx, q, wholeWords, exclude)
	if err != nil {
		return failResult(err.Error())
	}
	return okResult(
		boolElem("is-match", isMatch),
		wrap("params", entriesNodes(entries)...),
	)
}

func handleFilter(ctx context.Context, d *Dispatcher, params node) node {
	paths := params.list("paths")
	entries, err := d.Query.Filter(ctx, paths)
	if err != nil {
		return failResult(err.Error())
	}
	return okResult(wrap("params", entriesNodes(entries)...))
}

func handleGetFSO(ctx context.Context, d *Dispatcher, params node) node {
	path := params.strOr("path", fsal.RootDirPath)
	fso, err := d.Query.GetFSO(ctx, path)
	if err != nil {
		return failResult(err.Error())
	}
	if fso == nil {
		return failResult(fmt.Sprintf("no such file or directory %q", path))
	}
	return okResult(wrap("params", entryNode(fso)))
}

func handleTransfer(ctx context.Context, d *Dispatcher, params node) node {
	src, _ := params.str("src")
	dest, _ := params.str("dest")
	ok, msg := d.Mutation.Transfer(ctx, src, dest)
	if !ok {
		return failResult(msg)
	}
	return okResult()
}

func handleConsolidate(ctx context.Context, d *Dispatcher, params node) node {
	sources := params.list("sources")
	dest, _ := params.str("dest")
	success, partial, msg := d.Mutation.Consolidate(ctx, sources, dest, nil)
	return wrap("result",
		boolElem("success", success),
		boolElem("is_partial", partial),
		elem("error", msg),
	)
}

func handleGetChanges(ctx context.Context, d *Dispatcher, params node) node {
	limit := params.intOr("limit", 0)
	evs := d.Events.Peek(limit)
	return okResult(eventsNode(evs))
}

func handleConfirmChanges(ctx context.Context, d *Dispatcher, params node) node {
	limit := params.intOr("limit", 0)
	d.Events.Remove(limit)
	return okResult()
}

func handleRefresh(ctx context.Context, d *Dispatcher, params node) node {
	d.Scheduler.Submit(func() {
		if err := d.Indexer.Refresh(context.Background()); err != nil {
			log.Printf("protocol: scheduled refresh failed: %v", err)
		}
	})
	return okResult()
}

func handleRefreshPath(ctx context.Context, d *Dispatcher, params node) node {
	path := params.strOr("path", fsal.RootDirPath)
	ok, normalized := pathrules.ValidateInternal(d.Indexer.BasePaths, path)
	if !ok {
		return failResult(fmt.Sprintf("No such file or directory %q", path))
	}

	isDir, err := d.Query.IsDir(ctx, normalized)
	if err != nil {
		return failResult(err.Error())
	}

	d.Scheduler.Submit(func() {
		bg := context.Background()
		if isDir {
			for _, base := range d.Indexer.BasePaths {
				if err := d.Indexer.Prune(bg, normalized, base); err != nil {
					log.Printf("protocol: scheduled prune for %s under %s failed: %v", normalized, base, err)
				}
			}
		}
		if err := d.Indexer.Update(bg, normalized, nil); err != nil {
			log.Printf("protocol: scheduled update for %s failed: %v", normalized, err)
		}
	})
	return okResult()
}

func handleSetWhitelist(ctx context.Context, d *Dispatcher, params node) node {
	paths := params.list("paths")
	if d.Whitelist != nil {
		d.Whitelist.Set(paths)
	}
	return okResult()
}

func handleGetPathSize(ctx context.Context, d *Dispatcher, params node) node {
	path := params.strOr("path", fsal.RootDirPath)
	fso, err := d.Query.GetFSO(ctx, path)
	if err != nil {
		return failResult(err.Error())
	}
	if fso == nil || !fso.IsDir() {
		return wrap("result", boolElem("success", false))
	}
	abs := filepath.Join(fso.BasePath, filepath.FromSlash(fso.Path))
	ok, size := d.Query.GetPathSize(abs)
	return wrap("result", boolElem("success", ok), elem("size", strconv.FormatInt(size, 10)))
}
