// Package shelfdb is the thin, polymorphic entry point over the three
// storage engines: it picks an engine by the path's suffix and gets out of
// the way. Callers who already know which engine they want should open
// hashfile.DB/btree.DB/cachemap.DB directly instead; this package carries
// no engine logic of its own.
package shelfdb

import (
	"strings"

	"github.com/shelfdb/shelfdb/btree"
	"github.com/shelfdb/shelfdb/cachemap"
	"github.com/shelfdb/shelfdb/hashfile"
	"github.com/shelfdb/shelfdb/internal/vfs"
	"github.com/shelfdb/shelfdb/shelf"
)

// Options bundles every engine's options; only the fields relevant to the
// dispatched-to engine are consulted.
type Options struct {
	Hash  hashfile.Options
	Tree  btree.Options
	Cache cachemap.Options
	FS    vfs.FS
}

// Open dispatches to an engine by path suffix, per the factory rule this
// library documents but otherwise stays out of: ".kch" opens a hash file,
// ".kct" opens a tree file (itself a hash file underneath), and an empty
// path, ":memory:", or ".kcc" opens the in-memory cache engine.
func Open(path string, flags shelf.OpenFlags, opts Options) (shelf.DB, error) {
	fsys := opts.FS
	if fsys == nil {
		fsys = vfs.NewReal()
	}

	switch {
	case path == "" || path == ":memory:" || strings.HasSuffix(path, ".kcc"):
		return cachemap.Open(opts.Cache)

	case strings.HasSuffix(path, ".kct"):
		return btree.Open(fsys, path, flags, opts.Tree)

	case strings.HasSuffix(path, ".kch"):
		return hashfile.Open(fsys, path, flags, opts.Hash)

	default:
		return nil, shelf.WrapOp("open", shelf.ErrInvalid)
	}
}
