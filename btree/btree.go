package btree

import (
	"errors"
	"sync"

	"github.com/shelfdb/shelfdb/hashfile"
	"github.com/shelfdb/shelfdb/internal/vfs"
	"github.com/shelfdb/shelfdb/shelf"
)

const (
	defaultPageSize     = 4096
	defaultPageCacheCap = 4096
	minInnerLinks       = 8
)

// Options configures [Open].
type Options struct {
	// PageSize bounds a node's serialized size (psiz) before it is split.
	PageSize uint32
	// Comparator orders keys; defaults to Lexical. On reopen, a comparator
	// that is set is checked against the persisted tag (ErrLogic on a
	// mismatch), and one is required again for a tree created with Custom.
	Comparator Comparator
	// PageCacheCap is the total hot+warm page budget across all 16
	// stripes; defaults to 4096.
	PageCacheCap int
	// Hash configures the underlying hashfile.DB storing node records.
	Hash hashfile.Options
}

func (o Options) withDefaults() Options {
	if o.PageSize == 0 {
		o.PageSize = defaultPageSize
	}

	if o.Comparator == nil {
		o.Comparator = Lexical{}
	}

	if o.PageCacheCap == 0 {
		o.PageCacheCap = defaultPageCacheCap
	}

	return o
}

// DB is the B+ tree engine, implementing [shelf.DB] on top of a
// [hashfile.DB] that stores every node as one record.
type DB struct {
	mu    sync.RWMutex
	hash  *hashfile.DB
	cache *pageCache
	cmp   Comparator
	flags shelf.OpenFlags

	m meta
}

var _ shelf.DB = (*DB)(nil)

// Open opens (or creates, with OCREATE) a tree file at path. The file is
// itself a hash file; Open reads or initializes the "@" meta record to
// recover root/leaf-chain/comparator state.
func Open(fsys vfs.FS, path string, flags shelf.OpenFlags, opts Options) (*DB, error) {
	requested := opts.Comparator
	opts = opts.withDefaults()

	hdb, err := hashfile.Open(fsys, path, flags, opts.Hash)
	if err != nil {
		return nil, err
	}

	db := &DB{
		hash:  hdb,
		cache: newPageCache(opts.PageCacheCap),
		flags: flags,
	}

	raw, err := hdb.Get([]byte(metaKey))
	if err != nil {
		if errors.Is(err, shelf.ErrNoRec) {
			if !flags.Has(shelf.OWriter) {
				_ = hdb.Close()

				return nil, shelf.WrapOp("open", ErrNoPerm)
			}

			db.m = meta{
				pageSize:   opts.PageSize,
				comparator: opts.Comparator.tag(),
				nextLeafID: 1,
			}
			db.cmp = opts.Comparator

			if err := db.flushMeta(); err != nil {
				_ = hdb.Close()

				return nil, err
			}

			return db, nil
		}

		_ = hdb.Close()

		return nil, shelf.WrapOp("open", err)
	}

	m, err := decodeMeta(raw)
	if err != nil {
		_ = hdb.Close()

		return nil, shelf.WrapOp("open", err)
	}

	if requested != nil && requested.tag() != m.comparator {
		_ = hdb.Close()

		return nil, shelf.WrapOp("open", ErrLogic)
	}

	cmp, err := comparatorFromTag(m.comparator, opts.Comparator)
	if err != nil {
		_ = hdb.Close()

		return nil, shelf.WrapOp("open", err)
	}

	db.m = *m
	db.cmp = cmp

	return db, nil
}

func (db *DB) flushMeta() error {
	return db.hash.Set([]byte(metaKey), db.m.encode())
}

// Close implements [shelf.DB.Close]: flushes the meta record and closes
// the underlying hash file.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.flags.Has(shelf.OWriter) {
		if err := db.flushMeta(); err != nil {
			return err
		}
	}

	return db.hash.Close()
}

// Count implements [shelf.DB.Count].
func (db *DB) Count() (int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return int64(db.m.recordCount), nil
}

// Size implements [shelf.DB.Size]: delegates to the underlying hash file.
func (db *DB) Size() (int64, error) { return db.hash.Size() }

// BeginTransaction implements [shelf.DB.BeginTransaction], delegating to
// the underlying hash file's WAL.
func (db *DB) BeginTransaction(hard bool) error { return db.hash.BeginTransaction(hard) }

// EndTransaction implements [shelf.DB.EndTransaction]. On commit, the
// meta record is flushed first so the committed transaction includes the
// tree's latest root/leaf-chain state.
func (db *DB) EndTransaction(commit bool) error {
	if commit {
		if err := db.flushMeta(); err != nil {
			return err
		}
	}

	return db.hash.EndTransaction(commit)
}

func (db *DB) loadLeaf(id uint64) (*leafNode, error) {
	if p, ok := db.cache.get(id); ok && p.leaf != nil {
		return p.leaf, nil
	}

	raw, err := db.hash.Get(leafKey(id))
	if err != nil {
		return nil, err
	}

	n, err := decodeLeafNode(id, raw)
	if err != nil {
		return nil, err
	}

	db.cache.loadInto(id, &cachedPage{leaf: n})

	return n, nil
}

func (db *DB) loadInner(id uint64) (*innerNode, error) {
	if p, ok := db.cache.get(id); ok && p.inner != nil {
		return p.inner, nil
	}

	raw, err := db.hash.Get(innerKey(id))
	if err != nil {
		return nil, err
	}

	n, err := decodeInnerNode(id, raw)
	if err != nil {
		return nil, err
	}

	db.cache.loadInto(id, &cachedPage{inner: n})

	return n, nil
}

func (db *DB) saveLeaf(n *leafNode) error {
	db.cache.put(n.id, &cachedPage{leaf: n})

	return db.hash.Set(leafKey(n.id), n.encode())
}

func (db *DB) saveInner(n *innerNode) error {
	db.cache.put(n.id, &cachedPage{inner: n})

	return db.hash.Set(innerKey(n.id), n.encode())
}

func (db *DB) deleteLeaf(id uint64) error {
	db.cache.invalidate(id)

	return db.hash.Remove(leafKey(id))
}

func (db *DB) deleteInner(id uint64) error {
	db.cache.invalidate(id)

	return db.hash.Remove(innerKey(id))
}

func (db *DB) newLeafID() uint64 {
	id := db.m.nextLeafID
	db.m.nextLeafID++

	return id
}

func (db *DB) newInnerID() uint64 {
	id := db.m.nextInnerID + innerIDOffset
	db.m.nextInnerID++

	return id
}

// descendWithPath descends from the root, choosing at each inner level
// the heir or the child of the largest link <= target, per spec section
// 4.3 "Search". It returns the chain of inner IDs visited (root-first,
// not including the leaf) alongside the target leaf's ID.
//
// If the tree is still empty, the only leaf that could ever exist has not
// been written yet: when writable is true this materializes it (the
// tree's first insert allocates its own anchor leaf); when writable is
// false - a pure lookup - it returns leafID 0 instead, so a read-only
// caller never performs a write or touches a database opened without
// [shelf.OWriter].
func (db *DB) descendWithPath(target []byte, writable bool) (path []uint64, leafID uint64, err error) {
	if db.m.root == 0 {
		if !writable {
			return nil, 0, nil
		}

		id := db.newLeafID()
		if err := db.saveLeaf(&leafNode{id: id}); err != nil {
			return nil, 0, err
		}

		db.m.root = id
		db.m.firstLeaf = id
		db.m.lastLeaf = id
		db.m.leafCount = 1

		return nil, id, nil
	}

	cur := db.m.root

	for !isLeafID(cur) {
		inner, err := db.loadInner(cur)
		if err != nil {
			return nil, 0, err
		}

		path = append(path, cur)
		cur = inner.childFor(target, db.cmp)
	}

	return path, cur, nil
}
