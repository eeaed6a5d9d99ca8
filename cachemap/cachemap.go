// Package cachemap implements the purely in-memory cache engine: 16
// independently locked slots, each a hash table whose entries hang off a
// doubly linked LRU chain, with per-slot count/byte caps and a
// transaction undo log. It implements [shelf.DB] without any backing
// file.
package cachemap

import (
	"sync"

	"github.com/shelfdb/shelfdb/internal/codec"
	"github.com/shelfdb/shelfdb/internal/lhmap"
	"github.com/shelfdb/shelfdb/internal/lockutil"
	"github.com/shelfdb/shelfdb/shelf"
)

const slotCount = 16

// largeSlotThreshold is the count above which a slot preallocates its
// backing map instead of growing it incrementally - the in-memory stand-in
// for the hash file's "mmap large buckets" optimization; see DESIGN.md.
const largeSlotThreshold = 32768

// Options configures [Open].
type Options struct {
	// CapCount is the maximum total number of live records across all
	// slots; -1 disables the count cap. Divided evenly across slotCount
	// slots (spec's "per-slot count/byte caps").
	CapCount int64
	// CapSize is the maximum total bytes of key+value data across all
	// slots; -1 disables the size cap.
	CapSize int64
	// Codec compresses stored values; visitors always see plaintext.
	// Defaults to codec.None{}.
	Codec codec.Codec
	// OnEvent mirrors hashfile.Options.OnEvent for API symmetry across
	// engines. The cache engine has no backing file and therefore no
	// recovery or auto-repair path, so it is accepted but never called.
	OnEvent func(event string, fields map[string]any)
}

func (o Options) withDefaults() Options {
	if o.Codec == nil {
		o.Codec = codec.None{}
	}

	if o.CapCount == 0 {
		o.CapCount = -1
	}

	if o.CapSize == 0 {
		o.CapSize = -1
	}

	return o
}

// perSlotCap divides a whole-database cap across slotCount slots,
// preserving -1 (disabled).
func perSlotCap(total int64) int64 {
	if total < 0 {
		return -1
	}

	return total / slotCount
}

// record is one live entry. value is always the codec-encoded (possibly
// compressed) bytes; Accept/Iterate decode on the way out.
type record struct {
	value []byte
	// rawLen is len(value) before compression, counted against CapSize so
	// the byte cap reflects logical size rather than the compressed size.
	rawLen int
}

// DB is the in-memory cache engine. It implements [shelf.DB].
type DB struct {
	locks *lockutil.StripedRW
	slots [slotCount]*slot

	codec codec.Codec

	capCountPerSlot int64
	capSizePerSlot  int64

	txMu    sync.Mutex
	txLog   []undoEntry
	txHard  bool
	txOpen  bool
	closed  bool
	closeMu sync.Mutex
}

var _ shelf.DB = (*DB)(nil)

type slot struct {
	entries   *lhmap.LinkedHashMap[string, *record]
	count     int64
	size      int64
	largeHint bool
}

func newSlot() *slot {
	return &slot{entries: lhmap.New[string, *record]()}
}

// Open returns a ready-to-use, empty cache database. There is no path or
// flags argument: the cache engine has no backing file, so OpenFlags'
// OCREATE/OTRUNCATE/ONOLOCK bits have no referent here; every writer has
// implicit OWRITER permission.
func Open(opts Options) (*DB, error) {
	opts = opts.withDefaults()

	db := &DB{
		locks:           lockutil.NewStripedRW(),
		codec:           opts.Codec,
		capCountPerSlot: perSlotCap(opts.CapCount),
		capSizePerSlot:  perSlotCap(opts.CapSize),
	}

	for i := range db.slots {
		db.slots[i] = newSlot()
	}

	return db, nil
}

func slotIndex(locks *lockutil.StripedRW, key []byte) int {
	return locks.Stripe(key)
}

// Count implements [shelf.DB.Count].
func (db *DB) Count() (int64, error) {
	db.locks.RLockAll()
	defer db.locks.RUnlockAll()

	var total int64
	for _, s := range db.slots {
		total += s.count
	}

	return total, nil
}

// Size implements [shelf.DB.Size]: total logical key+value bytes held in
// memory across every slot.
func (db *DB) Size() (int64, error) {
	db.locks.RLockAll()
	defer db.locks.RUnlockAll()

	var total int64
	for _, s := range db.slots {
		total += s.size
	}

	return total, nil
}

// Close implements [shelf.DB.Close]: aborts any open transaction and
// drops every slot. Safe to call once; a second call is a no-op.
func (db *DB) Close() error {
	db.closeMu.Lock()
	defer db.closeMu.Unlock()

	if db.closed {
		return nil
	}

	if db.txOpen {
		if err := db.EndTransaction(false); err != nil {
			return err
		}
	}

	db.closed = true

	return nil
}
