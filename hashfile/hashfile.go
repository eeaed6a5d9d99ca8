// Package hashfile implements the durable on-disk hash engine: a bucket
// array of per-bucket binary search trees over records chained by fold
// hash then key, a free-block pool for reuse, write-ahead-log-backed
// transactions, and a full-rescan recovery path for unclean shutdowns.
//
// Grounded on pkg/slotcache (header validation/open branching shape) and
// internal/store's rebuild/reindex (full-rescan repair pattern) in the
// teacher repository.
package hashfile

import (
	"bytes"
	"fmt"
	"hash/fnv"
	"os"
	"sync"

	"github.com/shelfdb/shelfdb/internal/codec"
	"github.com/shelfdb/shelfdb/internal/lockutil"
	"github.com/shelfdb/shelfdb/internal/varint"
	"github.com/shelfdb/shelfdb/internal/vfs"
	"github.com/shelfdb/shelfdb/internal/walfile"
	"github.com/shelfdb/shelfdb/shelf"
)

const (
	defaultBucketCount   = 1 << 16
	defaultAlignPower    = 4
	defaultFreePoolPower = 12
)

// Options configures a newly created hash file. Apart from OnEvent, which
// applies on every open, Options are ignored when reopening an existing
// file; its header is authoritative.
type Options struct {
	BucketCount   uint64
	AlignPower    uint8
	FreePoolPower uint8
	Codec         codec.Codec
	// OnEvent, if non-nil, is called for recovery and auto-repair events -
	// the rare, structurally significant occurrences worth surfacing to an
	// embedding application's own logger. Left nil, these events are
	// silent. Never called on the hot path.
	OnEvent func(event string, fields map[string]any)
}

// fireEvent calls OnEvent if the caller configured one; a no-op otherwise.
func (db *DB) fireEvent(event string, fields map[string]any) {
	if db.onEvent != nil {
		db.onEvent(event, fields)
	}
}

func (o Options) withDefaults() Options {
	if o.BucketCount == 0 {
		o.BucketCount = defaultBucketCount
	}

	if o.AlignPower == 0 {
		o.AlignPower = defaultAlignPower
	}

	if o.FreePoolPower == 0 {
		o.FreePoolPower = defaultFreePoolPower
	}

	if o.Codec == nil {
		o.Codec = codec.None{}
	}

	return o
}

// DB is a durable hash engine database. It implements [shelf.DB].
type DB struct {
	mu sync.RWMutex

	fs     vfs.FS
	path   string
	flags  shelf.OpenFlags
	file   vfs.File
	wal    *walfile.WAL
	locker lockutil.FileLocker
	locked bool

	hdr   *header
	pool  *freePool
	codec codec.Codec

	onEvent func(event string, fields map[string]any)

	txnHeaderSnapshot header

	recovered   bool
	reorganized bool
	closed      bool
}

var _ shelf.DB = (*DB)(nil)

// Open opens or creates a hash file at path according to flags. opts is
// only consulted when creating a new file, except for opts.OnEvent, which
// is used on every open.
func Open(fsys vfs.FS, path string, flags shelf.OpenFlags, opts Options) (*DB, error) {
	opts = opts.withDefaults()

	osFlag := os.O_RDONLY
	if flags.Has(shelf.OWriter) {
		osFlag = os.O_RDWR
	}

	if flags.Has(shelf.OCreate) {
		osFlag |= os.O_CREATE
	}

	f, err := fsys.OpenFile(path, osFlag, 0o644)
	if err != nil {
		return nil, shelf.WrapOp("open", fmt.Errorf("%w: %v", ErrNoFile, err))
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()

		return nil, shelf.WrapOp("open", fmt.Errorf("%w: %v", ErrSystem, err))
	}

	db := &DB{fs: fsys, path: path, flags: flags, codec: opts.Codec, onEvent: opts.OnEvent}

	if info.Size() == 0 {
		if !flags.Has(shelf.OCreate) {
			f.Close()

			return nil, shelf.WrapOp("open", ErrNoFile)
		}

		db.hdr = freshHeader(opts)

		if flags.Has(shelf.OTruncate) {
			// nothing to truncate on a brand new file
		}

		if err := db.writeFreshLayout(f); err != nil {
			f.Close()

			return nil, shelf.WrapOp("open", err)
		}
	} else {
		hdrBuf := make([]byte, headerSize)
		if _, err := f.ReadAt(hdrBuf, 0); err != nil {
			f.Close()

			return nil, shelf.WrapOp("open", fmt.Errorf("%w: %v", ErrBroken, err))
		}

		hdr, err := decodeHeader(hdrBuf)
		if err != nil {
			f.Close()

			return nil, shelf.WrapOp("open", err)
		}

		db.hdr = hdr
		db.codec = codecFromOptionsByte(hdr.options)
	}

	wal, recovered, err := walfile.Open(fsys, path, f)
	if err != nil {
		f.Close()

		return nil, shelf.WrapOp("open", fmt.Errorf("%w: %v", ErrSystem, err))
	}

	db.file = f
	db.wal = wal
	db.recovered = recovered

	if recovered {
		db.fireEvent("wal_recovered", map[string]any{"path": path})
	}

	if !flags.Has(shelf.ONoLock) {
		lockFn := db.locker.Lock
		if flags.Has(shelf.OTryLock) {
			lockFn = db.locker.TryLock
		}

		if err := lockFn(f); err != nil {
			wal.Close()

			return nil, shelf.WrapOp("open", fmt.Errorf("%w: %v", ErrBusy, err))
		}

		db.locked = true
	}

	db.pool = newFreePool(db.hdr.fpow)

	clean, err := db.hasCleanEOFMarker()
	if err != nil {
		db.Close()

		return nil, shelf.WrapOp("open", err)
	}

	// A WAL replay has already restored the file to a transaction
	// boundary, so the repair scan only runs when no WAL was found.
	if clean || recovered {
		if err := db.rebuildFreePool(); err != nil {
			db.Close()

			return nil, shelf.WrapOp("open", err)
		}
	} else if flags.Has(shelf.ONoRepair) {
		db.Close()

		return nil, shelf.WrapOp("open", fmt.Errorf("%w: unclean shutdown, repair disabled", ErrBroken))
	} else {
		if err := db.repairScan(); err != nil {
			db.Close()

			return nil, shelf.WrapOp("open", err)
		}

		db.reorganized = true
		db.fireEvent("repaired", map[string]any{"path": path, "records": db.hdr.recordNum})
	}

	return db, nil
}

func freshHeader(opts Options) *header {
	options := uint8(optSmall)
	if _, ok := opts.Codec.(codec.None); !ok {
		options |= optCompress
	}

	h := &header{
		apow:      opts.AlignPower,
		fpow:      opts.FreePoolPower,
		options:   options,
		status:    statusOpen,
		bucketNum: opts.BucketCount,
	}

	name := opts.Codec.Name()
	copy(h.userSlot[:], name)

	h.fileSize = uint64(headerSize) + opts.BucketCount*offsetWidth

	return h
}

func codecFromOptionsByte(options uint8) codec.Codec {
	if options&optCompress == 0 {
		return codec.None{}
	}

	return codec.Snappy{}
}

func (db *DB) writeFreshLayout(f vfs.File) error {
	if _, err := f.WriteAt(db.hdr.encode(), 0); err != nil {
		return fmt.Errorf("%w: writing header: %v", ErrSystem, err)
	}

	buckets := make([]byte, db.hdr.bucketNum*offsetWidth)
	if _, err := f.WriteAt(buckets, headerSize); err != nil {
		return fmt.Errorf("%w: writing bucket array: %v", ErrSystem, err)
	}

	return f.Sync()
}

func (db *DB) recordRegionStart() int64 {
	return int64(headerSize) + int64(db.hdr.bucketNum)*offsetWidth
}

func (db *DB) align() int64 { return int64(1) << db.hdr.apow }

func (db *DB) byteOffset(alignUnits uint32) int64 { return int64(alignUnits) * db.align() }

func (db *DB) alignUnits(byteOffset int64) uint32 { return uint32(byteOffset / db.align()) }

func (db *DB) hasCleanEOFMarker() (bool, error) {
	if db.hdr.fileSize < uint64(db.recordRegionStart()) {
		return false, nil
	}

	marker := make([]byte, 4)

	_, err := db.wal.ReadAt(marker, int64(db.hdr.fileSize))
	if err != nil {
		return false, nil
	}

	return bytes.Equal(marker, eofMarker[:]), nil
}

func hash64(key []byte) uint64 {
	h := fnv.New64a()
	h.Write(key)

	return h.Sum64()
}

func (db *DB) bucketAndFold(key []byte) (uint64, uint32) {
	h := hash64(key)

	return h % db.hdr.bucketNum, uint32(h >> 32)
}

func compareFoldKey(fold1 uint32, key1 []byte, fold2 uint32, key2 []byte) int {
	if fold1 != fold2 {
		if fold1 < fold2 {
			return -1
		}

		return 1
	}

	return bytes.Compare(key1, key2)
}

func (db *DB) readBucket(idx uint64) (uint32, error) {
	buf := make([]byte, offsetWidth)
	if _, err := db.wal.ReadAt(buf, int64(headerSize)+int64(idx)*offsetWidth); err != nil {
		return 0, fmt.Errorf("%w: reading bucket %d: %v", ErrSystem, idx, err)
	}

	return beUint32(buf), nil
}

func (db *DB) writeBucket(idx uint64, value uint32) error {
	buf := beBytes32(value)
	if _, err := db.wal.WriteAt(buf, int64(headerSize)+int64(idx)*offsetWidth); err != nil {
		return fmt.Errorf("%w: writing bucket %d: %v", ErrSystem, idx, err)
	}

	return nil
}

const recordProbeSize = 64

// readRecord reads the record at offset. If needValue is false, the value
// bytes are not read (the caller only needs the key for tree navigation).
func (db *DB) readRecord(offset int64, needValue bool) (*recordHeader, []byte, []byte, error) {
	available := int64(db.hdr.fileSize) - offset
	if available <= 0 {
		return nil, nil, nil, fmt.Errorf("%w: record offset %d past end of file", ErrBroken, offset)
	}

	probeLen := int64(recordProbeSize)
	if probeLen > available {
		probeLen = available
	}

	probe := make([]byte, probeLen)
	if _, err := db.wal.ReadAt(probe, offset); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: reading record at %d: %v", ErrSystem, offset, err)
	}

	rh, err := decodeRecordHeader(probe)
	if err != nil {
		return nil, nil, nil, err
	}

	need := int64(rh.headerLen) + int64(rh.ksiz)
	if needValue {
		need += int64(rh.vsiz)
	}

	var full []byte

	if need <= probeLen {
		full = probe[:need]
	} else {
		full = make([]byte, need)
		copy(full, probe)

		if _, err := db.wal.ReadAt(full[probeLen:], offset+probeLen); err != nil {
			return nil, nil, nil, fmt.Errorf("%w: reading record body at %d: %v", ErrSystem, offset, err)
		}
	}

	key := append([]byte(nil), full[rh.headerLen:rh.headerLen+int(rh.ksiz)]...)

	var value []byte

	if needValue {
		value = append([]byte(nil), full[rh.headerLen+int(rh.ksiz):rh.headerLen+int(rh.ksiz)+int(rh.vsiz)]...)
	}

	return rh, key, value, nil
}

func (db *DB) peekBlock(offset int64) (magic byte, blockSize uint32, err error) {
	buf := make([]byte, 5)
	if _, err := db.wal.ReadAt(buf, offset); err != nil {
		return 0, 0, fmt.Errorf("%w: peeking block at %d: %v", ErrSystem, offset, err)
	}

	return buf[0], beUint32(buf[1:5]), nil
}

func (db *DB) setChildField(offset int64, left bool, child uint32) error {
	fieldOffset := offset + 5
	if !left {
		fieldOffset = offset + 9
	}

	if _, err := db.wal.WriteAt(beBytes32(child), fieldOffset); err != nil {
		return fmt.Errorf("%w: updating child pointer at %d: %v", ErrSystem, fieldOffset, err)
	}

	return nil
}

func (db *DB) decodeValue(raw []byte) ([]byte, error) {
	if db.hdr.options&optCompress == 0 {
		return raw, nil
	}

	return db.codec.Decode(nil, raw)
}

// find returns the full decoded record for key, or found=false.
func (db *DB) find(key []byte) (found bool, offset int64, rh *recordHeader, value []byte, err error) {
	bucketIdx, fold := db.bucketAndFold(key)

	root, err := db.readBucket(bucketIdx)
	if err != nil {
		return false, 0, nil, nil, err
	}

	cur := root

	for cur != 0 {
		off := db.byteOffset(cur)

		rh, recKey, rawValue, err := db.readRecord(off, true)
		if err != nil {
			return false, 0, nil, nil, err
		}

		cmp := compareFoldKey(fold, key, rh.foldHash, recKey)

		switch {
		case cmp == 0:
			val, err := db.decodeValue(rawValue)
			if err != nil {
				return false, 0, nil, nil, fmt.Errorf("%w: decoding value: %v", ErrBroken, err)
			}

			return true, off, rh, val, nil
		case cmp < 0:
			cur = rh.left
		default:
			cur = rh.right
		}
	}

	return false, 0, nil, nil, nil
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func beBytes32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func sizeVarint(v uint64) int { return varint.Size(v) }
