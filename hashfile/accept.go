package hashfile

import (
	"fmt"

	"github.com/shelfdb/shelfdb/shelf"
)

// Accept implements [shelf.DB.Accept].
func (db *DB) Accept(key []byte, v shelf.Visitor, writable bool) error {
	if writable && !db.flags.Has(shelf.OWriter) {
		return shelf.WrapKey("accept", key, ErrNoPerm)
	}

	if writable {
		db.mu.Lock()
		defer db.mu.Unlock()
	} else {
		db.mu.RLock()
		defer db.mu.RUnlock()
	}

	if db.closed {
		return shelf.WrapKey("accept", key, ErrInvalid)
	}

	found, offset, rh, value, err := db.find(key)
	if err != nil {
		return shelf.WrapKey("accept", key, err)
	}

	bucketIdx, fold := db.bucketAndFold(key)

	var decision shelf.Decision
	if found {
		decision = v.VisitFull(key, value)
	} else {
		decision = v.VisitEmpty(key)
	}

	switch decision.Action {
	case shelf.ActionKeep:
		return nil

	case shelf.ActionRemove:
		if !found {
			return nil
		}

		if !writable {
			return shelf.WrapKey("accept", key, ErrNoPerm)
		}

		if err := db.deleteKey(bucketIdx, fold, key); err != nil {
			return shelf.WrapKey("accept", key, err)
		}

		return db.maybeAutoSync()

	case shelf.ActionReplace:
		if !writable {
			return shelf.WrapKey("accept", key, ErrNoPerm)
		}

		if !found {
			if err := db.insertNew(bucketIdx, fold, key, decision.Value); err != nil {
				return shelf.WrapKey("accept", key, err)
			}

			return db.maybeAutoSync()
		}

		fits, err := db.updateInPlace(offset, rh, key, decision.Value)
		if err != nil {
			return shelf.WrapKey("accept", key, err)
		}

		if !fits {
			if err := db.deleteKey(bucketIdx, fold, key); err != nil {
				return shelf.WrapKey("accept", key, err)
			}

			if err := db.insertNew(bucketIdx, fold, key, decision.Value); err != nil {
				return shelf.WrapKey("accept", key, err)
			}
		}

		return db.maybeAutoSync()

	default:
		return shelf.WrapKey("accept", key, fmt.Errorf("%w: unknown action", ErrInvalid))
	}
}

// maybeAutoSync flushes the header after a mutation made while no explicit
// transaction is open, and then also hard-syncs the data file when
// OAUTOSYNC is set, per spec section 4.3's auto-transaction note
// generalized to every engine.
func (db *DB) maybeAutoSync() error {
	if db.wal.Active() {
		return nil
	}

	if err := db.flushHeader(); err != nil {
		return err
	}

	if db.flags.Has(shelf.OAutoSync) {
		if err := db.wal.Sync(); err != nil {
			return fmt.Errorf("%w: auto-sync: %v", ErrSystem, err)
		}
	}

	return nil
}

func (db *DB) flushHeader() error {
	if _, err := db.wal.WriteAt(db.hdr.encode(), 0); err != nil {
		return fmt.Errorf("%w: flushing header: %v", ErrSystem, err)
	}

	return nil
}

// Iterate implements [shelf.DB.Iterate], visiting every live record in
// physical record-region order under a whole-database barrier.
func (db *DB) Iterate(v shelf.Visitor, writable bool) error {
	if writable {
		db.mu.Lock()
		defer db.mu.Unlock()
	} else {
		db.mu.RLock()
		defer db.mu.RUnlock()
	}

	if db.closed {
		return shelf.WrapOp("iterate", ErrInvalid)
	}

	offset := db.recordRegionStart()

	for offset < int64(db.hdr.fileSize) {
		magic, blockSize, err := db.peekBlock(offset)
		if err != nil {
			return shelf.WrapOp("iterate", err)
		}

		blockBytes := int64(blockSize) * db.align()

		if magic != recordMagicLive {
			offset += blockBytes

			continue
		}

		rh, key, value, err := db.readRecord(offset, true)
		if err != nil {
			return shelf.WrapOp("iterate", err)
		}

		decoded, err := db.decodeValue(value)
		if err != nil {
			return shelf.WrapOp("iterate", fmt.Errorf("%w: %v", ErrBroken, err))
		}

		decision := v.VisitFull(key, decoded)

		switch decision.Action {
		case shelf.ActionKeep:
			// no-op
		case shelf.ActionRemove:
			if !writable {
				return shelf.WrapOp("iterate", ErrNoPerm)
			}

			bucketIdx, fold := db.bucketAndFold(key)

			if err := db.deleteKey(bucketIdx, fold, key); err != nil {
				return shelf.WrapOp("iterate", err)
			}
		case shelf.ActionReplace:
			if !writable {
				return shelf.WrapOp("iterate", ErrNoPerm)
			}

			if _, err := db.updateInPlace(offset, rh, key, decision.Value); err != nil {
				return shelf.WrapOp("iterate", err)
			}
		}

		offset += blockBytes
	}

	if writable {
		return db.maybeAutoSync()
	}

	return nil
}

// Get, Set, Add, Append, Increment, IncrementDouble, CompareAndSwap, and
// Remove are all derived from Accept via the shared visitors in the shelf
// package; this engine does not reimplement their logic.
func (db *DB) Get(key []byte) ([]byte, error) { return shelf.Get(db, key) }

func (db *DB) Set(key, value []byte) error { return shelf.Set(db, key, value) }

func (db *DB) Add(key, value []byte) error { return shelf.Add(db, key, value) }

func (db *DB) Append(key, suffix []byte) error { return shelf.Append(db, key, suffix) }

func (db *DB) Increment(key []byte, delta int64) (int64, error) {
	return shelf.Increment(db, key, delta)
}

func (db *DB) IncrementDouble(key []byte, delta float64) (float64, error) {
	return shelf.IncrementDouble(db, key, delta)
}

func (db *DB) CompareAndSwap(key, old, new []byte) error {
	return shelf.CompareAndSwap(db, key, old, new)
}

func (db *DB) Remove(key []byte) error { return shelf.Remove(db, key) }

// Count implements [shelf.DB.Count].
func (db *DB) Count() (int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return int64(db.hdr.recordNum), nil
}

// Size implements [shelf.DB.Size].
func (db *DB) Size() (int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return int64(db.hdr.fileSize), nil
}

// Recovered reports whether this Open replayed a write-ahead log left by
// an unclean shutdown.
func (db *DB) Recovered() bool { return db.recovered }

// Reorganized reports whether this Open performed a full record-region
// rescan because the file lacked its end-of-file marker.
func (db *DB) Reorganized() bool { return db.reorganized }
