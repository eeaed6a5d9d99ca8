package cachemap

import (
	"github.com/shelfdb/shelfdb/shelf"
)

// Accept implements [shelf.DB.Accept]. It hashes key to a slot, locks that
// slot only (not the whole database), walks the slot's hash table for an
// exact key match, and dispatches the visitor. A matched record is always
// promoted to the LRU tail (most recently used) even on a read, per spec
// section 4.4 "every existing-record touch moves the record to the tail
// of the LRU".
func (db *DB) Accept(key []byte, v shelf.Visitor, writable bool) error {
	idx := slotIndex(db.locks, key)
	ks := string(key)

	// A read promotes the record it finds, which reorders the slot's LRU
	// chain, so reads take the slot's write lock as well.
	db.locks.LockStripe(idx)
	defer db.locks.UnlockStripe(idx)

	s := db.slots[idx]

	rec, found := s.entries.Get(ks)

	var (
		decision shelf.Decision
		plain    []byte
		err      error
	)

	if found {
		plain, err = db.codec.Decode(nil, rec.value)
		if err != nil {
			return shelf.WrapKey("accept", key, err)
		}

		s.entries.MoveToFront(ks)
		decision = v.VisitFull(key, plain)
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

		db.logUndo(idx, ks, true, rec)
		db.removeLocked(s, ks, rec)

		return nil

	case shelf.ActionReplace:
		if !writable {
			return shelf.WrapKey("accept", key, ErrNoPerm)
		}

		db.logUndo(idx, ks, found, rec)
		db.putLocked(idx, s, ks, key, decision.Value, true)

		return nil

	default:
		return shelf.WrapKey("accept", key, ErrInvalid)
	}
}

// putLocked encodes value, installs or overwrites ks, and enforces this
// slot's count/byte caps by evicting LRU heads. The caller holds the
// slot's write stripe. promote is false only when called from Iterate,
// which must not reorder the LRU chain it is walking.
func (db *DB) putLocked(idx int, s *slot, ks string, key, value []byte, promote bool) {
	encoded := db.codec.Encode(nil, value)

	if old, ok := s.entries.Get(ks); ok {
		s.size += int64(len(value) - old.rawLen)
	} else {
		s.count++
		s.size += int64(len(key) + len(value))
	}

	s.entries.Put(ks, &record{value: encoded, rawLen: len(value)})

	if promote {
		s.entries.MoveToFront(ks)
	}

	if !s.largeHint && s.count >= largeSlotThreshold {
		s.largeHint = true
		s.entries.Grow(largeSlotThreshold * 2)
	}

	db.evictLocked(s)
}

func (db *DB) removeLocked(s *slot, ks string, old *record) {
	s.entries.Delete(ks)
	s.count--
	s.size -= int64(len(ks) + old.rawLen)
}

// evictLocked drops LRU heads (oldest entries) until the slot satisfies
// its count and byte caps, per spec section 4.4 "Capacity enforcement".
func (db *DB) evictLocked(s *slot) {
	for (db.capCountPerSlot >= 0 && s.count > db.capCountPerSlot) ||
		(db.capSizePerSlot >= 0 && s.size > db.capSizePerSlot) {
		ks, old, ok := s.entries.PopOldest()
		if !ok {
			return
		}

		s.count--
		s.size -= int64(len(ks) + old.rawLen)
	}
}

// Iterate implements [shelf.DB.Iterate]: locks every slot (read or write
// barrier per writable) and visits each slot's entries in LRU
// head-to-tail (oldest-to-newest) order, with no LRU promotion, per spec
// section 4.4 "Iteration".
func (db *DB) Iterate(v shelf.Visitor, writable bool) error {
	if writable {
		db.locks.LockAll()
		defer db.locks.UnlockAll()
	} else {
		db.locks.RLockAll()
		defer db.locks.RUnlockAll()
	}

	for idx, s := range db.slots {
		var toRemove []string

		var toReplace []keyValue

		var iterErr error

		// Each*First walks the linked list through its own node pointers;
		// mutating the map (Put/Delete/MoveToFront) mid-walk would corrupt
		// that traversal, so mutations are collected here and applied only
		// after the walk over this slot finishes.
		s.entries.EachOldestFirst(func(ks string, rec *record) {
			if iterErr != nil {
				return
			}

			plain, err := db.codec.Decode(nil, rec.value)
			if err != nil {
				iterErr = err

				return
			}

			decision := v.VisitFull([]byte(ks), plain)

			switch decision.Action {
			case shelf.ActionKeep:
				// no-op
			case shelf.ActionRemove:
				if !writable {
					iterErr = ErrNoPerm

					return
				}

				toRemove = append(toRemove, ks)
			case shelf.ActionReplace:
				if !writable {
					iterErr = ErrNoPerm

					return
				}

				toReplace = append(toReplace, keyValue{key: ks, value: decision.Value})
			}
		})

		if iterErr != nil {
			return shelf.WrapOp("iterate", iterErr)
		}

		for _, ks := range toRemove {
			old, _ := s.entries.Get(ks)
			db.logUndo(idx, ks, true, old)
			db.removeLocked(s, ks, old)
		}

		for _, kv := range toReplace {
			old, existed := s.entries.Get(kv.key)
			db.logUndo(idx, kv.key, existed, old)
			db.putLocked(idx, s, kv.key, []byte(kv.key), kv.value, false)
		}
	}

	return nil
}

type keyValue struct {
	key   string
	value []byte
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
