package cachemap

import "github.com/shelfdb/shelfdb/shelf"

// undoEntry is one logged pre-image: the state of slot idx's key before a
// mutation. hadValue false means the key was absent (a tombstone in spec
// section 4.4's terms): undoing restores absence by deleting it again.
type undoEntry struct {
	slotIdx  int
	key      string
	hadValue bool
	old      *record
}

// BeginTransaction implements [shelf.DB.BeginTransaction]. hard has no
// effect for this engine - there is no device to flush - but is accepted
// for interface symmetry with the durable engines.
func (db *DB) BeginTransaction(hard bool) error {
	db.txMu.Lock()
	defer db.txMu.Unlock()

	if db.txOpen {
		return shelf.WrapOp("begin_transaction", ErrLogic)
	}

	db.txOpen = true
	db.txHard = hard
	db.txLog = db.txLog[:0]

	return nil
}

// EndTransaction implements [shelf.DB.EndTransaction]. On commit the log
// is simply dropped; on abort each entry is replayed in reverse order,
// restoring the logged pre-image (or tombstone) per spec section 4.4
// "Transactions".
func (db *DB) EndTransaction(commit bool) error {
	db.txMu.Lock()

	if !db.txOpen {
		db.txMu.Unlock()

		return shelf.WrapOp("end_transaction", ErrLogic)
	}

	log := db.txLog
	db.txLog = nil
	db.txOpen = false

	db.txMu.Unlock()

	if commit {
		return nil
	}

	db.locks.LockAll()
	defer db.locks.UnlockAll()

	for i := len(log) - 1; i >= 0; i-- {
		e := log[i]
		s := db.slots[e.slotIdx]

		if cur, ok := s.entries.Get(e.key); ok {
			s.count--
			s.size -= int64(len(e.key) + cur.rawLen)
			s.entries.Delete(e.key)
		}

		if e.hadValue {
			s.entries.Put(e.key, e.old)
			s.count++
			s.size += int64(len(e.key) + e.old.rawLen)
		}
	}

	return nil
}

// logUndo appends a pre-image entry if a transaction is open. Called with
// the affected slot's stripe already held by the caller.
func (db *DB) logUndo(slotIdx int, key string, hadValue bool, old *record) {
	db.txMu.Lock()
	defer db.txMu.Unlock()

	if !db.txOpen {
		return
	}

	db.txLog = append(db.txLog, undoEntry{slotIdx: slotIdx, key: key, hadValue: hadValue, old: old})
}
