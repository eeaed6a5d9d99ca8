package hashfile

import (
	"fmt"

	"github.com/shelfdb/shelfdb/shelf"
)

// BeginTransaction implements [shelf.DB.BeginTransaction]. The whole file,
// including the header, is guarded (guard offset 0) so an abort restores
// record counts and free-space bookkeeping along with record bytes.
func (db *DB) BeginTransaction(hard bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if !db.flags.Has(shelf.OWriter) {
		return shelf.WrapOp("begin_transaction", ErrNoPerm)
	}

	if db.wal.Active() {
		return shelf.WrapOp("begin_transaction", ErrLogic)
	}

	if err := db.flushHeader(); err != nil {
		return shelf.WrapOp("begin_transaction", err)
	}

	if err := db.wal.Begin(hard, 0); err != nil {
		return shelf.WrapOp("begin_transaction", fmt.Errorf("%w: %v", ErrSystem, err))
	}

	db.txnHeaderSnapshot = *db.hdr

	return nil
}

// EndTransaction implements [shelf.DB.EndTransaction]. On abort, in-memory
// header/pool state is reset to what it was at BeginTransaction in
// addition to the WAL restoring on-disk bytes, since the free pool is
// never itself persisted.
func (db *DB) EndTransaction(commit bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if !db.wal.Active() {
		return shelf.WrapOp("end_transaction", ErrLogic)
	}

	if commit {
		if err := db.flushHeader(); err != nil {
			return shelf.WrapOp("end_transaction", err)
		}
	}

	if err := db.wal.End(commit); err != nil {
		return shelf.WrapOp("end_transaction", fmt.Errorf("%w: %v", ErrSystem, err))
	}

	if !commit {
		*db.hdr = db.txnHeaderSnapshot

		if err := db.rebuildFreePool(); err != nil {
			return shelf.WrapOp("end_transaction", err)
		}
	}

	return nil
}
