package hashfile

import (
	"fmt"

	"github.com/shelfdb/shelfdb/shelf"
)

// Close implements [shelf.DB.Close]: it aborts any still-open transaction,
// writes the end-of-file marker and final header, releases the file lock,
// and closes the underlying descriptor.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil
	}

	if db.wal.Active() {
		if err := db.wal.End(false); err != nil {
			return shelf.WrapOp("close", fmt.Errorf("%w: aborting open transaction: %v", ErrSystem, err))
		}
	}

	if db.flags.Has(shelf.OWriter) {
		if _, err := db.wal.WriteAt(eofMarker[:], int64(db.hdr.fileSize)); err != nil {
			return shelf.WrapOp("close", fmt.Errorf("%w: writing eof marker: %v", ErrSystem, err))
		}

		if err := db.flushHeader(); err != nil {
			return shelf.WrapOp("close", err)
		}

		if err := db.wal.Sync(); err != nil {
			return shelf.WrapOp("close", fmt.Errorf("%w: final sync: %v", ErrSystem, err))
		}
	}

	db.closed = true

	if db.locked {
		_ = db.locker.Unlock(db.file)
	}

	return db.wal.Close()
}
