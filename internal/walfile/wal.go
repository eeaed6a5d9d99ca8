// Package walfile implements the file abstraction every durable engine
// writes through: positioned read/write/append/truncate plus a
// write-ahead log that captures byte-range pre-images so an in-progress
// transaction can be rolled back, or a crash recovered from, without
// understanding anything about the record format living inside the file.
//
// Grounded on pkg/fs.Real/pkg/fs.Crash (the file layer) and pkg/mddb/wal.go
// (the pre-image/replay shape) in the teacher repository.
package walfile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/shelfdb/shelfdb/internal/vfs"
)

// walMagic is the 3-byte signature at the start of every WAL file.
var walMagic = [3]byte{'K', 'W', '\n'}

// preImageMagic tags each pre-image record in the WAL body.
const preImageMagic = 0xEE

// walHeaderSize is len(walMagic) + 8 bytes for the original logical size.
const walHeaderSize = 3 + 8

// WAL is a write-ahead log guarding one data file's in-place mutations. A
// WAL is either closed (no transaction open) or open (a transaction is in
// progress and every write to the guarded range is being pre-image
// logged).
//
// WAL is not safe for concurrent use; the owning engine serializes
// transaction boundaries with its own locking.
type WAL struct {
	fs       vfs.FS
	dataPath string
	walPath  string

	data vfs.File
	log  vfs.File // nil unless a transaction is open

	hard         bool
	guardOffset  int64
	originalSize int64
}

// Open returns a WAL guarding dataPath's companion "<dataPath>.wal" file,
// attached to an already-open data file handle. If a WAL from a previous,
// unclean shutdown exists, it is replayed (in reverse) against data and
// then removed; Open reports recovered=true in that case.
func Open(fs vfs.FS, dataPath string, data vfs.File) (w *WAL, recovered bool, err error) {
	w = &WAL{fs: fs, dataPath: dataPath, walPath: dataPath + ".wal", data: data}

	log, err := fs.Open(w.walPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return w, false, nil
		}

		return nil, false, fmt.Errorf("walfile: opening existing wal: %w", err)
	}
	defer log.Close()

	if err := w.replay(log, true); err != nil {
		return nil, false, fmt.Errorf("walfile: replaying wal on open: %w", err)
	}

	if err := fs.Remove(w.walPath); err != nil {
		return nil, false, fmt.Errorf("walfile: removing wal after replay: %w", err)
	}

	return w, true, nil
}

// Active reports whether a transaction is currently open.
func (w *WAL) Active() bool { return w.log != nil }

// Begin opens a transaction. guardOffset is the lowest byte offset that
// will be logged; writes entirely below it are not pre-image logged, so an
// abort or recovery does not undo them. hard requests a device-level flush at every step.
func (w *WAL) Begin(hard bool, guardOffset int64) error {
	if w.Active() {
		return fmt.Errorf("walfile: transaction already open")
	}

	info, err := w.data.Stat()
	if err != nil {
		return fmt.Errorf("walfile: stat data file: %w", err)
	}

	log, err := w.fs.OpenFile(w.walPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("walfile: creating wal: %w", err)
	}

	header := make([]byte, walHeaderSize)
	copy(header[0:3], walMagic[:])
	binary.BigEndian.PutUint64(header[3:11], uint64(info.Size()))

	if _, err := log.WriteAt(header, 0); err != nil {
		log.Close()

		return fmt.Errorf("walfile: writing wal header: %w", err)
	}

	if hard {
		if err := log.Sync(); err != nil {
			log.Close()

			return fmt.Errorf("walfile: syncing wal header: %w", err)
		}
	}

	w.log = log
	w.hard = hard
	w.guardOffset = guardOffset
	w.originalSize = info.Size()

	return nil
}

// WriteAt writes p to the data file at off, first appending a pre-image
// record for the affected range if it intersects [guardOffset,
// originalSize) and a transaction is open.
func (w *WAL) WriteAt(p []byte, off int64) (int, error) {
	if w.Active() {
		if err := w.logPreImage(off, int64(len(p))); err != nil {
			return 0, err
		}
	}

	n, err := w.data.WriteAt(p, off)
	if err != nil {
		return n, fmt.Errorf("walfile: write: %w", err)
	}

	if w.Active() && w.hard {
		if err := w.data.Sync(); err != nil {
			return n, fmt.Errorf("walfile: hard sync: %w", err)
		}
	}

	return n, nil
}

// ReadAt reads from the data file. WAL state does not affect reads.
func (w *WAL) ReadAt(p []byte, off int64) (int, error) { return w.data.ReadAt(p, off) }

// Truncate resizes the data file. Like WriteAt, it is pre-image logged
// when a transaction covers the shrunk range, by capturing the bytes
// being discarded.
func (w *WAL) Truncate(size int64) error {
	if w.Active() {
		info, err := w.data.Stat()
		if err != nil {
			return fmt.Errorf("walfile: stat before truncate: %w", err)
		}

		if size < info.Size() {
			if err := w.logPreImage(size, info.Size()-size); err != nil {
				return err
			}
		}
	}

	if err := w.data.Truncate(size); err != nil {
		return fmt.Errorf("walfile: truncate: %w", err)
	}

	return nil
}

func (w *WAL) logPreImage(off, size int64) error {
	lo := off
	if lo < w.guardOffset {
		lo = w.guardOffset
	}

	hi := off + size
	if hi > w.originalSize {
		hi = w.originalSize
	}

	if hi <= lo {
		return nil
	}

	preimage := make([]byte, hi-lo)
	if _, err := w.data.ReadAt(preimage, lo); err != nil {
		return fmt.Errorf("walfile: reading pre-image: %w", err)
	}

	record := make([]byte, 0, 17+len(preimage))
	record = append(record, preImageMagic)
	record = binary.BigEndian.AppendUint64(record, uint64(lo))
	record = binary.BigEndian.AppendUint64(record, uint64(len(preimage)))
	record = append(record, preimage...)

	info, err := w.log.Stat()
	if err != nil {
		return fmt.Errorf("walfile: stat wal: %w", err)
	}

	if _, err := w.log.WriteAt(record, info.Size()); err != nil {
		return fmt.Errorf("walfile: appending pre-image: %w", err)
	}

	if w.hard {
		if err := w.log.Sync(); err != nil {
			return fmt.Errorf("walfile: syncing pre-image: %w", err)
		}
	}

	return nil
}

// End closes the transaction. commit=true zeros the WAL header (a no-op
// terminator on reopen) and removes it. commit=false replays every logged
// pre-image in reverse order to restore the data file, then truncates it
// back to the size recorded at Begin.
func (w *WAL) End(commit bool) error {
	if !w.Active() {
		return fmt.Errorf("walfile: no transaction open")
	}

	log := w.log
	w.log = nil

	defer log.Close()

	if commit {
		zero := make([]byte, walHeaderSize)
		if _, err := log.WriteAt(zero, 0); err != nil {
			return fmt.Errorf("walfile: zeroing wal header on commit: %w", err)
		}

		if w.hard {
			if err := log.Sync(); err != nil {
				return fmt.Errorf("walfile: syncing zeroed wal: %w", err)
			}
		}

		return w.fs.Remove(w.walPath)
	}

	if err := w.replay(log, false); err != nil {
		return fmt.Errorf("walfile: replaying on abort: %w", err)
	}

	if err := w.data.Truncate(w.originalSize); err != nil {
		return fmt.Errorf("walfile: restoring original size on abort: %w", err)
	}

	return w.fs.Remove(w.walPath)
}

// replay reads header+records from log and applies every pre-image record
// in reverse order against w.data. If requireRecovery is true, a header
// whose magic does not match is treated as "no recovery needed" rather
// than an error, matching a WAL left over from a cleanly committed
// transaction that failed to be removed.
func (w *WAL) replay(log vfs.File, requireRecovery bool) error {
	info, err := log.Stat()
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}

	if info.Size() < walHeaderSize {
		return nil
	}

	header := make([]byte, walHeaderSize)
	if _, err := log.ReadAt(header, 0); err != nil {
		return fmt.Errorf("reading header: %w", err)
	}

	if !bytes.Equal(header[0:3], walMagic[:]) {
		if requireRecovery {
			return nil
		}

		return fmt.Errorf("bad wal magic")
	}

	originalSize := int64(binary.BigEndian.Uint64(header[3:11]))

	type preimage struct {
		offset int64
		data   []byte
	}

	var records []preimage

	pos := int64(walHeaderSize)

	for pos < info.Size() {
		tag := make([]byte, 1)
		if _, err := log.ReadAt(tag, pos); err != nil {
			return fmt.Errorf("reading record tag at %d: %w", pos, err)
		}

		if tag[0] == 0 {
			break
		}

		if tag[0] != preImageMagic {
			return fmt.Errorf("unexpected wal record tag %#x at %d", tag[0], pos)
		}

		meta := make([]byte, 16)
		if _, err := log.ReadAt(meta, pos+1); err != nil {
			return fmt.Errorf("reading record meta at %d: %w", pos, err)
		}

		off := int64(binary.BigEndian.Uint64(meta[0:8]))
		size := int64(binary.BigEndian.Uint64(meta[8:16]))

		data := make([]byte, size)
		if _, err := log.ReadAt(data, pos+17); err != nil {
			return fmt.Errorf("reading record body at %d: %w", pos, err)
		}

		records = append(records, preimage{offset: off, data: data})
		pos += 17 + size
	}

	for i := len(records) - 1; i >= 0; i-- {
		if _, err := w.data.WriteAt(records[i].data, records[i].offset); err != nil {
			return fmt.Errorf("restoring pre-image at %d: %w", records[i].offset, err)
		}
	}

	if err := w.data.Truncate(originalSize); err != nil {
		return fmt.Errorf("truncating to original size %d: %w", originalSize, err)
	}

	if err := w.data.Sync(); err != nil {
		return fmt.Errorf("syncing recovered data file: %w", err)
	}

	return nil
}
