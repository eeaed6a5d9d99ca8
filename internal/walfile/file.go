package walfile

import "fmt"

// Size returns the data file's current logical size.
func (w *WAL) Size() (int64, error) {
	info, err := w.data.Stat()
	if err != nil {
		return 0, fmt.Errorf("walfile: stat: %w", err)
	}

	return info.Size(), nil
}

// Append writes p at the current end of the data file and returns the
// offset it was written at.
func (w *WAL) Append(p []byte) (int64, error) {
	off, err := w.Size()
	if err != nil {
		return 0, err
	}

	if _, err := w.WriteAt(p, off); err != nil {
		return 0, err
	}

	return off, nil
}

// Truncate is also exposed as Resize for callers that find that name
// clearer when growing (rather than shrinking) the file, e.g. reserving
// space for a new bucket array.
func (w *WAL) Resize(size int64) error { return w.Truncate(size) }

// Sync flushes the data file to durable storage, independent of any open
// transaction's hard-sync setting.
func (w *WAL) Sync() error {
	if err := w.data.Sync(); err != nil {
		return fmt.Errorf("walfile: sync: %w", err)
	}

	return nil
}

// Close releases the underlying data file handle. Callers must not hold an
// open transaction when calling Close.
func (w *WAL) Close() error {
	if w.Active() {
		return fmt.Errorf("walfile: close called with transaction open")
	}

	return w.data.Close()
}
