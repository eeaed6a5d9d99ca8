package shelf

// DB is the uniform contract implemented by every concrete engine
// (hashfile.DB, btree.DB, cachemap.DB).
//
// Two Accept calls on the same key are linearizable: their visitors run in
// some total order. Two Accept calls on different keys may run in
// parallel. Iterate observes a snapshot consistent with some serial point
// after all prior writes completed.
type DB interface {
	// Accept invokes v on the current state of key, exactly once, under a
	// per-key (or, for Iterate, whole-database) exclusion guarantee.
	// writable must be true for any call whose visitor may return
	// ActionReplace or ActionRemove.
	Accept(key []byte, v Visitor, writable bool) error

	// Iterate invokes v for every live record, under a whole-database
	// barrier (write barrier if writable, read barrier otherwise).
	Iterate(v Visitor, writable bool) error

	// Get, Set, Add, Append, Increment, IncrementDouble, CompareAndSwap,
	// and Remove are all expressed in terms of Accept by the visitors in
	// visitors.go; no engine reimplements this logic.
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Add(key, value []byte) error
	Append(key, suffix []byte) error
	Increment(key []byte, delta int64) (int64, error)
	IncrementDouble(key []byte, delta float64) (float64, error)
	CompareAndSwap(key, old, new []byte) error
	Remove(key []byte) error

	// Count returns the number of live records; Size returns on-disk bytes
	// (or in-process memory usage, for the cache engine).
	Count() (int64, error)
	Size() (int64, error)

	// BeginTransaction/EndTransaction bracket a sequence of mutations that
	// either all become durable (commit=true) or are all rolled back
	// (commit=false). At most one transaction may be open at a time.
	BeginTransaction(hard bool) error
	EndTransaction(commit bool) error

	// Cursor returns a new iteration handle. Cursors must be closed.
	Cursor() (Cursor, error)

	// Close flushes caches, commits or aborts any open transaction, and
	// releases the file lock. Every opened DB must be closed exactly once.
	Close() error
}

// Cursor is an iteration handle over records. Writers may invalidate and
// reposition a cursor; engines reposition cursors on structural change
// rather than failing them outright where the spec requires it (tree
// engine split/merge).
type Cursor interface {
	// Jump positions the cursor at key. On the tree engine, if key does not
	// exist the cursor lands on the smallest key greater than key. On the
	// hash and cache engines (unordered), Jump fails with ErrNoRec if key
	// does not exist.
	Jump(key []byte) error
	// JumpBegin positions the cursor at the first key in iteration order.
	JumpBegin() error
	// JumpEnd positions the cursor at the last key in iteration order.
	// Returns ErrNoImpl on engines without a defined order (hash, cache).
	JumpEnd() error

	// Accept behaves like DB.Accept on the cursor's current key. If step is
	// true, the cursor advances to the next key in iteration order
	// afterwards (or is invalidated, at end of iteration).
	Accept(v Visitor, writable bool, step bool) error

	Key() ([]byte, error)
	Value() ([]byte, error)

	Close() error
}
