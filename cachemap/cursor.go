package cachemap

import "github.com/shelfdb/shelfdb/shelf"

// cursor walks a snapshot of keys taken at Jump/JumpBegin time, in slot
// order 0..15 and LRU oldest-to-newest within each slot. Like the hash
// engine, this engine has no defined key order, so Jump only succeeds on
// an exact match and JumpEnd is not implemented. A key removed after the
// snapshot was taken is simply skipped over by Accept (which tolerates a
// now-absent key via VisitEmpty); a key added after the snapshot is not
// visited. This is documented as a known limitation, the same tradeoff
// hashfile's cursor makes - see DESIGN.md.
type cursor struct {
	db     *DB
	keys   []string
	pos    int // -1 when unpositioned
	closed bool
}

// Cursor implements [shelf.DB.Cursor].
func (db *DB) Cursor() (shelf.Cursor, error) {
	return &cursor{db: db, pos: -1}, nil
}

func (c *cursor) checkOpen() error {
	if c.closed {
		return shelf.WrapOp("cursor", ErrInvalid)
	}

	return nil
}

func (db *DB) snapshotKeys() []string {
	db.locks.RLockAll()
	defer db.locks.RUnlockAll()

	var keys []string

	for _, s := range db.slots {
		s.entries.EachOldestFirst(func(ks string, _ *record) {
			keys = append(keys, ks)
		})
	}

	return keys
}

func (c *cursor) Jump(key []byte) error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	keys := c.db.snapshotKeys()
	ks := string(key)

	for i, k := range keys {
		if k == ks {
			c.keys = keys
			c.pos = i

			return nil
		}
	}

	c.pos = -1

	return shelf.WrapKey("cursor.jump", key, ErrNoRec)
}

func (c *cursor) JumpBegin() error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	keys := c.db.snapshotKeys()
	if len(keys) == 0 {
		c.pos = -1

		return shelf.WrapOp("cursor.jump_begin", ErrNoRec)
	}

	c.keys = keys
	c.pos = 0

	return nil
}

// JumpEnd returns [ErrNoImpl]: this engine has no defined key order.
func (c *cursor) JumpEnd() error {
	return shelf.WrapOp("cursor.jump_end", ErrNoImpl)
}

func (c *cursor) Accept(v shelf.Visitor, writable, step bool) error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	if c.pos < 0 || c.pos >= len(c.keys) {
		return shelf.WrapOp("cursor.accept", ErrInvalid)
	}

	key := []byte(c.keys[c.pos])

	if err := c.db.Accept(key, v, writable); err != nil {
		return err
	}

	if step {
		c.pos++

		if c.pos >= len(c.keys) {
			c.pos = -1
		}
	}

	return nil
}

func (c *cursor) Key() ([]byte, error) {
	if c.pos < 0 || c.pos >= len(c.keys) {
		return nil, shelf.WrapOp("cursor.key", ErrInvalid)
	}

	return []byte(c.keys[c.pos]), nil
}

func (c *cursor) Value() ([]byte, error) {
	key, err := c.Key()
	if err != nil {
		return nil, err
	}

	return shelf.Get(c.db, key)
}

func (c *cursor) Close() error {
	c.closed = true

	return nil
}
