package hashfile

import (
	"fmt"

	"github.com/shelfdb/shelfdb/shelf"
)

// cursor iterates the record region in physical order. The hash engine
// has no defined key order, so Jump only succeeds on an exact match and
// JumpEnd is not implemented, per spec section 4's Cursor contract.
type cursor struct {
	db     *DB
	offset int64 // -1 when not positioned
	key    []byte
	closed bool
}

// Cursor implements [shelf.DB.Cursor].
func (db *DB) Cursor() (shelf.Cursor, error) {
	return &cursor{db: db, offset: -1}, nil
}

func (c *cursor) checkOpen() error {
	if c.closed {
		return shelf.WrapOp("cursor", ErrInvalid)
	}

	return nil
}

func (c *cursor) Jump(key []byte) error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	c.db.mu.RLock()
	defer c.db.mu.RUnlock()

	found, offset, _, _, err := c.db.find(key)
	if err != nil {
		return shelf.WrapKey("cursor.jump", key, err)
	}

	if !found {
		c.offset = -1

		return shelf.WrapKey("cursor.jump", key, ErrNoRec)
	}

	c.offset = offset
	c.key = append([]byte(nil), key...)

	return nil
}

func (c *cursor) JumpBegin() error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	c.db.mu.RLock()
	defer c.db.mu.RUnlock()

	offset := c.db.recordRegionStart()

	for offset < int64(c.db.hdr.fileSize) {
		magic, blockSize, err := c.db.peekBlock(offset)
		if err != nil {
			return shelf.WrapOp("cursor.jump_begin", err)
		}

		if magic == recordMagicLive {
			_, key, _, err := c.db.readRecord(offset, false)
			if err != nil {
				return shelf.WrapOp("cursor.jump_begin", err)
			}

			c.offset = offset
			c.key = key

			return nil
		}

		offset += int64(blockSize) * c.db.align()
	}

	c.offset = -1

	return shelf.WrapOp("cursor.jump_begin", ErrNoRec)
}

// JumpEnd returns [ErrNoImpl]: the hash engine has no defined key order,
// so "last" is meaningless.
func (c *cursor) JumpEnd() error {
	return shelf.WrapOp("cursor.jump_end", ErrNoImpl)
}

func (c *cursor) Accept(v shelf.Visitor, writable, step bool) error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	if c.offset < 0 {
		return shelf.WrapOp("cursor.accept", ErrInvalid)
	}

	key := append([]byte(nil), c.key...)

	if err := c.db.Accept(key, v, writable); err != nil {
		return err
	}

	if step {
		return c.advance()
	}

	return nil
}

// advance scans forward from the cursor's last known offset for the next
// live record. Because a replace that outgrows its block relocates the
// record via delete+reinsert, a record mutated through this very cursor
// call may be revisited or skipped if its new location falls on the wrong
// side of the scan pointer; bounding that requires a stable record
// identity independent of physical offset, which this engine does not
// have. See DESIGN.md.
func (c *cursor) advance() error {
	c.db.mu.RLock()
	defer c.db.mu.RUnlock()

	_, curBlockSize, err := c.db.peekBlock(c.offset)
	if err != nil {
		return shelf.WrapOp("cursor.advance", err)
	}

	offset := c.offset + int64(curBlockSize)*c.db.align()

	for offset < int64(c.db.hdr.fileSize) {
		magic, blockSize, err := c.db.peekBlock(offset)
		if err != nil {
			return shelf.WrapOp("cursor.advance", err)
		}

		blockBytes := int64(blockSize) * c.db.align()
		if blockBytes == 0 {
			return shelf.WrapOp("cursor.advance", fmt.Errorf("%w: zero-size block at %d", ErrBroken, offset))
		}

		if magic == recordMagicLive {
			_, key, _, err := c.db.readRecord(offset, false)
			if err != nil {
				return shelf.WrapOp("cursor.advance", err)
			}

			c.offset = offset
			c.key = key

			return nil
		}

		offset += blockBytes
	}

	c.offset = -1
	c.key = nil

	return nil
}

func (c *cursor) Key() ([]byte, error) {
	if c.offset < 0 {
		return nil, shelf.WrapOp("cursor.key", ErrInvalid)
	}

	return append([]byte(nil), c.key...), nil
}

func (c *cursor) Value() ([]byte, error) {
	if c.offset < 0 {
		return nil, shelf.WrapOp("cursor.value", ErrInvalid)
	}

	return shelf.Get(c.db, c.key)
}

func (c *cursor) Close() error {
	c.closed = true

	return nil
}
