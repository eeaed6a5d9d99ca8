package btree

import "github.com/shelfdb/shelfdb/shelf"

// cursor walks leaves in key order, remembering the last leaf visited and
// the current key. Per spec section 4.3 "Cursors", a structural change
// (split or merge) since the last step is detected by reloading the
// remembered leaf and re-searching from the root if the key no longer
// belongs there, rather than failing the cursor outright.
type cursor struct {
	db     *DB
	leafID uint64
	idx    int
	key    []byte
	valid  bool
	closed bool
}

// Cursor implements [shelf.DB.Cursor].
func (db *DB) Cursor() (shelf.Cursor, error) {
	return &cursor{db: db}, nil
}

func (c *cursor) requireOpen() error {
	if c.closed {
		return shelf.WrapOp("cursor", ErrInvalid)
	}

	return nil
}

// Jump positions the cursor at key, or at the smallest key greater than
// key if key is absent, per the tree engine's ordered Jump contract.
func (c *cursor) Jump(key []byte) error {
	if err := c.requireOpen(); err != nil {
		return err
	}

	c.db.mu.RLock()
	defer c.db.mu.RUnlock()

	_, leafID, err := c.db.descendWithPath(key, false)
	if err != nil {
		return err
	}

	if leafID == 0 {
		c.valid = false

		return shelf.WrapKey("jump", key, ErrNoRec)
	}

	n, err := c.db.loadLeaf(leafID)
	if err != nil {
		return err
	}

	idx, _ := leafLowerBound(n.entries, key, c.db.cmp)

	for idx >= len(n.entries) {
		if n.next == 0 {
			c.valid = false

			return shelf.WrapKey("jump", key, ErrNoRec)
		}

		n, err = c.db.loadLeaf(n.next)
		if err != nil {
			return err
		}

		idx = 0
	}

	c.leafID = n.id
	c.idx = idx
	c.key = append([]byte(nil), n.entries[idx].key...)
	c.valid = true

	return nil
}

// JumpBegin positions the cursor at the first key in the tree.
func (c *cursor) JumpBegin() error {
	if err := c.requireOpen(); err != nil {
		return err
	}

	c.db.mu.RLock()
	defer c.db.mu.RUnlock()

	id := c.db.m.firstLeaf

	for id != 0 {
		n, err := c.db.loadLeaf(id)
		if err != nil {
			return err
		}

		if len(n.entries) > 0 {
			c.leafID = n.id
			c.idx = 0
			c.key = append([]byte(nil), n.entries[0].key...)
			c.valid = true

			return nil
		}

		id = n.next
	}

	c.valid = false

	return ErrNoRec
}

// JumpEnd positions the cursor at the last key in the tree.
func (c *cursor) JumpEnd() error {
	if err := c.requireOpen(); err != nil {
		return err
	}

	c.db.mu.RLock()
	defer c.db.mu.RUnlock()

	id := c.db.m.lastLeaf

	for id != 0 {
		n, err := c.db.loadLeaf(id)
		if err != nil {
			return err
		}

		if len(n.entries) > 0 {
			c.leafID = n.id
			c.idx = len(n.entries) - 1
			c.key = append([]byte(nil), n.entries[len(n.entries)-1].key...)
			c.valid = true

			return nil
		}

		id = n.prev
	}

	c.valid = false

	return ErrNoRec
}

// relocate re-derives the cursor's (leafID, idx) from its remembered key,
// tolerating splits/merges that moved the key to a different leaf since
// the last step.
func (c *cursor) relocate() (*leafNode, int, error) {
	n, err := c.db.loadLeaf(c.leafID)
	if err != nil || !keyCouldBeIn(n, c.key, c.db.cmp) {
		_, leafID, derr := c.db.descendWithPath(c.key, false)
		if derr != nil {
			return nil, 0, derr
		}

		n, err = c.db.loadLeaf(leafID)
		if err != nil {
			return nil, 0, err
		}
	}

	idx, found := leafLowerBound(n.entries, c.key, c.db.cmp)
	if !found {
		return n, idx, nil
	}

	return n, idx, nil
}

func keyCouldBeIn(n *leafNode, key []byte, cmp Comparator) bool {
	if len(n.entries) == 0 {
		return true
	}

	return cmp.Compare(key, n.entries[0].key) >= 0 &&
		(n.next == 0 || cmp.Compare(key, n.entries[len(n.entries)-1].key) <= 0)
}

// Accept implements [shelf.Cursor.Accept].
func (c *cursor) Accept(v shelf.Visitor, writable bool, step bool) error {
	if err := c.requireOpen(); err != nil {
		return err
	}

	if !c.valid {
		return shelf.WrapOp("cursor accept", ErrInvalid)
	}

	if writable {
		c.db.mu.Lock()
		defer c.db.mu.Unlock()
	} else {
		c.db.mu.RLock()
		defer c.db.mu.RUnlock()
	}

	n, idx, err := c.relocate()
	if err != nil {
		return err
	}

	var decision shelf.Decision

	found := idx < len(n.entries) && c.db.cmp.Compare(n.entries[idx].key, c.key) == 0

	if found {
		decision = v.VisitFull(n.entries[idx].key, n.entries[idx].value)
	} else {
		decision = v.VisitEmpty(c.key)
	}

	var nextKey []byte
	if step {
		nextKey = c.computeNextKey(n, idx, found)
	}

	if writable {
		switch decision.Action {
		case shelf.ActionRemove:
			if found {
				path, leafID, derr := c.db.descendWithPath(c.key, true)
				if derr != nil {
					return derr
				}

				if err := c.db.mutateLeaf(path, leafID, c.key, true, nil, nil); err != nil {
					return err
				}
			}
		case shelf.ActionReplace:
			path, leafID, derr := c.db.descendWithPath(c.key, true)
			if derr != nil {
				return derr
			}

			if err := c.db.mutateLeaf(path, leafID, c.key, false, decision.Value, nil); err != nil {
				return err
			}
		}
	}

	if step {
		if nextKey == nil {
			c.valid = false
		} else {
			c.key = nextKey
		}
	}

	return nil
}

// computeNextKey finds the key immediately following (n, idx) in leaf
// order, walking into the next leaf if needed. Returns nil at end of
// iteration.
func (c *cursor) computeNextKey(n *leafNode, idx int, found bool) []byte {
	next := idx
	if found {
		next++
	}

	for {
		if next < len(n.entries) {
			return append([]byte(nil), n.entries[next].key...)
		}

		if n.next == 0 {
			return nil
		}

		loaded, err := c.db.loadLeaf(n.next)
		if err != nil {
			return nil
		}

		n = loaded
		next = 0
	}
}

func (c *cursor) Key() ([]byte, error) {
	if !c.valid {
		return nil, ErrInvalid
	}

	return append([]byte(nil), c.key...), nil
}

func (c *cursor) Value() ([]byte, error) {
	if !c.valid {
		return nil, ErrInvalid
	}

	return shelf.Get(c.db, c.key)
}

func (c *cursor) Close() error {
	c.closed = true

	return nil
}
