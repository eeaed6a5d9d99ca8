package btree

import "github.com/shelfdb/shelfdb/shelf"

// Accept implements [shelf.DB.Accept]: descends to the leaf that would
// hold key, invokes v, and applies the resulting decision - inserting,
// replacing, or removing the entry and rebalancing the tree as needed.
func (db *DB) Accept(key []byte, v shelf.Visitor, writable bool) error {
	if writable {
		db.mu.Lock()
		defer db.mu.Unlock()
	} else {
		db.mu.RLock()
		defer db.mu.RUnlock()
	}

	path, leafID, err := db.descendWithPath(key, writable)
	if err != nil {
		return shelf.WrapKey("accept", key, err)
	}

	var (
		n     *leafNode
		idx   int
		found bool
	)

	if leafID != 0 {
		n, err = db.loadLeaf(leafID)
		if err != nil {
			return shelf.WrapKey("accept", key, err)
		}

		idx, found = leafLowerBound(n.entries, key, db.cmp)
	}

	var decision shelf.Decision

	if found {
		decision = v.VisitFull(key, n.entries[idx].value)
	} else {
		decision = v.VisitEmpty(key)
	}

	if !writable {
		return nil
	}

	switch decision.Action {
	case shelf.ActionKeep:
		return nil

	case shelf.ActionRemove:
		if !found {
			return nil
		}

		return db.mutateLeaf(path, leafID, key, true, nil, nil)

	case shelf.ActionReplace:
		return db.mutateLeaf(path, leafID, key, false, decision.Value, nil)

	default:
		return shelf.WrapKey("accept", key, ErrLogic)
	}
}

// Iterate implements [shelf.DB.Iterate]: walks every leaf in key order
// front to back, applying v's decisions as it goes.
func (db *DB) Iterate(v shelf.Visitor, writable bool) error {
	if writable {
		db.mu.Lock()
		defer db.mu.Unlock()
	} else {
		db.mu.RLock()
		defer db.mu.RUnlock()
	}

	id := db.m.firstLeaf
	if id == 0 {
		return nil
	}

	for id != 0 {
		n, err := db.loadLeaf(id)
		if err != nil {
			return err
		}

		next := n.next

		type pendingRemove struct{ key []byte }
		type pendingReplace struct {
			key   []byte
			value []byte
		}

		var removes []pendingRemove
		var replaces []pendingReplace

		for _, e := range n.entries {
			decision := v.VisitFull(e.key, e.value)

			if !writable {
				continue
			}

			switch decision.Action {
			case shelf.ActionKeep:
			case shelf.ActionRemove:
				removes = append(removes, pendingRemove{key: append([]byte(nil), e.key...)})
			case shelf.ActionReplace:
				replaces = append(replaces, pendingReplace{
					key:   append([]byte(nil), e.key...),
					value: decision.Value,
				})
			}
		}

		for _, r := range removes {
			path, leafID, err := db.descendWithPath(r.key, true)
			if err != nil {
				return err
			}

			if err := db.mutateLeaf(path, leafID, r.key, true, nil, nil); err != nil {
				return err
			}
		}

		for _, r := range replaces {
			path, leafID, err := db.descendWithPath(r.key, true)
			if err != nil {
				return err
			}

			if err := db.mutateLeaf(path, leafID, r.key, false, r.value, nil); err != nil {
				return err
			}
		}

		id = next
	}

	return nil
}

// Get, Set, Add, Append, Increment, IncrementDouble, CompareAndSwap, and
// Remove are thin wrappers over the Accept-based visitors in [shelf].
func (db *DB) Get(key []byte) ([]byte, error) { return shelf.Get(db, key) }

func (db *DB) Set(key, value []byte) error { return shelf.Set(db, key, value) }

func (db *DB) Add(key, value []byte) error { return shelf.Add(db, key, value) }

func (db *DB) Append(key, value []byte) error { return shelf.Append(db, key, value) }

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
