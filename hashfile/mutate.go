package hashfile

import "fmt"

func (db *DB) allocate(rawLen int64) (offset int64, blockBytes int64, reused bool) {
	blockBytes = alignUp(rawLen, db.hdr.apow)

	if off, ok := db.pool.Take(blockBytes); ok {
		return off, blockBytes, true
	}

	offset = int64(db.hdr.fileSize)
	db.hdr.fileSize += uint64(blockBytes)

	return offset, blockBytes, false
}

func (db *DB) writeRecordBlock(offset int64, blockBytes int64, left, right, fold uint32, key, value []byte) error {
	blockAlign := db.alignUnits(blockBytes)

	rawHeader := encodeRecordHeader(blockAlign, left, right, fold, uint64(len(key)), uint64(len(value)))

	buf := make([]byte, blockBytes)
	n := copy(buf, rawHeader)
	n += copy(buf[n:], key)
	copy(buf[n:], value)

	if _, err := db.wal.WriteAt(buf, offset); err != nil {
		return fmt.Errorf("%w: writing record block at %d: %v", ErrSystem, offset, err)
	}

	return nil
}

// insertNew allocates a block and installs key/value as a fresh leaf of the
// bucket's binary search tree (or as the bucket root if the bucket is
// empty). It does not check for an existing key - callers must already
// know the key is absent.
func (db *DB) insertNew(bucketIdx uint64, fold uint32, key, value []byte) error {
	encoded := db.codec.Encode(nil, value)
	if db.hdr.options&optCompress == 0 {
		encoded = value
	}

	rawLen := int64(recordFixedSize) + int64(sizeVarint(uint64(len(key)))) + int64(sizeVarint(uint64(len(encoded)))) + int64(len(key)) + int64(len(encoded))

	offset, blockBytes, _ := db.allocate(rawLen)

	if err := db.writeRecordBlock(offset, blockBytes, 0, 0, fold, key, encoded); err != nil {
		return err
	}

	newAlign := db.alignUnits(offset)

	root, err := db.readBucket(bucketIdx)
	if err != nil {
		return err
	}

	if root == 0 {
		if err := db.writeBucket(bucketIdx, newAlign); err != nil {
			return err
		}

		db.hdr.recordNum++

		return nil
	}

	cur := root

	for {
		off := db.byteOffset(cur)

		rh, recKey, _, err := db.readRecord(off, false)
		if err != nil {
			return err
		}

		cmp := compareFoldKey(fold, key, rh.foldHash, recKey)

		if cmp < 0 {
			if rh.left == 0 {
				if err := db.setChildField(off, true, newAlign); err != nil {
					return err
				}

				break
			}

			cur = rh.left
		} else {
			if rh.right == 0 {
				if err := db.setChildField(off, false, newAlign); err != nil {
					return err
				}

				break
			}

			cur = rh.right
		}
	}

	db.hdr.recordNum++

	return nil
}

// updateInPlace overwrites the record at offset with value if it fits
// within the existing block; fits is false if the caller must fall back
// to delete+reinsert.
func (db *DB) updateInPlace(offset int64, rh *recordHeader, key, value []byte) (fits bool, err error) {
	encoded := value
	if db.hdr.options&optCompress != 0 {
		encoded = db.codec.Encode(nil, value)
	}

	rawLen := int64(recordFixedSize) + int64(sizeVarint(uint64(len(key)))) + int64(sizeVarint(uint64(len(encoded)))) + int64(len(key)) + int64(len(encoded))
	blockBytes := int64(rh.blockSize) * db.align()

	if rawLen > blockBytes {
		return false, nil
	}

	if err := db.writeRecordBlock(offset, blockBytes, rh.left, rh.right, rh.foldHash, key, encoded); err != nil {
		return false, err
	}

	return true, nil
}

func (db *DB) markFree(offset int64, blockBytes int64) error {
	buf := make([]byte, 5)
	buf[0] = recordMagicFree
	copy(buf[1:5], beBytes32(db.alignUnits(blockBytes)))

	if _, err := db.wal.WriteAt(buf, offset); err != nil {
		return fmt.Errorf("%w: marking free block at %d: %v", ErrSystem, offset, err)
	}

	db.pool.Add(offset, blockBytes)

	return nil
}

// bstDelete removes the record matching (fold, key) from the subtree
// rooted at root (align units), returning the subtree's new root. It is a
// textbook BST delete: zero or one child splices directly; two children
// are handled by promoting the in-order successor into the deleted node's
// position without moving either node's payload.
func (db *DB) bstDelete(root uint32, fold uint32, key []byte) (uint32, error) {
	if root == 0 {
		return 0, fmt.Errorf("%w: key not found during delete", ErrBroken)
	}

	offset := db.byteOffset(root)

	rh, recKey, _, err := db.readRecord(offset, false)
	if err != nil {
		return 0, err
	}

	cmp := compareFoldKey(fold, key, rh.foldHash, recKey)

	switch {
	case cmp < 0:
		newLeft, err := db.bstDelete(rh.left, fold, key)
		if err != nil {
			return 0, err
		}

		if err := db.setChildField(offset, true, newLeft); err != nil {
			return 0, err
		}

		return root, nil

	case cmp > 0:
		newRight, err := db.bstDelete(rh.right, fold, key)
		if err != nil {
			return 0, err
		}

		if err := db.setChildField(offset, false, newRight); err != nil {
			return 0, err
		}

		return root, nil

	default:
		blockBytes := int64(rh.blockSize) * db.align()

		if rh.left == 0 {
			if err := db.markFree(offset, blockBytes); err != nil {
				return 0, err
			}

			return rh.right, nil
		}

		if rh.right == 0 {
			if err := db.markFree(offset, blockBytes); err != nil {
				return 0, err
			}

			return rh.left, nil
		}

		succOffset, newRightSubtree, err := db.popMinOffset(rh.right)
		if err != nil {
			return 0, err
		}

		succByteOffset := db.byteOffset(succOffset)

		if err := db.setChildField(succByteOffset, true, rh.left); err != nil {
			return 0, err
		}

		if err := db.setChildField(succByteOffset, false, newRightSubtree); err != nil {
			return 0, err
		}

		if err := db.markFree(offset, blockBytes); err != nil {
			return 0, err
		}

		return succOffset, nil
	}
}

// popMinOffset detaches and returns the leftmost (minimum) node of the
// subtree rooted at root, along with the subtree's new root after removal.
func (db *DB) popMinOffset(root uint32) (minOffset uint32, newSubtreeRoot uint32, err error) {
	offset := db.byteOffset(root)

	rh, _, _, err := db.readRecord(offset, false)
	if err != nil {
		return 0, 0, err
	}

	if rh.left == 0 {
		return root, rh.right, nil
	}

	minOffset, newLeft, err := db.popMinOffset(rh.left)
	if err != nil {
		return 0, 0, err
	}

	if err := db.setChildField(offset, true, newLeft); err != nil {
		return 0, 0, err
	}

	return minOffset, root, nil
}

func (db *DB) deleteKey(bucketIdx uint64, fold uint32, key []byte) error {
	root, err := db.readBucket(bucketIdx)
	if err != nil {
		return err
	}

	newRoot, err := db.bstDelete(root, fold, key)
	if err != nil {
		return err
	}

	if err := db.writeBucket(bucketIdx, newRoot); err != nil {
		return err
	}

	db.hdr.recordNum--

	return nil
}
