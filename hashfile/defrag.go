package hashfile

import (
	"fmt"

	"github.com/shelfdb/shelfdb/shelf"
)

// Defrag performs at most step unit moves - each copying the live record
// immediately following a free block back over that free block - or
// processes the whole file if step <= 0. It may be called during normal
// operation; it takes the same whole-database write lock as a writable
// Iterate.
//
// Free-free neighbor coalescing (mentioned in spec section 4.2) is not
// implemented: a free block followed by another free block is left as two
// entries and picked up again on the next Defrag pass. This trades a
// slightly slower convergence to a fully compacted file for a much
// simpler pointer-relinking implementation.
func (db *DB) Defrag(step int) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if !db.flags.Has(shelf.OWriter) {
		return shelf.WrapOp("defrag", ErrNoPerm)
	}

	moved := 0
	offset := db.recordRegionStart()

	for offset < int64(db.hdr.fileSize) {
		if step > 0 && moved >= step {
			break
		}

		magic, blockSize, err := db.peekBlock(offset)
		if err != nil {
			return shelf.WrapOp("defrag", err)
		}

		blockBytes := int64(blockSize) * db.align()

		if magic != recordMagicFree {
			offset += blockBytes

			continue
		}

		nextOffset := offset + blockBytes
		if nextOffset >= int64(db.hdr.fileSize) {
			break
		}

		nextMagic, nextBlockSize, err := db.peekBlock(nextOffset)
		if err != nil {
			return shelf.WrapOp("defrag", err)
		}

		if nextMagic != recordMagicLive {
			offset += blockBytes

			continue
		}

		nextBlockBytes := int64(nextBlockSize) * db.align()

		if nextBlockBytes != blockBytes {
			// The free block and the record that follows it are different
			// sizes: moving the record down would either overwrite part of
			// a live record (free block smaller) or leave a gap behind
			// that looks live (free block larger). Leave this pair alone
			// and move past just the free block; the record is picked up
			// as an ordinary live block on the next iteration.
			offset += blockBytes

			continue
		}

		if err := db.moveRecordInto(offset, nextOffset); err != nil {
			return shelf.WrapOp("defrag", err)
		}

		moved++

		offset += nextBlockBytes
	}

	return db.rebuildFreePool()
}

// moveRecordInto relocates the live record at srcOffset down to
// dstOffset (a free block immediately preceding it of the same size),
// fixing the owning bucket tree's pointer to it and marking the vacated
// space free.
func (db *DB) moveRecordInto(dstOffset, srcOffset int64) error {
	rh, key, rawValue, err := db.readRecord(srcOffset, true)
	if err != nil {
		return err
	}

	blockBytes := int64(rh.blockSize) * db.align()

	if err := db.writeRecordBlock(dstOffset, blockBytes, rh.left, rh.right, rh.foldHash, key, rawValue); err != nil {
		return err
	}

	bucketIdx, fold := db.bucketAndFold(key)

	oldAlign := db.alignUnits(srcOffset)
	newAlign := db.alignUnits(dstOffset)

	if err := db.relinkPointer(bucketIdx, fold, key, oldAlign, newAlign); err != nil {
		return err
	}

	return db.markFree(srcOffset, blockBytes)
}

// relinkPointer finds whichever bucket root or node child field currently
// points at oldAlign and rewrites it to newAlign, navigating the same
// fold-hash-then-key ordering used by insert and delete.
func (db *DB) relinkPointer(bucketIdx uint64, fold uint32, key []byte, oldAlign, newAlign uint32) error {
	root, err := db.readBucket(bucketIdx)
	if err != nil {
		return err
	}

	if root == oldAlign {
		return db.writeBucket(bucketIdx, newAlign)
	}

	cur := root

	for cur != 0 {
		off := db.byteOffset(cur)

		rh, recKey, _, err := db.readRecord(off, false)
		if err != nil {
			return err
		}

		cmp := compareFoldKey(fold, key, rh.foldHash, recKey)

		if cmp < 0 {
			if rh.left == oldAlign {
				return db.setChildField(off, true, newAlign)
			}

			cur = rh.left
		} else {
			if rh.right == oldAlign {
				return db.setChildField(off, false, newAlign)
			}

			cur = rh.right
		}
	}

	return shelf.WrapOp("defrag", fmt.Errorf("%w: pointer to relocated block not found", ErrBroken))
}
