package hashfile

import "fmt"

// rebuildFreePool performs a linear scan of the record region to find
// blocks tagged free, since the pool itself is purely in-memory and never
// persisted. Bucket-reachable live blocks are left untouched.
func (db *DB) rebuildFreePool() error {
	db.pool.Reset()

	offset := db.recordRegionStart()

	for offset < int64(db.hdr.fileSize) {
		magic, blockSize, err := db.peekBlock(offset)
		if err != nil {
			return err
		}

		blockBytes := int64(blockSize) * db.align()
		if blockBytes == 0 {
			return fmt.Errorf("%w: zero-size block at %d during rescan", ErrBroken, offset)
		}

		if magic == recordMagicFree {
			db.pool.Add(offset, blockBytes)
		}

		offset += blockBytes
	}

	return nil
}

// repairScan rebuilds the entire bucket array and record count from
// scratch by scanning the record region and reinserting every live
// record's key into a freshly zeroed bucket array. This is the recovery
// path for an unclean shutdown with no WAL to replay (ONOREPAIR disables
// it).
func (db *DB) repairScan() error {
	zero := make([]byte, db.hdr.bucketNum*offsetWidth)
	if _, err := db.wal.WriteAt(zero, int64(headerSize)); err != nil {
		return fmt.Errorf("%w: zeroing bucket array for repair: %v", ErrSystem, err)
	}

	db.hdr.recordNum = 0
	db.pool.Reset()

	offset := db.recordRegionStart()

	for offset < int64(db.hdr.fileSize) {
		magic, blockSize, err := db.peekBlock(offset)
		if err != nil {
			return err
		}

		blockBytes := int64(blockSize) * db.align()
		if blockBytes == 0 {
			// A zero-length block means the record region is corrupt past
			// this point; stop the scan here rather than looping forever.
			db.hdr.fileSize = uint64(offset)

			break
		}

		if magic == recordMagicLive {
			_, key, _, err := db.readRecord(offset, false)
			if err != nil {
				return err
			}

			bucketIdx, fold := db.bucketAndFold(key)
			if err := db.relinkIntoFreshTree(bucketIdx, fold, key, db.alignUnits(offset)); err != nil {
				return err
			}

			db.hdr.recordNum++
		} else {
			db.pool.Add(offset, blockBytes)
		}

		offset += blockBytes
	}

	return db.flushHeader()
}

// relinkIntoFreshTree attaches an already-written block (found during
// repair) as a fresh leaf of bucketIdx's tree. It first zeroes the block's
// left/right fields - the repair scan always encounters blocks in
// ascending file-offset order and rebuilds pointers from nothing, so any
// stale left/right values the corrupted file still carries on that block
// are overwritten.
func (db *DB) relinkIntoFreshTree(bucketIdx uint64, fold uint32, key []byte, align uint32) error {
	offset := db.byteOffset(align)

	if err := db.setChildField(offset, true, 0); err != nil {
		return err
	}

	if err := db.setChildField(offset, false, 0); err != nil {
		return err
	}

	root, err := db.readBucket(bucketIdx)
	if err != nil {
		return err
	}

	if root == 0 {
		return db.writeBucket(bucketIdx, align)
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
				return db.setChildField(off, true, align)
			}

			cur = rh.left
		} else {
			if rh.right == 0 {
				return db.setChildField(off, false, align)
			}

			cur = rh.right
		}
	}
}
