package btree

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shelfdb/shelfdb/hashfile"
	"github.com/shelfdb/shelfdb/internal/vfs"
	"github.com/shelfdb/shelfdb/shelf"
)

func openFresh(t *testing.T, fs vfs.FS, path string, opts Options) *DB {
	t.Helper()

	db, err := Open(fs, path, shelf.OReader|shelf.OWriter|shelf.OCreate, opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	return db
}

func smallPageOptions() Options {
	return Options{
		PageSize: 256,
		Hash:     hashfile.Options{BucketCount: 64},
	}
}

func TestBasicSetGetCount(t *testing.T) {
	fs := vfs.NewCrash()
	db := openFresh(t, fs, "db", smallPageOptions())
	defer db.Close()

	if err := db.Set([]byte("foo"), []byte("hop")); err != nil {
		t.Fatalf("Set(foo): %v", err)
	}

	if err := db.Set([]byte("bar"), []byte("step")); err != nil {
		t.Fatalf("Set(bar): %v", err)
	}

	got, err := db.Get([]byte("foo"))
	if err != nil {
		t.Fatalf("Get(foo): %v", err)
	}

	if string(got) != "hop" {
		t.Fatalf("Get(foo) = %q, want hop", got)
	}

	count, err := db.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}

	if count != 2 {
		t.Fatalf("Count = %d, want 2", count)
	}
}

func TestAddRemove(t *testing.T) {
	fs := vfs.NewCrash()
	db := openFresh(t, fs, "db", smallPageOptions())
	defer db.Close()

	if err := db.Add([]byte("k"), []byte("v1")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := db.Add([]byte("k"), []byte("v2")); !errors.Is(err, shelf.ErrDupRec) {
		t.Fatalf("Add dup = %v, want ErrDupRec", err)
	}

	if err := db.Remove([]byte("k")); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if err := db.Remove([]byte("k")); !errors.Is(err, shelf.ErrNoRec) {
		t.Fatalf("Remove missing = %v, want ErrNoRec", err)
	}
}

func TestSplitAcrossManyLeaves(t *testing.T) {
	fs := vfs.NewCrash()
	db := openFresh(t, fs, "db", smallPageOptions())
	defer db.Close()

	const n = 500

	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%05d", i)

		if err := db.Set([]byte(key), []byte("value")); err != nil {
			t.Fatalf("Set(%s): %v", key, err)
		}
	}

	if db.m.leafCount < 2 {
		t.Fatalf("leafCount = %d, want > 1 after %d inserts", db.m.leafCount, n)
	}

	count, err := db.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}

	if count != n {
		t.Fatalf("Count = %d, want %d", count, n)
	}

	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%05d", i)

		got, err := db.Get([]byte(key))
		if err != nil {
			t.Fatalf("Get(%s): %v", key, err)
		}

		if string(got) != "value" {
			t.Fatalf("Get(%s) = %q, want value", key, got)
		}
	}
}

func TestIterateVisitsKeysInOrder(t *testing.T) {
	fs := vfs.NewCrash()
	db := openFresh(t, fs, "db", smallPageOptions())
	defer db.Close()

	const n = 200

	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%05d", i)

		if err := db.Set([]byte(key), []byte("v")); err != nil {
			t.Fatalf("Set(%s): %v", key, err)
		}
	}

	var seen []string

	err := db.Iterate(shelf.VisitorFuncs{
		Full: func(key, _ []byte) shelf.Decision {
			seen = append(seen, string(key))

			return shelf.Keep()
		},
	}, false)
	if err != nil {
		t.Fatalf("Iterate: %v", err)
	}

	if len(seen) != n {
		t.Fatalf("visited %d keys, want %d", len(seen), n)
	}

	for i := 1; i < len(seen); i++ {
		if seen[i-1] >= seen[i] {
			t.Fatalf("keys out of order at %d: %q >= %q", i, seen[i-1], seen[i])
		}
	}
}

func TestMergeCollapsesBackToOneLeaf(t *testing.T) {
	fs := vfs.NewCrash()
	db := openFresh(t, fs, "db", smallPageOptions())
	defer db.Close()

	const n = 500

	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%05d", i)

		if err := db.Set([]byte(key), []byte("v")); err != nil {
			t.Fatalf("Set(%s): %v", key, err)
		}
	}

	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%05d", i)

		if err := db.Remove([]byte(key)); err != nil {
			t.Fatalf("Remove(%s): %v", key, err)
		}
	}

	count, err := db.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}

	if count != 0 {
		t.Fatalf("Count = %d, want 0", count)
	}

	if db.m.leafCount != 1 {
		t.Fatalf("leafCount = %d, want 1 after draining every key", db.m.leafCount)
	}

	if db.m.firstLeaf != db.m.lastLeaf {
		t.Fatalf("firstLeaf %d != lastLeaf %d after full collapse", db.m.firstLeaf, db.m.lastLeaf)
	}
}

func TestDecimalComparatorOrdersNumerically(t *testing.T) {
	fs := vfs.NewCrash()

	opts := smallPageOptions()
	opts.Comparator = Decimal{}

	db := openFresh(t, fs, "db", opts)
	defer db.Close()

	for _, k := range []string{"10", "9", "100", "2"} {
		if err := db.Set([]byte(k), []byte("v")); err != nil {
			t.Fatalf("Set(%s): %v", k, err)
		}
	}

	var seen []string

	err := db.Iterate(shelf.VisitorFuncs{
		Full: func(key, _ []byte) shelf.Decision {
			seen = append(seen, string(key))

			return shelf.Keep()
		},
	}, false)
	if err != nil {
		t.Fatalf("Iterate: %v", err)
	}

	want := []string{"2", "9", "10", "100"}

	if len(seen) != len(want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}

	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("seen = %v, want %v", seen, want)
		}
	}
}

func TestReopenRejectsIncompatibleComparator(t *testing.T) {
	fs := vfs.NewCrash()

	opts := smallPageOptions()
	opts.Comparator = Decimal{}

	db := openFresh(t, fs, "db", opts)

	if err := db.Set([]byte("1"), []byte("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopenOpts := smallPageOptions()
	reopenOpts.Comparator = Lexical{}

	_, err := Open(fs, "db", shelf.OReader|shelf.OWriter, reopenOpts)
	if !errors.Is(err, ErrLogic) {
		t.Fatalf("reopen with mismatched comparator = %v, want ErrLogic", err)
	}
}

func TestReorganizeRebalancesAndPreservesData(t *testing.T) {
	fs := vfs.NewCrash()
	db := openFresh(t, fs, "db", smallPageOptions())
	defer db.Close()

	const n = 300

	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%05d", i)

		if err := db.Set([]byte(key), []byte(fmt.Sprintf("val-%d", i))); err != nil {
			t.Fatalf("Set(%s): %v", key, err)
		}
	}

	for i := 0; i < n; i += 3 {
		key := fmt.Sprintf("key-%05d", i)

		if err := db.Remove([]byte(key)); err != nil {
			t.Fatalf("Remove(%s): %v", key, err)
		}
	}

	countBefore, err := db.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}

	if err := db.Reorganize(); err != nil {
		t.Fatalf("Reorganize: %v", err)
	}

	countAfter, err := db.Count()
	if err != nil {
		t.Fatalf("Count after Reorganize: %v", err)
	}

	if countAfter != countBefore {
		t.Fatalf("Count after Reorganize = %d, want %d", countAfter, countBefore)
	}

	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%05d", i)

		got, err := db.Get([]byte(key))

		if i%3 == 0 {
			if err == nil {
				t.Fatalf("Get(%s) after Reorganize = %q, want ErrNoRec", key, got)
			}

			continue
		}

		if err != nil {
			t.Fatalf("Get(%s) after Reorganize: %v", key, err)
		}

		want := fmt.Sprintf("val-%d", i)
		if string(got) != want {
			t.Fatalf("Get(%s) after Reorganize = %q, want %q", key, got, want)
		}
	}

	var seen []string

	err = db.Iterate(shelf.VisitorFuncs{
		Full: func(key, _ []byte) shelf.Decision {
			seen = append(seen, string(key))

			return shelf.Keep()
		},
	}, false)
	if err != nil {
		t.Fatalf("Iterate after Reorganize: %v", err)
	}

	for i := 1; i < len(seen); i++ {
		if seen[i-1] >= seen[i] {
			t.Fatalf("keys out of order after Reorganize at %d: %q >= %q", i, seen[i-1], seen[i])
		}
	}
}

func TestTransactionAbort(t *testing.T) {
	fs := vfs.NewCrash()
	db := openFresh(t, fs, "db", smallPageOptions())
	defer db.Close()

	if err := db.Set([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Set(a): %v", err)
	}

	if err := db.BeginTransaction(false); err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}

	if err := db.Set([]byte("a"), []byte("2")); err != nil {
		t.Fatalf("Set(a) in tx: %v", err)
	}

	if err := db.Set([]byte("b"), []byte("3")); err != nil {
		t.Fatalf("Set(b) in tx: %v", err)
	}

	if err := db.EndTransaction(false); err != nil {
		t.Fatalf("EndTransaction(false): %v", err)
	}

	got, err := db.Get([]byte("a"))
	if err != nil {
		t.Fatalf("Get(a): %v", err)
	}

	if string(got) != "1" {
		t.Fatalf("Get(a) = %q, want 1", got)
	}

	if _, err := db.Get([]byte("b")); !errors.Is(err, shelf.ErrNoRec) {
		t.Fatalf("Get(b) = %v, want ErrNoRec", err)
	}
}

// TestGetOnEmptyReadOnlyTreeReturnsNoRec guards against the read path
// materializing the tree's first leaf - a write - under a read lock, and
// against that write failing with ErrNoPerm on a database opened without
// OWriter.
func TestGetOnEmptyReadOnlyTreeReturnsNoRec(t *testing.T) {
	fs := vfs.NewCrash()

	db := openFresh(t, fs, "db", smallPageOptions())
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ro, err := Open(fs, "db", shelf.OReader, smallPageOptions())
	if err != nil {
		t.Fatalf("reopen read-only: %v", err)
	}
	defer ro.Close()

	if _, err := ro.Get([]byte("missing")); !errors.Is(err, shelf.ErrNoRec) {
		t.Fatalf("Get(missing) on empty read-only tree = %v, want ErrNoRec", err)
	}
}
