package hashfile

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/shelfdb/shelfdb/internal/vfs"
	"github.com/shelfdb/shelfdb/shelf"
)

// TestOnEventFiresOnWALRecovery drives Open's actual recovery branch, via
// a crash mid-transaction, rather than calling the repair machinery
// directly: OnEvent must fire from Open itself, not just exist.
func TestOnEventFiresOnWALRecovery(t *testing.T) {
	fs := vfs.NewCrash()

	db := openFresh(t, fs, "db")

	if err := db.Set([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if err := db.BeginTransaction(true); err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}

	if err := db.Set([]byte("k"), []byte("unsynced")); err != nil {
		t.Fatalf("Set in tx: %v", err)
	}

	// Crash before EndTransaction syncs and clears the WAL, leaving it
	// active for the next Open to find and roll back.
	fs.SimulateCrash()

	var events []string

	reopened, err := Open(fs, "db", shelf.OReader|shelf.OWriter, Options{
		BucketCount: 64,
		OnEvent: func(event string, _ map[string]any) {
			events = append(events, event)
		},
	})
	if err != nil {
		t.Fatalf("reopen after crash: %v", err)
	}
	defer reopened.Close()

	if !reopened.Recovered() {
		t.Fatal("expected Recovered() == true after crash with an open transaction")
	}

	if len(events) != 1 || events[0] != "wal_recovered" {
		t.Fatalf("events = %v, want [wal_recovered]", events)
	}
}

func openFresh(t *testing.T, fs vfs.FS, path string) *DB {
	t.Helper()

	db, err := Open(fs, path, shelf.OReader|shelf.OWriter|shelf.OCreate, Options{BucketCount: 64})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	return db
}

func TestBasicSetGetCount(t *testing.T) {
	fs := vfs.NewCrash()
	db := openFresh(t, fs, "db")
	defer db.Close()

	if err := db.Set([]byte("foo"), []byte("hop")); err != nil {
		t.Fatalf("Set(foo): %v", err)
	}

	if err := db.Set([]byte("bar"), []byte("step")); err != nil {
		t.Fatalf("Set(bar): %v", err)
	}

	if err := db.Set([]byte("baz"), []byte("jump")); err != nil {
		t.Fatalf("Set(baz): %v", err)
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

	if count != 3 {
		t.Fatalf("Count() = %d, want 3", count)
	}
}

func TestAddRemove(t *testing.T) {
	fs := vfs.NewCrash()
	db := openFresh(t, fs, "db")
	defer db.Close()

	if err := db.Add([]byte("k"), []byte("v1")); err != nil {
		t.Fatalf("Add first: %v", err)
	}

	if err := db.Add([]byte("k"), []byte("v2")); !errors.Is(err, shelf.ErrDupRec) {
		t.Fatalf("Add duplicate = %v, want ErrDupRec", err)
	}

	if err := db.Remove([]byte("k")); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if err := db.Remove([]byte("k")); !errors.Is(err, shelf.ErrNoRec) {
		t.Fatalf("Remove again = %v, want ErrNoRec", err)
	}

	count, _ := db.Count()
	if count != 0 {
		t.Fatalf("Count() = %d, want 0", count)
	}
}

func TestCompareAndSwap(t *testing.T) {
	fs := vfs.NewCrash()
	db := openFresh(t, fs, "db")
	defer db.Close()

	if err := db.Set([]byte("x"), []byte("1")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if err := db.CompareAndSwap([]byte("x"), []byte("1"), []byte("2")); err != nil {
		t.Fatalf("CAS ok case: %v", err)
	}

	if err := db.CompareAndSwap([]byte("x"), []byte("1"), []byte("3")); !errors.Is(err, shelf.ErrLogic) {
		t.Fatalf("CAS mismatch = %v, want ErrLogic", err)
	}

	got, _ := db.Get([]byte("x"))
	if string(got) != "2" {
		t.Fatalf("Get(x) = %q, want 2", got)
	}
}

func TestIncrement(t *testing.T) {
	fs := vfs.NewCrash()
	db := openFresh(t, fs, "db")
	defer db.Close()

	if v, err := db.Increment([]byte("n"), 5); err != nil || v != 5 {
		t.Fatalf("Increment(5) = %d, %v", v, err)
	}

	if v, err := db.Increment([]byte("n"), 3); err != nil || v != 8 {
		t.Fatalf("Increment(3) = %d, %v", v, err)
	}

	if v, err := db.Increment([]byte("n"), -10); err != nil || v != -2 {
		t.Fatalf("Increment(-10) = %d, %v", v, err)
	}
}

func TestTransactionAbort(t *testing.T) {
	fs := vfs.NewCrash()
	db := openFresh(t, fs, "db")
	defer db.Close()

	if err := db.Set([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Set(a): %v", err)
	}

	if err := db.BeginTransaction(false); err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}

	if err := db.Set([]byte("a"), []byte("2")); err != nil {
		t.Fatalf("Set(a,2): %v", err)
	}

	if err := db.Set([]byte("b"), []byte("3")); err != nil {
		t.Fatalf("Set(b,3): %v", err)
	}

	if err := db.EndTransaction(false); err != nil {
		t.Fatalf("EndTransaction(abort): %v", err)
	}

	got, err := db.Get([]byte("a"))
	if err != nil || string(got) != "1" {
		t.Fatalf("Get(a) = %q, %v, want 1", got, err)
	}

	if _, err := db.Get([]byte("b")); !errors.Is(err, shelf.ErrNoRec) {
		t.Fatalf("Get(b) = %v, want ErrNoRec", err)
	}

	count, _ := db.Count()
	if count != 1 {
		t.Fatalf("Count() = %d, want 1", count)
	}
}

func TestReopenAfterCleanClose(t *testing.T) {
	fs := vfs.NewCrash()
	db := openFresh(t, fs, "db")

	if err := db.Set([]byte("persist"), []byte("me")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2, err := Open(fs, "db", shelf.OReader|shelf.OWriter, Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()

	if db2.Recovered() || db2.Reorganized() {
		t.Fatal("reopen after clean close should not report recovery or reorganization")
	}

	got, err := db2.Get([]byte("persist"))
	if err != nil || string(got) != "me" {
		t.Fatalf("Get(persist) after reopen = %q, %v", got, err)
	}
}

func TestCursorIteratesAllKeysOnce(t *testing.T) {
	fs := vfs.NewCrash()
	db := openFresh(t, fs, "db")
	defer db.Close()

	want := map[string]bool{}
	for _, k := range []string{"one", "two", "three", "four"} {
		if err := db.Set([]byte(k), []byte(k)); err != nil {
			t.Fatalf("Set(%s): %v", k, err)
		}

		want[k] = true
	}

	c, err := db.Cursor()
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	defer c.Close()

	if err := c.JumpBegin(); err != nil {
		t.Fatalf("JumpBegin: %v", err)
	}

	seen := map[string]bool{}

	for {
		key, err := c.Key()
		if err != nil {
			t.Fatalf("Key: %v", err)
		}

		if seen[string(key)] {
			t.Fatalf("key %q visited twice", key)
		}

		seen[string(key)] = true

		err = c.Accept(shelf.VisitorFuncs{}, false, true)
		if err != nil {
			break
		}

		if _, kerr := c.Key(); kerr != nil {
			break
		}
	}

	for k := range want {
		if !seen[k] {
			t.Fatalf("key %q never visited", k)
		}
	}
}

func TestDefragReclaimsFreeBlocks(t *testing.T) {
	fs := vfs.NewCrash()
	db := openFresh(t, fs, "db")
	defer db.Close()

	for i := 0; i < 10; i++ {
		k := []byte{byte('a' + i)}
		if err := db.Set(k, []byte("value")); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}

	for i := 0; i < 10; i += 2 {
		k := []byte{byte('a' + i)}
		if err := db.Remove(k); err != nil {
			t.Fatalf("Remove: %v", err)
		}
	}

	if err := db.Defrag(0); err != nil {
		t.Fatalf("Defrag: %v", err)
	}

	for i := 1; i < 10; i += 2 {
		k := []byte{byte('a' + i)}

		got, err := db.Get(k)
		if err != nil {
			t.Fatalf("Get(%s) after defrag: %v", k, err)
		}

		if string(got) != "value" {
			t.Fatalf("Get(%s) = %q, want value", k, got)
		}
	}
}

// TestDefragSkipsSizeMismatchedPairs guards against corrupting the file
// when a free block isn't the same size as the live record that follows
// it - records here have varying value lengths, so a freed block and its
// neighbor routinely differ in size.
func TestDefragSkipsSizeMismatchedPairs(t *testing.T) {
	fs := vfs.NewCrash()
	db := openFresh(t, fs, "db")
	defer db.Close()

	values := make([]string, 20)
	for i := range values {
		values[i] = strings.Repeat("v", 1+i*3)
	}

	for i, v := range values {
		k := []byte(fmt.Sprintf("key-%02d", i))
		if err := db.Set(k, []byte(v)); err != nil {
			t.Fatalf("Set(%s): %v", k, err)
		}
	}

	for i := 0; i < len(values); i += 2 {
		k := []byte(fmt.Sprintf("key-%02d", i))
		if err := db.Remove(k); err != nil {
			t.Fatalf("Remove(%s): %v", k, err)
		}
	}

	if err := db.Defrag(0); err != nil {
		t.Fatalf("Defrag: %v", err)
	}

	for i := 1; i < len(values); i += 2 {
		k := []byte(fmt.Sprintf("key-%02d", i))

		got, err := db.Get(k)
		if err != nil {
			t.Fatalf("Get(%s) after defrag: %v", k, err)
		}

		if string(got) != values[i] {
			t.Fatalf("Get(%s) = %q, want %q", k, got, values[i])
		}
	}

	for i := 0; i < len(values); i += 2 {
		k := []byte(fmt.Sprintf("key-%02d", i))

		if _, err := db.Get(k); !errors.Is(err, shelf.ErrNoRec) {
			t.Fatalf("Get(%s) after defrag = %v, want ErrNoRec", k, err)
		}
	}
}
