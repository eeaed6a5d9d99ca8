package cachemap

import (
	"errors"
	"testing"

	"github.com/shelfdb/shelfdb/internal/codec"
	"github.com/shelfdb/shelfdb/shelf"
)

func TestBasicSetGetCount(t *testing.T) {
	db, err := Open(Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if err := db.Set([]byte("foo"), []byte("hop")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if err := db.Set([]byte("bar"), []byte("step")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := db.Get([]byte("foo"))
	if err != nil || string(got) != "hop" {
		t.Fatalf("Get(foo) = %q, %v", got, err)
	}

	count, err := db.Count()
	if err != nil || count != 2 {
		t.Fatalf("Count() = %d, %v", count, err)
	}
}

func TestAddRemove(t *testing.T) {
	db, _ := Open(Options{})
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
}

func TestCompareAndSwapAndIncrement(t *testing.T) {
	db, _ := Open(Options{})
	defer db.Close()

	if err := db.Set([]byte("x"), []byte("1")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if err := db.CompareAndSwap([]byte("x"), []byte("1"), []byte("2")); err != nil {
		t.Fatalf("CAS: %v", err)
	}

	if err := db.CompareAndSwap([]byte("x"), []byte("1"), []byte("3")); !errors.Is(err, shelf.ErrLogic) {
		t.Fatalf("CAS mismatch = %v, want ErrLogic", err)
	}

	if v, err := db.Increment([]byte("n"), 7); err != nil || v != 7 {
		t.Fatalf("Increment = %d, %v", v, err)
	}
}

func TestTransactionAbort(t *testing.T) {
	db, _ := Open(Options{})
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

	if err := db.Remove([]byte("a")); err != nil {
		t.Fatalf("Remove(a): %v", err)
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

func TestTransactionCommit(t *testing.T) {
	db, _ := Open(Options{})
	defer db.Close()

	if err := db.BeginTransaction(false); err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}

	if err := db.Set([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if err := db.EndTransaction(true); err != nil {
		t.Fatalf("EndTransaction(commit): %v", err)
	}

	got, err := db.Get([]byte("k"))
	if err != nil || string(got) != "v" {
		t.Fatalf("Get(k) = %q, %v", got, err)
	}
}

func TestCountCapEvictsLRUHead(t *testing.T) {
	// A single-slot-worth cap forces eviction deterministically: with
	// CapCount divided across 16 slots, setting it to 16 gives each slot a
	// cap of 1, so inserting a second key into the *same* slot evicts the
	// first.
	db, _ := Open(Options{CapCount: 16})
	defer db.Close()

	idx0 := slotIndex(db.locks, []byte("same-slot-a"))

	var keyB string

	for i := 0; i < 10000; i++ {
		candidate := []byte("probe" + string(rune('a'+i%26)) + string(rune('0'+i/26%10)))
		if slotIndex(db.locks, candidate) == idx0 {
			keyB = string(candidate)

			break
		}
	}

	if keyB == "" {
		t.Skip("could not find a same-slot collision candidate")
	}

	if err := db.Set([]byte("same-slot-a"), []byte("1")); err != nil {
		t.Fatalf("Set a: %v", err)
	}

	if err := db.Set([]byte(keyB), []byte("2")); err != nil {
		t.Fatalf("Set b: %v", err)
	}

	if _, err := db.Get([]byte("same-slot-a")); !errors.Is(err, shelf.ErrNoRec) {
		t.Fatalf("Get(same-slot-a) after cap eviction = %v, want ErrNoRec", err)
	}

	got, err := db.Get([]byte(keyB))
	if err != nil || string(got) != "2" {
		t.Fatalf("Get(b) = %q, %v", got, err)
	}
}

func TestIterateVisitsEveryKeyOnceNoPromotion(t *testing.T) {
	db, _ := Open(Options{})
	defer db.Close()

	want := map[string]bool{"one": true, "two": true, "three": true}
	for k := range want {
		if err := db.Set([]byte(k), []byte(k)); err != nil {
			t.Fatalf("Set(%s): %v", k, err)
		}
	}

	seen := map[string]bool{}

	err := db.Iterate(shelf.VisitorFuncs{
		Full: func(key, _ []byte) shelf.Decision {
			if seen[string(key)] {
				t.Fatalf("key %q visited twice", key)
			}

			seen[string(key)] = true

			return shelf.Keep()
		},
	}, false)
	if err != nil {
		t.Fatalf("Iterate: %v", err)
	}

	for k := range want {
		if !seen[k] {
			t.Fatalf("key %q never visited", k)
		}
	}
}

func TestCompressionRoundTrip(t *testing.T) {
	db, err := Open(Options{Codec: codec.Snappy{}})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	value := []byte("the quick brown fox jumps over the lazy dog, repeatedly, for compressibility")

	if err := db.Set([]byte("k"), value); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := db.Get([]byte("k"))
	if err != nil || string(got) != string(value) {
		t.Fatalf("Get(k) = %q, %v, want %q", got, err, value)
	}
}

func TestCursorIteratesAllKeysOnce(t *testing.T) {
	db, _ := Open(Options{})
	defer db.Close()

	want := map[string]bool{"alpha": true, "beta": true, "gamma": true, "delta": true}
	for k := range want {
		if err := db.Set([]byte(k), []byte(k)); err != nil {
			t.Fatalf("Set(%s): %v", k, err)
		}
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
			break
		}

		if seen[string(key)] {
			t.Fatalf("key %q visited twice", key)
		}

		seen[string(key)] = true

		if err := c.Accept(shelf.VisitorFuncs{}, false, true); err != nil {
			break
		}
	}

	for k := range want {
		if !seen[k] {
			t.Fatalf("key %q never visited", k)
		}
	}
}

func TestJumpFailsOnMissingKey(t *testing.T) {
	db, _ := Open(Options{})
	defer db.Close()

	c, err := db.Cursor()
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	defer c.Close()

	if err := c.Jump([]byte("missing")); !errors.Is(err, shelf.ErrNoRec) {
		t.Fatalf("Jump(missing) = %v, want ErrNoRec", err)
	}

	if err := c.JumpEnd(); !errors.Is(err, shelf.ErrNoImpl) {
		t.Fatalf("JumpEnd() = %v, want ErrNoImpl", err)
	}
}
