package btree

import (
	"fmt"
	"testing"

	"github.com/shelfdb/shelfdb/internal/vfs"
	"github.com/shelfdb/shelfdb/shelf"
)

// TestCursorSurvivesSplitUnderneathIt exercises the scenario where a leaf
// splits between a cursor's Jump and its next step: the cursor must still
// land on the correct next key, even though that key has moved to a leaf
// that did not exist when the cursor was positioned.
func TestCursorSurvivesSplitUnderneathIt(t *testing.T) {
	fs := vfs.NewCrash()
	db := openFresh(t, fs, "db", smallPageOptions())
	defer db.Close()

	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("key-%03d", i)

		if err := db.Set([]byte(key), []byte("v")); err != nil {
			t.Fatalf("Set(%s): %v", key, err)
		}
	}

	cur, err := db.Cursor()
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	defer cur.Close()

	if err := cur.Jump([]byte("key-005")); err != nil {
		t.Fatalf("Jump: %v", err)
	}

	// Force enough additional inserts around the cursor's position to
	// trigger at least one more split in that region of the tree.
	for i := 20; i < 400; i++ {
		key := fmt.Sprintf("key-%03d", i)

		if err := db.Set([]byte(key), []byte("v")); err != nil {
			t.Fatalf("Set(%s): %v", key, err)
		}
	}

	key, err := cur.Key()
	if err != nil {
		t.Fatalf("Key: %v", err)
	}

	if string(key) != "key-005" {
		t.Fatalf("Key = %q, want key-005", key)
	}

	var visited string

	err = cur.Accept(shelf.VisitorFuncs{
		Full: func(k, _ []byte) shelf.Decision {
			visited = string(k)

			return shelf.Keep()
		},
	}, false, true)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}

	if visited != "key-005" {
		t.Fatalf("Accept visited %q, want key-005", visited)
	}

	nextKey, err := cur.Key()
	if err != nil {
		t.Fatalf("Key after step: %v", err)
	}

	if string(nextKey) != "key-006" {
		t.Fatalf("cursor after step = %q, want key-006", nextKey)
	}
}

// TestCursorRedirectsPastRemovedKey checks that stepping past a key that
// was removed out from under the cursor (via a separate write) lands on
// the next surviving key rather than erroring.
func TestCursorRedirectsPastRemovedKey(t *testing.T) {
	fs := vfs.NewCrash()
	db := openFresh(t, fs, "db", smallPageOptions())
	defer db.Close()

	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("key-%03d", i)

		if err := db.Set([]byte(key), []byte("v")); err != nil {
			t.Fatalf("Set(%s): %v", key, err)
		}
	}

	cur, err := db.Cursor()
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	defer cur.Close()

	if err := cur.Jump([]byte("key-003")); err != nil {
		t.Fatalf("Jump: %v", err)
	}

	if err := db.Remove([]byte("key-003")); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	var found bool

	err = cur.Accept(shelf.VisitorFuncs{
		Empty: func(_ []byte) shelf.Decision {
			found = false

			return shelf.Keep()
		},
		Full: func(_, _ []byte) shelf.Decision {
			found = true

			return shelf.Keep()
		},
	}, false, true)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}

	if found {
		t.Fatalf("Accept found a value for a removed key")
	}

	nextKey, err := cur.Key()
	if err != nil {
		t.Fatalf("Key after step: %v", err)
	}

	if string(nextKey) != "key-004" {
		t.Fatalf("cursor after step = %q, want key-004", nextKey)
	}
}
