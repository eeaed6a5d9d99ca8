package lhmap

import "testing"

func TestPutGet(t *testing.T) {
	m := New[string, int]()

	m.Put("a", 1)
	m.Put("b", 2)

	if v, ok := m.Get("a"); !ok || v != 1 {
		t.Fatalf("Get(a) = %d, %v", v, ok)
	}

	if v, ok := m.Get("b"); !ok || v != 2 {
		t.Fatalf("Get(b) = %d, %v", v, ok)
	}

	if _, ok := m.Get("missing"); ok {
		t.Fatal("Get(missing) should not be found")
	}
}

func TestOrderingNewestOldest(t *testing.T) {
	m := New[string, int]()

	m.Put("a", 1)
	m.Put("b", 2)
	m.Put("c", 3)

	if k, _, ok := m.Newest(); !ok || k != "c" {
		t.Fatalf("Newest() = %q", k)
	}

	if k, _, ok := m.Oldest(); !ok || k != "a" {
		t.Fatalf("Oldest() = %q", k)
	}
}

func TestMoveToFront(t *testing.T) {
	m := New[string, int]()

	m.Put("a", 1)
	m.Put("b", 2)
	m.Put("c", 3)

	m.MoveToFront("a")

	if k, _, _ := m.Newest(); k != "a" {
		t.Fatalf("Newest() = %q, want a", k)
	}

	if k, _, _ := m.Oldest(); k != "b" {
		t.Fatalf("Oldest() = %q, want b", k)
	}
}

func TestMoveToBack(t *testing.T) {
	m := New[string, int]()

	m.Put("a", 1)
	m.Put("b", 2)
	m.Put("c", 3)

	m.MoveToBack("c")

	if k, _, _ := m.Oldest(); k != "c" {
		t.Fatalf("Oldest() = %q, want c", k)
	}
}

func TestDeleteAndPopOldest(t *testing.T) {
	m := New[string, int]()

	m.Put("a", 1)
	m.Put("b", 2)

	if !m.Delete("a") {
		t.Fatal("Delete(a) should report true")
	}

	if m.Delete("a") {
		t.Fatal("second Delete(a) should report false")
	}

	k, v, ok := m.PopOldest()
	if !ok || k != "b" || v != 2 {
		t.Fatalf("PopOldest() = %q, %d, %v", k, v, ok)
	}

	if m.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", m.Len())
	}
}

func TestEachOrder(t *testing.T) {
	m := New[int, int]()

	for i := 0; i < 5; i++ {
		m.Put(i, i*i)
	}

	var seen []int

	m.Each(func(key int, _ int) { seen = append(seen, key) })

	want := []int{4, 3, 2, 1, 0}
	if len(seen) != len(want) {
		t.Fatalf("Each visited %d keys, want %d", len(seen), len(want))
	}

	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("Each order[%d] = %d, want %d", i, seen[i], want[i])
		}
	}
}

func TestEachOldestFirstOrder(t *testing.T) {
	m := New[int, int]()

	for i := 0; i < 5; i++ {
		m.Put(i, i*i)
	}

	var seen []int

	m.EachOldestFirst(func(key int, _ int) { seen = append(seen, key) })

	want := []int{0, 1, 2, 3, 4}
	if len(seen) != len(want) {
		t.Fatalf("EachOldestFirst visited %d keys, want %d", len(seen), len(want))
	}

	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("EachOldestFirst order[%d] = %d, want %d", i, seen[i], want[i])
		}
	}
}

func TestGrowPreservesEntriesAndOrder(t *testing.T) {
	m := New[int, int]()

	for i := 0; i < 5; i++ {
		m.Put(i, i*i)
	}

	m.Grow(1024)

	if m.Len() != 5 {
		t.Fatalf("Len() after Grow = %d, want 5", m.Len())
	}

	for i := 0; i < 5; i++ {
		if v, ok := m.Get(i); !ok || v != i*i {
			t.Fatalf("Get(%d) after Grow = %d, %v, want %d, true", i, v, ok, i*i)
		}
	}

	var seen []int

	m.Each(func(key int, _ int) { seen = append(seen, key) })

	want := []int{4, 3, 2, 1, 0}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("Each order after Grow [%d] = %d, want %d", i, seen[i], want[i])
		}
	}

	m.Delete(2)

	if _, ok := m.Get(2); ok {
		t.Fatalf("Get(2) after Delete = found, want absent")
	}
}
