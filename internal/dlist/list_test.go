package dlist

import (
	"reflect"
	"testing"
)

func eqInt(a, b int) bool { return a == b }
func lessInt(a, b int) bool { return a < b }

func TestAppendPrepend(t *testing.T) {
	var l List[int]
	l.Append(1)
	l.Append(2)
	l.Prepend(0)
	if got := l.ToSlice(); !reflect.DeepEqual(got, []int{0, 1, 2}) {
		t.Fatalf("got %v", got)
	}
	if l.Len() != 3 {
		t.Fatalf("len = %d", l.Len())
	}
}

func TestInsertAt(t *testing.T) {
	var l List[int]
	l.Append(1)
	l.Append(3)
	l.InsertAt(1, 2)
	if got := l.ToSlice(); !reflect.DeepEqual(got, []int{1, 2, 3}) {
		t.Fatalf("got %v", got)
	}
}

func TestInsertSortedStable(t *testing.T) {
	var l List[int]
	for _, v := range []int{5, 3, 3, 1, 4} {
		l.InsertSorted(v, lessInt)
	}
	if got := l.ToSlice(); !reflect.DeepEqual(got, []int{1, 3, 3, 4, 5}) {
		t.Fatalf("got %v", got)
	}
}

func TestConcat(t *testing.T) {
	var a, b List[int]
	a.Append(1)
	a.Append(2)
	b.Append(3)
	b.Append(4)
	a.Concat(&b)
	if got := a.ToSlice(); !reflect.DeepEqual(got, []int{1, 2, 3, 4}) {
		t.Fatalf("got %v", got)
	}
	if b.Len() != 0 {
		t.Fatalf("b should be drained, len=%d", b.Len())
	}
}

func TestRemoveFirstAndAll(t *testing.T) {
	var l List[int]
	for _, v := range []int{1, 2, 2, 3, 2} {
		l.Append(v)
	}
	if !l.RemoveFirst(2, eqInt) {
		t.Fatalf("expected removal")
	}
	if got := l.ToSlice(); !reflect.DeepEqual(got, []int{1, 2, 3, 2}) {
		t.Fatalf("got %v", got)
	}
	n := l.RemoveAll(2, eqInt)
	if n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}
	if got := l.ToSlice(); !reflect.DeepEqual(got, []int{1, 3}) {
		t.Fatalf("got %v", got)
	}
}

func TestUnlinkAndDelete(t *testing.T) {
	var l List[int]
	n1 := l.Append(1)
	l.Append(2)
	l.Unlink(n1)
	if got := l.ToSlice(); !reflect.DeepEqual(got, []int{2}) {
		t.Fatalf("got %v", got)
	}
}

func TestNthIndexFind(t *testing.T) {
	var l List[int]
	l.Append(10)
	n2 := l.Append(20)
	l.Append(30)
	if l.Nth(1).Data != 20 {
		t.Fatalf("Nth(1) wrong")
	}
	if l.Index(n2) != 1 {
		t.Fatalf("Index wrong")
	}
	if f := l.Find(30, eqInt); f == nil || f.Data != 30 {
		t.Fatalf("Find wrong")
	}
	if l.FindFunc(func(v int) bool { return v > 15 }).Data != 20 {
		t.Fatalf("FindFunc wrong")
	}
}

func TestSortStableAndIdempotent(t *testing.T) {
	var l List[int]
	for _, v := range []int{4, 1, 3, 1, 2} {
		l.Append(v)
	}
	l.Sort(lessInt)
	want := []int{1, 1, 2, 3, 4}
	if got := l.ToSlice(); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
	before := l.Len()
	l.Sort(lessInt)
	if got := l.ToSlice(); !reflect.DeepEqual(got, want) || l.Len() != before {
		t.Fatalf("sort not idempotent: %v", got)
	}
}

func TestFreeFull(t *testing.T) {
	var l List[int]
	l.Append(1)
	l.Append(2)
	var destroyed []int
	l.FreeFull(func(v int) { destroyed = append(destroyed, v) })
	if !reflect.DeepEqual(destroyed, []int{1, 2}) {
		t.Fatalf("destroyed = %v", destroyed)
	}
	if l.Len() != 0 {
		t.Fatalf("expected empty list after FreeFull")
	}
}
