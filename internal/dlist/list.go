// Package dlist implements the intrusive doubly-linked list primitive used
// throughout corenet (link associations, cluster membership snapshots,
// log-list cursors). Lists are never shared across goroutines without
// external synchronization, matching the single-owner convention the rest
// of the package follows.
package dlist

// Node is one element of a List, carrying its neighbors and payload.
type Node[T any] struct {
	prev, next *Node[T]
	Data       T
}

// List is a doubly-linked list of Node[T], tracking head/tail/length so
// Length is O(1).
type List[T any] struct {
	head, tail *Node[T]
	length     int
}

// Len returns the number of nodes in the list.
func (l *List[T]) Len() int { return l.length }

// Append adds data at the tail and returns its node.
func (l *List[T]) Append(data T) *Node[T] {
	n := &Node[T]{Data: data}
	if l.tail == nil {
		l.head, l.tail = n, n
	} else {
		n.prev = l.tail
		l.tail.next = n
		l.tail = n
	}
	l.length++
	return n
}

// Prepend adds data at the head and returns its node.
func (l *List[T]) Prepend(data T) *Node[T] {
	n := &Node[T]{Data: data}
	if l.head == nil {
		l.head, l.tail = n, n
	} else {
		n.next = l.head
		l.head.prev = n
		l.head = n
	}
	l.length++
	return n
}

// InsertAt inserts data so it becomes the node at position idx (0-based,
// clamped to [0, Len()]).
func (l *List[T]) InsertAt(idx int, data T) *Node[T] {
	if idx <= 0 {
		return l.Prepend(data)
	}
	if idx >= l.length {
		return l.Append(data)
	}
	at := l.nodeAt(idx)
	n := &Node[T]{Data: data, prev: at.prev, next: at}
	at.prev.next = n
	at.prev = n
	l.length++
	return n
}

// InsertSorted inserts data at the first position where less(data, existing)
// holds, preserving stability (equal elements keep insertion order relative
// to one another by landing after existing equals).
func (l *List[T]) InsertSorted(data T, less func(a, b T) bool) *Node[T] {
	for n := l.head; n != nil; n = n.next {
		if less(data, n.Data) {
			if n.prev == nil {
				return l.Prepend(data)
			}
			nn := &Node[T]{Data: data, prev: n.prev, next: n}
			n.prev.next = nn
			n.prev = nn
			l.length++
			return nn
		}
	}
	return l.Append(data)
}

// Concat appends all of other's nodes to l's tail, draining other.
func (l *List[T]) Concat(other *List[T]) {
	if other.head == nil {
		return
	}
	if l.tail == nil {
		l.head, l.tail = other.head, other.tail
	} else {
		l.tail.next = other.head
		other.head.prev = l.tail
		l.tail = other.tail
	}
	l.length += other.length
	other.head, other.tail, other.length = nil, nil, 0
}

// RemoveFirst removes the first node whose Data equals value (via eq), if
// any, returning true on removal.
func (l *List[T]) RemoveFirst(value T, eq func(a, b T) bool) bool {
	for n := l.head; n != nil; n = n.next {
		if eq(n.Data, value) {
			l.unlink(n)
			return true
		}
	}
	return false
}

// RemoveAll removes every node whose Data equals value, returning the count
// removed.
func (l *List[T]) RemoveAll(value T, eq func(a, b T) bool) int {
	count := 0
	n := l.head
	for n != nil {
		next := n.next
		if eq(n.Data, value) {
			l.unlink(n)
			count++
		}
		n = next
	}
	return count
}

// Unlink removes n from the list without deallocating it (n.Data remains
// readable, but n must not be reused in this or any other list).
func (l *List[T]) Unlink(n *Node[T]) { l.unlink(n) }

func (l *List[T]) unlink(n *Node[T]) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.tail = n.prev
	}
	n.prev, n.next = nil, nil
	l.length--
}

// Delete unlinks n and drops all references to it (equivalent to Unlink in
// Go since the GC reclaims the node; kept as a distinct name to mirror the
// unlink-vs-free distinction the spec draws).
func (l *List[T]) Delete(n *Node[T]) { l.unlink(n) }

func (l *List[T]) nodeAt(idx int) *Node[T] {
	n := l.head
	for i := 0; i < idx && n != nil; i++ {
		n = n.next
	}
	return n
}

// Nth returns the node at position idx, or nil if out of range.
func (l *List[T]) Nth(idx int) *Node[T] {
	if idx < 0 || idx >= l.length {
		return nil
	}
	return l.nodeAt(idx)
}

// Index returns the position of n within the list, or -1 if not found by
// identity scan.
func (l *List[T]) Index(n *Node[T]) int {
	i := 0
	for cur := l.head; cur != nil; cur = cur.next {
		if cur == n {
			return i
		}
		i++
	}
	return -1
}

// Find returns the first node whose Data equals value, or nil.
func (l *List[T]) Find(value T, eq func(a, b T) bool) *Node[T] {
	for n := l.head; n != nil; n = n.next {
		if eq(n.Data, value) {
			return n
		}
	}
	return nil
}

// FindFunc returns the first node for which pred returns true, or nil.
func (l *List[T]) FindFunc(pred func(T) bool) *Node[T] {
	for n := l.head; n != nil; n = n.next {
		if pred(n.Data) {
			return n
		}
	}
	return nil
}

// ToSlice returns the list's data in order.
func (l *List[T]) ToSlice() []T {
	out := make([]T, 0, l.length)
	for n := l.head; n != nil; n = n.next {
		out = append(out, n.Data)
	}
	return out
}

// Sort performs a stable merge sort in place using less as the comparator.
func (l *List[T]) Sort(less func(a, b T) bool) {
	if l.length < 2 {
		return
	}
	items := l.ToSlice()
	sorted := mergeSort(items, less)
	n := l.head
	for _, v := range sorted {
		n.Data = v
		n = n.next
	}
}

func mergeSort[T any](items []T, less func(a, b T) bool) []T {
	if len(items) < 2 {
		return items
	}
	mid := len(items) / 2
	left := mergeSort(append([]T(nil), items[:mid]...), less)
	right := mergeSort(append([]T(nil), items[mid:]...), less)
	return merge(left, right, less)
}

func merge[T any](left, right []T, less func(a, b T) bool) []T {
	out := make([]T, 0, len(left)+len(right))
	i, j := 0, 0
	for i < len(left) && j < len(right) {
		// <= keeps the sort stable: ties favor the earlier slice.
		if less(right[j], left[i]) {
			out = append(out, right[j])
			j++
		} else {
			out = append(out, left[i])
			i++
		}
	}
	out = append(out, left[i:]...)
	out = append(out, right[j:]...)
	return out
}

// FreeFull walks every node and calls destroyer(data), then empties the
// list. Go's GC reclaims the nodes themselves; destroyer exists for
// caller-owned resources attached to Data (open files, held locks, etc.).
func (l *List[T]) FreeFull(destroyer func(T)) {
	for n := l.head; n != nil; n = n.next {
		destroyer(n.Data)
	}
	l.head, l.tail, l.length = nil, nil, 0
}
