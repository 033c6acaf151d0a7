package cache

// lruNode is one key in the recency list.
type lruNode[V any] struct {
	entry Entry[V]

	// prev points towards the head (more recently used).
	prev *lruNode[V]

	// next points towards the tail (less recently used).
	next *lruNode[V]
}

// lruList is a doubly linked list ordered by recency. head is the most
// recently used node, tail the least.
type lruList[V any] struct {
	head *lruNode[V]
	tail *lruNode[V]
}

func (l *lruList[V]) pushFront(n *lruNode[V]) {
	n.prev = nil
	n.next = l.head
	if l.head != nil {
		l.head.prev = n
	}
	l.head = n
	if l.tail == nil {
		l.tail = n
	}
}

func (l *lruList[V]) remove(n *lruNode[V]) {
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
}

func (l *lruList[V]) moveToFront(n *lruNode[V]) {
	if l.head == n {
		return
	}
	l.remove(n)
	l.pushFront(n)
}
