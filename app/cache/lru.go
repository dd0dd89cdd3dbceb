package cache

// lruList maintains result eviction order.
type lruList struct {
	head  *lruNode
	tail  *lruNode
	nodes map[string]*lruNode
	size  int
}

type lruNode struct {
	key        string
	prev, next *lruNode
}

func newLRUList() *lruList {
	head := &lruNode{}
	tail := &lruNode{}
	head.next = tail
	tail.prev = head

	return &lruList{
		head:  head,
		tail:  tail,
		nodes: make(map[string]*lruNode),
	}
}

// addToFront adds a key to the front, or moves it there if already present.
func (l *lruList) addToFront(key string) {
	if node, exists := l.nodes[key]; exists {
		l.moveToFront(node)
		return
	}

	node := &lruNode{key: key}
	l.nodes[key] = node

	node.next = l.head.next
	node.prev = l.head
	l.head.next.prev = node
	l.head.next = node

	l.size++
}

// removeOldest removes and returns the oldest key, or "" when empty.
func (l *lruList) removeOldest() string {
	if l.size == 0 {
		return ""
	}

	oldest := l.tail.prev
	key := oldest.key
	l.removeNode(oldest)
	delete(l.nodes, key)
	l.size--

	return key
}

func (l *lruList) moveToFront(node *lruNode) {
	l.removeNode(node)

	node.next = l.head.next
	node.prev = l.head
	l.head.next.prev = node
	l.head.next = node
}

func (l *lruList) removeNode(node *lruNode) {
	node.prev.next = node.next
	node.next.prev = node.prev
}
