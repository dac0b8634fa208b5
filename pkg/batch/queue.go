package batch

// queueNode is a single element of pendingQueue.
type queueNode[V any] struct {
	next  *queueNode[V]
	Value V
}

// pendingQueue is a singly linked FIFO of requests waiting for the next dispatch.
// It is not thread-safe; Processor guards it with its own mutex.
type pendingQueue[V any] struct {
	head *queueNode[V]
	tail *queueNode[V]
	size int
}

// Len returns the number of queued elements.
func (q *pendingQueue[V]) Len() int {
	return q.size
}

// PushBack appends `v` to the end of the queue.
func (q *pendingQueue[V]) PushBack(v V) {
	n := &queueNode[V]{Value: v}
	if q.tail != nil {
		q.tail.next = n
	} else { // Queue was empty.
		q.head = n
	}
	q.tail = n
	q.size++
}

// PopFront removes and returns up to `limit` elements from the front of the queue, oldest first.
func (q *pendingQueue[V]) PopFront(limit int) []V {
	if limit > q.size {
		limit = q.size
	}
	if limit <= 0 {
		return nil
	}
	popped := make([]V, 0, limit)
	for range limit {
		n := q.head
		popped = append(popped, n.Value)
		q.head = n.next
		n.next = nil // Release the node for GC.
	}
	if q.head == nil {
		q.tail = nil
	}
	q.size -= limit
	return popped
}

// Values returns the queued elements in order without removing them.
func (q *pendingQueue[V]) Values() []V {
	values := make([]V, 0, q.size)
	for n := q.head; n != nil; n = n.next {
		values = append(values, n.Value)
	}
	return values
}
