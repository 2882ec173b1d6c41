package hal

// A MsgQueue is an unbounded FIFO of message fragments. It does no
// locking of its own: the command queue is mutated under the pipeline
// lock and the event queue under the interrupt-safe lock, per the
// locking discipline of the device context.
type MsgQueue struct {
	elements []*Msg
}

// NewMsgQueue creates an empty queue.
func NewMsgQueue() *MsgQueue {
	return &MsgQueue{}
}

// Push appends a fragment. Insertion order is transmission order.
func (q *MsgQueue) Push(m *Msg) {
	q.elements = append(q.elements, m)
}

// Pop removes and returns the oldest fragment, or nil when empty.
// Ownership of the fragment transfers to the caller.
func (q *MsgQueue) Pop() *Msg {
	if len(q.elements) == 0 {
		return nil
	}

	m := q.elements[0]
	q.elements[0] = nil
	q.elements = q.elements[1:]

	return m
}

// Size returns the number of queued fragments.
func (q *MsgQueue) Size() int {
	return len(q.elements)
}

// Clear discards all queued fragments.
func (q *MsgQueue) Clear() {
	q.elements = nil
}
