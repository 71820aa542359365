package channel

import "github.com/duskrelay/soegateway/internal/wire"

// packetQueue is a FIFO of parsed inbound packets with O(1) amortized
// push/pop at both ends, used for receive_queue (spec.md §3). A plain slice
// with a head cursor is simpler than container/list and cheap enough at the
// batch sizes process_next deals with.
type packetQueue struct {
	items []wire.Packet
	head  int
}

func (q *packetQueue) PushBack(p wire.Packet) {
	q.items = append(q.items, p)
}

func (q *packetQueue) PushFront(p wire.Packet) {
	if q.head > 0 {
		q.head--
		q.items[q.head] = p
		return
	}
	rest := append([]wire.Packet(nil), q.items[q.head:]...)
	q.items = append([]wire.Packet{p}, rest...)
	q.head = 0
}

func (q *packetQueue) PopFront() (wire.Packet, bool) {
	if q.head >= len(q.items) {
		return wire.Packet{}, false
	}
	p := q.items[q.head]
	q.items[q.head] = wire.Packet{}
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return p, true
}

func (q *packetQueue) Len() int {
	return len(q.items) - q.head
}
