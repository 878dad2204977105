package opus

import (
	"io"
	"sync"
)

// packetBuffer is an unbounded FIFO of Opus packets. Producers never
// block. Consumers block until a packet arrives or the buffer is closed.
type packetBuffer struct {
	mu      sync.Mutex
	cond    *sync.Cond
	packets [][]byte
	head    int
	closed  bool
	err     error
}

func newPacketBuffer() *packetBuffer {
	b := &packetBuffer{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *packetBuffer) push(packet []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.packets = append(b.packets, packet)
	b.cond.Signal()
}

// close marks the end of input. Buffered packets can still be read; err
// is returned once they are exhausted. A nil err means io.EOF.
func (b *packetBuffer) close(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.err = err
	b.cond.Broadcast()
}

// discard drops everything buffered and closes the buffer, so readers
// see io.EOF immediately.
func (b *packetBuffer) discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.packets = nil
	b.head = 0
	b.closed = true
	b.err = nil
	b.cond.Broadcast()
}

func (b *packetBuffer) pop() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.head == len(b.packets) && !b.closed {
		b.cond.Wait()
	}

	if b.head == len(b.packets) {
		if b.err != nil {
			return nil, b.err
		}
		return nil, io.EOF
	}

	packet := b.packets[b.head]
	b.packets[b.head] = nil
	b.head++

	if b.head > 256 && b.head*2 > len(b.packets) {
		n := copy(b.packets, b.packets[b.head:])
		b.packets = b.packets[:n]
		b.head = 0
	}
	return packet, nil
}

func (b *packetBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.packets) - b.head
}
