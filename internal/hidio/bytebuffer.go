package hidio

// ChunkBuffer is a bounded FIFO of fixed-size chunks between the transport
// and the framer. Chunks are value-copied in and out of a backing array
// allocated once at construction; a chunk shorter than the configured size
// is zero-padded on enqueue.
type ChunkBuffer struct {
	chunkSize int
	slots     []byte
	head      int
	count     int
	capacity  int
}

// NewChunkBuffer creates a buffer holding up to capacity chunks of
// chunkSize bytes each.
func NewChunkBuffer(chunkSize, capacity int) *ChunkBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ChunkBuffer{
		chunkSize: chunkSize,
		slots:     make([]byte, chunkSize*capacity),
		capacity:  capacity,
	}
}

// ChunkSize returns the fixed chunk size.
func (b *ChunkBuffer) ChunkSize() int { return b.chunkSize }

// Len returns the number of queued chunks.
func (b *ChunkBuffer) Len() int { return b.count }

// Cap returns the maximum number of chunks.
func (b *ChunkBuffer) Cap() int { return b.capacity }

// Free returns the number of unused slots.
func (b *ChunkBuffer) Free() int { return b.capacity - b.count }

// Enqueue copies chunk into the next free slot. Returns ErrBufferFull when
// no slot is available and ErrChunkSize when the chunk is longer than the
// configured size.
func (b *ChunkBuffer) Enqueue(chunk []byte) error {
	if len(chunk) > b.chunkSize {
		return ErrChunkSize
	}
	if b.count == b.capacity {
		return ErrBufferFull
	}
	slot := b.slot((b.head + b.count) % b.capacity)
	n := copy(slot, chunk)
	clear(slot[n:])
	b.count++
	return nil
}

// Dequeue copies the oldest chunk into dst and reports whether a chunk was
// available. dst must hold at least ChunkSize bytes.
func (b *ChunkBuffer) Dequeue(dst []byte) bool {
	if b.count == 0 {
		return false
	}
	copy(dst, b.slot(b.head))
	b.head = (b.head + 1) % b.capacity
	b.count--
	return true
}

// Clear discards all queued chunks.
func (b *ChunkBuffer) Clear() {
	b.head = 0
	b.count = 0
}

func (b *ChunkBuffer) slot(i int) []byte {
	return b.slots[i*b.chunkSize : (i+1)*b.chunkSize]
}
