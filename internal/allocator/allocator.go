// Package allocator provides the buffer allocator handed to the display core
// by the embedding application.
package allocator

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

var (
	// ErrExhausted is returned when an allocation would exceed the configured limit.
	ErrExhausted = errors.New("buffer memory exhausted")
	// ErrUnknownBuffer is returned when freeing a buffer this allocator does not own.
	ErrUnknownBuffer = errors.New("unknown buffer")
	// ErrInvalidSize is returned for dimensions that give no addressable size.
	ErrInvalidSize = errors.New("invalid buffer size")
)

// BufferInfo describes a buffer request.
type BufferInfo struct {
	Width         int
	Height        int
	BytesPerPixel int
	Usage         string
}

// Size returns the number of bytes needed for the buffer. Non-positive
// dimensions and sizes that do not fit in an int are rejected.
func (i BufferInfo) Size() (int64, error) {
	bpp := int64(i.BytesPerPixel)
	if bpp <= 0 {
		bpp = 4
	}
	w, h := int64(i.Width), int64(i.Height)
	if w <= 0 || h <= 0 {
		return 0, fmt.Errorf("%w: dimensions %dx%d", ErrInvalidSize, i.Width, i.Height)
	}
	if w > math.MaxInt/h || w*h > math.MaxInt/bpp {
		return 0, fmt.Errorf("%w: %dx%d at %d bytes per pixel overflows", ErrInvalidSize, i.Width, i.Height, bpp)
	}
	return w * h * bpp, nil
}

// Buffer is an allocated buffer.
type Buffer struct {
	ID   uint64
	Info BufferInfo
	Data []byte
}

// BufferAllocator allocates and frees display buffers.
type BufferAllocator interface {
	AllocateBuffer(info BufferInfo) (*Buffer, error)
	FreeBuffer(buf *Buffer) error
}

// Stats reports allocator usage.
type Stats struct {
	Live      int
	UsedBytes int64
	Limit     int64
}

// HeapAllocator allocates buffers on the Go heap up to a byte limit.
type HeapAllocator struct {
	mu    sync.Mutex
	limit int64
	used  int64
	next  uint64
	live  map[uint64]*Buffer
}

var _ BufferAllocator = (*HeapAllocator)(nil)

// NewHeapAllocator creates an allocator. A limit <= 0 means unlimited.
func NewHeapAllocator(limit int64) *HeapAllocator {
	return &HeapAllocator{
		limit: limit,
		live:  make(map[uint64]*Buffer),
	}
}

// AllocateBuffer allocates a zeroed buffer for info.
func (a *HeapAllocator) AllocateBuffer(info BufferInfo) (*Buffer, error) {
	size, err := info.Size()
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.limit > 0 && a.used+size > a.limit {
		return nil, fmt.Errorf("%w: need %d bytes, %d of %d in use", ErrExhausted, size, a.used, a.limit)
	}

	a.next++
	buf := &Buffer{
		ID:   a.next,
		Info: info,
		Data: make([]byte, size),
	}
	a.live[buf.ID] = buf
	a.used += size
	return buf, nil
}

// FreeBuffer releases buf.
func (a *HeapAllocator) FreeBuffer(buf *Buffer) error {
	if buf == nil {
		return ErrUnknownBuffer
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	owned, ok := a.live[buf.ID]
	if !ok || owned != buf {
		return fmt.Errorf("%w: id %d", ErrUnknownBuffer, buf.ID)
	}
	delete(a.live, buf.ID)
	a.used -= int64(len(buf.Data))
	buf.Data = nil
	return nil
}

// Stats returns a point-in-time view of the allocator.
func (a *HeapAllocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{Live: len(a.live), UsedBytes: a.used, Limit: a.limit}
}
