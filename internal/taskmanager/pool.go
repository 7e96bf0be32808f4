package taskmanager

import (
	"sync"
	"sync/atomic"
)

// feedBuffer carries one copied capture buffer through the queue.
type feedBuffer struct {
	data []byte
}

// bufferPool recycles feed buffers. Capture buffers vary in length, so a
// pooled buffer is reused when its capacity is large enough.
type bufferPool struct {
	pool sync.Pool
	gets atomic.Uint64
	news atomic.Uint64
}

func newBufferPool(sizeHint int) *bufferPool {
	bp := &bufferPool{}
	bp.pool.New = func() any {
		bp.news.Add(1)
		return &feedBuffer{data: make([]byte, 0, sizeHint)}
	}
	return bp
}

// get returns a buffer holding a copy of data.
func (bp *bufferPool) get(data []byte) *feedBuffer {
	bp.gets.Add(1)
	fb := bp.pool.Get().(*feedBuffer)
	if cap(fb.data) < len(data) {
		fb.data = make([]byte, len(data))
	}
	fb.data = fb.data[:len(data)]
	copy(fb.data, data)
	return fb
}

func (bp *bufferPool) put(fb *feedBuffer) {
	if fb == nil {
		return
	}
	fb.data = fb.data[:0]
	bp.pool.Put(fb)
}

// stats returns reuse hits and fresh allocations.
func (bp *bufferPool) stats() (hits, misses uint64) {
	gets, news := bp.gets.Load(), bp.news.Load()
	if gets > news {
		hits = gets - news
	}
	return hits, news
}
