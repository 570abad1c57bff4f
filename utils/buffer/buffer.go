// Package buffer pools the host memory backing bitstream buffers.
package buffer

import (
	"sync"
)

// PooledBuffer is a byte slice borrowed from a process wide pool.
type PooledBuffer interface {
	Data() []byte
	Len() int
	Cap() int
	// Resize changes the length, keeping the contents. Grown bytes are zero.
	Resize(int)
	// Release returns the buffer to the pool; it must not be used afterwards.
	Release()
}

const (
	defaultBufSize = 4 * 1024
	bigBufSize     = 64 * 1024
	maxBufSize     = 16 * 1024 * 1024 // larger buffers are left to the GC instead of the pool
)

var bufPool = sync.Pool{
	New: func() any {
		return &memBuffer{
			buf: make([]byte, 0, defaultBufSize),
		}
	},
}

var bigBufPool = sync.Pool{
	New: func() any {
		return &memBuffer{
			buf: make([]byte, 0, bigBufSize),
		}
	},
}

// Get returns a buffer of len size. Contents are not cleared.
func Get(size int) PooledBuffer {
	var b *memBuffer
	if size >= bigBufSize {
		b = bigBufPool.Get().(*memBuffer)
	} else {
		b = bufPool.Get().(*memBuffer)
	}

	if cap(b.buf) < size {
		b.buf = make([]byte, size)
	}
	b.buf = b.buf[:size]
	return b
}

// GetZeroed returns a buffer of len size filled with zeroes.
func GetZeroed(size int) PooledBuffer {
	b := Get(size)
	clear(b.Data())
	return b
}

type memBuffer struct {
	buf []byte
}

func (b *memBuffer) Data() []byte {
	return b.buf
}

func (b *memBuffer) Len() int {
	return len(b.buf)
}

func (b *memBuffer) Cap() int {
	return cap(b.buf)
}

func (b *memBuffer) Resize(size int) {
	if size > cap(b.buf) {
		newBuf := make([]byte, size)
		copy(newBuf, b.buf)
		b.buf = newBuf
		return
	}
	old := len(b.buf)
	b.buf = b.buf[:size]
	if size > old {
		clear(b.buf[old:])
	}
}

func (b *memBuffer) Release() {
	if cap(b.buf) > maxBufSize {
		return
	}

	b.buf = b.buf[:0]
	if cap(b.buf) >= bigBufSize {
		bigBufPool.Put(b)
	} else {
		bufPool.Put(b)
	}
}
