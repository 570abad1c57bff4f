package framedata

import (
	"fmt"
	"slices"
	"sync"

	"github.com/dustin/go-humanize"
	"go.uber.org/atomic"

	"github.com/ugparu/vkdecoder"
	"github.com/ugparu/vkdecoder/utils/logger"
)

// DefaultMaxBitstreamNodes bounds the number of buffers a pool keeps.
const DefaultMaxBitstreamNodes = 64

// PooledBitstream is a bitstream buffer lent by a BitstreamPool.
// It returns to the pool's free list when its last reference is released.
type PooledBitstream struct {
	vkdecoder.BitstreamBuffer
	pool     *BitstreamPool
	refCount *atomic.Int32
}

// AddRef takes a reference to the pooled buffer.
func (b *PooledBitstream) AddRef() int32 {
	return b.refCount.Inc()
}

// Release drops a reference. The last one hands the buffer back to its pool,
// or destroys it if it is not pooled.
func (b *PooledBitstream) Release() int32 {
	cnt := b.refCount.Dec()
	if cnt == 0 {
		if b.pool != nil {
			b.pool.put(b)
		} else {
			b.BitstreamBuffer.Release()
		}
	}
	return cnt
}

func (b *PooledBitstream) String() string {
	return fmt.Sprintf("BITSTREAM %d size=%s", b.Buffer(), humanize.IBytes(b.MaxSize()))
}

// BitstreamPool keeps released bitstream buffers for reuse.
// Buffers are released by frame consumers, so the free list is guarded by a mutex.
type BitstreamPool struct {
	mu              sync.Mutex
	nodes           []*PooledBitstream
	free            []*PooledBitstream
	maxNodes        int
	offsetAlignment uint64
	sizeAlignment   uint64
	closed          bool
}

// NewBitstreamPool returns an empty pool keeping at most maxNodes buffers.
func NewBitstreamPool(maxNodes int) *BitstreamPool {
	if maxNodes <= 0 {
		maxNodes = DefaultMaxBitstreamNodes
	}
	return &BitstreamPool{
		maxNodes:        maxNodes,
		offsetAlignment: 1,
		sizeAlignment:   1,
	}
}

// SetAlignment sets the offset and size alignments reused buffers must satisfy.
func (p *BitstreamPool) SetAlignment(offsetAlignment, sizeAlignment uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offsetAlignment = max(offsetAlignment, 1)
	p.sizeAlignment = max(sizeAlignment, 1)
}

// Alignment returns the offset and size alignments of the pool.
func (p *BitstreamPool) Alignment() (offsetAlignment, sizeAlignment uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offsetAlignment, p.sizeAlignment
}

// Acquire returns a free buffer holding at least size bytes with one reference taken.
// Free buffers violating the current alignments are destroyed on the way.
func (p *BitstreamPool) Acquire(size uint64) (*PooledBitstream, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i < len(p.free); {
		node := p.free[i]
		if !p.aligned(node) {
			logger.Debugf(p, "Dropping misaligned %v", node)
			p.free = slices.Delete(p.free, i, i+1)
			p.removeNode(node)
			node.BitstreamBuffer.Release()
			continue
		}
		if node.MaxSize() >= size {
			p.free = slices.Delete(p.free, i, i+1)
			node.refCount.Store(1)
			return node, true
		}
		i++
	}
	return nil, false
}

func (p *BitstreamPool) aligned(node *PooledBitstream) bool {
	return node.OffsetAlignment()%p.offsetAlignment == 0 && node.SizeAlignment()%p.sizeAlignment == 0
}

// Add wraps a newly created buffer. The returned buffer is in use with one reference.
// When the pool is full the smallest free buffer is evicted; if none is free the
// buffer is not pooled and is destroyed on its last release.
func (p *BitstreamPool) Add(buf vkdecoder.BitstreamBuffer) *PooledBitstream {
	node := &PooledBitstream{
		BitstreamBuffer: buf,
		refCount:        atomic.NewInt32(1),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return node
	}
	if len(p.nodes) >= p.maxNodes && !p.evictSmallest() {
		logger.Warningf(p, "Could not add %v to a full pool", node)
		return node
	}
	node.pool = p
	p.nodes = append(p.nodes, node)
	return node
}

func (p *BitstreamPool) evictSmallest() bool {
	if len(p.free) == 0 {
		return false
	}
	smallest := 0
	for i, node := range p.free {
		if node.MaxSize() < p.free[smallest].MaxSize() {
			smallest = i
		}
	}
	node := p.free[smallest]
	p.free = slices.Delete(p.free, smallest, smallest+1)
	p.removeNode(node)
	node.BitstreamBuffer.Release()
	return true
}

func (p *BitstreamPool) removeNode(node *PooledBitstream) {
	if i := slices.Index(p.nodes, node); i >= 0 {
		p.nodes = slices.Delete(p.nodes, i, i+1)
	}
}

func (p *BitstreamPool) put(node *PooledBitstream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		node.BitstreamBuffer.Release()
		return
	}
	p.free = append(p.free, node)
}

// FreeNodes returns the number of buffers ready for reuse.
func (p *BitstreamPool) FreeNodes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Nodes returns the number of pooled buffers, free or in use.
func (p *BitstreamPool) Nodes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.nodes)
}

// MaxNodes returns the pool capacity.
func (p *BitstreamPool) MaxNodes() int {
	return p.maxNodes
}

// Destroy releases the free buffers. Buffers still in use are destroyed on their last release.
func (p *BitstreamPool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, node := range p.free {
		node.BitstreamBuffer.Release()
	}
	p.free = nil
	p.nodes = nil
	p.closed = true
}

func (p *BitstreamPool) String() string {
	return "BITSTREAM_POOL"
}
