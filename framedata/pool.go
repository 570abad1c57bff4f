package framedata

import (
	"fmt"

	"github.com/ugparu/vkdecoder"
	"github.com/ugparu/vkdecoder/utils/logger"
)

// Slot is the per-surface state reused by every picture decoded into that surface.
type Slot struct {
	Index         int
	CommandBuffer vkdecoder.CommandBuffer
}

// Pool holds one command buffer per decode surface and the shared bitstream buffer pool.
type Pool struct {
	device         vkdecoder.DeviceContext
	commandBuffers []vkdecoder.CommandBuffer
	bitstream      *BitstreamPool
	codedExtent    vkdecoder.Extent2D
	chroma         vkdecoder.ChromaSubsampling
}

// NewPool returns an empty pool. maxBitstreamNodes bounds the bitstream buffer pool.
func NewPool(device vkdecoder.DeviceContext, maxBitstreamNodes int) *Pool {
	return &Pool{
		device:    device,
		bitstream: NewBitstreamPool(maxBitstreamNodes),
	}
}

// Resize grows the pool to count slots and sets the bitstream buffer alignments.
// Existing slots are kept. It returns the number of slots.
func (p *Pool) Resize(count int, codedExtent vkdecoder.Extent2D, chroma vkdecoder.ChromaSubsampling,
	offsetAlignment, sizeAlignment uint64,
) (int, error) {
	p.codedExtent = codedExtent
	p.chroma = chroma
	p.bitstream.SetAlignment(offsetAlignment, sizeAlignment)

	if count > len(p.commandBuffers) {
		cbs, err := p.device.AllocateCommandBuffers(count - len(p.commandBuffers))
		if err != nil {
			return len(p.commandBuffers), fmt.Errorf("allocate command buffers: %w", err)
		}
		p.commandBuffers = append(p.commandBuffers, cbs...)
	}
	logger.Debugf(p, "Resized to %d slots for %v %v", len(p.commandBuffers), codedExtent, chroma)
	return len(p.commandBuffers), nil
}

// Slot returns the slot of a decode surface.
func (p *Pool) Slot(index int) (Slot, error) {
	if index < 0 || index >= len(p.commandBuffers) {
		return Slot{}, fmt.Errorf("%w: %w", vkdecoder.ErrFrameData,
			&vkdecoder.SurfaceIndexError{Index: index, Count: len(p.commandBuffers)})
	}
	return Slot{Index: index, CommandBuffer: p.commandBuffers[index]}, nil
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return len(p.commandBuffers)
}

// Bitstream returns the bitstream buffer pool.
func (p *Pool) Bitstream() *BitstreamPool {
	return p.bitstream
}

// Destroy frees the command buffers and the free bitstream buffers.
func (p *Pool) Destroy() {
	if len(p.commandBuffers) > 0 {
		p.device.FreeCommandBuffers(p.commandBuffers)
		p.commandBuffers = nil
	}
	p.bitstream.Destroy()
}

func (p *Pool) String() string {
	return fmt.Sprintf("FRAME_DATA slots=%d", len(p.commandBuffers))
}
