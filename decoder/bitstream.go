package decoder

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/ugparu/vkdecoder"
	"github.com/ugparu/vkdecoder/utils/logger"
)

// bitstreamAlignment is the minimum offset and size alignment of new bitstream buffers.
const bitstreamAlignment = 256

// GetBitstreamBuffer returns a buffer of at least size bytes starting with init and its capacity.
// A reused buffer is zero-filled past init. Allocation failure returns ErrBitstreamAllocation
// and leaves the decoder usable.
func (dec *Decoder) GetBitstreamBuffer(size uint64, init []byte) (vkdecoder.BitstreamBuffer, uint64, error) {
	if err := dec.usable(); err != nil {
		return nil, 0, err
	}
	if uint64(len(init)) > size {
		return nil, 0, fmt.Errorf("%w: %d init bytes for %d", vkdecoder.ErrBitstreamOverflow, len(init), size)
	}

	var buf vkdecoder.BitstreamBuffer
	pool := dec.frameData.Bitstream()
	if dec.opts.EnableBitstreamPool {
		if node, ok := pool.Acquire(size); ok {
			if err := fillBitstream(node, init); err != nil {
				node.Release()
				return nil, 0, fmt.Errorf("%w: %w", vkdecoder.ErrBitstreamAllocation, err)
			}
			logger.Tracef(dec, "Reusing %v, %d of %d buffers free", node, pool.FreeNodes(), pool.MaxNodes())
			buf = node
		}
	}

	if buf == nil {
		offsetAlignment, sizeAlignment := pool.Alignment()
		created, err := dec.device.CreateBitstreamBuffer(&vkdecoder.BitstreamBufferCreateInfo{
			QueueFamily:     dec.queueFamily(),
			Size:            size,
			OffsetAlignment: max(bitstreamAlignment, offsetAlignment),
			SizeAlignment:   max(bitstreamAlignment, sizeAlignment),
			Init:            init,
		})
		if err != nil {
			logger.Warningf(dec, "Could not allocate a %s bitstream buffer: %v", humanize.IBytes(size), err)
			return nil, 0, fmt.Errorf("%w: %w", vkdecoder.ErrBitstreamAllocation, err)
		}
		buf = created
		if dec.opts.EnableBitstreamPool {
			buf = pool.Add(created)
		}
	}

	if capacity := buf.MaxSize(); capacity > dec.maxStreamBufferSize {
		logger.Infof(dec, "Allocated bitstream buffer with size %s", humanize.IBytes(capacity))
		dec.maxStreamBufferSize = capacity
	}
	return buf, buf.MaxSize(), nil
}

// fillBitstream copies init at offset zero and clears the rest of the buffer.
func fillBitstream(buf vkdecoder.BitstreamBuffer, init []byte) error {
	capacity := buf.MaxSize()
	copySize := min(uint64(len(init)), capacity)
	if _, err := buf.CopyData(init[:copySize], 0); err != nil {
		return err
	}
	if copySize < capacity {
		if _, err := buf.MemsetData(0, copySize, capacity-copySize); err != nil {
			return err
		}
	}
	return nil
}

// MaxStreamBufferSize returns the largest bitstream buffer handed out so far.
func (dec *Decoder) MaxStreamBufferSize() uint64 {
	return dec.maxStreamBufferSize
}
