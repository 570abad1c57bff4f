package recorder

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/atomic"

	"github.com/ugparu/vkdecoder"
	"github.com/ugparu/vkdecoder/utils/buffer"
)

var ErrOutOfDeviceMemory = errors.New("out of device memory")

// bitstreamBuffer keeps the contents of a bitstream buffer in pooled host memory.
type bitstreamBuffer struct {
	device          *Device
	handle          vkdecoder.Buffer
	maxSize         uint64
	offsetAlignment uint64
	sizeAlignment   uint64
	refCount        *atomic.Int32

	mu   sync.Mutex
	data buffer.PooledBuffer
}

// CreateBitstreamBuffer implements vkdecoder.DeviceContext. The size is rounded up to
// the size alignment and the initial contents are copied at offset zero.
func (d *Device) CreateBitstreamBuffer(info *vkdecoder.BitstreamBufferCreateInfo) (vkdecoder.BitstreamBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fault(OpCreateBitstream); err != nil {
		return nil, err
	}
	size := vkdecoder.AlignUp64(max(info.Size, uint64(len(info.Init))), info.SizeAlignment)
	if size == 0 {
		return nil, errors.New("empty bitstream buffer")
	}
	b := &bitstreamBuffer{
		device:          d,
		handle:          vkdecoder.Buffer(d.handle()),
		maxSize:         size,
		offsetAlignment: max(info.OffsetAlignment, 1),
		sizeAlignment:   max(info.SizeAlignment, 1),
		refCount:        atomic.NewInt32(1),
		data:            buffer.GetZeroed(int(size)), //nolint:gosec
	}
	copy(b.data.Data(), info.Init)
	d.bitstreams[b.handle] = b
	return b, nil
}

// LiveBitstreamBuffers returns the number of bitstream buffers not destroyed yet.
func (d *Device) LiveBitstreamBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.bitstreams)
}

// BitstreamData returns a copy of the contents of a live bitstream buffer.
func (d *Device) BitstreamData(handle vkdecoder.Buffer) ([]byte, bool) {
	d.mu.Lock()
	b, ok := d.bitstreams[handle]
	d.mu.Unlock()
	if !ok {
		return nil, false
	}
	data, err := b.ReadData(0, b.maxSize)
	return data, err == nil
}

func (b *bitstreamBuffer) AddRef() int32 {
	return b.refCount.Inc()
}

func (b *bitstreamBuffer) Release() int32 {
	cnt := b.refCount.Dec()
	if cnt != 0 {
		return cnt
	}
	b.device.mu.Lock()
	delete(b.device.bitstreams, b.handle)
	b.device.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data != nil {
		b.data.Release()
		b.data = nil
	}
	return cnt
}

func (b *bitstreamBuffer) Buffer() vkdecoder.Buffer { return b.handle }
func (b *bitstreamBuffer) MaxSize() uint64 { return b.maxSize }
func (b *bitstreamBuffer) OffsetAlignment() uint64 { return b.offsetAlignment }
func (b *bitstreamBuffer) SizeAlignment() uint64 { return b.sizeAlignment }

func (b *bitstreamBuffer) bounds(offset, size uint64) ([]byte, error) {
	if b.data == nil {
		return nil, fmt.Errorf("buffer %d is destroyed", b.handle)
	}
	if offset > b.maxSize || size > b.maxSize-offset {
		return nil, fmt.Errorf("%w: %d+%d of %d", vkdecoder.ErrBitstreamOverflow, offset, size, b.maxSize)
	}
	return b.data.Data()[offset : offset+size], nil
}

func (b *bitstreamBuffer) CopyData(src []byte, dstOffset uint64) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	dst, err := b.bounds(dstOffset, uint64(len(src)))
	if err != nil {
		return 0, err
	}
	return uint64(copy(dst, src)), nil
}

func (b *bitstreamBuffer) MemsetData(value byte, offset, size uint64) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	dst, err := b.bounds(offset, size)
	if err != nil {
		return 0, err
	}
	for i := range dst {
		dst[i] = value
	}
	return size, nil
}

func (b *bitstreamBuffer) ReadData(offset, size uint64) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	src, err := b.bounds(offset, size)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), src...), nil
}

// CreateImage creates an image. It fails once the configured image budget is used up.
func (d *Device) CreateImage(info *vkdecoder.ImageCreateInfo) (vkdecoder.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fault(OpCreateImage); err != nil {
		return 0, err
	}
	if d.cfg.MaxImages > 0 && len(d.images) >= d.cfg.MaxImages {
		return 0, fmt.Errorf("%w: %d images allocated", ErrOutOfDeviceMemory, len(d.images))
	}
	img := vkdecoder.Image(d.handle())
	d.images[img] = *info
	return img, nil
}

// DestroyImage destroys an image.
func (d *Device) DestroyImage(img vkdecoder.Image) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.images, img)
}

// ImageInfo returns the create info of a live image.
func (d *Device) ImageInfo(img vkdecoder.Image) (vkdecoder.ImageCreateInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	info, ok := d.images[img]
	return info, ok
}

// LiveImages returns the number of images not destroyed yet.
func (d *Device) LiveImages() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.images)
}

// CreateImageView creates a view of layerCount layers of img starting at baseLayer.
func (d *Device) CreateImageView(img vkdecoder.Image, baseLayer, layerCount uint32) (vkdecoder.ImageView, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	info, ok := d.images[img]
	if !ok {
		return 0, fmt.Errorf("unknown image %d", img)
	}
	if layerCount == 0 || baseLayer+layerCount > max(info.ArrayLayers, 1) {
		return 0, fmt.Errorf("layers %d+%d out of %d", baseLayer, layerCount, info.ArrayLayers)
	}
	v := vkdecoder.ImageView(d.handle())
	d.views[v] = img
	return v, nil
}

// DestroyImageView destroys an image view.
func (d *Device) DestroyImageView(v vkdecoder.ImageView) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.views, v)
}
