// Package framebuffer is a reference vkdecoder.FrameBuffer. It owns the decode image pool,
// tracks image layouts per picture, keeps per-picture synchronization objects and hands
// decoded pictures to a consumer in decode order.
package framebuffer

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/ugparu/vkdecoder"
	"github.com/ugparu/vkdecoder/utils/logger"
)

var (
	ErrClosed       = errors.New("frame buffer closed")
	ErrNoFreeSlot   = errors.New("no free picture slot")
	ErrBadIndex     = errors.New("picture index out of range")
	ErrNotDisplayed = errors.New("picture is not held by the consumer")
)

// Device creates the native objects of the image pool.
type Device interface {
	CreateImage(info *vkdecoder.ImageCreateInfo) (vkdecoder.Image, error)
	DestroyImage(img vkdecoder.Image)
	CreateImageView(img vkdecoder.Image, baseLayer, layerCount uint32) (vkdecoder.ImageView, error)
	DestroyImageView(view vkdecoder.ImageView)
	CreateFence(signaled bool) (vkdecoder.Fence, error)
	DestroyFence(fence vkdecoder.Fence)
	CreateSemaphore() (vkdecoder.Semaphore, error)
	DestroySemaphore(sem vkdecoder.Semaphore)
	CreateQueryPool(count uint32, profile *vkdecoder.VideoProfile) (vkdecoder.QueryPool, error)
	DestroyQueryPool(pool vkdecoder.QueryPool)
}

// FrameBuffer is safe for concurrent use by one decoder and one consumer.
type FrameBuffer struct {
	device Device

	mu       sync.Mutex
	cond     *sync.Cond
	cfg      vkdecoder.ImagePoolConfig
	pictures []*picture
	display  []*picture
	decoded  uint64
	closed   bool

	arrayImage vkdecoder.Image
	arrayView  vkdecoder.ImageView
	queryPool  vkdecoder.QueryPool
	queries    uint32
}

var _ vkdecoder.FrameBuffer = (*FrameBuffer)(nil)

// New returns an empty frame buffer allocating from device.
func New(device Device) *FrameBuffer {
	fb := &FrameBuffer{device: device}
	fb.cond = sync.NewCond(&fb.mu)
	return fb
}

// reconfigure reports whether existing pictures can not serve cfg.
func (fb *FrameBuffer) reconfigure(cfg *vkdecoder.ImagePoolConfig) bool {
	cur := fb.cfg
	return cur.Profile != cfg.Profile || cur.Format != cfg.Format || cur.MaxExtent != cfg.MaxExtent ||
		cur.Tiling != cfg.Tiling || cur.Usage != cfg.Usage || cur.QueueFamily != cfg.QueueFamily ||
		cur.UseImageArray != cfg.UseImageArray || cur.UseImageViewArray != cfg.UseImageViewArray ||
		cur.UseSeparateOutputImages != cfg.UseSeparateOutputImages || cur.UseLinearOutput != cfg.UseLinearOutput ||
		(cfg.UseImageArray && len(fb.pictures) < cfg.NumImages)
}

// InitImagePool implements vkdecoder.FrameBuffer. Pictures are kept when the configuration
// only grows the pool; any other change reallocates every picture. On a partial allocation
// the returned count is smaller than requested and the error tells why.
func (fb *FrameBuffer) InitImagePool(cfg *vkdecoder.ImagePoolConfig) (int, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.closed {
		return 0, ErrClosed
	}

	if len(fb.pictures) > 0 && fb.reconfigure(cfg) {
		logger.Infof(fb, "Reallocating %d pictures for %v %v", len(fb.pictures), cfg.Format, cfg.MaxExtent)
		fb.destroyPictures()
	}
	fb.cfg = *cfg

	if cfg.UseImageArray && fb.arrayImage == 0 && cfg.NumImages > 0 {
		if err := fb.createImageArray(cfg); err != nil {
			return 0, err
		}
	}

	var err error
	for len(fb.pictures) < cfg.NumImages {
		var pic *picture
		if pic, err = fb.createPicture(len(fb.pictures)); err != nil {
			logger.Warningf(fb, "Allocated %d of %d pictures: %v", len(fb.pictures), cfg.NumImages, err)
			break
		}
		fb.pictures = append(fb.pictures, pic)
	}

	if n := uint32(len(fb.pictures)); n > fb.queries { //nolint:gosec
		if fb.queryPool != 0 {
			fb.device.DestroyQueryPool(fb.queryPool)
			fb.queryPool, fb.queries = 0, 0
		}
		pool, qErr := fb.device.CreateQueryPool(n, &cfg.Profile)
		if qErr != nil {
			return 0, fmt.Errorf("create query pool: %w", qErr)
		}
		fb.queryPool, fb.queries = pool, n
	}

	logger.Debugf(fb, "Image pool ready with %d pictures %v coded=%v", len(fb.pictures), cfg.Format, cfg.CodedExtent)
	return min(len(fb.pictures), cfg.NumImages), err
}

func (fb *FrameBuffer) createImageArray(cfg *vkdecoder.ImagePoolConfig) error {
	img, err := fb.device.CreateImage(&vkdecoder.ImageCreateInfo{
		Profile:     cfg.Profile,
		Format:      cfg.Format,
		Extent:      cfg.MaxExtent,
		ArrayLayers: uint32(cfg.NumImages), //nolint:gosec
		Tiling:      vkdecoder.ImageTilingOptimal,
		Usage:       cfg.Usage,
		QueueFamily: cfg.QueueFamily,
	})
	if err != nil {
		return fmt.Errorf("create image array: %w", err)
	}
	fb.arrayImage = img
	if cfg.UseImageViewArray {
		if fb.arrayView, err = fb.device.CreateImageView(img, 0, uint32(cfg.NumImages)); err != nil { //nolint:gosec
			fb.device.DestroyImage(img)
			fb.arrayImage = 0
			return fmt.Errorf("create image array view: %w", err)
		}
	}
	return nil
}

func (fb *FrameBuffer) createPicture(index int) (*picture, error) {
	pic := &picture{index: index, picNum: -1}
	if err := fb.allocatePicture(pic); err != nil {
		fb.destroyPicture(pic)
		return nil, err
	}
	return pic, nil
}

func (fb *FrameBuffer) allocatePicture(pic *picture) (err error) {
	switch {
	case fb.arrayImage != 0:
		pic.image = fb.arrayImage
		pic.layer = uint32(pic.index) //nolint:gosec
		if fb.arrayView == 0 {
			if pic.view, err = fb.device.CreateImageView(fb.arrayImage, pic.layer, 1); err != nil {
				return err
			}
		}
	default:
		if pic.image, err = fb.device.CreateImage(fb.imageInfo(vkdecoder.ImageTilingOptimal)); err != nil {
			return err
		}
		if pic.view, err = fb.device.CreateImageView(pic.image, 0, 1); err != nil {
			return err
		}
	}

	if fb.cfg.UseSeparateOutputImages || fb.cfg.UseLinearOutput {
		tiling := vkdecoder.ImageTilingOptimal
		if fb.cfg.UseLinearOutput {
			tiling = vkdecoder.ImageTilingLinear
		}
		if pic.outImage, err = fb.device.CreateImage(fb.imageInfo(tiling)); err != nil {
			return err
		}
		if pic.outView, err = fb.device.CreateImageView(pic.outImage, 0, 1); err != nil {
			return err
		}
	}

	if pic.completeFence, err = fb.device.CreateFence(true); err != nil {
		return err
	}
	if pic.completeSemaphore, err = fb.device.CreateSemaphore(); err != nil {
		return err
	}
	if pic.consumerFence, err = fb.device.CreateFence(false); err != nil {
		return err
	}
	if pic.consumerSemaphore, err = fb.device.CreateSemaphore(); err != nil {
		return err
	}
	return nil
}

func (fb *FrameBuffer) imageInfo(tiling vkdecoder.ImageTiling) *vkdecoder.ImageCreateInfo {
	return &vkdecoder.ImageCreateInfo{
		Profile:     fb.cfg.Profile,
		Format:      fb.cfg.Format,
		Extent:      fb.cfg.MaxExtent,
		ArrayLayers: 1,
		Tiling:      tiling,
		Usage:       fb.cfg.Usage,
		QueueFamily: fb.cfg.QueueFamily,
	}
}

func (fb *FrameBuffer) destroyPicture(pic *picture) {
	pic.releaseRefs()
	if pic.view != 0 {
		fb.device.DestroyImageView(pic.view)
	}
	if pic.image != 0 && pic.image != fb.arrayImage {
		fb.device.DestroyImage(pic.image)
	}
	if pic.outView != 0 {
		fb.device.DestroyImageView(pic.outView)
	}
	if pic.outImage != 0 {
		fb.device.DestroyImage(pic.outImage)
	}
	if pic.completeFence != 0 {
		fb.device.DestroyFence(pic.completeFence)
	}
	if pic.completeSemaphore != 0 {
		fb.device.DestroySemaphore(pic.completeSemaphore)
	}
	if pic.consumerFence != 0 {
		fb.device.DestroyFence(pic.consumerFence)
	}
	if pic.consumerSemaphore != 0 {
		fb.device.DestroySemaphore(pic.consumerSemaphore)
	}
}

func (fb *FrameBuffer) destroyPictures() {
	for _, pic := range fb.pictures {
		fb.destroyPicture(pic)
	}
	fb.pictures = nil
	fb.display = nil
	if fb.arrayView != 0 {
		fb.device.DestroyImageView(fb.arrayView)
		fb.arrayView = 0
	}
	if fb.arrayImage != 0 {
		fb.device.DestroyImage(fb.arrayImage)
		fb.arrayImage = 0
	}
	if fb.queryPool != 0 {
		fb.device.DestroyQueryPool(fb.queryPool)
		fb.queryPool, fb.queries = 0, 0
	}
}

func (fb *FrameBuffer) picture(index int) (*picture, error) {
	if index < 0 || index >= len(fb.pictures) {
		return nil, fmt.Errorf("%w: %d of %d", ErrBadIndex, index, len(fb.pictures))
	}
	return fb.pictures[index], nil
}

// Size returns the number of allocated pictures.
func (fb *FrameBuffer) Size() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.pictures)
}

// ReservePicture returns the lowest free picture index and marks it reserved.
func (fb *FrameBuffer) ReservePicture() (int, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.closed {
		return -1, ErrClosed
	}
	for _, pic := range fb.pictures {
		if pic.state == stateFree {
			pic.state = stateReserved
			return pic.index, nil
		}
	}
	return -1, ErrNoFreeSlot
}

// SetPicNumInDecodeOrder implements vkdecoder.FrameBuffer. It returns -1 for an unknown index.
func (fb *FrameBuffer) SetPicNumInDecodeOrder(index int, picNum int32) int32 {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	pic, err := fb.picture(index)
	if err != nil {
		return -1
	}
	old := pic.picNum
	pic.picNum = picNum
	return old
}

func (fb *FrameBuffer) resource(pic *picture) vkdecoder.ImageResource {
	res := vkdecoder.ImageResource{
		Resource: vkdecoder.PictureResource{
			ImageView:   pic.view,
			CodedExtent: fb.cfg.CodedExtent,
		},
		Info: vkdecoder.PictureResourceInfo{
			Image:          pic.image,
			Format:         fb.cfg.Format,
			CurrentLayout:  pic.layout,
			BaseArrayLayer: pic.layer,
		},
	}
	if fb.arrayView != 0 {
		res.Resource.ImageView = fb.arrayView
		res.Resource.BaseArrayLayer = pic.layer
	}
	return res
}

// CurrentImageResourceByIndex implements vkdecoder.FrameBuffer.
func (fb *FrameBuffer) CurrentImageResourceByIndex(index int, dpbLayout, outputLayout vkdecoder.ImageLayout) (
	vkdecoder.ImageResource, *vkdecoder.ImageResource, error,
) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	pic, err := fb.picture(index)
	if err != nil {
		return vkdecoder.ImageResource{}, nil, err
	}
	dpb := fb.resource(pic)
	pic.layout = dpbLayout

	if pic.outImage == 0 {
		return dpb, nil, nil
	}
	out := &vkdecoder.ImageResource{
		Resource: vkdecoder.PictureResource{
			ImageView:   pic.outView,
			CodedExtent: fb.cfg.CodedExtent,
		},
		Info: vkdecoder.PictureResourceInfo{
			Image:         pic.outImage,
			Format:        fb.cfg.Format,
			CurrentLayout: pic.outLayout,
		},
	}
	pic.outLayout = outputLayout
	return dpb, out, nil
}

// DpbImageResourcesByIndex implements vkdecoder.FrameBuffer.
func (fb *FrameBuffer) DpbImageResourcesByIndex(indexes []int8, layout vkdecoder.ImageLayout) ([]vkdecoder.ImageResource, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	resources := make([]vkdecoder.ImageResource, len(indexes))
	for i, idx := range indexes {
		if idx < 0 {
			continue
		}
		pic, err := fb.picture(int(idx))
		if err != nil {
			return nil, err
		}
		resources[i] = fb.resource(pic)
		pic.layout = layout
	}
	return resources, nil
}

// QueuePictureForDecode implements vkdecoder.FrameBuffer. A picture still waiting for or held by
// the consumer is taken back from it.
func (fb *FrameBuffer) QueuePictureForDecode(index int, info *vkdecoder.DecodePictureInfo,
	refs vkdecoder.ReferencedObjects, syncInfo *vkdecoder.FrameSynchronizationInfo,
) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.closed {
		return ErrClosed
	}
	pic, err := fb.picture(index)
	if err != nil {
		return err
	}
	if pic.state == stateQueued || pic.state == stateDisplayed {
		logger.Warningf(fb, "Reusing %v before the consumer released it", pic)
		fb.display = slices.DeleteFunc(fb.display, func(p *picture) bool { return p == pic })
	}

	pic.releaseRefs()
	if refs.Bitstream != nil {
		refs.Bitstream.AddRef()
	}
	if refs.SessionParameters != nil {
		refs.SessionParameters.AddRef()
	}
	pic.refs = refs
	pic.info = *info
	pic.info.PictureIndex = index
	pic.decodeOrder = fb.decoded
	fb.decoded++

	syncInfo.QueryPool = fb.queryPool
	syncInfo.StartQueryID = uint32(index) //nolint:gosec
	syncInfo.NumQueries = 1
	syncInfo.CompleteFence, syncInfo.CompleteSemaphore = 0, 0
	if syncInfo.HasFrameCompleteSignalFence {
		syncInfo.CompleteFence = pic.completeFence
	}
	if syncInfo.HasFrameCompleteSignalSemaphore {
		syncInfo.CompleteSemaphore = pic.completeSemaphore
	}
	syncInfo.ConsumerDoneFence, syncInfo.ConsumerDoneSemaphore = 0, 0
	if pic.consumerUsesFence {
		syncInfo.ConsumerDoneFence = pic.consumerFence
	}
	if pic.consumerUsesSem {
		syncInfo.ConsumerDoneSemaphore = pic.consumerSemaphore
	}
	pic.consumerUsesFence, pic.consumerUsesSem = false, false

	pic.state = stateQueued
	fb.display = append(fb.display, pic)
	fb.cond.Signal()
	logger.Tracef(fb, "Queued %v order=%d", pic, pic.decodeOrder)
	return nil
}

func (fb *FrameBuffer) frame(pic *picture) *Frame {
	f := &Frame{
		PictureIndex:          pic.index,
		PicNum:                pic.picNum,
		DecodeOrder:           pic.decodeOrder,
		Info:                  pic.info,
		Image:                 pic.image,
		ImageView:             pic.view,
		ImageLayer:            pic.layer,
		Format:                fb.cfg.Format,
		OutputImage:           pic.outImage,
		CompleteFence:         pic.completeFence,
		CompleteSemaphore:     pic.completeSemaphore,
		ConsumerDoneFence:     pic.consumerFence,
		ConsumerDoneSemaphore: pic.consumerSemaphore,
	}
	if fb.arrayView != 0 {
		f.ImageView = fb.arrayView
	}
	return f
}

// DequeueDecodedPicture blocks until a decoded picture is available and hands it to the consumer.
// It returns nil once the frame buffer is released.
func (fb *FrameBuffer) DequeueDecodedPicture() *Frame {
	return fb.dequeue(func() bool { return false })
}

// dequeue is DequeueDecodedPicture returning nil once stop reports true after an interrupt.
func (fb *FrameBuffer) dequeue(stop func() bool) *Frame {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	for len(fb.display) == 0 && !fb.closed && !stop() {
		fb.cond.Wait()
	}
	if fb.closed || len(fb.display) == 0 {
		return nil
	}
	return fb.popDisplay()
}

// interrupt wakes blocked consumers so they recheck their stop condition.
func (fb *FrameBuffer) interrupt() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.cond.Broadcast()
}

// TryDequeueDecodedPicture is DequeueDecodedPicture without blocking.
func (fb *FrameBuffer) TryDequeueDecodedPicture() (*Frame, bool) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.closed || len(fb.display) == 0 {
		return nil, false
	}
	return fb.popDisplay(), true
}

func (fb *FrameBuffer) popDisplay() *Frame {
	pic := fb.display[0]
	fb.display[0] = nil
	fb.display = fb.display[1:]
	pic.state = stateDisplayed
	return fb.frame(pic)
}

// ReleaseDisplayedPicture returns a picture from the consumer. The bitstream and session
// parameters of the picture are released.
func (fb *FrameBuffer) ReleaseDisplayedPicture(index int, release FrameRelease) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	pic, err := fb.picture(index)
	if err != nil {
		return err
	}
	if pic.state != stateDisplayed {
		return fmt.Errorf("%w: %v", ErrNotDisplayed, pic)
	}
	pic.consumerUsesFence = release.SignalsFence
	pic.consumerUsesSem = release.SignalsSemaphore
	pic.releaseRefs()
	pic.state = stateFree
	return nil
}

// Pending returns the number of decoded pictures waiting for the consumer.
func (fb *FrameBuffer) Pending() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.display)
}

// Release implements vkdecoder.FrameBuffer. Blocked consumers are woken up.
func (fb *FrameBuffer) Release() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.destroyPictures()
	fb.closed = true
	fb.cond.Broadcast()
}

func (fb *FrameBuffer) String() string {
	return fmt.Sprintf("FRAME_BUFFER pictures=%d", len(fb.pictures))
}
