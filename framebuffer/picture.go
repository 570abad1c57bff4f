package framebuffer

import (
	"fmt"

	"github.com/ugparu/vkdecoder"
)

type pictureState int

const (
	stateFree pictureState = iota
	stateReserved
	stateQueued
	stateDisplayed
)

func (s pictureState) String() string {
	switch s {
	case stateFree:
		return "FREE"
	case stateReserved:
		return "RESERVED"
	case stateQueued:
		return "QUEUED"
	case stateDisplayed:
		return "DISPLAYED"
	}
	return "UNKNOWN"
}

// picture is one decode surface: its images, their layouts and its synchronization objects.
type picture struct {
	index int
	state pictureState

	image  vkdecoder.Image
	view   vkdecoder.ImageView
	layer  uint32
	layout vkdecoder.ImageLayout

	outImage  vkdecoder.Image
	outView   vkdecoder.ImageView
	outLayout vkdecoder.ImageLayout

	completeFence     vkdecoder.Fence
	completeSemaphore vkdecoder.Semaphore
	consumerFence     vkdecoder.Fence
	consumerSemaphore vkdecoder.Semaphore
	consumerUsesFence bool
	consumerUsesSem   bool

	picNum      int32
	decodeOrder uint64
	info        vkdecoder.DecodePictureInfo
	refs        vkdecoder.ReferencedObjects
}

func (p *picture) releaseRefs() {
	if p.refs.Bitstream != nil {
		p.refs.Bitstream.Release()
	}
	if p.refs.SessionParameters != nil {
		p.refs.SessionParameters.Release()
	}
	p.refs = vkdecoder.ReferencedObjects{}
}

func (p *picture) String() string {
	return fmt.Sprintf("PICTURE %d %v picNum=%d", p.index, p.state, p.picNum)
}

// Frame is a decoded picture handed to a consumer. The consumer waits on CompleteFence or
// CompleteSemaphore before reading the image and returns the picture with ReleaseDisplayedPicture.
type Frame struct {
	PictureIndex int
	PicNum       int32
	DecodeOrder  uint64
	Info         vkdecoder.DecodePictureInfo
	Image        vkdecoder.Image
	ImageView    vkdecoder.ImageView
	ImageLayer   uint32
	Format       vkdecoder.Format

	// OutputImage is set when separate or linear output images are in use.
	OutputImage vkdecoder.Image

	CompleteFence     vkdecoder.Fence
	CompleteSemaphore vkdecoder.Semaphore

	// ConsumerDoneFence and ConsumerDoneSemaphore are the objects the consumer signals
	// when it names them in FrameRelease.
	ConsumerDoneFence     vkdecoder.Fence
	ConsumerDoneSemaphore vkdecoder.Semaphore
}

// FrameRelease tells which consumer-done objects the consumer's own submission signals.
// The next decode into the picture waits on them.
type FrameRelease struct {
	SignalsFence     bool
	SignalsSemaphore bool
}
