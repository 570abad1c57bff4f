package vkdecoder

import "fmt"

// Handle is an opaque native object handle. Zero is the null handle.
type Handle uint64

// Native handle kinds exchanged with the device layer.
type (
	CommandBuffer     Handle
	Buffer            Handle
	Image             Handle
	ImageView         Handle
	Fence             Handle
	Semaphore         Handle
	QueryPool         Handle
	VideoSession      Handle
	SessionParameters Handle
)

// Extent2D is a width/height pair in pixels.
type Extent2D struct {
	Width  uint32
	Height uint32
}

func (e Extent2D) String() string {
	return fmt.Sprintf("%dx%d", e.Width, e.Height)
}

// IsZero reports whether either dimension is zero.
func (e Extent2D) IsZero() bool {
	return e.Width == 0 || e.Height == 0
}

// Rect is a display area in pixels.
type Rect struct {
	Left, Top, Right, Bottom int32
}

// Width of the rectangle, zero when degenerate.
func (r Rect) Width() uint32 {
	if r.Right <= r.Left {
		return 0
	}
	return uint32(r.Right - r.Left)
}

// Height of the rectangle, zero when degenerate.
func (r Rect) Height() uint32 {
	if r.Bottom <= r.Top {
		return 0
	}
	return uint32(r.Bottom - r.Top)
}

// Rational is a frame rate expressed as numerator/denominator.
type Rational struct {
	Numerator   uint32
	Denominator uint32
}

// Float returns the rate as a float, zero if the denominator is zero.
func (r Rational) Float() float64 {
	if r.Denominator == 0 {
		return 0
	}
	return float64(r.Numerator) / float64(r.Denominator)
}

// DetectedVideoFormat is produced by the bitstream parser at every sequence start.
type DetectedVideoFormat struct {
	Codec                CodecOperation
	CodedWidth           uint32
	CodedHeight          uint32
	DisplayArea          Rect
	ChromaSubsampling    ChromaSubsampling
	BitDepthLumaMinus8   uint32
	BitDepthChromaMinus8 uint32
	FrameRate            Rational
	ProgressiveSequence  bool
	MinNumDecodeSurfaces uint32
	MaxNumDpbSlots       uint32
	CodecProfile         uint32
}

// CodedExtent returns the coded picture size.
func (f *DetectedVideoFormat) CodedExtent() Extent2D {
	return Extent2D{Width: f.CodedWidth, Height: f.CodedHeight}
}

// ImageExtent returns the larger of the display area and the coded size per dimension.
// A degenerate or unknown display area therefore yields the coded size.
func (f *DetectedVideoFormat) ImageExtent() Extent2D {
	return Extent2D{
		Width:  max(f.DisplayArea.Width(), f.CodedWidth),
		Height: max(f.DisplayArea.Height(), f.CodedHeight),
	}
}

func (f *DetectedVideoFormat) String() string {
	if f == nil {
		return "EMPTY_VIDEO_FORMAT"
	}
	return fmt.Sprintf("VIDEO_FORMAT codec=%v coded=%dx%d", f.Codec, f.CodedWidth, f.CodedHeight)
}

// ImageLayout is the current layout of a picture resource.
type ImageLayout uint32

// Image layouts used by the decode path.
const (
	ImageLayoutUndefined ImageLayout = iota
	ImageLayoutGeneral
	ImageLayoutTransferSrc
	ImageLayoutTransferDst
	ImageLayoutShaderReadOnly
	ImageLayoutDecodeDst
	ImageLayoutDecodeSrc
	ImageLayoutDecodeDpb
)

func (l ImageLayout) String() string {
	switch l {
	case ImageLayoutUndefined:
		return "UNDEFINED"
	case ImageLayoutGeneral:
		return "GENERAL"
	case ImageLayoutTransferSrc:
		return "TRANSFER_SRC"
	case ImageLayoutTransferDst:
		return "TRANSFER_DST"
	case ImageLayoutShaderReadOnly:
		return "SHADER_READ_ONLY"
	case ImageLayoutDecodeDst:
		return "VIDEO_DECODE_DST"
	case ImageLayoutDecodeSrc:
		return "VIDEO_DECODE_SRC"
	case ImageLayoutDecodeDpb:
		return "VIDEO_DECODE_DPB"
	}
	return "UNKNOWN"
}

// ImageUsage is a bit set of usages an image pool is allocated with.
type ImageUsage uint32

// Image usage bits.
const (
	ImageUsageTransferSrc ImageUsage = 1 << iota
	ImageUsageTransferDst
	ImageUsageSampled
	ImageUsageDecodeDst
	ImageUsageDecodeSrc
	ImageUsageDecodeDpb
)

// DecodeImageUsage is the fixed usage set of the decode image pool.
const DecodeImageUsage = ImageUsageSampled | ImageUsageTransferSrc | ImageUsageTransferDst |
	ImageUsageDecodeDst | ImageUsageDecodeDpb

// ImageTiling selects the memory layout of an image.
type ImageTiling uint32

// Image tilings.
const (
	ImageTilingOptimal ImageTiling = iota
	ImageTilingLinear
)

// PipelineStage is a bit set of synchronization stages.
type PipelineStage uint64

// Pipeline stage bits.
const (
	PipelineStageNone     PipelineStage = 0
	PipelineStageTransfer PipelineStage = 1 << 0
	PipelineStageHost     PipelineStage = 1 << 1
	PipelineStageDecode   PipelineStage = 1 << 2
)

// Access is a bit set of memory access kinds.
type Access uint64

// Access bits.
const (
	AccessNone          Access = 0
	AccessHostWrite     Access = 1 << 0
	AccessHostRead      Access = 1 << 1
	AccessTransferRead  Access = 1 << 2
	AccessTransferWrite Access = 1 << 3
	AccessDecodeRead    Access = 1 << 4
	AccessDecodeWrite   Access = 1 << 5
)

// QueueFamilyIgnored marks a barrier side that does not transfer queue ownership.
const QueueFamilyIgnored = -1

// ImageAspect selects the plane(s) of an image.
type ImageAspect uint32

// Image aspects.
const (
	ImageAspectColor  ImageAspect = 1 << 0
	ImageAspectPlane0 ImageAspect = 1 << 4
	ImageAspectPlane1 ImageAspect = 1 << 5
	ImageAspectPlane2 ImageAspect = 1 << 6
)

// SubresourceRange addresses array layers of an image.
type SubresourceRange struct {
	Aspect         ImageAspect
	BaseMipLevel   uint32
	LevelCount     uint32
	BaseArrayLayer uint32
	LayerCount     uint32
}

// MemoryBarrier is a global memory dependency.
type MemoryBarrier struct {
	SrcStage  PipelineStage
	SrcAccess Access
	DstStage  PipelineStage
	DstAccess Access
}

// BufferMemoryBarrier is a dependency on a buffer range.
type BufferMemoryBarrier struct {
	SrcStage       PipelineStage
	SrcAccess      Access
	DstStage       PipelineStage
	DstAccess      Access
	SrcQueueFamily int
	DstQueueFamily int
	Buffer         Buffer
	Offset         uint64
	Size           uint64
}

// ImageMemoryBarrier is a dependency and layout transition of an image.
type ImageMemoryBarrier struct {
	SrcStage         PipelineStage
	SrcAccess        Access
	DstStage         PipelineStage
	DstAccess        Access
	OldLayout        ImageLayout
	NewLayout        ImageLayout
	SrcQueueFamily   int
	DstQueueFamily   int
	Image            Image
	SubresourceRange SubresourceRange
}

// DependencyInfo batches barriers into a single pipeline barrier command.
type DependencyInfo struct {
	ByRegion       bool
	MemoryBarriers []MemoryBarrier
	BufferBarriers []BufferMemoryBarrier
	ImageBarriers  []ImageMemoryBarrier
}

// ImageSubresourceLayers addresses one plane of one array layer.
type ImageSubresourceLayers struct {
	Aspect         ImageAspect
	MipLevel       uint32
	BaseArrayLayer uint32
	LayerCount     uint32
}

// ImageCopy is one region of an image-to-image copy.
type ImageCopy struct {
	SrcSubresource ImageSubresourceLayers
	DstSubresource ImageSubresourceLayers
	Extent         Extent2D
	Depth          uint32
}

// VideoCodingControl is a bit set of coding control operations.
type VideoCodingControl uint32

// Coding control bits.
const (
	VideoCodingControlReset VideoCodingControl = 1 << 0
)

// FenceStatus is the host visible state of a fence.
type FenceStatus int

// Fence states.
const (
	FenceSignaled FenceStatus = iota
	FenceNotReady
)

func (fs FenceStatus) String() string {
	if fs == FenceSignaled {
		return "SIGNALED"
	}
	return "NOT_READY"
}

// QueryResultStatus is the outcome of a decode status query.
type QueryResultStatus int

// Query result states.
const (
	QueryResultStatusNotReady QueryResultStatus = 0
	QueryResultStatusComplete QueryResultStatus = 1
	QueryResultStatusError    QueryResultStatus = -1
)
