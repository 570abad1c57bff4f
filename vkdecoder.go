package vkdecoder

import "time"

// RefCounted is implemented by objects shared between the decoder and its collaborators.
// AddRef and Release return the reference count after the operation.
type RefCounted interface {
	AddRef() int32
	Release() int32
}

// Capabilities answers capability queries of the decode queue of a physical device.
type Capabilities interface {
	SupportedCodecs() CodecOperation                                     // Decode operations exposed by the decode queue family.
	VideoCapabilities(profile *VideoProfile) (*VideoCapabilities, error) // Limits of a single profile.
	SupportedFormats(profile *VideoProfile) (picture, reference Format, err error)
}

// VideoCapabilities holds the limits reported for one video profile.
type VideoCapabilities struct {
	MinBitstreamBufferOffsetAlignment uint64
	MinBitstreamBufferSizeAlignment   uint64
	PictureAccessGranularity          Extent2D
	MinCodedExtent                    Extent2D
	MaxCodedExtent                    Extent2D
	MaxDpbSlots                       uint32
	MaxActiveReferencePictures        uint32
}

// CommandRecorder records video coding commands into command buffers.
type CommandRecorder interface {
	BeginCommandBuffer(cb CommandBuffer) error
	EndCommandBuffer(cb CommandBuffer) error
	CmdResetQueryPool(cb CommandBuffer, pool QueryPool, first, count uint32)
	CmdBeginVideoCoding(cb CommandBuffer, info *BeginCodingInfo)
	CmdControlVideoCoding(cb CommandBuffer, control VideoCodingControl)
	CmdPipelineBarrier(cb CommandBuffer, dep *DependencyInfo)
	CmdBeginQuery(cb CommandBuffer, pool QueryPool, query uint32)
	CmdDecodeVideo(cb CommandBuffer, info *DecodeInfo)
	CmdEndQuery(cb CommandBuffer, pool QueryPool, query uint32)
	CmdEndVideoCoding(cb CommandBuffer)
	CmdCopyImage(cb CommandBuffer, src Image, srcLayout ImageLayout, dst Image, dstLayout ImageLayout, regions []ImageCopy)
}

// DeviceContext is the device and decode queue the decoder drives.
type DeviceContext interface {
	CommandRecorder

	DecodeQueueFamily() int
	QueueWaitIdle() error
	DeviceWaitIdle() error

	CreateVideoSession(info *VideoSessionCreateInfo) (VideoSession, error)
	DestroyVideoSession(session VideoSession)

	CreateSessionParameters(info *SessionParametersCreateInfo) (SessionParameters, error)
	UpdateSessionParameters(params SessionParameters, info *SessionParametersUpdateInfo) error
	DestroySessionParameters(params SessionParameters)

	CreateBitstreamBuffer(info *BitstreamBufferCreateInfo) (BitstreamBuffer, error)

	AllocateCommandBuffers(count int) ([]CommandBuffer, error)
	FreeCommandBuffers(cbs []CommandBuffer)

	// WaitForFence returns ErrTimeout if the fence is not signaled within timeout.
	WaitForFence(fence Fence, timeout time.Duration) error
	FenceStatus(fence Fence) (FenceStatus, error)
	ResetFence(fence Fence) error
	QueueSubmit(submit *SubmitInfo, fence Fence) error
	DecodeQueryStatus(pool QueryPool, query uint32) (QueryResultStatus, error)
}

// BitstreamBuffer is host visible device memory holding compressed picture data.
type BitstreamBuffer interface {
	RefCounted
	Buffer() Buffer
	MaxSize() uint64
	OffsetAlignment() uint64
	SizeAlignment() uint64
	// CopyData copies src at dstOffset and returns the number of bytes copied.
	CopyData(src []byte, dstOffset uint64) (uint64, error)
	// MemsetData fills size bytes starting at offset and returns the number of bytes written.
	MemsetData(value byte, offset, size uint64) (uint64, error)
	// ReadData returns a copy of size bytes starting at offset.
	ReadData(offset, size uint64) ([]byte, error)
}

// FrameBuffer owns the decode image pool and the per-picture synchronization objects.
type FrameBuffer interface {
	// InitImagePool (re)allocates the pool and returns the number of pictures available.
	InitImagePool(cfg *ImagePoolConfig) (int, error)
	// SetPicNumInDecodeOrder records the decode order of a slot and returns the previous value.
	SetPicNumInDecodeOrder(index int, picNum int32) int32
	// CurrentImageResourceByIndex returns the decode target of a slot, and its separate output image when
	// one is in use. Returned infos carry the layout before the call; the slot is moved to the given layouts.
	CurrentImageResourceByIndex(index int, dpbLayout, outputLayout ImageLayout) (dpb ImageResource, output *ImageResource, err error)
	// DpbImageResourcesByIndex returns the reference images of the given slots. Negative indexes produce
	// empty entries. Every existing image is moved to layout.
	DpbImageResourcesByIndex(indexes []int8, layout ImageLayout) ([]ImageResource, error)
	// QueuePictureForDecode hands the picture to the display queue, keeps refs alive until the slot is reused
	// and fills the synchronization objects of this submission.
	QueuePictureForDecode(index int, info *DecodePictureInfo, refs ReferencedObjects, sync *FrameSynchronizationInfo) error
	// Release frees every picture of the pool.
	Release()
}

// ReferencedObjects are kept alive by the frame buffer while a picture is in flight.
type ReferencedObjects struct {
	Bitstream         RefCounted
	SessionParameters RefCounted
}

// ImagePoolConfig describes the decode image pool requested for a sequence.
type ImagePoolConfig struct {
	Profile                 VideoProfile
	NumImages               int
	Format                  Format
	CodedExtent             Extent2D
	MaxExtent               Extent2D
	Tiling                  ImageTiling
	Usage                   ImageUsage
	QueueFamily             int
	UseImageArray           bool
	UseImageViewArray       bool
	UseSeparateOutputImages bool
	UseLinearOutput         bool
}

// VideoSessionCreateInfo describes a decode session.
type VideoSessionCreateInfo struct {
	QueueFamily         int
	Profile             VideoProfile
	PictureFormat       Format
	ReferenceFormat     Format
	MaxCodedExtent      Extent2D
	MaxDpbSlots         uint32
	MaxActiveReferences uint32
}

// SessionParametersCreateInfo describes a session parameters object.
type SessionParametersCreateInfo struct {
	Session        VideoSession
	Template       SessionParameters
	MaxStdVPSCount uint32
	MaxStdSPSCount uint32
	MaxStdPPSCount uint32
	AddInfo        SessionParametersAddInfo
}

// SessionParametersUpdateInfo adds parameter sets to an existing session parameters object.
type SessionParametersUpdateInfo struct {
	UpdateSequenceCount uint64
	AddInfo             SessionParametersAddInfo
}

// BitstreamBufferCreateInfo describes a new bitstream buffer.
type BitstreamBufferCreateInfo struct {
	QueueFamily     int
	Size            uint64
	OffsetAlignment uint64
	SizeAlignment   uint64
	Init            []byte
}

// PictureResource addresses a picture inside an image view.
type PictureResource struct {
	ImageView      ImageView
	BaseArrayLayer uint32
	CodedOffset    [2]int32
	CodedExtent    Extent2D
}

// PictureResourceInfo is the frame buffer side description of a picture resource.
type PictureResourceInfo struct {
	Image          Image
	Format         Format
	CurrentLayout  ImageLayout
	BaseArrayLayer uint32
}

// ImageResource pairs a picture resource with its backing image.
type ImageResource struct {
	Resource PictureResource
	Info     PictureResourceInfo
}

// ReferenceSlot is one DPB slot bound to a decode operation.
type ReferenceSlot struct {
	SlotIndex int32
	Resource  *PictureResource
}

// BeginCodingInfo opens a video coding scope.
type BeginCodingInfo struct {
	Session        VideoSession
	Parameters     SessionParameters
	ReferenceSlots []ReferenceSlot
}

// DecodeInfo is the argument of a single decode command.
type DecodeInfo struct {
	SrcBuffer          Buffer
	SrcBufferOffset    uint64
	SrcBufferRange     uint64
	DstPictureResource PictureResource
	SetupReferenceSlot *ReferenceSlot
	ReferenceSlots     []ReferenceSlot
	CodecPictureInfo   any
}

// SubmitInfo is one batch submitted to the decode queue.
type SubmitInfo struct {
	WaitSemaphores   []Semaphore
	WaitStages       []PipelineStage
	CommandBuffers   []CommandBuffer
	SignalSemaphores []Semaphore
}

// FrameSynchronizationInfo holds the synchronization objects borrowed for one decode submission.
type FrameSynchronizationInfo struct {
	CompleteFence                   Fence
	CompleteSemaphore               Semaphore
	ConsumerDoneFence               Fence
	ConsumerDoneSemaphore           Semaphore
	QueryPool                       QueryPool
	StartQueryID                    uint32
	NumQueries                      uint32
	HasFrameCompleteSignalFence     bool
	HasFrameCompleteSignalSemaphore bool
}

// DecodePictureFlags describe the picture structure of a decoded picture.
type DecodePictureFlags struct {
	ProgressiveFrame bool
	FieldPic         bool
	BottomField      bool
	SecondField      bool
	TopFieldFirst    bool
	UnpairedField    bool
	SyncFirstReady   bool
	SyncToFirstField bool
	RepeatFirstField bool
	RefPic           bool
	IDRPic           bool
	IntraPic         bool
}

// DecodePictureInfo is the display side information of a decoded picture.
type DecodePictureInfo struct {
	PictureIndex  int
	ImageLayer    uint32
	DisplayWidth  uint32
	DisplayHeight uint32
	Timestamp     time.Duration
	Flags         DecodePictureFlags
}

// ImageCreateInfo describes one image of a decode image pool.
type ImageCreateInfo struct {
	Profile     VideoProfile
	Format      Format
	Extent      Extent2D
	ArrayLayers uint32
	Tiling      ImageTiling
	Usage       ImageUsage
	QueueFamily int
}
