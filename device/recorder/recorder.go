// Package recorder is a software decode device. It records every command per command buffer,
// tracks native objects and simulates fences, semaphores, queries and bitstream memory.
// It backs the dry-run driver and the package tests.
package recorder

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/atomic"

	"github.com/ugparu/vkdecoder"
	"github.com/ugparu/vkdecoder/utils/logger"
)

// Op names a device call that can be made to fail.
type Op string

// Device calls accepting injected faults.
const (
	OpCreateSession     Op = "CreateVideoSession"
	OpCreateParameters  Op = "CreateSessionParameters"
	OpUpdateParameters  Op = "UpdateSessionParameters"
	OpCreateBitstream   Op = "CreateBitstreamBuffer"
	OpCreateImage       Op = "CreateImage"
	OpAllocateCommands  Op = "AllocateCommandBuffers"
	OpQueueSubmit       Op = "QueueSubmit"
	OpVideoCapabilities Op = "VideoCapabilities"
	OpSupportedFormats  Op = "SupportedFormats"
)

var ErrInjected = errors.New("injected device fault")

// Config describes the simulated decode queue.
type Config struct {
	QueueFamily  int
	Codecs       vkdecoder.CodecOperation
	Capabilities vkdecoder.VideoCapabilities
	// PictureFormat and ReferenceFormat override the format derived from the profile.
	PictureFormat   vkdecoder.Format
	ReferenceFormat vkdecoder.Format
	// MaxImages bounds the number of live images, zero means unbounded.
	MaxImages int
	// HoldFences keeps submitted fences pending until SignalFence or SignalAll.
	HoldFences bool
}

// DefaultConfig returns an H.264 and H.265 capable queue with common desktop limits.
func DefaultConfig() Config {
	return Config{
		QueueFamily: 1,
		Codecs:      vkdecoder.CodecOperationDecodeH264 | vkdecoder.CodecOperationDecodeH265,
		Capabilities: vkdecoder.VideoCapabilities{
			MinBitstreamBufferOffsetAlignment: 256,
			MinBitstreamBufferSizeAlignment:   256,
			PictureAccessGranularity:          vkdecoder.Extent2D{Width: 16, Height: 16},
			MinCodedExtent:                    vkdecoder.Extent2D{Width: 64, Height: 64},
			MaxCodedExtent:                    vkdecoder.Extent2D{Width: 4096, Height: 4096},
			MaxDpbSlots:                       17,
			MaxActiveReferencePictures:        16,
		},
	}
}

type sessionParameters struct {
	create  vkdecoder.SessionParametersCreateInfo
	updates []vkdecoder.SessionParametersUpdateInfo
}

// Device is a software vkdecoder.DeviceContext and vkdecoder.Capabilities.
// It is safe for concurrent use.
type Device struct {
	mu  sync.Mutex
	cfg Config

	handles *atomic.Uint64

	sessions       map[vkdecoder.VideoSession]vkdecoder.VideoSessionCreateInfo
	parameters     map[vkdecoder.SessionParameters]*sessionParameters
	commandBuffers map[vkdecoder.CommandBuffer]*commandBuffer
	fences         map[vkdecoder.Fence]*fence
	semaphores     map[vkdecoder.Semaphore]bool
	queryPools     map[vkdecoder.QueryPool][]vkdecoder.QueryResultStatus
	images         map[vkdecoder.Image]vkdecoder.ImageCreateInfo
	views          map[vkdecoder.ImageView]vkdecoder.Image
	bitstreams     map[vkdecoder.Buffer]*bitstreamBuffer

	submissions   []Submission
	faults        map[Op]error
	queryResult   vkdecoder.QueryResultStatus
	queueIdles    int
	deviceIdles   int
	sessionsTotal int
}

// New returns a device simulating the decode queue described by cfg.
func New(cfg Config) *Device {
	return &Device{
		cfg:            cfg,
		handles:        atomic.NewUint64(0),
		sessions:       map[vkdecoder.VideoSession]vkdecoder.VideoSessionCreateInfo{},
		parameters:     map[vkdecoder.SessionParameters]*sessionParameters{},
		commandBuffers: map[vkdecoder.CommandBuffer]*commandBuffer{},
		fences:         map[vkdecoder.Fence]*fence{},
		semaphores:     map[vkdecoder.Semaphore]bool{},
		queryPools:     map[vkdecoder.QueryPool][]vkdecoder.QueryResultStatus{},
		images:         map[vkdecoder.Image]vkdecoder.ImageCreateInfo{},
		views:          map[vkdecoder.ImageView]vkdecoder.Image{},
		bitstreams:     map[vkdecoder.Buffer]*bitstreamBuffer{},
		faults:         map[Op]error{},
		queryResult:    vkdecoder.QueryResultStatusComplete,
	}
}

func (d *Device) handle() uint64 {
	return d.handles.Inc()
}

// InjectFault makes the next call of op fail with err, or ErrInjected if err is nil.
func (d *Device) InjectFault(op Op, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		err = ErrInjected
	}
	d.faults[op] = err
}

// fault consumes an injected fault. Callers hold mu.
func (d *Device) fault(op Op) error {
	err, ok := d.faults[op]
	if !ok {
		return nil
	}
	delete(d.faults, op)
	logger.Debugf(d, "Failing %s: %v", op, err)
	return fmt.Errorf("%s: %w", op, err)
}

// SetCapabilities replaces the reported video capabilities.
func (d *Device) SetCapabilities(caps vkdecoder.VideoCapabilities) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg.Capabilities = caps
}

// SetMaxImages bounds the number of live images, zero means unbounded.
func (d *Device) SetMaxImages(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg.MaxImages = n
}

// SupportedCodecs implements vkdecoder.Capabilities.
func (d *Device) SupportedCodecs() vkdecoder.CodecOperation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg.Codecs
}

// VideoCapabilities implements vkdecoder.Capabilities.
func (d *Device) VideoCapabilities(profile *vkdecoder.VideoProfile) (*vkdecoder.VideoCapabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fault(OpVideoCapabilities); err != nil {
		return nil, err
	}
	if !d.cfg.Codecs.Has(profile.Codec) {
		return nil, fmt.Errorf("%w: %v", vkdecoder.ErrUnsupportedCodec, profile.Codec)
	}
	caps := d.cfg.Capabilities
	return &caps, nil
}

// SupportedFormats implements vkdecoder.Capabilities.
func (d *Device) SupportedFormats(profile *vkdecoder.VideoProfile) (picture, reference vkdecoder.Format, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err = d.fault(OpSupportedFormats); err != nil {
		return vkdecoder.FormatUndefined, vkdecoder.FormatUndefined, err
	}
	format := vkdecoder.FormatForProfile(profile.ChromaSubsampling, profile.LumaBitDepth)
	if format == vkdecoder.FormatUndefined {
		return format, format, fmt.Errorf("%w: %v", vkdecoder.ErrUnsupportedChroma, profile.ChromaSubsampling)
	}
	picture, reference = format, format
	if d.cfg.PictureFormat != vkdecoder.FormatUndefined {
		picture = d.cfg.PictureFormat
	}
	if d.cfg.ReferenceFormat != vkdecoder.FormatUndefined {
		reference = d.cfg.ReferenceFormat
	}
	return picture, reference, nil
}

// DecodeQueueFamily implements vkdecoder.DeviceContext.
func (d *Device) DecodeQueueFamily() int {
	return d.cfg.QueueFamily
}

// QueueWaitIdle signals every pending fence.
func (d *Device) QueueWaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queueIdles++
	d.signalAll()
	return nil
}

// DeviceWaitIdle signals every pending fence.
func (d *Device) DeviceWaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deviceIdles++
	d.signalAll()
	return nil
}

// IdleWaits returns the number of queue and device idle waits.
func (d *Device) IdleWaits() (queue, device int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queueIdles, d.deviceIdles
}

// CreateVideoSession implements vkdecoder.DeviceContext.
func (d *Device) CreateVideoSession(info *vkdecoder.VideoSessionCreateInfo) (vkdecoder.VideoSession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fault(OpCreateSession); err != nil {
		return 0, err
	}
	if !d.cfg.Codecs.Has(info.Profile.Codec) {
		return 0, fmt.Errorf("%w: %v", vkdecoder.ErrUnsupportedCodec, info.Profile.Codec)
	}
	s := vkdecoder.VideoSession(d.handle())
	d.sessions[s] = *info
	d.sessionsTotal++
	return s, nil
}

// DestroyVideoSession implements vkdecoder.DeviceContext.
func (d *Device) DestroyVideoSession(s vkdecoder.VideoSession) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sessions, s)
}

// Sessions returns the number of live and created sessions.
func (d *Device) Sessions() (live, total int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions), d.sessionsTotal
}

// CreateSessionParameters implements vkdecoder.DeviceContext.
func (d *Device) CreateSessionParameters(info *vkdecoder.SessionParametersCreateInfo) (vkdecoder.SessionParameters, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fault(OpCreateParameters); err != nil {
		return 0, err
	}
	if _, ok := d.sessions[info.Session]; !ok {
		return 0, fmt.Errorf("unknown session %d", info.Session)
	}
	if info.Template != 0 {
		if _, ok := d.parameters[info.Template]; !ok {
			return 0, fmt.Errorf("unknown template %d", info.Template)
		}
	}
	p := vkdecoder.SessionParameters(d.handle())
	d.parameters[p] = &sessionParameters{create: *info}
	return p, nil
}

// UpdateSessionParameters implements vkdecoder.DeviceContext.
func (d *Device) UpdateSessionParameters(p vkdecoder.SessionParameters, info *vkdecoder.SessionParametersUpdateInfo) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fault(OpUpdateParameters); err != nil {
		return err
	}
	sp, ok := d.parameters[p]
	if !ok {
		return fmt.Errorf("unknown session parameters %d", p)
	}
	sp.updates = append(sp.updates, *info)
	return nil
}

// DestroySessionParameters implements vkdecoder.DeviceContext.
func (d *Device) DestroySessionParameters(p vkdecoder.SessionParameters) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.parameters, p)
}

// LiveSessionParameters returns the number of session parameters objects not destroyed yet.
func (d *Device) LiveSessionParameters() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.parameters)
}

// SessionParametersInfo returns the create info and the updates of a live object.
func (d *Device) SessionParametersInfo(p vkdecoder.SessionParameters) (
	vkdecoder.SessionParametersCreateInfo, []vkdecoder.SessionParametersUpdateInfo, bool,
) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sp, ok := d.parameters[p]
	if !ok {
		return vkdecoder.SessionParametersCreateInfo{}, nil, false
	}
	return sp.create, append([]vkdecoder.SessionParametersUpdateInfo(nil), sp.updates...), true
}

func (d *Device) String() string {
	return fmt.Sprintf("RECORDER_DEVICE queue=%d", d.cfg.QueueFamily)
}
