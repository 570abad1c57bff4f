// Package decoder drives a video decode queue: it stands up the decode session and image
// pool for every sequence, materializes parameter sets and records and submits one
// command buffer per picture.
package decoder

import (
	"fmt"
	"runtime"

	"github.com/ugparu/vkdecoder"
	"github.com/ugparu/vkdecoder/framedata"
	"github.com/ugparu/vkdecoder/parameters"
	"github.com/ugparu/vkdecoder/session"
	"github.com/ugparu/vkdecoder/utils/lifecycle"
	"github.com/ugparu/vkdecoder/utils/logger"
)

// Decoder is the decode session orchestrator. It is not safe for concurrent use;
// StreamDecoder serializes calls from several producers.
type Decoder struct {
	lifecycle.Manager[*Decoder]

	device      vkdecoder.DeviceContext
	caps        vkdecoder.Capabilities
	frameBuffer vkdecoder.FrameBuffer
	opts        Options

	graph     *parameters.Graph
	session   *session.Session
	frameData *framedata.Pool

	format              *vkdecoder.DetectedVideoFormat
	profile             vkdecoder.VideoProfile
	capabilities        vkdecoder.VideoCapabilities
	numDecodeSurfaces   int
	decodePicCount      int32
	resetPending        bool
	maxStreamBufferSize uint64

	fatal  error
	closed bool
}

// New returns a decoder submitting to device. The decoder takes ownership of frameBuffer
// and releases it on Close.
func New(device vkdecoder.DeviceContext, caps vkdecoder.Capabilities, frameBuffer vkdecoder.FrameBuffer,
	opts Options,
) (*Decoder, error) {
	if device == nil || caps == nil || frameBuffer == nil {
		return nil, fmt.Errorf("%w: device, capabilities and frame buffer are required", vkdecoder.ErrNotInitialized)
	}
	dec := &Decoder{
		device:      device,
		caps:        caps,
		frameBuffer: frameBuffer,
		opts:        opts,
		graph:       parameters.NewGraph(device),
		frameData:   framedata.NewPool(device, opts.MaxBitstreamNodes),
	}
	dec.Manager = lifecycle.NewDefaultManager(dec)

	startFunc := func(dec *Decoder) error {
		if dec.device.DecodeQueueFamily() < 0 {
			return fmt.Errorf("%w: no decode queue", vkdecoder.ErrNotInitialized)
		}
		return nil
	}
	if err := dec.Start(startFunc); err != nil {
		dec.Close()
		return nil, err
	}
	runtime.SetFinalizer(dec, func(dec *Decoder) { dec.Close() })

	logger.Debugf(dec, "Created with %+v", opts)
	return dec, nil
}

// fail poisons the decoder with a fatal error of op.
func (dec *Decoder) fail(op string, err error) error {
	fe := vkdecoder.NewFatalError(op, err)
	logger.Errorf(dec, "%v", fe)
	dec.fatal = fe
	return fe
}

// usable returns the error every operation fails with once the decoder is closed or poisoned.
func (dec *Decoder) usable() error {
	if dec.closed {
		return vkdecoder.ErrDecoderClosed
	}
	return dec.fatal
}

// Err returns the fatal error the decoder was poisoned with, nil if none.
func (dec *Decoder) Err() error {
	return dec.fatal
}

// NumDecodeSurfaces returns the running maximum of decode surfaces requested so far.
func (dec *Decoder) NumDecodeSurfaces() int {
	return dec.numDecodeSurfaces
}

// Session returns the current decode session, nil before the first sequence.
func (dec *Decoder) Session() *session.Session {
	return dec.session
}

// Graph returns the parameter set graph of the decoder.
func (dec *Decoder) Graph() *parameters.Graph {
	return dec.graph
}

// BitstreamPool returns the pool recycling bitstream buffers.
func (dec *Decoder) BitstreamPool() *framedata.BitstreamPool {
	return dec.frameData.Bitstream()
}

// Format returns the format of the current sequence, nil before the first sequence.
func (dec *Decoder) Format() *vkdecoder.DetectedVideoFormat {
	return dec.format
}

// Deinitialize waits for the decode queue and releases every resource. It is the same as Close.
func (dec *Decoder) Deinitialize() {
	dec.Close()
}

// Close_ releases the frame buffer, the frame data, the session parameters and the session.
func (dec *Decoder) Close_() { //nolint:revive // required by lifecycle.Instance interface
	if err := dec.device.QueueWaitIdle(); err != nil {
		logger.Warningf(dec, "Decode queue wait idle failed: %v", err)
	}
	dec.frameBuffer.Release()
	dec.frameData.Destroy()
	dec.graph.Close()
	if dec.session != nil {
		dec.session.Release()
		dec.session = nil
	}
	dec.closed = true
	logger.Debugf(dec, "Deinitialized after %d pictures", dec.decodePicCount)
}

func (dec *Decoder) String() string {
	if dec.format == nil {
		return "VK_DECODER"
	}
	return fmt.Sprintf("VK_DECODER %v surfaces=%d", dec.format.Codec, dec.numDecodeSurfaces)
}
