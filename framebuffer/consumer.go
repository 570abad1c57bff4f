package framebuffer

import (
	"fmt"

	"go.uber.org/atomic"

	"github.com/ugparu/vkdecoder/utils/lifecycle"
	"github.com/ugparu/vkdecoder/utils/logger"
)

// FrameHandler presents one decoded picture. The returned FrameRelease tells the frame buffer
// which consumer-done objects the handler signaled.
type FrameHandler func(frame *Frame) (FrameRelease, error)

// Consumer drains decoded pictures in decode order and returns each one after its handler ran.
// Handler errors and panics are logged and the loop goes on.
type Consumer struct {
	lifecycle.AsyncManager[*Consumer]
	fb      *FrameBuffer
	handler FrameHandler

	stopped  *atomic.Bool
	frames   *atomic.Uint64
	failures *atomic.Uint64
}

// NewConsumer returns a stopped consumer of fb.
func NewConsumer(fb *FrameBuffer, handler FrameHandler) *Consumer {
	c := &Consumer{
		fb:       fb,
		handler:  handler,
		stopped:  atomic.NewBool(false),
		frames:   atomic.NewUint64(0),
		failures: atomic.NewUint64(0),
	}
	c.AsyncManager = lifecycle.NewFailSafeAsyncManager(c)
	return c
}

// Run starts the drain loop.
func (c *Consumer) Run() error {
	return c.Start(func(*Consumer) error { return nil })
}

// Step presents one picture.
func (c *Consumer) Step(stopCh <-chan struct{}) error {
	select {
	case <-stopCh:
		return &lifecycle.BreakError{}
	default:
	}
	frame := c.fb.dequeue(c.stopped.Load)
	if frame == nil {
		logger.Debug(c, "Frame buffer released or consumer stopped")
		return &lifecycle.BreakError{}
	}

	var release FrameRelease
	defer func() {
		if err := c.fb.ReleaseDisplayedPicture(frame.PictureIndex, release); err != nil {
			logger.Errorf(c, "Release of picture %d failed: %v", frame.PictureIndex, err)
		}
	}()
	c.frames.Inc()
	release, err := c.handler(frame)
	if err != nil {
		c.failures.Inc()
		return fmt.Errorf("picture %d: %w", frame.PictureIndex, err)
	}
	return nil
}

// Frames returns the number of pictures handed to the handler.
func (c *Consumer) Frames() uint64 {
	return c.frames.Load()
}

// Failures returns the number of handler errors.
func (c *Consumer) Failures() uint64 {
	return c.failures.Load()
}

// Close stops the loop, waking it if it waits for a picture. Queued pictures stay queued.
func (c *Consumer) Close() {
	c.stopped.Store(true)
	c.fb.interrupt()
	c.AsyncManager.Close()
}

// Close_ has nothing to release; the frame buffer belongs to the decoder.
func (c *Consumer) Close_() { //nolint:revive // required by lifecycle.AsyncInstance interface
}

func (c *Consumer) String() string {
	return fmt.Sprintf("FRAME_CONSUMER frames=%d", c.frames.Load())
}
