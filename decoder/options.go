package decoder

import (
	"time"

	"github.com/ugparu/vkdecoder/framedata"
)

// DefaultFenceTimeout bounds every fence wait of the decode path.
const DefaultFenceTimeout = 100 * time.Millisecond

// largestSurfaceExtent is the surface size forced by UseLargestSurfaceExtent.
const largestSurfaceExtent = 4096

// Options select the image pool layout and the debug checks of a Decoder.
type Options struct {
	// UseLinearOutput copies every decoded picture into a linear image.
	UseLinearOutput bool
	// UseSeparateOutputImages copies every decoded picture into an optimal image of its own.
	UseSeparateOutputImages bool
	UseImageArray           bool
	UseImageViewArray       bool

	// DumpDecodeData logs the structures of every submission.
	DumpDecodeData bool
	// CheckDecodeFences waits for the previous decode into a slot before reusing it.
	CheckDecodeFences bool
	// CheckDecodeIdleSync blocks after every submission until the queue or fence is idle.
	CheckDecodeIdleSync bool
	// CheckDecodeStatus requires the decode status query of every picture to be complete.
	CheckDecodeStatus bool

	EnableBitstreamPool bool
	MaxBitstreamNodes   int

	// UseLargestSurfaceExtent allocates 4096x4096 surfaces regardless of the stream size.
	UseLargestSurfaceExtent bool

	FenceTimeout time.Duration
}

// DefaultOptions returns the production settings: pooled bitstream buffers,
// one image per surface and no debug checks.
func DefaultOptions() Options {
	return Options{
		EnableBitstreamPool: true,
		MaxBitstreamNodes:   framedata.DefaultMaxBitstreamNodes,
		FenceTimeout:        DefaultFenceTimeout,
	}
}

func (o *Options) fenceTimeout() time.Duration {
	if o.FenceTimeout <= 0 {
		return DefaultFenceTimeout
	}
	return o.FenceTimeout
}
