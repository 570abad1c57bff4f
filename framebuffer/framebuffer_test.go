package framebuffer

import (
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/ugparu/vkdecoder"
	"github.com/ugparu/vkdecoder/device/recorder"
)

func TestMain(m *testing.M) {
	logrus.SetLevel(logrus.FatalLevel)
	os.Exit(m.Run())
}

type refCounter struct {
	count int32
}

func (r *refCounter) AddRef() int32 {
	r.count++
	return r.count
}

func (r *refCounter) Release() int32 {
	r.count--
	return r.count
}

func poolConfig(n int) *vkdecoder.ImagePoolConfig {
	return &vkdecoder.ImagePoolConfig{
		Profile: vkdecoder.VideoProfile{
			Codec:             vkdecoder.CodecOperationDecodeH264,
			ChromaSubsampling: vkdecoder.ChromaSubsampling420,
			LumaBitDepth:      vkdecoder.ComponentBitDepth8,
			ChromaBitDepth:    vkdecoder.ComponentBitDepth8,
		},
		NumImages:   n,
		Format:      vkdecoder.FormatG8B8R82Plane420Unorm,
		CodedExtent: vkdecoder.Extent2D{Width: 1920, Height: 1088},
		MaxExtent:   vkdecoder.Extent2D{Width: 1920, Height: 1088},
		Tiling:      vkdecoder.ImageTilingOptimal,
		Usage:       vkdecoder.DecodeImageUsage,
		QueueFamily: 1,
	}
}

func TestInitImagePool(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		cfg        func() *vkdecoder.ImagePoolConfig
		liveImages int
	}{
		{
			name:       "one image per picture",
			cfg:        func() *vkdecoder.ImagePoolConfig { return poolConfig(4) },
			liveImages: 4,
		},
		{
			name: "image array",
			cfg: func() *vkdecoder.ImagePoolConfig {
				cfg := poolConfig(4)
				cfg.UseImageArray = true
				cfg.UseImageViewArray = true
				return cfg
			},
			liveImages: 1,
		},
		{
			name: "linear output",
			cfg: func() *vkdecoder.ImagePoolConfig {
				cfg := poolConfig(4)
				cfg.UseLinearOutput = true
				return cfg
			},
			liveImages: 8,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dev := recorder.New(recorder.DefaultConfig())
			fb := New(dev)

			n, err := fb.InitImagePool(tt.cfg())
			require.NoError(t, err)
			require.Equal(t, 4, n)
			require.Equal(t, tt.liveImages, dev.LiveImages())

			fb.Release()
			require.Equal(t, 0, dev.LiveImages())
		})
	}
}

func TestInitImagePoolGrowsAndReallocates(t *testing.T) {
	t.Parallel()
	dev := recorder.New(recorder.DefaultConfig())
	fb := New(dev)

	n, err := fb.InitImagePool(poolConfig(2))
	require.NoError(t, err)
	require.Equal(t, 2, n)
	dpb, _, err := fb.CurrentImageResourceByIndex(0, vkdecoder.ImageLayoutDecodeDpb, vkdecoder.ImageLayoutDecodeDst)
	require.NoError(t, err)

	n, err = fb.InitImagePool(poolConfig(5))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	kept, _, err := fb.CurrentImageResourceByIndex(0, vkdecoder.ImageLayoutDecodeDpb, vkdecoder.ImageLayoutDecodeDst)
	require.NoError(t, err)
	require.Equal(t, dpb.Info.Image, kept.Info.Image)

	cfg := poolConfig(5)
	cfg.MaxExtent = vkdecoder.Extent2D{Width: 3840, Height: 2160}
	n, err = fb.InitImagePool(cfg)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	fresh, _, err := fb.CurrentImageResourceByIndex(0, vkdecoder.ImageLayoutDecodeDpb, vkdecoder.ImageLayoutDecodeDst)
	require.NoError(t, err)
	require.NotEqual(t, dpb.Info.Image, fresh.Info.Image)
	require.Equal(t, vkdecoder.ImageLayoutUndefined, fresh.Info.CurrentLayout)
	require.Equal(t, 5, dev.LiveImages())
}

func TestInitImagePoolShortAllocation(t *testing.T) {
	t.Parallel()
	dev := recorder.New(recorder.DefaultConfig())
	dev.SetMaxImages(3)
	fb := New(dev)

	n, err := fb.InitImagePool(poolConfig(5))
	require.ErrorIs(t, err, recorder.ErrOutOfDeviceMemory)
	require.Equal(t, 3, n)
}

func TestImageResourceLayouts(t *testing.T) {
	t.Parallel()
	dev := recorder.New(recorder.DefaultConfig())
	fb := New(dev)
	_, err := fb.InitImagePool(poolConfig(3))
	require.NoError(t, err)

	dpb, out, err := fb.CurrentImageResourceByIndex(1, vkdecoder.ImageLayoutDecodeDpb, vkdecoder.ImageLayoutDecodeDst)
	require.NoError(t, err)
	require.Nil(t, out)
	require.Equal(t, vkdecoder.ImageLayoutUndefined, dpb.Info.CurrentLayout)
	require.Equal(t, vkdecoder.Extent2D{Width: 1920, Height: 1088}, dpb.Resource.CodedExtent)

	refs, err := fb.DpbImageResourcesByIndex([]int8{1, -1, 2}, vkdecoder.ImageLayoutDecodeDpb)
	require.NoError(t, err)
	require.Len(t, refs, 3)
	require.Equal(t, vkdecoder.ImageLayoutDecodeDpb, refs[0].Info.CurrentLayout)
	require.Zero(t, refs[1].Info.Image)
	require.Equal(t, vkdecoder.ImageLayoutUndefined, refs[2].Info.CurrentLayout)

	refs, err = fb.DpbImageResourcesByIndex([]int8{2}, vkdecoder.ImageLayoutDecodeDpb)
	require.NoError(t, err)
	require.Equal(t, vkdecoder.ImageLayoutDecodeDpb, refs[0].Info.CurrentLayout)

	_, err = fb.DpbImageResourcesByIndex([]int8{7}, vkdecoder.ImageLayoutDecodeDpb)
	require.ErrorIs(t, err, ErrBadIndex)
}

func TestImageViewArrayAddressesLayers(t *testing.T) {
	t.Parallel()
	dev := recorder.New(recorder.DefaultConfig())
	fb := New(dev)
	cfg := poolConfig(3)
	cfg.UseImageArray = true
	cfg.UseImageViewArray = true
	_, err := fb.InitImagePool(cfg)
	require.NoError(t, err)

	dpb, _, err := fb.CurrentImageResourceByIndex(2, vkdecoder.ImageLayoutDecodeDpb, vkdecoder.ImageLayoutDecodeDst)
	require.NoError(t, err)
	require.EqualValues(t, 2, dpb.Resource.BaseArrayLayer)
	require.EqualValues(t, 2, dpb.Info.BaseArrayLayer)

	first, _, err := fb.CurrentImageResourceByIndex(0, vkdecoder.ImageLayoutDecodeDpb, vkdecoder.ImageLayoutDecodeDst)
	require.NoError(t, err)
	require.Equal(t, dpb.Info.Image, first.Info.Image)
	require.Equal(t, dpb.Resource.ImageView, first.Resource.ImageView)
}

func TestQueueDequeueRelease(t *testing.T) {
	t.Parallel()
	dev := recorder.New(recorder.DefaultConfig())
	fb := New(dev)
	_, err := fb.InitImagePool(poolConfig(2))
	require.NoError(t, err)

	bitstream, params := &refCounter{count: 1}, &refCounter{count: 1}
	refs := vkdecoder.ReferencedObjects{Bitstream: bitstream, SessionParameters: params}

	sync := vkdecoder.FrameSynchronizationInfo{HasFrameCompleteSignalFence: true, HasFrameCompleteSignalSemaphore: true}
	info := &vkdecoder.DecodePictureInfo{Timestamp: 40 * time.Millisecond}
	require.NoError(t, fb.QueuePictureForDecode(1, info, refs, &sync))
	require.NotZero(t, sync.CompleteFence)
	require.NotZero(t, sync.CompleteSemaphore)
	require.Zero(t, sync.ConsumerDoneFence)
	require.Zero(t, sync.ConsumerDoneSemaphore)
	require.EqualValues(t, 1, sync.StartQueryID)
	require.EqualValues(t, 1, sync.NumQueries)
	require.EqualValues(t, 2, bitstream.count)
	require.EqualValues(t, 2, params.count)

	status, err := dev.FenceStatus(sync.CompleteFence)
	require.NoError(t, err)
	require.Equal(t, vkdecoder.FenceSignaled, status)

	frame, ok := fb.TryDequeueDecodedPicture()
	require.True(t, ok)
	require.Equal(t, 1, frame.PictureIndex)
	require.Equal(t, 40*time.Millisecond, frame.Info.Timestamp)
	require.Equal(t, sync.CompleteFence, frame.CompleteFence)

	require.ErrorIs(t, fb.ReleaseDisplayedPicture(0, FrameRelease{}), ErrNotDisplayed)
	require.NoError(t, fb.ReleaseDisplayedPicture(1, FrameRelease{SignalsSemaphore: true}))
	require.EqualValues(t, 1, bitstream.count)
	require.EqualValues(t, 1, params.count)

	next := vkdecoder.FrameSynchronizationInfo{HasFrameCompleteSignalFence: true}
	require.NoError(t, fb.QueuePictureForDecode(1, info, vkdecoder.ReferencedObjects{}, &next))
	require.Equal(t, frame.ConsumerDoneSemaphore, next.ConsumerDoneSemaphore)
	require.Zero(t, next.ConsumerDoneFence)
	require.Zero(t, next.CompleteSemaphore)
}

func TestReuseBeforeReleaseDropsStaleEntry(t *testing.T) {
	t.Parallel()
	dev := recorder.New(recorder.DefaultConfig())
	fb := New(dev)
	_, err := fb.InitImagePool(poolConfig(2))
	require.NoError(t, err)

	bitstream := &refCounter{count: 1}
	refs := vkdecoder.ReferencedObjects{Bitstream: bitstream}
	info := &vkdecoder.DecodePictureInfo{}
	var sync vkdecoder.FrameSynchronizationInfo

	require.NoError(t, fb.QueuePictureForDecode(0, info, refs, &sync))
	require.NoError(t, fb.QueuePictureForDecode(1, info, vkdecoder.ReferencedObjects{}, &sync))
	require.NoError(t, fb.QueuePictureForDecode(0, info, vkdecoder.ReferencedObjects{}, &sync))
	require.EqualValues(t, 1, bitstream.count)
	require.Equal(t, 2, fb.Pending())

	first := fb.DequeueDecodedPicture()
	require.Equal(t, 1, first.PictureIndex)
	second := fb.DequeueDecodedPicture()
	require.Equal(t, 0, second.PictureIndex)
	require.Greater(t, second.DecodeOrder, first.DecodeOrder)
}

func TestReservePicture(t *testing.T) {
	t.Parallel()
	dev := recorder.New(recorder.DefaultConfig())
	fb := New(dev)
	_, err := fb.InitImagePool(poolConfig(2))
	require.NoError(t, err)

	idx, err := fb.ReservePicture()
	require.NoError(t, err)
	require.Equal(t, 0, idx)
	idx, err = fb.ReservePicture()
	require.NoError(t, err)
	require.Equal(t, 1, idx)
	_, err = fb.ReservePicture()
	require.ErrorIs(t, err, ErrNoFreeSlot)
}

func TestReleaseWakesConsumer(t *testing.T) {
	t.Parallel()
	dev := recorder.New(recorder.DefaultConfig())
	fb := New(dev)
	_, err := fb.InitImagePool(poolConfig(1))
	require.NoError(t, err)

	done := make(chan *Frame)
	go func() { done <- fb.DequeueDecodedPicture() }()

	fb.Release()
	select {
	case frame := <-done:
		require.Nil(t, frame)
	case <-time.After(time.Second):
		t.Fatal("consumer was not woken up")
	}
}
