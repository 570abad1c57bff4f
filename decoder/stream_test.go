package decoder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ugparu/vkdecoder"
	"github.com/ugparu/vkdecoder/codec/h264"
	"github.com/ugparu/vkdecoder/device/recorder"
	"github.com/ugparu/vkdecoder/framebuffer"
)

func newStream(t *testing.T) (*StreamDecoder, *recorder.Device, *framebuffer.FrameBuffer) {
	t.Helper()
	dev := recorder.New(recorder.DefaultConfig())
	fb := framebuffer.New(dev)
	dec, err := New(dev, dev, fb, DefaultOptions())
	require.NoError(t, err)
	s := NewStream(dec, 4)
	t.Cleanup(s.Close)
	require.NoError(t, s.Run())
	return s, dev, fb
}

func roundTrip(t *testing.T, s *StreamDecoder, ev Event) Result {
	t.Helper()
	s.Events() <- ev
	select {
	case res := <-s.Results():
		require.Equal(t, ev.Kind, res.Kind)
		return res
	case <-time.After(time.Second):
		require.FailNow(t, "no result", "event %v", ev.Kind)
	}
	return Result{}
}

func TestStreamDecoder(t *testing.T) {
	t.Parallel()
	s, dev, fb := newStream(t)

	res := roundTrip(t, s, Event{Kind: EventParameters, Parameters: &vkdecoder.PictureParameters{
		Kind:    vkdecoder.KindSPS,
		H264SPS: &h264.StdSPS{SeqParameterSetID: 0, ChromaFormatIDC: 1},
	}})
	require.NoError(t, res.Err)
	res = roundTrip(t, s, Event{Kind: EventParameters, Parameters: &vkdecoder.PictureParameters{
		Kind:    vkdecoder.KindPPS,
		H264PPS: &h264.StdPPS{PicParameterSetID: 1},
	}})
	require.NoError(t, res.Err)
	require.Equal(t, 1, res.ParameterSet.PpsID())

	res = roundTrip(t, s, Event{Kind: EventSequence, Format: avcFormat(1280, 720)})
	require.NoError(t, res.Err)
	require.Equal(t, 12, res.Surfaces)

	for idx := range 3 {
		res = roundTrip(t, s, Event{
			Kind:    EventPicture,
			Picture: &PerFrameDecodeParameters{CurrPicIdx: idx, NumSlices: 1},
			PpsID:   1,
			Data:    []byte{0, 0, 1, 0x65, byte(idx)},
		})
		require.NoError(t, res.Err)
		require.Equal(t, idx, res.PictureIndex)
	}
	require.Equal(t, 3, fb.Pending())

	subs := dev.Submissions()
	require.Len(t, subs, 3)
	decode := find(subs[2].Commands[0], recorder.CmdDecodeVideo)[0].Decode
	data, ok := dev.BitstreamData(decode.SrcBuffer)
	require.True(t, ok)
	require.Equal(t, []byte{0, 0, 1, 0x65, 2}, data[:5])
	require.EqualValues(t, 5, decode.SrcBufferRange)

	frame, ok := fb.TryDequeueDecodedPicture()
	require.True(t, ok)
	require.Equal(t, 0, frame.PictureIndex)
	require.NoError(t, fb.ReleaseDisplayedPicture(frame.PictureIndex, framebuffer.FrameRelease{}))
	require.Equal(t, 1, s.Decoder().BitstreamPool().FreeNodes())
}

func TestStreamDecoderStopsOnFatal(t *testing.T) {
	t.Parallel()
	s, _, _ := newStream(t)

	res := roundTrip(t, s, Event{Kind: EventParameters, Parameters: &vkdecoder.PictureParameters{Kind: vkdecoder.KindSPS}})
	require.ErrorIs(t, res.Err, vkdecoder.ErrInvalidParameterSet)

	res = roundTrip(t, s, Event{Kind: EventPicture, Picture: &PerFrameDecodeParameters{}, Data: []byte{1}})
	require.True(t, vkdecoder.IsFatal(res.Err))

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		require.FailNow(t, "stream did not stop")
	}
	require.ErrorIs(t, s.Err(), vkdecoder.ErrNotInitialized)
}

func TestStreamDecoderSendAfterClose(t *testing.T) {
	t.Parallel()
	s, _, _ := newStream(t)
	s.Close()

	ev := Event{Kind: EventSequence, Format: avcFormat(1280, 720)}
	require.NotPanics(t, func() {
		select {
		case s.Events() <- ev:
		case <-s.Done():
		}
	})
	_, ok := <-s.Results()
	require.False(t, ok)
}
