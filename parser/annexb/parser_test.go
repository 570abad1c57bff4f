package annexb

import (
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/ugparu/vkdecoder"
	"github.com/ugparu/vkdecoder/decoder"
	"github.com/ugparu/vkdecoder/device/recorder"
	"github.com/ugparu/vkdecoder/framebuffer"
	"github.com/ugparu/vkdecoder/utils/nal"
)

func TestMain(m *testing.M) {
	logrus.SetLevel(logrus.FatalLevel)
	os.Exit(m.Run())
}

// bitWriter produces RBSP bits and escapes them into a NAL unit.
type bitWriter struct {
	buf  []byte
	cur  byte
	nbit int
}

func (w *bitWriter) u(n int, v uint) {
	for i := n - 1; i >= 0; i-- {
		w.cur = w.cur<<1 | byte(v>>uint(i)&1) //nolint:gosec
		w.nbit++
		if w.nbit == 8 {
			w.buf = append(w.buf, w.cur)
			w.cur, w.nbit = 0, 0
		}
	}
}

func (w *bitWriter) ue(v uint) {
	v++
	n := 0
	for x := v; x > 1; x >>= 1 {
		n++
	}
	w.u(n, 0)
	w.u(n+1, v)
}

func (w *bitWriter) se(v int) {
	if v > 0 {
		w.ue(uint(2*v - 1))
		return
	}
	w.ue(uint(-2 * v))
}

// nalu appends the rbsp trailing bits and the emulation prevention bytes.
func (w *bitWriter) nalu(header ...byte) []byte {
	w.u(1, 1)
	for w.nbit != 0 {
		w.u(1, 0)
	}
	out := append([]byte(nil), header...)
	zeros := 0
	for _, b := range w.buf {
		if zeros == 2 && b <= 3 {
			out = append(out, 3)
			zeros = 0
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}

func avcSPS(id, refs, widthMbs, heightMbs uint) []byte {
	w := &bitWriter{}
	w.u(8, 100) // High
	w.u(8, 0)
	w.u(8, 31)
	w.ue(id)
	w.ue(1) // chroma_format_idc
	w.ue(0) // bit_depth_luma_minus8
	w.ue(0) // bit_depth_chroma_minus8
	w.u(1, 0)
	w.u(1, 0) // seq_scaling_matrix_present_flag
	w.ue(0)   // log2_max_frame_num_minus4
	w.ue(2)   // pic_order_cnt_type
	w.ue(refs)
	w.u(1, 0)
	w.ue(widthMbs - 1)
	w.ue(heightMbs - 1)
	w.u(1, 1) // frame_mbs_only_flag
	w.u(1, 1) // direct_8x8_inference_flag
	w.u(1, 0) // frame_cropping_flag
	w.u(1, 0) // vui_parameters_present_flag
	return w.nalu(0x67)
}

func avcPPS(id, spsID uint) []byte {
	w := &bitWriter{}
	w.ue(id)
	w.ue(spsID)
	w.u(1, 0) // entropy_coding_mode_flag
	w.u(1, 0)
	w.ue(0) // num_slice_groups_minus1
	w.ue(0)
	w.ue(0)
	w.u(1, 0)
	w.u(2, 0)
	w.se(0)
	w.se(0)
	w.se(0)
	w.u(1, 1) // deblocking_filter_control_present_flag
	w.u(1, 0)
	w.u(1, 0)
	return w.nalu(0x68)
}

func avcSlice(idr bool, firstMb, ppsID uint) []byte {
	w := &bitWriter{}
	w.ue(firstMb)
	w.ue(7) // I slice
	w.ue(ppsID)
	w.u(8, 0xaa)
	if idr {
		return w.nalu(0x65)
	}
	return w.nalu(0x41)
}

func annexB(nalus ...[]byte) []byte {
	var b []byte
	for _, n := range nalus {
		b = nal.AppendAnnexB(b, n)
	}
	return b
}

type counter struct {
	next int
	err  error
}

func (c *counter) ReservePicture() (int, error) {
	if c.err != nil {
		return -1, c.err
	}
	c.next++
	return c.next - 1, nil
}

func drain(t *testing.T, p *Parser) []decoder.Event {
	t.Helper()
	var events []decoder.Event
	for {
		ev, err := p.Next()
		if errors.Is(err, io.EOF) {
			return events
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
}

func kinds(events []decoder.Event) []decoder.EventKind {
	out := make([]decoder.EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func TestNewRejects(t *testing.T) {
	t.Parallel()
	_, err := New(vkdecoder.CodecOperationDecodeVP9, annexB(avcSPS(0, 1, 80, 45)), &counter{})
	require.ErrorIs(t, err, ErrUnsupportedCodec)

	_, err = New(vkdecoder.CodecOperationDecodeH264, []byte{0, 0, 0, 8, 1, 2, 3, 4, 5, 6, 7, 8}, &counter{})
	require.Error(t, err)
}

func TestParserH264(t *testing.T) {
	t.Parallel()
	stream := annexB(
		avcSPS(0, 1, 80, 45),
		avcPPS(2, 0),
		avcSlice(true, 0, 2),
		avcSlice(true, 40, 2),
		avcSlice(false, 0, 2),
		[]byte{0x09, 0xf0},
		avcSlice(false, 0, 2),
	)
	p, err := New(vkdecoder.CodecOperationDecodeH264, stream, &counter{})
	require.NoError(t, err)

	events := drain(t, p)
	require.Equal(t, []decoder.EventKind{
		decoder.EventParameters, decoder.EventParameters, decoder.EventSequence,
		decoder.EventPicture, decoder.EventPicture, decoder.EventPicture,
	}, kinds(events))

	sps := events[0].Parameters
	require.Equal(t, vkdecoder.KindSPS, sps.Kind)
	require.EqualValues(t, 100, sps.H264SPS.ProfileIDC)
	pps := events[1].Parameters
	require.Equal(t, vkdecoder.KindPPS, pps.Kind)
	require.EqualValues(t, 2, pps.H264PPS.PicParameterSetID)
	require.Zero(t, events[0].UpdateSequenceCount)
	require.Zero(t, events[1].UpdateSequenceCount)

	format := events[2].Format
	require.Equal(t, vkdecoder.CodecOperationDecodeH264, format.Codec)
	require.Equal(t, vkdecoder.Extent2D{Width: 1280, Height: 720}, format.CodedExtent())
	require.Equal(t, vkdecoder.ChromaSubsampling420, format.ChromaSubsampling)
	require.True(t, format.ProgressiveSequence)
	require.EqualValues(t, 2, format.MinNumDecodeSurfaces)
	require.EqualValues(t, 100, format.CodecProfile)
	require.Same(t, format, p.Format())

	idr := events[3]
	require.Equal(t, 0, idr.Picture.CurrPicIdx)
	require.EqualValues(t, 2, idr.Picture.NumSlices)
	require.Equal(t, 2, idr.PpsID)
	require.True(t, idr.Info.Flags.IDRPic)
	require.True(t, idr.Info.Flags.RefPic)
	require.Empty(t, idr.Picture.GopReferenceImagesIndexes)
	require.EqualValues(t, 0, idr.Picture.DecodeFrameInfo.SetupReferenceSlot.SlotIndex)
	nalus, typ := nal.SplitNALUs(idr.Data)
	require.Equal(t, nal.FormatAnnexB, typ)
	require.Len(t, nalus, 2)

	for i, ev := range events[4:] {
		pic := ev.Picture
		require.Equal(t, i+1, pic.CurrPicIdx)
		require.EqualValues(t, 1, pic.NumSlices)
		require.False(t, ev.Info.Flags.IDRPic)
		require.Equal(t, []int8{int8(i)}, pic.GopReferenceImagesIndexes) //nolint:gosec
		require.Len(t, pic.DecodeFrameInfo.ReferenceSlots, 1)
		require.EqualValues(t, i, pic.DecodeFrameInfo.ReferenceSlots[0].SlotIndex)
		require.Equal(t, uint32(1280), ev.Info.DisplayWidth)
	}

	require.Equal(t, Stats{NALUs: 7, ParameterSets: 2, Sequences: 1, Pictures: 3, Slices: 4}, p.Stats())
}

func TestParserSequenceChange(t *testing.T) {
	t.Parallel()
	stream := annexB(
		avcSPS(0, 1, 80, 45),
		avcPPS(0, 0),
		avcSlice(true, 0, 0),
		avcSPS(0, 4, 120, 68),
		avcSlice(true, 0, 0),
		avcSPS(0, 4, 120, 68),
		avcSlice(false, 0, 0),
	)
	p, err := New(vkdecoder.CodecOperationDecodeH264, stream, &counter{})
	require.NoError(t, err)

	events := drain(t, p)
	require.Equal(t, []decoder.EventKind{
		decoder.EventParameters, decoder.EventParameters, decoder.EventSequence, decoder.EventPicture,
		decoder.EventParameters, decoder.EventSequence, decoder.EventPicture,
		decoder.EventParameters, decoder.EventPicture,
	}, kinds(events))
	require.Equal(t, vkdecoder.Extent2D{Width: 1920, Height: 1088}, events[5].Format.CodedExtent())
	require.EqualValues(t, 5, events[5].Format.MaxNumDpbSlots)
	require.Equal(t, 2, p.Stats().Sequences)

	var counts []uint64
	for _, ev := range events {
		if ev.Kind == decoder.EventParameters {
			counts = append(counts, ev.UpdateSequenceCount)
		}
	}
	require.Equal(t, []uint64{0, 0, 1, 1}, counts)
}

func TestParserUpdateSequenceCount(t *testing.T) {
	t.Parallel()
	var nalus [][]byte
	for range 10 {
		nalus = append(nalus, avcSPS(0, 1, 80, 45), avcPPS(0, 0))
	}
	nalus = append(nalus,
		avcPPS(1, 0),
		avcSPS(1, 1, 80, 45),
		avcSPS(0, 2, 80, 45),
		avcPPS(0, 0),
		avcSPS(0, 1, 80, 45),
	)
	p, err := New(vkdecoder.CodecOperationDecodeH264, annexB(nalus...), &counter{})
	require.NoError(t, err)

	type set struct {
		kind vkdecoder.ParameterSetKind
		usc  uint64
	}
	var got []set
	for _, ev := range drain(t, p) {
		got = append(got, set{ev.Parameters.Kind, ev.UpdateSequenceCount})
	}
	require.Len(t, got, 25)
	for _, s := range got[:20] {
		require.Zero(t, s.usc)
	}
	require.Equal(t, []set{
		{vkdecoder.KindPPS, 0},
		{vkdecoder.KindSPS, 0},
		{vkdecoder.KindSPS, 1},
		{vkdecoder.KindPPS, 0},
		{vkdecoder.KindSPS, 2},
	}, got[20:])
}

func TestParserDropsUnusable(t *testing.T) {
	t.Parallel()
	stream := annexB(
		[]byte{0x67},
		avcSlice(true, 0, 0),
		avcSPS(0, 1, 80, 45),
		avcPPS(0, 0),
		[]byte{0x06, 0x05, 0x01, 0x80},
		avcSlice(true, 0, 3),
		avcSlice(true, 0, 0),
	)
	p, err := New(vkdecoder.CodecOperationDecodeH264, stream, &counter{})
	require.NoError(t, err)

	events := drain(t, p)
	require.Equal(t, []decoder.EventKind{
		decoder.EventParameters, decoder.EventParameters, decoder.EventSequence, decoder.EventPicture,
	}, kinds(events))
	stats := p.Stats()
	require.Equal(t, 3, stats.Dropped)
	require.Equal(t, 1, stats.Pictures)
}

func TestParserRetriesReservation(t *testing.T) {
	t.Parallel()
	stream := annexB(avcSPS(0, 1, 80, 45), avcPPS(0, 0), avcSlice(true, 0, 0))
	reserver := &counter{err: framebuffer.ErrNoFreeSlot}
	p, err := New(vkdecoder.CodecOperationDecodeH264, stream, reserver)
	require.NoError(t, err)

	for range 3 {
		_, err = p.Next()
		require.NoError(t, err)
	}
	_, err = p.Next()
	require.ErrorIs(t, err, framebuffer.ErrNoFreeSlot)

	reserver.err = nil
	ev, err := p.Next()
	require.NoError(t, err)
	require.Equal(t, decoder.EventPicture, ev.Kind)
	require.Equal(t, 0, ev.Picture.CurrPicIdx)
	_, err = p.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestParserH265Routing(t *testing.T) {
	t.Parallel()
	vps := []byte{0x40, 0x01, 0x3c, 0xff}
	p, err := New(vkdecoder.CodecOperationDecodeH265, annexB(
		vps,
		[]byte{0x26, 0x01, 0xaf}, // IDR slice without a known PPS
		[]byte{0x46, 0x01, 0x50},
	), &counter{})
	require.NoError(t, err)

	ev, err := p.Next()
	require.NoError(t, err)
	require.Equal(t, decoder.EventParameters, ev.Kind)
	require.Equal(t, vkdecoder.KindVPS, ev.Parameters.Kind)
	require.EqualValues(t, 3, ev.Parameters.H265VPS.VideoParameterSetID)

	_, err = p.Next()
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, Stats{NALUs: 3, ParameterSets: 1, Dropped: 1}, p.Stats())
}

func newStream(t *testing.T) (*recorder.Device, *framebuffer.FrameBuffer, *decoder.StreamDecoder) {
	t.Helper()
	dev := recorder.New(recorder.DefaultConfig())
	fb := framebuffer.New(dev)
	dec, err := decoder.New(dev, dev, fb, decoder.DefaultOptions())
	require.NoError(t, err)
	s := decoder.NewStream(dec, 1)
	t.Cleanup(s.Close)
	require.NoError(t, s.Run())
	return dev, fb, s
}

// feed pushes every event of p through s and returns the surfaces of the decoded pictures.
func feed(t *testing.T, p *Parser, s *decoder.StreamDecoder) []int {
	t.Helper()
	var decoded []int
	for {
		ev, err := p.Next()
		if errors.Is(err, io.EOF) {
			return decoded
		}
		require.NoError(t, err)
		s.Events() <- ev
		select {
		case res := <-s.Results():
			require.NoError(t, res.Err, "event %v", ev.Kind)
			if res.Kind == decoder.EventPicture {
				decoded = append(decoded, res.PictureIndex)
			}
		case <-time.After(time.Second):
			require.FailNow(t, "no result", "event %v", ev.Kind)
		}
	}
}

func TestParserDrivesDecoder(t *testing.T) {
	t.Parallel()
	dev, fb, s := newStream(t)

	stream := annexB(
		avcSPS(0, 1, 80, 45),
		avcPPS(0, 0),
		avcSlice(true, 0, 0),
		avcSlice(false, 0, 0),
		avcSlice(false, 0, 0),
	)
	p, err := New(vkdecoder.CodecOperationDecodeH264, stream, fb)
	require.NoError(t, err)

	require.Equal(t, []int{0, 1, 2}, feed(t, p, s))
	require.Equal(t, 3, fb.Pending())
	require.Len(t, dev.Submissions(), 3)
}

func TestParserDrivesSequenceChange(t *testing.T) {
	t.Parallel()
	dev, fb, s := newStream(t)

	stream := annexB(
		avcSPS(0, 1, 80, 45),
		avcPPS(0, 0),
		avcSlice(true, 0, 0),
		avcSPS(0, 4, 120, 68),
		avcPPS(0, 0),
		avcSlice(true, 0, 0),
		avcSlice(false, 0, 0),
	)
	p, err := New(vkdecoder.CodecOperationDecodeH264, stream, fb)
	require.NoError(t, err)

	require.Len(t, feed(t, p, s), 3)
	require.Equal(t, 2, p.Stats().Sequences)
	require.Len(t, dev.Submissions(), 3)
	_, sessions := dev.Sessions()
	require.Equal(t, 2, sessions)
	require.NoError(t, s.Err())
}
