package h264

import (
	"testing"

	"github.com/Eyevinn/mp4ff/avc"
	"github.com/stretchr/testify/require"
)

func TestParseSliceHeader(t *testing.T) {
	t.Parallel()
	header, err := ParseSliceHeader([]byte{0x65, 0x88, 0x84})
	require.NoError(t, err)
	require.Equal(t, SliceHeader{FirstMbInSlice: 0, SliceType: 7, PPSID: 0}, header)

	_, err = ParseSliceHeader([]byte{0x67, 0x64})
	require.Error(t, err)
	_, err = ParseSliceHeader([]byte{0x41})
	require.Error(t, err)
}

func TestNaluType(t *testing.T) {
	t.Parallel()
	require.EqualValues(t, NaluIDR, NaluType([]byte{0x65}))
	require.EqualValues(t, NaluSPS, NaluType([]byte{0x67}))
	require.Zero(t, NaluType(nil))
	require.True(t, IsSlice([]byte{0x41}))
	require.False(t, IsSlice([]byte{0x68}))
}

func TestNewStdSPS(t *testing.T) {
	t.Parallel()
	nalu := []byte{0x67, 0x64, 0x00, 0x1f}
	std, err := NewStdSPS(&avc.SPS{
		ParameterID:      3,
		Profile:          100,
		Level:            31,
		ChromaFormatIDC:  1,
		NumRefFrames:     4,
		FrameMbsOnlyFlag: false,
		Width:            1920,
		Height:           1080,
		VUI:              &avc.VUIParameters{NumUnitsInTick: 1001, TimeScale: 60000},
	}, nalu)
	require.NoError(t, err)
	require.EqualValues(t, 3, std.SeqParameterSetID)
	require.EqualValues(t, 4, std.MaxNumRefFrames)
	require.EqualValues(t, 1920, std.CodedWidth)
	require.EqualValues(t, 1088, std.CodedHeight)
	require.EqualValues(t, 1080, std.Height)
	require.Equal(t, [2]uint32{60000, 2002}, std.FrameRate)
	require.Equal(t, "avc1.64001F", std.Tag())

	nalu[1] = 0
	require.EqualValues(t, 0x64, std.NALU[1])

	_, err = NewStdSPS(&avc.SPS{ParameterID: MaxSPSIDs}, nalu)
	require.ErrorIs(t, err, ErrIDOutOfRange)
	_, err = NewStdSPS(nil, nalu)
	require.Error(t, err)
}

func TestNewStdPPS(t *testing.T) {
	t.Parallel()
	std, err := NewStdPPS(&avc.PPS{PicParameterSetID: 200, SeqParameterSetID: 31}, []byte{0x68})
	require.NoError(t, err)
	require.EqualValues(t, 200, std.PicParameterSetID)
	require.EqualValues(t, 31, std.SeqParameterSetID)

	_, err = NewStdPPS(&avc.PPS{SeqParameterSetID: MaxSPSIDs}, nil)
	require.ErrorIs(t, err, ErrIDOutOfRange)
}
