package h264

import (
	"errors"
	"fmt"

	"github.com/Eyevinn/mp4ff/avc"
)

// StdSPS is the decode-engine view of an H.264 sequence parameter set.
type StdSPS struct {
	SeqParameterSetID    uint8
	ProfileIDC           uint8
	LevelIDC             uint8
	ChromaFormatIDC      uint8
	BitDepthLumaMinus8   uint8
	BitDepthChromaMinus8 uint8
	MaxNumRefFrames      uint8
	FrameMbsOnlyFlag     bool
	CodedWidth           uint32
	CodedHeight          uint32
	Width                uint32 // Width after cropping.
	Height               uint32 // Height after cropping.
	FrameRate            [2]uint32
	NALU                 []byte
}

// StdPPS is the decode-engine view of an H.264 picture parameter set.
type StdPPS struct {
	PicParameterSetID uint8
	SeqParameterSetID uint8
	NALU              []byte
}

var ErrIDOutOfRange = errors.New("h264parser: parameter set id out of range")

// NewStdSPS converts a parsed SPS into its decode-engine form.
func NewStdSPS(sps *avc.SPS, nalu []byte) (*StdSPS, error) {
	if sps == nil {
		return nil, errors.New("h264parser: nil SPS")
	}
	if sps.ParameterID >= MaxSPSIDs {
		return nil, fmt.Errorf("%w: sps_id=%d", ErrIDOutOfRange, sps.ParameterID)
	}

	heightUnit := uint32(mbSize)
	if !sps.FrameMbsOnlyFlag {
		heightUnit *= 2
	}
	std := &StdSPS{
		SeqParameterSetID:    uint8(sps.ParameterID),
		ProfileIDC:           uint8(sps.Profile),
		LevelIDC:             uint8(sps.Level),
		ChromaFormatIDC:      uint8(sps.ChromaFormatIDC),
		BitDepthLumaMinus8:   uint8(sps.BitDepthLumaMinus8),
		BitDepthChromaMinus8: uint8(sps.BitDepthChromaMinus8),
		MaxNumRefFrames:      uint8(sps.NumRefFrames),
		FrameMbsOnlyFlag:     sps.FrameMbsOnlyFlag,
		CodedWidth:           alignUp(uint32(sps.Width), mbSize),
		CodedHeight:          alignUp(uint32(sps.Height), heightUnit),
		Width:                uint32(sps.Width),
		Height:               uint32(sps.Height),
		NALU:                 append([]byte(nil), nalu...),
	}
	if vui := sps.VUI; vui != nil && vui.NumUnitsInTick != 0 {
		// Two ticks per frame.
		std.FrameRate = [2]uint32{uint32(vui.TimeScale), 2 * uint32(vui.NumUnitsInTick)} //nolint:mnd,gosec
	}
	return std, nil
}

// NewStdPPS converts a parsed PPS into its decode-engine form.
func NewStdPPS(pps *avc.PPS, nalu []byte) (*StdPPS, error) {
	if pps == nil {
		return nil, errors.New("h264parser: nil PPS")
	}
	if pps.PicParameterSetID >= MaxPPSIDs {
		return nil, fmt.Errorf("%w: pps_id=%d", ErrIDOutOfRange, pps.PicParameterSetID)
	}
	if pps.SeqParameterSetID >= MaxSPSIDs {
		return nil, fmt.Errorf("%w: sps_id=%d", ErrIDOutOfRange, pps.SeqParameterSetID)
	}
	return &StdPPS{
		PicParameterSetID: uint8(pps.PicParameterSetID),
		SeqParameterSetID: uint8(pps.SeqParameterSetID),
		NALU:              append([]byte(nil), nalu...),
	}, nil
}

// Tag returns the RFC 6381 codec string of the sequence.
func (sps *StdSPS) Tag() string {
	return fmt.Sprintf("avc1.%02X00%02X", sps.ProfileIDC, sps.LevelIDC)
}

func alignUp(v, unit uint32) uint32 {
	return (v + unit - 1) / unit * unit
}
