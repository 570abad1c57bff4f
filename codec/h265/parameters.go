package h265

import (
	"errors"
	"fmt"

	"github.com/Eyevinn/mp4ff/hevc"
)

// StdVPS is the decode-engine view of an H.265 video parameter set.
type StdVPS struct {
	VideoParameterSetID uint8
	NALU                []byte
}

// StdSPS is the decode-engine view of an H.265 sequence parameter set.
type StdSPS struct {
	SeqParameterSetID    uint8
	VideoParameterSetID  uint8
	ProfileIDC           uint8
	LevelIDC             uint8
	ChromaFormatIDC      uint8
	BitDepthLumaMinus8   uint8
	BitDepthChromaMinus8 uint8
	CodedWidth           uint32
	CodedHeight          uint32
	Width                uint32 // Width after the conformance window.
	Height               uint32 // Height after the conformance window.
	NALU                 []byte
}

// StdPPS is the decode-engine view of an H.265 picture parameter set.
type StdPPS struct {
	PicParameterSetID uint8
	SeqParameterSetID uint8
	NALU              []byte
}

var ErrIDOutOfRange = errors.New("h265parser: parameter set id out of range")

// ParseVPS reads vps_video_parameter_set_id from a VPS NAL unit.
func ParseVPS(nalu []byte) (*StdVPS, error) {
	if NaluType(nalu) != NalUnitVps {
		return nil, fmt.Errorf("h265parser: nal_unit_type=%d is not a VPS", NaluType(nalu))
	}
	if len(nalu) <= naluHeaderSize {
		return nil, errors.New("h265parser: VPS too short")
	}
	return &StdVPS{
		VideoParameterSetID: nalu[naluHeaderSize] >> 4, //nolint:mnd // u(4)
		NALU:                append([]byte(nil), nalu...),
	}, nil
}

// NewStdSPS converts a parsed SPS into its decode-engine form.
func NewStdSPS(sps *hevc.SPS, nalu []byte) (*StdSPS, error) {
	if sps == nil {
		return nil, errors.New("h265parser: nil SPS")
	}
	if len(nalu) <= naluHeaderSize {
		return nil, errors.New("h265parser: SPS too short")
	}
	if uint32(sps.SpsID) >= MaxSPSIDs {
		return nil, fmt.Errorf("%w: sps_id=%d", ErrIDOutOfRange, sps.SpsID)
	}
	width, height := sps.ImageSize()
	return &StdSPS{
		SeqParameterSetID:    sps.SpsID,
		VideoParameterSetID:  nalu[naluHeaderSize] >> 4, //nolint:mnd // u(4)
		ProfileIDC:           sps.ProfileTierLevel.GeneralProfileIDC,
		LevelIDC:             sps.ProfileTierLevel.GeneralLevelIDC,
		ChromaFormatIDC:      sps.ChromaFormatIDC,
		BitDepthLumaMinus8:   sps.BitDepthLumaMinus8,
		BitDepthChromaMinus8: sps.BitDepthChromaMinus8,
		CodedWidth:           sps.PicWidthInLumaSamples,
		CodedHeight:          sps.PicHeightInLumaSamples,
		Width:                width,
		Height:               height,
		NALU:                 append([]byte(nil), nalu...),
	}, nil
}

// NewStdPPS converts a parsed PPS into its decode-engine form.
func NewStdPPS(pps *hevc.PPS, nalu []byte) (*StdPPS, error) {
	if pps == nil {
		return nil, errors.New("h265parser: nil PPS")
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
	return fmt.Sprintf("hev1.%d.L%d.90", sps.ProfileIDC, sps.LevelIDC)
}
