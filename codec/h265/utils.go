package h265

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/Eyevinn/mp4ff/bits"
)

// NAL unit types used by the picture parameter path.
const (
	NalUnitCodedSliceTrailN    = 0
	NalUnitCodedSliceRaslR     = 9
	NalUnitCodedSliceBlaWLp    = 16
	NalUnitCodedSliceIdrWRadl  = 19
	NalUnitCodedSliceIdrNLp    = 20
	NalUnitCodedSliceCra       = 21
	NalUnitReservedIrapVcl23   = 23
	NalUnitVps                 = 32
	NalUnitSps                 = 33
	NalUnitPps                 = 34
	NalUnitAccessUnitDelimiter = 35
	NalUnitPrefixSei           = 39
)

// Id ranges of the parameter set kinds.
const (
	MaxVPSIDs = 16
	MaxSPSIDs = 16
	MaxPPSIDs = 64
)

const naluHeaderSize = 2

// NaluType returns the nal_unit_type of an H.265 NAL unit.
func NaluType(nalu []byte) byte {
	if len(nalu) == 0 {
		return 0xff //nolint:mnd
	}
	return (nalu[0] >> 1) & 0x3f //nolint:mnd
}

// IsSlice reports whether the NAL unit is a VCL NAL unit carrying a slice segment.
func IsSlice(nalu []byte) bool {
	typ := NaluType(nalu)
	return typ <= NalUnitCodedSliceRaslR || (typ >= NalUnitCodedSliceBlaWLp && typ <= NalUnitReservedIrapVcl23)
}

// IsKey reports whether the NAL unit type is an IRAP picture.
func IsKey(naluType byte) bool {
	return naluType >= NalUnitCodedSliceBlaWLp && naluType <= NalUnitCodedSliceCra
}

// IsIDR reports whether the NAL unit type is an IDR picture.
func IsIDR(naluType byte) bool {
	return naluType == NalUnitCodedSliceIdrWRadl || naluType == NalUnitCodedSliceIdrNLp
}

// SliceHeader holds the leading slice segment header fields needed to route a picture.
type SliceHeader struct {
	FirstSliceSegmentInPic bool
	PPSID                  uint
}

// ParseSliceHeader reads first_slice_segment_in_pic_flag and slice_pic_parameter_set_id.
func ParseSliceHeader(nalu []byte) (header SliceHeader, err error) {
	if len(nalu) <= naluHeaderSize {
		return header, errors.New("h265parser: packet too short to parse slice header")
	}
	typ := NaluType(nalu)
	if !IsSlice(nalu) {
		return header, fmt.Errorf("h265parser: nal_unit_type=%d has no slice header", typ)
	}
	r := bits.NewEBSPReader(bytes.NewReader(nalu[naluHeaderSize:]))
	header.FirstSliceSegmentInPic = r.ReadFlag()
	if typ >= NalUnitCodedSliceBlaWLp && typ <= NalUnitReservedIrapVcl23 {
		_ = r.ReadFlag() // no_output_of_prior_pics_flag
	}
	header.PPSID = r.ReadExpGolomb()
	if err = r.AccError(); err != nil {
		return header, fmt.Errorf("h265parser: slice header: %w", err)
	}
	return header, nil
}
