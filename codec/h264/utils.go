package h264

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/Eyevinn/mp4ff/bits"
)

// NALU types relevant to picture parameter handling.
const (
	NaluNonIDR = 1
	NaluIDR    = 5
	NaluSEI    = 6
	NaluSPS    = 7
	NaluPPS    = 8
	NaluAUD    = 9
)

// Id ranges of the parameter set kinds.
const (
	MaxSPSIDs = 32
	MaxPPSIDs = 256
)

const (
	mbSize       = 16
	naluTypeMask = 0x1f
)

// NaluType returns the nal_unit_type of an H.264 NAL unit.
func NaluType(nalu []byte) byte {
	if len(nalu) == 0 {
		return 0
	}
	return nalu[0] & naluTypeMask
}

// IsSlice reports whether the NAL unit carries coded slice data.
func IsSlice(nalu []byte) bool {
	typ := NaluType(nalu)
	return typ == NaluNonIDR || typ == NaluIDR
}

// SliceHeader holds the leading slice header fields needed to route a picture.
type SliceHeader struct {
	FirstMbInSlice uint
	SliceType      uint
	PPSID          uint
}

// ParseSliceHeader reads first_mb_in_slice, slice_type and pic_parameter_set_id.
func ParseSliceHeader(nalu []byte) (header SliceHeader, err error) {
	if !IsSlice(nalu) {
		return header, fmt.Errorf("h264parser: nal_unit_type=%d has no slice header", NaluType(nalu))
	}
	if len(nalu) < 2 { //nolint:mnd // header byte plus at least one payload byte
		return header, errors.New("h264parser: packet too short to parse slice header")
	}
	r := bits.NewEBSPReader(bytes.NewReader(nalu[1:]))
	header.FirstMbInSlice = r.ReadExpGolomb()
	header.SliceType = r.ReadExpGolomb()
	header.PPSID = r.ReadExpGolomb()
	if err = r.AccError(); err != nil {
		return header, fmt.Errorf("h264parser: slice header: %w", err)
	}
	return header, nil
}
