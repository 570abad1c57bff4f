package nal

import (
	"bytes"
	"encoding/binary"
)

// Constants for different NALU (Network Abstraction Layer Unit) formats.
const (
	naluRaw    = iota // Raw NALU format.
	naluAVCC          // AVCC NALU format.
	naluANNEXB        // ANNEXB NALU format.
)

// MinNaluSize is the minimum size of a Network Abstraction Layer Unit (NALU).
const MinNaluSize = 4

// Format names the framing SplitNALUs detected.
type Format int

// Framings returned by SplitNALUs.
const (
	FormatRaw    Format = naluRaw
	FormatAVCC   Format = naluAVCC
	FormatAnnexB Format = naluANNEXB
)

func (f Format) String() string {
	switch f {
	case FormatAVCC:
		return "AVCC"
	case FormatAnnexB:
		return "ANNEXB"
	}
	return "RAW"
}

var startCode = []byte{0, 0, 1}

// startCodeLength returns 3 or 4 if b starts with a start code, 0 otherwise.
func startCodeLength(b []byte) int {
	switch {
	case len(b) >= 3 && b[0] == 0 && b[1] == 0 && b[2] == 1:
		return 3 //nolint:mnd
	case len(b) >= 4 && b[0] == 0 && b[1] == 0 && b[2] == 0 && b[3] == 1:
		return 4 //nolint:mnd
	}
	return 0
}

// parseANNEXB splits b on start codes. Trailing zero bytes of every unit are dropped.
func parseANNEXB(b []byte) [][]byte {
	var nalus [][]byte
	pos := startCodeLength(b)
	for pos < len(b) {
		next := bytes.Index(b[pos:], startCode)
		end := len(b)
		if next >= 0 {
			end = pos + next
		}
		if nalu := bytes.TrimRight(b[pos:end], "\x00"); len(nalu) > 0 {
			nalus = append(nalus, nalu)
		}
		if next < 0 {
			break
		}
		pos = end + len(startCode)
	}
	return nalus
}

// parseAVCC splits 4-byte length prefixed units. It fails if a length overruns b.
func parseAVCC(b []byte) ([][]byte, bool) {
	var nalus [][]byte
	for len(b) >= MinNaluSize {
		size := binary.BigEndian.Uint32(b)
		b = b[MinNaluSize:]
		if uint64(size) > uint64(len(b)) {
			return nil, false
		}
		if size > 0 {
			nalus = append(nalus, b[:size])
		}
		b = b[size:]
	}
	return nalus, len(b) == 0 && len(nalus) > 0
}

// SplitNALUs splits a byte slice into NAL units and reports the framing.
// Start codes are checked first: a 4-byte start code is also a valid AVCC length of 1.
func SplitNALUs(b []byte) (nalus [][]byte, typ Format) {
	if len(b) < MinNaluSize {
		return [][]byte{b}, FormatRaw
	}
	if startCodeLength(b) > 0 {
		return parseANNEXB(b), FormatAnnexB
	}
	if nalus, ok := parseAVCC(b); ok {
		return nalus, FormatAVCC
	}
	return [][]byte{b}, FormatRaw
}

// AppendAnnexB appends nalu to dst behind a 4-byte start code.
func AppendAnnexB(dst []byte, nalu []byte) []byte {
	dst = append(dst, 0, 0, 0, 1)
	return append(dst, nalu...)
}
