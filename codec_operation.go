package vkdecoder

import "strings"

// CodecOperation is a bit set of video codec operations supported by a decode queue.
type CodecOperation uint32

// Codec operation bits.
const (
	CodecOperationNone       CodecOperation = 0
	CodecOperationDecodeH264 CodecOperation = 1 << 0
	CodecOperationDecodeH265 CodecOperation = 1 << 1
	CodecOperationDecodeAV1  CodecOperation = 1 << 2
	CodecOperationDecodeVP9  CodecOperation = 1 << 3
)

// CodecOperationAllDecode is the set of decode operations this module knows about.
const CodecOperationAllDecode = CodecOperationDecodeH264 | CodecOperationDecodeH265 |
	CodecOperationDecodeAV1 | CodecOperationDecodeVP9

var codecNames = []struct {
	op   CodecOperation
	name string
}{
	{CodecOperationNone, "None"},
	{CodecOperationDecodeH264, "AVC/H.264"},
	{CodecOperationDecodeH265, "H.265/HEVC"},
	{CodecOperationDecodeVP9, "VP9"},
	{CodecOperationDecodeAV1, "AV1"},
}

// String returns the human-readable codec name of a single operation bit.
// Sets of more than one bit are rendered as a '|' separated list.
func (op CodecOperation) String() string {
	for _, cn := range codecNames {
		if cn.op == op {
			return cn.name
		}
	}
	var names []string
	for _, cn := range codecNames {
		if cn.op != CodecOperationNone && op&cn.op != 0 {
			names = append(names, cn.name)
		}
	}
	if len(names) == 0 {
		return "Unknown"
	}
	return strings.Join(names, "|")
}

// Has reports whether every bit of other is present in op.
func (op CodecOperation) Has(other CodecOperation) bool {
	return other != CodecOperationNone && op&other == other
}

// ChromaSubsampling identifies the chroma layout of a video profile.
type ChromaSubsampling uint32

// Chroma subsampling bits.
const (
	ChromaSubsamplingInvalid    ChromaSubsampling = 0
	ChromaSubsamplingMonochrome ChromaSubsampling = 1 << 0
	ChromaSubsampling420        ChromaSubsampling = 1 << 1
	ChromaSubsampling422        ChromaSubsampling = 1 << 2
	ChromaSubsampling444        ChromaSubsampling = 1 << 3
)

// String returns the human-readable representation of the chroma format.
func (cs ChromaSubsampling) String() string {
	switch cs {
	case ChromaSubsamplingMonochrome:
		return "YCbCr 400 (Monochrome)"
	case ChromaSubsampling420:
		return "YCbCr 420"
	case ChromaSubsampling422:
		return "YCbCr 422"
	case ChromaSubsampling444:
		return "YCbCr 444"
	}
	return "Unknown"
}

// IsValid reports whether cs is exactly one of the known subsampling modes.
func (cs ChromaSubsampling) IsValid() bool {
	switch cs {
	case ChromaSubsamplingMonochrome, ChromaSubsampling420, ChromaSubsampling422, ChromaSubsampling444:
		return true
	}
	return false
}

// ChromaSubsamplingFromIDC converts a bitstream chroma_format_idc.
func ChromaSubsamplingFromIDC(idc uint8) ChromaSubsampling {
	switch idc {
	case 0:
		return ChromaSubsamplingMonochrome
	case 1:
		return ChromaSubsampling420
	case 2: //nolint:mnd
		return ChromaSubsampling422
	case 3: //nolint:mnd
		return ChromaSubsampling444
	}
	return ChromaSubsamplingInvalid
}

// ComponentBitDepth is the bit depth of luma or chroma samples in a profile.
type ComponentBitDepth uint32

// Component bit depth bits.
const (
	ComponentBitDepthInvalid ComponentBitDepth = 0
	ComponentBitDepth8       ComponentBitDepth = 1 << 0
	ComponentBitDepth10      ComponentBitDepth = 1 << 2
	ComponentBitDepth12      ComponentBitDepth = 1 << 4
)

// BitDepthFromMinus8 converts a bitstream bit_depth_minus8 value into a ComponentBitDepth.
func BitDepthFromMinus8(minus8 uint32) ComponentBitDepth {
	switch minus8 {
	case 0:
		return ComponentBitDepth8
	case 2: //nolint:mnd
		return ComponentBitDepth10
	case 4: //nolint:mnd
		return ComponentBitDepth12
	}
	return ComponentBitDepthInvalid
}

// Bits returns the number of bits per component.
func (bd ComponentBitDepth) Bits() uint32 {
	switch bd {
	case ComponentBitDepth8:
		return 8 //nolint:mnd
	case ComponentBitDepth10:
		return 10 //nolint:mnd
	case ComponentBitDepth12:
		return 12 //nolint:mnd
	}
	return 0
}

// VideoProfile fully identifies the decode profile a session is created for.
type VideoProfile struct {
	Codec             CodecOperation
	ChromaSubsampling ChromaSubsampling
	LumaBitDepth      ComponentBitDepth
	ChromaBitDepth    ComponentBitDepth
	CodecProfile      uint32
}

// NewVideoProfile builds a profile from the detected stream format.
func NewVideoProfile(format *DetectedVideoFormat) VideoProfile {
	return VideoProfile{
		Codec:             format.Codec,
		ChromaSubsampling: format.ChromaSubsampling,
		LumaBitDepth:      BitDepthFromMinus8(format.BitDepthLumaMinus8),
		ChromaBitDepth:    BitDepthFromMinus8(format.BitDepthChromaMinus8),
		CodecProfile:      format.CodecProfile,
	}
}
