package vkdecoder

// MaxDpbRefSlots is the number of reference slots a picture may name.
const MaxDpbRefSlots = 16

// MaxDpbRefAndSetupSlots adds the setup slot of the current picture.
const MaxDpbRefAndSetupSlots = MaxDpbRefSlots + 1

const (
	vp9DecodeSurfaces     = 12
	h264NonRefSurfaces    = 4
	h264DisplaySurfaces   = 4
	hevcMaxLumaPS         = 35651584 // Level 6.2.
	hevcMaxDpbPicBuf      = 6
	hevcMaxDpbSize        = 16
	hevcExtraSurfaces     = 4
	defaultDecodeSurfaces = 8
)

// NumDecodeSurfaces returns the number of decode surfaces a codec needs for a picture size.
func NumDecodeSurfaces(codec CodecOperation, minNumDecodeSurfaces, width, height uint32) uint32 {
	switch codec {
	case CodecOperationDecodeVP9:
		return vp9DecodeSurfaces
	case CodecOperationDecodeH264:
		return minNumDecodeSurfaces + h264NonRefSurfaces + h264DisplaySurfaces
	case CodecOperationDecodeH265:
		return hevcDpbSize(uint64(width)*uint64(height)) + hevcExtraSurfaces
	}
	return defaultDecodeSurfaces
}

// hevcDpbSize follows the general tier and level limits of H.265 annex A.4.1.
func hevcDpbSize(picSizeInSamplesY uint64) uint32 {
	var maxDpbSize uint32
	switch {
	case picSizeInSamplesY <= hevcMaxLumaPS>>2:
		maxDpbSize = hevcMaxDpbPicBuf * 4 //nolint:mnd
	case picSizeInSamplesY <= hevcMaxLumaPS>>1:
		maxDpbSize = hevcMaxDpbPicBuf * 2 //nolint:mnd
	case picSizeInSamplesY <= (3*hevcMaxLumaPS)>>2:
		maxDpbSize = (hevcMaxDpbPicBuf * 4) / 3 //nolint:mnd
	default:
		maxDpbSize = hevcMaxDpbPicBuf
	}
	return min(maxDpbSize, hevcMaxDpbSize)
}

// AlignUp rounds v up to the next multiple of a power of two granularity.
// Zero granularity leaves v unchanged.
func AlignUp(v, granularity uint32) uint32 {
	if granularity == 0 {
		return v
	}
	mask := granularity - 1
	return (v + mask) &^ mask
}

// AlignUp64 is AlignUp for buffer sizes and offsets.
func AlignUp64(v, granularity uint64) uint64 {
	if granularity == 0 {
		return v
	}
	mask := granularity - 1
	return (v + mask) &^ mask
}

// AlignExtent raises extent to at least minExtent and rounds it up to the access granularity.
func AlignExtent(extent, minExtent, granularity Extent2D) Extent2D {
	return Extent2D{
		Width:  AlignUp(max(extent.Width, minExtent.Width), granularity.Width),
		Height: AlignUp(max(extent.Height, minExtent.Height), granularity.Height),
	}
}
