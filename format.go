package vkdecoder

// Format is a picture format of decode output and reference images.
type Format uint32

// Picture formats produced by video decode engines.
const (
	FormatUndefined Format = iota
	FormatR8Unorm
	FormatR10X6Unorm
	FormatG8B8R82Plane420Unorm
	FormatG8B8R82Plane422Unorm
	FormatG8B8R82Plane444Unorm
	FormatG10X6B10X6R10X62Plane420Unorm
	FormatG10X6B10X6R10X62Plane422Unorm
	FormatG10X6B10X6R10X62Plane444Unorm
	FormatG12X4B12X4R12X42Plane420Unorm
	FormatG16B16R162Plane420Unorm
	FormatG8B8R83Plane420Unorm
)

// PlaneLayout describes how a multi-planar format stores its components.
type PlaneLayout struct {
	NumPlanes             int
	SecondarySubsampledX  bool
	SecondarySubsampledY  bool
	BytesPerLumaComponent int
}

var planeLayouts = map[Format]PlaneLayout{
	FormatR8Unorm:                       {NumPlanes: 1, BytesPerLumaComponent: 1},
	FormatR10X6Unorm:                    {NumPlanes: 1, BytesPerLumaComponent: 2},
	FormatG8B8R82Plane420Unorm:          {NumPlanes: 2, SecondarySubsampledX: true, SecondarySubsampledY: true, BytesPerLumaComponent: 1},
	FormatG8B8R82Plane422Unorm:          {NumPlanes: 2, SecondarySubsampledX: true, BytesPerLumaComponent: 1},
	FormatG8B8R82Plane444Unorm:          {NumPlanes: 2, BytesPerLumaComponent: 1},
	FormatG10X6B10X6R10X62Plane420Unorm: {NumPlanes: 2, SecondarySubsampledX: true, SecondarySubsampledY: true, BytesPerLumaComponent: 2},
	FormatG10X6B10X6R10X62Plane422Unorm: {NumPlanes: 2, SecondarySubsampledX: true, BytesPerLumaComponent: 2},
	FormatG10X6B10X6R10X62Plane444Unorm: {NumPlanes: 2, BytesPerLumaComponent: 2},
	FormatG12X4B12X4R12X42Plane420Unorm: {NumPlanes: 2, SecondarySubsampledX: true, SecondarySubsampledY: true, BytesPerLumaComponent: 2},
	FormatG16B16R162Plane420Unorm:       {NumPlanes: 2, SecondarySubsampledX: true, SecondarySubsampledY: true, BytesPerLumaComponent: 2},
	FormatG8B8R83Plane420Unorm:          {NumPlanes: 3, SecondarySubsampledX: true, SecondarySubsampledY: true, BytesPerLumaComponent: 1},
}

// PlaneLayout returns the plane description of the format and false for unknown formats.
func (f Format) PlaneLayout() (PlaneLayout, bool) {
	pl, ok := planeLayouts[f]
	return pl, ok
}

func (f Format) String() string {
	switch f {
	case FormatUndefined:
		return "UNDEFINED"
	case FormatR8Unorm:
		return "R8_UNORM"
	case FormatR10X6Unorm:
		return "R10X6_UNORM"
	case FormatG8B8R82Plane420Unorm:
		return "G8_B8R8_2PLANE_420_UNORM"
	case FormatG8B8R82Plane422Unorm:
		return "G8_B8R8_2PLANE_422_UNORM"
	case FormatG8B8R82Plane444Unorm:
		return "G8_B8R8_2PLANE_444_UNORM"
	case FormatG10X6B10X6R10X62Plane420Unorm:
		return "G10X6_B10X6R10X6_2PLANE_420_UNORM"
	case FormatG10X6B10X6R10X62Plane422Unorm:
		return "G10X6_B10X6R10X6_2PLANE_422_UNORM"
	case FormatG10X6B10X6R10X62Plane444Unorm:
		return "G10X6_B10X6R10X6_2PLANE_444_UNORM"
	case FormatG12X4B12X4R12X42Plane420Unorm:
		return "G12X4_B12X4R12X4_2PLANE_420_UNORM"
	case FormatG16B16R162Plane420Unorm:
		return "G16_B16R16_2PLANE_420_UNORM"
	case FormatG8B8R83Plane420Unorm:
		return "G8_B8_R8_3PLANE_420_UNORM"
	}
	return "UNKNOWN"
}

// FormatForProfile picks the two-plane format matching a chroma layout and luma bit depth.
// Monochrome profiles map to single plane formats.
func FormatForProfile(cs ChromaSubsampling, depth ComponentBitDepth) Format {
	switch cs {
	case ChromaSubsamplingMonochrome:
		if depth == ComponentBitDepth8 {
			return FormatR8Unorm
		}
		return FormatR10X6Unorm
	case ChromaSubsampling420:
		switch depth {
		case ComponentBitDepth8:
			return FormatG8B8R82Plane420Unorm
		case ComponentBitDepth10:
			return FormatG10X6B10X6R10X62Plane420Unorm
		case ComponentBitDepth12:
			return FormatG12X4B12X4R12X42Plane420Unorm
		}
	case ChromaSubsampling422:
		if depth == ComponentBitDepth8 {
			return FormatG8B8R82Plane422Unorm
		}
		return FormatG10X6B10X6R10X62Plane422Unorm
	case ChromaSubsampling444:
		if depth == ComponentBitDepth8 {
			return FormatG8B8R82Plane444Unorm
		}
		return FormatG10X6B10X6R10X62Plane444Unorm
	}
	return FormatUndefined
}
