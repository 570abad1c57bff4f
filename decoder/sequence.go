package decoder

import (
	"errors"
	"fmt"

	"github.com/ugparu/vkdecoder"
	"github.com/ugparu/vkdecoder/session"
	"github.com/ugparu/vkdecoder/utils/logger"
)

// StartVideoSequence configures the decoder for a new sequence and returns the number of decode surfaces.
//
// The session is recreated only when the new sequence is not compatible with it. A new session
// opens the parameter graph, so sets queued before the first sequence are materialized here.
func (dec *Decoder) StartVideoSequence(format *vkdecoder.DetectedVideoFormat) (int, error) {
	if err := dec.usable(); err != nil {
		return 0, err
	}
	if format == nil {
		return 0, dec.fail("start sequence", fmt.Errorf("%w: nil format", vkdecoder.ErrNotInitialized))
	}

	codedExtent := format.CodedExtent()
	imageExtent := format.ImageExtent()
	if dec.opts.UseLargestSurfaceExtent {
		imageExtent.Width = max(imageExtent.Width, largestSurfaceExtent)
		imageExtent.Height = max(imageExtent.Height, largestSurfaceExtent)
	}

	surfaces := int(vkdecoder.NumDecodeSurfaces(format.Codec, format.MinNumDecodeSurfaces,
		codedExtent.Width, codedExtent.Height))
	dec.numDecodeSurfaces = max(dec.numDecodeSurfaces, surfaces)

	if !dec.caps.SupportedCodecs().Has(format.Codec) {
		return 0, dec.fail("start sequence", fmt.Errorf("%w: %v", vkdecoder.ErrUnsupportedCodec, format.Codec))
	}
	if !format.ChromaSubsampling.IsValid() {
		return 0, dec.fail("start sequence", fmt.Errorf("%w: %d", vkdecoder.ErrUnsupportedChroma,
			format.ChromaSubsampling))
	}

	profile := vkdecoder.NewVideoProfile(format)
	capabilities, err := dec.caps.VideoCapabilities(&profile)
	if err != nil {
		return 0, dec.fail("start sequence", fmt.Errorf("%w: %w", vkdecoder.ErrCapabilities, err))
	}
	pictureFormat, referenceFormat, err := dec.caps.SupportedFormats(&profile)
	if err != nil {
		return 0, dec.fail("start sequence", fmt.Errorf("%w: %w", vkdecoder.ErrSupportedFormats, err))
	}

	imageExtent = vkdecoder.AlignExtent(imageExtent, capabilities.MinCodedExtent, capabilities.PictureAccessGranularity)

	if dec.format != nil {
		logger.Infof(dec, "Reconfiguring from %v to %v", dec.format, format)
		if err = dec.device.QueueWaitIdle(); err != nil {
			logger.Warningf(dec, "Decode queue wait idle failed: %v", err)
		}
		if err = dec.device.DeviceWaitIdle(); err != nil {
			logger.Warningf(dec, "Device wait idle failed: %v", err)
		}
	}

	info := &vkdecoder.VideoSessionCreateInfo{
		QueueFamily:         dec.device.DecodeQueueFamily(),
		Profile:             profile,
		PictureFormat:       pictureFormat,
		ReferenceFormat:     referenceFormat,
		MaxCodedExtent:      imageExtent,
		MaxDpbSlots:         format.MaxNumDpbSlots,
		MaxActiveReferences: max(format.MaxNumDpbSlots, vkdecoder.MaxDpbRefSlots),
	}
	if !dec.session.IsCompatible(info) {
		if dec.session != nil {
			dec.session.Release()
			dec.session = nil
		}
		if dec.session, err = session.Create(dec.device, info); err != nil {
			return 0, dec.fail("start sequence", err)
		}
		dec.resetPending = true
	}

	if _, err = dec.graph.Open(dec.session); err != nil {
		return 0, dec.fail("start sequence", err)
	}

	n, err := dec.frameBuffer.InitImagePool(&vkdecoder.ImagePoolConfig{
		Profile:                 profile,
		NumImages:               dec.numDecodeSurfaces,
		Format:                  referenceFormat,
		CodedExtent:             codedExtent,
		MaxExtent:               imageExtent,
		Tiling:                  vkdecoder.ImageTilingOptimal,
		Usage:                   vkdecoder.DecodeImageUsage,
		QueueFamily:             dec.device.DecodeQueueFamily(),
		UseImageArray:           dec.opts.UseImageArray,
		UseImageViewArray:       dec.opts.UseImageViewArray,
		UseSeparateOutputImages: dec.opts.UseSeparateOutputImages,
		UseLinearOutput:         dec.opts.UseLinearOutput,
	})
	if err != nil || n != dec.numDecodeSurfaces {
		short := &vkdecoder.ShortAllocationError{Requested: dec.numDecodeSurfaces, Allocated: n}
		return 0, dec.fail("init image pool", errors.Join(short, err))
	}

	if _, err = dec.frameData.Resize(dec.numDecodeSurfaces, codedExtent, format.ChromaSubsampling,
		capabilities.MinBitstreamBufferOffsetAlignment, capabilities.MinBitstreamBufferSizeAlignment); err != nil {
		return 0, dec.fail("resize frame data", fmt.Errorf("%w: %w", vkdecoder.ErrFrameData, err))
	}

	baseline := *format
	dec.format = &baseline
	dec.profile = profile
	dec.capabilities = *capabilities

	logger.Infof(dec, "Sequence %v %v %d-bit coded=%v image=%v surfaces=%d dpb=%d fps=%.2f",
		format.Codec, format.ChromaSubsampling, profile.LumaBitDepth.Bits(), codedExtent, imageExtent,
		dec.numDecodeSurfaces, format.MaxNumDpbSlots, format.FrameRate.Float())
	return dec.numDecodeSurfaces, nil
}
