package decoder

import (
	"errors"
	"fmt"

	"github.com/ugparu/vkdecoder"
	"github.com/ugparu/vkdecoder/parameters"
	"github.com/ugparu/vkdecoder/utils/logger"
)

// PerFrameDecodeParameters describe one coded picture as produced by the bitstream parser.
type PerFrameDecodeParameters struct {
	// CurrPicIdx is the decode surface the picture is decoded into.
	CurrPicIdx int

	NumSlices       uint32
	FirstSliceIndex uint32

	Bitstream           vkdecoder.BitstreamBuffer
	BitstreamDataOffset uint64
	BitstreamDataLen    uint64

	// CurrentPictureParameters is the PPS the picture references.
	CurrentPictureParameters *parameters.ParameterSet

	// GopReferenceImagesIndexes names the surface of every reference slot, -1 for a missing picture.
	GopReferenceImagesIndexes []int8

	// DecodeFrameInfo carries the codec picture info and the reference slots; the decoder fills
	// the source buffer, the destination and the slot resources.
	DecodeFrameInfo vkdecoder.DecodeInfo

	// PictureResources receives the resources of the reference slots.
	PictureResources []vkdecoder.PictureResource
}

func (dec *Decoder) queueFamily() int {
	return dec.device.DecodeQueueFamily()
}

// DecodePictureWithParameters records and submits the decode of one picture and returns its surface index.
func (dec *Decoder) DecodePictureWithParameters(pp *PerFrameDecodeParameters, info *vkdecoder.DecodePictureInfo) (int, error) {
	const op = "decode picture"
	if err := dec.usable(); err != nil {
		return -1, err
	}
	if dec.session == nil {
		return -1, dec.fail(op, vkdecoder.ErrNotInitialized)
	}
	if pp == nil || info == nil {
		return -1, dec.fail(op, fmt.Errorf("%w: nil picture parameters", vkdecoder.ErrNotInitialized))
	}
	idx := pp.CurrPicIdx
	if idx < 0 || idx >= dec.numDecodeSurfaces {
		return -1, dec.fail(op, &vkdecoder.SurfaceIndexError{Index: idx, Count: dec.numDecodeSurfaces})
	}

	picNum := dec.decodePicCount
	dec.decodePicCount++
	dec.frameBuffer.SetPicNumInDecodeOrder(idx, picNum)

	slot, err := dec.frameData.Slot(idx)
	if err != nil {
		return -1, dec.fail(op, err)
	}
	if slot.Index != idx {
		return -1, dec.fail(op, fmt.Errorf("%w: slot %d for picture %d", vkdecoder.ErrFrameData, slot.Index, idx))
	}

	if pp.Bitstream == nil || pp.Bitstream.MaxSize() < pp.BitstreamDataLen {
		return -1, dec.fail(op, fmt.Errorf("%w: %d bytes", vkdecoder.ErrBitstreamOverflow, pp.BitstreamDataLen))
	}
	if pp.BitstreamDataOffset != 0 || pp.FirstSliceIndex != 0 {
		return -1, dec.fail(op, fmt.Errorf("%w: offset=%d first slice=%d", vkdecoder.ErrFragmentedBitstream,
			pp.BitstreamDataOffset, pp.FirstSliceIndex))
	}

	decodeInfo := &pp.DecodeFrameInfo
	decodeInfo.SrcBuffer = pp.Bitstream.Buffer()
	decodeInfo.SrcBufferOffset = pp.BitstreamDataOffset
	decodeInfo.SrcBufferRange = pp.BitstreamDataLen

	cb := slot.CommandBuffer
	if err = dec.device.BeginCommandBuffer(cb); err != nil {
		return -1, dec.fail(op, err)
	}

	dpb, output, err := dec.frameBuffer.CurrentImageResourceByIndex(idx, vkdecoder.ImageLayoutDecodeDpb,
		vkdecoder.ImageLayoutDecodeDst)
	if err != nil {
		return -1, dec.fail(op, fmt.Errorf("%w: %w", vkdecoder.ErrResourceLookup, err))
	}
	decodeInfo.DstPictureResource = dpb.Resource

	bitstreamBarrier := vkdecoder.BufferMemoryBarrier{
		SrcStage:       vkdecoder.PipelineStageNone,
		SrcAccess:      vkdecoder.AccessHostWrite,
		DstStage:       vkdecoder.PipelineStageDecode,
		DstAccess:      vkdecoder.AccessDecodeRead,
		SrcQueueFamily: vkdecoder.QueueFamilyIgnored,
		DstQueueFamily: dec.queueFamily(),
		Buffer:         decodeInfo.SrcBuffer,
		Offset:         decodeInfo.SrcBufferOffset,
		Size:           decodeInfo.SrcBufferRange,
	}

	imageBarriers, err := dec.imageBarriers(pp, &dpb)
	if err != nil {
		return -1, dec.fail(op, err)
	}
	if decodeInfo.SetupReferenceSlot != nil {
		decodeInfo.SetupReferenceSlot.Resource = &decodeInfo.DstPictureResource
	}

	if info.Flags.UnpairedField {
		info.Flags.SyncFirstReady = true
	}
	info.Flags.SyncToFirstField = false

	syncInfo := vkdecoder.FrameSynchronizationInfo{
		HasFrameCompleteSignalFence:     true,
		HasFrameCompleteSignalSemaphore: true,
	}

	if _, err = dec.graph.Flush(); err != nil {
		return -1, dec.fail(op, err)
	}
	owner, err := dec.boundParameters(pp.CurrentPictureParameters)
	if err != nil {
		return -1, dec.fail(op, err)
	}

	begin := vkdecoder.BeginCodingInfo{
		Session:        dec.session.Handle(),
		Parameters:     owner.Handle(),
		ReferenceSlots: decodeInfo.ReferenceSlots,
	}
	if dec.opts.DumpDecodeData {
		logger.Dump(dec, fmt.Sprintf("Using %v for SPS %d PPS %d", owner,
			pp.CurrentPictureParameters.SpsID(), pp.CurrentPictureParameters.PpsID()), begin)
	}

	refs := vkdecoder.ReferencedObjects{Bitstream: pp.Bitstream, SessionParameters: owner}
	if err = dec.frameBuffer.QueuePictureForDecode(idx, info, refs, &syncInfo); err != nil {
		return -1, dec.fail(op, fmt.Errorf("%w: %w", vkdecoder.ErrQueuePicture, err))
	}

	dec.device.CmdResetQueryPool(cb, syncInfo.QueryPool, syncInfo.StartQueryID, syncInfo.NumQueries)
	dec.device.CmdBeginVideoCoding(cb, &begin)
	if dec.resetPending {
		dec.device.CmdControlVideoCoding(cb, vkdecoder.VideoCodingControlReset)
		dec.resetPending = false
	}
	dec.device.CmdPipelineBarrier(cb, &vkdecoder.DependencyInfo{
		ByRegion:       true,
		BufferBarriers: []vkdecoder.BufferMemoryBarrier{bitstreamBarrier},
		ImageBarriers:  imageBarriers,
	})
	dec.device.CmdBeginQuery(cb, syncInfo.QueryPool, syncInfo.StartQueryID)
	dec.device.CmdDecodeVideo(cb, decodeInfo)
	dec.device.CmdEndQuery(cb, syncInfo.QueryPool, syncInfo.StartQueryID)
	dec.device.CmdEndVideoCoding(cb)

	if dec.opts.UseSeparateOutputImages || dec.opts.UseLinearOutput {
		if output == nil {
			return -1, dec.fail(op, fmt.Errorf("%w: no output image for picture %d", vkdecoder.ErrResourceLookup, idx))
		}
		if err = dec.copyOptimalToLinear(cb, &decodeInfo.DstPictureResource, &dpb, output); err != nil {
			return -1, dec.fail(op, err)
		}
	}

	if err = dec.device.EndCommandBuffer(cb); err != nil {
		return -1, dec.fail(op, err)
	}

	if err = dec.submit(idx, cb, &syncInfo, info); err != nil {
		return -1, dec.fail(op, err)
	}

	if dec.opts.DumpDecodeData {
		logger.Dump(dec, fmt.Sprintf("Submitted picture %d picNum=%d", idx, picNum), syncInfo,
			decodeInfo.DstPictureResource)
	}
	return idx, nil
}

// imageBarriers moves the target to decode-dst when it is undefined and every existing
// reference that is not in a decode layout to decode-dpb. It fills the reference slot resources.
func (dec *Decoder) imageBarriers(pp *PerFrameDecodeParameters, dpb *vkdecoder.ImageResource) (
	[]vkdecoder.ImageMemoryBarrier, error,
) {
	template := vkdecoder.ImageMemoryBarrier{
		SrcStage:       vkdecoder.PipelineStageNone,
		SrcAccess:      vkdecoder.AccessNone,
		DstStage:       vkdecoder.PipelineStageDecode,
		DstAccess:      vkdecoder.AccessDecodeRead,
		OldLayout:      vkdecoder.ImageLayoutUndefined,
		NewLayout:      vkdecoder.ImageLayoutDecodeDpb,
		SrcQueueFamily: vkdecoder.QueueFamilyIgnored,
		DstQueueFamily: dec.queueFamily(),
		SubresourceRange: vkdecoder.SubresourceRange{
			Aspect:     vkdecoder.ImageAspectColor,
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	layer := func(info *vkdecoder.PictureResourceInfo) uint32 {
		if dec.opts.UseImageArray || dec.opts.UseImageViewArray {
			return info.BaseArrayLayer
		}
		return 0
	}

	barriers := make([]vkdecoder.ImageMemoryBarrier, 0, vkdecoder.MaxDpbRefAndSetupSlots)
	if dpb.Info.CurrentLayout == vkdecoder.ImageLayoutUndefined {
		b := template
		b.OldLayout = dpb.Info.CurrentLayout
		b.NewLayout = vkdecoder.ImageLayoutDecodeDst
		b.DstAccess = vkdecoder.AccessDecodeWrite
		b.Image = dpb.Info.Image
		b.SubresourceRange.BaseArrayLayer = layer(&dpb.Info)
		barriers = append(barriers, b)
	}

	if len(pp.GopReferenceImagesIndexes) == 0 {
		return barriers, nil
	}
	if len(pp.GopReferenceImagesIndexes) > vkdecoder.MaxDpbRefSlots {
		return nil, fmt.Errorf("%w: %d reference slots", vkdecoder.ErrResourceLookup, len(pp.GopReferenceImagesIndexes))
	}
	resources, err := dec.frameBuffer.DpbImageResourcesByIndex(pp.GopReferenceImagesIndexes, vkdecoder.ImageLayoutDecodeDpb)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", vkdecoder.ErrResourceLookup, err)
	}
	if len(resources) != len(pp.GopReferenceImagesIndexes) {
		return nil, fmt.Errorf("%w: %d of %d reference resources", vkdecoder.ErrResourceLookup,
			len(resources), len(pp.GopReferenceImagesIndexes))
	}

	pp.PictureResources = make([]vkdecoder.PictureResource, len(resources))
	for i := range resources {
		res := &resources[i]
		pp.PictureResources[i] = res.Resource
		if i < len(pp.DecodeFrameInfo.ReferenceSlots) {
			pp.DecodeFrameInfo.ReferenceSlots[i].Resource = &pp.PictureResources[i]
		}
		if res.Info.Image == 0 ||
			res.Info.CurrentLayout == vkdecoder.ImageLayoutDecodeDpb ||
			res.Info.CurrentLayout == vkdecoder.ImageLayoutDecodeDst {
			continue
		}
		b := template
		b.OldLayout = res.Info.CurrentLayout
		b.Image = res.Info.Image
		b.SubresourceRange.BaseArrayLayer = layer(&res.Info)
		barriers = append(barriers, b)
	}
	return barriers, nil
}

// boundParameters returns the session parameters object ps was materialized into, after checking
// that it is not newer than the current object, belongs to the current session and holds the ids
// the picture uses.
func (dec *Decoder) boundParameters(ps *parameters.ParameterSet) (*parameters.SessionParameters, error) {
	if ps == nil || ps.Kind() != vkdecoder.KindPPS {
		return nil, fmt.Errorf("%w: picture references %v", vkdecoder.ErrInvalidParameterSet, ps)
	}
	owner := ps.Owner()
	current := dec.graph.Current()
	if owner == nil || current == nil {
		return nil, fmt.Errorf("%w: %v is not materialized", vkdecoder.ErrStaleParameters, ps)
	}
	if owner.ID() > current.ID() {
		return nil, fmt.Errorf("%w: %v is newer than %v", vkdecoder.ErrStaleParameters, owner, current)
	}
	if owner.Session() != dec.session {
		return nil, fmt.Errorf("%w: %v belongs to %v", vkdecoder.ErrStaleParameters, owner, owner.Session())
	}
	if !owner.HasSpsID(ps.SpsID()) {
		return nil, fmt.Errorf("%w: SPS %d in %v", vkdecoder.ErrMissingParameterID, ps.SpsID(), owner)
	}
	if !owner.HasPpsID(ps.PpsID()) {
		return nil, fmt.Errorf("%w: PPS %d in %v", vkdecoder.ErrMissingParameterID, ps.PpsID(), owner)
	}
	return owner, nil
}

// copyOptimalToLinear copies the decoded picture plane by plane into its output image and makes
// the copy visible to the host.
func (dec *Decoder) copyOptimalToLinear(cb vkdecoder.CommandBuffer, src *vkdecoder.PictureResource,
	srcInfo, dst *vkdecoder.ImageResource,
) error {
	layout, ok := srcInfo.Info.Format.PlaneLayout()
	if !ok {
		return fmt.Errorf("%w: %v", vkdecoder.ErrUnsupportedPlaneLayout, srcInfo.Info.Format)
	}
	if layout.NumPlanes > 2 { //nolint:mnd
		return fmt.Errorf("%w: %v has %d planes", vkdecoder.ErrUnsupportedPlaneLayout, srcInfo.Info.Format,
			layout.NumPlanes)
	}

	regions := make([]vkdecoder.ImageCopy, 0, 2) //nolint:mnd
	luma := vkdecoder.ImageCopy{
		SrcSubresource: vkdecoder.ImageSubresourceLayers{
			Aspect:         vkdecoder.ImageAspectPlane0,
			BaseArrayLayer: src.BaseArrayLayer,
			LayerCount:     1,
		},
		DstSubresource: vkdecoder.ImageSubresourceLayers{
			Aspect:         vkdecoder.ImageAspectPlane0,
			BaseArrayLayer: dst.Resource.BaseArrayLayer,
			LayerCount:     1,
		},
		Extent: src.CodedExtent,
		Depth:  1,
	}
	regions = append(regions, luma)

	if layout.NumPlanes == 2 { //nolint:mnd
		chroma := luma
		chroma.SrcSubresource.Aspect = vkdecoder.ImageAspectPlane1
		chroma.DstSubresource.Aspect = vkdecoder.ImageAspectPlane1
		if layout.SecondarySubsampledX {
			chroma.Extent.Width /= 2
		}
		if layout.SecondarySubsampledY {
			chroma.Extent.Height /= 2
		}
		regions = append(regions, chroma)
	}

	dec.device.CmdCopyImage(cb, srcInfo.Info.Image, srcInfo.Info.CurrentLayout, dst.Info.Image,
		dst.Info.CurrentLayout, regions)
	dec.device.CmdPipelineBarrier(cb, &vkdecoder.DependencyInfo{
		MemoryBarriers: []vkdecoder.MemoryBarrier{{
			SrcStage:  vkdecoder.PipelineStageTransfer,
			SrcAccess: vkdecoder.AccessTransferRead,
			DstStage:  vkdecoder.PipelineStageTransfer,
			DstAccess: vkdecoder.AccessHostRead,
		}},
	})
	return nil
}

// submit hands the recorded picture to the decode queue. The previous consumer of the surface is
// waited on through its semaphore, or through its fence when it signals only a fence.
func (dec *Decoder) submit(idx int, cb vkdecoder.CommandBuffer, syncInfo *vkdecoder.FrameSynchronizationInfo,
	info *vkdecoder.DecodePictureInfo,
) error {
	if syncInfo.ConsumerDoneSemaphore == 0 && syncInfo.ConsumerDoneFence != 0 {
		if err := dec.waitFence(syncInfo.ConsumerDoneFence, "consumer done"); err != nil {
			return err
		}
	}

	status, err := dec.device.FenceStatus(syncInfo.CompleteFence)
	if err != nil {
		return fmt.Errorf("%w: %w", vkdecoder.ErrFenceNotReady, err)
	}
	if status == vkdecoder.FenceNotReady && !dec.opts.CheckDecodeFences {
		logger.Warningf(dec, "Frame complete fence of picture %d is not done", idx)
		return fmt.Errorf("%w: picture %d", vkdecoder.ErrFenceNotReady, idx)
	}
	if dec.opts.CheckDecodeFences {
		if err = dec.waitFence(syncInfo.CompleteFence, "frame complete"); err != nil {
			logger.Warningf(dec, "Frame complete fence of picture %d is still not done", idx)
			return err
		}
	}

	if err = dec.device.ResetFence(syncInfo.CompleteFence); err != nil {
		return fmt.Errorf("%w: %w", vkdecoder.ErrFenceReset, err)
	}
	if status, err = dec.device.FenceStatus(syncInfo.CompleteFence); err != nil || status != vkdecoder.FenceNotReady {
		return fmt.Errorf("%w: fence is %v after reset", vkdecoder.ErrFenceReset, status)
	}

	submit := &vkdecoder.SubmitInfo{
		CommandBuffers:   []vkdecoder.CommandBuffer{cb},
		SignalSemaphores: []vkdecoder.Semaphore{syncInfo.CompleteSemaphore},
	}
	if syncInfo.ConsumerDoneSemaphore != 0 {
		submit.WaitSemaphores = []vkdecoder.Semaphore{syncInfo.ConsumerDoneSemaphore}
		submit.WaitStages = []vkdecoder.PipelineStage{vkdecoder.PipelineStageDecode}
	}
	if err = dec.device.QueueSubmit(submit, syncInfo.CompleteFence); err != nil {
		return fmt.Errorf("%w: %w", vkdecoder.ErrSubmit, err)
	}

	if dec.opts.CheckDecodeIdleSync {
		if syncInfo.CompleteFence == 0 {
			if err = dec.device.QueueWaitIdle(); err != nil {
				return err
			}
		} else if syncInfo.CompleteSemaphore == 0 {
			if err = dec.waitFence(syncInfo.CompleteFence, "frame complete"); err != nil {
				return err
			}
		}
	}

	if info.Flags.FieldPic {
		if err = dec.waitFence(syncInfo.CompleteFence, "field complete"); err != nil {
			return err
		}
	}

	if dec.opts.CheckDecodeStatus {
		if err = dec.waitFence(syncInfo.CompleteFence, "decode status"); err != nil {
			return err
		}
		status, qErr := dec.device.DecodeQueryStatus(syncInfo.QueryPool, syncInfo.StartQueryID)
		if qErr != nil || status != vkdecoder.QueryResultStatusComplete {
			return errors.Join(fmt.Errorf("%w: picture %d status %d", vkdecoder.ErrDecodeStatus, idx, status), qErr)
		}
		logger.Tracef(dec, "Decode status of picture %d: %d", idx, status)
	}
	return nil
}

// waitFence waits for a fence with the configured timeout and checks that it is signaled.
func (dec *Decoder) waitFence(fence vkdecoder.Fence, what string) error {
	if err := dec.device.WaitForFence(fence, dec.opts.fenceTimeout()); err != nil {
		if errors.Is(err, vkdecoder.ErrTimeout) {
			return fmt.Errorf("%w: %s fence %d after %v", vkdecoder.ErrFenceTimeout, what, fence, dec.opts.fenceTimeout())
		}
		return fmt.Errorf("%s fence %d: %w", what, fence, err)
	}
	status, err := dec.device.FenceStatus(fence)
	if err != nil {
		return fmt.Errorf("%s fence %d: %w", what, fence, err)
	}
	if status != vkdecoder.FenceSignaled {
		return fmt.Errorf("%w: %s fence %d is %v", vkdecoder.ErrFenceNotReady, what, fence, status)
	}
	return nil
}
