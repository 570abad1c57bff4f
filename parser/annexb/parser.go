// Package annexb turns an H.264 or H.265 Annex-B elementary stream into decoder events.
// It tracks parameter sets, detects sequence changes and groups slices into pictures,
// reserving a decode surface for every picture it emits.
package annexb

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/Eyevinn/mp4ff/avc"
	"github.com/Eyevinn/mp4ff/hevc"

	"github.com/ugparu/vkdecoder"
	"github.com/ugparu/vkdecoder/codec/h264"
	"github.com/ugparu/vkdecoder/codec/h265"
	"github.com/ugparu/vkdecoder/decoder"
	"github.com/ugparu/vkdecoder/utils/logger"
	"github.com/ugparu/vkdecoder/utils/nal"
)

var ErrUnsupportedCodec = errors.New("annexb: only H.264 and H.265 streams are supported")

// Reserver hands out free decode surfaces.
type Reserver interface {
	ReservePicture() (int, error)
}

// Stats counts what the parser has seen so far.
type Stats struct {
	NALUs         int
	ParameterSets int
	Sequences     int
	Pictures      int
	Slices        int
	Dropped       int
}

type setKey struct {
	kind vkdecoder.ParameterSetKind
	id   int
}

// revision is the last payload seen for a parameter set id and its update sequence count.
type revision struct {
	payload []byte
	count   uint64
}

type accessUnit struct {
	ppsID     int
	data      []byte
	numSlices uint32
	idr       bool
	ref       bool
}

// Parser is a pull parser: every Next call returns the following event.
// It is not safe for concurrent use.
type Parser struct {
	codec    vkdecoder.CodecOperation
	reserver Reserver

	nalus [][]byte
	pos   int

	avcSPS  map[uint32]*avc.SPS
	hevcSPS map[uint32]*hevc.SPS
	formats map[int]*vkdecoder.DetectedVideoFormat // By SPS id.
	ppsSPS  map[int]int

	revisions map[setKey]*revision

	format  *vkdecoder.DetectedVideoFormat
	au      *accessUnit
	pending []decoder.Event
	lastRef int
	stats   Stats
}

// New returns a parser over a complete elementary stream.
func New(codec vkdecoder.CodecOperation, stream []byte, reserver Reserver) (*Parser, error) {
	if codec != vkdecoder.CodecOperationDecodeH264 && codec != vkdecoder.CodecOperationDecodeH265 {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedCodec, codec)
	}
	nalus, typ := nal.SplitNALUs(stream)
	if typ != nal.FormatAnnexB {
		return nil, fmt.Errorf("annexb: stream framing is %v", typ)
	}
	return &Parser{
		codec:    codec,
		reserver: reserver,
		nalus:    nalus,
		avcSPS:   map[uint32]*avc.SPS{},
		hevcSPS:  map[uint32]*hevc.SPS{},
		formats:  map[int]*vkdecoder.DetectedVideoFormat{},
		ppsSPS:   map[int]int{},
		lastRef:  -1,

		revisions: map[setKey]*revision{},
	}, nil
}

// Next returns the next event, io.EOF once the stream is exhausted.
// A reservation failure is returned as is and the picture is retried by the next call.
// Picture events get their surface reserved here, so a sequence event must be handled
// by the decoder before the following Next call.
func (p *Parser) Next() (decoder.Event, error) {
	for len(p.pending) == 0 {
		if p.pos >= len(p.nalus) {
			if p.au == nil {
				return decoder.Event{}, io.EOF
			}
			p.flush()
			continue
		}
		nalu := p.nalus[p.pos]
		p.pos++
		p.stats.NALUs++
		if p.codec == vkdecoder.CodecOperationDecodeH264 {
			p.feedAVC(nalu)
		} else {
			p.feedHEVC(nalu)
		}
	}

	// A picture whose surface could not be reserved stays queued for the next call.
	ev := p.pending[0]
	if ev.Kind == decoder.EventPicture {
		if err := p.reserve(&ev); err != nil {
			return decoder.Event{}, err
		}
	}
	p.pending = p.pending[1:]
	return ev, nil
}

// Stats returns the counters of the parser.
func (p *Parser) Stats() Stats {
	return p.stats
}

// Format returns the format of the last detected sequence, nil before the first picture.
func (p *Parser) Format() *vkdecoder.DetectedVideoFormat {
	return p.format
}

func (p *Parser) reserve(ev *decoder.Event) error {
	idx, err := p.reserver.ReservePicture()
	if err != nil {
		return fmt.Errorf("annexb: reserve picture %d: %w", p.stats.Pictures, err)
	}
	pp := *ev.Picture
	ev.Picture = &pp
	pp.CurrPicIdx = idx
	pp.DecodeFrameInfo.SetupReferenceSlot = &vkdecoder.ReferenceSlot{SlotIndex: int32(idx)} //nolint:gosec
	if !ev.Info.Flags.IDRPic && p.lastRef >= 0 && p.lastRef != idx {
		pp.GopReferenceImagesIndexes = []int8{int8(p.lastRef)} //nolint:gosec
		pp.DecodeFrameInfo.ReferenceSlots = []vkdecoder.ReferenceSlot{{SlotIndex: int32(p.lastRef)}} //nolint:gosec
	}
	if ev.Info.Flags.RefPic {
		p.lastRef = idx
	}
	return nil
}

func (p *Parser) drop(format string, args ...any) {
	p.stats.Dropped++
	logger.Warningf(p, format, args...)
}

// pushParameters emits a parameter set. The update sequence count of an id starts at zero and
// grows each time the id is redefined with a different payload.
func (p *Parser) pushParameters(pp *vkdecoder.PictureParameters, id int, nalu []byte) {
	p.stats.ParameterSets++
	key := setKey{kind: pp.Kind, id: id}
	rev, ok := p.revisions[key]
	switch {
	case !ok:
		rev = &revision{payload: nalu}
		p.revisions[key] = rev
	case !bytes.Equal(rev.payload, nalu):
		rev.payload = nalu
		rev.count++
		logger.Debugf(p, "%v %d revised, update sequence count %d", pp.Kind, id, rev.count)
	}
	p.pending = append(p.pending, decoder.Event{
		Kind:                decoder.EventParameters,
		Parameters:          pp,
		UpdateSequenceCount: rev.count,
	})
}

// startPicture flushes the current picture and opens a new one on the PPS ppsID.
// A sequence event precedes the picture when its format differs from the active one.
func (p *Parser) startPicture(ppsID int, idr, ref bool) bool {
	p.flush()
	spsID, ok := p.ppsSPS[ppsID]
	if !ok {
		p.drop("Dropping slice referencing unknown PPS %d", ppsID)
		return false
	}
	format, ok := p.formats[spsID]
	if !ok {
		p.drop("Dropping slice referencing unknown SPS %d", spsID)
		return false
	}
	if p.format == nil || *p.format != *format {
		p.format = format
		p.stats.Sequences++
		p.pending = append(p.pending, decoder.Event{Kind: decoder.EventSequence, Format: format})
		logger.Infof(p, "New sequence %v", format)
	}
	p.au = &accessUnit{ppsID: ppsID, idr: idr, ref: ref}
	return true
}

func (p *Parser) appendSlice(nalu []byte) {
	p.au.data = nal.AppendAnnexB(p.au.data, nalu)
	p.au.numSlices++
	p.stats.Slices++
}

// flush emits the open picture. Parameter sets, SEI and delimiters start a new access unit.
func (p *Parser) flush() {
	au := p.au
	if au == nil {
		return
	}
	p.au = nil
	p.stats.Pictures++
	p.pending = append(p.pending, decoder.Event{
		Kind: decoder.EventPicture,
		Picture: &decoder.PerFrameDecodeParameters{
			CurrPicIdx: -1,
			NumSlices:  au.numSlices,
		},
		Info: vkdecoder.DecodePictureInfo{
			DisplayWidth:  p.format.ImageExtent().Width,
			DisplayHeight: p.format.ImageExtent().Height,
			Flags: vkdecoder.DecodePictureFlags{
				ProgressiveFrame: p.format.ProgressiveSequence,
				IDRPic:           au.idr,
				IntraPic:         au.idr,
				RefPic:           au.ref,
			},
		},
		PpsID: au.ppsID,
		Data:  au.data,
	})
}

func (p *Parser) feedAVC(nalu []byte) {
	typ := h264.NaluType(nalu)
	if typ >= h264.NaluSEI && typ <= h264.NaluAUD {
		p.flush()
	}
	switch typ {
	case h264.NaluSPS:
		sps, err := avc.ParseSPSNALUnit(nalu, true)
		if err != nil {
			p.drop("Dropping malformed SPS: %v", err)
			return
		}
		std, err := h264.NewStdSPS(sps, nalu)
		if err != nil {
			p.drop("Dropping SPS: %v", err)
			return
		}
		p.avcSPS[sps.ParameterID] = sps
		p.formats[int(std.SeqParameterSetID)] = avcFormat(std)
		p.pushParameters(&vkdecoder.PictureParameters{Kind: vkdecoder.KindSPS, H264SPS: std},
			int(std.SeqParameterSetID), nalu)
	case h264.NaluPPS:
		pps, err := avc.ParsePPSNALUnit(nalu, p.avcSPS)
		if err != nil {
			p.drop("Dropping malformed PPS: %v", err)
			return
		}
		std, err := h264.NewStdPPS(pps, nalu)
		if err != nil {
			p.drop("Dropping PPS: %v", err)
			return
		}
		p.ppsSPS[int(std.PicParameterSetID)] = int(std.SeqParameterSetID)
		p.pushParameters(&vkdecoder.PictureParameters{Kind: vkdecoder.KindPPS, H264PPS: std},
			int(std.PicParameterSetID), nalu)
	case h264.NaluNonIDR, h264.NaluIDR:
		header, err := h264.ParseSliceHeader(nalu)
		if err != nil {
			p.drop("Dropping slice: %v", err)
			return
		}
		if header.FirstMbInSlice == 0 || p.au == nil {
			idr := typ == h264.NaluIDR
			if !p.startPicture(int(header.PPSID), idr, nalu[0]&0x60 != 0) { //nolint:mnd // nal_ref_idc
				return
			}
		}
		p.appendSlice(nalu)
	default:
	}
}

func (p *Parser) feedHEVC(nalu []byte) {
	typ := h265.NaluType(nalu)
	if typ >= h265.NalUnitVps && typ <= h265.NalUnitPrefixSei {
		p.flush()
	}
	switch {
	case typ == h265.NalUnitVps:
		vps, err := h265.ParseVPS(nalu)
		if err != nil {
			p.drop("Dropping VPS: %v", err)
			return
		}
		p.pushParameters(&vkdecoder.PictureParameters{Kind: vkdecoder.KindVPS, H265VPS: vps},
			int(vps.VideoParameterSetID), nalu)
	case typ == h265.NalUnitSps:
		sps, err := hevc.ParseSPSNALUnit(nalu)
		if err != nil {
			p.drop("Dropping malformed SPS: %v", err)
			return
		}
		std, err := h265.NewStdSPS(sps, nalu)
		if err != nil {
			p.drop("Dropping SPS: %v", err)
			return
		}
		p.hevcSPS[uint32(sps.SpsID)] = sps
		p.formats[int(std.SeqParameterSetID)] = hevcFormat(std)
		p.pushParameters(&vkdecoder.PictureParameters{Kind: vkdecoder.KindSPS, H265SPS: std},
			int(std.SeqParameterSetID), nalu)
	case typ == h265.NalUnitPps:
		pps, err := hevc.ParsePPSNALUnit(nalu, p.hevcSPS)
		if err != nil {
			p.drop("Dropping malformed PPS: %v", err)
			return
		}
		std, err := h265.NewStdPPS(pps, nalu)
		if err != nil {
			p.drop("Dropping PPS: %v", err)
			return
		}
		p.ppsSPS[int(std.PicParameterSetID)] = int(std.SeqParameterSetID)
		p.pushParameters(&vkdecoder.PictureParameters{Kind: vkdecoder.KindPPS, H265PPS: std},
			int(std.PicParameterSetID), nalu)
	case h265.IsSlice(nalu):
		header, err := h265.ParseSliceHeader(nalu)
		if err != nil {
			p.drop("Dropping slice: %v", err)
			return
		}
		if header.FirstSliceSegmentInPic || p.au == nil {
			// Sub-layer non-reference pictures have even types below 16.
			ref := typ >= h265.NalUnitCodedSliceBlaWLp || typ%2 == 1
			if !p.startPicture(int(header.PPSID), h265.IsIDR(typ), ref) {
				return
			}
		}
		p.appendSlice(nalu)
	default:
	}
}

func avcFormat(std *h264.StdSPS) *vkdecoder.DetectedVideoFormat {
	refs := uint32(std.MaxNumRefFrames)
	return &vkdecoder.DetectedVideoFormat{
		Codec:       vkdecoder.CodecOperationDecodeH264,
		CodedWidth:  std.CodedWidth,
		CodedHeight: std.CodedHeight,
		DisplayArea: vkdecoder.Rect{
			Right:  int32(std.Width),  //nolint:gosec
			Bottom: int32(std.Height), //nolint:gosec
		},
		ChromaSubsampling:    vkdecoder.ChromaSubsamplingFromIDC(std.ChromaFormatIDC),
		BitDepthLumaMinus8:   uint32(std.BitDepthLumaMinus8),
		BitDepthChromaMinus8: uint32(std.BitDepthChromaMinus8),
		FrameRate:            vkdecoder.Rational{Numerator: std.FrameRate[0], Denominator: std.FrameRate[1]},
		ProgressiveSequence:  std.FrameMbsOnlyFlag,
		MinNumDecodeSurfaces: refs + 1,
		MaxNumDpbSlots:       min(refs+1, vkdecoder.MaxDpbRefAndSetupSlots),
		CodecProfile:         uint32(std.ProfileIDC),
	}
}

func hevcFormat(std *h265.StdSPS) *vkdecoder.DetectedVideoFormat {
	return &vkdecoder.DetectedVideoFormat{
		Codec:       vkdecoder.CodecOperationDecodeH265,
		CodedWidth:  std.CodedWidth,
		CodedHeight: std.CodedHeight,
		DisplayArea: vkdecoder.Rect{
			Right:  int32(std.Width),  //nolint:gosec
			Bottom: int32(std.Height), //nolint:gosec
		},
		ChromaSubsampling:    vkdecoder.ChromaSubsamplingFromIDC(std.ChromaFormatIDC),
		BitDepthLumaMinus8:   uint32(std.BitDepthLumaMinus8),
		BitDepthChromaMinus8: uint32(std.BitDepthChromaMinus8),
		ProgressiveSequence:  true,
		MaxNumDpbSlots:       vkdecoder.MaxDpbRefAndSetupSlots,
		CodecProfile:         uint32(std.ProfileIDC),
	}
}

func (p *Parser) String() string {
	return fmt.Sprintf("ANNEXB_PARSER %v", p.codec)
}
