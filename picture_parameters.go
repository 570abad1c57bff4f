package vkdecoder

import (
	"fmt"

	"github.com/ugparu/vkdecoder/codec/h264"
	"github.com/ugparu/vkdecoder/codec/h265"
)

// ParameterSetKind is the level of a codec parameter set.
type ParameterSetKind int

// Parameter set kinds. The values index per-kind tables.
const (
	KindVPS ParameterSetKind = iota
	KindSPS
	KindPPS
	KindCount
)

func (k ParameterSetKind) String() string {
	switch k {
	case KindVPS:
		return "VPS"
	case KindSPS:
		return "SPS"
	case KindPPS:
		return "PPS"
	}
	return "INVALID"
}

// PictureParameters is one parameter set pushed by the bitstream parser.
// Exactly one of the codec records must be set, matching Kind and Codec.
type PictureParameters struct {
	Kind    ParameterSetKind
	H264SPS *h264.StdSPS
	H264PPS *h264.StdPPS
	H265VPS *h265.StdVPS
	H265SPS *h265.StdSPS
	H265PPS *h265.StdPPS
}

// Codec returns the codec operation the record belongs to.
func (pp *PictureParameters) Codec() CodecOperation {
	switch {
	case pp.H264SPS != nil, pp.H264PPS != nil:
		return CodecOperationDecodeH264
	case pp.H265VPS != nil, pp.H265SPS != nil, pp.H265PPS != nil:
		return CodecOperationDecodeH265
	}
	return CodecOperationNone
}

// Validate checks that exactly one record is set and that it matches Kind.
func (pp *PictureParameters) Validate() error {
	set := 0
	var kind ParameterSetKind
	if pp.H264SPS != nil {
		set, kind = set+1, KindSPS
	}
	if pp.H264PPS != nil {
		set, kind = set+1, KindPPS
	}
	if pp.H265VPS != nil {
		set, kind = set+1, KindVPS
	}
	if pp.H265SPS != nil {
		set, kind = set+1, KindSPS
	}
	if pp.H265PPS != nil {
		set, kind = set+1, KindPPS
	}
	if set != 1 {
		return fmt.Errorf("%w: %d records set", ErrInvalidParameterSet, set)
	}
	if kind != pp.Kind {
		return fmt.Errorf("%w: kind %v carries a %v record", ErrInvalidParameterSet, pp.Kind, kind)
	}
	return nil
}

// SessionParametersAddInfo is the codec specific payload of session parameters creation and update.
// The set of implementations is closed: H264ParametersAddInfo and H265ParametersAddInfo.
type SessionParametersAddInfo interface {
	Codec() CodecOperation
	Empty() bool
	addInfo()
}

// H264ParametersAddInfo carries H.264 parameter sets.
type H264ParametersAddInfo struct {
	SPS []*h264.StdSPS
	PPS []*h264.StdPPS
}

func (*H264ParametersAddInfo) Codec() CodecOperation { return CodecOperationDecodeH264 }

func (ai *H264ParametersAddInfo) Empty() bool { return len(ai.SPS) == 0 && len(ai.PPS) == 0 }

func (*H264ParametersAddInfo) addInfo() {}

// H265ParametersAddInfo carries H.265 parameter sets.
type H265ParametersAddInfo struct {
	VPS []*h265.StdVPS
	SPS []*h265.StdSPS
	PPS []*h265.StdPPS
}

func (*H265ParametersAddInfo) Codec() CodecOperation { return CodecOperationDecodeH265 }

func (ai *H265ParametersAddInfo) Empty() bool {
	return len(ai.VPS) == 0 && len(ai.SPS) == 0 && len(ai.PPS) == 0
}

func (*H265ParametersAddInfo) addInfo() {}
