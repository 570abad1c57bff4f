package parameters

import (
	"fmt"
	"weak"

	"github.com/ugparu/vkdecoder"
	"github.com/ugparu/vkdecoder/session"
)

// Id capacities of session parameters objects per parameter set kind.
const (
	MaxVPSIDs = 16
	MaxSPSIDs = 32
	MaxPPSIDs = 256
)

var maxIDs = [vkdecoder.KindCount]uint{
	vkdecoder.KindVPS: MaxVPSIDs,
	vkdecoder.KindSPS: MaxSPSIDs,
	vkdecoder.KindPPS: MaxPPSIDs,
}

const noID = -1

// ParameterSet is one occurrence of a codec parameter set in the stream.
// The parsed record never changes after creation; the parent link may be repaired
// by the graph when a parent arrives after its child.
type ParameterSet struct {
	pp                  vkdecoder.PictureParameters
	codec               vkdecoder.CodecOperation
	updateSequenceCount uint64
	vpsID, spsID, ppsID int

	parent  *ParameterSet
	owner   weak.Pointer[SessionParameters]
	session *session.Session
}

// New wraps a parser record. It fails if the record is malformed or its ids are out of range.
func New(pp *vkdecoder.PictureParameters, updateSequenceCount uint64) (*ParameterSet, error) {
	if pp == nil {
		return nil, fmt.Errorf("%w: nil record", vkdecoder.ErrInvalidParameterSet)
	}
	if err := pp.Validate(); err != nil {
		return nil, err
	}
	ps := &ParameterSet{
		pp:                  *pp,
		codec:               pp.Codec(),
		updateSequenceCount: updateSequenceCount,
		vpsID:               noID,
		spsID:               noID,
		ppsID:               noID,
	}
	switch {
	case pp.H264SPS != nil:
		ps.spsID = int(pp.H264SPS.SeqParameterSetID)
	case pp.H264PPS != nil:
		ps.ppsID = int(pp.H264PPS.PicParameterSetID)
		ps.spsID = int(pp.H264PPS.SeqParameterSetID)
	case pp.H265VPS != nil:
		ps.vpsID = int(pp.H265VPS.VideoParameterSetID)
	case pp.H265SPS != nil:
		ps.spsID = int(pp.H265SPS.SeqParameterSetID)
		ps.vpsID = int(pp.H265SPS.VideoParameterSetID)
	case pp.H265PPS != nil:
		ps.ppsID = int(pp.H265PPS.PicParameterSetID)
		ps.spsID = int(pp.H265PPS.SeqParameterSetID)
	}
	if !inRange(ps.vpsID, MaxVPSIDs) || !inRange(ps.spsID, MaxSPSIDs) || !inRange(ps.ppsID, MaxPPSIDs) {
		return nil, fmt.Errorf("%w: %v out of bounds", vkdecoder.ErrInvalidParameterSet, ps)
	}
	return ps, nil
}

func inRange(id, limit int) bool {
	return id == noID || (id >= 0 && id < limit)
}

// Kind returns the level of the set.
func (ps *ParameterSet) Kind() vkdecoder.ParameterSetKind {
	return ps.pp.Kind
}

// Codec returns the codec the set belongs to.
func (ps *ParameterSet) Codec() vkdecoder.CodecOperation {
	return ps.codec
}

// UpdateSequenceCount is zero for a first definition and positive for a revision.
func (ps *ParameterSet) UpdateSequenceCount() uint64 {
	return ps.updateSequenceCount
}

// ID returns the id of the set within its kind.
func (ps *ParameterSet) ID() int {
	switch ps.pp.Kind {
	case vkdecoder.KindVPS:
		return ps.vpsID
	case vkdecoder.KindSPS:
		return ps.spsID
	case vkdecoder.KindPPS:
		return ps.ppsID
	}
	return noID
}

// VpsID returns the own id of a VPS or the referenced VPS id of an H.265 SPS, -1 otherwise.
func (ps *ParameterSet) VpsID() int {
	return ps.vpsID
}

// SpsID returns the own id of an SPS or the referenced SPS id of a PPS, -1 otherwise.
func (ps *ParameterSet) SpsID() int {
	return ps.spsID
}

// PpsID returns the own id of a PPS, -1 otherwise.
func (ps *ParameterSet) PpsID() int {
	return ps.ppsID
}

// ParentID returns the id of the parent set this set declares, -1 if it has none.
func (ps *ParameterSet) ParentID() int {
	switch ps.pp.Kind {
	case vkdecoder.KindSPS:
		return ps.vpsID
	case vkdecoder.KindPPS:
		return ps.spsID
	}
	return noID
}

// Parent returns the linked parent set, nil if none was linked.
func (ps *ParameterSet) Parent() *ParameterSet {
	return ps.parent
}

// Owner returns the session parameters object this set was last materialized into.
// The link is weak: nil means never materialized or already collected.
func (ps *ParameterSet) Owner() *SessionParameters {
	return ps.owner.Value()
}

// Session returns the decode session the set was first bound under, nil if unbound.
func (ps *ParameterSet) Session() *session.Session {
	return ps.session
}

// PictureParameters returns the parsed record.
func (ps *ParameterSet) PictureParameters() *vkdecoder.PictureParameters {
	return &ps.pp
}

// unbind forgets the owner and the session so the set can be materialized under another session.
func (ps *ParameterSet) unbind() {
	ps.session = nil
	ps.owner = weak.Pointer[SessionParameters]{}
}

func (ps *ParameterSet) setOwner(sp *SessionParameters) {
	if sp == nil {
		ps.owner = weak.Pointer[SessionParameters]{}
		return
	}
	ps.owner = weak.Make(sp)
}

func (ps *ParameterSet) String() string {
	if ps == nil {
		return "PARAMETER_SET nil"
	}
	return fmt.Sprintf("%v %v id=%d usc=%d", ps.codec, ps.pp.Kind, ps.ID(), ps.updateSequenceCount)
}
