package parameters

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
	"go.uber.org/atomic"

	"github.com/ugparu/vkdecoder"
	"github.com/ugparu/vkdecoder/session"
	"github.com/ugparu/vkdecoder/utils/logger"
)

// identityCounter numbers session parameters objects across every decoder of the process.
var identityCounter = atomic.NewInt32(0)

// SessionParameters wraps a native session parameters object.
// It keeps its session alive until the last Release.
type SessionParameters struct {
	device   vkdecoder.DeviceContext
	session  *session.Session
	handle   vkdecoder.SessionParameters
	codec    vkdecoder.CodecOperation
	ids      [vkdecoder.KindCount]*bitset.BitSet
	identity int32
	version  uint64
	refCount *atomic.Int32
}

// Create materializes the given sets into a new native object. Nil sets are skipped, at least one is required.
// Ids registered in template are inherited when template was created for the same session and codec.
// The template is only read during the call. The returned object holds one reference.
func Create(device vkdecoder.DeviceContext, sess *session.Session,
	vps, sps, pps *ParameterSet, template *SessionParameters,
) (*SessionParameters, error) {
	if sess == nil {
		return nil, vkdecoder.ErrNotInitialized
	}
	codec, err := commonCodec(vps, sps, pps)
	if err != nil {
		return nil, err
	}
	addInfo, err := populateAddInfo(codec, vps, sps, pps)
	if err != nil {
		return nil, err
	}
	if template != nil && (template.session != sess || template.codec != codec) {
		logger.Debugf(template, "Not usable as template for %v on %v", codec, sess)
		template = nil
	}

	info := &vkdecoder.SessionParametersCreateInfo{
		Session:        sess.Handle(),
		MaxStdVPSCount: MaxVPSIDs,
		MaxStdSPSCount: MaxSPSIDs,
		MaxStdPPSCount: MaxPPSIDs,
		AddInfo:        addInfo,
	}
	if template != nil {
		info.Template = template.handle
	}
	handle, err := device.CreateSessionParameters(info)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", vkdecoder.ErrParametersCreation, err)
	}

	sp := &SessionParameters{
		device:   device,
		session:  sess,
		handle:   handle,
		codec:    codec,
		refCount: atomic.NewInt32(1),
	}
	for kind := range sp.ids {
		if template != nil {
			sp.ids[kind] = template.ids[kind].Clone()
		} else {
			sp.ids[kind] = bitset.New(maxIDs[kind])
		}
	}
	sp.registerIDs(vps, sps, pps)
	sess.AddRef()
	sp.identity = identityCounter.Inc()

	logger.Debugf(sp, "Created from %v %v %v", vps, sps, pps)
	return sp, nil
}

// Update folds the given sets into the native object. The update version is the
// largest update sequence count among them.
func (sp *SessionParameters) Update(vps, sps, pps *ParameterSet) error {
	codec, err := commonCodec(vps, sps, pps)
	if err != nil {
		return err
	}
	if codec != sp.codec {
		return fmt.Errorf("%w: %v sets for a %v object", vkdecoder.ErrParametersUpdate, codec, sp.codec)
	}
	addInfo, err := populateAddInfo(codec, vps, sps, pps)
	if err != nil {
		return err
	}
	var version uint64
	for _, ps := range []*ParameterSet{vps, sps, pps} {
		if ps != nil {
			version = max(version, ps.UpdateSequenceCount())
		}
	}
	info := &vkdecoder.SessionParametersUpdateInfo{
		UpdateSequenceCount: version,
		AddInfo:             addInfo,
	}
	if err = sp.device.UpdateSessionParameters(sp.handle, info); err != nil {
		return fmt.Errorf("%w: %w", vkdecoder.ErrParametersUpdate, err)
	}
	sp.registerIDs(vps, sps, pps)
	sp.version = version

	logger.Tracef(sp, "Updated with %v %v %v version=%d", vps, sps, pps, version)
	return nil
}

// registerIDs marks ids as bound. Only called after the native call succeeded.
func (sp *SessionParameters) registerIDs(sets ...*ParameterSet) {
	for _, ps := range sets {
		if ps == nil {
			continue
		}
		sp.ids[ps.Kind()].Set(uint(ps.ID()))
	}
}

// ID returns the identity of the object. Later created objects have larger identities.
func (sp *SessionParameters) ID() int32 {
	return sp.identity
}

// Handle returns the native handle.
func (sp *SessionParameters) Handle() vkdecoder.SessionParameters {
	return sp.handle
}

// Session returns the session the object was created for.
func (sp *SessionParameters) Session() *session.Session {
	return sp.session
}

// Codec returns the codec of the sets bound into the object.
func (sp *SessionParameters) Codec() vkdecoder.CodecOperation {
	return sp.codec
}

// HasID reports whether id of the given kind is bound into the object.
func (sp *SessionParameters) HasID(kind vkdecoder.ParameterSetKind, id int) bool {
	if kind < 0 || kind >= vkdecoder.KindCount || id < 0 {
		return false
	}
	return sp.ids[kind].Test(uint(id))
}

func (sp *SessionParameters) HasVpsID(id int) bool { return sp.HasID(vkdecoder.KindVPS, id) }

func (sp *SessionParameters) HasSpsID(id int) bool { return sp.HasID(vkdecoder.KindSPS, id) }

func (sp *SessionParameters) HasPpsID(id int) bool { return sp.HasID(vkdecoder.KindPPS, id) }

// IDCount returns the number of ids of a kind bound into the object.
func (sp *SessionParameters) IDCount(kind vkdecoder.ParameterSetKind) uint {
	return sp.ids[kind].Count()
}

// AddRef takes a reference to the object.
func (sp *SessionParameters) AddRef() int32 {
	return sp.refCount.Inc()
}

// Release drops a reference. The last one destroys the native object and
// releases the session.
func (sp *SessionParameters) Release() int32 {
	cnt := sp.refCount.Dec()
	if cnt != 0 {
		return cnt
	}
	logger.Debugf(sp, "Destroying")
	sp.device.DestroySessionParameters(sp.handle)
	sp.handle = 0
	sp.session.Release()
	return cnt
}

func (sp *SessionParameters) String() string {
	return fmt.Sprintf("SESSION_PARAMS id=%d", sp.identity)
}

func commonCodec(sets ...*ParameterSet) (vkdecoder.CodecOperation, error) {
	codec := vkdecoder.CodecOperationNone
	for _, ps := range sets {
		if ps == nil {
			continue
		}
		if codec != vkdecoder.CodecOperationNone && ps.Codec() != codec {
			return codec, fmt.Errorf("%w: mixed %v and %v sets", vkdecoder.ErrInvalidParameterSet, codec, ps.Codec())
		}
		codec = ps.Codec()
	}
	if codec == vkdecoder.CodecOperationNone {
		return codec, fmt.Errorf("%w: no parameter set given", vkdecoder.ErrInvalidParameterSet)
	}
	return codec, nil
}

// populateAddInfo builds the codec specific payload for the given sets.
func populateAddInfo(codec vkdecoder.CodecOperation, sets ...*ParameterSet) (vkdecoder.SessionParametersAddInfo, error) {
	switch codec {
	case vkdecoder.CodecOperationDecodeH264:
		ai := &vkdecoder.H264ParametersAddInfo{}
		for _, ps := range sets {
			switch {
			case ps == nil:
			case ps.pp.H264SPS != nil:
				ai.SPS = append(ai.SPS, ps.pp.H264SPS)
			case ps.pp.H264PPS != nil:
				ai.PPS = append(ai.PPS, ps.pp.H264PPS)
			default:
				return nil, fmt.Errorf("%w: %v in an H.264 object", vkdecoder.ErrInvalidParameterSet, ps)
			}
		}
		return ai, nil
	case vkdecoder.CodecOperationDecodeH265:
		ai := &vkdecoder.H265ParametersAddInfo{}
		for _, ps := range sets {
			switch {
			case ps == nil:
			case ps.pp.H265VPS != nil:
				ai.VPS = append(ai.VPS, ps.pp.H265VPS)
			case ps.pp.H265SPS != nil:
				ai.SPS = append(ai.SPS, ps.pp.H265SPS)
			case ps.pp.H265PPS != nil:
				ai.PPS = append(ai.PPS, ps.pp.H265PPS)
			default:
				return nil, fmt.Errorf("%w: %v in an H.265 object", vkdecoder.ErrInvalidParameterSet, ps)
			}
		}
		return ai, nil
	}
	return nil, fmt.Errorf("%w: %v", vkdecoder.ErrUnsupportedCodec, codec)
}
