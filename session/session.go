package session

import (
	"fmt"

	"go.uber.org/atomic"

	"github.com/ugparu/vkdecoder"
	"github.com/ugparu/vkdecoder/utils/logger"
)

// Session owns a native decode session created for one profile, format and DPB size.
// It is reference counted: the decoder and every session parameters object created
// against it hold a reference, and the native session is destroyed on the last Release.
type Session struct {
	device   vkdecoder.DeviceContext
	info     vkdecoder.VideoSessionCreateInfo
	handle   vkdecoder.VideoSession
	refCount *atomic.Int32
}

// Create creates a native decode session. The returned session holds one reference.
func Create(device vkdecoder.DeviceContext, info *vkdecoder.VideoSessionCreateInfo) (*Session, error) {
	handle, err := device.CreateVideoSession(info)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", vkdecoder.ErrSessionCreation, err)
	}
	s := &Session{
		device:   device,
		info:     *info,
		handle:   handle,
		refCount: atomic.NewInt32(1),
	}
	logger.Infof(s, "Created decode session %v %v dpb=%d refs=%d",
		info.Profile.Codec, info.MaxCodedExtent, info.MaxDpbSlots, info.MaxActiveReferences)
	return s, nil
}

// IsCompatible reports whether the session can serve a stream described by info unchanged.
func (s *Session) IsCompatible(info *vkdecoder.VideoSessionCreateInfo) bool {
	if s == nil || info == nil {
		return false
	}
	return s.info == *info
}

// Handle returns the native session handle.
func (s *Session) Handle() vkdecoder.VideoSession {
	return s.handle
}

// Info returns the parameters the session was created with.
func (s *Session) Info() vkdecoder.VideoSessionCreateInfo {
	return s.info
}

// AddRef takes a reference to the session.
func (s *Session) AddRef() int32 {
	return s.refCount.Inc()
}

// Release drops a reference and destroys the native session with the last one.
func (s *Session) Release() int32 {
	cnt := s.refCount.Dec()
	if cnt == 0 {
		logger.Debugf(s, "Destroying decode session")
		s.device.DestroyVideoSession(s.handle)
		s.handle = 0
	}
	if cnt < 0 {
		logger.Errorf(s, "Released more times than referenced")
	}
	return cnt
}

func (s *Session) String() string {
	return fmt.Sprintf("SESSION %d", s.handle)
}
