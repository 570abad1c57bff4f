package decoder

import (
	"fmt"
	"runtime"

	"github.com/ugparu/vkdecoder"
	"github.com/ugparu/vkdecoder/parameters"
	"github.com/ugparu/vkdecoder/utils/lifecycle"
	"github.com/ugparu/vkdecoder/utils/logger"
)

// EventKind selects the decoder operation an Event drives.
type EventKind int

// Parser events.
const (
	EventSequence EventKind = iota
	EventParameters
	EventPicture
)

func (k EventKind) String() string {
	switch k {
	case EventSequence:
		return "SEQUENCE"
	case EventParameters:
		return "PARAMETERS"
	case EventPicture:
		return "PICTURE"
	}
	return "UNKNOWN"
}

// Event is one parser callback. Only the fields of its kind are used.
type Event struct {
	Kind EventKind

	Format *vkdecoder.DetectedVideoFormat

	Parameters          *vkdecoder.PictureParameters
	UpdateSequenceCount uint64

	Picture *PerFrameDecodeParameters
	Info    vkdecoder.DecodePictureInfo
	// PpsID selects the last PPS with this id when Picture.CurrentPictureParameters is nil.
	PpsID int
	// Data is uploaded into a pooled bitstream buffer when Picture.Bitstream is nil.
	Data []byte
}

// Result reports the outcome of one Event.
type Result struct {
	Kind         EventKind
	Surfaces     int
	ParameterSet *parameters.ParameterSet
	PictureIndex int
	Err          error
}

// StreamDecoder serializes parser events from any number of goroutines onto a single Decoder.
// A fatal decoder error stops the loop; Err returns it.
type StreamDecoder struct {
	lifecycle.AsyncManager[*StreamDecoder]
	dec   *Decoder
	inpCh chan Event
	outCh chan Result
	pps   map[int]*parameters.ParameterSet
}

// NewStream returns a stream driving dec. The stream owns dec and closes it on Close.
func NewStream(dec *Decoder, chanSize int) *StreamDecoder {
	s := &StreamDecoder{
		dec:   dec,
		inpCh: make(chan Event, chanSize),
		outCh: make(chan Result, chanSize),
		pps:   map[int]*parameters.ParameterSet{},
	}
	s.AsyncManager = lifecycle.NewAsyncManager(s)
	runtime.SetFinalizer(s, func(s *StreamDecoder) { s.Close() })
	return s
}

// Run starts the event loop.
func (s *StreamDecoder) Run() error {
	startFunc := func(s *StreamDecoder) error {
		return s.dec.usable()
	}
	return s.Start(startFunc)
}

// Step handles one event.
func (s *StreamDecoder) Step(stopCh <-chan struct{}) error {
	var ev Event
	select {
	case <-stopCh:
		logger.Debug(s, "Close signal detected. Breaking decoding...")
		return &lifecycle.BreakError{}
	case ev = <-s.inpCh:
	}

	res := s.handle(&ev)
	select {
	case <-stopCh:
		return &lifecycle.BreakError{}
	case s.outCh <- res:
	}
	if vkdecoder.IsFatal(res.Err) {
		return res.Err
	}
	return nil
}

func (s *StreamDecoder) handle(ev *Event) Result {
	res := Result{Kind: ev.Kind, PictureIndex: -1}
	switch ev.Kind {
	case EventSequence:
		res.Surfaces, res.Err = s.dec.StartVideoSequence(ev.Format)
	case EventParameters:
		res.ParameterSet, res.Err = s.dec.UpdatePictureParameters(ev.Parameters, ev.UpdateSequenceCount)
		if res.Err == nil && res.ParameterSet.Kind() == vkdecoder.KindPPS {
			s.pps[res.ParameterSet.PpsID()] = res.ParameterSet
		}
	case EventPicture:
		res.PictureIndex, res.Err = s.decode(ev)
	default:
		res.Err = fmt.Errorf("unknown event %d", ev.Kind)
	}
	if res.Err != nil {
		logger.Debugf(s, "%v event failed: %v", ev.Kind, res.Err)
	}
	return res
}

func (s *StreamDecoder) decode(ev *Event) (int, error) {
	pp := ev.Picture
	if pp == nil {
		return -1, fmt.Errorf("%w: picture event without parameters", vkdecoder.ErrInvalidParameterSet)
	}
	if pp.CurrentPictureParameters == nil {
		pp.CurrentPictureParameters = s.pps[ev.PpsID]
	}
	if pp.Bitstream == nil {
		buf, _, err := s.dec.GetBitstreamBuffer(uint64(len(ev.Data)), ev.Data)
		if err != nil {
			return -1, err
		}
		defer buf.Release()
		pp.Bitstream = buf
		pp.BitstreamDataOffset = 0
		pp.BitstreamDataLen = uint64(len(ev.Data))
	}
	return s.dec.DecodePictureWithParameters(pp, &ev.Info)
}

// Events returns the channel parser events are pushed to. The channel is never closed:
// events sent after Close are dropped, and a sender should select on Done so it does not block.
func (s *StreamDecoder) Events() chan<- Event {
	return s.inpCh
}

// Results returns the channel reporting the outcome of every event in order.
func (s *StreamDecoder) Results() <-chan Result {
	return s.outCh
}

// Decoder returns the driven decoder.
func (s *StreamDecoder) Decoder() *Decoder {
	return s.dec
}

// Close_ closes the decoder and the result channel. The event channel belongs to the senders.
func (s *StreamDecoder) Close_() { //nolint:revive // required by lifecycle.AsyncInstance interface
	s.dec.Close()
	close(s.outCh)
}

func (s *StreamDecoder) String() string {
	return fmt.Sprintf("STREAM_DECODER %v", s.dec)
}
