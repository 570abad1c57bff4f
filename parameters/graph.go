package parameters

import (
	"cmp"
	"fmt"
	"maps"
	"slices"

	"github.com/ugparu/vkdecoder"
	"github.com/ugparu/vkdecoder/session"
	"github.com/ugparu/vkdecoder/utils/logger"
)

type gateState int

const (
	gateBuffering gateState = iota
	gateMaterializing
)

func (s gateState) String() string {
	if s == gateMaterializing {
		return "MATERIALIZING"
	}
	return "BUFFERING"
}

type setKey struct {
	kind vkdecoder.ParameterSetKind
	id   int
}

func keyOf(ps *ParameterSet) setKey {
	return setKey{kind: ps.Kind(), id: ps.ID()}
}

// Graph links parameter sets to their parents and materializes them into session parameters.
//
// Without a session the graph buffers every set. Open binds a session and drains the queue,
// after which every added set is materialized immediately. A Graph is not safe for concurrent use.
type Graph struct {
	device   vkdecoder.DeviceContext
	lastSeen [vkdecoder.KindCount]*ParameterSet
	queue    []*ParameterSet
	state    gateState
	session  *session.Session
	current  *SessionParameters
	// Latest materialized set of every id, replayed into the next session.
	bound map[setKey]*ParameterSet
}

// NewGraph returns an empty graph in the buffering state.
func NewGraph(device vkdecoder.DeviceContext) *Graph {
	return &Graph{
		device: device,
		state:  gateBuffering,
		bound:  map[setKey]*ParameterSet{},
	}
}

// Add links ps with the last seen sets, makes it the last seen set of its kind and queues it.
// The queue is flushed right away when a session is bound. It returns the number of sets materialized.
func (g *Graph) Add(ps *ParameterSet) (int, error) {
	g.link(ps)
	g.lastSeen[ps.Kind()] = ps
	g.queue = append(g.queue, ps)
	logger.Tracef(g, "Queued %v", ps)

	if g.state != gateMaterializing {
		return 0, nil
	}
	return g.Flush()
}

func (g *Graph) link(ps *ParameterSet) {
	switch ps.Kind() {
	case vkdecoder.KindPPS:
		if sps := g.lastSeen[vkdecoder.KindSPS]; sps != nil && ps.SpsID() == sps.ID() {
			ps.parent = sps
		}
	case vkdecoder.KindSPS:
		if pps := g.lastSeen[vkdecoder.KindPPS]; pps != nil && pps.SpsID() == ps.ID() {
			pps.parent = ps
		}
		if vps := g.lastSeen[vkdecoder.KindVPS]; vps != nil && ps.VpsID() == vps.ID() {
			ps.parent = vps
		}
	case vkdecoder.KindVPS:
		if sps := g.lastSeen[vkdecoder.KindSPS]; sps != nil && sps.VpsID() == ps.ID() {
			sps.parent = ps
		}
	}
}

// Open binds sess and drains the queue. A session different from the bound one
// drops the current session parameters object and queues the latest set of every id
// materialized so far ahead of the pending ones, so they are bound again under sess.
// Sets of another codec than the one of sess are forgotten.
func (g *Graph) Open(sess *session.Session) (int, error) {
	if sess == nil {
		return 0, vkdecoder.ErrNotInitialized
	}
	if g.session != sess {
		g.releaseCurrent()
		g.requeueBound(sess.Info().Profile.Codec)
		g.session = sess
	}
	if g.state != gateMaterializing {
		logger.Debugf(g, "Gate %v -> %v with %d queued sets", g.state, gateMaterializing, len(g.queue))
		g.state = gateMaterializing
	}
	return g.Flush()
}

// Close releases the current session parameters object and returns to buffering.
// Queued sets are kept.
func (g *Graph) Close() {
	g.releaseCurrent()
	g.session = nil
	g.state = gateBuffering
}

func (g *Graph) requeueBound(codec vkdecoder.CodecOperation) {
	if len(g.bound) == 0 {
		return
	}
	queued := make(map[setKey]bool, len(g.queue))
	for _, ps := range g.queue {
		queued[keyOf(ps)] = true
	}
	keys := slices.SortedFunc(maps.Keys(g.bound), func(a, b setKey) int {
		return cmp.Or(cmp.Compare(a.kind, b.kind), cmp.Compare(a.id, b.id))
	})
	replay := make([]*ParameterSet, 0, len(keys)+len(g.queue))
	for _, key := range keys {
		ps := g.bound[key]
		delete(g.bound, key)
		// A pending set of the same id supersedes the bound one.
		if queued[key] || ps.Codec() != codec {
			continue
		}
		ps.unbind()
		replay = append(replay, ps)
	}
	logger.Debugf(g, "Replaying %d sets into the next session", len(replay))
	g.queue = append(replay, g.queue...)
}

func (g *Graph) releaseCurrent() {
	if g.current != nil {
		g.current.Release()
		g.current = nil
	}
}

// Flush materializes every queued set in arrival order and empties the queue.
// It does nothing while buffering.
func (g *Graph) Flush() (int, error) {
	if g.state != gateMaterializing {
		return 0, nil
	}
	n := 0
	for len(g.queue) > 0 {
		ps := g.queue[0]
		g.queue[0] = nil
		g.queue = g.queue[1:]

		var err error
		switch ps.Kind() {
		case vkdecoder.KindPPS:
			_, err = g.AddPictureParameters(nil, nil, ps)
		case vkdecoder.KindSPS:
			_, err = g.AddPictureParameters(nil, ps, nil)
		case vkdecoder.KindVPS:
			_, err = g.AddPictureParameters(ps, nil, nil)
		default:
			err = fmt.Errorf("%w: %v", vkdecoder.ErrInvalidParameterSet, ps)
		}
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// AddPictureParameters materializes up to one set of each kind. A new object is created
// when there is no current object or one of the sets is a revision. Otherwise the sets are
// added to the current object. It returns the newly created object, nil after an update.
func (g *Graph) AddPictureParameters(vps, sps, pps *ParameterSet) (*SessionParameters, error) {
	if vps == nil && sps == nil && pps == nil {
		return nil, nil //nolint:nilnil // nothing to materialize
	}

	createNew := false
	for _, ps := range []*ParameterSet{pps, sps, vps} {
		create, err := g.CheckStdObjectBeforeUpdate(ps)
		if err != nil {
			return nil, err
		}
		createNew = createNew || create
	}

	var created *SessionParameters
	if createNew {
		sp, err := Create(g.device, g.session, vps, sps, pps, g.current)
		if err != nil {
			return nil, err
		}
		g.releaseCurrent()
		g.current = sp
		created = sp
	} else if err := g.current.Update(vps, sps, pps); err != nil {
		return nil, err
	}

	for _, ps := range []*ParameterSet{vps, sps, pps} {
		if _, err := g.CheckStdObjectAfterUpdate(ps, created); err != nil {
			return created, err
		}
	}
	return created, nil
}

// CheckStdObjectBeforeUpdate reports whether ps needs a new session parameters object.
func (g *Graph) CheckStdObjectBeforeUpdate(ps *ParameterSet) (bool, error) {
	if ps == nil {
		return false, nil
	}
	revision := ps.UpdateSequenceCount() > 0
	if g.current == nil || revision {
		if g.session == nil {
			return false, vkdecoder.ErrNotInitialized
		}
		if !revision && ps.Session() != nil {
			return false, fmt.Errorf("%w: %v", vkdecoder.ErrParameterSetRebound, ps)
		}
		return true, nil
	}
	if ps.Owner() != nil || ps.Session() != nil {
		return false, fmt.Errorf("%w: %v", vkdecoder.ErrParameterSetRebound, ps)
	}
	return false, nil
}

// CheckStdObjectAfterUpdate records the owner of ps after materialization and returns it.
// A revised set must move to an object with a larger identity than its previous owner.
func (g *Graph) CheckStdObjectAfterUpdate(ps *ParameterSet, created *SessionParameters) (*SessionParameters, error) {
	if ps == nil {
		return nil, nil //nolint:nilnil // nothing materialized
	}
	if created == nil {
		ps.session = g.session
		ps.setOwner(g.current)
		g.bound[keyOf(ps)] = ps
		return g.current, nil
	}
	if ps.UpdateSequenceCount() == 0 {
		ps.session = g.session
	} else if prev := ps.Owner(); prev != nil && prev.ID() >= created.ID() {
		return nil, fmt.Errorf("%w: %v moves from %v to %v", vkdecoder.ErrStaleParameters, ps, prev, created)
	}
	ps.setOwner(created)
	g.bound[keyOf(ps)] = ps
	return created, nil
}

// Current returns the session parameters object new sets are added to.
func (g *Graph) Current() *SessionParameters {
	return g.current
}

// Session returns the bound session, nil while buffering.
func (g *Graph) Session() *session.Session {
	return g.session
}

// Materializing reports whether a session is bound.
func (g *Graph) Materializing() bool {
	return g.state == gateMaterializing
}

// Pending returns the number of queued sets.
func (g *Graph) Pending() int {
	return len(g.queue)
}

// LastSeen returns the most recent set of a kind.
func (g *Graph) LastSeen(kind vkdecoder.ParameterSetKind) *ParameterSet {
	if kind < 0 || kind >= vkdecoder.KindCount {
		return nil
	}
	return g.lastSeen[kind]
}

func (g *Graph) String() string {
	return fmt.Sprintf("PARAMS_GRAPH %v", g.state)
}
