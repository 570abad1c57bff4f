package parameters

import (
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/ugparu/vkdecoder"
	"github.com/ugparu/vkdecoder/codec/h264"
	"github.com/ugparu/vkdecoder/codec/h265"
	"github.com/ugparu/vkdecoder/device/recorder"
	"github.com/ugparu/vkdecoder/session"
)

func TestMain(m *testing.M) {
	logrus.SetLevel(logrus.FatalLevel)
	os.Exit(m.Run())
}

func avcSPS(t *testing.T, id uint8, usc uint64) *ParameterSet {
	t.Helper()
	ps, err := New(&vkdecoder.PictureParameters{
		Kind:    vkdecoder.KindSPS,
		H264SPS: &h264.StdSPS{SeqParameterSetID: id, ChromaFormatIDC: 1},
	}, usc)
	require.NoError(t, err)
	return ps
}

func avcPPS(t *testing.T, id, spsID uint8, usc uint64) *ParameterSet {
	t.Helper()
	ps, err := New(&vkdecoder.PictureParameters{
		Kind:    vkdecoder.KindPPS,
		H264PPS: &h264.StdPPS{PicParameterSetID: id, SeqParameterSetID: spsID},
	}, usc)
	require.NoError(t, err)
	return ps
}

func hevcSets(t *testing.T) (vps, sps, pps *ParameterSet) {
	t.Helper()
	var err error
	vps, err = New(&vkdecoder.PictureParameters{
		Kind:    vkdecoder.KindVPS,
		H265VPS: &h265.StdVPS{VideoParameterSetID: 2},
	}, 0)
	require.NoError(t, err)
	sps, err = New(&vkdecoder.PictureParameters{
		Kind:    vkdecoder.KindSPS,
		H265SPS: &h265.StdSPS{SeqParameterSetID: 1, VideoParameterSetID: 2},
	}, 0)
	require.NoError(t, err)
	pps, err = New(&vkdecoder.PictureParameters{
		Kind:    vkdecoder.KindPPS,
		H265PPS: &h265.StdPPS{PicParameterSetID: 7, SeqParameterSetID: 1},
	}, 0)
	require.NoError(t, err)
	return vps, sps, pps
}

func newSession(t *testing.T, dev *recorder.Device, codec vkdecoder.CodecOperation) *session.Session {
	t.Helper()
	s, err := session.Create(dev, &vkdecoder.VideoSessionCreateInfo{
		QueueFamily: 1,
		Profile: vkdecoder.VideoProfile{
			Codec:             codec,
			ChromaSubsampling: vkdecoder.ChromaSubsampling420,
			LumaBitDepth:      vkdecoder.ComponentBitDepth8,
			ChromaBitDepth:    vkdecoder.ComponentBitDepth8,
		},
		MaxCodedExtent:      vkdecoder.Extent2D{Width: 1920, Height: 1088},
		MaxDpbSlots:         17,
		MaxActiveReferences: 16,
	})
	require.NoError(t, err)
	return s
}

func TestNewParameterSet(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		pp      *vkdecoder.PictureParameters
		wantErr bool
		kind    vkdecoder.ParameterSetKind
		id      int
		parent  int
	}{
		{name: "nil record", wantErr: true},
		{
			name:    "no record",
			pp:      &vkdecoder.PictureParameters{Kind: vkdecoder.KindSPS},
			wantErr: true,
		},
		{
			name:    "kind mismatch",
			pp:      &vkdecoder.PictureParameters{Kind: vkdecoder.KindPPS, H264SPS: &h264.StdSPS{}},
			wantErr: true,
		},
		{
			name:    "sps id out of range",
			pp:      &vkdecoder.PictureParameters{Kind: vkdecoder.KindSPS, H264SPS: &h264.StdSPS{SeqParameterSetID: MaxSPSIDs}},
			wantErr: true,
		},
		{
			name:    "vps id out of range",
			pp:      &vkdecoder.PictureParameters{Kind: vkdecoder.KindVPS, H265VPS: &h265.StdVPS{VideoParameterSetID: MaxVPSIDs}},
			wantErr: true,
		},
		{
			name:   "h264 pps",
			pp:     &vkdecoder.PictureParameters{Kind: vkdecoder.KindPPS, H264PPS: &h264.StdPPS{PicParameterSetID: 255, SeqParameterSetID: 31}},
			kind:   vkdecoder.KindPPS,
			id:     255,
			parent: 31,
		},
		{
			name:   "h265 sps",
			pp:     &vkdecoder.PictureParameters{Kind: vkdecoder.KindSPS, H265SPS: &h265.StdSPS{SeqParameterSetID: 3, VideoParameterSetID: 15}},
			kind:   vkdecoder.KindSPS,
			id:     3,
			parent: 15,
		},
		{
			name:   "h265 vps",
			pp:     &vkdecoder.PictureParameters{Kind: vkdecoder.KindVPS, H265VPS: &h265.StdVPS{VideoParameterSetID: 4}},
			kind:   vkdecoder.KindVPS,
			id:     4,
			parent: -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ps, err := New(tt.pp, 0)
			if tt.wantErr {
				require.ErrorIs(t, err, vkdecoder.ErrInvalidParameterSet)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.kind, ps.Kind())
			require.Equal(t, tt.id, ps.ID())
			require.Equal(t, tt.parent, ps.ParentID())
			require.Nil(t, ps.Owner())
			require.Nil(t, ps.Session())
		})
	}
}

func TestGraphLinksParents(t *testing.T) {
	t.Parallel()

	t.Run("parent first", func(t *testing.T) {
		t.Parallel()
		g := NewGraph(recorder.New(recorder.DefaultConfig()))
		sps, pps := avcSPS(t, 0, 0), avcPPS(t, 0, 0, 0)
		_, err := g.Add(sps)
		require.NoError(t, err)
		_, err = g.Add(pps)
		require.NoError(t, err)
		require.Same(t, sps, pps.Parent())
	})

	t.Run("child first", func(t *testing.T) {
		t.Parallel()
		g := NewGraph(recorder.New(recorder.DefaultConfig()))
		sps, pps := avcSPS(t, 0, 0), avcPPS(t, 0, 0, 0)
		_, err := g.Add(pps)
		require.NoError(t, err)
		require.Nil(t, pps.Parent())
		_, err = g.Add(sps)
		require.NoError(t, err)
		require.Same(t, sps, pps.Parent())
	})

	t.Run("id mismatch", func(t *testing.T) {
		t.Parallel()
		g := NewGraph(recorder.New(recorder.DefaultConfig()))
		sps, pps := avcSPS(t, 1, 0), avcPPS(t, 0, 0, 0)
		_, err := g.Add(sps)
		require.NoError(t, err)
		_, err = g.Add(pps)
		require.NoError(t, err)
		require.Nil(t, pps.Parent())
	})

	t.Run("h265 vps after sps", func(t *testing.T) {
		t.Parallel()
		g := NewGraph(recorder.New(recorder.DefaultConfig()))
		vps, sps, pps := hevcSets(t)
		for _, ps := range []*ParameterSet{pps, sps, vps} {
			_, err := g.Add(ps)
			require.NoError(t, err)
		}
		require.Same(t, sps, pps.Parent())
		require.Same(t, vps, sps.Parent())
		require.Same(t, vps, g.LastSeen(vkdecoder.KindVPS))
	})
}

func TestGraphBuffersUntilSessionOpens(t *testing.T) {
	t.Parallel()
	dev := recorder.New(recorder.DefaultConfig())
	g := NewGraph(dev)

	sps, pps := avcSPS(t, 0, 0), avcPPS(t, 0, 0, 0)
	for _, ps := range []*ParameterSet{sps, pps} {
		n, err := g.Add(ps)
		require.NoError(t, err)
		require.Zero(t, n)
	}
	require.False(t, g.Materializing())
	require.Equal(t, 2, g.Pending())
	require.Zero(t, dev.LiveSessionParameters())

	sess := newSession(t, dev, vkdecoder.CodecOperationDecodeH264)
	defer sess.Release()
	n, err := g.Open(sess)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.True(t, g.Materializing())
	require.Zero(t, g.Pending())

	cur := g.Current()
	require.NotNil(t, cur)
	require.True(t, cur.HasSpsID(0))
	require.True(t, cur.HasPpsID(0))
	require.Same(t, cur, sps.Owner())
	require.Same(t, cur, pps.Owner())
	require.Same(t, sess, pps.Session())
	require.Equal(t, 1, dev.LiveSessionParameters())

	create, updates, ok := dev.SessionParametersInfo(cur.Handle())
	require.True(t, ok)
	require.Equal(t, sess.Handle(), create.Session)
	addInfo, ok := create.AddInfo.(*vkdecoder.H264ParametersAddInfo)
	require.True(t, ok)
	require.Len(t, addInfo.SPS, 1)
	require.Empty(t, addInfo.PPS)
	require.Len(t, updates, 1)
	require.Len(t, updates[0].AddInfo.(*vkdecoder.H264ParametersAddInfo).PPS, 1)

	next := avcPPS(t, 1, 0, 0)
	n, err = g.Add(next)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Same(t, cur, g.Current())
	require.True(t, cur.HasPpsID(1))
	require.EqualValues(t, 2, cur.IDCount(vkdecoder.KindPPS))
}

func TestGraphRevisionCreatesNewObject(t *testing.T) {
	t.Parallel()
	dev := recorder.New(recorder.DefaultConfig())
	sess := newSession(t, dev, vkdecoder.CodecOperationDecodeH264)
	defer sess.Release()
	g := NewGraph(dev)
	_, err := g.Open(sess)
	require.NoError(t, err)

	_, err = g.Add(avcSPS(t, 0, 0))
	require.NoError(t, err)
	_, err = g.Add(avcPPS(t, 0, 0, 0))
	require.NoError(t, err)
	first := g.Current()

	revised := avcPPS(t, 0, 0, 3)
	n, err := g.Add(revised)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	second := g.Current()
	require.NotSame(t, first, second)
	require.Greater(t, second.ID(), first.ID())
	require.Same(t, second, revised.Owner())
	require.True(t, second.HasSpsID(0))
	require.True(t, second.HasPpsID(0))

	create, _, ok := dev.SessionParametersInfo(second.Handle())
	require.True(t, ok)
	require.Equal(t, first.Handle(), create.Template)
	require.Equal(t, 1, dev.LiveSessionParameters())

	g.Close()
	require.Zero(t, dev.LiveSessionParameters())
	require.Nil(t, g.Current())
	require.False(t, g.Materializing())
}

func TestGraphRejectsRebinding(t *testing.T) {
	t.Parallel()
	dev := recorder.New(recorder.DefaultConfig())
	sess := newSession(t, dev, vkdecoder.CodecOperationDecodeH264)
	defer sess.Release()
	g := NewGraph(dev)
	_, err := g.Open(sess)
	require.NoError(t, err)

	sps := avcSPS(t, 0, 0)
	_, err = g.Add(sps)
	require.NoError(t, err)
	_, err = g.Add(sps)
	require.ErrorIs(t, err, vkdecoder.ErrParameterSetRebound)
}

func TestGraphStaleOwner(t *testing.T) {
	t.Parallel()
	dev := recorder.New(recorder.DefaultConfig())
	sess := newSession(t, dev, vkdecoder.CodecOperationDecodeH264)
	defer sess.Release()
	g := NewGraph(dev)
	_, err := g.Open(sess)
	require.NoError(t, err)

	older, err := Create(dev, sess, nil, avcSPS(t, 0, 0), nil, nil)
	require.NoError(t, err)
	defer older.Release()
	newer, err := Create(dev, sess, nil, avcSPS(t, 1, 0), nil, nil)
	require.NoError(t, err)
	defer newer.Release()
	require.Greater(t, newer.ID(), older.ID())

	revised := avcSPS(t, 0, 2)
	revised.setOwner(newer)
	_, err = g.CheckStdObjectAfterUpdate(revised, older)
	require.ErrorIs(t, err, vkdecoder.ErrStaleParameters)

	owner, err := g.CheckStdObjectAfterUpdate(avcSPS(t, 0, 2), newer)
	require.NoError(t, err)
	require.Same(t, newer, owner)
}

func TestGraphRevisionsDoNotAccumulate(t *testing.T) {
	t.Parallel()
	dev := recorder.New(recorder.DefaultConfig())
	sess := newSession(t, dev, vkdecoder.CodecOperationDecodeH264)
	defer sess.Release()
	g := NewGraph(dev)
	_, err := g.Open(sess)
	require.NoError(t, err)

	for usc := range uint64(10) {
		_, err = g.Add(avcSPS(t, 0, usc))
		require.NoError(t, err)
		_, err = g.Add(avcPPS(t, 0, 0, usc))
		require.NoError(t, err)
		require.Equal(t, 1, dev.LiveSessionParameters())
	}
	require.True(t, g.Current().HasSpsID(0))
	require.True(t, g.Current().HasPpsID(0))

	g.Close()
	require.Zero(t, dev.LiveSessionParameters())
}

func TestGraphSessionChangeReplaysSets(t *testing.T) {
	t.Parallel()
	dev := recorder.New(recorder.DefaultConfig())
	g := NewGraph(dev)

	first := newSession(t, dev, vkdecoder.CodecOperationDecodeH264)
	_, err := g.Open(first)
	require.NoError(t, err)
	sps, superseded, pps, other := avcSPS(t, 0, 1), avcPPS(t, 0, 0, 0), avcPPS(t, 0, 0, 0), avcPPS(t, 1, 0, 0)
	for _, ps := range []*ParameterSet{sps, superseded, pps, other} {
		_, err = g.Add(ps)
		require.NoError(t, err)
	}
	old := g.Current()
	require.Same(t, first, old.Session())

	second := newSession(t, dev, vkdecoder.CodecOperationDecodeH264)
	n, err := g.Open(second)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	cur := g.Current()
	require.NotNil(t, cur)
	require.NotSame(t, old, cur)
	require.Same(t, second, cur.Session())
	for _, ps := range []*ParameterSet{sps, pps, other} {
		require.Same(t, cur, ps.Owner(), "%v", ps)
	}
	require.Same(t, second, pps.Session())
	require.Same(t, first, superseded.Session())
	require.Equal(t, 1, dev.LiveSessionParameters())

	first.Release()
	live, _ := dev.Sessions()
	require.Equal(t, 1, live)

	// A set still queued when the session changes wins over the bound one of its id.
	g.Close()
	pending := avcPPS(t, 0, 0, 0)
	_, err = g.Add(pending)
	require.NoError(t, err)
	require.Equal(t, 1, g.Pending())
	n, err = g.Open(second)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Same(t, g.Current(), pending.Owner())
	require.Same(t, g.Current(), other.Owner())
	require.NotSame(t, g.Current(), pps.Owner())

	g.Close()
	second.Release()
	live, _ = dev.Sessions()
	require.Zero(t, live)
}

func TestGraphSessionChangeForgetsOtherCodec(t *testing.T) {
	t.Parallel()
	dev := recorder.New(recorder.DefaultConfig())
	g := NewGraph(dev)

	avc := newSession(t, dev, vkdecoder.CodecOperationDecodeH264)
	defer avc.Release()
	_, err := g.Open(avc)
	require.NoError(t, err)
	_, err = g.Add(avcSPS(t, 0, 0))
	require.NoError(t, err)

	hevc := newSession(t, dev, vkdecoder.CodecOperationDecodeH265)
	defer hevc.Release()
	n, err := g.Open(hevc)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Nil(t, g.Current())
	require.Zero(t, dev.LiveSessionParameters())
	g.Close()
}

func TestGraphRequiresSession(t *testing.T) {
	t.Parallel()
	g := NewGraph(recorder.New(recorder.DefaultConfig()))
	_, err := g.Open(nil)
	require.ErrorIs(t, err, vkdecoder.ErrNotInitialized)

	_, err = g.AddPictureParameters(nil, avcSPS(t, 0, 0), nil)
	require.ErrorIs(t, err, vkdecoder.ErrNotInitialized)

	created, err := g.AddPictureParameters(nil, nil, nil)
	require.NoError(t, err)
	require.Nil(t, created)
}

func TestSessionParametersKeepSessionAlive(t *testing.T) {
	t.Parallel()
	dev := recorder.New(recorder.DefaultConfig())
	sess := newSession(t, dev, vkdecoder.CodecOperationDecodeH265)
	vps, sps, pps := hevcSets(t)

	sp, err := Create(dev, sess, vps, sps, pps, nil)
	require.NoError(t, err)
	require.Equal(t, vkdecoder.CodecOperationDecodeH265, sp.Codec())
	require.True(t, sp.HasVpsID(2))
	require.True(t, sp.HasSpsID(1))
	require.True(t, sp.HasPpsID(7))
	require.False(t, sp.HasPpsID(-1))
	require.False(t, sp.HasID(vkdecoder.KindCount, 0))

	sess.Release()
	live, _ := dev.Sessions()
	require.Equal(t, 1, live)

	require.EqualValues(t, 0, sp.Release())
	live, _ = dev.Sessions()
	require.Zero(t, live)
	require.Zero(t, dev.LiveSessionParameters())
}

func TestSessionParametersUpdate(t *testing.T) {
	t.Parallel()
	dev := recorder.New(recorder.DefaultConfig())
	sess := newSession(t, dev, vkdecoder.CodecOperationDecodeH264)
	defer sess.Release()

	sp, err := Create(dev, sess, nil, avcSPS(t, 0, 0), nil, nil)
	require.NoError(t, err)
	defer sp.Release()

	require.NoError(t, sp.Update(nil, avcSPS(t, 2, 4), avcPPS(t, 5, 2, 1)))
	_, updates, ok := dev.SessionParametersInfo(sp.Handle())
	require.True(t, ok)
	require.Len(t, updates, 1)
	require.EqualValues(t, 4, updates[0].UpdateSequenceCount)
	require.True(t, sp.HasSpsID(2))
	require.True(t, sp.HasPpsID(5))

	vps, _, _ := hevcSets(t)
	require.ErrorIs(t, sp.Update(vps, nil, nil), vkdecoder.ErrParametersUpdate)

	dev.InjectFault(recorder.OpUpdateParameters, nil)
	require.ErrorIs(t, sp.Update(nil, nil, avcPPS(t, 9, 0, 0)), recorder.ErrInjected)
	require.False(t, sp.HasPpsID(9))
}

func TestCreateRejectsMixedCodecs(t *testing.T) {
	t.Parallel()
	dev := recorder.New(recorder.DefaultConfig())
	sess := newSession(t, dev, vkdecoder.CodecOperationDecodeH264)
	defer sess.Release()

	vps, _, _ := hevcSets(t)
	_, err := Create(dev, sess, vps, avcSPS(t, 0, 0), nil, nil)
	require.ErrorIs(t, err, vkdecoder.ErrInvalidParameterSet)

	_, err = Create(dev, sess, nil, nil, nil, nil)
	require.ErrorIs(t, err, vkdecoder.ErrInvalidParameterSet)
	require.Zero(t, dev.LiveSessionParameters())
}

func TestIdentityIsMonotonic(t *testing.T) {
	t.Parallel()
	dev := recorder.New(recorder.DefaultConfig())
	sess := newSession(t, dev, vkdecoder.CodecOperationDecodeH264)
	defer sess.Release()

	var last int32
	for i := range 8 {
		sp, err := Create(dev, sess, nil, avcSPS(t, uint8(i), 0), nil, nil) //nolint:gosec
		require.NoError(t, err)
		require.Greater(t, sp.ID(), last)
		last = sp.ID()
		sp.Release()
	}
}
