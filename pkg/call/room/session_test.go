package room

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/vango-go/vai-call/pkg/call/api"
	"github.com/vango-go/vai-call/pkg/call/metrics"
	"github.com/vango-go/vai-call/pkg/core"
	"github.com/vango-go/vai-call/pkg/core/types"
)

type fakeService struct {
	mu        sync.Mutex
	createErr error
	joinErr   error
	creates   int
	joins     int
	testRooms int
	testURL   string
}

func (f *fakeService) CreateRoom(ctx context.Context, req types.RoomRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	return f.createErr
}

func (f *fakeService) JoinRoom(ctx context.Context, req types.RoomRequest) (types.JoinGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins++
	if f.joinErr != nil {
		return types.JoinGrant{}, f.joinErr
	}
	return types.JoinGrant{Token: "tok-" + req.ParticipantIdentity, URL: "wss://rtc.example.com"}, nil
}

func (f *fakeService) CreateTestRoom(ctx context.Context) (types.JoinGrant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.testRooms++
	return types.JoinGrant{Token: "test", URL: f.testURL}, nil
}

func (f *fakeService) counts() (creates, joins int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates, f.joins
}

type fakeConn struct {
	mu          sync.Mutex
	disconnects int
	micEnabled  []bool
	micCalls    chan bool
	micErr      error
}

func newFakeConn() *fakeConn {
	return &fakeConn{micCalls: make(chan bool, 16)}
}

func (c *fakeConn) SetMicrophoneEnabled(ctx context.Context, enabled bool) error {
	c.mu.Lock()
	c.micEnabled = append(c.micEnabled, enabled)
	err := c.micErr
	c.mu.Unlock()
	c.micCalls <- enabled
	return err
}

func (c *fakeConn) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
}

func (c *fakeConn) disconnectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

type fakeConnector struct {
	mu      sync.Mutex
	conn    *fakeConn
	err     error
	grants  []types.JoinGrant
	events  Events
	release chan struct{}
	entered chan struct{}

	// handshake runs before Connect returns, like a transport announcing
	// the room's existing participants.
	handshake func(Events)
}

func (f *fakeConnector) Connect(ctx context.Context, grant types.JoinGrant, events Events) (MediaConnection, error) {
	f.mu.Lock()
	f.grants = append(f.grants, grant)
	f.events = events
	release, entered, handshake := f.release, f.entered, f.handshake
	f.mu.Unlock()
	if entered != nil {
		close(entered)
	}
	if release != nil {
		<-release
	}
	if handshake != nil {
		handshake(events)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.conn, nil
}

func (f *fakeConnector) connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.grants)
}

type fakeTrack struct {
	sid        string
	kind       TrackKind
	mu         sync.Mutex
	subscribed []bool
}

func (t *fakeTrack) SID() string     { return t.sid }
func (t *fakeTrack) Kind() TrackKind { return t.kind }

func (t *fakeTrack) SetSubscribed(v bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribed = append(t.subscribed, v)
	return nil
}

type fakeTrackSink struct {
	mu       sync.Mutex
	attached map[string]bool
	order    []string
}

func newFakeTrackSink() *fakeTrackSink {
	return &fakeTrackSink{attached: make(map[string]bool)}
}

func (s *fakeTrackSink) Attach(identity string, track RemoteTrack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached[identity+"/"+track.SID()] = true
	s.order = append(s.order, "attach:"+track.SID())
	return nil
}

func (s *fakeTrackSink) Detach(identity, sid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attached, identity+"/"+sid)
	s.order = append(s.order, "detach:"+sid)
}

func (s *fakeTrackSink) isAttached(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached[key]
}

func recordStates(s *Session) func() []ConnectionState {
	var mu sync.Mutex
	var states []ConnectionState
	s.OnStateChange(func(cs ConnectionState) {
		mu.Lock()
		states = append(states, cs)
		mu.Unlock()
	})
	return func() []ConnectionState {
		mu.Lock()
		defer mu.Unlock()
		return append([]ConnectionState(nil), states...)
	}
}

func TestSession_CreateAndJoinConnects(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	conn := newFakeConn()
	connector := &fakeConnector{conn: conn}
	m := metrics.New("test")
	s := New(svc, connector, WithMetrics(m))
	states := recordStates(s)

	if err := s.CreateAndJoin(context.Background(), "room-1", "Ada", "user-1"); err != nil {
		t.Fatalf("CreateAndJoin: %v", err)
	}
	if s.State() != Connected || s.RoomName() != "room-1" {
		t.Fatalf("state=%v room=%q", s.State(), s.RoomName())
	}
	if got := connector.grants[0]; got.Token != "tok-user-1" {
		t.Fatalf("grant=%+v", got)
	}
	if local := s.Local(); local.Identity != "user-1" || local.Name != "Ada" || local.Muted {
		t.Fatalf("local=%+v", local)
	}
	got := states()
	if len(got) != 2 || got[0] != Connecting || got[1] != Connected {
		t.Fatalf("states=%v", got)
	}
	if v := testutil.ToFloat64(m.RoomSessionsActive); v != 1 {
		t.Fatalf("active sessions=%v", v)
	}
}

func TestSession_CreateFailureSkipsJoinAndConnect(t *testing.T) {
	t.Parallel()

	svc := &fakeService{createErr: core.NewServerError("quota exceeded", "http_500")}
	connector := &fakeConnector{conn: newFakeConn()}
	s := New(svc, connector)
	states := recordStates(s)

	err := s.CreateAndJoin(context.Background(), "room-1", "Ada", "user-1")
	if !core.IsType(err, core.ErrJoinFailed) {
		t.Fatalf("err=%v, want join_failed", err)
	}
	if !errors.Is(err, svc.createErr) {
		t.Fatalf("cause not preserved: %v", err)
	}
	if _, joins := svc.counts(); joins != 0 || connector.connects() != 0 {
		t.Fatalf("joins=%d connects=%d", joins, connector.connects())
	}
	if s.State() != Disconnected {
		t.Fatalf("state=%v", s.State())
	}
	got := states()
	if len(got) != 2 || got[1] != Disconnected {
		t.Fatalf("states=%v", got)
	}
}

func TestSession_ExistingRoomIsNotFatal(t *testing.T) {
	t.Parallel()

	conflict := core.NewServerError("room exists", api.CodeAlreadyExists)
	svc := &fakeService{createErr: conflict}
	s := New(svc, &fakeConnector{conn: newFakeConn()})
	if err := s.CreateAndJoin(context.Background(), "room-1", "Ada", "user-1"); err != nil {
		t.Fatalf("CreateAndJoin: %v", err)
	}
	if s.State() != Connected {
		t.Fatalf("state=%v", s.State())
	}
}

func TestSession_JoinAndConnectFailuresAggregate(t *testing.T) {
	t.Parallel()

	svc := &fakeService{joinErr: errors.New("token service down")}
	connector := &fakeConnector{conn: newFakeConn()}
	s := New(svc, connector)
	err := s.CreateAndJoin(context.Background(), "room-1", "Ada", "user-1")
	if !core.IsType(err, core.ErrJoinFailed) || connector.connects() != 0 || s.State() != Disconnected {
		t.Fatalf("join failure: err=%v connects=%d state=%v", err, connector.connects(), s.State())
	}

	svc.joinErr = nil
	connector.err = errors.New("ice failed")
	err = s.CreateAndJoin(context.Background(), "room-1", "Ada", "user-1")
	if !core.IsType(err, core.ErrJoinFailed) || s.State() != Disconnected {
		t.Fatalf("connect failure: err=%v state=%v", err, s.State())
	}
}

func TestSession_LeaveTwiceIsNoop(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	s := New(&fakeService{}, &fakeConnector{conn: conn})
	states := recordStates(s)
	if err := s.CreateAndJoin(context.Background(), "room-1", "Ada", "user-1"); err != nil {
		t.Fatalf("CreateAndJoin: %v", err)
	}
	s.Leave()
	s.Leave()
	if s.State() != Disconnected || conn.disconnectCount() != 1 {
		t.Fatalf("state=%v disconnects=%d", s.State(), conn.disconnectCount())
	}
	if got := states(); len(got) != 3 || got[2] != Disconnected {
		t.Fatalf("states=%v", got)
	}

	fresh := New(&fakeService{}, &fakeConnector{})
	fresh.Leave()
	if fresh.State() != Disconnected {
		t.Fatalf("leave on fresh session changed state")
	}
}

func TestSession_LeaveDuringConnectDropsLateConnection(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	connector := &fakeConnector{conn: conn, release: make(chan struct{}), entered: make(chan struct{})}
	s := New(&fakeService{}, connector)

	errc := make(chan error, 1)
	go func() {
		errc <- s.CreateAndJoin(context.Background(), "room-1", "Ada", "user-1")
	}()
	<-connector.entered
	if s.State() != Connecting {
		t.Fatalf("state=%v, want connecting", s.State())
	}
	s.Leave()
	close(connector.release)

	err := <-errc
	if !core.IsStale(err) || core.IsUserVisible(err) {
		t.Fatalf("err=%v, want silent stale_operation", err)
	}
	if s.State() != Disconnected {
		t.Fatalf("late connect applied: state=%v", s.State())
	}
	if conn.disconnectCount() != 1 {
		t.Fatalf("late connection not released: disconnects=%d", conn.disconnectCount())
	}

	// Events from the abandoned connection are ignored.
	connector.events.ParticipantJoined("ghost", "Ghost")
	if len(s.Participants()) != 0 {
		t.Fatalf("stale participant recorded")
	}
}

func TestSession_SecondJoinWhileConnectedRejected(t *testing.T) {
	t.Parallel()

	s := New(&fakeService{}, &fakeConnector{conn: newFakeConn()})
	if err := s.CreateAndJoin(context.Background(), "room-1", "Ada", "user-1"); err != nil {
		t.Fatalf("CreateAndJoin: %v", err)
	}
	if err := s.CreateAndJoin(context.Background(), "room-2", "Ada", "user-1"); !core.IsType(err, core.ErrInvalidState) {
		t.Fatalf("err=%v", err)
	}
	if err := s.CreateAndJoin(context.Background(), " ", "Ada", "user-1"); !core.IsType(err, core.ErrInvalidRequest) {
		t.Fatalf("blank room err=%v", err)
	}
}

func TestSession_TracksAttachOnlyAfterSubscribe(t *testing.T) {
	t.Parallel()

	sink := newFakeTrackSink()
	connector := &fakeConnector{conn: newFakeConn()}
	s := New(&fakeService{}, connector, WithTrackSink(sink))
	if err := s.CreateAndJoin(context.Background(), "room-1", "Ada", "user-1"); err != nil {
		t.Fatalf("CreateAndJoin: %v", err)
	}
	ev := connector.events

	ev.ParticipantJoined("agent", "Agent")
	audio := &fakeTrack{sid: "TR_a", kind: TrackAudio}
	video := &fakeTrack{sid: "TR_v", kind: TrackVideo}
	ev.TrackPublished("agent", audio)
	ev.TrackPublished("agent", video)

	if len(audio.subscribed) != 1 || !audio.subscribed[0] {
		t.Fatalf("audio subscribe calls=%v", audio.subscribed)
	}
	if len(video.subscribed) != 0 {
		t.Fatalf("video track subscribed")
	}
	if sink.isAttached("agent/TR_a") {
		t.Fatalf("attached before subscription completed")
	}

	ev.TrackSubscribed("agent", audio)
	if !sink.isAttached("agent/TR_a") {
		t.Fatalf("not attached after subscription")
	}
	parts := s.Participants()
	if len(parts) != 1 || parts[0].Name != "Agent" || len(parts[0].Tracks) != 2 {
		t.Fatalf("participants=%+v", parts)
	}
	if tr := parts[0].Tracks[0]; tr.SID != "TR_a" || !tr.Subscribed || !tr.Attached {
		t.Fatalf("audio track=%+v", tr)
	}

	ev.TrackUnsubscribed("agent", "TR_a")
	if sink.isAttached("agent/TR_a") {
		t.Fatalf("still attached after unsubscribe")
	}
	ev.TrackSubscribed("agent", audio)
	ev.ParticipantLeft("agent")
	if sink.isAttached("agent/TR_a") || len(s.Participants()) != 0 {
		t.Fatalf("participant leave did not detach")
	}
}

func TestSession_ConnectFailureDropsHandshakeParticipants(t *testing.T) {
	t.Parallel()

	sink := newFakeTrackSink()
	track := &fakeTrack{sid: "TR_a", kind: TrackAudio}
	connector := &fakeConnector{
		err: errors.New("ice failed"),
		handshake: func(ev Events) {
			ev.ParticipantJoined("agent", "Agent")
			ev.TrackPublished("agent", track)
			ev.TrackSubscribed("agent", track)
		},
	}
	s := New(&fakeService{}, connector, WithTrackSink(sink))

	err := s.CreateAndJoin(context.Background(), "room-1", "Ada", "user-1")
	if !core.IsType(err, core.ErrJoinFailed) {
		t.Fatalf("err=%v, want join_failed", err)
	}
	if s.State() != Disconnected {
		t.Fatalf("state=%v", s.State())
	}
	if parts := s.Participants(); len(parts) != 0 {
		t.Fatalf("participants after failed join=%+v", parts)
	}
	if sink.isAttached("agent/TR_a") {
		t.Fatalf("track still attached after failed join")
	}

	connector.events.ParticipantJoined("late", "Late")
	if parts := s.Participants(); len(parts) != 0 {
		t.Fatalf("late event applied after failed join: %+v", parts)
	}
}

func TestSession_LeaveDetachesTracks(t *testing.T) {
	t.Parallel()

	sink := newFakeTrackSink()
	connector := &fakeConnector{conn: newFakeConn()}
	s := New(&fakeService{}, connector, WithTrackSink(sink))
	if err := s.CreateAndJoin(context.Background(), "room-1", "Ada", "user-1"); err != nil {
		t.Fatalf("CreateAndJoin: %v", err)
	}
	track := &fakeTrack{sid: "TR_a", kind: TrackAudio}
	connector.events.TrackPublished("agent", track)
	connector.events.TrackSubscribed("agent", track)

	s.Leave()
	if sink.isAttached("agent/TR_a") {
		t.Fatalf("track still attached after leave")
	}
	connector.events.TrackSubscribed("agent", track)
	if sink.isAttached("agent/TR_a") {
		t.Fatalf("stale subscription attached after leave")
	}
}

func TestSession_RemoteDisconnect(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	connector := &fakeConnector{conn: conn}
	s := New(&fakeService{}, connector)
	if err := s.CreateAndJoin(context.Background(), "room-1", "Ada", "user-1"); err != nil {
		t.Fatalf("CreateAndJoin: %v", err)
	}
	connector.events.Disconnected(errors.New("server shutdown"))
	if s.State() != Disconnected {
		t.Fatalf("state=%v", s.State())
	}
	if err := s.CreateAndJoin(context.Background(), "room-1", "Ada", "user-1"); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
}

func TestSession_ToggleMuteIsSynchronous(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	s := New(&fakeService{}, &fakeConnector{conn: conn})
	if _, err := s.ToggleMute(); !core.IsType(err, core.ErrInvalidState) {
		t.Fatalf("mute while disconnected err=%v", err)
	}
	if err := s.CreateAndJoin(context.Background(), "room-1", "Ada", "user-1"); err != nil {
		t.Fatalf("CreateAndJoin: %v", err)
	}

	muted, err := s.ToggleMute()
	if err != nil || !muted || !s.Muted() {
		t.Fatalf("muted=%v flag=%v err=%v", muted, s.Muted(), err)
	}
	select {
	case enabled := <-conn.micCalls:
		if enabled {
			t.Fatalf("microphone enabled while muted")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("media mute never applied")
	}

	conn.mu.Lock()
	conn.micErr = errors.New("track not published")
	conn.mu.Unlock()
	muted, err = s.ToggleMute()
	if err != nil || muted || s.Muted() {
		t.Fatalf("unmute: muted=%v flag=%v err=%v", muted, s.Muted(), err)
	}
	select {
	case enabled := <-conn.micCalls:
		if !enabled {
			t.Fatalf("microphone not re-enabled")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("media unmute never applied")
	}
	// A failed media call keeps the local flag.
	if s.Muted() {
		t.Fatalf("flag reverted after media failure")
	}
}

func TestSession_JoinTestRoomNormalizesURL(t *testing.T) {
	t.Parallel()

	svc := &fakeService{testURL: "https://rtc.example.com"}
	connector := &fakeConnector{conn: newFakeConn()}
	s := New(svc, connector)
	if err := s.JoinTestRoom(context.Background(), "Ada", "user-1"); err != nil {
		t.Fatalf("JoinTestRoom: %v", err)
	}
	if got := connector.grants[0].URL; got != "wss://rtc.example.com" {
		t.Fatalf("url=%q", got)
	}
	if s.RoomName() != TestRoomName {
		t.Fatalf("room=%q", s.RoomName())
	}
}

func TestNormalizeRoomURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"https://rtc.example.com": "wss://rtc.example.com",
		"http://localhost:7880":   "wss://localhost:7880",
		"wss://rtc.example.com":   "wss://rtc.example.com",
		"ws://localhost:7880":     "ws://localhost:7880",
		"rtc.example.com":         "wss://rtc.example.com",
		"":                        "",
	}
	for in, want := range cases {
		if got := NormalizeRoomURL(in); got != want {
			t.Fatalf("NormalizeRoomURL(%q)=%q, want %q", in, got, want)
		}
	}
}
