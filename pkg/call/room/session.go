package room

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/vango-go/vai-call/pkg/call/api"
	"github.com/vango-go/vai-call/pkg/call/metrics"
	"github.com/vango-go/vai-call/pkg/core"
	"github.com/vango-go/vai-call/pkg/core/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Option configures a Session.
type Option func(*Session)

// WithTrackSink sets where subscribed remote audio is played.
func WithTrackSink(sink TrackSink) Option {
	return func(s *Session) {
		if sink != nil {
			s.sink = sink
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithTracer records one span per join attempt.
func WithTracer(t trace.Tracer) Option {
	return func(s *Session) {
		if t != nil {
			s.tracer = t
		}
	}
}

// Session is one live room call. Every join attempt gets a new generation;
// Leave advances it so completions of an abandoned attempt are dropped.
type Session struct {
	service   Service
	connector Connector
	sink      TrackSink
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer

	// muteMu serializes media mute calls.
	muteMu sync.Mutex

	mu        sync.Mutex
	gen       uint64
	state     ConnectionState
	roomName  string
	local     LocalParticipant
	remotes   map[string]*remoteParticipant
	conn      MediaConnection
	cancel    context.CancelFunc
	listeners []func(ConnectionState)
}

type remoteParticipant struct {
	name   string
	tracks map[string]*trackState
}

type trackState struct {
	track      RemoteTrack
	kind       TrackKind
	subscribed bool
	attached   bool
}

// New returns a disconnected session.
func New(service Service, connector Connector, opts ...Option) *Session {
	s := &Session{
		service:   service,
		connector: connector,
		sink:      noopSink{},
		logger:    slog.Default(),
		tracer:    noop.NewTracerProvider().Tracer(""),
		remotes:   make(map[string]*remoteParticipant),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnStateChange registers fn to be called after every connection state change.
func (s *Session) OnStateChange(fn func(ConnectionState)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Session) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) RoomName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomName
}

func (s *Session) Local() LocalParticipant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local
}

// Muted reports the local mute flag.
func (s *Session) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local.Muted
}

// Participants returns the remote participants ordered by identity.
func (s *Session) Participants() []Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Participant, 0, len(s.remotes))
	for identity, p := range s.remotes {
		snap := Participant{Identity: identity, Name: p.name}
		for sid, ts := range p.tracks {
			snap.Tracks = append(snap.Tracks, TrackInfo{SID: sid, Kind: ts.kind, Subscribed: ts.subscribed, Attached: ts.attached})
		}
		slices.SortFunc(snap.Tracks, func(a, b TrackInfo) int { return strings.Compare(a.SID, b.SID) })
		out = append(out, snap)
	}
	slices.SortFunc(out, func(a, b Participant) int { return strings.Compare(a.Identity, b.Identity) })
	return out
}

// CreateAndJoin ensures roomName exists, requests a join grant and opens the
// media connection. Any failing step returns a single join_failed error and
// leaves the session disconnected. If Leave is called before the attempt
// completes, the attempt returns a stale_operation error and any late
// connection is closed.
func (s *Session) CreateAndJoin(ctx context.Context, roomName, participantName, participantIdentity string) error {
	roomName = strings.TrimSpace(roomName)
	if roomName == "" {
		return core.NewInvalidRequestError("room name must not be empty")
	}
	req := types.RoomRequest{
		RoomName:            roomName,
		ParticipantName:     strings.TrimSpace(participantName),
		ParticipantIdentity: strings.TrimSpace(participantIdentity),
	}
	return s.join(ctx, req, "room.create_and_join", func(ctx context.Context, span trace.Span) (types.JoinGrant, error) {
		span.AddEvent("create_room")
		if err := s.service.CreateRoom(ctx, req); err != nil {
			if !api.IsAlreadyExists(err) {
				return types.JoinGrant{}, err
			}
			s.logger.Debug("room already exists", "room", roomName)
		}
		span.AddEvent("join_room")
		return s.service.JoinRoom(ctx, req)
	})
}

// JoinTestRoom provisions the shared test room and joins it.
func (s *Session) JoinTestRoom(ctx context.Context, participantName, participantIdentity string) error {
	req := types.RoomRequest{
		RoomName:            TestRoomName,
		ParticipantName:     strings.TrimSpace(participantName),
		ParticipantIdentity: strings.TrimSpace(participantIdentity),
	}
	return s.join(ctx, req, "room.join_test_room", func(ctx context.Context, span trace.Span) (types.JoinGrant, error) {
		span.AddEvent("create_test_room")
		grant, err := s.service.CreateTestRoom(ctx)
		if err != nil {
			return types.JoinGrant{}, err
		}
		grant.URL = NormalizeRoomURL(grant.URL)
		return grant, nil
	})
}

func (s *Session) join(ctx context.Context, req types.RoomRequest, spanName string, provision func(context.Context, trace.Span) (types.JoinGrant, error)) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := s.tracer.Start(ctx, spanName, trace.WithAttributes(
		attribute.String("room.name", req.RoomName),
		attribute.String("room.participant_identity", req.ParticipantIdentity),
	))
	defer span.End()

	s.mu.Lock()
	if s.state != Disconnected {
		state := s.state
		s.mu.Unlock()
		return core.NewInvalidStateError("room session is already " + state.String())
	}
	s.gen++
	gen := s.gen
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.roomName = req.RoomName
	s.local = LocalParticipant{Identity: req.ParticipantIdentity, Name: req.ParticipantName}
	s.state = Connecting
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()
	notify(listeners, Connecting)

	grant, err := provision(ctx, span)
	if err != nil {
		return s.fail(gen, span, err)
	}
	if s.stale(gen) {
		return s.dropStale(span, nil)
	}

	span.AddEvent("connect_media")
	conn, err := s.connector.Connect(ctx, grant, &generationEvents{s: s, gen: gen})
	if err != nil {
		return s.fail(gen, span, err)
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return s.dropStale(span, conn)
	}
	s.conn = conn
	s.state = Connected
	listeners = slices.Clone(s.listeners)
	s.mu.Unlock()

	s.metrics.RecordRoomJoin("connected")
	s.metrics.RecordRoomConnected()
	s.logger.Info("room connected", "room", req.RoomName, "identity", req.ParticipantIdentity)
	notify(listeners, Connected)
	return nil
}

func (s *Session) stale(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen != gen
}

func (s *Session) dropStale(span trace.Span, conn MediaConnection) error {
	if conn != nil {
		conn.Disconnect()
	}
	span.AddEvent("stale")
	s.logger.Debug("dropping stale room join completion")
	return core.NewStaleOperationError("room join")
}

// fail resets a failed attempt to Disconnected unless Leave already did.
// Participants reported during the attempt are dropped and their tracks
// detached.
func (s *Session) fail(gen uint64, span trace.Span, cause error) error {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return s.dropStale(span, nil)
	}
	s.gen++
	cancel := s.cancel
	attached := s.attachedLocked()
	s.cancel = nil
	s.state = Disconnected
	s.local = LocalParticipant{}
	s.roomName = ""
	s.remotes = make(map[string]*remoteParticipant)
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	for _, a := range attached {
		s.sink.Detach(a.identity, a.sid)
	}

	joinErr := core.NewJoinFailedError(cause)
	span.RecordError(joinErr)
	span.SetStatus(codes.Error, joinErr.Message)
	s.metrics.RecordRoomJoin("failed")
	s.logger.Warn("room join failed", "error", cause)
	notify(listeners, Disconnected)
	return joinErr
}

// Leave disconnects from any state and releases the media connection. It is
// safe to call repeatedly.
func (s *Session) Leave() {
	s.teardown("left")
}

func (s *Session) teardown(reason string) {
	s.mu.Lock()
	s.gen++
	prev := s.state
	conn := s.conn
	cancel := s.cancel
	attached := s.attachedLocked()
	s.conn = nil
	s.cancel = nil
	s.state = Disconnected
	s.local = LocalParticipant{}
	s.roomName = ""
	s.remotes = make(map[string]*remoteParticipant)
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Disconnect()
	}
	for _, a := range attached {
		s.sink.Detach(a.identity, a.sid)
	}
	if prev == Disconnected {
		return
	}
	if prev == Connected {
		s.metrics.RecordRoomDisconnected()
	}
	s.logger.Info("room disconnected", "reason", reason)
	notify(listeners, Disconnected)
}

type trackRef struct {
	identity, sid string
}

func (s *Session) attachedLocked() []trackRef {
	var out []trackRef
	for identity, p := range s.remotes {
		for sid, ts := range p.tracks {
			if ts.attached {
				out = append(out, trackRef{identity: identity, sid: sid})
			}
		}
	}
	return out
}

// ToggleMute flips the local mute flag and returns the new value. The flag
// changes immediately; the media transport is updated in the background.
func (s *Session) ToggleMute() (bool, error) {
	s.mu.Lock()
	if s.state != Connected || s.conn == nil {
		s.mu.Unlock()
		return false, core.NewInvalidStateError("not connected to a room")
	}
	s.local.Muted = !s.local.Muted
	muted := s.local.Muted
	conn := s.conn
	gen := s.gen
	s.mu.Unlock()

	go s.applyMute(conn, gen)
	return muted, nil
}

// applyMute pushes the latest mute flag to conn, so rapid toggles settle on
// the final value.
func (s *Session) applyMute(conn MediaConnection, gen uint64) {
	s.muteMu.Lock()
	defer s.muteMu.Unlock()

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	muted := s.local.Muted
	s.mu.Unlock()

	if err := conn.SetMicrophoneEnabled(context.Background(), !muted); err != nil {
		s.logger.Warn("microphone toggle failed", "muted", muted, "error", err)
	}
}

func notify(listeners []func(ConnectionState), state ConnectionState) {
	for _, fn := range listeners {
		fn(state)
	}
}

// NormalizeRoomURL rewrites an http(s) or scheme-less media server address to
// a secure websocket URL.
func NormalizeRoomURL(raw string) string {
	raw = strings.TrimSpace(raw)
	lower := strings.ToLower(raw)
	switch {
	case raw == "":
		return ""
	case strings.HasPrefix(lower, "wss://"), strings.HasPrefix(lower, "ws://"):
		return raw
	case strings.HasPrefix(lower, "https://"):
		return "wss://" + raw[len("https://"):]
	case strings.HasPrefix(lower, "http://"):
		return "wss://" + raw[len("http://"):]
	default:
		return "wss://" + raw
	}
}
