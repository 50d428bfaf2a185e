// Package room manages a live audio call in a media room: provisioning the
// room over REST, connecting the media transport, tracking remote
// participants and their audio tracks, muting and leaving.
package room

import (
	"context"

	"github.com/vango-go/vai-call/pkg/core/types"
)

// ConnectionState is the room session's connection state. It only moves
// Disconnected -> Connecting -> Connected -> Disconnected, and any state may
// return to Disconnected.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// TrackKind is the media kind of a remote track.
type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// TestRoomName is the room joined by JoinTestRoom.
const TestRoomName = "test-room"

// Service provisions rooms and issues join grants.
type Service interface {
	CreateRoom(ctx context.Context, req types.RoomRequest) error
	JoinRoom(ctx context.Context, req types.RoomRequest) (types.JoinGrant, error)
	CreateTestRoom(ctx context.Context) (types.JoinGrant, error)
}

// RemoteTrack is a track published by a remote participant.
type RemoteTrack interface {
	SID() string
	Kind() TrackKind
	SetSubscribed(subscribed bool) error
}

// MediaConnection is an open media transport for one room.
type MediaConnection interface {
	SetMicrophoneEnabled(ctx context.Context, enabled bool) error
	Disconnect()
}

// Connector opens media connections. Implementations deliver room events to
// events from any goroutine, in the order the transport reports them.
type Connector interface {
	Connect(ctx context.Context, grant types.JoinGrant, events Events) (MediaConnection, error)
}

// Events receives remote room activity from a Connector.
type Events interface {
	ParticipantJoined(identity, name string)
	ParticipantLeft(identity string)
	TrackPublished(identity string, track RemoteTrack)
	TrackSubscribed(identity string, track RemoteTrack)
	TrackUnsubscribed(identity, sid string)
	TrackUnpublished(identity, sid string)
	Disconnected(reason error)
}

// TrackSink plays subscribed remote audio. Attach is only ever called for
// tracks whose subscription has completed.
type TrackSink interface {
	Attach(identity string, track RemoteTrack) error
	Detach(identity, sid string)
}

// Participant is a snapshot of a remote participant.
type Participant struct {
	Identity string
	Name     string
	Tracks   []TrackInfo
}

// TrackInfo is a snapshot of one remote track.
type TrackInfo struct {
	SID        string
	Kind       TrackKind
	Subscribed bool
	Attached   bool
}

// LocalParticipant is the calling user in the room.
type LocalParticipant struct {
	Identity string
	Name     string
	Muted    bool
}

type noopSink struct{}

func (noopSink) Attach(string, RemoteTrack) error { return nil }
func (noopSink) Detach(string, string)            {}
