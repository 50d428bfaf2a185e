// Package livekit connects room sessions to a LiveKit media server.
package livekit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"github.com/vango-go/vai-call/pkg/call/capture"
	"github.com/vango-go/vai-call/pkg/call/room"
	"github.com/vango-go/vai-call/pkg/core"
	"github.com/vango-go/vai-call/pkg/core/types"
)

// Connector opens LiveKit rooms with auto-subscribe disabled so the session
// decides which tracks to subscribe.
type Connector struct {
	logger *slog.Logger
	mic    capture.MicrophoneSource
}

// ConnectorOption configures a Connector.
type ConnectorOption func(*Connector)

// WithMicrophone publishes src as the local audio track of every room. src
// must deliver MicrophoneFormat.
func WithMicrophone(src capture.MicrophoneSource) ConnectorOption {
	return func(c *Connector) {
		c.mic = src
	}
}

func NewConnector(logger *slog.Logger, opts ...ConnectorOption) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Connector{logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Connector) Connect(ctx context.Context, grant types.JoinGrant, events room.Events) (room.MediaConnection, error) {
	if strings.TrimSpace(grant.URL) == "" || strings.TrimSpace(grant.Token) == "" {
		return nil, core.NewInvalidRequestError("join grant is missing the url or token")
	}

	type result struct {
		room *lksdk.Room
		err  error
	}
	done := make(chan result, 1)
	go func() {
		r, err := lksdk.ConnectToRoomWithToken(grant.URL, grant.Token, callbacks(events), lksdk.WithAutoSubscribe(false))
		done <- result{room: r, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, core.NewTransportError("connect", grant.URL, res.err)
		}
		conn := &connection{room: res.room, logger: c.logger}
		conn.announceExisting(events)
		if c.mic != nil {
			if err := conn.publishMicrophone(ctx, c.mic); err != nil {
				c.logger.Warn("joined without a microphone", "error", err)
			}
		}
		return conn, nil
	case <-ctx.Done():
		// Close the room if the handshake finishes after the caller gave up.
		go func() {
			if res := <-done; res.err == nil {
				res.room.Disconnect()
			}
		}()
		return nil, ctx.Err()
	}
}

func callbacks(events room.Events) *lksdk.RoomCallback {
	return &lksdk.RoomCallback{
		OnParticipantConnected: func(rp *lksdk.RemoteParticipant) {
			events.ParticipantJoined(rp.Identity(), rp.Name())
		},
		OnParticipantDisconnected: func(rp *lksdk.RemoteParticipant) {
			events.ParticipantLeft(rp.Identity())
		},
		OnDisconnectedWithReason: func(reason lksdk.DisconnectionReason) {
			events.Disconnected(fmt.Errorf("disconnected: %v", reason))
		},
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackPublished: func(pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				events.TrackPublished(rp.Identity(), &remoteTrack{pub: pub})
			},
			OnTrackUnpublished: func(pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				events.TrackUnpublished(rp.Identity(), pub.SID())
			},
			OnTrackSubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				events.TrackSubscribed(rp.Identity(), &remoteTrack{pub: pub, remote: track})
			},
			OnTrackUnsubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				events.TrackUnsubscribed(rp.Identity(), pub.SID())
			},
		},
	}
}

type connection struct {
	room   *lksdk.Room
	logger *slog.Logger

	mu        sync.Mutex
	mic       *micPublisher
	micPub    *lksdk.LocalTrackPublication
	micStream capture.MicrophoneStream
}

// announceExisting reports participants and tracks that were already in the
// room before this connection joined.
func (c *connection) announceExisting(events room.Events) {
	for _, rp := range c.room.GetRemoteParticipants() {
		events.ParticipantJoined(rp.Identity(), rp.Name())
		for _, pub := range rp.TrackPublications() {
			if remote, ok := pub.(*lksdk.RemoteTrackPublication); ok {
				events.TrackPublished(rp.Identity(), &remoteTrack{pub: remote})
			}
		}
	}
}

// SetMicrophoneEnabled mutes or unmutes the published microphone. While
// muted no audio leaves the device.
func (c *connection) SetMicrophoneEnabled(ctx context.Context, enabled bool) error {
	c.mu.Lock()
	mic, pub := c.mic, c.micPub
	c.mu.Unlock()
	if mic == nil {
		return errNoLocalAudio
	}
	mic.setMuted(!enabled)
	pub.SetMuted(!enabled)
	return nil
}

var errNoLocalAudio = errors.New("no local audio track is published")

// Disconnect releases the microphone before leaving the room.
func (c *connection) Disconnect() {
	c.mu.Lock()
	stream := c.micStream
	c.micStream = nil
	c.mu.Unlock()
	if stream != nil {
		if err := stream.Close(); err != nil {
			c.logger.Debug("microphone close failed", "error", err)
		}
	}
	c.room.Disconnect()
}

// remoteTrack adapts a LiveKit publication. remote is set once subscribed.
type remoteTrack struct {
	pub    *lksdk.RemoteTrackPublication
	remote *webrtc.TrackRemote
}

func (t *remoteTrack) SID() string {
	return t.pub.SID()
}

func (t *remoteTrack) Kind() room.TrackKind {
	if t.pub.Kind() == lksdk.TrackKindAudio {
		return room.TrackAudio
	}
	return room.TrackVideo
}

func (t *remoteTrack) SetSubscribed(subscribed bool) error {
	return t.pub.SetSubscribed(subscribed)
}

// Remote returns the underlying media track, or nil before subscription.
func (t *remoteTrack) Remote() *webrtc.TrackRemote {
	if t.remote != nil {
		return t.remote
	}
	return t.pub.TrackRemote()
}
