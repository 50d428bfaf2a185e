package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/vango-go/vai-call/pkg/call/room"
	"github.com/vango-go/vai-call/pkg/core"
)

// roomSession is the part of *room.Session the live REPL drives.
type roomSession interface {
	CreateAndJoin(ctx context.Context, roomName, participantName, participantIdentity string) error
	JoinTestRoom(ctx context.Context, participantName, participantIdentity string) error
	OnStateChange(fn func(room.ConnectionState))
	State() room.ConnectionState
	RoomName() string
	Local() room.LocalParticipant
	Participants() []room.Participant
	ToggleMute() (bool, error)
	Leave()
}

type liveTarget struct {
	room     string
	test     bool
	name     string
	identity string
}

const liveHelp = "commands: /mute  /who  /leave  /join  /quit"

func joinRoom(ctx context.Context, sess roomSession, target liveTarget) error {
	if target.test {
		return sess.JoinTestRoom(ctx, target.name, target.identity)
	}
	return sess.CreateAndJoin(ctx, target.room, target.name, target.identity)
}

func runRoomREPL(ctx context.Context, sess roomSession, target liveTarget, in io.Reader, out io.Writer) error {
	w := &lockedWriter{w: out}
	sess.OnStateChange(func(state room.ConnectionState) {
		w.printf("[%s]\n", state)
	})

	if err := joinRoom(ctx, sess, target); err != nil {
		return err
	}
	w.printf("in room %s as %s\n%s\n", sess.RoomName(), target.name, liveHelp)

	lines := readLines(in)

	for {
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch line {
		case "":
		case "/quit", "/exit":
			sess.Leave()
			w.printf("bye\n")
			return nil
		case "/leave":
			sess.Leave()
		case "/join":
			if err := joinRoom(ctx, sess, target); err != nil && core.IsUserVisible(err) {
				w.printf("join: %v\n", err)
			}
		case "/mute":
			muted, err := sess.ToggleMute()
			if err != nil {
				w.printf("mute: %v\n", err)
				continue
			}
			if muted {
				w.printf("microphone muted\n")
			} else {
				w.printf("microphone live\n")
			}
		case "/who":
			w.printf("%s", describeRoom(sess))
		default:
			w.printf("%s\n", liveHelp)
		}
	}
}

func describeRoom(sess roomSession) string {
	var b strings.Builder
	if sess.State() != room.Connected {
		fmt.Fprintf(&b, "not in a room (%s)\n", sess.State())
		return b.String()
	}
	local := sess.Local()
	mic := "live"
	if local.Muted {
		mic = "muted"
	}
	fmt.Fprintf(&b, "room %s\n  you: %s (%s) mic %s\n", sess.RoomName(), local.Name, local.Identity, mic)
	participants := sess.Participants()
	if len(participants) == 0 {
		b.WriteString("  nobody else is here\n")
	}
	for _, p := range participants {
		name := p.Name
		if name == "" {
			name = p.Identity
		}
		audio := 0
		for _, t := range p.Tracks {
			if t.Kind == room.TrackAudio && t.Attached {
				audio++
			}
		}
		fmt.Fprintf(&b, "  %s: %d track(s), %d audio playing\n", name, len(p.Tracks), audio)
	}
	return b.String()
}
