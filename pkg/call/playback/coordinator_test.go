package playback

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vango-go/vai-call/pkg/core"
	"github.com/vango-go/vai-call/pkg/core/types"
)

type playCall struct {
	clipID string
	url    string
	report func(ClipEvent, error)
}

type fakeSink struct {
	mu      sync.Mutex
	plays   []playCall
	pauses  []string
	playErr error
	closed  bool
}

func (s *fakeSink) Play(clipID, url string, report func(ClipEvent, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playErr != nil {
		return s.playErr
	}
	s.plays = append(s.plays, playCall{clipID: clipID, url: url, report: report})
	return nil
}

func (s *fakeSink) Pause(clipID string) {
	s.mu.Lock()
	s.pauses = append(s.pauses, clipID)
	var report func(ClipEvent, error)
	for i := len(s.plays) - 1; i >= 0; i-- {
		if s.plays[i].clipID == clipID {
			report = s.plays[i].report
			break
		}
	}
	s.mu.Unlock()
	if report != nil {
		report(ClipPaused, nil)
	}
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSink) last() playCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plays[len(s.plays)-1]
}

func (s *fakeSink) playCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.plays)
}

func audioMessage(id, path string) types.Message {
	return types.Message{
		ID:        id,
		Role:      types.RoleAssistant,
		Content:   "reply " + id,
		Timestamp: time.Unix(1, 0),
		Audio:     types.AudioFromURL(path),
	}
}

func TestCoordinator_AutoPlaysOnceAndResolvesURL(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	c := New(sink, "http://localhost:5001")
	c.OnAssistantMessage(audioMessage("m1", "/audio/1.mp3"))

	if got := sink.playCount(); got != 1 {
		t.Fatalf("plays=%d, want 1", got)
	}
	if got := sink.last().url; got != "http://localhost:5001/audio/1.mp3" {
		t.Fatalf("url=%q", got)
	}
	if c.Speaking() {
		t.Fatalf("speaking before the clip started")
	}
	sink.last().report(ClipStarted, nil)
	if !c.Speaking() {
		t.Fatalf("not speaking after start")
	}
	sink.last().report(ClipEnded, nil)
	if c.Speaking() || c.Current() != "" {
		t.Fatalf("speaking=%v current=%q after end", c.Speaking(), c.Current())
	}
}

func TestCoordinator_NewClipDoesNotInterrupt(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	c := New(sink, "http://api")
	c.OnAssistantMessage(audioMessage("m1", "/a/1.mp3"))
	sink.last().report(ClipStarted, nil)

	c.OnAssistantMessage(audioMessage("m2", "/a/2.mp3"))
	if got := sink.playCount(); got != 1 {
		t.Fatalf("plays=%d, want 1", got)
	}
	if len(sink.pauses) != 0 {
		t.Fatalf("current clip was paused: %v", sink.pauses)
	}
	if c.Current() != "m1" || !c.Speaking() {
		t.Fatalf("current=%q speaking=%v", c.Current(), c.Speaking())
	}

	// The second clip stays attached for manual playback.
	if err := c.Play("m2"); err != nil {
		t.Fatalf("Play(m2): %v", err)
	}
	if len(sink.pauses) != 1 || sink.pauses[0] != "m1" {
		t.Fatalf("pauses=%v", sink.pauses)
	}
	if c.Speaking() {
		t.Fatalf("speaking before m2 started")
	}
	sink.last().report(ClipStarted, nil)
	if !c.Speaking() || c.Current() != "m2" {
		t.Fatalf("current=%q speaking=%v", c.Current(), c.Speaking())
	}
}

func TestCoordinator_FlagDoesNotDrift(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	c := New(sink, "http://api")
	var flips []bool
	c.OnSpeakingChange(func(v bool) { flips = append(flips, v) })

	before := c.Speaking()
	terminals := []ClipEvent{ClipEnded, ClipPaused, ClipFailed}
	for i := 0; i < 30; i++ {
		msg := audioMessage(fmt.Sprintf("m%d", i), "/audio/x.mp3")
		if _, err := c.Attach(msg); err != nil {
			t.Fatalf("Attach: %v", err)
		}
		if err := c.Play(msg.ID); err != nil {
			t.Fatalf("Play: %v", err)
		}
		call := sink.last()
		call.report(ClipStarted, nil)
		if !c.Speaking() {
			t.Fatalf("cycle %d: not speaking after start", i)
		}
		var terminalErr error
		if terminals[i%3] == ClipFailed {
			terminalErr = errors.New("decode failed")
		}
		call.report(terminals[i%3], terminalErr)
		// Late duplicates from the sink are ignored.
		call.report(ClipStarted, nil)
	}
	if c.Speaking() != before {
		t.Fatalf("speaking=%v after cycles, want %v", c.Speaking(), before)
	}
	if len(flips) != 60 {
		t.Fatalf("flips=%d, want 60", len(flips))
	}
}

func TestCoordinator_SynchronousPlayErrorClearsSlot(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{playErr: errors.New("no output device")}
	c := New(sink, "http://api")
	c.OnAssistantMessage(audioMessage("m1", "/a/1.mp3"))
	if c.Speaking() || c.Current() != "" {
		t.Fatalf("speaking=%v current=%q", c.Speaking(), c.Current())
	}

	sink.mu.Lock()
	sink.playErr = nil
	sink.mu.Unlock()
	c.OnAssistantMessage(audioMessage("m2", "/a/2.mp3"))
	if sink.playCount() != 1 || c.Current() != "m2" {
		t.Fatalf("next clip did not auto-play")
	}
}

func TestCoordinator_StaleEventsIgnored(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	c := New(sink, "http://api")
	c.Attach(audioMessage("m1", "/a/1.mp3"))
	c.Attach(audioMessage("m2", "/a/2.mp3"))

	if err := c.Play("m1"); err != nil {
		t.Fatalf("Play(m1): %v", err)
	}
	first := sink.last()
	if err := c.Play("m2"); err != nil {
		t.Fatalf("Play(m2): %v", err)
	}
	sink.last().report(ClipStarted, nil)

	first.report(ClipStarted, nil)
	first.report(ClipEnded, nil)
	if !c.Speaking() || c.Current() != "m2" {
		t.Fatalf("stale clip events changed state: speaking=%v current=%q", c.Speaking(), c.Current())
	}
}

func TestCoordinator_PlayWithoutAudio(t *testing.T) {
	t.Parallel()

	c := New(&fakeSink{}, "http://api")
	if err := c.Play("missing"); !core.IsType(err, core.ErrInvalidRequest) {
		t.Fatalf("err=%v", err)
	}
	if _, err := c.Attach(types.Message{ID: "x", Role: types.RoleAssistant}); !core.IsType(err, core.ErrInvalidRequest) {
		t.Fatalf("attach err=%v", err)
	}
}

func TestCoordinator_CloseStopsCurrentClip(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	c := New(sink, "http://api")
	c.OnAssistantMessage(audioMessage("m1", "/a/1.mp3"))
	sink.last().report(ClipStarted, nil)

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if c.Speaking() || !sink.closed {
		t.Fatalf("speaking=%v sink closed=%v", c.Speaking(), sink.closed)
	}
	if err := c.Play("m1"); !core.IsType(err, core.ErrInvalidState) {
		t.Fatalf("Play after close err=%v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestResolveURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		base, ref, want string
	}{
		{"http://localhost:5001", "/audio/1.mp3", "http://localhost:5001/audio/1.mp3"},
		{"http://localhost:5001/", "audio/1.mp3", "http://localhost:5001/audio/1.mp3"},
		{"https://api.example.com/v1", "/audio/1.mp3?sig=abc", "https://api.example.com/v1/audio/1.mp3?sig=abc"},
		{"http://localhost:5001", "https://cdn.example.com/a.mp3", "https://cdn.example.com/a.mp3"},
		{"", "https://cdn.example.com/a.mp3", "https://cdn.example.com/a.mp3"},
		{"https://api.example.com", "//cdn.example.com/a.mp3", "https://cdn.example.com/a.mp3"},
		{"", "data:audio/mpeg;base64,AAAA", "data:audio/mpeg;base64,AAAA"},
	}
	for _, tc := range cases {
		got, err := ResolveURL(tc.base, tc.ref)
		if err != nil {
			t.Fatalf("ResolveURL(%q, %q) error: %v", tc.base, tc.ref, err)
		}
		if got != tc.want {
			t.Fatalf("ResolveURL(%q, %q)=%q, want %q", tc.base, tc.ref, got, tc.want)
		}
	}

	for _, bad := range [][2]string{{"", "/audio/1.mp3"}, {"http://api", ""}, {"http://api", "ftp://x/y.mp3"}, {"not a url", "/a.mp3"}} {
		if _, err := ResolveURL(bad[0], bad[1]); !core.IsType(err, core.ErrInvalidRequest) {
			t.Fatalf("ResolveURL(%q, %q) err=%v", bad[0], bad[1], err)
		}
	}
}

func TestResolveAudio_Inline(t *testing.T) {
	t.Parallel()

	got, err := ResolveAudio("", types.AudioFromBytes([]byte{0xff, 0xfb}, "audio/mpeg"))
	if err != nil {
		t.Fatalf("ResolveAudio: %v", err)
	}
	if got != "data:audio/mpeg;base64,//s=" {
		t.Fatalf("got %q", got)
	}
	data, err := DecodeDataURL(got)
	if err != nil || len(data) != 2 || data[0] != 0xff {
		t.Fatalf("DecodeDataURL=%v err=%v", data, err)
	}
	if _, err := DecodeDataURL("data:audio/mpeg;base64"); !core.IsType(err, core.ErrInvalidRequest) {
		t.Fatalf("missing payload err=%v", err)
	}
}
