package vai

import (
	"context"
	"sync"

	"github.com/vango-go/vai-call/pkg/call/branding"
	"github.com/vango-go/vai-call/pkg/call/capture"
	"github.com/vango-go/vai-call/pkg/call/channel"
	"github.com/vango-go/vai-call/pkg/call/playback"
	"github.com/vango-go/vai-call/pkg/core"
	"github.com/vango-go/vai-call/pkg/core/types"
)

const simulatorEventBuffer = 256

// Event is delivered on Simulator.Events.
type Event interface {
	simulatorEventType() string
}

// ChannelEvent wraps a message channel notification (channel.SessionStarted,
// channel.MessageAppended, channel.ConnectionLost, ...).
type ChannelEvent struct {
	Notification channel.Notification
}

func (ChannelEvent) simulatorEventType() string { return "channel" }

// SpeakingChanged reports the agent starting or stopping speaking.
type SpeakingChanged struct {
	Speaking bool
}

func (SpeakingChanged) simulatorEventType() string { return "speaking_changed" }

// TranscriptChanged carries the live transcript while recording.
type TranscriptChanged struct {
	Text string
}

func (TranscriptChanged) simulatorEventType() string { return "transcript_changed" }

// Simulator is one simulated call: it owns the message channel, the
// microphone capture and agent audio playback for the session, and releases
// all of them on Close.
type Simulator struct {
	client   *Client
	channel  *channel.Client
	capture  *capture.Unit
	playback *playback.Coordinator
	cleanup  teardown

	events chan Event
	done   chan struct{}

	mu      sync.Mutex
	closed  bool
	waiters map[chan error]struct{}

	closeOnce sync.Once
	closeErr  error
}

// StopResult describes a finished recorded turn.
type StopResult struct {
	Recording capture.Recording
	// Message is the user message sent with the transcript, if any.
	Message types.Message
	Sent    bool
	// UploadErr is set when the audio could not be attached to the
	// conversation. The transcript is still sent.
	UploadErr error
}

// NewSimulator creates a simulator for a new conversation. Call Start to
// connect and open the session.
func (c *Client) NewSimulator() *Simulator {
	s := &Simulator{
		client:  c,
		events:  make(chan Event, simulatorEventBuffer),
		done:    make(chan struct{}),
		waiters: make(map[chan error]struct{}),
	}

	s.playback = playback.New(c.speaker, c.baseURL,
		playback.WithLogger(c.logger),
		playback.WithMetrics(c.metrics),
	)
	s.playback.OnSpeakingChange(func(v bool) { s.emit(SpeakingChanged{Speaking: v}) })

	s.channel = channel.New(c.dialer, c.userID,
		channel.WithLogger(c.logger),
		channel.WithMetrics(c.metrics),
		channel.WithAssistantHandler(s.playback.OnAssistantMessage),
	)

	captureOpts := []capture.Option{
		capture.WithFormat(c.captureFormat),
		capture.WithLogger(c.logger),
		capture.WithMetrics(c.metrics),
		capture.WithTranscriptListener(func(text string) { s.emit(TranscriptChanged{Text: text}) }),
	}
	if c.recognizer != nil {
		captureOpts = append(captureOpts, capture.WithRecognizer(c.recognizer))
	}
	s.capture = capture.New(c.mic, captureOpts...)

	// Released newest first: capture, then playback, then the channel.
	s.cleanup.add("message channel", s.channel.Close)
	s.cleanup.add("playback", s.playback.Close)
	s.cleanup.add("capture", s.capture.Close)

	go s.pump()
	return s
}

// Events returns the simulator's event stream. It is closed by Close.
func (s *Simulator) Events() <-chan Event {
	return s.events
}

func (s *Simulator) pump() {
	defer close(s.done)
	for n := range s.channel.Notifications() {
		switch ev := n.(type) {
		case channel.SessionStarted:
			s.resolveWaiters(nil)
		case channel.ServerErrorReceived:
			if ev.Starting {
				s.resolveWaiters(ev.Err)
			}
		case channel.ConnectionLost:
			s.resolveWaiters(ev.Err)
		}
		s.emit(ChannelEvent{Notification: n})
	}
	s.mu.Lock()
	s.closed = true
	close(s.events)
	s.mu.Unlock()
}

func (s *Simulator) emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		s.client.logger.Warn("simulator event dropped", "event", ev.simulatorEventType())
	}
}

func (s *Simulator) resolveWaiters(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for w := range s.waiters {
		w <- err
		delete(s.waiters, w)
	}
}

// Start connects the message channel and opens the conversation, returning
// once the server has acknowledged it. Starting an active session is a no-op.
func (s *Simulator) Start(ctx context.Context) error {
	if err := s.channel.Connect(ctx); err != nil {
		return err
	}
	if s.channel.Status().State == channel.StateActive {
		return nil
	}

	wait := make(chan error, 1)
	s.mu.Lock()
	s.waiters[wait] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.waiters, wait)
		s.mu.Unlock()
	}()

	if err := s.channel.StartConversation(ctx); err != nil {
		return err
	}
	if s.channel.Status().State == channel.StateActive {
		return nil
	}
	select {
	case err := <-wait:
		return err
	case <-s.done:
		return core.NewInvalidStateError("simulator is closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send sends a typed user message.
func (s *Simulator) Send(ctx context.Context, text string) (types.Message, error) {
	return s.channel.SendUserMessage(ctx, text)
}

// StartRecording starts capturing a spoken turn.
func (s *Simulator) StartRecording(ctx context.Context) error {
	return s.capture.Start(ctx)
}

// StopRecording finishes the spoken turn. The recording is attached to the
// conversation and its transcript is sent as the user message. A failed
// upload does not prevent sending the transcript. Stopping when nothing is
// recording returns a zero StopResult.
func (s *Simulator) StopRecording(ctx context.Context) (StopResult, error) {
	rec, ok := s.capture.Stop()
	if !ok {
		return StopResult{}, nil
	}
	res := StopResult{Recording: rec}

	status := s.channel.Status()
	if status.SessionID != "" && rec.Chunks > 0 {
		if err := s.client.API.UploadAudio(ctx, status.SessionID, rec.Audio, rec.MIMEType, rec.Transcript); err != nil {
			res.UploadErr = err
			s.client.logger.Warn("recording upload failed, sending transcript only", "conversation_id", status.SessionID, "error", err)
		}
	}
	if rec.Transcript == "" {
		return res, nil
	}

	msg, err := s.channel.SendUserMessage(ctx, rec.Transcript)
	if err != nil {
		return res, err
	}
	res.Message = msg
	res.Sent = true
	return res, nil
}

// CanSend reports whether a new turn may be sent: the session is active, no
// reply is pending and nothing is recording.
func (s *Simulator) CanSend() bool {
	st := s.channel.Status()
	return st.State == channel.StateActive && st.Awaiting == "" && !s.capture.State().IsRecording
}

func (s *Simulator) Status() channel.Status {
	return s.channel.Status()
}

func (s *Simulator) Recording() capture.RecordingState {
	return s.capture.State()
}

// Messages returns the timeline without system entries.
func (s *Simulator) Messages() []types.Message {
	return s.channel.Timeline().Visible()
}

// Header returns the call header for the current agent.
func (s *Simulator) Header() string {
	return s.client.branding.Header(s.channel.Status().Agent)
}

// Brand returns the branding for the current agent's company.
func (s *Simulator) Brand() branding.Brand {
	return s.client.branding.ForAgent(s.channel.Status().Agent)
}

// Play plays the audio attached to an assistant message.
func (s *Simulator) Play(messageID string) error {
	return s.playback.Play(messageID)
}

func (s *Simulator) Pause(messageID string) {
	s.playback.Pause(messageID)
}

// Speaking reports whether an agent clip is playing.
func (s *Simulator) Speaking() bool {
	return s.playback.Speaking()
}

// SpeakingMessage returns the id of the playing or loading clip.
func (s *Simulator) SpeakingMessage() string {
	return s.playback.Current()
}

// Disconnect ends the session and discards its timeline. The simulator can
// be started again.
func (s *Simulator) Disconnect() {
	s.capture.Stop()
	s.channel.Disconnect()
}

// Close releases the microphone, playback and the message channel. It is
// safe to call more than once.
func (s *Simulator) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.cleanup.closeAll()
		<-s.done
	})
	return s.closeErr
}
