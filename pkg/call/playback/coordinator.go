// Package playback coordinates agent audio clips so at most one plays at a
// time, and derives the "agent is speaking" flag from the clip lifecycle.
package playback

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/vango-go/vai-call/pkg/call/metrics"
	"github.com/vango-go/vai-call/pkg/core"
	"github.com/vango-go/vai-call/pkg/core/types"
)

// ClipEvent is a lifecycle transition reported by a Sink.
type ClipEvent int

const (
	ClipStarted ClipEvent = iota
	ClipEnded
	ClipPaused
	ClipFailed
)

func (e ClipEvent) String() string {
	switch e {
	case ClipStarted:
		return "started"
	case ClipEnded:
		return "ended"
	case ClipPaused:
		return "paused"
	case ClipFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Sink plays audio clips. For every accepted Play the sink reports
// ClipStarted at most once followed by exactly one of ClipEnded, ClipPaused
// or ClipFailed. report may be called from any goroutine.
type Sink interface {
	Play(clipID, url string, report func(ClipEvent, error)) error
	Pause(clipID string)
	Close() error
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// Coordinator owns the single agent-audio slot.
type Coordinator struct {
	sink    Sink
	baseURL string
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	clips     map[string]string
	current   string
	gen       uint64
	speaking  bool
	closed    bool
	listeners []func(bool)
}

// New returns a coordinator that resolves relative audio paths against baseURL.
func New(sink Sink, baseURL string, opts ...Option) *Coordinator {
	c := &Coordinator{
		sink:    sink,
		baseURL: strings.TrimSpace(baseURL),
		logger:  slog.Default(),
		clips:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnSpeakingChange registers fn to observe every flip of the speaking flag.
func (c *Coordinator) OnSpeakingChange(fn func(bool)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Speaking reports whether an agent clip is audibly playing.
func (c *Coordinator) Speaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speaking
}

// Current returns the message id of the clip holding the slot, if any.
func (c *Coordinator) Current() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Attach associates msg's audio with msg's id so it can be played later.
func (c *Coordinator) Attach(msg types.Message) (string, error) {
	if !msg.HasAudio() {
		return "", core.NewInvalidRequestError("message has no audio")
	}
	resolved, err := ResolveAudio(c.baseURL, msg.Audio)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.clips[msg.ID] = resolved
	c.mu.Unlock()
	return resolved, nil
}

// OnAssistantMessage attaches the message's clip and starts it when no other
// agent clip holds the slot. A clip already playing is never interrupted.
func (c *Coordinator) OnAssistantMessage(msg types.Message) {
	if _, err := c.Attach(msg); err != nil {
		c.logger.Warn("cannot attach agent audio", "message_id", msg.ID, "error", err)
		return
	}
	c.mu.Lock()
	busy := c.current != ""
	c.mu.Unlock()
	if busy {
		c.logger.Debug("agent audio already playing, clip left for manual playback", "message_id", msg.ID)
		return
	}
	if err := c.Play(msg.ID); err != nil {
		c.logger.Warn("agent audio playback failed", "message_id", msg.ID, "error", err)
	}
}

// Play starts the clip attached to messageID. Any other clip holding the slot
// is paused first.
func (c *Coordinator) Play(messageID string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return core.NewInvalidStateError("playback coordinator is closed")
	}
	url, ok := c.clips[messageID]
	if !ok {
		c.mu.Unlock()
		return core.NewInvalidRequestError(fmt.Sprintf("no audio attached to message %q", messageID))
	}
	previous := c.current
	c.gen++
	gen := c.gen
	c.current = messageID
	changed := c.setSpeakingLocked(false)
	c.mu.Unlock()
	c.notify(changed, false)

	if previous != "" {
		c.sink.Pause(previous)
	}

	err := c.sink.Play(messageID, url, func(ev ClipEvent, err error) {
		c.report(gen, messageID, ev, err)
	})
	if err != nil {
		c.report(gen, messageID, ClipFailed, err)
		return err
	}
	return nil
}

// Pause pauses messageID if it holds the slot.
func (c *Coordinator) Pause(messageID string) {
	c.mu.Lock()
	holds := c.current == messageID && messageID != ""
	c.mu.Unlock()
	if holds {
		c.sink.Pause(messageID)
	}
}

// Close stops the current clip and releases the sink.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	current := c.current
	c.current = ""
	c.gen++
	changed := c.setSpeakingLocked(false)
	c.mu.Unlock()
	c.notify(changed, false)

	if current != "" {
		c.sink.Pause(current)
	}
	return c.sink.Close()
}

func (c *Coordinator) report(gen uint64, messageID string, ev ClipEvent, err error) {
	c.mu.Lock()
	if gen != c.gen || c.current != messageID {
		c.mu.Unlock()
		return
	}
	var (
		changed bool
		value   bool
	)
	switch ev {
	case ClipStarted:
		changed = c.setSpeakingLocked(true)
		value = true
	case ClipEnded, ClipPaused, ClipFailed:
		c.current = ""
		changed = c.setSpeakingLocked(false)
	}
	c.mu.Unlock()

	if ev != ClipStarted {
		c.metrics.RecordPlayback(ev.String())
	}
	if ev == ClipFailed {
		c.logger.Warn("agent audio clip failed", "message_id", messageID, "error", err)
	}
	c.notify(changed, value)
}

func (c *Coordinator) setSpeakingLocked(v bool) bool {
	if c.speaking == v {
		return false
	}
	c.speaking = v
	return true
}

func (c *Coordinator) notify(changed, value bool) {
	if !changed {
		return
	}
	c.mu.Lock()
	listeners := append(([]func(bool))(nil), c.listeners...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(value)
	}
}
