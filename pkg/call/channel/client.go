// Package channel implements the message-channel client for a simulated call:
// connect, start a conversation, exchange turns, and track the session state.
//
// One loop goroutine owns every piece of session state. Public methods and
// inbound frames are serialized through it, so inbound events are applied in
// delivery order and never race with a concurrent send.
package channel

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vango-go/vai-call/pkg/call/metrics"
	"github.com/vango-go/vai-call/pkg/call/protocol"
	"github.com/vango-go/vai-call/pkg/call/timeline"
	"github.com/vango-go/vai-call/pkg/core"
	"github.com/vango-go/vai-call/pkg/core/types"
)

// State is the message-channel session state.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateSessionPending
	StateActive
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateSessionPending:
		return "session_pending"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// Status is a point-in-time view of the session.
type Status struct {
	State     State
	SessionID string
	Agent     types.AgentProfile
	Typing    bool
	// Awaiting is the id of the user message still waiting for a reply.
	Awaiting string
}

// AssistantHandler receives assistant messages that carry audio. It runs on
// the client's loop goroutine and must not call back into the Client.
type AssistantHandler func(types.Message)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records channel activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithIDGenerator overrides how message ids are minted for user turns and for
// assistant turns the server did not assign an id to.
func WithIDGenerator(fn func() string) Option {
	return func(c *Client) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithAssistantHandler registers the hook fired for assistant audio.
func WithAssistantHandler(fn AssistantHandler) Option {
	return func(c *Client) {
		c.onAssistant = fn
	}
}

// WithTimeline lets the caller share a timeline with other readers.
func WithTimeline(tl *timeline.Timeline) Option {
	return func(c *Client) {
		if tl != nil {
			c.timeline = tl
		}
	}
}

var errClientClosed = core.NewInvalidStateError("message channel client is closed")

// Client is a message-channel session. Create with New and release with Close.
type Client struct {
	dialer      Dialer
	userID      string
	logger      *slog.Logger
	metrics     *metrics.Metrics
	newID       func() string
	now         func() time.Time
	onAssistant AssistantHandler
	timeline    *timeline.Timeline

	ops           chan func()
	notifications chan Notification
	stop          chan struct{}
	done          chan struct{}
	closeOnce     sync.Once

	// Owned by the loop goroutine.
	state      State
	dialing    bool
	conn       Conn
	epoch      uint64
	sessionID  string
	agent      types.AgentProfile
	typing     bool
	awaitingID string
	sentAt     time.Time
}

// New starts a client for userID that dials through dialer.
func New(dialer Dialer, userID string, opts ...Option) *Client {
	c := &Client{
		dialer:        dialer,
		userID:        strings.TrimSpace(userID),
		logger:        slog.Default(),
		newID:         types.NewMessageID,
		now:           time.Now,
		timeline:      timeline.New(),
		ops:           make(chan func(), 64),
		notifications: make(chan Notification, 256),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		agent:         types.DefaultAgent(),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.loop()
	return c
}

func (c *Client) loop() {
	defer close(c.done)
	defer close(c.notifications)
	for {
		select {
		case op := <-c.ops:
			op()
		case <-c.stop:
			c.teardown(false)
			return
		}
	}
}

// do runs fn on the loop and waits for it. It returns false once the client
// is closed.
func (c *Client) do(fn func()) bool {
	finished := make(chan struct{})
	select {
	case c.ops <- func() { defer close(finished); fn() }:
	case <-c.done:
		return false
	}
	select {
	case <-finished:
		return true
	case <-c.done:
		return false
	}
}

// post queues fn without waiting.
func (c *Client) post(fn func()) {
	select {
	case c.ops <- fn:
	case <-c.done:
	}
}

// Notifications yields session notifications. The channel is closed by Close.
// Delivery is best effort: a consumer that stops reading misses events.
func (c *Client) Notifications() <-chan Notification {
	return c.notifications
}

// Timeline returns the session's conversation timeline. It is safe to read
// from any goroutine.
func (c *Client) Timeline() *timeline.Timeline {
	return c.timeline
}

// Status returns the current session status.
func (c *Client) Status() Status {
	var st Status
	if !c.do(func() {
		st = Status{
			State:     c.state,
			SessionID: c.sessionID,
			Agent:     c.agent,
			Typing:    c.typing,
			Awaiting:  c.awaitingID,
		}
	}) {
		return Status{State: StateDisconnected, Agent: types.DefaultAgent()}
	}
	return st
}

// Connect opens the transport. It is a no-op when already connected or while
// another Connect is dialing.
func (c *Client) Connect(ctx context.Context) error {
	if c.dialer == nil {
		return core.NewInvalidRequestError("dialer must not be nil")
	}
	var skip bool
	if !c.do(func() {
		if c.state != StateDisconnected || c.dialing {
			skip = true
			return
		}
		c.dialing = true
	}) {
		return errClientClosed
	}
	if skip {
		return nil
	}

	conn, err := c.dialer.Dial(ctx)

	var epoch uint64
	installed := c.do(func() {
		c.dialing = false
		if err != nil {
			return
		}
		c.epoch++
		epoch = c.epoch
		c.conn = conn
		c.state = StateConnected
	})
	if err != nil {
		c.logger.Warn("message channel connect failed", "error", err)
		var coreErr *core.Error
		if errors.As(err, &coreErr) {
			return err
		}
		return core.NewTransportError("connect", "", err)
	}
	if !installed {
		_ = conn.Close()
		return errClientClosed
	}

	c.logger.Debug("message channel connected")
	go c.readLoop(conn, epoch)
	return nil
}

// StartConversation sends start_conversation from the connected state. It is
// a no-op when a session is already pending or active.
func (c *Client) StartConversation(ctx context.Context) error {
	var err error
	if !c.do(func() {
		switch c.state {
		case StateDisconnected:
			err = core.NewInvalidStateError("cannot start a conversation while disconnected")
			return
		case StateSessionPending, StateActive:
			return
		}
		frame, encErr := protocol.Encode(protocol.EventStartConversation, protocol.StartConversation{
			UserID:          c.userID,
			IsCallSimulator: true,
		})
		if encErr != nil {
			err = encErr
			return
		}
		if writeErr := c.conn.WriteMessage(ctx, frame); writeErr != nil {
			err = core.NewTransportError("send start_conversation", "", writeErr)
			return
		}
		c.state = StateSessionPending
	}) {
		return errClientClosed
	}
	return err
}

// SendUserMessage appends a user message to the timeline and sends it. It is
// only accepted in the active state; otherwise nothing is sent. The message
// is not resent if the transport drops before a reply.
func (c *Client) SendUserMessage(ctx context.Context, text string) (types.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return types.Message{}, core.NewInvalidRequestError("message must not be empty")
	}

	var (
		msg types.Message
		err error
	)
	if !c.do(func() {
		if c.state != StateActive {
			err = core.NewInvalidStateError("cannot send a message before the conversation is active (state: " + c.state.String() + ")")
			return
		}
		frame, encErr := protocol.Encode(protocol.EventUserMessage, protocol.UserMessage{
			ConversationID:  c.sessionID,
			Message:         text,
			IsCallSimulator: true,
		})
		if encErr != nil {
			err = encErr
			return
		}

		msg = types.Message{ID: c.newID(), Role: types.RoleUser, Content: text, Timestamp: c.now()}
		if !c.timeline.Append(msg) {
			err = core.NewInvalidStateError("generated message id already exists")
			return
		}
		c.awaitingID = msg.ID
		c.sentAt = c.now()
		c.emit(MessageAppended{Message: msg})

		if writeErr := c.conn.WriteMessage(ctx, frame); writeErr != nil {
			c.abandonTurn()
			err = core.NewTransportError("send user_message", "", writeErr)
			return
		}
		c.metrics.RecordMessageSent()
	}) {
		return types.Message{}, errClientClosed
	}
	return msg, err
}

// Disconnect closes the transport and discards the session and its timeline.
// A reply still outstanding is reported as abandoned.
func (c *Client) Disconnect() {
	c.do(func() { c.teardown(true) })
}

// Close disconnects and stops the client. Notifications is closed afterwards.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.stop)
	})
	<-c.done
	return nil
}

func (c *Client) teardown(resetTimeline bool) {
	c.epoch++
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.state = StateDisconnected
	c.sessionID = ""
	c.setTyping(false)
	c.abandonTurn()
	if resetTimeline {
		c.timeline.Reset()
		c.agent = types.DefaultAgent()
	}
}

func (c *Client) readLoop(conn Conn, epoch uint64) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.post(func() { c.handleLoss(epoch, err) })
			return
		}
		c.post(func() { c.handleFrame(epoch, data) })
	}
}

func (c *Client) handleLoss(epoch uint64, err error) {
	if epoch != c.epoch || c.conn == nil {
		return
	}
	_ = c.conn.Close()
	c.conn = nil
	c.state = StateDisconnected
	c.sessionID = ""
	c.setTyping(false)
	c.abandonTurn()

	if isNormalClose(err) {
		c.logger.Info("message channel closed by server")
	} else {
		c.logger.Warn("message channel connection lost", "error", err)
	}
	c.metrics.RecordConnectionLoss()
	c.emit(ConnectionLost{Err: core.NewTransportError("read", "", err)})
}

func (c *Client) handleFrame(epoch uint64, data []byte) {
	if epoch != c.epoch || c.conn == nil {
		return
	}
	event, err := protocol.DecodeServerEvent(data)
	if err != nil {
		c.logger.Warn("dropping malformed frame", "error", err)
		return
	}

	switch ev := event.(type) {
	case protocol.ConversationStarted:
		c.handleConversationStarted(ev)
	case protocol.Typing:
		c.setTyping(ev.Active)
	case protocol.AIResponse:
		c.handleAIResponse(ev)
	case protocol.ServerError:
		c.handleServerError(ev)
	default:
		c.logger.Debug("ignoring unknown event", "event", event.EventName())
	}
}

func (c *Client) handleConversationStarted(ev protocol.ConversationStarted) {
	c.sessionID = strings.TrimSpace(ev.ConversationID)
	c.state = StateActive
	if ev.DemoAgent != nil {
		c.agent = agentFromWire(ev.DemoAgent)
	}
	c.logger.Info("conversation started", "session_id", c.sessionID, "agent", c.agent.DisplayName())
	c.emit(SessionStarted{SessionID: c.sessionID, Agent: c.agent})

	if ev.WelcomeMessage == nil {
		return
	}
	welcome := ev.WelcomeMessage
	c.appendAssistant(welcome.ID, welcome.Content, welcome.AudioURL)
}

func (c *Client) handleAIResponse(ev protocol.AIResponse) {
	if c.state != StateActive {
		c.logger.Warn("dropping ai_response outside an active session", "state", c.state.String())
		return
	}
	c.setTyping(false)
	if c.awaitingID != "" {
		c.metrics.RecordResponseLatency(c.now().Sub(c.sentAt))
		c.awaitingID = ""
	}
	if ev.DemoAgent != nil {
		if agent := agentFromWire(ev.DemoAgent); agent != c.agent {
			c.agent = agent
			c.emit(AgentChanged{Agent: agent})
		}
	}
	c.appendAssistant(ev.ID, ev.Message, ev.AudioURL)
}

func (c *Client) appendAssistant(id, content, audioURL string) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = c.newID()
	}
	msg := types.Message{
		ID:        id,
		Role:      types.RoleAssistant,
		Content:   content,
		Timestamp: c.now(),
		Audio:     types.AudioFromURL(audioURL),
	}
	if !c.timeline.Append(msg) {
		c.logger.Debug("dropping duplicate assistant message", "id", id)
		c.metrics.RecordDuplicate()
		return
	}
	c.metrics.RecordMessageReceived(string(types.RoleAssistant))
	c.emit(MessageAppended{Message: msg})
	if msg.HasAudio() && c.onAssistant != nil {
		c.onAssistant(msg.Clone())
	}
}

func (c *Client) handleServerError(ev protocol.ServerError) {
	c.setTyping(false)
	c.awaitingID = ""
	c.metrics.RecordServerError()
	err := core.NewServerError(strings.TrimSpace(ev.Message), strings.TrimSpace(ev.Code))
	starting := c.state == StateSessionPending
	if starting {
		c.state = StateConnected
	}
	c.logger.Warn("server reported an error", "error", err, "starting", starting)
	c.emit(ServerErrorReceived{Err: err, Starting: starting})
}

func (c *Client) setTyping(active bool) {
	if c.typing == active {
		return
	}
	c.typing = active
	c.emit(TypingChanged{Active: active})
}

func (c *Client) abandonTurn() {
	if c.awaitingID == "" {
		return
	}
	id := c.awaitingID
	c.awaitingID = ""
	c.metrics.RecordTurnAbandoned()
	c.emit(TurnAbandoned{MessageID: id})
}

func (c *Client) emit(n Notification) {
	select {
	case c.notifications <- n:
	default:
		// Never block the loop on a slow consumer.
	}
}

func agentFromWire(a *protocol.DemoAgent) types.AgentProfile {
	return types.NewAgentProfile(a.Name, a.Company, a.Personality)
}
