package channel

import (
	"github.com/vango-go/vai-call/pkg/core"
	"github.com/vango-go/vai-call/pkg/core/types"
)

// Notification is emitted by Client.Notifications() after each state change.
type Notification interface {
	notificationType() string
}

// SessionStarted reports the server's conversation_started acknowledgement.
type SessionStarted struct {
	SessionID string
	Agent     types.AgentProfile
}

func (SessionStarted) notificationType() string { return "session_started" }

// AgentChanged reports a new or replaced agent profile.
type AgentChanged struct {
	Agent types.AgentProfile
}

func (AgentChanged) notificationType() string { return "agent_changed" }

// MessageAppended reports a message added to the timeline.
type MessageAppended struct {
	Message types.Message
}

func (MessageAppended) notificationType() string { return "message_appended" }

type TypingChanged struct {
	Active bool
}

func (TypingChanged) notificationType() string { return "typing_changed" }

// ServerErrorReceived carries an error event. The session stays usable.
// Starting is set when the error ended a pending start_conversation; the
// client is back in the connected state and may start again.
type ServerErrorReceived struct {
	Err      *core.Error
	Starting bool
}

func (ServerErrorReceived) notificationType() string { return "server_error" }

// ConnectionLost reports an unexpected transport disconnect. A new Connect and
// StartConversation are required before sending again.
type ConnectionLost struct {
	Err *core.Error
}

func (ConnectionLost) notificationType() string { return "connection_lost" }

// TurnAbandoned reports a user message whose reply will never arrive.
type TurnAbandoned struct {
	MessageID string
}

func (TurnAbandoned) notificationType() string { return "turn_abandoned" }
