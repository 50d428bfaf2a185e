package types

import "time"

// Conversation is the server's durable record of a session, as returned by the
// conversations REST endpoints. The client timeline is only a cache of it.
type Conversation struct {
	ID        string
	AgentID   string
	UserID    string
	Title     string
	Messages  []Message
	Sentiment string
	Duration  time.Duration
	CreatedAt time.Time
	UpdatedAt time.Time
}

// VisibleMessages returns the messages that are rendered (non-system).
func (c Conversation) VisibleMessages() []Message {
	out := make([]Message, 0, len(c.Messages))
	for _, m := range c.Messages {
		if m.Role == RoleSystem {
			continue
		}
		out = append(out, m)
	}
	return out
}
