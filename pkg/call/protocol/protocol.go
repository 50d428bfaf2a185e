// Package protocol defines the message-channel wire format spoken between the
// call simulator client and the conversation server.
//
// Every websocket text frame is one envelope:
//
//	{"event": "<name>", "data": <payload>}
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Outbound event names.
const (
	EventStartConversation = "start_conversation"
	EventUserMessage       = "user_message"
)

// Inbound event names.
const (
	EventConversationStarted = "conversation_started"
	EventTyping              = "typing"
	EventAIResponse          = "ai_response"
	EventError               = "error"
)

type DecodeError struct {
	Event   string
	Message string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Event) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Event)
}

func badFrame(event, message string) *DecodeError {
	return &DecodeError{Event: event, Message: message}
}

// Envelope is the outer frame shape.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type StartConversation struct {
	UserID          string `json:"userId"`
	IsCallSimulator bool   `json:"isCallSimulator"`
}

type UserMessage struct {
	ConversationID  string `json:"conversationId"`
	Message         string `json:"message"`
	IsCallSimulator bool   `json:"isCallSimulator"`
}

type DemoAgent struct {
	Name        string `json:"name"`
	Company     string `json:"company"`
	Personality string `json:"personality,omitempty"`
}

type WelcomeMessage struct {
	ID       string `json:"id,omitempty"`
	Content  string `json:"content"`
	AudioURL string `json:"audioUrl,omitempty"`
}

// ServerEvent is a decoded inbound event.
type ServerEvent interface {
	EventName() string
}

type ConversationStarted struct {
	ConversationID string          `json:"conversationId"`
	DemoAgent      *DemoAgent      `json:"demoAgent,omitempty"`
	WelcomeMessage *WelcomeMessage `json:"welcomeMessage,omitempty"`
}

func (ConversationStarted) EventName() string { return EventConversationStarted }

type Typing struct {
	Active bool
}

func (Typing) EventName() string { return EventTyping }

type AIResponse struct {
	// ID is optional; servers that assign ids let clients drop redelivered replies.
	ID        string     `json:"id,omitempty"`
	Message   string     `json:"message"`
	AudioURL  string     `json:"audioUrl,omitempty"`
	DemoAgent *DemoAgent `json:"demoAgent,omitempty"`
}

func (AIResponse) EventName() string { return EventAIResponse }

type ServerError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func (ServerError) EventName() string { return EventError }

// Unknown carries events this client does not understand.
type Unknown struct {
	Event string
	Raw   json.RawMessage
}

func (e Unknown) EventName() string { return e.Event }

// Encode wraps payload in an envelope for event.
func Encode(event string, payload any) ([]byte, error) {
	event = strings.TrimSpace(event)
	if event == "" {
		return nil, badFrame("", "event name must not be empty")
	}
	env := Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", event, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// DecodeServerEvent decodes one inbound frame.
func DecodeServerEvent(data []byte) (ServerEvent, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	event := strings.TrimSpace(env.Event)
	if event == "" {
		return nil, badFrame("", "frame missing event")
	}

	switch event {
	case EventConversationStarted:
		var msg ConversationStarted
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", event, err)
		}
		if strings.TrimSpace(msg.ConversationID) == "" {
			return nil, badFrame(event, "conversationId is required")
		}
		return msg, nil
	case EventTyping:
		var active bool
		if err := json.Unmarshal(env.Data, &active); err != nil {
			return nil, fmt.Errorf("decode %s: %w", event, err)
		}
		return Typing{Active: active}, nil
	case EventAIResponse:
		var msg AIResponse
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", event, err)
		}
		return msg, nil
	case EventError:
		return decodeServerError(env.Data), nil
	default:
		return Unknown{Event: event, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}

// DefaultServerErrorMessage stands in for an error event without a message.
const DefaultServerErrorMessage = "server reported an error"

// decodeServerError accepts {message, code}, a bare string, or anything else.
func decodeServerError(data json.RawMessage) ServerError {
	var msg ServerError
	if err := json.Unmarshal(data, &msg); err != nil {
		var text string
		if err := json.Unmarshal(data, &text); err == nil {
			msg = ServerError{Message: text}
		}
	}
	msg.Message = strings.TrimSpace(msg.Message)
	if msg.Message == "" {
		msg.Message = DefaultServerErrorMessage
	}
	return msg
}
