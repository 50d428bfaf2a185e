package types

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	default:
		return false
	}
}

// AudioKind tags which form an AudioRef holds.
type AudioKind string

const (
	AudioNone   AudioKind = ""
	AudioURL    AudioKind = "url"
	AudioInline AudioKind = "inline"
)

// AudioRef points at a synthesized or recorded audio asset. The zero value
// means the message has no audio.
type AudioRef struct {
	Kind     AudioKind `json:"kind,omitempty"`
	URL      string    `json:"url,omitempty"`
	Data     []byte    `json:"data,omitempty"`
	MIMEType string    `json:"mime_type,omitempty"`
}

// AudioFromURL returns a URL reference, or the zero AudioRef for a blank url.
func AudioFromURL(rawURL string) AudioRef {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return AudioRef{}
	}
	return AudioRef{Kind: AudioURL, URL: rawURL}
}

// AudioFromBytes returns an inline reference holding a copy of data.
func AudioFromBytes(data []byte, mimeType string) AudioRef {
	if len(data) == 0 {
		return AudioRef{}
	}
	return AudioRef{Kind: AudioInline, Data: append([]byte(nil), data...), MIMEType: mimeType}
}

// Present reports whether the reference points at any audio.
func (a AudioRef) Present() bool {
	switch a.Kind {
	case AudioURL:
		return a.URL != ""
	case AudioInline:
		return len(a.Data) > 0
	default:
		return false
	}
}

func (a AudioRef) clone() AudioRef {
	if a.Data != nil {
		a.Data = append([]byte(nil), a.Data...)
	}
	return a
}

// Message is a single conversational turn. Once appended to a timeline it is
// never edited; corrections are new messages.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Audio     AudioRef  `json:"audio,omitempty"`
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	m.Audio = m.Audio.clone()
	return m
}

// HasAudio reports whether the message carries an audio reference.
func (m Message) HasAudio() bool {
	return m.Audio.Present()
}

// NewMessageID returns a fresh client-side message identifier.
func NewMessageID() string {
	return uuid.NewString()
}

// NewUserMessage builds a user message with a client-generated id.
func NewUserMessage(content string, at time.Time) Message {
	return Message{
		ID:        NewMessageID(),
		Role:      RoleUser,
		Content:   content,
		Timestamp: at,
	}
}

// MarshalJSON omits the audio field entirely when no audio is attached.
func (m Message) MarshalJSON() ([]byte, error) {
	type rawMessage struct {
		ID        string    `json:"id"`
		Role      Role      `json:"role"`
		Content   string    `json:"content"`
		Timestamp time.Time `json:"timestamp"`
		Audio     *AudioRef `json:"audio,omitempty"`
	}
	raw := rawMessage{ID: m.ID, Role: m.Role, Content: m.Content, Timestamp: m.Timestamp}
	if m.Audio.Present() {
		audio := m.Audio
		raw.Audio = &audio
	}
	return json.Marshal(raw)
}
