package api

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vango-go/vai-call/pkg/core"
	"github.com/vango-go/vai-call/pkg/core/types"
)

type wireMessage struct {
	ID        string    `json:"id"`
	MongoID   string    `json:"_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	AudioURL  string    `json:"audioUrl"`
	AudioData string    `json:"audioData"`
	AudioType string    `json:"audioType"`
}

type wireConversation struct {
	ID        string        `json:"id"`
	MongoID   string        `json:"_id"`
	AgentID   string        `json:"agentId"`
	UserID    string        `json:"userId"`
	Title     string        `json:"title"`
	Messages  []wireMessage `json:"messages"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
	Metadata  struct {
		Duration  float64 `json:"duration"`
		Sentiment string  `json:"sentiment"`
	} `json:"metadata"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func (w wireConversation) toConversation() types.Conversation {
	conv := types.Conversation{
		ID:        firstNonEmpty(w.ID, w.MongoID),
		AgentID:   strings.TrimSpace(w.AgentID),
		UserID:    strings.TrimSpace(w.UserID),
		Title:     w.Title,
		Sentiment: strings.ToLower(strings.TrimSpace(w.Metadata.Sentiment)),
		Duration:  time.Duration(w.Metadata.Duration * float64(time.Second)),
		CreatedAt: w.CreatedAt,
		UpdatedAt: w.UpdatedAt,
		Messages:  make([]types.Message, 0, len(w.Messages)),
	}
	if conv.Sentiment == "" {
		conv.Sentiment = "neutral"
	}
	for i, m := range w.Messages {
		msg := types.Message{
			ID:        firstNonEmpty(m.ID, m.MongoID, fmt.Sprintf("%s-%d", conv.ID, i)),
			Role:      types.Role(strings.ToLower(strings.TrimSpace(m.Role))),
			Content:   m.Content,
			Timestamp: m.Timestamp,
		}
		if !msg.Role.Valid() {
			msg.Role = types.RoleSystem
		}
		// Inline audio wins over a URL, matching how the server stores recordings.
		if m.AudioData != "" && m.AudioType != "" {
			if data, err := base64.StdEncoding.DecodeString(m.AudioData); err == nil {
				msg.Audio = types.AudioFromBytes(data, m.AudioType)
			}
		}
		if !msg.Audio.Present() {
			msg.Audio = types.AudioFromURL(m.AudioURL)
		}
		conv.Messages = append(conv.Messages, msg)
	}
	return conv
}

// ListConversations returns the conversations for agentID, or every
// conversation when agentID is empty.
func (c *Client) ListConversations(ctx context.Context, agentID string) ([]types.Conversation, error) {
	var query url.Values
	if agentID = strings.TrimSpace(agentID); agentID != "" {
		query = url.Values{"agentId": []string{agentID}}
	}
	var wire []wireConversation
	if err := c.do(ctx, http.MethodGet, "/api/conversations", query, nil, "", &wire); err != nil {
		return nil, err
	}
	out := make([]types.Conversation, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.toConversation())
	}
	return out, nil
}

// GetConversation returns one conversation with its full message list.
func (c *Client) GetConversation(ctx context.Context, id string) (types.Conversation, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return types.Conversation{}, core.NewInvalidRequestError("conversation id must not be empty")
	}
	var wire wireConversation
	if err := c.do(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(id), nil, nil, "", &wire); err != nil {
		return types.Conversation{}, err
	}
	return wire.toConversation(), nil
}

// UploadAudio attaches a recorded utterance and its transcript to a conversation.
func (c *Client) UploadAudio(ctx context.Context, conversationID string, audio []byte, mimeType, transcript string) error {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return core.NewInvalidRequestError("conversation id must not be empty")
	}
	if len(audio) == 0 {
		return core.NewInvalidRequestError("audio must not be empty")
	}
	body, contentType, err := multipartAudio(audio, mimeType, transcript)
	if err != nil {
		return core.NewInvalidRequestError(fmt.Sprintf("encode upload: %v", err))
	}
	return c.do(ctx, http.MethodPost, "/api/conversations/"+url.PathEscape(conversationID)+"/audio", nil, body, contentType, nil)
}
