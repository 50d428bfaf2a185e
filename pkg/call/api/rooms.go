package api

import (
	"context"
	"strings"

	"github.com/vango-go/vai-call/pkg/core"
	"github.com/vango-go/vai-call/pkg/core/types"
)

// CreateRoom asks the server to create req.RoomName. A room that already
// exists is reported as an error with code CodeAlreadyExists.
func (c *Client) CreateRoom(ctx context.Context, req types.RoomRequest) error {
	if strings.TrimSpace(req.RoomName) == "" {
		return core.NewInvalidRequestError("room name must not be empty")
	}
	return c.postJSON(ctx, "/api/livekit/create-room", req, nil)
}

// JoinRoom requests a participant token for req.RoomName.
func (c *Client) JoinRoom(ctx context.Context, req types.RoomRequest) (types.JoinGrant, error) {
	if strings.TrimSpace(req.RoomName) == "" {
		return types.JoinGrant{}, core.NewInvalidRequestError("room name must not be empty")
	}
	var resp struct {
		ParticipantToken string `json:"participantToken"`
		WSURL            string `json:"wsUrl"`
	}
	if err := c.postJSON(ctx, "/api/livekit/join-room", req, &resp); err != nil {
		return types.JoinGrant{}, err
	}
	grant := types.JoinGrant{Token: strings.TrimSpace(resp.ParticipantToken), URL: strings.TrimSpace(resp.WSURL)}
	if grant.Token == "" || grant.URL == "" {
		return types.JoinGrant{}, core.NewServerError("join-room response is missing the token or url", "invalid_response")
	}
	return grant, nil
}

// CreateTestRoom provisions the shared test room and returns its grant.
func (c *Client) CreateTestRoom(ctx context.Context) (types.JoinGrant, error) {
	var resp struct {
		Token string `json:"token"`
		WSURL string `json:"wsUrl"`
	}
	if err := c.postJSON(ctx, "/api/livekit/create-test-room", nil, &resp); err != nil {
		return types.JoinGrant{}, err
	}
	grant := types.JoinGrant{Token: strings.TrimSpace(resp.Token), URL: strings.TrimSpace(resp.WSURL)}
	if grant.Token == "" || grant.URL == "" {
		return types.JoinGrant{}, core.NewServerError("create-test-room response is missing the token or url", "invalid_response")
	}
	return grant, nil
}
