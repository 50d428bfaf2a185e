package types

// RoomRequest names a live room and the participant joining it.
type RoomRequest struct {
	RoomName            string `json:"roomName"`
	ParticipantName     string `json:"participantName"`
	ParticipantIdentity string `json:"participantIdentity"`
}

// JoinGrant is the credential for opening a media connection to a room.
type JoinGrant struct {
	Token string
	URL   string
}
