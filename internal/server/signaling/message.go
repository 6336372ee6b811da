package signaling

// Server-emitted event envelopes. Relay payloads never pass through these
// types; they stay generic maps so unknown negotiation message types are
// forwarded untouched.

type roomJoinedEvent struct {
	Type      string   `json:"type"`
	RoomCode  string   `json:"roomCode"`
	PeerID    string   `json:"peerId"`
	IsHost    bool     `json:"isHost"`
	PeerCount int      `json:"peerCount"`
	Peers     []string `json:"peers"`
}

type peerJoinedEvent struct {
	Type      string `json:"type"`
	PeerID    string `json:"peerId"`
	IsHost    bool   `json:"isHost"`
	PeerCount int    `json:"peerCount"`
}

type peerLeftEvent struct {
	Type      string `json:"type"`
	PeerID    string `json:"peerId"`
	PeerCount int    `json:"peerCount"`
}
