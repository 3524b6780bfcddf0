package model

import (
	"encoding/json"
	"time"
)

// Inbound message types.
const (
	TypeQueueJoin  = "queue:join"
	TypeQueueLeave = "queue:leave"
	TypeMatchGoal  = "match:goal"
	TypeMatchState = "match:state"
	TypeMatchEnd   = "match:end"
	TypeMatchChat  = "match:chat"
)

// Outbound message types that are not echoes of inbound ones.
const (
	TypeQueueWaiting = "queue:waiting"
	TypeQueueLeft    = "queue:left"
	TypeMatchFound   = "match:found"
	TypeOpponentLeft = "match:opponent_left"
)

// Message is one frame on the duplex channel. Data is kept opaque here;
// gameplay payloads are relayed without interpretation.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type QueueJoinData struct {
	Token    string          `json:"token"`
	TeamData json.RawMessage `json:"teamData,omitempty"`
}

type QueueWaitingData struct {
	Position int `json:"position"`
}

type MatchSide struct {
	Username string          `json:"username"`
	TeamData json.RawMessage `json:"teamData,omitempty"`
}

type MatchFoundData struct {
	RoomID string    `json:"roomId"`
	Home   MatchSide `json:"home"`
	Away   MatchSide `json:"away"`
}

type ChatData struct {
	Message string `json:"message"`
}

// ChatRelayData is the reshaped chat frame sent to the peer.
type ChatRelayData struct {
	From    string `json:"from"`
	Message string `json:"message"`
}

// Room is one active match session. Members are stored as connection ids
// and resolved to live connections at delivery time.
type Room struct {
	ID        string    `json:"room_id"`
	Home      string    `json:"home"`
	Away      string    `json:"away"`
	CreatedAt time.Time `json:"created_at"`
}

// Peer returns the other member's connection id.
func (r *Room) Peer(connID string) (string, bool) {
	switch connID {
	case r.Home:
		return r.Away, true
	case r.Away:
		return r.Home, true
	}
	return "", false
}

// Account is what the account store resolves a username to.
type Account struct {
	Username string `json:"username"`
}

// Wire is the channel pair connecting one websocket session to the match
// service. RX carries client frames in, TX carries server frames out.
// TX is buffered so the service never blocks on a slow client.
type Wire struct {
	RX chan Message
	TX chan Message
}

const txBufferSize = 64

func NewWire() Wire {
	return Wire{
		RX: make(chan Message),
		TX: make(chan Message, txBufferSize),
	}
}
