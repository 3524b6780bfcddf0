// Package service implements the matchmaking and match-session core:
// queue membership, pairing, event relay between room members, and
// disconnect teardown. All shared session state (queue, room table,
// connection registry) is owned here and serialized under one lock, so
// no handler can observe a torn intermediate state.
package service

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/davecgh/go-spew/spew"
	"github.com/rs/zerolog"

	"github.com/topcerry22/ballerexeserver/auth"
	"github.com/topcerry22/ballerexeserver/matchmaking"
	"github.com/topcerry22/ballerexeserver/model"
	"github.com/topcerry22/ballerexeserver/registry"
)

const maxChatRunes = 120

type (
	RoomStore interface {
		Create(homeConnID, awayConnID string) *model.Room
		Get(roomID string) (*model.Room, error)
		Delete(roomID string)
		Count() int
	}

	TokenVerifier interface {
		VerifyToken(ctx context.Context, token string) (string, error)
	}

	Service struct {
		mx       sync.Mutex
		reg      *registry.Registry
		queue    *matchmaking.Queue
		rooms    RoomStore
		verifier TokenVerifier
		logger   zerolog.Logger
	}

	Config struct {
		Registry *registry.Registry
		Rooms    RoomStore
		Verifier TokenVerifier
		Logger   *zerolog.Logger
	}
)

func NewService(cfg Config) *Service {
	return &Service{
		reg:      cfg.Registry,
		queue:    matchmaking.NewQueue(),
		rooms:    cfg.Rooms,
		verifier: cfg.Verifier,
		logger:   cfg.Logger.With().Str("component", "match-service").Logger(),
	}
}

// Connect registers a fresh connection for the given wire and starts its
// session loop. The returned connection id is the handle the transport
// uses for Disconnect.
func (svc *Service) Connect(ctx context.Context, wire model.Wire) string {
	svc.mx.Lock()
	conn := svc.reg.Add(wire)
	svc.mx.Unlock()

	svc.logger.Debug().
		Str("connID", conn.ID).
		Msg("connection registered")

	go svc.sessionLoop(ctx, conn.ID, wire.RX)
	return conn.ID
}

// Disconnect runs the full cleanup unit for a transport-level close:
// prune any queue entry, notify and release the opponent, tear the room
// down, discard the connection record. Safe to call after the room was
// already gone.
func (svc *Service) Disconnect(connID string) {
	svc.mx.Lock()
	defer svc.mx.Unlock()

	svc.queue.Remove(connID)

	if conn, ok := svc.reg.Get(connID); ok && conn.RoomID != "" {
		if room, err := svc.rooms.Get(conn.RoomID); err == nil {
			if peerID, ok := room.Peer(connID); ok {
				svc.reg.Deliver(peerID, model.Message{Type: model.TypeOpponentLeft})
				if peer, ok := svc.reg.Get(peerID); ok {
					peer.RoomID = ""
				}
			}
			svc.rooms.Delete(room.ID)
			svc.logger.Info().
				Str("connID", connID).
				Str("roomID", room.ID).
				Msg("room torn down after disconnect")
		}
	}

	svc.reg.Remove(connID)
	svc.logger.Debug().
		Str("connID", connID).
		Msg("connection discarded")
}

// sessionLoop consumes inbound frames for one connection until the wire
// context ends or the transport closes RX.
func (svc *Service) sessionLoop(ctx context.Context, connID string, rx <-chan model.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-rx:
			if !ok {
				return
			}
			svc.dispatch(ctx, connID, msg)
		}
	}
}

func (svc *Service) dispatch(ctx context.Context, connID string, msg model.Message) {
	switch msg.Type {
	case model.TypeQueueJoin:
		var data model.QueueJoinData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			svc.logger.Debug().
				Err(err).
				Str("connID", connID).
				Msg("malformed queue:join payload")
			return
		}
		svc.JoinQueue(ctx, connID, data.Token, data.TeamData)
	case model.TypeQueueLeave:
		svc.LeaveQueue(connID)
	case model.TypeMatchGoal, model.TypeMatchState, model.TypeMatchEnd, model.TypeMatchChat:
		svc.Relay(connID, msg.Type, msg.Data)
	default:
		svc.logger.Debug().
			Str("connID", connID).
			Str("type", msg.Type).
			Msg("unknown message type dropped")
	}
}

// JoinQueue resolves the caller's identity and either pairs it with the
// earliest live waiter or appends it to the queue. Identity resolution
// may suspend, so it runs before the state lock is taken; the join is
// abandoned if the connection disappeared in the meantime.
func (svc *Service) JoinQueue(ctx context.Context, connID, token string, teamData json.RawMessage) {
	username, err := svc.verifier.VerifyToken(ctx, token)
	if err != nil {
		username = auth.GuestName()
		svc.logger.Debug().
			Err(err).
			Str("connID", connID).
			Str("guest", username).
			Msg("token verification failed, using guest identity")
	}

	svc.mx.Lock()
	defer svc.mx.Unlock()

	conn, ok := svc.reg.Get(connID)
	if !ok {
		svc.logger.Debug().
			Str("connID", connID).
			Msg("connection gone before queue join completed")
		return
	}
	conn.Username = username
	conn.TeamData = teamData

	if conn.RoomID != "" {
		svc.logger.Debug().
			Str("connID", connID).
			Str("roomID", conn.RoomID).
			Msg("queue join ignored, connection already in a match")
		return
	}

	// Repeat join while waiting: keep the entry in place, re-ack the
	// current position.
	if pos, queued := svc.queue.Position(connID); queued {
		svc.deliverWaiting(connID, pos)
		return
	}

	peerID, found := svc.queue.PopEligible(connID, svc.reg.Live)
	if !found {
		pos := svc.queue.Push(connID)
		svc.deliverWaiting(connID, pos)
		svc.logger.Info().
			Str("connID", connID).
			Str("username", username).
			Int("position", pos).
			Msg("queued for a match")
		return
	}

	peer, _ := svc.reg.Get(peerID)
	room := svc.rooms.Create(peerID, connID)
	peer.RoomID = room.ID
	conn.RoomID = room.ID

	// The pre-existing waiter is home, the newcomer away.
	pairing := model.MatchFoundData{
		RoomID: room.ID,
		Home:   model.MatchSide{Username: peer.Username, TeamData: peer.TeamData},
		Away:   model.MatchSide{Username: conn.Username, TeamData: conn.TeamData},
	}
	data, err := json.Marshal(pairing)
	if err != nil {
		svc.logger.Error().Err(err).Msg("failed to marshal pairing payload")
		return
	}
	msg := model.Message{Type: model.TypeMatchFound, Data: data}
	svc.reg.Deliver(peerID, msg)
	svc.reg.Deliver(connID, msg)

	if e := svc.logger.Trace(); e.Enabled() {
		e.Msg(spew.Sdump(pairing))
	}
	svc.logger.Info().
		Str("roomID", room.ID).
		Str("home", peer.Username).
		Str("away", conn.Username).
		Msg("match found")
}

// LeaveQueue removes the caller's queue entry if it has one and always
// acknowledges.
func (svc *Service) LeaveQueue(connID string) {
	svc.mx.Lock()
	defer svc.mx.Unlock()

	if svc.queue.Remove(connID) {
		svc.logger.Debug().
			Str("connID", connID).
			Msg("left the queue")
	}
	svc.reg.Deliver(connID, model.Message{Type: model.TypeQueueLeft})
}

// Relay forwards a gameplay frame to the other member of the sender's
// room. A frame from a connection with no current room is dropped
// silently; a match:end frame tears the room down after delivery.
func (svc *Service) Relay(connID, msgType string, payload json.RawMessage) {
	svc.mx.Lock()
	defer svc.mx.Unlock()

	conn, ok := svc.reg.Get(connID)
	if !ok || conn.RoomID == "" {
		return
	}

	room, err := svc.rooms.Get(conn.RoomID)
	if err != nil {
		// Stale reference, the room was already torn down.
		conn.RoomID = ""
		return
	}
	peerID, ok := room.Peer(connID)
	if !ok {
		return
	}

	out := payload
	if msgType == model.TypeMatchChat {
		var chat model.ChatData
		if err := json.Unmarshal(payload, &chat); err != nil {
			svc.logger.Debug().
				Err(err).
				Str("connID", connID).
				Msg("malformed chat payload dropped")
			return
		}
		reshaped, err := json.Marshal(model.ChatRelayData{
			From:    conn.Username,
			Message: truncateRunes(chat.Message, maxChatRunes),
		})
		if err != nil {
			return
		}
		out = reshaped
	}

	svc.reg.Deliver(peerID, model.Message{Type: msgType, Data: out})

	if msgType == model.TypeMatchEnd {
		svc.rooms.Delete(room.ID)
		conn.RoomID = ""
		if peer, ok := svc.reg.Get(peerID); ok {
			peer.RoomID = ""
		}
		svc.logger.Info().
			Str("roomID", room.ID).
			Msg("room torn down after match end")
	}
}

type Stats struct {
	Connections int `json:"connections"`
	Queued      int `json:"queued"`
	Rooms       int `json:"rooms"`
}

func (svc *Service) Stats() Stats {
	svc.mx.Lock()
	defer svc.mx.Unlock()

	return Stats{
		Connections: svc.reg.Count(),
		Queued:      svc.queue.Len(),
		Rooms:       svc.rooms.Count(),
	}
}

func (svc *Service) deliverWaiting(connID string, position int) {
	data, err := json.Marshal(model.QueueWaitingData{Position: position})
	if err != nil {
		return
	}
	svc.reg.Deliver(connID, model.Message{Type: model.TypeQueueWaiting, Data: data})
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
