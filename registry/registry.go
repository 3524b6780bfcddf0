package registry

import (
	"encoding/json"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/topcerry22/ballerexeserver/model"
)

// Connection is the registry's record of one live duplex session.
// Identity and team data are stamped at queue-join time, RoomID while a
// match is active.
type Connection struct {
	ID       string
	Username string
	TeamData json.RawMessage
	RoomID   string

	wire model.Wire
}

// Registry tracks live connections and resolves connection ids to wires
// at delivery time, so nothing else ever holds a transport handle.
//
// The registry is not safe for concurrent use on its own; the match
// service serializes all access together with the queue and room table.
type Registry struct {
	logger zerolog.Logger
	conns  map[string]*Connection
	seq    uint64
}

func New(logger *zerolog.Logger) *Registry {
	return &Registry{
		logger: logger.With().Str("component", "registry").Logger(),
		conns:  make(map[string]*Connection),
	}
}

// Add registers a fresh connection with no identity and no room.
func (reg *Registry) Add(wire model.Wire) *Connection {
	reg.seq++
	conn := &Connection{
		ID:   "conn-" + strconv.FormatUint(reg.seq, 10),
		wire: wire,
	}
	reg.conns[conn.ID] = conn
	return conn
}

func (reg *Registry) Get(connID string) (*Connection, bool) {
	conn, ok := reg.conns[connID]
	return conn, ok
}

// Live reports whether connID still refers to a registered connection.
func (reg *Registry) Live(connID string) bool {
	_, ok := reg.conns[connID]
	return ok
}

// Remove discards the connection record. Idempotent.
func (reg *Registry) Remove(connID string) {
	delete(reg.conns, connID)
}

func (reg *Registry) Count() int {
	return len(reg.conns)
}

// Deliver sends msg to the connection's TX buffer without blocking.
// A missing connection or a full buffer drops the frame; the client
// recovers by reconnecting.
func (reg *Registry) Deliver(connID string, msg model.Message) bool {
	conn, ok := reg.conns[connID]
	if !ok {
		reg.logger.Debug().
			Str("connID", connID).
			Str("type", msg.Type).
			Msg("cannot deliver, connection not found")
		return false
	}
	select {
	case conn.wire.TX <- msg:
		return true
	default:
		reg.logger.Warn().
			Str("connID", connID).
			Str("type", msg.Type).
			Msg("send buffer full, frame dropped")
		return false
	}
}
