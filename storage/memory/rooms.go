package memory

import (
	"errors"
	"strconv"
	"time"

	"github.com/topcerry22/ballerexeserver/model"
)

var (
	ErrRoomNotFound = errors.New("room is not found")
)

// RoomStore holds the table of active match sessions. Room ids come from
// a monotonic per-process counter and are never reissued.
//
// Not safe for concurrent use on its own; the match service serializes
// all access together with the queue and registry.
type RoomStore struct {
	db  map[string]*model.Room
	seq uint64
}

func NewRoomStore() *RoomStore {
	return &RoomStore{
		db: make(map[string]*model.Room),
	}
}

// Create allocates a fresh room with exactly the two given members.
// Rooms are never mutated after creation, only deleted.
func (rs *RoomStore) Create(homeConnID, awayConnID string) *model.Room {
	rs.seq++
	room := &model.Room{
		ID:        "room-" + strconv.FormatUint(rs.seq, 10),
		Home:      homeConnID,
		Away:      awayConnID,
		CreatedAt: time.Now(),
	}
	rs.db[room.ID] = room
	return room
}

func (rs *RoomStore) Get(roomID string) (*model.Room, error) {
	room, ok := rs.db[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// Delete removes the room record. Idempotent, so a disconnect that races
// an end-of-match teardown is a no-op.
func (rs *RoomStore) Delete(roomID string) {
	delete(rs.db, roomID)
}

func (rs *RoomStore) Count() int {
	return len(rs.db)
}
