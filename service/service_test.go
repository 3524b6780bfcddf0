package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/topcerry22/ballerexeserver/model"
	"github.com/topcerry22/ballerexeserver/registry"
	"github.com/topcerry22/ballerexeserver/service"
	memory "github.com/topcerry22/ballerexeserver/storage/memory"
)

// tokenAsUser treats the token itself as the username, and rejects empty
// tokens, so tests control identity resolution without real JWTs.
type tokenAsUser struct{}

func (tokenAsUser) VerifyToken(_ context.Context, token string) (string, error) {
	if token == "" {
		return "", errors.New("unverifiable token")
	}
	return token, nil
}

func newTestService(t *testing.T) *service.Service {
	t.Helper()
	logger := zerolog.Nop()
	return service.NewService(service.Config{
		Registry: registry.New(&logger),
		Rooms:    memory.NewRoomStore(),
		Verifier: tokenAsUser{},
		Logger:   &logger,
	})
}

func connect(t *testing.T, svc *service.Service) (string, model.Wire) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	wire := model.NewWire()
	return svc.Connect(ctx, wire), wire
}

// recv pops the next delivered frame, if any. Deliveries happen
// synchronously into the buffered TX channel, so no waiting is needed.
func recv(wire model.Wire) (model.Message, bool) {
	select {
	case msg := <-wire.TX:
		return msg, true
	default:
		return model.Message{}, false
	}
}

func requireRecv(t *testing.T, wire model.Wire, wantType string) model.Message {
	t.Helper()
	msg, ok := recv(wire)
	require.True(t, ok, "expected a %s frame, got none", wantType)
	require.Equal(t, wantType, msg.Type)
	return msg
}

func requireSilent(t *testing.T, wire model.Wire) {
	t.Helper()
	msg, ok := recv(wire)
	require.False(t, ok, "expected no frame, got %s", msg.Type)
}

func TestPairing_FirstWaiterIsHome(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	connA, wireA := connect(t, svc)
	connB, wireB := connect(t, svc)

	svc.JoinQueue(ctx, connA, "alice", json.RawMessage(`{"formation":"4-4-2"}`))
	waiting := requireRecv(t, wireA, model.TypeQueueWaiting)
	var pos model.QueueWaitingData
	require.NoError(t, json.Unmarshal(waiting.Data, &pos))
	assert.Equal(t, 1, pos.Position)

	svc.JoinQueue(ctx, connB, "bob", json.RawMessage(`{"formation":"3-5-2"}`))

	for _, wire := range []model.Wire{wireA, wireB} {
		msg := requireRecv(t, wire, model.TypeMatchFound)
		var found model.MatchFoundData
		require.NoError(t, json.Unmarshal(msg.Data, &found))
		assert.NotEmpty(t, found.RoomID)
		assert.Equal(t, "alice", found.Home.Username)
		assert.Equal(t, "bob", found.Away.Username)
		assert.JSONEq(t, `{"formation":"4-4-2"}`, string(found.Home.TeamData))
		assert.JSONEq(t, `{"formation":"3-5-2"}`, string(found.Away.TeamData))
	}

	stats := svc.Stats()
	assert.Equal(t, 0, stats.Queued)
	assert.Equal(t, 1, stats.Rooms)
}

func TestPairing_QueuePositionsAreFIFO(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	connA, wireA := connect(t, svc)
	connB, wireB := connect(t, svc)

	svc.JoinQueue(ctx, connA, "alice", nil)
	requireRecv(t, wireA, model.TypeQueueWaiting)
	svc.LeaveQueue(connA)
	requireRecv(t, wireA, model.TypeQueueLeft)

	// A left, so B starts a new queue at position 1.
	svc.JoinQueue(ctx, connB, "bob", nil)
	waiting := requireRecv(t, wireB, model.TypeQueueWaiting)
	var pos model.QueueWaitingData
	require.NoError(t, json.Unmarshal(waiting.Data, &pos))
	assert.Equal(t, 1, pos.Position)

	// A re-joins and must pair with the earlier waiter B, B as home.
	svc.JoinQueue(ctx, connA, "alice", nil)
	msg := requireRecv(t, wireA, model.TypeMatchFound)
	var found model.MatchFoundData
	require.NoError(t, json.Unmarshal(msg.Data, &found))
	assert.Equal(t, "bob", found.Home.Username)
	assert.Equal(t, "alice", found.Away.Username)
	requireRecv(t, wireB, model.TypeMatchFound)
}

func TestQueueUniqueness_RepeatJoinReAcks(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	connA, wireA := connect(t, svc)

	for i := 0; i < 3; i++ {
		svc.JoinQueue(ctx, connA, "alice", nil)
		waiting := requireRecv(t, wireA, model.TypeQueueWaiting)
		var pos model.QueueWaitingData
		require.NoError(t, json.Unmarshal(waiting.Data, &pos))
		assert.Equal(t, 1, pos.Position)
	}
	assert.Equal(t, 1, svc.Stats().Queued)

	// A connection can never pair with itself.
	assert.Equal(t, 0, svc.Stats().Rooms)
}

func TestRoomExclusivity_RelayReachesPeerOnly(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	connA, wireA := connect(t, svc)
	connB, wireB := connect(t, svc)
	connC, wireC := connect(t, svc)
	connD, wireD := connect(t, svc)

	svc.JoinQueue(ctx, connA, "alice", nil)
	svc.JoinQueue(ctx, connB, "bob", nil)
	svc.JoinQueue(ctx, connC, "carol", nil)
	svc.JoinQueue(ctx, connD, "dave", nil)
	for _, wire := range []model.Wire{wireA, wireB, wireC, wireD} {
		drain(wire)
	}

	goal := json.RawMessage(`{"minute":42,"scorer":"alice"}`)
	svc.Relay(connA, model.TypeMatchGoal, goal)

	msg := requireRecv(t, wireB, model.TypeMatchGoal)
	assert.JSONEq(t, string(goal), string(msg.Data))

	requireSilent(t, wireA)
	requireSilent(t, wireC)
	requireSilent(t, wireD)
}

func TestRelay_ChatIsTaggedAndTruncated(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	connA, wireA := connect(t, svc)
	connB, wireB := connect(t, svc)
	svc.JoinQueue(ctx, connA, "alice", nil)
	svc.JoinQueue(ctx, connB, "bob", nil)
	drain(wireA)
	drain(wireB)

	long := strings.Repeat("é", 200)
	payload, err := json.Marshal(model.ChatData{Message: long})
	require.NoError(t, err)
	svc.Relay(connA, model.TypeMatchChat, payload)

	msg := requireRecv(t, wireB, model.TypeMatchChat)
	var chat model.ChatRelayData
	require.NoError(t, json.Unmarshal(msg.Data, &chat))
	assert.Equal(t, "alice", chat.From)
	assert.Equal(t, 120, len([]rune(chat.Message)))
	assert.Equal(t, strings.Repeat("é", 120), chat.Message)
}

func TestRelay_NoRoomIsSilentNoOp(t *testing.T) {
	svc := newTestService(t)

	connA, wireA := connect(t, svc)
	svc.Relay(connA, model.TypeMatchState, json.RawMessage(`{"tick":1}`))
	requireSilent(t, wireA)

	// Unknown connections are equally harmless.
	svc.Relay("conn-999", model.TypeMatchState, json.RawMessage(`{"tick":1}`))
}

func TestDisconnect_TeardownNotifiesPeerOnce(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	connA, wireA := connect(t, svc)
	connB, wireB := connect(t, svc)
	svc.JoinQueue(ctx, connA, "alice", nil)
	svc.JoinQueue(ctx, connB, "bob", nil)
	drain(wireA)
	drain(wireB)

	svc.Disconnect(connA)

	requireRecv(t, wireB, model.TypeOpponentLeft)
	requireSilent(t, wireB)

	stats := svc.Stats()
	assert.Equal(t, 1, stats.Connections)
	assert.Equal(t, 0, stats.Rooms)

	// Anything B sends about the dead room is dropped.
	svc.Relay(connB, model.TypeMatchGoal, json.RawMessage(`{"minute":90}`))
	requireSilent(t, wireB)
	assert.Equal(t, 0, svc.Stats().Rooms)
}

func TestDisconnect_PrunesQueueEntry(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	connA, wireA := connect(t, svc)
	svc.JoinQueue(ctx, connA, "alice", nil)
	drain(wireA)

	svc.Disconnect(connA)
	assert.Equal(t, 0, svc.Stats().Queued)
	assert.Equal(t, 0, svc.Stats().Connections)

	// A later joiner must not be paired against the dead entry.
	connB, wireB := connect(t, svc)
	svc.JoinQueue(ctx, connB, "bob", nil)
	waiting := requireRecv(t, wireB, model.TypeQueueWaiting)
	var pos model.QueueWaitingData
	require.NoError(t, json.Unmarshal(waiting.Data, &pos))
	assert.Equal(t, 1, pos.Position)
}

func TestLeaveQueue_IdempotentAck(t *testing.T) {
	svc := newTestService(t)

	connA, wireA := connect(t, svc)

	// Never queued: still acknowledged, nothing mutated.
	svc.LeaveQueue(connA)
	requireRecv(t, wireA, model.TypeQueueLeft)
	assert.Equal(t, 0, svc.Stats().Queued)

	svc.LeaveQueue(connA)
	requireRecv(t, wireA, model.TypeQueueLeft)
}

func TestMatchEnd_NoResurrection(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	connA, wireA := connect(t, svc)
	connB, wireB := connect(t, svc)
	svc.JoinQueue(ctx, connA, "alice", nil)
	svc.JoinQueue(ctx, connB, "bob", nil)
	drain(wireA)
	drain(wireB)

	final := json.RawMessage(`{"score":{"home":2,"away":1}}`)
	svc.Relay(connA, model.TypeMatchEnd, final)

	msg := requireRecv(t, wireB, model.TypeMatchEnd)
	assert.JSONEq(t, string(final), string(msg.Data))
	assert.Equal(t, 0, svc.Stats().Rooms)

	// Late frames from either former member are dropped silently.
	svc.Relay(connA, model.TypeMatchState, json.RawMessage(`{"tick":99}`))
	svc.Relay(connB, model.TypeMatchState, json.RawMessage(`{"tick":99}`))
	requireSilent(t, wireA)
	requireSilent(t, wireB)
	assert.Equal(t, 0, svc.Stats().Rooms)

	// Disconnect after the room already ended must not re-notify anyone.
	svc.Disconnect(connA)
	requireSilent(t, wireB)
}

func TestGuestFallback_PairingStillWorks(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	connA, wireA := connect(t, svc)
	connB, wireB := connect(t, svc)

	// Empty tokens fail verification and degrade to guests.
	svc.JoinQueue(ctx, connA, "", nil)
	requireRecv(t, wireA, model.TypeQueueWaiting)
	svc.JoinQueue(ctx, connB, "", nil)

	msg := requireRecv(t, wireB, model.TypeMatchFound)
	var found model.MatchFoundData
	require.NoError(t, json.Unmarshal(msg.Data, &found))

	for _, username := range []string{found.Home.Username, found.Away.Username} {
		assert.True(t, strings.HasPrefix(username, "Guest_"), "got %s", username)
		assert.Len(t, username, len("Guest_")+6)
	}
	assert.NotEqual(t, found.Home.Username, found.Away.Username)
}

func TestJoinQueue_IgnoredWhileInMatch(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	connA, wireA := connect(t, svc)
	connB, wireB := connect(t, svc)
	connC, wireC := connect(t, svc)

	svc.JoinQueue(ctx, connA, "alice", nil)
	svc.JoinQueue(ctx, connB, "bob", nil)
	drain(wireA)
	drain(wireB)

	svc.JoinQueue(ctx, connC, "carol", nil)
	drain(wireC)

	// A is mid-match; its join must neither queue it nor pair it with C.
	svc.JoinQueue(ctx, connA, "alice", nil)
	requireSilent(t, wireA)
	assert.Equal(t, 1, svc.Stats().Queued)
	assert.Equal(t, 1, svc.Stats().Rooms)
}

func drain(wire model.Wire) {
	for {
		select {
		case <-wire.TX:
		default:
			return
		}
	}
}
