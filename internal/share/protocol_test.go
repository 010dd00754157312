package share

import (
	"context"
	"encoding/json"
	"testing"

	"atome-store/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeReply(t *testing.T, raw []byte) Reply {
	t.Helper()
	var reply Reply
	require.NoError(t, json.Unmarshal(raw, &reply))
	return reply
}

func TestProtocol_CheckAction(t *testing.T) {
	engine, mem, _ := newTestEngine(t)
	protocol := NewProtocol(engine)
	ctx := context.Background()
	seedAtome(t, mem, "a1", domain.TypeShape, "alice", nil)

	raw := protocol.Handle(ctx, "alice", []byte(`{"action":"check","requestId":"r1","atomeId":"a1","permissions":["read","write"]}`))
	reply := decodeReply(t, raw)
	assert.Equal(t, "r1", reply.RequestID)
	assert.True(t, reply.Success)
	data := reply.Data.(map[string]any)
	assert.Equal(t, true, data["allowed"])

	raw = protocol.Handle(ctx, "bob", []byte(`{"action":"check","requestId":"r2","atomeId":"a1","permissions":["read"]}`))
	reply = decodeReply(t, raw)
	assert.True(t, reply.Success)
	data = reply.Data.(map[string]any)
	assert.Equal(t, false, data["allowed"])
}

func TestProtocol_RequestRoundTrip(t *testing.T) {
	engine, mem, _ := newTestEngine(t)
	protocol := NewProtocol(engine)
	ctx := context.Background()
	seedUser(t, mem, "alice", "111", "public")
	seedUser(t, mem, "bob", "222", "public")
	seedAtome(t, mem, "a1", domain.TypeShape, "alice", nil)

	raw := protocol.Handle(ctx, "alice", []byte(`{"action":"request","requestId":"r1","target":"bob","atomeIds":["a1"],"permissions":["read"]}`))
	reply := decodeReply(t, raw)
	require.True(t, reply.Success, "error: %s", reply.Error)

	request := reply.Data.(map[string]any)
	requestID := request["request_id"].(string)
	require.NotEmpty(t, requestID)

	raw = protocol.Handle(ctx, "bob", []byte(`{"action":"respond","requestId":"r2","shareRequestId":"`+requestID+`","decision":"accept"}`))
	reply = decodeReply(t, raw)
	require.True(t, reply.Success, "error: %s", reply.Error)

	raw = protocol.Handle(ctx, "bob", []byte(`{"action":"shared-with-me","requestId":"r3"}`))
	reply = decodeReply(t, raw)
	require.True(t, reply.Success)
	shared := reply.Data.([]any)
	require.Len(t, shared, 1)
}

func TestProtocol_GetAtomeHidesDenied(t *testing.T) {
	engine, mem, _ := newTestEngine(t)
	protocol := NewProtocol(engine)
	ctx := context.Background()
	seedAtome(t, mem, "a1", domain.TypeShape, "alice", nil)

	raw := protocol.Handle(ctx, "bob", []byte(`{"action":"get-atome","requestId":"r1","atomeId":"a1"}`))
	reply := decodeReply(t, raw)
	assert.False(t, reply.Success)
	assert.Contains(t, reply.Error, "not found", "denied and absent look identical")
}

func TestProtocol_MalformedAndUnknown(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	protocol := NewProtocol(engine)
	ctx := context.Background()

	reply := decodeReply(t, protocol.Handle(ctx, "alice", []byte(`{not json`)))
	assert.False(t, reply.Success)

	reply = decodeReply(t, protocol.Handle(ctx, "alice", []byte(`{"action":"explode","requestId":"r1"}`)))
	assert.False(t, reply.Success)
	assert.Equal(t, "r1", reply.RequestID)
}

func TestMaskFromNames(t *testing.T) {
	mask, err := MaskFromNames([]string{"read", "alter", "share"})
	require.NoError(t, err)
	assert.Equal(t, Read|Write|Share, mask)

	mask, err = MaskFromNames(nil)
	require.NoError(t, err)
	assert.Equal(t, Read, mask, "an empty list defaults to a read check")

	_, err = MaskFromNames([]string{"rwx"})
	require.Error(t, err)
}
