package websocket

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCommand(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		want    interface{}
		wantErr error
	}{
		{
			name:  "send message",
			frame: `{"type":"send_message","request_id":"r1","data":{"thread_id":"t1","content":"hello"}}`,
			want:  &SendMessageRequest{ThreadID: "t1", Content: "hello"},
		},
		{
			name:  "join call by code",
			frame: `{"type":"join_call","data":{"meeting_code":"ABC234"}}`,
			want:  &JoinCallRequest{MeetingCode: "ABC234"},
		},
		{
			name:  "typing shares the room payload",
			frame: `{"type":"typing","data":{"thread_id":"t1"}}`,
			want:  &ChatRoomRequest{ThreadID: "t1"},
		},
		{
			name:  "heartbeat without data",
			frame: `{"type":"heartbeat"}`,
			want:  &HeartbeatRequest{},
		},
		{
			name:  "null data",
			frame: `{"type":"end_call","data":null}`,
			want:  &CallRequest{},
		},
		{
			name:    "missing type",
			frame:   `{"data":{}}`,
			wantErr: ErrMissingType,
		},
		{
			name:    "unknown type",
			frame:   `{"type":"admin_broadcast"}`,
			wantErr: ErrUnknownType,
		},
		{
			name:    "outbound type is not accepted inbound",
			frame:   `{"type":"offer_received"}`,
			wantErr: ErrUnknownType,
		},
		{
			name:    "not json",
			frame:   `hello`,
			wantErr: ErrInvalidFrame,
		},
		{
			name:    "wrong payload shape",
			frame:   `{"type":"send_message","data":{"content":42}}`,
			wantErr: ErrInvalidFrame,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := DecodeCommand([]byte(tt.frame))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, cmd)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, cmd.Payload)
		})
	}
}

func TestDecodeCommandKeepsRequestID(t *testing.T) {
	cmd, err := DecodeCommand([]byte(`{"type":"webrtc_offer","request_id":"abc","data":{"target_connection_id":"x","call_id":"c","payload":{"type":"offer","sdp":"v=0"}}}`))
	require.NoError(t, err)

	assert.Equal(t, MessageTypeOffer, cmd.Type)
	assert.Equal(t, "abc", cmd.RequestID)

	req := cmd.Payload.(*SignalRequest)
	assert.Equal(t, "x", req.TargetConnectionID)
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(req.Payload))
}

func TestWSMessageEnvelope(t *testing.T) {
	msg := NewWSMessage(MessageTypeAck, &AckPayload{For: MessageTypeJoinChat}).Reply("r9")

	data, err := msg.ToJSON()
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "ack", decoded["type"])
	assert.Equal(t, "r9", decoded["request_id"])
	assert.NotEmpty(t, decoded["id"])
	assert.NotEmpty(t, decoded["timestamp"])
	assert.Equal(t, map[string]interface{}{"for": "join_chat"}, decoded["data"])
}
