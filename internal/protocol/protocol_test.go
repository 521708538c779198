package protocol

import (
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeWireShape(t *testing.T) {
	raw, err := Encode(EventCallUser, CallUserPayload{UserID: "bob", RoomID: "R1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"callUser","payload":{"userId":"bob","roomId":"R1"}}`, string(raw))

	raw, err = Encode(EventPing, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ping"}`, string(raw))
}

func TestDecodeDescription(t *testing.T) {
	frame := `{"type":"offer","payload":{"roomId":"R1","from":"alice","description":{"type":"offer","sdp":"v=0"}}}`
	env, err := Decode([]byte(frame))
	require.NoError(t, err)
	assert.Equal(t, EventOffer, env.Type)

	var p DescriptionPayload
	require.NoError(t, env.Unmarshal(&p))
	assert.Equal(t, webrtc.SDPTypeOffer, p.Description.Type)
	assert.Equal(t, "v=0", p.Description.SDP)
	assert.EqualValues(t, "alice", p.From)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("not json"))
	assert.ErrorIs(t, err, ErrBadEnvelope)

	_, err = Decode([]byte(`{"payload":{}}`))
	assert.ErrorIs(t, err, ErrBadEnvelope)

	env, err := Decode([]byte(`{"type":"joinRoom"}`))
	require.NoError(t, err)
	var p RoomPayload
	assert.ErrorIs(t, env.Unmarshal(&p), ErrBadEnvelope)
}
