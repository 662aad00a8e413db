package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	raw, err := Encode(TypeAuth, Auth{UserID: "u-1", Token: "tok"})
	require.NoError(t, err)

	msg, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, TypeAuth, msg.Type)

	var auth Auth
	require.NoError(t, msg.Unmarshal(&auth))
	assert.Equal(t, "u-1", auth.UserID)
	assert.Equal(t, "tok", auth.Token)
}

func TestEncodeNilPayload(t *testing.T) {
	raw, err := Encode(TypeListSubscribe, nil)
	require.NoError(t, err)

	msg, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, TypeListSubscribe, msg.Type)
	assert.Empty(t, msg.Data)
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode([]byte("not json"))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"data":{}}`))
	assert.Error(t, err, "a frame without a type tag is malformed")
}

func TestUnmarshalEmptyPayload(t *testing.T) {
	msg := Message{Type: TypeRoomJoined}
	var room Room
	assert.Error(t, msg.Unmarshal(&room))
}

func TestRoomRoundTrip(t *testing.T) {
	room := Room{
		Code: "ABC123",
		Settings: Settings{
			Name:       "evening game",
			Visibility: "private",
			MaxPlayers: 4,
			Rounds:     3,
			Bet:        50,
		},
		Players: []RoomPlayer{
			{UserID: "u-1", Name: "ana", Host: true, Ready: true, Connected: true},
			{UserID: "u-2", Name: "ben", Connected: true},
		},
		State:   RoomWaiting,
		Version: 7,
	}

	raw, err := Encode(TypeRoomJoined, room)
	require.NoError(t, err)
	msg, err := Decode(raw)
	require.NoError(t, err)

	var got Room
	require.NoError(t, msg.Unmarshal(&got))
	assert.Equal(t, room, got)
}
