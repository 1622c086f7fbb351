package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripAnnouncePong(t *testing.T) {
	e := &Envelope{
		SourceID: 0xdeadbeef,
		DestID:   0,
		Variant:  VariantAnnounce,
		Announce: &AnnouncePayload{
			Kind: AnnouncePong,
			Peers: []PeerInfo{
				{PeerID: 1001, IP: PackIPv4(10, 0, 0, 5), UDPPort: 40000, AppID: 730},
			},
		},
	}
	b, err := Encode(e)
	require.NoError(t, err)

	got, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, e.SourceID, got.SourceID)
	assert.Equal(t, e.Variant, got.Variant)
	require.NotNil(t, got.Announce)
	assert.Equal(t, AnnouncePong, got.Announce.Kind)
	require.Len(t, got.Announce.Peers, 1)
	assert.Equal(t, uint64(1001), got.Announce.Peers[0].PeerID)
	a, b2, c, d := UnpackIPv4(got.Announce.Peers[0].IP)
	assert.Equal(t, [4]byte{10, 0, 0, 5}, [4]byte{a, b2, c, d})
}

func TestRoundTripLobbyQuery(t *testing.T) {
	e := &Envelope{
		SourceID: 1004,
		Variant:  VariantLobby,
		Lobby: &LobbyPayload{
			RoomID:   0,
			AppID:    730,
			Metadata: map[string][]byte{"map": []byte("A")},
		},
	}
	b, err := Encode(e)
	require.NoError(t, err)
	got, err := Decode(b)
	require.NoError(t, err)
	require.NotNil(t, got.Lobby)
	assert.Equal(t, uint64(0), got.Lobby.RoomID)
	assert.Equal(t, []byte("A"), got.Lobby.Metadata["map"])
}

func TestRoundTripLobbyMessageChat(t *testing.T) {
	e := &Envelope{
		SourceID: 1001,
		Variant:  VariantLobbyMessages,
		LobbyMessage: &LobbyMessagePayload{
			Type:    LobbyMsgChat,
			RoomID:  5000,
			Payload: []byte("hello"),
		},
	}
	b, err := Encode(e)
	require.NoError(t, err)
	got, err := Decode(b)
	require.NoError(t, err)
	require.NotNil(t, got.LobbyMessage)
	assert.Equal(t, LobbyMsgChat, got.LobbyMessage.Type)
	assert.Equal(t, []byte("hello"), got.LobbyMessage.Payload)
}

func TestDecodeTruncatedIsNonFatal(t *testing.T) {
	_, err := Decode([]byte{0, 0, 0})
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestDecodeUnknownVariant(t *testing.T) {
	w := &writer{}
	w.u64(1)
	w.u64(0)
	w.u16(0xffff)
	_, err := Decode(w.buf)
	assert.ErrorIs(t, err, ErrUnknownVariant)
}

func TestNoopVariantRoundTrips(t *testing.T) {
	e := &Envelope{
		SourceID: 1,
		Variant:  VariantFriend,
		Opaque:   []byte{1, 2, 3},
	}
	b, err := Encode(e)
	require.NoError(t, err)
	got, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got.Opaque)
}
