package lobby

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func TestLobbyLifecycle_S2_S3(t *testing.T) {
	m := New(testLog())

	snap, _, err := m.CreateOrUpdate(Lobby{
		RoomID: 5000, AppID: 730, Owner: 1001, MemberLimit: 4,
		Joinable: true, Kind: 1, Metadata: map[string][]byte{"map": []byte("A")},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1001), snap.Owner)
	assert.Len(t, snap.Members, 1)

	_, err = m.Join(5000, 1002)
	require.NoError(t, err)
	_, err = m.Join(5000, 1003)
	require.NoError(t, err)

	results := m.Query(730, map[string][]byte{"map": []byte("A")}, 0)
	require.Len(t, results, 1)
	assert.Len(t, results[0].Members, 3)

	assert.Empty(t, m.Query(730, map[string][]byte{"map": []byte("B")}, 0))

	res, err := m.Leave(5000, 1001, time.Now())
	require.NoError(t, err)
	assert.True(t, res.OwnerChanged)
	assert.False(t, res.Deleted)
	assert.Equal(t, uint64(1002), res.Lobby.Owner)

	_, err = m.Leave(5000, 1003, time.Now())
	require.NoError(t, err)
	res, err = m.Leave(5000, 1002, time.Now())
	require.NoError(t, err)
	assert.True(t, res.Deleted)

	removed := m.Reap(time.Now().Add(6*time.Minute), 5*time.Minute)
	assert.Equal(t, 1, removed)
	_, ok := m.Get(5000)
	assert.False(t, ok)
}

func TestMembershipIndexConsistency(t *testing.T) {
	m := New(testLog())
	_, _, err := m.CreateOrUpdate(Lobby{RoomID: 1, AppID: 730, Owner: 1, Joinable: true})
	require.NoError(t, err)
	_, err = m.Join(1, 2)
	require.NoError(t, err)

	assert.ElementsMatch(t, []uint64{1}, m.RoomsOf(1))
	assert.ElementsMatch(t, []uint64{1}, m.RoomsOf(2))

	_, err = m.Leave(1, 2, time.Now())
	require.NoError(t, err)
	assert.Empty(t, m.RoomsOf(2))
}

func TestJoinGuards(t *testing.T) {
	m := New(testLog())
	_, err := m.Join(999, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = m.CreateOrUpdate(Lobby{RoomID: 1, AppID: 730, Owner: 1, Joinable: true, MemberLimit: 1})
	require.NoError(t, err)
	_, err = m.Join(1, 2)
	assert.ErrorIs(t, err, ErrNotJoinable)
}

func TestChangeOwnerRequiresCurrentOwner(t *testing.T) {
	m := New(testLog())
	_, _, err := m.CreateOrUpdate(Lobby{RoomID: 1, AppID: 730, Owner: 1, Joinable: true})
	require.NoError(t, err)
	_, err = m.ChangeOwner(1, 2, 3)
	assert.ErrorIs(t, err, ErrNotOwner)

	_, err = m.ChangeOwner(1, 1, 2)
	require.NoError(t, err)
	l, _ := m.Get(1)
	assert.Equal(t, uint64(2), l.Owner)
}

func TestMemberDataMerge(t *testing.T) {
	m := New(testLog())
	_, _, err := m.CreateOrUpdate(Lobby{RoomID: 1, AppID: 730, Owner: 1, Joinable: true})
	require.NoError(t, err)
	_, err = m.MemberData(1, 1, map[string][]byte{"a": []byte("1")})
	require.NoError(t, err)
	l, _ := m.Get(1)
	assert.Equal(t, []byte("1"), l.Members[0].Metadata["a"])

	_, err = m.MemberData(1, 1, nil)
	assert.ErrorIs(t, err, ErrNoMetadata)
}

func TestQueryOrdering(t *testing.T) {
	m := New(testLog())
	_, _, err := m.CreateOrUpdate(Lobby{RoomID: 1, AppID: 730, Owner: 1, Joinable: true})
	require.NoError(t, err)
	_, _, err = m.CreateOrUpdate(Lobby{RoomID: 2, AppID: 730, Owner: 2, Joinable: true, ServerID: 42})
	require.NoError(t, err)
	_, err = m.Join(1, 10)
	require.NoError(t, err)
	_, err = m.Join(1, 11)
	require.NoError(t, err)

	results := m.Query(730, nil, 0)
	require.Len(t, results, 2)
	assert.Equal(t, uint64(1), results[0].RoomID, "3-member lobby outranks 1-member lobby")
}
