package room

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpotter-25/GolfScorekeeper-sub002/internal/connection"
	"github.com/jpotter-25/GolfScorekeeper-sub002/internal/protocol"
)

type sent struct {
	typ     string
	payload any
}

// fakeFeed records outbound requests and lets tests inject inbound frames.
type fakeFeed struct {
	outbound []sent
	handlers map[string][]connection.Handler
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{handlers: make(map[string][]connection.Handler)}
}

func (f *fakeFeed) Send(typ string, payload any) error {
	f.outbound = append(f.outbound, sent{typ, payload})
	return nil
}

func (f *fakeFeed) On(tag string, fn connection.Handler) {
	f.handlers[tag] = append(f.handlers[tag], fn)
}

func (f *fakeFeed) deliver(t *testing.T, typ string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	for _, fn := range f.handlers[typ] {
		fn(protocol.Message{Type: typ, Data: data})
	}
}

func room(code string, version uint64) protocol.Room {
	return protocol.Room{
		Code:     code,
		Settings: protocol.Settings{Name: "room " + code, Visibility: "public", MaxPlayers: 4, Rounds: 1},
		Players:  []protocol.RoomPlayer{{UserID: "u-1", Host: true, Connected: true}},
		State:    protocol.RoomWaiting,
		Version:  version,
	}
}

// ---------------------------------------------------------------------------
// Directory
// ---------------------------------------------------------------------------

func TestDirectorySnapshotReplaces(t *testing.T) {
	feed := newFakeFeed()
	d := NewDirectory(feed)
	require.NoError(t, d.Subscribe())
	assert.Equal(t, protocol.TypeListSubscribe, feed.outbound[0].typ)

	feed.deliver(t, protocol.TypeListSnapshot, protocol.ListSnapshot{
		Rooms: []protocol.Room{room("BBB222", 1), room("AAA111", 1)},
	})
	rooms := d.Rooms()
	require.Len(t, rooms, 2)
	assert.Equal(t, "AAA111", rooms[0].Code)

	// A later snapshot discards the cache entirely.
	feed.deliver(t, protocol.TypeListSnapshot, protocol.ListSnapshot{
		Rooms: []protocol.Room{room("CCC333", 1)},
	})
	rooms = d.Rooms()
	require.Len(t, rooms, 1)
	assert.Equal(t, "CCC333", rooms[0].Code)
}

func TestDirectoryDiffPatches(t *testing.T) {
	feed := newFakeFeed()
	d := NewDirectory(feed)

	feed.deliver(t, protocol.TypeListSnapshot, protocol.ListSnapshot{
		Rooms: []protocol.Room{room("AAA111", 1), room("BBB222", 1)},
	})

	updated := room("AAA111", 2)
	updated.Settings.Name = "renamed"
	feed.deliver(t, protocol.TypeListDiff, protocol.ListDiff{
		Upsert: []protocol.Room{updated, room("DDD444", 1)},
		Remove: []string{"BBB222"},
	})

	rooms := d.Rooms()
	require.Len(t, rooms, 2)
	assert.Equal(t, "AAA111", rooms[0].Code)
	assert.Equal(t, "renamed", rooms[0].Settings.Name)
	assert.Equal(t, "DDD444", rooms[1].Code)
}

// ---------------------------------------------------------------------------
// Session
// ---------------------------------------------------------------------------

func TestSessionAdoptsJoin(t *testing.T) {
	feed := newFakeFeed()
	s := NewSession(feed, "u-1")

	_, in := s.Room()
	assert.False(t, in)

	feed.deliver(t, protocol.TypeRoomJoined, room("AAA111", 3))
	got, in := s.Room()
	require.True(t, in)
	assert.Equal(t, "AAA111", got.Code)
	assert.Equal(t, uint64(3), got.Version)
}

func TestSessionStaleSettingsDropped(t *testing.T) {
	feed := newFakeFeed()
	s := NewSession(feed, "u-1")
	feed.deliver(t, protocol.TypeRoomJoined, room("AAA111", 5))

	// An update based on an older version must be ignored.
	feed.deliver(t, protocol.TypeSettingsUpdated, protocol.SettingsUpdate{
		Code:     "AAA111",
		Settings: protocol.Settings{Name: "stale"},
		Version:  4,
	})
	got, _ := s.Room()
	assert.NotEqual(t, "stale", got.Settings.Name)
	assert.Equal(t, uint64(5), got.Version)

	feed.deliver(t, protocol.TypeSettingsUpdated, protocol.SettingsUpdate{
		Code:     "AAA111",
		Settings: protocol.Settings{Name: "fresh", MaxPlayers: 3},
		Version:  6,
	})
	got, _ = s.Room()
	assert.Equal(t, "fresh", got.Settings.Name)
	assert.Equal(t, uint64(6), got.Version)
}

// TestSessionDuplicateFlushAbsorbed replays the same messages twice, as a
// reconnect queue flush can, and expects the projection unchanged.
func TestSessionDuplicateFlushAbsorbed(t *testing.T) {
	feed := newFakeFeed()
	s := NewSession(feed, "u-1")

	snap := room("AAA111", 7)
	upd := protocol.SettingsUpdate{Code: "AAA111", Settings: snap.Settings, Version: 7}

	for i := 0; i < 2; i++ {
		feed.deliver(t, protocol.TypeRoomJoined, snap)
		feed.deliver(t, protocol.TypeSettingsUpdated, upd)
	}

	got, in := s.Room()
	require.True(t, in)
	assert.Equal(t, snap.Settings, got.Settings)
	assert.Equal(t, uint64(7), got.Version)
}

func TestSessionHostChanged(t *testing.T) {
	feed := newFakeFeed()
	s := NewSession(feed, "u-1")

	snap := room("AAA111", 2)
	snap.Players = append(snap.Players, protocol.RoomPlayer{UserID: "u-2", Connected: true})
	feed.deliver(t, protocol.TypeRoomJoined, snap)

	feed.deliver(t, protocol.TypeHostChanged, protocol.HostChanged{Code: "AAA111", UserID: "u-2", Version: 3})

	got, _ := s.Room()
	assert.False(t, got.Players[0].Host)
	assert.True(t, got.Players[1].Host)
	assert.Equal(t, uint64(3), got.Version)
}

// TestSessionRoomLeft distinguishes someone else's departure from our own:
// a room:left snapshot still containing our seat updates the view, one
// without it clears the view.
func TestSessionRoomLeft(t *testing.T) {
	feed := newFakeFeed()
	s := NewSession(feed, "u-1")

	snap := room("AAA111", 2)
	snap.Players = append(snap.Players, protocol.RoomPlayer{UserID: "u-2", Connected: true})
	feed.deliver(t, protocol.TypeRoomJoined, snap)

	// u-2 leaves: we stay in the room with the shrunken roster.
	after := room("AAA111", 3)
	feed.deliver(t, protocol.TypeRoomLeft, after)
	got, in := s.Room()
	require.True(t, in)
	require.Len(t, got.Players, 1)
	assert.Equal(t, uint64(3), got.Version)

	// Our own departure: the snapshot no longer lists u-1.
	gone := room("AAA111", 4)
	gone.Players = []protocol.RoomPlayer{{UserID: "u-2", Host: true, Connected: true}}
	feed.deliver(t, protocol.TypeRoomLeft, gone)
	_, in = s.Room()
	assert.False(t, in, "a room:left snapshot without our seat must clear the view")
}

func TestSessionDeleted(t *testing.T) {
	feed := newFakeFeed()
	s := NewSession(feed, "u-1")
	feed.deliver(t, protocol.TypeRoomJoined, room("AAA111", 1))

	feed.deliver(t, protocol.TypeRoomDeleted, protocol.RoomRef{Code: "AAA111"})
	_, in := s.Room()
	assert.False(t, in)
}

func TestSessionUpdateSettingsCarriesVersion(t *testing.T) {
	feed := newFakeFeed()
	s := NewSession(feed, "u-1")
	feed.deliver(t, protocol.TypeRoomJoined, room("AAA111", 9))

	require.NoError(t, s.UpdateSettings(protocol.Settings{Name: "new name"}))

	last := feed.outbound[len(feed.outbound)-1]
	require.Equal(t, protocol.TypeSettingsUpdate, last.typ)
	upd := last.payload.(protocol.SettingsUpdate)
	assert.Equal(t, "AAA111", upd.Code)
	assert.Equal(t, uint64(9), upd.Version)
}
