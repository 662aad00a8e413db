package room

import (
	"sync"

	"github.com/jpotter-25/GolfScorekeeper-sub002/internal/protocol"
)

// Session projects membership, ready, host, and settings messages onto a
// local view of the room the user is in. Settings and host updates carry
// the room's version counter; anything older than the held version is a
// stale concurrent write and is silently dropped.
type Session struct {
	mu     sync.Mutex
	feed   Feed
	userID string
	room   protocol.Room
	inRoom bool
}

// NewSession attaches a Session to the feed. The userID identifies the
// caller's own seat in incoming snapshots.
func NewSession(feed Feed, userID string) *Session {
	s := &Session{feed: feed, userID: userID}
	feed.On(protocol.TypeRoomCreated, s.onRoomSnapshot)
	feed.On(protocol.TypeRoomJoined, s.onRoomSnapshot)
	feed.On(protocol.TypeRoomLeft, s.onRoomLeft)
	feed.On(protocol.TypeRoomDeleted, s.onRoomDeleted)
	feed.On(protocol.TypeSettingsUpdated, s.onSettingsUpdated)
	feed.On(protocol.TypeHostChanged, s.onHostChanged)
	return s
}

// Room returns the current projection and whether the user is in a room.
func (s *Session) Room() (protocol.Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room, s.inRoom
}

// ---------------------------------------------------------------------------
// Requests
// ---------------------------------------------------------------------------

// Create asks the server for a new room.
func (s *Session) Create(settings protocol.Settings, password string) error {
	return s.feed.Send(protocol.TypeRoomCreate, protocol.CreateRoom{Settings: settings, Password: password})
}

// Join asks for membership in an existing room.
func (s *Session) Join(code, password string) error {
	return s.feed.Send(protocol.TypeRoomJoin, protocol.JoinRoom{Code: code, Password: password})
}

// Leave exits the current room.
func (s *Session) Leave() error {
	s.mu.Lock()
	code := s.room.Code
	s.mu.Unlock()
	return s.feed.Send(protocol.TypeRoomLeave, protocol.RoomRef{Code: code})
}

// SetReady toggles the caller's ready flag.
func (s *Session) SetReady(ready bool) error {
	s.mu.Lock()
	code := s.room.Code
	s.mu.Unlock()
	return s.feed.Send(protocol.TypeReadySet, protocol.ReadySet{Code: code, Ready: ready})
}

// UpdateSettings requests a settings change based on the version the caller
// currently holds; the server rejects it when that version is stale.
func (s *Session) UpdateSettings(settings protocol.Settings) error {
	s.mu.Lock()
	code, version := s.room.Code, s.room.Version
	s.mu.Unlock()
	return s.feed.Send(protocol.TypeSettingsUpdate, protocol.SettingsUpdate{
		Code:     code,
		Settings: settings,
		Version:  version,
	})
}

// StartGame asks the server to start the game (host only).
func (s *Session) StartGame() error {
	s.mu.Lock()
	code := s.room.Code
	s.mu.Unlock()
	return s.feed.Send(protocol.TypeGameStart, protocol.RoomRef{Code: code})
}

// ---------------------------------------------------------------------------
// Projection
// ---------------------------------------------------------------------------

// onRoomSnapshot adopts a full room snapshot. A snapshot for a different
// room code always replaces the view; for the same room the version gate
// applies, which absorbs duplicate deliveries after a reconnect flush.
func (s *Session) onRoomSnapshot(msg protocol.Message) {
	var r protocol.Room
	if err := msg.Unmarshal(&r); err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inRoom && s.room.Code == r.Code && r.Version < s.room.Version {
		return
	}
	s.room = r
	s.inRoom = true
}

// onRoomLeft adopts the post-departure snapshot. When the caller's own seat
// is the one missing, the departure was ours and the view clears instead.
func (s *Session) onRoomLeft(msg protocol.Message) {
	var r protocol.Room
	if err := msg.Unmarshal(&r); err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inRoom && s.room.Code == r.Code && r.Version < s.room.Version {
		return
	}
	for _, p := range r.Players {
		if p.UserID == s.userID {
			s.room = r
			s.inRoom = true
			return
		}
	}
	s.room = protocol.Room{}
	s.inRoom = false
}

func (s *Session) onRoomDeleted(msg protocol.Message) {
	var ref protocol.RoomRef
	if err := msg.Unmarshal(&ref); err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inRoom && s.room.Code == ref.Code {
		s.room = protocol.Room{}
		s.inRoom = false
	}
}

func (s *Session) onSettingsUpdated(msg protocol.Message) {
	var upd protocol.SettingsUpdate
	if err := msg.Unmarshal(&upd); err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inRoom || s.room.Code != upd.Code || upd.Version < s.room.Version {
		return
	}
	s.room.Settings = upd.Settings
	s.room.Version = upd.Version
}

func (s *Session) onHostChanged(msg protocol.Message) {
	var hc protocol.HostChanged
	if err := msg.Unmarshal(&hc); err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inRoom || s.room.Code != hc.Code || hc.Version < s.room.Version {
		return
	}
	for i := range s.room.Players {
		s.room.Players[i].Host = s.room.Players[i].UserID == hc.UserID
	}
	s.room.Version = hc.Version
}
