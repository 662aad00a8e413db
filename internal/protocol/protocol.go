// Package protocol defines the wire messages exchanged over the persistent
// game channel. Every frame is a JSON envelope carrying a type tag and a
// flat payload object; both client and server speak exactly this taxonomy.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Message type tags. Direction is noted client->server (out) or
// server->client (in); heartbeat flows both ways.
const (
	TypeAuth          = "auth"          // out: begin handshake
	TypeConnected     = "connected"     // in: server-issued connection id
	TypeAuthenticated = "authenticated" // in: channel ready

	TypeRoomCreate  = "room:create"  // out
	TypeRoomJoin    = "room:join"    // out
	TypeRoomLeave   = "room:leave"   // out
	TypeRoomCreated = "room:created" // in
	TypeRoomJoined  = "room:joined"  // in
	TypeRoomLeft    = "room:left"    // in
	TypeRoomDeleted = "room:deleted" // in

	TypeListSubscribe   = "room:list:subscribe"   // out
	TypeListUnsubscribe = "room:list:unsubscribe" // out
	TypeListSnapshot    = "room:list:snapshot"    // in: full replace
	TypeListDiff        = "room:list:diff"        // in: incremental patch

	TypeSettingsUpdate  = "room:settings:update" // out
	TypeSettingsUpdated = "settings:updated"     // in
	TypeHostChanged     = "host:changed"         // in
	TypeReadySet        = "room:ready:set"       // out

	TypeGameStart  = "game:start"  // out
	TypeGameState  = "game:state"  // in: authoritative resync point
	TypeMoveSubmit = "move:submit" // out
	TypeGameMove   = "game:move"   // in
	TypeGameEnded  = "game:ended"  // in

	TypePing  = "session:ping" // both
	TypePong  = "session:pong" // both
	TypeError = "error"        // in: non-fatal to the channel
)

// Message is the frame envelope. Data holds the raw payload object so a
// receiver can dispatch on Type before committing to a payload shape.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode builds a serialized frame from a type tag and payload. A nil
// payload produces an envelope with no data field.
func Encode(typ string, payload any) ([]byte, error) {
	msg := Message{Type: typ}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", typ, err)
		}
		msg.Data = data
	}
	return json.Marshal(msg)
}

// Decode parses a raw frame into its envelope.
func Decode(raw []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, fmt.Errorf("decode frame: %w", err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("decode frame: missing type tag")
	}
	return msg, nil
}

// Unmarshal decodes the envelope's payload into v.
func (m Message) Unmarshal(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s: empty payload", m.Type)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("%s payload: %w", m.Type, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Handshake and heartbeat payloads
// ---------------------------------------------------------------------------

// Auth opens the handshake. Token is the caller's signed session token.
type Auth struct {
	UserID string `json:"userId"`
	Token  string `json:"token"`
}

// Connected carries the server-issued channel identifier.
type Connected struct {
	ConnectionID string `json:"connectionId"`
}

// Ping doubles as the pong payload; the peer echoes the timestamp back.
type Ping struct {
	Timestamp int64 `json:"timestamp"`
}

// Error is a non-fatal failure surfaced to the caller.
type Error struct {
	Message string `json:"message"`
}

// ---------------------------------------------------------------------------
// Room model
// ---------------------------------------------------------------------------

// Room lifecycle states.
const (
	RoomWaiting  = "waiting"
	RoomActive   = "active"
	RoomFinished = "finished"
)

// Settings are the host-editable room parameters.
type Settings struct {
	Name       string `json:"name"`
	Visibility string `json:"visibility"` // "public" or "private"
	MaxPlayers uint8  `json:"maxPlayers"`
	Rounds     uint8  `json:"rounds"`
	Bet        int    `json:"bet"`
}

// RoomPlayer is one member of a room as seen by every client.
type RoomPlayer struct {
	UserID    string `json:"userId"`
	Name      string `json:"name"`
	Host      bool   `json:"host"`
	Ready     bool   `json:"ready"`
	Connected bool   `json:"connected"`
}

// Room is the shared room snapshot. Version increases on every server-side
// mutation; receivers drop any update whose version is behind the one they
// hold.
type Room struct {
	Code     string       `json:"code"`
	Settings Settings     `json:"settings"`
	Players  []RoomPlayer `json:"players"`
	State    string       `json:"state"`
	Version  uint64       `json:"version"`
}

// CreateRoom requests a new room. Password is only meaningful for private
// visibility.
type CreateRoom struct {
	Settings Settings `json:"settings"`
	Password string   `json:"password,omitempty"`
}

// JoinRoom requests membership in an existing room.
type JoinRoom struct {
	Code     string `json:"code"`
	Password string `json:"password,omitempty"`
}

// RoomRef names a room for leave, delete, and start requests.
type RoomRef struct {
	Code string `json:"code"`
}

// SettingsUpdate carries a settings write together with the version the
// writer based it on.
type SettingsUpdate struct {
	Code     string   `json:"code"`
	Settings Settings `json:"settings"`
	Version  uint64   `json:"version"`
}

// HostChanged announces the new host after a hand-off.
type HostChanged struct {
	Code    string `json:"code"`
	UserID  string `json:"userId"`
	Version uint64 `json:"version"`
}

// ReadySet toggles the sender's ready flag.
type ReadySet struct {
	Code  string `json:"code"`
	Ready bool   `json:"ready"`
}

// ListSnapshot replaces the directory cache wholesale.
type ListSnapshot struct {
	Rooms []Room `json:"rooms"`
}

// ListDiff patches the directory cache: upserts applied first, then
// removals, in receipt order.
type ListDiff struct {
	Upsert []Room   `json:"upsert,omitempty"`
	Remove []string `json:"remove,omitempty"`
}

// ---------------------------------------------------------------------------
// Game payloads
// ---------------------------------------------------------------------------

// Move actions.
const (
	MovePeek        = "peek"
	MoveDrawStock   = "drawStock"
	MoveDrawDiscard = "drawDiscard"
	MoveResolve     = "resolve"
)

// Move is one turn action. PeekA/PeekB apply to peek; Cell and Keep apply
// to resolve.
type Move struct {
	Action string `json:"action"`
	PeekA  uint8  `json:"peekA,omitempty"`
	PeekB  uint8  `json:"peekB,omitempty"`
	Cell   uint8  `json:"cell,omitempty"`
	Keep   bool   `json:"keep,omitempty"`
}

// MoveSubmit submits a turn action for the sender's seat.
type MoveSubmit struct {
	Code string `json:"code"`
	Move Move   `json:"move"`
}

// GameMove echoes an applied move to every member of the room.
type GameMove struct {
	Code string `json:"code"`
	Seat uint8  `json:"seat"`
	Move Move   `json:"move"`
}

// CellView is one grid cell as a given viewer may see it. Card is the
// rank+suit code ("Ah", "10s") when visible to that viewer and empty while
// the cell is face-down.
type CellView struct {
	Card     string `json:"card,omitempty"`
	Revealed bool   `json:"revealed"`
	Cleared  bool   `json:"cleared"`
}

// SeatView is one player's public game state.
type SeatView struct {
	UserID     string      `json:"userId"`
	Grid       [9]CellView `json:"grid"`
	Connected  bool        `json:"connected"`
	RoundScore int16       `json:"roundScore"`
	TotalScore int16       `json:"totalScore"`
}

// GameStateView is the per-viewer projection of the authoritative engine
// state. It is a full resynchronization point: receivers discard whatever
// they believed and adopt this snapshot.
type GameStateView struct {
	Code          string     `json:"code"`
	Phase         string     `json:"phase"`
	Round         uint8      `json:"round"`
	CurrentPlayer uint8      `json:"currentPlayer"`
	ExtraTurn     bool       `json:"extraTurn"`
	StockCount    uint8      `json:"stockCount"`
	DiscardTop    string     `json:"discardTop,omitempty"`
	DrawnCard     string     `json:"drawnCard,omitempty"`
	Seats         []SeatView `json:"seats"`
}

// GameEnded carries final scores once the last round completes.
type GameEnded struct {
	Code    string  `json:"code"`
	Totals  []int16 `json:"totals"`
	Winners []uint8 `json:"winners"`
}
