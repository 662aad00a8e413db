// Package server is the authoritative room hub. It accepts persistent
// channels, runs the auth handshake, and speaks the protocol taxonomy:
// room lifecycle, the directory feed, version-gated settings, and game
// start/move/state/end against the rules engine.
package server

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jpotter-25/GolfScorekeeper-sub002/engine"
	"github.com/jpotter-25/GolfScorekeeper-sub002/internal/auth"
	"github.com/jpotter-25/GolfScorekeeper-sub002/internal/connection"
	"github.com/jpotter-25/GolfScorekeeper-sub002/internal/protocol"
)

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Hub owns every room and connected client. One mutex guards the registry;
// handlers run an event to completion before the next one for a client is
// read.
type Hub struct {
	mu sync.Mutex

	log     *logrus.Entry
	issuer  *auth.Issuer
	history *History

	rooms       map[string]*hubRoom
	subscribers map[*client]struct{}

	// seed derives the engine seed per game; tests pin it.
	seed func() uint64
}

type hubRoom struct {
	proto    protocol.Room
	password string
	members  map[string]*client // userID -> channel, nil while disconnected
	seats    []string           // userID per seat, in join order
	game     *engine.GameState
}

type client struct {
	id     string
	userID string

	transport connection.Transport
	writeMu   sync.Mutex

	roomCode string
}

// NewHub builds an empty hub.
func NewHub(issuer *auth.Issuer, history *History, log *logrus.Entry) *Hub {
	return &Hub{
		log:         log.WithField("component", "hub"),
		issuer:      issuer,
		history:     history,
		rooms:       make(map[string]*hubRoom),
		subscribers: make(map[*client]struct{}),
	}
}

// Serve runs one client channel to completion: handshake first, then the
// message loop. It returns when the channel closes.
func (h *Hub) Serve(ctx context.Context, t Transport) error {
	c, err := h.handshake(ctx, t)
	if err != nil {
		t.Close()
		return err
	}
	h.log.WithFields(logrus.Fields{"user": c.userID, "conn": c.id}).Info("client authenticated")

	defer h.dropClient(c)
	for {
		data, err := t.Read(ctx)
		if err != nil {
			return nil
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			// Malformed frames are logged and dropped; the channel stays up.
			h.log.WithError(err).WithField("user", c.userID).Warn("dropping malformed frame")
			continue
		}
		h.handle(c, msg)
	}
}

// Transport mirrors the client-side frame interface so tests can drive the
// hub over an in-memory pipe.
type Transport = connection.Transport

// handshake requires the first frame to be auth with a valid token.
func (h *Hub) handshake(ctx context.Context, t Transport) (*client, error) {
	data, err := t.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("handshake read: %w", err)
	}
	msg, err := protocol.Decode(data)
	if err != nil || msg.Type != protocol.TypeAuth {
		return nil, errors.New("handshake: first frame must be auth")
	}
	var a protocol.Auth
	if err := msg.Unmarshal(&a); err != nil {
		return nil, err
	}
	userID, err := h.issuer.Verify(a.Token)
	if err != nil {
		return nil, fmt.Errorf("handshake: %w", err)
	}
	if a.UserID != "" && a.UserID != userID {
		return nil, errors.New("handshake: user id does not match token")
	}

	c := &client{id: uuid.NewString(), userID: userID, transport: t}
	c.send(h.log, protocol.TypeConnected, protocol.Connected{ConnectionID: c.id})
	c.send(h.log, protocol.TypeAuthenticated, nil)
	return c, nil
}

func (c *client) send(log *logrus.Entry, typ string, payload any) {
	frame, err := protocol.Encode(typ, payload)
	if err != nil {
		log.WithError(err).Error("encode outbound frame")
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.transport.Write(ctx, frame); err != nil {
		log.WithError(err).WithField("user", c.userID).Debug("outbound write failed")
	}
}

func (h *Hub) sendError(c *client, format string, args ...any) {
	c.send(h.log, protocol.TypeError, protocol.Error{Message: fmt.Sprintf(format, args...)})
}

// ---------------------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------------------

func (h *Hub) handle(c *client, msg protocol.Message) {
	switch msg.Type {
	case protocol.TypePing:
		var p protocol.Ping
		if msg.Unmarshal(&p) == nil {
			c.send(h.log, protocol.TypePong, p)
		}
	case protocol.TypeRoomCreate:
		h.handleCreate(c, msg)
	case protocol.TypeRoomJoin:
		h.handleJoin(c, msg)
	case protocol.TypeRoomLeave:
		h.handleLeave(c)
	case protocol.TypeListSubscribe:
		h.handleSubscribe(c)
	case protocol.TypeListUnsubscribe:
		h.mu.Lock()
		delete(h.subscribers, c)
		h.mu.Unlock()
	case protocol.TypeSettingsUpdate:
		h.handleSettingsUpdate(c, msg)
	case protocol.TypeReadySet:
		h.handleReadySet(c, msg)
	case protocol.TypeGameStart:
		h.handleGameStart(c)
	case protocol.TypeMoveSubmit:
		h.handleMove(c, msg)
	default:
		h.sendError(c, "unknown message type %q", msg.Type)
	}
}

// ---------------------------------------------------------------------------
// Room lifecycle
// ---------------------------------------------------------------------------

func normalizeSettings(s protocol.Settings) protocol.Settings {
	if s.MaxPlayers == 0 || s.MaxPlayers > engine.MaxPlayers {
		s.MaxPlayers = engine.MaxPlayers
	}
	if s.MaxPlayers < 2 {
		s.MaxPlayers = 2
	}
	if s.Rounds == 0 {
		s.Rounds = 1
	}
	if s.Visibility != "private" {
		s.Visibility = "public"
	}
	return s
}

func (h *Hub) handleCreate(c *client, msg protocol.Message) {
	var req protocol.CreateRoom
	if err := msg.Unmarshal(&req); err != nil {
		h.sendError(c, "room:create: %v", err)
		return
	}

	h.mu.Lock()
	if c.roomCode != "" {
		h.mu.Unlock()
		h.sendError(c, "already in room %s", c.roomCode)
		return
	}
	code := h.newCodeLocked()
	r := &hubRoom{
		proto: protocol.Room{
			Code:     code,
			Settings: normalizeSettings(req.Settings),
			Players: []protocol.RoomPlayer{{
				UserID:    c.userID,
				Host:      true,
				Connected: true,
			}},
			State:   protocol.RoomWaiting,
			Version: 1,
		},
		password: req.Password,
		members:  map[string]*client{c.userID: c},
		seats:    []string{c.userID},
	}
	h.rooms[code] = r
	c.roomCode = code
	snapshot := r.proto
	h.mu.Unlock()

	h.log.WithFields(logrus.Fields{"room": code, "host": c.userID}).Info("room created")
	c.send(h.log, protocol.TypeRoomCreated, snapshot)
	h.broadcastDiff(protocol.ListDiff{Upsert: []protocol.Room{snapshot}})
}

// newCodeLocked draws a 6-character room code that is not in use.
func (h *Hub) newCodeLocked() string {
	for {
		var buf [6]byte
		if _, err := rand.Read(buf[:]); err != nil {
			panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
		}
		for i := range buf {
			buf[i] = codeAlphabet[int(buf[i])%len(codeAlphabet)]
		}
		code := string(buf[:])
		if _, taken := h.rooms[code]; !taken {
			return code
		}
	}
}

func (h *Hub) handleJoin(c *client, msg protocol.Message) {
	var req protocol.JoinRoom
	if err := msg.Unmarshal(&req); err != nil {
		h.sendError(c, "room:join: %v", err)
		return
	}

	h.mu.Lock()
	r, ok := h.rooms[req.Code]
	switch {
	case !ok:
		h.mu.Unlock()
		h.sendError(c, "room %s not found", req.Code)
		return
	case c.roomCode != "":
		h.mu.Unlock()
		h.sendError(c, "already in room %s", c.roomCode)
		return
	case r.proto.State != protocol.RoomWaiting:
		h.mu.Unlock()
		h.sendError(c, "room %s already started", req.Code)
		return
	case len(r.proto.Players) >= int(r.proto.Settings.MaxPlayers):
		h.mu.Unlock()
		h.sendError(c, "room %s is full", req.Code)
		return
	case r.proto.Settings.Visibility == "private" && r.password != req.Password:
		h.mu.Unlock()
		h.sendError(c, "wrong password for room %s", req.Code)
		return
	}

	r.proto.Players = append(r.proto.Players, protocol.RoomPlayer{
		UserID:    c.userID,
		Connected: true,
	})
	r.members[c.userID] = c
	r.seats = append(r.seats, c.userID)
	r.proto.Version++
	c.roomCode = req.Code
	snapshot := r.proto
	members := r.clientsLocked()
	h.mu.Unlock()

	h.log.WithFields(logrus.Fields{"room": req.Code, "user": c.userID}).Info("player joined")
	for _, m := range members {
		m.send(h.log, protocol.TypeRoomJoined, snapshot)
	}
	h.broadcastDiff(protocol.ListDiff{Upsert: []protocol.Room{snapshot}})
}

func (h *Hub) handleLeave(c *client) {
	h.mu.Lock()
	r, ok := h.rooms[c.roomCode]
	if !ok {
		h.mu.Unlock()
		h.sendError(c, "not in a room")
		return
	}
	code := c.roomCode
	c.roomCode = ""
	deleted, hostChanged := r.removeLocked(c.userID)
	if deleted {
		delete(h.rooms, code)
	}
	snapshot := r.proto
	members := r.clientsLocked()
	h.mu.Unlock()

	h.log.WithFields(logrus.Fields{"room": code, "user": c.userID}).Info("player left")
	if deleted {
		c.send(h.log, protocol.TypeRoomDeleted, protocol.RoomRef{Code: code})
		h.broadcastDiff(protocol.ListDiff{Remove: []string{code}})
		return
	}
	// The leaver gets the same post-departure snapshot; their own seat being
	// absent from it is the "you left" signal.
	c.send(h.log, protocol.TypeRoomLeft, snapshot)
	for _, m := range members {
		m.send(h.log, protocol.TypeRoomLeft, snapshot)
		if hostChanged != "" {
			m.send(h.log, protocol.TypeHostChanged, protocol.HostChanged{
				Code: code, UserID: hostChanged, Version: snapshot.Version,
			})
		}
	}
	h.broadcastDiff(protocol.ListDiff{Upsert: []protocol.Room{snapshot}})
}

// removeLocked takes a user out of the room. While a game is active the
// seat survives and is only marked disconnected, so turn order stays
// stable. Returns whether the room emptied and the new host's id if the
// host moved.
func (r *hubRoom) removeLocked(userID string) (deleted bool, newHost string) {
	delete(r.members, userID)

	if r.proto.State == protocol.RoomActive {
		for i := range r.proto.Players {
			if r.proto.Players[i].UserID == userID {
				r.proto.Players[i].Connected = false
			}
		}
		if r.game != nil {
			if seat, ok := r.seatOf(userID); ok {
				r.game.SetConnected(seat, false)
			}
		}
	} else {
		for i, p := range r.proto.Players {
			if p.UserID == userID {
				wasHost := p.Host
				r.proto.Players = append(r.proto.Players[:i], r.proto.Players[i+1:]...)
				if wasHost && len(r.proto.Players) > 0 {
					r.proto.Players[0].Host = true
					newHost = r.proto.Players[0].UserID
				}
				break
			}
		}
		for i, id := range r.seats {
			if id == userID {
				r.seats = append(r.seats[:i], r.seats[i+1:]...)
				break
			}
		}
	}

	if len(r.members) == 0 {
		return true, ""
	}
	r.proto.Version++
	return false, newHost
}

func (r *hubRoom) seatOf(userID string) (uint8, bool) {
	for i, id := range r.seats {
		if id == userID {
			return uint8(i), true
		}
	}
	return 0, false
}

func (r *hubRoom) clientsLocked() []*client {
	out := make([]*client, 0, len(r.members))
	for _, m := range r.members {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Directory feed
// ---------------------------------------------------------------------------

func (h *Hub) handleSubscribe(c *client) {
	h.mu.Lock()
	h.subscribers[c] = struct{}{}
	snap := protocol.ListSnapshot{Rooms: make([]protocol.Room, 0, len(h.rooms))}
	for _, r := range h.rooms {
		snap.Rooms = append(snap.Rooms, r.proto)
	}
	h.mu.Unlock()

	c.send(h.log, protocol.TypeListSnapshot, snap)
}

func (h *Hub) broadcastDiff(diff protocol.ListDiff) {
	h.mu.Lock()
	subs := make([]*client, 0, len(h.subscribers))
	for c := range h.subscribers {
		subs = append(subs, c)
	}
	h.mu.Unlock()

	for _, c := range subs {
		c.send(h.log, protocol.TypeListDiff, diff)
	}
}

// ---------------------------------------------------------------------------
// Settings, ready, host
// ---------------------------------------------------------------------------

func (h *Hub) handleSettingsUpdate(c *client, msg protocol.Message) {
	var req protocol.SettingsUpdate
	if err := msg.Unmarshal(&req); err != nil {
		h.sendError(c, "room:settings:update: %v", err)
		return
	}

	h.mu.Lock()
	r, ok := h.rooms[c.roomCode]
	if !ok || c.roomCode != req.Code {
		h.mu.Unlock()
		h.sendError(c, "not in room %s", req.Code)
		return
	}
	if !r.isHostLocked(c.userID) {
		h.mu.Unlock()
		h.sendError(c, "only the host can change settings")
		return
	}
	if req.Version < r.proto.Version {
		// Stale concurrent write: dropped, not an error.
		h.mu.Unlock()
		h.log.WithFields(logrus.Fields{"room": req.Code, "held": r.proto.Version, "got": req.Version}).
			Debug("stale settings write dropped")
		return
	}
	r.proto.Settings = normalizeSettings(req.Settings)
	r.proto.Version++
	update := protocol.SettingsUpdate{Code: req.Code, Settings: r.proto.Settings, Version: r.proto.Version}
	snapshot := r.proto
	members := r.clientsLocked()
	h.mu.Unlock()

	for _, m := range members {
		m.send(h.log, protocol.TypeSettingsUpdated, update)
	}
	h.broadcastDiff(protocol.ListDiff{Upsert: []protocol.Room{snapshot}})
}

func (r *hubRoom) isHostLocked(userID string) bool {
	for _, p := range r.proto.Players {
		if p.UserID == userID {
			return p.Host
		}
	}
	return false
}

func (h *Hub) handleReadySet(c *client, msg protocol.Message) {
	var req protocol.ReadySet
	if err := msg.Unmarshal(&req); err != nil {
		h.sendError(c, "room:ready:set: %v", err)
		return
	}

	h.mu.Lock()
	r, ok := h.rooms[c.roomCode]
	if !ok {
		h.mu.Unlock()
		h.sendError(c, "not in a room")
		return
	}
	for i := range r.proto.Players {
		if r.proto.Players[i].UserID == c.userID {
			r.proto.Players[i].Ready = req.Ready
		}
	}
	r.proto.Version++
	snapshot := r.proto
	members := r.clientsLocked()
	h.mu.Unlock()

	for _, m := range members {
		m.send(h.log, protocol.TypeRoomJoined, snapshot)
	}
}

// ---------------------------------------------------------------------------
// Game
// ---------------------------------------------------------------------------

func (h *Hub) handleGameStart(c *client) {
	h.mu.Lock()
	r, ok := h.rooms[c.roomCode]
	switch {
	case !ok:
		h.mu.Unlock()
		h.sendError(c, "not in a room")
		return
	case !r.isHostLocked(c.userID):
		h.mu.Unlock()
		h.sendError(c, "only the host can start the game")
		return
	case r.proto.State != protocol.RoomWaiting:
		h.mu.Unlock()
		h.sendError(c, "game already running")
		return
	case len(r.proto.Players) < 2:
		h.mu.Unlock()
		h.sendError(c, "need at least 2 players")
		return
	}
	for _, p := range r.proto.Players {
		if !p.Ready && !p.Host {
			h.mu.Unlock()
			h.sendError(c, "player %s is not ready", p.UserID)
			return
		}
	}

	seed := uint64(time.Now().UnixNano())
	if h.seed != nil {
		seed = h.seed()
	}
	g := engine.NewGame(seed, engine.Rules{
		NumPlayers: uint8(len(r.proto.Players)),
		Rounds:     r.proto.Settings.Rounds,
	})
	if err := g.Deal(); err != nil {
		h.mu.Unlock()
		h.sendError(c, "deal: %v", err)
		return
	}
	r.game = &g
	r.proto.State = protocol.RoomActive
	r.proto.Version++
	snapshot := r.proto
	h.mu.Unlock()

	h.log.WithFields(logrus.Fields{"room": c.roomCode, "players": len(snapshot.Players)}).Info("game started")
	h.history.Record(c.roomCode, c.userID, "game_start", map[string]any{"seed": seed})
	h.broadcastGameState(c.roomCode)
	h.broadcastDiff(protocol.ListDiff{Upsert: []protocol.Room{snapshot}})
}

func (h *Hub) handleMove(c *client, msg protocol.Message) {
	var req protocol.MoveSubmit
	if err := msg.Unmarshal(&req); err != nil {
		h.sendError(c, "move:submit: %v", err)
		return
	}

	h.mu.Lock()
	r, ok := h.rooms[c.roomCode]
	if !ok || r.game == nil || c.roomCode != req.Code {
		h.mu.Unlock()
		h.sendError(c, "no active game in room %s", req.Code)
		return
	}
	seat, ok := r.seatOf(c.userID)
	if !ok {
		h.mu.Unlock()
		h.sendError(c, "no seat in room %s", req.Code)
		return
	}
	if err := applyMove(r.game, seat, req.Move); err != nil {
		h.mu.Unlock()
		if errors.Is(err, engine.ErrDeckExhausted) {
			// Both piles empty breaks deck conservation; the round cannot
			// continue and re-prompting would loop forever.
			h.log.WithError(err).WithField("room", req.Code).Error("game state unrecoverable")
			h.abortGame(req.Code, err)
			return
		}
		// Illegal moves reject without mutating state; the caller re-prompts.
		h.sendError(c, "move rejected: %v", err)
		return
	}
	ended := r.game.IsFinished()
	roundEnd := r.game.Phase == engine.PhaseRoundEnd
	members := r.clientsLocked()
	applied := protocol.GameMove{Code: req.Code, Seat: seat, Move: req.Move}
	h.mu.Unlock()

	h.history.Record(req.Code, c.userID, "move_"+req.Move.Action, map[string]any{
		"seat": seat, "cell": req.Move.Cell, "keep": req.Move.Keep,
	})
	for _, m := range members {
		m.send(h.log, protocol.TypeGameMove, applied)
	}

	switch {
	case ended:
		h.finishGame(req.Code)
	case roundEnd:
		h.mu.Lock()
		if r.game != nil {
			if err := r.game.NextRound(); err != nil {
				h.log.WithError(err).Error("next round")
			}
		}
		h.mu.Unlock()
		h.broadcastGameState(req.Code)
	default:
		h.broadcastGameState(req.Code)
	}
}

func applyMove(g *engine.GameState, seat uint8, mv protocol.Move) error {
	switch mv.Action {
	case protocol.MovePeek:
		return g.Peek(seat, mv.PeekA, mv.PeekB)
	case protocol.MoveDrawStock:
		return g.DrawStock(seat)
	case protocol.MoveDrawDiscard:
		return g.DrawDiscard(seat)
	case protocol.MoveResolve:
		return g.Resolve(seat, mv.Cell, mv.Keep)
	default:
		return fmt.Errorf("unknown action %q", mv.Action)
	}
}

// broadcastGameState sends every member their own projection of the game.
func (h *Hub) broadcastGameState(code string) {
	h.mu.Lock()
	r, ok := h.rooms[code]
	if !ok || r.game == nil {
		h.mu.Unlock()
		return
	}
	type delivery struct {
		c    *client
		view protocol.GameStateView
	}
	var out []delivery
	for userID, m := range r.members {
		if m == nil {
			continue
		}
		seat := int8(-1)
		if s, ok := r.seatOf(userID); ok {
			seat = int8(s)
		}
		out = append(out, delivery{m, buildGameView(code, r.game, r.seats, seat)})
	}
	h.mu.Unlock()

	for _, d := range out {
		d.c.send(h.log, protocol.TypeGameState, d.view)
	}
}

// finishGame emits final scores and returns the room to the lobby; the
// GameState is discarded.
func (h *Hub) finishGame(code string) {
	h.mu.Lock()
	r, ok := h.rooms[code]
	if !ok || r.game == nil {
		h.mu.Unlock()
		return
	}
	ended := protocol.GameEnded{
		Code:    code,
		Totals:  r.game.TotalScores(),
		Winners: r.game.Winners(),
	}
	r.game = nil
	r.proto.State = protocol.RoomWaiting
	for i := range r.proto.Players {
		r.proto.Players[i].Ready = false
	}
	r.proto.Version++
	snapshot := r.proto
	members := r.clientsLocked()
	h.mu.Unlock()

	h.log.WithFields(logrus.Fields{"room": code, "winners": ended.Winners}).Info("game ended")
	h.history.Record(code, "", "game_end", map[string]any{"totals": ended.Totals})
	for _, m := range members {
		m.send(h.log, protocol.TypeGameEnded, ended)
		m.send(h.log, protocol.TypeRoomJoined, snapshot)
	}
	h.broadcastDiff(protocol.ListDiff{Upsert: []protocol.Room{snapshot}})
}

// abortGame discards a game whose state can no longer be trusted and
// returns the room to the lobby. No scores are awarded.
func (h *Hub) abortGame(code string, cause error) {
	h.mu.Lock()
	r, ok := h.rooms[code]
	if !ok || r.game == nil {
		h.mu.Unlock()
		return
	}
	r.game = nil
	r.proto.State = protocol.RoomWaiting
	for i := range r.proto.Players {
		r.proto.Players[i].Ready = false
	}
	r.proto.Version++
	snapshot := r.proto
	members := r.clientsLocked()
	h.mu.Unlock()

	h.history.Record(code, "", "game_abort", map[string]any{"cause": cause.Error()})
	for _, m := range members {
		m.send(h.log, protocol.TypeError, protocol.Error{Message: fmt.Sprintf("game aborted: %v", cause)})
		m.send(h.log, protocol.TypeRoomJoined, snapshot)
	}
	h.broadcastDiff(protocol.ListDiff{Upsert: []protocol.Room{snapshot}})
}

// ---------------------------------------------------------------------------
// Disconnect
// ---------------------------------------------------------------------------

// dropClient cleans up after a channel closes: the directory subscription
// goes away and the player's seat is marked disconnected for the room and
// the running game.
func (h *Hub) dropClient(c *client) {
	h.mu.Lock()
	delete(h.subscribers, c)
	r, inRoom := h.rooms[c.roomCode]
	if !inRoom {
		h.mu.Unlock()
		return
	}
	if r.members[c.userID] == c {
		r.members[c.userID] = nil
	}
	for i := range r.proto.Players {
		if r.proto.Players[i].UserID == c.userID {
			r.proto.Players[i].Connected = false
		}
	}
	if r.game != nil {
		if seat, ok := r.seatOf(c.userID); ok {
			r.game.SetConnected(seat, false)
		}
	}
	r.proto.Version++
	snapshot := r.proto
	members := r.clientsLocked()
	code := c.roomCode
	h.mu.Unlock()

	h.log.WithFields(logrus.Fields{"room": code, "user": c.userID}).Info("client dropped")
	for _, m := range members {
		m.send(h.log, protocol.TypeRoomJoined, snapshot)
	}
	h.broadcastGameState(code)
	h.broadcastDiff(protocol.ListDiff{Upsert: []protocol.Room{snapshot}})
}
