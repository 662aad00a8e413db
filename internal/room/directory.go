// Package room holds the client-side projections of server room state: the
// lobby directory feed and the per-room session view. Both consume the
// connection manager's message stream and never mutate server state except
// through explicit requests.
package room

import (
	"sort"
	"sync"

	"github.com/jpotter-25/GolfScorekeeper-sub002/internal/connection"
	"github.com/jpotter-25/GolfScorekeeper-sub002/internal/protocol"
)

// Feed is the slice of the connection manager the projections need. Tests
// substitute an in-memory fake.
type Feed interface {
	Send(typ string, payload any) error
	On(tag string, fn connection.Handler)
}

// Directory caches the room list pushed by the server. A snapshot replaces
// the cache wholesale; diffs patch it in receipt order.
type Directory struct {
	mu    sync.Mutex
	feed  Feed
	rooms map[string]protocol.Room
}

// NewDirectory attaches a Directory to the feed. The server pushes nothing
// until Subscribe.
func NewDirectory(feed Feed) *Directory {
	d := &Directory{
		feed:  feed,
		rooms: make(map[string]protocol.Room),
	}
	feed.On(protocol.TypeListSnapshot, d.onSnapshot)
	feed.On(protocol.TypeListDiff, d.onDiff)
	return d
}

// Subscribe opens the directory feed.
func (d *Directory) Subscribe() error {
	return d.feed.Send(protocol.TypeListSubscribe, nil)
}

// Unsubscribe stops the feed. The cache keeps its last contents.
func (d *Directory) Unsubscribe() error {
	return d.feed.Send(protocol.TypeListUnsubscribe, nil)
}

// Rooms returns the cached list ordered by room code.
func (d *Directory) Rooms() []protocol.Room {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]protocol.Room, 0, len(d.rooms))
	for _, r := range d.rooms {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (d *Directory) onSnapshot(msg protocol.Message) {
	var snap protocol.ListSnapshot
	if err := msg.Unmarshal(&snap); err != nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	// Full replace: whatever the cache held is discarded.
	d.rooms = make(map[string]protocol.Room, len(snap.Rooms))
	for _, r := range snap.Rooms {
		d.rooms[r.Code] = r
	}
}

func (d *Directory) onDiff(msg protocol.Message) {
	var diff protocol.ListDiff
	if err := msg.Unmarshal(&diff); err != nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range diff.Upsert {
		d.rooms[r.Code] = r
	}
	for _, code := range diff.Remove {
		delete(d.rooms, code)
	}
}
