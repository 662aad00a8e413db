package server

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// historyKey is the Redis list the historian consumer drains.
const historyKey = "golfnine:actions"

// ActionRecord is one applied game action, queued for the historian.
type ActionRecord struct {
	RoomCode    string         `json:"roomCode"`
	ActionIndex uint64         `json:"actionIndex"`
	ActorUserID string         `json:"actorUserId"`
	ActionType  string         `json:"actionType"`
	Payload     map[string]any `json:"payload,omitempty"`
	Timestamp   int64          `json:"timestamp"`
}

// History queues applied actions to Redis, fire-and-forget. A nil Redis
// client disables it; every method stays safe to call.
type History struct {
	rdb   *redis.Client
	log   *logrus.Entry
	index atomic.Uint64
}

// NewHistory wraps the given Redis client. rdb may be nil.
func NewHistory(rdb *redis.Client, log *logrus.Entry) *History {
	return &History{rdb: rdb, log: log.WithField("component", "history")}
}

// Record queues one action. Publishing happens asynchronously; a failure is
// logged and never surfaces to game handling.
func (h *History) Record(roomCode, actorID, action string, payload map[string]any) {
	if h == nil || h.rdb == nil {
		return
	}
	rec := ActionRecord{
		RoomCode:    roomCode,
		ActionIndex: h.index.Add(1),
		ActorUserID: actorID,
		ActionType:  action,
		Payload:     payload,
		Timestamp:   time.Now().UnixMilli(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		data, err := json.Marshal(rec)
		if err != nil {
			h.log.WithError(err).Error("marshal action record")
			return
		}
		if err := h.rdb.LPush(ctx, historyKey, data).Err(); err != nil {
			h.log.WithError(err).WithField("action", rec.ActionType).Warn("publish action record")
		}
	}()
}
