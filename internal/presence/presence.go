// Package presence fans membership events out over Redis pub/sub so other
// instances (dashboards, audit consumers) can observe room activity. The
// in-process hub remains the membership source of truth; presence is
// fire-and-forget observability.
package presence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"coderoom/internal/utils"
)

const channel = "coderoom:presence"

type Event struct {
	InstanceID string `json:"instanceId"`
	Kind       string `json:"kind"` // "joined" or "left"
	RoomID     string `json:"roomId"`
	ConnID     string `json:"connId"`
	Username   string `json:"username"`
	At         string `json:"at"`
}

type Broker struct {
	rdb        *redis.Client
	log        *utils.Logger
	instanceID string
	ctx        context.Context
	cancel     context.CancelFunc
}

func NewBroker(rdb *redis.Client, log *utils.Logger) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		rdb:        rdb,
		log:        log,
		instanceID: uuid.New().String(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (b *Broker) InstanceID() string { return b.instanceID }

func (b *Broker) MemberJoined(roomID, connID, username string) {
	b.publish(Event{Kind: "joined", RoomID: roomID, ConnID: connID, Username: username})
}

func (b *Broker) MemberLeft(roomID, connID, username string) {
	b.publish(Event{Kind: "left", RoomID: roomID, ConnID: connID, Username: username})
}

func (b *Broker) publish(event Event) {
	event.InstanceID = b.instanceID
	event.At = time.Now().UTC().Format(time.RFC3339)

	data, err := json.Marshal(event)
	if err != nil {
		b.log.Error("marshal presence event", "error", err.Error())
		return
	}
	if err := b.rdb.Publish(b.ctx, channel, data).Err(); err != nil {
		b.log.Warn("publish presence event", "error", err.Error())
	}
}

// Subscribe listens for presence events published by other instances and
// hands them to fn. Events from this instance are skipped. Blocks until
// Close is called; run it in a goroutine.
func (b *Broker) Subscribe(fn func(Event)) {
	pubsub := b.rdb.Subscribe(b.ctx, channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	b.log.Info("subscribed to presence events", "instance", b.instanceID)

	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.log.Warn("unmarshal presence event", "error", err.Error())
				continue
			}
			if event.InstanceID == b.instanceID {
				continue
			}
			fn(event)
		}
	}
}

func (b *Broker) Close() { b.cancel() }
