package sse

import (
	"context"
	"encoding/json"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/pierre-mcp/pierre/pkg/kernel"
	"github.com/pierre-mcp/pierre/pkg/logx"
)

const pubsubChannel = "pierre:sse:notifications"

// wireMessage is what crosses the Redis pub/sub channel; Event.Data is
// re-marshaled as a json.RawMessage so Subscribe can rebuild an Event
// without knowing its payload type ahead of time. Origin carries the
// publishing node's id so Subscribe can skip messages this same process
// already delivered locally in SendNotification.
type wireMessage struct {
	Origin string          `json:"origin"`
	UserID string          `json:"user_id"`
	Kind   EventKind       `json:"kind"`
	Data   json.RawMessage `json:"data"`
}

// RedisBroadcaster publishes SSE notifications to a redis pub/sub channel
// shared by every Pierre node. Other nodes receive them only while a
// Subscribe loop runs there; nothing in this repository starts one, so
// with the composition root as it is, events are published but not
// delivered across nodes.
type RedisBroadcaster struct {
	client *redis.Client
	nodeID string
}

func NewRedisBroadcaster(client *redis.Client) *RedisBroadcaster {
	return &RedisBroadcaster{client: client, nodeID: ulid.Make().String()}
}

func (b *RedisBroadcaster) Publish(ctx context.Context, userID kernel.UserID, evt Event) error {
	data, err := json.Marshal(evt.Data)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(wireMessage{Origin: b.nodeID, UserID: userID.String(), Kind: evt.Kind, Data: data})
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, pubsubChannel, msg).Err()
}

// Subscribe blocks, delivering every message published by other nodes to
// deliver; messages this node published itself are skipped. Callers run this in its own goroutine
// for the lifetime of the process.
func (b *RedisBroadcaster) Subscribe(ctx context.Context, deliver func(userID kernel.UserID, evt Event)) error {
	sub := b.client.Subscribe(ctx, pubsubChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var wm wireMessage
			if err := json.Unmarshal([]byte(msg.Payload), &wm); err != nil {
				logx.WithError(err).Warn("sse: dropping malformed pubsub message")
				continue
			}
			if wm.Origin == b.nodeID {
				continue // already delivered locally by the publishing call
			}
			var data any
			if err := json.Unmarshal(wm.Data, &data); err != nil {
				logx.WithError(err).Warn("sse: dropping pubsub message with invalid data")
				continue
			}
			deliver(kernel.NewUserID(wm.UserID), Event{Kind: wm.Kind, Data: data})
		}
	}
}
