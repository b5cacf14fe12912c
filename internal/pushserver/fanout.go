package pushserver

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/quizz-issima/realtime/internal/logger"
	"github.com/quizz-issima/realtime/internal/pushwire"
)

// fanoutPrefix namespaces the pub/sub keys, one Redis channel per push channel.
const fanoutPrefix = "push:"

// RedisFanout replicates frames across API instances via Redis pub/sub.
// Every instance publishes to push:<channel> and pattern-subscribes to
// push:*, so the publishing instance also receives its own frames — local
// delivery happens exactly once, on receive.
type RedisFanout struct {
	rdb *redis.Client
}

func NewRedisFanout(rdb *redis.Client) *RedisFanout {
	return &RedisFanout{rdb: rdb}
}

func (f *RedisFanout) Publish(ctx context.Context, channel string, frame []byte) error {
	return f.rdb.Publish(ctx, fanoutPrefix+channel, frame).Err()
}

// Run subscribes to the fanout keys and feeds received frames into the hub.
// Blocks until ctx is cancelled. go-redis reconnects the subscription itself;
// a closed Channel() means the client was shut down.
func (f *RedisFanout) Run(ctx context.Context, hub *Hub) {
	sub := f.rdb.PSubscribe(ctx, fanoutPrefix+"*")
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var frame pushwire.Frame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				logger.Errorf("push fanout bad frame on %s: %v", msg.Channel, err)
				continue
			}
			hub.DeliverLocal(frame)
		}
	}
}
