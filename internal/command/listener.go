package command

import (
	"context"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Listener subscribes to the ghost command channels and feeds parsed
// commands to the dispatcher. Malformed payloads are dropped with a
// log line; execution errors never stop the stream.
type Listener struct {
	redis      *redis.Client
	dispatcher *Dispatcher
	logger     *slog.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	wg     sync.WaitGroup
}

func NewListener(redisClient *redis.Client, dispatcher *Dispatcher, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{redis: redisClient, dispatcher: dispatcher, logger: logger}
}

// Start begins consuming commands for all drivers. Idempotent.
func (l *Listener) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pubsub != nil {
		return
	}
	l.pubsub = l.redis.PSubscribe(ctx, "ghost:*:commands")

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for msg := range l.pubsub.Channel() {
			l.handle(ctx, msg.Channel, []byte(msg.Payload))
		}
	}()
}

// Stop closes the subscription and waits for in-flight handling.
func (l *Listener) Stop() {
	l.mu.Lock()
	pubsub := l.pubsub
	l.pubsub = nil
	l.mu.Unlock()
	if pubsub == nil {
		return
	}
	_ = pubsub.Close()
	l.wg.Wait()
}

func (l *Listener) handle(ctx context.Context, channel string, payload []byte) {
	cmd, err := Parse(payload)
	if err != nil {
		l.logger.Warn("dropping malformed command", "channel", channel, "error", err)
		return
	}
	if driver := driverIDFromChannel(channel); driver != "" && driver != cmd.DriverID {
		l.logger.Warn("dropping command on mismatched channel",
			"channel", channel, "command_driver", cmd.DriverID)
		return
	}
	if err := l.dispatcher.Dispatch(ctx, cmd); err != nil {
		l.logger.Error("command failed", "command_id", cmd.ID, "action", cmd.Action, "error", err)
	}
}
