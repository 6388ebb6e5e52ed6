package cache

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"

	apperrors "tradewatch/internal/errors"
	"tradewatch/internal/logger"
	"tradewatch/internal/types"
)

// ExecutionFeed decodes trade executions published on a Redis channel
type ExecutionFeed struct {
	pubsub *redis.PubSub
	out    chan types.TradeExecution
	log    logger.Logger
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// SubscribeExecutions subscribes to channel. Executions arrive on C until
// ctx is done or Close is called. Malformed messages are logged and skipped.
func SubscribeExecutions(ctx context.Context, client redis.UniversalClient, channel string, log logger.Logger) (*ExecutionFeed, error) {
	pubsub := client.Subscribe(ctx, channel)
	// wait for the subscription confirmation so no message is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, apperrors.WrapError(err, apperrors.ErrCodeCacheFailure, "failed to subscribe to "+channel)
	}

	f := &ExecutionFeed{
		pubsub: pubsub,
		out:    make(chan types.TradeExecution, 256),
		done:   make(chan struct{}),
		log:    log.WithField("channel", channel),
	}
	f.wg.Add(1)
	go f.listen(ctx)
	return f, nil
}

// C returns the decoded executions
func (f *ExecutionFeed) C() <-chan types.TradeExecution {
	return f.out
}

func (f *ExecutionFeed) listen(ctx context.Context) {
	defer f.wg.Done()
	defer close(f.out)

	messages := f.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.done:
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			var exec types.TradeExecution
			if err := json.Unmarshal([]byte(msg.Payload), &exec); err != nil {
				f.log.Warn("Skipping malformed execution message", "error", err)
				continue
			}
			select {
			case f.out <- exec:
			case <-ctx.Done():
				return
			case <-f.done:
				return
			}
		}
	}
}

// Close unsubscribes and waits for the listener to exit
func (f *ExecutionFeed) Close() error {
	var err error
	f.once.Do(func() {
		close(f.done)
		err = f.pubsub.Close()
		f.wg.Wait()
	})
	return err
}
