package messaging

import (
	"context"
)

// Consume subscribes to channel and runs handle for every message until ctx
// is cancelled or the subscription closes. Handler errors go to onError and
// do not stop consumption.
func Consume(ctx context.Context, broker Broker, channel string, handle Handler, onError func(error)) error {
	msgChan, err := broker.Subscribe(ctx, channel)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgChan:
			if !ok {
				return nil
			}
			if err := handle(ctx, msg); err != nil && onError != nil {
				onError(err)
			}
		}
	}
}
