package messaging

import (
	"context"

	"github.com/ethereum/go-ethereum/event"
	"github.com/igwedaniel/walletsync/internal/types"
	"go.uber.org/atomic"
)

// forwardBuffer is how many events a subscriber may fall behind the feed
// before the forwarder starts dropping
const forwardBuffer = 256

// FeedPublisher is the in-process event bus. UI subscribers receive events on
// their own channel, in publish order.
//
// Publish never waits on a subscriber. Each subscription gets a forwarder
// that hands events to the subscriber channel without blocking; events a
// full channel cannot take are dropped for that subscriber only.
type FeedPublisher struct {
	feed    event.Feed
	scope   event.SubscriptionScope
	dropped atomic.Uint64
}

func NewFeedPublisher() *FeedPublisher {
	return &FeedPublisher{}
}

// Subscribe delivers events to ch until the subscription is unsubscribed or
// the publisher is closed.
func (f *FeedPublisher) Subscribe(ch chan<- *types.Event) event.Subscription {
	in := make(chan *types.Event, forwardBuffer)
	inner := f.feed.Subscribe(in)

	return f.scope.Track(event.NewSubscription(func(quit <-chan struct{}) error {
		defer inner.Unsubscribe()
		for {
			select {
			case ev := <-in:
				select {
				case ch <- ev:
				default:
					f.dropped.Inc()
				}
			case <-quit:
				return nil
			}
		}
	}))
}

func (f *FeedPublisher) Publish(ctx context.Context, ev *types.Event) error {
	f.feed.Send(ev)
	return nil
}

// Dropped reports how many deliveries were skipped because a subscriber
// channel was full
func (f *FeedPublisher) Dropped() uint64 {
	return f.dropped.Load()
}

// Close ends all subscriptions
func (f *FeedPublisher) Close() error {
	f.scope.Close()
	return nil
}
