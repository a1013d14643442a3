package network_test

import (
	"context"
	"sync"
	"time"

	"github.com/igwedaniel/walletsync/internal/messaging"
	"github.com/igwedaniel/walletsync/internal/network"
	"github.com/igwedaniel/walletsync/internal/types"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("PeerCountTracker", func() {
	var (
		ctx       context.Context
		publisher *recordingPublisher
		tracker   *network.PeerCountTracker
	)

	BeforeEach(func() {
		ctx = context.Background()
		publisher = &recordingPublisher{}
		tracker = network.NewPeerCountTracker(source, publisher, testLogger())
	})

	peerCounts := func() []int {
		var counts []int
		for _, ev := range publisher.OfType(types.EventTypePeerCount) {
			Expect(ev.Source).To(Equal(source))
			counts = append(counts, ev.Payload.(types.PeerCountChanged).Count)
		}
		return counts
	}

	Describe("OnPeerConnected", func() {
		It("should always publish the reported count", func() {
			tracker.OnPeerConnected(ctx, "10.0.0.1:18444", 1)
			tracker.OnPeerConnected(ctx, "10.0.0.2:18444", 2)
			By("publishing again when the count did not change")
			tracker.OnPeerConnected(ctx, "10.0.0.2:18444", 2)

			Expect(peerCounts()).To(Equal([]int{1, 2, 2}))
			Expect(tracker.Count()).To(Equal(2))
		})
	})

	Describe("OnPeerDisconnected", func() {
		BeforeEach(func() {
			tracker.OnPeerConnected(ctx, "10.0.0.1:18444", 3)
			publisher.Reset()
		})

		It("should publish a changed count", func() {
			tracker.OnPeerDisconnected(ctx, "10.0.0.1:18444", 2)
			Expect(peerCounts()).To(Equal([]int{2}))
			Expect(tracker.Count()).To(Equal(2))
		})

		It("should suppress an unchanged count", func() {
			tracker.OnPeerDisconnected(ctx, "10.0.0.1:18444", 3)
			Expect(publisher.Events()).To(BeEmpty())
		})

		It("should publish at most once for two disconnects reporting the same count", func() {
			tracker.OnPeerDisconnected(ctx, "10.0.0.1:18444", 2)
			tracker.OnPeerDisconnected(ctx, "10.0.0.2:18444", 2)
			Expect(peerCounts()).To(Equal([]int{2}))
		})
	})

	Context("when called concurrently", func() {
		It("should keep the last adopted count consistent with the last event", func() {
			var wg sync.WaitGroup
			for i := 0; i < 100; i++ {
				wg.Add(1)
				go func(n int) {
					defer wg.Done()
					tracker.OnPeerConnected(ctx, "peer", n)
				}(i)
			}
			wg.Wait()

			counts := peerCounts()
			Expect(counts).To(HaveLen(100))
			Expect(tracker.Count()).To(Equal(counts[len(counts)-1]))
		})
	})

	Context("when a feed subscriber is not reading", func() {
		It("should not hold up the callbacks", func() {
			feed := messaging.NewFeedPublisher()
			defer feed.Close()
			sub := feed.Subscribe(make(chan *types.Event))
			defer sub.Unsubscribe()
			tracker = network.NewPeerCountTracker(source, feed, testLogger())

			done := make(chan struct{})
			go func() {
				defer close(done)
				for i := 1; i <= 500; i++ {
					tracker.OnPeerConnected(ctx, "10.0.0.1:18444", i)
				}
			}()
			Eventually(done, 2*time.Second).Should(BeClosed())
			Expect(tracker.Count()).To(Equal(500))
		})
	})
})
