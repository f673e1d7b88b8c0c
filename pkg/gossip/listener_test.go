package gossip

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"github.com/ryandielhenn/mipsync/internal/clock"
	"github.com/ryandielhenn/mipsync/internal/telemetry"
	"github.com/ryandielhenn/mipsync/pkg/trigger"
)

const self NodeID = "MiP_Sprocket_500"

type unavailableTransport struct{}

func (unavailableTransport) Broadcast(context.Context, []byte) error { return nil }

func (unavailableTransport) Receive(context.Context) ([]byte, error) {
	return nil, ErrUnavailable
}

func (unavailableTransport) Close() error { return nil }

var _ = Describe("Listener", func() {
	var (
		hub      *Hub
		local    *ChannelTransport
		remote   *ChannelTransport
		clk      *clock.Fake
		triggers *trigger.State
		cancel   context.CancelFunc
		stopped  chan struct{}
		runErr   error
	)

	send := func(from NodeID, cmd Command) {
		Expect(remote.Broadcast(context.Background(), Encode(Message{Sender: from, Command: cmd}))).To(Succeed())
	}
	activatePending := func() bool { a, _ := triggers.Pending(); return a }
	retirePending := func() bool { _, r := triggers.Pending(); return r }

	// barrier sends a retire from a peer and waits for it; datagrams are
	// handled in order, so everything delivered before it has been handled.
	barrier := func() {
		send("MiP_Barrier_100", CommandRetire)
		Eventually(retirePending).Should(BeTrue())
		triggers.TakeRetire()
	}

	BeforeEach(func() {
		hub = NewHub(false)
		local = hub.Join()
		remote = hub.Join()
		clk = clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
		triggers = trigger.New()

		l := NewListener(self, local, triggers, time.Second, clk, zaptest.NewLogger(GinkgoT()).Sugar())

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		stopped = make(chan struct{})
		go func() {
			defer close(stopped)
			runErr = l.Run(ctx)
		}()
	})

	AfterEach(func() {
		cancel()
		Eventually(stopped).Should(BeClosed())
		Expect(runErr).NotTo(HaveOccurred())
		local.Close()
		remote.Close()
	})

	It("sets the retire flag immediately", func() {
		send("MiP_Carl_200", CommandRetire)
		Eventually(retirePending).Should(BeTrue())
		Expect(activatePending()).To(BeFalse())
	})

	It("sets the activate flag only after the reaction delay", func() {
		send("MiP_Carl_200", CommandActivate)
		Eventually(clk.Waiters).Should(Equal(1))

		Consistently(activatePending, 50*time.Millisecond).Should(BeFalse())
		clk.Advance(999 * time.Millisecond)
		Consistently(activatePending, 50*time.Millisecond).Should(BeFalse())

		clk.Advance(time.Millisecond)
		Eventually(activatePending).Should(BeTrue())
	})

	It("keeps receiving while a reaction is pending", func() {
		send("MiP_Carl_200", CommandActivate)
		Eventually(clk.Waiters).Should(Equal(1))

		send("MiP_Timny_300", CommandRetire)
		Eventually(retirePending).Should(BeTrue())
		Expect(activatePending()).To(BeFalse())
	})

	It("ignores its own identity", func() {
		hub.Deliver(Encode(Message{Sender: self, Command: CommandActivate}))
		hub.Deliver(Encode(Message{Sender: self, Command: CommandRetire}))
		barrier()

		Expect(clk.Waiters()).To(Equal(0))
		clk.Advance(time.Minute)
		Expect(activatePending()).To(BeFalse())
		Expect(retirePending()).To(BeFalse())
	})

	It("discards malformed datagrams and keeps running", func() {
		before := testutil.ToFloat64(telemetry.DatagramsReceived.WithLabelValues(telemetry.OutcomeMalformed))

		hub.Deliver([]byte("garbage"))
		hub.Deliver([]byte("MiP_Carl_200:SING"))
		hub.Deliver([]byte{0xff, 0xfe, ':'})
		barrier()

		Expect(activatePending()).To(BeFalse())
		Expect(clk.Waiters()).To(Equal(0))
		Expect(testutil.ToFloat64(telemetry.DatagramsReceived.WithLabelValues(telemetry.OutcomeMalformed))).
			To(Equal(before + 3))
	})

	It("collapses a burst of activations into one flag", func() {
		for range 10 {
			send("MiP_Carl_200", CommandActivate)
		}
		Eventually(clk.Waiters).Should(Equal(10))
		clk.Advance(time.Second)

		Eventually(activatePending).Should(BeTrue())
		Expect(triggers.TakeActivate()).To(BeTrue())
		Expect(triggers.TakeActivate()).To(BeFalse())
	})

	It("abandons pending reactions when stopped", func() {
		send("MiP_Carl_200", CommandActivate)
		Eventually(clk.Waiters).Should(Equal(1))

		cancel()
		Eventually(stopped).Should(BeClosed())
		clk.Advance(time.Minute)
		Expect(activatePending()).To(BeFalse())
	})

	It("stops when the transport is closed", func() {
		local.Close()
		Eventually(stopped).Should(BeClosed())
	})
})

var _ = Describe("Listener without a usable transport", func() {
	It("returns without error", func() {
		l := NewListener(self, unavailableTransport{}, trigger.New(), time.Second, nil, nil)
		Expect(l.Run(context.Background())).To(Succeed())
	})
})
