// Command flood bursts broadcast datagrams at the MiP port to watch how
// listeners cope with heavy or malformed traffic.
package main

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ryandielhenn/mipsync/internal/logger"
	"github.com/ryandielhenn/mipsync/pkg/gossip"
	"github.com/ryandielhenn/mipsync/pkg/peer"
)

type options struct {
	target  string
	sender  string
	command string
	n       int
	conc    int
	garbage float64
	rate    float64
}

// garbagePayloads are datagrams every listener must discard.
var garbagePayloads = [][]byte{
	[]byte("no delimiter here"),
	[]byte("a:b:c"),
	[]byte(":DANCE"),
	[]byte("MiP_Flood_000:JUMP"),
	[]byte("MiP_Flood_000:"),
	{0xff, 0xfe, ':', 'D', 'A', 'N', 'C', 'E'},
}

func newRootCmd() *cobra.Command {
	var o options
	cmd := &cobra.Command{
		Use:          "flood",
		Short:        "Send a burst of MiP broadcast datagrams",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return flood(cmd.Context(), o, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.target, "target", gossip.DefaultBroadcastAddr, "broadcast address, host or host:port")
	f.StringVar(&o.sender, "sender", "MiP_Flood_000", "identity to send as")
	f.StringVar(&o.command, "command", gossip.TokenActivate, "command token to send ("+gossip.TokenActivate+" or "+gossip.TokenRetire+")")
	f.IntVarP(&o.n, "count", "n", 1000, "datagrams to send")
	f.IntVarP(&o.conc, "concurrency", "c", 8, "concurrent senders")
	f.Float64Var(&o.garbage, "garbage", 0, "fraction of datagrams replaced by malformed payloads")
	f.Float64Var(&o.rate, "rate", 0, "datagrams per second, 0 for unlimited")
	return cmd
}

func flood(ctx context.Context, o options, out io.Writer) error {
	log := logger.For(logger.ComponentFlood)

	cmdTok, err := gossip.ParseCommand(o.command)
	if err != nil {
		return err
	}
	if err := gossip.ValidateNodeID(gossip.NodeID(o.sender)); err != nil {
		return err
	}
	host, portStr, err := net.SplitHostPort(peer.NormalizeHostPort(o.target, strconv.Itoa(gossip.DefaultPort)))
	if err != nil {
		return fmt.Errorf("flood: target %q: %w", o.target, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("flood: port %q: %w", portStr, err)
	}
	if o.conc < 1 {
		o.conc = 1
	}

	tr := gossip.NewUDPTransport(host, port, 0)
	defer tr.Close()
	valid := gossip.Encode(gossip.Message{Sender: gossip.NodeID(o.sender), Command: cmdTok})

	limiter := rate.NewLimiter(rate.Inf, 1)
	if o.rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(o.rate), 1)
	}

	var sent, failed, malformed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.conc)

	log.Infow("Flooding", "target", net.JoinHostPort(host, portStr), "count", o.n, "concurrency", o.conc, "garbage", o.garbage)
	start := time.Now()
	for i := 0; i < o.n; i++ {
		if err := limiter.Wait(gctx); err != nil {
			break
		}
		payload := valid
		if o.garbage > 0 && rand.Float64() < o.garbage {
			payload = garbagePayloads[rand.IntN(len(garbagePayloads))]
			malformed.Add(1)
		}
		g.Go(func() error {
			if err := tr.Broadcast(gctx, payload); err != nil {
				failed.Add(1)
				log.Debugw("Send failed", "err", err)
				return nil
			}
			sent.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	dur := time.Since(start)

	fmt.Fprintf(out, "Sent %d datagrams (%d malformed, %d failed) in %s (%.2f/s)\n",
		sent.Load(), malformed.Load(), failed.Load(), dur.Round(time.Millisecond), float64(sent.Load())/dur.Seconds())
	return nil
}

func main() {
	logger.Initialize("", "")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
