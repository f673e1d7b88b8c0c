// Package gossip implements the peer broadcast protocol of mipsync: a
// fire-and-forget UDP broadcast of "<sender>:<command>" text datagrams with no
// acknowledgment, ordering or membership. It defines an abstract Transport
// with a LAN implementation and an in-process one, a Sender that swallows
// every transport error, and a Listener that turns datagrams from other peers
// into trigger signals.
//
// Typical usage:
//
//	tr := gossip.NewUDPTransport(gossip.DefaultBroadcastAddr, gossip.DefaultPort, 0)
//	g, _ := gossip.New(gossip.Config{Self: "MiP_Carl_123"}, tr, triggers)
//	go g.Listen(ctx)
//	g.Send(ctx, gossip.CommandActivate)
//
// Tests and simulations swap in a Hub of ChannelTransports.
package gossip
