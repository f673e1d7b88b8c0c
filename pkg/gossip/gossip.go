package gossip

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ryandielhenn/mipsync/internal/clock"
)

var ErrInvalidNodeID = errors.New("gossip: invalid node id")

// Config configures a Gossiper.
type Config struct {
	Self          NodeID
	ReactionDelay time.Duration
	Clock         clock.Clock
	Logger        *zap.SugaredLogger
}

// Gossiper wires one transport and one identity into a Sender and a
// Listener.
type Gossiper struct {
	*Sender
	listener *Listener
	tr       Transport
	self     NodeID
}

func New(cfg Config, tr Transport, signals Signals) (*Gossiper, error) {
	if err := ValidateNodeID(cfg.Self); err != nil {
		return nil, err
	}
	if tr == nil {
		return nil, fmt.Errorf("gossip: nil transport")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Gossiper{
		Sender:   NewSender(cfg.Self, tr, log.Named("sender")),
		listener: NewListener(cfg.Self, tr, signals, cfg.ReactionDelay, cfg.Clock, log.Named("listener")),
		tr:       tr,
		self:     cfg.Self,
	}, nil
}

func (g *Gossiper) Self() NodeID { return g.self }

// Listen runs the listener loop until ctx is done.
func (g *Gossiper) Listen(ctx context.Context) error {
	return g.listener.Run(ctx)
}

func (g *Gossiper) Close() error {
	return g.tr.Close()
}

// ValidateNodeID checks that id can travel in the wire format.
func ValidateNodeID(id NodeID) error {
	s := string(id)
	switch {
	case s == "":
		return fmt.Errorf("%w: empty", ErrInvalidNodeID)
	case !utf8.ValidString(s):
		return fmt.Errorf("%w: invalid utf-8", ErrInvalidNodeID)
	case strings.Contains(s, Delimiter):
		return fmt.Errorf("%w: %q contains %q", ErrInvalidNodeID, s, Delimiter)
	case strings.IndexFunc(s, unicode.IsSpace) >= 0:
		return fmt.Errorf("%w: %q contains whitespace", ErrInvalidNodeID, s)
	}
	return nil
}
