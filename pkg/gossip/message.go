package gossip

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Wire format of a broadcast datagram: "<sender>:<command>" as UTF-8 text.
// No framing, length prefix, checksum or version field.

// NodeID is the human-readable identity of a peer. It never contains Delimiter.
type NodeID string

const Delimiter = ":"

// Command tokens shared by every peer on the network.
const (
	TokenActivate = "DANCE"
	TokenRetire   = "POWER_OFF"
)

type Command uint8

const (
	CommandActivate Command = iota + 1
	CommandRetire
)

func (c Command) String() string {
	switch c {
	case CommandActivate:
		return TokenActivate
	case CommandRetire:
		return TokenRetire
	default:
		return "UNKNOWN"
	}
}

// ParseCommand maps a wire token back to a Command.
func ParseCommand(token string) (Command, error) {
	switch token {
	case TokenActivate:
		return CommandActivate, nil
	case TokenRetire:
		return CommandRetire, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCommand, token)
	}
}

var (
	ErrMalformed      = errors.New("gossip: malformed message")
	ErrUnknownCommand = errors.New("gossip: unknown command")
)

type Message struct {
	Sender  NodeID
	Command Command
}

func (m Message) String() string {
	return string(Encode(m))
}

// Encode renders m in wire form.
func Encode(m Message) []byte {
	return []byte(string(m.Sender) + Delimiter + m.Command.String())
}

// Decode parses a datagram payload. Exactly one delimiter is accepted, so a
// sender can never smuggle a second field in.
func Decode(b []byte) (Message, error) {
	if !utf8.Valid(b) {
		return Message{}, fmt.Errorf("%w: invalid utf-8", ErrMalformed)
	}
	s := string(b)
	if strings.Count(s, Delimiter) != 1 {
		return Message{}, fmt.Errorf("%w: want exactly one %q in %q", ErrMalformed, Delimiter, s)
	}
	sender, token, _ := strings.Cut(s, Delimiter)
	if sender == "" {
		return Message{}, fmt.Errorf("%w: empty sender", ErrMalformed)
	}
	cmd, err := ParseCommand(token)
	if err != nil {
		return Message{}, err
	}
	return Message{Sender: NodeID(sender), Command: cmd}, nil
}
