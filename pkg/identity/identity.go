// Package identity generates the human-readable peer names carried in every
// broadcast, e.g. "MiP_Sprocket_417".
//
// Names are only probabilistically unique. Collisions are tolerated on a LAN
// of short-lived peers; Claim narrows them further when a reservation backend
// is available.
package identity

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/ryandielhenn/mipsync/pkg/gossip"
)

const (
	DefaultPrefix    = "MiP"
	DefaultSeparator = "_"
	DefaultSuffixMin = 100
	DefaultSuffixMax = 999
)

var DefaultNames = []string{
	"Jarold", "Carl", "Timothy", "Bartholomew", "Garry",
	"Sprocket", "Rusty", "Zippy", "Timny", "Jimny",
}

// ErrTaken is returned by a Reserver when another live peer holds the name.
var ErrTaken = errors.New("identity: name already taken")

// Reserver tries to claim name for the lifetime of this process.
type Reserver func(ctx context.Context, name string) error

type Generator struct {
	Prefix    string
	Separator string
	Names     []string
	SuffixMin int
	SuffixMax int
	Rand      *rand.Rand
}

// Generate draws a name uniformly from the pool and a suffix uniformly from
// [SuffixMin, SuffixMax]. It always succeeds.
func (g Generator) Generate() string {
	names := g.Names
	if len(names) == 0 {
		names = DefaultNames
	}
	lo, hi := g.SuffixMin, g.SuffixMax
	if hi < lo {
		lo, hi = hi, lo
	}
	name := names[g.intN(len(names))]
	suffix := lo + g.intN(hi-lo+1)

	if g.Prefix == "" {
		return fmt.Sprintf("%s%s%d", name, g.Separator, suffix)
	}
	return fmt.Sprintf("%s%s%s%s%d", g.Prefix, g.Separator, name, g.Separator, suffix)
}

func (g Generator) intN(n int) int {
	if g.Rand == nil {
		return rand.IntN(n)
	}
	return g.Rand.IntN(n)
}

// Validate checks that id is usable as a wire identity.
func Validate(id string) error {
	return gossip.ValidateNodeID(gossip.NodeID(id))
}

// Claim generates names until reserve accepts one, at most attempts times.
// Any reserve error other than ErrTaken ends the search: the last generated
// name is returned together with that error and remains usable.
func Claim(ctx context.Context, g Generator, reserve Reserver, attempts int) (string, error) {
	if attempts < 1 {
		attempts = 1
	}
	var name string
	for range attempts {
		name = g.Generate()
		if reserve == nil {
			return name, nil
		}
		err := reserve(ctx, name)
		if err == nil {
			return name, nil
		}
		if !errors.Is(err, ErrTaken) {
			return name, err
		}
	}
	return name, fmt.Errorf("%w after %d attempts", ErrTaken, attempts)
}
