package identity

import (
	"context"
	"errors"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"testing"
)

var defaultShape = regexp.MustCompile(`^MiP_[A-Za-z]+_[0-9]{3}$`)

func defaultGenerator(r *rand.Rand) Generator {
	return Generator{
		Prefix:    DefaultPrefix,
		Separator: DefaultSeparator,
		Names:     DefaultNames,
		SuffixMin: DefaultSuffixMin,
		SuffixMax: DefaultSuffixMax,
		Rand:      r,
	}
}

func TestGenerateShape(t *testing.T) {
	g := defaultGenerator(rand.New(rand.NewPCG(1, 2)))
	for range 500 {
		id := g.Generate()
		if !defaultShape.MatchString(id) {
			t.Fatalf("Generate() = %q, does not match %s", id, defaultShape)
		}
		if err := Validate(id); err != nil {
			t.Fatalf("Validate(%q) = %v", id, err)
		}
		parts := strings.Split(id, "_")
		n, _ := strconv.Atoi(parts[2])
		if n < DefaultSuffixMin || n > DefaultSuffixMax {
			t.Fatalf("suffix %d out of range", n)
		}
	}
}

func TestGenerateCoversPool(t *testing.T) {
	g := defaultGenerator(rand.New(rand.NewPCG(7, 7)))
	g.Names = []string{"A", "B"}
	g.SuffixMin, g.SuffixMax = 1, 2

	seen := map[string]bool{}
	for range 200 {
		seen[g.Generate()] = true
	}
	for _, want := range []string{"MiP_A_1", "MiP_A_2", "MiP_B_1", "MiP_B_2"} {
		if !seen[want] {
			t.Fatalf("never generated %q; saw %v", want, seen)
		}
	}
}

func TestGenerateDeterministicForSeed(t *testing.T) {
	a := defaultGenerator(rand.New(rand.NewPCG(42, 42))).Generate()
	b := defaultGenerator(rand.New(rand.NewPCG(42, 42))).Generate()
	if a != b {
		t.Fatalf("same seed produced %q and %q", a, b)
	}
}

func TestGenerateWithoutPrefix(t *testing.T) {
	g := defaultGenerator(rand.New(rand.NewPCG(3, 4)))
	g.Prefix = ""
	g.Names = []string{"Solo"}
	g.SuffixMin, g.SuffixMax = 5, 5
	if got := g.Generate(); got != "Solo_5" {
		t.Fatalf("Generate() = %q, want Solo_5", got)
	}
}

func TestClaimRetriesOnTaken(t *testing.T) {
	g := defaultGenerator(rand.New(rand.NewPCG(9, 9)))
	var tried []string
	reserve := func(_ context.Context, name string) error {
		tried = append(tried, name)
		if len(tried) < 3 {
			return ErrTaken
		}
		return nil
	}

	name, err := Claim(context.Background(), g, reserve, 5)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if len(tried) != 3 || name != tried[2] {
		t.Fatalf("Claim = %q after %v", name, tried)
	}
}

func TestClaimGivesUp(t *testing.T) {
	g := defaultGenerator(rand.New(rand.NewPCG(9, 9)))
	calls := 0
	name, err := Claim(context.Background(), g, func(context.Context, string) error {
		calls++
		return ErrTaken
	}, 4)
	if !errors.Is(err, ErrTaken) || calls != 4 {
		t.Fatalf("Claim err = %v after %d calls", err, calls)
	}
	if name == "" {
		t.Fatal("Claim should still return a usable name")
	}
}

func TestClaimBackendFailureKeepsName(t *testing.T) {
	g := defaultGenerator(rand.New(rand.NewPCG(9, 9)))
	down := errors.New("etcd: connection refused")
	name, err := Claim(context.Background(), g, func(context.Context, string) error { return down }, 5)
	if !errors.Is(err, down) || name == "" {
		t.Fatalf("Claim = (%q, %v)", name, err)
	}
}

func TestClaimWithoutReserver(t *testing.T) {
	name, err := Claim(context.Background(), defaultGenerator(nil), nil, 0)
	if err != nil || Validate(name) != nil {
		t.Fatalf("Claim = (%q, %v)", name, err)
	}
}
