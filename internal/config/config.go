// Package config loads the mipsync YAML configuration and applies
// environment overrides.
package config

import (
	"fmt"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ryandielhenn/mipsync/pkg/behavior"
	"github.com/ryandielhenn/mipsync/pkg/effect"
	"github.com/ryandielhenn/mipsync/pkg/gossip"
	"github.com/ryandielhenn/mipsync/pkg/identity"
)

// Environment variables read by Load.
const (
	EnvSelfID        = "SELF_ID"
	EnvPort          = "MIPSYNC_PORT"
	EnvBroadcastAddr = "MIPSYNC_BROADCAST_ADDR"
	EnvStatusAddr    = "MIPSYNC_STATUS_ADDR"
	EnvEtcdEndpoints = "MIPSYNC_ETCD_ENDPOINTS"
)

type Config struct {
	Network  NetworkConfig  `yaml:"network"`
	Identity IdentityConfig `yaml:"identity"`
	Behavior BehaviorConfig `yaml:"behavior"`
	Effects  EffectsConfig  `yaml:"effects"`
	Status   StatusConfig   `yaml:"status"`
	Registry RegistryConfig `yaml:"registry"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type NetworkConfig struct {
	Port          int           `yaml:"port"`
	BroadcastAddr string        `yaml:"broadcast_addr"`
	ReactionDelay time.Duration `yaml:"reaction_delay"`
	ReadBuffer    int           `yaml:"read_buffer"`
}

// IdentityConfig shapes generated names. Override skips generation.
type IdentityConfig struct {
	Prefix    string   `yaml:"prefix"`
	Separator string   `yaml:"separator"`
	Names     []string `yaml:"names"`
	SuffixMin int      `yaml:"suffix_min"`
	SuffixMax int      `yaml:"suffix_max"`
	Override  string   `yaml:"override"`
}

// BehaviorConfig mirrors behavior.Config. Probabilities and the shutdown
// timeout are pointers so an explicit 0 survives defaulting; a zero
// shutdown_timeout waits for the shutdown effect without a cap.
type BehaviorConfig struct {
	TickRate              float64        `yaml:"tick_rate"`
	ActivateChance        *float64       `yaml:"activate_chance"`
	Cooldown              time.Duration  `yaml:"cooldown"`
	SettlePause           time.Duration  `yaml:"settle_pause"`
	SadAfterEpisodeChance *float64       `yaml:"sad_after_episode_chance"`
	IdleEffectMin         time.Duration  `yaml:"idle_effect_min"`
	IdleEffectMax         time.Duration  `yaml:"idle_effect_max"`
	ShutdownPoll          time.Duration  `yaml:"shutdown_poll"`
	ShutdownTimeout       *time.Duration `yaml:"shutdown_timeout"`
}

// EffectsConfig lists sound files per category. With no dir and no clips
// the built-in clip set is simulated without touching the filesystem.
type EffectsConfig struct {
	Dir   string                  `yaml:"dir"`
	Clips map[string][]ClipConfig `yaml:"clips"`
	Loops map[string]int          `yaml:"loops"`
}

type ClipConfig struct {
	Name     string        `yaml:"name"`
	Duration time.Duration `yaml:"duration"`
}

type StatusConfig struct {
	Addr string `yaml:"addr"`
}

// RegistryConfig enables etcd identity reservation when Endpoints is set.
type RegistryConfig struct {
	Endpoints   []string      `yaml:"endpoints"`
	LeaseTTL    int64         `yaml:"lease_ttl"`
	Attempts    int           `yaml:"attempts"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads path (skipped when empty), applies environment overrides and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	return parse(data, os.Getenv)
}

// Parse unmarshals YAML bytes into a validated Config without consulting
// the environment.
func Parse(data []byte) (*Config, error) {
	return parse(data, func(string) string { return "" })
}

func parse(data []byte, getenv func(string) string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv(EnvSelfID); v != "" {
		c.Identity.Override = v
	}
	if v := getenv(EnvPort); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s=%q: %w", EnvPort, v, err)
		}
		c.Network.Port = p
	}
	if v := getenv(EnvBroadcastAddr); v != "" {
		c.Network.BroadcastAddr = v
	}
	if v := getenv(EnvStatusAddr); v != "" {
		c.Status.Addr = v
	}
	if v := getenv(EnvEtcdEndpoints); v != "" {
		c.Registry.Endpoints = nil
		for _, ep := range strings.Split(v, ",") {
			if ep = strings.TrimSpace(ep); ep != "" {
				c.Registry.Endpoints = append(c.Registry.Endpoints, ep)
			}
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Network.Port == 0 {
		c.Network.Port = gossip.DefaultPort
	}
	if c.Network.BroadcastAddr == "" {
		c.Network.BroadcastAddr = gossip.DefaultBroadcastAddr
	}
	if c.Network.ReactionDelay == 0 {
		c.Network.ReactionDelay = gossip.DefaultReactionDelay
	}
	if c.Network.ReadBuffer == 0 {
		c.Network.ReadBuffer = gossip.DefaultReadBuffer
	}

	if c.Identity.Prefix == "" {
		c.Identity.Prefix = identity.DefaultPrefix
	}
	if c.Identity.Separator == "" {
		c.Identity.Separator = identity.DefaultSeparator
	}
	if len(c.Identity.Names) == 0 {
		c.Identity.Names = append([]string(nil), identity.DefaultNames...)
	}
	if c.Identity.SuffixMin == 0 && c.Identity.SuffixMax == 0 {
		c.Identity.SuffixMin = identity.DefaultSuffixMin
		c.Identity.SuffixMax = identity.DefaultSuffixMax
	}

	def := behavior.DefaultConfig()
	b := &c.Behavior
	if b.TickRate == 0 {
		b.TickRate = def.TickRate
	}
	if b.ActivateChance == nil {
		b.ActivateChance = &def.ActivateChance
	}
	if b.Cooldown == 0 {
		b.Cooldown = def.Cooldown
	}
	if b.SettlePause == 0 {
		b.SettlePause = def.SettlePause
	}
	if b.SadAfterEpisodeChance == nil {
		b.SadAfterEpisodeChance = &def.SadAfterEpisodeChance
	}
	if b.IdleEffectMin == 0 {
		b.IdleEffectMin = def.IdleEffectMin
	}
	if b.IdleEffectMax == 0 {
		b.IdleEffectMax = def.IdleEffectMax
	}
	if b.ShutdownPoll == 0 {
		b.ShutdownPoll = def.ShutdownPoll
	}
	if b.ShutdownTimeout == nil {
		b.ShutdownTimeout = &def.ShutdownTimeout
	}

	if c.Effects.Loops == nil {
		c.Effects.Loops = map[string]int{string(effect.Active): 2}
	}

	if c.Registry.LeaseTTL == 0 {
		c.Registry.LeaseTTL = 10
	}
	if c.Registry.Attempts == 0 {
		c.Registry.Attempts = 5
	}
	if c.Registry.DialTimeout == 0 {
		c.Registry.DialTimeout = 5 * time.Second
	}
}

func (c *Config) validate() error {
	var errs []string
	if c.Network.Port < 1 || c.Network.Port > 65535 {
		errs = append(errs, fmt.Sprintf("network.port %d out of range", c.Network.Port))
	}
	if c.Network.ReactionDelay < 0 {
		errs = append(errs, "network.reaction_delay must not be negative")
	}
	if c.Network.ReadBuffer < 0 {
		errs = append(errs, "network.read_buffer must not be negative")
	}

	for i, n := range c.Identity.Names {
		if n == "" || strings.Contains(n, gossip.Delimiter) || strings.ContainsAny(n, " \t\r\n") {
			errs = append(errs, fmt.Sprintf("identity.names[%d] %q is not usable in an identity", i, n))
		}
	}
	if strings.Contains(c.Identity.Prefix+c.Identity.Separator, gossip.Delimiter) {
		errs = append(errs, "identity.prefix and identity.separator must not contain "+gossip.Delimiter)
	}
	if c.Identity.SuffixMin > c.Identity.SuffixMax {
		errs = append(errs, "identity.suffix_min must not exceed identity.suffix_max")
	}
	if c.Identity.Override != "" {
		if err := identity.Validate(c.Identity.Override); err != nil {
			errs = append(errs, "identity.override: "+err.Error())
		}
	}

	if err := c.BehaviorConfig().Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	for name := range c.Effects.Clips {
		if _, err := effect.ParseCategory(name); err != nil {
			errs = append(errs, "effects.clips: "+err.Error())
		}
	}
	for name, n := range c.Effects.Loops {
		if _, err := effect.ParseCategory(name); err != nil {
			errs = append(errs, "effects.loops: "+err.Error())
		}
		if n < 0 {
			errs = append(errs, fmt.Sprintf("effects.loops.%s must not be negative", name))
		}
	}
	if len(c.Effects.Clips) > 0 {
		for _, cat := range effect.Categories {
			if len(c.Effects.Clips[string(cat)]) == 0 {
				errs = append(errs, fmt.Sprintf("effects.clips.%s is required", cat))
			}
		}
	}

	if c.Registry.LeaseTTL < 0 || c.Registry.Attempts < 0 {
		errs = append(errs, "registry.lease_ttl and registry.attempts must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// BehaviorConfig converts the behavior section. Call it on a loaded Config.
func (c *Config) BehaviorConfig() behavior.Config {
	b := c.Behavior
	out := behavior.Config{
		TickRate:      b.TickRate,
		Cooldown:      b.Cooldown,
		SettlePause:   b.SettlePause,
		IdleEffectMin: b.IdleEffectMin,
		IdleEffectMax: b.IdleEffectMax,
		ShutdownPoll:  b.ShutdownPoll,
	}
	if b.ActivateChance != nil {
		out.ActivateChance = *b.ActivateChance
	}
	if b.SadAfterEpisodeChance != nil {
		out.SadAfterEpisodeChance = *b.SadAfterEpisodeChance
	}
	if b.ShutdownTimeout != nil {
		out.ShutdownTimeout = *b.ShutdownTimeout
	}
	return out
}

// Generator builds the identity generator described by the identity section.
func (c *Config) Generator(r *rand.Rand) identity.Generator {
	return identity.Generator{
		Prefix:    c.Identity.Prefix,
		Separator: c.Identity.Separator,
		Names:     c.Identity.Names,
		SuffixMin: c.Identity.SuffixMin,
		SuffixMax: c.Identity.SuffixMax,
		Rand:      r,
	}
}

// Library resolves the effects section. Without a dir or clips it returns
// the built-in simulated library. With only a dir, the built-in clip names
// are looked up there and their durations probed.
func (c *Config) Library() (effect.Library, error) {
	loops := make(map[effect.Category]int, len(c.Effects.Loops))
	for name, n := range c.Effects.Loops {
		loops[effect.Category(name)] = n
	}

	if c.Effects.Dir == "" && len(c.Effects.Clips) == 0 {
		lib := effect.DefaultLibrary()
		lib.Loops = loops
		return lib, nil
	}

	manifest := make(map[effect.Category][]effect.Clip, len(effect.Categories))
	if len(c.Effects.Clips) == 0 {
		for cat, clips := range effect.DefaultLibrary().Clips {
			for _, clip := range clips {
				manifest[cat] = append(manifest[cat], effect.Clip{Name: clip.Name})
			}
		}
	} else {
		for name, clips := range c.Effects.Clips {
			for _, clip := range clips {
				manifest[effect.Category(name)] = append(manifest[effect.Category(name)], effect.Clip(clip))
			}
		}
	}
	return effect.LoadLibrary(c.Effects.Dir, manifest, loops)
}
