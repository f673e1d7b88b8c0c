package behavior

import (
	"fmt"
	"time"
)

// Config holds the timings and probabilities of the machine.
type Config struct {
	TickRate              float64
	ActivateChance        float64
	Cooldown              time.Duration
	SettlePause           time.Duration
	SadAfterEpisodeChance float64
	IdleEffectMin         time.Duration
	IdleEffectMax         time.Duration
	ShutdownPoll          time.Duration
	ShutdownTimeout       time.Duration
}

func DefaultConfig() Config {
	return Config{
		TickRate:              60,
		ActivateChance:        0.001,
		Cooldown:              30 * time.Second,
		SettlePause:           2 * time.Second,
		SadAfterEpisodeChance: 0.3,
		IdleEffectMin:         1 * time.Second,
		IdleEffectMax:         20 * time.Second,
		ShutdownPoll:          100 * time.Millisecond,
		ShutdownTimeout:       15 * time.Second,
	}
}

func (c Config) Validate() error {
	switch {
	case c.TickRate <= 0:
		return fmt.Errorf("behavior: tick rate must be positive, got %v", c.TickRate)
	case c.ActivateChance < 0 || c.ActivateChance > 1:
		return fmt.Errorf("behavior: activate chance %v outside [0,1]", c.ActivateChance)
	case c.SadAfterEpisodeChance < 0 || c.SadAfterEpisodeChance > 1:
		return fmt.Errorf("behavior: sad chance %v outside [0,1]", c.SadAfterEpisodeChance)
	case c.Cooldown < 0 || c.SettlePause < 0:
		return fmt.Errorf("behavior: negative cooldown or settle pause")
	case c.IdleEffectMin < 0 || c.IdleEffectMax < c.IdleEffectMin:
		return fmt.Errorf("behavior: idle effect range [%v, %v] invalid", c.IdleEffectMin, c.IdleEffectMax)
	case c.ShutdownPoll <= 0:
		return fmt.Errorf("behavior: shutdown poll must be positive")
	case c.ShutdownTimeout < 0:
		return fmt.Errorf("behavior: shutdown timeout must not be negative")
	}
	return nil
}

// TickInterval is the period between ticks.
func (c Config) TickInterval() time.Duration {
	return time.Duration(float64(time.Second) / c.TickRate)
}
