package hokm

import "fmt"

type Config struct {
	// Rounds a team must win to win the game.
	RoundsToWin int

	// RNG seed (0 => time-based)
	Seed int64
}

func (c Config) validate() error {
	if c.RoundsToWin <= 0 {
		return fmt.Errorf("RoundsToWin must be > 0")
	}
	return nil
}

// DefaultConfig is the standard 7-round game.
func DefaultConfig() Config {
	return Config{RoundsToWin: 7}
}
