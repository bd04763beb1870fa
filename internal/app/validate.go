package app

import (
	"fmt"

	"chatfeed/pkg/config"
)

// validateConfig fails fast on configurations the feed cannot run with.
func validateConfig(eff config.EffectiveConfigResult) error {
	if eff.DBPath == "" {
		return fmt.Errorf("config: db path is required")
	}
	if eff.Addr == "" {
		return fmt.Errorf("config: listen address is required")
	}
	if c := eff.Config.Feed.Capacity; c < 0 {
		return fmt.Errorf("config: feed capacity must be >= 0, got %d", c)
	}
	if d := eff.Config.Feed.Cooldown.Std(); d < 0 {
		return fmt.Errorf("config: cooldown must be >= 0, got %s", d)
	}
	if d := eff.Config.Avatars.RetryAfter.Std(); d < 0 {
		return fmt.Errorf("config: avatar retry_after must be >= 0, got %s", d)
	}
	if n := eff.Config.Avatars.MaxConcurrent; n < 0 {
		return fmt.Errorf("config: avatar max_concurrent must be >= 0, got %d", n)
	}
	return nil
}
