package config

import (
	"flag"
	"net"
	"os"
	"strconv"
	"time"
)

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	Addr   string
	DB     string
	Config string
	Set    map[string]bool
}

// EffectiveConfigResult is the resolved configuration plus its source.
type EffectiveConfigResult struct {
	Config *Config
	Addr   string
	DBPath string
	Source string // "flags", "config", or "env"
}

// ParseCommandFlags parses command-line flags and records which were
// explicitly set.
func ParseCommandFlags() Flags {
	addrPtr := flag.String("addr", ":8080", "HTTP listen address")
	dbPtr := flag.String("db", "./.feeddb", "Pebble DB path")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return Flags{Addr: *addrPtr, DB: *dbPtr, Config: *cfgPtr, Set: set}
}

// ResolveConfigPath picks the config path: an explicit flag wins, then the
// CHATFEED_CONFIG env var, then the flag default.
func ResolveConfigPath(flagVal string, flagSet bool) string {
	if flagSet {
		return flagVal
	}
	if v := os.Getenv("CHATFEED_CONFIG"); v != "" {
		return v
	}
	return flagVal
}

// parseEnv reads environment overrides into a fresh Config and reports
// whether any env var was present.
func parseEnv() (*Config, bool) {
	cfg := &Config{}
	used := false
	if v := os.Getenv("CHATFEED_ADDR"); v != "" {
		used = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = v
		}
	}
	if v := os.Getenv("CHATFEED_DB_PATH"); v != "" {
		used = true
		cfg.Server.DBPath = v
	}
	if v := os.Getenv("CHATFEED_FEED_CAPACITY"); v != "" {
		used = true
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Feed.Capacity = n
		}
	}
	if v := os.Getenv("CHATFEED_FEED_COOLDOWN"); v != "" {
		used = true
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Feed.Cooldown = Duration(d)
		}
	}
	if v := os.Getenv("CHATFEED_AVATAR_RETRY_AFTER"); v != "" {
		used = true
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Avatars.RetryAfter = Duration(d)
		}
	}
	if v := os.Getenv("CHATFEED_LOG_LEVEL"); v != "" {
		used = true
		cfg.Logging.Level = v
	}
	return cfg, used
}

// LoadEffective resolves the effective config. Precedence: explicit flags,
// then the config file, then environment variables, each falling back to
// the next source for values it does not set.
func LoadEffective(path string, flags Flags) (EffectiveConfigResult, error) {
	res := EffectiveConfigResult{Config: &Config{}, Source: "env"}

	if cfg, err := Load(path); err == nil {
		res.Config = cfg
		res.Source = "config"
	} else if !os.IsNotExist(err) {
		return res, err
	}

	envCfg, envUsed := parseEnv()
	mergeMissing(res.Config, envCfg)
	if res.Source != "config" && envUsed {
		res.Source = "env"
	}

	res.Addr = res.Config.Addr()
	res.DBPath = res.Config.Server.DBPath

	// flags explicitly set win over env/config
	if flags.Set["addr"] {
		res.Addr = flags.Addr
		res.Source = "flags"
	} else if res.Config.Server.Address == "" && res.Config.Server.Port == 0 {
		res.Addr = flags.Addr
	}
	if flags.Set["db"] {
		res.DBPath = flags.DB
		res.Source = "flags"
	} else if res.DBPath == "" {
		res.DBPath = flags.DB
	}
	return res, nil
}

// mergeMissing copies values from src into dst for fields dst left unset.
func mergeMissing(dst, src *Config) {
	if dst.Server.Address == "" {
		dst.Server.Address = src.Server.Address
	}
	if dst.Server.Port == 0 {
		dst.Server.Port = src.Server.Port
	}
	if dst.Server.DBPath == "" {
		dst.Server.DBPath = src.Server.DBPath
	}
	if dst.Feed.Capacity == 0 {
		dst.Feed.Capacity = src.Feed.Capacity
	}
	if dst.Feed.Cooldown == 0 {
		dst.Feed.Cooldown = src.Feed.Cooldown
	}
	if dst.Avatars.RetryAfter == 0 {
		dst.Avatars.RetryAfter = src.Avatars.RetryAfter
	}
	if dst.Logging.Level == "" {
		dst.Logging.Level = src.Logging.Level
	}
}
