package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ClientConfig configures ragctl and any other consumer of the client layer.
// Values come from defaults, then the TOML file, then RAGDESK_* variables.
type ClientConfig struct {
	APIURL         string   `toml:"api_url"`
	Token          string   `toml:"token"`
	Timeout        Duration `toml:"timeout"`
	StaleTime      Duration `toml:"stale_time"`
	CacheTime      Duration `toml:"cache_time"`
	Retry          int      `toml:"retry"`
	PollInterval   Duration `toml:"poll_interval"`
	ConflictPolicy string   `toml:"conflict_policy"`
	// CacheRedis is a redis address; when set, successful reads survive
	// restarts.
	CacheRedis string `toml:"cache_redis"`
	Workspace  string `toml:"workspace"`
}

// Duration reads "30s"-style strings from TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func defaultClientConfig() *ClientConfig {
	return &ClientConfig{
		APIURL:         "http://localhost:8080",
		Timeout:        Duration{30 * time.Second},
		StaleTime:      Duration{30 * time.Second},
		CacheTime:      Duration{5 * time.Minute},
		Retry:          2,
		PollInterval:   Duration{2 * time.Second},
		ConflictPolicy: "last-write-wins",
	}
}

// DefaultClientPath is ~/.config/ragdesk/config.toml, or "" when there is no
// home directory.
func DefaultClientPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "ragdesk", "config.toml")
}

// LoadClient reads path if it exists (a missing file is not an error) and
// applies environment overrides.
func LoadClient(path string) (*ClientConfig, error) {
	cfg := defaultClientConfig()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("decode config file %s: %w", path, err)
		}
	}

	if err := overrideClientByEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func overrideClientByEnv(cfg *ClientConfig) error {
	cfg.APIURL = getEnv("RAGDESK_API_URL", cfg.APIURL)
	cfg.Token = getEnv("RAGDESK_TOKEN", cfg.Token)
	cfg.ConflictPolicy = getEnv("RAGDESK_CONFLICT_POLICY", cfg.ConflictPolicy)
	cfg.CacheRedis = getEnv("RAGDESK_CACHE_REDIS", cfg.CacheRedis)
	cfg.Workspace = getEnv("RAGDESK_WORKSPACE", cfg.Workspace)

	var err error
	if cfg.Retry, err = getEnvInt("RAGDESK_RETRY", cfg.Retry); err != nil {
		return fmt.Errorf("invalid RAGDESK_RETRY: %w", err)
	}
	for _, d := range []struct {
		env string
		dst *Duration
	}{
		{"RAGDESK_TIMEOUT", &cfg.Timeout},
		{"RAGDESK_STALE_TIME", &cfg.StaleTime},
		{"RAGDESK_CACHE_TIME", &cfg.CacheTime},
		{"RAGDESK_POLL_INTERVAL", &cfg.PollInterval},
	} {
		if d.dst.Duration, err = getEnvDuration(d.env, d.dst.Duration); err != nil {
			return fmt.Errorf("invalid %s: %w", d.env, err)
		}
	}
	return nil
}

func (c *ClientConfig) Validate() error {
	var problems []string
	u, err := url.Parse(c.APIURL)
	if c.APIURL == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		problems = append(problems, fmt.Sprintf("api_url %q must be an http(s) URL", c.APIURL))
	}
	if c.Timeout.Duration <= 0 {
		problems = append(problems, "timeout must be positive")
	}
	if c.StaleTime.Duration < 0 || c.CacheTime.Duration < 0 {
		problems = append(problems, "stale_time and cache_time must not be negative")
	}
	switch c.ConflictPolicy {
	case "", "last-write-wins", "lww", "optimistic-lock", "optimistic":
	default:
		problems = append(problems, fmt.Sprintf("unknown conflict_policy %q", c.ConflictPolicy))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid client configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
