// Package config loads server settings from defaults, an optional YAML file and
// TALKO_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is stripped from environment keys; "__" separates sections.
const EnvPrefix = "TALKO_"

// PathEnvVar may point at a YAML config file when no -config flag is given.
const PathEnvVar = "TALKO_CONFIG"

// Config is the full server configuration.
type Config struct {
	HTTP     HTTPConfig     `koanf:"http"`
	GRPC     GRPCConfig     `koanf:"grpc"`
	Database DatabaseConfig `koanf:"database"`
	Auth     AuthConfig     `koanf:"auth"`
	Realtime RealtimeConfig `koanf:"realtime"`
	Presence PresenceConfig `koanf:"presence"`
	Chat     ChatConfig     `koanf:"chat"`
	Log      LogConfig      `koanf:"log"`
}

type HTTPConfig struct {
	Addr            string        `koanf:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	AllowedOrigins  []string      `koanf:"allowed_origins"`
	// AuthRateLimit caps register/login requests per client IP per minute. 0 disables it.
	AuthRateLimit int `koanf:"auth_rate_limit"`
}

type GRPCConfig struct {
	Addr       string `koanf:"addr"` // empty disables the health listener
	TLSCert    string `koanf:"tls_cert"`
	TLSKey     string `koanf:"tls_key"`
	Reflection bool   `koanf:"reflection"`
}

type DatabaseConfig struct {
	DSN      string `koanf:"dsn"`
	MaxConns int32  `koanf:"max_conns"`
}

type AuthConfig struct {
	JWTKey    string        `koanf:"jwt_key"`
	AccessTTL time.Duration `koanf:"access_ttl"`
	// Login lockout per (username, ip).
	LockWindow   time.Duration `koanf:"lock_window"`
	LockMaxFails int           `koanf:"lock_max_fails"`
	LockFor      time.Duration `koanf:"lock_for"`
}

type RealtimeConfig struct {
	AuthTimeout    time.Duration `koanf:"auth_timeout"`
	WriteWait      time.Duration `koanf:"write_wait"`
	PongWait       time.Duration `koanf:"pong_wait"`
	MaxFrameBytes  int64         `koanf:"max_frame_bytes"`
	SendBuffer     int           `koanf:"send_buffer"`
	FramesPerSec   float64       `koanf:"frames_per_sec"`
	FrameBurst     int           `koanf:"frame_burst"`
	CheckOrigin    bool          `koanf:"check_origin"`
	AllowedOrigins []string      `koanf:"allowed_origins"`
}

type PresenceConfig struct {
	// GracePeriod keeps a disconnected identity online for this long. 0 means strict.
	GracePeriod   time.Duration `koanf:"grace_period"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

type ChatConfig struct {
	MaxTextLen int `koanf:"max_text_len"`
}

type LogConfig struct {
	Level       string `koanf:"level"`
	Development bool   `koanf:"development"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"*"},
			AuthRateLimit:   30,
		},
		GRPC: GRPCConfig{
			Addr: ":8081",
		},
		Database: DatabaseConfig{
			MaxConns: 10,
		},
		Auth: AuthConfig{
			AccessTTL:    7 * 24 * time.Hour,
			LockWindow:   15 * time.Minute,
			LockMaxFails: 5,
			LockFor:      15 * time.Minute,
		},
		Realtime: RealtimeConfig{
			AuthTimeout:   10 * time.Second,
			WriteWait:     10 * time.Second,
			PongWait:      60 * time.Second,
			MaxFrameBytes: 64 * 1024,
			SendBuffer:    256,
			FramesPerSec:  20,
			FrameBurst:    40,
		},
		Presence: PresenceConfig{
			SweepInterval: 5 * time.Second,
		},
		Chat: ChatConfig{
			MaxTextLen: 4000,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds a Config. path may be empty, in which case TALKO_CONFIG is consulted.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = os.Getenv(PathEnvVar)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}
	splitList(k, "http.allowed_origins")
	splitList(k, "realtime.allowed_origins")

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps TALKO_AUTH__JWT_KEY to auth.jwt_key.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	if s == "CONFIG" {
		return ""
	}
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

// splitList turns a comma separated env value into a slice.
func splitList(k *koanf.Koanf, key string) {
	raw, ok := k.Get(key).(string)
	if !ok {
		return
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	_ = k.Set(key, out)
}

// Validate checks required settings and value ranges.
func (c *Config) Validate() error {
	var problems []error
	if c.Auth.JWTKey == "" {
		problems = append(problems, errors.New("auth.jwt_key is required"))
	}
	if c.Database.DSN == "" {
		problems = append(problems, errors.New("database.dsn is required"))
	}
	if c.HTTP.Addr == "" {
		problems = append(problems, errors.New("http.addr is required"))
	}
	if c.Auth.AccessTTL <= 0 {
		problems = append(problems, errors.New("auth.access_ttl must be positive"))
	}
	if c.Auth.LockMaxFails <= 0 {
		problems = append(problems, errors.New("auth.lock_max_fails must be positive"))
	}
	if c.Realtime.AuthTimeout <= 0 || c.Realtime.WriteWait <= 0 || c.Realtime.PongWait <= 0 {
		problems = append(problems, errors.New("realtime timeouts must be positive"))
	}
	if c.Realtime.SendBuffer <= 0 {
		problems = append(problems, errors.New("realtime.send_buffer must be positive"))
	}
	if c.Presence.GracePeriod < 0 {
		problems = append(problems, errors.New("presence.grace_period must not be negative"))
	}
	if c.Presence.GracePeriod > 0 && c.Presence.SweepInterval <= 0 {
		problems = append(problems, errors.New("presence.sweep_interval must be positive when grace_period is set"))
	}
	if c.Chat.MaxTextLen <= 0 {
		problems = append(problems, errors.New("chat.max_text_len must be positive"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(problems...))
	}
	return nil
}
