package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for opguard. Keys follow the plugin's
// config.yml layout.
type Config struct {
	Language        string              `yaml:"language"`
	DataDir         string              `yaml:"data-dir"`
	Settings        SettingsConfig      `yaml:"settings"`
	Logging         LoggingConfig       `yaml:"logging"`
	Host            HostConfig          `yaml:"host"`
	Metrics         MetricsConfig       `yaml:"metrics"`
	BlockedCommands []string            `yaml:"blocked-commands"`
	AllowedPlayers  []string            `yaml:"allowed-players"`
	Messages        map[string]Messages `yaml:"messages,omitempty"`
}

// Messages maps a notice key to a format template with &-color codes.
type Messages map[string]string

type SettingsConfig struct {
	BlockCommandBlocks bool     `yaml:"block-command-blocks"`
	Namespaces         []string `yaml:"namespaces"`
	AutomatedLabel     string   `yaml:"automated-label"`
}

type LoggingConfig struct {
	Console  bool           `yaml:"console"`
	File     bool           `yaml:"file"`
	FileName string         `yaml:"file-name"`
	Level    string         `yaml:"level"`
	Format   string         `yaml:"format"` // text | json
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Telegram TelegramConfig `yaml:"telegram"`
}

type SQLiteConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TelegramConfig forwards selected audit kinds to an operator chat.
type TelegramConfig struct {
	Enabled bool     `yaml:"enabled"`
	Token   string   `yaml:"token"`
	ChatID  int64    `yaml:"chat-id"`
	Kinds   []string `yaml:"kinds"`

	// RatePerMinute and Burst throttle alerts. Zero rate disables throttling.
	RatePerMinute int `yaml:"rate-per-minute"`
	Burst         int `yaml:"burst"`
}

type HostConfig struct {
	Workers   int            `yaml:"workers"`
	QueueSize int            `yaml:"queue-size"`
	History   int            `yaml:"history"`
	HTTP      HTTPHostConfig `yaml:"http"`
}

// HTTPHostConfig exposes synchronous decisions to a remote game server.
type HTTPHostConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
	Secret  string `yaml:"secret"` // HMAC-SHA256 key for X-Signature-256
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// isLoopback reports whether addr only listens on the loopback interface.
// An empty host listens everywhere.
func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// DefaultConfigDir returns the default config directory (~/.opguard).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".opguard"
	}
	return filepath.Join(home, ".opguard")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yml")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Language = strings.ToLower(strings.TrimSpace(cfg.Language))
	cfg.DataDir = ExpandPath(cfg.DataDir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment value and ${VAR:-def}
// with def when VAR is unset or empty. Unknown variables without a default
// are left as written.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if val, ok := os.LookupEnv(groups[1]); ok && val != "" {
			return val
		}
		if hasDefault {
			return groups[2]
		}
		return match
	})
}

func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

var validKinds = map[string]bool{
	"OP_GRANT":              true,
	"BLOCKED_CMD":           true,
	"BLOCKED_CMD_AUTOMATED": true,
}

// Validate checks that the config has usable values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Language == "" {
		errs = append(errs, "language must not be empty")
	}
	if cfg.DataDir == "" {
		errs = append(errs, "data-dir must not be empty")
	}

	if cfg.Logging.File && strings.TrimSpace(cfg.Logging.FileName) == "" {
		errs = append(errs, "logging.file-name is required when logging.file is enabled")
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, "logging.format must be one of: text, json")
	}
	if cfg.Logging.SQLite.Enabled && cfg.Logging.SQLite.Path == "" {
		errs = append(errs, "logging.sqlite.path is required when sqlite is enabled")
	}
	if tg := cfg.Logging.Telegram; tg.Enabled {
		if tg.Token == "" {
			errs = append(errs, "logging.telegram.token is required when telegram is enabled")
		}
		if tg.ChatID == 0 {
			errs = append(errs, "logging.telegram.chat-id is required when telegram is enabled")
		}
		for _, k := range tg.Kinds {
			if !validKinds[strings.ToUpper(k)] {
				errs = append(errs, fmt.Sprintf("logging.telegram.kinds: unknown kind %q", k))
			}
		}
		if tg.RatePerMinute < 0 || tg.Burst < 0 {
			errs = append(errs, "logging.telegram.rate-per-minute and burst must not be negative")
		}
	}

	if cfg.Host.Workers < 1 || cfg.Host.Workers > 64 {
		errs = append(errs, "host.workers must be between 1 and 64")
	}
	if cfg.Host.QueueSize < 1 || cfg.Host.QueueSize > 10000 {
		errs = append(errs, "host.queue-size must be between 1 and 10000")
	}
	if cfg.Host.History < 0 {
		errs = append(errs, "host.history must be >= 0")
	}
	if h := cfg.Host.HTTP; h.Enabled {
		if h.Addr == "" {
			errs = append(errs, "host.http.addr is required when the http host is enabled")
		}
		if !strings.HasPrefix(h.Path, "/") {
			errs = append(errs, "host.http.path must start with /")
		}
		if h.Addr != "" && h.Secret == "" && !isLoopback(h.Addr) {
			errs = append(errs, "host.http.secret is required when host.http.addr is not loopback")
		}
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		errs = append(errs, "metrics.addr is required when metrics are enabled")
	}

	if len(errs) > 0 {
		return errors.New("config validation errors:\n  - " + strings.Join(errs, "\n  - "))
	}
	return nil
}

// ResolvePath places a relative name under the data directory.
func (c *Config) ResolvePath(name string) string {
	name = ExpandPath(name)
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.DataDir, name)
}

// AuditFilePath is the append-only audit text file.
func (c *Config) AuditFilePath() string {
	return c.ResolvePath(c.Logging.FileName)
}

// AuditDBPath is the SQLite audit database.
func (c *Config) AuditDBPath() string {
	return c.ResolvePath(c.Logging.SQLite.Path)
}

// Message returns the template for key in the configured language, falling
// back to the built-in catalogue.
func (c *Config) Message(key string) string {
	if msgs, ok := c.Messages[c.Language]; ok {
		if tmpl, ok := msgs[key]; ok {
			return tmpl
		}
	}
	return DefaultMessage(c.Language, key)
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
