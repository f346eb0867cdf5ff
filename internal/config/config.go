// Package config loads the agent configuration from a YAML file, applies
// defaults for anything left unset and lets a few environment variables
// override the file. The result is immutable after Load returns.
//
// Production installs keep the file at /etc/gpmonitor/config.yaml; a
// different path can be given with -config or GPMONITOR_CONFIG.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"gpmonitor/internal/models"
	"gpmonitor/internal/registry"
)

// DefaultPath is used when no path is configured. A missing file at this
// path is not an error.
const DefaultPath = "/etc/gpmonitor/config.yaml"

// Audit sinks
const (
	SinkFile   = "file"
	SinkSQLite = "sqlite"
	SinkNone   = "none"
)

// Config holds every option of the agent.
type Config struct {
	Listen       string `yaml:"listen"`
	Port         int    `yaml:"port"`
	APIToken     string `yaml:"api_token"`
	APITokenFile string `yaml:"api_token_file"`
	TLSCertFile  string `yaml:"tls_cert_file"`
	TLSKeyFile   string `yaml:"tls_key_file"`

	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	// Only enable it behind a proxy that overwrites those headers.
	TrustProxy bool   `yaml:"trust_proxy"`
	LogFormat  string `yaml:"log_format"`

	Mechanism         models.Mechanism `yaml:"mechanism"`
	ActionTimeout     time.Duration    `yaml:"action_timeout"`
	StatusTimeout     time.Duration    `yaml:"status_timeout"`
	StatusConcurrency int              `yaml:"status_concurrency"`

	Audit     AuditConfig     `yaml:"audit"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Reboot    RebootConfig    `yaml:"reboot"`

	Services []ServiceEntry `yaml:"services"`
	Aliases  AliasList      `yaml:"aliases"`
	Commands []CommandEntry `yaml:"commands"`
}

// AuditConfig selects where audit events are stored.
type AuditConfig struct {
	Sink   string `yaml:"sink"`
	Path   string `yaml:"path"`
	Recent int    `yaml:"recent"`
}

// RateLimitConfig bounds requests per client IP. PerMinute 0 disables it.
type RateLimitConfig struct {
	PerMinute int `yaml:"per_minute"`
	Burst     int `yaml:"burst"`
}

// RebootConfig configures the delayed reboot.
type RebootConfig struct {
	DelayMinutes int `yaml:"delay_minutes"`
}

// ServiceEntry is either a bare name or a {name, controllable} mapping.
type ServiceEntry struct {
	Name         string
	Controllable bool
}

// UnmarshalYAML accepts `- nginx` and `- {name: ssh, controllable: false}`.
func (s *ServiceEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		s.Name = node.Value
		s.Controllable = true
		return nil
	}
	var raw struct {
		Name         string `yaml:"name"`
		Controllable *bool  `yaml:"controllable"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	s.Name = raw.Name
	s.Controllable = raw.Controllable == nil || *raw.Controllable
	return nil
}

// AliasList is an ordered alias table decoded from a YAML mapping.
type AliasList []models.ServiceAlias

// UnmarshalYAML keeps the declaration order of the mapping.
func (a *AliasList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: aliases must be a mapping", node.Line)
	}
	out := make(AliasList, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var candidates []string
		if err := node.Content[i+1].Decode(&candidates); err != nil {
			return fmt.Errorf("alias %s: %w", node.Content[i].Value, err)
		}
		out = append(out, models.ServiceAlias{Name: node.Content[i].Value, Candidates: candidates})
	}
	*a = out
	return nil
}

// CommandEntry is an allow-listed operator command.
type CommandEntry struct {
	Name     string   `yaml:"name"`
	Argv     []string `yaml:"argv"`
	Mutating bool     `yaml:"mutating"`
}

// Default returns the built-in configuration: the GridPane stack services,
// the common alias groups and the read-only diagnostic commands.
func Default() *Config {
	return &Config{
		Listen:            "127.0.0.1",
		Port:              8847,
		Mechanism:         models.MechanismSystemctl,
		ActionTimeout:     30 * time.Second,
		StatusTimeout:     10 * time.Second,
		StatusConcurrency: 8,
		Audit: AuditConfig{
			Sink:   SinkFile,
			Path:   "/var/log/gpmonitor/audit.log",
			Recent: 200,
		},
		RateLimit: RateLimitConfig{PerMinute: 60, Burst: 10},
		Reboot:    RebootConfig{DelayMinutes: 1},
		Services: []ServiceEntry{
			{Name: "nginx", Controllable: true},
			{Name: "mysql", Controllable: true},
			{Name: "mariadb", Controllable: true},
			{Name: "redis-server", Controllable: true},
			{Name: "php8.3-fpm", Controllable: true},
			{Name: "php8.2-fpm", Controllable: true},
			{Name: "php8.1-fpm", Controllable: true},
			{Name: "php8.0-fpm", Controllable: true},
			{Name: "php7.4-fpm", Controllable: true},
			{Name: "fail2ban", Controllable: true},
			{Name: "ssh", Controllable: false},
		},
		Aliases: AliasList{
			{Name: "database", Candidates: []string{"mysql", "mariadb"}},
			{Name: "cache", Candidates: []string{"redis-server"}},
			{Name: "php", Candidates: []string{"php8.3-fpm", "php8.2-fpm", "php8.1-fpm", "php8.0-fpm", "php7.4-fpm"}},
		},
		Commands: []CommandEntry{
			{Name: "uptime", Argv: []string{"/usr/bin/uptime"}},
			{Name: "who", Argv: []string{"/usr/bin/who", "-q"}},
			{Name: "last", Argv: []string{"/usr/bin/last", "-n", "5"}},
			{Name: "df", Argv: []string{"/bin/df", "-h"}},
			{Name: "free", Argv: []string{"/usr/bin/free", "-h"}},
		},
	}
}

// Load reads path on top of the defaults, then applies the environment.
// An empty path, or a missing file at DefaultPath, yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist) && path == DefaultPath:
			// not installed yet, run on defaults
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(b, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.loadToken(filepath.Dir(path)); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if token := os.Getenv("GPMONITOR_API_TOKEN"); token != "" {
		c.APIToken = token
	}
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		c.Port = p
	}
	return nil
}

// loadToken reads api_token_file when no token was given inline. Relative
// paths are taken from the config file's directory.
func (c *Config) loadToken(baseDir string) error {
	if c.APIToken != "" || c.APITokenFile == "" {
		return nil
	}
	path := c.APITokenFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read api token file: %w", err)
	}
	c.APIToken = strings.TrimSpace(string(b))
	return nil
}

// Validate checks the configuration for values the agent cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.APIToken == "" {
		errs = append(errs, errors.New("api_token (or api_token_file, GPMONITOR_API_TOKEN) is required"))
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		errs = append(errs, errors.New("tls_cert_file and tls_key_file must be set together"))
	}
	switch c.Mechanism {
	case models.MechanismSystemctl, models.MechanismDBus:
	default:
		errs = append(errs, fmt.Errorf("unknown mechanism %q", c.Mechanism))
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log_format %q", c.LogFormat))
	}
	if c.ActionTimeout <= 0 {
		errs = append(errs, errors.New("action_timeout must be positive"))
	}
	if c.StatusTimeout <= 0 {
		errs = append(errs, errors.New("status_timeout must be positive"))
	}
	if c.StatusConcurrency < 1 {
		errs = append(errs, errors.New("status_concurrency must be at least 1"))
	}
	switch c.Audit.Sink {
	case SinkFile, SinkSQLite:
		if c.Audit.Path == "" {
			errs = append(errs, fmt.Errorf("audit.path is required for the %s sink", c.Audit.Sink))
		}
	case SinkNone:
	default:
		errs = append(errs, fmt.Errorf("unknown audit sink %q", c.Audit.Sink))
	}
	if c.RateLimit.PerMinute < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("rate_limit values must not be negative"))
	}
	if c.Reboot.DelayMinutes < 0 {
		errs = append(errs, errors.New("reboot.delay_minutes must not be negative"))
	}

	seen := make(map[string]bool)
	for _, cmd := range c.Commands {
		if !registry.ValidName(cmd.Name) {
			errs = append(errs, fmt.Errorf("invalid command name %q", cmd.Name))
		}
		if seen[cmd.Name] {
			errs = append(errs, fmt.Errorf("command %s declared twice", cmd.Name))
		}
		seen[cmd.Name] = true
		if len(cmd.Argv) == 0 || !filepath.IsAbs(cmd.Argv[0]) {
			errs = append(errs, fmt.Errorf("command %s: argv must start with an absolute path", cmd.Name))
		}
	}

	// Service and alias names are checked by the registry itself.
	if _, err := c.Registry(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Listen, c.Port)
}

// Registry builds the allow-list registry from the services and aliases.
func (c *Config) Registry() (*registry.Registry, error) {
	services := make([]models.ServiceDescriptor, 0, len(c.Services))
	for _, s := range c.Services {
		services = append(services, models.ServiceDescriptor{Name: s.Name, Controllable: s.Controllable})
	}
	return registry.New(services, c.Aliases)
}

// CommandSpecs returns the allow-listed commands.
func (c *Config) CommandSpecs() []models.CommandSpec {
	out := make([]models.CommandSpec, 0, len(c.Commands))
	for _, cmd := range c.Commands {
		out = append(out, models.CommandSpec{
			Name:     cmd.Name,
			Argv:     append([]string(nil), cmd.Argv...),
			Mutating: cmd.Mutating,
		})
	}
	return out
}

// Redacted returns a copy that is safe to log.
func (c *Config) Redacted() Config {
	cp := *c
	if cp.APIToken != "" {
		cp.APIToken = "REDACTED"
	}
	return cp
}
