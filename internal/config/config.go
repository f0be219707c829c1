// Package config provides YAML configuration loading with validation,
// environment variable substitution, and built-in defaults for the service
// gateway.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Config is the top-level gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Gateway   GatewayInfo     `yaml:"gateway" json:"gateway"`
	Forward   ForwardConfig   `yaml:"forward" json:"forward"`
	Health    HealthConfig    `yaml:"health" json:"health"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors" json:"cors"`
	Admin     AdminConfig     `yaml:"admin" json:"admin"`
	Services  []ServiceConfig `yaml:"services" json:"services"`

	// Warnings holds non-fatal config issues detected during loading.
	// Stored on the Config itself (not a package-level var) so it is
	// safe to call Load concurrently from the hot-reload goroutine.
	Warnings []string `yaml:"-" json:"-"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" json:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	TrustedProxies  []string      `yaml:"trusted_proxies" json:"trusted_proxies"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" json:"max_body_bytes"`
	GlobalTimeoutMs int           `yaml:"global_timeout_ms" json:"global_timeout_ms"`
}

// GlobalTimeout returns the global request deadline as a time.Duration.
// Returns 0 (disabled) when GlobalTimeoutMs is not set.
func (s ServerConfig) GlobalTimeout() time.Duration {
	if s.GlobalTimeoutMs <= 0 {
		return 0
	}
	return time.Duration(s.GlobalTimeoutMs) * time.Millisecond
}

// GatewayInfo is the metadata served on GET /.
type GatewayInfo struct {
	Name         string `yaml:"name" json:"name"`
	Version      string `yaml:"version" json:"version"`
	Architecture string `yaml:"architecture" json:"architecture"`
}

// ForwardConfig tunes outbound calls to backends.
type ForwardConfig struct {
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
	MaxIdlePerHost int           `yaml:"max_idle_per_host" json:"max_idle_per_host"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
}

// HealthConfig tunes backend health probes.
type HealthConfig struct {
	ProbeTimeout time.Duration `yaml:"probe_timeout" json:"probe_timeout"`
	Path         string        `yaml:"path" json:"path"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
// Enabled defaults to true; set to false to disable metrics.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// IsEnabled returns whether metrics are enabled (defaults to true).
func (m MetricsConfig) IsEnabled() bool {
	if m.Enabled == nil {
		return true
	}
	return *m.Enabled
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`               // "debug", "info", "warn", "error"; default: "info"
	Output     string `yaml:"output" json:"output"`             // "stdout", "stderr", or file path; default: "stdout"
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`   // max log file size before rotation; default: 100
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`   // number of rotated files to keep; default: 3
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"` // max days to retain rotated files; default: 30
}

// RateLimitConfig holds the optional per-client rate limiter settings.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" json:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" json:"burst_size"`
}

// CORSConfig holds cross-origin settings. The default allows any origin.
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowCredentials bool     `yaml:"allow_credentials" json:"allow_credentials"` // default: false
}

// AdminConfig holds admin API settings.
type AdminConfig struct {
	Enabled     bool     `yaml:"enabled" json:"enabled"`           // default: false
	IPAllowlist []string `yaml:"ip_allowlist" json:"ip_allowlist"` // CIDR notation
}

// ServiceConfig declares one logical backend service and the routes it owns.
type ServiceConfig struct {
	// Key is the logical name shown on GET /, e.g. "tasks".
	Key string `yaml:"key" json:"key"`
	// Name is the service name used in health reports, e.g. "task-service".
	Name    string `yaml:"name" json:"name"`
	BaseURL string `yaml:"base_url" json:"base_url"`
	// URLEnv names an environment variable that overrides BaseURL when set.
	URLEnv      string        `yaml:"url_env" json:"url_env,omitempty"`
	Placeholder bool          `yaml:"placeholder" json:"placeholder"`
	Message     string        `yaml:"not_implemented_message" json:"not_implemented_message,omitempty"`
	Routes      []RouteConfig `yaml:"routes" json:"routes"`
}

// RouteConfig is one path pattern and the methods it accepts.
type RouteConfig struct {
	Pattern string   `yaml:"pattern" json:"pattern"`
	Methods []string `yaml:"methods" json:"methods"`
}

// ValidLogLevels are the accepted logging.level strings.
var ValidLogLevels = map[string]bool{
	"":      true, // empty means default ("info")
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Default returns the built-in layout: a live task service plus placeholder
// user and project services, each reachable on its conventional local port.
func Default() *Config {
	return &Config{
		Services: []ServiceConfig{
			{
				Key:     "tasks",
				Name:    "task-service",
				BaseURL: "http://localhost:8003",
				URLEnv:  "TASK_SERVICE_URL",
				Routes: []RouteConfig{
					{Pattern: "/tasks", Methods: []string{"GET", "POST"}},
					{Pattern: "/tasks/{id}", Methods: []string{"GET", "PUT", "PATCH", "DELETE"}},
					{Pattern: "/tasks/{id}/status", Methods: []string{"PATCH"}},
				},
			},
			{
				Key:         "users",
				Name:        "user-service",
				BaseURL:     "http://localhost:8004",
				URLEnv:      "USER_SERVICE_URL",
				Placeholder: true,
				Routes: []RouteConfig{
					{Pattern: "/users", Methods: []string{"GET", "POST"}},
				},
			},
			{
				Key:         "projects",
				Name:        "project-service",
				BaseURL:     "http://localhost:8005",
				URLEnv:      "PROJECT_SERVICE_URL",
				Placeholder: true,
				Routes: []RouteConfig{
					{Pattern: "/projects", Methods: []string{"GET", "POST"}},
				},
			},
		},
	}
}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns in s with the corresponding
// environment variable value.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		key := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return match
	})
}

// Load reads and parses a YAML configuration file, applies environment
// variable substitution and overrides, sets defaults, and validates the
// result. An empty path yields the built-in Default layout.
// Warnings are stored on cfg.Warnings (goroutine-safe, no package-level state).
func Load(path string) (*Config, error) {
	if path == "" {
		return finish(Default())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes. Useful for testing.
// A document without a services section falls back to the Default services.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if len(cfg.Services) == 0 {
		cfg.Services = Default().Services
	}
	return finish(&cfg)
}

func finish(cfg *Config) (*Config, error) {
	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.Warnings = collectWarnings(cfg)
	return cfg, nil
}

// applyEnvOverrides lets the conventional deployment variables win over the
// file: PORT for the listener and each service's URLEnv for its base URL.
func applyEnvOverrides(cfg *Config) {
	if p, ok := os.LookupEnv("PORT"); ok {
		if port, err := strconv.Atoi(strings.TrimSpace(p)); err == nil {
			cfg.Server.Port = port
		}
	}
	for i := range cfg.Services {
		svc := &cfg.Services[i]
		if svc.URLEnv == "" {
			continue
		}
		if v, ok := os.LookupEnv(svc.URLEnv); ok && v != "" {
			svc.BaseURL = v
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8006
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	// The write timeout must outlive the forward timeout or slow backends
	// would be cut off by the server before the gateway can answer 504.
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 45 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 1048576 // 1 MB
	}

	if cfg.Gateway.Name == "" {
		cfg.Gateway.Name = "API Gateway"
	}
	if cfg.Gateway.Version == "" {
		cfg.Gateway.Version = "1.0.0"
	}
	if cfg.Gateway.Architecture == "" {
		cfg.Gateway.Architecture = "microservices"
	}

	if cfg.Forward.Timeout == 0 {
		cfg.Forward.Timeout = 30 * time.Second
	}
	if cfg.Forward.MaxIdlePerHost == 0 {
		cfg.Forward.MaxIdlePerHost = 32
	}
	if cfg.Forward.IdleTimeout == 0 {
		cfg.Forward.IdleTimeout = 90 * time.Second
	}

	if cfg.Health.ProbeTimeout == 0 {
		cfg.Health.ProbeTimeout = 5 * time.Second
	}
	if cfg.Health.Path == "" {
		cfg.Health.Path = "/health"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 3
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 30
	}

	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.RequestsPerSecond == 0 {
			cfg.RateLimit.RequestsPerSecond = 100
		}
		if cfg.RateLimit.BurstSize == 0 {
			cfg.RateLimit.BurstSize = 50
		}
	}

	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"*"}
	}

	for i := range cfg.Services {
		svc := &cfg.Services[i]
		if svc.Name == "" {
			svc.Name = svc.Key + "-service"
		}
		if svc.Placeholder && svc.Message == "" {
			svc.Message = NotImplementedMessage(svc.Name)
		}
		for j := range svc.Routes {
			for k, m := range svc.Routes[j].Methods {
				svc.Routes[j].Methods[k] = strings.ToUpper(strings.TrimSpace(m))
			}
		}
	}
}

// NotImplementedMessage derives the 501 detail for a placeholder service
// from its name: "user-service" becomes "User service not implemented yet".
// A Caser is stateful, so each call builds its own.
func NotImplementedMessage(serviceName string) string {
	base := strings.TrimSuffix(serviceName, "-service")
	base = strings.ReplaceAll(base, "-", " ")
	return cases.Title(language.English).String(base) + " service not implemented yet"
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Server.MaxBodyBytes < 0 {
		return fmt.Errorf("server.max_body_bytes must be positive")
	}
	if cfg.Server.GlobalTimeoutMs < 0 {
		return fmt.Errorf("server.global_timeout_ms must be non-negative")
	}
	if cfg.Forward.Timeout < 0 {
		return fmt.Errorf("forward.timeout must be positive")
	}
	if cfg.Forward.MaxIdlePerHost < 0 {
		return fmt.Errorf("forward.max_idle_per_host must be non-negative")
	}
	if cfg.Health.ProbeTimeout < 0 {
		return fmt.Errorf("health.probe_timeout must be positive")
	}
	if !strings.HasPrefix(cfg.Health.Path, "/") {
		return fmt.Errorf("health.path must start with /")
	}
	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limit.requests_per_second must be positive")
		}
		if cfg.RateLimit.BurstSize <= 0 {
			return fmt.Errorf("rate_limit.burst_size must be positive")
		}
	}

	// Logging validation
	if !ValidLogLevels[strings.ToLower(cfg.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Output != "stdout" && cfg.Logging.Output != "stderr" {
		if cfg.Logging.MaxSizeMB < 1 {
			return fmt.Errorf("logging.max_size_mb must be positive when output is a file path")
		}
	}

	// Admin validation
	if cfg.Admin.Enabled {
		if len(cfg.Admin.IPAllowlist) == 0 {
			return fmt.Errorf("admin.ip_allowlist is required when admin is enabled")
		}
		for i, cidr := range cfg.Admin.IPAllowlist {
			if _, _, err := net.ParseCIDR(cidr); err != nil {
				return fmt.Errorf("admin.ip_allowlist[%d]: invalid CIDR %q: %w", i, cidr, err)
			}
		}
	}

	if len(cfg.Services) == 0 {
		return fmt.Errorf("at least one service must be configured")
	}

	keys := make(map[string]bool)
	names := make(map[string]bool)
	for i, svc := range cfg.Services {
		if svc.Key == "" {
			return fmt.Errorf("services[%d].key is required", i)
		}
		if keys[svc.Key] {
			return fmt.Errorf("duplicate service key: %s", svc.Key)
		}
		keys[svc.Key] = true
		if names[svc.Name] {
			return fmt.Errorf("duplicate service name: %s", svc.Name)
		}
		names[svc.Name] = true

		if svc.BaseURL == "" {
			if !svc.Placeholder {
				return fmt.Errorf("services[%d].base_url is required", i)
			}
		} else if err := validateBaseURL(svc.BaseURL); err != nil {
			return fmt.Errorf("services[%d].base_url: %w", i, err)
		}

		if len(svc.Routes) == 0 {
			return fmt.Errorf("services[%d].routes must not be empty", i)
		}
		for j, r := range svc.Routes {
			if !strings.HasPrefix(r.Pattern, "/") {
				return fmt.Errorf("services[%d].routes[%d].pattern must start with /", i, j)
			}
			if len(r.Methods) == 0 {
				return fmt.Errorf("services[%d].routes[%d].methods must not be empty", i, j)
			}
		}
	}

	return nil
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("must not carry a query or fragment")
	}
	return nil
}

func collectWarnings(cfg *Config) []string {
	var warnings []string
	for _, svc := range cfg.Services {
		if svc.Placeholder && svc.BaseURL == "" {
			warnings = append(warnings, fmt.Sprintf("services.%s has no base_url; GET / will report it empty", svc.Key))
		}
	}
	if cfg.Forward.Timeout >= cfg.Server.WriteTimeout {
		warnings = append(warnings, "forward.timeout is not shorter than server.write_timeout; backend timeouts may be cut off before a 504 is written")
	}
	return warnings
}
