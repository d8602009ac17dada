package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v6"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidPort is returned for a port outside 1024-65535 or one that is not a number.
	ErrInvalidPort = errors.New("invalid port")

	// ErrEmptyPassword is returned when no connection password is configured.
	ErrEmptyPassword = errors.New("password must not be empty")

	// ErrUnsupportedFormat is returned for a config source whose extension
	// is not yaml, yml, toml or json.
	ErrUnsupportedFormat = errors.New("unsupported config format")
)

const (
	MinPort = 1024
	MaxPort = 65535

	// maxConfigSize caps a configuration fetched over HTTP.
	maxConfigSize = 1 << 20
)

// Config represents the server configuration
type Config struct {
	// Server settings
	Server struct {
		Name     string   `yaml:"name" toml:"name" json:"name" env:"IRCD_SERVER_NAME" validate:"required,hostname_rfc1123"`
		Network  string   `yaml:"network" toml:"network" json:"network" env:"IRCD_NETWORK" validate:"required"`
		Version  string   `yaml:"version" toml:"version" json:"version" env:"IRCD_VERSION"`
		Host     string   `yaml:"host" toml:"host" json:"host" env:"IRCD_HOST" validate:"omitempty,ip"`
		Port     int      `yaml:"port" toml:"port" json:"port" env:"IRCD_PORT" validate:"min=1024,max=65535"`
		Password string   `yaml:"password" toml:"password" json:"password" env:"IRCD_PASSWORD" validate:"required"`
		MOTD     []string `yaml:"motd" toml:"motd" json:"motd" env:"IRCD_MOTD" envSeparator:"|"`
	} `yaml:"server" toml:"server" json:"server"`

	// Timers, all in seconds except poll_interval (milliseconds). Zero disables a timer.
	Limits struct {
		PingInterval        int `yaml:"ping_interval" toml:"ping_interval" json:"ping_interval" env:"IRCD_PING_INTERVAL" validate:"min=0"`
		IdleTimeout         int `yaml:"idle_timeout" toml:"idle_timeout" json:"idle_timeout" env:"IRCD_IDLE_TIMEOUT" validate:"min=0"`
		RegistrationTimeout int `yaml:"registration_timeout" toml:"registration_timeout" json:"registration_timeout" env:"IRCD_REGISTRATION_TIMEOUT" validate:"min=0"`
		PollInterval        int `yaml:"poll_interval" toml:"poll_interval" json:"poll_interval" env:"IRCD_POLL_INTERVAL" validate:"min=1,max=10000"`
		MaxEvents           int `yaml:"max_events" toml:"max_events" json:"max_events" env:"IRCD_MAX_EVENTS" validate:"min=1"`
	} `yaml:"limits" toml:"limits" json:"limits"`

	// Bot settings
	Bot struct {
		Nick string `yaml:"nick" toml:"nick" json:"nick" env:"IRCD_BOT_NICK"`
	} `yaml:"bot" toml:"bot" json:"bot"`

	// Admin HTTP endpoint, disabled when Addr is empty
	Admin struct {
		Addr string `yaml:"addr" toml:"addr" json:"addr" env:"IRCD_ADMIN_ADDR" validate:"omitempty,hostname_port"`
	} `yaml:"admin" toml:"admin" json:"admin"`

	Debug bool `yaml:"debug" toml:"debug" json:"debug" env:"IRCD_DEBUG"`

	// Configuration source for rehashing
	Source string `yaml:"-" toml:"-" json:"-"`
}

// Default returns a configuration with every optional field set.
func Default() *Config {
	cfg := &Config{}

	cfg.Server.Name = "irc.local"
	cfg.Server.Network = "GoIRCd"
	cfg.Server.Version = "goircd-1.0"
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 6667
	cfg.Server.MOTD = []string{"Welcome to GoIRCd."}

	cfg.Limits.PingInterval = 120
	cfg.Limits.IdleTimeout = 300
	cfg.Limits.RegistrationTimeout = 60
	cfg.Limits.PollInterval = 100
	cfg.Limits.MaxEvents = 128

	cfg.Bot.Nick = "ircbot"

	return cfg
}

// Load loads configuration from a file or URL. An empty source yields the
// defaults. Environment variables override both.
func Load(source string) (*Config, error) {
	cfg := Default()

	if source != "" {
		if err := cfg.loadFromSource(source); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Reload reloads the configuration from the original source or a new source
func (c *Config) Reload(newSource string) error {
	if newSource != "" {
		c.Source = newSource
	}

	newCfg, err := Load(c.Source)
	if err != nil {
		return err
	}

	*c = *newCfg
	return nil
}

// decoders maps a source extension to its unmarshaller. A source without
// an extension is read as YAML.
var decoders = map[string]func([]byte, interface{}) error{
	"":      yaml.Unmarshal,
	".yaml": yaml.Unmarshal,
	".yml":  yaml.Unmarshal,
	".toml": toml.Unmarshal,
	".json": json.Unmarshal,
}

// fetchTimeout bounds loading a configuration over HTTP.
const fetchTimeout = 10 * time.Second

// loadFromSource decodes a file or http(s) URL into c.
func (c *Config) loadFromSource(source string) error {
	ext := sourceExt(source)
	decode, ok := decoders[ext]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	data, err := readSource(source)
	if err != nil {
		return err
	}

	if err := decode(data, c); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", source, err)
	}

	c.Source = source
	return nil
}

// sourceExt returns the lower-cased extension of a path or URL path.
func sourceExt(source string) string {
	if u, err := url.Parse(source); err == nil && u.Scheme != "" && u.Host != "" {
		source = u.Path
	}
	return strings.ToLower(filepath.Ext(source))
}

func readSource(source string) ([]byte, error) {
	if !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") {
		data, err := os.ReadFile(source)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		return data, nil
	}

	client := &http.Client{Timeout: fetchTimeout}
	resp, err := client.Get(source)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to load config from URL, status: %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxConfigSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read config from URL: %w", err)
	}
	return data, nil
}

// ApplyEnv overrides fields from their IRCD_* environment variables.
func (c *Config) ApplyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("failed to apply environment: %w", err)
	}
	return nil
}

var validate = validator.New()

// Validate checks the configuration. Port and password problems are
// reported as ErrInvalidPort and ErrEmptyPassword.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}

	for _, fe := range verrs {
		switch fe.StructNamespace() {
		case "Config.Server.Port":
			return fmt.Errorf("%w: %d", ErrInvalidPort, c.Server.Port)
		case "Config.Server.Password":
			return ErrEmptyPassword
		}
	}

	fe := verrs[0]
	return fmt.Errorf("invalid config: %s failed %q", fe.Namespace(), fe.Tag())
}

// ParsePort parses a decimal port number in the range 1024-65535.
func ParsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPort, s)
	}
	if port < MinPort || port > MaxPort {
		return 0, fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	return port, nil
}

// GetListenAddress returns the formatted listen address for the server
func (c *Config) GetListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func (c *Config) PingInterval() time.Duration {
	return seconds(c.Limits.PingInterval)
}

func (c *Config) IdleTimeout() time.Duration {
	return seconds(c.Limits.IdleTimeout)
}

func (c *Config) RegistrationTimeout() time.Duration {
	return seconds(c.Limits.RegistrationTimeout)
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Limits.PollInterval) * time.Millisecond
}
