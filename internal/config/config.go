// Package config loads server configuration from an optional YAML file,
// fills defaults, applies environment overrides and validates the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  Server  `yaml:"server"`
	Session Session `yaml:"session"`
	Market  Market  `yaml:"market"`
	Auth    Auth    `yaml:"auth"`
	Store   Store   `yaml:"store"`
}

type Server struct {
	Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"15s"`
	RequestTimeout  time.Duration `yaml:"request_timeout" default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

type Session struct {
	CookieName      string        `yaml:"cookie_name" default:"sid" validate:"required"`
	CookieSecure    bool          `yaml:"cookie_secure"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" default:"30m" validate:"gt=0"`
	ReapInterval    time.Duration `yaml:"reap_interval" default:"1m" validate:"gt=0"`
	DefaultCurrency string        `yaml:"default_currency" default:"INR" validate:"required,len=3"`
	AlertTimeout    time.Duration `yaml:"alert_timeout" default:"3s" validate:"gt=0"`
}

type Market struct {
	BaseURL string        `yaml:"base_url" default:"https://api.coingecko.com/api/v3" validate:"required,url"`
	Timeout time.Duration `yaml:"timeout" default:"10s"`
	PerPage int           `yaml:"per_page" default:"100" validate:"gte=1,lte=250"`
}

type Auth struct {
	Provider          string        `yaml:"provider" default:"memory" validate:"oneof=memory identitytoolkit"`
	APIKey            string        `yaml:"api_key" validate:"required_if=Provider identitytoolkit"`
	BaseURL           string        `yaml:"base_url" default:"https://identitytoolkit.googleapis.com/v1" validate:"required,url"`
	CallbackURL       string        `yaml:"callback_url" default:"http://localhost:8080/api/v1/auth/callback" validate:"required,url"`
	Timeout           time.Duration `yaml:"timeout" default:"10s"`
	Domain            string        `yaml:"domain" default:"localhost"`
	AuthorizedDomains []string      `yaml:"authorized_domains"`
	PopupsBlocked     bool          `yaml:"popups_blocked"`
}

type Store struct {
	Backend     string        `yaml:"backend" default:"memory" validate:"oneof=memory postgres"`
	DatabaseURL string        `yaml:"database_url" validate:"required_if=Backend postgres"`
	RedisURL    string        `yaml:"redis_url"`
	CacheTTL    time.Duration `yaml:"cache_ttl" default:"5m"`
}

var validate = validator.New()

// Load reads path (if non-empty), fills defaults, applies environment
// overrides and validates.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

// applyEnv keeps the PORT, DATABASE_URL and REDIS_URL variables working
// as before; a DATABASE_URL alone selects the postgres backend.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup("DATABASE_URL"); ok && v != "" {
		c.Store.DatabaseURL = v
		c.Store.Backend = "postgres"
	}
	if v, ok := lookup("REDIS_URL"); ok && v != "" {
		c.Store.RedisURL = v
	}
	if v, ok := lookup("STORE_BACKEND"); ok && v != "" {
		c.Store.Backend = v
	}
	if v, ok := lookup("AUTH_PROVIDER"); ok && v != "" {
		c.Auth.Provider = v
	}
	if v, ok := lookup("IDENTITY_TOOLKIT_API_KEY"); ok && v != "" {
		c.Auth.APIKey = v
	}
	if v, ok := lookup("AUTH_CALLBACK_URL"); ok && v != "" {
		c.Auth.CallbackURL = v
	}
	if v, ok := lookup("MARKET_BASE_URL"); ok && v != "" {
		c.Market.BaseURL = v
	}
	if v, ok := lookup("ALLOWED_ORIGINS"); ok && v != "" {
		c.Server.AllowedOrigins = strings.Split(v, ",")
	}
	return nil
}
