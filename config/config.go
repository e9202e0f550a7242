package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the server configuration.
type Config struct {
	Port      string         `mapstructure:"port"`
	BaseURL   string         `mapstructure:"base_url"`
	LogLevel  string         `mapstructure:"log_level"`
	StaticDir string         `mapstructure:"static_dir"` // served at / when set
	Database  DatabaseConfig `mapstructure:"database"`
	Auth      AuthConfig     `mapstructure:"auth"`
	SMTP      SMTPConfig     `mapstructure:"smtp"`
	CORS      CORSConfig     `mapstructure:"cors"`
	Trash     TrashConfig    `mapstructure:"trash"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite3, sqlite or postgres
	DSN    string `mapstructure:"dsn"`
}

type AuthConfig struct {
	JWTSecret       string        `mapstructure:"jwt_secret"`
	TokenTTL        time.Duration `mapstructure:"token_ttl"`
	MagicLinkTTL    time.Duration `mapstructure:"magic_link_ttl"`
	ExposeMagicLink bool          `mapstructure:"expose_magic_link"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type TrashConfig struct {
	Retention     time.Duration `mapstructure:"retention"`
	PurgeInterval time.Duration `mapstructure:"purge_interval"`
}

const defaultJWTSecret = "your-default-secret-key-change-in-production"

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "3001")
	v.SetDefault("base_url", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("static_dir", "")
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "./kanban.db")
	v.SetDefault("auth.jwt_secret", defaultJWTSecret)
	v.SetDefault("auth.token_ttl", 7*24*time.Hour)
	v.SetDefault("auth.magic_link_ttl", 15*time.Minute)
	v.SetDefault("auth.expose_magic_link", true)
	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", "587")
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "")
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("trash.retention", 30*24*time.Hour)
	v.SetDefault("trash.purge_interval", time.Hour)
}

// Load reads configuration from an optional .env file, an optional YAML
// file and KANBAN_* environment variables, in increasing precedence.
// Missing files are not an error.
func Load(envFile, configFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("KANBAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("reading config %s: %w", configFile, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Origins from the environment arrive comma separated.
	cfg.CORS.AllowedOrigins = splitList(strings.Join(cfg.CORS.AllowedOrigins, ","))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that have no usable fallback.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database dsn must not be empty")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("jwt secret must not be empty")
	}
	if c.Trash.Retention <= 0 {
		return errors.New("trash retention must be positive")
	}
	if c.Trash.PurgeInterval <= 0 {
		return errors.New("trash purge interval must be positive")
	}
	return nil
}

// UsesDefaultSecret reports whether the JWT secret was left at its
// development default.
func (c *Config) UsesDefaultSecret() bool {
	return c.Auth.JWTSecret == defaultJWTSecret
}

// SMTPEnabled reports whether enough SMTP settings exist to send mail.
func (c *Config) SMTPEnabled() bool {
	return c.SMTP.Host != "" && c.SMTP.Port != "" && c.SMTP.Username != "" && c.SMTP.Password != ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
