package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	LogLevel       string   `mapstructure:"LOG_LEVEL"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir  string   `mapstructure:"MIGRATIONS_DIR"`
	JWTSecret      string   `mapstructure:"JWT_SECRET"`
	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	AMQPURL        string   `mapstructure:"AMQP_URL"`
	AMQPExchange   string   `mapstructure:"AMQP_EXCHANGE"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`
}

var keys = []string{
	"PORT",
	"ENV",
	"LOG_LEVEL",
	"DATABASE_URL",
	"DB_MAX_CONNS",
	"DB_MIN_CONNS",
	"MIGRATIONS_DIR",
	"JWT_SECRET",
	"AUTH_ISSUER",
	"AUTH_AUDIENCE",
	"CORS_ORIGINS",
	"AMQP_URL",
	"AMQP_EXCHANGE",
	"RATE_LIMIT_RPS",
	"RATE_LIMIT_BURST",
}

// Load reads configuration from the environment and an optional .env file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("AMQP_EXCHANGE", "ckd.events")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)

	// Bind explicitly so Unmarshal sees keys that only exist in the environment.
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = splitList(origins)
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// EventsEnabled reports whether alert events should be published to a broker.
func (c *Config) EventsEnabled() bool {
	return c.AMQPURL != ""
}

// Validate refuses configurations that would run without real authentication
// outside development.
func (c *Config) Validate() error {
	if !c.IsDev() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set when ENV=%q", c.Env)
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters, got %d", len(c.JWTSecret))
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must not be negative")
	}
	return nil
}
