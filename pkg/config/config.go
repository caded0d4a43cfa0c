package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Identity   IdentityConfig
	LLM        LLMConfig
	RateLimit  RateLimitConfig
	Invitation InvitationConfig
	Catalog    CatalogConfig
	Worker     WorkerConfig
	Queue      QueueConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	Env            string
	AllowedOrigins []string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

// JWTConfig configures tokens issued by the local account service.
type JWTConfig struct {
	Secret      string
	ExpiryHours int
	Issuer      string
}

// IdentityConfig selects how bearer credentials are verified.
// Mode is one of "local", "http" or "oidc".
type IdentityConfig struct {
	Mode           string
	VerifyURL      string
	APIKey         string
	OIDCIssuer     string
	OIDCClientID   string
	TimeoutSeconds int
}

type LLMConfig struct {
	Provider string // anthropic, openai or none
	APIKey   string
	Model    string
}

type RateLimitConfig struct {
	Requests      int
	WindowSeconds int
	Backend       string // memory or redis
}

type InvitationConfig struct {
	TTLDays       int
	AcceptBaseURL string
}

type CatalogConfig struct {
	CacheSize int
}

type WorkerConfig struct {
	Concurrency int
}

// QueueConfig holds the age identity used to seal secrets in task payloads.
// Empty leaves payloads in plaintext.
type QueueConfig struct {
	EncryptionKey string
}

func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

func (j *JWTConfig) Expiry() time.Duration {
	return time.Duration(j.ExpiryHours) * time.Hour
}

func (i *IdentityConfig) Timeout() time.Duration {
	return time.Duration(i.TimeoutSeconds) * time.Second
}

func (i *InvitationConfig) TTL() time.Duration {
	return time.Duration(i.TTLDays) * 24 * time.Hour
}

func (r *RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func (s *ServerConfig) IsDevelopment() bool {
	return s.Env == "development"
}

func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_ENV", "development")
	v.SetDefault("SERVER_ALLOWED_ORIGINS", "")
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", 5432)
	v.SetDefault("DATABASE_USER", "quanty")
	v.SetDefault("DATABASE_PASSWORD", "quanty_secret")
	v.SetDefault("DATABASE_NAME", "quanty")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("JWT_SECRET", "change-me-in-production")
	v.SetDefault("JWT_EXPIRY_HOURS", 24)
	v.SetDefault("JWT_ISSUER", "quanty")
	v.SetDefault("IDENTITY_MODE", "local")
	v.SetDefault("IDENTITY_VERIFY_URL", "")
	v.SetDefault("IDENTITY_API_KEY", "")
	v.SetDefault("IDENTITY_OIDC_ISSUER", "")
	v.SetDefault("IDENTITY_OIDC_CLIENT_ID", "")
	v.SetDefault("IDENTITY_TIMEOUT_SECONDS", 5)
	v.SetDefault("LLM_PROVIDER", "none")
	v.SetDefault("LLM_API_KEY", "")
	v.SetDefault("LLM_MODEL", "")
	v.SetDefault("RATE_LIMIT_REQUESTS", 100)
	v.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 60)
	v.SetDefault("RATE_LIMIT_BACKEND", "memory")
	v.SetDefault("INVITATION_TTL_DAYS", 7)
	v.SetDefault("INVITATION_ACCEPT_BASE_URL", "http://localhost:3000/invitations/accept")
	v.SetDefault("CATALOG_CACHE_SIZE", 256)
	v.SetDefault("WORKER_CONCURRENCY", 10)
	v.SetDefault("QUEUE_ENCRYPTION_KEY", "")

	// Load from .env file if present
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	// Override with environment variables
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := &Config{
		Server: ServerConfig{
			Host:           v.GetString("SERVER_HOST"),
			Port:           v.GetInt("SERVER_PORT"),
			Env:            v.GetString("SERVER_ENV"),
			AllowedOrigins: splitList(v.GetString("SERVER_ALLOWED_ORIGINS")),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DATABASE_HOST"),
			Port:     v.GetInt("DATABASE_PORT"),
			User:     v.GetString("DATABASE_USER"),
			Password: v.GetString("DATABASE_PASSWORD"),
			Name:     v.GetString("DATABASE_NAME"),
			SSLMode:  v.GetString("DATABASE_SSLMODE"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetInt("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
		},
		JWT: JWTConfig{
			Secret:      v.GetString("JWT_SECRET"),
			ExpiryHours: v.GetInt("JWT_EXPIRY_HOURS"),
			Issuer:      v.GetString("JWT_ISSUER"),
		},
		Identity: IdentityConfig{
			Mode:           v.GetString("IDENTITY_MODE"),
			VerifyURL:      v.GetString("IDENTITY_VERIFY_URL"),
			APIKey:         v.GetString("IDENTITY_API_KEY"),
			OIDCIssuer:     v.GetString("IDENTITY_OIDC_ISSUER"),
			OIDCClientID:   v.GetString("IDENTITY_OIDC_CLIENT_ID"),
			TimeoutSeconds: v.GetInt("IDENTITY_TIMEOUT_SECONDS"),
		},
		LLM: LLMConfig{
			Provider: v.GetString("LLM_PROVIDER"),
			APIKey:   v.GetString("LLM_API_KEY"),
			Model:    v.GetString("LLM_MODEL"),
		},
		RateLimit: RateLimitConfig{
			Requests:      v.GetInt("RATE_LIMIT_REQUESTS"),
			WindowSeconds: v.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
			Backend:       v.GetString("RATE_LIMIT_BACKEND"),
		},
		Invitation: InvitationConfig{
			TTLDays:       v.GetInt("INVITATION_TTL_DAYS"),
			AcceptBaseURL: v.GetString("INVITATION_ACCEPT_BASE_URL"),
		},
		Catalog: CatalogConfig{
			CacheSize: v.GetInt("CATALOG_CACHE_SIZE"),
		},
		Worker: WorkerConfig{
			Concurrency: v.GetInt("WORKER_CONCURRENCY"),
		},
		Queue: QueueConfig{
			EncryptionKey: v.GetString("QUEUE_ENCRYPTION_KEY"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects combinations that cannot produce a working server.
func (c *Config) Validate() error {
	switch c.Identity.Mode {
	case "local":
	case "http":
		if c.Identity.VerifyURL == "" {
			return fmt.Errorf("IDENTITY_VERIFY_URL is required for identity mode %q", c.Identity.Mode)
		}
	case "oidc":
		if c.Identity.OIDCIssuer == "" || c.Identity.OIDCClientID == "" {
			return fmt.Errorf("IDENTITY_OIDC_ISSUER and IDENTITY_OIDC_CLIENT_ID are required for identity mode %q", c.Identity.Mode)
		}
	default:
		return fmt.Errorf("unknown identity mode %q", c.Identity.Mode)
	}

	switch c.RateLimit.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown rate limit backend %q", c.RateLimit.Backend)
	}

	switch c.LLM.Provider {
	case "none", "anthropic", "openai":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}

	if c.Identity.TimeoutSeconds <= 0 {
		return fmt.Errorf("IDENTITY_TIMEOUT_SECONDS must be positive")
	}
	if c.Invitation.TTLDays <= 0 {
		return fmt.Errorf("INVITATION_TTL_DAYS must be positive")
	}

	return nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
