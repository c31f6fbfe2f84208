package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"learnhub/cmd/internal/auth/api"
	"learnhub/cmd/internal/auth/session"
	"learnhub/cmd/internal/auth/tokens"
	"learnhub/cmd/security/password"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment variable read by LoadConfig.
const EnvPrefix = "LEARNHUB"

// Config contains all runtime configuration. Keys map to LEARNHUB_<KEY>
// environment variables and to top-level keys of an optional learnhub.yaml.
type Config struct {
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`

	HTTPAddr          string        `mapstructure:"http_addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"http_read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"http_read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"http_write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"http_idle_timeout"`
	MaxHeaderBytes    int           `mapstructure:"http_max_header_bytes"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`

	DatabaseURL    string `mapstructure:"database_url"`
	DBMaxConns     int32  `mapstructure:"db_max_conns"`
	DBMinConns     int32  `mapstructure:"db_min_conns"`
	MigrateOnStart bool   `mapstructure:"migrate_on_start"`

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool `mapstructure:"readiness_require_db"`

	RedisURL        string        `mapstructure:"redis_url"`
	SessionCacheTTL time.Duration `mapstructure:"session_cache_ttl"`

	// TTLs are a bare count of seconds or one number with an s/m/h/d unit
	// ("7d", "24h"). Anything else, including compound durations like
	// "1h30m", falls back to the default; see InvalidTTLs.
	JWTSecret          string        `mapstructure:"jwt_secret"`
	JWTRefreshSecret   string        `mapstructure:"jwt_refresh_secret"`
	JWTExpiresIn       string        `mapstructure:"jwt_expires_in"`
	JWTRefreshExpires  string        `mapstructure:"jwt_refresh_expires_in"`
	JWTLegacyExpiresIn string        `mapstructure:"jwt_legacy_expires_in"`
	JWTIssuer          string        `mapstructure:"jwt_issuer"`
	JWTAudience        string        `mapstructure:"jwt_audience"`
	JWTLeeway          time.Duration `mapstructure:"jwt_leeway"`
	TokenStrategy      string        `mapstructure:"token_strategy"`

	// Security policy: when true, TokenHMACKey must be set (>= 32 bytes).
	// Production implies it.
	TokenHMACKey     string `mapstructure:"token_hmac_key"`
	RequireTokenHMAC bool   `mapstructure:"require_token_hmac"`

	SessionTouchTimeout  time.Duration `mapstructure:"session_touch_timeout"`
	SessionCurrentWindow time.Duration `mapstructure:"session_current_window"`

	PasswordAlgorithm string `mapstructure:"password_algorithm"`
	BcryptCost        int    `mapstructure:"bcrypt_cost"`
	PasswordMinLength int    `mapstructure:"password_min_length"`

	TrustProxy     bool   `mapstructure:"trust_proxy"`
	MaxBodyBytes   int64  `mapstructure:"max_body_bytes"`
	CookieDomain   string `mapstructure:"cookie_domain"`
	CookieSecure   bool   `mapstructure:"cookie_secure"`
	CookieSameSite string `mapstructure:"cookie_same_site"`

	CORSAllowedOrigins   []string `mapstructure:"cors_allowed_origins"`
	CORSAllowCredentials bool     `mapstructure:"cors_allow_credentials"`
	CORSMaxAgeSeconds    int      `mapstructure:"cors_max_age_seconds"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("http_addr", "0.0.0.0:8080")
	v.SetDefault("http_read_header_timeout", 5*time.Second)
	v.SetDefault("http_read_timeout", 15*time.Second)
	v.SetDefault("http_write_timeout", 15*time.Second)
	v.SetDefault("http_idle_timeout", 60*time.Second)
	v.SetDefault("http_max_header_bytes", 1<<20)
	v.SetDefault("shutdown_timeout", 10*time.Second)

	v.SetDefault("database_url", "")
	v.SetDefault("db_max_conns", 10)
	v.SetDefault("db_min_conns", 0)
	v.SetDefault("migrate_on_start", false)
	v.SetDefault("readiness_require_db", false)

	v.SetDefault("redis_url", "")
	v.SetDefault("session_cache_ttl", 30*time.Second)

	v.SetDefault("jwt_secret", "")
	v.SetDefault("jwt_refresh_secret", "")
	v.SetDefault("jwt_expires_in", "24h")
	v.SetDefault("jwt_refresh_expires_in", "7d")
	v.SetDefault("jwt_legacy_expires_in", "24h")
	v.SetDefault("jwt_issuer", "learnhub")
	v.SetDefault("jwt_audience", "learnhub-users")
	v.SetDefault("jwt_leeway", time.Duration(0))
	v.SetDefault("token_strategy", tokens.StrategyPair)

	v.SetDefault("token_hmac_key", "")
	v.SetDefault("require_token_hmac", false)

	v.SetDefault("session_touch_timeout", 2*time.Second)
	v.SetDefault("session_current_window", time.Hour)

	v.SetDefault("password_algorithm", string(password.AlgorithmArgon2id))
	v.SetDefault("bcrypt_cost", 12)
	v.SetDefault("password_min_length", 6)

	v.SetDefault("trust_proxy", false)
	v.SetDefault("max_body_bytes", int64(1<<20))
	v.SetDefault("cookie_domain", "")
	v.SetDefault("cookie_secure", true)
	v.SetDefault("cookie_same_site", "strict")

	v.SetDefault("cors_allowed_origins", []string{})
	v.SetDefault("cors_allow_credentials", true)
	v.SetDefault("cors_max_age_seconds", 600)
}

// LoadConfig reads learnhub.yaml (if present, from the working directory or
// /etc/learnhub), then LEARNHUB_* environment variables, then defaults.
// Env vars override the file.
func LoadConfig() (Config, error) {
	v := viper.New()

	v.SetConfigName("learnhub")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/learnhub")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("config: read learnhub.yaml: %w", err)
		}
	}

	return loadFrom(v)
}

func loadFrom(v *viper.Viper) (Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.CORSAllowedOrigins = splitList(cfg.CORSAllowedOrigins)

	if strings.TrimSpace(cfg.HTTPAddr) == "" {
		return Config{}, errors.New("config: LEARNHUB_HTTP_ADDR must be set")
	}
	return cfg, nil
}

// splitList flattens comma-separated entries, which is how a list arrives
// from a single environment variable.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, p := range strings.Split(item, ",") {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// IsProduction reports whether Env names a production deployment.
func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), "production")
}

// TokenConfig builds the token codec configuration.
func (c Config) TokenConfig() tokens.Config {
	def := tokens.DefaultConfig()
	return tokens.Config{
		AccessSecret:  c.JWTSecret,
		RefreshSecret: c.JWTRefreshSecret,
		AccessTTL:     tokens.ParseTTL(c.JWTExpiresIn, def.AccessTTL),
		RefreshTTL:    tokens.ParseTTL(c.JWTRefreshExpires, def.RefreshTTL),
		LegacyTTL:     tokens.ParseTTL(c.JWTLegacyExpiresIn, def.LegacyTTL),
		Issuer:        c.JWTIssuer,
		Audience:      c.JWTAudience,
		Leeway:        c.JWTLeeway,
	}
}

// InvalidTTLs returns the configured TTL keys whose values TokenConfig
// ignores in favour of the default, keyed by config key.
func (c Config) InvalidTTLs() map[string]string {
	out := map[string]string{}
	for key, v := range map[string]string{
		"jwt_expires_in":         c.JWTExpiresIn,
		"jwt_refresh_expires_in": c.JWTRefreshExpires,
		"jwt_legacy_expires_in":  c.JWTLegacyExpiresIn,
	} {
		if strings.TrimSpace(v) != "" && tokens.ParseTTL(v, 0) == 0 {
			out[key] = v
		}
	}
	return out
}

// SessionConfig builds the session subsystem configuration.
func (c Config) SessionConfig() session.Config {
	cfg := session.DefaultConfig()
	if c.SessionTouchTimeout > 0 {
		cfg.TouchTimeout = c.SessionTouchTimeout
	}
	if c.SessionCurrentWindow > 0 {
		cfg.CurrentWindow = c.SessionCurrentWindow
	}
	cfg.CacheTTL = c.SessionCacheTTL
	return cfg
}

// PasswordConfig builds the password hasher configuration.
func (c Config) PasswordConfig() password.Config {
	cfg := password.DefaultConfig()
	if c.PasswordAlgorithm != "" {
		cfg.Algorithm = password.Algorithm(c.PasswordAlgorithm)
	}
	if c.BcryptCost > 0 {
		cfg.BcryptCost = c.BcryptCost
	}
	if c.PasswordMinLength > 0 {
		cfg.Policy.MinLength = c.PasswordMinLength
	}
	return cfg
}

// APIConfig builds the HTTP auth API configuration.
func (c Config) APIConfig() api.Config {
	cfg := api.DefaultConfig()
	cfg.TrustProxy = c.TrustProxy
	if c.MaxBodyBytes > 0 {
		cfg.MaxBodyBytes = c.MaxBodyBytes
	}
	cfg.CookieDomain = c.CookieDomain
	cfg.CookieSecure = c.CookieSecure
	cfg.CookieSameSite = api.ParseSameSite(c.CookieSameSite)
	return cfg
}
