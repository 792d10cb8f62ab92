package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

type Config struct {
	Database DatabaseConfig
	Store    StoreConfig
	Server   ServerConfig
	Guard    GuardConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	AutoMigrate       bool
}

type StoreConfig struct {
	Driver     string
	SQLitePath string
	Redis      RedisConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	TrustedProxies []string
	AdminToken     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

type GuardConfig struct {
	LoginThreshold      int
	LoginBaseTimeFrame  time.Duration
	LoginIdentityField  string
	SignUpThreshold     int
	SignUpBaseTimeFrame time.Duration
	SignUpIdentityField string

	// Bypass and FailOpen are escape hatches for local work only
	Bypass   bool
	FailOpen bool

	FloodRequestsPerMinute int
	AttemptRetention       time.Duration
	CleanupInterval        time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "attemptguard"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			AutoMigrate:       getEnvAsBool("AUTO_MIGRATE", true),
		},
		Store: StoreConfig{
			Driver:     strings.ToLower(getEnv("STORE_DRIVER", DriverPostgres)),
			SQLitePath: getEnv("SQLITE_PATH", "attemptguard.db"),
			Redis: RedisConfig{
				Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
				Password: getEnv("REDIS_PASSWORD", ""),
				DB:       getEnvAsInt("REDIS_DB", 0),
				Prefix:   getEnv("REDIS_PREFIX", "ag"),
			},
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			TrustedProxies: parseList(getEnv("TRUSTED_PROXIES", "")),
			AdminToken:     getEnv("ADMIN_TOKEN", ""),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Guard: GuardConfig{
			LoginThreshold:         getEnvAsInt("LOGIN_THRESHOLD", 5),
			LoginBaseTimeFrame:     getEnvAsDuration("LOGIN_BASE_TIME_FRAME", 60*time.Second),
			LoginIdentityField:     getEnv("LOGIN_IDENTITY_FIELD", "mail"),
			SignUpThreshold:        getEnvAsInt("SIGNUP_THRESHOLD", 2),
			SignUpBaseTimeFrame:    getEnvAsDuration("SIGNUP_BASE_TIME_FRAME", 240*time.Second),
			SignUpIdentityField:    getEnv("SIGNUP_IDENTITY_FIELD", "mail"),
			Bypass:                 getEnvAsBool("RATE_LIMIT_BYPASS", false),
			FailOpen:               getEnvAsBool("RATE_LIMIT_FAIL_OPEN", false),
			FloodRequestsPerMinute: getEnvAsInt("FLOOD_REQUESTS_PER_MINUTE", 120),
			AttemptRetention:       getEnvAsDuration("ATTEMPT_RETENTION", 7*24*time.Hour),
			CleanupInterval:        getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsProduction reports whether ENV is production
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case DriverPostgres:
		if c.Database.Password == "" {
			return fmt.Errorf("DB_PASSWORD is required")
		}
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required")
		}
	case DriverRedis:
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("REDIS_ADDR is required")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be one of %s, %s, %s, %s (got %q)",
			DriverPostgres, DriverSQLite, DriverRedis, DriverMemory, c.Store.Driver)
	}

	if c.Guard.LoginThreshold < 1 || c.Guard.SignUpThreshold < 1 {
		return fmt.Errorf("LOGIN_THRESHOLD and SIGNUP_THRESHOLD must be at least 1")
	}
	if c.Guard.LoginBaseTimeFrame <= 0 || c.Guard.SignUpBaseTimeFrame <= 0 {
		return fmt.Errorf("LOGIN_BASE_TIME_FRAME and SIGNUP_BASE_TIME_FRAME must be positive")
	}
	if c.Guard.LoginIdentityField == "" || c.Guard.SignUpIdentityField == "" {
		return fmt.Errorf("LOGIN_IDENTITY_FIELD and SIGNUP_IDENTITY_FIELD cannot be empty")
	}

	if c.IsProduction() {
		if c.Guard.Bypass {
			return fmt.Errorf("RATE_LIMIT_BYPASS cannot be enabled in production")
		}
		if c.Guard.FailOpen {
			return fmt.Errorf("RATE_LIMIT_FAIL_OPEN cannot be enabled in production")
		}
		if c.Store.Driver == DriverMemory {
			return fmt.Errorf("STORE_DRIVER=memory is not allowed in production")
		}
	}

	return validateAdminToken(c.Server.AdminToken, c.Server.Env)
}

// validateAdminToken enforces minimum strength for the admin bearer token.
// An empty token disables the admin endpoints.
func validateAdminToken(token, env string) error {
	if token == "" {
		return nil
	}

	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32
	}

	if len(token) < minLength {
		return fmt.Errorf("ADMIN_TOKEN must be at least %d characters in %s environment (got %d)",
			minLength, env, len(token))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	tokenLower := strings.ToLower(token)
	for _, weak := range weakSecrets {
		if strings.Repeat(weak, len(tokenLower)/len(weak)) == tokenLower {
			return fmt.Errorf("ADMIN_TOKEN cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

// getEnvAsDuration accepts Go durations ("90s") or bare seconds ("90")
func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultVal
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
