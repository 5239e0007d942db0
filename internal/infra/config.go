package infra

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env         string
	Port        string
	LogLevel    string
	Storage     string
	DatabaseURL string
	JWTSecret   string

	NATSURL      string
	AlertSubject string

	PlansFile string
	Plans     *PlanCatalog

	InviteDefaultDays  int
	OperationTimeout   time.Duration
	ValidateRatePerMin int
	ValidateBurst      int
}

// LoadConfig reads .env (if present) and the process environment.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Env:          getEnv("APP_ENV", "development"),
		Port:         getEnv("PORT", "8080"),
		LogLevel:     os.Getenv("LOG_LEVEL"),
		Storage:      getEnv("STORAGE", "postgres"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		JWTSecret:    os.Getenv("JWT_SECRET"),
		NATSURL:      os.Getenv("NATS_URL"),
		AlertSubject: getEnv("ALERT_SUBJECT", "alerts.consistency"),
		PlansFile:    os.Getenv("PLANS_FILE"),
	}

	var err error
	if cfg.InviteDefaultDays, err = getInt("INVITE_DEFAULT_DAYS", 7); err != nil {
		return cfg, err
	}
	if cfg.ValidateRatePerMin, err = getInt("VALIDATE_RATE_PER_MIN", 30); err != nil {
		return cfg, err
	}
	if cfg.ValidateBurst, err = getInt("VALIDATE_BURST", 10); err != nil {
		return cfg, err
	}
	if cfg.OperationTimeout, err = getDuration("OPERATION_TIMEOUT", 5*time.Second); err != nil {
		return cfg, err
	}

	if cfg.PlansFile != "" {
		if cfg.Plans, err = LoadPlanCatalog(cfg.PlansFile); err != nil {
			return cfg, err
		}
	} else {
		cfg.Plans = DefaultPlanCatalog()
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET required")
	}
	switch c.Storage {
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL required")
		}
	case "memory":
	default:
		return fmt.Errorf("STORAGE must be postgres or memory, got %q", c.Storage)
	}
	if c.InviteDefaultDays <= 0 {
		return errors.New("INVITE_DEFAULT_DAYS must be positive")
	}
	if c.OperationTimeout <= 0 {
		return errors.New("OPERATION_TIMEOUT must be positive")
	}
	if c.ValidateRatePerMin <= 0 || c.ValidateBurst <= 0 {
		return errors.New("validate rate limits must be positive")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
