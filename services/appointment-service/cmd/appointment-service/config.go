package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/pestledger/libs/config"
	"github.com/md-rashed-zaman/pestledger/services/appointment-service/internal/model"
)

type serviceConfig struct {
	Service  string
	Port     string
	GRPCPort string
	LogLevel string

	StoreDriver    string
	DatabaseURL    string
	MigrateOnStart bool

	RedisURL string
	CacheTTL time.Duration

	Timezone  string
	SlotStart string
	SlotEnd   string
	SlotStep  time.Duration

	PrivilegedRoles []string
	CatalogPath     string
	JWTSecret       string

	LedgerDriver     string
	LedgerRPCURL     string
	LedgerPrivateKey string
	LedgerNotary     string
	LedgerMinConfirm int

	NotarizeMaxAttempts     int
	NotarizeInitialBackoff  time.Duration
	NotarizeMaxBackoff      time.Duration
	NotarizeConfirmAttempts int
	NotarizeLeaseTTL        time.Duration
	NotarizeAllowed         []model.Status

	KafkaBrokers       []string
	RateLimitPerMinute int
	CORSOrigins        []string
}

func loadConfig() (serviceConfig, error) {
	var (
		c   serviceConfig
		err error
	)
	c.Service = config.String("SERVICE_NAME", "appointment-service")
	if c.Port, err = config.Port("PORT", "8080"); err != nil {
		return c, err
	}
	if c.GRPCPort, err = config.Port("GRPC_PORT", "9090"); err != nil {
		return c, err
	}
	c.LogLevel = config.String("LOG_LEVEL", "info")

	c.StoreDriver = strings.ToLower(config.String("STORE_DRIVER", "memory"))
	switch c.StoreDriver {
	case "memory":
	case "postgres":
		if c.DatabaseURL, err = config.RequiredString("DATABASE_URL"); err != nil {
			return c, err
		}
	default:
		return c, fmt.Errorf("STORE_DRIVER must be memory or postgres (got %q)", c.StoreDriver)
	}
	c.MigrateOnStart = config.Bool("MIGRATE_ON_START", true)

	c.RedisURL = config.String("REDIS_URL", "")
	if c.CacheTTL, err = config.Duration("AVAILABILITY_CACHE_TTL", 5*time.Minute); err != nil {
		return c, err
	}

	c.Timezone = config.String("TIMEZONE", "UTC")
	c.SlotStart = config.String("SLOT_START", "08:00")
	c.SlotEnd = config.String("SLOT_END", "17:00")
	stepMinutes, err := config.Int("SLOT_STEP_MINUTES", 60)
	if err != nil {
		return c, err
	}
	if stepMinutes <= 0 {
		return c, fmt.Errorf("SLOT_STEP_MINUTES must be positive")
	}
	c.SlotStep = time.Duration(stepMinutes) * time.Minute

	c.PrivilegedRoles = config.List("PRIVILEGED_ROLES", []string{"admin"})
	c.CatalogPath = config.String("CATALOG_PATH", "")
	c.JWTSecret = config.String("JWT_SECRET", "")

	c.LedgerDriver = strings.ToLower(config.String("LEDGER_DRIVER", "memory"))
	switch c.LedgerDriver {
	case "memory":
	case "ethereum":
		if c.LedgerRPCURL, err = config.RequiredString("LEDGER_RPC_URL"); err != nil {
			return c, err
		}
		if c.LedgerPrivateKey, err = config.RequiredString("LEDGER_PRIVATE_KEY"); err != nil {
			return c, err
		}
	default:
		return c, fmt.Errorf("LEDGER_DRIVER must be memory or ethereum (got %q)", c.LedgerDriver)
	}
	c.LedgerNotary = config.String("LEDGER_NOTARY_ADDRESS", "")
	if c.LedgerMinConfirm, err = config.Int("LEDGER_MIN_CONFIRMATIONS", 1); err != nil {
		return c, err
	}

	if c.NotarizeMaxAttempts, err = config.Int("NOTARIZE_MAX_ATTEMPTS", 5); err != nil {
		return c, err
	}
	if c.NotarizeInitialBackoff, err = config.Duration("NOTARIZE_INITIAL_BACKOFF", 200*time.Millisecond); err != nil {
		return c, err
	}
	if c.NotarizeMaxBackoff, err = config.Duration("NOTARIZE_MAX_BACKOFF", 5*time.Second); err != nil {
		return c, err
	}
	if c.NotarizeConfirmAttempts, err = config.Int("NOTARIZE_CONFIRM_ATTEMPTS", 10); err != nil {
		return c, err
	}
	if c.NotarizeLeaseTTL, err = config.Duration("NOTARIZE_LEASE_TTL", 2*time.Minute); err != nil {
		return c, err
	}
	for _, s := range config.List("NOTARIZE_ALLOWED_STATUSES", nil) {
		st := model.Status(strings.ToLower(s))
		if !st.Valid() {
			return c, fmt.Errorf("NOTARIZE_ALLOWED_STATUSES: unknown status %q", s)
		}
		c.NotarizeAllowed = append(c.NotarizeAllowed, st)
	}

	c.KafkaBrokers = config.List("KAFKA_BROKERS", nil)
	if c.RateLimitPerMinute, err = config.Int("RATE_LIMIT_PER_MINUTE", 120); err != nil {
		return c, err
	}
	c.CORSOrigins = config.List("CORS_ALLOWED_ORIGINS", nil)
	return c, nil
}
