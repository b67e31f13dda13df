// Package config loads the custody service configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Custody CustodyConfig `yaml:"custody"`
	Store   StoreConfig   `yaml:"store"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Oracle  OracleConfig  `yaml:"oracle"`
	Notify  NotifyConfig  `yaml:"notify"`
	Auth    AuthConfig    `yaml:"auth"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type CustodyConfig struct {
	Admin             string        `yaml:"admin"`
	MinDuration       time.Duration `yaml:"min_duration"`
	MaxDuration       time.Duration `yaml:"max_duration"`
	EvidenceTimeout   time.Duration `yaml:"evidence_timeout"`
	RefundGrace       time.Duration `yaml:"refund_grace"`
	DecryptionTimeout time.Duration `yaml:"decryption_timeout"`
	WatchdogInterval  time.Duration `yaml:"watchdog_interval"`
}

// StoreConfig picks the case store: memory, journal or postgres.
type StoreConfig struct {
	Driver      string `yaml:"driver"`
	JournalPath string `yaml:"journal_path"`
	DatabaseURL string `yaml:"database_url"`
}

type LedgerConfig struct {
	Driver   string            `yaml:"driver"`
	Accounts map[string]uint64 `yaml:"accounts"`
}

// OracleConfig covers both the in-process oracle (mode local) and a remote
// one (mode http).
type OracleConfig struct {
	Mode          string `yaml:"mode"`
	Identity      string `yaml:"identity"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	CallbackURL   string `yaml:"callback_url"`
	HMACSecret    string `yaml:"hmac_secret"`
	FHESecret     string `yaml:"fhe_secret"`
	SigningKeyset string `yaml:"signing_keyset"`
	PublicKeyset  string `yaml:"public_keyset"`
}

type NotifyConfig struct {
	JSONLPath    string `yaml:"jsonl_path"`
	RedisURL     string `yaml:"redis_url"`
	RedisChannel string `yaml:"redis_channel"`
	RedisHistory int64  `yaml:"redis_history"`
	Websocket    bool   `yaml:"websocket"`
}

// AuthConfig maps SHA256 bearer token hashes (lower hex) to caller
// identities. Postgres credentials are consulted as well when the store
// driver is postgres.
type AuthConfig struct {
	Tokens map[string]string `yaml:"tokens"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: "8090", ShutdownTimeout: 10 * time.Second},
		Custody: CustodyConfig{
			Admin:             "admin",
			MinDuration:       time.Hour,
			MaxDuration:       365 * 24 * time.Hour,
			EvidenceTimeout:   7 * 24 * time.Hour,
			RefundGrace:       7 * 24 * time.Hour,
			DecryptionTimeout: 24 * time.Hour,
			WatchdogInterval:  time.Minute,
		},
		Store:  StoreConfig{Driver: "memory"},
		Ledger: LedgerConfig{Driver: "memory"},
		Oracle: OracleConfig{Mode: "local", Identity: "oracle"},
		Notify: NotifyConfig{RedisChannel: "courtlane:events", RedisHistory: 1000, Websocket: true},
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path yields defaults plus environment.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config load: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("config unmarshal: %w", err)
		}
	}
	if err := applyEnvOverrides(c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func applyEnvOverrides(c *Config) error {
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setString("SERVICE_PORT", &c.Server.Port)
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		c.Store.DatabaseURL = v
		if os.Getenv("COURTLANE_STORE_DRIVER") == "" {
			c.Store.Driver = "postgres"
			c.Ledger.Driver = "postgres"
		}
	}
	setString("COURTLANE_ADMIN", &c.Custody.Admin)
	setString("COURTLANE_STORE_DRIVER", &c.Store.Driver)
	setString("COURTLANE_JOURNAL_PATH", &c.Store.JournalPath)
	setString("COURTLANE_LEDGER_DRIVER", &c.Ledger.Driver)
	setString("COURTLANE_ORACLE_MODE", &c.Oracle.Mode)
	setString("COURTLANE_ORACLE_IDENTITY", &c.Oracle.Identity)
	setString("COURTLANE_ORACLE_URL", &c.Oracle.URL)
	setString("COURTLANE_ORACLE_TOKEN", &c.Oracle.Token)
	setString("COURTLANE_ORACLE_CALLBACK_URL", &c.Oracle.CallbackURL)
	setString("COURTLANE_ORACLE_HMAC_SECRET", &c.Oracle.HMACSecret)
	setString("COURTLANE_FHE_SECRET", &c.Oracle.FHESecret)
	setString("COURTLANE_ORACLE_SIGNING_KEYSET", &c.Oracle.SigningKeyset)
	setString("COURTLANE_ORACLE_PUBLIC_KEYSET", &c.Oracle.PublicKeyset)
	setString("COURTLANE_EVENTS_JSONL", &c.Notify.JSONLPath)
	setString("COURTLANE_REDIS_URL", &c.Notify.RedisURL)
	setString("COURTLANE_REDIS_CHANNEL", &c.Notify.RedisChannel)

	durations := map[string]*time.Duration{
		"COURTLANE_EVIDENCE_TIMEOUT":   &c.Custody.EvidenceTimeout,
		"COURTLANE_REFUND_GRACE":       &c.Custody.RefundGrace,
		"COURTLANE_DECRYPTION_TIMEOUT": &c.Custody.DecryptionTimeout,
		"COURTLANE_WATCHDOG_INTERVAL":  &c.Custody.WatchdogInterval,
	}
	for key, dst := range durations {
		raw := strings.TrimSpace(os.Getenv(key))
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = d
	}
	if raw := strings.TrimSpace(os.Getenv("COURTLANE_REDIS_HISTORY")); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("config: COURTLANE_REDIS_HISTORY: %w", err)
		}
		c.Notify.RedisHistory = n
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []string
	if strings.TrimSpace(c.Custody.Admin) == "" {
		errs = append(errs, "custody.admin is required")
	}
	if c.Custody.MinDuration <= 0 || c.Custody.MaxDuration < c.Custody.MinDuration {
		errs = append(errs, "custody duration bounds are invalid")
	}
	if c.Custody.DecryptionTimeout <= 0 {
		errs = append(errs, "custody.decryption_timeout must be positive")
	}
	switch c.Store.Driver {
	case "memory":
	case "journal":
		if c.Store.JournalPath == "" {
			errs = append(errs, "store.journal_path is required for the journal driver")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url (or DATABASE_URL) is required for postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown store.driver %q", c.Store.Driver))
	}
	switch c.Ledger.Driver {
	case "memory":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "postgres ledger needs a database url")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown ledger.driver %q", c.Ledger.Driver))
	}
	if strings.TrimSpace(c.Oracle.Identity) == "" {
		errs = append(errs, "oracle.identity is required")
	}
	switch c.Oracle.Mode {
	case "local":
	case "http":
		if c.Oracle.URL == "" || c.Oracle.PublicKeyset == "" || c.Oracle.HMACSecret == "" {
			errs = append(errs, "http oracle needs url, public_keyset and hmac_secret")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown oracle.mode %q", c.Oracle.Mode))
	}
	// Records in a durable store, and a remote oracle, must be able to open
	// handles sealed by an earlier process.
	if strings.TrimSpace(c.Oracle.FHESecret) == "" && (c.Store.Driver != "memory" || c.Oracle.Mode == "http") {
		errs = append(errs, "oracle.fhe_secret is required with a durable store or the http oracle")
	}
	if len(errs) > 0 {
		return errors.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}
