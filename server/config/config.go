package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/vigil/server/detector"
	"github.com/cyclopcam/vigil/server/framestore"
	"github.com/cyclopcam/vigil/server/monitor"
	"github.com/cyclopcam/vigil/server/notifications"
	"github.com/joho/godotenv"
)

const (
	DefaultHTTPAddr  = ":8090"
	DefaultDBFile    = "vigil.sqlite"
	DefaultRateLimit = 120 // Requests per minute, per IP
)

type Config struct {
	DB         dbh.DBConfig      `json:"db"`
	HTTPAddr   string            `json:"httpAddr"`
	RateLimit  int               `json:"rateLimit"` // API requests per minute, per IP. Negative disables rate limiting.
	Detector   detector.Config   `json:"detector"`
	Monitor    monitor.Settings  `json:"monitor"`
	FrameStore framestore.Config `json:"frameStore"`
	Alerts     AlertConfig       `json:"alerts"`
	Session    SessionConfig     `json:"session"`
}

type AlertConfig struct {
	Policy       notifications.Policy `json:"policy"`
	WebhookURL   string               `json:"webhookURL"`   // Used by "webhook" rules that don't name a URL as their recipient
	WebhookToken string               `json:"webhookToken"` // Optional bearer token for the webhook
}

type SessionConfig struct {
	MaxFrames     int64 `json:"maxFrames"`     // Zero means the session default. Negative means no limit.
	ReorderWindow int   `json:"reorderWindow"` // Frames held back to repair out-of-order delivery
}

// Default returns the configuration that is used when no config file is given
func Default() *Config {
	return &Config{
		DB:        dbh.MakeSqliteConfig(DefaultDBFile),
		HTTPAddr:  DefaultHTTPAddr,
		RateLimit: DefaultRateLimit,
		Detector:  detector.Config{Kind: detector.KindStub},
		Monitor:   monitor.DefaultSettings(),
		Alerts: AlertConfig{
			Policy: notifications.DefaultPolicy(),
		},
	}
}

// Load reads the configuration.
// Any envFiles that exist are loaded into the environment first (existing variables win).
// If filename is empty, we start from the defaults. Environment overrides are applied last.
func Load(filename string, envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("Error loading %v: %w", f, err)
		}
	}

	cfg := Default()
	if filename != "" {
		raw, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("Error loading %v: %w", filename, err)
		}
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("Error loading as JSON %v: %w", filename, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("VIGIL_DB_FILE"); v != "" {
		c.DB = dbh.MakeSqliteConfig(v)
	}
	c.HTTPAddr = getEnv("VIGIL_HTTP_ADDR", c.HTTPAddr)
	c.Alerts.WebhookURL = getEnv("VIGIL_ALERT_WEBHOOK", c.Alerts.WebhookURL)
	c.Alerts.WebhookToken = getEnv("VIGIL_ALERT_WEBHOOK_TOKEN", c.Alerts.WebhookToken)
	if v := os.Getenv("VIGIL_FRAME_DIR"); v != "" {
		c.FrameStore.Filesystem = &framestore.FilesystemConfig{Root: v}
		c.FrameStore.GCS = nil
	}
	if v := os.Getenv("VIGIL_DETECTOR"); v != "" {
		c.Detector.Kind = detector.Kind(v)
	}
	if v := os.Getenv("VIGIL_MAX_FRAMES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("Invalid VIGIL_MAX_FRAMES '%v': %w", v, err)
		}
		c.Session.MaxFrames = n
	}
	return nil
}

func (c *Config) Validate() error {
	if c.DB.Driver != dbh.DriverSqlite {
		return fmt.Errorf("Unsupported database driver '%v'. Only %v is supported", c.DB.Driver, dbh.DriverSqlite)
	}
	if c.DB.Database == "" {
		return errors.New("Database filename may not be empty")
	}
	if c.HTTPAddr == "" {
		return errors.New("httpAddr may not be empty")
	}
	if err := c.Monitor.Validate(); err != nil {
		return fmt.Errorf("Invalid monitor settings: %w", err)
	}
	if err := c.Alerts.Policy.Validate(); err != nil {
		return err
	}
	if c.Session.ReorderWindow < 0 {
		return fmt.Errorf("Invalid reorder window %v", c.Session.ReorderWindow)
	}
	if c.FrameStore.Filesystem != nil && c.FrameStore.GCS != nil {
		return errors.New("Only one of frameStore.filesystem and frameStore.gcs may be set")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
