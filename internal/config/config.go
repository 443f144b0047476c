package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration of the ledger service and CLI.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Sheet   SheetConfig   `yaml:"sheet"`
	Codec   CodecConfig   `yaml:"codec"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Storage StorageConfig `yaml:"storage"`
	Email   EmailConfig   `yaml:"email"`
	Backup  BackupConfig  `yaml:"backup"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Addr    string `yaml:"addr"`
	Env     string `yaml:"env"`
	CSRFKey string `yaml:"csrf_key"`
}

// SheetConfig locates the spreadsheet read proxy and the form endpoint.
type SheetConfig struct {
	ReadEndpoint  string        `yaml:"read_endpoint"`
	WriteEndpoint string        `yaml:"write_endpoint"`
	PayloadField  string        `yaml:"payload_field"`
	FormEntry     string        `yaml:"form_entry"`
	BlankEntries  []string      `yaml:"blank_entries"`
	SettleDelay   time.Duration `yaml:"settle_delay"`
	Timeout       time.Duration `yaml:"timeout"`
	PollTimeout   time.Duration `yaml:"poll_timeout"`
}

// CodecConfig selects payload schemes. Untagged rows are only decoded with
// the schemes listed in LegacySchemes, in order.
type CodecConfig struct {
	MasterPassphrase string   `yaml:"master_passphrase"`
	WriteScheme      string   `yaml:"write_scheme"`
	LegacySchemes    []string `yaml:"legacy_schemes"`
}

type LedgerConfig struct {
	AdminID      string         `yaml:"admin_id"`
	KafPerYen    int64          `yaml:"kaf_per_yen"`
	RefundFeeYen int64          `yaml:"refund_fee_yen"`
	Timezone     string         `yaml:"timezone"`
	Defaults     DefaultsConfig `yaml:"defaults"`
}

// DefaultsConfig is the site configuration in force before any config record.
type DefaultsConfig struct {
	EmergencyLockdown bool  `yaml:"emergency_lockdown"`
	BaseMonthlyFeeYen int64 `yaml:"base_monthly_fee_yen"`
}

type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

// EmailConfig selects the notification provider. Failed notifications are
// retried every RetryInterval; zero disables the retry worker.
type EmailConfig struct {
	ResendKey     string        `yaml:"resend_key"`
	From          string        `yaml:"from"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// BackupConfig enables raw-row archives to S3 when Bucket is set.
type BackupConfig struct {
	Bucket   string        `yaml:"bucket"`
	Prefix   string        `yaml:"prefix"`
	Region   string        `yaml:"region"`
	Interval time.Duration `yaml:"interval"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	Console    bool   `yaml:"console"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

var ErrInvalidConfig = errors.New("invalid config")

// Default returns the configuration used when no file or env overrides apply.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080", Env: "development"},
		Sheet: SheetConfig{
			PayloadField: "DATA",
			SettleDelay:  1500 * time.Millisecond,
			Timeout:      15 * time.Second,
			PollTimeout:  20 * time.Second,
		},
		Codec: CodecConfig{
			WriteScheme:   "aes-cbc",
			LegacySchemes: []string{"aes-cbc", "base64"},
		},
		Ledger: LedgerConfig{
			AdminID:      "2025",
			KafPerYen:    100,
			RefundFeeYen: 100,
			Timezone:     "Asia/Tokyo",
			Defaults:     DefaultsConfig{BaseMonthlyFeeYen: 1000},
		},
		Storage: StorageConfig{DBPath: "kafer.db"},
		Email:   EmailConfig{From: "KAFer <noreply@kafer.local>", RetryInterval: time.Minute},
		Backup:  BackupConfig{Prefix: "kafer/raw", Interval: 24 * time.Hour},
		Log:     LogConfig{Level: "info", Console: true, MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 30},
	}
}

// Load reads configuration from defaults, an optional YAML file and
// KAFER_* environment variables, in that order of precedence.
// PRE: configFile is empty or names a readable YAML file
// POST: Returns a validated config
func Load(configFile string) (*Config, error) {
	c := Default()

	paths := []string{"etc/kafer.yaml", "/etc/kafer/config.yaml"}
	if configFile != "" {
		paths = []string{configFile}
	}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			if configFile != "" {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
			continue
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		break
	}

	applyEnv(c)

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func applyEnv(c *Config) {
	envOverride(&c.Server.Addr, "KAFER_ADDR")
	envOverride(&c.Server.Env, "KAFER_ENV")
	envOverride(&c.Server.CSRFKey, "KAFER_CSRF_KEY")
	envOverride(&c.Sheet.ReadEndpoint, "KAFER_READ_ENDPOINT")
	envOverride(&c.Sheet.WriteEndpoint, "KAFER_WRITE_ENDPOINT")
	envOverride(&c.Sheet.PayloadField, "KAFER_PAYLOAD_FIELD")
	envOverride(&c.Sheet.FormEntry, "KAFER_FORM_ENTRY")
	envOverrideDuration(&c.Sheet.SettleDelay, "KAFER_SETTLE_DELAY")
	envOverrideDuration(&c.Sheet.PollTimeout, "KAFER_POLL_TIMEOUT")
	envOverride(&c.Codec.MasterPassphrase, "KAFER_MASTER_PASSPHRASE")
	envOverride(&c.Codec.WriteScheme, "KAFER_WRITE_SCHEME")
	envOverrideList(&c.Codec.LegacySchemes, "KAFER_LEGACY_SCHEMES")
	envOverride(&c.Ledger.AdminID, "KAFER_ADMIN_ID")
	envOverride(&c.Ledger.Timezone, "KAFER_TIMEZONE")
	envOverride(&c.Storage.DBPath, "KAFER_DB_PATH")
	envOverride(&c.Email.ResendKey, "RESEND_API_KEY")
	envOverride(&c.Email.From, "KAFER_EMAIL_FROM")
	envOverrideDuration(&c.Email.RetryInterval, "KAFER_EMAIL_RETRY_INTERVAL")
	envOverride(&c.Backup.Bucket, "KAFER_BACKUP_BUCKET")
	envOverride(&c.Backup.Prefix, "KAFER_BACKUP_PREFIX")
	envOverride(&c.Backup.Region, "AWS_REGION")
	envOverride(&c.Log.Level, "LOG_LEVEL")
	envOverride(&c.Log.File, "LOG_FILE")
}

// Validate checks values that would make the service misbehave.
// POST: Returns an error wrapping ErrInvalidConfig on the first bad field
func (c *Config) Validate() error {
	if c.Sheet.PayloadField == "" {
		return fmt.Errorf("%w: sheet.payload_field is required", ErrInvalidConfig)
	}
	if c.Ledger.AdminID == "" {
		return fmt.Errorf("%w: ledger.admin_id is required", ErrInvalidConfig)
	}
	if c.Ledger.KafPerYen <= 0 {
		return fmt.Errorf("%w: ledger.kaf_per_yen must be positive", ErrInvalidConfig)
	}
	if c.Ledger.RefundFeeYen < 0 {
		return fmt.Errorf("%w: ledger.refund_fee_yen cannot be negative", ErrInvalidConfig)
	}
	if c.Ledger.Defaults.BaseMonthlyFeeYen < 0 {
		return fmt.Errorf("%w: ledger.defaults.base_monthly_fee_yen cannot be negative", ErrInvalidConfig)
	}
	if c.Sheet.SettleDelay < 0 {
		return fmt.Errorf("%w: sheet.settle_delay cannot be negative", ErrInvalidConfig)
	}
	if c.Email.RetryInterval < 0 {
		return fmt.Errorf("%w: email.retry_interval cannot be negative", ErrInvalidConfig)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("%w: ledger.timezone: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Location returns the timezone used for month boundaries.
func (c *Config) Location() (*time.Location, error) {
	if c.Ledger.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Ledger.Timezone)
}

// IsProduction reports whether the server runs with production hardening.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func envOverride(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envOverrideDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		} else if ms, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(ms) * time.Millisecond
		}
	}
}

func envOverrideList(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = splitCSV(v)
	}
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
