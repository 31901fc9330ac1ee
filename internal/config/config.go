// Package config assembles the server configuration from flags, environment
// variables and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/jmcleod/arbor/session"
)

// EnvPrefix is prepended to every environment variable, so data-dir is read
// from ARBOR_DATA_DIR.
const EnvPrefix = "ARBOR"

// Storage backends.
const (
	StorageBolt     = "bbolt"
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Keys shared by cobra flags and viper.
const (
	KeyPort             = "port"
	KeyDataDir          = "data-dir"
	KeySessionSecret    = "session-secret"
	KeyEncryptionSecret = "encryption-secret"
	KeyStorage          = "storage"
	KeyPostgresDSN      = "postgres-dsn"
	KeyTLSCert          = "tls-cert"
	KeyTLSKey           = "tls-key"
	KeyInsecureCookies  = "insecure-cookies"
	KeySessionTTL       = "session-ttl"
	KeyMaxUploadBytes   = "max-upload-bytes"
	KeyTrustedProxies   = "trusted-proxies"
	KeyLogLevel         = "log-level"
	KeyAuditWebhookURL  = "audit-webhook-url"
	KeyAuditWebhookAuth = "audit-webhook-header"
)

const (
	DefaultPort           = 8443
	DefaultDataDir        = "./data"
	DefaultMaxUploadBytes = 25 << 20
	DefaultLogLevel       = "info"
)

// MinSecretLength is the shortest accepted session or encryption secret.
const MinSecretLength = 32

var ErrInvalid = errors.New("invalid configuration")

// Config is the process-wide server configuration. It is built once at
// startup and passed to the components that need it.
type Config struct {
	Port             int
	DataDir          string
	SessionSecret    string
	EncryptionSecret string
	Storage          string
	PostgresDSN      string
	TLSCert          string
	TLSKey           string
	InsecureCookies  bool
	SessionTTL       time.Duration
	MaxUploadBytes   int64
	TrustedProxies   []string
	LogLevel         string
	AuditWebhookURL  string
	AuditWebhookAuth string
}

// NewViper returns a viper instance with defaults set and ARBOR_ environment
// lookup enabled.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyPort, DefaultPort)
	v.SetDefault(KeyDataDir, DefaultDataDir)
	v.SetDefault(KeyStorage, StorageBolt)
	v.SetDefault(KeySessionTTL, session.DefaultTTL)
	v.SetDefault(KeyMaxUploadBytes, DefaultMaxUploadBytes)
	v.SetDefault(KeyLogLevel, DefaultLogLevel)
	return v
}

// LoadEnvFile loads KEY=value pairs from path into the process environment
// without overriding variables that are already set. A missing file is not an
// error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// Load reads a Config out of v and validates it.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		Port:             v.GetInt(KeyPort),
		DataDir:          v.GetString(KeyDataDir),
		SessionSecret:    v.GetString(KeySessionSecret),
		EncryptionSecret: v.GetString(KeyEncryptionSecret),
		Storage:          strings.ToLower(v.GetString(KeyStorage)),
		PostgresDSN:      v.GetString(KeyPostgresDSN),
		TLSCert:          v.GetString(KeyTLSCert),
		TLSKey:           v.GetString(KeyTLSKey),
		InsecureCookies:  v.GetBool(KeyInsecureCookies),
		SessionTTL:       v.GetDuration(KeySessionTTL),
		MaxUploadBytes:   v.GetInt64(KeyMaxUploadBytes),
		TrustedProxies:   splitList(v.GetStringSlice(KeyTrustedProxies)),
		LogLevel:         v.GetString(KeyLogLevel),
		AuditWebhookURL:  v.GetString(KeyAuditWebhookURL),
		AuditWebhookAuth: v.GetString(KeyAuditWebhookAuth),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadStorage reads a Config out of v, checking only the settings needed to
// open the credential store. Offline commands use it.
func LoadStorage(v *viper.Viper) (Config, error) {
	cfg := Config{
		DataDir:     v.GetString(KeyDataDir),
		Storage:     strings.ToLower(v.GetString(KeyStorage)),
		PostgresDSN: v.GetString(KeyPostgresDSN),
		LogLevel:    v.GetString(KeyLogLevel),
	}
	if err := cfg.ValidateStorage(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ValidateStorage checks the storage backend selection.
func (c Config) ValidateStorage() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalid, KeyDataDir)
	}
	switch c.Storage {
	case StorageBolt, StorageMemory:
	case StoragePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("%w: %s is required for postgres storage", ErrInvalid, KeyPostgresDSN)
		}
	default:
		return fmt.Errorf("%w: unknown storage backend %q", ErrInvalid, c.Storage)
	}
	return nil
}

// Validate reports the first problem that would prevent the server from
// starting safely.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalid, c.Port)
	}
	if len(c.SessionSecret) < MinSecretLength {
		return fmt.Errorf("%w: %s must be at least %d bytes", ErrInvalid, KeySessionSecret, MinSecretLength)
	}
	if len(c.EncryptionSecret) < MinSecretLength {
		return fmt.Errorf("%w: %s must be at least %d bytes", ErrInvalid, KeyEncryptionSecret, MinSecretLength)
	}
	if c.SessionSecret == c.EncryptionSecret {
		return fmt.Errorf("%w: %s and %s must differ", ErrInvalid, KeySessionSecret, KeyEncryptionSecret)
	}
	if err := c.ValidateStorage(); err != nil {
		return err
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("%w: %s and %s must be set together", ErrInvalid, KeyTLSCert, KeyTLSKey)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("%w: %s must be positive", ErrInvalid, KeySessionTTL)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("%w: %s must be positive", ErrInvalid, KeyMaxUploadBytes)
	}
	if c.AuditWebhookURL != "" {
		u, err := url.Parse(c.AuditWebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: %s must be an http(s) URL", ErrInvalid, KeyAuditWebhookURL)
		}
	}
	return nil
}

// splitList flattens comma separated entries, since env vars arrive as a
// single string.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
