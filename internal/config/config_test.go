package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSessionSecret    = "session-secret-0123456789abcdefghijkl"
	testEncryptionSecret = "encryption-secret-0123456789abcdefghij"
)

func TestLoad_Defaults(t *testing.T) {
	v := NewViper()
	v.Set(KeySessionSecret, testSessionSecret)
	v.Set(KeyEncryptionSecret, testEncryptionSecret)

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultDataDir, cfg.DataDir)
	assert.Equal(t, StorageBolt, cfg.Storage)
	assert.Equal(t, 7*24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, int64(DefaultMaxUploadBytes), cfg.MaxUploadBytes)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.False(t, cfg.InsecureCookies)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("ARBOR_SESSION_SECRET", testSessionSecret)
	t.Setenv("ARBOR_ENCRYPTION_SECRET", testEncryptionSecret)
	t.Setenv("ARBOR_DATA_DIR", "/srv/arbor")
	t.Setenv("ARBOR_PORT", "9000")
	t.Setenv("ARBOR_SESSION_TTL", "2h")
	t.Setenv("ARBOR_TRUSTED_PROXIES", "10.0.0.0/8, 192.0.2.1")
	t.Setenv("ARBOR_INSECURE_COOKIES", "true")

	cfg, err := Load(NewViper())
	require.NoError(t, err)
	assert.Equal(t, "/srv/arbor", cfg.DataDir)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 2*time.Hour, cfg.SessionTTL)
	assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.1"}, cfg.TrustedProxies)
	assert.True(t, cfg.InsecureCookies)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Port:             8443,
			DataDir:          "./data",
			SessionSecret:    testSessionSecret,
			EncryptionSecret: testEncryptionSecret,
			Storage:          StorageBolt,
			SessionTTL:       time.Hour,
			MaxUploadBytes:   1024,
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Port = 0 }},
		{"missing data dir", func(c *Config) { c.DataDir = " " }},
		{"short session secret", func(c *Config) { c.SessionSecret = "short" }},
		{"short encryption secret", func(c *Config) { c.EncryptionSecret = "short" }},
		{"shared secrets", func(c *Config) { c.EncryptionSecret = c.SessionSecret }},
		{"unknown storage", func(c *Config) { c.Storage = "redis" }},
		{"postgres without dsn", func(c *Config) { c.Storage = StoragePostgres }},
		{"cert without key", func(c *Config) { c.TLSCert = "cert.pem" }},
		{"zero ttl", func(c *Config) { c.SessionTTL = 0 }},
		{"zero upload limit", func(c *Config) { c.MaxUploadBytes = 0 }},
		{"relative webhook url", func(c *Config) { c.AuditWebhookURL = "/hook" }},
		{"non-http webhook url", func(c *Config) { c.AuditWebhookURL = "ftp://example.com/hook" }},
	}

	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("ARBOR_TEST_ENV_FILE_KEY=from-file\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("ARBOR_TEST_ENV_FILE_KEY") })

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "from-file", os.Getenv("ARBOR_TEST_ENV_FILE_KEY"))

	assert.NoError(t, LoadEnvFile(filepath.Join(dir, "missing.env")))
	assert.NoError(t, LoadEnvFile(""))
}

func TestLoadEnvFile_DoesNotOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("ARBOR_TEST_OVERRIDE=file\n"), 0o600))
	t.Setenv("ARBOR_TEST_OVERRIDE", "env")

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "env", os.Getenv("ARBOR_TEST_OVERRIDE"))
}

func TestLoadStorage_IgnoresSecrets(t *testing.T) {
	v := NewViper()
	v.Set(KeyStorage, "MEMORY")

	cfg, err := LoadStorage(v)
	require.NoError(t, err)
	assert.Equal(t, StorageMemory, cfg.Storage)

	v.Set(KeyStorage, StoragePostgres)
	_, err = LoadStorage(v)
	assert.ErrorIs(t, err, ErrInvalid)
}
