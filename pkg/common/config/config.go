// Package config loads vaultd's process-wide configuration from a JSON file,
// applies environment variable overrides, and validates the result.
//
// Precedence (lowest to highest): built-in defaults, JSON config file,
// VAULTD_* environment variables. There is no command-line flag parsing;
// deployments are expected to ship a config file and override selected
// fields with environment variables in their process manager.
package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Config is the complete, immutable-once-loaded server configuration.
type Config struct {
	ListenAddr      string `json:"listen_addr"`
	StorageDir      string `json:"storage_dir"`
	AEADKeyHex      string `json:"aead_key_hex"`
	TLSCertFile     string `json:"tls_cert_file"`
	TLSKeyFile      string `json:"tls_key_file"`
	TLSClientCAFile string `json:"tls_client_ca_file"`

	Mongo MongoConfig `json:"mongo"`

	AdminAddr  string `json:"admin_addr"`
	AdminToken string `json:"admin_token"`

	Logging LoggingConfig `json:"logging"`

	WorkerPoolSize      int  `json:"worker_pool_size"`
	CatalogIndexEnabled bool `json:"catalog_index_enabled"`
}

// MongoConfig identifies the document store backing pkg/metadata.
type MongoConfig struct {
	URI        string `json:"uri"`
	Database   string `json:"database"`
	Collection string `json:"collection"`
}

// LoggingConfig mirrors the parameters logging.ConfigureFromSettings accepts.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
	File   string `json:"file,omitempty"`
}

// DefaultConfig returns secure, locally-runnable defaults. AEADKeyHex is left
// empty; callers must supply one via file or environment before Validate
// will accept the configuration.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:      ":9443",
		StorageDir:      "./data/blobs",
		TLSCertFile:     "./certs/server.crt",
		TLSKeyFile:      "./certs/server.key",
		TLSClientCAFile: "./certs/ca.crt",
		Mongo: MongoConfig{
			URI:        "mongodb://127.0.0.1:27017",
			Database:   "vaultd",
			Collection: "files",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "console",
		},
		WorkerPoolSize: 64,
	}
}

// LoadConfig reads configPath (if non-empty) over the defaults, applies
// environment overrides, and validates the result. A missing file is not an
// error; a malformed one is.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	cfg.applyEnvironmentOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, c)
}

// applyEnvironmentOverrides lets a deployment override individual fields
// without editing the shipped config file.
func (c *Config) applyEnvironmentOverrides() {
	if v := os.Getenv("VAULTD_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("VAULTD_STORAGE_DIR"); v != "" {
		c.StorageDir = v
	}
	if v := os.Getenv("VAULTD_AEAD_KEY_HEX"); v != "" {
		c.AEADKeyHex = v
	}
	if v := os.Getenv("VAULTD_TLS_CERT_FILE"); v != "" {
		c.TLSCertFile = v
	}
	if v := os.Getenv("VAULTD_TLS_KEY_FILE"); v != "" {
		c.TLSKeyFile = v
	}
	if v := os.Getenv("VAULTD_TLS_CLIENT_CA_FILE"); v != "" {
		c.TLSClientCAFile = v
	}
	if v := os.Getenv("VAULTD_MONGO_URI"); v != "" {
		c.Mongo.URI = v
	}
	if v := os.Getenv("VAULTD_MONGO_DATABASE"); v != "" {
		c.Mongo.Database = v
	}
	if v := os.Getenv("VAULTD_MONGO_COLLECTION"); v != "" {
		c.Mongo.Collection = v
	}
	if v := os.Getenv("VAULTD_ADMIN_ADDR"); v != "" {
		c.AdminAddr = v
	}
	if v := os.Getenv("VAULTD_ADMIN_TOKEN"); v != "" {
		c.AdminToken = v
	}
	if v := os.Getenv("VAULTD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("VAULTD_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("VAULTD_LOG_OUTPUT"); v != "" {
		c.Logging.Output = v
	}
	if v := os.Getenv("VAULTD_LOG_FILE"); v != "" {
		c.Logging.File = v
	}
	if v := os.Getenv("VAULTD_WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("VAULTD_CATALOG_INDEX_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.CatalogIndexEnabled = b
		}
	}
}

// AEADKey decodes AEADKeyHex into the 32-byte key pkg/vaultcrypto expects.
func (c *Config) AEADKey() ([]byte, error) {
	key, err := hex.DecodeString(c.AEADKeyHex)
	if err != nil {
		return nil, fmt.Errorf("aead_key_hex is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("aead_key_hex must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// Validate rejects configurations that would fail at startup anyway,
// surfacing the mistake before any listener is opened.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if c.StorageDir == "" {
		return fmt.Errorf("storage_dir must not be empty")
	}
	if _, err := c.AEADKey(); err != nil {
		return err
	}
	if c.TLSCertFile == "" || c.TLSKeyFile == "" || c.TLSClientCAFile == "" {
		return fmt.Errorf("tls_cert_file, tls_key_file, and tls_client_ca_file are all required for mutual TLS")
	}
	if c.Mongo.URI == "" || c.Mongo.Database == "" || c.Mongo.Collection == "" {
		return fmt.Errorf("mongo.uri, mongo.database, and mongo.collection are all required")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid logging.level %q: want debug, info, warn, or error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid logging.format %q: want text or json", c.Logging.Format)
	}
	switch c.Logging.Output {
	case "console", "file", "both":
	default:
		return fmt.Errorf("invalid logging.output %q: want console, file, or both", c.Logging.Output)
	}
	if (c.Logging.Output == "file" || c.Logging.Output == "both") && c.Logging.File == "" {
		return fmt.Errorf("logging.file is required when logging.output is %q", c.Logging.Output)
	}

	if c.WorkerPoolSize <= 0 {
		return fmt.Errorf("worker_pool_size must be positive, got %d", c.WorkerPoolSize)
	}

	return nil
}

// SaveToFile writes the configuration as indented JSON, creating parent
// directories as needed.
func (c *Config) SaveToFile(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o640)
}

// GetDefaultConfigPath returns ~/.vaultd/config.json for the current user.
func GetDefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".vaultd", "config.json"), nil
}
