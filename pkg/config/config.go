package config

import (
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	Keystore   KeystoreConfig   `yaml:"keystore"`
	Audit      AuditConfig      `yaml:"audit"`
	Compliance ComplianceConfig `yaml:"compliance"`
	Admin      AdminConfig      `yaml:"admin"`
	Logging    LoggingConfig    `yaml:"logging"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

type StorageConfig struct {
	// Driver selects the persistence backend: "sqlite" or "memory".
	Driver    string `yaml:"driver"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

type KeystoreConfig struct {
	Dir string `yaml:"dir"`
}

type AuditConfig struct {
	Capacity       int `yaml:"capacity"`
	ExportTimeoutS int `yaml:"export_timeout_s"`
}

type ComplianceConfig struct {
	CacheTTLS int `yaml:"cache_ttl_s"`
}

type AdminConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
	Salt         string `yaml:"salt"`
	// DevPassword enables a plaintext credential check when no hash is
	// configured. Development use only.
	DevPassword  string `yaml:"dev_password"`
	LoginLimit   int    `yaml:"login_limit"`
	LoginWindowS int    `yaml:"login_window_s"`
}

type LoggingConfig struct {
	Level         string `yaml:"level"`
	JSON          bool   `yaml:"json"`
	HumanReadable bool   `yaml:"human_readable"`
}

type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint" json:"endpoint"`
	Insecure    bool    `yaml:"insecure" json:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio" json:"sample_ratio"`
	LogSpans    bool    `yaml:"log_spans" json:"log_spans"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Driver:    "sqlite",
			Path:      "/var/lib/veritas/veritas.db",
			Namespace: "veritas",
		},
		Keystore: KeystoreConfig{
			Dir: "/var/lib/veritas/keys",
		},
		Audit: AuditConfig{
			Capacity:       200,
			ExportTimeoutS: 5,
		},
		Compliance: ComplianceConfig{
			CacheTTLS: 60,
		},
		Admin: AdminConfig{
			Username:     "admin",
			DevPassword:  "admin123",
			LoginLimit:   5,
			LoginWindowS: 60,
		},
		Logging: LoggingConfig{
			Level:         "info",
			JSON:          false,
			HumanReadable: true,
		},
		Tracing: TracingConfig{
			Endpoint:    "",
			Insecure:    false,
			SampleRatio: 1,
			LogSpans:    false,
		},
	}
}

// Load reads config from file with env var overrides
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	// Load from file if exists
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		}
	}

	// Override with env vars
	if driver := os.Getenv("VERITAS_STORAGE_DRIVER"); driver != "" {
		cfg.Storage.Driver = driver
	}
	if dbPath := os.Getenv("VERITAS_STORAGE_PATH"); dbPath != "" {
		cfg.Storage.Path = dbPath
	}
	if dir := os.Getenv("VERITAS_KEYSTORE_DIR"); dir != "" {
		cfg.Keystore.Dir = dir
	}
	if username := os.Getenv("VERITAS_ADMIN_USERNAME"); username != "" {
		cfg.Admin.Username = username
	}
	if hash := os.Getenv("VERITAS_ADMIN_PASSWORD_HASH"); hash != "" {
		cfg.Admin.PasswordHash = hash
	}
	if salt := os.Getenv("VERITAS_ADMIN_SALT"); salt != "" {
		cfg.Admin.Salt = salt
	}
	if level := os.Getenv("VERITAS_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if ttl := os.Getenv("VERITAS_COMPLIANCE_TTL_S"); ttl != "" {
		if v, err := strconv.Atoi(ttl); err == nil {
			cfg.Compliance.CacheTTLS = v
		}
	}
	if endpoint := os.Getenv("VERITAS_TRACING_ENDPOINT"); endpoint != "" {
		cfg.Tracing.Endpoint = endpoint
	}

	return cfg, nil
}

// EnsureStorageDir creates the parent directory for a sqlite database
// path so first open does not fail on a fresh host.
func (c *Config) EnsureStorageDir() error {
	if c.Storage.Driver != "sqlite" || c.Storage.Path == "" {
		return nil
	}
	return os.MkdirAll(filepath.Dir(c.Storage.Path), 0o755)
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite", "memory":
	default:
		return &Error{"storage driver must be sqlite or memory"}
	}
	if c.Storage.Driver == "sqlite" && c.Storage.Path == "" {
		return ErrMissingStoragePath
	}
	if c.Storage.Namespace == "" {
		c.Storage.Namespace = "veritas"
	}
	if c.Admin.Username == "" {
		return ErrMissingAdminUser
	}
	if c.Admin.PasswordHash != "" && c.Admin.Salt == "" {
		return &Error{"admin salt is required with a password hash"}
	}
	if c.Audit.Capacity <= 0 {
		c.Audit.Capacity = 200
	}
	if c.Audit.ExportTimeoutS <= 0 {
		c.Audit.ExportTimeoutS = 5
	}
	if c.Compliance.CacheTTLS <= 0 {
		c.Compliance.CacheTTLS = 60
	}
	if c.Admin.LoginWindowS <= 0 {
		c.Admin.LoginWindowS = 60
	}
	if c.Tracing.SampleRatio <= 0 || c.Tracing.SampleRatio > 1 {
		c.Tracing.SampleRatio = 1
	}
	return nil
}

var (
	ErrMissingStoragePath = &Error{"storage path is required for the sqlite driver"}
	ErrMissingAdminUser   = &Error{"admin username is required"}
)

type Error struct {
	Message string
}

func (e *Error) Error() string {
	return e.Message
}
