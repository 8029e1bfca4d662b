package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/payvex/payvex/internal/collection"
	"github.com/payvex/payvex/internal/fields"
	"github.com/payvex/payvex/internal/plan"
)

// ExecMode selects where compiled queries run.
type ExecMode string

const (
	// ModeInline executes against a live transaction context in-process.
	ModeInline ExecMode = "inline"
	// ModeRemote marshals compiled queries to a backend over HTTP.
	ModeRemote ExecMode = "remote"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// IsValid returns true if the mode is a recognized value.
func (m ExecMode) IsValid() bool {
	switch m {
	case ModeInline, ModeRemote:
		return true
	default:
		return false
	}
}

type Config struct {
	Mode        ExecMode                    `json:"mode"`
	ListenAddr  string                      `json:"listen_addr"`
	AuthToken   string                      `json:"auth_token"`
	LogLevel    string                      `json:"log_level"`
	Prefix      string                      `json:"prefix"`
	FieldPrefix string                      `json:"field_prefix"`
	Remote      RemoteConfig                `json:"remote"`
	Collections map[string]CollectionConfig `json:"collections"`
	Snapshot    SnapshotConfig              `json:"snapshot"`
	Timeout     TimeoutConfig               `json:"timeout"`

	// BulkConcurrency bounds the per-row fan-out of where-scoped bulk
	// mutations. Default: 8
	BulkConcurrency int `json:"bulk_concurrency"`
	// QueryConcurrency bounds concurrent queries per table on the server.
	// Default: 16
	QueryConcurrency int `json:"query_concurrency"`
}

// RemoteConfig configures the client side of remote mode.
type RemoteConfig struct {
	URL       string `json:"url"`
	Token     string `json:"token"`
	TimeoutMs int    `json:"timeout_ms"`
}

// Timeout returns the HTTP client timeout with default fallback.
func (c RemoteConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// CollectionConfig declares the indexes of one logical collection, as
// index name to logical field name.
type CollectionConfig struct {
	Indexes map[string]string `json:"indexes"`
}

// SnapshotConfig configures persistence of the embedded backend.
type SnapshotConfig struct {
	ObjectStore ObjectStoreConfig `json:"object_store"`
	// Prefix is the key prefix snapshot generations are written under.
	// Default: "payvex/snapshots/"
	Prefix          string `json:"prefix"`
	IntervalSeconds int    `json:"interval_seconds"`
	// Retain is how many generations are kept. Default: 3
	Retain int `json:"retain"`
}

// Enabled reports whether snapshots should be restored and written.
func (c SnapshotConfig) Enabled() bool {
	return c.ObjectStore.Type != ""
}

// Interval returns the snapshot interval with default fallback.
func (c SnapshotConfig) Interval() time.Duration {
	if c.IntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.IntervalSeconds) * time.Second
}

// GetPrefix returns the snapshot key prefix with default fallback.
func (c SnapshotConfig) GetPrefix() string {
	if c.Prefix == "" {
		return "payvex/snapshots/"
	}
	return c.Prefix
}

// GetRetain returns the number of generations to keep with default fallback.
func (c SnapshotConfig) GetRetain() int {
	if c.Retain <= 0 {
		return 3
	}
	return c.Retain
}

type ObjectStoreConfig struct {
	Type      string `json:"type"`
	Endpoint  string `json:"endpoint"`
	Bucket    string `json:"bucket"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Region    string `json:"region"`
	UseSSL    bool   `json:"use_ssl"`
	RootPath  string `json:"root_path"`
}

// TimeoutConfig holds per-request timeout configuration.
type TimeoutConfig struct {
	// QueryTimeoutMs is the maximum time allowed for query requests in milliseconds.
	// Default: 30000 (30 seconds)
	QueryTimeoutMs int `json:"query_timeout_ms"`
	// MutationTimeoutMs is the maximum time allowed for mutation requests in milliseconds.
	// Default: 60000 (60 seconds)
	MutationTimeoutMs int `json:"mutation_timeout_ms"`
}

// GetQueryTimeout returns the query timeout with default fallback.
func (c TimeoutConfig) GetQueryTimeout() time.Duration {
	if c.QueryTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.QueryTimeoutMs) * time.Millisecond
}

// GetMutationTimeout returns the mutation timeout with default fallback.
func (c TimeoutConfig) GetMutationTimeout() time.Duration {
	if c.MutationTimeoutMs <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.MutationTimeoutMs) * time.Millisecond
}

// GetBulkConcurrency returns BulkConcurrency with default fallback.
func (c *Config) GetBulkConcurrency() int {
	if c.BulkConcurrency <= 0 {
		return 8
	}
	return c.BulkConcurrency
}

// GetQueryConcurrency returns QueryConcurrency with default fallback.
func (c *Config) GetQueryConcurrency() int {
	if c.QueryConcurrency <= 0 {
		return 16
	}
	return c.QueryConcurrency
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	if !c.Mode.IsValid() {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, c.Mode)
	}
	if c.Mode == ModeRemote && c.Remote.URL == "" {
		return fmt.Errorf("%w: remote mode requires remote.url", ErrInvalidConfig)
	}
	if c.FieldPrefix == "" {
		return fmt.Errorf("%w: field_prefix must not be empty", ErrInvalidConfig)
	}
	if _, err := c.Catalog(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Catalog builds the physical index catalog from the declared collections.
// Collection names are resolved against Prefix and fields translated with
// FieldPrefix, so the client and the backend agree on table and index names.
func (c *Config) Catalog() (*plan.Catalog, error) {
	catalog := plan.NewCatalog()
	translator := fields.New(c.FieldPrefix)

	names := make([]string, 0, len(c.Collections))
	for name := range c.Collections {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		table, err := collection.Resolve(c.Prefix, name)
		if err != nil {
			return nil, err
		}
		coll := c.Collections[name]
		indexNames := make([]string, 0, len(coll.Indexes))
		for idx := range coll.Indexes {
			indexNames = append(indexNames, idx)
		}
		sort.Strings(indexNames)
		for _, idx := range indexNames {
			catalog.Define(table, idx, translator.ToPhysical(coll.Indexes[idx]))
		}
	}
	return catalog, nil
}

func Default() *Config {
	return &Config{
		Mode:        ModeInline,
		ListenAddr:  ":8080",
		LogLevel:    "info",
		FieldPrefix: fields.DefaultPrefix,
		Collections: map[string]CollectionConfig{},
	}
}

func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("PAYVEX_CONFIG")
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	if env := os.Getenv("PAYVEX_MODE"); env != "" {
		cfg.Mode = ExecMode(env)
	}
	if env := os.Getenv("PAYVEX_LISTEN_ADDR"); env != "" {
		cfg.ListenAddr = env
	}
	if env := os.Getenv("PAYVEX_AUTH_TOKEN"); env != "" {
		cfg.AuthToken = env
	}
	if env := os.Getenv("PAYVEX_LOG_LEVEL"); env != "" {
		cfg.LogLevel = env
	}
	if env := os.Getenv("PAYVEX_PREFIX"); env != "" {
		cfg.Prefix = env
	}
	if env := os.Getenv("PAYVEX_FIELD_PREFIX"); env != "" {
		cfg.FieldPrefix = env
	}

	if env := os.Getenv("PAYVEX_REMOTE_URL"); env != "" {
		cfg.Remote.URL = env
	}
	if env := os.Getenv("PAYVEX_REMOTE_TOKEN"); env != "" {
		cfg.Remote.Token = env
	}
	if env := os.Getenv("PAYVEX_REMOTE_TIMEOUT_MS"); env != "" {
		if n, err := parseIntEnv(env); err == nil {
			cfg.Remote.TimeoutMs = n
		}
	}

	if env := os.Getenv("PAYVEX_BULK_CONCURRENCY"); env != "" {
		if n, err := parseIntEnv(env); err == nil {
			cfg.BulkConcurrency = n
		}
	}
	if env := os.Getenv("PAYVEX_QUERY_CONCURRENCY"); env != "" {
		if n, err := parseIntEnv(env); err == nil {
			cfg.QueryConcurrency = n
		}
	}

	// Snapshot configuration
	store := &cfg.Snapshot.ObjectStore
	if env := os.Getenv("PAYVEX_SNAPSHOT_STORE_TYPE"); env != "" {
		store.Type = env
	}
	if env := os.Getenv("PAYVEX_SNAPSHOT_STORE_ENDPOINT"); env != "" {
		store.Endpoint = env
	}
	if env := os.Getenv("PAYVEX_SNAPSHOT_STORE_BUCKET"); env != "" {
		store.Bucket = env
	}
	if env := os.Getenv("PAYVEX_SNAPSHOT_STORE_ROOT"); env != "" {
		store.RootPath = env
	}
	if env := os.Getenv("PAYVEX_SNAPSHOT_STORE_ACCESS_KEY"); env != "" {
		store.AccessKey = env
	}
	if env := os.Getenv("PAYVEX_SNAPSHOT_STORE_SECRET_KEY"); env != "" {
		store.SecretKey = env
	}
	if env := os.Getenv("PAYVEX_SNAPSHOT_STORE_REGION"); env != "" {
		store.Region = env
	}
	if env := os.Getenv("PAYVEX_SNAPSHOT_STORE_USE_SSL"); env != "" {
		store.UseSSL = env == "true" || env == "1"
	}
	if env := os.Getenv("PAYVEX_SNAPSHOT_PREFIX"); env != "" {
		cfg.Snapshot.Prefix = env
	}
	if env := os.Getenv("PAYVEX_SNAPSHOT_RETAIN"); env != "" {
		if n, err := parseIntEnv(env); err == nil {
			cfg.Snapshot.Retain = n
		}
	}
	if env := os.Getenv("PAYVEX_SNAPSHOT_INTERVAL_SECONDS"); env != "" {
		if n, err := parseIntEnv(env); err == nil {
			cfg.Snapshot.IntervalSeconds = n
		}
	}

	// Timeout configuration
	if env := os.Getenv("PAYVEX_TIMEOUT_QUERY_MS"); env != "" {
		if n, err := parseIntEnv(env); err == nil {
			cfg.Timeout.QueryTimeoutMs = n
		}
	}
	if env := os.Getenv("PAYVEX_TIMEOUT_MUTATION_MS"); env != "" {
		if n, err := parseIntEnv(env); err == nil {
			cfg.Timeout.MutationTimeoutMs = n
		}
	}

	cfg.Prefix = strings.TrimSpace(cfg.Prefix)
	return cfg, nil
}

func parseIntEnv(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}
