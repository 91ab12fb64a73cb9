// internal/config/model.go
//
// Typed configuration model for the catalog.
//
// Context
// -------
// These structs define the shape of the configuration tree that
// `internal/config/loader.go` builds from three overlay layers:
//
//   • optional `conf/.env`                      – dotenv values,
//   • `conf/catalog.yaml`                       – primary static file,
//   • `CATALOG_`-prefixed environment overrides – highest precedence.
//
// Any value whose string begins with `vault:` is resolved through the
// SecretResolver *before* unmarshalling, so the model never stores Vault
// URIs, only plain strings.
//
// Notes
// -----
//   • Struct tags use `koanf:"…"`, not `yaml:"…"`.
//   • The `Paths` block is filled at runtime; YAML must not try to set it.
//   • Defaults are applied by `applyDefaults` after unmarshal.

package config

import "time"

//
// HTTP section
//

// HTTP holds API server tunables.
type HTTP struct {
	ListenAddr   string        `koanf:"listen_addr"   validate:"required,hostname_port"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

//
// Database section
//

// Database describes the catalog's own MySQL database, where table, column,
// version, snapshot, and (optionally) fingerprint rows live.
type Database struct {
	DSN      string `koanf:"dsn"       validate:"required"`
	Password string `koanf:"password"`
	MaxOpen  int    `koanf:"max_open"  validate:"gte=0"`
	MaxIdle  int    `koanf:"max_idle"  validate:"gte=0"`
}

//
// Scan section
//

// Scan holds orchestrator and change-detector policy.
type Scan struct {
	ExcludeTables    []string `koanf:"exclude_tables"`
	HistoryLimit     int      `koanf:"history_limit"     validate:"gte=0"`
	AIAnnotate       bool     `koanf:"ai_annotate"`
	BatchSize        int      `koanf:"batch_size"        validate:"gte=0,lte=100"`
	SampleLimit      int      `koanf:"sample_limit"      validate:"gte=0,lte=50"`
	FingerprintStore string   `koanf:"fingerprint_store" validate:"omitempty,oneof=memory sql"`
}

//
// AI section
//

// AI configures the language-model chat capability used by the first
// annotation stage.
type AI struct {
	Enabled           bool          `koanf:"enabled"`
	Provider          string        `koanf:"provider"            validate:"omitempty,oneof=openai anthropic"`
	BaseURL           string        `koanf:"base_url"            validate:"omitempty,url"`
	Model             string        `koanf:"model"`
	APIKey            string        `koanf:"api_key"             validate:"required_if=Enabled true"`
	MaxTokens         int           `koanf:"max_tokens"          validate:"gte=0"`
	Temperature       float64       `koanf:"temperature"         validate:"gte=0,lte=2"`
	Timeout           time.Duration `koanf:"timeout"`
	RequestsPerSecond float64       `koanf:"requests_per_second" validate:"gte=0"`
	CacheSize         int           `koanf:"cache_size"          validate:"gte=0"`
}

//
// Annotate section
//

// Annotate configures the rule stage.
type Annotate struct {
	DictionaryFile string `koanf:"dictionary_file"`
}

//
// Migration section
//

// Migration selects the SQL dialect for generated migration statements.
type Migration struct {
	Dialect string `koanf:"dialect" validate:"omitempty,oneof=mysql postgres"`
}

//
// Sources section
//

// Source is one named relational data source the catalog may scan.  The DSN
// may be a `vault:` reference.
type Source struct {
	Driver string `koanf:"driver" validate:"required,oneof=mysql postgres"`
	DSN    string `koanf:"dsn"    validate:"required"`
}

//
// Logging section
//

// Logging holds logger tunables.
type Logging struct {
	Level string `koanf:"level" validate:"omitempty,oneof=debug info warn error"`
}

//
// Paths section (runtime only)
//

// Paths is resolved at runtime, never set in YAML or env.
type Paths struct {
	Root string // CATALOG_ROOT or discovered parent
}

//
// Root aggregate
//

// Config is the immutable aggregate returned by Load() and cached in an
// atomic.Pointer for lock-free reads.
type Config struct {
	HTTP      HTTP              `koanf:"http"`
	Database  Database          `koanf:"database"`
	Scan      Scan              `koanf:"scan"`
	AI        AI                `koanf:"ai"`
	Annotate  Annotate          `koanf:"annotate"`
	Migration Migration         `koanf:"migration"`
	Sources   map[string]Source `koanf:"sources"   validate:"dive"`
	Logging   Logging           `koanf:"logging"`
	Paths     Paths             `koanf:"-"`
}

// applyDefaults fills zero values that have a sensible default.
func (c *Config) applyDefaults() {
	if c.HTTP.ListenAddr == "" {
		c.HTTP.ListenAddr = ":8080"
	}
	if c.HTTP.WriteTimeout == 0 {
		c.HTTP.WriteTimeout = 10 * time.Minute
	}
	if c.Database.MaxOpen == 0 {
		c.Database.MaxOpen = 15
	}
	if c.Database.MaxIdle == 0 {
		c.Database.MaxIdle = 5
	}
	if c.Scan.HistoryLimit == 0 {
		c.Scan.HistoryLimit = 100
	}
	if c.Scan.BatchSize == 0 {
		c.Scan.BatchSize = 10
	}
	if c.Scan.FingerprintStore == "" {
		c.Scan.FingerprintStore = "memory"
	}
	if c.AI.Provider == "" {
		c.AI.Provider = "openai"
	}
	if c.AI.MaxTokens == 0 {
		c.AI.MaxTokens = 1024
	}
	if c.AI.Timeout == 0 {
		c.AI.Timeout = 30 * time.Second
	}
	if c.AI.CacheSize == 0 {
		c.AI.CacheSize = 2048
	}
	if c.Migration.Dialect == "" {
		c.Migration.Dialect = "mysql"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}
