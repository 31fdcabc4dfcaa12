package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/zen-systems/modelgate/pkg/catalog"
	"github.com/zen-systems/modelgate/pkg/quota"
)

// Config holds the application configuration.
type Config struct {
	Providers   map[string]ProviderConfig `mapstructure:"providers"`
	Server      ServerConfig              `mapstructure:"server"`
	Engine      EngineConfig              `mapstructure:"engine"`
	License     LicenseConfig             `mapstructure:"license"`
	Quota       QuotaConfig               `mapstructure:"quota"`
	Ledger      LedgerConfig              `mapstructure:"ledger"`
	Log         LogConfig                 `mapstructure:"log"`
	CatalogPath string                    `mapstructure:"catalog_path"`
	ConfigDir   string                    `mapstructure:"-"`
}

// ProviderConfig holds the credential for one provider. BaseURL overrides
// the provider's default endpoint.
type ProviderConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// EngineConfig holds execution defaults.
type EngineConfig struct {
	CallTimeout time.Duration  `mapstructure:"call_timeout"`
	Temperature float64        `mapstructure:"temperature"`
	MaxTokens   int            `mapstructure:"max_tokens"`
	Ceilings    map[string]int `mapstructure:"ceilings"`
}

// LicenseConfig holds the license signing secret.
type LicenseConfig struct {
	Secret string `mapstructure:"secret"`
}

// QuotaConfig selects the admission gate.
type QuotaConfig struct {
	// Backend is one of none, memory or redis.
	Backend string                  `mapstructure:"backend"`
	Redis   RedisConfig             `mapstructure:"redis"`
	Limits  map[string]quota.Limits `mapstructure:"limits"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LedgerConfig selects where usage records go.
type LedgerConfig struct {
	// Backend is one of none, log, file, sqlite or postgres.
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
	DSN     string `mapstructure:"dsn"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// providerEnv lists the environment variables checked for each provider key,
// in order of preference.
var providerEnv = map[catalog.Provider][]string{
	catalog.ProviderOpenAI:     {"OPENAI_API_KEY"},
	catalog.ProviderAnthropic:  {"ANTHROPIC_API_KEY"},
	catalog.ProviderGoogle:     {"GOOGLE_API_KEY", "GEMINI_API_KEY"},
	catalog.ProviderGroq:       {"GROQ_API_KEY"},
	catalog.ProviderDeepSeek:   {"DEEPSEEK_API_KEY"},
	catalog.ProviderMistral:    {"MISTRAL_API_KEY"},
	catalog.ProviderXAI:        {"XAI_API_KEY"},
	catalog.ProviderOpenRouter: {"OPENROUTER_API_KEY"},
}

// Load reads configuration from the config file and environment variables.
// Environment variables take precedence over the file. An empty path reads
// ~/.modelgate/config.yaml when it exists.
func Load(path string) (*Config, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	v := viper.New()
	setDefaults(v, configDir)

	v.SetEnvPrefix("MODELGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for p, names := range providerEnv {
		args := append([]string{"providers." + string(p) + ".api_key"}, names...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("failed to bind %s env: %w", p, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir)
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.ConfigDir = configDir
	cfg.CatalogPath = expandHome(cfg.CatalogPath)
	cfg.Ledger.Path = expandHome(cfg.Ledger.Path)
	return &cfg, nil
}

func setDefaults(v *viper.Viper, configDir string) {
	for _, p := range catalog.Providers() {
		v.SetDefault("providers."+string(p)+".api_key", "")
		v.SetDefault("providers."+string(p)+".base_url", "")
	}
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Minute)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("engine.call_timeout", 30*time.Second)
	v.SetDefault("engine.temperature", 0.7)
	v.SetDefault("engine.max_tokens", 4096)
	v.SetDefault("engine.ceilings", map[string]int{"free": 2, "pro": 4})
	v.SetDefault("license.secret", "")
	v.SetDefault("quota.backend", "memory")
	v.SetDefault("quota.redis.addr", "localhost:6379")
	v.SetDefault("ledger.backend", "file")
	v.SetDefault("ledger.path", filepath.Join(configDir, "usage"))
	v.SetDefault("ledger.dsn", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("catalog_path", "")
}

// HasProvider reports whether a credential is configured for p.
func (c *Config) HasProvider(p catalog.Provider) bool {
	return c.APIKey(p) != ""
}

// APIKey returns the credential for p.
func (c *Config) APIKey(p catalog.Provider) string {
	return strings.TrimSpace(c.Providers[string(p)].APIKey)
}

// BaseURL returns the endpoint override for p, if any.
func (c *Config) BaseURL(p catalog.Provider) string {
	return c.Providers[string(p)].BaseURL
}

// ConfiguredProviders lists the providers with a credential, in catalog order.
func (c *Config) ConfiguredProviders() []catalog.Provider {
	var out []catalog.Provider
	for _, p := range catalog.Providers() {
		if c.HasProvider(p) {
			out = append(out, p)
		}
	}
	return out
}

// Ceilings returns the per-tier model limits.
func (c *Config) Ceilings() (map[catalog.Tier]int, error) {
	out := make(map[catalog.Tier]int, len(c.Engine.Ceilings))
	for name, n := range c.Engine.Ceilings {
		tier, err := catalog.ParseTier(name)
		if err != nil {
			return nil, fmt.Errorf("engine.ceilings: %w", err)
		}
		if n < 1 {
			return nil, fmt.Errorf("engine.ceilings: %s must be at least 1", name)
		}
		out[tier] = n
	}
	return out, nil
}

// QuotaLimits returns the configured per-tier admission limits.
func (c *Config) QuotaLimits() (map[catalog.Tier]quota.Limits, error) {
	out := make(map[catalog.Tier]quota.Limits, len(c.Quota.Limits))
	for name, l := range c.Quota.Limits {
		tier, err := catalog.ParseTier(name)
		if err != nil {
			return nil, fmt.Errorf("quota.limits: %w", err)
		}
		out[tier] = l
	}
	return out, nil
}

// LoadCatalog returns the catalog at CatalogPath, or the built-in catalog
// when none is configured. A models.yaml in the config directory is used
// when present.
func (c *Config) LoadCatalog() (*catalog.Catalog, error) {
	path := c.CatalogPath
	if path == "" && c.ConfigDir != "" {
		userPath := filepath.Join(c.ConfigDir, "models.yaml")
		if _, err := os.Stat(userPath); err == nil {
			path = userPath
		}
	}
	if path == "" {
		return catalog.Default(), nil
	}
	cat, err := catalog.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog from %s: %w", path, err)
	}
	return cat, nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func getConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	configDir := filepath.Join(home, ".modelgate")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", err
	}
	return configDir, nil
}
