// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/mcp-directory-crawler/internal/crawler"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	Server     ServerConfig     `mapstructure:"server"`
	DB         DBConfig         `mapstructure:"db"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Retry      RetryConfig      `mapstructure:"retry"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Crawl      CrawlConfig      `mapstructure:"crawl"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	ExtractAPI ExtractAPIConfig `mapstructure:"extract_api"`
	GitHub     GitHubConfig     `mapstructure:"github"`
	Pulse      PulseConfig      `mapstructure:"pulse"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ServerConfig controls the read-only HTTP API.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	Migrate  bool   `mapstructure:"migrate"`
}

// CacheConfig sets where remote responses are cached and for how long.
// A TTL of zero disables caching.
type CacheConfig struct {
	Dir string        `mapstructure:"dir"`
	TTL time.Duration `mapstructure:"ttl"`
}

// CheckpointConfig sets where per-target progress is kept.
type CheckpointConfig struct {
	Dir     string `mapstructure:"dir"`
	Refresh bool   `mapstructure:"refresh"`
}

// RetryConfig bounds rate-limit retries in the remote caller.
type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
}

// RateLimitConfig is the per-host token bucket applied before remote calls.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// CrawlConfig governs batch behavior and where targets come from.
type CrawlConfig struct {
	BatchSize           int      `mapstructure:"batch_size"`
	ConcurrentBatchSize int      `mapstructure:"concurrent_batch_size"`
	DelayMS             int      `mapstructure:"delay_ms"`
	MaxServers          int      `mapstructure:"max_servers"`
	UpdateExisting      bool     `mapstructure:"update_existing"`
	ProcessReadmes      bool     `mapstructure:"process_readmes"`
	ReadmeLimit         int      `mapstructure:"readme_limit"`
	Targets             []string `mapstructure:"targets"`
	ListingURL          string   `mapstructure:"listing_url"`
	LinkSelector        string   `mapstructure:"link_selector"`
	ServerURLTemplate   string   `mapstructure:"server_url_template"`
	ToolsSuffix         string   `mapstructure:"tools_suffix"`
	APISuffix           string   `mapstructure:"api_suffix"`
	UserAgent           string   `mapstructure:"user_agent"`
}

// Delay is the pause between targets (sequential) or chunks (concurrent).
func (c CrawlConfig) Delay() time.Duration {
	return time.Duration(c.DelayMS) * time.Millisecond
}

// Layout returns how directory entries expose their sections.
func (c CrawlConfig) Layout() crawler.TabLayout {
	return crawler.TabLayout{
		ServerURLTemplate: c.ServerURLTemplate,
		ToolsSuffix:       c.ToolsSuffix,
		APISuffix:         c.APISuffix,
	}
}

// BrowserConfig configures the headless browser driver.
type BrowserConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	RemoteURL    string        `mapstructure:"remote_url"`
	NavTimeout   time.Duration `mapstructure:"nav_timeout"`
	SettleDelay  time.Duration `mapstructure:"settle_delay"`
	NoSandbox    bool          `mapstructure:"no_sandbox"`
	WindowWidth  int           `mapstructure:"window_width"`
	WindowHeight int           `mapstructure:"window_height"`
	WaitSelector string        `mapstructure:"wait_selector"`
}

// ExtractAPIConfig points at the hosted structured-extraction API.
type ExtractAPIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// GitHubConfig configures the GitHub REST client.
type GitHubConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	RawBaseURL string        `mapstructure:"raw_base_url"`
	Token      string        `mapstructure:"token"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// PulseConfig configures the PulseMCP directory API source.
type PulseConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	PageSize  int           `mapstructure:"page_size"`
	PageDelay time.Duration `mapstructure:"page_delay"`
}

// envBindings maps config keys to the bare environment variables operators
// already use, in addition to the CRAWLER_ prefixed form.
var envBindings = map[string]string{
	"crawl.batch_size":      "CRAWL_BATCH_SIZE",
	"crawl.delay_ms":        "CRAWL_DELAY_MS",
	"crawl.max_servers":     "MAX_SERVERS",
	"crawl.update_existing": "UPDATE_EXISTING",
	"crawl.process_readmes": "PROCESS_READMES",
	"github.token":          "GITHUB_TOKEN",
	"db.dsn":                "DATABASE_URL",
	"extract_api.api_key":   "EXTRACT_API_KEY",
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	for key, env := range envBindings {
		prefixed := "CRAWLER_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.migrate", true)
	v.SetDefault("cache.dir", ".cache/remote")
	v.SetDefault("cache.ttl", time.Hour)
	v.SetDefault("checkpoint.dir", ".cache/checkpoints")
	v.SetDefault("checkpoint.refresh", false)
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.base_delay", time.Second)
	v.SetDefault("retry.max_delay", 30*time.Second)
	v.SetDefault("rate_limit.rps", 2.0)
	v.SetDefault("rate_limit.burst", 1)
	v.SetDefault("crawl.batch_size", 1)
	v.SetDefault("crawl.concurrent_batch_size", 5)
	v.SetDefault("crawl.delay_ms", 2000)
	v.SetDefault("crawl.max_servers", 0)
	v.SetDefault("crawl.update_existing", false)
	v.SetDefault("crawl.process_readmes", false)
	v.SetDefault("crawl.readme_limit", 50)
	v.SetDefault("crawl.targets", []string{})
	v.SetDefault("crawl.listing_url", "")
	v.SetDefault("crawl.link_selector", `a[href*="/server/"]`)
	v.SetDefault("crawl.server_url_template", "https://smithery.ai/server/{owner}/{slug}")
	v.SetDefault("crawl.tools_suffix", "/tools")
	v.SetDefault("crawl.api_suffix", "/api")
	v.SetDefault("crawl.user_agent", "mcp-directory-crawler/0.1")
	v.SetDefault("browser.enabled", true)
	v.SetDefault("browser.remote_url", "")
	v.SetDefault("browser.nav_timeout", 30*time.Second)
	v.SetDefault("browser.settle_delay", 2*time.Second)
	v.SetDefault("browser.no_sandbox", false)
	v.SetDefault("browser.window_width", 1280)
	v.SetDefault("browser.window_height", 800)
	v.SetDefault("browser.wait_selector", "body")
	v.SetDefault("extract_api.base_url", "https://api.firecrawl.dev/v1/extract")
	v.SetDefault("extract_api.api_key", "")
	v.SetDefault("extract_api.timeout", 2*time.Minute)
	v.SetDefault("github.base_url", "https://api.github.com")
	v.SetDefault("github.raw_base_url", "https://raw.githubusercontent.com")
	v.SetDefault("github.token", "")
	v.SetDefault("github.timeout", 20*time.Second)
	v.SetDefault("pulse.base_url", "https://api.pulsemcp.com/v0beta")
	v.SetDefault("pulse.page_size", 100)
	v.SetDefault("pulse.page_delay", 500*time.Millisecond)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must be >= 0")
	}
	if c.Cache.TTL > 0 && c.Cache.Dir == "" {
		return fmt.Errorf("cache.dir must be set when caching is enabled")
	}
	if c.Checkpoint.Dir == "" {
		return fmt.Errorf("checkpoint.dir must be set")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0")
	}
	if c.Retry.BaseDelay <= 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry.base_delay must be > 0 and <= retry.max_delay")
	}
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("rate_limit.rps must be >= 0")
	}
	if c.Crawl.BatchSize <= 0 || c.Crawl.ConcurrentBatchSize <= 0 {
		return fmt.Errorf("crawl.batch_size and crawl.concurrent_batch_size must be > 0")
	}
	if c.Crawl.DelayMS < 0 {
		return fmt.Errorf("crawl.delay_ms must be >= 0")
	}
	if c.Crawl.MaxServers < 0 {
		return fmt.Errorf("crawl.max_servers must be >= 0")
	}
	if !strings.Contains(c.Crawl.ServerURLTemplate, "{slug}") {
		return fmt.Errorf("crawl.server_url_template must contain {slug}")
	}
	if c.Browser.Enabled && c.Browser.NavTimeout <= 0 {
		return fmt.Errorf("browser.nav_timeout must be > 0 when the browser is enabled")
	}
	return nil
}
