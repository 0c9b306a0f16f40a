// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/turmoilwatch/internal/classify"
	"github.com/JakeFAU/turmoilwatch/internal/watch"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Source   SourceConfig   `mapstructure:"source"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Classify ClassifyConfig `mapstructure:"classify"`
	Fallback FallbackConfig `mapstructure:"fallback"`
	Site     SiteConfig     `mapstructure:"site"`
	Record   RecordConfig   `mapstructure:"record"`
	Storage  StorageConfig  `mapstructure:"storage"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles for the /v1 routes.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SourceConfig describes the news homepage being watched.
type SourceConfig struct {
	URL            string `mapstructure:"url"`
	Format         string `mapstructure:"format"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
}

// HeadlessConfig configures headless promotion of thin pages.
type HeadlessConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
	MinAnchors    int    `mapstructure:"min_anchors"`
	ExecPath      string `mapstructure:"exec_path"`
}

// ScheduleConfig sets the refresh cadence.
type ScheduleConfig struct {
	Interval           time.Duration `mapstructure:"interval"`
	RunOnStart         bool          `mapstructure:"run_on_start"`
	AllowShortInterval bool          `mapstructure:"allow_short_interval"`
}

// ClassifyConfig holds the keyword lists and ranking limits.
type ClassifyConfig struct {
	Triggers       []string `mapstructure:"triggers"`
	DoomKeywords   []string `mapstructure:"doom_keywords"`
	RecencyMarkers []string `mapstructure:"recency_markers"`
	MaxWords       int      `mapstructure:"max_words"`
	TopN           int      `mapstructure:"top_n"`
	MinScore       int      `mapstructure:"min_score"`
}

// FallbackConfig is the historical event shown when no trigger is live.
type FallbackConfig struct {
	Timestamp string `mapstructure:"timestamp"`
	URL       string `mapstructure:"url"`
}

// SiteConfig controls where and how the status page is rendered.
type SiteConfig struct {
	Dir        string `mapstructure:"dir"`
	IndexFile  string `mapstructure:"index_file"`
	Title      string `mapstructure:"title"`
	SourceName string `mapstructure:"source_name"`
}

// RecordConfig locates the persisted match record.
type RecordConfig struct {
	Path string `mapstructure:"path"`
}

// StorageConfig enables the optional GCS site mirror.
type StorageConfig struct {
	GCSBucket       string `mapstructure:"gcs_bucket"`
	Prefix          string `mapstructure:"prefix"`
	CredentialsFile string `mapstructure:"credentials_file"`
	CacheControl    string `mapstructure:"cache_control"`
}

// PubSubConfig holds metadata for match notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TURMOIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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
	v.SetDefault("server.port", 10000)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("source.url", "https://www.cnbc.com")
	v.SetDefault("source.format", "html")
	v.SetDefault("source.user_agent", "turmoilwatch/1.0 (+https://github.com/JakeFAU/turmoilwatch)")
	v.SetDefault("source.timeout_seconds", 10)
	v.SetDefault("source.respect_robots", false)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.nav_timeout_seconds", 30)
	v.SetDefault("headless.min_anchors", 20)
	v.SetDefault("schedule.interval", 15*time.Minute)
	v.SetDefault("schedule.run_on_start", true)
	v.SetDefault("schedule.allow_short_interval", false)
	v.SetDefault("classify.triggers", classify.DefaultTriggers)
	v.SetDefault("classify.doom_keywords", classify.DefaultDoomKeywords)
	v.SetDefault("classify.recency_markers", classify.DefaultRecencyMarkers)
	v.SetDefault("classify.max_words", 6)
	v.SetDefault("classify.top_n", 5)
	v.SetDefault("classify.min_score", 1)
	v.SetDefault("fallback.timestamp", "February 24, 2020")
	v.SetDefault("fallback.url", "https://www.cnbc.com/2020/02/24/stock-market-today-live.html")
	v.SetDefault("site.dir", "site")
	v.SetDefault("site.index_file", "index.html")
	v.SetDefault("site.title", "Are Markets in Turmoil?")
	v.SetDefault("site.source_name", "CNBC")
	v.SetDefault("record.path", "data.json")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("storage.cache_control", "public, max-age=60")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Source.URL == "" {
		return fmt.Errorf("source.url is required")
	}
	if c.Source.TimeoutSeconds <= 0 {
		return fmt.Errorf("source.timeout_seconds must be > 0")
	}
	if c.Schedule.Interval <= 0 {
		return fmt.Errorf("schedule.interval must be > 0")
	}
	if c.Schedule.Interval < time.Minute && !c.Schedule.AllowShortInterval {
		return fmt.Errorf("schedule.interval must be >= 1m unless schedule.allow_short_interval is set")
	}
	if len(c.Classify.Triggers) == 0 {
		return fmt.Errorf("classify.triggers must contain at least one phrase")
	}
	if c.Classify.TopN < 1 || c.Classify.TopN > 5 {
		return fmt.Errorf("classify.top_n must be between 1 and 5")
	}
	if c.Site.Dir == "" || c.Site.IndexFile == "" {
		return fmt.Errorf("site.dir and site.index_file are required")
	}
	if c.Record.Path == "" {
		return fmt.Errorf("record.path is required")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

// FetchTimeout converts the source timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Source.TimeoutSeconds) * time.Second
}

// NavTimeout converts the headless navigation timeout into a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}

// IndexPath is the on-disk location of the rendered page.
func (c Config) IndexPath() string {
	return filepath.Join(c.Site.Dir, c.Site.IndexFile)
}

// FallbackRecord returns the historical match rendered when no trigger is live.
func (c Config) FallbackRecord() watch.MatchRecord {
	return watch.MatchRecord{Timestamp: c.Fallback.Timestamp, URL: c.Fallback.URL}
}

// ClassifierConfig maps the classify section onto classify.Config.
func (c Config) ClassifierConfig() classify.Config {
	return classify.Config{
		Triggers:       c.Classify.Triggers,
		DoomKeywords:   c.Classify.DoomKeywords,
		RecencyMarkers: c.Classify.RecencyMarkers,
		MaxWords:       c.Classify.MaxWords,
		TopN:           c.Classify.TopN,
		MinScore:       c.Classify.MinScore,
	}
}

// MirrorEnabled reports whether a GCS bucket is configured.
func (c Config) MirrorEnabled() bool {
	return c.Storage.GCSBucket != ""
}

// NotifyEnabled reports whether Pub/Sub announcements are configured.
func (c Config) NotifyEnabled() bool {
	return c.PubSub.ProjectID != "" && c.PubSub.TopicName != ""
}
