// Package config loads the job configuration from a YAML file, with
// secrets and backend addresses taken from the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"signal-board/internal/address"
	"signal-board/internal/leaderboard"
	"signal-board/internal/ranking"
)

// Environment variables that override file values.
const (
	EnvBotToken         = "BOT_TOKEN"
	EnvPostgresDSN      = "POSTGRES_DSN"
	EnvClickHouseDSN    = "CLICKHOUSE_DSN"
	EnvRedisAddr        = "REDIS_ADDR"
	EnvGCSArchiveBucket = "GCS_ARCHIVE_BUCKET"
	EnvFeedToken        = "FEED_TOKEN"
)

// Defaults.
const (
	DefaultMaxAgeDays          = 30
	DefaultInterPartitionDelay = 2 * time.Second
	DefaultLeaseTTL            = 5 * time.Minute
	DefaultInterval            = 15 * time.Minute
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// PartitionConfig describes one partition (one chain). ViewsChannel
// defaults to the materializer summary channel.
type PartitionConfig struct {
	ID           string       `yaml:"id"`
	Kind         address.Kind `yaml:"kind"`
	DataChannel  string       `yaml:"data_channel"`
	ViewsChannel string       `yaml:"views_channel"`
}

// MaterializerConfig names the channels of cross-partition views.
type MaterializerConfig struct {
	ConfigChannel     string `yaml:"config_channel"`
	SummaryChannel    string `yaml:"summary_channel"`
	HallOfFameChannel string `yaml:"hall_of_fame_channel"`
	TopN              int    `yaml:"top_n"`
	Format            string `yaml:"format"`
	RecordHistory     bool   `yaml:"record_history"`
}

// RetentionConfig controls pruning and archival.
type RetentionConfig struct {
	MaxAgeDays     int    `yaml:"max_age_days"`
	Archive        bool   `yaml:"archive"`
	ArchiveChannel string `yaml:"archive_channel"`
}

// LeaseConfig enables the optional partition lease.
type LeaseConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

// FeedConfig selects event sources. Both may be set.
type FeedConfig struct {
	Dir   string `yaml:"dir"`
	URL   string `yaml:"url"`
	Token string `yaml:"-"`
}

// Backends holds connection settings, normally from the environment.
type Backends struct {
	BotToken         string `yaml:"-"`
	BotAPIURL        string `yaml:"bot_api_url"`
	PostgresDSN      string `yaml:"postgres_dsn"`
	ClickHouseDSN    string `yaml:"clickhouse_dsn"`
	RedisAddr        string `yaml:"redis_addr"`
	GCSArchiveBucket string `yaml:"gcs_archive_bucket"`
}

// Config is the whole job configuration.
type Config struct {
	Partitions          []PartitionConfig  `yaml:"partitions"`
	Materializer        MaterializerConfig `yaml:"materializer"`
	Retention           RetentionConfig    `yaml:"retention"`
	Lease               LeaseConfig        `yaml:"lease"`
	Feed                FeedConfig         `yaml:"feed"`
	Backends            Backends           `yaml:"backends"`
	Ranking             string             `yaml:"ranking"`
	InterPartitionDelay time.Duration      `yaml:"inter_partition_delay"`
	Interval            time.Duration      `yaml:"interval"`
	OptimisticCheck     bool               `yaml:"optimistic_check"`
}

// LoadEnv loads .env files into the process environment without
// overriding variables already set. Missing files are ignored.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads path, applies defaults and environment overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config data. See Load.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Retention.MaxAgeDays == 0 {
		c.Retention.MaxAgeDays = DefaultMaxAgeDays
	}
	if c.Materializer.TopN == 0 {
		c.Materializer.TopN = leaderboard.DefaultTopN
	}
	if c.Lease.TTL == 0 {
		c.Lease.TTL = DefaultLeaseTTL
	}
	if c.InterPartitionDelay == 0 {
		c.InterPartitionDelay = DefaultInterPartitionDelay
	}
	if c.Interval == 0 {
		c.Interval = DefaultInterval
	}
	if c.Ranking == "" {
		c.Ranking = ranking.StrategyWeighted
	}
	for i := range c.Partitions {
		p := &c.Partitions[i]
		if kind, err := address.ParseKind(string(p.Kind)); err == nil {
			p.Kind = kind
		}
		if p.ViewsChannel == "" {
			p.ViewsChannel = c.Materializer.SummaryChannel
		}
	}
	if c.Materializer.HallOfFameChannel == "" {
		c.Materializer.HallOfFameChannel = c.Materializer.SummaryChannel
	}
}

func (c *Config) applyEnv() {
	override := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	override(&c.Backends.BotToken, EnvBotToken)
	override(&c.Backends.PostgresDSN, EnvPostgresDSN)
	override(&c.Backends.ClickHouseDSN, EnvClickHouseDSN)
	override(&c.Backends.RedisAddr, EnvRedisAddr)
	override(&c.Backends.GCSArchiveBucket, EnvGCSArchiveBucket)
	override(&c.Feed.Token, EnvFeedToken)
}

// Validate rejects configurations the job cannot run.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Partitions) == 0 {
		errs = append(errs, errors.New("no partitions"))
	}
	seen := make(map[string]bool, len(c.Partitions))
	for i, p := range c.Partitions {
		switch {
		case strings.TrimSpace(p.ID) == "":
			errs = append(errs, fmt.Errorf("partition %d: empty id", i))
		case seen[p.ID]:
			errs = append(errs, fmt.Errorf("partition %q: duplicate id", p.ID))
		}
		seen[p.ID] = true
		if p.DataChannel == "" {
			errs = append(errs, fmt.Errorf("partition %q: empty data_channel", p.ID))
		}
		if _, err := address.ParseKind(string(p.Kind)); err != nil {
			errs = append(errs, fmt.Errorf("partition %q: %w", p.ID, err))
		}
	}
	if c.Materializer.ConfigChannel == "" {
		errs = append(errs, errors.New("materializer: empty config_channel"))
	}
	if c.Materializer.SummaryChannel == "" {
		errs = append(errs, errors.New("materializer: empty summary_channel"))
	}
	if _, err := leaderboard.RendererFor(c.Materializer.Format); err != nil {
		errs = append(errs, fmt.Errorf("materializer: %w", err))
	}
	if c.Materializer.TopN < 0 {
		errs = append(errs, errors.New("materializer: negative top_n"))
	}
	if c.Retention.MaxAgeDays < 0 {
		errs = append(errs, errors.New("retention: negative max_age_days"))
	}
	if c.Retention.Archive && c.Retention.ArchiveChannel == "" {
		errs = append(errs, errors.New("retention: archive enabled without archive_channel"))
	}
	if _, err := ranking.FromName(c.Ranking); err != nil {
		errs = append(errs, err)
	}
	if c.InterPartitionDelay < 0 {
		errs = append(errs, errors.New("negative inter_partition_delay"))
	}
	errs = append(errs, c.channelConflicts()...)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// channelConflicts rejects channels that hold a pinned document (a
// partition's data or the materializer config) and are used for anything
// else. Loading reads whatever is pinned, so a view pinned there would
// replace the document. View channels may be shared freely.
func (c *Config) channelConflicts() []error {
	type use struct {
		role   string
		pinned bool
	}
	uses := make(map[string][]use)
	add := func(channel, role string, pinned bool) {
		if channel != "" {
			uses[channel] = append(uses[channel], use{role: role, pinned: pinned})
		}
	}
	for _, p := range c.Partitions {
		add(p.DataChannel, fmt.Sprintf("partition %q data_channel", p.ID), true)
		add(p.ViewsChannel, fmt.Sprintf("partition %q views_channel", p.ID), false)
	}
	add(c.Materializer.ConfigChannel, "materializer config_channel", true)
	add(c.Materializer.SummaryChannel, "materializer summary_channel", false)
	if c.Materializer.HallOfFameChannel != c.Materializer.SummaryChannel {
		add(c.Materializer.HallOfFameChannel, "materializer hall_of_fame_channel", false)
	}
	if c.Retention.Archive && c.Backends.GCSArchiveBucket == "" {
		add(c.Retention.ArchiveChannel, "retention archive_channel", false)
	}

	channels := make([]string, 0, len(uses))
	for ch := range uses {
		channels = append(channels, ch)
	}
	sort.Strings(channels)

	var errs []error
	for _, ch := range channels {
		list := uses[ch]
		if len(list) < 2 {
			continue
		}
		for _, u := range list {
			if !u.pinned {
				continue
			}
			roles := make([]string, len(list))
			for i, o := range list {
				roles[i] = o.role
			}
			errs = append(errs, fmt.Errorf("channel %q holds a pinned document and cannot be shared: %s",
				ch, strings.Join(roles, ", ")))
			break
		}
	}
	return errs
}

// Partition returns the partition with id.
func (c *Config) Partition(id string) (PartitionConfig, bool) {
	for _, p := range c.Partitions {
		if p.ID == id {
			return p, true
		}
	}
	return PartitionConfig{}, false
}
