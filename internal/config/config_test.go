package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-board/internal/address"
	"signal-board/internal/leaderboard"
	"signal-board/internal/ranking"
)

const sampleYAML = `
partitions:
  - id: sol
    data_channel: "@sol_db"
    views_channel: "@sol_boards"
  - id: eth
    kind: EVM
    data_channel: "@eth_db"
materializer:
  config_channel: "@board_config"
  summary_channel: "@summary"
retention:
  max_age_days: 14
  archive: true
  archive_channel: cold
lease:
  enabled: true
ranking: recency
inter_partition_delay: 500ms
backends:
  postgres_dsn: postgres://file
`

func TestParse_DefaultsAndOverrides(t *testing.T) {
	t.Setenv(EnvBotToken, "123:abc")
	t.Setenv(EnvPostgresDSN, "postgres://env")
	t.Setenv(EnvRedisAddr, "")

	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	require.Len(t, cfg.Partitions, 2)
	assert.Equal(t, address.KindSolana, cfg.Partitions[0].Kind)
	assert.Equal(t, address.KindEVM, cfg.Partitions[1].Kind)
	assert.Equal(t, "@sol_boards", cfg.Partitions[0].ViewsChannel)
	assert.Equal(t, "@summary", cfg.Partitions[1].ViewsChannel, "views default to the summary channel")

	assert.Equal(t, "@summary", cfg.Materializer.HallOfFameChannel)
	assert.Equal(t, leaderboard.DefaultTopN, cfg.Materializer.TopN)
	assert.Equal(t, 14, cfg.Retention.MaxAgeDays)
	assert.Equal(t, DefaultLeaseTTL, cfg.Lease.TTL)
	assert.Equal(t, 500*time.Millisecond, cfg.InterPartitionDelay)
	assert.Equal(t, DefaultInterval, cfg.Interval)
	assert.Equal(t, ranking.StrategyRecency, cfg.Ranking)

	assert.Equal(t, "123:abc", cfg.Backends.BotToken)
	assert.Equal(t, "postgres://env", cfg.Backends.PostgresDSN, "environment wins over the file")
	assert.Empty(t, cfg.Backends.RedisAddr)

	p, ok := cfg.Partition("eth")
	assert.True(t, ok)
	assert.Equal(t, "@eth_db", p.DataChannel)
	_, ok = cfg.Partition("btc")
	assert.False(t, ok)
}

func TestParse_Invalid(t *testing.T) {
	t.Setenv(EnvGCSArchiveBucket, "")
	tests := []struct {
		name string
		yaml string
	}{
		{"empty", ``},
		{"duplicate partition", `
partitions: [{id: a, data_channel: x}, {id: a, data_channel: y}]
materializer: {config_channel: c, summary_channel: s}`},
		{"missing channel", `
partitions: [{id: a}]
materializer: {config_channel: c, summary_channel: s}`},
		{"unknown kind", `
partitions: [{id: a, kind: btc, data_channel: x}]
materializer: {config_channel: c, summary_channel: s}`},
		{"archive without channel", `
partitions: [{id: a, data_channel: x}]
materializer: {config_channel: c, summary_channel: s}
retention: {archive: true}`},
		{"unknown ranking", `
partitions: [{id: a, data_channel: x}]
materializer: {config_channel: c, summary_channel: s}
ranking: vibes`},
		{"unknown format", `
partitions: [{id: a, data_channel: x}]
materializer: {config_channel: c, summary_channel: s, format: xml}`},
		{"views on data channel", `
partitions: [{id: a, data_channel: x, views_channel: x}]
materializer: {config_channel: c, summary_channel: s}`},
		{"data channels shared", `
partitions: [{id: a, data_channel: x}, {id: b, data_channel: x}]
materializer: {config_channel: c, summary_channel: s}`},
		{"config on summary channel", `
partitions: [{id: a, data_channel: x}]
materializer: {config_channel: s, summary_channel: s}`},
		{"config on data channel", `
partitions: [{id: a, data_channel: x}]
materializer: {config_channel: x, summary_channel: s}`},
		{"config on views channel", `
partitions: [{id: a, data_channel: x, views_channel: v}]
materializer: {config_channel: v, summary_channel: s}`},
		{"summary on data channel", `
partitions: [{id: a, data_channel: x}]
materializer: {config_channel: c, summary_channel: x}`},
		{"archive on data channel", `
partitions: [{id: a, data_channel: x}]
materializer: {config_channel: c, summary_channel: s}
retention: {archive: true, archive_channel: x}`},
		{"unknown field", `
partitions: [{id: a, data_channel: x}]
materializer: {config_channel: c, summary_channel: s}
colour: blue`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestValidate_SharedViewChannels(t *testing.T) {
	t.Setenv(EnvGCSArchiveBucket, "")
	cfg, err := Parse([]byte(`
partitions:
  - {id: a, data_channel: a-db, views_channel: boards}
  - {id: b, data_channel: b-db, views_channel: boards}
  - {id: c, data_channel: c-db}
materializer: {config_channel: cfg, summary_channel: boards, hall_of_fame_channel: boards}
retention: {archive: true, archive_channel: boards}`))
	require.NoError(t, err, "channels without a pinned document may be shared")
	assert.Equal(t, "boards", cfg.Partitions[2].ViewsChannel)
}

func TestValidate_SharedPinnedChannelNamesRoles(t *testing.T) {
	_, err := Parse([]byte(`
partitions: [{id: a, data_channel: x, views_channel: x}]
materializer: {config_channel: c, summary_channel: s}`))
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), `channel "x"`)
	assert.Contains(t, err.Error(), `partition "a" data_channel`)
	assert.Contains(t, err.Error(), `partition "a" views_channel`)
}

func TestValidate_ArchiveOnGCSIgnoresChannelNames(t *testing.T) {
	t.Setenv(EnvGCSArchiveBucket, "cold-bucket")
	_, err := Parse([]byte(`
partitions: [{id: a, data_channel: x}]
materializer: {config_channel: c, summary_channel: s}
retention: {archive: true, archive_channel: x}`))
	assert.NoError(t, err)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Partitions, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadEnv_DoesNotOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("GCS_ARCHIVE_BUCKET=from-file\nREDIS_ADDR=localhost:6379\n"), 0o644))
	t.Setenv(EnvGCSArchiveBucket, "from-env")
	t.Setenv(EnvRedisAddr, "")
	require.NoError(t, os.Unsetenv(EnvRedisAddr))

	require.NoError(t, LoadEnv(path, filepath.Join(t.TempDir(), "absent.env")))
	assert.Equal(t, "from-env", os.Getenv(EnvGCSArchiveBucket))
	assert.Equal(t, "localhost:6379", os.Getenv(EnvRedisAddr))
}
