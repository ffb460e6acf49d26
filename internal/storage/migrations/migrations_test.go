package migrations

import (
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_SortsAndSkipsEmpty(t *testing.T) {
	fsys := fstest.MapFS{
		"pg/002_b.sql":  {Data: []byte("SELECT 2;")},
		"pg/001_a.sql":  {Data: []byte("SELECT 1;")},
		"pg/003_c.sql":  {Data: []byte("  \n")},
		"pg/README.txt": {Data: []byte("ignored")},
	}
	files, err := load(fsys, "pg")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "001_a.sql", files[0].name)
	assert.Equal(t, "SELECT 2;", files[1].sql)
}

func TestStatement(t *testing.T) {
	stmt, err := statement("-- header\nCREATE TABLE a (x UInt8) ENGINE = Memory;\n")
	require.NoError(t, err)
	assert.Equal(t, "CREATE TABLE a (x UInt8) ENGINE = Memory", stmt)

	_, err = statement("CREATE TABLE a (x UInt8) ENGINE = Memory;\nCREATE TABLE b (y UInt8) ENGINE = Memory;")
	assert.Error(t, err)

	_, err = statement("-- only a comment\n")
	assert.Error(t, err)
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://user:pw@localhost:9000/boards")
	require.NoError(t, err)
	assert.Equal(t, "boards", db)

	_, err = databaseFromDSN("clickhouse://localhost:9000")
	assert.Error(t, err)
}

func TestEmbeddedSchemas(t *testing.T) {
	pg, err := load(postgresFS, "postgres")
	require.NoError(t, err)
	require.NotEmpty(t, pg)
	assert.True(t, strings.Contains(pg[0].sql, "store_documents"))

	ch, err := load(clickhouseFS, "clickhouse")
	require.NoError(t, err)
	require.NotEmpty(t, ch)
	for _, m := range ch {
		stmt, err := statement(m.sql)
		require.NoError(t, err, m.name)
		assert.Contains(t, stmt, "leaderboard_history")
	}
}
