package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDSN(t *testing.T) {
	cfg := &Config{
		MySQLUser:     "app",
		MySQLPassword: "secret",
		MySQLHost:     "db.internal",
		MySQLPort:     "3306",
		MySQLDatabase: "unishare",
	}

	dsn := cfg.GetDSN()
	assert.Contains(t, dsn, "app:secret@tcp(db.internal:3306)/unishare")
	assert.Contains(t, dsn, "parseTime=True")

	// RowsAffected must count matched rows, not changed rows; otherwise a
	// no-op session update is misread as a missing session.
	assert.Contains(t, dsn, "clientFoundRows=true")
}

func TestGetRedisAddr(t *testing.T) {
	cfg := &Config{RedisHost: "cache.internal", RedisPort: "6379"}
	assert.Equal(t, "cache.internal:6379", cfg.GetRedisAddr())
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServicePort)
	assert.Equal(t, "local", cfg.DefaultStorage)
	assert.False(t, cfg.UseMinIO)
	assert.False(t, cfg.UseGoogleDrive)
}
