package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fundverse/backend/internal/models"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.Port)
	require.True(t, cfg.MemoryMode())
	require.True(t, cfg.RequireRegisteredBackers)
	require.Equal(t, 30*time.Second, cfg.PollInterval)
	require.Equal(t, 32, cfg.LockPoolSize)
	require.Equal(t, []string{"http://localhost:3000"}, cfg.CORSOrigins)

	eng := cfg.Engine()
	require.Equal(t, int32(8), eng.UnitExponents[models.RailNative])
	require.Equal(t, int32(2), eng.UnitExponents[models.RailTraditional])
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("POLL_INTERVAL", "5s")
	t.Setenv("MAX_CONTRIBUTION", "1000")
	t.Setenv("REQUIRE_REGISTERED_BACKERS", "false")
	t.Setenv("CORS_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "9090", cfg.Port)
	require.Equal(t, 5*time.Second, cfg.PollInterval)
	require.False(t, cfg.RequireRegisteredBackers)
	require.Equal(t, uint64(1000), cfg.Limits().MaxPerContribution)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fundverse.yaml")
	body := "SETTLEMENT_WORKERS: 3\nAUDIT_INTERVAL: 2m\nESCROW_ACCOUNT: vault\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 3, cfg.SettlementWorkers)
	require.Equal(t, 2*time.Minute, cfg.AuditInterval)
	require.Equal(t, "vault", cfg.EscrowAccount)
}

func TestLoadConfigFileEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("PORT: \"7000\"\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "7000", cfg.Port)
}

func TestValidate(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/fundverse")
	t.Setenv("SETTLEMENT_WORKERS", "0")
	t.Setenv("OPERATOR_EMAIL", "ops@example.com")
	t.Setenv("LOCK_POOL_SIZE", "0")

	_, err := Load("")
	require.Error(t, err)
	require.ErrorContains(t, err, "JWT_SECRET")
	require.ErrorContains(t, err, "LOCK_POOL_SIZE")
	require.ErrorContains(t, err, "SETTLEMENT_WORKERS")
	require.ErrorContains(t, err, "OPERATOR_PASSWORD")
}

func TestMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorContains(t, err, "read config")
}
