package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-ledger/config"
	"github.com/warp/leave-ledger/generic"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "local", cfg.Scheduler.Lock)
	assert.Equal(t, time.Hour, cfg.Scheduler.CheckInterval)
	assert.Equal(t, []generic.BucketType{generic.BucketLeaveWithoutPay}, cfg.AllowNegative())
	assert.Equal(t, "casual", cfg.Reconcile.SecondaryBucket)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
db:
  driver: memory
scheduler:
  timezone: Asia/Kolkata
reconcile:
  secondary_bucket: sick
`)
	t.Setenv("LEAVE_SERVER_PORT", "9100")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, "sick", cfg.Reconcile.SecondaryBucket)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Kolkata", loc.String())
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad port":      "server:\n  port: 70000\n",
		"bad driver":    "db:\n  driver: mongo\n",
		"bad lock":      "scheduler:\n  lock: zookeeper\n",
		"bad timezone":  "scheduler:\n  timezone: Mars/Olympus\n",
		"redis no addr": "scheduler:\n  lock: redis\nredis:\n  addr: \"\"\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}
