package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/castbet/internal/ledger"
)

const admin = "0x00000000000000000000000000000000000000ad"

func validConfig() Config {
	cfg := Defaults()
	cfg.Roles.Admin = admin
	return cfg
}

func TestDefaults_ValidWithAdmin(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	p, err := cfg.Params()
	require.NoError(t, err)
	assert.True(t, p.BondFloor.Eq(ledger.USDC(10)))
	assert.Equal(t, 24*time.Hour, p.ChallengeWindow)
	assert.Equal(t, uint64(1000), p.Fees.HouseBps)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Log.Level = "loud"
	cfg.Journal = "mongo"
	cfg.Engine.MinSeed = "3.0000001"
	cfg.Notify.TelegramToken = "tok"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		`unknown log.level "loud"`,
		`unknown journal "mongo"`,
		"engine.min_seed",
		"roles.admin",
		"telegram_chat_id",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_ModeRequirements(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "full"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keeper: either private_key or encrypted_key_path")

	cfg.Keeper.PrivateKey = "0xabc"
	require.NoError(t, cfg.Validate())

	cfg = validConfig()
	cfg.Mode = "embedded"
	assert.ErrorContains(t, cfg.Validate(), `embedded mode requires journal = "sqlite"`)
	cfg.Journal = "sqlite"
	cfg.Redis.Addr = ""
	assert.NoError(t, cfg.Validate())
}

func TestLoad_TOMLAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "castbet.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "keeper"

[engine]
challenge_window = "2h"
bond_floor = "25"

[roles]
admin = "`+admin+`"
operators = ["0x00000000000000000000000000000000000000a1"]

[keeper]
interval = "10s"
server_url = "http://castbet:8080"
`), 0o600))

	t.Setenv("CASTBET_KEEPER_PRIVATE_KEY", "0xfeed")
	t.Setenv("CASTBET_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "keeper", cfg.Mode)
	assert.Equal(t, 2*time.Hour, cfg.Engine.ChallengeWindow.Duration)
	assert.Equal(t, 10*time.Second, cfg.Keeper.Interval.Duration)
	assert.Equal(t, "0xfeed", cfg.Keeper.PrivateKey)
	assert.Equal(t, "http://castbet:8080", cfg.Keeper.ServerURL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	require.NoError(t, cfg.Validate())

	auth, err := cfg.Authorizer()
	require.NoError(t, err)
	assert.Len(t, auth.Operators(), 1)
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "castbet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode: embedded
journal: sqlite
sqlite:
  path: /tmp/castbet.db
engine:
  challenge_window: 90m
roles:
  admin: "`+admin+`"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/castbet.db", cfg.SQLite.Path)
	assert.Equal(t, 90*time.Minute, cfg.Engine.ChallengeWindow.Duration)
	assert.Equal(t, 8080, cfg.Server.Port)
	require.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Keeper.PrivateKey = "0xsecret"
	cfg.Server.APIKey = "key"
	cfg.Roles.Operators = []string{"a"}

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Keeper.PrivateKey)
	assert.Equal(t, "***", red.Server.APIKey)
	assert.Empty(t, red.Postgres.Password)

	red.Roles.Operators[0] = "b"
	assert.Equal(t, "a", cfg.Roles.Operators[0])
}
