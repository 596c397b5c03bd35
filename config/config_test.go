package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:8645", cfg.RPCAddress)
	require.Equal(t, "./data", cfg.DataDir)
	require.Equal(t, "./genesis.yaml", cfg.GenesisFile)
	require.Equal(t, "termlend-local", cfg.NetworkName)
	require.Equal(t, float64(20), cfg.RPCRateLimit)
	require.Equal(t, 40, cfg.RPCRateBurst)
	require.FileExists(t, path)

	// A second load reads the file it just wrote.
	again, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, again)
}

func TestLoadAppliesDefaultsToPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
RPCAddress = "0.0.0.0:9000"
RPCAuthToken = "secret"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9000", cfg.RPCAddress)
	require.Equal(t, "secret", cfg.RPCAuthToken)
	require.Equal(t, "./data", cfg.DataDir)
	require.Equal(t, float64(20), cfg.RPCRateLimit)
	require.Equal(t, 40, cfg.RPCRateBurst)
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("RPCAddress = [not toml"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestParseAmount(t *testing.T) {
	amount, err := ParseAmount(" 1000000000000000000 ")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1e18), amount)

	for _, raw := range []string{"", "  ", "abc", "1.5", "0x10"} {
		_, err := ParseAmount(raw)
		require.Error(t, err, "input %q", raw)
	}
}
