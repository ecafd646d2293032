package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/angu-team/ethernity-detector-mev/internal/testutil"
)

func TestLoadConfigDefault(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	defer os.Chdir(wd)
	viper.Reset()

	require.NoError(t, os.Chdir("../.."))
	_, err = Load("")
	require.NoError(t, err)
	require.NotEmpty(t, AppConfig.RPC.Endpoints)
	require.Equal(t, 1, AppConfig.Aggregator.MinVictims)
}

func TestLoadConfigOverride(t *testing.T) {
	sb, err := testutil.NewSandbox()
	require.NoError(t, err)
	defer sb.Cleanup()

	require.NoError(t, os.Mkdir(sb.Path("config"), 0700))
	require.NoError(t, sb.WriteFile("config/default.yaml", []byte("aggregator:\n  min_victims: 1\n  min_age_ms: 100\n"), 0600))
	require.NoError(t, sb.WriteFile("config/burst.yaml", []byte("supervisor:\n  burst_threshold_tx_per_s: 999\n"), 0600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	defer os.Chdir(wd)
	viper.Reset()

	require.NoError(t, os.Chdir(sb.Root))
	_, err = Load("burst")
	require.NoError(t, err)
	require.EqualValues(t, 999, AppConfig.Supervisor.BurstThresholdTxPerSec)
}

func TestBucketTTLHelper(t *testing.T) {
	c := Config{}
	c.Aggregator.BucketTTLMs = 1500
	require.Equal(t, int64(1500), c.BucketTTL().Milliseconds())
}
