// Package config provides a reusable loader for the detector's
// configuration files and environment variables. It is versioned so that
// applications can depend on a stable API contract.
//
// Version: v0.1.0

package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/angu-team/ethernity-detector-mev/pkg/util"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// ScoreWeights are the tunable weights in the opportunity_score formula
// (spec §4.5): sigma(a*(S/D) + b*max(0, slippage_avg-baseline) + c*kappa).
type ScoreWeights struct {
	A float64 `mapstructure:"a" json:"a"`
	B float64 `mapstructure:"b" json:"b"`
	C float64 `mapstructure:"c" json:"c"`
}

// Config is the unified configuration for a detector process. It mirrors
// the structure of the YAML files under config/.
type Config struct {
	RPC struct {
		Endpoints    []string `mapstructure:"endpoints" json:"endpoints"`
		TimeoutMs    uint64   `mapstructure:"timeout_ms" json:"timeout_ms"`
		MaxRetries   int      `mapstructure:"max_retries" json:"max_retries"`
		CacheEntries int      `mapstructure:"cache_entries" json:"cache_entries"`
	} `mapstructure:"rpc" json:"rpc"`

	Snapshot struct {
		Path         string `mapstructure:"path" json:"path"`
		RetainBlocks uint64 `mapstructure:"retain_blocks" json:"retain_blocks"`
	} `mapstructure:"snapshot" json:"snapshot"`

	Aggregator struct {
		BucketTTLMs         uint64 `mapstructure:"bucket_ttl_ms" json:"bucket_ttl_ms"`
		MinVictims          int    `mapstructure:"min_victims" json:"min_victims"`
		MinAgeMs            uint64 `mapstructure:"min_age_ms" json:"min_age_ms"`
		MaxMembersPerBucket int    `mapstructure:"max_members_per_bucket" json:"max_members_per_bucket"`
	} `mapstructure:"aggregator" json:"aggregator"`

	Supervisor struct {
		BurstThresholdTxPerSec uint64 `mapstructure:"burst_threshold_tx_per_s" json:"burst_threshold_tx_per_s"`
		BucketSoftCap          int    `mapstructure:"bucket_soft_cap" json:"bucket_soft_cap"`
		SettleWindowMs         uint64 `mapstructure:"settle_window_ms" json:"settle_window_ms"`
		RecoveryWindowMs       uint64 `mapstructure:"recovery_window_ms" json:"recovery_window_ms"`
		EmitChannelCapacity    int    `mapstructure:"emit_channel_capacity" json:"emit_channel_capacity"`
	} `mapstructure:"supervisor" json:"supervisor"`

	Evaluator struct {
		ScoreWeights           ScoreWeights `mapstructure:"score_weights" json:"score_weights"`
		SlippageBaseline       float64      `mapstructure:"slippage_baseline" json:"slippage_baseline"`
		BaselineDecayAlpha     float64      `mapstructure:"baseline_decay_alpha" json:"baseline_decay_alpha"`
		AssumedBackrunGasUnits uint64       `mapstructure:"assumed_backrun_gas_units" json:"assumed_backrun_gas_units"`
		BucketDeadlineMs       uint64       `mapstructure:"bucket_deadline_ms" json:"bucket_deadline_ms"`
	} `mapstructure:"evaluator" json:"evaluator"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`

	Metrics struct {
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	} `mapstructure:"metrics" json:"metrics"`
}

// BucketTTL returns the configured bucket TTL as a time.Duration.
func (c *Config) BucketTTL() time.Duration {
	return time.Duration(c.Aggregator.BucketTTLMs) * time.Millisecond
}

// MinAge returns the configured minimum bucket age as a time.Duration.
func (c *Config) MinAge() time.Duration {
	return time.Duration(c.Aggregator.MinAgeMs) * time.Millisecond
}

// RPCTimeout returns the configured per-call RPC timeout.
func (c *Config) RPCTimeout() time.Duration {
	return time.Duration(c.RPC.TimeoutMs) * time.Millisecond
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and
// returned.
//
// The function uses the provided environment name to merge additional
// config files. If env is empty, only the default configuration is
// loaded.
func Load(env string) (*Config, error) {
	_ = godotenv.Load() // optional .env overlay; absence is not an error

	viper.SetConfigName("default")
	viper.AddConfigPath("config")
	viper.AddConfigPath(".")
	viper.SetConfigType("yaml")
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, util.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, util.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.SetEnvPrefix("DETECTOR")
	viper.AutomaticEnv() // picks up DETECTOR_*-prefixed overrides

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, util.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the DETECTOR_ENV environment
// variable to select an optional overlay file.
func LoadFromEnv() (*Config, error) {
	return Load(util.EnvOrDefault("DETECTOR_ENV", ""))
}

// setDefaults seeds viper with the defaults spec §6 prescribes so a
// minimal or absent config file still produces a runnable configuration.
func setDefaults() {
	viper.SetDefault("rpc.timeout_ms", 2000)
	viper.SetDefault("rpc.max_retries", 3)
	viper.SetDefault("rpc.cache_entries", 4096)

	viper.SetDefault("snapshot.retain_blocks", 64)

	viper.SetDefault("aggregator.min_victims", 1)
	viper.SetDefault("aggregator.min_age_ms", 100)
	viper.SetDefault("aggregator.max_members_per_bucket", 64)

	viper.SetDefault("supervisor.burst_threshold_tx_per_s", 500)
	viper.SetDefault("supervisor.bucket_soft_cap", 4096)
	viper.SetDefault("supervisor.settle_window_ms", 5000)
	viper.SetDefault("supervisor.recovery_window_ms", 15000)
	viper.SetDefault("supervisor.emit_channel_capacity", 1024)

	viper.SetDefault("evaluator.score_weights.a", 4.0)
	viper.SetDefault("evaluator.score_weights.b", 6.0)
	viper.SetDefault("evaluator.score_weights.c", 2.0)
	viper.SetDefault("evaluator.slippage_baseline", 0.3)
	viper.SetDefault("evaluator.baseline_decay_alpha", 0.05)
	viper.SetDefault("evaluator.assumed_backrun_gas_units", 150000)
	viper.SetDefault("evaluator.bucket_deadline_ms", 200)

	viper.SetDefault("logging.level", "info")
}
