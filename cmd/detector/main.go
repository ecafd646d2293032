package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/angu-team/ethernity-detector-mev/internal/aggregator"
	"github.com/angu-team/ethernity-detector-mev/internal/evaluator"
	"github.com/angu-team/ethernity-detector-mev/internal/metrics"
	"github.com/angu-team/ethernity-detector-mev/internal/snapshotstore"
	"github.com/angu-team/ethernity-detector-mev/internal/stateprovider"
	"github.com/angu-team/ethernity-detector-mev/internal/supervisor"
	"github.com/angu-team/ethernity-detector-mev/internal/types"
	"github.com/angu-team/ethernity-detector-mev/pkg/config"
)

func main() {
	rootCmd := &cobra.Command{Use: "detector"}
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(inspectSnapshotCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var env string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "run the mempool MEV-opportunity detector",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDetector(env)
		},
	}
	cmd.Flags().StringVar(&env, "env", "", "configuration overlay name")
	return cmd
}

func runDetector(env string) error {
	cfg, err := config.Load(env)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logrus.New()
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&logrus.JSONFormatter{})
	runID := uuid.New().String()
	entry := logrus.NewEntry(log).WithField("run_id", runID)
	entry.Info("starting detector")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := snapshotstore.Open(cfg.Snapshot.Path, entry)
	if err != nil {
		return fmt.Errorf("open snapshot store: %w", err)
	}
	defer store.Close()

	chain, err := stateprovider.Dial(ctx, stateprovider.Options{
		Endpoints:    cfg.RPC.Endpoints,
		Timeout:      cfg.RPCTimeout(),
		MaxRetries:   cfg.RPC.MaxRetries,
		CacheEntries: cfg.RPC.CacheEntries,
	}, entry)
	if err != nil {
		return fmt.Errorf("dial state provider: %w", err)
	}
	defer chain.Close()

	agg := aggregator.New(aggregator.Thresholds{
		MinVictims:          cfg.Aggregator.MinVictims,
		MinAge:              cfg.MinAge(),
		TTL:                 cfg.BucketTTL(),
		MaxMembersPerBucket: cfg.Aggregator.MaxMembersPerBucket,
	})

	eval := evaluator.New(evaluator.Config{
		ScoreWeights: evaluator.ScoreWeights{
			A: cfg.Evaluator.ScoreWeights.A,
			B: cfg.Evaluator.ScoreWeights.B,
			C: cfg.Evaluator.ScoreWeights.C,
		},
		SlippageBaselineSeed:   cfg.Evaluator.SlippageBaseline,
		BaselineDecayAlpha:     cfg.Evaluator.BaselineDecayAlpha,
		AssumedBackrunGasUnits: cfg.Evaluator.AssumedBackrunGasUnits,
		BucketDeadline:         time.Duration(cfg.Evaluator.BucketDeadlineMs) * time.Millisecond,
	})

	superCfg := supervisor.Config{
		BlockTime:        12 * time.Second,
		BurstThreshold:   float64(cfg.Supervisor.BurstThresholdTxPerSec),
		SettleWindow:     time.Duration(cfg.Supervisor.SettleWindowMs) * time.Millisecond,
		RecoveryWindow:   time.Duration(cfg.Supervisor.RecoveryWindowMs) * time.Millisecond,
		BucketSoftCap:    cfg.Supervisor.BucketSoftCap,
		RPCFailureWindow: 10 * time.Second,
		RPCFailureRate:   0.25,
		EmitCapacity:     cfg.Supervisor.EmitChannelCapacity,
	}
	sup := supervisor.New(superCfg, agg, store, chain, eval, entry)

	metricsLog, err := metrics.New(metrics.Sources{
		ActiveBuckets:      agg.BucketCount,
		ContaminatedGroups: agg.ContaminatedGroups,
		StorageErrors:      store.StorageErrors,
		StateUnavailable:   chain.StateUnavailableCount,
	}, cfg.Logging.File)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer metricsLog.Close()

	var metricsSrv interface {
		Shutdown(ctx context.Context) error
	}
	if cfg.Metrics.ListenAddr != "" {
		srv, err := metricsLog.StartServer(cfg.Metrics.ListenAddr)
		if err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		metricsSrv = srv
	}
	go metricsLog.RunCollector(ctx, 5*time.Second)

	newTx := make(chan types.PendingTx, 1024)
	blockAdvanced := make(chan types.BlockContext, 16)

	startBlock, err := chain.LatestBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("fetch latest block number: %w", err)
	}
	go chain.WatchBlocks(ctx, startBlock, 3*time.Second, blockAdvanced)
	go sup.Run(ctx, newTx, blockAdvanced)
	go drainOutput(sup, metricsLog, entry)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	entry.Info("shutdown signal received")
	cancel()
	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return nil
}

func drainOutput(sup *supervisor.Supervisor, m *metrics.Logger, log *logrus.Entry) {
	for gr := range sup.Output() {
		m.GroupEmitted(gr.Flags.DeadlineMissed)
		if gr.Flags.Contaminated {
			m.ContaminationObserved()
		}
		if gr.Flags.StateUnavailable {
			continue
		}
		log.WithFields(logrus.Fields{
			"group_id":       gr.GroupID,
			"score":          gr.OpportunityScore,
			"victims":        len(gr.Victims),
			"profit_backrun": gr.ExpectedProfitBackrun.String(),
		}).Info("group ready")
	}
}

func inspectSnapshotCmd() *cobra.Command {
	var dbPath string
	var pool string
	var blockNumber uint64
	cmd := &cobra.Command{
		Use:   "inspect-snapshot",
		Short: "print a stored pool snapshot as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			entry := logrus.NewEntry(logrus.New())
			store, err := snapshotstore.Open(dbPath, entry)
			if err != nil {
				return fmt.Errorf("open snapshot store: %w", err)
			}
			defer store.Close()

			snap, ok, err := store.Get(common.HexToAddress(pool), blockNumber)
			if err != nil {
				return fmt.Errorf("get snapshot: %w", err)
			}
			if !ok {
				return fmt.Errorf("no snapshot for %s at block %d", pool, blockNumber)
			}
			enc, err := json.MarshalIndent(snapshotView(snap), "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(enc))
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "path to the snapshot store")
	cmd.Flags().StringVar(&pool, "pool", "", "pool address")
	cmd.Flags().Uint64Var(&blockNumber, "block", 0, "block number")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("pool")
	_ = cmd.MarkFlagRequired("block")
	return cmd
}

// snapshotView renders a types.Snapshot as plain JSON-friendly values; the
// uint256 fields stringify rather than marshal as arrays of bytes.
func snapshotView(s *types.Snapshot) map[string]any {
	v := map[string]any{
		"pool":         s.Pool.Hex(),
		"block_number": s.BlockNumber,
		"block_hash":   s.BlockHash.Hex(),
		"kind":         s.Kind,
	}
	switch s.Kind {
	case types.PoolV2:
		v["reserve0"] = s.Reserve0.String()
		v["reserve1"] = s.Reserve1.String()
		v["token0"] = s.Token0.Hex()
		v["token1"] = s.Token1.Hex()
		v["fee_bps"] = s.FeeBps
	case types.PoolV3:
		v["sqrt_price_x96"] = s.SqrtPriceX96.String()
		v["tick"] = s.Tick
		v["liquidity"] = s.Liquidity.String()
	}
	return v
}
