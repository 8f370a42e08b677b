package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tileproxy/tileproxy/internal/datasource"
	"github.com/tileproxy/tileproxy/internal/export"
	"github.com/tileproxy/tileproxy/internal/registry"
	"github.com/tileproxy/tileproxy/internal/resolver"
	"github.com/tileproxy/tileproxy/internal/seed"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Drive the seed/cleanup batch declared in the config file once or on an interval (§4.H)",
	RunE:  runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)

	seedCmd.Flags().Duration("interval", 0, "re-run the batch on this interval; 0 runs once and exits")

	if err := viper.BindPFlag("seed.interval", seedCmd.Flags().Lookup("interval")); err != nil {
		panic(fmt.Sprintf("failed to bind flag interval: %v", err))
	}
}

func runSeed(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	regCfg, err := loadRegistryConfig()
	if err != nil {
		return fmt.Errorf("load registry config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg, err := registry.New(ctx, regCfg, logger)
	if err != nil {
		return fmt.Errorf("build registry: %w", err)
	}
	defer reg.Close()

	var fc fileConfig
	if err := viper.Unmarshal(&fc); err != nil {
		return fmt.Errorf("unmarshal seed config: %w", err)
	}
	seedCfg, err := fc.Seed.toSeedConfig(ctx, reg)
	if err != nil {
		return fmt.Errorf("build seed config: %w", err)
	}

	client := datasource.NewClient(resolver.DefaultFetchTimeout, logger)
	res := resolver.New(client, logger)
	exporter := export.New(res, logger)
	driver := seed.New(exporter, res, logger)

	runOnce := func() error {
		summary, err := driver.Run(ctx, seedCfg)
		if err != nil {
			return err
		}
		logger.Info("seed: run finished",
			"seeds_run", summary.SeedsRun,
			"seed_failures", summary.SeedFailures,
			"tiles_removed", summary.TilesRemoved,
			"files_removed", summary.FilesRemoved,
			"file_failures", summary.FileFailures,
		)
		return nil
	}

	interval := viper.GetDuration("seed.interval")
	if interval <= 0 {
		return runOnce()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	logger.Info("seed: driving on interval", "interval", interval)
	if err := runOnce(); err != nil {
		logger.Error("seed: run failed", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := runOnce(); err != nil {
				logger.Error("seed: run failed", "error", err)
			}
		}
	}
}
