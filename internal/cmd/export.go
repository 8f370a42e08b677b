package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tileproxy/tileproxy/internal/concurrency"
	"github.com/tileproxy/tileproxy/internal/datasource"
	"github.com/tileproxy/tileproxy/internal/export"
	"github.com/tileproxy/tileproxy/internal/registry"
	"github.com/tileproxy/tileproxy/internal/resolver"
	"github.com/tileproxy/tileproxy/internal/tile"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Run a one-shot export of a registered source into a target backend (§4.G)",
	RunE:  runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().String("source", "", "registered data source id to export from (required)")
	exportCmd.Flags().String("target-type", "mbtiles", "target backend type (mbtiles, xyz, pg)")
	exportCmd.Flags().String("target-path", "", "target backend path/uri (required)")
	exportCmd.Flags().String("target-extension", "png", "target tile file extension (xyz targets only)")
	exportCmd.Flags().String("target-table", "tiles", "target table name (pg targets only)")
	exportCmd.Flags().String("bbox", "-180,-85.051129,180,85.051129", "minLon,minLat,maxLon,maxLat")
	exportCmd.Flags().Uint32("min-zoom", 0, "minimum zoom")
	exportCmd.Flags().Uint32("max-zoom", 5, "maximum zoom")
	exportCmd.Flags().Int("concurrency", 4, "max tiles in flight (§4.D)")
	exportCmd.Flags().Bool("store-transparent", false, "store fully-transparent PNG tiles in the target")
	exportCmd.Flags().String("refresh", "unconditional", "refresh policy: unconditional, hash, or an RFC3339 time (refresh tiles older than it)")

	mustBind := func(key, name string) {
		if err := viper.BindPFlag(key, exportCmd.Flags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", name, err))
		}
	}
	mustBind("export.source", "source")
	mustBind("export.target_type", "target-type")
	mustBind("export.target_path", "target-path")
	mustBind("export.target_extension", "target-extension")
	mustBind("export.target_table", "target-table")
	mustBind("export.bbox", "bbox")
	mustBind("export.min_zoom", "min-zoom")
	mustBind("export.max_zoom", "max-zoom")
	mustBind("export.concurrency", "concurrency")
	mustBind("export.store_transparent", "store-transparent")
	mustBind("export.refresh", "refresh")
}

func runExport(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	sourceID := viper.GetString("export.source")
	if sourceID == "" {
		return fmt.Errorf("--source is required")
	}
	targetPath := viper.GetString("export.target_path")
	if targetPath == "" {
		return fmt.Errorf("--target-path is required")
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

	src, ok := reg.TileSource(sourceID)
	if !ok {
		return fmt.Errorf("unknown source %q", sourceID)
	}

	target, err := targetDTO{
		Type:      viper.GetString("export.target_type"),
		Path:      targetPath,
		Extension: viper.GetString("export.target_extension"),
		URI:       targetPath,
		Table:     viper.GetString("export.target_table"),
	}.open(ctx)
	if err != nil {
		return fmt.Errorf("open export target: %w", err)
	}
	defer target.Close()

	bbox, err := parseBBoxFlag(viper.GetString("export.bbox"))
	if err != nil {
		return err
	}
	coverage := tile.NewCoverage(bbox, viper.GetUint32("export.min_zoom"), viper.GetUint32("export.max_zoom"))

	refresh, err := parseRefreshFlag(viper.GetString("export.refresh"))
	if err != nil {
		return err
	}

	workers := viper.GetInt("export.concurrency")
	if workers <= 0 {
		workers = 1
	}

	client := datasource.NewClient(resolver.DefaultFetchTimeout, logger)
	res := resolver.New(client, logger)
	exporter := export.New(res, logger)

	params := export.Params{
		ID:               sourceID,
		Source:           src,
		Target:           target,
		Coverages:        []tile.Coverage{coverage},
		Concurrency:      workers,
		StoreTransparent: viper.GetBool("export.store_transparent"),
		Refresh:          refresh,
	}

	token := concurrency.NewCancelToken()
	token.Start()
	defer token.Finish()

	n, err := exporter.Run(ctx, params, token, func(completed, total, failed int) {
		logger.Info("export: progress", "completed", completed, "total", total, "failed", failed)
	})
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	logger.Info("export: finished", "source", sourceID, "tiles", n)
	return nil
}

func parseBBoxFlag(raw string) (tile.BBox, error) {
	vals := strings.Split(raw, ",")
	if len(vals) != 4 {
		return tile.BBox{}, fmt.Errorf("--bbox requires exactly 4 comma-separated values, got %d", len(vals))
	}
	var f [4]float64
	for i, v := range vals {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return tile.BBox{}, fmt.Errorf("--bbox value %q: %w", v, err)
		}
		f[i] = parsed
	}
	bbox := tile.NewBBox(f[0], f[1], f[2], f[3])
	if err := bbox.Validate(); err != nil {
		return tile.BBox{}, fmt.Errorf("--bbox: %w", err)
	}
	return bbox, nil
}

func parseRefreshFlag(v string) (export.RefreshPolicy, error) {
	switch v {
	case "", "unconditional":
		return export.RefreshUnconditional(), nil
	case "hash":
		return export.RefreshHashCompare(), nil
	default:
		return refreshDTO{Mode: "before", Time: v}.toPolicy()
	}
}
