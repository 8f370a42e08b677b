// Package cmd wires the cobra/viper CLI around the tile serve/cache
// engine: a "serve" subcommand exposing §6's HTTP surface, a one-shot
// "export" subcommand around §4.G, and a "seed" subcommand driving
// §4.H once or on an interval. Flag/config/logging wiring follows the
// same cobra.OnInitialize + viper.BindPFlag pattern as the teacher's
// internal/cmd.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string
var logger *slog.Logger

var rootCmd = &cobra.Command{
	Use:   "tileproxy",
	Short: "A map-tile serving and caching proxy",
	Long: `tileproxy resolves XYZ tile requests against pluggable storage
backends (MBTiles, PMTiles, on-disk XYZ, PostgreSQL), forwarding to an
upstream source and writing back into cache on a miss. It also serves
fonts, sprites, GeoJSON layers, and style documents under the same
cache/forward contract, and can export or seed one backend from
another.`,
}

// Execute runs the root command, exiting the process with status 1 on
// error.
func Execute() {
	if logger == nil {
		initLogging() // fallback in case cobra init didn't fire
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initLogging)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().String("data-dir", "data", "root directory for data/, caches/ (§6 DATA_DIR)")
	rootCmd.PersistentFlags().String("postgresql-base-uri", "", "base connection URI for pg-backed sources (§6 POSTGRESQL_BASE_URI)")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	mustBind := func(key, name string) {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", name, err))
		}
	}
	mustBind("data-dir", "data-dir")
	mustBind("postgresql-base-uri", "postgresql-base-uri")
	mustBind("verbose", "verbose")
	mustBind("log-level", "log-level")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("TILEPROXY")
	viper.AutomaticEnv()
	// §6 names DATA_DIR directly (no TILEPROXY_ prefix), matching the
	// original process's bare environment variable.
	if v := os.Getenv("DATA_DIR"); v != "" {
		viper.Set("data-dir", v)
	}
	if v := os.Getenv("POSTGRESQL_BASE_URI"); v != "" {
		viper.Set("postgresql-base-uri", v)
	}

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

func initLogging() {
	levelStr := strings.ToLower(viper.GetString("log-level"))
	level := slog.LevelInfo
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error", "err":
		level = slog.LevelError
	default:
		fmt.Fprintf(os.Stderr, "unknown log level %q, defaulting to info\n", levelStr)
		level = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	logger = slog.New(handler)
	slog.SetDefault(logger)
}
