package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tileproxy/tileproxy/internal/datasource"
	"github.com/tileproxy/tileproxy/internal/export"
	"github.com/tileproxy/tileproxy/internal/fonts"
	"github.com/tileproxy/tileproxy/internal/registry"
	"github.com/tileproxy/tileproxy/internal/resolver"
	"github.com/tileproxy/tileproxy/internal/server"
	"github.com/tileproxy/tileproxy/internal/sprites"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve tiles, fonts, sprites, GeoJSON, and styles over HTTP",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "127.0.0.1:8080", "listen address (host:port)")
	serveCmd.Flags().String("cache-control", "no-store", "Cache-Control header for served tiles")
	serveCmd.Flags().Duration("forward-timeout", 30*time.Second, "upstream forward fetch timeout (§5 default 30s)")

	mustBind := func(key, name string) {
		if err := viper.BindPFlag(key, serveCmd.Flags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", name, err))
		}
	}
	mustBind("serve.addr", "addr")
	mustBind("serve.cache_control", "cache-control")
	mustBind("serve.forward_timeout", "forward-timeout")
}

func runServe(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	regCfg, err := loadRegistryConfig()
	if err != nil {
		return fmt.Errorf("load registry config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg, err := registry.New(ctx, regCfg, logger)
	if err != nil {
		return fmt.Errorf("build registry: %w", err)
	}
	defer reg.Close()

	client := datasource.NewClient(viper.GetDuration("serve.forward_timeout"), logger)
	res := resolver.New(client, logger)
	exporter := export.New(res, logger)
	// Bundled "Open Sans <weight>" fallback families are configured as
	// ordinary `fonts` registry entries keyed by family name (§4.F "Font
	// fallback chain"), so the fallback lookup is the same FontSource
	// callback as the primary lookup.
	fontRegistry := fonts.NewRegistry(res, reg.FontSource, reg.FontSource)
	spriteRegistry := sprites.NewRegistry(res, reg.SpriteSource, reg.DefaultSprite)

	srv := server.New(server.Config{
		Registry:     reg,
		Resolver:     res,
		Exporter:     exporter,
		Fonts:        fontRegistry,
		Sprites:      spriteRegistry,
		Logger:       logger,
		CacheControl: viper.GetString("serve.cache_control"),
	})

	addr := viper.GetString("serve.addr")
	httpSrv := &http.Server{Addr: addr, Handler: srv.Mux(), ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server: listening", "addr", addr, "datas", len(reg.DataIDs()))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		logger.Info("server: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	}
}
