package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chaz8081/felshare-ble/internal/api"
	"github.com/chaz8081/felshare-ble/internal/ble"
	"github.com/chaz8081/felshare-ble/internal/config"
	"github.com/chaz8081/felshare-ble/internal/diffuser"
	"github.com/chaz8081/felshare-ble/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/felshare-ble/config.yaml)")
	scanTimeout := flag.Duration("scan-timeout", 10*time.Second, "how long the scan command listens for advertisements")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [serve|scan|init]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cmd := "serve"
	if flag.NArg() > 0 {
		cmd = flag.Arg(0)
	}

	var err error
	switch cmd {
	case "init":
		err = runInit()
	case "scan":
		err = runScan(*configPath, *scanTimeout)
	case "serve":
		err = runServe(*configPath)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func runInit() error {
	path, err := config.WriteDefault()
	if err != nil {
		return err
	}
	if path == "" {
		fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
		return nil
	}
	fmt.Printf("Wrote default config to %s\n", path)
	return nil
}

func runScan(configPath string, timeout time.Duration) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg)

	fmt.Printf("Scanning for diffusers (%s)...\n", timeout)
	devices, err := ble.ScanForDevices(ble.NewBluetoothAdapter(), ble.ServiceUUID, timeout)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("No devices found.")
		return nil
	}
	for _, d := range devices {
		name := d.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Printf("  %-20s %s  RSSI %d\n", name, d.Address, d.RSSI)
	}
	return nil
}

func runServe(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg)
	printBanner(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		snapshots *store.SnapshotSQLite
		recorder  *store.Recorder
	)
	if cfg.Store.Path != "" {
		db, err := store.Open(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer closeDB(db)
		snapshots = store.NewSnapshotSQLite(db)
		recorder = store.NewRecorder(snapshots)
		defer recorder.Close()
		slog.Info("[STORE] snapshot store ready", "path", cfg.Store.Path)
	}

	adapter := ble.NewBluetoothAdapter()
	opener := diffuser.SessionOpener(adapter, ble.SessionOptions{
		ConnectTimeout:    cfg.BLE.ConnectTimeout,
		WriteWithResponse: cfg.BLE.WriteWithResponse,
		NotifyBuffer:      cfg.BLE.NotifyBuffer,
	})
	registry := diffuser.NewRegistry(opener, diffuser.Options{
		PollInterval:    cfg.Poll.Interval,
		SyncDelay:       cfg.Poll.InitialDelay,
		PowerCyclePause: diffuser.DefaultOptions().PowerCyclePause,
	})
	// Registered after the recorder so sessions stop publishing before the
	// final flush.
	defer func() {
		if err := registry.Close(); err != nil {
			slog.Warn("[BLE] closing devices", "error", err)
		}
	}()

	for _, spec := range cfg.Devices {
		d, err := registry.Create(diffuser.DeviceSpec{ID: spec.ID, Address: spec.Address, Name: spec.Name})
		if err != nil {
			return fmt.Errorf("register %s: %w", spec.Address, err)
		}
		if recorder != nil {
			recorder.Watch(d.Address(), d)
		}
	}
	if len(cfg.Devices) == 0 {
		slog.Warn("No devices configured; add them under \"devices\" in the config file")
	}

	if cfg.HTTP.Listen == "" {
		slog.Info("HTTP API disabled")
		<-ctx.Done()
		slog.Info("Shutting down...")
		return nil
	}

	var loader api.SnapshotLoader
	if snapshots != nil {
		loader = snapshots
	}
	srv, err := api.Listen(cfg.HTTP.Listen, api.NewHandler(registry, loader).InitRoutes())
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.HTTP.Listen, err)
	}
	slog.Info("[API] listening", "addr", srv.Addr())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve() }()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("[API] shutdown", "error", err)
	}
	return nil
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	switch {
	case path != "":
		cfg, err = config.Load(path)
	default:
		defaultPath := config.DefaultConfigPath()
		if _, statErr := os.Stat(defaultPath); statErr == nil {
			cfg, err = config.Load(defaultPath)
			if err != nil {
				err = fmt.Errorf("loading %s: %w", defaultPath, err)
			}
		} else {
			cfg = config.Default()
		}
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func setupLogging(cfg *config.Config) {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})
	slog.SetDefault(slog.New(handler))
}

func closeDB(db *sql.DB) {
	if err := db.Close(); err != nil {
		slog.Warn("[STORE] close database", "error", err)
	}
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== felshare-ble ===")
	fmt.Printf("  Devices:  %d\n", len(cfg.Devices))
	if cfg.Poll.Interval > 0 {
		fmt.Printf("  Poll:     every %s\n", cfg.Poll.Interval)
	} else {
		fmt.Println("  Poll:     disabled")
	}
	fmt.Printf("  API:      %s\n", orDisabled(cfg.HTTP.Listen))
	fmt.Printf("  Store:    %s\n", orDisabled(cfg.Store.Path))
	fmt.Printf("  Log:      %s\n", cfg.LogLevel)
	fmt.Println("===================")
}

func orDisabled(s string) string {
	if s == "" {
		return "disabled"
	}
	return s
}
