package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gweid/qwencli2api/internal/backend"
	"github.com/gweid/qwencli2api/internal/config"
	"github.com/gweid/qwencli2api/internal/logging"
	"github.com/gweid/qwencli2api/internal/tui"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
var version = "dev"

func main() {
	versionFlag := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", config.DefaultConfigPath(), "path to the config file")
	serverFlag := flag.String("server", "", "backend URL (overrides config and QWEN_SERVER_URL)")
	saveFlag := flag.Bool("save", false, "write the effective settings back to the config file")
	flag.Parse()
	if *versionFlag {
		fmt.Println("qwenauth", version)
		os.Exit(0)
	}

	if err := run(*configPath, *serverFlag, *saveFlag); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, serverURL string, save bool) error {
	cfg, err := loadConfig(configPath, serverURL, save)
	if err != nil {
		return err
	}

	logOut, closeLog := openLogFile(cfg.LogFileOrDefault())
	defer closeLog()
	logger := logging.NewLogger(cfg.Log.Environment, logOut)
	logger.Info("starting qwenauth",
		slog.String("version", version),
		slog.String("server", cfg.ServerURLOrDefault()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := backend.NewClient(cfg.ServerURLOrDefault(), cfg.Server.Password, cfg.RequestTimeoutOrDefault())
	model := tui.NewAppModel(client, tui.Options{
		ServerURL:      cfg.ServerURLOrDefault(),
		Logger:         logger,
		RequestTimeout: cfg.RequestTimeoutOrDefault(),
		NoBrowser:      !cfg.OpenBrowserOrDefault(),
	})

	runErr := tui.Run(ctx, model)

	// A signal skips the UI's own cancel on quit; clean up the backend session here.
	if s := model.Flow().Session(); s != nil && s.StateID != "" {
		cancelCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := client.Cancel(cancelCtx, s.StateID); err != nil {
			logger.Warn("cancel on exit failed", slog.String("state_id", s.StateID), slog.String("error", err.Error()))
		}
	}

	if runErr != nil && ctx.Err() == nil {
		return runErr
	}
	return nil
}

// loadConfig reads the config file, applies the -server override and checks
// that a password is present. With save set the result is written back so
// later runs need neither the flag nor the environment.
func loadConfig(configPath, serverURL string, save bool) (config.Config, error) {
	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("loading config: %w", err)
	}
	if serverURL != "" {
		cfg.Server.URL = serverURL
	}
	if cfg.Server.Password == "" {
		return config.Config{}, fmt.Errorf("no API password: set server.password in %s or API_PASSWORD", configPath)
	}
	if save {
		if err := config.Save(configPath, cfg); err != nil {
			return config.Config{}, fmt.Errorf("saving config: %w", err)
		}
	}
	return cfg, nil
}

// openLogFile opens path for appending. The UI owns the terminal, so when the
// file cannot be opened logs are discarded rather than written to stderr.
func openLogFile(path string) (io.Writer, func()) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return io.Discard, func() {}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return io.Discard, func() {}
	}
	return f, func() { f.Close() }
}
