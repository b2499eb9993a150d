// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command zenserver runs the multi-provider AI orchestration server.
//
// Usage:
//
//	zenserver serve --config zen.yaml
//	zenserver validate --config zen.yaml
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/jukasdrj/zen-mcp-server/internal/server"
	"github.com/jukasdrj/zen-mcp-server/internal/zenconfig"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve    ServeCmd    `cmd:"" help:"Start the orchestration server."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`

	Config   string `short:"c" help:"Path to config file." default:"zen.yaml" type:"path"`
	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info"`
}

// ServeCmd starts the dispatcher-backed server.
type ServeCmd struct {
	Port            int           `help:"Port to listen on." default:"8080"`
	ShutdownTimeout time.Duration `help:"Grace period for draining in-flight requests." default:"30s"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down...")
		cancel()
	}()

	loader := zenconfig.NewLoader(cli.Config)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	srv, err := server.New(server.Options{Config: cfg, Port: c.Port})
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}

	loader.SetOnChange(func(newCfg *zenconfig.Config) {
		if err := srv.ApplyRestrictionPolicy(newCfg); err != nil {
			slog.Warn("failed to apply reloaded restriction policy", "error", err)
		}
	})

	stopWatch := make(chan struct{})
	go loader.Watch(stopWatch)
	defer close(stopWatch)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

// ValidateCmd checks a configuration file without starting the server.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	loader := zenconfig.NewLoader(cli.Config)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	fmt.Printf("config OK: %d provider(s), %d model(s)\n", len(cfg.Providers), len(cfg.Models))
	return nil
}

func main() {
	_ = godotenv.Load()

	cli := CLI{}
	parseCtx := kong.Parse(&cli,
		kong.Name("zenserver"),
		kong.Description("Multi-provider AI orchestration server"),
		kong.UsageOnError(),
	)

	configureLogger(cli.LogLevel)

	err := parseCtx.Run(&cli)
	parseCtx.FatalIfErrorf(err)
}

func configureLogger(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
