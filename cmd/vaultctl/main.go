// Copyright 2026 Poiesic Systems
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


package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	json "github.com/goccy/go-json"
	"github.com/lmittmann/tint"
	"github.com/urfave/cli/v2"

	"github.com/poiesic/chunkvault"
	"github.com/poiesic/chunkvault/config"
	"github.com/poiesic/chunkvault/core"
)

func main() {
	app := &cli.App{
		Name:  "vaultctl",
		Usage: "Inspect and maintain chunkvault collections",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML configuration file",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "stats",
				Usage:     "Show the stored layout of a collection",
				ArgsUsage: "<collection>",
				Action:    statsCommand,
				Flags:     vaultFlags(),
			},
			{
				Name:      "dump",
				Usage:     "Print a collection's records as JSON on stdout",
				ArgsUsage: "<collection>",
				Action:    dumpCommand,
				Flags:     vaultFlags(),
			},
			{
				Name:      "migrate",
				Usage:     "Rewrite a collection under the current format and thresholds",
				ArgsUsage: "<collection>",
				Action:    migrateCommand,
				Flags:     vaultFlags(),
			},
			{
				Name:      "watch",
				Usage:     "Stream change events for a collection until interrupted",
				ArgsUsage: "<collection>",
				Action:    watchCommand,
				Flags:     vaultFlags(),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func vaultFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "db",
			Aliases:  []string{"d"},
			Usage:    "Path to the storage directory",
			Required: true,
		},
		&cli.StringFlag{
			Name:    "passphrase",
			Aliases: []string{"p"},
			Usage:   "Passphrase for at-rest encryption (or VAULTCTL_PASSPHRASE)",
			EnvVars: []string{"VAULTCTL_PASSPHRASE"},
		},
	}
}

// openVault builds an environment and a raw-record vault for the collection
// named in the first positional argument.
func openVault(c *cli.Context) (*chunkvault.Environment, *chunkvault.Vault[json.RawMessage], error) {
	name := c.Args().First()
	if name == "" {
		return nil, nil, fmt.Errorf("collection name is required")
	}
	passphrase := c.String("passphrase")
	if passphrase == "" {
		return nil, nil, fmt.Errorf("passphrase is required")
	}

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, err
	}

	env := chunkvault.NewEnvironment(c.String("db"), false, slog.Default())
	vault, err := chunkvault.New[json.RawMessage](env, name, passphrase, nil, chunkvault.WithConfig(cfg))
	if err != nil {
		env.Close()
		return nil, nil, err
	}
	return env, vault, nil
}

func statsCommand(c *cli.Context) error {
	env, vault, err := openVault(c)
	if err != nil {
		return err
	}
	defer env.Close()
	defer vault.Close()

	records, err := vault.Load(context.Background())
	if err != nil {
		return fmt.Errorf("load failed: %w", err)
	}

	stats := vault.Stats()
	fmt.Printf("Collection:        %s\n", vault.Name())
	fmt.Printf("State:             %s\n", vault.State())
	fmt.Printf("Items:             %d\n", len(records))
	fmt.Printf("Chunked:           %t\n", stats.IsChunked)
	if stats.IsChunked {
		fmt.Printf("Chunks:            %d\n", stats.ChunkCount)
	}
	fmt.Printf("Stored bytes:      %d\n", stats.TotalSize)
	fmt.Printf("Compression ratio: %.2f\n", stats.CompressionRatio)
	return nil
}

func dumpCommand(c *cli.Context) error {
	env, vault, err := openVault(c)
	if err != nil {
		return err
	}
	defer env.Close()
	defer vault.Close()

	records, err := vault.Load(context.Background())
	if err != nil {
		return fmt.Errorf("load failed: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

// migrateCommand loads and immediately saves, which rewrites legacy
// plaintext entries as encrypted envelopes and rechunks the collection
// under the configured thresholds.
func migrateCommand(c *cli.Context) error {
	env, vault, err := openVault(c)
	if err != nil {
		return err
	}
	defer env.Close()
	defer vault.Close()

	ctx := context.Background()
	records, err := vault.Load(ctx)
	if err != nil {
		return fmt.Errorf("load failed: %w", err)
	}
	if err := vault.Save(ctx, records); err != nil {
		return fmt.Errorf("rewrite failed: %w", err)
	}

	stats := vault.Stats()
	fmt.Fprintf(os.Stderr, "Rewrote %d records (chunked=%t chunks=%d stored=%d bytes)\n",
		len(records), stats.IsChunked, stats.ChunkCount, stats.TotalSize)
	return nil
}

func watchCommand(c *cli.Context) error {
	env, vault, err := openVault(c)
	if err != nil {
		return err
	}
	defer env.Close()
	defer vault.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cancel, err := vault.Subscribe(ctx, func(ev core.ChangeEvent) {
		fmt.Printf("change key=%s items=%d chunked=%t\n", ev.Key, ev.ItemCount, ev.IsChunked)
	})
	if err != nil {
		return fmt.Errorf("subscribe failed: %w", err)
	}
	defer cancel()

	fmt.Fprintf(os.Stderr, "Watching %q, Ctrl-C to stop\n", vault.Name())
	<-ctx.Done()
	return nil
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
