// wsprobe connects one configured account to the Lighter websocket and
// streams a frame summary to the console. Useful for checking key
// material and channel subscriptions without running the full service.
//
// Usage: wsprobe [--account 7] [--duration 30s] [--verbose]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickgao/lighter-data/internal/auth"
	"github.com/rickgao/lighter-data/internal/config"
	"github.com/rickgao/lighter-data/internal/connection"
	"github.com/rickgao/lighter-data/internal/errlog"
	"github.com/rickgao/lighter-data/internal/metrics"
	"github.com/rickgao/lighter-data/internal/model"
)

func main() {
	accountIndex := flag.Int64("account", -1, "account index to probe (default: first configured)")
	duration := flag.Duration("duration", 30*time.Second, "how long to stream before exiting")
	verbose := flag.Bool("verbose", false, "print full frame JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if len(cfg.Accounts) == 0 {
		logger.Error("no accounts configured")
		os.Exit(1)
	}

	account := cfg.Accounts[0]
	if *accountIndex >= 0 {
		found := false
		for _, a := range cfg.Accounts {
			if a.AccountIndex == *accountIndex {
				account, found = a, true
				break
			}
		}
		if !found {
			logger.Error("account not configured", "account_index", *accountIndex)
			os.Exit(1)
		}
	}

	creds, err := auth.ParseCredentials(account.AccountIndex, account.APIKeyIndex,
		account.PrivateKey, account.PublicKey)
	if err != nil {
		logger.Error("bad key material", "account", account.Name, "error", err)
		os.Exit(1)
	}
	minter := auth.NewMinter(creds)

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	frames := 0
	handler := func(frame model.Doc) {
		frames++
		if *verbose {
			data, _ := json.MarshalIndent(frame, "", "  ")
			fmt.Printf("[FRAME] %s\n", data)
			return
		}
		data, _ := json.Marshal(frame)
		fmt.Printf("[FRAME] type=%s channel=%s bytes=%d\n",
			model.Str(frame["type"]), model.Str(frame["channel"]), len(data))
	}

	conn := connection.New(connection.DefaultConfig(cfg.WsURL), account, minter,
		handler, errlog.New(50), metrics.NewTracker(), logger)

	logger.Info("probing", "account", account.Name, "url", cfg.WsURL, "duration", *duration)
	if err := conn.Start(ctx); err != nil {
		logger.Error("failed to start connection", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := conn.Stop(stopCtx); err != nil {
		logger.Warn("connection stop error", "error", err)
	}

	health := conn.Health()
	logger.Info("probe complete",
		"frames", frames,
		"messages", health.TotalMessages,
		"reconnects", health.ReconnectCount,
	)
}
