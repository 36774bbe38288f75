// Command blockbuilder runs one INTMAX2 block builder process: it serves
// the HTTP API of spec.md §6 and drives every background loop described
// in spec.md §4-5 until told to stop.
package main

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/InternetMaximalism/intmax2-block-builder/internal/builder"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/chain"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/config"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/kv"
	"github.com/InternetMaximalism/intmax2-block-builder/internal/logging"
)

var gitCommit = "unknown"

func main() {
	app := cli.NewApp()
	app.Name = "blockbuilder"
	app.Usage = "INTMAX2 block builder"
	app.Version = gitCommit
	app.Flags = append(config.Flags(), jsonLogFlag)
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		logging.Root().Error("fatal error", "err", err)
		os.Exit(1)
	}
}

var jsonLogFlag = &cli.BoolFlag{
	Name:    "json-logs",
	EnvVars: []string{"JSON_LOGS"},
	Usage:   "emit logs as JSON instead of the human-readable terminal format",
}

func run(c *cli.Context) error {
	if c.Bool("json-logs") {
		logging.SetDefault(logging.FromHandler(logging.NewJSONHandler(os.Stderr)))
	}
	log := logging.Root()

	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, a ...any) { log.Debug(fmt.Sprintf(format, a...)) })); err != nil {
		log.Warn("failed to set GOMAXPROCS", "err", err)
	}

	cfg, err := config.FromCLI(c)
	if err != nil {
		return err
	}

	store, err := kv.NewRedisStore(cfg.RedisURL)
	if err != nil {
		return err
	}

	contract := chain.NewRPCContract(cfg.L2RPCURL, cfg.RollupContractAddress, cfg.BuilderAddress, cfg.TxTimeout).
		WithEthAllowance(weiHex(cfg.EthAllowanceForBlock))
	identity := builder.Identity(uuid.NewString())

	b, err := builder.New(cfg, identity, store, contract)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           b.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- b.Run(ctx)
	}()
	go func() {
		log.Info("http api listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down", "signal", ctx.Err())
	case err := <-errCh:
		if err != nil {
			log.Error("component failed", "err", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown did not complete cleanly", "err", err)
	}
	return nil
}

// weiHex converts ETH_ALLOWANCE_FOR_BLOCK's decimal-wei string into the
// 0x-prefixed hex eth_sendTransaction expects for its "value" field.
func weiHex(decimalWei string) string {
	n, ok := new(big.Int).SetString(decimalWei, 10)
	if !ok {
		return "0x0"
	}
	return "0x" + n.Text(16)
}
