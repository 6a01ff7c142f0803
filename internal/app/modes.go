package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polymirror/internal/copytrader"
	"github.com/alanyoungcy/polymirror/internal/crypto"
	"github.com/alanyoungcy/polymirror/internal/domain"
	"github.com/alanyoungcy/polymirror/internal/pipeline"
	"github.com/alanyoungcy/polymirror/internal/platform/polymarket"
	"github.com/alanyoungcy/polymirror/internal/server"
	"github.com/alanyoungcy/polymirror/internal/server/handler"
	"github.com/alanyoungcy/polymirror/internal/server/ws"
	"github.com/alanyoungcy/polymirror/internal/service"
)

// tradingClients bundles the venue-facing clients built for wallet-bearing
// modes: the order signer, the authenticated CLOB client, and the public
// data API client.
type tradingClients struct {
	signer *crypto.Signer
	clob   *polymarket.ClobClient
	data   *polymarket.DataClient
	funder string
}

// CopyMode runs the copy loop: poll the tracked wallet, mirror its fresh
// trades, and serve the control API alongside. The optional archive cron
// keeps the copy log bounded.
func (a *App) CopyMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting copy mode",
		slog.String("source", a.cfg.CopyTrader.SourceAddress),
		slog.Duration("interval", a.cfg.CopyTrader.PollInterval.Duration),
	)

	tc, err := a.buildTradingClients(ctx)
	if err != nil {
		return fmt.Errorf("copy mode: %w", err)
	}
	runner := a.buildRunner(deps, tc)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runner.Run(ctx)
	})

	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		arch := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
		g.Go(func() error {
			return arch.RunCron(ctx, a.cfg.Archive.Cron)
		})
	}

	if a.cfg.Server.Enabled {
		redeemer := service.NewRedeemService(tc.funder, tc.data, tc.clob, deps.AuditStore, a.logger)
		a.startAPIServer(ctx, g, deps, runner, redeemer, tc.data)
	}

	return g.Wait()
}

// OnceMode executes a single reconciliation pass and exits. Useful for
// cron-driven deployments and for dry-runs after a config change.
func (a *App) OnceMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting single pass",
		slog.String("source", a.cfg.CopyTrader.SourceAddress),
	)

	tc, err := a.buildTradingClients(ctx)
	if err != nil {
		return fmt.Errorf("once mode: %w", err)
	}
	runner := a.buildRunner(deps, tc)

	res, err := runner.RunOnce(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrDisabled) {
			a.logger.WarnContext(ctx, "copier is disabled, nothing to do")
			return nil
		}
		return fmt.Errorf("once mode: %w", err)
	}

	a.logger.InfoContext(ctx, "pass complete",
		slog.Int("copied", res.Copied),
		slog.Int("failed", res.Failed),
		slog.Int("skipped", res.Skipped),
		slog.Int64("last_timestamp", res.LastTimestamp),
		slog.Float64("equity", res.Equity),
	)
	return nil
}

// MonitorMode serves the control API without a wallet. No orders are placed
// and no passes run; the trigger and redeem endpoints report unavailable.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	if !a.cfg.Server.Enabled {
		return fmt.Errorf("monitor mode: server.enabled must be true")
	}

	g, ctx := errgroup.WithContext(ctx)

	// The data API needs no credentials, so positions stay readable.
	data := polymarket.NewDataClient(a.cfg.Polymarket.DataHost)
	a.startAPIServer(ctx, g, deps, nil, nil, data)

	return g.Wait()
}

// RedeemMode claims winnings on every resolved position and exits.
func (a *App) RedeemMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting redeem mode")

	tc, err := a.buildTradingClients(ctx)
	if err != nil {
		return fmt.Errorf("redeem mode: %w", err)
	}

	redeemer := service.NewRedeemService(tc.funder, tc.data, tc.clob, deps.AuditStore, a.logger)
	summary, err := redeemer.RedeemAll(ctx)
	if err != nil {
		return fmt.Errorf("redeem mode: %w", err)
	}

	a.logger.InfoContext(ctx, "redeem complete",
		slog.Int("eligible", summary.Eligible),
		slog.Int("redeemed", summary.Redeemed),
		slog.Int("failed", summary.Failed),
	)
	if summary.Failed > 0 {
		return fmt.Errorf("redeem mode: %d of %d redemptions failed", summary.Failed, summary.Eligible)
	}
	return nil
}

// buildTradingClients loads the signing key and constructs the authenticated
// CLOB client plus the public data client. A failed API-key derivation is
// fatal: without it every order submission would be rejected.
func (a *App) buildTradingClients(ctx context.Context) (*tradingClients, error) {
	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Wallet.PrivateKey,
		EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      a.cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("load wallet key: %w", err)
	}

	signer, err := crypto.NewSigner(key, a.cfg.Polymarket.ChainID)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}

	clob := polymarket.NewClobClient(
		a.cfg.Polymarket.ClobHost,
		signer,
		a.cfg.Wallet.FunderAddress,
		a.cfg.Polymarket.SignatureType,
	)
	if err := clob.DeriveAPIKey(ctx); err != nil {
		return nil, fmt.Errorf("derive api key: %w", err)
	}

	return &tradingClients{
		signer: signer,
		clob:   clob,
		data:   polymarket.NewDataClient(a.cfg.Polymarket.DataHost),
		funder: a.cfg.Wallet.FunderAddress,
	}, nil
}

// buildRunner assembles the reconciliation engine and its runner from wired
// dependencies and trading clients.
func (a *App) buildRunner(deps *Dependencies, tc *tradingClients) *copytrader.Runner {
	pair := copytrader.Pair{
		Source: a.cfg.CopyTrader.SourceAddress,
		Target: tc.funder,
	}
	engine := copytrader.NewEngine(pair, tc.data, tc.data, tc.clob, a.logger)

	return copytrader.NewRunner(
		copytrader.RunnerConfig{
			Interval: a.cfg.CopyTrader.PollInterval.Duration,
			LockTTL:  a.cfg.CopyTrader.LockTTL.Duration,
		},
		engine,
		deps.CursorStore,
		deps.PolicyStore,
		deps.CopyTradeStore,
		deps.AuditStore,
		deps.LockManager,
		deps.SignalBus,
		deps.EquityCache,
		deps.Notifier,
		a.logger,
	)
}

// startAPIServer adds the HTTP + WebSocket API goroutines to the given
// errgroup. trigger and redeemer may be nil; the corresponding endpoints then
// answer 503. The server shuts down gracefully when the context is cancelled.
func (a *App) startAPIServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	trigger handler.RunTrigger,
	redeemer handler.Redeemer,
	positions domain.PositionSource,
) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(a.logger),
		Status: handler.NewStatusHandler(
			a.cfg.Mode,
			a.cfg.CopyTrader.SourceAddress,
			a.cfg.Wallet.FunderAddress,
			deps.CursorStore,
			deps.PolicyStore,
			deps.CopyTradeStore,
			deps.EquityCache,
			a.logger,
		),
		Copier: handler.NewCopierHandler(
			deps.PolicyStore,
			deps.CursorStore,
			deps.CopyTradeStore,
			trigger,
			redeemer,
			deps.SignalBus,
			copytrader.ChannelRuns,
			a.logger,
		),
		Positions: handler.NewPositionHandler(a.cfg.Wallet.FunderAddress, positions, a.logger),
		Archives:  handler.NewArchiveHandler(deps.BlobReader, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
