package app

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/sync/errgroup"

	"github.com/chartbets/chartbets/internal/crypto"
	"github.com/chartbets/chartbets/internal/registry"
	"github.com/chartbets/chartbets/internal/server"
	"github.com/chartbets/chartbets/internal/server/handler"
	"github.com/chartbets/chartbets/internal/server/ws"
	"github.com/chartbets/chartbets/internal/service"
	"github.com/chartbets/chartbets/internal/token"
)

// shutdownTimeout bounds the graceful HTTP shutdown on context cancellation.
const shutdownTimeout = 10 * time.Second

// ServeMode runs the full market host: it restores persisted markets, serves
// the HTTP and WebSocket API, and optionally runs the archive loop. It blocks
// until the context is cancelled or a component fails.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	// The authority key is loaded up front so a mis-deployed key fails fast
	// instead of rejecting every resolution at runtime.
	keyHex, err := crypto.LoadKey(crypto.KeyConfig{
		EncryptedKeyPath: a.cfg.Authority.EncryptedKeyPath,
		KeyPassword:      a.cfg.Authority.KeyPassword,
	})
	if err != nil {
		return fmt.Errorf("app: load authority key: %w", err)
	}
	signer, err := crypto.NewSigner(keyHex)
	if err != nil {
		return fmt.Errorf("app: authority signer: %w", err)
	}

	admin := common.HexToAddress(a.cfg.Registry.AdminAddress)
	authority := common.HexToAddress(a.cfg.Registry.AuthorityAddress)
	treasury := common.HexToAddress(a.cfg.Registry.TreasuryAddress)

	if signer.Address() != authority {
		return fmt.Errorf("app: authority key derives %s but registry.authority_address is %s",
			signer.Address().Hex(), authority.Hex())
	}

	reg := registry.New(registry.Config{
		Admin:     admin,
		Authority: authority,
		Treasury:  treasury,
	}, a.logger)

	banks := make(map[string]*token.Bank, len(a.cfg.Registry.QuoteAssets))
	for _, asset := range a.cfg.Registry.QuoteAssets {
		bank := token.NewBank(asset.Symbol, uint8(asset.Decimals))
		banks[asset.Symbol] = bank
		if err := reg.AllowQuoteToken(admin, bank); err != nil {
			return fmt.Errorf("app: allow quote token %s: %w", asset.Symbol, err)
		}
	}

	svc := service.NewMarketService(service.Deps{
		Registry:  reg,
		Banks:     banks,
		Store:     deps.MarketStore,
		Events:    deps.EventStore,
		Cache:     deps.MarketCache,
		Bus:       deps.SignalBus,
		Locks:     deps.LockManager,
		Notifier:  deps.Notifier,
		Logger:    a.logger,
		Admin:     admin,
		Authority: authority,
	})

	restored, err := svc.RestoreMarkets(ctx)
	if err != nil {
		return fmt.Errorf("app: restore markets: %w", err)
	}
	a.logger.InfoContext(ctx, "state restored", slog.Int("markets", restored))

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Server.Enabled {
		hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Mode:      a.cfg.Mode,
			StartedAt: time.Now().UTC(),
		})
		g.Go(func() error {
			return hub.Run(ctx)
		})

		srv := server.NewServer(server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			AdminToken:  a.cfg.Server.AdminToken,
		}, server.Handlers{
			Health:  handler.NewHealthHandler(a.logger),
			Markets: handler.NewMarketHandler(svc, a.logger),
			Admin:   handler.NewAdminHandler(svc, deps.Archiver, admin, a.logger),
		}, hub, deps.RateLimiter, a.logger)

		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		g.Go(func() error {
			return a.archiveLoop(ctx, deps)
		})
	}

	return g.Wait()
}

// ArchiveMode runs a single export of every finalized market and exits. It
// is intended for cron-style scheduling.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if deps.Archiver == nil {
		return errors.New("app: archive mode requires s3 configuration")
	}

	uploaded, err := deps.Archiver.ArchiveFinalized(ctx)
	if err != nil {
		return fmt.Errorf("app: archive: %w", err)
	}
	a.logger.InfoContext(ctx, "archive finished", slog.Int("uploaded", uploaded))
	return nil
}

// archiveLoop exports finalized markets on the configured interval until the
// context is cancelled. Failed runs are logged and retried next tick.
func (a *App) archiveLoop(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Archive.Interval.Duration
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.logger.InfoContext(ctx, "archive loop started", slog.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			uploaded, err := deps.Archiver.ArchiveFinalized(ctx)
			if err != nil {
				a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
				continue
			}
			if uploaded > 0 {
				a.logger.InfoContext(ctx, "archive run finished", slog.Int("uploaded", uploaded))
			}
		}
	}
}

// KeygenMode generates a fresh authority keypair, encrypts it with the
// configured password, and writes it to the configured key path. The derived
// account address is logged so it can be copied into the registry config.
func (a *App) KeygenMode(ctx context.Context) error {
	path := a.cfg.Authority.EncryptedKeyPath
	if path == "" {
		return errors.New("app: keygen requires authority.encrypted_key_path")
	}
	if a.cfg.Authority.KeyPassword == "" {
		return errors.New("app: keygen requires authority.key_password")
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("app: keygen: %s already exists, refusing to overwrite", path)
	}

	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return fmt.Errorf("app: keygen: %w", err)
	}
	keyHex := hex.EncodeToString(ethcrypto.FromECDSA(key))

	blob, err := crypto.EncryptKey(keyHex, a.cfg.Authority.KeyPassword)
	if err != nil {
		return fmt.Errorf("app: keygen: %w", err)
	}
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		return fmt.Errorf("app: keygen: write %s: %w", path, err)
	}

	a.logger.InfoContext(ctx, "authority key generated",
		slog.String("path", path),
		slog.String("address", ethcrypto.PubkeyToAddress(key.PublicKey).Hex()),
	)
	return nil
}
