// heirloomd hosts one inheritance vault: it restores custody state from the
// snapshot store, serves the inspection API and records owner heartbeats,
// and persists a fresh snapshot on shutdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/heirloom-labs/heirloom/pkg/api"
	"github.com/heirloom-labs/heirloom/pkg/config"
	"github.com/heirloom-labs/heirloom/pkg/contracts"
	"github.com/heirloom-labs/heirloom/pkg/store"
	"github.com/heirloom-labs/heirloom/pkg/vault"
)

func main() {
	if err := run(); err != nil {
		slog.Error("heirloomd failed", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	profile, err := config.LoadVaultProfile(cfg.ProfilesDir, cfg.Profile)
	if err != nil {
		return fmt.Errorf("load vault profile: %w", err)
	}
	if !common.IsHexAddress(profile.Owner) || !common.IsHexAddress(profile.Heir) {
		return fmt.Errorf("profile %q: owner and heir must be hex addresses", profile.Code)
	}

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	v, err := vault.NewInheritanceVault(
		common.HexToAddress(profile.Owner),
		common.HexToAddress(profile.Heir),
		profile.InactivityPeriod(),
		attestedSource{},
		nil,
	)
	if err != nil {
		return fmt.Errorf("construct vault: %w", err)
	}

	var wallet *vault.GuardedWallet
	if len(profile.Guardians) > 0 {
		guardians := make([]common.Address, 0, len(profile.Guardians))
		for _, g := range profile.Guardians {
			if !common.IsHexAddress(g) {
				return fmt.Errorf("profile %q: guardian %q is not a hex address", profile.Code, g)
			}
			guardians = append(guardians, common.HexToAddress(g))
		}
		if !common.IsHexAddress(profile.WalletAddress) {
			return fmt.Errorf("profile %q: wallet_address must be a hex address", profile.Code)
		}
		wallet, err = vault.NewGuardedWallet(common.HexToAddress(profile.WalletAddress), guardians, profile.Quorum, noCaller{})
		if err != nil {
			return fmt.Errorf("construct guardian wallet: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if snap, err := st.Load(ctx); err == nil {
		if err := v.Restore(snap.Marker, snap.Assets); err != nil {
			return fmt.Errorf("restore snapshot: %w", err)
		}
		if err := v.RestoreEvents(snap.Events); err != nil {
			return fmt.Errorf("restore event chain: %w", err)
		}
		if wallet != nil && len(snap.Proposals) > 0 {
			if err := wallet.Engine().Restore(snap.Proposals, snap.Confirmations); err != nil {
				return fmt.Errorf("restore proposals: %w", err)
			}
		}
		logger.Info("snapshot restored",
			"assets", len(snap.Assets), "proposals", len(snap.Proposals),
			"events", len(snap.Events), "marker", snap.Marker)
	} else if !errors.Is(err, contracts.ErrNotFound) {
		return fmt.Errorf("load snapshot: %w", err)
	}

	server := api.NewServer(v, logger)
	if wallet != nil {
		server.WithWallet(wallet)
	}
	limiter := api.NewRateLimiter(10, 20)
	defer limiter.Close()
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Routes(limiter),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("heirloomd listening", "addr", srv.Addr, "profile", profile.Code)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}

	// Quorum stays zero without a guardian wallet so a later run with
	// guardians never mistakes the placeholder for engine state.
	status := v.Status()
	snap := store.Snapshot{
		TakenAt: time.Now().UTC(),
		Owner:   status.Owner,
		Heir:    status.Heir,
		Marker:  status.LastProofOfLife,
		Assets:  status.Assets,
		Events:  v.Events().Entries(),
	}
	if wallet != nil {
		snap.Principals = wallet.Guardians()
		snap.Quorum = wallet.Quorum()
		snap.Proposals = wallet.Proposals()
		snap.Confirmations = make(map[uint64][]common.Address, len(snap.Proposals))
		for _, p := range snap.Proposals {
			confirmers, err := wallet.Engine().Confirmations(p.ID)
			if err != nil {
				return fmt.Errorf("snapshot confirmations for proposal %d: %w", p.ID, err)
			}
			snap.Confirmations[p.ID] = confirmers
		}
	}
	if err := st.Save(shutdownCtx, snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	logger.Info("snapshot saved", "assets", len(snap.Assets), "events", len(snap.Events))
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// noCaller refuses proposal execution; the daemon records and inspects
// quorum state but does not act as a signing backend.
type noCaller struct{}

func (noCaller) Call(_ context.Context, target common.Address, _ *big.Int, _ []byte) error {
	return fmt.Errorf("no call backend configured for %s", target.Hex())
}

// attestedSource accepts registrations at face value and refuses transfers.
// The daemon is an inspection and proof-of-life surface; release runs
// through a real asset backend, not through heirloomd.
type attestedSource struct{}

func (attestedSource) OwnerBalance(_ context.Context, _ common.Address, rec contracts.AssetRecord) (*big.Int, error) {
	return rec.RequiredBalance(), nil
}

func (attestedSource) Transfer(_ context.Context, _, _ common.Address, rec contracts.AssetRecord) error {
	return fmt.Errorf("no transfer backend configured for %s", rec.Key())
}
