package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/credit-markets/vitalfi-data/internal/derive"
	"github.com/credit-markets/vitalfi-data/internal/layout"
	"github.com/credit-markets/vitalfi-data/internal/watch"
)

// WatchOptions configure the watch command.
type WatchOptions struct {
	Address string
}

// Watch follows a single account and logs each distinct state it takes.
// Repeated notifications with identical bytes are suppressed upstream.
func (a *App) Watch(ctx context.Context, opts WatchOptions) error {
	if opts.Address == "" {
		return errors.New("--address is required")
	}
	addr, err := derive.ParseAddress(opts.Address)
	if err != nil {
		return err
	}

	_, client, err := a.newReader()
	if err != nil {
		return err
	}
	if client == nil {
		return errors.New("ledger.rpc_url not configured; cannot watch")
	}
	defer client.Close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	watcher := watch.New(client, a.Logger)
	aw, err := watcher.Watch(ctx, addr)
	if err != nil {
		return err
	}
	defer aw.Stop()

	a.Logger.Info().Str("address", opts.Address).Msg("watching account")

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-aw.Updates():
			if !ok {
				return nil
			}
			a.logUpdate(update)
		}
	}
}

func (a *App) logUpdate(update watch.Update) {
	if vault, err := layout.DecodeVault(update.Data); err == nil {
		a.Logger.Info().
			Str("address", update.Address.String()).
			Uint64("vault_id", vault.VaultID).
			Str("status", vault.Status.String()).
			Uint64("total_deposited", vault.TotalDeposited).
			Uint64("total_claimed", vault.TotalClaimed).
			Msg("vault changed")
		return
	}
	if position, err := layout.DecodePosition(update.Data); err == nil {
		a.Logger.Info().
			Str("address", update.Address.String()).
			Uint64("deposited", position.Deposited).
			Uint64("claimed", position.Claimed).
			Msg("position changed")
		return
	}
	a.Logger.Info().
		Str("address", update.Address.String()).
		Int("bytes", len(update.Data)).
		Msg("account changed")
}
