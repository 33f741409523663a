// Package watch wraps the ledger's live account update channel with
// change detection: identical buffers are suppressed so the UI never
// recomputes for a no-op notification.
package watch

import (
	"bytes"
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"

	"github.com/credit-markets/vitalfi-data/internal/derive"
	"github.com/credit-markets/vitalfi-data/internal/ledger"
)

const rawBuffer = 16

// Update is a deduplicated account change notification.
type Update struct {
	Address derive.Address
	Data    []byte
}

// Watcher opens change-suppressing subscriptions on a ledger endpoint.
type Watcher struct {
	ep     ledger.Endpoint
	logger zerolog.Logger
}

// New builds a Watcher.
func New(ep ledger.Endpoint, logger zerolog.Logger) *Watcher {
	return &Watcher{ep: ep, logger: logger.With().Str("component", "watch").Logger()}
}

// AccountWatch is a single watched address. Updates are fire-and-forget
// events, not a backpressured queue: a slow consumer drops notifications
// rather than stalling the underlying channel.
type AccountWatch struct {
	addr   derive.Address
	sub    ledger.Subscription
	raw    chan hexutil.Bytes
	out    chan Update
	done   chan struct{}
	stop   sync.Once
	logger zerolog.Logger
}

// Watch subscribes to addr and starts delivering deduplicated updates.
func (w *Watcher) Watch(ctx context.Context, addr derive.Address) (*AccountWatch, error) {
	raw := make(chan hexutil.Bytes, rawBuffer)
	sub, err := w.ep.SubscribeAccount(ctx, addr, raw)
	if err != nil {
		return nil, err
	}

	aw := &AccountWatch{
		addr:   addr,
		sub:    sub,
		raw:    raw,
		out:    make(chan Update, 1),
		done:   make(chan struct{}),
		logger: w.logger.With().Str("address", addr.String()).Logger(),
	}
	go aw.loop()
	return aw, nil
}

// Updates is the notification stream. It delivers in the order the ledger
// emitted the underlying changes, one at a time.
func (aw *AccountWatch) Updates() <-chan Update {
	return aw.out
}

// Stop tears down the subscription. Idempotent; no notification is delivered
// after Stop returns its channel closed.
func (aw *AccountWatch) Stop() {
	aw.stop.Do(func() {
		aw.sub.Unsubscribe()
		close(aw.done)
	})
}

func (aw *AccountWatch) loop() {
	var last []byte
	seen := false

	for {
		select {
		case <-aw.done:
			return
		case err, ok := <-aw.sub.Err():
			if ok && err != nil {
				aw.logger.Warn().Err(err).Msg("account subscription failed")
			}
			return
		case buf, ok := <-aw.raw:
			if !ok {
				return
			}
			if seen && sameBuffer(last, buf) {
				continue
			}
			last = append([]byte(nil), buf...)
			seen = true

			// Re-check teardown before notifying so a component torn down
			// before its first update observes zero notifications.
			select {
			case <-aw.done:
				return
			default:
			}

			select {
			case aw.out <- Update{Address: aw.addr, Data: last}:
			default:
				aw.logger.Debug().Msg("dropping update for slow consumer")
			}
		}
	}
}

// sameBuffer short-circuits on length mismatch before comparing bytes.
func sameBuffer(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return bytes.Equal(a, b)
}
