// Package ledger is the direct read path against the ledger RPC endpoint:
// raw account fetches, filtered bulk queries, and the live account update
// channel. It is the fallback when the aggregation API is unavailable.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"

	"github.com/credit-markets/vitalfi-data/internal/derive"
)

// Filter is a byte-offset/byte-value equality predicate the endpoint applies
// server-side, so one round trip returns every matching record.
type Filter struct {
	Offset int           `json:"offset"`
	Bytes  hexutil.Bytes `json:"bytes"`
}

// KeyedAccount pairs an account address with its raw data buffer.
type KeyedAccount struct {
	Address derive.Address
	Data    []byte
}

// Subscription is a live account update stream. rpc.ClientSubscription
// satisfies it.
type Subscription interface {
	Unsubscribe()
	Err() <-chan error
}

// Endpoint is the ledger read collaborator. Absence of an account is a nil
// buffer, never an error.
type Endpoint interface {
	GetAccount(ctx context.Context, addr derive.Address) ([]byte, error)
	GetMultipleAccounts(ctx context.Context, addrs []derive.Address) ([][]byte, error)
	GetFilteredAccounts(ctx context.Context, program derive.Address, filters []Filter) ([]KeyedAccount, error)
	SubscribeAccount(ctx context.Context, addr derive.Address, ch chan<- hexutil.Bytes) (Subscription, error)
}

// Options parameterise the RPC client.
type Options struct {
	RPCURL  string
	WSURL   string
	Timeout time.Duration
}

// Client talks JSON-RPC to the ledger node.
type Client struct {
	opts   Options
	logger zerolog.Logger

	mu   sync.Mutex
	rpc  *rpc.Client
	wsMu sync.Mutex
	ws   *rpc.Client
}

// NewClient builds a ledger RPC client. Connections are dialed lazily.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	return &Client{opts: opts, logger: logger.With().Str("component", "ledger_client").Logger()}
}

type rpcAccount struct {
	Address string        `json:"address"`
	Owner   string        `json:"owner"`
	Data    hexutil.Bytes `json:"data"`
	Balance uint64        `json:"balance"`
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// GetAccount returns the raw buffer at addr, or nil when the account does
// not exist.
func (c *Client) GetAccount(ctx context.Context, addr derive.Address) ([]byte, error) {
	client, err := c.getRPC(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var out *rpcAccount
	if err := client.CallContext(ctx, &out, "vf_getAccount", addr.String()); err != nil {
		return nil, fmt.Errorf("get account %s: %w", addr, err)
	}
	if out == nil {
		return nil, nil
	}
	return out.Data, nil
}

// GetMultipleAccounts resolves addrs in one call, preserving input order with
// nil entries for accounts that do not exist.
func (c *Client) GetMultipleAccounts(ctx context.Context, addrs []derive.Address) ([][]byte, error) {
	client, err := c.getRPC(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	keys := make([]string, len(addrs))
	for i, a := range addrs {
		keys[i] = a.String()
	}

	var out []*rpcAccount
	if err := client.CallContext(ctx, &out, "vf_getMultipleAccounts", keys); err != nil {
		return nil, fmt.Errorf("get multiple accounts: %w", err)
	}
	if len(out) != len(addrs) {
		return nil, fmt.Errorf("get multiple accounts: endpoint returned %d entries for %d addresses", len(out), len(addrs))
	}

	buffers := make([][]byte, len(out))
	for i, acct := range out {
		if acct == nil {
			continue
		}
		buffers[i] = acct.Data
	}
	return buffers, nil
}

// GetFilteredAccounts returns every account under program matching all
// filters.
func (c *Client) GetFilteredAccounts(ctx context.Context, program derive.Address, filters []Filter) ([]KeyedAccount, error) {
	client, err := c.getRPC(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var out []rpcAccount
	if err := client.CallContext(ctx, &out, "vf_getFilteredAccounts", program.String(), filters); err != nil {
		return nil, fmt.Errorf("get filtered accounts: %w", err)
	}

	accounts := make([]KeyedAccount, 0, len(out))
	for _, acct := range out {
		addr, err := derive.ParseAddress(acct.Address)
		if err != nil {
			return nil, fmt.Errorf("get filtered accounts: %w", err)
		}
		accounts = append(accounts, KeyedAccount{Address: addr, Data: acct.Data})
	}
	return accounts, nil
}

// SubscribeAccount opens a live update stream for addr over the websocket
// connection. Raw buffers arrive on ch in emission order.
func (c *Client) SubscribeAccount(ctx context.Context, addr derive.Address, ch chan<- hexutil.Bytes) (Subscription, error) {
	client, err := c.getWS(ctx)
	if err != nil {
		return nil, err
	}

	sub, err := client.Subscribe(ctx, "vf", ch, "account", addr.String())
	if err != nil {
		return nil, fmt.Errorf("subscribe account %s: %w", addr, err)
	}
	return sub, nil
}

func (c *Client) getRPC(ctx context.Context) (*rpc.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rpc != nil {
		return c.rpc, nil
	}
	if c.opts.RPCURL == "" {
		return nil, errors.New("ledger rpc url not configured")
	}

	client, err := rpc.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial ledger rpc: %w", err)
	}
	c.rpc = client
	return client, nil
}

func (c *Client) getWS(ctx context.Context) (*rpc.Client, error) {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()

	if c.ws != nil {
		return c.ws, nil
	}
	if c.opts.WSURL == "" {
		return nil, errors.New("ledger websocket url not configured")
	}

	client, err := rpc.DialContext(ctx, c.opts.WSURL)
	if err != nil {
		return nil, fmt.Errorf("dial ledger websocket: %w", err)
	}
	c.ws = client
	return client, nil
}

// Close tears down both connections.
func (c *Client) Close() {
	c.mu.Lock()
	if c.rpc != nil {
		c.rpc.Close()
		c.rpc = nil
	}
	c.mu.Unlock()

	c.wsMu.Lock()
	if c.ws != nil {
		c.ws.Close()
		c.ws = nil
	}
	c.wsMu.Unlock()
}

var _ Endpoint = (*Client)(nil)
